// Package config loads the gateway configuration from YAML and the
// environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	DefaultUpstream = "http://localhost:8083/api"
	DefaultListen   = ":3000"
)

// Environment variables consulted by Load, in increasing precedence for the
// upstream URL.
const (
	EnvPublicAPIBase = "NEXT_PUBLIC_API_BASE_URL"
	EnvUpstreamURL   = "WEBGATE_UPSTREAM_URL"
	EnvEnvironment   = "WEBGATE_ENV"
	EnvListen        = "WEBGATE_LISTEN"
)

var ErrInvalid = errors.New("invalid configuration")

// Cookie configures the session cookie.
type Cookie struct {
	Name   string        `yaml:"name"`
	MaxAge time.Duration `yaml:"max_age"`
}

// Mock configures the development user provider.
type Mock struct {
	Enabled bool `yaml:"enabled"`
	// DataFile is a bbolt file. Empty keeps users in memory.
	DataFile string `yaml:"data_file"`
	Seed     bool   `yaml:"seed"`
}

// Audit configures where audit events are shipped besides the log.
type Audit struct {
	// WebhookURL receives every audit event as a JSON POST.
	WebhookURL string `yaml:"webhook_url"`
	// WebhookHeader is an extra "Name: value" header, typically credentials.
	WebhookHeader string `yaml:"webhook_header"`
}

// Config is the gateway configuration.
type Config struct {
	Listen      string `yaml:"listen"`
	Upstream    string `yaml:"upstream"`
	Environment string `yaml:"environment"`
	Cookie      Cookie `yaml:"cookie"`
	// PublicKeyFile is the PEM key used when VerifySignatures is set.
	// Empty means the built-in key.
	PublicKeyFile    string `yaml:"public_key_file"`
	VerifySignatures bool   `yaml:"verify_signatures"`
	// RemoteCheck resolves page sessions through the upstream's /auth/me
	// instead of reading the token locally.
	RemoteCheck     bool          `yaml:"remote_check"`
	UpstreamTimeout time.Duration `yaml:"upstream_timeout"`
	Mock            Mock          `yaml:"mock"`
	// TrustedProxies lists CIDRs whose forwarding headers are believed when
	// rate limiting by client IP.
	TrustedProxies []string `yaml:"trusted_proxies"`
	Audit          Audit    `yaml:"audit"`
	LogLevel       string   `yaml:"log_level"`
	LogFormat      string   `yaml:"log_format"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Listen:      DefaultListen,
		Upstream:    DefaultUpstream,
		Environment: EnvDevelopment,
		Cookie: Cookie{
			Name:   "token",
			MaxAge: 30 * 24 * time.Hour,
		},
		UpstreamTimeout: 30 * time.Second,
		Mock: Mock{
			Enabled: true,
			Seed:    true,
		},
		LogLevel:  "info",
		LogFormat: "json",
	}
}

// Load reads the YAML file at path over Default and applies environment
// overrides. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("opening config file: %w", err)
		}
		defer f.Close()
		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("decoding config file: %w", err)
		}
	}
	cfg.ApplyEnv(os.LookupEnv)
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvPublicAPIBase); ok && v != "" {
		c.Upstream = v
	}
	if v, ok := lookup(EnvUpstreamURL); ok && v != "" {
		c.Upstream = v
	}
	if v, ok := lookup(EnvEnvironment); ok && v != "" {
		c.Environment = v
	}
	if v, ok := lookup(EnvListen); ok && v != "" {
		c.Listen = v
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Listen) == "" {
		return fmt.Errorf("%w: listen address is empty", ErrInvalid)
	}
	u, err := url.Parse(c.Upstream)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: upstream must be an absolute http(s) URL, got %q", ErrInvalid, c.Upstream)
	}
	switch c.Environment {
	case EnvDevelopment, EnvProduction:
	default:
		return fmt.Errorf("%w: environment must be %q or %q, got %q", ErrInvalid, EnvDevelopment, EnvProduction, c.Environment)
	}
	if c.Cookie.MaxAge < 0 {
		return fmt.Errorf("%w: cookie max_age is negative", ErrInvalid)
	}
	if c.VerifySignatures && c.RemoteCheck {
		return fmt.Errorf("%w: verify_signatures and remote_check are exclusive", ErrInvalid)
	}
	if c.Audit.WebhookURL != "" {
		w, err := url.Parse(c.Audit.WebhookURL)
		if err != nil || (w.Scheme != "http" && w.Scheme != "https") || w.Host == "" {
			return fmt.Errorf("%w: audit webhook_url must be an absolute http(s) URL", ErrInvalid)
		}
	}
	if _, err := c.level(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	switch c.LogFormat {
	case "", "json", "text":
	default:
		return fmt.Errorf("%w: log_format must be json or text, got %q", ErrInvalid, c.LogFormat)
	}
	return nil
}

// Development reports whether the gateway runs in development mode, which
// drops the Secure flag from the session cookie for plain-HTTP localhost.
func (c Config) Development() bool {
	return c.Environment == EnvDevelopment
}

// NewLogger builds the process logger from LogLevel and LogFormat.
func (c Config) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := c.level()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(w, opts)), nil
	}
	return slog.New(slog.NewJSONHandler(w, opts)), nil
}

func (c Config) level() (slog.Level, error) {
	var level slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}
