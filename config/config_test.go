package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "webgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.Development())
	assert.Equal(t, "http://localhost:8083/api", cfg.Upstream)
	assert.Equal(t, 30*24*time.Hour, cfg.Cookie.MaxAge)
}

func TestLoadFile(t *testing.T) {
	t.Setenv(EnvPublicAPIBase, "")
	t.Setenv(EnvUpstreamURL, "")
	t.Setenv(EnvEnvironment, "")
	path := writeFile(t, `
listen: ":8080"
upstream: "https://library.example.com/api"
environment: production
cookie:
  max_age: 72h
verify_signatures: true
mock:
  enabled: false
log_format: text
trusted_proxies: ["10.0.0.0/8"]
audit:
  webhook_url: "https://siem.example.com/hook"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, "https://library.example.com/api", cfg.Upstream)
	assert.False(t, cfg.Development())
	assert.Equal(t, 72*time.Hour, cfg.Cookie.MaxAge)
	assert.Equal(t, "token", cfg.Cookie.Name, "unset fields keep defaults")
	assert.True(t, cfg.VerifySignatures)
	assert.False(t, cfg.Mock.Enabled)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, []string{"10.0.0.0/8"}, cfg.TrustedProxies)
	assert.Equal(t, "https://siem.example.com/hook", cfg.Audit.WebhookURL)
}

func TestLoadEmptyFile(t *testing.T) {
	cfg, err := Load(writeFile(t, ""))
	require.NoError(t, err)
	assert.Equal(t, DefaultListen, cfg.Listen)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeFile(t, "upstrem: http://typo\n"))
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	env := map[string]string{
		EnvPublicAPIBase: "http://next:8083/api",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	cfg.ApplyEnv(lookup)
	assert.Equal(t, "http://next:8083/api", cfg.Upstream)

	env[EnvUpstreamURL] = "http://gateway-specific:9000/api"
	env[EnvEnvironment] = EnvProduction
	env[EnvListen] = ":9999"
	cfg = Default()
	cfg.ApplyEnv(lookup)
	assert.Equal(t, "http://gateway-specific:9000/api", cfg.Upstream)
	assert.Equal(t, EnvProduction, cfg.Environment)
	assert.Equal(t, ":9999", cfg.Listen)
}

func TestLoadAppliesProcessEnv(t *testing.T) {
	t.Setenv(EnvUpstreamURL, "http://from-env:1/api")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "http://from-env:1/api", cfg.Upstream)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty listen", func(c *Config) { c.Listen = " " }},
		{"relative upstream", func(c *Config) { c.Upstream = "/api" }},
		{"bad scheme", func(c *Config) { c.Upstream = "ftp://x/api" }},
		{"unknown environment", func(c *Config) { c.Environment = "staging" }},
		{"negative max age", func(c *Config) { c.Cookie.MaxAge = -time.Second }},
		{"exclusive checks", func(c *Config) { c.VerifySignatures, c.RemoteCheck = true, true }},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }},
		{"bad format", func(c *Config) { c.LogFormat = "xml" }},
		{"relative webhook", func(c *Config) { c.Audit.WebhookURL = "/hook" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := Default()
	cfg.LogLevel = "warn"
	logger, err := cfg.NewLogger(&buf)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	buf.Reset()
	cfg.LogFormat = "text"
	logger, err = cfg.NewLogger(&buf)
	require.NoError(t, err)
	logger.Warn("plain")
	assert.Contains(t, buf.String(), "msg=plain")
}
