// Package session holds the client-side session: the bearer token issued by
// the library API and the identity decoded from it.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/awnumar/memguard"

	"github.com/davon-library/webgate/token"
)

// DefaultStorageKey is the storage key the raw token is kept under.
const DefaultStorageKey = "token"

// DefaultCookieName is the cookie the token rides in on logout
// notifications.
const DefaultCookieName = "token"

const maxAuthResponseSize = 1 << 20

// ErrNoSession is returned when an operation needs a session and there is none.
var ErrNoSession = errors.New("no active session")

// AuthenticationError is returned by Login when the auth endpoint rejects
// the credentials or answers with any non-2xx status.
type AuthenticationError struct {
	Status  int
	Message string
}

func (e *AuthenticationError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("authentication failed: status %d", e.Status)
	}
	return fmt.Sprintf("authentication failed: status %d: %s", e.Status, e.Message)
}

// Credentials are posted to the auth endpoint.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Session is the identity derived from the stored token.
type Session struct {
	SubjectID   string
	DisplayName string
	Roles       token.RoleSet
	TokenExpiry time.Time
}

func fromPrincipal(p token.Principal) *Session {
	return &Session{
		SubjectID:   p.Subject,
		DisplayName: p.DisplayName,
		Roles:       p.Roles,
		TokenExpiry: p.ExpiresAt,
	}
}

// Store owns the session for one client. All storage reads and writes go
// through it.
type Store struct {
	storage        Storage
	key            string
	cookie         string
	endpoint       string
	logoutEndpoint string
	client         *http.Client
	logger         *slog.Logger
	now            func() time.Time

	mu      sync.RWMutex
	current *Session
	token   *memguard.Enclave
}

// Option configures a Store.
type Option func(*Store)

// WithEndpoint sets the login URL credentials are posted to.
func WithEndpoint(url string) Option {
	return func(s *Store) { s.endpoint = url }
}

// WithLogoutEndpoint sets a URL that Logout notifies before forgetting the
// token. Without it Logout is purely local.
func WithLogoutEndpoint(url string) Option {
	return func(s *Store) { s.logoutEndpoint = url }
}

// WithHTTPClient overrides the HTTP client used for auth calls.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Store) { s.client = c }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithStorageKey overrides DefaultStorageKey.
func WithStorageKey(key string) Option {
	return func(s *Store) { s.key = key }
}

// WithCookieName overrides DefaultCookieName, matching a gateway configured
// with a different session cookie.
func WithCookieName(name string) Option {
	return func(s *Store) { s.cookie = name }
}

// WithClock overrides time.Now for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a Store over storage. No session is loaded until Restore or
// Login is called.
func New(storage Storage, opts ...Option) *Store {
	s := &Store{
		storage: storage,
		key:     DefaultStorageKey,
		cookie:  DefaultCookieName,
		client:  http.DefaultClient,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	s.logger = s.logger.With("component", "session")
	return s
}

// Login posts creds to the auth endpoint and stores the returned token.
func (s *Store) Login(ctx context.Context, creds Credentials) (*Session, error) {
	if s.endpoint == "" {
		return nil, errors.New("session: no login endpoint configured")
	}
	body, err := json.Marshal(creds)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("login request: %w", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxAuthResponseSize))
	if err != nil {
		return nil, fmt.Errorf("reading login response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.logger.Info("login rejected", slog.Int("status", resp.StatusCode))
		return nil, &AuthenticationError{Status: resp.StatusCode, Message: errorMessage(payload)}
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(payload, &out); err != nil || out.Token == "" {
		return nil, &AuthenticationError{Status: resp.StatusCode, Message: "response carried no token"}
	}
	claims, err := token.Decode(out.Token)
	if err != nil {
		return nil, err
	}
	if err := s.storage.Save(s.key, out.Token); err != nil {
		return nil, fmt.Errorf("saving token: %w", err)
	}
	sess := fromPrincipal(claims.Principal())
	s.set(sess, out.Token)
	s.logger.Info("logged in", slog.String("subject", sess.SubjectID), slog.String("roles", sess.Roles.String()))
	return sess, nil
}

// errorMessage pulls a human message out of an upstream error body, which
// may be {"message":...}, {"error":...} or plain text.
func errorMessage(payload []byte) string {
	var env struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(payload, &env); err == nil {
		if env.Message != "" {
			return env.Message
		}
		if env.Error != "" {
			return env.Error
		}
	}
	return strings.TrimSpace(string(payload))
}

// Logout forgets the token. If a logout endpoint is configured it is
// notified first; a failed notification does not keep the session alive.
func (s *Store) Logout(ctx context.Context) error {
	if s.logoutEndpoint != "" {
		if raw, err := s.Token(); err == nil {
			s.notifyLogout(ctx, raw)
		}
	}
	s.set(nil, "")
	if err := s.storage.Remove(s.key); err != nil {
		return fmt.Errorf("removing token: %w", err)
	}
	s.logger.Info("logged out")
	return nil
}

func (s *Store) notifyLogout(ctx context.Context, raw string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.logoutEndpoint, nil)
	if err != nil {
		s.logger.Warn("logout notification failed", slog.String("error", err.Error()))
		return
	}
	req.AddCookie(&http.Cookie{Name: s.cookie, Value: raw})
	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("logout notification failed", slog.String("error", err.Error()))
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

// Restore loads a previously stored token. A token that cannot be decoded
// or has expired is treated as no session and removed from storage.
func (s *Store) Restore(ctx context.Context) (*Session, error) {
	raw, ok, err := s.storage.Load(s.key)
	if err != nil {
		return nil, fmt.Errorf("loading token: %w", err)
	}
	if !ok || raw == "" {
		s.set(nil, "")
		return nil, nil
	}
	p, err := token.Decoder{Now: s.now}.Principal(raw)
	if err != nil {
		s.logger.InfoContext(ctx, "discarding stored token", slog.String("reason", err.Error()))
		s.set(nil, "")
		if rmErr := s.storage.Remove(s.key); rmErr != nil {
			return nil, fmt.Errorf("removing token: %w", rmErr)
		}
		return nil, nil
	}
	sess := fromPrincipal(p)
	s.set(sess, raw)
	return sess, nil
}

// Current returns the active session, or nil.
func (s *Store) Current() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Token returns the raw bearer token for attaching to requests.
func (s *Store) Token() (string, error) {
	s.mu.RLock()
	enclave := s.token
	s.mu.RUnlock()
	if enclave == nil {
		return "", ErrNoSession
	}
	buf, err := enclave.Open()
	if err != nil {
		return "", fmt.Errorf("opening token enclave: %w", err)
	}
	defer buf.Destroy()
	// Copy out before Destroy wipes the locked pages.
	return string(buf.Bytes()), nil
}

func (s *Store) set(sess *Session, raw string) {
	var enclave *memguard.Enclave
	if raw != "" {
		// NewEnclave wipes its argument.
		enclave = memguard.NewEnclave([]byte(raw))
	}
	s.mu.Lock()
	s.current = sess
	s.token = enclave
	s.mu.Unlock()
}
