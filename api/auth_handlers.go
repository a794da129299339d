package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/davon-library/webgate/proxy"
	"github.com/davon-library/webgate/session"
)

// maxAuthBodySize bounds login and registration bodies.
const maxAuthBodySize = 64 << 10

// SessionResponse describes the principal behind the session cookie.
type SessionResponse struct {
	Subject     string     `json:"subject"`
	DisplayName string     `json:"displayName"`
	Roles       []string   `json:"roles"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

// Login handles POST /api/auth/login. Failed attempts are throttled per
// username, per client IP and globally before the upstream is asked.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxAuthBodySize))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Invalid request body"})
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	var peek struct {
		Username string `json:"username"`
	}
	_ = json.Unmarshal(body, &peek)
	username := strings.ToLower(strings.TrimSpace(peek.Username))
	clientIP := a.extractClientIP(r)

	if blocked, retryAfter := a.limiter.check(username, clientIP); blocked {
		a.audit.logFailure(AuditLoginRateLimited, r, "rate limited",
			slog.String("username", username),
			slog.String("client_ip", clientIP))
		writeRateLimited(w, retryAfter, "Too many failed login attempts; try again later")
		return
	}

	rec := &statusRecorder{ResponseWriter: w}
	a.forwarder.LoginHandler(a.cookie).ServeHTTP(rec, r)

	switch {
	case rec.status >= 200 && rec.status < 300:
		a.limiter.recordSuccess(username, clientIP)
		a.audit.logEvent(AuditLoginSuccess, r, username)
	case rec.status == http.StatusUnauthorized || rec.status == http.StatusForbidden:
		a.limiter.recordFailure(username, clientIP)
		a.audit.logFailure(AuditLoginFailure, r, "rejected by upstream",
			slog.String("username", username),
			slog.String("client_ip", clientIP))
	}
}

// Register handles POST /api/auth/register.
func (a *API) Register(w http.ResponseWriter, r *http.Request) {
	clientIP := a.extractClientIP(r)
	if blocked, retryAfter := a.regLimiter.check(clientIP); blocked {
		a.audit.logFailure(AuditRegisterRateLimited, r, "rate limited",
			slog.String("client_ip", clientIP))
		writeRateLimited(w, retryAfter, "Too many requests; try again later")
		return
	}
	a.regLimiter.record(clientIP)

	rec := &statusRecorder{ResponseWriter: w}
	a.forwarder.RegisterHandler().ServeHTTP(rec, r)
	if rec.status == http.StatusCreated {
		a.audit.logEvent(AuditRegister, r, "", slog.String("client_ip", clientIP))
	}
}

// Logout handles POST /api/auth/logout. It always succeeds; the upstream is
// never told.
func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	subject := ""
	if c, err := r.Cookie(a.cookie.Name); err == nil && c.Value != "" {
		if p, err := a.extractor.Principal(c.Value); err == nil {
			subject = p.Subject
		}
	}
	a.audit.logEvent(AuditLogout, r, subject)
	proxy.LogoutHandler(a.cookie).ServeHTTP(w, r)
}

// Session handles GET /api/auth/session. It reports what the gateway itself
// reads from the cookie, without asking the upstream.
func (a *API) Session(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie(a.cookie.Name)
	if err != nil || c.Value == "" {
		mapError(w, session.ErrNoSession)
		return
	}
	p, err := a.extractor.Principal(c.Value)
	if err != nil {
		mapError(w, err)
		return
	}
	resp := SessionResponse{
		Subject:     p.Subject,
		DisplayName: p.DisplayName,
		Roles:       p.Roles.Slice(),
	}
	if !p.ExpiresAt.IsZero() {
		exp := p.ExpiresAt.UTC()
		resp.ExpiresAt = &exp
	}
	writeJSON(w, http.StatusOK, resp)
}
