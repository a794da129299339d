package proxy

import (
	"net/http"
	"strings"
	"time"
)

// DefaultCookieMaxAge is how long the browser keeps the session cookie.
const DefaultCookieMaxAge = 30 * 24 * time.Hour

// CookiePolicy controls the attributes of the session cookie.
type CookiePolicy struct {
	Name   string
	MaxAge time.Duration
	// Secure forces the Secure attribute. When false, it is still set for
	// requests that arrived over TLS.
	Secure bool
}

func (p CookiePolicy) name() string {
	if p.Name == "" {
		return DefaultCookieName
	}
	return p.Name
}

// Write sets the session cookie to the bearer token.
func (p CookiePolicy) Write(w http.ResponseWriter, r *http.Request, token string) {
	maxAge := p.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultCookieMaxAge
	}
	http.SetCookie(w, &http.Cookie{
		Name:     p.name(),
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   p.Secure || RequestIsSecure(r),
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(maxAge / time.Second),
	})
}

// Clear expires the session cookie.
func (p CookiePolicy) Clear(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     p.name(),
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   p.Secure || RequestIsSecure(r),
		SameSite: http.SameSiteStrictMode,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
}

// RequestIsSecure reports whether r arrived over TLS, directly or behind a
// proxy that says so in X-Forwarded-Proto or Forwarded.
func RequestIsSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		return true
	}
	return strings.Contains(strings.ToLower(r.Header.Get("Forwarded")), "proto=https")
}
