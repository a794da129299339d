// Package proxy relays same-origin browser requests to the upstream library
// API, attaching the bearer token from the session cookie.
package proxy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/davon-library/webgate/internal/uuid"
	"github.com/davon-library/webgate/token"
)

const (
	// DefaultCookieName is the session cookie holding the bearer token.
	DefaultCookieName = "token"

	maxBodySize = 10 << 20
)

// relayedHeaders are copied from upstream responses besides Content-Type.
var relayedHeaders = []string{"Content-Range", "X-Total-Count", "Location"}

// Scope is an alternate upstream template selected by the "scope" query
// parameter, e.g. admin-wide vs. member-owned listings.
type Scope struct {
	Upstream string
	Required token.RoleSet
}

// Route describes one proxied endpoint.
type Route struct {
	Name    string
	Method  string
	Pattern string
	// Upstream is a path template relative to the upstream base URL.
	// {name} placeholders are filled from URL params, then query params.
	Upstream string
	Scopes   map[string]Scope
	// Query lists query parameters passed through to the upstream.
	Query []string
	// RequiredQuery lists query parameters whose absence is a 400.
	RequiredQuery []string
	// Public routes forward without a token when none is present.
	Public bool
	// Required, when set, is re-checked against the token's role claim
	// before anything is forwarded.
	Required token.RoleSet
	// NoContentOnSuccess collapses any 2xx to an empty 204 and wraps
	// failures in a {"message": ...} envelope.
	NoContentOnSuccess bool
}

// Observer is notified after each forward attempt. err is non-nil only for
// transport failures.
type Observer interface {
	Forwarded(r *http.Request, route string, status int, elapsed time.Duration, err error)
}

// Forwarder builds handlers for routes against one upstream origin.
type Forwarder struct {
	base      string
	client    *http.Client
	logger    *slog.Logger
	extractor token.Extractor
	cookie    string
	observer  Observer
}

// Option configures a Forwarder.
type Option func(*Forwarder)

// WithHTTPClient overrides the upstream HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Forwarder) { f.client = c }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Forwarder) { f.logger = logger }
}

// WithExtractor sets how role-restricted routes read the token's claims.
// The default decodes without verifying.
func WithExtractor(e token.Extractor) Option {
	return func(f *Forwarder) { f.extractor = e }
}

// WithCookieName overrides DefaultCookieName.
func WithCookieName(name string) Option {
	return func(f *Forwarder) { f.cookie = name }
}

// WithObserver registers an Observer.
func WithObserver(o Observer) Option {
	return func(f *Forwarder) { f.observer = o }
}

// New returns a Forwarder for the upstream base URL, e.g.
// "http://localhost:8083/api".
func New(baseURL string, opts ...Option) (*Forwarder, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing upstream url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return nil, fmt.Errorf("upstream url must be absolute http(s): %q", baseURL)
	}
	f := &Forwarder{
		base:      strings.TrimRight(baseURL, "/"),
		client:    http.DefaultClient,
		extractor: token.Decoder{},
		cookie:    DefaultCookieName,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.logger == nil {
		f.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	f.logger = f.logger.With("component", "proxy")
	return f, nil
}

// Base returns the upstream base URL without a trailing slash.
func (f *Forwarder) Base() string { return f.base }

// Mount registers every route on r.
func (f *Forwarder) Mount(r chi.Router, routes []Route) {
	for _, route := range routes {
		r.Method(route.Method, route.Pattern, f.Handler(route))
	}
}

// Handler returns the http.Handler for a single route.
func (f *Forwarder) Handler(route Route) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := f.bearer(r)
		if raw == "" && !route.Public {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		template, required := route.Upstream, route.Required
		if scope, ok := route.Scopes[r.URL.Query().Get("scope")]; ok {
			template = scope.Upstream
			if !scope.Required.Empty() {
				required = scope.Required
			}
		}
		if !required.Empty() {
			if status, msg := f.authorize(raw, required); status != 0 {
				writeError(w, status, msg)
				return
			}
		}

		for _, name := range route.RequiredQuery {
			if r.URL.Query().Get(name) == "" {
				writeError(w, http.StatusBadRequest, "Missing "+name)
				return
			}
		}
		target, err := f.upstreamURL(r, template, route.Query)
		var missing missingParamError
		switch {
		case errors.As(err, &missing):
			writeError(w, http.StatusBadRequest, "Invalid "+string(missing))
			return
		case err != nil:
			f.logger.ErrorContext(r.Context(), "building upstream url", slog.String("route", route.Name), slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "Internal Server Error")
			return
		}

		f.forward(w, r, route, target, raw)
	})
}

func (f *Forwarder) bearer(r *http.Request) string {
	c, err := r.Cookie(f.cookie)
	if err != nil {
		return ""
	}
	return c.Value
}

// authorize re-checks the role claim. It returns a zero status when the
// token carries at least one required role.
func (f *Forwarder) authorize(raw string, required token.RoleSet) (int, string) {
	if raw == "" {
		return http.StatusUnauthorized, "Unauthorized"
	}
	p, err := f.extractor.Principal(raw)
	if err != nil {
		return http.StatusUnauthorized, "Unauthorized"
	}
	if !required.Intersects(p.Roles) {
		return http.StatusForbidden, "Forbidden"
	}
	return 0, ""
}

// upstreamURL fills the template's placeholders and appends pass-through
// query parameters.
func (f *Forwarder) upstreamURL(r *http.Request, template string, query []string) (string, error) {
	var b strings.Builder
	b.WriteString(f.base)
	rest := template
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			b.WriteString(rest)
			break
		}
		end := strings.IndexByte(rest[open:], '}')
		if end < 0 {
			return "", fmt.Errorf("bad upstream template %q", template)
		}
		name := rest[open+1 : open+end]
		value := chi.URLParam(r, name)
		if value == "" {
			value = r.URL.Query().Get(name)
		}
		if value == "" {
			return "", missingParamError(name)
		}
		b.WriteString(rest[:open])
		b.WriteString(url.PathEscape(value))
		rest = rest[open+end+1:]
	}

	q := url.Values{}
	for _, name := range query {
		if v, ok := r.URL.Query()[name]; ok {
			q[name] = v
		}
	}
	if len(q) > 0 {
		b.WriteString("?")
		b.WriteString(q.Encode())
	}
	return b.String(), nil
}

func (f *Forwarder) forward(w http.ResponseWriter, r *http.Request, route Route, target, raw string) {
	var body io.Reader
	var hasBody bool
	if r.Body != nil && r.Method != http.MethodGet && r.Method != http.MethodHead {
		data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, "Request Entity Too Large")
				return
			}
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if len(data) > 0 {
			body = bytes.NewReader(data)
			hasBody = true
		}
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, target, body)
	if err != nil {
		f.logger.ErrorContext(r.Context(), "building upstream request", slog.String("route", route.Name), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	if raw != "" {
		req.Header.Set("Authorization", "Bearer "+raw)
	}
	if hasBody {
		ct := r.Header.Get("Content-Type")
		if ct == "" {
			ct = "application/json"
		}
		req.Header.Set("Content-Type", ct)
	}
	if accept := r.Header.Get("Accept"); accept != "" {
		req.Header.Set("Accept", accept)
	}
	req.Header.Set("X-Request-ID", requestID(r))

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		f.observe(r, route, 0, start, err)
		f.logger.ErrorContext(r.Context(), "upstream request failed",
			slog.String("route", route.Name),
			slog.String("method", r.Method),
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		f.observe(r, route, 0, start, err)
		f.logger.ErrorContext(r.Context(), "reading upstream response", slog.String("route", route.Name), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	f.observe(r, route, resp.StatusCode, start, nil)

	if route.NoContentOnSuccess {
		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		msg := strings.TrimSpace(string(payload))
		if msg == "" {
			msg = "Failed"
		}
		writeJSON(w, resp.StatusCode, MessageResponse{Message: msg})
		return
	}

	relay(w, resp, payload)
}

// relay writes the upstream status and body unchanged.
func relay(w http.ResponseWriter, resp *http.Response, payload []byte) {
	for _, h := range relayedHeaders {
		if v := resp.Header.Get(h); v != "" {
			w.Header().Set(h, v)
		}
	}
	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusNotModified {
		w.WriteHeader(resp.StatusCode)
		return
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = "application/json"
	}
	w.Header().Set("Content-Type", ct)
	w.WriteHeader(resp.StatusCode)
	w.Write(payload)
}

func (f *Forwarder) observe(r *http.Request, route Route, status int, start time.Time, err error) {
	if f.observer != nil {
		f.observer.Forwarded(r, route.Name, status, time.Since(start), err)
	}
}

func requestID(r *http.Request) string {
	if id := middleware.GetReqID(r.Context()); id != "" {
		return id
	}
	return uuid.New()
}

// ErrorResponse is the {"error": ...} envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}

// MessageResponse is the {"message": ...} envelope used by the auth relays.
type MessageResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, MessageResponse{Message: msg})
}

type missingParamError string

func (e missingParamError) Error() string { return "missing path parameter " + string(e) }
