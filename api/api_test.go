package api_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davon-library/webgate/api"
	"github.com/davon-library/webgate/config"
	"github.com/davon-library/webgate/internal/testtoken"
	"github.com/davon-library/webgate/token"
	"github.com/davon-library/webgate/web"
)

var libraryAccounts = map[string]string{
	"admin":     "ADMIN",
	"librarian": "LIBRARIAN",
	"max":       "MEMBER",
}

// libraryUpstream mimics the library REST API closely enough for the
// gateway: it issues tokens and answers a handful of resources.
type libraryUpstream struct {
	*httptest.Server
	issuer *testtoken.Issuer
	hits   atomic.Int32
}

func newLibraryUpstream(t *testing.T) *libraryUpstream {
	t.Helper()
	u := &libraryUpstream{issuer: testtoken.NewIssuer(t)}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		role, ok := libraryAccounts[req.Username]
		if !ok || req.Password != "password" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, `{"message":"Bad credentials"}`)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"token": u.issuer.User(t, req.Username, role)})
	})
	mux.HandleFunc("POST /api/auth/register", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("GET /api/auth/me", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"username":"max"}`)
	})
	mux.HandleFunc("GET /api/books", func(w http.ResponseWriter, r *http.Request) {
		u.hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Total-Count", "1")
		io.WriteString(w, `[{"id":1,"title":"Dune"}]`)
	})
	mux.HandleFunc("GET /api/admin/users", func(w http.ResponseWriter, r *http.Request) {
		u.hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `[]`)
	})
	u.Server = httptest.NewServer(mux)
	t.Cleanup(u.Close)
	return u
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupServer(t *testing.T, opts ...api.Option) (*httptest.Server, *libraryUpstream, *api.API) {
	t.Helper()
	upstream := newLibraryUpstream(t)

	cfg := config.Default()
	cfg.Upstream = upstream.URL + "/api"

	opts = append([]api.Option{
		api.WithLogger(quietLogger()),
		api.WithExtractor(token.NewVerifier(&upstream.issuer.Key.PublicKey, 0)),
	}, opts...)
	a, err := api.New(cfg, opts...)
	require.NoError(t, err)

	srv := httptest.NewServer(a.Router())
	t.Cleanup(srv.Close)
	return srv, upstream, a
}

// newClient returns a cookie-keeping client that does not follow
// redirects, so guard decisions stay visible.
func newClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any) *http.Response {
	t.Helper()
	var reqBody bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&reqBody).Encode(body))
	}
	req, err := http.NewRequestWithContext(t.Context(), method, url, &reqBody)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func login(t *testing.T, client *http.Client, baseURL, username string) {
	t.Helper()
	resp := doJSON(t, client, http.MethodPost, baseURL+"/api/auth/login", map[string]string{
		"username": username,
		"password": "password",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func TestLoginSetsSessionCookie(t *testing.T) {
	srv, _, _ := setupServer(t)
	client := newClient(t)

	resp := doJSON(t, client, http.MethodPost, srv.URL+"/api/auth/login", map[string]string{
		"username": "max",
		"password": "password",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"ok":true}`, readBody(t, resp))
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))

	var session *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == "token" {
			session = c
		}
	}
	require.NotNil(t, session)
	assert.True(t, session.HttpOnly)
	assert.Equal(t, http.SameSiteStrictMode, session.SameSite)
	assert.False(t, session.Secure, "development over plain http")
}

func TestLoginRejectedRelaysUpstreamMessage(t *testing.T) {
	srv, _, _ := setupServer(t)
	client := newClient(t)

	resp := doJSON(t, client, http.MethodPost, srv.URL+"/api/auth/login", map[string]string{
		"username": "max",
		"password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.JSONEq(t, `{"message":"Bad credentials"}`, readBody(t, resp))

	u, _ := url.Parse(srv.URL)
	assert.Empty(t, client.Jar.Cookies(u))
}

func TestLoginRateLimitedAfterRepeatedFailures(t *testing.T) {
	srv, _, _ := setupServer(t)
	client := newClient(t)

	for range 5 {
		resp := doJSON(t, client, http.MethodPost, srv.URL+"/api/auth/login", map[string]string{
			"username": "Max",
			"password": "wrong",
		})
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}

	// Usernames are case-folded, so "max" shares the lockout.
	resp := doJSON(t, client, http.MethodPost, srv.URL+"/api/auth/login", map[string]string{
		"username": "max",
		"password": "password",
	})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	// Other accounts from the same address are still below the IP limit.
	resp = doJSON(t, client, http.MethodPost, srv.URL+"/api/auth/login", map[string]string{
		"username": "admin",
		"password": "password",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSessionDescribesCookie(t *testing.T) {
	srv, _, _ := setupServer(t)
	client := newClient(t)

	resp := doJSON(t, client, http.MethodGet, srv.URL+"/api/auth/session", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.JSONEq(t, `{"error":"Unauthorized"}`, readBody(t, resp))

	login(t, client, srv.URL, "librarian")
	resp = doJSON(t, client, http.MethodGet, srv.URL+"/api/auth/session", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got api.SessionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "librarian", got.Subject)
	assert.Equal(t, []string{"LIBRARIAN"}, got.Roles)
	assert.NotNil(t, got.ExpiresAt)
}

func TestSessionRejectsForgedCookie(t *testing.T) {
	srv, _, _ := setupServer(t)
	forged := testtoken.NewIssuer(t).User(t, "mallory", "ADMIN")

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, srv.URL+"/api/auth/session", nil)
	require.NoError(t, err)
	req.AddCookie(&http.Cookie{Name: "token", Value: forged})
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLogoutClearsCookie(t *testing.T) {
	srv, _, _ := setupServer(t)
	client := newClient(t)
	login(t, client, srv.URL, "max")

	resp := doJSON(t, client, http.MethodPost, srv.URL+"/api/auth/logout", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"success"}`, readBody(t, resp))

	resp = doJSON(t, client, http.MethodGet, srv.URL+"/api/auth/session", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestProxyForwardsWithSession(t *testing.T) {
	srv, upstream, _ := setupServer(t)
	client := newClient(t)

	resp := doJSON(t, client, http.MethodGet, srv.URL+"/api/books", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, "book list is public")
	assert.Equal(t, "1", resp.Header.Get("X-Total-Count"))
	assert.JSONEq(t, `[{"id":1,"title":"Dune"}]`, readBody(t, resp))

	resp = doJSON(t, client, http.MethodGet, srv.URL+"/api/admin/users", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	login(t, client, srv.URL, "max")
	resp = doJSON(t, client, http.MethodGet, srv.URL+"/api/admin/users", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.EqualValues(t, 1, upstream.hits.Load(), "rejected calls never reach the upstream")

	login(t, client, srv.URL, "admin")
	resp = doJSON(t, client, http.MethodGet, srv.URL+"/api/admin/users", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, upstream.hits.Load())
}

func TestMeRelaysUpstream(t *testing.T) {
	srv, _, _ := setupServer(t)
	client := newClient(t)
	login(t, client, srv.URL, "max")

	resp := doJSON(t, client, http.MethodGet, srv.URL+"/api/auth/me", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"username":"max"}`, readBody(t, resp))
}

func TestPagesRedirectWithoutSession(t *testing.T) {
	srv, _, _ := setupServer(t)
	client := newClient(t)

	resp := doJSON(t, client, http.MethodGet, srv.URL+"/dashboard/admin/users?tab=2", nil)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/auth/login?next="+url.QueryEscape("/dashboard/admin/users?tab=2"), resp.Header.Get("Location"))
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))

	resp = doJSON(t, client, http.MethodGet, srv.URL+"/", nil)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/dashboard", resp.Header.Get("Location"))
}

func TestPagesEnforceRoles(t *testing.T) {
	tests := []struct {
		user     string
		path     string
		wantCode int
	}{
		{"max", "/dashboard", http.StatusOK},
		{"max", "/dashboard/librarian", http.StatusSeeOther},
		{"max", "/dashboard/admin", http.StatusSeeOther},
		{"max", "/dashboard/admin/users", http.StatusSeeOther},
		{"librarian", "/dashboard/librarian/loans", http.StatusOK},
		{"librarian", "/dashboard/admin", http.StatusSeeOther},
		{"admin", "/dashboard/librarian", http.StatusOK},
		{"admin", "/dashboard/admin", http.StatusOK},
		{"admin", "/profile", http.StatusOK},
	}
	srv, _, _ := setupServer(t)
	for _, tt := range tests {
		t.Run(tt.user+tt.path, func(t *testing.T) {
			client := newClient(t)
			login(t, client, srv.URL, tt.user)
			resp := doJSON(t, client, http.MethodGet, srv.URL+tt.path, nil)
			assert.Equal(t, tt.wantCode, resp.StatusCode)
			if tt.wantCode == http.StatusSeeOther {
				assert.Equal(t, "/unauthorized", resp.Header.Get("Location"))
			}
		})
	}
}

func TestLoginPageCarriesNext(t *testing.T) {
	srv, _, _ := setupServer(t)
	resp := doJSON(t, newClient(t), http.MethodGet, srv.URL+"/auth/login?next=%2Fdashboard%2Fadmin", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), `data-next="/dashboard/admin"`)
}

func TestMockUsersMounted(t *testing.T) {
	srv, _, _ := setupServer(t)
	resp := doJSON(t, newClient(t), http.MethodGet, srv.URL+"/mock/users?_start=0&_end=2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "users 0-1/5", resp.Header.Get("Content-Range"))
}

func TestMockDisabled(t *testing.T) {
	upstream := newLibraryUpstream(t)
	cfg := config.Default()
	cfg.Upstream = upstream.URL + "/api"
	cfg.Mock.Enabled = false
	a, err := api.New(cfg, api.WithLogger(quietLogger()))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	a.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/mock/users", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthAndReady(t *testing.T) {
	srv, _, a := setupServer(t)
	client := newClient(t)

	resp := doJSON(t, client, http.MethodGet, srv.URL+"/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = doJSON(t, client, http.MethodGet, srv.URL+"/ready", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	a.SetReady(false)
	resp = doJSON(t, client, http.MethodGet, srv.URL+"/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.JSONEq(t, `{"status":"shutting_down"}`, readBody(t, resp))
}

func TestSecurityHeaders(t *testing.T) {
	srv, _, _ := setupServer(t)
	resp := doJSON(t, newClient(t), http.MethodGet, srv.URL+"/health", nil)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Security-Policy"), "default-src 'self'"))
	assert.Empty(t, resp.Header.Get("Strict-Transport-Security"))

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, srv.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("X-Forwarded-Proto", "https")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.NotEmpty(t, resp.Header.Get("Strict-Transport-Security"))
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Upstream = "not a url"
	_, err := api.New(cfg)
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestSectionResourcesReachableBySectionRoles(t *testing.T) {
	issuer := testtoken.NewIssuer(t)
	var hits atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `[]`)
	}))
	t.Cleanup(upstream.Close)

	cfg := config.Default()
	cfg.Upstream = upstream.URL + "/api"
	a, err := api.New(cfg,
		api.WithLogger(quietLogger()),
		api.WithExtractor(token.NewVerifier(&issuer.Key.PublicKey, 0)),
	)
	require.NoError(t, err)
	srv := httptest.NewServer(a.Router())
	t.Cleanup(srv.Close)

	for _, section := range web.Sections {
		roles := section.Roles
		if len(roles) == 0 {
			roles = []string{token.RoleMember}
		}
		for _, role := range roles {
			tok := issuer.User(t, "u-"+role, role)
			for _, res := range section.Resources {
				before := hits.Load()
				req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, srv.URL+res.Endpoint, nil)
				require.NoError(t, err)
				req.AddCookie(&http.Cookie{Name: "token", Value: tok})
				resp, err := http.DefaultClient.Do(req)
				require.NoError(t, err)
				resp.Body.Close()

				assert.Equal(t, http.StatusOK, resp.StatusCode, "%s as %s: %s", section.Name, role, res.Endpoint)
				assert.Equal(t, before+1, hits.Load(), "%s as %s: %s", section.Name, role, res.Endpoint)
			}
		}
	}
}
