package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davon-library/webgate/internal/testtoken"
	"github.com/davon-library/webgate/mock"
	"github.com/davon-library/webgate/session"
	"github.com/davon-library/webgate/storage/memory"
	"github.com/davon-library/webgate/token"
	"github.com/davon-library/webgate/view"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	setContexts(rootCmd, t.Context())
	err := rootCmd.ExecuteContext(t.Context())
	return out.String(), err
}

// setContexts replaces the contexts cobra cached on subcommands during an
// earlier Execute, which would otherwise outlive their test.
func setContexts(c *cobra.Command, ctx context.Context) {
	for _, sub := range c.Commands() {
		sub.SetContext(ctx)
		setContexts(sub, ctx)
	}
}

func newTokenServer(t *testing.T) *httptest.Server {
	t.Helper()
	issuer := testtoken.NewIssuer(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/login" {
			http.NotFound(w, r)
			return
		}
		var creds session.Credentials
		json.NewDecoder(r.Body).Decode(&creds)
		if creds.Password != "password" {
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, `{"message":"Bad credentials"}`)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"token": issuer.User(t, creds.Username, "MEMBER")})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestLoginWhoamiLogout(t *testing.T) {
	srv := newTokenServer(t)
	dir := t.TempDir()

	out, err := run(t, "login", "--state-dir", dir, "--api", srv.URL, "-u", "max", "-p", "password")
	require.NoError(t, err)
	assert.Contains(t, out, "max")
	assert.Contains(t, out, "MEMBER")

	out, err = run(t, "whoami", "--state-dir", dir, "--api", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "max", "session survives across invocations")

	_, err = run(t, "logout", "--state-dir", dir, "--api", srv.URL)
	require.NoError(t, err)

	out, err = run(t, "whoami", "--state-dir", dir, "--api", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "not logged in")
}

func TestRunUsesFreshContext(t *testing.T) {
	done, cancel := context.WithCancel(t.Context())
	cancel()
	versionCmd.SetContext(done)

	_, err := run(t, "version")
	require.NoError(t, err)
	assert.NoError(t, versionCmd.Context().Err())
}

func TestLoginRejected(t *testing.T) {
	srv := newTokenServer(t)
	_, err := run(t, "login", "--state-dir", t.TempDir(), "--api", srv.URL, "-u", "max", "-p", "wrong")

	var authErr *session.AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, http.StatusUnauthorized, authErr.Status)
	assert.Equal(t, "Bad credentials", authErr.Message)
}

func TestUsersList(t *testing.T) {
	store := mock.NewUserStore(memory.NewRepository(), mock.WithBcryptCost(4))
	users, err := mock.DefaultUsers()
	require.NoError(t, err)
	_, err = store.Seed(users)
	require.NoError(t, err)
	srv := httptest.NewServer(mock.NewHandler(store, slog.New(slog.NewTextHandler(io.Discard, nil))).Routes())
	t.Cleanup(srv.Close)

	out, err := run(t, "users", "list", "--state-dir", t.TempDir(), "--base", srv.URL, "--start", "0", "--end", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "admin@library.test")
	assert.Contains(t, out, "librarian@library.test")
	assert.NotContains(t, out, "max@library.test")
	assert.Contains(t, out, "users 1-2 of 5")
}

func TestRenderUsersEmptyWindow(t *testing.T) {
	var buf bytes.Buffer
	renderUsers(&buf, nil, view.Page{Total: 5})
	assert.Contains(t, buf.String(), "no users in window (total 5)")
	assert.Contains(t, buf.String(), "EMAIL")
}

func TestRenderSession(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	renderSession(&buf, &session.Session{
		SubjectID:   "nora",
		DisplayName: "Nora",
		Roles:       token.NewRoleSet("librarian", "admin"),
		TokenExpiry: now.Add(2 * time.Hour),
	}, now)
	assert.Contains(t, buf.String(), "nora")
	assert.Contains(t, buf.String(), "ADMIN, LIBRARIAN")
	assert.Contains(t, buf.String(), "2h0m0s")

	buf.Reset()
	renderSession(&buf, &session.Session{SubjectID: "x"}, now)
	assert.Contains(t, buf.String(), "never")
	assert.Contains(t, buf.String(), "none")
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "webgate dev\n", out)
}
