// Package guard gates page handlers on session presence and role
// membership. A guarded handler never runs until the check has authorized
// the request.
package guard

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/davon-library/webgate/token"
)

// State is the lifecycle of a single guard check.
type State int

const (
	Unchecked State = iota
	Checking
	Authorized
	Redirecting
)

func (s State) String() string {
	switch s {
	case Unchecked:
		return "unchecked"
	case Checking:
		return "checking"
	case Authorized:
		return "authorized"
	case Redirecting:
		return "redirecting"
	default:
		return "unknown"
	}
}

// Reason explains a Redirecting decision.
type Reason int

const (
	ReasonNone Reason = iota
	// ReasonNoSession means no usable session was found.
	ReasonNoSession
	// ReasonForbidden means the session lacks every required role.
	ReasonForbidden
)

func (r Reason) String() string {
	switch r {
	case ReasonNoSession:
		return "no_session"
	case ReasonForbidden:
		return "forbidden"
	default:
		return "none"
	}
}

// Decision is the outcome of Check.
type Decision struct {
	State     State
	Reason    Reason
	Target    string
	Principal *token.Principal
}

// Resolver finds the session principal for a request. It returns nil and
// no error when the request carries no session.
type Resolver interface {
	Resolve(r *http.Request) (*token.Principal, error)
}

// Observer is told about every state transition.
type Observer interface {
	Transition(r *http.Request, from, to State, reason Reason)
}

// Guard checks a request against a required role set. An empty Required
// set admits any authenticated user.
type Guard struct {
	Required         token.RoleSet
	LoginPath        string
	UnauthorizedPath string
	Resolver         Resolver
	Observer         Observer
	Logger           *slog.Logger
}

const (
	defaultLoginPath        = "/auth/login"
	defaultUnauthorizedPath = "/unauthorized"
)

// New returns a Guard with the default redirect targets.
func New(resolver Resolver, required ...string) *Guard {
	return &Guard{
		Required:         token.NewRoleSet(required...),
		LoginPath:        defaultLoginPath,
		UnauthorizedPath: defaultUnauthorizedPath,
		Resolver:         resolver,
	}
}

// Check resolves the session and decides whether r may proceed. A resolver
// error is treated as no session. There is no retry: a failed check is
// final for this request.
func (g *Guard) Check(r *http.Request) Decision {
	g.transition(r, Unchecked, Checking, ReasonNone)

	p, err := g.Resolver.Resolve(r)
	if err != nil && g.Logger != nil {
		g.Logger.DebugContext(r.Context(), "session resolution failed",
			slog.String("path", r.URL.Path), slog.String("error", err.Error()))
	}
	if err != nil || p == nil {
		return g.redirect(r, ReasonNoSession, g.loginTarget(r))
	}
	if !g.Required.Empty() && !g.Required.Intersects(p.Roles) {
		return g.redirect(r, ReasonForbidden, g.unauthorizedPath())
	}

	g.transition(r, Checking, Authorized, ReasonNone)
	return Decision{State: Authorized, Principal: p}
}

func (g *Guard) redirect(r *http.Request, reason Reason, target string) Decision {
	g.transition(r, Checking, Redirecting, reason)
	return Decision{State: Redirecting, Reason: reason, Target: target}
}

func (g *Guard) transition(r *http.Request, from, to State, reason Reason) {
	if g.Observer != nil {
		g.Observer.Transition(r, from, to, reason)
	}
}

func (g *Guard) loginTarget(r *http.Request) string {
	login := g.LoginPath
	if login == "" {
		login = defaultLoginPath
	}
	q := url.Values{"next": {r.URL.RequestURI()}}
	return login + "?" + q.Encode()
}

func (g *Guard) unauthorizedPath() string {
	if g.UnauthorizedPath == "" {
		return defaultUnauthorizedPath
	}
	return g.UnauthorizedPath
}

// Middleware runs Check before next. Unauthorized requests get a 303
// redirect and next is never invoked; authorized requests carry the
// principal in their context.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := g.Check(r)
		if d.State != Authorized {
			w.Header().Set("Cache-Control", "no-store")
			http.Redirect(w, r, d.Target, http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), *d.Principal)))
	})
}

type contextKey int

const principalKey contextKey = iota

// WithPrincipal stores p on ctx.
func WithPrincipal(ctx context.Context, p token.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFrom returns the principal stored by Middleware.
func PrincipalFrom(ctx context.Context) (token.Principal, bool) {
	p, ok := ctx.Value(principalKey).(token.Principal)
	return p, ok
}
