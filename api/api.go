// Package api assembles the gateway: proxy routes, session relays, guarded
// pages and the development user provider behind one chi router.
package api

import (
	_ "embed"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-openapi/runtime/middleware"

	"github.com/davon-library/webgate/config"
	"github.com/davon-library/webgate/guard"
	"github.com/davon-library/webgate/mock"
	"github.com/davon-library/webgate/proxy"
	"github.com/davon-library/webgate/storage/memory"
	"github.com/davon-library/webgate/token"
	"github.com/davon-library/webgate/web"
)

//go:embed openapi.yaml
var openapiSpec []byte

// tokenLeeway absorbs clock skew between the gateway and the token issuer.
const tokenLeeway = 30 * time.Second

// API holds the gateway's wiring.
type API struct {
	cfg       config.Config
	logger    *slog.Logger
	client    *http.Client
	extractor token.Extractor
	resolver  guard.Resolver
	forwarder *proxy.Forwarder
	cookie    proxy.CookiePolicy
	users     *mock.UserStore
	pages     *web.Pages

	limiter        *loginLimiter
	regLimiter     *registrationLimiter
	trustedProxies []netip.Prefix

	audit   *auditLogger
	alertFn AlertFunc
	ready   atomic.Bool
}

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger. If not set, a JSON logger writing
// to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) { a.logger = logger }
}

// WithHTTPClient overrides the client used to reach the upstream.
func WithHTTPClient(c *http.Client) Option {
	return func(a *API) { a.client = c }
}

// WithUserStore serves the given store under /mock when the mock provider
// is enabled. Without it an in-memory store is created.
func WithUserStore(s *mock.UserStore) Option {
	return func(a *API) { a.users = s }
}

// WithAlertFunc registers a callback for login and upstream failure spikes.
func WithAlertFunc(fn AlertFunc) Option {
	return func(a *API) { a.alertFn = fn }
}

// WithTrustedProxies honors X-Forwarded-For and friends from these ranges
// when rate limiting by client IP. A bare address is treated as a single
// host prefix.
func WithTrustedProxies(cidrs []string) (Option, error) {
	prefixes := make([]netip.Prefix, 0, len(cidrs))
	for _, raw := range cidrs {
		raw = strings.TrimSpace(raw)
		if prefix, err := netip.ParsePrefix(raw); err == nil {
			prefixes = append(prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", raw, err)
		}
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return func(a *API) { a.trustedProxies = prefixes }, nil
}

// WithExtractor overrides how the gateway reads tokens. Tests use it to
// trust a throwaway signing key.
func WithExtractor(e token.Extractor) Option {
	return func(a *API) { a.extractor = e }
}

// New validates cfg and builds the gateway.
func New(cfg config.Config, opts ...Option) (*API, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &API{
		cfg:        cfg,
		limiter:    newLoginLimiter(),
		regLimiter: newRegistrationLimiter(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.trustedProxies == nil && len(cfg.TrustedProxies) > 0 {
		opt, err := WithTrustedProxies(cfg.TrustedProxies)
		if err != nil {
			return nil, err
		}
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	if a.client == nil {
		a.client = &http.Client{Timeout: cfg.UpstreamTimeout}
	}
	a.audit = newAuditLogger(a.logger, newMetricsCollector(a.alertFn))
	if cfg.Audit.WebhookURL != "" {
		a.audit.webhook = newAuditWebhook(cfg.Audit.WebhookURL, cfg.Audit.WebhookHeader, a.logger)
	}

	if a.extractor == nil {
		if cfg.VerifySignatures {
			v, err := token.NewVerifierFromFile(cfg.PublicKeyFile, tokenLeeway)
			if err != nil {
				return nil, fmt.Errorf("loading token verifier: %w", err)
			}
			a.extractor = v
		} else {
			a.extractor = token.Decoder{}
		}
	}

	if cfg.RemoteCheck {
		a.resolver = guard.RemoteResolver{
			Cookie:   cfg.Cookie.Name,
			Endpoint: strings.TrimRight(cfg.Upstream, "/") + "/auth/me",
			Client:   a.client,
		}
	} else {
		a.resolver = guard.CookieResolver{Cookie: cfg.Cookie.Name, Extractor: a.extractor}
	}

	fwd, err := proxy.New(cfg.Upstream,
		proxy.WithHTTPClient(a.client),
		proxy.WithLogger(a.logger),
		proxy.WithExtractor(a.extractor),
		proxy.WithCookieName(cfg.Cookie.Name),
		proxy.WithObserver(a.audit),
	)
	if err != nil {
		return nil, err
	}
	a.forwarder = fwd
	a.cookie = proxy.CookiePolicy{
		Name:   cfg.Cookie.Name,
		MaxAge: cfg.Cookie.MaxAge,
		Secure: !cfg.Development(),
	}

	if cfg.Mock.Enabled && a.users == nil {
		a.users = mock.NewUserStore(memory.NewRepository())
		if cfg.Mock.Seed {
			if err := seedUsers(a.users, a.logger); err != nil {
				return nil, err
			}
		}
	}

	pages, err := web.New()
	if err != nil {
		return nil, err
	}
	a.pages = pages
	a.ready.Store(true)
	return a, nil
}

// SeedUsers loads the built-in development users into an empty store.
func SeedUsers(store *mock.UserStore, logger *slog.Logger) error {
	return seedUsers(store, logger)
}

func seedUsers(store *mock.UserStore, logger *slog.Logger) error {
	users, err := mock.DefaultUsers()
	if err != nil {
		return err
	}
	n, err := store.Seed(users)
	if err != nil {
		return fmt.Errorf("seeding mock users: %w", err)
	}
	if n > 0 && logger != nil {
		logger.Info("seeded mock users", slog.Int("count", n))
	}
	return nil
}

// SetReady flips the readiness probe. The server clears it when shutdown
// begins so load balancers stop routing new requests.
func (a *API) SetReady(ready bool) { a.ready.Store(ready) }

// Close flushes queued audit events. Call it after the HTTP server has
// stopped.
func (a *API) Close() {
	a.audit.close()
}

// Router returns a chi.Router with every gateway route mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(SecurityHeaders)

	r.Get("/health", a.Health)
	r.Get("/ready", a.Ready)

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})
	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/openapi.yaml",
		Path:    "docs",
	}, nil))

	r.Route("/api", func(r chi.Router) {
		r.Use(noStore)
		r.Post("/auth/login", a.Login)
		r.Post("/auth/register", a.Register)
		r.Post("/auth/logout", a.Logout)
		r.Get("/auth/me", a.forwarder.MeHandler().ServeHTTP)
		r.Get("/auth/session", a.Session)
		a.forwarder.Mount(r, proxy.LibraryRoutes())
	})

	if a.cfg.Mock.Enabled && a.users != nil {
		r.Mount("/mock", mock.NewHandler(a.users, a.logger).Routes())
	}

	a.mountPages(r)
	return r
}

// mountPages registers the HTML pages. Every dashboard path is registered
// both bare and with a wildcard so "/dashboard/admin" can't fall through to
// the less restrictive "/dashboard/*".
func (a *API) mountPages(r chi.Router) {
	r.Handle("/static/*", a.pages.Static())
	r.Get("/auth/login", a.pages.Login().ServeHTTP)
	r.Get("/unauthorized", a.pages.Unauthorized().ServeHTTP)
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
	})

	for _, s := range web.Sections {
		g := a.newGuard(s.Roles...)
		page := g.Middleware(a.pages.Dashboard(s))
		r.Method(http.MethodGet, s.Path, page)
		r.Method(http.MethodGet, s.Path+"/*", page)
	}
	r.Method(http.MethodGet, "/profile", a.newGuard().Middleware(a.pages.Profile()))
}

func (a *API) newGuard(required ...string) *guard.Guard {
	g := guard.New(a.resolver, required...)
	g.Observer = a.audit
	g.Logger = a.logger
	return g
}
