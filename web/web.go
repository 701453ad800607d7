// Package web exposes the login flow over HTTP:
//
//	GET  /api/auth/{provider}/login?redirect_to=
//	GET  /api/auth/{provider}/callback
//	POST /api/auth/logout
//	GET  /api/auth/logout?redirect_to=
//	GET  /api/auth/session
//	GET  /api/auth/providers
//
// In-flight login state always lives in a sealed, short-lived cookie.
// Sessions live in a sealed cookie too unless a server-side kvstore.Store
// is configured, in which case the cookie carries only a session id.
package web

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mnehpets/socialauth/auth"
	"github.com/mnehpets/socialauth/kvstore"
	"github.com/mnehpets/socialauth/logging"
	"github.com/mnehpets/socialauth/session"
	"go.uber.org/zap"
)

// StateCookiePrefix is followed by the provider id to name the cookie that
// holds the stored FlowState.
const StateCookiePrefix = "oauth-state-"

// Handler serves the auth routes.
type Handler struct {
	orch        *auth.Orchestrator
	cookies     *kvstore.CookieStore
	backend     kvstore.Store
	origin      string
	stateMaxAge time.Duration
	sessionOpts []session.Option
	logger      *zap.Logger
	hsts        bool
}

// Option configures a Handler.
type Option func(*Handler)

// WithBackend keeps sessions in s instead of in the session cookie.
func WithBackend(s kvstore.Store) Option {
	return func(h *Handler) {
		h.backend = s
	}
}

// WithOrigin fixes the origin used to build redirects. By default it is
// derived from each request.
func WithOrigin(origin string) Option {
	return func(h *Handler) {
		h.origin = origin
	}
}

// WithStateMaxAge sets the lifetime of the state cookie. It should match
// the orchestrator's state max age.
func WithStateMaxAge(d time.Duration) Option {
	return func(h *Handler) {
		h.stateMaxAge = d
	}
}

// WithSessionOptions are applied to every session.Manager the handler
// builds.
func WithSessionOptions(opts ...session.Option) Option {
	return func(h *Handler) {
		h.sessionOpts = append(h.sessionOpts, opts...)
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(h *Handler) {
		h.logger = l
	}
}

// WithHSTS adds a Strict-Transport-Security header to every response.
func WithHSTS(enable bool) Option {
	return func(h *Handler) {
		h.hsts = enable
	}
}

// New creates a Handler. cookies seals both the state cookie and the
// session cookie.
func New(orch *auth.Orchestrator, cookies *kvstore.CookieStore, opts ...Option) *Handler {
	h := &Handler{
		orch:        orch,
		cookies:     cookies,
		stateMaxAge: auth.DefaultStateMaxAge,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register adds the auth routes to r.
func (h *Handler) Register(r chi.Router) {
	r.Route("/api/auth", func(r chi.Router) {
		r.Use(h.securityHeaders)
		r.Get("/providers", handle(h.providers))
		r.Get("/session", handle(h.session))
		r.Post("/logout", handle(h.logout))
		r.Get("/logout", handle(h.logoutRedirect))
		r.Get("/{provider}/login", handle(h.login))
		r.Get("/{provider}/callback", handle(h.callback))
	})
}

// Routes returns a router serving the auth routes, with request ids,
// request logging and panic recovery. Application routes may be added to it.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, h.requestLogger, middleware.Recoverer)
	h.Register(r)
	return r
}

// requestLogger puts a request-scoped logger in the context and logs each
// request once it completes.
func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		log := h.logger.With(zap.String("request_id", middleware.GetReqID(r.Context())))
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(logging.ToContext(r.Context(), log)))
		log.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// securityHeaders sets the headers appropriate for auth API responses,
// which are never cached and never framed.
func (h *Handler) securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hdr := w.Header()
		hdr.Set("Cache-Control", "no-store")
		hdr.Set("Pragma", "no-cache")
		hdr.Set("X-Content-Type-Options", "nosniff")
		hdr.Set("X-Frame-Options", "DENY")
		hdr.Set("Referrer-Policy", "no-referrer")
		hdr.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		if h.hsts {
			hdr.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) originOf(r *http.Request) string {
	if h.origin != "" {
		return h.origin
	}
	return requestOrigin(r)
}

// sessions returns the session manager for this request.
func (h *Handler) sessions(r *http.Request, jar *kvstore.Jar) *session.Manager {
	var store kvstore.Store = jar
	if h.backend != nil {
		store = &serverStore{jar: jar, backend: h.backend}
	}
	opts := append([]session.Option{session.WithLogger(logging.From(r.Context(), h.logger))}, h.sessionOpts...)
	return session.NewManager(store, opts...)
}

// CurrentSession returns the session of the browser making r, or nil. It is
// meant for application pages mounted next to the auth routes.
func (h *Handler) CurrentSession(w http.ResponseWriter, r *http.Request) (*session.Session, error) {
	return h.sessions(r, h.cookies.Bind(w, r)).GetSession(r.Context())
}
