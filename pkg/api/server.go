package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/gatekeeper/pkg/auth"
	"github.com/platinummonkey/gatekeeper/pkg/httputil"
	"github.com/platinummonkey/gatekeeper/pkg/middleware"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/sso"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
)

// maxBodyBytes bounds verification request bodies
const maxBodyBytes = 64 << 10

// SSOStatus exposes the connection manager's diagnostic state
type SSOStatus interface {
	Info() sso.Info
	Connected() bool
}

// CacheInvalidator drops cached lookups for one table
type CacheInvalidator interface {
	Invalidate(ctx context.Context, keyspace, table string) error
}

// Server is the gateway HTTP surface
type Server struct {
	router   *mux.Router
	handler  http.Handler
	verifier middleware.TokenVerifier
	sso      SSOStatus
	authMW   *middleware.AuthMiddleware
	audit    *auth.AuditLogger
	health   *observability.HealthChecker
	registry *prometheus.Registry
	metrics  *observability.Metrics
	limiter  middleware.Limiter
	proxies  auth.TrustedProxies
	cache    CacheInvalidator
	tables   auth.Tables
	tracer   trace.TracerProvider
	logger   *logrus.Logger
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the logger used for request logging and auditing
func WithLogger(logger *logrus.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithHealthChecker mounts /health/live and /health/ready
func WithHealthChecker(health *observability.HealthChecker) Option {
	return func(s *Server) {
		s.health = health
	}
}

// WithMetrics instruments requests and mounts /metrics for registry
func WithMetrics(registry *prometheus.Registry, metrics *observability.Metrics) Option {
	return func(s *Server) {
		s.registry = registry
		s.metrics = metrics
	}
}

// WithRateLimiter limits the verification endpoints per client address
func WithRateLimiter(limiter middleware.Limiter) Option {
	return func(s *Server) {
		s.limiter = limiter
	}
}

// WithTrustedProxies sets the proxies whose forwarding headers are believed
// when resolving a caller's address for rate limiting and auditing
func WithTrustedProxies(proxies auth.TrustedProxies) Option {
	return func(s *Server) {
		s.proxies = proxies
	}
}

// WithCacheInvalidator mounts POST /v1/cache/invalidate, which drops the
// cached lookups for the credential tables
func WithCacheInvalidator(cache CacheInvalidator, tables auth.Tables) Option {
	return func(s *Server) {
		s.cache = cache
		s.tables = tables
	}
}

// WithTracing starts a server span per request from tp
func WithTracing(tp trace.TracerProvider) Option {
	return func(s *Server) {
		s.tracer = tp
	}
}

// NewServer creates the API server. ssoStatus may be nil when no SSO
// connection is managed.
func NewServer(verifier middleware.TokenVerifier, ssoStatus SSOStatus, opts ...Option) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		verifier: verifier,
		sso:      ssoStatus,
		logger:   observability.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.audit = auth.NewAuditLogger(s.logger).WithTrustedProxies(s.proxies)
	s.authMW = middleware.NewAuthMiddleware(verifier, s.audit)
	s.setupRoutes()

	s.handler = httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(s.logger),
		httputil.RecoveryMiddleware(s.logger),
	)(s.router)

	if s.tracer != nil {
		s.handler = otelhttp.NewHandler(s.handler, "gatekeeper",
			otelhttp.WithTracerProvider(s.tracer),
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	}
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	if s.metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(s.metrics, routeTemplate))
	}

	// Every route that consults the verifier shares the per-address limit
	limit := func(h http.Handler) http.Handler { return h }
	if s.limiter != nil {
		limit = middleware.RateLimit(s.limiter, s.logger, s.proxies)
	}

	verify := s.router.PathPrefix("/v1/auth").Subrouter()
	verify.Use(limit, httputil.MaxBytesMiddleware(maxBodyBytes), httputil.ContentTypeMiddleware)
	verify.HandleFunc("/user/verify", s.verifyUser).Methods("POST")
	verify.HandleFunc("/client/verify", s.verifyClient).Methods("POST")

	s.router.Handle("/v1/whoami", limit(s.authMW.UserAuth(http.HandlerFunc(s.whoami)))).Methods("GET")
	s.router.Handle("/v1/whoami/client", limit(s.authMW.ClientAuth(http.HandlerFunc(s.whoami)))).Methods("GET")
	if s.cache != nil {
		s.router.Handle("/v1/cache/invalidate", limit(s.authMW.ClientAuth(http.HandlerFunc(s.invalidateCache)))).Methods("POST")
	}
	s.router.HandleFunc("/v1/sso/info", s.ssoInfo).Methods("GET")

	if s.health != nil {
		s.router.HandleFunc("/health/live", s.health.Liveness).Methods("GET")
		s.router.HandleFunc("/health/ready", s.health.Readiness).Methods("GET")
	}
	if s.registry != nil {
		s.router.Handle("/metrics", observability.MetricsHandler(s.registry)).Methods("GET")
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Router returns the underlying router
func (s *Server) Router() *mux.Router {
	return s.router
}

// routeTemplate labels metrics by route pattern rather than raw path
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}
