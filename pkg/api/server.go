package api

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/auth"
	"github.com/platinummonkey/gatekeeper/pkg/endpoints"
	"github.com/platinummonkey/gatekeeper/pkg/httputil"
	"github.com/platinummonkey/gatekeeper/pkg/middleware"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/ratelimit"
	"github.com/platinummonkey/gatekeeper/pkg/rbac"
	"github.com/prometheus/client_golang/prometheus"
)

// APIPrefix is where the authenticated admin and gateway routes live
const APIPrefix = "/api/v1"

// Dependencies are the components the HTTP surface is assembled from
type Dependencies struct {
	RBAC        *rbac.Manager
	Registry    *endpoints.Registry
	Coordinator *auth.Coordinator

	// Limiter is optional; nil disables rate limiting
	Limiter *ratelimit.Limiter

	Audit   audit.Logger
	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// Options tune the middleware chain
type Options struct {
	RequestTimeout    time.Duration
	MaxBodyBytes      int64
	RateLimitFailOpen bool
	AuditAllRequests  bool
}

// Server represents our API server
type Server struct {
	router  *mux.Router
	handler http.Handler
}

// NewServer builds the router and middleware chain.
//
// Every request passes request logging, panic recovery, the timeout and the
// body limit. Matched routes then get optional token authentication, metrics,
// rate limiting and audit logging, in that order. Routes under APIPrefix also
// require a valid access token.
func NewServer(deps Dependencies, opts Options) *Server {
	if deps.Audit == nil {
		deps.Audit = audit.NoOpLogger{}
	}
	if deps.Logger == nil {
		deps.Logger = observability.NewLogger(observability.InfoLevel, nil)
	}

	s := &Server{router: mux.NewRouter()}
	s.router.NotFoundHandler = http.HandlerFunc(notFound)
	s.router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)

	// Populates the caller for the rate limiter and audit log when a token is sent
	s.router.Use(middleware.NewAuthMiddleware(deps.Coordinator.Issuer(), true).Handler)
	if deps.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(deps.Metrics))
	}
	if deps.Limiter != nil {
		s.router.Use(ratelimit.NewMiddleware(deps.Limiter, opts.RateLimitFailOpen).WithMetrics(deps.Metrics).Handler)
	}
	s.router.Use(audit.NewMiddleware(deps.Audit, opts.AuditAllRequests).Handler)

	s.setupRoutes(deps)

	s.handler = httputil.Chain(
		observability.RequestLoggingMiddleware(deps.Logger),
		observability.RecoveryMiddleware,
		httputil.TimeoutMiddleware(opts.RequestTimeout),
		maxBytes(opts.MaxBodyBytes),
		httputil.ContentTypeMiddleware,
	)(s.router)

	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes(deps Dependencies) {
	// Login, refresh, logout and introspection are public
	auth.NewHandlers(deps.Coordinator, deps.Audit).RegisterRoutes(s.router)

	api := s.router.PathPrefix(APIPrefix).Subrouter()
	api.Use(middleware.NewAuthMiddleware(deps.Coordinator.Issuer(), false).Handler)

	permissions := deps.RBAC.GetMiddleware()
	deps.RBAC.RegisterRoutes(api)
	endpoints.NewHandlers(deps.Registry, deps.Audit).WithPermissions(permissions).RegisterRoutes(api)
	if deps.Limiter != nil {
		ratelimit.NewHandlers(deps.Limiter, deps.Audit).WithPermissions(permissions).RegisterRoutes(api)
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

func maxBytes(limit int64) func(http.Handler) http.Handler {
	if limit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httputil.MaxBytesMiddleware(limit)
}

func notFound(w http.ResponseWriter, r *http.Request) {
	httputil.WriteErrorCode(w, http.StatusNotFound, "not_found", "route not found")
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	httputil.WriteErrorCode(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
}

// NewHealthRouter serves liveness, readiness and Prometheus metrics on the
// health port. registry and metrics are nil when metrics are disabled.
func NewHealthRouter(db *sql.DB, redisClient *redis.Client, registry *prometheus.Registry, metrics *observability.Metrics, version string) http.Handler {
	health := observability.NewHealthChecker(db, redisClient).WithVersion(version).WithMetrics(metrics)

	router := mux.NewRouter()
	router.HandleFunc("/health/live", health.Liveness).Methods("GET")
	router.HandleFunc("/health/ready", health.Readiness).Methods("GET")
	if registry != nil {
		router.Handle("/metrics", observability.MetricsHandler(registry)).Methods("GET")
	}
	return router
}
