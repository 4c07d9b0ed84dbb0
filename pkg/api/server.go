package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tasknest/tasknest/pkg/httputil"
	"github.com/tasknest/tasknest/pkg/middleware"
	"github.com/tasknest/tasknest/pkg/observability"
)

// ServerConfig collects what the HTTP API is assembled from. Health,
// Metrics, Registry and RateLimit are optional.
type ServerConfig struct {
	Logger    *observability.Logger
	Metrics   *observability.Metrics
	Registry  *prometheus.Registry
	Health    *observability.HealthChecker
	Tokens    middleware.TokenResolver
	RateLimit *middleware.RateLimitMiddleware

	Boards  *BoardHandlers
	Billing *BillingHandlers
}

// Server is the tasknest HTTP API
type Server struct {
	router  *mux.Router
	handler http.Handler
}

// NewServer builds the router: request IDs, panic recovery, access logs and
// metrics on every matched route; bearer authentication on everything but
// health, metrics, pricing and the gateway webhook. Rate limits apply to
// every API route, keyed by client IP before authentication and by user
// after it.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}

	router := mux.NewRouter()
	router.Use(middleware.RequestID(logger))
	router.Use(httputil.RecoveryMiddleware)
	router.Use(httputil.LoggingMiddleware)
	if cfg.Metrics != nil {
		router.Use(observability.HTTPMetricsMiddleware(cfg.Metrics))
	}

	if cfg.Health != nil {
		router.HandleFunc("/healthz", cfg.Health.Liveness).Methods("GET")
		router.HandleFunc("/readyz", cfg.Health.Readiness).Methods("GET")
	}
	if cfg.Registry != nil {
		router.Handle("/metrics", observability.MetricsHandler(cfg.Registry)).Methods("GET")
	}

	public := router.NewRoute().Subrouter()
	if cfg.RateLimit != nil {
		public.Use(cfg.RateLimit.Handler)
	}
	if cfg.Billing != nil {
		cfg.Billing.RegisterPublicRoutes(public)
	}

	authed := router.NewRoute().Subrouter()
	authed.Use(middleware.NewAuthMiddleware(cfg.Tokens, false).Handler)
	authed.Use(middleware.RequireUser)
	if cfg.RateLimit != nil {
		authed.Use(cfg.RateLimit.Handler)
	}
	if cfg.Boards != nil {
		cfg.Boards.RegisterRoutes(authed)
	}
	if cfg.Billing != nil {
		cfg.Billing.RegisterRoutes(authed)
	}

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteNotFound(w, "route not found")
	})

	return &Server{
		router:  router,
		handler: otelhttp.NewHandler(router, "tasknest-api"),
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Router exposes the underlying router for tests and extra routes
func (s *Server) Router() *mux.Router {
	return s.router
}
