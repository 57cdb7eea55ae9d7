package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/executor"
	"github.com/opensource-finance/kestrel/internal/registry"
	"github.com/opensource-finance/kestrel/internal/routing"
	"github.com/opensource-finance/kestrel/internal/stats"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, reg *registry.Registry, routerSvc *routing.Service, exec *executor.Executor, statsSvc *stats.Service, filter *routing.Filter, version string) *Server {
	handler := NewHandler(repo, cache, bus, reg, routerSvc, exec, statsSvc, filter, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// Intent intake
	router.Post("/intents", handler.SubmitIntent)
	router.Get("/intents/{id}", handler.GetIntent)

	// Compliance intake
	router.Post("/compliance", handler.RecordCompliance)
	router.Get("/compliance/{id}", handler.GetCompliance)

	// Routing decisions
	router.Post("/routing-decisions", handler.Route)
	router.Get("/routing-decisions/{id}", handler.GetDecision)

	// Execution
	router.Post("/executions", handler.Execute)

	// Rail management
	router.Get("/rails", handler.ListRails)
	router.Post("/rails", handler.CreateRail)
	router.Post("/rails/reset-limits", handler.ResetLimits)
	router.Get("/rails/{name}", handler.GetRail)
	router.Patch("/rails/{name}/limit", handler.UpdateRailLimit)
	router.Get("/rails/{name}/stats", handler.GetRailStats)

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
