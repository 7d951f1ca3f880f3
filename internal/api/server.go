package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/insurelab/coverage-parser/internal/applicability"
	"github.com/insurelab/coverage-parser/internal/calculator"
	"github.com/insurelab/coverage-parser/internal/domain"
)

// Deps are the components the API serves.
type Deps struct {
	Parser     Parser
	Calculator *calculator.Calculator
	Checker    *applicability.Checker
	Repository domain.Repository
	Cache      domain.Cache
	Bus        domain.EventBus

	// Metrics is mounted at /metrics when set.
	Metrics http.Handler

	Version string
	Now     func() time.Time
}

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, deps Deps) *Server {
	handler := NewHandler(deps)
	router := chi.NewRouter()

	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	// No tenant required
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	if deps.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	router.Group(func(r chi.Router) {
		r.Use(TenantMiddleware)

		r.Post("/parse", handler.Parse)
		r.Post("/parse/batch", handler.ParseBatch)
		r.Post("/parse/async", handler.ParseAsync)
		r.Post("/calculate", handler.Calculate)

		r.Get("/records", handler.ListRecords)
		r.Get("/records/{id}", handler.GetRecord)
	})

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
