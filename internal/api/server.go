// Package api provides the HTTP surface for transaction scoring and the
// merchant risk registry.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/shrike/internal/behavior"
	"github.com/opensource-finance/shrike/internal/domain"
	"github.com/opensource-finance/shrike/internal/merchants"
	"github.com/opensource-finance/shrike/internal/pipeline"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, p *pipeline.Pipeline, store *behavior.Store, repo domain.Repository, m *merchants.Service, bus domain.EventBus, cache domain.Cache, version string) *Server {
	handler := NewHandler(p, store, repo, m, bus, cache, version)
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

	// Scoring, rate limited per client
	router.Group(func(r chi.Router) {
		r.Use(RateLimitMiddleware(cache, cfg.RateLimit))
		r.Post("/score", handler.Score)
	})

	// Retrieval
	router.Get("/verdicts/{txId}", handler.GetVerdict)
	router.Get("/transactions/{id}", handler.GetTransaction)
	router.Get("/alerts", handler.ListAlerts)
	router.Get("/profiles/{userId}", handler.GetProfile)

	// Merchant risk registry
	router.Get("/merchants", handler.ListMerchants)
	router.Get("/merchants/{id}/risk", handler.GetMerchantRisk)
	router.Put("/merchants/{id}/risk", handler.SetMerchantRisk)

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
