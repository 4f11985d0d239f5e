package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/arkforge/autopilot/internal/addons"
	"github.com/arkforge/autopilot/internal/config"
	"github.com/arkforge/autopilot/internal/engine"
	"github.com/arkforge/autopilot/internal/history"
	"github.com/arkforge/autopilot/internal/metrics"
	"github.com/arkforge/autopilot/internal/rules"
)

// Server is the read-only operational surface around the engine: rule
// status, history, simulate previews and Prometheus metrics. Rule CRUD
// belongs to the surrounding application, not here.
type Server struct {
	cfg        *config.Config
	logger     *zap.Logger
	router     chi.Router
	httpServer *http.Server
	scheduler  *engine.Scheduler
	repo       rules.Repository
	hist       history.Store
	accounts   addons.Manager
	metrics    *metrics.Metrics
	startTime  time.Time
}

// NewServer wires the HTTP surface.
func NewServer(cfg *config.Config, logger *zap.Logger, scheduler *engine.Scheduler,
	repo rules.Repository, hist history.Store, accounts addons.Manager,
	m *metrics.Metrics) *Server {

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		router:    chi.NewRouter(),
		scheduler: scheduler,
		repo:      repo,
		hist:      hist,
		accounts:  accounts,
		metrics:   m,
		startTime: time.Now(),
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.loggingMiddleware)

	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", s.metrics.Handler())

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/rules", s.handleListRules)
		r.Get("/rules/{id}", s.handleGetRule)
		r.Post("/rules/{id}/simulate", s.handleSimulateRule)
		r.Post("/simulate", s.handleSimulate)
		r.Get("/history", s.handleListHistory)
	})
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving; blocks until the server stops.
func (s *Server) Start() error {
	s.logger.Info("api server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)))
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("response encode failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
