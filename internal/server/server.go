// Package server provides a read-only HTTP API over pipeline status, the
// cost ledger, search and entity lookup.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/jonathan/iety/internal/cost"
	"github.com/jonathan/iety/internal/entity"
	"github.com/jonathan/iety/internal/metrics"
	"github.com/jonathan/iety/internal/pipeline"
	"github.com/jonathan/iety/internal/search"
)

// SyncStateLister lists per-pipeline sync state.
type SyncStateLister interface {
	ListSyncStates(ctx context.Context) ([]pipeline.SyncState, error)
}

// BudgetReporter reports the budget breaker status.
type BudgetReporter interface {
	Status(ctx context.Context) (*cost.Status, error)
}

// CostReporter aggregates the cost ledger.
type CostReporter interface {
	MonthlySummary(ctx context.Context, month time.Time) (*cost.MonthlySummary, error)
	DailyCosts(ctx context.Context, days int) ([]cost.DailyCost, error)
}

// Searcher runs document searches.
type Searcher interface {
	Search(ctx context.Context, req search.Request) (*search.Response, error)
}

// EntityFinder looks up canonical entities.
type EntityFinder interface {
	FindMatches(ctx context.Context, name string, entityType entity.Type, limit int) ([]entity.Match, error)
	FindByIdentifier(ctx context.Context, identifierType, value string) (*entity.Entity, error)
}

// Config holds server configuration
type Config struct {
	Addr       string
	SyncStates SyncStateLister
	Budget     BudgetReporter
	Costs      CostReporter
	Search     Searcher
	Entities   EntityFinder
	Logger     *zap.Logger
}

// Server represents the HTTP server
type Server struct {
	httpServer *http.Server
	syncStates SyncStateLister
	budget     BudgetReporter
	costs      CostReporter
	search     Searcher
	entities   EntityFinder
	logger     *zap.Logger
	now        func() time.Time
}

// New creates a new server instance
func New(cfg Config) (*Server, error) {
	switch {
	case cfg.SyncStates == nil:
		return nil, fmt.Errorf("sync state lister is required")
	case cfg.Budget == nil:
		return nil, fmt.Errorf("budget reporter is required")
	case cfg.Costs == nil:
		return nil, fmt.Errorf("cost reporter is required")
	case cfg.Search == nil:
		return nil, fmt.Errorf("searcher is required")
	case cfg.Entities == nil:
		return nil, fmt.Errorf("entity finder is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		syncStates: cfg.SyncStates,
		budget:     cfg.Budget,
		costs:      cfg.Costs,
		search:     cfg.Search,
		entities:   cfg.Entities,
		logger:     logger.Named("server"),
		now:        time.Now,
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second, // hybrid search waits on the embedding provider
		IdleTimeout:       60 * time.Second,
	}
	return s, nil
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /cost", s.handleCost)
	mux.HandleFunc("GET /search", s.handleSearch)
	mux.HandleFunc("GET /entities/match", s.handleEntityMatch)
	mux.HandleFunc("GET /entities/by-identifier", s.handleEntityByIdentifier)
	mux.Handle("GET /metrics", metrics.Handler())
	return s.withLogging(s.withCORS(mux))
}

// Start listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// withCORS adds CORS headers
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response code for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// withLogging adds request logging
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("failed to encode JSON response", zap.Error(err))
	}
}

// errorResponse writes an error JSON response
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}

// failure maps err to a status code, logging server-side failures.
func (s *Server) failure(w http.ResponseWriter, r *http.Request, err error) {
	status := HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	s.errorResponse(w, status, err.Error())
}
