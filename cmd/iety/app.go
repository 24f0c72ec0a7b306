package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/jonathan/iety/internal/config"
	"github.com/jonathan/iety/internal/cost"
	"github.com/jonathan/iety/internal/db"
	"github.com/jonathan/iety/internal/logging"
	"github.com/jonathan/iety/internal/metrics"
	"github.com/jonathan/iety/internal/ratelimit"
)

// app holds the shared dependencies of a command invocation.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	db       *db.DB
	limiter  *ratelimit.Registry
	tracker  *cost.Tracker
	breaker  *cost.Breaker
	shutdown func()
}

// loadConfig reads configuration and builds the logger without touching
// the database.
func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// newApp connects to the database and wires the rate limiter, cost ledger
// and budget breaker.
func newApp(ctx context.Context) (*app, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}

	database, err := db.Connect(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, err
	}

	limiter, err := ratelimit.NewRegistry(cfg.RateLimits, ratelimit.WithLogger(logger))
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to build rate limiter: %w", err)
	}

	budget := cfg.BudgetConfig()
	tracker := cost.NewTracker(database, budget.MonthlyLimit, logger)
	breaker, err := cost.NewBreaker(tracker, budget, logger)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to build budget breaker: %w", err)
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		db:      database,
		limiter: limiter,
		tracker: tracker,
		breaker: breaker,
	}
	a.shutdown = a.serveMetrics()
	return a, nil
}

// serveMetrics exposes /metrics when METRICS_ADDR is set and returns the
// function that stops it.
func (a *app) serveMetrics() func() {
	if a.cfg.MetricsAddr == "" {
		return func() {}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              a.cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	a.logger.Info("serving metrics", zap.String("addr", a.cfg.MetricsAddr))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func (a *app) Close() {
	a.shutdown()
	a.db.Close()
	_ = a.logger.Sync()
}
