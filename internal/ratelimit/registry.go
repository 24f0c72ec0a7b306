package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jonathan/iety/internal/metrics"
)

// ErrUnknownLimiter is returned for a service name with no configuration.
var ErrUnknownLimiter = errors.New("unknown rate limiter")

// Registry lazily creates one TokenBucket per configured service name.
// It is constructed explicitly and passed to every component that makes
// outbound calls; there is no process-wide instance.
type Registry struct {
	mu      sync.RWMutex
	configs map[string]Config
	buckets map[string]*TokenBucket
	logger  *zap.Logger
	now     func() time.Time
	sleep   func(context.Context, time.Duration) error
}

// Option customizes a Registry.
type Option func(*Registry)

// WithClock overrides the time source and the wait function. Tests use it to
// observe exact wait durations without sleeping.
func WithClock(now func() time.Time, sleep func(context.Context, time.Duration) error) Option {
	return func(r *Registry) {
		r.now = now
		r.sleep = sleep
	}
}

// WithLogger sets the logger used for wait diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry creates a registry from a static configuration table.
// A nil table means DefaultConfigs.
func NewRegistry(configs map[string]Config, opts ...Option) (*Registry, error) {
	if configs == nil {
		configs = DefaultConfigs()
	}

	r := &Registry{
		configs: make(map[string]Config, len(configs)),
		buckets: make(map[string]*TokenBucket),
		logger:  zap.NewNop(),
		now:     time.Now,
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}

	for name, cfg := range configs {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid rate limit config for %q: %w", name, err)
		}
		r.configs[name] = cfg
	}
	return r, nil
}

// Register adds or replaces the configuration for a service. An existing
// bucket for that name is discarded so the new limits apply immediately.
func (r *Registry) Register(name string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid rate limit config for %q: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[name] = cfg
	delete(r.buckets, name)
	return nil
}

// Get returns the bucket for a service, creating it on first use.
func (r *Registry) Get(name string) (*TokenBucket, error) {
	r.mu.RLock()
	bucket, ok := r.buckets[name]
	r.mu.RUnlock()
	if ok {
		return bucket, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if bucket, ok := r.buckets[name]; ok {
		return bucket, nil
	}

	cfg, ok := r.configs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLimiter, name)
	}

	bucket = newTokenBucket(name, cfg, r.now, r.sleep)
	r.buckets[name] = bucket
	return bucket, nil
}

// Acquire blocks until n tokens are available for the service.
func (r *Registry) Acquire(ctx context.Context, name string, n int) error {
	bucket, err := r.Get(name)
	if err != nil {
		return err
	}

	waited, err := bucket.Acquire(ctx, n)
	if err != nil {
		return err
	}
	metrics.RateLimitWaitSeconds.WithLabelValues(name).Observe(waited.Seconds())
	if waited > 0 {
		r.logger.Debug("rate limited",
			zap.String("service", name),
			zap.Duration("waited", waited),
		)
	}
	return nil
}

// TryAcquire takes n tokens without waiting and reports whether it succeeded.
func (r *Registry) TryAcquire(name string, n int) (bool, error) {
	bucket, err := r.Get(name)
	if err != nil {
		return false, err
	}

	ok := bucket.TryAcquire(n)
	if !ok {
		metrics.RateLimitRejectionsTotal.WithLabelValues(name).Inc()
	}
	return ok, nil
}

// Wrap acquires one token for the service and then runs fn.
func (r *Registry) Wrap(ctx context.Context, name string, fn func(context.Context) error) error {
	if err := r.Acquire(ctx, name, 1); err != nil {
		return err
	}
	return fn(ctx)
}

// BucketStats is a point-in-time view of one bucket.
type BucketStats struct {
	Name      string
	Available float64
	Rate      float64
	Period    time.Duration
	Burst     int
}

// Stats reports every bucket created so far, sorted by name.
func (r *Registry) Stats() []BucketStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make([]BucketStats, 0, len(r.buckets))
	for name, bucket := range r.buckets {
		stats = append(stats, BucketStats{
			Name:      name,
			Available: bucket.Available(),
			Rate:      bucket.config.Rate,
			Period:    bucket.config.Period,
			Burst:     bucket.config.Burst,
		})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}
