// Package ratelimit provides per-service token bucket rate limiting for outbound API calls.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// TokenBucket is a continuously refilling bucket with capacity equal to the
// configured burst. All mutation happens inside the underlying rate.Limiter,
// which serializes refill and deduction under its own lock.
type TokenBucket struct {
	name    string
	config  Config
	limiter *rate.Limiter
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

func newTokenBucket(name string, config Config, now func() time.Time, sleep func(context.Context, time.Duration) error) *TokenBucket {
	lim := rate.NewLimiter(rate.Limit(config.PerSecond()), config.Burst)
	// rate.NewLimiter starts full; pin the refill origin to our clock
	lim.SetBurstAt(now(), config.Burst)
	return &TokenBucket{
		name:    name,
		config:  config,
		limiter: lim,
		now:     now,
		sleep:   sleep,
	}
}

// Name returns the service name the bucket throttles.
func (tb *TokenBucket) Name() string {
	return tb.name
}

// Acquire takes n tokens, waiting exactly as long as the deficit requires.
// A request larger than the burst can never be satisfied and fails immediately.
func (tb *TokenBucket) Acquire(ctx context.Context, n int) (time.Duration, error) {
	if n > tb.config.Burst {
		return 0, fmt.Errorf("rate limiter %q: requested %d tokens exceeds burst %d", tb.name, n, tb.config.Burst)
	}

	now := tb.now()
	r := tb.limiter.ReserveN(now, n)
	if !r.OK() {
		return 0, fmt.Errorf("rate limiter %q: cannot reserve %d tokens", tb.name, n)
	}

	delay := r.DelayFrom(now)
	if delay <= 0 {
		return 0, nil
	}

	if err := tb.sleep(ctx, delay); err != nil {
		// hand the tokens back so later callers are not penalized
		r.CancelAt(tb.now())
		return 0, err
	}
	return delay, nil
}

// TryAcquire takes n tokens only if they are available right now.
func (tb *TokenBucket) TryAcquire(n int) bool {
	return tb.limiter.AllowN(tb.now(), n)
}

// Available returns the current token count after refill.
func (tb *TokenBucket) Available() float64 {
	return tb.limiter.TokensAt(tb.now())
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
