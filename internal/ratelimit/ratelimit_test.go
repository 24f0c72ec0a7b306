package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	slept   []time.Duration
	advance bool
}

func newFakeClock(advance bool) *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), advance: advance}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slept = append(c.slept, d)
	if c.advance {
		c.now = c.now.Add(d)
	}
	return nil
}

func (c *fakeClock) Add(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestRegistry(t *testing.T, clock *fakeClock, configs map[string]Config) *Registry {
	t.Helper()
	r, err := NewRegistry(configs, WithClock(clock.Now, clock.Sleep))
	require.NoError(t, err)
	return r
}

func TestTryAcquire_BurstThenEmpty(t *testing.T) {
	clock := newFakeClock(false)
	r := newTestRegistry(t, clock, nil)

	for i := 0; i < 10; i++ {
		ok, err := r.TryAcquire(ServiceSEC, 1)
		require.NoError(t, err)
		assert.True(t, ok, "request %d should be admitted", i+1)
	}

	ok, err := r.TryAcquire(ServiceSEC, 1)
	require.NoError(t, err)
	assert.False(t, ok, "11th request should be rejected")

	// 10/s refills one token every 100ms
	clock.Add(100 * time.Millisecond)
	ok, _ = r.TryAcquire(ServiceSEC, 1)
	assert.True(t, ok)
	ok, _ = r.TryAcquire(ServiceSEC, 1)
	assert.False(t, ok)
}

func TestTryAcquire_FailureLeavesStateUntouched(t *testing.T) {
	clock := newFakeClock(false)
	r := newTestRegistry(t, clock, map[string]Config{
		"svc": {Rate: 1, Period: time.Second, Burst: 3},
	})

	ok, _ := r.TryAcquire("svc", 2)
	require.True(t, ok)

	ok, _ = r.TryAcquire("svc", 2)
	assert.False(t, ok)

	bucket, err := r.Get("svc")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, bucket.Available(), 1e-9)
}

func TestAcquire_WaitsExactDeficit(t *testing.T) {
	clock := newFakeClock(true)
	r := newTestRegistry(t, clock, map[string]Config{
		"svc": {Rate: 2, Period: time.Second, Burst: 1},
	})
	ctx := context.Background()

	require.NoError(t, r.Acquire(ctx, "svc", 1))
	assert.Empty(t, clock.slept, "first acquire should not wait")

	require.NoError(t, r.Acquire(ctx, "svc", 1))
	require.Len(t, clock.slept, 1)
	assert.Equal(t, 500*time.Millisecond, clock.slept[0])
}

func TestAcquire_HourlyRate(t *testing.T) {
	clock := newFakeClock(true)
	r := newTestRegistry(t, clock, nil)
	ctx := context.Background()

	bucket, err := r.Get(ServiceCourtListener)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		_, err := bucket.Acquire(ctx, 1)
		require.NoError(t, err)
	}
	assert.Empty(t, clock.slept)

	waited, err := bucket.Acquire(ctx, 1)
	require.NoError(t, err)
	// deficit of one token at 5000/3600s
	assert.InDelta(t, 0.72, waited.Seconds(), 1e-6)
}

func TestAcquire_MoreThanBurst(t *testing.T) {
	clock := newFakeClock(true)
	r := newTestRegistry(t, clock, nil)

	err := r.Acquire(context.Background(), ServiceGDELT, 11)
	assert.Error(t, err)
}

func TestAcquire_CancelReturnsTokens(t *testing.T) {
	clock := newFakeClock(false)
	r, err := NewRegistry(map[string]Config{
		"svc": {Rate: 1, Period: time.Second, Burst: 1},
	}, WithClock(clock.Now, func(context.Context, time.Duration) error {
		return context.Canceled
	}))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, r.Acquire(ctx, "svc", 1))

	err = r.Acquire(ctx, "svc", 1)
	assert.True(t, errors.Is(err, context.Canceled))

	bucket, _ := r.Get("svc")
	assert.InDelta(t, 0.0, bucket.Available(), 1e-9)
}

func TestRegistry_UnknownName(t *testing.T) {
	r := newTestRegistry(t, newFakeClock(false), nil)

	_, err := r.Get("secc")
	assert.ErrorIs(t, err, ErrUnknownLimiter)

	err = r.Acquire(context.Background(), "nope", 1)
	assert.ErrorIs(t, err, ErrUnknownLimiter)

	_, err = r.TryAcquire("nope", 1)
	assert.ErrorIs(t, err, ErrUnknownLimiter)
}

func TestRegistry_InvalidConfig(t *testing.T) {
	_, err := NewRegistry(map[string]Config{
		"bad": {Rate: 0, Period: time.Second, Burst: 1},
	})
	assert.Error(t, err)

	r := newTestRegistry(t, newFakeClock(false), nil)
	assert.Error(t, r.Register("bad", Config{Rate: 1, Period: 0, Burst: 1}))
	assert.Error(t, r.Register("bad", Config{Rate: 1, Period: time.Second, Burst: 0}))
}

func TestRegistry_RegisterReplacesBucket(t *testing.T) {
	clock := newFakeClock(false)
	r := newTestRegistry(t, clock, nil)

	for i := 0; i < 10; i++ {
		ok, _ := r.TryAcquire(ServiceSEC, 1)
		require.True(t, ok)
	}

	require.NoError(t, r.Register(ServiceSEC, Config{Rate: 1, Period: time.Second, Burst: 2}))

	ok, _ := r.TryAcquire(ServiceSEC, 2)
	assert.True(t, ok, "re-registered bucket should start full")
}

func TestRegistry_Stats(t *testing.T) {
	clock := newFakeClock(false)
	r := newTestRegistry(t, clock, nil)

	assert.Empty(t, r.Stats(), "buckets are created lazily")

	_, _ = r.TryAcquire(ServiceVoyage, 40)
	_, _ = r.TryAcquire(ServiceGDELT, 1)

	stats := r.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, ServiceGDELT, stats[0].Name)
	assert.InDelta(t, 9.0, stats[0].Available, 1e-9)
	assert.Equal(t, ServiceVoyage, stats[1].Name)
	assert.InDelta(t, 60.0, stats[1].Available, 1e-9)
	assert.Equal(t, 100, stats[1].Burst)
}

func TestRegistry_Wrap(t *testing.T) {
	r := newTestRegistry(t, newFakeClock(true), nil)

	called := false
	err := r.Wrap(context.Background(), ServiceSEC, func(context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)

	called = false
	err = r.Wrap(context.Background(), "missing", func(context.Context) error {
		called = true
		return nil
	})
	assert.Error(t, err)
	assert.False(t, called)
}

func TestTryAcquire_Concurrent(t *testing.T) {
	clock := newFakeClock(false)
	r := newTestRegistry(t, clock, map[string]Config{
		"svc": {Rate: 100, Period: time.Minute, Burst: 100},
	})

	var wg sync.WaitGroup
	var allowed int64
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := r.TryAcquire("svc", 1); ok {
				atomic.AddInt64(&allowed, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(100), allowed)
}

func TestAcquire_ConcurrentImmediateAdmissions(t *testing.T) {
	clock := newFakeClock(false)
	r := newTestRegistry(t, clock, map[string]Config{
		"svc": {Rate: 10, Period: time.Second, Burst: 10},
	})
	bucket, err := r.Get("svc")
	require.NoError(t, err)

	var wg sync.WaitGroup
	var immediate int64
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			waited, err := bucket.Acquire(context.Background(), 1)
			if err == nil && waited == 0 {
				atomic.AddInt64(&immediate, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(10), immediate)
}
