package ratelimiter_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/tierkeep/pkg/ratelimiter"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var testConfig = ratelimiter.Config{
	Capacity:       3,
	RefillRate:     1,
	RefillInterval: time.Minute,
}

func TestNewBucketValidation(t *testing.T) {
	t.Parallel()

	store := ratelimiter.NewMemoryStore()

	tests := []struct {
		name   string
		store  ratelimiter.Store
		config ratelimiter.Config
	}{
		{"nil store", nil, testConfig},
		{"zero capacity", store, ratelimiter.Config{RefillRate: 1, RefillInterval: time.Second}},
		{"zero refill rate", store, ratelimiter.Config{Capacity: 1, RefillInterval: time.Second}},
		{"zero interval", store, ratelimiter.Config{Capacity: 1, RefillRate: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ratelimiter.NewBucket(tt.store, tt.config)
			assert.ErrorIs(t, err, ratelimiter.ErrInvalidConfig)
		})
	}
}

func TestBucketAllow(t *testing.T) {
	t.Parallel()

	t.Run("denies after capacity without consuming", func(t *testing.T) {
		t.Parallel()

		clock := newTestClock()
		b, err := ratelimiter.NewBucket(ratelimiter.NewMemoryStore(ratelimiter.WithClock(clock.Now)), testConfig)
		require.NoError(t, err)
		ctx := context.Background()

		for i := 2; i >= 0; i-- {
			res, err := b.Allow(ctx, "k")
			require.NoError(t, err)
			assert.True(t, res.Allowed())
			assert.Equal(t, i, res.Remaining)
			assert.Equal(t, 3, res.Limit)
		}

		res, err := b.Allow(ctx, "k")
		require.NoError(t, err)
		assert.False(t, res.Allowed())
		assert.Equal(t, -1, res.Remaining)
		assert.Equal(t, time.Minute, res.RetryAfter(clock.Now()))

		// A denied call leaves the bucket at zero, so one refill is enough.
		clock.Advance(time.Minute)
		res, err = b.Allow(ctx, "k")
		require.NoError(t, err)
		assert.True(t, res.Allowed())
		assert.Equal(t, 0, res.Remaining)
	})

	t.Run("keys are independent", func(t *testing.T) {
		t.Parallel()

		b, err := ratelimiter.NewBucket(ratelimiter.NewMemoryStore(), ratelimiter.Config{
			Capacity: 1, RefillRate: 1, RefillInterval: time.Hour,
		})
		require.NoError(t, err)
		ctx := context.Background()

		res, err := b.Allow(ctx, "a")
		require.NoError(t, err)
		assert.True(t, res.Allowed())

		res, err = b.Allow(ctx, "b")
		require.NoError(t, err)
		assert.True(t, res.Allowed())

		res, err = b.Allow(ctx, "a")
		require.NoError(t, err)
		assert.False(t, res.Allowed())
	})

	t.Run("refill never exceeds capacity", func(t *testing.T) {
		t.Parallel()

		clock := newTestClock()
		b, err := ratelimiter.NewBucket(ratelimiter.NewMemoryStore(ratelimiter.WithClock(clock.Now)), testConfig)
		require.NoError(t, err)
		ctx := context.Background()

		_, err = b.Allow(ctx, "k")
		require.NoError(t, err)

		clock.Advance(24 * time.Hour)
		res, err := b.Allow(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, 2, res.Remaining)
	})

	t.Run("reset restores capacity", func(t *testing.T) {
		t.Parallel()

		b, err := ratelimiter.NewBucket(ratelimiter.NewMemoryStore(), testConfig)
		require.NoError(t, err)
		ctx := context.Background()

		_, err = b.AllowN(ctx, "k", 3)
		require.NoError(t, err)
		require.NoError(t, b.Reset(ctx, "k"))

		res, err := b.Allow(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, 2, res.Remaining)
	})

	t.Run("invalid token counts", func(t *testing.T) {
		t.Parallel()

		b, err := ratelimiter.NewBucket(ratelimiter.NewMemoryStore(), testConfig)
		require.NoError(t, err)

		_, err = b.AllowN(context.Background(), "k", 0)
		assert.ErrorIs(t, err, ratelimiter.ErrInvalidTokenCount)

		_, err = b.AllowN(context.Background(), "k", 4)
		assert.ErrorIs(t, err, ratelimiter.ErrInvalidTokenCount)
	})

	t.Run("concurrent callers never overdraw", func(t *testing.T) {
		t.Parallel()

		b, err := ratelimiter.NewBucket(ratelimiter.NewMemoryStore(), ratelimiter.Config{
			Capacity: 10, RefillRate: 1, RefillInterval: time.Hour,
		})
		require.NoError(t, err)

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			allowed int
		)
		for range 50 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := b.Allow(context.Background(), "shared")
				if err == nil && res.Allowed() {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 10, allowed)
	})
}

func TestMemoryStorePrune(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	store := ratelimiter.NewMemoryStore(
		ratelimiter.WithClock(clock.Now),
		ratelimiter.WithStaleAfter(10*time.Minute),
	)
	ctx := context.Background()

	_, _, err := store.ConsumeTokens(ctx, "old", 1, testConfig)
	require.NoError(t, err)
	clock.Advance(5 * time.Minute)
	_, _, err = store.ConsumeTokens(ctx, "fresh", 1, testConfig)
	require.NoError(t, err)

	clock.Advance(6 * time.Minute)
	assert.Equal(t, 1, store.Prune())

	// fresh survived and refilled to capacity before this consume
	remaining, _, err := store.ConsumeTokens(ctx, "fresh", 1, testConfig)
	require.NoError(t, err)
	assert.Equal(t, 2, remaining)
}
