package redis_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/tierkeep/pkg/ratelimiter"
	"github.com/dmitrymomot/tierkeep/pkg/redis"
)

func TestConnectValidation(t *testing.T) {
	t.Parallel()

	t.Run("empty url", func(t *testing.T) {
		t.Parallel()
		_, err := redis.Connect(context.Background(), redis.Config{})
		assert.ErrorIs(t, err, redis.ErrEmptyConnectionURL)
	})

	t.Run("malformed url", func(t *testing.T) {
		t.Parallel()
		_, err := redis.Connect(context.Background(), redis.Config{ConnectionURL: "http://nope"})
		assert.ErrorIs(t, err, redis.ErrFailedToParseRedisConnString)
	})
}

// Integration tests run against a live server when TEST_REDIS_URL is set.
func connectTestRedis(t *testing.T) redis.Config {
	t.Helper()
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	return redis.Config{
		ConnectionURL:  url,
		RetryAttempts:  1,
		RetryInterval:  time.Second,
		ConnectTimeout: 5 * time.Second,
	}
}

func TestDeduperIntegration(t *testing.T) {
	cfg := connectTestRedis(t)
	ctx := context.Background()

	client, err := redis.Connect(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	d := redis.NewDeduper(client, "test:"+uuid.NewString()+":", time.Minute)
	id := "evt_" + uuid.NewString()

	first, err := d.FirstSeen(ctx, id)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := d.FirstSeen(ctx, id)
	require.NoError(t, err)
	assert.False(t, again)

	require.NoError(t, d.Forget(ctx, id))
	afterForget, err := d.FirstSeen(ctx, id)
	require.NoError(t, err)
	assert.True(t, afterForget)

	_, err = d.FirstSeen(ctx, "")
	assert.ErrorIs(t, err, redis.ErrEmptyKey)
	require.NoError(t, redis.Healthcheck(client)(ctx))
}

func TestLockerIntegration(t *testing.T) {
	cfg := connectTestRedis(t)
	ctx := context.Background()

	client, err := redis.Connect(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	l := redis.NewLocker(client, "test:"+uuid.NewString()+":")

	release, ok, err := l.Acquire(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.Acquire(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second holder must be rejected")

	require.NoError(t, release(ctx))

	release, ok, err = l.Acquire(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, release(ctx))
}

func TestRateLimitStoreIntegration(t *testing.T) {
	cfg := connectTestRedis(t)
	ctx := context.Background()

	client, err := redis.Connect(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store := redis.NewRateLimitStore(client, "test:"+uuid.NewString()+":")
	b, err := ratelimiter.NewBucket(store, ratelimiter.Config{
		Capacity:       2,
		RefillRate:     1,
		RefillInterval: time.Hour,
	})
	require.NoError(t, err)

	for want := 1; want >= 0; want-- {
		res, err := b.Allow(ctx, "203.0.113.7")
		require.NoError(t, err)
		assert.True(t, res.Allowed())
		assert.Equal(t, want, res.Remaining)
	}

	res, err := b.Allow(ctx, "203.0.113.7")
	require.NoError(t, err)
	assert.False(t, res.Allowed())
	assert.True(t, res.ResetAt.After(time.Now()))

	require.NoError(t, b.Reset(ctx, "203.0.113.7"))
	res, err = b.Allow(ctx, "203.0.113.7")
	require.NoError(t, err)
	assert.True(t, res.Allowed())

	_, _, err = store.ConsumeTokens(ctx, "", 1, ratelimiter.Config{Capacity: 1, RefillRate: 1, RefillInterval: time.Second})
	assert.ErrorIs(t, err, redis.ErrEmptyKey)
}
