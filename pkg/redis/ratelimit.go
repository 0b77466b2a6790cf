package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/tierkeep/pkg/ratelimiter"
)

// tokenBucketScript refills and consumes atomically. Times are unix millis.
// Returns {remaining, reset_at}.
var tokenBucketScript = redis.NewScript(`
local capacity  = tonumber(ARGV[1])
local rate      = tonumber(ARGV[2])
local interval  = tonumber(ARGV[3])
local now       = tonumber(ARGV[4])
local requested = tonumber(ARGV[5])
local maxIntervals = math.floor(capacity / rate) + 1

local state  = redis.call("HMGET", KEYS[1], "tokens", "refill")
local tokens = tonumber(state[1])
local refill = tonumber(state[2])
if tokens == nil or refill == nil then
	tokens = capacity
	refill = now
end

local intervals = math.floor((now - refill) / interval)
if intervals > maxIntervals then
	intervals = maxIntervals
end
if intervals > 0 then
	tokens = math.min(tokens + intervals * rate, capacity)
	refill = refill + intervals * interval
	if tokens == capacity then
		refill = now
	end
end

local remaining = tokens - requested
if remaining >= 0 then
	tokens = remaining
end

redis.call("HSET", KEYS[1], "tokens", tokens, "refill", refill)
redis.call("PEXPIRE", KEYS[1], interval * (maxIntervals + 1))
return {remaining, refill + interval}
`)

// RateLimitStore keeps token buckets in Redis so every instance shares them.
type RateLimitStore struct {
	db     redis.UniversalClient
	prefix string
	now    func() time.Time
}

var _ ratelimiter.Store = (*RateLimitStore)(nil)

// NewRateLimitStore creates a store whose keys are namespaced by prefix.
func NewRateLimitStore(client redis.UniversalClient, prefix string) *RateLimitStore {
	return &RateLimitStore{db: client, prefix: prefix + "ratelimit:", now: time.Now}
}

func (s *RateLimitStore) ConsumeTokens(ctx context.Context, key string, tokens int, cfg ratelimiter.Config) (int, time.Time, error) {
	if key == "" {
		return 0, time.Time{}, ErrEmptyKey
	}

	res, err := tokenBucketScript.Run(ctx, s.db, []string{s.prefix + key},
		cfg.Capacity, cfg.RefillRate, cfg.RefillInterval.Milliseconds(), s.now().UnixMilli(), tokens,
	).Int64Slice()
	if err != nil {
		return 0, time.Time{}, errors.Join(ratelimiter.ErrStoreUnavailable, err)
	}
	if len(res) != 2 {
		return 0, time.Time{}, fmt.Errorf("%w: unexpected script reply %v", ratelimiter.ErrStoreUnavailable, res)
	}

	return int(res[0]), time.UnixMilli(res[1]), nil
}

func (s *RateLimitStore) Reset(ctx context.Context, key string) error {
	if err := s.db.Del(ctx, s.prefix+key).Err(); err != nil {
		return errors.Join(ratelimiter.ErrStoreUnavailable, err)
	}
	return nil
}
