package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultDedupeTTL covers the retry window of the billing providers' webhook delivery.
const DefaultDedupeTTL = 72 * time.Hour

// Deduper remembers processed event IDs for a bounded time.
type Deduper struct {
	db     redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewDeduper creates a Deduper. A non-positive ttl falls back to DefaultDedupeTTL.
func NewDeduper(client redis.UniversalClient, prefix string, ttl time.Duration) *Deduper {
	if ttl <= 0 {
		ttl = DefaultDedupeTTL
	}
	return &Deduper{db: client, prefix: prefix, ttl: ttl}
}

// FirstSeen reports true exactly once per id within the TTL.
func (d *Deduper) FirstSeen(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, ErrEmptyKey
	}
	ok, err := d.db.SetNX(ctx, d.prefix+id, 1, d.ttl).Result()
	if err != nil {
		return false, errors.Join(ErrDedupeFailed, err)
	}
	return ok, nil
}

// Forget removes id so the next delivery is processed again.
func (d *Deduper) Forget(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if err := d.db.Del(ctx, d.prefix+id).Err(); err != nil {
		return errors.Join(ErrDedupeFailed, err)
	}
	return nil
}
