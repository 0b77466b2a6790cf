package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if it still carries the caller's token,
// so an expired lock taken over by another instance is never released.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker implements short-lived mutual exclusion on top of SET NX PX.
type Locker struct {
	db     redis.UniversalClient
	prefix string
}

// NewLocker creates a Locker whose keys are namespaced by prefix.
func NewLocker(client redis.UniversalClient, prefix string) *Locker {
	return &Locker{db: client, prefix: prefix}
}

// Acquire takes key for ttl. ok is false when the key is held by someone else.
// The returned release func is a no-op error-free call once the lock expired.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	if key == "" {
		return nil, false, ErrEmptyKey
	}

	fullKey := l.prefix + key
	token := uuid.NewString()

	ok, err := l.db.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, false, errors.Join(ErrLockFailed, err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.db, []string{fullKey}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return errors.Join(ErrLockFailed, err)
		}
		return nil
	}
	return release, true, nil
}
