// Package redis connects to Redis and provides the two coordination
// primitives the service needs across instances.
//
//   - Connect opens a go-redis client with retry and a bounded timeout.
//   - Deduper remembers processed webhook event IDs (SET NX with a TTL) and
//     satisfies subscription.EventDeduper.
//   - Locker hands out short-lived token-guarded locks and satisfies
//     scheduler.Locker, so the downgrade sweep runs on one instance at a time.
//   - Healthcheck plugs the client into readiness probes.
//
// Configuration is read from the environment through Config:
//
//	cfg, err := config.Load[redis.Config]()
//	client, err := redis.Connect(ctx, cfg)
//	defer client.Close()
//
//	deduper := redis.NewDeduper(client, cfg.KeyPrefix+"webhook:", cfg.DedupeTTL)
//	locker := redis.NewLocker(client, cfg.KeyPrefix+"lock:")
//
// Errors are sentinels joined with the underlying go-redis error, so both
// errors.Is(err, redis.ErrRedisNotReady) and driver-level checks keep working.
package redis
