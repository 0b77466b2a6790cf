// Package ratelimiter implements a token bucket rate limiter with pluggable
// storage and a net/http middleware.
//
// Buckets start full at Config.Capacity and regain Config.RefillRate tokens
// every Config.RefillInterval. A request that finds too few tokens is denied
// without consuming any.
//
// MemoryStore serves a single process; a shared Store (for example the Redis
// implementation in pkg/redis) is required when several instances sit behind a
// load balancer.
//
// # Usage
//
//	bucket, err := ratelimiter.NewBucket(ratelimiter.NewMemoryStore(), ratelimiter.Config{
//		Capacity:       5,
//		RefillRate:     1,
//		RefillInterval: time.Minute,
//	})
//	if err != nil {
//		return err
//	}
//	r.With(ratelimiter.Middleware(bucket, keyByIP)).Post("/start-trial", h)
//
// Store errors fail open unless WithErrorHandler is supplied.
package ratelimiter
