package ratelimiter

import (
	"hash/fnv"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// maxKeyLength bounds storage keys; longer composites are hashed.
const maxKeyLength = 64

// KeyFunc extracts a rate limit key from the request.
// An empty key skips limiting for that request.
type KeyFunc func(r *http.Request) string

// Composite combines multiple key functions into one.
// Long keys are hashed using FNV-1a.
func Composite(keyFuncs ...KeyFunc) KeyFunc {
	return func(r *http.Request) string {
		parts := make([]string, 0, len(keyFuncs))
		for _, fn := range keyFuncs {
			if key := fn(r); key != "" {
				parts = append(parts, key)
			}
		}

		switch {
		case len(parts) == 0:
			return ""
		case len(parts) == 1 && len(parts[0]) <= maxKeyLength:
			return parts[0]
		}

		combined := strings.Join(parts, ":")
		if len(combined) > maxKeyLength {
			h := fnv.New64a()
			h.Write([]byte(combined))
			return strconv.FormatUint(h.Sum64(), 36)
		}
		return combined
	}
}

// Static returns a KeyFunc that always yields key. Useful to scope a limiter to a route group.
func Static(key string) KeyFunc {
	return func(*http.Request) string { return key }
}

type middlewareConfig struct {
	onDenied func(w http.ResponseWriter, r *http.Request, retryAfter time.Duration)
	onError  func(w http.ResponseWriter, r *http.Request, err error)
	now      func() time.Time
}

// MiddlewareOption configures Middleware.
type MiddlewareOption func(*middlewareConfig)

// WithDeniedHandler renders the response for rejected requests.
func WithDeniedHandler(fn func(w http.ResponseWriter, r *http.Request, retryAfter time.Duration)) MiddlewareOption {
	return func(c *middlewareConfig) {
		if fn != nil {
			c.onDenied = fn
		}
	}
}

// WithErrorHandler handles store failures. The default fails open and serves the request.
func WithErrorHandler(fn func(w http.ResponseWriter, r *http.Request, err error)) MiddlewareOption {
	return func(c *middlewareConfig) {
		c.onError = fn
	}
}

// Middleware creates an HTTP middleware for rate limiting.
func Middleware(b *Bucket, keyFunc KeyFunc, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	cfg := &middlewareConfig{
		onDenied: func(w http.ResponseWriter, _ *http.Request, _ time.Duration) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			result, err := b.Allow(r.Context(), key)
			if err != nil {
				if cfg.onError != nil {
					cfg.onError(w, r, err)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(max(0, result.Remaining)))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

			if !result.Allowed() {
				retryAfter := result.RetryAfter(cfg.now())
				if secs := int(retryAfter.Round(time.Second).Seconds()); secs > 0 {
					w.Header().Set("Retry-After", strconv.Itoa(secs))
				}
				cfg.onDenied(w, r, retryAfter)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
