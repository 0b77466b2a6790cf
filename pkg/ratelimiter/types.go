package ratelimiter

import "time"

// Result contains the result of a rate limit check.
type Result struct {
	Limit     int       // bucket capacity
	Remaining int       // negative when the request was denied
	ResetAt   time.Time // next refill
}

// Allowed returns whether the request is allowed based on remaining tokens.
func (r *Result) Allowed() bool {
	return r.Remaining >= 0
}

// RetryAfter returns how long to wait before the next request.
// Returns 0 if the request was allowed.
func (r *Result) RetryAfter(now time.Time) time.Duration {
	if r.Allowed() || !r.ResetAt.After(now) {
		return 0
	}
	return r.ResetAt.Sub(now)
}

// Config defines the token bucket configuration.
type Config struct {
	Capacity       int           `env:"CAPACITY" envDefault:"10"`       // burst limit
	RefillRate     int           `env:"REFILL_RATE" envDefault:"1"`     // tokens added per interval
	RefillInterval time.Duration `env:"REFILL_INTERVAL" envDefault:"1m"` // how often tokens are added
}

// MaxIntervals is the number of refill intervals after which an idle bucket is full again.
func (c Config) MaxIntervals() int {
	return c.Capacity/c.RefillRate + 1
}
