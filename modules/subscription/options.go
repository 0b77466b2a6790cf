package subscription

import (
	"net/http"
	"time"

	"github.com/dmitrymomot/tierkeep/handler"
)

// Option configures the HTTP services of this module.
type Option func(*options)

type options struct {
	limiter func(http.Handler) http.Handler
}

// WithLimiter guards trial, checkout and purchase routes with mw.
func WithLimiter(mw func(http.Handler) http.Handler) Option {
	return func(o *options) {
		if mw != nil {
			o.limiter = mw
		}
	}
}

func applyOptions(opts []Option) options {
	o := options{
		limiter: func(next http.Handler) http.Handler { return next },
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// RenderRateLimited writes the RATE_LIMITED error envelope.
// Its signature matches ratelimiter.WithDeniedHandler.
func RenderRateLimited(w http.ResponseWriter, r *http.Request, _ time.Duration) {
	_ = handler.JSONError(ErrRateLimited).Render(w, r)
}
