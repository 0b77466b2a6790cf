package subscription

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type Mountable interface {
	Handle() http.Handler
}

// RouterOptions configures which services to mount in the subscription module.
// Each service is optional and will only be mounted if provided.
type RouterOptions struct {
	Entitlements Mountable
	Apple        Mountable
}

// Router creates the subscription module router.
//
// Example:
//
//	api := subscription.NewEntitlementService(cfg, svc, log, nil)
//	apple := subscription.NewAppleService(svc, log, nil)
//
//	r := chi.NewRouter()
//	r.Mount("/", subscription.Router(subscription.RouterOptions{
//	    Entitlements: api,
//	    Apple:        apple,
//	}))
func Router(opts RouterOptions) chi.Router {
	r := chi.NewRouter()

	if opts.Apple != nil {
		r.Mount("/subscriptions/apple", opts.Apple.Handle())
	}
	if opts.Entitlements != nil {
		r.Mount("/subscription", opts.Entitlements.Handle())
	}

	return r
}
