// Package handler provides type-safe HTTP request handling.
//
// A HandlerFunc receives a bound request struct and returns a Response.
// Wrap turns it into an http.HandlerFunc, running the configured binders
// first and routing binding or render failures to an ErrorHandler:
//
//	type VerifyCheckoutRequest struct {
//		CheckoutRef string `json:"checkoutRef"`
//		UserID      string `json:"userId"`
//	}
//
//	r.Post("/subscription/verify-checkout-session", handler.Wrap(verify,
//		handler.WithBinders[handler.Context, VerifyCheckoutRequest](binder.JSON()),
//		handler.WithErrorHandler[handler.Context, VerifyCheckoutRequest](handler.NewErrorHandler(log)),
//	))
//
// # Responses
//
// JSON renders the envelope {"data": ..., "meta": ..., "error": ...}.
// JSONError maps an error to a status code and an ErrorDetail:
//
//   - HTTPError values keep their status and code.
//   - validator.ValidationErrors become 422 with per-field details.
//   - binder errors become 400 (or 415 for content-type problems).
//   - Anything else is a generic 500 whose message does not leak internals.
package handler
