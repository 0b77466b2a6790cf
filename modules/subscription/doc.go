// Package subscription exposes the entitlement engine over HTTP.
//
// Two services are mounted by Router:
//
//   - EntitlementService under /subscription: plan catalog, entitlement reads,
//     internal tier assignment, cancellation, trials, gateway checkout and the
//     gateway webhook endpoint.
//   - AppleService under /subscriptions/apple: platform store purchase
//     verification and restore.
//
// Engine errors are translated to stable HTTP error codes (for example
// DEVICE_TRIAL_USED or MANAGED_BY_APP_STORE) before rendering.
//
// Internal tier assignment accepts paid tiers only when the request carries a
// valid HMAC signature made with Config.InternalSecret; see SignInternalRequest.
package subscription
