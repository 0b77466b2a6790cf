// Package subscription implements the entitlement engine: which tier a user
// holds, what that tier unlocks, and how the answer is kept consistent with
// the payment gateway and the platform store.
//
// # Architecture
//
// The package is organized around a small set of collaborators:
//
//   - Catalog: the fixed set of plans (free, basic, pro) with capabilities,
//     team limits, prices and provider references
//   - Store: persistence for entitlement records and the device trial ledger
//   - Gateway: the web payment provider (Stripe or Paddle)
//   - StoreVerifier: the platform store server API (App Store)
//   - EventDeduper: remembers processed webhook event IDs
//
// Service ties them together and is the only type callers need.
//
// # Entitlement Records
//
// Every user has exactly one Record. A missing record is created lazily as a
// free record. Records are only mutated through Store.Update, which runs the
// mutation under a per-user lock, and Store.Downgrade, which resets the paid
// fields when a condition still holds at write time:
//
//	changed, err := store.Downgrade(ctx, userID, subscription.DowngradeCondition{
//		ExpiredBefore: &cutoff,
//		AutoRenew:     &autoRenew,
//	}, now)
//
// # Checkout
//
// StartCheckout cancels any live gateway subscriptions for the customer,
// re-checks trial eligibility and opens a hosted checkout. VerifyCheckout and
// the checkout webhook both commit through the same path, so a replayed
// webhook or a second verify call produces the same record.
//
// When a customer ends up with several live subscriptions, the newest wins and
// the rest are cancelled immediately.
//
// # Trials
//
// A trial is granted once per device and once per user. The ledger insert and
// the record update happen in one Store.RecordTrial call:
//
//	view, err := svc.StartTrial(ctx, userID, subscription.TierPro, deviceID)
//	if errors.Is(err, subscription.ErrDeviceTrialUsed) {
//		// device already consumed its trial
//	}
//
// # Background Work
//
// Reconcile repairs free records that still carry provider linkage. It never
// downgrades and keeps local state when the provider is unreachable.
//
// Sweep runs two passes. Non-renewing records past expiry are downgraded.
// Auto-renewing records past expiry plus the grace period are checked with the
// provider and either extended or downgraded.
//
// # Configuration
//
// Config is loaded from the environment with caarlos0/env:
//
//	var cfg subscription.Config
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
//	svc := subscription.NewService(catalog, store, gateway, subscription.WithConfig(cfg))
//
// # Error Handling
//
// Operations return sentinel errors that callers match with errors.Is.
// Provider failures are joined with ErrProviderUnavailable, ErrProviderAuth or
// ErrProviderNotFound; IsRetryable reports whether retrying may help.
package subscription
