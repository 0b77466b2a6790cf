package subscription

import (
	"fmt"
	"strings"
	"time"
)

// Tier identifies a plan in the catalog.
type Tier string

const (
	TierFree  Tier = "free"
	TierBasic Tier = "basic"
	TierPro   Tier = "pro"
)

// ParseTier converts a string into a known Tier.
func ParseTier(s string) (Tier, error) {
	switch t := Tier(strings.ToLower(strings.TrimSpace(s))); t {
	case TierFree, TierBasic, TierPro:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPlan, s)
	}
}

// IsPaid reports whether the tier requires an active entitlement source.
func (t Tier) IsPaid() bool {
	return t == TierBasic || t == TierPro
}

func (t Tier) String() string { return string(t) }

func (t Tier) rank() int {
	switch t {
	case TierBasic:
		return 1
	case TierPro:
		return 2
	default:
		return 0
	}
}

const (
	// Unlimited indicates no team limit (-1 chosen for SQL compatibility)
	Unlimited = -1
)

// Money represents a monetary amount in the smallest currency unit.
// For example, $4.99 USD would be Amount: 499, Currency: "USD".
type Money struct {
	Amount   int64  // Amount in smallest currency unit (cents for USD)
	Currency string // ISO 4217 currency code
}

// Platform is the client surface that initiated a checkout.
type Platform string

const (
	PlatformWeb     Platform = "web"
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
)

// Metadata keys attached to gateway checkouts and subscriptions.
const (
	MetaUserID     = "user_id"
	MetaWantsTrial = "wants_trial"
	MetaDeviceID   = "device_id"
	MetaTargetTier = "target_tier"
)

// Default engine timings.
const (
	DefaultSweepInterval     = 15 * time.Minute
	DefaultGracePeriod       = 48 * time.Hour
	DefaultTrialLength       = 7 * 24 * time.Hour
	DefaultReconcileCooldown = time.Minute
)

// ProviderStatus is the normalized state of an external subscription.
type ProviderStatus string

const (
	ProviderStatusActive     ProviderStatus = "active"
	ProviderStatusTrialing   ProviderStatus = "trialing"
	ProviderStatusPastDue    ProviderStatus = "past_due"
	ProviderStatusCanceled   ProviderStatus = "canceled"
	ProviderStatusIncomplete ProviderStatus = "incomplete"
	ProviderStatusExpired    ProviderStatus = "expired"
	ProviderStatusPaused     ProviderStatus = "paused"
)

// IsLive reports whether the provider is currently charging (or about to charge) for the subscription.
func (s ProviderStatus) IsLive() bool {
	return s == ProviderStatusActive || s == ProviderStatusTrialing
}
