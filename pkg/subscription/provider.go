package subscription

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Gateway abstracts the recurring-billing provider (Stripe, Paddle).
// Implementations classify failures into ErrProviderUnavailable,
// ErrProviderAuth and ErrProviderNotFound.
type Gateway interface {
	// Name identifies the provider in logs and metrics.
	Name() string

	// EnsureCustomer returns a customer reference for userID, reusing existingRef when set.
	EnsureCustomer(ctx context.Context, userID uuid.UUID, existingRef string) (string, error)

	// ListSubscriptions returns every subscription the provider knows for the customer.
	ListSubscriptions(ctx context.Context, customerRef string) ([]GatewaySubscription, error)

	// GetSubscription returns ErrProviderNotFound for unknown subscriptions.
	GetSubscription(ctx context.Context, subscriptionRef string) (*GatewaySubscription, error)

	// CancelSubscription cancels immediately, or at period end when atPeriodEnd is set.
	CancelSubscription(ctx context.Context, subscriptionRef string, atPeriodEnd bool) error

	// CreateCheckout opens a hosted checkout.
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)

	// GetCheckout re-fetches a checkout together with its subscription.
	GetCheckout(ctx context.Context, checkoutRef string) (*CheckoutSession, error)

	// ParseWebhook verifies the signature and normalizes the payload.
	// Returns ErrWebhookVerificationFailed before looking at the payload if the signature is invalid.
	ParseWebhook(ctx context.Context, payload []byte, signature string) (*GatewayEvent, error)
}

// GatewaySubscription is the normalized view of a provider subscription.
type GatewaySubscription struct {
	ID                string
	CustomerRef       string
	Status            ProviderStatus
	PriceRef          string
	Amount            Money
	CreatedAt         time.Time
	CurrentPeriodEnd  time.Time
	TrialEnd          *time.Time
	CancelAtPeriodEnd bool
	CanceledAt        *time.Time
	Metadata          map[string]string
}

// IsTrialing reports whether the provider reports a running trial.
func (s GatewaySubscription) IsTrialing() bool {
	return s.Status == ProviderStatusTrialing && s.TrialEnd != nil
}

// EntitlementEnd returns the trial end while trialing, otherwise the current period end.
func (s GatewaySubscription) EntitlementEnd() time.Time {
	if s.IsTrialing() {
		return *s.TrialEnd
	}
	return s.CurrentPeriodEnd
}

// Evidence returns the inputs for tier resolution.
func (s GatewaySubscription) Evidence() TierEvidence {
	return TierEvidence{PriceRef: s.PriceRef, Metadata: s.Metadata, Amount: s.Amount}
}

// CheckoutRequest contains data needed to open a hosted checkout.
type CheckoutRequest struct {
	CustomerRef    string
	PriceRef       string
	SuccessURL     string
	CancelURL      string
	TrialDays      int // zero means no trial
	Metadata       map[string]string
	IdempotencyKey string
}

// CheckoutStatus is the normalized state of a hosted checkout.
type CheckoutStatus string

const (
	CheckoutOpen     CheckoutStatus = "open"
	CheckoutComplete CheckoutStatus = "complete"
	CheckoutExpired  CheckoutStatus = "expired"
	CheckoutFailed   CheckoutStatus = "failed"
)

// CheckoutSession is the normalized view of a hosted checkout.
type CheckoutSession struct {
	ID           string
	URL          string
	Status       CheckoutStatus
	CustomerRef  string
	Metadata     map[string]string
	Subscription *GatewaySubscription // nil until the provider creates it
}

// EventType represents the normalized gateway event type.
type EventType string

const (
	EventCheckoutCompleted   EventType = "checkout_completed"
	EventSubscriptionUpdated EventType = "subscription_updated"
	EventSubscriptionDeleted EventType = "subscription_deleted"
	EventIgnored             EventType = "ignored"
)

// GatewayEvent is a verified, normalized webhook event.
type GatewayEvent struct {
	ID            string
	Type          EventType
	ProviderEvent string
	Checkout      *CheckoutSession     // set for EventCheckoutCompleted
	Subscription  *GatewaySubscription // set for subscription events
}

// StoreVerifier validates platform store purchases against the store's servers.
type StoreVerifier interface {
	// VerifyTransaction returns the authoritative transaction for the request.
	VerifyTransaction(ctx context.Context, req StoreVerification) (*StoreTransaction, error)

	// SubscriptionStatus returns the latest transaction of a subscription chain.
	SubscriptionStatus(ctx context.Context, originalTransactionRef string) (*StoreTransaction, error)
}

// StoreVerification is the client-reported purchase to validate.
type StoreVerification struct {
	ProductRef             string
	TransactionRef         string
	OriginalTransactionRef string
	Receipt                string
}

// StoreTransaction is the store's authoritative answer about a purchase.
type StoreTransaction struct {
	TransactionRef         string
	OriginalTransactionRef string
	ProductRef             string
	Status                 ProviderStatus
	PurchasedAt            time.Time
	ExpiresAt              *time.Time
	RevokedAt              *time.Time
	AutoRenew              bool
}

// EventDeduper remembers processed webhook event IDs.
type EventDeduper interface {
	// FirstSeen reports true the first time id is presented.
	FirstSeen(ctx context.Context, id string) (bool, error)
	// Forget releases id so a failed event can be redelivered.
	Forget(ctx context.Context, id string) error
}
