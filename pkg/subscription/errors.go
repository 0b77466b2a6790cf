package subscription

import "errors"

var (
	ErrInvalidPlan                    = errors.New("invalid subscription plan")
	ErrInvalidCatalog                 = errors.New("invalid plan catalog configuration")
	ErrUnauthorizedSubscriptionChange = errors.New("unauthorized subscription change")
	ErrRecordNotFound                 = errors.New("entitlement record not found")
	ErrAlreadyEntitled                = errors.New("account already has this entitlement")

	ErrTrialAlreadyConsumed = errors.New("trial already consumed")
	ErrDeviceTrialUsed      = errors.New("device has already used a trial")
	ErrUserTrialUsed        = errors.New("user has already used a trial")
	ErrTrialPlanNotAllowed  = errors.New("trial is only available for the pro plan")
	ErrMissingDeviceID      = errors.New("device ID is required")

	ErrOwnershipMismatch     = errors.New("checkout does not belong to caller")
	ErrCheckoutPending       = errors.New("payment not completed yet")
	ErrPaymentFailed         = errors.New("payment failed")
	ErrUnknownProductMapping = errors.New("provider product does not map to any plan")
	ErrNoActiveSubscription  = errors.New("no active subscription")
	ErrDuplicateCleanup      = errors.New("failed to cancel duplicate subscriptions")

	ErrManagedByPlatformStore = errors.New("subscription is managed by the platform store")
	ErrPurchaseInvalid        = errors.New("platform purchase is not valid")
	ErrNothingToRestore       = errors.New("no restorable purchases found")

	ErrTeamLimitReached = errors.New("managed team limit reached for current plan")

	// Provider errors
	ErrProviderUnavailable        = errors.New("billing provider unavailable")
	ErrProviderAuth               = errors.New("billing provider rejected credentials")
	ErrProviderNotFound           = errors.New("billing provider has no such resource")
	ErrWebhookVerificationFailed  = errors.New("webhook signature verification failed")
	ErrMissingAPIKey              = errors.New("billing provider API key is required")
	ErrMissingWebhookSecret       = errors.New("billing provider webhook secret is required")
	ErrInvalidProviderEnvironment = errors.New("invalid billing provider environment")
	ErrNoCheckoutURL              = errors.New("no checkout URL returned from provider")
	ErrMalformedWebhook           = errors.New("malformed webhook payload")
)

// IsRetryable reports whether err is a transient provider failure.
// Retryable errors never cause a downgrade on their own.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrProviderUnavailable)
}
