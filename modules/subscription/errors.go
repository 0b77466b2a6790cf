package subscription

import (
	"errors"
	"net/http"

	"github.com/dmitrymomot/tierkeep/handler"
	entitlement "github.com/dmitrymomot/tierkeep/pkg/subscription"
)

// HTTP errors returned by the subscription API.
var (
	ErrInvalidPlan          = handler.NewHTTPError(http.StatusBadRequest, "INVALID_PLAN", "unknown plan type")
	ErrUnauthorizedChange   = handler.NewHTTPError(http.StatusForbidden, "UNAUTHORIZED_SUBSCRIPTION_CHANGE", "paid tiers can only be granted through a verified purchase")
	ErrEntitlementNotFound  = handler.NewHTTPError(http.StatusNotFound, "ENTITLEMENT_NOT_FOUND", "no entitlement record for this user")
	ErrAlreadyEntitled      = handler.NewHTTPError(http.StatusConflict, "ALREADY_ENTITLED", "this account already has this entitlement")
	ErrDeviceTrialUsed      = handler.NewHTTPError(http.StatusConflict, entitlement.TrialReasonDeviceUsed, "a trial has already been used on this device")
	ErrUserTrialUsed        = handler.NewHTTPError(http.StatusConflict, entitlement.TrialReasonUserUsed, "this account has already used its trial")
	ErrTrialConsumed        = handler.NewHTTPError(http.StatusConflict, "TRIAL_ALREADY_CONSUMED", "trial already consumed")
	ErrTrialPlanNotAllowed  = handler.NewHTTPError(http.StatusBadRequest, entitlement.TrialReasonPlanNotAllowed, "trials are only available for the pro plan")
	ErrDeviceIDRequired     = handler.NewHTTPError(http.StatusBadRequest, entitlement.TrialReasonDeviceRequired, "deviceId is required to start a trial")
	ErrOwnershipMismatch    = handler.NewHTTPError(http.StatusForbidden, "OWNERSHIP_MISMATCH", "checkout does not belong to this user")
	ErrCheckoutNotFound     = handler.NewHTTPError(http.StatusNotFound, "CHECKOUT_NOT_FOUND", "checkout not found")
	ErrPaymentFailed        = handler.NewHTTPError(http.StatusPaymentRequired, "PAYMENT_FAILED", "payment failed")
	ErrUnknownProduct       = handler.NewHTTPError(http.StatusUnprocessableEntity, "UNKNOWN_PRODUCT", "product does not match any plan")
	ErrNoActiveSubscription = handler.NewHTTPError(http.StatusConflict, "NO_ACTIVE_SUBSCRIPTION", "there is no active subscription to cancel")
	ErrManagedByAppStore    = handler.NewHTTPError(http.StatusConflict, "MANAGED_BY_APP_STORE", "this subscription is managed by the App Store; cancel it from your Apple ID subscription settings")
	ErrPurchaseInvalid      = handler.NewHTTPError(http.StatusUnprocessableEntity, "PURCHASE_INVALID", "the purchase could not be verified")
	ErrNothingToRestore     = handler.NewHTTPError(http.StatusNotFound, "NOTHING_TO_RESTORE", "no restorable purchases found")
	ErrInvalidWebhook       = handler.NewHTTPError(http.StatusBadRequest, "INVALID_WEBHOOK", "webhook rejected")
	ErrProviderNotFound     = handler.NewHTTPError(http.StatusNotFound, "PROVIDER_RESOURCE_NOT_FOUND", "billing provider has no such resource")
	ErrProviderUnavailable  = handler.NewHTTPError(http.StatusServiceUnavailable, "PROVIDER_UNAVAILABLE", "billing provider is unavailable, retry later")
	ErrRateLimited          = handler.NewHTTPError(http.StatusTooManyRequests, "RATE_LIMITED", "too many requests, retry later")
)

// mapError translates engine errors into HTTP errors. Unknown errors pass
// through and render as 500.
func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, entitlement.ErrDeviceTrialUsed):
		return ErrDeviceTrialUsed
	case errors.Is(err, entitlement.ErrUserTrialUsed):
		return ErrUserTrialUsed
	case errors.Is(err, entitlement.ErrTrialAlreadyConsumed):
		return ErrTrialConsumed
	case errors.Is(err, entitlement.ErrTrialPlanNotAllowed):
		return ErrTrialPlanNotAllowed
	case errors.Is(err, entitlement.ErrMissingDeviceID):
		return ErrDeviceIDRequired
	case errors.Is(err, entitlement.ErrUnauthorizedSubscriptionChange):
		return ErrUnauthorizedChange
	case errors.Is(err, entitlement.ErrInvalidPlan):
		return ErrInvalidPlan
	case errors.Is(err, entitlement.ErrRecordNotFound):
		return ErrEntitlementNotFound
	case errors.Is(err, entitlement.ErrAlreadyEntitled):
		return ErrAlreadyEntitled
	case errors.Is(err, entitlement.ErrOwnershipMismatch):
		return ErrOwnershipMismatch
	case errors.Is(err, entitlement.ErrPaymentFailed):
		return ErrPaymentFailed
	case errors.Is(err, entitlement.ErrUnknownProductMapping):
		return ErrUnknownProduct
	case errors.Is(err, entitlement.ErrNoActiveSubscription):
		return ErrNoActiveSubscription
	case errors.Is(err, entitlement.ErrManagedByPlatformStore):
		return ErrManagedByAppStore
	case errors.Is(err, entitlement.ErrPurchaseInvalid):
		return ErrPurchaseInvalid
	case errors.Is(err, entitlement.ErrNothingToRestore):
		return ErrNothingToRestore
	case errors.Is(err, entitlement.ErrWebhookVerificationFailed),
		errors.Is(err, entitlement.ErrMalformedWebhook):
		return ErrInvalidWebhook
	case errors.Is(err, entitlement.ErrProviderNotFound):
		return ErrProviderNotFound
	case errors.Is(err, entitlement.ErrProviderUnavailable),
		errors.Is(err, entitlement.ErrProviderAuth),
		errors.Is(err, entitlement.ErrDuplicateCleanup):
		return ErrProviderUnavailable
	default:
		return err
	}
}
