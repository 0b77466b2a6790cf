package subscription

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/tierkeep/pkg/logger"
)

// CheckoutParams describes a request to buy a paid tier through the gateway.
type CheckoutParams struct {
	UserID     uuid.UUID
	TargetTier Tier
	PriceRef   string // optional, must match the catalog when set
	Platform   Platform
	WantsTrial bool
	DeviceID   string
}

// CheckoutResult is the hosted checkout the client should redirect to.
type CheckoutResult struct {
	URL          string
	CheckoutRef  string
	TrialApplied bool
}

// CheckoutOutcome is the entitlement granted by a completed checkout.
type CheckoutOutcome struct {
	Tier      Tier
	ExpiresAt time.Time
	IsTrial   bool
}

// StartCheckout opens a gateway checkout. It never changes the entitlement;
// that happens only once the provider confirms payment.
func (s *service) StartCheckout(ctx context.Context, p CheckoutParams) (*CheckoutResult, error) {
	plan, ok := s.catalog.Plan(p.TargetTier)
	if !ok || !plan.ID.IsPaid() || plan.GatewayPriceRef == "" {
		checkoutOutcome("start", "invalid_plan")
		return nil, fmt.Errorf("%w: %q is not purchasable", ErrInvalidPlan, p.TargetTier)
	}
	if p.PriceRef != "" && p.PriceRef != plan.GatewayPriceRef {
		checkoutOutcome("start", "invalid_plan")
		return nil, fmt.Errorf("%w: price %q does not belong to plan %s", ErrInvalidPlan, p.PriceRef, plan.ID)
	}

	rec, err := s.store.GetOrCreate(ctx, p.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load entitlement: %w", err)
	}
	if rec.HasStoreLinkage() && rec.HasActivePaidTier(s.now()) {
		checkoutOutcome("start", "managed_by_store")
		return nil, ErrManagedByPlatformStore
	}

	customerRef, err := s.gateway.EnsureCustomer(ctx, p.UserID, rec.GatewayCustomerRef)
	if err != nil {
		s.providerError(ctx, s.gateway.Name(), err)
		checkoutOutcome("start", "provider_error")
		return nil, err
	}
	if customerRef != rec.GatewayCustomerRef {
		if _, err := s.store.Update(ctx, p.UserID, func(r *Record) (bool, error) {
			if r.GatewayCustomerRef == customerRef {
				return false, nil
			}
			r.GatewayCustomerRef = customerRef
			return true, nil
		}); err != nil {
			return nil, fmt.Errorf("failed to store gateway customer: %w", err)
		}
	}

	// A retried checkout or a tier switch must not leave two live subscriptions.
	if _, err := s.cancelLiveSubscriptions(ctx, customerRef, "", "start"); err != nil {
		checkoutOutcome("start", "cleanup_failed")
		return nil, err
	}

	trialDays := 0
	if p.WantsTrial {
		e, err := s.trialEligibility(ctx, p.UserID, p.DeviceID, plan.ID)
		if err != nil {
			return nil, err
		}
		if e.Eligible {
			trialDays = e.TrialDays
		} else {
			s.logger.InfoContext(ctx, "trial not attached to checkout",
				logger.UserID(p.UserID),
				logger.DeviceID(p.DeviceID),
				"reason", e.Reason,
			)
		}
	}

	session, err := s.gateway.CreateCheckout(ctx, CheckoutRequest{
		CustomerRef: customerRef,
		PriceRef:    plan.GatewayPriceRef,
		SuccessURL:  s.cfg.SuccessURL,
		CancelURL:   s.cfg.CancelURL,
		TrialDays:   trialDays,
		Metadata: map[string]string{
			MetaUserID:     p.UserID.String(),
			MetaWantsTrial: strconv.FormatBool(p.WantsTrial && trialDays > 0),
			MetaDeviceID:   p.DeviceID,
			MetaTargetTier: plan.ID.String(),
		},
	})
	if err != nil {
		s.providerError(ctx, s.gateway.Name(), err)
		checkoutOutcome("start", "provider_error")
		return nil, err
	}

	checkoutOutcome("start", "created")
	s.logger.InfoContext(ctx, "checkout created",
		logger.UserID(p.UserID),
		logger.Tier(plan.ID.String()),
		logger.Provider(s.gateway.Name()),
		"checkout_ref", session.ID,
		"platform", string(p.Platform),
		"trial_days", trialDays,
	)

	return &CheckoutResult{
		URL:          session.URL,
		CheckoutRef:  session.ID,
		TrialApplied: trialDays > 0,
	}, nil
}

// VerifyCheckout re-fetches a checkout from the gateway and commits it for userID.
func (s *service) VerifyCheckout(ctx context.Context, checkoutRef string, userID uuid.UUID) (*CheckoutOutcome, error) {
	if checkoutRef == "" {
		return nil, fmt.Errorf("%w: checkout reference is required", ErrCheckoutPending)
	}

	session, err := s.gateway.GetCheckout(ctx, checkoutRef)
	if err != nil {
		s.providerError(ctx, s.gateway.Name(), err)
		checkoutOutcome("verify", "provider_error")
		return nil, err
	}

	if session.Metadata[MetaUserID] != userID.String() {
		s.logger.WarnContext(ctx, "checkout ownership mismatch",
			logger.UserID(userID),
			"checkout_ref", checkoutRef,
			logger.SecurityEvent(),
		)
		checkoutOutcome("verify", "ownership_mismatch")
		return nil, ErrOwnershipMismatch
	}

	if err := checkoutState(session); err != nil {
		checkoutOutcome("verify", outcomeFor(err))
		return nil, err
	}

	outcome, err := s.commitCheckout(ctx, userID, session, "verify")
	if err != nil {
		if outcome != nil && errors.Is(err, ErrDuplicateCleanup) {
			// Entitlement is committed; the next commit for this customer retries the cleanup.
			checkoutOutcome("verify", "committed")
			return outcome, nil
		}
		checkoutOutcome("verify", outcomeFor(err))
		return nil, err
	}

	checkoutOutcome("verify", "committed")
	return outcome, nil
}

// checkoutState maps the provider checkout state onto the user-facing errors.
func checkoutState(session *CheckoutSession) error {
	switch session.Status {
	case CheckoutComplete:
	case CheckoutOpen:
		return ErrCheckoutPending
	default:
		return ErrPaymentFailed
	}

	sub := session.Subscription
	if sub == nil {
		return ErrCheckoutPending
	}
	switch sub.Status {
	case ProviderStatusActive, ProviderStatusTrialing:
		return nil
	case ProviderStatusIncomplete:
		return ErrCheckoutPending
	default:
		return ErrPaymentFailed
	}
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, ErrCheckoutPending):
		return "pending"
	case errors.Is(err, ErrPaymentFailed):
		return "payment_failed"
	case errors.Is(err, ErrUnknownProductMapping):
		return "unknown_mapping"
	case errors.Is(err, ErrProviderUnavailable), errors.Is(err, ErrProviderAuth), errors.Is(err, ErrProviderNotFound):
		return "provider_error"
	default:
		return "error"
	}
}
