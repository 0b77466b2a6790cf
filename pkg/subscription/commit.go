package subscription

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/tierkeep/pkg/logger"
)

// pickSurvivor returns the live subscription that wins when several exist:
// the newest by creation time, ties broken by the greatest ID.
// Every concurrent commit therefore agrees on the same survivor.
func pickSurvivor(subs []GatewaySubscription) *GatewaySubscription {
	var best *GatewaySubscription
	for i := range subs {
		sub := &subs[i]
		if !sub.Status.IsLive() {
			continue
		}
		if best == nil ||
			sub.CreatedAt.After(best.CreatedAt) ||
			(sub.CreatedAt.Equal(best.CreatedAt) && sub.ID > best.ID) {
			best = sub
		}
	}
	return best
}

// cancelLiveSubscriptions immediately cancels every live subscription of the
// customer except keepID. It returns the number of cancelled subscriptions.
func (s *service) cancelLiveSubscriptions(ctx context.Context, customerRef, keepID, stage string) (int, error) {
	subs, err := s.gateway.ListSubscriptions(ctx, customerRef)
	if err != nil {
		s.providerError(ctx, s.gateway.Name(), err)
		return 0, err
	}
	return s.cancelOthers(ctx, subs, keepID, stage)
}

func (s *service) cancelOthers(ctx context.Context, subs []GatewaySubscription, keepID, stage string) (int, error) {
	var (
		cancelled int
		errs      []error
	)
	for _, sub := range subs {
		if sub.ID == keepID || !sub.Status.IsLive() {
			continue
		}
		if err := s.gateway.CancelSubscription(ctx, sub.ID, false); err != nil {
			if errors.Is(err, ErrProviderNotFound) {
				continue
			}
			s.providerError(ctx, s.gateway.Name(), err)
			errs = append(errs, fmt.Errorf("cancel %s: %w", sub.ID, err))
			continue
		}
		cancelled++
		s.logger.InfoContext(ctx, "cancelled duplicate subscription",
			logger.Provider(s.gateway.Name()),
			logger.SubscriptionRef(sub.ID),
			"stage", stage,
		)
	}
	duplicatesCancelled(stage, cancelled)

	if len(errs) > 0 {
		return cancelled, errors.Join(append([]error{ErrDuplicateCleanup}, errs...)...)
	}
	return cancelled, nil
}

// commitCheckout grants the entitlement described by a completed checkout.
// It is idempotent: replaying the same checkout leaves the record and the
// provider unchanged after the first commit.
func (s *service) commitCheckout(ctx context.Context, userID uuid.UUID, session *CheckoutSession, stage string) (*CheckoutOutcome, error) {
	customerRef := session.CustomerRef
	if customerRef == "" && session.Subscription != nil {
		customerRef = session.Subscription.CustomerRef
	}
	if customerRef == "" {
		return nil, fmt.Errorf("%w: checkout %s has no customer", ErrCheckoutPending, session.ID)
	}

	subs, err := s.gateway.ListSubscriptions(ctx, customerRef)
	if err != nil {
		s.providerError(ctx, s.gateway.Name(), err)
		return nil, err
	}
	if session.Subscription != nil && !slices.ContainsFunc(subs, func(sub GatewaySubscription) bool {
		return sub.ID == session.Subscription.ID
	}) {
		subs = append(subs, *session.Subscription)
	}

	survivor := pickSurvivor(subs)
	if survivor == nil {
		return nil, ErrPaymentFailed
	}

	meta := mergeMetadata(session.Metadata, survivor.Metadata)
	ev := survivor.Evidence()
	ev.Metadata = meta

	tier, strategy, err := s.resolver.Resolve(ev)
	if err != nil {
		s.unknownMapping(ctx, s.gateway.Name(), userID, err)
		return nil, err
	}

	_, cleanupErr := s.cancelOthers(ctx, subs, survivor.ID, stage)

	expiresAt := survivor.EntitlementEnd()
	if _, err := s.store.Update(ctx, userID, func(r *Record) (bool, error) {
		return r.applyGatewaySubscription(tier, survivor, customerRef, s.now()), nil
	}); err != nil {
		return nil, fmt.Errorf("failed to commit checkout: %w", err)
	}

	isTrial := survivor.IsTrialing()
	if isTrial {
		s.commitCheckoutTrial(ctx, userID, meta, survivor)
	}

	s.logger.InfoContext(ctx, "checkout committed",
		logger.UserID(userID),
		logger.Tier(tier.String()),
		logger.SubscriptionRef(survivor.ID),
		"strategy", strategy,
		"stage", stage,
		"trial", isTrial,
	)

	outcome := &CheckoutOutcome{Tier: tier, ExpiresAt: expiresAt, IsTrial: isTrial}
	if cleanupErr != nil {
		s.logger.ErrorContext(ctx, "duplicate subscription cleanup incomplete",
			logger.UserID(userID),
			logger.Error(cleanupErr),
		)
		return outcome, cleanupErr
	}
	return outcome, nil
}

// commitCheckoutTrial consumes the trial slot once the provider confirms the trial is running.
func (s *service) commitCheckoutTrial(ctx context.Context, userID uuid.UUID, meta map[string]string, sub *GatewaySubscription) {
	wants, _ := strconv.ParseBool(meta[MetaWantsTrial])
	deviceID := meta[MetaDeviceID]
	if !wants || deviceID == "" {
		return
	}

	now := s.now()
	created, err := s.store.RecordTrial(ctx, TrialStart{
		UserID:    userID,
		DeviceID:  deviceID,
		PlanType:  TierPro,
		StartedAt: now,
		EndsAt:    *sub.TrialEnd,
	})
	switch {
	case err != nil:
		// The provider already granted the trial; the entitlement stands.
		trialOutcome("checkout", "conflict")
		s.logger.WarnContext(ctx, "checkout trial could not be recorded in the ledger",
			logger.UserID(userID),
			logger.DeviceID(deviceID),
			logger.Error(err),
		)
	case created:
		trialOutcome("checkout", "started")
	}
}

// applyGatewaySubscription points the record at sub with the given tier.
// Reports whether anything changed.
func (r *Record) applyGatewaySubscription(tier Tier, sub *GatewaySubscription, customerRef string, now time.Time) bool {
	before := r.Clone()

	r.Tier = tier
	if end := sub.EntitlementEnd(); !end.IsZero() {
		r.ExpiresAt = ptr(end.UTC())
	}
	r.AutoRenew = !sub.CancelAtPeriodEnd
	if r.AutoRenew {
		r.CancelledAt = nil
	} else if r.CancelledAt == nil {
		r.CancelledAt = ptr(now)
		if sub.CanceledAt != nil {
			r.CancelledAt = ptr(sub.CanceledAt.UTC())
		}
	}
	r.GatewaySubscriptionRef = sub.ID
	if customerRef != "" {
		r.GatewayCustomerRef = customerRef
	}

	return !sameEntitlement(before, r)
}

func sameEntitlement(a, b *Record) bool {
	return a.Tier == b.Tier &&
		equalTime(a.ExpiresAt, b.ExpiresAt) &&
		a.AutoRenew == b.AutoRenew &&
		equalTime(a.CancelledAt, b.CancelledAt) &&
		a.GatewayCustomerRef == b.GatewayCustomerRef &&
		a.GatewaySubscriptionRef == b.GatewaySubscriptionRef &&
		a.StoreOriginalTransactionRef == b.StoreOriginalTransactionRef &&
		a.StoreTransactionRef == b.StoreTransactionRef &&
		a.StoreProductRef == b.StoreProductRef
}

func equalTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// mergeMetadata returns base overlaid with the non-empty values of override.
func mergeMetadata(base, override map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(override))
	maps.Copy(out, base)
	for k, v := range override {
		if v != "" {
			out[k] = v
		}
	}
	return out
}
