package subscription

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/dmitrymomot/tierkeep/pkg/logger"
)

const storeProvider = "app_store"

// Reconcile re-checks a free record that is still linked to a provider
// and restores the paid tier if the provider disagrees. It never downgrades.
func (s *service) Reconcile(ctx context.Context, userID uuid.UUID) (EntitlementView, error) {
	rec, err := s.store.Get(ctx, userID)
	if err != nil {
		return EntitlementView{}, err
	}
	return s.reconcile(ctx, rec).View(s.now()), nil
}

// reconcile returns the healed record, or rec unchanged when nothing could be restored.
// Provider failures keep the local state.
func (s *service) reconcile(ctx context.Context, rec *Record) *Record {
	if !rec.NeedsReconcile() {
		return rec
	}
	if s.cooldown != nil && s.cooldown.Contains(rec.UserID) {
		return rec
	}

	v, err, _ := s.reconciles.Do(rec.UserID.String(), func() (any, error) {
		return s.doReconcile(ctx, rec.UserID)
	})
	if err != nil {
		s.logger.WarnContext(ctx, "reconciliation failed, keeping local state",
			logger.UserID(rec.UserID),
			logger.Error(err),
		)
		return rec
	}

	healed := v.(*Record)
	if healed.NeedsReconcile() && s.cooldown != nil {
		s.cooldown.Add(rec.UserID, struct{}{})
	}
	return healed
}

func (s *service) doReconcile(ctx context.Context, userID uuid.UUID) (*Record, error) {
	rec, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !rec.NeedsReconcile() {
		return rec, nil
	}

	if rec.HasStoreLinkage() {
		healed, ok, err := s.reconcileStore(ctx, rec)
		if err != nil {
			return nil, err
		}
		if ok {
			return healed, nil
		}
	}

	if rec.HasGatewayLinkage() {
		return s.reconcileGateway(ctx, rec)
	}
	return rec, nil
}

// reconcileStore restores a store-granted tier while its known expiry is
// still in the future. The local expiry is trusted without calling the store.
func (s *service) reconcileStore(ctx context.Context, rec *Record) (*Record, bool, error) {
	now := s.now()
	if rec.ExpiresAt == nil || !rec.ExpiresAt.After(now) {
		reconcileOutcome(storeProvider, "expired")
		return rec, false, nil
	}

	tier, ok := s.catalog.TierForStoreProduct(rec.StoreProductRef)
	if !ok {
		s.unknownMapping(ctx, storeProvider, rec.UserID,
			fmt.Errorf("%w: product=%q", ErrUnknownProductMapping, rec.StoreProductRef))
		reconcileOutcome(storeProvider, "unknown_mapping")
		return rec, false, nil
	}

	healed, err := s.store.Update(ctx, rec.UserID, func(r *Record) (bool, error) {
		if r.Tier != TierFree || r.ExpiresAt == nil || !r.ExpiresAt.After(now) {
			return false, nil
		}
		r.Tier = tier
		return true, nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to restore store entitlement: %w", err)
	}

	reconcileOutcome(storeProvider, "restored")
	s.logger.InfoContext(ctx, "restored store entitlement from local expiry",
		logger.UserID(rec.UserID),
		logger.Tier(tier.String()),
	)
	return healed, healed.Tier != TierFree, nil
}

func (s *service) reconcileGateway(ctx context.Context, rec *Record) (*Record, error) {
	provider := s.gateway.Name()

	customerRef := rec.GatewayCustomerRef
	if customerRef == "" {
		sub, err := s.gateway.GetSubscription(ctx, rec.GatewaySubscriptionRef)
		if err != nil {
			s.providerError(ctx, provider, err)
			reconcileOutcome(provider, "provider_error")
			return rec, nil
		}
		customerRef = sub.CustomerRef
	}
	if customerRef == "" {
		reconcileOutcome(provider, "no_customer")
		return rec, nil
	}

	subs, err := s.gateway.ListSubscriptions(ctx, customerRef)
	if err != nil {
		s.providerError(ctx, provider, err)
		reconcileOutcome(provider, "provider_error")
		return rec, nil
	}

	survivor := pickSurvivor(subs)
	if survivor == nil {
		reconcileOutcome(provider, "no_live_subscription")
		return rec, nil
	}

	if _, err := s.cancelOthers(ctx, subs, survivor.ID, "reconcile"); err != nil {
		s.logger.ErrorContext(ctx, "duplicate subscription cleanup incomplete",
			logger.UserID(rec.UserID),
			logger.Error(err),
		)
	}

	now := s.now()
	if !survivor.EntitlementEnd().After(now) {
		reconcileOutcome(provider, "stale_period")
		return rec, nil
	}

	tier, _, err := s.resolver.Resolve(survivor.Evidence())
	if err != nil {
		s.unknownMapping(ctx, provider, rec.UserID, err)
		reconcileOutcome(provider, "unknown_mapping")
		return rec, nil
	}

	healed, err := s.store.Update(ctx, rec.UserID, func(r *Record) (bool, error) {
		if r.Tier != TierFree {
			return false, nil
		}
		return r.applyGatewaySubscription(tier, survivor, customerRef, now), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to restore gateway entitlement: %w", err)
	}

	reconcileOutcome(provider, "restored")
	s.logger.InfoContext(ctx, "restored gateway entitlement",
		logger.UserID(rec.UserID),
		logger.Tier(tier.String()),
		logger.SubscriptionRef(survivor.ID),
	)
	return healed, nil
}
