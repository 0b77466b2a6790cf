package subscription_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/tierkeep/pkg/subscription"
)

func activeSub(id string, created, periodEnd time.Time) subscription.GatewaySubscription {
	return subscription.GatewaySubscription{
		ID:               id,
		Status:           subscription.ProviderStatusActive,
		PriceRef:         "price_pro",
		Amount:           subscription.Money{Amount: 999, Currency: "USD"},
		CreatedAt:        created,
		CurrentPeriodEnd: periodEnd,
	}
}

func TestService_StartCheckout(t *testing.T) {
	t.Parallel()

	t.Run("opens checkout without changing entitlement", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		ctx := context.Background()
		userID := uuid.New()

		res, err := h.svc.StartCheckout(ctx, subscription.CheckoutParams{
			UserID:     userID,
			TargetTier: subscription.TierPro,
			Platform:   subscription.PlatformWeb,
		})
		require.NoError(t, err)
		assert.Equal(t, "cs_1", res.CheckoutRef)
		assert.Equal(t, "https://checkout.example.com/cs_1", res.URL)
		assert.False(t, res.TrialApplied)

		req := h.gw.lastRequest()
		assert.Equal(t, "price_pro", req.PriceRef)
		assert.Equal(t, "cus_1", req.CustomerRef)
		assert.Equal(t, userID.String(), req.Metadata[subscription.MetaUserID])
		assert.Equal(t, "pro", req.Metadata[subscription.MetaTargetTier])
		assert.Equal(t, "https://app.example.com/billing/success", req.SuccessURL)
		assert.Zero(t, req.TrialDays)

		rec := h.record(t, userID)
		assert.Equal(t, subscription.TierFree, rec.Tier)
		assert.Equal(t, "cus_1", rec.GatewayCustomerRef)
	})

	t.Run("attaches trial for eligible device", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)

		res, err := h.svc.StartCheckout(context.Background(), subscription.CheckoutParams{
			UserID:     uuid.New(),
			TargetTier: subscription.TierPro,
			WantsTrial: true,
			DeviceID:   "device-1",
		})
		require.NoError(t, err)
		assert.True(t, res.TrialApplied)

		req := h.gw.lastRequest()
		assert.Equal(t, 7, req.TrialDays)
		assert.Equal(t, "true", req.Metadata[subscription.MetaWantsTrial])
		assert.Equal(t, "device-1", req.Metadata[subscription.MetaDeviceID])
	})

	t.Run("drops trial for used device", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		ctx := context.Background()

		_, err := h.svc.StartTrial(ctx, uuid.New(), subscription.TierPro, "device-1")
		require.NoError(t, err)

		res, err := h.svc.StartCheckout(ctx, subscription.CheckoutParams{
			UserID:     uuid.New(),
			TargetTier: subscription.TierPro,
			WantsTrial: true,
			DeviceID:   "device-1",
		})
		require.NoError(t, err)
		assert.False(t, res.TrialApplied)
		assert.Zero(t, h.gw.lastRequest().TrialDays)
		assert.Equal(t, "false", h.gw.lastRequest().Metadata[subscription.MetaWantsTrial])
	})

	t.Run("rejects free and mismatched prices", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		ctx := context.Background()

		_, err := h.svc.StartCheckout(ctx, subscription.CheckoutParams{UserID: uuid.New(), TargetTier: subscription.TierFree})
		assert.ErrorIs(t, err, subscription.ErrInvalidPlan)

		_, err = h.svc.StartCheckout(ctx, subscription.CheckoutParams{
			UserID:     uuid.New(),
			TargetTier: subscription.TierBasic,
			PriceRef:   "price_pro",
		})
		assert.ErrorIs(t, err, subscription.ErrInvalidPlan)
	})

	t.Run("cancels live subscriptions before a new checkout", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		userID := uuid.New()
		now := h.clock.Now()

		rec := subscription.NewRecord(userID, now)
		rec.GatewayCustomerRef = "cus_existing"
		h.store.Put(rec)

		old := activeSub("sub_old", now.Add(-24*time.Hour), now.Add(24*time.Hour))
		old.CustomerRef = "cus_existing"
		h.gw.addSubscription(old)

		_, err := h.svc.StartCheckout(context.Background(), subscription.CheckoutParams{
			UserID:     userID,
			TargetTier: subscription.TierBasic,
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"sub_old"}, h.gw.cancelledRefs())
		assert.Equal(t, "cus_existing", h.gw.lastRequest().CustomerRef)
	})

	t.Run("store managed users cannot buy on the web", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		userID := uuid.New()

		rec := subscription.NewRecord(userID, h.clock.Now())
		rec.Tier = subscription.TierBasic
		rec.ExpiresAt = timePtr(h.clock.Now().Add(24 * time.Hour))
		rec.StoreOriginalTransactionRef = "1000"
		h.store.Put(rec)

		_, err := h.svc.StartCheckout(context.Background(), subscription.CheckoutParams{
			UserID:     userID,
			TargetTier: subscription.TierPro,
		})
		assert.ErrorIs(t, err, subscription.ErrManagedByPlatformStore)
	})
}

func TestService_VerifyCheckout(t *testing.T) {
	t.Parallel()

	start := func(t *testing.T, h *harness, userID uuid.UUID, params ...subscription.CheckoutParams) string {
		t.Helper()
		p := subscription.CheckoutParams{UserID: userID, TargetTier: subscription.TierPro}
		if len(params) > 0 {
			p = params[0]
		}
		res, err := h.svc.StartCheckout(context.Background(), p)
		require.NoError(t, err)
		return res.CheckoutRef
	}

	t.Run("pending while open", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		userID := uuid.New()
		ref := start(t, h, userID)

		_, err := h.svc.VerifyCheckout(context.Background(), ref, userID)
		assert.ErrorIs(t, err, subscription.ErrCheckoutPending)
	})

	t.Run("ownership mismatch", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		owner := uuid.New()
		ref := start(t, h, owner)
		now := h.clock.Now()
		h.gw.completeCheckout(ref, activeSub("sub_1", now, now.Add(30*24*time.Hour)))

		intruder := uuid.New()
		_, err := h.svc.VerifyCheckout(context.Background(), ref, intruder)
		assert.ErrorIs(t, err, subscription.ErrOwnershipMismatch)

		view, err := h.svc.GetEntitlement(context.Background(), intruder)
		require.NoError(t, err)
		assert.Equal(t, subscription.TierFree, view.Type)
	})

	t.Run("failed payment", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		userID := uuid.New()
		ref := start(t, h, userID)
		h.gw.setCheckoutStatus(ref, subscription.CheckoutExpired)

		_, err := h.svc.VerifyCheckout(context.Background(), ref, userID)
		assert.ErrorIs(t, err, subscription.ErrPaymentFailed)
	})

	t.Run("commits once and repeats are idempotent", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		ctx := context.Background()
		userID := uuid.New()
		ref := start(t, h, userID)
		now := h.clock.Now()
		periodEnd := now.Add(30 * 24 * time.Hour)
		h.gw.completeCheckout(ref, activeSub("sub_1", now, periodEnd))

		outcome, err := h.svc.VerifyCheckout(ctx, ref, userID)
		require.NoError(t, err)
		assert.Equal(t, subscription.TierPro, outcome.Tier)
		assert.Equal(t, periodEnd, outcome.ExpiresAt)
		assert.False(t, outcome.IsTrial)

		first := h.record(t, userID)
		assert.Equal(t, subscription.TierPro, first.Tier)
		assert.Equal(t, "sub_1", first.GatewaySubscriptionRef)
		assert.True(t, first.AutoRenew)

		_, err = h.svc.VerifyCheckout(ctx, ref, userID)
		require.NoError(t, err)
		assert.Equal(t, first, h.record(t, userID))
		assert.Empty(t, h.gw.cancelledRefs())
	})

	t.Run("keeps the newest of two live subscriptions", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		ctx := context.Background()
		userID := uuid.New()
		ref := start(t, h, userID)
		now := h.clock.Now()

		stray := activeSub("sub_a", now.Add(-time.Hour), now.Add(29*24*time.Hour))
		stray.CustomerRef = "cus_1"
		h.gw.addSubscription(stray)
		h.gw.completeCheckout(ref, activeSub("sub_b", now, now.Add(30*24*time.Hour)))

		_, err := h.svc.VerifyCheckout(ctx, ref, userID)
		require.NoError(t, err)

		assert.Equal(t, []string{"sub_b"}, h.gw.liveSubscriptions("cus_1"))
		assert.Equal(t, []string{"sub_a"}, h.gw.cancelledRefs())
		assert.Equal(t, "sub_b", h.record(t, userID).GatewaySubscriptionRef)
	})

	t.Run("duplicate cleanup failure still commits", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		ctx := context.Background()
		userID := uuid.New()
		ref := start(t, h, userID)
		now := h.clock.Now()

		stray := activeSub("sub_a", now.Add(-time.Hour), now.Add(29*24*time.Hour))
		stray.CustomerRef = "cus_1"
		h.gw.addSubscription(stray)
		h.gw.completeCheckout(ref, activeSub("sub_b", now, now.Add(30*24*time.Hour)))
		h.gw.cancelErr = subscription.ErrProviderUnavailable
		h.gw.addEvent("checkout", &subscription.GatewayEvent{
			ID:       "evt_1",
			Type:     subscription.EventCheckoutCompleted,
			Checkout: &subscription.CheckoutSession{ID: ref},
		})

		outcome, err := h.svc.VerifyCheckout(ctx, ref, userID)
		require.NoError(t, err)
		assert.Equal(t, subscription.TierPro, outcome.Tier)
		assert.Equal(t, "sub_b", h.record(t, userID).GatewaySubscriptionRef)

		err = h.svc.HandleWebhook(ctx, []byte("checkout"), "valid")
		assert.ErrorIs(t, err, subscription.ErrDuplicateCleanup)
		assert.Equal(t, []string{"sub_a", "sub_b"}, h.gw.liveSubscriptions("cus_1"))
	})

	t.Run("trial checkout consumes the ledger slot", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		userID := uuid.New()
		ref := start(t, h, userID, subscription.CheckoutParams{
			UserID:     userID,
			TargetTier: subscription.TierPro,
			WantsTrial: true,
			DeviceID:   "device-1",
		})
		now := h.clock.Now()
		trialEnd := now.Add(7 * 24 * time.Hour)

		sub := activeSub("sub_1", now, trialEnd)
		sub.Status = subscription.ProviderStatusTrialing
		sub.TrialEnd = &trialEnd
		h.gw.completeCheckout(ref, sub)

		outcome, err := h.svc.VerifyCheckout(context.Background(), ref, userID)
		require.NoError(t, err)
		assert.True(t, outcome.IsTrial)
		assert.Equal(t, trialEnd, outcome.ExpiresAt)

		rec := h.record(t, userID)
		assert.True(t, rec.TrialUsed)
		assert.Equal(t, subscription.TierPro, rec.Tier)
		assert.Equal(t, 1, h.store.LedgerSize())

		e, err := h.svc.CheckTrialEligibility(context.Background(), uuid.New(), "device-1")
		require.NoError(t, err)
		assert.Equal(t, subscription.TrialReasonDeviceUsed, e.Reason)
	})

	t.Run("unknown product leaves entitlement unchanged", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, subscription.WithTierStrategies(subscription.ResolveByPriceRef))
		userID := uuid.New()
		ref := start(t, h, userID)
		now := h.clock.Now()

		sub := activeSub("sub_1", now, now.Add(30*24*time.Hour))
		sub.PriceRef = "price_legacy"
		h.gw.completeCheckout(ref, sub)

		_, err := h.svc.VerifyCheckout(context.Background(), ref, userID)
		assert.ErrorIs(t, err, subscription.ErrUnknownProductMapping)
		assert.Equal(t, subscription.TierFree, h.record(t, userID).Tier)
	})

	t.Run("empty reference is pending", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)

		_, err := h.svc.VerifyCheckout(context.Background(), "", uuid.New())
		assert.ErrorIs(t, err, subscription.ErrCheckoutPending)
	})
}
