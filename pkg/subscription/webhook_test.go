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

func paidRecord(userID uuid.UUID, now time.Time, subRef string, expires time.Time) *subscription.Record {
	rec := subscription.NewRecord(userID, now)
	rec.Tier = subscription.TierPro
	rec.ExpiresAt = &expires
	rec.GatewayCustomerRef = "cus_1"
	rec.GatewaySubscriptionRef = subRef
	return rec
}

func TestService_HandleWebhook(t *testing.T) {
	t.Parallel()

	t.Run("rejects invalid signature", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)

		err := h.svc.HandleWebhook(context.Background(), []byte("payload"), "forged")
		assert.ErrorIs(t, err, subscription.ErrWebhookVerificationFailed)
	})

	t.Run("checkout completed replay produces the same record", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		ctx := context.Background()
		userID := uuid.New()
		now := h.clock.Now()

		res, err := h.svc.StartCheckout(ctx, subscription.CheckoutParams{UserID: userID, TargetTier: subscription.TierPro})
		require.NoError(t, err)
		h.gw.completeCheckout(res.CheckoutRef, activeSub("sub_1", now, now.Add(30*24*time.Hour)))
		h.gw.addEvent("checkout", &subscription.GatewayEvent{
			ID:            "evt_1",
			Type:          subscription.EventCheckoutCompleted,
			ProviderEvent: "checkout.session.completed",
			Checkout:      &subscription.CheckoutSession{ID: res.CheckoutRef},
		})

		require.NoError(t, h.svc.HandleWebhook(ctx, []byte("checkout"), "valid"))
		first := h.record(t, userID)
		assert.Equal(t, subscription.TierPro, first.Tier)

		require.NoError(t, h.svc.HandleWebhook(ctx, []byte("checkout"), "valid"))
		assert.Equal(t, first, h.record(t, userID))

		// The client-side verify after the webhook agrees with it.
		outcome, err := h.svc.VerifyCheckout(ctx, res.CheckoutRef, userID)
		require.NoError(t, err)
		assert.Equal(t, subscription.TierPro, outcome.Tier)
		assert.Equal(t, first, h.record(t, userID))
	})

	t.Run("trial checkout replay neither reclaims the trial nor cancels again", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		ctx := context.Background()
		userID := uuid.New()
		now := h.clock.Now()

		res, err := h.svc.StartCheckout(ctx, subscription.CheckoutParams{
			UserID:     userID,
			TargetTier: subscription.TierPro,
			WantsTrial: true,
			DeviceID:   "device-1",
		})
		require.NoError(t, err)
		require.True(t, res.TrialApplied)

		stray := activeSub("sub_a", now.Add(-time.Hour), now.Add(29*24*time.Hour))
		stray.CustomerRef = "cus_1"
		h.gw.addSubscription(stray)

		trialEnd := now.Add(7 * 24 * time.Hour)
		sub := activeSub("sub_b", now, trialEnd)
		sub.Status = subscription.ProviderStatusTrialing
		sub.TrialEnd = &trialEnd
		h.gw.completeCheckout(res.CheckoutRef, sub)
		h.gw.addEvent("checkout", &subscription.GatewayEvent{
			ID:            "evt_trial",
			Type:          subscription.EventCheckoutCompleted,
			ProviderEvent: "checkout.session.completed",
			Checkout:      &subscription.CheckoutSession{ID: res.CheckoutRef},
		})

		require.NoError(t, h.svc.HandleWebhook(ctx, []byte("checkout"), "valid"))
		first := h.record(t, userID)
		require.NoError(t, h.svc.HandleWebhook(ctx, []byte("checkout"), "valid"))

		assert.Equal(t, first, h.record(t, userID))
		assert.True(t, first.TrialUsed)
		assert.Equal(t, "sub_b", first.GatewaySubscriptionRef)
		assert.Equal(t, 1, h.store.LedgerSize())
		assert.Equal(t, []string{"sub_a"}, h.gw.cancelledRefs())
		assert.Equal(t, []string{"sub_b"}, h.gw.liveSubscriptions("cus_1"))
	})

	t.Run("checkout completed for open session is acknowledged", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		ctx := context.Background()
		userID := uuid.New()

		res, err := h.svc.StartCheckout(ctx, subscription.CheckoutParams{UserID: userID, TargetTier: subscription.TierPro})
		require.NoError(t, err)
		h.gw.addEvent("checkout", &subscription.GatewayEvent{
			ID:       "evt_1",
			Type:     subscription.EventCheckoutCompleted,
			Checkout: &subscription.CheckoutSession{ID: res.CheckoutRef},
		})

		require.NoError(t, h.svc.HandleWebhook(ctx, []byte("checkout"), "valid"))
		assert.Equal(t, subscription.TierFree, h.record(t, userID).Tier)
	})

	t.Run("subscription update extends expiry", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		userID := uuid.New()
		now := h.clock.Now()
		h.store.Put(paidRecord(userID, now, "sub_1", now.Add(24*time.Hour)))

		renewed := now.Add(31 * 24 * time.Hour)
		sub := activeSub("sub_1", now.Add(-30*24*time.Hour), renewed)
		sub.CustomerRef = "cus_1"
		h.gw.addEvent("update", &subscription.GatewayEvent{
			ID:           "evt_2",
			Type:         subscription.EventSubscriptionUpdated,
			Subscription: &sub,
		})

		require.NoError(t, h.svc.HandleWebhook(context.Background(), []byte("update"), "valid"))

		rec := h.record(t, userID)
		assert.Equal(t, renewed, *rec.ExpiresAt)
		assert.True(t, rec.AutoRenew)
	})

	t.Run("update for another subscription is ignored", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		userID := uuid.New()
		now := h.clock.Now()
		expires := now.Add(24 * time.Hour)
		h.store.Put(paidRecord(userID, now, "sub_current", expires))

		stale := activeSub("sub_old", now.Add(-60*24*time.Hour), now.Add(5*24*time.Hour))
		stale.PriceRef = "price_basic"
		stale.Metadata = map[string]string{subscription.MetaUserID: userID.String()}
		h.gw.addEvent("stale", &subscription.GatewayEvent{
			ID:           "evt_3",
			Type:         subscription.EventSubscriptionUpdated,
			Subscription: &stale,
		})

		require.NoError(t, h.svc.HandleWebhook(context.Background(), []byte("stale"), "valid"))

		rec := h.record(t, userID)
		assert.Equal(t, subscription.TierPro, rec.Tier)
		assert.Equal(t, "sub_current", rec.GatewaySubscriptionRef)
		assert.Equal(t, expires, *rec.ExpiresAt)
	})

	t.Run("deletion downgrades the linked subscription only", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		ctx := context.Background()
		userID := uuid.New()
		now := h.clock.Now()
		h.store.Put(paidRecord(userID, now, "sub_1", now.Add(24*time.Hour)))

		other := subscription.GatewaySubscription{ID: "sub_other", CustomerRef: "cus_1", Status: subscription.ProviderStatusCanceled}
		h.gw.addEvent("delete-other", &subscription.GatewayEvent{ID: "evt_4", Type: subscription.EventSubscriptionDeleted, Subscription: &other})
		require.NoError(t, h.svc.HandleWebhook(ctx, []byte("delete-other"), "valid"))
		assert.Equal(t, subscription.TierPro, h.record(t, userID).Tier)

		linked := subscription.GatewaySubscription{ID: "sub_1", CustomerRef: "cus_1", Status: subscription.ProviderStatusCanceled}
		h.gw.addEvent("delete", &subscription.GatewayEvent{ID: "evt_5", Type: subscription.EventSubscriptionDeleted, Subscription: &linked})
		require.NoError(t, h.svc.HandleWebhook(ctx, []byte("delete"), "valid"))

		rec := h.record(t, userID)
		assert.Equal(t, subscription.TierFree, rec.Tier)
		assert.Nil(t, rec.ExpiresAt)
		assert.Empty(t, rec.GatewaySubscriptionRef)
		assert.Equal(t, "cus_1", rec.GatewayCustomerRef)
	})

	t.Run("canceled status on update is treated as deletion", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		userID := uuid.New()
		now := h.clock.Now()
		h.store.Put(paidRecord(userID, now, "sub_1", now.Add(24*time.Hour)))

		sub := subscription.GatewaySubscription{ID: "sub_1", CustomerRef: "cus_1", Status: subscription.ProviderStatusCanceled}
		h.gw.addEvent("update", &subscription.GatewayEvent{ID: "evt_6", Type: subscription.EventSubscriptionUpdated, Subscription: &sub})

		require.NoError(t, h.svc.HandleWebhook(context.Background(), []byte("update"), "valid"))
		assert.Equal(t, subscription.TierFree, h.record(t, userID).Tier)
	})

	t.Run("unknown customer is acknowledged", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)

		sub := subscription.GatewaySubscription{ID: "sub_9", CustomerRef: "cus_unknown", Status: subscription.ProviderStatusCanceled}
		h.gw.addEvent("delete", &subscription.GatewayEvent{ID: "evt_7", Type: subscription.EventSubscriptionDeleted, Subscription: &sub})

		assert.NoError(t, h.svc.HandleWebhook(context.Background(), []byte("delete"), "valid"))
	})

	t.Run("ignored events succeed", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		h.gw.addEvent("invoice", &subscription.GatewayEvent{ID: "evt_8", Type: subscription.EventIgnored, ProviderEvent: "invoice.created"})

		assert.NoError(t, h.svc.HandleWebhook(context.Background(), []byte("invoice"), "valid"))
	})
}

func TestService_HandleWebhookDeduplication(t *testing.T) {
	t.Parallel()

	t.Run("skips redelivered events", func(t *testing.T) {
		t.Parallel()
		dedupe := newFakeDeduper()
		h := newHarness(t, subscription.WithEventDeduper(dedupe))
		ctx := context.Background()
		userID := uuid.New()
		now := h.clock.Now()
		h.store.Put(paidRecord(userID, now, "sub_1", now.Add(24*time.Hour)))

		sub := subscription.GatewaySubscription{ID: "sub_1", CustomerRef: "cus_1", Status: subscription.ProviderStatusCanceled}
		h.gw.addEvent("delete", &subscription.GatewayEvent{ID: "evt_1", Type: subscription.EventSubscriptionDeleted, Subscription: &sub})

		require.NoError(t, h.svc.HandleWebhook(ctx, []byte("delete"), "valid"))
		assert.Equal(t, subscription.TierFree, h.record(t, userID).Tier)

		// Relink the record; a reprocessed deletion would downgrade it again.
		h.store.Put(paidRecord(userID, now, "sub_1", now.Add(24*time.Hour)))
		require.NoError(t, h.svc.HandleWebhook(ctx, []byte("delete"), "valid"))
		assert.Equal(t, subscription.TierPro, h.record(t, userID).Tier)
	})

	t.Run("failed events are released for retry", func(t *testing.T) {
		t.Parallel()
		dedupe := newFakeDeduper()
		h := newHarness(t, subscription.WithEventDeduper(dedupe))
		h.gw.addEvent("broken", &subscription.GatewayEvent{ID: "evt_2", Type: subscription.EventCheckoutCompleted})

		err := h.svc.HandleWebhook(context.Background(), []byte("broken"), "valid")
		assert.ErrorIs(t, err, subscription.ErrMalformedWebhook)
		assert.Equal(t, []string{"evt_2"}, dedupe.forgot)
	})
}
