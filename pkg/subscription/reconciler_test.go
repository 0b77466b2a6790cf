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

func linkedFreeRecord(userID uuid.UUID, now time.Time) *subscription.Record {
	rec := subscription.NewRecord(userID, now)
	rec.GatewayCustomerRef = "cus_1"
	return rec
}

func TestService_Reconcile(t *testing.T) {
	t.Parallel()

	t.Run("restores a live gateway subscription", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		userID := uuid.New()
		now := h.clock.Now()
		h.store.Put(linkedFreeRecord(userID, now))

		periodEnd := now.Add(20 * 24 * time.Hour)
		sub := activeSub("sub_1", now.Add(-10*24*time.Hour), periodEnd)
		sub.CustomerRef = "cus_1"
		h.gw.addSubscription(sub)

		view, err := h.svc.GetEntitlement(context.Background(), userID)
		require.NoError(t, err)
		assert.Equal(t, subscription.TierPro, view.Type)
		assert.Equal(t, periodEnd, *view.ExpiresAt)
		assert.Equal(t, "sub_1", h.record(t, userID).GatewaySubscriptionRef)
	})

	t.Run("provider failure keeps local state", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		userID := uuid.New()
		h.store.Put(linkedFreeRecord(userID, h.clock.Now()))
		h.gw.listErr = subscription.ErrProviderUnavailable

		view, err := h.svc.Reconcile(context.Background(), userID)
		require.NoError(t, err)
		assert.Equal(t, subscription.TierFree, view.Type)
	})

	t.Run("never downgrades a paid record", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		userID := uuid.New()
		now := h.clock.Now()
		rec := paidRecord(userID, now, "sub_1", now.Add(-time.Hour))
		h.store.Put(rec)

		sub := activeSub("sub_1", now.Add(-40*24*time.Hour), now.Add(-time.Hour))
		sub.CustomerRef = "cus_1"
		sub.Status = subscription.ProviderStatusCanceled
		h.gw.addSubscription(sub)

		view, err := h.svc.Reconcile(context.Background(), userID)
		require.NoError(t, err)
		assert.Equal(t, subscription.TierPro, view.Type)
		assert.Equal(t, rec, h.record(t, userID))
	})

	t.Run("stale provider period is not trusted", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		userID := uuid.New()
		now := h.clock.Now()
		h.store.Put(linkedFreeRecord(userID, now))

		sub := activeSub("sub_1", now.Add(-40*24*time.Hour), now.Add(-time.Hour))
		sub.CustomerRef = "cus_1"
		h.gw.addSubscription(sub)

		view, err := h.svc.Reconcile(context.Background(), userID)
		require.NoError(t, err)
		assert.Equal(t, subscription.TierFree, view.Type)
	})

	t.Run("cancels duplicates while restoring", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		userID := uuid.New()
		now := h.clock.Now()
		h.store.Put(linkedFreeRecord(userID, now))

		older := activeSub("sub_a", now.Add(-2*time.Hour), now.Add(20*24*time.Hour))
		older.CustomerRef = "cus_1"
		newer := activeSub("sub_b", now.Add(-time.Hour), now.Add(25*24*time.Hour))
		newer.CustomerRef = "cus_1"
		h.gw.addSubscription(older)
		h.gw.addSubscription(newer)

		_, err := h.svc.Reconcile(context.Background(), userID)
		require.NoError(t, err)
		assert.Equal(t, []string{"sub_b"}, h.gw.liveSubscriptions("cus_1"))
		assert.Equal(t, "sub_b", h.record(t, userID).GatewaySubscriptionRef)
	})

	t.Run("restores store tier from local expiry", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		userID := uuid.New()
		now := h.clock.Now()

		rec := subscription.NewRecord(userID, now)
		rec.ExpiresAt = timePtr(now.Add(5 * 24 * time.Hour))
		rec.StoreOriginalTransactionRef = "1000"
		rec.StoreProductRef = "com.example.basic"
		h.store.Put(rec)

		view, err := h.svc.Reconcile(context.Background(), userID)
		require.NoError(t, err)
		assert.Equal(t, subscription.TierBasic, view.Type)
		assert.True(t, view.ManagedByStore)
	})

	t.Run("cooldown throttles repeated lookups", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, subscription.WithConfig(subscription.Config{ReconcileCooldown: time.Hour}))
		ctx := context.Background()
		userID := uuid.New()
		now := h.clock.Now()
		h.store.Put(linkedFreeRecord(userID, now))

		view, err := h.svc.GetEntitlement(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, subscription.TierFree, view.Type)

		sub := activeSub("sub_1", now, now.Add(30*24*time.Hour))
		sub.CustomerRef = "cus_1"
		h.gw.addSubscription(sub)

		view, err = h.svc.GetEntitlement(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, subscription.TierFree, view.Type)
	})

	t.Run("unknown user", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)

		_, err := h.svc.Reconcile(context.Background(), uuid.New())
		assert.ErrorIs(t, err, subscription.ErrRecordNotFound)
	})
}
