package subscription_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/tierkeep/pkg/subscription"
)

func TestService_SweepExpired(t *testing.T) {
	t.Parallel()

	t.Run("free records are never selected", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		userID := uuid.New()
		rec := subscription.NewRecord(userID, h.clock.Now())
		rec.AutoRenew = false
		h.store.Put(rec)

		report, err := h.svc.Sweep(context.Background())
		require.NoError(t, err)
		assert.Equal(t, subscription.SweepReport{}, report)
		assert.Equal(t, rec, h.record(t, userID))
	})

	t.Run("downgrades non renewing records past expiry", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		now := h.clock.Now()

		expired := paidRecord(uuid.New(), now, "sub_1", now.Add(-time.Minute))
		expired.AutoRenew = false
		expired.CancelledAt = timePtr(now.Add(-10 * 24 * time.Hour))
		h.store.Put(expired)

		active := paidRecord(uuid.New(), now, "sub_2", now.Add(time.Hour))
		active.AutoRenew = false
		h.store.Put(active)

		report, err := h.svc.Sweep(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, report.Downgraded)

		rec := h.record(t, expired.UserID)
		assert.Equal(t, subscription.TierFree, rec.Tier)
		assert.Nil(t, rec.ExpiresAt)
		assert.Equal(t, *expired.CancelledAt, *rec.CancelledAt)
		assert.Equal(t, "cus_1", rec.GatewayCustomerRef)

		assert.Equal(t, subscription.TierPro, h.record(t, active.UserID).Tier)
	})

	t.Run("walks every page", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, subscription.WithConfig(subscription.Config{SweepBatchSize: 2}))
		now := h.clock.Now()

		var ids []uuid.UUID
		for i := range 5 {
			rec := paidRecord(uuid.New(), now, fmt.Sprintf("sub_%d", i), now.Add(-time.Hour))
			rec.AutoRenew = false
			h.store.Put(rec)
			ids = append(ids, rec.UserID)
		}

		report, err := h.svc.Sweep(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 5, report.Downgraded)
		for _, id := range ids {
			assert.Equal(t, subscription.TierFree, h.record(t, id).Tier)
		}
	})

	t.Run("stops when context is cancelled", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		now := h.clock.Now()
		rec := paidRecord(uuid.New(), now, "sub_1", now.Add(-time.Hour))
		rec.AutoRenew = false
		h.store.Put(rec)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := h.svc.Sweep(ctx)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, subscription.TierPro, h.record(t, rec.UserID).Tier)
	})
}

func TestService_SweepOverdue(t *testing.T) {
	t.Parallel()

	overdue := func(h *harness, subRef string) *subscription.Record {
		now := h.clock.Now()
		rec := paidRecord(uuid.New(), now, subRef, now.Add(-subscription.DefaultGracePeriod-time.Hour))
		h.store.Put(rec)
		return rec
	}

	t.Run("records within grace are untouched", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		now := h.clock.Now()
		rec := paidRecord(uuid.New(), now, "sub_1", now.Add(-24*time.Hour))
		h.store.Put(rec)
		h.gw.getErr = subscription.ErrProviderUnavailable

		report, err := h.svc.Sweep(context.Background())
		require.NoError(t, err)
		assert.Equal(t, subscription.SweepReport{}, report)
		assert.Equal(t, rec, h.record(t, rec.UserID))
	})

	t.Run("extends when provider renewed", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		now := h.clock.Now()
		rec := overdue(h, "sub_1")

		renewed := now.Add(28 * 24 * time.Hour)
		sub := activeSub("sub_1", now.Add(-60*24*time.Hour), renewed)
		sub.CustomerRef = "cus_1"
		h.gw.addSubscription(sub)

		report, err := h.svc.Sweep(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, report.Extended)

		stored := h.record(t, rec.UserID)
		assert.Equal(t, subscription.TierPro, stored.Tier)
		assert.Equal(t, renewed, *stored.ExpiresAt)
	})

	t.Run("downgrades when provider cancelled", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		now := h.clock.Now()
		rec := overdue(h, "sub_1")

		sub := activeSub("sub_1", now.Add(-60*24*time.Hour), now.Add(-50*time.Hour))
		sub.CustomerRef = "cus_1"
		sub.Status = subscription.ProviderStatusCanceled
		h.gw.addSubscription(sub)

		report, err := h.svc.Sweep(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, report.Cancelled)
		assert.Equal(t, subscription.TierFree, h.record(t, rec.UserID).Tier)
	})

	t.Run("fail safe when provider does not know the subscription", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		rec := overdue(h, "sub_missing")

		report, err := h.svc.Sweep(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, report.FailSafe)
		assert.Equal(t, subscription.TierFree, h.record(t, rec.UserID).Tier)
	})

	t.Run("fail safe when provider is unreachable", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		rec := overdue(h, "sub_1")
		h.gw.getErr = subscription.ErrProviderUnavailable

		report, err := h.svc.Sweep(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, report.FailSafe)
		assert.Equal(t, subscription.TierFree, h.record(t, rec.UserID).Tier)
	})

	t.Run("skips live subscription with a stale period", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		now := h.clock.Now()
		rec := overdue(h, "sub_1")

		sub := activeSub("sub_1", now.Add(-60*24*time.Hour), now.Add(-50*time.Hour))
		sub.CustomerRef = "cus_1"
		h.gw.addSubscription(sub)

		report, err := h.svc.Sweep(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, report.Skipped)
		assert.Equal(t, subscription.TierPro, h.record(t, rec.UserID).Tier)
	})

	t.Run("asks the platform store for store linked records", func(t *testing.T) {
		t.Parallel()
		verifier := &mockStoreVerifier{}
		h := newHarness(t, subscription.WithStoreVerifier(verifier))
		now := h.clock.Now()

		rec := subscription.NewRecord(uuid.New(), now)
		rec.Tier = subscription.TierBasic
		rec.ExpiresAt = timePtr(now.Add(-subscription.DefaultGracePeriod - time.Hour))
		rec.StoreOriginalTransactionRef = "1000"
		rec.StoreTransactionRef = "1005"
		rec.StoreProductRef = "com.example.basic"
		h.store.Put(rec)

		renewed := now.Add(25 * 24 * time.Hour)
		verifier.On("SubscriptionStatus", mock.Anything, "1000").Return(&subscription.StoreTransaction{
			TransactionRef:         "1006",
			OriginalTransactionRef: "1000",
			ProductRef:             "com.example.basic",
			Status:                 subscription.ProviderStatusActive,
			ExpiresAt:              &renewed,
			AutoRenew:              true,
		}, nil).Once()

		report, err := h.svc.Sweep(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, report.Extended)
		assert.Equal(t, renewed, *h.record(t, rec.UserID).ExpiresAt)
		verifier.AssertExpectations(t)
	})
}
