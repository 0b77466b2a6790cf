package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrymomot/tierkeep/pkg/logger"
)

// SweepReport summarizes one downgrade sweep.
type SweepReport struct {
	Downgraded int // expired without auto-renew
	Extended   int // provider confirmed renewal
	Cancelled  int // provider confirmed cancellation past grace
	FailSafe   int // provider inactive, unreachable or unaware past grace
	Skipped    int
	Failed     int
}

// Sweep runs both downgrade passes once. It keeps no state between runs,
// so an interrupted sweep is simply repeated by the next one.
func (s *service) Sweep(ctx context.Context) (SweepReport, error) {
	started := time.Now()
	now := s.now()
	var report SweepReport

	if err := s.sweepExpired(ctx, now, &report); err != nil {
		sweepRun("error", started)
		return report, err
	}
	if err := s.sweepOverdue(ctx, now, &report); err != nil {
		sweepRun("error", started)
		return report, err
	}

	sweepRun("ok", started)
	s.logger.InfoContext(ctx, "downgrade sweep finished",
		"downgraded", report.Downgraded,
		"extended", report.Extended,
		"cancelled", report.Cancelled,
		"fail_safe", report.FailSafe,
		"skipped", report.Skipped,
		"failed", report.Failed,
		logger.Duration(time.Since(started)),
	)
	return report, nil
}

// sweepExpired downgrades paid records past expiry that will not renew.
func (s *service) sweepExpired(ctx context.Context, now time.Time, report *SweepReport) error {
	autoRenew := false
	cond := DowngradeCondition{ExpiredBefore: &now, AutoRenew: &autoRenew}

	return s.eachCandidate(ctx, SweepQuery{ExpiredBefore: now, AutoRenew: false}, func(rec *Record) {
		ok, err := s.store.Downgrade(ctx, rec.UserID, cond, now)
		switch {
		case err != nil:
			report.Failed++
			s.logger.ErrorContext(ctx, "sweep downgrade failed", logger.UserID(rec.UserID), logger.Error(err))
		case ok:
			report.Downgraded++
			sweepAction("downgraded")
			s.logger.InfoContext(ctx, "entitlement expired, downgraded to free",
				logger.UserID(rec.UserID),
				logger.Tier(rec.Tier.String()),
			)
		default:
			report.Skipped++
		}
	})
}

// sweepOverdue asks providers about auto-renewing records past the grace window.
// Records expired less than the grace window ago are not selected.
func (s *service) sweepOverdue(ctx context.Context, now time.Time, report *SweepReport) error {
	cutoff := now.Add(-s.cfg.GracePeriod)

	return s.eachCandidate(ctx, SweepQuery{ExpiredBefore: cutoff, AutoRenew: true}, func(rec *Record) {
		s.checkOverdue(ctx, rec, now, cutoff, report)
	})
}

func (s *service) checkOverdue(ctx context.Context, rec *Record, now, cutoff time.Time, report *SweepReport) {
	status, err := s.providerStatus(ctx, rec)
	if err == nil && status.live && status.end.After(now) {
		extended, err := s.store.Update(ctx, rec.UserID, func(r *Record) (bool, error) {
			if !r.Tier.IsPaid() || !r.AutoRenew || r.GatewaySubscriptionRef != rec.GatewaySubscriptionRef ||
				r.StoreOriginalTransactionRef != rec.StoreOriginalTransactionRef {
				return false, nil
			}
			if r.ExpiresAt != nil && !r.ExpiresAt.Before(status.end) {
				return false, nil
			}
			r.ExpiresAt = ptr(status.end.UTC())
			return true, nil
		})
		if err != nil {
			report.Failed++
			s.logger.ErrorContext(ctx, "sweep extension failed", logger.UserID(rec.UserID), logger.Error(err))
			return
		}
		report.Extended++
		sweepAction("extended")
		s.logger.InfoContext(ctx, "provider confirmed renewal, expiry extended",
			logger.UserID(rec.UserID),
			"expires_at", extended.ExpiresAt,
		)
		return
	}

	if err == nil && status.live {
		// Provider says live but has not rolled the period yet; check again next run.
		report.Skipped++
		sweepAction("skipped")
		return
	}

	action := "fail_safe"
	reason := "inactive"
	switch {
	case err != nil && errors.Is(err, ErrProviderNotFound):
		reason = "not_found"
	case err != nil:
		reason = "unreachable"
		s.providerError(ctx, status.provider, err)
	case status.cancelled:
		action = "cancelled"
		reason = "cancelled"
	}

	autoRenew := true
	ok, derr := s.store.Downgrade(ctx, rec.UserID, DowngradeCondition{ExpiredBefore: &cutoff, AutoRenew: &autoRenew}, now)
	if derr != nil {
		report.Failed++
		s.logger.ErrorContext(ctx, "sweep downgrade failed", logger.UserID(rec.UserID), logger.Error(derr))
		return
	}
	if !ok {
		report.Skipped++
		return
	}

	if action == "cancelled" {
		report.Cancelled++
	} else {
		report.FailSafe++
	}
	sweepAction(action)
	s.logger.WarnContext(ctx, "overdue entitlement downgraded to free",
		logger.UserID(rec.UserID),
		logger.Tier(rec.Tier.String()),
		logger.Provider(status.provider),
		"reason", reason,
	)
}

type linkedStatus struct {
	provider  string
	live      bool
	cancelled bool
	end       time.Time
}

// providerStatus asks the provider linked to rec about its subscription.
func (s *service) providerStatus(ctx context.Context, rec *Record) (linkedStatus, error) {
	switch {
	case rec.GatewaySubscriptionRef != "":
		st := linkedStatus{provider: s.gateway.Name()}
		sub, err := s.gateway.GetSubscription(ctx, rec.GatewaySubscriptionRef)
		if err != nil {
			return st, err
		}
		st.live = sub.Status.IsLive()
		st.cancelled = sub.Status == ProviderStatusCanceled || sub.Status == ProviderStatusExpired
		st.end = sub.EntitlementEnd()
		return st, nil

	case rec.StoreOriginalTransactionRef != "" && s.storeVerifier != nil:
		st := linkedStatus{provider: storeProvider}
		txn, err := s.storeVerifier.SubscriptionStatus(ctx, rec.StoreOriginalTransactionRef)
		if err != nil {
			return st, err
		}
		st.live = txn.Status.IsLive() && txn.RevokedAt == nil
		st.cancelled = txn.Status == ProviderStatusCanceled || txn.Status == ProviderStatusExpired || txn.RevokedAt != nil
		if txn.ExpiresAt != nil {
			st.end = *txn.ExpiresAt
		}
		return st, nil

	default:
		return linkedStatus{provider: "none"}, fmt.Errorf("%w: record has no provider linkage", ErrProviderNotFound)
	}
}

// eachCandidate walks all sweep candidates in pages ordered by user ID.
func (s *service) eachCandidate(ctx context.Context, q SweepQuery, fn func(*Record)) error {
	q.Limit = s.cfg.SweepBatchSize
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch, err := s.store.ListSweepCandidates(ctx, q)
		if err != nil {
			return fmt.Errorf("failed to list sweep candidates: %w", err)
		}

		for _, rec := range batch {
			if err := ctx.Err(); err != nil {
				return err
			}
			fn(rec)
		}

		if len(batch) < q.Limit || len(batch) == 0 {
			return nil
		}
		q.After = batch[len(batch)-1].UserID
	}
}
