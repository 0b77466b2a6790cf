package subscription

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/dmitrymomot/tierkeep/pkg/logger"
)

// HasCapability reports whether the user's effective tier unlocks capability.
// Returns false on any error to fail closed.
func (s *service) HasCapability(ctx context.Context, userID uuid.UUID, capability Capability) bool {
	view, err := s.GetEntitlement(ctx, userID)
	if err != nil {
		s.logger.WarnContext(ctx, "capability check failed closed",
			logger.UserID(userID),
			slog.String("capability", capability.String()),
			logger.Error(err),
		)
		return false
	}
	return s.catalog.CapabilityAllowed(s.effectiveTier(view), capability)
}

// CanCreateTeam checks whether a user already managing currentCount teams may create another.
func (s *service) CanCreateTeam(ctx context.Context, userID uuid.UUID, currentCount int) error {
	view, err := s.GetEntitlement(ctx, userID)
	if err != nil {
		return err
	}
	if !s.catalog.TeamLimitAllows(s.effectiveTier(view), currentCount) {
		return ErrTeamLimitReached
	}
	return nil
}

// effectiveTier treats a paid tier the sweep would already downgrade as free,
// so gates do not depend on sweep latency.
func (s *service) effectiveTier(v EntitlementView) Tier {
	if !v.Type.IsPaid() || v.ExpiresAt == nil {
		return v.Type
	}
	cutoff := s.now()
	if v.AutoRenew {
		cutoff = cutoff.Add(-s.cfg.GracePeriod)
	}
	if v.ExpiresAt.Before(cutoff) {
		return TierFree
	}
	return v.Type
}
