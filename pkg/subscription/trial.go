package subscription

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/dmitrymomot/tierkeep/pkg/logger"
)

// Trial ineligibility reasons.
const (
	TrialReasonDeviceUsed      = "DEVICE_TRIAL_USED"
	TrialReasonUserUsed        = "USER_TRIAL_USED"
	TrialReasonPlanNotAllowed  = "TRIAL_PLAN_NOT_ALLOWED"
	TrialReasonDeviceRequired  = "DEVICE_ID_REQUIRED"
	TrialReasonAlreadyEntitled = "ALREADY_ENTITLED"
)

// Eligibility is the trial ledger verdict for a user and device.
type Eligibility struct {
	Eligible        bool
	Reason          string
	DeviceUsedTrial bool
	UserUsedTrial   bool
	ActiveTrial     *TrialWindow
	TrialDays       int
}

// CheckTrialEligibility reports whether the user may start a pro trial on deviceID.
func (s *service) CheckTrialEligibility(ctx context.Context, userID uuid.UUID, deviceID string) (Eligibility, error) {
	return s.trialEligibility(ctx, userID, deviceID, TierPro)
}

func (s *service) trialEligibility(ctx context.Context, userID uuid.UUID, deviceID string, tier Tier) (Eligibility, error) {
	rec, err := s.store.GetOrCreate(ctx, userID)
	if err != nil {
		return Eligibility{}, fmt.Errorf("failed to load entitlement: %w", err)
	}

	e := Eligibility{
		UserUsedTrial: rec.TrialUsed,
		ActiveTrial:   rec.ActiveTrial(s.now()),
		TrialDays:     s.trialDays(),
	}

	if deviceID != "" {
		entry, err := s.store.DeviceTrial(ctx, deviceID)
		if err != nil {
			return Eligibility{}, fmt.Errorf("failed to load device trial: %w", err)
		}
		e.DeviceUsedTrial = entry != nil
	}

	switch {
	case tier != TierPro:
		e.Reason = TrialReasonPlanNotAllowed
	case e.DeviceUsedTrial:
		e.Reason = TrialReasonDeviceUsed
	case e.UserUsedTrial:
		e.Reason = TrialReasonUserUsed
	case deviceID == "":
		e.Reason = TrialReasonDeviceRequired
	default:
		e.Eligible = true
	}

	return e, nil
}

// StartTrial grants a local pro trial and consumes the device and account trial slot.
// Repeating the call for the same user and device is a no-op.
func (s *service) StartTrial(ctx context.Context, userID uuid.UUID, planType Tier, deviceID string) (EntitlementView, error) {
	if planType != TierPro {
		trialOutcome("local", "plan_not_allowed")
		return EntitlementView{}, ErrTrialPlanNotAllowed
	}
	if deviceID == "" {
		return EntitlementView{}, ErrMissingDeviceID
	}

	now := s.now()
	created, err := s.store.RecordTrial(ctx, TrialStart{
		UserID:    userID,
		DeviceID:  deviceID,
		PlanType:  planType,
		StartedAt: now,
		EndsAt:    now.Add(s.cfg.TrialLength),
		Grant:     true,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrDeviceTrialUsed):
			trialOutcome("local", "device_used")
		case errors.Is(err, ErrUserTrialUsed):
			trialOutcome("local", "user_used")
		case errors.Is(err, ErrAlreadyEntitled):
			trialOutcome("local", "already_entitled")
		default:
			trialOutcome("local", "error")
		}
		return EntitlementView{}, err
	}

	if created {
		trialOutcome("local", "started")
		s.logger.InfoContext(ctx, "trial started",
			logger.UserID(userID),
			logger.DeviceID(deviceID),
			logger.Tier(planType.String()),
		)
	}

	return s.view(ctx, userID)
}

func (s *service) trialDays() int {
	return int(s.cfg.TrialLength.Hours() / 24)
}
