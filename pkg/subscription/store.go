package subscription

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store defines entitlement persistence.
// Every mutation must be atomic per user; implementations backed by a
// database use one transaction with a row lock per call.
type Store interface {
	// GetOrCreate returns the user's record, creating the default one if missing.
	GetOrCreate(ctx context.Context, userID uuid.UUID) (*Record, error)

	// Get returns ErrRecordNotFound if the user has no record.
	Get(ctx context.Context, userID uuid.UUID) (*Record, error)

	// FindByGatewayCustomer returns ErrRecordNotFound if no record carries customerRef.
	FindByGatewayCustomer(ctx context.Context, customerRef string) (*Record, error)

	// Update runs fn against the locked record (created if missing) and persists
	// it when fn reports a change. Errors from fn abort the write.
	Update(ctx context.Context, userID uuid.UUID, fn UpdateFunc) (*Record, error)

	// Downgrade resets tier, expiry, auto-renew, cancellation and provider
	// linkage of a paid record matching cond. No other field is written.
	// Reports whether a row was changed.
	Downgrade(ctx context.Context, userID uuid.UUID, cond DowngradeCondition, now time.Time) (bool, error)

	// ListSweepCandidates returns paid records matching q ordered by user ID.
	ListSweepCandidates(ctx context.Context, q SweepQuery) ([]*Record, error)

	// DeviceTrial returns the ledger entry for deviceID, or nil if none exists.
	DeviceTrial(ctx context.Context, deviceID string) (*TrialLedgerEntry, error)

	// RecordTrial atomically inserts the device ledger row and applies ts to
	// the user's record. An exact device/user repeat returns created == false.
	RecordTrial(ctx context.Context, ts TrialStart) (created bool, err error)
}

// UpdateFunc mutates r and reports whether it changed.
type UpdateFunc func(r *Record) (changed bool, err error)

// DowngradeCondition guards Store.Downgrade. Nil fields are not checked.
type DowngradeCondition struct {
	ExpiredBefore          *time.Time
	AutoRenew              *bool
	GatewaySubscriptionRef *string
}

// Matches reports whether r satisfies the condition.
func (c DowngradeCondition) Matches(r *Record) bool {
	if !r.Tier.IsPaid() {
		return false
	}
	if c.ExpiredBefore != nil && (r.ExpiresAt == nil || !r.ExpiresAt.Before(*c.ExpiredBefore)) {
		return false
	}
	if c.AutoRenew != nil && r.AutoRenew != *c.AutoRenew {
		return false
	}
	if c.GatewaySubscriptionRef != nil && r.GatewaySubscriptionRef != *c.GatewaySubscriptionRef {
		return false
	}
	return true
}

// SweepQuery selects paid records whose expiry is before ExpiredBefore.
type SweepQuery struct {
	ExpiredBefore time.Time
	AutoRenew     bool
	After         uuid.UUID // keyset cursor, uuid.Nil starts from the beginning
	Limit         int
}

// TrialLedgerEntry records that a device consumed its trial.
type TrialLedgerEntry struct {
	DeviceID       string
	UserID         uuid.UUID
	PlanType       Tier
	TrialStartedAt time.Time
}

// TrialStart describes a trial to commit to the ledger.
type TrialStart struct {
	UserID    uuid.UUID
	DeviceID  string
	PlanType  Tier
	StartedAt time.Time
	EndsAt    time.Time
	Grant     bool // also switch the record to PlanType until EndsAt
}
