package subscription

import (
	"time"

	"github.com/google/uuid"
)

// Record is the persisted entitlement state of a single user.
type Record struct {
	UserID      uuid.UUID // Primary key - one record per user
	Tier        Tier
	ExpiresAt   *time.Time // nil only for free
	AutoRenew   bool
	CancelledAt *time.Time // set implies AutoRenew == false

	GatewayCustomerRef     string // survives downgrade so checkout can reuse it
	GatewaySubscriptionRef string

	StoreOriginalTransactionRef string
	StoreTransactionRef         string
	StoreProductRef             string

	TrialUsed      bool
	TrialStartedAt *time.Time
	TrialEndsAt    *time.Time
	TrialTier      Tier // empty when no trial was taken

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewRecord returns the default record created with a new account.
func NewRecord(userID uuid.UUID, now time.Time) *Record {
	return &Record{
		UserID:    userID,
		Tier:      TierFree,
		AutoRenew: true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.ExpiresAt = cloneTime(r.ExpiresAt)
	c.CancelledAt = cloneTime(r.CancelledAt)
	c.TrialStartedAt = cloneTime(r.TrialStartedAt)
	c.TrialEndsAt = cloneTime(r.TrialEndsAt)
	return &c
}

// HasStoreLinkage reports whether the record points at a platform store subscription.
func (r *Record) HasStoreLinkage() bool {
	return r.StoreOriginalTransactionRef != "" || r.StoreTransactionRef != ""
}

// HasGatewayLinkage reports whether the record knows a gateway customer or subscription.
func (r *Record) HasGatewayLinkage() bool {
	return r.GatewayCustomerRef != "" || r.GatewaySubscriptionRef != ""
}

// NeedsReconcile reports whether a free record is linked to an external provider,
// which signals a possibly missed notification.
func (r *Record) NeedsReconcile() bool {
	return r.Tier == TierFree && (r.HasGatewayLinkage() || r.HasStoreLinkage())
}

// IsExpired reports whether a paid entitlement is past its expiry at now.
func (r *Record) IsExpired(now time.Time) bool {
	return r.ExpiresAt != nil && !r.ExpiresAt.After(now)
}

// HasActivePaidTier reports whether the record currently grants a paid tier.
func (r *Record) HasActivePaidTier(now time.Time) bool {
	return r.Tier.IsPaid() && (r.ExpiresAt == nil || r.ExpiresAt.After(now))
}

// ActiveTrial returns the running trial window, if any.
func (r *Record) ActiveTrial(now time.Time) *TrialWindow {
	if !r.TrialUsed || r.TrialStartedAt == nil || r.TrialEndsAt == nil {
		return nil
	}
	if !r.TrialEndsAt.After(now) || r.Tier != r.TrialTier {
		return nil
	}
	return &TrialWindow{
		Tier:      r.TrialTier,
		StartedAt: *r.TrialStartedAt,
		EndsAt:    *r.TrialEndsAt,
	}
}

// ApplyDowngrade resets the entitlement fields to free.
// Gateway customer and trial history are preserved.
func (r *Record) ApplyDowngrade(now time.Time) {
	r.Tier = TierFree
	r.ExpiresAt = nil
	r.AutoRenew = false
	if r.CancelledAt == nil {
		r.CancelledAt = ptr(now)
	}
	r.GatewaySubscriptionRef = ""
	r.StoreOriginalTransactionRef = ""
	r.StoreTransactionRef = ""
	r.StoreProductRef = ""
	r.UpdatedAt = now
}

// ApplyTrialStart marks the trial as consumed and, for locally granted
// trials, switches the record to the trial tier.
func (r *Record) ApplyTrialStart(ts TrialStart) error {
	if ts.Grant && r.HasActivePaidTier(ts.StartedAt) {
		return ErrAlreadyEntitled
	}

	r.TrialUsed = true
	r.TrialStartedAt = ptr(ts.StartedAt)
	r.TrialEndsAt = ptr(ts.EndsAt)
	r.TrialTier = ts.PlanType

	if ts.Grant {
		r.Tier = ts.PlanType
		r.ExpiresAt = ptr(ts.EndsAt)
		r.AutoRenew = false
		r.CancelledAt = nil
	}
	r.UpdatedAt = ts.StartedAt
	return nil
}

// View projects the record into its public read model.
func (r *Record) View(now time.Time) EntitlementView {
	return EntitlementView{
		Type:              r.Tier,
		ExpiresAt:         cloneTime(r.ExpiresAt),
		CancelAtPeriodEnd: r.Tier.IsPaid() && !r.AutoRenew,
		AutoRenew:         r.AutoRenew,
		TrialUsed:         r.TrialUsed,
		ActiveTrial:       r.ActiveTrial(now),
		ManagedByStore:    r.HasStoreLinkage(),
	}
}

// EntitlementView is what callers see about a user's entitlement.
type EntitlementView struct {
	Type              Tier
	ExpiresAt         *time.Time
	CancelAtPeriodEnd bool
	AutoRenew         bool
	TrialUsed         bool
	ActiveTrial       *TrialWindow
	ManagedByStore    bool
}

// TrialWindow is a running trial.
type TrialWindow struct {
	Tier      Tier
	StartedAt time.Time
	EndsAt    time.Time
}

func ptr[T any](v T) *T { return &v }

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
