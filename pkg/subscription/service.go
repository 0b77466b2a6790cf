package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/dmitrymomot/tierkeep/pkg/logger"
)

// Service defines the public interface of the entitlement engine.
type Service interface {
	// Read path
	GetEntitlement(ctx context.Context, userID uuid.UUID) (EntitlementView, error)
	Catalog() *Catalog
	HasCapability(ctx context.Context, userID uuid.UUID, capability Capability) bool
	CanCreateTeam(ctx context.Context, userID uuid.UUID, currentCount int) error

	// Internal administration
	SetTier(ctx context.Context, userID uuid.UUID, req SetTierRequest) (EntitlementView, error)
	Cancel(ctx context.Context, userID uuid.UUID) (EntitlementView, error)

	// Trials
	CheckTrialEligibility(ctx context.Context, userID uuid.UUID, deviceID string) (Eligibility, error)
	StartTrial(ctx context.Context, userID uuid.UUID, planType Tier, deviceID string) (EntitlementView, error)

	// Gateway
	StartCheckout(ctx context.Context, params CheckoutParams) (*CheckoutResult, error)
	VerifyCheckout(ctx context.Context, checkoutRef string, userID uuid.UUID) (*CheckoutOutcome, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) error

	// Platform store
	VerifyPurchase(ctx context.Context, userID uuid.UUID, req PurchaseRequest) (*PurchaseOutcome, error)
	RestorePurchases(ctx context.Context, userID uuid.UUID, candidates []PurchaseCandidate) (*PurchaseOutcome, error)

	// Background
	Reconcile(ctx context.Context, userID uuid.UUID) (EntitlementView, error)
	Sweep(ctx context.Context) (SweepReport, error)
}

// SetTierRequest is an internal tier assignment.
// Paid tiers require Authorized; free is always accepted.
type SetTierRequest struct {
	Tier       Tier
	ExpiresAt  *time.Time // defaults to DefaultManualGrant from now for paid tiers
	Authorized bool
}

// DefaultManualGrant is the expiry applied to internal paid grants without an explicit one.
const DefaultManualGrant = 30 * 24 * time.Hour

type service struct {
	catalog       *Catalog
	resolver      *TierResolver
	store         Store
	gateway       Gateway
	storeVerifier StoreVerifier
	deduper       EventDeduper
	logger        *slog.Logger
	now           func() time.Time
	cfg           Config
	strategies    []TierStrategy

	reconciles singleflight.Group
	cooldown   *expirable.LRU[uuid.UUID, struct{}]
}

// NewService creates the entitlement engine.
// Panics if catalog, store or gateway is nil to fail fast during initialization.
func NewService(catalog *Catalog, store Store, gateway Gateway, opts ...ServiceOption) Service {
	if catalog == nil {
		panic("subscription: Catalog is required")
	}
	if store == nil {
		panic("subscription: Store is required")
	}
	if gateway == nil {
		panic("subscription: Gateway is required")
	}

	s := &service{
		catalog: catalog,
		store:   store,
		gateway: gateway,
		logger:  slog.Default(),
		now:     func() time.Time { return time.Now().UTC() },
		cfg: Config{
			SweepInterval:     DefaultSweepInterval,
			GracePeriod:       DefaultGracePeriod,
			TrialLength:       DefaultTrialLength,
			ReconcileCooldown: DefaultReconcileCooldown,
			SweepBatchSize:    500,
		},
	}

	for _, opt := range opts {
		opt(s)
	}

	s.resolver = NewTierResolver(catalog, s.strategies...)
	s.logger = s.logger.With(logger.Component("subscription"))
	if s.cfg.ReconcileCooldown > 0 {
		s.cooldown = expirable.NewLRU[uuid.UUID, struct{}](10_000, nil, s.cfg.ReconcileCooldown)
	}

	return s
}

func (s *service) Catalog() *Catalog {
	return s.catalog
}

// GetEntitlement returns the user's entitlement, reconciling stale free records first.
func (s *service) GetEntitlement(ctx context.Context, userID uuid.UUID) (EntitlementView, error) {
	rec, err := s.store.GetOrCreate(ctx, userID)
	if err != nil {
		return EntitlementView{}, fmt.Errorf("failed to load entitlement: %w", err)
	}

	if rec.NeedsReconcile() {
		rec = s.reconcile(ctx, rec)
	}

	return rec.View(s.now()), nil
}

// SetTier applies an internal tier change.
func (s *service) SetTier(ctx context.Context, userID uuid.UUID, req SetTierRequest) (EntitlementView, error) {
	tier, err := ParseTier(string(req.Tier))
	if err != nil {
		return EntitlementView{}, err
	}
	if tier.IsPaid() && !req.Authorized {
		s.logger.WarnContext(ctx, "rejected unauthorized tier change",
			logger.UserID(userID),
			logger.Tier(tier.String()),
			logger.SecurityEvent(),
		)
		return EntitlementView{}, ErrUnauthorizedSubscriptionChange
	}

	now := s.now()

	if !tier.IsPaid() {
		if _, err := s.store.GetOrCreate(ctx, userID); err != nil {
			return EntitlementView{}, err
		}
		if _, err := s.store.Downgrade(ctx, userID, DowngradeCondition{}, now); err != nil {
			return EntitlementView{}, fmt.Errorf("failed to downgrade: %w", err)
		}
		return s.view(ctx, userID)
	}

	expiresAt := now.Add(DefaultManualGrant)
	if req.ExpiresAt != nil {
		if !req.ExpiresAt.After(now) {
			return EntitlementView{}, fmt.Errorf("%w: expiry must be in the future", ErrInvalidPlan)
		}
		expiresAt = req.ExpiresAt.UTC()
	}

	rec, err := s.store.Update(ctx, userID, func(r *Record) (bool, error) {
		r.Tier = tier
		r.ExpiresAt = ptr(expiresAt)
		r.AutoRenew = false
		r.CancelledAt = nil
		return true, nil
	})
	if err != nil {
		return EntitlementView{}, fmt.Errorf("failed to set tier: %w", err)
	}

	s.logger.InfoContext(ctx, "tier set internally", logger.UserID(userID), logger.Tier(tier.String()))
	return rec.View(now), nil
}

// Cancel stops auto-renewal. Access continues until the current expiry.
func (s *service) Cancel(ctx context.Context, userID uuid.UUID) (EntitlementView, error) {
	rec, err := s.store.Get(ctx, userID)
	if err != nil {
		return EntitlementView{}, err
	}
	if rec.HasStoreLinkage() {
		return EntitlementView{}, ErrManagedByPlatformStore
	}
	if !rec.Tier.IsPaid() {
		return EntitlementView{}, ErrNoActiveSubscription
	}

	if ref := rec.GatewaySubscriptionRef; ref != "" {
		if err := s.gateway.CancelSubscription(ctx, ref, true); err != nil {
			s.providerError(ctx, s.gateway.Name(), err)
			return EntitlementView{}, err
		}
	}

	now := s.now()
	rec, err = s.store.Update(ctx, userID, func(r *Record) (bool, error) {
		if !r.Tier.IsPaid() {
			return false, ErrNoActiveSubscription
		}
		if !r.AutoRenew && r.CancelledAt != nil {
			return false, nil
		}
		r.AutoRenew = false
		if r.CancelledAt == nil {
			r.CancelledAt = ptr(now)
		}
		return true, nil
	})
	if err != nil {
		return EntitlementView{}, err
	}

	s.logger.InfoContext(ctx, "subscription cancelled at period end",
		logger.UserID(userID),
		logger.SubscriptionRef(rec.GatewaySubscriptionRef),
	)
	return rec.View(now), nil
}

func (s *service) view(ctx context.Context, userID uuid.UUID) (EntitlementView, error) {
	rec, err := s.store.GetOrCreate(ctx, userID)
	if err != nil {
		return EntitlementView{}, err
	}
	return rec.View(s.now()), nil
}

// providerError logs a classified provider failure and bumps its counter.
func (s *service) providerError(ctx context.Context, provider string, err error) {
	kind := "other"
	level := slog.LevelWarn
	switch {
	case errors.Is(err, ErrProviderUnavailable):
		kind = "unavailable"
	case errors.Is(err, ErrProviderAuth):
		kind = "auth"
		level = slog.LevelError
	case errors.Is(err, ErrProviderNotFound):
		kind = "not_found"
	}
	providerErrors(provider, kind)
	s.logger.Log(ctx, level, "provider call failed", logger.Provider(provider), logger.Error(err))
}

// unknownMapping reports catalog drift loudly.
func (s *service) unknownMapping(ctx context.Context, provider string, userID uuid.UUID, err error) {
	unknownMappings(provider)
	s.logger.ErrorContext(ctx, "provider reference does not map to any plan; entitlement left unchanged",
		logger.Provider(provider),
		logger.UserID(userID),
		logger.Error(err),
	)
}
