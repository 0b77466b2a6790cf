package subscription_test

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	entitlement "github.com/dmitrymomot/tierkeep/pkg/subscription"
)

type mockService struct {
	mock.Mock
	catalog *entitlement.Catalog
}

var _ entitlement.Service = (*mockService)(nil)

func newMockService() *mockService {
	return &mockService{catalog: entitlement.MustCatalog(nil)}
}

func (m *mockService) GetEntitlement(ctx context.Context, userID uuid.UUID) (entitlement.EntitlementView, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(entitlement.EntitlementView), args.Error(1)
}

func (m *mockService) Catalog() *entitlement.Catalog {
	return m.catalog
}

func (m *mockService) HasCapability(ctx context.Context, userID uuid.UUID, capability entitlement.Capability) bool {
	args := m.Called(ctx, userID, capability)
	return args.Bool(0)
}

func (m *mockService) CanCreateTeam(ctx context.Context, userID uuid.UUID, currentCount int) error {
	args := m.Called(ctx, userID, currentCount)
	return args.Error(0)
}

func (m *mockService) SetTier(ctx context.Context, userID uuid.UUID, req entitlement.SetTierRequest) (entitlement.EntitlementView, error) {
	args := m.Called(ctx, userID, req)
	return args.Get(0).(entitlement.EntitlementView), args.Error(1)
}

func (m *mockService) Cancel(ctx context.Context, userID uuid.UUID) (entitlement.EntitlementView, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(entitlement.EntitlementView), args.Error(1)
}

func (m *mockService) CheckTrialEligibility(ctx context.Context, userID uuid.UUID, deviceID string) (entitlement.Eligibility, error) {
	args := m.Called(ctx, userID, deviceID)
	return args.Get(0).(entitlement.Eligibility), args.Error(1)
}

func (m *mockService) StartTrial(ctx context.Context, userID uuid.UUID, planType entitlement.Tier, deviceID string) (entitlement.EntitlementView, error) {
	args := m.Called(ctx, userID, planType, deviceID)
	return args.Get(0).(entitlement.EntitlementView), args.Error(1)
}

func (m *mockService) StartCheckout(ctx context.Context, params entitlement.CheckoutParams) (*entitlement.CheckoutResult, error) {
	args := m.Called(ctx, params)
	if v := args.Get(0); v != nil {
		return v.(*entitlement.CheckoutResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockService) VerifyCheckout(ctx context.Context, checkoutRef string, userID uuid.UUID) (*entitlement.CheckoutOutcome, error) {
	args := m.Called(ctx, checkoutRef, userID)
	if v := args.Get(0); v != nil {
		return v.(*entitlement.CheckoutOutcome), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	args := m.Called(ctx, payload, signature)
	return args.Error(0)
}

func (m *mockService) VerifyPurchase(ctx context.Context, userID uuid.UUID, req entitlement.PurchaseRequest) (*entitlement.PurchaseOutcome, error) {
	args := m.Called(ctx, userID, req)
	if v := args.Get(0); v != nil {
		return v.(*entitlement.PurchaseOutcome), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockService) RestorePurchases(ctx context.Context, userID uuid.UUID, candidates []entitlement.PurchaseCandidate) (*entitlement.PurchaseOutcome, error) {
	args := m.Called(ctx, userID, candidates)
	if v := args.Get(0); v != nil {
		return v.(*entitlement.PurchaseOutcome), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockService) Reconcile(ctx context.Context, userID uuid.UUID) (entitlement.EntitlementView, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(entitlement.EntitlementView), args.Error(1)
}

func (m *mockService) Sweep(ctx context.Context) (entitlement.SweepReport, error) {
	args := m.Called(ctx)
	return args.Get(0).(entitlement.SweepReport), args.Error(1)
}
