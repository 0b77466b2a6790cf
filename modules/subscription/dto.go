package subscription

import (
	"time"

	entitlement "github.com/dmitrymomot/tierkeep/pkg/subscription"
	"github.com/dmitrymomot/tierkeep/pkg/validator"
)

const maxDeviceIDLength = 255

// Requests

type userPathRequest struct {
	UserID string `path:"userId" json:"-"`
}

func (r userPathRequest) Validate() error {
	return validator.Apply(validator.ValidUUID("userId", r.UserID))
}

type setTierRequest struct {
	UserID    string     `path:"userId" json:"-"`
	Type      string     `json:"type"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`

	authorized bool
}

func (r setTierRequest) Validate() error {
	return validator.Apply(
		validator.ValidUUID("userId", r.UserID),
		validator.RequiredString("type", r.Type),
	)
}

type eligibilityRequest struct {
	UserID   string `json:"userId"`
	DeviceID string `json:"deviceId"`
}

func (r eligibilityRequest) Validate() error {
	return validator.Apply(
		validator.ValidUUID("userId", r.UserID),
		validator.MaxLenString("deviceId", r.DeviceID, maxDeviceIDLength),
	)
}

type startTrialRequest struct {
	UserID   string `json:"userId"`
	PlanType string `json:"planType"`
	DeviceID string `json:"deviceId"`
}

func (r startTrialRequest) Validate() error {
	return validator.Apply(
		validator.ValidUUID("userId", r.UserID),
		validator.RequiredString("planType", r.PlanType),
		validator.RequiredString("deviceId", r.DeviceID),
		validator.MaxLenString("deviceId", r.DeviceID, maxDeviceIDLength),
	)
}

type createCheckoutRequest struct {
	UserID    string `json:"userId"`
	PriceRef  string `json:"priceRef"`
	PlanType  string `json:"planType"`
	Platform  string `json:"platform"`
	WithTrial bool   `json:"withTrial"`
	DeviceID  string `json:"deviceId"`
}

func (r createCheckoutRequest) Validate() error {
	return validator.Apply(
		validator.ValidUUID("userId", r.UserID),
		validator.RequiredString("planType", r.PlanType),
		validator.OneOf("platform", entitlement.Platform(r.Platform), []entitlement.Platform{
			entitlement.PlatformWeb, entitlement.PlatformIOS, entitlement.PlatformAndroid,
		}),
		validator.When(r.WithTrial, validator.RequiredString("deviceId", r.DeviceID)),
		validator.MaxLenString("deviceId", r.DeviceID, maxDeviceIDLength),
	)
}

type verifyCheckoutRequest struct {
	CheckoutRef string `json:"checkoutRef"`
	UserID      string `json:"userId"`
}

func (r verifyCheckoutRequest) Validate() error {
	return validator.Apply(
		validator.RequiredString("checkoutRef", r.CheckoutRef),
		validator.ValidUUID("userId", r.UserID),
	)
}

type applePurchaseRequest struct {
	UserID                string `json:"userId"`
	ProductID             string `json:"productId"`
	TransactionID         string `json:"transactionId"`
	Receipt               string `json:"receipt"`
	OriginalTransactionID string `json:"originalTransactionId"`
}

func (r applePurchaseRequest) Validate() error {
	return validator.Apply(
		validator.ValidUUID("userId", r.UserID),
		validator.RequiredString("productId", r.ProductID),
		validator.RequiredString("transactionId", r.TransactionID),
	)
}

func (r applePurchaseRequest) purchase() entitlement.PurchaseRequest {
	return entitlement.PurchaseRequest{
		ProductRef:             r.ProductID,
		TransactionRef:         r.TransactionID,
		OriginalTransactionRef: r.OriginalTransactionID,
		Receipt:                r.Receipt,
	}
}

type restoreCandidate struct {
	ProductID             string    `json:"productId"`
	TransactionID         string    `json:"transactionId"`
	OriginalTransactionID string    `json:"originalTransactionId"`
	Receipt               string    `json:"receipt"`
	PurchaseDate          time.Time `json:"purchaseDate"`
}

type appleRestoreRequest struct {
	UserID       string             `json:"userId"`
	Transactions []restoreCandidate `json:"transactions"`
}

const maxRestoreCandidates = 100

func (r appleRestoreRequest) Validate() error {
	return validator.Apply(
		validator.ValidUUID("userId", r.UserID),
		validator.RequiredSlice("transactions", r.Transactions),
		validator.MaxLenSlice("transactions", r.Transactions, maxRestoreCandidates),
	)
}

func (r appleRestoreRequest) candidates() []entitlement.PurchaseCandidate {
	out := make([]entitlement.PurchaseCandidate, 0, len(r.Transactions))
	for _, t := range r.Transactions {
		out = append(out, entitlement.PurchaseCandidate{
			PurchaseRequest: entitlement.PurchaseRequest{
				ProductRef:             t.ProductID,
				TransactionRef:         t.TransactionID,
				OriginalTransactionRef: t.OriginalTransactionID,
				Receipt:                t.Receipt,
			},
			PurchasedAt: t.PurchaseDate,
		})
	}
	return out
}

type webhookRequest struct {
	payload   []byte
	signature string
}

// Responses

// EntitlementResponse is the client view of a user's entitlement.
type EntitlementResponse struct {
	Type              string         `json:"type"`
	ExpiresAt         *time.Time     `json:"expiresAt"`
	CancelAtPeriodEnd bool           `json:"cancelAtPeriodEnd"`
	AutoRenew         bool           `json:"autoRenew"`
	TrialUsed         bool           `json:"trialUsed"`
	ActiveTrial       *TrialResponse `json:"activeTrial,omitempty"`
	ManagedBy         string         `json:"managedBy,omitempty"`
}

type TrialResponse struct {
	PlanType  string    `json:"planType"`
	StartedAt time.Time `json:"startedAt"`
	EndsAt    time.Time `json:"endsAt"`
}

type EligibilityResponse struct {
	Eligible        bool           `json:"eligible"`
	Reason          string         `json:"reason,omitempty"`
	DeviceUsedTrial bool           `json:"deviceUsedTrial"`
	UserUsedTrial   bool           `json:"userUsedTrial"`
	CurrentTrial    *TrialResponse `json:"currentTrial,omitempty"`
	TrialDays       int            `json:"trialDays"`
}

type CheckoutResponse struct {
	URL          string `json:"url"`
	CheckoutRef  string `json:"checkoutRef"`
	TrialApplied bool   `json:"trialApplied"`
}

type VerifyCheckoutResponse struct {
	Success   bool       `json:"success"`
	Type      string     `json:"type,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	IsTrial   *bool      `json:"isTrial,omitempty"`
	Message   string     `json:"message,omitempty"`
}

type PurchaseResponse struct {
	Success       bool      `json:"success"`
	Type          string    `json:"type"`
	ExpiresAt     time.Time `json:"expiresAt"`
	TransactionID string    `json:"transactionId"`
}

type PlanResponse struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	MonthlyPrice    MoneyResponse `json:"monthlyPrice"`
	Capabilities    []string      `json:"capabilities"`
	MaxManagedTeams int           `json:"maxManagedTeams"`
	Recommended     bool          `json:"recommended"`
}

type MoneyResponse struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type PlansResponse struct {
	Plans    []PlanResponse `json:"plans"`
	Upgrades []PlanResponse `json:"upgrades,omitempty"`
}

type WebhookResponse struct {
	Received bool `json:"received"`
}

// Mapping

const managedByAppStore = "app_store"

func toEntitlementResponse(v entitlement.EntitlementView) EntitlementResponse {
	resp := EntitlementResponse{
		Type:              v.Type.String(),
		ExpiresAt:         v.ExpiresAt,
		CancelAtPeriodEnd: v.CancelAtPeriodEnd,
		AutoRenew:         v.AutoRenew,
		TrialUsed:         v.TrialUsed,
		ActiveTrial:       toTrialResponse(v.ActiveTrial),
	}
	if v.ManagedByStore {
		resp.ManagedBy = managedByAppStore
	}
	return resp
}

func toTrialResponse(w *entitlement.TrialWindow) *TrialResponse {
	if w == nil {
		return nil
	}
	return &TrialResponse{PlanType: w.Tier.String(), StartedAt: w.StartedAt, EndsAt: w.EndsAt}
}

func toPlanResponses(plans []entitlement.PlanDefinition) []PlanResponse {
	out := make([]PlanResponse, 0, len(plans))
	for _, p := range plans {
		out = append(out, PlanResponse{
			ID:              p.ID.String(),
			Name:            p.Name,
			MonthlyPrice:    MoneyResponse{Amount: p.MonthlyPrice.Amount, Currency: p.MonthlyPrice.Currency},
			Capabilities:    p.Capabilities.Names(),
			MaxManagedTeams: p.MaxManagedTeams,
			Recommended:     p.Recommended,
		})
	}
	return out
}
