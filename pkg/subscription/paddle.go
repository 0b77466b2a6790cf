package subscription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
	"github.com/google/uuid"
)

// PaddleConfig holds configuration for the Paddle gateway.
type PaddleConfig struct {
	APIKey        string `env:"PADDLE_API_KEY,required"`
	WebhookSecret string `env:"PADDLE_WEBHOOK_SECRET,required"`
	Environment   string `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
}

// PaddleSignatureHeader is the request header carrying Paddle webhook signatures.
const PaddleSignatureHeader = "Paddle-Signature"

// PaddleGateway implements Gateway for Paddle Billing.
// Paddle creates customers during checkout, so a checkout is a transaction
// and the customer reference is learned once it completes.
type PaddleGateway struct {
	client   *paddle.SDK
	verifier *paddle.WebhookVerifier
}

// NewPaddleGateway creates a new Paddle gateway.
func NewPaddleGateway(config PaddleConfig) (*PaddleGateway, error) {
	if config.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if config.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}

	var client *paddle.SDK
	var err error

	switch strings.ToLower(config.Environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(config.APIKey)
	case "production", "":
		client, err = paddle.New(config.APIKey)
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidProviderEnvironment, config.Environment)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle client: %w", err)
	}

	return &PaddleGateway{
		client:   client,
		verifier: paddle.NewWebhookVerifier(config.WebhookSecret),
	}, nil
}

func (p *PaddleGateway) Name() string { return "paddle" }

// EnsureCustomer returns existingRef unchanged; Paddle creates the customer at checkout.
func (p *PaddleGateway) EnsureCustomer(_ context.Context, _ uuid.UUID, existingRef string) (string, error) {
	return existingRef, nil
}

func (p *PaddleGateway) ListSubscriptions(ctx context.Context, customerRef string) ([]GatewaySubscription, error) {
	if customerRef == "" {
		return nil, nil
	}

	res, err := p.client.SubscriptionsClient.ListSubscriptions(ctx, &paddle.ListSubscriptionsRequest{
		CustomerID: []string{customerRef},
	})
	if err != nil {
		return nil, classifyPaddleError("list subscriptions", err)
	}

	var out []GatewaySubscription
	err = res.Iter(ctx, func(s *paddle.Subscription) (bool, error) {
		out = append(out, fromPaddleSubscription(s))
		return true, nil
	})
	if err != nil {
		return nil, classifyPaddleError("list subscriptions", err)
	}
	return out, nil
}

func (p *PaddleGateway) GetSubscription(ctx context.Context, subscriptionRef string) (*GatewaySubscription, error) {
	s, err := p.client.SubscriptionsClient.GetSubscription(ctx, &paddle.GetSubscriptionRequest{
		SubscriptionID: subscriptionRef,
	})
	if err != nil {
		return nil, classifyPaddleError("get subscription", err)
	}
	out := fromPaddleSubscription(s)
	return &out, nil
}

func (p *PaddleGateway) CancelSubscription(ctx context.Context, subscriptionRef string, atPeriodEnd bool) error {
	effective := paddle.EffectiveFromImmediately
	if atPeriodEnd {
		effective = paddle.EffectiveFromNextBillingPeriod
	}

	_, err := p.client.SubscriptionsClient.CancelSubscription(ctx, &paddle.CancelSubscriptionRequest{
		SubscriptionID: subscriptionRef,
		EffectiveFrom:  paddle.PtrTo(effective),
	})
	if err != nil {
		return classifyPaddleError("cancel subscription", err)
	}
	return nil
}

// CreateCheckout opens a transaction whose checkout URL is the hosted checkout.
// Trials come from the price configuration in Paddle; TrialDays is recorded in custom data only.
func (p *PaddleGateway) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if req.PriceRef == "" {
		return nil, fmt.Errorf("%w: price reference is required", ErrInvalidPlan)
	}

	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  req.PriceRef,
		Quantity: 1,
	})

	custom := paddle.CustomData{}
	for k, v := range req.Metadata {
		custom[k] = v
	}
	if req.TrialDays > 0 {
		custom["trial_days"] = strconv.Itoa(req.TrialDays)
	}

	txReq := &paddle.CreateTransactionRequest{
		Items:      []paddle.CreateTransactionItems{*item},
		CustomData: custom,
	}
	if req.CustomerRef != "" {
		txReq.CustomerID = paddle.PtrTo(req.CustomerRef)
	}
	if req.SuccessURL != "" {
		txReq.Checkout = &paddle.TransactionCheckout{URL: paddle.PtrTo(req.SuccessURL)}
	}

	tx, err := p.client.TransactionsClient.CreateTransaction(ctx, txReq)
	if err != nil {
		return nil, classifyPaddleError("create transaction", err)
	}
	if tx.Checkout == nil || tx.Checkout.URL == nil {
		return nil, ErrNoCheckoutURL
	}

	return &CheckoutSession{
		ID:       tx.ID,
		URL:      *tx.Checkout.URL,
		Status:   CheckoutOpen,
		Metadata: req.Metadata,
	}, nil
}

func (p *PaddleGateway) GetCheckout(ctx context.Context, checkoutRef string) (*CheckoutSession, error) {
	tx, err := p.client.TransactionsClient.GetTransaction(ctx, &paddle.GetTransactionRequest{
		TransactionID: checkoutRef,
	})
	if err != nil {
		return nil, classifyPaddleError("get transaction", err)
	}

	out := &CheckoutSession{
		ID:       tx.ID,
		Metadata: customDataStrings(tx.CustomData),
	}
	if tx.CustomerID != nil {
		out.CustomerRef = *tx.CustomerID
	}

	switch tx.Status {
	case paddle.TransactionStatusCompleted, paddle.TransactionStatusPaid:
		out.Status = CheckoutComplete
	case paddle.TransactionStatusCanceled:
		out.Status = CheckoutExpired
	case paddle.TransactionStatusPastDue:
		out.Status = CheckoutFailed
	default:
		out.Status = CheckoutOpen
	}

	if tx.SubscriptionID != nil && *tx.SubscriptionID != "" {
		sub, err := p.GetSubscription(ctx, *tx.SubscriptionID)
		if err != nil {
			return nil, err
		}
		out.Subscription = sub
	}
	return out, nil
}

// paddleEvent is the envelope shared by all Paddle notifications.
type paddleEvent struct {
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
}

// ParseWebhook verifies the Paddle-Signature header and normalizes the event.
func (p *PaddleGateway) ParseWebhook(ctx context.Context, payload []byte, signature string) (*GatewayEvent, error) {
	if strings.TrimSpace(signature) == "" {
		return nil, fmt.Errorf("%w: missing Paddle signature", ErrWebhookVerificationFailed)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhook", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request for verification: %w", err)
	}
	req.Header.Set(PaddleSignatureHeader, signature)

	valid, err := p.verifier.Verify(req)
	if err != nil {
		return nil, errors.Join(ErrWebhookVerificationFailed, err)
	}
	if !valid {
		return nil, ErrWebhookVerificationFailed
	}

	var env paddleEvent
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, errors.Join(ErrMalformedWebhook, err)
	}

	out := &GatewayEvent{ID: env.EventID, ProviderEvent: env.EventType, Type: EventIgnored}

	switch env.EventType {
	case "transaction.completed":
		var tx struct {
			ID             string  `json:"id"`
			SubscriptionID *string `json:"subscription_id"`
		}
		if err := json.Unmarshal(env.Data, &tx); err != nil {
			return nil, errors.Join(ErrMalformedWebhook, err)
		}
		if tx.SubscriptionID == nil || *tx.SubscriptionID == "" {
			return out, nil
		}
		out.Type = EventCheckoutCompleted
		out.Checkout = &CheckoutSession{ID: tx.ID}

	case "subscription.updated", "subscription.past_due", "subscription.paused",
		"subscription.resumed", "subscription.activated", "subscription.canceled":
		var s paddle.Subscription
		if err := json.Unmarshal(env.Data, &s); err != nil {
			return nil, errors.Join(ErrMalformedWebhook, err)
		}
		sub := fromPaddleSubscription(&s)
		out.Subscription = &sub
		out.Type = EventSubscriptionUpdated
		if env.EventType == "subscription.canceled" {
			out.Type = EventSubscriptionDeleted
		}
	}

	return out, nil
}

func fromPaddleSubscription(s *paddle.Subscription) GatewaySubscription {
	out := GatewaySubscription{
		ID:          s.ID,
		CustomerRef: s.CustomerID,
		Status:      mapPaddleStatus(s.Status),
		CreatedAt:   parsePaddleTime(s.CreatedAt),
		Metadata:    customDataStrings(s.CustomData),
	}
	if s.CurrentBillingPeriod != nil {
		out.CurrentPeriodEnd = parsePaddleTime(s.CurrentBillingPeriod.EndsAt)
	}
	if s.ScheduledChange != nil && s.ScheduledChange.Action == paddle.ScheduledChangeActionCancel {
		out.CancelAtPeriodEnd = true
	}
	if s.CanceledAt != nil {
		out.CanceledAt = ptr(parsePaddleTime(*s.CanceledAt))
	}
	if len(s.Items) > 0 {
		item := s.Items[0]
		out.PriceRef = item.Price.ID
		if amount, err := strconv.ParseInt(item.Price.UnitPrice.Amount, 10, 64); err == nil {
			out.Amount = Money{Amount: amount, Currency: string(item.Price.UnitPrice.CurrencyCode)}
		}
		if item.TrialDates != nil && out.Status == ProviderStatusTrialing {
			out.TrialEnd = ptr(parsePaddleTime(item.TrialDates.EndsAt))
		}
	}
	return out
}

func mapPaddleStatus(status paddle.SubscriptionStatus) ProviderStatus {
	switch status {
	case paddle.SubscriptionStatusActive:
		return ProviderStatusActive
	case paddle.SubscriptionStatusTrialing:
		return ProviderStatusTrialing
	case paddle.SubscriptionStatusPastDue:
		return ProviderStatusPastDue
	case paddle.SubscriptionStatusCanceled:
		return ProviderStatusCanceled
	case paddle.SubscriptionStatusPaused:
		return ProviderStatusPaused
	default:
		return ProviderStatus(status)
	}
}

func customDataStrings(data paddle.CustomData) map[string]string {
	out := make(map[string]string, len(data))
	for k, v := range data {
		switch val := v.(type) {
		case string:
			out[k] = val
		case bool:
			out[k] = strconv.FormatBool(val)
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		}
	}
	return out
}

func parsePaddleTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// classifyPaddleError maps Paddle SDK failures onto provider sentinels.
func classifyPaddleError(op string, err error) error {
	wrapped := fmt.Errorf("paddle %s: %w", op, err)

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(ErrProviderUnavailable, wrapped)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "not_found"), strings.Contains(msg, "not found"):
		return errors.Join(ErrProviderNotFound, wrapped)
	case strings.Contains(msg, "authentication"), strings.Contains(msg, "forbidden"), strings.Contains(msg, "unauthorized"):
		return errors.Join(ErrProviderAuth, wrapped)
	case strings.Contains(msg, "too_many_requests"), strings.Contains(msg, "internal_error"), strings.Contains(msg, "service_unavailable"):
		return errors.Join(ErrProviderUnavailable, wrapped)
	default:
		return wrapped
	}
}
