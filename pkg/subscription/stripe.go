package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	stripe "github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
)

// StripeConfig holds configuration for the Stripe gateway.
type StripeConfig struct {
	SecretKey     string `env:"STRIPE_SECRET_KEY,required"`
	WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET,required"`
	APIURL        string `env:"STRIPE_API_URL"` // overrides the API endpoint, e.g. for stripe-mock
}

// StripeSignatureHeader is the request header carrying Stripe webhook signatures.
const StripeSignatureHeader = "Stripe-Signature"

// StripeGateway implements Gateway for Stripe.
type StripeGateway struct {
	api           *client.API
	webhookSecret string
}

// NewStripeGateway creates a Stripe gateway with its own API client.
func NewStripeGateway(cfg StripeConfig) (*StripeGateway, error) {
	if cfg.SecretKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}

	var backends *stripe.Backends
	if cfg.APIURL != "" {
		backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
			URL:               stripe.String(cfg.APIURL),
			MaxNetworkRetries: stripe.Int64(0),
			LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
		})
		backends = &stripe.Backends{API: backend, Connect: backend, Uploads: backend}
	}

	return &StripeGateway{
		api:           client.New(cfg.SecretKey, backends),
		webhookSecret: cfg.WebhookSecret,
	}, nil
}

func (g *StripeGateway) Name() string { return "stripe" }

// EnsureCustomer reuses existingRef or creates a customer tagged with the user ID.
// The idempotency key makes concurrent first checkouts share one customer.
func (g *StripeGateway) EnsureCustomer(ctx context.Context, userID uuid.UUID, existingRef string) (string, error) {
	if existingRef != "" {
		return existingRef, nil
	}

	params := &stripe.CustomerParams{}
	params.Context = ctx
	params.AddMetadata(MetaUserID, userID.String())
	params.SetIdempotencyKey("customer-" + userID.String())

	c, err := g.api.Customers.New(params)
	if err != nil {
		return "", classifyStripeError("create customer", err)
	}
	return c.ID, nil
}

func (g *StripeGateway) ListSubscriptions(ctx context.Context, customerRef string) ([]GatewaySubscription, error) {
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerRef),
		Status:   stripe.String("all"),
	}
	params.Context = ctx

	var out []GatewaySubscription
	it := g.api.Subscriptions.List(params)
	for it.Next() {
		out = append(out, fromStripeSubscription(it.Subscription()))
	}
	if err := it.Err(); err != nil {
		return nil, classifyStripeError("list subscriptions", err)
	}
	return out, nil
}

func (g *StripeGateway) GetSubscription(ctx context.Context, subscriptionRef string) (*GatewaySubscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	sub, err := g.api.Subscriptions.Get(subscriptionRef, params)
	if err != nil {
		return nil, classifyStripeError("get subscription", err)
	}
	out := fromStripeSubscription(sub)
	return &out, nil
}

func (g *StripeGateway) CancelSubscription(ctx context.Context, subscriptionRef string, atPeriodEnd bool) error {
	if atPeriodEnd {
		params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(true)}
		params.Context = ctx
		if _, err := g.api.Subscriptions.Update(subscriptionRef, params); err != nil {
			return classifyStripeError("schedule cancellation", err)
		}
		return nil
	}

	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	if _, err := g.api.Subscriptions.Cancel(subscriptionRef, params); err != nil {
		return classifyStripeError("cancel subscription", err)
	}
	return nil
}

func (g *StripeGateway) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if req.PriceRef == "" {
		return nil, fmt.Errorf("%w: price reference is required", ErrInvalidPlan)
	}

	params := &stripe.CheckoutSessionParams{
		Customer:   stripe.String(req.CustomerRef),
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(req.PriceRef),
				Quantity: stripe.Int64(1),
			},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: req.Metadata,
		},
	}
	if ref := req.Metadata[MetaUserID]; ref != "" {
		params.ClientReferenceID = stripe.String(ref)
	}
	if req.TrialDays > 0 {
		params.SubscriptionData.TrialPeriodDays = stripe.Int64(int64(req.TrialDays))
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	params.Context = ctx

	sess, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, classifyStripeError("create checkout", err)
	}
	if sess.URL == "" {
		return nil, ErrNoCheckoutURL
	}
	return fromStripeCheckout(sess), nil
}

func (g *StripeGateway) GetCheckout(ctx context.Context, checkoutRef string) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("subscription")

	sess, err := g.api.CheckoutSessions.Get(checkoutRef, params)
	if err != nil {
		return nil, classifyStripeError("get checkout", err)
	}
	return fromStripeCheckout(sess), nil
}

// ParseWebhook verifies the Stripe-Signature header and normalizes the event.
func (g *StripeGateway) ParseWebhook(_ context.Context, payload []byte, signature string) (*GatewayEvent, error) {
	if strings.TrimSpace(signature) == "" {
		return nil, fmt.Errorf("%w: missing Stripe signature", ErrWebhookVerificationFailed)
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if errors.Is(err, webhook.ErrNotSigned) || errors.Is(err, webhook.ErrNoValidSignature) ||
			errors.Is(err, webhook.ErrInvalidHeader) || errors.Is(err, webhook.ErrTooOld) {
			return nil, errors.Join(ErrWebhookVerificationFailed, err)
		}
		return nil, errors.Join(ErrMalformedWebhook, err)
	}

	out := &GatewayEvent{ID: event.ID, ProviderEvent: string(event.Type), Type: EventIgnored}
	if event.Data == nil {
		return out, nil
	}

	switch event.Type {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return nil, errors.Join(ErrMalformedWebhook, fmt.Errorf("decode checkout.session: %w", err))
		}
		if sess.Mode != stripe.CheckoutSessionModeSubscription {
			return out, nil
		}
		out.Type = EventCheckoutCompleted
		out.Checkout = fromStripeCheckout(&sess)

	case "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, errors.Join(ErrMalformedWebhook, fmt.Errorf("decode subscription: %w", err))
		}
		normalized := fromStripeSubscription(&sub)
		out.Subscription = &normalized
		out.Type = EventSubscriptionUpdated
		if event.Type == "customer.subscription.deleted" {
			out.Type = EventSubscriptionDeleted
		}
	}

	return out, nil
}

func fromStripeCheckout(sess *stripe.CheckoutSession) *CheckoutSession {
	out := &CheckoutSession{
		ID:       sess.ID,
		URL:      sess.URL,
		Metadata: sess.Metadata,
	}
	if sess.Customer != nil {
		out.CustomerRef = sess.Customer.ID
	}

	switch sess.Status {
	case stripe.CheckoutSessionStatusComplete:
		out.Status = CheckoutComplete
		if sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
			out.Status = CheckoutOpen
		}
	case stripe.CheckoutSessionStatusExpired:
		out.Status = CheckoutExpired
	default:
		out.Status = CheckoutOpen
	}

	// Unexpanded subscriptions carry only an ID.
	if sess.Subscription != nil && sess.Subscription.Status != "" {
		sub := fromStripeSubscription(sess.Subscription)
		out.Subscription = &sub
	}
	return out
}

func fromStripeSubscription(s *stripe.Subscription) GatewaySubscription {
	out := GatewaySubscription{
		ID:                s.ID,
		Status:            mapStripeStatus(s.Status),
		CreatedAt:         unixTime(s.Created),
		CurrentPeriodEnd:  unixTime(s.CurrentPeriodEnd),
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
		Metadata:          s.Metadata,
	}
	if s.Customer != nil {
		out.CustomerRef = s.Customer.ID
	}
	if s.TrialEnd > 0 {
		out.TrialEnd = ptr(unixTime(s.TrialEnd))
	}
	if s.CanceledAt > 0 {
		out.CanceledAt = ptr(unixTime(s.CanceledAt))
	}
	if s.Items != nil && len(s.Items.Data) > 0 && s.Items.Data[0].Price != nil {
		price := s.Items.Data[0].Price
		out.PriceRef = price.ID
		out.Amount = Money{Amount: price.UnitAmount, Currency: strings.ToUpper(string(price.Currency))}
	}
	return out
}

func mapStripeStatus(status stripe.SubscriptionStatus) ProviderStatus {
	switch status {
	case stripe.SubscriptionStatusActive:
		return ProviderStatusActive
	case stripe.SubscriptionStatusTrialing:
		return ProviderStatusTrialing
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid:
		return ProviderStatusPastDue
	case stripe.SubscriptionStatusCanceled:
		return ProviderStatusCanceled
	case stripe.SubscriptionStatusIncomplete:
		return ProviderStatusIncomplete
	case stripe.SubscriptionStatusIncompleteExpired:
		return ProviderStatusExpired
	case stripe.SubscriptionStatusPaused:
		return ProviderStatusPaused
	default:
		return ProviderStatus(status)
	}
}

// classifyStripeError maps Stripe SDK failures onto provider sentinels.
func classifyStripeError(op string, err error) error {
	wrapped := fmt.Errorf("stripe %s: %w", op, err)

	var se *stripe.Error
	if !errors.As(err, &se) {
		// Transport failures never reach Stripe's error envelope.
		return errors.Join(ErrProviderUnavailable, wrapped)
	}

	switch {
	case se.HTTPStatusCode == http.StatusUnauthorized || se.HTTPStatusCode == http.StatusForbidden:
		return errors.Join(ErrProviderAuth, wrapped)
	case se.HTTPStatusCode == http.StatusNotFound || se.Code == stripe.ErrorCodeResourceMissing:
		return errors.Join(ErrProviderNotFound, wrapped)
	case se.HTTPStatusCode == http.StatusTooManyRequests || se.HTTPStatusCode >= http.StatusInternalServerError:
		return errors.Join(ErrProviderUnavailable, wrapped)
	default:
		return wrapped
	}
}

func unixTime(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
