package subscription

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dmitrymomot/tierkeep/handler"
	"github.com/dmitrymomot/tierkeep/pkg/binder"
	"github.com/dmitrymomot/tierkeep/pkg/logger"
	entitlement "github.com/dmitrymomot/tierkeep/pkg/subscription"
	"github.com/dmitrymomot/tierkeep/pkg/webhook"
)

// EntitlementService serves the /subscription API: entitlement reads,
// trials, gateway checkout, cancellation and gateway webhooks.
type EntitlementService struct {
	cfg          Config
	svc          entitlement.Service
	logger       *slog.Logger
	errorHandler handler.ErrorHandler[handler.Context]
	limit        func(http.Handler) http.Handler
}

func NewEntitlementService(
	cfg Config,
	svc entitlement.Service,
	log *slog.Logger,
	errorHandler handler.ErrorHandler[handler.Context],
	opts ...Option,
) *EntitlementService {
	if log == nil {
		log = slog.Default()
	}
	if errorHandler == nil {
		errorHandler = handler.NewErrorHandler(log)
	}
	if cfg.SignatureMaxAge <= 0 {
		cfg.SignatureMaxAge = webhook.DefaultMaxAge
	}
	o := applyOptions(opts)
	return &EntitlementService{
		cfg:          cfg,
		svc:          svc,
		logger:       log.With(logger.Component("subscription_api")),
		errorHandler: errorHandler,
		limit:        o.limiter,
	}
}

func (s *EntitlementService) Handle() http.Handler {
	r := chi.NewRouter()

	r.Get("/plans", handler.Wrap(s.plans,
		handler.WithErrorHandler[handler.Context, struct{}](s.errorHandler),
	))

	limited := r.With(s.limit)

	limited.Post("/check-trial-eligibility", handler.Wrap(s.checkTrialEligibility,
		handler.WithBinders[handler.Context, eligibilityRequest](binder.JSON()),
		handler.WithErrorHandler[handler.Context, eligibilityRequest](s.errorHandler),
	))

	limited.Post("/start-trial", handler.Wrap(s.startTrial,
		handler.WithBinders[handler.Context, startTrialRequest](binder.JSON()),
		handler.WithErrorHandler[handler.Context, startTrialRequest](s.errorHandler),
	))

	limited.Post("/create-checkout", handler.Wrap(s.createCheckout,
		handler.WithBinders[handler.Context, createCheckoutRequest](binder.JSON()),
		handler.WithErrorHandler[handler.Context, createCheckoutRequest](s.errorHandler),
	))

	r.Post("/verify-checkout-session", handler.Wrap(s.verifyCheckout,
		handler.WithBinders[handler.Context, verifyCheckoutRequest](binder.JSON()),
		handler.WithErrorHandler[handler.Context, verifyCheckoutRequest](s.errorHandler),
	))

	// Raw body: the gateway signs the exact bytes it sent
	r.Post("/webhook", handler.Wrap(s.webhook,
		handler.WithBinders[handler.Context, webhookRequest](s.bindWebhook),
		handler.WithErrorHandler[handler.Context, webhookRequest](s.errorHandler),
	))

	r.Get("/{userId}", handler.Wrap(s.getEntitlement,
		handler.WithBinders[handler.Context, userPathRequest](binder.Path(chi.URLParam)),
		handler.WithErrorHandler[handler.Context, userPathRequest](s.errorHandler),
	))

	r.Post("/{userId}", handler.Wrap(s.setTier,
		handler.WithBinders[handler.Context, setTierRequest](
			s.bindInternalSignature,
			binder.JSON(),
			binder.Path(chi.URLParam),
		),
		handler.WithErrorHandler[handler.Context, setTierRequest](s.errorHandler),
	))

	r.Post("/{userId}/cancel", handler.Wrap(s.cancel,
		handler.WithBinders[handler.Context, userPathRequest](binder.Path(chi.URLParam)),
		handler.WithErrorHandler[handler.Context, userPathRequest](s.errorHandler),
	))

	return r
}

func (s *EntitlementService) getEntitlement(ctx handler.Context, req userPathRequest) handler.Response {
	if err := req.Validate(); err != nil {
		return handler.JSONError(err)
	}

	view, err := s.svc.GetEntitlement(ctx, uuid.MustParse(req.UserID))
	if err != nil {
		return handler.JSONError(mapError(err))
	}
	return handler.JSON(toEntitlementResponse(view))
}

func (s *EntitlementService) setTier(ctx handler.Context, req setTierRequest) handler.Response {
	if err := req.Validate(); err != nil {
		return handler.JSONError(err)
	}

	tier, err := entitlement.ParseTier(req.Type)
	if err != nil {
		return handler.JSONError(mapError(err))
	}

	view, err := s.svc.SetTier(ctx, uuid.MustParse(req.UserID), entitlement.SetTierRequest{
		Tier:       tier,
		ExpiresAt:  req.ExpiresAt,
		Authorized: req.authorized,
	})
	if err != nil {
		return handler.JSONError(mapError(err))
	}
	return handler.JSON(toEntitlementResponse(view))
}

func (s *EntitlementService) cancel(ctx handler.Context, req userPathRequest) handler.Response {
	if err := req.Validate(); err != nil {
		return handler.JSONError(err)
	}

	view, err := s.svc.Cancel(ctx, uuid.MustParse(req.UserID))
	if err != nil {
		return handler.JSONError(mapError(err))
	}
	return handler.JSON(toEntitlementResponse(view))
}

func (s *EntitlementService) checkTrialEligibility(ctx handler.Context, req eligibilityRequest) handler.Response {
	if err := req.Validate(); err != nil {
		return handler.JSONError(err)
	}

	e, err := s.svc.CheckTrialEligibility(ctx, uuid.MustParse(req.UserID), req.DeviceID)
	if err != nil {
		return handler.JSONError(mapError(err))
	}
	return handler.JSON(EligibilityResponse{
		Eligible:        e.Eligible,
		Reason:          e.Reason,
		DeviceUsedTrial: e.DeviceUsedTrial,
		UserUsedTrial:   e.UserUsedTrial,
		CurrentTrial:    toTrialResponse(e.ActiveTrial),
		TrialDays:       e.TrialDays,
	})
}

func (s *EntitlementService) startTrial(ctx handler.Context, req startTrialRequest) handler.Response {
	if err := req.Validate(); err != nil {
		return handler.JSONError(err)
	}

	tier, err := entitlement.ParseTier(req.PlanType)
	if err != nil {
		return handler.JSONError(ErrTrialPlanNotAllowed)
	}

	view, err := s.svc.StartTrial(ctx, uuid.MustParse(req.UserID), tier, req.DeviceID)
	if err != nil {
		return handler.JSONError(mapError(err))
	}
	return handler.JSON(toEntitlementResponse(view), handler.WithJSONStatus(http.StatusCreated))
}

func (s *EntitlementService) createCheckout(ctx handler.Context, req createCheckoutRequest) handler.Response {
	if err := req.Validate(); err != nil {
		return handler.JSONError(err)
	}

	tier, err := entitlement.ParseTier(req.PlanType)
	if err != nil {
		return handler.JSONError(mapError(err))
	}

	platform := entitlement.Platform(req.Platform)
	if platform == "" {
		platform = entitlement.PlatformWeb
	}

	result, err := s.svc.StartCheckout(ctx, entitlement.CheckoutParams{
		UserID:     uuid.MustParse(req.UserID),
		TargetTier: tier,
		PriceRef:   req.PriceRef,
		Platform:   platform,
		WantsTrial: req.WithTrial,
		DeviceID:   req.DeviceID,
	})
	if err != nil {
		return handler.JSONError(mapError(err))
	}
	return handler.JSON(CheckoutResponse{
		URL:          result.URL,
		CheckoutRef:  result.CheckoutRef,
		TrialApplied: result.TrialApplied,
	}, handler.WithJSONStatus(http.StatusCreated))
}

func (s *EntitlementService) verifyCheckout(ctx handler.Context, req verifyCheckoutRequest) handler.Response {
	if err := req.Validate(); err != nil {
		return handler.JSONError(err)
	}

	outcome, err := s.svc.VerifyCheckout(ctx, req.CheckoutRef, uuid.MustParse(req.UserID))
	switch {
	case errors.Is(err, entitlement.ErrCheckoutPending):
		return handler.JSON(VerifyCheckoutResponse{
			Success: false,
			Message: "payment not completed yet, retry shortly",
		}, handler.WithJSONStatus(http.StatusAccepted))
	case errors.Is(err, entitlement.ErrProviderNotFound):
		return handler.JSONError(ErrCheckoutNotFound)
	case err != nil:
		return handler.JSONError(mapError(err))
	}

	expiresAt := outcome.ExpiresAt
	isTrial := outcome.IsTrial
	return handler.JSON(VerifyCheckoutResponse{
		Success:   true,
		Type:      outcome.Tier.String(),
		ExpiresAt: &expiresAt,
		IsTrial:   &isTrial,
	})
}

func (s *EntitlementService) webhook(ctx handler.Context, req webhookRequest) handler.Response {
	if err := s.svc.HandleWebhook(ctx, req.payload, req.signature); err != nil {
		return handler.JSONError(mapError(err))
	}
	return handler.JSON(WebhookResponse{Received: true})
}

func (s *EntitlementService) plans(ctx handler.Context, _ struct{}) handler.Response {
	catalog := s.svc.Catalog()
	resp := PlansResponse{Plans: toPlanResponses(catalog.Plans())}

	if current := ctx.Request().URL.Query().Get("current"); current != "" {
		tier, err := entitlement.ParseTier(current)
		if err != nil {
			return handler.JSONError(mapError(err))
		}
		resp.Upgrades = toPlanResponses(catalog.UpgradesFrom(tier))
	}

	return handler.JSON(resp)
}

// bindWebhook captures the raw payload and the gateway signature header.
func (s *EntitlementService) bindWebhook(r *http.Request, v any) error {
	req, ok := v.(*webhookRequest)
	if !ok {
		return fmt.Errorf("unexpected webhook target %T", v)
	}

	payload, err := readRawBody(r)
	if err != nil {
		return err
	}

	req.payload = payload
	req.signature = s.webhookSignature(r.Header)
	return nil
}

func (s *EntitlementService) webhookSignature(h http.Header) string {
	if s.cfg.WebhookSignatureHeader != "" {
		return h.Get(s.cfg.WebhookSignatureHeader)
	}
	if sig := h.Get(entitlement.StripeSignatureHeader); sig != "" {
		return sig
	}
	return h.Get(entitlement.PaddleSignatureHeader)
}

// bindInternalSignature marks the request as authorized when it carries a valid
// internal HMAC signature. The body is restored for the JSON binder.
func (s *EntitlementService) bindInternalSignature(r *http.Request, v any) error {
	req, ok := v.(*setTierRequest)
	if !ok {
		return fmt.Errorf("unexpected internal request target %T", v)
	}

	body, err := readRawBody(r)
	if err != nil {
		return err
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	if s.cfg.InternalSecret == "" || r.Header.Get(webhook.HeaderSignature) == "" {
		return nil
	}

	if err := webhook.VerifyRequest(s.cfg.InternalSecret, r.Header, body, s.cfg.SignatureMaxAge); err != nil {
		s.logger.WarnContext(r.Context(), "invalid internal signature",
			logger.Error(err),
			logger.SecurityEvent(),
			slog.String("path", r.URL.Path),
		)
		return nil
	}

	req.authorized = true
	return nil
}

func readRawBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, maxRawBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, handler.ErrRequestTooLarge
		}
		return nil, errors.Join(handler.ErrBadRequest, err)
	}
	return body, nil
}

// SignInternalRequest signs an outgoing internal request body for POST /subscription/{userId}.
func SignInternalRequest(req *http.Request, secret string, body []byte) error {
	headers, err := webhook.SignPayload(secret, body)
	if err != nil {
		return err
	}
	headers.Apply(req.Header)
	req.Body = io.NopCloser(bytes.NewReader(body))
	req.ContentLength = int64(len(body))
	return nil
}

