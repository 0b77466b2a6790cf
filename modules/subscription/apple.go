package subscription

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dmitrymomot/tierkeep/handler"
	"github.com/dmitrymomot/tierkeep/pkg/binder"
	"github.com/dmitrymomot/tierkeep/pkg/logger"
	entitlement "github.com/dmitrymomot/tierkeep/pkg/subscription"
)

// AppleService serves platform store purchase verification and restore.
type AppleService struct {
	svc          entitlement.Service
	logger       *slog.Logger
	errorHandler handler.ErrorHandler[handler.Context]
	limit        func(http.Handler) http.Handler
}

func NewAppleService(
	svc entitlement.Service,
	log *slog.Logger,
	errorHandler handler.ErrorHandler[handler.Context],
	opts ...Option,
) *AppleService {
	if log == nil {
		log = slog.Default()
	}
	if errorHandler == nil {
		errorHandler = handler.NewErrorHandler(log)
	}
	o := applyOptions(opts)
	return &AppleService{
		svc:          svc,
		logger:       log.With(logger.Component("apple_api")),
		errorHandler: errorHandler,
		limit:        o.limiter,
	}
}

func (s *AppleService) Handle() http.Handler {
	r := chi.NewRouter()
	r.Use(s.limit)

	r.Post("/verify", handler.Wrap(s.verify,
		handler.WithBinders[handler.Context, applePurchaseRequest](binder.JSON()),
		handler.WithErrorHandler[handler.Context, applePurchaseRequest](s.errorHandler),
	))

	r.Post("/restore", handler.Wrap(s.restore,
		handler.WithBinders[handler.Context, appleRestoreRequest](binder.JSON()),
		handler.WithErrorHandler[handler.Context, appleRestoreRequest](s.errorHandler),
	))

	return r
}

func (s *AppleService) verify(ctx handler.Context, req applePurchaseRequest) handler.Response {
	if err := req.Validate(); err != nil {
		return handler.JSONError(err)
	}

	outcome, err := s.svc.VerifyPurchase(ctx, uuid.MustParse(req.UserID), req.purchase())
	if err != nil {
		return handler.JSONError(mapError(err))
	}
	return handler.JSON(toPurchaseResponse(outcome))
}

func (s *AppleService) restore(ctx handler.Context, req appleRestoreRequest) handler.Response {
	if err := req.Validate(); err != nil {
		return handler.JSONError(err)
	}

	outcome, err := s.svc.RestorePurchases(ctx, uuid.MustParse(req.UserID), req.candidates())
	if err != nil {
		return handler.JSONError(mapError(err))
	}
	return handler.JSON(toPurchaseResponse(outcome))
}

func toPurchaseResponse(o *entitlement.PurchaseOutcome) PurchaseResponse {
	return PurchaseResponse{
		Success:       true,
		Type:          o.Tier.String(),
		ExpiresAt:     o.ExpiresAt,
		TransactionID: o.TransactionRef,
	}
}
