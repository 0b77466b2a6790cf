package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/tierkeep/pkg/logger"
)

// HandleWebhook verifies and applies a gateway notification.
// Events may arrive out of order or more than once; every handler is idempotent.
func (s *service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	started := time.Now()

	event, err := s.gateway.ParseWebhook(ctx, payload, signature)
	if err != nil {
		if errors.Is(err, ErrWebhookVerificationFailed) {
			s.logger.WarnContext(ctx, "rejected webhook with invalid signature",
				logger.Provider(s.gateway.Name()),
				logger.SecurityEvent(),
				logger.Error(err),
			)
			webhookOutcome("unverified", "rejected", started)
			return err
		}
		webhookOutcome("unparsed", "malformed", started)
		return err
	}

	log := s.logger.With(
		logger.EventID(event.ID),
		logger.EventType(event.ProviderEvent),
		logger.Provider(s.gateway.Name()),
	)

	if s.deduper != nil && event.ID != "" {
		first, err := s.deduper.FirstSeen(ctx, event.ID)
		if err != nil {
			log.WarnContext(ctx, "webhook dedupe unavailable, processing anyway", logger.Error(err))
		} else if !first {
			log.DebugContext(ctx, "skipping redelivered webhook")
			webhookOutcome(event.Type, "duplicate", started)
			return nil
		}
	}

	err = s.applyEvent(ctx, event)
	if err != nil {
		if s.deduper != nil && event.ID != "" {
			if ferr := s.deduper.Forget(ctx, event.ID); ferr != nil {
				log.WarnContext(ctx, "failed to release webhook dedupe key", logger.Error(ferr))
			}
		}
		log.ErrorContext(ctx, "webhook processing failed", logger.Error(err))
		webhookOutcome(event.Type, "error", started)
		return err
	}

	webhookOutcome(event.Type, "processed", started)
	return nil
}

func (s *service) applyEvent(ctx context.Context, event *GatewayEvent) error {
	switch event.Type {
	case EventCheckoutCompleted:
		if event.Checkout == nil {
			return fmt.Errorf("%w: checkout event without checkout", ErrMalformedWebhook)
		}
		return s.onCheckoutCompleted(ctx, event.Checkout)

	case EventSubscriptionUpdated:
		if event.Subscription == nil {
			return fmt.Errorf("%w: subscription event without subscription", ErrMalformedWebhook)
		}
		return s.onSubscriptionUpdated(ctx, event.Subscription)

	case EventSubscriptionDeleted:
		if event.Subscription == nil {
			return fmt.Errorf("%w: subscription event without subscription", ErrMalformedWebhook)
		}
		return s.onSubscriptionDeleted(ctx, event.Subscription)

	default:
		s.logger.DebugContext(ctx, "ignoring webhook event", logger.EventType(event.ProviderEvent))
		return nil
	}
}

func (s *service) onCheckoutCompleted(ctx context.Context, hint *CheckoutSession) error {
	// The event body is only a hint; the checkout is re-fetched with its subscription.
	session, err := s.gateway.GetCheckout(ctx, hint.ID)
	if err != nil {
		s.providerError(ctx, s.gateway.Name(), err)
		return err
	}

	userID, ok, err := s.resolveUser(ctx, session.Metadata, session.CustomerRef)
	if err != nil {
		return err
	}
	if !ok {
		s.logger.WarnContext(ctx, "completed checkout belongs to no known user", "checkout_ref", session.ID)
		return nil
	}

	if err := checkoutState(session); err != nil {
		s.logger.InfoContext(ctx, "checkout completed event without live subscription",
			logger.UserID(userID),
			"checkout_ref", session.ID,
			logger.Error(err),
		)
		return nil
	}

	_, err = s.commitCheckout(ctx, userID, session, "webhook")
	if errors.Is(err, ErrUnknownProductMapping) {
		// Logged loudly already; redelivery cannot fix catalog drift.
		return nil
	}
	return err
}

func (s *service) onSubscriptionUpdated(ctx context.Context, sub *GatewaySubscription) error {
	if sub.Status == ProviderStatusCanceled || sub.Status == ProviderStatusExpired {
		return s.onSubscriptionDeleted(ctx, sub)
	}

	userID, ok, err := s.resolveUser(ctx, sub.Metadata, sub.CustomerRef)
	if err != nil {
		return err
	}
	if !ok {
		s.logger.WarnContext(ctx, "subscription update for unknown user", logger.SubscriptionRef(sub.ID))
		return nil
	}

	tier, _, resolveErr := s.resolver.Resolve(sub.Evidence())
	if resolveErr != nil {
		s.unknownMapping(ctx, s.gateway.Name(), userID, resolveErr)
	}

	var stale bool
	_, err = s.store.Update(ctx, userID, func(r *Record) (bool, error) {
		if r.GatewaySubscriptionRef != "" && r.GatewaySubscriptionRef != sub.ID {
			stale = true
			return false, nil
		}
		if r.GatewaySubscriptionRef == "" && !sub.Status.IsLive() {
			return false, nil
		}

		target := tier
		if resolveErr != nil {
			if !r.Tier.IsPaid() {
				return false, nil
			}
			target = r.Tier
		}
		return r.applyGatewaySubscription(target, sub, sub.CustomerRef, s.now()), nil
	})
	if err != nil {
		return fmt.Errorf("failed to apply subscription update: %w", err)
	}

	if stale {
		s.logger.InfoContext(ctx, "ignoring update for subscription not linked to the user",
			logger.UserID(userID),
			logger.SubscriptionRef(sub.ID),
		)
	}
	return nil
}

func (s *service) onSubscriptionDeleted(ctx context.Context, sub *GatewaySubscription) error {
	userID, ok, err := s.resolveUser(ctx, sub.Metadata, sub.CustomerRef)
	if err != nil {
		return err
	}
	if !ok {
		s.logger.WarnContext(ctx, "subscription deletion for unknown user", logger.SubscriptionRef(sub.ID))
		return nil
	}

	ref := sub.ID
	downgraded, err := s.store.Downgrade(ctx, userID, DowngradeCondition{GatewaySubscriptionRef: &ref}, s.now())
	if err != nil {
		return fmt.Errorf("failed to downgrade: %w", err)
	}

	if downgraded {
		s.logger.InfoContext(ctx, "subscription deleted, downgraded to free",
			logger.UserID(userID),
			logger.SubscriptionRef(sub.ID),
		)
	}
	return nil
}

// resolveUser finds the owner of a provider object by metadata, then by customer reference.
func (s *service) resolveUser(ctx context.Context, meta map[string]string, customerRef string) (uuid.UUID, bool, error) {
	if id, err := uuid.Parse(meta[MetaUserID]); err == nil {
		return id, true, nil
	}
	if customerRef == "" {
		return uuid.Nil, false, nil
	}
	rec, err := s.store.FindByGatewayCustomer(ctx, customerRef)
	if errors.Is(err, ErrRecordNotFound) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("failed to look up gateway customer: %w", err)
	}
	return rec.UserID, true, nil
}
