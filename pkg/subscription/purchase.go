package subscription

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/tierkeep/pkg/logger"
)

// PurchaseRequest is a client-reported platform store purchase.
type PurchaseRequest struct {
	ProductRef             string
	TransactionRef         string
	OriginalTransactionRef string
	Receipt                string
}

// PurchaseCandidate is a purchase offered for restore.
type PurchaseCandidate struct {
	PurchaseRequest
	PurchasedAt time.Time
}

// PurchaseOutcome is the entitlement granted by a verified purchase.
type PurchaseOutcome struct {
	Tier           Tier
	ExpiresAt      time.Time
	TransactionRef string
}

// VerifyPurchase validates a platform purchase with the store and grants its tier.
func (s *service) VerifyPurchase(ctx context.Context, userID uuid.UUID, req PurchaseRequest) (*PurchaseOutcome, error) {
	if s.storeVerifier == nil {
		return nil, fmt.Errorf("%w: platform store is not configured", ErrProviderUnavailable)
	}
	if req.TransactionRef == "" {
		return nil, fmt.Errorf("%w: transaction reference is required", ErrPurchaseInvalid)
	}

	tier, ok := s.catalog.TierForStoreProduct(req.ProductRef)
	if !ok {
		err := fmt.Errorf("%w: product=%q", ErrUnknownProductMapping, req.ProductRef)
		s.unknownMapping(ctx, storeProvider, userID, err)
		return nil, err
	}

	txn, err := s.storeVerifier.VerifyTransaction(ctx, StoreVerification(req))
	if err != nil {
		s.providerError(ctx, storeProvider, err)
		return nil, err
	}

	now := s.now()
	if err := validateStoreTransaction(req, txn, now); err != nil {
		s.logger.WarnContext(ctx, "platform purchase rejected",
			logger.UserID(userID),
			"transaction_ref", req.TransactionRef,
			logger.Error(err),
		)
		return nil, err
	}

	originalRef := txn.OriginalTransactionRef
	if originalRef == "" {
		originalRef = txn.TransactionRef
	}

	if _, err := s.store.Update(ctx, userID, func(r *Record) (bool, error) {
		before := r.Clone()
		r.Tier = tier
		r.ExpiresAt = ptr(txn.ExpiresAt.UTC())
		r.AutoRenew = true
		r.CancelledAt = nil
		r.StoreOriginalTransactionRef = originalRef
		r.StoreTransactionRef = txn.TransactionRef
		r.StoreProductRef = txn.ProductRef
		return !sameEntitlement(before, r), nil
	}); err != nil {
		return nil, fmt.Errorf("failed to commit purchase: %w", err)
	}

	s.logger.InfoContext(ctx, "platform purchase verified",
		logger.UserID(userID),
		logger.Tier(tier.String()),
		"transaction_ref", txn.TransactionRef,
	)

	return &PurchaseOutcome{
		Tier:           tier,
		ExpiresAt:      *txn.ExpiresAt,
		TransactionRef: txn.TransactionRef,
	}, nil
}

// RestorePurchases re-verifies the single most recent known subscription purchase.
// Ties on purchase time are broken by the greatest transaction reference.
func (s *service) RestorePurchases(ctx context.Context, userID uuid.UUID, candidates []PurchaseCandidate) (*PurchaseOutcome, error) {
	latest, ok := s.latestPurchase(candidates)
	if !ok {
		return nil, ErrNothingToRestore
	}
	return s.VerifyPurchase(ctx, userID, latest.PurchaseRequest)
}

func (s *service) latestPurchase(candidates []PurchaseCandidate) (PurchaseCandidate, bool) {
	known := slices.DeleteFunc(slices.Clone(candidates), func(c PurchaseCandidate) bool {
		_, ok := s.catalog.TierForStoreProduct(c.ProductRef)
		return !ok || c.TransactionRef == ""
	})
	if len(known) == 0 {
		return PurchaseCandidate{}, false
	}

	return slices.MaxFunc(known, func(a, b PurchaseCandidate) int {
		if c := a.PurchasedAt.Compare(b.PurchasedAt); c != 0 {
			return c
		}
		return compareTransactionRefs(a.TransactionRef, b.TransactionRef)
	}), true
}

// compareTransactionRefs orders numeric store identifiers by value and
// falls back to lexical order for equal lengths.
func compareTransactionRefs(a, b string) int {
	if c := cmp.Compare(len(a), len(b)); c != 0 {
		return c
	}
	return cmp.Compare(a, b)
}

func validateStoreTransaction(req PurchaseRequest, txn *StoreTransaction, now time.Time) error {
	switch {
	case txn == nil:
		return ErrPurchaseInvalid
	case txn.ProductRef != req.ProductRef:
		return fmt.Errorf("%w: product mismatch (%s != %s)", ErrPurchaseInvalid, txn.ProductRef, req.ProductRef)
	case req.OriginalTransactionRef != "" && txn.OriginalTransactionRef != "" &&
		txn.OriginalTransactionRef != req.OriginalTransactionRef:
		return fmt.Errorf("%w: original transaction mismatch", ErrPurchaseInvalid)
	case txn.RevokedAt != nil:
		return fmt.Errorf("%w: transaction revoked", ErrPurchaseInvalid)
	case txn.ExpiresAt == nil || !txn.ExpiresAt.After(now):
		return fmt.Errorf("%w: subscription expired", ErrPurchaseInvalid)
	}
	return nil
}
