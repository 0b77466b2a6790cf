package subscription

import (
	"fmt"
)

// TierEvidence is what a provider tells us about a purchase.
type TierEvidence struct {
	PriceRef string
	Metadata map[string]string
	Amount   Money
}

// TierStrategy resolves a tier from evidence, or reports no match.
type TierStrategy struct {
	Name    string
	Resolve func(c *Catalog, ev TierEvidence) (Tier, bool)
}

var (
	// ResolveByPriceRef matches the provider price against the catalog.
	ResolveByPriceRef = TierStrategy{
		Name: "price_ref",
		Resolve: func(c *Catalog, ev TierEvidence) (Tier, bool) {
			if ev.PriceRef == "" {
				return "", false
			}
			return c.TierForGatewayPrice(ev.PriceRef)
		},
	}

	// ResolveByMetadata uses the target tier recorded when the checkout was opened.
	ResolveByMetadata = TierStrategy{
		Name: "metadata",
		Resolve: func(_ *Catalog, ev TierEvidence) (Tier, bool) {
			tier, err := ParseTier(ev.Metadata[MetaTargetTier])
			if err != nil || !tier.IsPaid() {
				return "", false
			}
			return tier, true
		},
	}

	// ResolveByAmount picks the highest paid plan the charged amount covers.
	ResolveByAmount = TierStrategy{
		Name: "amount",
		Resolve: func(c *Catalog, ev TierEvidence) (Tier, bool) {
			return c.TierForAmount(ev.Amount)
		},
	}
)

// DefaultTierStrategies returns the resolution order used for gateway purchases.
func DefaultTierStrategies() []TierStrategy {
	return []TierStrategy{ResolveByPriceRef, ResolveByMetadata, ResolveByAmount}
}

// TierResolver applies strategies in order until one matches.
type TierResolver struct {
	catalog    *Catalog
	strategies []TierStrategy
}

// NewTierResolver creates a resolver. The default chain is used when no strategies are given.
func NewTierResolver(catalog *Catalog, strategies ...TierStrategy) *TierResolver {
	if catalog == nil {
		panic("subscription: Catalog is required")
	}
	if len(strategies) == 0 {
		strategies = DefaultTierStrategies()
	}
	return &TierResolver{catalog: catalog, strategies: strategies}
}

// Resolve returns the resolved tier and the name of the strategy that matched.
// Returns ErrUnknownProductMapping when no strategy matches.
func (r *TierResolver) Resolve(ev TierEvidence) (Tier, string, error) {
	for _, s := range r.strategies {
		if tier, ok := s.Resolve(r.catalog, ev); ok {
			return tier, s.Name, nil
		}
	}
	return "", "", fmt.Errorf("%w: price=%q amount=%d %s",
		ErrUnknownProductMapping, ev.PriceRef, ev.Amount.Amount, ev.Amount.Currency)
}
