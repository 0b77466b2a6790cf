package subscription

import (
	"errors"
	"fmt"
	"strings"
)

// PlanDefinition describes a tier, its price and what it unlocks.
// Provider references are empty for the free plan.
type PlanDefinition struct {
	ID              Tier
	Name            string
	MonthlyPrice    Money
	GatewayPriceRef string // gateway price identifier (e.g., price_pro_monthly)
	StoreProductRef string // platform store product identifier
	Capabilities    CapabilitySet
	MaxManagedTeams int // Unlimited for pro
	Recommended     bool
}

// ProviderRefs carries deployment-specific provider identifiers for one tier.
type ProviderRefs struct {
	GatewayPriceRef string `yaml:"gateway_price"`
	StoreProductRef string `yaml:"store_product"`
}

// DefaultPlans returns the static plan definitions without provider references.
func DefaultPlans() []PlanDefinition {
	return []PlanDefinition{
		{
			ID:              TierFree,
			Name:            "Free",
			MonthlyPrice:    Money{Amount: 0, Currency: "USD"},
			Capabilities:    freeCapabilities,
			MaxManagedTeams: 0,
		},
		{
			ID:              TierBasic,
			Name:            "Basic",
			MonthlyPrice:    Money{Amount: 499, Currency: "USD"},
			Capabilities:    basicCapabilities,
			MaxManagedTeams: 2,
		},
		{
			ID:              TierPro,
			Name:            "Pro",
			MonthlyPrice:    Money{Amount: 999, Currency: "USD"},
			Capabilities:    proCapabilities,
			MaxManagedTeams: Unlimited,
			Recommended:     true,
		},
	}
}

// Catalog is the immutable, in-memory plan lookup.
type Catalog struct {
	plans     map[Tier]PlanDefinition
	order     []Tier
	byPrice   map[string]Tier
	byProduct map[string]Tier
}

// NewCatalog merges provider references into the default plans.
// Only paid tiers may carry references and every reference must be unique.
func NewCatalog(refs map[Tier]ProviderRefs) (*Catalog, error) {
	c := &Catalog{
		plans:     make(map[Tier]PlanDefinition, 3),
		byPrice:   make(map[string]Tier),
		byProduct: make(map[string]Tier),
	}

	for tier := range refs {
		if _, err := ParseTier(string(tier)); err != nil {
			return nil, errors.Join(ErrInvalidCatalog, err)
		}
	}

	for _, plan := range DefaultPlans() {
		r := refs[plan.ID]
		if !plan.ID.IsPaid() && (r.GatewayPriceRef != "" || r.StoreProductRef != "") {
			return nil, errors.Join(ErrInvalidCatalog,
				fmt.Errorf("plan %s cannot carry provider references", plan.ID))
		}

		plan.GatewayPriceRef = r.GatewayPriceRef
		plan.StoreProductRef = r.StoreProductRef

		if ref := plan.GatewayPriceRef; ref != "" {
			if other, exists := c.byPrice[ref]; exists {
				return nil, errors.Join(ErrInvalidCatalog,
					fmt.Errorf("gateway price %s used by both %s and %s", ref, other, plan.ID))
			}
			c.byPrice[ref] = plan.ID
		}
		if ref := plan.StoreProductRef; ref != "" {
			if other, exists := c.byProduct[ref]; exists {
				return nil, errors.Join(ErrInvalidCatalog,
					fmt.Errorf("store product %s used by both %s and %s", ref, other, plan.ID))
			}
			c.byProduct[ref] = plan.ID
		}

		c.plans[plan.ID] = plan
		c.order = append(c.order, plan.ID)
	}

	return c, nil
}

// MustCatalog is like NewCatalog but panics on invalid configuration.
func MustCatalog(refs map[Tier]ProviderRefs) *Catalog {
	c, err := NewCatalog(refs)
	if err != nil {
		panic(err)
	}
	return c
}

// Plan returns the definition for tier.
func (c *Catalog) Plan(tier Tier) (PlanDefinition, bool) {
	p, ok := c.plans[tier]
	return p, ok
}

// Plans returns all plans ordered from free to pro.
func (c *Catalog) Plans() []PlanDefinition {
	out := make([]PlanDefinition, 0, len(c.order))
	for _, t := range c.order {
		out = append(out, c.plans[t])
	}
	return out
}

// CapabilityAllowed reports whether tier unlocks capability. Pro unlocks everything.
func (c *Catalog) CapabilityAllowed(tier Tier, capability Capability) bool {
	if tier == TierPro {
		return true
	}
	plan, ok := c.plans[tier]
	if !ok {
		return false
	}
	return plan.Capabilities.Has(capability)
}

// TeamLimitAllows reports whether a user on tier who already manages
// currentCount teams may create another one.
func (c *Catalog) TeamLimitAllows(tier Tier, currentCount int) bool {
	plan, ok := c.plans[tier]
	if !ok {
		return false
	}
	switch plan.MaxManagedTeams {
	case Unlimited:
		return true
	case 0:
		return false
	default:
		return currentCount < plan.MaxManagedTeams
	}
}

// UpgradesFrom returns the plans above tier in ascending order.
func (c *Catalog) UpgradesFrom(tier Tier) []PlanDefinition {
	var out []PlanDefinition
	for _, t := range c.order {
		if t.rank() > tier.rank() {
			out = append(out, c.plans[t])
		}
	}
	return out
}

// TierForGatewayPrice maps a gateway price reference to a tier.
func (c *Catalog) TierForGatewayPrice(ref string) (Tier, bool) {
	t, ok := c.byPrice[ref]
	return t, ok
}

// TierForStoreProduct maps a platform store product reference to a tier.
func (c *Catalog) TierForStoreProduct(ref string) (Tier, bool) {
	t, ok := c.byProduct[ref]
	return t, ok
}

// TierForAmount returns the highest paid tier whose monthly price does not exceed amount.
// Currency must match the plan currency. Zero and negative amounts never match.
func (c *Catalog) TierForAmount(amount Money) (Tier, bool) {
	if amount.Amount <= 0 {
		return "", false
	}
	var (
		best  Tier
		found bool
	)
	for _, t := range c.order {
		plan := c.plans[t]
		if !t.IsPaid() || !sameCurrency(plan.MonthlyPrice.Currency, amount.Currency) {
			continue
		}
		if plan.MonthlyPrice.Amount <= amount.Amount && (!found || t.rank() > best.rank()) {
			best, found = t, true
		}
	}
	return best, found
}

func sameCurrency(a, b string) bool {
	if a == "" || b == "" {
		return true
	}
	return strings.EqualFold(a, b)
}
