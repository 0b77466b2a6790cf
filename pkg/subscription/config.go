package subscription

import "time"

// Config holds engine timings and checkout callback targets.
type Config struct {
	SweepInterval     time.Duration `env:"SUBSCRIPTION_SWEEP_INTERVAL" envDefault:"15m"`
	GracePeriod       time.Duration `env:"SUBSCRIPTION_GRACE_PERIOD" envDefault:"48h"`
	TrialLength       time.Duration `env:"SUBSCRIPTION_TRIAL_LENGTH" envDefault:"168h"`
	ReconcileCooldown time.Duration `env:"SUBSCRIPTION_RECONCILE_COOLDOWN" envDefault:"1m"`
	SweepBatchSize    int           `env:"SUBSCRIPTION_SWEEP_BATCH_SIZE" envDefault:"500"`
	SuccessURL        string        `env:"CHECKOUT_SUCCESS_URL,required"`
	CancelURL         string        `env:"CHECKOUT_CANCEL_URL,required"`
}

// CatalogConfig locates deployment-specific provider references.
// Environment values override entries loaded from File.
type CatalogConfig struct {
	File              string `env:"PLAN_CATALOG_FILE"`
	BasicGatewayPrice string `env:"PLAN_BASIC_GATEWAY_PRICE"`
	ProGatewayPrice   string `env:"PLAN_PRO_GATEWAY_PRICE"`
	BasicStoreProduct string `env:"PLAN_BASIC_STORE_PRODUCT"`
	ProStoreProduct   string `env:"PLAN_PRO_STORE_PRODUCT"`
}

// Refs resolves the provider references described by the config.
func (c CatalogConfig) Refs() (map[Tier]ProviderRefs, error) {
	refs := make(map[Tier]ProviderRefs, 2)
	if c.File != "" {
		loaded, err := LoadCatalogRefs(c.File)
		if err != nil {
			return nil, err
		}
		refs = loaded
	}

	override := func(tier Tier, price, product string) {
		r := refs[tier]
		if price != "" {
			r.GatewayPriceRef = price
		}
		if product != "" {
			r.StoreProductRef = product
		}
		if r != (ProviderRefs{}) {
			refs[tier] = r
		}
	}
	override(TierBasic, c.BasicGatewayPrice, c.BasicStoreProduct)
	override(TierPro, c.ProGatewayPrice, c.ProStoreProduct)

	return refs, nil
}

// NewCatalogFromConfig builds a catalog from CatalogConfig.
func NewCatalogFromConfig(cfg CatalogConfig) (*Catalog, error) {
	refs, err := cfg.Refs()
	if err != nil {
		return nil, err
	}
	return NewCatalog(refs)
}
