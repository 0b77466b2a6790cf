package subscription

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type catalogFile struct {
	Plans map[string]ProviderRefs `yaml:"plans"`
}

// ParseCatalogRefs decodes provider references from YAML:
//
//	plans:
//	  basic:
//	    gateway_price: price_basic_monthly
//	    store_product: com.example.basic.monthly
//	  pro:
//	    gateway_price: price_pro_monthly
//	    store_product: com.example.pro.monthly
func ParseCatalogRefs(data []byte) (map[Tier]ProviderRefs, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Join(ErrInvalidCatalog, err)
	}

	refs := make(map[Tier]ProviderRefs, len(f.Plans))
	for name, r := range f.Plans {
		tier, err := ParseTier(name)
		if err != nil {
			return nil, errors.Join(ErrInvalidCatalog, err)
		}
		refs[tier] = r
	}
	return refs, nil
}

// LoadCatalogRefs reads provider references from a YAML file.
func LoadCatalogRefs(path string) (map[Tier]ProviderRefs, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan catalog file: %w", err)
	}
	return ParseCatalogRefs(data)
}
