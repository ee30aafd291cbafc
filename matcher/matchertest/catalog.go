// Package matchertest provides an in-memory matcher.Catalog for tests.
package matchertest

import (
	"context"
	"strings"
	"sync"

	"github.com/mmdatafocus/purchase_backend/matcher"
)

type mappingKey struct {
	vendorId   int
	normalized string
}

type mapping struct {
	productId  int
	confidence float64
	usage      int
}

// Catalog is a matcher.Catalog held in memory.
type Catalog struct {
	mu       sync.RWMutex
	products []matcher.Product
	mappings map[mappingKey]*mapping
}

func NewCatalog(products []matcher.Product) *Catalog {
	c := &Catalog{mappings: map[mappingKey]*mapping{}}
	for _, p := range products {
		if p.NormalizedName == "" {
			p.NormalizedName = matcher.Normalize(p.Name)
		}
		c.products = append(c.products, p)
	}
	return c
}

// PutVendorMapping stores or replaces a learned mapping.
func (c *Catalog) PutVendorMapping(vendorId int, description string, productId int, confidence float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mappings[mappingKey{vendorId, matcher.Normalize(description)}] = &mapping{productId: productId, confidence: confidence}
}

// MappingUsage returns the usage count of a mapping, or -1 when absent.
func (c *Catalog) MappingUsage(vendorId int, description string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.mappings[mappingKey{vendorId, matcher.Normalize(description)}]
	if !ok {
		return -1
	}
	return m.usage
}

func (c *Catalog) find(pred func(matcher.Product) bool) *matcher.Product {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.products {
		if pred(p) {
			return &p
		}
	}
	return nil
}

func (c *Catalog) FindBySku(_ context.Context, sku string) (*matcher.Product, error) {
	return c.find(func(p matcher.Product) bool { return p.Sku != "" && strings.EqualFold(p.Sku, sku) }), nil
}

func (c *Catalog) FindByBarcode(_ context.Context, barcode string) (*matcher.Product, error) {
	return c.find(func(p matcher.Product) bool { return p.Barcode != "" && p.Barcode == barcode }), nil
}

func (c *Catalog) FindByNormalizedName(_ context.Context, normalized string) (*matcher.Product, error) {
	return c.find(func(p matcher.Product) bool { return p.NormalizedName == normalized }), nil
}

func (c *Catalog) FindVendorMapping(_ context.Context, vendorId int, normalized string) (*matcher.VendorMapping, error) {
	c.mu.RLock()
	m, ok := c.mappings[mappingKey{vendorId, normalized}]
	c.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	p := c.find(func(p matcher.Product) bool { return p.ID == m.productId })
	if p == nil {
		return nil, nil
	}
	return &matcher.VendorMapping{Product: *p, Confidence: m.confidence}, nil
}

func (c *Catalog) TouchVendorMapping(_ context.Context, vendorId int, normalized string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.mappings[mappingKey{vendorId, normalized}]; ok {
		m.usage++
	}
	return nil
}

func (c *Catalog) ActiveProducts(_ context.Context) ([]matcher.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]matcher.Product, len(c.products))
	copy(out, c.products)
	return out, nil
}

func (c *Catalog) SearchKeywords(_ context.Context, keywords []string, limit int) ([]matcher.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return matcher.RankByKeywordHits(c.products, keywords, limit), nil
}
