package models

import (
	"context"
	"errors"

	"github.com/mmdatafocus/purchase_backend/matcher"
	"gorm.io/gorm"
)

// GormCatalog serves matcher lookups from the products and
// vendor_product_mappings tables.
type GormCatalog struct {
	db *gorm.DB
}

var _ matcher.Catalog = (*GormCatalog)(nil)

func NewGormCatalog(db *gorm.DB) *GormCatalog {
	return &GormCatalog{db: db}
}

func (c *GormCatalog) first(ctx context.Context, query string, args ...interface{}) (*matcher.Product, error) {
	var p Product
	err := c.db.WithContext(ctx).Where("is_active = ?", true).Where(query, args...).Order("id").First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	cp := p.CatalogProduct()
	return &cp, nil
}

func (c *GormCatalog) FindBySku(ctx context.Context, sku string) (*matcher.Product, error) {
	return c.first(ctx, "sku = ?", sku)
}

func (c *GormCatalog) FindByBarcode(ctx context.Context, barcode string) (*matcher.Product, error) {
	return c.first(ctx, "barcode = ?", barcode)
}

func (c *GormCatalog) FindByNormalizedName(ctx context.Context, normalized string) (*matcher.Product, error) {
	return c.first(ctx, "normalized_name = ?", normalized)
}

func (c *GormCatalog) FindVendorMapping(ctx context.Context, vendorId int, normalized string) (*matcher.VendorMapping, error) {
	var m VendorProductMapping
	err := c.db.WithContext(ctx).
		Where("vendor_id = ? AND normalized_description = ?", vendorId, normalized).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var p Product
	err = c.db.WithContext(ctx).Where("id = ? AND is_active = ?", m.ProductId, true).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	confidence, _ := m.Confidence.Float64()
	return &matcher.VendorMapping{Product: p.CatalogProduct(), Confidence: confidence}, nil
}

func (c *GormCatalog) TouchVendorMapping(ctx context.Context, vendorId int, normalized string) error {
	return TouchVendorMapping(ctx, c.db, vendorId, normalized)
}

func (c *GormCatalog) ActiveProducts(ctx context.Context) ([]matcher.Product, error) {
	var rows []Product
	if err := c.db.WithContext(ctx).
		Select("id", "sku", "barcode", "name", "normalized_name", "brand", "potency").
		Where("is_active = ?", true).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]matcher.Product, len(rows))
	for i, p := range rows {
		out[i] = p.CatalogProduct()
	}
	return out, nil
}

func (c *GormCatalog) SearchKeywords(ctx context.Context, keywords []string, limit int) ([]matcher.Product, error) {
	if len(keywords) == 0 {
		return nil, nil
	}
	q := c.db.WithContext(ctx).Where("is_active = ?", true)
	or := c.db.Where("normalized_name LIKE ?", "%"+keywords[0]+"%")
	for _, k := range keywords[1:] {
		or = or.Or("normalized_name LIKE ?", "%"+k+"%")
	}
	var rows []Product
	if err := q.Where(or).Limit(limit * 10).Find(&rows).Error; err != nil {
		return nil, err
	}
	products := make([]matcher.Product, len(rows))
	for i, p := range rows {
		products[i] = p.CatalogProduct()
	}
	return matcher.RankByKeywordHits(products, keywords, limit), nil
}
