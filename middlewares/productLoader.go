package middlewares

import (
	"context"

	"github.com/graph-gophers/dataloader/v7"
	"github.com/mmdatafocus/purchase_backend/models"
	"gorm.io/gorm"
)

type productReader struct {
	db *gorm.DB
}

func (r *productReader) getProducts(ctx context.Context, ids []int) []*dataloader.Result[*models.Product] {
	var results []models.Product
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&results).Error
	if err != nil {
		return handleError[*models.Product](len(ids), err)
	}
	return generateLoaderResults(results, ids, func(p *models.Product) int { return p.ID })
}

func GetProducts(ctx context.Context, ids []int) ([]*models.Product, []error) {
	loaders := For(ctx)
	return loaders.productLoader.LoadMany(ctx, ids)()
}

type vendorReader struct {
	db *gorm.DB
}

func (r *vendorReader) getVendors(ctx context.Context, ids []int) []*dataloader.Result[*models.Vendor] {
	var results []models.Vendor
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&results).Error
	if err != nil {
		return handleError[*models.Vendor](len(ids), err)
	}
	return generateLoaderResults(results, ids, func(v *models.Vendor) int { return v.ID })
}

func GetVendor(ctx context.Context, id int) (*models.Vendor, error) {
	return For(ctx).vendorLoader.Load(ctx, id)()
}

type shopReader struct {
	db *gorm.DB
}

func (r *shopReader) getShops(ctx context.Context, ids []int) []*dataloader.Result[*models.Shop] {
	var results []models.Shop
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&results).Error
	if err != nil {
		return handleError[*models.Shop](len(ids), err)
	}
	return generateLoaderResults(results, ids, func(s *models.Shop) int { return s.ID })
}

func GetShop(ctx context.Context, id int) (*models.Shop, error) {
	return For(ctx).shopLoader.Load(ctx, id)()
}
