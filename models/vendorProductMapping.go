package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/purchase_backend/matcher"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// VendorProductMapping remembers which catalog product a vendor's invoice
// description resolved to.
type VendorProductMapping struct {
	ID                    int             `gorm:"primary_key" json:"id"`
	VendorId              int             `gorm:"not null;index:uniq_vendor_description,unique" json:"vendor_id"`
	NormalizedDescription string          `gorm:"size:255;not null;index:uniq_vendor_description,unique" json:"normalized_description"`
	ProductId             int             `gorm:"not null;index" json:"product_id"`
	Confidence            decimal.Decimal `gorm:"type:decimal(5,4);default:0" json:"confidence"`
	UsageCount            int             `gorm:"not null;default:0" json:"usage_count"`
	LastUsedAt            *time.Time      `json:"last_used_at"`
	CreatedAt             time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// ReinforceVendorMapping upserts the mapping for (vendor, description). An
// existing mapping is rebound to productId and its confidence only ever rises.
func ReinforceVendorMapping(ctx context.Context, tx *gorm.DB, vendorId int, description string, productId int, confidence decimal.Decimal) error {
	normalized := matcher.Normalize(description)
	if vendorId == 0 || normalized == "" || productId == 0 {
		return nil
	}
	now := time.Now().UTC()
	mapping := VendorProductMapping{
		VendorId:              vendorId,
		NormalizedDescription: normalized,
		ProductId:             productId,
		Confidence:            confidence,
		UsageCount:            1,
		LastUsedAt:            &now,
	}
	return tx.WithContext(ctx).Clauses(clause.OnConflict{
		DoUpdates: clause.Assignments(map[string]interface{}{
			"product_id":   productId,
			"confidence":   gorm.Expr("GREATEST(confidence, ?)", confidence),
			"usage_count":  gorm.Expr("usage_count + 1"),
			"last_used_at": now,
		}),
	}).Create(&mapping).Error
}

func TouchVendorMapping(ctx context.Context, db *gorm.DB, vendorId int, normalized string) error {
	return db.WithContext(ctx).Model(&VendorProductMapping{}).
		Where("vendor_id = ? AND normalized_description = ?", vendorId, normalized).
		Updates(map[string]interface{}{
			"usage_count":  gorm.Expr("usage_count + 1"),
			"last_used_at": time.Now().UTC(),
		}).Error
}
