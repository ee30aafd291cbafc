package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/purchase_backend/pricing"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type DiscountRule struct {
	ID           int               `gorm:"primary_key" json:"id"`
	Name         string            `gorm:"size:100;not null" json:"name"`
	Scope        pricing.RuleScope `gorm:"size:20;not null;index:idx_discount_scope" json:"scope"`
	ScopeId      int               `gorm:"not null;default:0;index:idx_discount_scope" json:"scope_id"`
	RuleType     pricing.RuleType  `gorm:"size:20;not null" json:"rule_type"`
	Rate         decimal.Decimal   `gorm:"type:decimal(7,4);default:0" json:"rate"`
	Amount       decimal.Decimal   `gorm:"type:decimal(20,4);default:0" json:"amount"`
	ThresholdQty decimal.Decimal   `gorm:"type:decimal(20,4);default:0" json:"threshold_qty"`
	Priority     int               `gorm:"not null;default:0" json:"priority"`
	StartDate    *time.Time        `gorm:"type:date" json:"start_date"`
	EndDate      *time.Time        `gorm:"type:date" json:"end_date"`
	IsActive     *bool             `gorm:"not null;default:true" json:"is_active"`
	CreatedAt    time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

func (r DiscountRule) PricingRule() pricing.Rule {
	return pricing.Rule{
		ID:           r.ID,
		Name:         r.Name,
		Scope:        r.Scope,
		ScopeId:      r.ScopeId,
		Type:         r.RuleType,
		Rate:         r.Rate,
		Amount:       r.Amount,
		ThresholdQty: r.ThresholdQty,
		Priority:     r.Priority,
		StartDate:    r.StartDate,
		EndDate:      r.EndDate,
		IsActive:     r.IsActive != nil && *r.IsActive,
		CreatedAt:    r.CreatedAt,
	}
}

// CandidateDiscountRules loads the active rules that can apply to a purchase
// from vendorId of any of productIds. Window and threshold checks happen in
// pricing.ApplicableRules.
func CandidateDiscountRules(ctx context.Context, db *gorm.DB, vendorId int, productIds []int) ([]pricing.Rule, error) {
	var rows []DiscountRule
	q := db.WithContext(ctx).Where("is_active = ?", true).
		Where(db.Where("scope = ?", pricing.ScopeGlobal).
			Or("scope = ? AND scope_id = ?", pricing.ScopeVendor, vendorId).
			Or("scope = ? AND scope_id IN ?", pricing.ScopeProduct, append([]int{0}, productIds...)))
	if err := q.Order("priority DESC").Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	rules := make([]pricing.Rule, len(rows))
	for i, r := range rows {
		rules[i] = r.PricingRule()
	}
	return rules, nil
}
