package models

import (
	"time"

	"github.com/mmdatafocus/purchase_backend/matcher"
	"github.com/mmdatafocus/purchase_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ParsedInvoiceLine struct {
	ID                 string          `gorm:"type:char(36);primary_key" json:"id"`
	InvoiceId          string          `gorm:"type:char(36);not null;index" json:"invoice_id"`
	LineNo             int             `gorm:"not null" json:"line_no"`
	RawText            string          `gorm:"type:text" json:"raw_text"`
	Description        string          `gorm:"size:500" json:"description"`
	Qty                decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty"`
	UnitPrice          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_price"`
	TaxRate            decimal.Decimal `gorm:"type:decimal(7,4);default:0" json:"tax_rate"`
	TaxAmount          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"tax_amount"`
	DiscountAmount     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"discount_amount"`
	LandedUnitCost     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"landed_unit_cost"`
	LineTotal          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"line_total"`
	BatchNo            string          `gorm:"size:100" json:"batch_no"`
	ExpiryDate         *time.Time      `gorm:"type:date" json:"expiry_date"`
	HsnCode            string          `gorm:"size:20" json:"hsn_code"`
	SuggestedProductId *int            `gorm:"index" json:"suggested_product_id"`
	MatchedProductId   *int            `gorm:"index" json:"matched_product_id"`
	MatchType          MatchType       `gorm:"size:20;not null;default:'none'" json:"match_type"`
	MatchConfidence    decimal.Decimal `gorm:"type:decimal(5,4);default:0" json:"match_confidence"`
	Suggestions        datatypes.JSON  `json:"suggestions"`
	Status             LineStatus      `gorm:"size:20;not null;index" json:"status"`
	Metadata           datatypes.JSON  `json:"metadata"`
	CreatedAt          time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// ConfidenceDecimal rounds a matcher confidence to the stored precision.
func ConfidenceDecimal(c float64) decimal.Decimal {
	return decimal.NewFromFloat(c).Round(4)
}

// ApplyMatchResult copies a matcher result onto the line without persisting it.
func (l *ParsedInvoiceLine) ApplyMatchResult(res *matcher.Result) {
	l.MatchType = MatchTypeNone
	l.MatchConfidence = decimal.Zero
	l.SuggestedProductId = nil
	l.Suggestions = nil
	if res == nil {
		return
	}
	l.MatchType = MatchType(res.MatchType)
	l.MatchConfidence = ConfidenceDecimal(res.Confidence)
	l.SuggestedProductId = res.ProductId()
	if len(res.Suggestions) > 0 {
		l.Suggestions = utils.ToJSONColumn(res.Suggestions)
	}
}

func (l *ParsedInvoiceLine) LineValue() decimal.Decimal {
	return l.Qty.Mul(l.UnitPrice)
}

// BindLineToProduct marks the line matched to productId.
func BindLineToProduct(tx *gorm.DB, line *ParsedInvoiceLine, productId int, matchType MatchType, confidence decimal.Decimal) error {
	line.MatchedProductId = &productId
	line.SuggestedProductId = &productId
	line.MatchType = matchType
	line.MatchConfidence = confidence
	line.Status = LineStatusMatched
	return tx.Model(&ParsedInvoiceLine{}).Where("id = ?", line.ID).Updates(map[string]interface{}{
		"matched_product_id":   productId,
		"suggested_product_id": productId,
		"match_type":           matchType,
		"match_confidence":     confidence,
		"status":               LineStatusMatched,
	}).Error
}

func IgnoreLine(tx *gorm.DB, line *ParsedInvoiceLine) error {
	line.Status = LineStatusIgnored
	line.MatchedProductId = nil
	return tx.Model(&ParsedInvoiceLine{}).Where("id = ?", line.ID).Updates(map[string]interface{}{
		"status":             LineStatusIgnored,
		"matched_product_id": nil,
	}).Error
}

// PromoteSuggestedLines binds pending or needs_review lines whose suggested
// product scored at least threshold, returning the promoted lines.
func PromoteSuggestedLines(tx *gorm.DB, invoiceId string, threshold decimal.Decimal) ([]ParsedInvoiceLine, error) {
	var lines []ParsedInvoiceLine
	if err := tx.Where("invoice_id = ? AND status IN ? AND suggested_product_id IS NOT NULL AND match_confidence >= ?",
		invoiceId, []LineStatus{LineStatusPending, LineStatusNeedsReview}, threshold).
		Order("line_no ASC").
		Find(&lines).Error; err != nil {
		return nil, err
	}
	for i := range lines {
		l := &lines[i]
		if err := tx.Model(&ParsedInvoiceLine{}).Where("id = ?", l.ID).Updates(map[string]interface{}{
			"matched_product_id": *l.SuggestedProductId,
			"status":             LineStatusMatched,
		}).Error; err != nil {
			return nil, err
		}
		l.MatchedProductId = l.SuggestedProductId
		l.Status = LineStatusMatched
	}
	return lines, nil
}

// SaveLinePricing stores the amounts computed at confirmation.
func SaveLinePricing(tx *gorm.DB, line *ParsedInvoiceLine) error {
	return tx.Model(&ParsedInvoiceLine{}).Where("id = ?", line.ID).Updates(map[string]interface{}{
		"tax_amount":       line.TaxAmount,
		"discount_amount":  line.DiscountAmount,
		"landed_unit_cost": line.LandedUnitCost,
		"line_total":       line.LineTotal,
		"metadata":         line.Metadata,
	}).Error
}
