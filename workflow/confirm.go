package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/purchase_backend/models"
	"github.com/mmdatafocus/purchase_backend/pricing"
	"github.com/mmdatafocus/purchase_backend/utils"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

const (
	confirmLockType = "invoice_confirm"
	confirmLockTTL  = 30 * time.Second
	confirmScope    = "invoice_confirm"
)

type ConfirmInput struct {
	IdempotencyKey string                 `json:"-"`
	Notes          string                 `json:"notes"`
	Charges        *models.InvoiceCharges `json:"charges"`
}

type ConfirmResult struct {
	InvoiceId      string               `json:"invoice_id"`
	ReceiptId      string               `json:"receipt_id"`
	Status         models.InvoiceStatus `json:"status"`
	Totals         pricing.Totals       `json:"totals"`
	LinesProcessed int                  `json:"lines_processed"`
	Batches        []models.BatchChange `json:"batches"`
	Replayed       bool                 `json:"replayed"`
}

// Confirm prices the matched lines, creates the goods received note, adds
// stock to the batch ledger and records the completion events, all in one
// transaction with the invoice row locked. A repeated request carrying the
// same idempotency key replays the first result.
func (s *Service) Confirm(ctx context.Context, invoiceId string, input *ConfirmInput) (result *ConfirmResult, err error) {
	ctx, span := tracer.Start(ctx, "ConfirmInvoice")
	span.SetAttributes(attribute.String("invoice_id", invoiceId))
	defer func() { endSpan(span, err) }()

	if input == nil {
		input = &ConfirmInput{}
	}
	release, err := utils.ResourceLock(ctx, confirmLockType, invoiceId, confirmLockTTL, "workflow", "Confirm")
	if err != nil {
		return nil, err
	}
	defer release()

	scope := confirmScope + ":" + invoiceId
	by := actor(ctx)
	now := s.now()

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if input.IdempotencyKey != "" {
			existing, skip, err := BeginIdempotency(tx, scope, input.IdempotencyKey)
			if err != nil {
				return err
			}
			if skip {
				result, err = replayConfirm(ctx, tx, invoiceId, existing)
				return err
			}
		}

		inv, err := models.LockParsedInvoice(tx, invoiceId)
		if err != nil {
			return err
		}
		if input.Charges != nil {
			if err := models.UpdateInvoiceCharges(tx, invoiceId, *input.Charges); err != nil {
				return err
			}
			inv.FreightCharges = input.Charges.Freight
			inv.InsuranceCharges = input.Charges.Insurance
			inv.OtherCharges = input.Charges.Other
		}
		matched, err := ConfirmableLines(inv)
		if err != nil {
			return err
		}

		vendor, err := models.GetVendor(ctx, tx, inv.VendorId)
		if err != nil {
			return err
		}
		shop, err := models.GetShop(ctx, tx, inv.ShopId)
		if err != nil {
			return err
		}
		productIds := make([]int, 0, len(matched))
		for _, l := range matched {
			productIds = append(productIds, *l.MatchedProductId)
		}
		rules, err := models.CandidateDiscountRules(ctx, tx, inv.VendorId, productIds)
		if err != nil {
			return err
		}
		products, err := models.GetProductsByIds(ctx, tx, productIds)
		if err != nil {
			return err
		}

		engine := pricing.Engine{
			Rules:      rules,
			InterState: models.IsInterState(vendor, shop),
			Charges:    pricing.Charges(inv.Charges()),
			At:         now,
		}
		priced, totals := engine.PriceLines(PricingInputs(inv.VendorId, matched, products))

		receipt := BuildReceipt(inv, matched, priced, totals, engine.InterState, by, input.Notes, now)
		for i := range matched {
			ApplyPricing(matched[i], priced[i])
			if err := models.SaveLinePricing(tx, matched[i]); err != nil {
				return err
			}
		}
		if err := models.CreatePurchaseReceipt(tx, receipt); err != nil {
			return err
		}
		changes, err := models.ApplyReceiptToBatches(tx, receipt)
		if err != nil {
			return err
		}

		res := tx.Model(&models.ParsedInvoice{}).
			Where("id = ? AND status IN ?", invoiceId, []models.InvoiceStatus{models.InvoiceStatusParsed, models.InvoiceStatusNeedsReview}).
			Updates(map[string]interface{}{
				"status":       models.InvoiceStatusConfirmed,
				"confirmed_by": &by,
				"confirmed_at": &now,
				"receipt_id":   &receipt.ID,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return &ConfirmConflictError{InvoiceId: invoiceId, Reason: ConflictAlreadyConfirmed}
		}

		if _, err := models.WriteOutboxEvent(ctx, tx, models.AggregatePurchaseReceipt, receipt.ID, models.EventTypePurchaseReceiptCreated, map[string]interface{}{
			"receipt_id":  receipt.ID,
			"invoice_id":  invoiceId,
			"vendor_id":   inv.VendorId,
			"shop_id":     inv.ShopId,
			"line_count":  len(receipt.Lines),
			"subtotal":    totals.Subtotal,
			"discount":    totals.Discount,
			"tax":         totals.Tax,
			"charges":     totals.Charges,
			"grand_total": totals.GrandTotal,
			"approved_by": by,
		}); err != nil {
			return err
		}
		if _, err := models.WriteOutboxEvent(ctx, tx, models.AggregatePurchaseReceipt, receipt.ID, models.EventTypeInventoryRestocked, map[string]interface{}{
			"receipt_id": receipt.ID,
			"shop_id":    inv.ShopId,
			"batches":    changes,
		}); err != nil {
			return err
		}

		if input.IdempotencyKey != "" {
			if err := MarkIdempotencySucceeded(tx, scope, input.IdempotencyKey, receipt.ID); err != nil {
				return err
			}
		}
		result = &ConfirmResult{
			InvoiceId:      invoiceId,
			ReceiptId:      receipt.ID,
			Status:         models.InvoiceStatusConfirmed,
			Totals:         totals,
			LinesProcessed: len(receipt.Lines),
			Batches:        changes,
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrIdempotencyInProgress) {
			return nil, utils.ErrResourceLocked
		}
		return nil, err
	}
	return result, nil
}

func replayConfirm(ctx context.Context, tx *gorm.DB, invoiceId string, key *models.IdempotencyKey) (*ConfirmResult, error) {
	var receipt *models.PurchaseReceipt
	var err error
	if key != nil && key.ResponseRef != nil {
		receipt, err = models.GetPurchaseReceipt(ctx, tx, *key.ResponseRef)
	} else {
		receipt, err = models.GetPurchaseReceiptByInvoice(ctx, tx, invoiceId)
	}
	if err != nil {
		return nil, err
	}
	return &ConfirmResult{
		InvoiceId:      invoiceId,
		ReceiptId:      receipt.ID,
		Status:         models.InvoiceStatusConfirmed,
		LinesProcessed: len(receipt.Lines),
		Totals: pricing.Totals{
			Subtotal:   receipt.Subtotal,
			Discount:   receipt.DiscountTotal,
			Tax:        receipt.TaxTotal,
			Charges:    receipt.ChargesTotal,
			GrandTotal: receipt.GrandTotal,
		},
		Replayed: true,
	}, nil
}

// ConfirmableLines returns the matched lines of an invoice that may be
// confirmed, or a *ConfirmConflictError saying why it may not.
func ConfirmableLines(inv *models.ParsedInvoice) ([]*models.ParsedInvoiceLine, error) {
	matched, unresolved, blocker := inv.ConfirmReadiness()
	if blocker != "" {
		return nil, &ConfirmConflictError{InvoiceId: inv.ID, Reason: blocker, UnresolvedLineIds: unresolved}
	}
	return matched, nil
}

// PricingInputs maps matched lines onto the pricing engine. A line without a
// tax rate takes its product's default rate.
func PricingInputs(vendorId int, lines []*models.ParsedInvoiceLine, products []*models.Product) []pricing.LineInput {
	byId := make(map[int]*models.Product, len(products))
	for _, p := range products {
		byId[p.ID] = p
	}
	inputs := make([]pricing.LineInput, len(lines))
	for i, l := range lines {
		rate := l.TaxRate
		if p, ok := byId[*l.MatchedProductId]; ok && rate.IsZero() {
			rate = p.TaxRate
		}
		inputs[i] = pricing.LineInput{
			LineId:    l.ID,
			VendorId:  vendorId,
			ProductId: *l.MatchedProductId,
			Qty:       l.Qty,
			UnitPrice: l.UnitPrice,
			TaxRate:   rate,
		}
	}
	return inputs
}

// ApplyPricing writes the engine's figures back onto the invoice line.
func ApplyPricing(line *models.ParsedInvoiceLine, p pricing.PricedLine) {
	line.TaxRate = p.Tax.Rate
	line.TaxAmount = p.Tax.Total
	line.DiscountAmount = p.Discount
	line.LandedUnitCost = p.LandedUnitCost
	line.LineTotal = p.LineTotal
	line.Metadata = utils.ToJSONColumn(map[string]interface{}{
		"discounts": p.Discounts,
		"tax":       p.Tax,
	})
}

// BuildReceipt assembles the goods received note for priced lines.
func BuildReceipt(inv *models.ParsedInvoice, lines []*models.ParsedInvoiceLine, priced []pricing.PricedLine, totals pricing.Totals, interState bool, approvedBy, notes string, now time.Time) *models.PurchaseReceipt {
	receipt := &models.PurchaseReceipt{
		InvoiceId:     inv.ID,
		VendorId:      inv.VendorId,
		ShopId:        inv.ShopId,
		ReceiptDate:   now,
		InterState:    interState,
		Subtotal:      totals.Subtotal,
		DiscountTotal: totals.Discount,
		TaxTotal:      totals.Tax,
		ChargesTotal:  totals.Charges,
		GrandTotal:    totals.GrandTotal,
		ApprovedBy:    approvedBy,
		Notes:         notes,
		Lines:         make([]models.PurchaseReceiptLine, 0, len(lines)),
	}
	for i, l := range lines {
		p := priced[i]
		rl := models.PurchaseReceiptLine{
			InvoiceLineId:  l.ID,
			ProductId:      p.ProductId,
			BatchNo:        l.BatchNo,
			ExpiryDate:     l.ExpiryDate,
			Qty:            p.Qty,
			UnitCost:       p.UnitPrice,
			DiscountAmount: p.Discount,
			TaxRate:        p.Tax.Rate,
			TaxAmount:      p.Tax.Total,
			TaxType:        string(p.Tax.Kind),
			LandedUnitCost: p.LandedUnitCost,
			LineTotal:      p.LineTotal,
		}
		for _, c := range p.Tax.Components {
			switch c.Label {
			case pricing.TaxLabelCGST:
				rl.CgstAmount = c.Amount
			case pricing.TaxLabelSGST:
				rl.SgstAmount = c.Amount
			case pricing.TaxLabelIGST:
				rl.IgstAmount = c.Amount
			}
		}
		receipt.Lines = append(receipt.Lines, rl)
	}
	return receipt
}
