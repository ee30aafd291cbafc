package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/purchase_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

// PurchaseReceipt is the goods received note created when an invoice is
// confirmed. Rows are never updated after creation.
type PurchaseReceipt struct {
	ID            string                `gorm:"type:char(36);primary_key" json:"id"`
	InvoiceId     string                `gorm:"type:char(36);not null;uniqueIndex" json:"invoice_id"`
	VendorId      int                   `gorm:"not null;index" json:"vendor_id"`
	ShopId        int                   `gorm:"not null;index" json:"shop_id"`
	ReceiptDate   time.Time             `json:"receipt_date"`
	InterState    bool                  `gorm:"not null;default:false" json:"inter_state"`
	Subtotal      decimal.Decimal       `gorm:"type:decimal(20,4);default:0" json:"subtotal"`
	DiscountTotal decimal.Decimal       `gorm:"type:decimal(20,4);default:0" json:"discount_total"`
	TaxTotal      decimal.Decimal       `gorm:"type:decimal(20,4);default:0" json:"tax_total"`
	ChargesTotal  decimal.Decimal       `gorm:"type:decimal(20,4);default:0" json:"charges_total"`
	GrandTotal    decimal.Decimal       `gorm:"type:decimal(20,4);default:0" json:"grand_total"`
	ApprovedBy    string                `gorm:"size:100" json:"approved_by"`
	Notes         string                `gorm:"type:text" json:"notes"`
	Lines         []PurchaseReceiptLine `gorm:"foreignKey:ReceiptId" json:"lines"`
	CreatedAt     time.Time             `gorm:"autoCreateTime" json:"created_at"`
}

type PurchaseReceiptLine struct {
	ID             int             `gorm:"primary_key" json:"id"`
	ReceiptId      string          `gorm:"type:char(36);not null;index" json:"receipt_id"`
	InvoiceLineId  string          `gorm:"type:char(36);not null" json:"invoice_line_id"`
	ProductId      int             `gorm:"not null;index" json:"product_id"`
	BatchNo        string          `gorm:"size:100;not null" json:"batch_no"`
	ExpiryDate     *time.Time      `gorm:"type:date" json:"expiry_date"`
	Qty            decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty"`
	UnitCost       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_cost"`
	DiscountAmount decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"discount_amount"`
	TaxRate        decimal.Decimal `gorm:"type:decimal(7,4);default:0" json:"tax_rate"`
	TaxAmount      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"tax_amount"`
	TaxType        string          `gorm:"size:20" json:"tax_type"`
	CgstAmount     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"cgst_amount"`
	SgstAmount     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"sgst_amount"`
	IgstAmount     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"igst_amount"`
	LandedUnitCost decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"landed_unit_cost"`
	LineTotal      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"line_total"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// DefaultBatchNo is used for receipt lines whose invoice line carried no batch.
const DefaultBatchNo = "DEFAULT"

func CreatePurchaseReceipt(tx *gorm.DB, receipt *PurchaseReceipt) error {
	if receipt.ID == "" {
		receipt.ID = uuid.NewString()
	}
	for i := range receipt.Lines {
		receipt.Lines[i].ReceiptId = receipt.ID
		if receipt.Lines[i].BatchNo == "" {
			receipt.Lines[i].BatchNo = DefaultBatchNo
		}
	}
	return tx.Create(receipt).Error
}

func GetPurchaseReceipt(ctx context.Context, db *gorm.DB, id string) (*PurchaseReceipt, error) {
	var receipt PurchaseReceipt
	err := db.WithContext(ctx).Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Where("id = ?", id).First(&receipt).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &receipt, nil
}

func GetPurchaseReceiptByInvoice(ctx context.Context, db *gorm.DB, invoiceId string) (*PurchaseReceipt, error) {
	var receipt PurchaseReceipt
	err := db.WithContext(ctx).Preload("Lines").Where("invoice_id = ?", invoiceId).First(&receipt).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &receipt, nil
}

var receiptExportHeaders = []string{
	"Product Id", "Batch No", "Expiry", "Qty", "Unit Cost", "Discount",
	"Tax Rate", "Tax Type", "CGST", "SGST", "IGST", "Landed Unit Cost", "Line Total",
}

// ExportPurchaseReceiptXlsx renders a receipt as a single-sheet workbook.
func ExportPurchaseReceiptXlsx(receipt *PurchaseReceipt) (*excelize.File, error) {
	f := excelize.NewFile()
	sheet := "GRN"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}
	meta := [][]interface{}{
		{"Receipt", receipt.ID},
		{"Invoice", receipt.InvoiceId},
		{"Vendor", receipt.VendorId},
		{"Shop", receipt.ShopId},
		{"Date", receipt.ReceiptDate.Format("2006-01-02")},
	}
	row := 1
	for _, m := range meta {
		cell, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow(sheet, cell, &m); err != nil {
			return nil, err
		}
		row++
	}
	row++
	cell, _ := excelize.CoordinatesToCellName(1, row)
	if err := f.SetSheetRow(sheet, cell, &receiptExportHeaders); err != nil {
		return nil, err
	}
	for _, l := range receipt.Lines {
		row++
		expiry := ""
		if l.ExpiryDate != nil {
			expiry = l.ExpiryDate.Format("2006-01-02")
		}
		values := []interface{}{
			l.ProductId, l.BatchNo, expiry, l.Qty.InexactFloat64(), l.UnitCost.InexactFloat64(),
			l.DiscountAmount.InexactFloat64(), l.TaxRate.InexactFloat64(), l.TaxType,
			l.CgstAmount.InexactFloat64(), l.SgstAmount.InexactFloat64(), l.IgstAmount.InexactFloat64(),
			l.LandedUnitCost.InexactFloat64(), l.LineTotal.InexactFloat64(),
		}
		cell, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return nil, err
		}
	}
	row += 2
	totals := [][]interface{}{
		{"Subtotal", receipt.Subtotal.InexactFloat64()},
		{"Discount", receipt.DiscountTotal.InexactFloat64()},
		{"Tax", receipt.TaxTotal.InexactFloat64()},
		{"Charges", receipt.ChargesTotal.InexactFloat64()},
		{"Grand Total", receipt.GrandTotal.InexactFloat64()},
	}
	for _, t := range totals {
		cell, err := excelize.CoordinatesToCellName(1, row)
		if err != nil {
			return nil, fmt.Errorf("receipt export: %w", err)
		}
		if err := f.SetSheetRow(sheet, cell, &t); err != nil {
			return nil, err
		}
		row++
	}
	return f, nil
}
