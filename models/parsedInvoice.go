package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/purchase_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ParsedInvoice struct {
	ID                  string              `gorm:"type:char(36);primary_key" json:"id"`
	VendorId            int                 `gorm:"not null;index:idx_invoice_vendor_number" json:"vendor_id"`
	ShopId              int                 `gorm:"not null;index" json:"shop_id"`
	Source              string              `gorm:"size:50" json:"source"`
	InvoiceNumber       *string             `gorm:"size:100;index:idx_invoice_vendor_number" json:"invoice_number"`
	InvoiceDate         *time.Time          `gorm:"type:date" json:"invoice_date"`
	DocumentPath        string              `gorm:"size:255" json:"document_path"`
	DocumentMimeType    string              `gorm:"size:50" json:"document_mime_type"`
	DocumentFingerprint string              `gorm:"size:64;index" json:"document_fingerprint"`
	TotalAmount         *decimal.Decimal    `gorm:"type:decimal(20,4)" json:"total_amount"`
	Currency            string              `gorm:"size:3;not null;default:'INR'" json:"currency"`
	FreightCharges      decimal.Decimal     `gorm:"type:decimal(20,4);default:0" json:"freight_charges"`
	InsuranceCharges    decimal.Decimal     `gorm:"type:decimal(20,4);default:0" json:"insurance_charges"`
	OtherCharges        decimal.Decimal     `gorm:"type:decimal(20,4);default:0" json:"other_charges"`
	Status              InvoiceStatus       `gorm:"size:20;not null;index" json:"status"`
	ConfidenceScore     decimal.Decimal     `gorm:"type:decimal(5,4);default:0" json:"confidence_score"`
	ExtractionMethod    ExtractionMethod    `gorm:"size:10" json:"extraction_method"`
	Attempts            int                 `gorm:"not null;default:0" json:"attempts"`
	LastError           *string             `gorm:"type:text" json:"last_error"`
	TraceId             string              `gorm:"size:64;index" json:"trace_id"`
	ParsedAt            *time.Time          `json:"parsed_at"`
	ConfirmedBy         *string             `gorm:"size:100" json:"confirmed_by"`
	ConfirmedAt         *time.Time          `json:"confirmed_at"`
	ReceiptId           *string             `gorm:"type:char(36)" json:"receipt_id"`
	Lines               []ParsedInvoiceLine `gorm:"foreignKey:InvoiceId" json:"lines,omitempty"`
	CreatedAt           time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

// ParseOutcome is what ingestion learned about a document, persisted in one
// go by SaveParseOutcome.
type ParseOutcome struct {
	InvoiceNumber    *string
	InvoiceDate      *time.Time
	TotalAmount      *decimal.Decimal
	Confidence       decimal.Decimal
	ExtractionMethod ExtractionMethod
	Status           InvoiceStatus
	Lines            []ParsedInvoiceLine
	Tasks            []ReconciliationTask
}

type InvoiceSummary struct {
	TotalLines      int             `json:"total_lines"`
	MatchedLines    int             `json:"matched_lines"`
	NeedsReview     int             `json:"needs_review"`
	Pending         int             `json:"pending"`
	Ignored         int             `json:"ignored"`
	AvgConfidence   decimal.Decimal `json:"avg_confidence"`
	ReadyToConfirm  bool            `json:"ready_to_confirm"`
	MatchedSubtotal decimal.Decimal `json:"matched_subtotal"`
}

// Reasons an invoice cannot be confirmed.
const (
	ConfirmBlockAlreadyConfirmed = "already_confirmed"
	ConfirmBlockUnresolvedLines  = "unresolved_lines"
	ConfirmBlockNoMatchedLines   = "no_matched_lines"
	ConfirmBlockNotReady         = "not_ready"
)

type InvoiceCharges struct {
	Freight   decimal.Decimal `json:"freight"`
	Insurance decimal.Decimal `json:"insurance"`
	Other     decimal.Decimal `json:"other"`
}

func (inv *ParsedInvoice) Summary() InvoiceSummary {
	s := InvoiceSummary{TotalLines: len(inv.Lines), MatchedSubtotal: decimal.Zero, AvgConfidence: decimal.Zero}
	confidenceSum := decimal.Zero
	for _, l := range inv.Lines {
		confidenceSum = confidenceSum.Add(l.MatchConfidence)
		switch l.Status {
		case LineStatusMatched:
			s.MatchedLines++
			s.MatchedSubtotal = s.MatchedSubtotal.Add(l.Qty.Mul(l.UnitPrice))
		case LineStatusNeedsReview:
			s.NeedsReview++
		case LineStatusIgnored:
			s.Ignored++
		default:
			s.Pending++
		}
	}
	if len(inv.Lines) > 0 {
		s.AvgConfidence = confidenceSum.Div(decimal.NewFromInt(int64(len(inv.Lines)))).Round(4)
	}
	_, _, blocker := inv.ConfirmReadiness()
	s.ReadyToConfirm = blocker == ""
	return s
}

// ConfirmReadiness splits the lines into the matched lines a confirm would
// receive and the ids of unresolved lines. blocker names why the invoice
// cannot be confirmed, or is empty when it can.
func (inv *ParsedInvoice) ConfirmReadiness() (matched []*ParsedInvoiceLine, unresolved []string, blocker string) {
	switch inv.Status {
	case InvoiceStatusConfirmed:
		return nil, nil, ConfirmBlockAlreadyConfirmed
	case InvoiceStatusParsed, InvoiceStatusNeedsReview:
	default:
		return nil, nil, ConfirmBlockNotReady
	}
	for i := range inv.Lines {
		l := &inv.Lines[i]
		switch {
		case !l.Status.IsResolved():
			unresolved = append(unresolved, l.ID)
		case l.Status == LineStatusMatched && l.MatchedProductId != nil:
			matched = append(matched, l)
		}
	}
	if len(unresolved) > 0 {
		return nil, unresolved, ConfirmBlockUnresolvedLines
	}
	if len(matched) == 0 {
		return nil, nil, ConfirmBlockNoMatchedLines
	}
	return matched, nil, ""
}

func (inv *ParsedInvoice) Charges() InvoiceCharges {
	return InvoiceCharges{Freight: inv.FreightCharges, Insurance: inv.InsuranceCharges, Other: inv.OtherCharges}
}

// InvoiceStatusForLines derives the header status from its lines: no lines or
// any unresolved line means review; otherwise parsed.
func InvoiceStatusForLines(lines []ParsedInvoiceLine) InvoiceStatus {
	if len(lines) == 0 {
		return InvoiceStatusNeedsReview
	}
	matched := 0
	for _, l := range lines {
		if !l.Status.IsResolved() {
			return InvoiceStatusNeedsReview
		}
		if l.Status == LineStatusMatched {
			matched++
		}
	}
	if matched == 0 {
		return InvoiceStatusNeedsReview
	}
	return InvoiceStatusParsed
}

// CreateInvoicePlaceholder stores the upload-time row in processing state.
func CreateInvoicePlaceholder(ctx context.Context, db *gorm.DB, inv *ParsedInvoice) error {
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	if inv.Currency == "" {
		inv.Currency = "INR"
	}
	inv.Status = InvoiceStatusProcessing
	return db.WithContext(ctx).Omit("Lines").Create(inv).Error
}

func GetParsedInvoice(ctx context.Context, db *gorm.DB, id string) (*ParsedInvoice, error) {
	var inv ParsedInvoice
	err := db.WithContext(ctx).
		Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("line_no ASC") }).
		Where("id = ?", id).
		First(&inv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &inv, nil
}

// LockParsedInvoice reads the invoice row FOR UPDATE inside tx, then loads
// its lines.
func LockParsedInvoice(tx *gorm.DB, id string) (*ParsedInvoice, error) {
	var inv ParsedInvoice
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&inv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	if err := tx.Where("invoice_id = ?", id).Order("line_no ASC").Find(&inv.Lines).Error; err != nil {
		return nil, err
	}
	return &inv, nil
}

// ErrInvoiceNotProcessing is returned when a parse outcome arrives for an
// invoice that already left processing, e.g. a duplicate job finished first.
var ErrInvoiceNotProcessing = errors.New("invoice is not processing")

// CheckParseable reports whether a parse outcome may still be written to inv.
func CheckParseable(inv *ParsedInvoice) error {
	if inv.Status != InvoiceStatusProcessing {
		return fmt.Errorf("%w: %s is %s", ErrInvoiceNotProcessing, inv.ID, inv.Status)
	}
	return nil
}

// ClaimStaleProcessingInvoices returns the ids of invoices stuck in
// processing since before cutoff, oldest first, and bumps their updated_at so
// a later sweep does not pick them up again straight away. Rows locked by
// another claimer are skipped.
func ClaimStaleProcessingInvoices(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]string, error) {
	var ids []string
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&ParsedInvoice{}).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND updated_at < ?", InvoiceStatusProcessing, cutoff).
			Order("updated_at ASC")
		if limit > 0 {
			q = q.Limit(limit)
		}
		if err := q.Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		return tx.Model(&ParsedInvoice{}).Where("id IN ?", ids).Update("updated_at", time.Now().UTC()).Error
	})
	return ids, err
}

// SaveParseOutcome replaces the invoice's lines and open tasks with the
// outcome, updates the header and records invoice.parsed.v1 in the same
// transaction. Re-running it for a retried job leaves one set of lines. Only
// an invoice still in processing accepts an outcome.
func SaveParseOutcome(ctx context.Context, db *gorm.DB, invoiceId string, outcome *ParseOutcome) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inv, err := LockParsedInvoice(tx, invoiceId)
		if err != nil {
			return err
		}
		if err := CheckParseable(inv); err != nil {
			return err
		}
		if err := tx.Where("invoice_id = ?", invoiceId).Delete(&ReconciliationTask{}).Error; err != nil {
			return err
		}
		if err := tx.Where("invoice_id = ?", invoiceId).Delete(&ParsedInvoiceLine{}).Error; err != nil {
			return err
		}
		for i := range outcome.Lines {
			outcome.Lines[i].InvoiceId = invoiceId
			if outcome.Lines[i].ID == "" {
				outcome.Lines[i].ID = uuid.NewString()
			}
		}
		if len(outcome.Lines) > 0 {
			if err := tx.CreateInBatches(&outcome.Lines, 100).Error; err != nil {
				return err
			}
		}
		for i := range outcome.Tasks {
			outcome.Tasks[i].InvoiceId = invoiceId
		}
		if len(outcome.Tasks) > 0 {
			if err := tx.Create(&outcome.Tasks).Error; err != nil {
				return err
			}
		}
		now := time.Now().UTC()
		if err := tx.Model(&ParsedInvoice{}).Where("id = ?", invoiceId).Updates(map[string]interface{}{
			"invoice_number":    outcome.InvoiceNumber,
			"invoice_date":      outcome.InvoiceDate,
			"total_amount":      outcome.TotalAmount,
			"confidence_score":  outcome.Confidence,
			"extraction_method": outcome.ExtractionMethod,
			"status":            outcome.Status,
			"parsed_at":         &now,
			"last_error":        nil,
		}).Error; err != nil {
			return err
		}

		payload := map[string]interface{}{
			"invoice_id":       invoiceId,
			"vendor_id":        inv.VendorId,
			"shop_id":          inv.ShopId,
			"status":           outcome.Status,
			"line_count":       len(outcome.Lines),
			"confidence_score": outcome.Confidence,
			"trace_id":         inv.TraceId,
		}
		_, err = WriteOutboxEvent(ctx, tx, AggregateParsedInvoice, invoiceId, EventTypeInvoiceParsed, payload)
		return err
	})
}

// RecordIngestAttempt bumps the attempt counter; a non-nil failure with final
// set moves the invoice to failed.
func RecordIngestAttempt(ctx context.Context, db *gorm.DB, invoiceId string, failure error, final bool) error {
	updates := map[string]interface{}{"attempts": gorm.Expr("attempts + 1")}
	if failure != nil {
		msg := failure.Error()
		updates["last_error"] = &msg
		if final {
			updates["status"] = InvoiceStatusFailed
		}
	}
	return db.WithContext(ctx).Model(&ParsedInvoice{}).
		Where("id = ? AND status = ?", invoiceId, InvoiceStatusProcessing).
		Updates(updates).Error
}

// UpdateInvoiceCharges sets the shared charges used for landed cost.
func UpdateInvoiceCharges(tx *gorm.DB, invoiceId string, charges InvoiceCharges) error {
	return tx.Model(&ParsedInvoice{}).Where("id = ?", invoiceId).Updates(map[string]interface{}{
		"freight_charges":   charges.Freight,
		"insurance_charges": charges.Insurance,
		"other_charges":     charges.Other,
	}).Error
}

// RefreshInvoiceStatus recomputes a non-confirmed invoice's status from its lines.
func RefreshInvoiceStatus(tx *gorm.DB, invoiceId string) (InvoiceStatus, error) {
	var lines []ParsedInvoiceLine
	if err := tx.Where("invoice_id = ?", invoiceId).Find(&lines).Error; err != nil {
		return "", err
	}
	status := InvoiceStatusForLines(lines)
	err := tx.Model(&ParsedInvoice{}).
		Where("id = ? AND status IN ?", invoiceId, []InvoiceStatus{InvoiceStatusParsed, InvoiceStatusNeedsReview}).
		Update("status", status).Error
	return status, err
}

// CountDuplicateInvoices counts other invoices from the same vendor with the
// same number and declared total, or with byte-identical documents.
func CountDuplicateInvoices(ctx context.Context, db *gorm.DB, inv *ParsedInvoice) (int64, error) {
	q := db.WithContext(ctx).Model(&ParsedInvoice{}).Where("id <> ? AND status <> ?", inv.ID, InvoiceStatusFailed)
	cond := db.Where("1 = 0")
	if inv.InvoiceNumber != nil && *inv.InvoiceNumber != "" && inv.TotalAmount != nil {
		cond = cond.Or("vendor_id = ? AND invoice_number = ? AND total_amount = ?", inv.VendorId, *inv.InvoiceNumber, *inv.TotalAmount)
	}
	if inv.DocumentFingerprint != "" {
		cond = cond.Or("document_fingerprint = ?", inv.DocumentFingerprint)
	}
	var count int64
	if err := q.Where(cond).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
