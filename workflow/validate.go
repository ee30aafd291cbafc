package workflow

import (
	"context"
	"fmt"

	"github.com/mmdatafocus/purchase_backend/models"
	"github.com/shopspring/decimal"
)

// totalMismatchTolerance is how far the declared total may drift from the
// sum of line totals before a warning is raised.
var totalMismatchTolerance = decimal.NewFromInt(1)

const (
	IssueUnresolvedLines  = "unresolved_lines"
	IssueInvalidAmounts   = "invalid_amounts"
	IssueNoMatchedLines   = "no_matched_lines"
	IssueNotReady         = "not_ready"
	IssueAlreadyConfirmed = "already_confirmed"
	IssueTotalMismatch    = "total_mismatch"
	IssueDuplicate        = "duplicate_suspected"
	IssueLowConfidence    = "low_confidence"
)

type ValidationIssue struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Count   int      `json:"count,omitempty"`
	LineIds []string `json:"line_ids,omitempty"`
}

type ValidationReport struct {
	InvoiceId      string                `json:"invoice_id"`
	Status         models.InvoiceStatus  `json:"status"`
	CanConfirm     bool                  `json:"can_confirm"`
	Errors         []ValidationIssue     `json:"errors"`
	Warnings       []ValidationIssue     `json:"warnings"`
	Summary        models.InvoiceSummary `json:"summary"`
	LinesTotal     decimal.Decimal       `json:"lines_total"`
	DeclaredTotal  *decimal.Decimal      `json:"declared_total"`
	DuplicateCount int64                 `json:"duplicate_count"`
}

// Validate reports what stands between the invoice and confirmation.
func (s *Service) Validate(ctx context.Context, invoiceId string) (*ValidationReport, error) {
	inv, err := models.GetParsedInvoice(ctx, s.DB, invoiceId)
	if err != nil {
		return nil, err
	}
	dups, err := models.CountDuplicateInvoices(ctx, s.DB, inv)
	if err != nil {
		return nil, err
	}
	return BuildValidationReport(inv, dups, s.Settings.LowConfidenceThreshold), nil
}

// BuildValidationReport checks the invoice in memory. Errors block confirm;
// warnings do not.
func BuildValidationReport(inv *models.ParsedInvoice, duplicates int64, lowConfidence float64) *ValidationReport {
	r := &ValidationReport{
		InvoiceId:      inv.ID,
		Status:         inv.Status,
		Errors:         []ValidationIssue{},
		Warnings:       []ValidationIssue{},
		Summary:        inv.Summary(),
		LinesTotal:     decimal.Zero,
		DeclaredTotal:  inv.TotalAmount,
		DuplicateCount: duplicates,
	}

	switch inv.Status {
	case models.InvoiceStatusConfirmed:
		r.Errors = append(r.Errors, ValidationIssue{Code: IssueAlreadyConfirmed, Message: "invoice is already confirmed"})
	case models.InvoiceStatusProcessing, models.InvoiceStatusFailed:
		r.Errors = append(r.Errors, ValidationIssue{Code: IssueNotReady, Message: fmt.Sprintf("invoice is %s", inv.Status)})
	}

	var unresolved, invalid []string
	for _, l := range inv.Lines {
		if l.Status == models.LineStatusIgnored {
			continue
		}
		r.LinesTotal = r.LinesTotal.Add(l.LineTotal)
		if !l.Status.IsResolved() {
			unresolved = append(unresolved, l.ID)
		}
		if !l.Qty.IsPositive() || !l.UnitPrice.IsPositive() {
			invalid = append(invalid, l.ID)
		}
	}
	if len(unresolved) > 0 {
		r.Errors = append(r.Errors, ValidationIssue{
			Code:    IssueUnresolvedLines,
			Message: fmt.Sprintf("%d lines are not matched or ignored", len(unresolved)),
			Count:   len(unresolved),
			LineIds: unresolved,
		})
	}
	if len(invalid) > 0 {
		r.Errors = append(r.Errors, ValidationIssue{
			Code:    IssueInvalidAmounts,
			Message: fmt.Sprintf("%d lines have a non-positive quantity or price", len(invalid)),
			Count:   len(invalid),
			LineIds: invalid,
		})
	}
	if r.Summary.MatchedLines == 0 && inv.Status != models.InvoiceStatusConfirmed {
		r.Errors = append(r.Errors, ValidationIssue{Code: IssueNoMatchedLines, Message: "invoice has no matched lines"})
	}

	if inv.TotalAmount != nil {
		diff := inv.TotalAmount.Sub(r.LinesTotal).Abs()
		if diff.GreaterThan(totalMismatchTolerance) {
			r.Warnings = append(r.Warnings, ValidationIssue{
				Code:    IssueTotalMismatch,
				Message: fmt.Sprintf("declared total %s differs from line total %s by %s", inv.TotalAmount.StringFixed(2), r.LinesTotal.StringFixed(2), diff.StringFixed(2)),
			})
		}
	}
	if duplicates > 0 {
		r.Warnings = append(r.Warnings, ValidationIssue{
			Code:    IssueDuplicate,
			Message: fmt.Sprintf("%d other invoices look like duplicates", duplicates),
			Count:   int(duplicates),
		})
	}
	if lowConfidence > 0 && inv.ConfidenceScore.LessThan(models.ConfidenceDecimal(lowConfidence)) {
		r.Warnings = append(r.Warnings, ValidationIssue{
			Code:    IssueLowConfidence,
			Message: fmt.Sprintf("%s (%s)", ErrParseAmbiguity.Error(), inv.ConfidenceScore.StringFixed(2)),
		})
	}

	r.CanConfirm = len(r.Errors) == 0
	return r
}
