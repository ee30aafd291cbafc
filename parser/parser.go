package parser

import (
	"math"
	"strings"
	"time"

	"github.com/mmdatafocus/purchase_backend/extract"
	"github.com/shopspring/decimal"
)

const (
	MethodText = "text"
	MethodOCR  = "ocr"
)

// DefaultTaxRate applies when the table has no tax column.
var DefaultTaxRate = decimal.NewFromInt(12)

// TextConfidenceCeiling caps the confidence of lines recovered from OCR text.
const TextConfidenceCeiling = 0.5

// RawLine is one invoice line as read from the document, before matching.
type RawLine struct {
	LineNo      int
	RawText     string
	Description string
	Qty         decimal.Decimal
	UnitPrice   decimal.Decimal
	LineTotal   decimal.Decimal
	TaxRate     decimal.Decimal
	TaxAmount   decimal.Decimal
	BatchNo     string
	ExpiryDate  *time.Time
	HsnCode     string
}

type Result struct {
	extract.Header
	Lines      []RawLine
	Confidence float64
	Method     string
}

// ParseDocument parses the tables of a digital PDF.
func ParseDocument(doc *extract.Result) *Result {
	res := &Result{Method: MethodText}
	if doc == nil {
		return res
	}
	res.Header = doc.Header
	res.Lines = ParseTables(doc.Tables)
	res.Confidence = InvoiceConfidence(res.Header, len(res.Lines))
	return res
}

// ParseTables parses every table and numbers the lines across them.
func ParseTables(tables []extract.Table) []RawLine {
	var lines []RawLine
	for _, t := range tables {
		lines = append(lines, parseTable(t)...)
	}
	for i := range lines {
		lines[i].LineNo = i + 1
	}
	return lines
}

// InvoiceConfidence weighs the presence of number, date, total and lines.
func InvoiceConfidence(h extract.Header, lineCount int) float64 {
	score := 0.0
	if h.InvoiceNumber != "" {
		score += 0.3
	}
	if h.InvoiceDate != nil {
		score += 0.2
	}
	if h.TotalAmount.IsPositive() {
		score += 0.2
	}
	if lineCount > 0 {
		score += 0.3
	}
	return math.Min(math.Round(score*100)/100, 1.0)
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}
