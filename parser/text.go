package parser

import (
	"math"
	"regexp"
	"strings"

	"github.com/mmdatafocus/purchase_backend/extract"
	"github.com/mmdatafocus/purchase_backend/utils"
	"github.com/shopspring/decimal"
)

const (
	minTextLineLength      = 20
	maxFallbackDescription = 50
)

var (
	textQty    = regexp.MustCompile(`(?i)\b(\d+(?:\.\d+)?)\s*(?:pcs|units|nos)\b`)
	textAmount = regexp.MustCompile(`(?:₹|Rs\.?|INR)?\s*(\d[\d,]*(?:\.\d{1,2})?)`)
)

// ParseText recovers lines from OCR text. Only lines longer than 20
// characters with an "N pcs|units|nos" quantity followed by a price qualify.
// Confidence never exceeds TextConfidenceCeiling.
func ParseText(text string) *Result {
	res := &Result{Method: MethodOCR, Header: extract.ExtractHeader(text)}
	for _, raw := range strings.Split(text, "\n") {
		line, ok := parseTextLine(raw)
		if !ok {
			continue
		}
		line.LineNo = len(res.Lines) + 1
		res.Lines = append(res.Lines, line)
	}
	res.Confidence = math.Min(TextConfidenceCeiling, InvoiceConfidence(res.Header, len(res.Lines)))
	return res
}

// ParseOCRText is ParseText bounded by the recognizer's own document
// confidence, so a poor scan never scores above what the OCR engine reported.
func ParseOCRText(text string, ocrConfidence float64) *Result {
	res := ParseText(text)
	res.Confidence = math.Min(res.Confidence, math.Max(ocrConfidence, 0))
	return res
}

func parseTextLine(raw string) (RawLine, bool) {
	text := strings.TrimSpace(raw)
	if len(text) <= minTextLineLength {
		return RawLine{}, false
	}
	loc := textQty.FindStringSubmatchIndex(text)
	if loc == nil {
		return RawLine{}, false
	}
	qty := utils.AmountOrZero(text[loc[2]:loc[3]])
	if !qty.IsPositive() {
		return RawLine{}, false
	}

	var amounts []decimal.Decimal
	for _, m := range textAmount.FindAllStringSubmatch(text[loc[1]:], -1) {
		if d, ok := utils.ParseAmount(m[1]); ok && d.IsPositive() {
			amounts = append(amounts, d)
		}
	}
	if len(amounts) == 0 {
		return RawLine{}, false
	}

	description := trimDescription(text[:loc[0]])
	if description == "" {
		description = truncateRunes(text, maxFallbackDescription)
	}
	line := RawLine{
		RawText:     text,
		Description: description,
		Qty:         qty,
		UnitPrice:   amounts[0],
		TaxRate:     DefaultTaxRate,
	}
	if len(amounts) > 1 {
		line.LineTotal = amounts[len(amounts)-1]
	} else {
		line.LineTotal = qty.Mul(line.UnitPrice).Round(2)
	}
	line.TaxAmount = utils.RoundMoney(line.LineTotal.Mul(line.TaxRate).Div(decimal.NewFromInt(100)))
	line.BatchNo = findBatch([]string{text}, columns{description: -1, batch: -1, expiry: -1})
	line.ExpiryDate = findExpiry([]string{text}, columns{expiry: -1})
	return line, true
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
