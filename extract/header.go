package extract

import (
	"regexp"
	"strings"
	"time"

	"github.com/mmdatafocus/purchase_backend/utils"
	"github.com/shopspring/decimal"
)

// Header is the invoice-level data found in free text.
type Header struct {
	InvoiceNumber string
	InvoiceDate   *time.Time
	TotalAmount   decimal.Decimal
}

var invoiceNumberPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)invoice\s*(?:no|number|#)\.?\s*[:#]?\s*([A-Z0-9][A-Z0-9\-/]*)`),
	regexp.MustCompile(`(?i)bill\s*(?:no|number)\.?\s*[:#]?\s*([A-Z0-9][A-Z0-9\-/]*)`),
	regexp.MustCompile(`\b(INV[-/:]?\s*[A-Z0-9][A-Z0-9\-/]*)`),
}

var datePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)date\s*[:.]?\s*(\d{1,2}[-/.]\d{1,2}[-/.]\d{2,4})`),
	regexp.MustCompile(`\b(\d{1,2}[-/]\d{1,2}[-/]\d{2,4})\b`),
}

var dateLayouts = []string{"02-01-2006", "02/01/2006", "02.01.2006", "02-01-06", "02/01/06", "02.01.06"}

var totalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)grand\s*total\s*[:.]?\s*(?:₹|rs\.?|inr)?\s*([\d,]+(?:\.\d+)?)`),
	regexp.MustCompile(`(?i)(?:^|[^a-z])total\s*[:.]?\s*(?:₹|rs\.?|inr)?\s*([\d,]+(?:\.\d+)?)`),
	regexp.MustCompile(`(?i)amount\s*[:.]?\s*(?:₹|rs\.?|inr)?\s*([\d,]+(?:\.\d+)?)`),
}

// ExtractHeader pulls invoice number, date and declared total out of text.
// Missing fields stay zero.
func ExtractHeader(text string) Header {
	return Header{
		InvoiceNumber: InvoiceNumber(text),
		InvoiceDate:   InvoiceDate(text),
		TotalAmount:   TotalAmount(text),
	}
}

func InvoiceNumber(text string) string {
	for _, re := range invoiceNumberPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			if v := strings.TrimSpace(strings.ReplaceAll(m[1], " ", "")); v != "" {
				return v
			}
		}
	}
	return ""
}

func InvoiceDate(text string) *time.Time {
	for _, re := range datePatterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if t, ok := ParseDate(m[1]); ok {
				return &t
			}
		}
	}
	return nil
}

// ParseDate accepts day-first dates with -, / or . separators and 2 or 4 digit years.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == '-' || r == '/' || r == '.' })
	if len(parts) != 3 {
		return time.Time{}, false
	}
	// zero-pad day and month so the fixed layouts apply
	for i := 0; i < 2; i++ {
		if len(parts[i]) == 1 {
			parts[i] = "0" + parts[i]
		}
	}
	sep := string(s[strings.IndexAny(s, "-/.")])
	normalized := parts[0] + sep + parts[1] + sep + parts[2]
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, normalized); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func TotalAmount(text string) decimal.Decimal {
	for _, re := range totalPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			if d, ok := utils.ParseAmount(m[1]); ok && d.IsPositive() {
				return d
			}
		}
	}
	return decimal.Zero
}
