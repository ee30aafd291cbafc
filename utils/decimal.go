package utils

import (
	"strings"

	"github.com/shopspring/decimal"
)

var currencyTokens = []string{"INR", "inr", "Rs.", "Rs", "rs.", "rs", "MMK", "mmk", "Ks", "ks", "₹", "$", "€", "£"}

// ParseAmount parses user or vendor formatted numbers such as "1,200.50",
// "₹ 1,200" or "Rs. -30". Unparsable input yields zero and ok=false.
func ParseAmount(v string) (d decimal.Decimal, ok bool) {
	s := strings.TrimSpace(v)
	if s == "" {
		return decimal.Zero, false
	}
	s = strings.ReplaceAll(s, ",", "")
	for _, tok := range currencyTokens {
		s = strings.ReplaceAll(s, tok, "")
	}
	s = strings.TrimSpace(s)

	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = strings.TrimSpace(strings.TrimPrefix(s, "-"))
	}
	// Keep digits and the first '.' only.
	var b strings.Builder
	b.Grow(len(s) + 1)
	seenDot := false
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' && !seenDot:
			seenDot = true
			b.WriteRune(r)
		}
	}
	clean := strings.TrimSuffix(b.String(), ".")
	if clean == "" || clean == "." {
		return decimal.Zero, false
	}
	if neg {
		clean = "-" + clean
	}
	val, err := decimal.NewFromString(clean)
	if err != nil {
		return decimal.Zero, false
	}
	return val, true
}

// AmountOrZero is ParseAmount without the ok flag.
func AmountOrZero(v string) decimal.Decimal {
	d, _ := ParseAmount(v)
	return d
}

// RoundMoney rounds to 2 decimal places, half away from zero.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
