package pricing

import "github.com/shopspring/decimal"

type Charges struct {
	Freight   decimal.Decimal `json:"freight"`
	Insurance decimal.Decimal `json:"insurance"`
	Other     decimal.Decimal `json:"other"`
}

func (c Charges) Total() decimal.Decimal {
	return c.Freight.Add(c.Insurance).Add(c.Other)
}

type CostLine struct {
	Qty       decimal.Decimal
	UnitPrice decimal.Decimal
}

// AllocateLandedCost spreads an invoice's shared charges over its lines in
// proportion to each line's value and returns the landed unit cost per line.
// A zero invoice value or a zero quantity leaves the unit price unchanged.
func AllocateLandedCost(lines []CostLine, charges Charges) []decimal.Decimal {
	out := make([]decimal.Decimal, len(lines))
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Qty.Mul(l.UnitPrice))
	}
	shared := charges.Total()
	for i, l := range lines {
		out[i] = l.UnitPrice
		if total.IsZero() || l.Qty.IsZero() || shared.IsZero() {
			continue
		}
		share := shared.Mul(l.Qty.Mul(l.UnitPrice)).Div(total)
		out[i] = l.UnitPrice.Add(share.Div(l.Qty)).Round(4)
	}
	return out
}
