package pricing

import (
	"time"

	"github.com/shopspring/decimal"
)

type LineInput struct {
	LineId    string
	VendorId  int
	ProductId int
	Qty       decimal.Decimal
	UnitPrice decimal.Decimal
	TaxRate   decimal.Decimal
}

type PricedLine struct {
	LineId         string            `json:"line_id"`
	ProductId      int               `json:"product_id"`
	Qty            decimal.Decimal   `json:"qty"`
	UnitPrice      decimal.Decimal   `json:"unit_price"`
	LineValue      decimal.Decimal   `json:"line_value"`
	Discount       decimal.Decimal   `json:"discount"`
	Discounts      []AppliedDiscount `json:"discounts"`
	Tax            TaxBreakdown      `json:"tax"`
	LandedUnitCost decimal.Decimal   `json:"landed_unit_cost"`
	LineTotal      decimal.Decimal   `json:"line_total"`
}

type Totals struct {
	Subtotal   decimal.Decimal `json:"subtotal"`
	Discount   decimal.Decimal `json:"discount"`
	Tax        decimal.Decimal `json:"tax"`
	Charges    decimal.Decimal `json:"charges"`
	GrandTotal decimal.Decimal `json:"grand_total"`
}

type Engine struct {
	Rules      []Rule
	InterState bool
	Charges    Charges
	At         time.Time
}

// PriceLines prices every line of one invoice. Shared charges are spread
// over these lines only.
func (e Engine) PriceLines(lines []LineInput) ([]PricedLine, Totals) {
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	cost := make([]CostLine, len(lines))
	for i, l := range lines {
		cost[i] = CostLine{Qty: l.Qty, UnitPrice: l.UnitPrice}
	}
	landed := AllocateLandedCost(cost, e.Charges)

	out := make([]PricedLine, len(lines))
	totals := Totals{Charges: e.Charges.Total().Round(2)}
	for i, l := range lines {
		rules := ApplicableRules(e.Rules, l.VendorId, l.ProductId, l.Qty, at)
		discount, applied := StackDiscounts(rules, l.Qty, l.UnitPrice)
		value := l.Qty.Mul(l.UnitPrice)
		tax := ComputeTax(value.Sub(discount), l.TaxRate, e.InterState)
		out[i] = PricedLine{
			LineId:         l.LineId,
			ProductId:      l.ProductId,
			Qty:            l.Qty,
			UnitPrice:      l.UnitPrice,
			LineValue:      value.Round(2),
			Discount:       discount,
			Discounts:      applied,
			Tax:            tax,
			LandedUnitCost: landed[i],
			LineTotal:      tax.Taxable.Add(tax.Total),
		}
		totals.Subtotal = totals.Subtotal.Add(out[i].LineValue)
		totals.Discount = totals.Discount.Add(discount)
		totals.Tax = totals.Tax.Add(tax.Total)
	}
	totals.Discount = totals.Discount.Round(2)
	totals.GrandTotal = totals.Subtotal.Sub(totals.Discount).Add(totals.Tax).Add(totals.Charges)
	return out, totals
}
