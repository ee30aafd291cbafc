package pricing

import "github.com/shopspring/decimal"

const (
	TaxLabelIGST = "IGST"
	TaxLabelCGST = "CGST"
	TaxLabelSGST = "SGST"
)

type TaxKind string

const (
	TaxKindInterState TaxKind = "inter_state"
	TaxKindIntraState TaxKind = "intra_state"
)

type TaxComponent struct {
	Label  string          `json:"label"`
	Rate   decimal.Decimal `json:"rate"`
	Amount decimal.Decimal `json:"amount"`
}

type TaxBreakdown struct {
	Kind       TaxKind         `json:"kind"`
	Taxable    decimal.Decimal `json:"taxable"`
	Rate       decimal.Decimal `json:"rate"`
	Total      decimal.Decimal `json:"total"`
	Components []TaxComponent  `json:"components"`
}

// ComputeTax taxes taxable at rate percent. Inter-state supplies carry a
// single IGST component; intra-state supplies carry equal CGST and SGST
// halves, each taxed at rate/2 and rounded on its own, and the total is
// their sum.
func ComputeTax(taxable, rate decimal.Decimal, interState bool) TaxBreakdown {
	b := TaxBreakdown{Taxable: taxable.Round(2), Rate: rate}
	if interState {
		total := taxable.Mul(rate).Div(hundred).Round(2)
		b.Kind = TaxKindInterState
		b.Total = total
		b.Components = []TaxComponent{{Label: TaxLabelIGST, Rate: rate, Amount: total}}
		return b
	}
	halfRate := rate.Div(decimal.NewFromInt(2))
	half := taxable.Mul(halfRate).Div(hundred).Round(2)
	b.Kind = TaxKindIntraState
	b.Total = half.Add(half)
	b.Components = []TaxComponent{
		{Label: TaxLabelCGST, Rate: halfRate, Amount: half},
		{Label: TaxLabelSGST, Rate: halfRate, Amount: half},
	}
	return b
}
