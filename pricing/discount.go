package pricing

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

type RuleScope string

const (
	ScopeVendor  RuleScope = "vendor"
	ScopeProduct RuleScope = "product"
	ScopeGlobal  RuleScope = "global"
)

type RuleType string

const (
	RuleTypePercentage RuleType = "percentage"
	RuleTypeFixed      RuleType = "fixed"
	RuleTypeTiered     RuleType = "tiered"
)

var hundred = decimal.NewFromInt(100)

// Rule is a discount rule as the engine sees it. Rate is a percentage
// (10 means 10%); Amount is a flat currency amount.
type Rule struct {
	ID           int             `json:"id"`
	Name         string          `json:"name"`
	Scope        RuleScope       `json:"scope"`
	ScopeId      int             `json:"scope_id"`
	Type         RuleType        `json:"type"`
	Rate         decimal.Decimal `json:"rate"`
	Amount       decimal.Decimal `json:"amount"`
	ThresholdQty decimal.Decimal `json:"threshold_qty"`
	Priority     int             `json:"priority"`
	StartDate    *time.Time      `json:"start_date"`
	EndDate      *time.Time      `json:"end_date"`
	IsActive     bool            `json:"is_active"`
	CreatedAt    time.Time       `json:"created_at"`
}

type AppliedDiscount struct {
	RuleId int             `json:"rule_id"`
	Name   string          `json:"name"`
	Type   RuleType        `json:"type"`
	Amount decimal.Decimal `json:"amount"`
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (r Rule) inWindow(at time.Time) bool {
	day := dateOnly(at)
	if r.StartDate != nil && day.Before(dateOnly(*r.StartDate)) {
		return false
	}
	if r.EndDate != nil && day.After(dateOnly(*r.EndDate)) {
		return false
	}
	return true
}

func (r Rule) inScope(vendorId, productId int) bool {
	switch r.Scope {
	case ScopeGlobal:
		return true
	case ScopeVendor:
		return r.ScopeId == vendorId
	case ScopeProduct:
		return r.ScopeId == productId
	}
	return false
}

// ApplicableRules keeps the active rules in scope for the vendor/product whose
// window includes at and whose threshold qty is met, ordered by priority
// (highest first) and then most recently created.
func ApplicableRules(rules []Rule, vendorId, productId int, qty decimal.Decimal, at time.Time) []Rule {
	out := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if !r.IsActive || !r.inScope(vendorId, productId) || !r.inWindow(at) {
			continue
		}
		if r.ThresholdQty.GreaterThan(qty) {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// RuleAmount is the discount one rule gives on a line worth value.
func RuleAmount(r Rule, qty, value decimal.Decimal) decimal.Decimal {
	switch r.Type {
	case RuleTypePercentage:
		return value.Mul(r.Rate).Div(hundred)
	case RuleTypeFixed:
		return r.Amount
	case RuleTypeTiered:
		if qty.GreaterThanOrEqual(r.ThresholdQty) {
			return value.Mul(r.Rate).Div(hundred)
		}
	}
	return decimal.Zero
}

// StackDiscounts sums the amounts of the ordered rules. The total is capped
// at the line value.
func StackDiscounts(rules []Rule, qty, unitPrice decimal.Decimal) (decimal.Decimal, []AppliedDiscount) {
	value := qty.Mul(unitPrice)
	total := decimal.Zero
	applied := make([]AppliedDiscount, 0, len(rules))
	for _, r := range rules {
		amt := RuleAmount(r, qty, value)
		if !amt.IsPositive() {
			continue
		}
		applied = append(applied, AppliedDiscount{RuleId: r.ID, Name: r.Name, Type: r.Type, Amount: amt.Round(4)})
		total = total.Add(amt)
	}
	if total.GreaterThan(value) {
		total = value
	}
	return total.Round(4), applied
}
