package parser

import (
	"regexp"
	"strings"

	"github.com/mmdatafocus/purchase_backend/extract"
	"github.com/mmdatafocus/purchase_backend/utils"
	"github.com/shopspring/decimal"
)

var (
	descriptionKeywords = []string{"description", "item", "product", "particulars"}
	qtyKeywords         = []string{"qty", "quantity", "qnty"}
	priceKeywords       = []string{"rate", "price", "unit price", "amount"}
	totalKeywords       = []string{"total", "amount"}
	taxKeywords         = []string{"gst", "tax %", "tax%", "tax rate"}
	hsnKeywords         = []string{"hsn"}
	batchKeywords       = []string{"batch"}
	expiryKeywords      = []string{"exp"}
)

var (
	summaryRow = regexp.MustCompile(`(?i)\b(description|total|subtotal|sub total|grand)\b`)
	hsnCode    = regexp.MustCompile(`^\d{4,8}$`)
)

// columns maps line fields to table column indexes; -1 means absent.
type columns struct {
	description, qty, price, total int
	tax, hsn, batch, expiry         int
}

// detectColumns picks, for each role, the first header cell containing one of
// its keywords. A missing description, qty, price or total column falls back
// to column 0 unless column 0 already holds the description.
func detectColumns(header []string) columns {
	cols := columns{
		description: findColumn(header, descriptionKeywords, nil),
		qty:         findColumn(header, qtyKeywords, nil),
		tax:         findColumn(header, taxKeywords, nil),
		hsn:         findColumn(header, hsnKeywords, nil),
		batch:       findColumn(header, batchKeywords, nil),
		expiry:      findColumn(header, expiryKeywords, nil),
	}
	cols.price = findColumn(header, priceKeywords, func(i int) bool { return i == cols.tax })
	cols.total = findColumn(header, totalKeywords, func(i int) bool { return i == cols.tax || i == cols.price })
	if cols.description < 0 {
		cols.description = 0
	}
	for _, idx := range []*int{&cols.qty, &cols.price, &cols.total} {
		if *idx < 0 && cols.description != 0 {
			*idx = 0
		}
	}
	return cols
}

func findColumn(header []string, keywords []string, skip func(int) bool) int {
	for i, h := range header {
		if skip != nil && skip(i) {
			continue
		}
		h = strings.ToLower(h)
		for _, kw := range keywords {
			if strings.Contains(h, kw) {
				return i
			}
		}
	}
	return -1
}

func parseTable(t extract.Table) []RawLine {
	if len(t) < 2 {
		return nil
	}
	cols := detectColumns(t.Header())
	var lines []RawLine
	for _, row := range t.Rows() {
		if len(row) < 2 || summaryRow.MatchString(strings.Join(row, " ")) {
			continue
		}
		line := parseRow(row, cols)
		if line.Description == "" || !line.Qty.IsPositive() {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

func parseRow(row []string, cols columns) RawLine {
	line := RawLine{
		RawText:     strings.Join(row, " "),
		Description: cell(row, cols.description),
		Qty:         utils.AmountOrZero(cell(row, cols.qty)),
		UnitPrice:   utils.AmountOrZero(cell(row, cols.price)),
		LineTotal:   utils.AmountOrZero(cell(row, cols.total)),
		TaxRate:     DefaultTaxRate,
	}
	if cols.total == cols.price {
		line.LineTotal = decimal.Zero
	}
	if cols.tax >= 0 {
		if rate, ok := utils.ParseAmount(strings.TrimSuffix(cell(row, cols.tax), "%")); ok && rate.LessThanOrEqual(decimal.NewFromInt(100)) {
			line.TaxRate = rate
		}
	}
	if cols.hsn >= 0 {
		if v := cell(row, cols.hsn); hsnCode.MatchString(v) {
			line.HsnCode = v
		}
	}

	switch {
	case line.UnitPrice.IsZero() && line.LineTotal.IsPositive() && line.Qty.IsPositive():
		line.UnitPrice = line.LineTotal.Div(line.Qty).Round(4)
	case line.LineTotal.IsZero():
		line.LineTotal = line.Qty.Mul(line.UnitPrice).Round(2)
	}
	if line.LineTotal.IsPositive() && line.Qty.IsPositive() {
		line.TaxAmount = utils.RoundMoney(line.LineTotal.Mul(line.TaxRate).Div(decimal.NewFromInt(100)))
	}

	line.BatchNo = findBatch(row, cols)
	line.ExpiryDate = findExpiry(row, cols)
	return line
}
