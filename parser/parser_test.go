package parser

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/mmdatafocus/purchase_backend/extract"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestDetectColumns(t *testing.T) {
	cases := []struct {
		name   string
		header []string
		want   columns
	}{
		{
			"standard",
			[]string{"Sr", "Particulars", "HSN", "Batch", "Exp", "Qty", "Rate", "GST %", "Amount"},
			columns{description: 1, qty: 5, price: 6, total: 8, tax: 7, hsn: 2, batch: 3, expiry: 4},
		},
		{
			"amount only",
			[]string{"Item", "Quantity", "Amount"},
			columns{description: 0, qty: 1, price: 2, total: -1, tax: -1, hsn: -1, batch: -1, expiry: -1},
		},
		{
			"no headers fall back to first column",
			[]string{"Name", "Pack", "Value"},
			columns{description: 0, qty: -1, price: -1, total: -1, tax: -1, hsn: -1, batch: -1, expiry: -1},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, detectColumns(tc.header))
		})
	}
}

func TestParseTables(t *testing.T) {
	table := extract.Table{
		{"Description", "HSN", "Batch No", "Expiry", "Qty", "Rate", "Amount"},
		{"Arnica Montana 30C 10ml", "30049014", "B2301", "03/26", "10", "₹85.00", "850.00"},
		{"Belladonna 200C 30ml", "3004", "BEL-44", "15/08/2027", "5", "1,120.00", "5,600.00"},
		{"Sample Kit", "", "", "", "0", "0", "0"},
		{"", "", "", "", "3", "10", "30"},
		{"Sub Total", "", "", "", "", "", "6,450.00"},
	}
	lines := ParseTables([]extract.Table{table})
	require.Len(t, lines, 2)

	first := lines[0]
	assert.Equal(t, 1, first.LineNo)
	assert.Equal(t, "Arnica Montana 30C 10ml", first.Description)
	assert.True(t, first.Qty.Equal(d("10")))
	assert.True(t, first.UnitPrice.Equal(d("85")))
	assert.True(t, first.LineTotal.Equal(d("850")))
	assert.True(t, first.TaxRate.Equal(DefaultTaxRate))
	assert.True(t, first.TaxAmount.Equal(d("102")))
	assert.Equal(t, "30049014", first.HsnCode)
	assert.Equal(t, "B2301", first.BatchNo)
	require.NotNil(t, first.ExpiryDate)
	assert.Equal(t, "2026-03-31", first.ExpiryDate.Format("2006-01-02"))

	second := lines[1]
	assert.Equal(t, 2, second.LineNo)
	assert.True(t, second.UnitPrice.Equal(d("1120")))
	assert.Equal(t, "BEL-44", second.BatchNo)
	assert.Equal(t, "2027-08-15", second.ExpiryDate.Format("2006-01-02"))
}

func TestParseRowDerivesMissingAmounts(t *testing.T) {
	cols := detectColumns([]string{"Item", "Qty", "Price", "Total", "Tax Rate"})

	noPrice := parseRow([]string{"Nux Vomica 30C", "4", "", "200", "5%"}, cols)
	assert.True(t, noPrice.UnitPrice.Equal(d("50")))
	assert.True(t, noPrice.TaxRate.Equal(d("5")))
	assert.True(t, noPrice.TaxAmount.Equal(d("10")))

	noTotal := parseRow([]string{"Nux Vomica 30C", "3", "12.50", "", ""}, cols)
	assert.True(t, noTotal.LineTotal.Equal(d("37.5")))
	assert.True(t, noTotal.TaxRate.Equal(DefaultTaxRate))
}

func TestFindBatchAndExpiryInFreeCells(t *testing.T) {
	cols := columns{description: 0, qty: 1, price: 2, total: 3, tax: -1, hsn: -1, batch: -1, expiry: -1}
	row := []string{"Vitamin B12 drops", "2", "40", "80", "Batch: XK-9 Exp 11/2025"}
	assert.Equal(t, "XK-9", findBatch(row, cols))
	exp := findExpiry(row, cols)
	require.NotNil(t, exp)
	assert.Equal(t, time.Date(2025, 11, 30, 0, 0, 0, 0, time.UTC), *exp)

	assert.Empty(t, findBatch([]string{"Vitamin B12 drops", "2", "40"}, cols))
}

func TestInvoiceConfidence(t *testing.T) {
	date := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	full := extract.Header{InvoiceNumber: "INV-1", InvoiceDate: &date, TotalAmount: d("100")}
	assert.Equal(t, 1.0, InvoiceConfidence(full, 3))
	assert.Equal(t, 0.7, InvoiceConfidence(full, 0))
	assert.Equal(t, 0.3, InvoiceConfidence(extract.Header{}, 1))
	assert.Equal(t, 0.0, InvoiceConfidence(extract.Header{}, 0))
}

func TestParseDocument(t *testing.T) {
	doc := &extract.Result{
		Header: extract.Header{InvoiceNumber: "INV-9", TotalAmount: d("170")},
		Tables: []extract.Table{{
			{"Item", "Qty", "Rate", "Amount"},
			{"Arnica Montana 30C", "2", "85", "170"},
		}},
	}
	res := ParseDocument(doc)
	assert.Equal(t, MethodText, res.Method)
	require.Len(t, res.Lines, 1)
	assert.Equal(t, 0.8, res.Confidence)
}

func TestParseText(t *testing.T) {
	text := "Invoice No: INV-77\nDate: 02/01/2024\n" +
		"Arnica Montana 30C 10ml   12 pcs  85.00  1,020.00\n" +
		"Calcarea Phos 6X 20gm 3 nos Rs. 60\n" +
		"short 2 pcs 5\n" +
		"Thank you for your business, no qty here\n" +
		"Grand Total 1,200.00"
	res := ParseText(text)
	assert.Equal(t, MethodOCR, res.Method)
	assert.Equal(t, "INV-77", res.InvoiceNumber)
	require.Len(t, res.Lines, 2)

	first := res.Lines[0]
	assert.Equal(t, "Arnica Montana 30C 10ml", first.Description)
	assert.True(t, first.Qty.Equal(d("12")))
	assert.True(t, first.UnitPrice.Equal(d("85")))
	assert.True(t, first.LineTotal.Equal(d("1020")))

	second := res.Lines[1]
	assert.Equal(t, 2, second.LineNo)
	assert.True(t, second.UnitPrice.Equal(d("60")))
	assert.True(t, second.LineTotal.Equal(d("180")))

	assert.Equal(t, TextConfidenceCeiling, res.Confidence)
}

func TestParseTextWithoutLines(t *testing.T) {
	res := ParseText("Invoice No: INV-1\nnothing else")
	assert.Empty(t, res.Lines)
	assert.Equal(t, 0.3, res.Confidence)
}

func TestParseOCRTextBoundedByRecognizer(t *testing.T) {
	text := "Invoice No: INV-77\nArnica Montana 30C 10ml   12 pcs  85.00  1,020.00"

	clean := ParseOCRText(text, 0.92)
	assert.Equal(t, TextConfidenceCeiling, clean.Confidence)

	blurry := ParseOCRText(text, 0.05)
	require.Len(t, blurry.Lines, 1)
	assert.Equal(t, 0.05, blurry.Confidence)

	assert.Zero(t, ParseOCRText(text, 0).Confidence)
}

func TestParseTextFallbackDescriptionKeepsRunes(t *testing.T) {
	text := "12 pcs 85.00 " + strings.Repeat("é", 60)
	res := ParseText(text)
	require.Len(t, res.Lines, 1)
	desc := res.Lines[0].Description
	assert.True(t, utf8.ValidString(desc))
	assert.Equal(t, maxFallbackDescription, utf8.RuneCountInString(desc))
}
