package main

import (
	"bytes"
	"encoding/json"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mmdatafocus/purchase_backend/extract"
	"github.com/mmdatafocus/purchase_backend/matcher"
	"github.com/mmdatafocus/purchase_backend/parser"
	"github.com/mmdatafocus/purchase_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeTable(&buf, []string{"A", "LONGER"}, [][]string{{"1", "x"}, {"22", "y"}}))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "A   LONGER"))
	assert.True(t, strings.HasPrefix(lines[2], "22  y"))
}

func TestBuildParseOutput(t *testing.T) {
	date := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	res := &parser.Result{
		Header: extract.Header{InvoiceNumber: "INV-7", InvoiceDate: &date, TotalAmount: decimal.NewFromInt(850)},
		Lines: []parser.RawLine{
			{LineNo: 1, Description: "Arnica Montana 30C", Qty: decimal.NewFromInt(10), UnitPrice: decimal.NewFromInt(85), LineTotal: decimal.NewFromInt(850)},
			{LineNo: 2, Description: "Unknown", Qty: decimal.NewFromInt(1)},
		},
		Confidence: 0.8,
		Method:     parser.MethodText,
	}
	matches := []*matcher.Result{{Product: &matcher.Product{ID: 3, Name: "Arnica Montana 30C"}, Confidence: 1, MatchType: matcher.MatchTypeExactName}}

	out := buildParseOutput("a.pdf", utils.MimePDF, res, matches)
	assert.Equal(t, "INV-7", out.InvoiceNumber)
	require.NotNil(t, out.TotalAmount)
	assert.True(t, out.TotalAmount.Equal(decimal.NewFromInt(850)))
	require.Len(t, out.Lines, 2)
	require.NotNil(t, out.Lines[0].Match)
	assert.Equal(t, 3, out.Lines[0].Match.Product.ID)
	assert.Nil(t, out.Lines[1].Match)

	out = buildParseOutput("b.pdf", utils.MimePDF, &parser.Result{Method: parser.MethodOCR}, nil)
	assert.Nil(t, out.TotalAmount)
	assert.Empty(t, out.Lines)
}

func TestParseCommandWithoutOCR(t *testing.T) {
	var img bytes.Buffer
	require.NoError(t, png.Encode(&img, image.NewGray(image.Rect(0, 0, 8, 8))))
	path := filepath.Join(t.TempDir(), "scan.png")
	require.NoError(t, os.WriteFile(path, img.Bytes(), 0o600))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"parse", path, "--ocr", "none", "--json"})
	require.NoError(t, rootCmd.Execute())

	var got parseOutput
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, utils.MimePNG, got.MimeType)
	assert.Equal(t, parser.MethodOCR, got.Method)
	assert.Empty(t, got.Lines)
	assert.Zero(t, got.Confidence)
}
