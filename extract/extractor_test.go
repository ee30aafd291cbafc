package extract

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const invoiceStream = `BT
/F1 10 Tf
50 750 Td
(Healthy Homeo Distributors) Tj
0 -14 Td
(Invoice No: INV-2024-001) Tj
0 -14 Td
(Date: 05/03/2024) Tj
0 -20 Td
(Description) Tj 200 0 Td (Qty) Tj 60 0 Td (Rate) Tj 60 0 Td (Amount) Tj
-320 -14 Td
(Arnica Montana 30C 10ml) Tj 200 0 Td (10) Tj 60 0 Td (85.00) Tj 60 0 Td (850.00) Tj
-320 -14 Td
(Belladonna 200C 30ml) Tj 200 0 Td (5) Tj 60 0 Td (120.00) Tj 60 0 Td (600.00) Tj
-320 -20 Td
(Grand Total: 1,450.00) Tj
ET`

// buildPDF writes a single-page PDF around a raw content stream with a correct xref table.
func buildPDF(stream string) []byte {
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 5 0 R >> >> /Contents 4 0 R >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
	}
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

func TestContentTextJoinsCellsOnBaseline(t *testing.T) {
	text := contentText(invoiceStream)
	lines := strings.Split(strings.TrimSpace(text), "\n")
	require.Len(t, lines, 7)
	assert.Equal(t, "Invoice No: INV-2024-001", lines[1])
	assert.Equal(t, "Description  Qty  Rate  Amount", lines[3])
	assert.Equal(t, "Arnica Montana 30C 10ml  10  85.00  850.00", lines[4])
}

func TestContentTextDecodesStrings(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    string
	}{
		{"escapes", `BT (Rate \(incl\) 5\05101) Tj ET`, "Rate (incl) 5)01"},
		{"hex", `BT <48656C6C6F> Tj ET`, "Hello"},
		{"utf16 hex", `BT <FEFF00480069> Tj ET`, "Hi"},
		{"windows-1252", "BT (Caf\\351) Tj ET", "Café"},
		{"tj array gaps", `BT [(Nux)-300(Vomica)-2000(30)] TJ ET`, "Nux Vomica  30"},
		{"T star", `BT (a) Tj T* (b) Tj ET`, "a\nb"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, strings.TrimSpace(contentText(tc.content)))
		})
	}
}

func TestExtractHeader(t *testing.T) {
	text := "Invoice No.: SBL/24-25/0192\nDate: 7-3-24\nSub Total 1,000.00\nGrand Total: ₹ 1,120.00"
	h := ExtractHeader(text)
	assert.Equal(t, "SBL/24-25/0192", h.InvoiceNumber)
	require.NotNil(t, h.InvoiceDate)
	assert.Equal(t, "2024-03-07", h.InvoiceDate.Format("2006-01-02"))
	assert.Equal(t, "1120", h.TotalAmount.String())
}

func TestExtractHeaderFallbacks(t *testing.T) {
	h := ExtractHeader("Bill Number: B-77 issued 12/11/2023, Amount Rs. 450")
	assert.Equal(t, "B-77", h.InvoiceNumber)
	require.NotNil(t, h.InvoiceDate)
	assert.Equal(t, "2023-11-12", h.InvoiceDate.Format("2006-01-02"))
	assert.Equal(t, "450", h.TotalAmount.String())

	empty := ExtractHeader("nothing useful here")
	assert.Empty(t, empty.InvoiceNumber)
	assert.Nil(t, empty.InvoiceDate)
	assert.True(t, empty.TotalAmount.IsZero())
}

func TestParseDateRejectsInvalid(t *testing.T) {
	_, ok := ParseDate("32/13/2024")
	assert.False(t, ok)
	_, ok = ParseDate("2024")
	assert.False(t, ok)
}

func TestGroupTables(t *testing.T) {
	text := strings.Join([]string{
		"Healthy Homeo Distributors",
		"Item | Qty | Rate | Total",
		"Arnica 30C | 2 | 10 | 20",
		"Belladonna\t3\t5\t15",
		"Thank you",
		"A  B  C",
	}, "\n")
	tables := GroupTables(text)
	require.Len(t, tables, 1)
	assert.Equal(t, []string{"Item", "Qty", "Rate", "Total"}, tables[0].Header())
	require.Len(t, tables[0].Rows(), 2)
	assert.Equal(t, []string{"Belladonna", "3", "5", "15"}, tables[0].Rows()[1])
}

func TestExtractDigitalPDF(t *testing.T) {
	res := Extract(buildPDF(invoiceStream))
	require.False(t, res.NeedsOCR, res.Failure)
	assert.Equal(t, 1, res.Pages)
	assert.Equal(t, "INV-2024-001", res.InvoiceNumber)
	assert.Equal(t, "1450", res.TotalAmount.String())
	require.Len(t, res.Tables, 1)
	assert.Len(t, res.Tables[0].Rows(), 2)
}

func TestExtractNeedsOCR(t *testing.T) {
	scanned := Extract(buildPDF("BT (p.1) Tj ET"))
	assert.True(t, scanned.NeedsOCR)
	assert.Empty(t, scanned.Failure)

	broken := Extract([]byte("%PDF-1.4 this is not a pdf"))
	assert.True(t, broken.NeedsOCR)
	assert.NotEmpty(t, broken.Failure)
}
