package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mmdatafocus/purchase_backend/config"
	"github.com/mmdatafocus/purchase_backend/matcher"
	"github.com/mmdatafocus/purchase_backend/matcher/matchertest"
	"github.com/mmdatafocus/purchase_backend/models"
	"github.com/mmdatafocus/purchase_backend/ocr"
	"github.com/mmdatafocus/purchase_backend/parser"
	"github.com/mmdatafocus/purchase_backend/pricing"
	"github.com/mmdatafocus/purchase_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestDecideLineStatus(t *testing.T) {
	s := config.DefaultIngestionSettings()
	cases := []struct {
		confidence float64
		status     models.LineStatus
		task       bool
	}{
		{1.0, models.LineStatusMatched, false},
		{0.85, models.LineStatusMatched, false},
		{0.84, models.LineStatusNeedsReview, false},
		{0.6, models.LineStatusNeedsReview, false},
		{0.59, models.LineStatusNeedsReview, true},
		{0, models.LineStatusNeedsReview, true},
	}
	for _, tc := range cases {
		status, task := DecideLineStatus(tc.confidence, s)
		assert.Equal(t, tc.status, status, "confidence %v", tc.confidence)
		assert.Equal(t, tc.task, task, "confidence %v", tc.confidence)
	}
}

func rawLines() []parser.RawLine {
	return []parser.RawLine{
		{LineNo: 1, Description: "ARN30 Arnica Montana 30C", Qty: d("10"), UnitPrice: d("85"), LineTotal: d("850"), TaxRate: d("12")},
		{LineNo: 2, Description: "Kali Phos 6X", Qty: d("5"), UnitPrice: d("60"), LineTotal: d("300"), TaxRate: d("12")},
		{LineNo: 3, Description: "Rhus Tox 1M", Qty: d("4"), UnitPrice: d("120"), LineTotal: d("480"), TaxRate: d("12")},
	}
}

func TestBuildLines(t *testing.T) {
	arnica := &matcher.Product{ID: 11, Name: "Arnica Montana 30C"}
	rhus := &matcher.Product{ID: 13, Name: "Rhus Tox 200"}
	results := []*matcher.Result{
		{Product: arnica, Confidence: 1, MatchType: matcher.MatchTypeSku},
		{MatchType: matcher.MatchTypeNone, Suggestions: []matcher.Suggestion{{ProductId: 13, Name: "Rhus Tox 200", Score: 0.2}}},
		{Product: rhus, Confidence: 0.8, MatchType: matcher.MatchTypeFuzzy},
	}
	lines, tasks := BuildLines(rawLines(), results, 7, config.DefaultIngestionSettings())
	require.Len(t, lines, 3)

	assert.Equal(t, models.LineStatusMatched, lines[0].Status)
	require.NotNil(t, lines[0].MatchedProductId)
	assert.Equal(t, 11, *lines[0].MatchedProductId)
	assert.Equal(t, models.MatchTypeSku, lines[0].MatchType)

	assert.Equal(t, models.LineStatusNeedsReview, lines[1].Status)
	assert.Nil(t, lines[1].MatchedProductId)
	assert.True(t, lines[1].MatchConfidence.IsZero())

	assert.Equal(t, models.LineStatusNeedsReview, lines[2].Status)
	assert.Nil(t, lines[2].MatchedProductId)
	require.NotNil(t, lines[2].SuggestedProductId)
	assert.Equal(t, 13, *lines[2].SuggestedProductId)

	require.Len(t, tasks, 1)
	assert.Equal(t, lines[1].ID, tasks[0].LineId)
	assert.Equal(t, 7, tasks[0].VendorId)
	assert.Equal(t, "no catalog match", tasks[0].Reason)
	assert.NotEmpty(t, tasks[0].SuggestedActions)
	assert.Equal(t, models.TaskStatusPending, tasks[0].Status)
}

func TestBuildLinesTimedOutMatch(t *testing.T) {
	lines, tasks := BuildLines(rawLines()[:1], []*matcher.Result{{MatchType: matcher.MatchTypeNone, TimedOut: true}}, 1, config.DefaultIngestionSettings())
	assert.Equal(t, models.LineStatusNeedsReview, lines[0].Status)
	require.Len(t, tasks, 1)
	assert.Equal(t, "matching timed out", tasks[0].Reason)
}

func TestBuildParseOutcome(t *testing.T) {
	parsed := &parser.Result{Confidence: 0.8, Method: parser.MethodText}
	parsed.InvoiceNumber = "INV-1"
	parsed.TotalAmount = d("1630")

	lines, tasks := BuildLines(rawLines()[:1], []*matcher.Result{{Product: &matcher.Product{ID: 1}, Confidence: 1, MatchType: matcher.MatchTypeSku}}, 1, config.DefaultIngestionSettings())
	out := BuildParseOutcome(parsed, lines, tasks)
	assert.Equal(t, models.InvoiceStatusParsed, out.Status)
	require.NotNil(t, out.InvoiceNumber)
	assert.Equal(t, "INV-1", *out.InvoiceNumber)
	require.NotNil(t, out.TotalAmount)
	assert.True(t, out.TotalAmount.Equal(d("1630")))
	assert.True(t, out.Confidence.Equal(d("0.8")))

	empty := BuildParseOutcome(&parser.Result{Method: parser.MethodOCR}, nil, nil)
	assert.Equal(t, models.InvoiceStatusNeedsReview, empty.Status)
	assert.Nil(t, empty.InvoiceNumber)
	assert.Nil(t, empty.TotalAmount)
}

func TestParseDocumentBytesWithoutOCR(t *testing.T) {
	res := ParseDocumentBytes(context.Background(), nil, []byte("not a pdf"), "")
	assert.Equal(t, parser.MethodOCR, res.Method)
	assert.Empty(t, res.Lines)
	assert.Equal(t, 0.0, res.Confidence)
}

type regionOCR struct {
	text    string
	regions []ocr.Region
}

func (r regionOCR) Name() string { return "regions" }

func (r regionOCR) Recognize(context.Context, []byte, string) (*ocr.Result, error) {
	return &ocr.Result{Text: r.text, Pages: 1, Regions: r.regions}, nil
}

func TestParseDocumentBytesCarriesOCRConfidence(t *testing.T) {
	text := "Invoice No: INV-9\nDate: 02/01/2024\nArnica Montana 30C 10ml   12 pcs  85.00  1,020.00"
	cases := []struct {
		name    string
		regions []ocr.Region
		want    float64
	}{
		{"poor scan", []ocr.Region{{Text: "Arnica", Confidence: 0.05}, {Text: "Montana", Confidence: 0.05}}, 0.05},
		{"clean scan", []ocr.Region{{Text: "Arnica", Confidence: 0.98}}, parser.TextConfidenceCeiling},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := ocr.NewService(regionOCR{text: text, regions: tc.regions}, time.Second, nil)
			res := ParseDocumentBytes(context.Background(), svc, []byte("not a pdf"), utils.MimePDF)
			require.Len(t, res.Lines, 1)
			assert.InDelta(t, tc.want, res.Confidence, 1e-9)
		})
	}
}

type brokenNameCatalog struct {
	*matchertest.Catalog
	broken string
}

func (c brokenNameCatalog) FindByNormalizedName(ctx context.Context, normalized string) (*matcher.Product, error) {
	if normalized == c.broken {
		return nil, errors.New("catalog unavailable")
	}
	return c.Catalog.FindByNormalizedName(ctx, normalized)
}

func TestMatchLinesFillsEverySlot(t *testing.T) {
	var products []matcher.Product
	var raw []parser.RawLine
	for i := 1; i <= 20; i++ {
		name := fmt.Sprintf("Remedy %02d Tincture", i)
		products = append(products, matcher.Product{ID: i, Name: name})
		raw = append(raw, parser.RawLine{LineNo: i, Description: name})
	}
	p := &Pipeline{
		Catalog:  brokenNameCatalog{Catalog: matchertest.NewCatalog(products), broken: matcher.Normalize("Remedy 07 Tincture")},
		Settings: config.DefaultIngestionSettings(),
	}

	results := p.MatchLines(context.Background(), 1, raw)
	require.Len(t, results, 20)
	for i, res := range results {
		require.NotNil(t, res, "line %d", i+1)
		if i+1 == 7 {
			assert.Equal(t, matcher.MatchTypeNone, res.MatchType)
			assert.Nil(t, res.Product)
			continue
		}
		require.NotNil(t, res.Product, "line %d", i+1)
		assert.Equal(t, i+1, res.Product.ID)
		assert.Equal(t, matcher.MatchTypeExactName, res.MatchType)
	}
}

func intPtr(v int) *int { return &v }

func invoiceWithLines(status models.InvoiceStatus, lines ...models.ParsedInvoiceLine) *models.ParsedInvoice {
	return &models.ParsedInvoice{ID: "inv-1", VendorId: 1, ShopId: 2, Status: status, Lines: lines}
}

func TestConfirmableLines(t *testing.T) {
	matched := models.ParsedInvoiceLine{ID: "l1", Status: models.LineStatusMatched, MatchedProductId: intPtr(5)}
	ignored := models.ParsedInvoiceLine{ID: "l2", Status: models.LineStatusIgnored}
	review := models.ParsedInvoiceLine{ID: "l3", Status: models.LineStatusNeedsReview}

	lines, err := ConfirmableLines(invoiceWithLines(models.InvoiceStatusParsed, matched, ignored))
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "l1", lines[0].ID)

	_, err = ConfirmableLines(invoiceWithLines(models.InvoiceStatusNeedsReview, matched, review))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfirmConflict))
	assert.False(t, errors.Is(err, ErrInvoiceConfirmed))
	var conflict *ConfirmConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, ConflictUnresolvedLines, conflict.Reason)
	assert.Equal(t, []string{"l3"}, conflict.UnresolvedLineIds)

	_, err = ConfirmableLines(invoiceWithLines(models.InvoiceStatusParsed, ignored))
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, ConflictNoMatchedLines, conflict.Reason)

	_, err = ConfirmableLines(invoiceWithLines(models.InvoiceStatusConfirmed, matched))
	assert.True(t, errors.Is(err, ErrInvoiceConfirmed))

	_, err = ConfirmableLines(invoiceWithLines(models.InvoiceStatusProcessing))
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, ConflictNotReady, conflict.Reason)
}

func TestBuildValidationReport(t *testing.T) {
	total := d("1200")
	inv := invoiceWithLines(models.InvoiceStatusNeedsReview,
		models.ParsedInvoiceLine{ID: "l1", Status: models.LineStatusMatched, MatchedProductId: intPtr(1), Qty: d("10"), UnitPrice: d("85"), LineTotal: d("850")},
		models.ParsedInvoiceLine{ID: "l2", Status: models.LineStatusNeedsReview, Qty: d("5"), UnitPrice: d("60"), LineTotal: d("300")},
		models.ParsedInvoiceLine{ID: "l3", Status: models.LineStatusIgnored, Qty: d("0"), UnitPrice: d("0")},
	)
	inv.TotalAmount = &total
	inv.ConfidenceScore = d("0.8")

	r := BuildValidationReport(inv, 1, 0.6)
	assert.False(t, r.CanConfirm)
	require.Len(t, r.Errors, 1)
	assert.Equal(t, IssueUnresolvedLines, r.Errors[0].Code)
	assert.Equal(t, []string{"l2"}, r.Errors[0].LineIds)
	assert.True(t, r.LinesTotal.Equal(d("1150")))

	codes := []string{}
	for _, w := range r.Warnings {
		codes = append(codes, w.Code)
	}
	assert.ElementsMatch(t, []string{IssueTotalMismatch, IssueDuplicate}, codes)

	inv.Lines[1].Status = models.LineStatusIgnored
	inv.TotalAmount = nil
	r = BuildValidationReport(inv, 0, 0.6)
	assert.True(t, r.CanConfirm)
	assert.Empty(t, r.Warnings)
}

func TestBuildValidationReportInvalidAmounts(t *testing.T) {
	inv := invoiceWithLines(models.InvoiceStatusParsed,
		models.ParsedInvoiceLine{ID: "l1", Status: models.LineStatusMatched, MatchedProductId: intPtr(1), Qty: d("2"), UnitPrice: d("0")},
	)
	inv.ConfidenceScore = d("0.3")
	r := BuildValidationReport(inv, 0, 0.6)
	assert.False(t, r.CanConfirm)
	assert.Equal(t, IssueInvalidAmounts, r.Errors[0].Code)
	require.Len(t, r.Warnings, 1)
	assert.Equal(t, IssueLowConfidence, r.Warnings[0].Code)
}

func TestPricingIntoReceipt(t *testing.T) {
	inv := invoiceWithLines(models.InvoiceStatusParsed,
		models.ParsedInvoiceLine{ID: "l1", Status: models.LineStatusMatched, MatchedProductId: intPtr(5), Qty: d("10"), UnitPrice: d("20"), TaxRate: d("12"), BatchNo: "B1"},
		models.ParsedInvoiceLine{ID: "l2", Status: models.LineStatusMatched, MatchedProductId: intPtr(6), Qty: d("1"), UnitPrice: d("100"), TaxRate: decimal.Zero},
	)
	inv.FreightCharges = d("30")
	matched, err := ConfirmableLines(inv)
	require.NoError(t, err)

	products := []*models.Product{{ID: 6, TaxRate: d("5")}}
	inputs := PricingInputs(inv.VendorId, matched, products)
	assert.True(t, inputs[1].TaxRate.Equal(d("5")))

	engine := pricing.Engine{Charges: pricing.Charges(inv.Charges())}
	priced, totals := engine.PriceLines(inputs)
	now := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	receipt := BuildReceipt(inv, matched, priced, totals, false, "clerk", "ok", now)

	require.Len(t, receipt.Lines, 2)
	first := receipt.Lines[0]
	assert.Equal(t, "l1", first.InvoiceLineId)
	assert.Equal(t, "B1", first.BatchNo)
	assert.True(t, first.TaxAmount.Equal(d("24")))
	assert.True(t, first.CgstAmount.Equal(d("12")))
	assert.True(t, first.SgstAmount.Equal(d("12")))
	assert.True(t, first.IgstAmount.IsZero())
	// 30 of freight over values 200 and 100
	assert.True(t, first.LandedUnitCost.Equal(d("22")))
	assert.True(t, receipt.Lines[1].LandedUnitCost.Equal(d("110")))
	assert.True(t, receipt.GrandTotal.Equal(d("359")))
	assert.Equal(t, "clerk", receipt.ApprovedBy)

	ApplyPricing(matched[0], priced[0])
	assert.True(t, matched[0].TaxAmount.Equal(d("24")))
	assert.True(t, matched[0].LineTotal.Equal(d("224")))
	assert.NotEmpty(t, matched[0].Metadata)
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, 5*time.Second, OutboxBackoff(5*time.Second, 1))
	assert.Equal(t, 20*time.Second, OutboxBackoff(5*time.Second, 3))
	assert.Equal(t, maxOutboxBackoff, OutboxBackoff(5*time.Second, 30))

	assert.Equal(t, 2*time.Second, IngestBackoff(2*time.Second, 2))
	assert.Equal(t, 8*time.Second, IngestBackoff(2*time.Second, 4))
	assert.Equal(t, maxIngestBackoff, IngestBackoff(2*time.Second, 20))
}

func TestIngestQueueRetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	process := func(_ context.Context, _ string) error {
		if calls.Add(1) < 3 {
			return errors.New("ocr unavailable")
		}
		return nil
	}
	q := NewIngestQueue(process, 2, 4, 3, nil)
	q.Backoff = time.Millisecond

	var mu sync.Mutex
	var attempts []int
	done := make(chan struct{})
	q.OnAttempt = func(_ context.Context, job IngestJob, err error, final bool) {
		mu.Lock()
		defer mu.Unlock()
		attempts = append(attempts, job.Attempt)
		if final {
			assert.NoError(t, err)
			close(done)
		}
	}
	q.Start()
	defer q.Stop()
	require.NoError(t, q.Submit(IngestJob{InvoiceId: "inv-1"}))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not finish")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2, 3}, attempts)
}

func TestIngestQueueGivesUp(t *testing.T) {
	q := NewIngestQueue(func(context.Context, string) error { return errors.New("boom") }, 1, 1, 2, nil)
	q.Backoff = time.Millisecond
	finals := make(chan IngestJob, 1)
	q.OnAttempt = func(_ context.Context, job IngestJob, err error, final bool) {
		if final {
			finals <- job
		}
	}
	q.Start()
	defer q.Stop()
	require.NoError(t, q.Submit(IngestJob{InvoiceId: "inv-2"}))
	select {
	case job := <-finals:
		assert.Equal(t, 2, job.Attempt)
	case <-time.After(5 * time.Second):
		t.Fatal("job was not given up")
	}
}

func TestIngestQueueFull(t *testing.T) {
	q := NewIngestQueue(func(context.Context, string) error { return nil }, 1, 1, 1, nil)
	require.NoError(t, q.Submit(IngestJob{InvoiceId: "a"}))
	assert.ErrorIs(t, q.Submit(IngestJob{InvoiceId: "b"}), ErrQueueFull)
	assert.Equal(t, 1, q.Len())
	q.Stop()
	assert.ErrorIs(t, q.Submit(IngestJob{InvoiceId: "c"}), ErrQueueClosed)
}

func TestMemoryTransport(t *testing.T) {
	tr := &MemoryTransport{}
	id, err := tr.Publish(context.Background(), models.EventEnvelope{EventId: "e1", EventType: models.EventTypeInvoiceParsed})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	tr.Fail = func(models.EventEnvelope) error { return errors.New("broker down") }
	_, err = tr.Publish(context.Background(), models.EventEnvelope{EventId: "e2"})
	assert.ErrorIs(t, err, ErrDeliveryFailure)
	assert.Len(t, tr.Events(), 1)
}

func TestErrorTaxonomy(t *testing.T) {
	var err error = &ValidationError{Field: "threshold", Message: "out of range"}
	assert.ErrorIs(t, err, ErrValidationFailed)
	assert.Equal(t, "threshold: out of range", err.Error())

	err = &ConfirmConflictError{InvoiceId: "x", Reason: ConflictUnresolvedLines, UnresolvedLineIds: []string{"a", "b"}}
	assert.Contains(t, err.Error(), "2 lines: a, b")
}
