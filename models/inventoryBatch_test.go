package models

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func day(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestSortFIFO(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	batches := []BatchAvailability{
		{BatchId: 1, BatchNo: "NOEXP", CreatedAt: created},
		{BatchId: 2, BatchNo: "LATE", ExpiryDate: day(2026, 6, 30), CreatedAt: created},
		{BatchId: 3, BatchNo: "EARLY", ExpiryDate: day(2025, 1, 31), CreatedAt: created.Add(time.Hour)},
		{BatchId: 4, BatchNo: "EARLY-OLDER", ExpiryDate: day(2025, 1, 31), CreatedAt: created},
	}
	SortFIFO(batches)
	var order []string
	for _, b := range batches {
		order = append(order, b.BatchNo)
	}
	assert.Equal(t, []string{"EARLY-OLDER", "EARLY", "LATE", "NOEXP"}, order)
}

func TestPlanFIFOReservation(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	batches := []BatchAvailability{
		{BatchId: 1, BatchNo: "B2", ExpiryDate: day(2026, 1, 31), CreatedAt: created, Available: dec("5")},
		{BatchId: 2, BatchNo: "B1", ExpiryDate: day(2025, 6, 30), CreatedAt: created, Available: dec("3")},
		{BatchId: 3, BatchNo: "EMPTY", ExpiryDate: day(2025, 1, 31), CreatedAt: created, Available: decimal.Zero},
	}

	allocs, deficit := PlanFIFOReservation(batches, dec("6"))
	require.Len(t, allocs, 2)
	assert.Equal(t, "B1", allocs[0].BatchNo)
	assert.True(t, allocs[0].Qty.Equal(dec("3")))
	assert.Equal(t, "B2", allocs[1].BatchNo)
	assert.True(t, allocs[1].Qty.Equal(dec("3")))
	assert.True(t, deficit.IsZero())
	// input order is left alone
	assert.Equal(t, 1, batches[0].BatchId)

	allocs, deficit = PlanFIFOReservation(batches, dec("10"))
	assert.Len(t, allocs, 2)
	assert.True(t, deficit.Equal(dec("2")))

	allocs, deficit = PlanFIFOReservation(nil, dec("1"))
	assert.Empty(t, allocs)
	assert.True(t, deficit.Equal(dec("1")))
}

func TestInsufficientStockError(t *testing.T) {
	var err error = &InsufficientStockError{ShopId: 1, ProductId: 2, Requested: dec("5"), Available: dec("3")}
	assert.True(t, errors.Is(err, ErrInsufficientStock))
	assert.Contains(t, err.Error(), "requested 5, available 3")
}

func TestInvoiceStatusForLines(t *testing.T) {
	assert.Equal(t, InvoiceStatusNeedsReview, InvoiceStatusForLines(nil))
	assert.Equal(t, InvoiceStatusParsed, InvoiceStatusForLines([]ParsedInvoiceLine{
		{Status: LineStatusMatched}, {Status: LineStatusIgnored},
	}))
	assert.Equal(t, InvoiceStatusNeedsReview, InvoiceStatusForLines([]ParsedInvoiceLine{
		{Status: LineStatusMatched}, {Status: LineStatusNeedsReview},
	}))
	assert.Equal(t, InvoiceStatusNeedsReview, InvoiceStatusForLines([]ParsedInvoiceLine{
		{Status: LineStatusIgnored},
	}))
}

func TestInvoiceSummary(t *testing.T) {
	inv := &ParsedInvoice{Status: InvoiceStatusNeedsReview, Lines: []ParsedInvoiceLine{
		{Status: LineStatusMatched, Qty: dec("2"), UnitPrice: dec("10"), MatchConfidence: dec("1")},
		{Status: LineStatusMatched, Qty: dec("1"), UnitPrice: dec("5.5"), MatchConfidence: dec("0.9")},
		{Status: LineStatusNeedsReview, MatchConfidence: dec("0.7")},
		{Status: LineStatusIgnored},
		{Status: LineStatusPending, MatchConfidence: dec("0.4")},
	}}
	s := inv.Summary()
	assert.Equal(t, 5, s.TotalLines)
	assert.Equal(t, 2, s.MatchedLines)
	assert.True(t, s.AvgConfidence.Equal(dec("0.6")), "avg %s", s.AvgConfidence)
	assert.False(t, s.ReadyToConfirm)
	assert.Equal(t, 1, s.NeedsReview)
	assert.Equal(t, 1, s.Ignored)
	assert.Equal(t, 1, s.Pending)
	assert.True(t, s.MatchedSubtotal.Equal(dec("25.5")))
}

func TestInvoiceSummaryReadyToConfirm(t *testing.T) {
	pid := 5
	inv := &ParsedInvoice{Status: InvoiceStatusParsed, Lines: []ParsedInvoiceLine{
		{Status: LineStatusMatched, MatchedProductId: &pid, MatchConfidence: dec("1")},
		{Status: LineStatusIgnored},
	}}
	assert.True(t, inv.Summary().ReadyToConfirm)

	inv.Status = InvoiceStatusConfirmed
	assert.False(t, inv.Summary().ReadyToConfirm)

	inv.Status = InvoiceStatusParsed
	inv.Lines[0].Status = LineStatusIgnored
	_, _, blocker := inv.ConfirmReadiness()
	assert.Equal(t, ConfirmBlockNoMatchedLines, blocker)
	assert.False(t, inv.Summary().ReadyToConfirm)
}

func TestParseLineAction(t *testing.T) {
	a, err := ParseLineAction(" Match ")
	require.NoError(t, err)
	assert.Equal(t, LineActionMatch, a)
	_, err = ParseLineAction("approve")
	assert.Error(t, err)
}

func TestCheckParseable(t *testing.T) {
	assert.NoError(t, CheckParseable(&ParsedInvoice{ID: "inv-1", Status: InvoiceStatusProcessing}))
	for _, status := range []InvoiceStatus{InvoiceStatusParsed, InvoiceStatusNeedsReview, InvoiceStatusConfirmed, InvoiceStatusFailed} {
		err := CheckParseable(&ParsedInvoice{ID: "inv-1", Status: status})
		require.Error(t, err, status)
		assert.True(t, errors.Is(err, ErrInvoiceNotProcessing), status)
	}
}
