package models_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/mmdatafocus/purchase_backend/models"
	"github.com/mmdatafocus/purchase_backend/testdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parsedOutcome(description string) *models.ParseOutcome {
	return &models.ParseOutcome{
		Confidence:       dec("0.5"),
		ExtractionMethod: models.ExtractionMethodText,
		Status:           models.InvoiceStatusNeedsReview,
		Lines: []models.ParsedInvoiceLine{
			{LineNo: 1, Description: description, Qty: dec("1"), UnitPrice: dec("10"), LineTotal: dec("10"), Status: models.LineStatusNeedsReview},
		},
	}
}

func TestSaveParseOutcomeRequiresProcessing(t *testing.T) {
	db := testdb.Open(t)
	ctx := context.Background()
	inv := &models.ParsedInvoice{VendorId: 1, ShopId: 1, Source: "test"}
	require.NoError(t, models.CreateInvoicePlaceholder(ctx, db, inv))

	require.NoError(t, models.SaveParseOutcome(ctx, db, inv.ID, parsedOutcome("first run")))

	err := models.SaveParseOutcome(ctx, db, inv.ID, parsedOutcome("late duplicate"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrInvoiceNotProcessing))

	got, err := models.GetParsedInvoice(ctx, db, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceStatusNeedsReview, got.Status)
	require.Len(t, got.Lines, 1)
	assert.Equal(t, "first run", got.Lines[0].Description)
}

func TestClaimStaleProcessingInvoices(t *testing.T) {
	db := testdb.Open(t)
	ctx := context.Background()
	suffix := time.Now().UnixNano()

	stale := &models.ParsedInvoice{VendorId: 1, ShopId: 1, Source: fmt.Sprintf("stale-%d", suffix)}
	fresh := &models.ParsedInvoice{VendorId: 1, ShopId: 1, Source: fmt.Sprintf("fresh-%d", suffix)}
	require.NoError(t, models.CreateInvoicePlaceholder(ctx, db, stale))
	require.NoError(t, models.CreateInvoicePlaceholder(ctx, db, fresh))
	require.NoError(t, db.Model(&models.ParsedInvoice{}).Where("id = ?", stale.ID).
		UpdateColumn("updated_at", time.Now().UTC().Add(-time.Hour)).Error)

	cutoff := time.Now().UTC().Add(-10 * time.Minute)
	ids, err := models.ClaimStaleProcessingInvoices(ctx, db, cutoff, 0)
	require.NoError(t, err)
	assert.Contains(t, ids, stale.ID)
	assert.NotContains(t, ids, fresh.ID)

	// claimed rows are touched, so an immediate second sweep skips them
	ids, err = models.ClaimStaleProcessingInvoices(ctx, db, cutoff, 0)
	require.NoError(t, err)
	assert.NotContains(t, ids, stale.ID)
}
