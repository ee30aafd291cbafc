package models_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mmdatafocus/purchase_backend/models"
	"github.com/mmdatafocus/purchase_backend/testdb"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type ledgerFixture struct {
	db      *gorm.DB
	shop    *models.Shop
	product *models.Product
}

// seedLedger receives two batches of one product: EARLY (3 units, expiring
// in 10 days) and LATE (5 units, expiring in 200 days).
func seedLedger(t *testing.T) *ledgerFixture {
	t.Helper()
	db := testdb.Open(t)
	ctx := context.Background()
	suffix := time.Now().UnixNano()

	shop := &models.Shop{Name: fmt.Sprintf("Ledger shop %d", suffix), StateCode: "KA"}
	require.NoError(t, db.Create(shop).Error)
	product, err := models.CreateProduct(ctx, db, &models.NewProduct{Sku: fmt.Sprintf("LDG%d", suffix), Name: "Belladonna 30C"})
	require.NoError(t, err)

	now := time.Now().UTC()
	early := now.AddDate(0, 0, 10)
	late := now.AddDate(0, 0, 200)
	receipt := &models.PurchaseReceipt{
		ShopId: shop.ID,
		Lines: []models.PurchaseReceiptLine{
			{ProductId: product.ID, BatchNo: "LATE", ExpiryDate: &late, Qty: dec("5"), LandedUnitCost: dec("10")},
			{ProductId: product.ID, BatchNo: "EARLY", ExpiryDate: &early, Qty: dec("3"), LandedUnitCost: dec("11")},
		},
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		changes, err := models.ApplyReceiptToBatches(tx, receipt)
		if err != nil {
			return err
		}
		require.Len(t, changes, 2)
		assert.True(t, changes[0].Created)
		return nil
	})
	require.NoError(t, err)
	return &ledgerFixture{db: db, shop: shop, product: product}
}

func (f *ledgerFixture) batches(t *testing.T) map[string]models.InventoryBatch {
	t.Helper()
	s, err := models.ProductStockSummary(context.Background(), f.db, f.shop.ID, f.product.ID)
	require.NoError(t, err)
	out := map[string]models.InventoryBatch{}
	for _, b := range s.Batches {
		assert.True(t, b.Quantity.Equal(b.Reserved.Add(b.Available)), "batch %s: %s != %s + %s", b.BatchNo, b.Quantity, b.Reserved, b.Available)
		assert.False(t, b.Available.IsNegative())
		assert.False(t, b.Reserved.IsNegative())
		out[b.BatchNo] = b
	}
	return out
}

func TestReserveDeductRelease(t *testing.T) {
	f := seedLedger(t)
	ctx := context.Background()
	ref := models.ReservationRef{Type: "sales_order", Id: fmt.Sprintf("so-%d", time.Now().UnixNano())}

	res, err := models.ReserveStock(ctx, f.db, f.shop.ID, f.product.ID, dec("4"), ref, false)
	require.NoError(t, err)
	assert.True(t, res.Complete)
	require.Len(t, res.Allocations, 2)
	assert.Equal(t, "EARLY", res.Allocations[0].BatchNo)
	assert.True(t, res.Allocations[0].Qty.Equal(dec("3")))
	assert.Equal(t, "LATE", res.Allocations[1].BatchNo)
	assert.True(t, res.Allocations[1].Qty.Equal(dec("1")))

	b := f.batches(t)
	assert.True(t, b["EARLY"].Available.IsZero())
	assert.True(t, b["LATE"].Reserved.Equal(dec("1")))

	ded, err := models.DeductReserved(ctx, f.db, ref, dec("2"))
	require.NoError(t, err)
	assert.True(t, ded.Deducted.Equal(dec("2")))
	assert.True(t, ded.Deficit.IsZero())
	b = f.batches(t)
	assert.True(t, b["EARLY"].Quantity.Equal(dec("1")))
	assert.True(t, b["EARLY"].Reserved.Equal(dec("1")))

	released, err := models.ReleaseReservation(ctx, f.db, ref)
	require.NoError(t, err)
	assert.True(t, released.Equal(dec("2")))
	b = f.batches(t)
	assert.True(t, b["EARLY"].Available.Equal(dec("1")))
	assert.True(t, b["LATE"].Available.Equal(dec("5")))
	assert.True(t, b["LATE"].Reserved.IsZero())

	// nothing left to release
	released, err = models.ReleaseReservation(ctx, f.db, ref)
	require.NoError(t, err)
	assert.True(t, released.IsZero())
}

func TestConcurrentReservationsNeverOvercommit(t *testing.T) {
	f := seedLedger(t)
	ctx := context.Background()
	suffix := time.Now().UnixNano()

	// 8 units on hand; 10 callers each want 2.
	var granted atomic.Int64
	var g errgroup.Group
	for i := 0; i < 10; i++ {
		ref := models.ReservationRef{Type: "sales_order", Id: fmt.Sprintf("race-%d-%d", suffix, i)}
		g.Go(func() error {
			_, err := models.ReserveStock(ctx, f.db, f.shop.ID, f.product.ID, dec("2"), ref, false)
			if errors.Is(err, models.ErrInsufficientStock) {
				return nil
			}
			if err != nil {
				return err
			}
			granted.Add(1)
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.EqualValues(t, 4, granted.Load())

	reserved, available := decimal.Zero, decimal.Zero
	for _, b := range f.batches(t) {
		reserved = reserved.Add(b.Reserved)
		available = available.Add(b.Available)
	}
	assert.True(t, reserved.Equal(dec("8")), "reserved %s", reserved)
	assert.True(t, available.IsZero(), "available %s", available)
}

func TestReserveShortfall(t *testing.T) {
	f := seedLedger(t)
	ctx := context.Background()

	_, err := models.ReserveStock(ctx, f.db, f.shop.ID, f.product.ID, dec("9"), models.ReservationRef{Type: "sales_order", Id: "strict"}, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrInsufficientStock))
	var short *models.InsufficientStockError
	require.True(t, errors.As(err, &short))
	assert.True(t, short.Available.Equal(dec("8")))
	b := f.batches(t)
	assert.True(t, b["EARLY"].Reserved.IsZero())
	assert.True(t, b["LATE"].Reserved.IsZero())

	res, err := models.ReserveStock(ctx, f.db, f.shop.ID, f.product.ID, dec("9"), models.ReservationRef{Type: "sales_order", Id: fmt.Sprintf("partial-%d", time.Now().UnixNano())}, true)
	require.NoError(t, err)
	assert.False(t, res.Complete)
	assert.True(t, res.Reserved.Equal(dec("8")))
	assert.True(t, res.Deficit.Equal(dec("1")))

	_, err = models.ReserveStock(ctx, f.db, f.shop.ID, f.product.ID, decimal.Zero, models.ReservationRef{Type: "x", Id: "y"}, true)
	assert.Error(t, err)
}

func TestExpiringBatches(t *testing.T) {
	f := seedLedger(t)
	expired := time.Now().UTC().AddDate(0, 0, -5)
	receipt := &models.PurchaseReceipt{
		ShopId: f.shop.ID,
		Lines:  []models.PurchaseReceiptLine{{ProductId: f.product.ID, BatchNo: "STALE", ExpiryDate: &expired, Qty: dec("2"), LandedUnitCost: dec("9")}},
	}
	require.NoError(t, f.db.Transaction(func(tx *gorm.DB) error {
		_, err := models.ApplyReceiptToBatches(tx, receipt)
		return err
	}))

	batches, err := models.ExpiringBatches(context.Background(), f.db, f.shop.ID, 30, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, "STALE", batches[0].BatchNo)
	assert.True(t, batches[0].Expired)
	assert.InDelta(t, -5, batches[0].DaysToExpiry, 1)
	assert.Equal(t, "EARLY", batches[1].BatchNo)
	assert.False(t, batches[1].Expired)
	assert.InDelta(t, 10, batches[1].DaysToExpiry, 1)
}

func TestReceiptRestocksExistingBatch(t *testing.T) {
	f := seedLedger(t)
	receipt := &models.PurchaseReceipt{
		ShopId: f.shop.ID,
		Lines:  []models.PurchaseReceiptLine{{ProductId: f.product.ID, BatchNo: "LATE", Qty: dec("2"), LandedUnitCost: dec("12")}},
	}
	var changes []models.BatchChange
	err := f.db.Transaction(func(tx *gorm.DB) (err error) {
		changes, err = models.ApplyReceiptToBatches(tx, receipt)
		return err
	})
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.False(t, changes[0].Created)
	b := f.batches(t)
	assert.True(t, b["LATE"].Quantity.Equal(dec("7")))
	assert.True(t, b["LATE"].LandedCost.Equal(dec("12")))
}
