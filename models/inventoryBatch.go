package models

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/mmdatafocus/purchase_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrInsufficientStock = errors.New("insufficient stock")

// InventoryBatch holds stock per (shop, product, batch). Quantity always
// equals Reserved + Available and neither goes negative.
type InventoryBatch struct {
	ID              int             `gorm:"primary_key" json:"id"`
	ShopId          int             `gorm:"not null;index:uniq_shop_product_batch,unique" json:"shop_id"`
	ProductId       int             `gorm:"not null;index:uniq_shop_product_batch,unique" json:"product_id"`
	BatchNo         string          `gorm:"size:100;not null;index:uniq_shop_product_batch,unique" json:"batch_no"`
	Quantity        decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"quantity"`
	Reserved        decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"reserved"`
	Available       decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"available"`
	ExpiryDate      *time.Time      `gorm:"type:date;index" json:"expiry_date"`
	LandedCost      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"landed_cost"`
	LastRestockedAt *time.Time      `json:"last_restocked_at"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type InventoryReservation struct {
	ID            int               `gorm:"primary_key" json:"id"`
	ReferenceType string            `gorm:"size:50;not null;index:idx_reservation_ref" json:"reference_type"`
	ReferenceId   string            `gorm:"size:64;not null;index:idx_reservation_ref" json:"reference_id"`
	BatchId       int               `gorm:"not null;index" json:"batch_id"`
	ShopId        int               `gorm:"not null" json:"shop_id"`
	ProductId     int               `gorm:"not null" json:"product_id"`
	QtyReserved   decimal.Decimal   `gorm:"type:decimal(20,4);default:0" json:"qty_reserved"`
	QtyDeducted   decimal.Decimal   `gorm:"type:decimal(20,4);default:0" json:"qty_deducted"`
	QtyReleased   decimal.Decimal   `gorm:"type:decimal(20,4);default:0" json:"qty_released"`
	Status        ReservationStatus `gorm:"size:20;not null;index" json:"status"`
	CreatedAt     time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

func (r InventoryReservation) Outstanding() decimal.Decimal {
	return r.QtyReserved.Sub(r.QtyDeducted).Sub(r.QtyReleased)
}

// ReservationRef identifies the outgoing document a reservation belongs to.
type ReservationRef struct {
	Type string `json:"reference_type" validate:"required,max=50"`
	Id   string `json:"reference_id" validate:"required,max=64"`
}

// BatchAvailability is the planner's view of one batch.
type BatchAvailability struct {
	BatchId    int
	BatchNo    string
	ExpiryDate *time.Time
	CreatedAt  time.Time
	Available  decimal.Decimal
}

type Allocation struct {
	BatchId    int             `json:"batch_id"`
	BatchNo    string          `json:"batch_no"`
	ExpiryDate *time.Time      `json:"expiry_date"`
	Qty        decimal.Decimal `json:"qty"`
}

type ReservationResult struct {
	Requested   decimal.Decimal `json:"requested"`
	Reserved    decimal.Decimal `json:"reserved"`
	Deficit     decimal.Decimal `json:"deficit"`
	Complete    bool            `json:"complete"`
	Allocations []Allocation    `json:"allocations"`
}

type DeductionResult struct {
	Requested   decimal.Decimal `json:"requested"`
	Deducted    decimal.Decimal `json:"deducted"`
	Deficit     decimal.Decimal `json:"deficit"`
	Allocations []Allocation    `json:"allocations"`
}

// InsufficientStockError carries the shortfall of a reservation that was
// not allowed to be partial.
type InsufficientStockError struct {
	ShopId    int
	ProductId int
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d in shop %d: requested %s, available %s",
		e.ProductId, e.ShopId, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

type BatchChange struct {
	BatchId   int             `json:"batch_id"`
	ShopId    int             `json:"shop_id"`
	ProductId int             `json:"product_id"`
	BatchNo   string          `json:"batch_no"`
	QtyAdded  decimal.Decimal `json:"qty_added"`
	Created   bool            `json:"created"`
}

// fifoLess orders by expiry (unknown expiry last), then creation time, then id.
func fifoLess(ae *time.Time, ac time.Time, aid int, be *time.Time, bc time.Time, bid int) bool {
	switch {
	case ae != nil && be == nil:
		return true
	case ae == nil && be != nil:
		return false
	case ae != nil && be != nil && !ae.Equal(*be):
		return ae.Before(*be)
	}
	if !ac.Equal(bc) {
		return ac.Before(bc)
	}
	return aid < bid
}

func SortFIFO(batches []BatchAvailability) {
	sort.SliceStable(batches, func(i, j int) bool {
		a, b := batches[i], batches[j]
		return fifoLess(a.ExpiryDate, a.CreatedAt, a.BatchId, b.ExpiryDate, b.CreatedAt, b.BatchId)
	})
}

// PlanFIFOReservation draws qty from batches soonest-expiry first and returns
// the allocations plus whatever could not be covered.
func PlanFIFOReservation(batches []BatchAvailability, qty decimal.Decimal) ([]Allocation, decimal.Decimal) {
	sorted := make([]BatchAvailability, len(batches))
	copy(sorted, batches)
	SortFIFO(sorted)

	remaining := qty
	var allocs []Allocation
	for _, b := range sorted {
		if !remaining.IsPositive() {
			break
		}
		if !b.Available.IsPositive() {
			continue
		}
		take := decimal.Min(b.Available, remaining)
		allocs = append(allocs, Allocation{BatchId: b.BatchId, BatchNo: b.BatchNo, ExpiryDate: b.ExpiryDate, Qty: take})
		remaining = remaining.Sub(take)
	}
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	return allocs, remaining
}

// ApplyReceiptToBatches adds every receipt line to its batch, creating the
// batch on first sight. It must run inside the confirming transaction.
func ApplyReceiptToBatches(tx *gorm.DB, receipt *PurchaseReceipt) ([]BatchChange, error) {
	now := time.Now().UTC()
	changes := make([]BatchChange, 0, len(receipt.Lines))
	for _, line := range receipt.Lines {
		if !line.Qty.IsPositive() {
			continue
		}
		batchNo := line.BatchNo
		if batchNo == "" {
			batchNo = DefaultBatchNo
		}
		change, err := increaseBatch(tx, receipt.ShopId, line.ProductId, batchNo, line.Qty, line.LandedUnitCost, line.ExpiryDate, now)
		if err != nil {
			return nil, err
		}
		changes = append(changes, *change)
	}
	return changes, nil
}

func increaseBatch(tx *gorm.DB, shopId, productId int, batchNo string, qty, landedCost decimal.Decimal, expiry *time.Time, now time.Time) (*BatchChange, error) {
	for attempt := 0; attempt < 2; attempt++ {
		var batch InventoryBatch
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("shop_id = ? AND product_id = ? AND batch_no = ?", shopId, productId, batchNo).
			First(&batch).Error
		if err == nil {
			updates := map[string]interface{}{
				"quantity":          gorm.Expr("quantity + ?", qty),
				"available":         gorm.Expr("available + ?", qty),
				"landed_cost":       landedCost,
				"last_restocked_at": now,
			}
			if batch.ExpiryDate == nil && expiry != nil {
				updates["expiry_date"] = expiry
			}
			if err := tx.Model(&InventoryBatch{}).Where("id = ?", batch.ID).Updates(updates).Error; err != nil {
				return nil, err
			}
			return &BatchChange{BatchId: batch.ID, ShopId: shopId, ProductId: productId, BatchNo: batchNo, QtyAdded: qty}, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		batch = InventoryBatch{
			ShopId:          shopId,
			ProductId:       productId,
			BatchNo:         batchNo,
			Quantity:        qty,
			Reserved:        decimal.Zero,
			Available:       qty,
			ExpiryDate:      expiry,
			LandedCost:      landedCost,
			LastRestockedAt: &now,
		}
		err = tx.Create(&batch).Error
		if err == nil {
			return &BatchChange{BatchId: batch.ID, ShopId: shopId, ProductId: productId, BatchNo: batchNo, QtyAdded: qty, Created: true}, nil
		}
		if !IsDuplicateKeyErr(err) {
			return nil, err
		}
		// another transaction created the batch first; lock and add to it
	}
	return nil, fmt.Errorf("could not upsert batch %s for product %d", batchNo, productId)
}

func lockAvailableBatches(tx *gorm.DB, shopId, productId int) ([]InventoryBatch, error) {
	var batches []InventoryBatch
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("shop_id = ? AND product_id = ? AND available > 0", shopId, productId).
		Order("expiry_date IS NULL, expiry_date ASC, created_at ASC, id ASC").
		Find(&batches).Error
	return batches, err
}

// ReserveStock moves qty from available to reserved across the shop's
// batches of productId in FIFO-by-expiry order. A shortfall is reported as
// Deficit; when allowPartial is false a shortfall rolls everything back and
// returns an *InsufficientStockError.
func ReserveStock(ctx context.Context, db *gorm.DB, shopId, productId int, qty decimal.Decimal, ref ReservationRef, allowPartial bool) (*ReservationResult, error) {
	if !qty.IsPositive() {
		return nil, fmt.Errorf("%w: reservation quantity must be positive", utils.ErrorInvalidInput)
	}
	var result *ReservationResult
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		batches, err := lockAvailableBatches(tx, shopId, productId)
		if err != nil {
			return err
		}
		view := make([]BatchAvailability, len(batches))
		totalAvailable := decimal.Zero
		for i, b := range batches {
			view[i] = BatchAvailability{BatchId: b.ID, BatchNo: b.BatchNo, ExpiryDate: b.ExpiryDate, CreatedAt: b.CreatedAt, Available: b.Available}
			totalAvailable = totalAvailable.Add(b.Available)
		}
		allocs, deficit := PlanFIFOReservation(view, qty)
		if deficit.IsPositive() && !allowPartial {
			return &InsufficientStockError{ShopId: shopId, ProductId: productId, Requested: qty, Available: totalAvailable}
		}
		for _, a := range allocs {
			res := tx.Model(&InventoryBatch{}).
				Where("id = ? AND available >= ?", a.BatchId, a.Qty).
				Updates(map[string]interface{}{
					"available": gorm.Expr("available - ?", a.Qty),
					"reserved":  gorm.Expr("reserved + ?", a.Qty),
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected != 1 {
				return fmt.Errorf("batch %d changed during reservation", a.BatchId)
			}
			if err := tx.Create(&InventoryReservation{
				ReferenceType: ref.Type,
				ReferenceId:   ref.Id,
				BatchId:       a.BatchId,
				ShopId:        shopId,
				ProductId:     productId,
				QtyReserved:   a.Qty,
				Status:        ReservationStatusReserved,
			}).Error; err != nil {
				return err
			}
		}
		result = &ReservationResult{
			Requested:   qty,
			Reserved:    qty.Sub(deficit),
			Deficit:     deficit,
			Complete:    deficit.IsZero(),
			Allocations: allocs,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

type lockedReservation struct {
	reservation InventoryReservation
	batch       InventoryBatch
}

func lockReservations(tx *gorm.DB, ref ReservationRef) ([]lockedReservation, error) {
	var reservations []InventoryReservation
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("reference_type = ? AND reference_id = ? AND status = ?", ref.Type, ref.Id, ReservationStatusReserved).
		Find(&reservations).Error; err != nil {
		return nil, err
	}
	if len(reservations) == 0 {
		return nil, nil
	}
	ids := make([]int, 0, len(reservations))
	for _, r := range reservations {
		ids = append(ids, r.BatchId)
	}
	var batches []InventoryBatch
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id IN ?", ids).Find(&batches).Error; err != nil {
		return nil, err
	}
	byId := make(map[int]InventoryBatch, len(batches))
	for _, b := range batches {
		byId[b.ID] = b
	}
	out := make([]lockedReservation, 0, len(reservations))
	for _, r := range reservations {
		out = append(out, lockedReservation{reservation: r, batch: byId[r.BatchId]})
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].batch, out[j].batch
		return fifoLess(a.ExpiryDate, a.CreatedAt, a.ID, b.ExpiryDate, b.CreatedAt, b.ID)
	})
	return out, nil
}

// DeductReserved consumes up to qty of the reference's reservations in the
// same FIFO order they were made, lowering both quantity and reserved.
func DeductReserved(ctx context.Context, db *gorm.DB, ref ReservationRef, qty decimal.Decimal) (*DeductionResult, error) {
	if !qty.IsPositive() {
		return nil, fmt.Errorf("%w: deduction quantity must be positive", utils.ErrorInvalidInput)
	}
	result := &DeductionResult{Requested: qty, Deducted: decimal.Zero}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := lockReservations(tx, ref)
		if err != nil {
			return err
		}
		remaining := qty
		for _, lr := range locked {
			if !remaining.IsPositive() {
				break
			}
			r := lr.reservation
			take := decimal.Min(r.Outstanding(), remaining)
			if !take.IsPositive() {
				continue
			}
			res := tx.Model(&InventoryBatch{}).
				Where("id = ? AND reserved >= ? AND quantity >= ?", r.BatchId, take, take).
				Updates(map[string]interface{}{
					"quantity": gorm.Expr("quantity - ?", take),
					"reserved": gorm.Expr("reserved - ?", take),
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected != 1 {
				return fmt.Errorf("batch %d reserved quantity is below %s", r.BatchId, take)
			}
			updates := map[string]interface{}{"qty_deducted": gorm.Expr("qty_deducted + ?", take)}
			if take.Equal(r.Outstanding()) {
				updates["status"] = ReservationStatusDeducted
			}
			if err := tx.Model(&InventoryReservation{}).Where("id = ?", r.ID).Updates(updates).Error; err != nil {
				return err
			}
			result.Allocations = append(result.Allocations, Allocation{BatchId: r.BatchId, BatchNo: lr.batch.BatchNo, ExpiryDate: lr.batch.ExpiryDate, Qty: take})
			remaining = remaining.Sub(take)
		}
		result.Deducted = qty.Sub(remaining)
		result.Deficit = remaining
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ReleaseReservation hands every outstanding reserved quantity of ref back to
// available and returns the total released.
func ReleaseReservation(ctx context.Context, db *gorm.DB, ref ReservationRef) (decimal.Decimal, error) {
	released := decimal.Zero
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := lockReservations(tx, ref)
		if err != nil {
			return err
		}
		for _, lr := range locked {
			r := lr.reservation
			out := r.Outstanding()
			if out.IsPositive() {
				res := tx.Model(&InventoryBatch{}).
					Where("id = ? AND reserved >= ?", r.BatchId, out).
					Updates(map[string]interface{}{
						"reserved":  gorm.Expr("reserved - ?", out),
						"available": gorm.Expr("available + ?", out),
					})
				if res.Error != nil {
					return res.Error
				}
				if res.RowsAffected != 1 {
					return fmt.Errorf("batch %d reserved quantity is below %s", r.BatchId, out)
				}
			}
			if err := tx.Model(&InventoryReservation{}).Where("id = ?", r.ID).Updates(map[string]interface{}{
				"qty_released": gorm.Expr("qty_released + ?", out),
				"status":       ReservationStatusReleased,
			}).Error; err != nil {
				return err
			}
			released = released.Add(out)
		}
		return nil
	})
	return released, err
}

type ExpiringBatch struct {
	InventoryBatch
	DaysToExpiry int  `json:"days_to_expiry"`
	Expired      bool `json:"expired"`
}

// ExpiringBatches lists the shop's batches with stock that expire within
// days from now, soonest first. Batches already past expiry but still
// holding stock are included with a negative DaysToExpiry.
func ExpiringBatches(ctx context.Context, db *gorm.DB, shopId int, days int, now time.Time) ([]ExpiringBatch, error) {
	if days < 0 {
		days = 0
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	cutoff := today.AddDate(0, 0, days)
	var batches []InventoryBatch
	if err := db.WithContext(ctx).
		Where("shop_id = ? AND quantity > 0 AND expiry_date IS NOT NULL AND expiry_date <= ?", shopId, cutoff).
		Order("expiry_date ASC, id ASC").
		Find(&batches).Error; err != nil {
		return nil, err
	}
	out := make([]ExpiringBatch, len(batches))
	for i, b := range batches {
		e := b.ExpiryDate.UTC()
		expiryDay := time.Date(e.Year(), e.Month(), e.Day(), 0, 0, 0, 0, time.UTC)
		daysLeft := int(expiryDay.Sub(today).Hours() / 24)
		out[i] = ExpiringBatch{InventoryBatch: b, DaysToExpiry: daysLeft, Expired: daysLeft < 0}
	}
	return out, nil
}

type StockSummary struct {
	ShopId        int              `json:"shop_id"`
	ProductId     int              `json:"product_id"`
	Quantity      decimal.Decimal  `json:"quantity"`
	Reserved      decimal.Decimal  `json:"reserved"`
	Available     decimal.Decimal  `json:"available"`
	BatchCount    int              `json:"batch_count"`
	NearestExpiry *time.Time       `json:"nearest_expiry"`
	Batches       []InventoryBatch `json:"batches"`
}

// ProductStockSummary totals a product's stock across its batches in a shop.
func ProductStockSummary(ctx context.Context, db *gorm.DB, shopId, productId int) (*StockSummary, error) {
	var batches []InventoryBatch
	if err := db.WithContext(ctx).
		Where("shop_id = ? AND product_id = ?", shopId, productId).
		Order("expiry_date IS NULL, expiry_date ASC, created_at ASC, id ASC").
		Find(&batches).Error; err != nil {
		return nil, err
	}
	s := &StockSummary{ShopId: shopId, ProductId: productId, Batches: batches}
	for _, b := range batches {
		s.Quantity = s.Quantity.Add(b.Quantity)
		s.Reserved = s.Reserved.Add(b.Reserved)
		s.Available = s.Available.Add(b.Available)
		if b.Quantity.IsPositive() {
			s.BatchCount++
			if b.ExpiryDate != nil && (s.NearestExpiry == nil || b.ExpiryDate.Before(*s.NearestExpiry)) {
				s.NearestExpiry = b.ExpiryDate
			}
		}
	}
	return s, nil
}
