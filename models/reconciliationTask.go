package models

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/purchase_backend/utils"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const MaxTaskListLimit = 200

type ReconciliationTask struct {
	ID               int            `gorm:"primary_key" json:"id"`
	InvoiceId        string         `gorm:"type:char(36);not null;index" json:"invoice_id"`
	LineId           string         `gorm:"type:char(36);not null;index" json:"line_id"`
	VendorId         int            `gorm:"not null;default:0;index" json:"vendor_id"`
	Reason           string         `gorm:"size:255" json:"reason"`
	SuggestedActions datatypes.JSON `json:"suggested_actions"`
	Status           TaskStatus     `gorm:"size:20;not null;index" json:"status"`
	ResolvedBy       *string        `gorm:"size:100" json:"resolved_by"`
	ResolutionNotes  *string        `gorm:"type:text" json:"resolution_notes"`
	ResolvedAt       *time.Time     `json:"resolved_at"`
	CreatedAt        time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

type TaskFilter struct {
	Status    TaskStatus
	VendorId  int
	InvoiceId string
	Limit     int
}

func ListReconciliationTasks(ctx context.Context, db *gorm.DB, f TaskFilter) ([]*ReconciliationTask, error) {
	limit := f.Limit
	if limit <= 0 || limit > MaxTaskListLimit {
		limit = MaxTaskListLimit
	}
	q := db.WithContext(ctx).Model(&ReconciliationTask{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.VendorId > 0 {
		q = q.Where("vendor_id = ?", f.VendorId)
	}
	if f.InvoiceId != "" {
		q = q.Where("invoice_id = ?", f.InvoiceId)
	}
	var tasks []*ReconciliationTask
	if err := q.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

func GetReconciliationTask(ctx context.Context, db *gorm.DB, id int) (*ReconciliationTask, error) {
	var task ReconciliationTask
	if err := db.WithContext(ctx).First(&task, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &task, nil
}

func resolutionUpdates(resolvedBy, notes string) map[string]interface{} {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":      TaskStatusResolved,
		"resolved_by": &resolvedBy,
		"resolved_at": &now,
	}
	if notes != "" {
		updates["resolution_notes"] = &notes
	}
	return updates
}

func ResolveReconciliationTask(ctx context.Context, db *gorm.DB, id int, resolvedBy, notes string) (*ReconciliationTask, error) {
	task, err := GetReconciliationTask(ctx, db, id)
	if err != nil {
		return nil, err
	}
	if task.Status == TaskStatusResolved {
		return task, nil
	}
	if err := db.WithContext(ctx).Model(&ReconciliationTask{}).Where("id = ?", id).
		Updates(resolutionUpdates(resolvedBy, notes)).Error; err != nil {
		return nil, err
	}
	return GetReconciliationTask(ctx, db, id)
}

// ResolveTasksForLine closes every pending task raised for a line.
func ResolveTasksForLine(tx *gorm.DB, lineId, resolvedBy, notes string) error {
	return tx.Model(&ReconciliationTask{}).
		Where("line_id = ? AND status = ?", lineId, TaskStatusPending).
		Updates(resolutionUpdates(resolvedBy, notes)).Error
}
