package workflow

import (
	"errors"
	"time"

	"github.com/mmdatafocus/purchase_backend/models"
	"gorm.io/gorm"
)

var ErrIdempotencyInProgress = errors.New("idempotency in progress")

// idempotencyStaleAfter is how long a PROCESSING key blocks retries before
// it is assumed abandoned.
const idempotencyStaleAfter = 5 * time.Minute

// BeginIdempotency inserts PROCESSING for (scope, key). If the key already
// SUCCEEDED it returns the stored row with skip=true so the caller can replay
// the earlier response.
func BeginIdempotency(tx *gorm.DB, scope, key string) (existing *models.IdempotencyKey, skip bool, err error) {
	row := models.IdempotencyKey{
		Scope:          scope,
		IdempotencyKey: key,
		Status:         models.IdempotencyStatusProcessing,
	}
	if err := tx.Create(&row).Error; err == nil {
		return &row, false, nil
	} else if !models.IsDuplicateKeyErr(err) {
		return nil, false, err
	}

	var found models.IdempotencyKey
	if err := tx.Where("scope = ? AND idempotency_key = ?", scope, key).First(&found).Error; err != nil {
		return nil, false, err
	}

	switch found.Status {
	case models.IdempotencyStatusSucceeded:
		return &found, true, nil
	case models.IdempotencyStatusProcessing:
		if time.Since(found.UpdatedAt) < idempotencyStaleAfter {
			return &found, false, ErrIdempotencyInProgress
		}
	}
	return &found, false, tx.Model(&models.IdempotencyKey{}).
		Where("id = ?", found.ID).
		Updates(map[string]interface{}{"status": models.IdempotencyStatusProcessing, "last_error": nil}).Error
}

func MarkIdempotencySucceeded(tx *gorm.DB, scope, key, responseRef string) error {
	return tx.Model(&models.IdempotencyKey{}).
		Where("scope = ? AND idempotency_key = ?", scope, key).
		Updates(map[string]interface{}{"status": models.IdempotencyStatusSucceeded, "response_ref": responseRef, "last_error": nil}).Error
}

