package models

import "time"

type IdempotencyStatus string

const (
	IdempotencyStatusProcessing IdempotencyStatus = "PROCESSING"
	IdempotencyStatusSucceeded  IdempotencyStatus = "SUCCEEDED"
	IdempotencyStatusFailed     IdempotencyStatus = "FAILED"
)

// IdempotencyKey makes client-retried commands safe.
// Unique constraint: (scope, idempotency_key).
type IdempotencyKey struct {
	ID             int               `gorm:"primary_key" json:"id"`
	Scope          string            `gorm:"size:100;not null;index:uniq_idem,unique" json:"scope"`
	IdempotencyKey string            `gorm:"size:255;not null;index:uniq_idem,unique" json:"idempotency_key"`
	Status         IdempotencyStatus `gorm:"size:20;not null;index" json:"status"`
	ResponseRef    *string           `gorm:"size:64" json:"response_ref"`
	LastError      *string           `gorm:"type:text" json:"last_error"`
	CreatedAt      time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}
