package models

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/purchase_backend/utils"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Outbox publish statuses. Stored as strings.
const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusPublished  = "PUBLISHED"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

// OutboxEvent is written in the same transaction as the state change it
// describes and published later by the dispatcher.
type OutboxEvent struct {
	ID            string         `gorm:"type:char(36);primary_key" json:"id"`
	AggregateType string         `gorm:"size:50;not null;index:idx_outbox_aggregate" json:"aggregate_type"`
	AggregateId   string         `gorm:"size:64;not null;index:idx_outbox_aggregate" json:"aggregate_id"`
	EventType     string         `gorm:"size:100;not null;index" json:"event_type"`
	Payload       datatypes.JSON `json:"payload"`
	CorrelationId string         `gorm:"size:64;index" json:"correlation_id"`
	Published     bool           `gorm:"not null;default:false" json:"published"`
	PublishStatus string         `gorm:"size:20;not null;default:'PENDING';index:idx_outbox_dispatch,priority:1" json:"publish_status"`
	Attempts      int            `gorm:"not null;default:0" json:"attempts"`
	LastError     *string        `gorm:"type:text" json:"last_error"`
	NextAttemptAt *time.Time     `gorm:"index:idx_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt      *time.Time     `json:"locked_at"`
	LockedBy      *string        `gorm:"size:64" json:"locked_by"`
	PublishedAt   *time.Time     `json:"published_at"`
	MessageId     *string        `gorm:"size:255" json:"message_id"`
	CreatedAt     time.Time      `gorm:"autoCreateTime;index:idx_outbox_dispatch,priority:3" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// EventEnvelope is the wire shape of a published event.
type EventEnvelope struct {
	EventId       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	AggregateType string          `json:"aggregate_type"`
	AggregateId   string          `json:"aggregate_id"`
	CorrelationId string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
	Timestamp     time.Time       `json:"timestamp"`
}

func (e *OutboxEvent) Envelope() EventEnvelope {
	return EventEnvelope{
		EventId:       e.ID,
		EventType:     e.EventType,
		AggregateType: e.AggregateType,
		AggregateId:   e.AggregateId,
		CorrelationId: e.CorrelationId,
		Payload:       json.RawMessage(e.Payload),
		Timestamp:     e.CreatedAt.UTC(),
	}
}

// WriteOutboxEvent records an event inside tx. It never publishes.
func WriteOutboxEvent(ctx context.Context, tx *gorm.DB, aggregateType, aggregateId, eventType string, payload interface{}) (*OutboxEvent, error) {
	event := OutboxEvent{
		ID:            uuid.NewString(),
		AggregateType: aggregateType,
		AggregateId:   aggregateId,
		EventType:     eventType,
		Payload:       utils.ToJSONColumn(payload),
		CorrelationId: correlationIdFromContextOrNew(ctx),
		PublishStatus: OutboxPublishStatusPending,
		CreatedAt:     time.Now().UTC(),
	}
	if err := tx.Create(&event).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

func ListOutboxEvents(ctx context.Context, db *gorm.DB, aggregateType, aggregateId string) ([]*OutboxEvent, error) {
	var events []*OutboxEvent
	if err := db.WithContext(ctx).
		Where("aggregate_type = ? AND aggregate_id = ?", aggregateType, aggregateId).
		Order("created_at ASC, id ASC").
		Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

// RevertDeadOutboxEvents puts DEAD events back in the queue with a fresh
// attempt budget. An empty ids slice reverts every DEAD event.
func RevertDeadOutboxEvents(ctx context.Context, db *gorm.DB, ids []string) (int64, error) {
	q := db.WithContext(ctx).Model(&OutboxEvent{}).Where("publish_status = ?", OutboxPublishStatusDead)
	if len(ids) > 0 {
		q = q.Where("id IN ?", ids)
	}
	res := q.Updates(map[string]interface{}{
		"publish_status":  OutboxPublishStatusPending,
		"attempts":        0,
		"next_attempt_at": nil,
		"locked_at":       nil,
		"locked_by":       nil,
	})
	return res.RowsAffected, res.Error
}

type OutboxCounts map[string]int64

func CountOutboxByStatus(ctx context.Context, db *gorm.DB) (OutboxCounts, error) {
	var rows []struct {
		PublishStatus string
		Count         int64
	}
	if err := db.WithContext(ctx).Model(&OutboxEvent{}).
		Select("publish_status, COUNT(*) AS count").
		Group("publish_status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := OutboxCounts{}
	for _, r := range rows {
		out[r.PublishStatus] = r.Count
	}
	return out, nil
}
