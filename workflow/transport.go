package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/mmdatafocus/purchase_backend/config"
	"github.com/mmdatafocus/purchase_backend/models"
)

// Transport delivers one outbox envelope at least once and returns the
// broker's message id.
type Transport interface {
	Publish(ctx context.Context, env models.EventEnvelope) (string, error)
}

// PubSubTransport publishes envelopes to a Pub/Sub topic ordered by aggregate.
type PubSubTransport struct {
	Topic string
}

func NewPubSubTransport(topic string) *PubSubTransport {
	return &PubSubTransport{Topic: topic}
}

func (t *PubSubTransport) Publish(ctx context.Context, env models.EventEnvelope) (string, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshal envelope %s: %w", env.EventId, err)
	}
	attrs := map[string]string{
		"event_type":     env.EventType,
		"aggregate_type": env.AggregateType,
	}
	if env.CorrelationId != "" {
		attrs["correlation_id"] = env.CorrelationId
	}
	id, err := config.PublishEventWithResult(ctx, t.Topic, env.AggregateId, data, attrs)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDeliveryFailure, err)
	}
	return id, nil
}

// MemoryTransport records envelopes in memory. Fail, when set, is consulted
// before every publish.
type MemoryTransport struct {
	mu        sync.Mutex
	Published []models.EventEnvelope
	Fail      func(env models.EventEnvelope) error
}

func (t *MemoryTransport) Publish(_ context.Context, env models.EventEnvelope) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Fail != nil {
		if err := t.Fail(env); err != nil {
			return "", errors.Join(ErrDeliveryFailure, err)
		}
	}
	t.Published = append(t.Published, env)
	return uuid.NewString(), nil
}

func (t *MemoryTransport) Events() []models.EventEnvelope {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.EventEnvelope, len(t.Published))
	copy(out, t.Published)
	return out
}
