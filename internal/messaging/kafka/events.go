package kafka

import (
	"encoding/json"
	"time"

	"github.com/northshop/platform/internal/domain"
)

// Topics для Kafka
const (
	TopicOrderEvents     = "platform.order.events"
	TopicDeadLetterQueue = "platform.order.dlq" // Dead Letter Queue для записей, исчерпавших retry-бюджет
)

// EventEnvelope — формат сообщения, публикуемого из transactional outbox.
// ID строки outbox едет вместе с сообщением, чтобы потребители могли
// дедуплицировать at-least-once доставку.
type EventEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`

	// Заполняются только для DLQ-сообщений.
	RetryCount int    `json:"retry_count,omitempty"`
	LastError  string `json:"last_error,omitempty"`
}

// NewEventEnvelope собирает конверт из outbox-записи.
func NewEventEnvelope(event domain.OutboxEvent, now time.Time) EventEnvelope {
	return EventEnvelope{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     string(event.EventType),
		Payload:       json.RawMessage(event.Payload),
		PublishedAt:   now.UTC(),
	}
}
