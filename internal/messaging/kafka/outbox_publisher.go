package kafka

import (
	"fmt"
	"time"

	"github.com/northshop/platform/internal/domain"
)

// OutboxTopicPublisher публикует outbox-записи в заданный Kafka topic.
// Ключ сообщения — AggregateID, чтобы события одного заказа попадали в
// одну партицию и сохраняли порядок.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
	dlq      bool
}

// NewOrderEventPublisher создаёт Kafka-паблишер для событий жизненного
// цикла заказа.
func NewOrderEventPublisher(producer *Producer, topic string) domain.OrderEventPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &OutboxTopicPublisher{producer: producer, topic: topic}
}

// NewDLQPublisher создаёт паблишер для записей, исчерпавших retry-бюджет.
// В конверт дополнительно попадают счётчик попыток и последняя ошибка.
func NewDLQPublisher(producer *Producer, topic string) domain.OrderEventPublisher {
	if topic == "" {
		topic = TopicDeadLetterQueue
	}
	return &OutboxTopicPublisher{producer: producer, topic: topic, dlq: true}
}

func (p *OutboxTopicPublisher) Publish(event domain.OutboxEvent) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka outbox publisher is not initialized")
	}

	key := event.AggregateID
	if key == "" {
		key = event.ID
	}

	envelope := NewEventEnvelope(event, time.Now())
	if p.dlq {
		envelope.RetryCount = event.RetryCount
		envelope.LastError = event.LastError
	}

	return p.producer.PublishEvent(p.topic, key, envelope)
}

var _ domain.OrderEventPublisher = (*OutboxTopicPublisher)(nil)
