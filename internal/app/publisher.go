package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/northshop/platform/internal/domain"
)

// logPublisher — заглушка OrderEventPublisher для запуска без Kafka:
// событие только логируется. Идемпотентен тривиально.
type logPublisher struct {
	logger *log.Entry
}

func newLogPublisher(logger *log.Entry) domain.OrderEventPublisher {
	return &logPublisher{logger: logger}
}

func (p *logPublisher) Publish(event domain.OutboxEvent) error {
	p.logger.WithFields(log.Fields{
		"event_id":     event.ID,
		"event_type":   event.EventType,
		"aggregate_id": event.AggregateID,
	}).Info("order event published")
	return nil
}

var _ domain.OrderEventPublisher = (*logPublisher)(nil)
