package outbox

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/northshop/platform/internal/domain"
)

const (
	defaultPollInterval = 1 * time.Second
	defaultBatchSize    = 100
)

var (
	outboxDispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "platform_outbox_dispatch_total",
		Help: "Total number of outbox dispatch outcomes grouped by event type and result.",
	}, []string{"event_type", "result"})
	outboxPendingRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "platform_outbox_pending_records",
		Help: "Current number of pending records in transactional outbox.",
	})
	outboxFailedRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "platform_outbox_failed_records",
		Help: "Current number of terminally failed records in transactional outbox.",
	})
	outboxOldestPendingAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "platform_outbox_oldest_pending_age_seconds",
		Help: "Age in seconds of the oldest pending outbox record.",
	})
)

// OutcomeApplier получает терминальный исход доставки строки: успех
// (err == nil) или постоянный отказ. Сервис заказов реализует его, чтобы
// продвигать статус заказа по результату доставки.
type OutcomeApplier interface {
	ApplyOutcome(ctx context.Context, event domain.OutboxEvent, err error) error
}

// DispatcherOptions задаёт параметры диспетчера outbox.
type DispatcherOptions struct {
	Logger       *log.Entry
	DLQPublisher domain.OrderEventPublisher
	Outcome      OutcomeApplier
	PollInterval time.Duration
	BatchSize    int
	Now          func() time.Time
}

// Option настраивает Dispatcher.
type Option func(*DispatcherOptions)

// WithLogger задаёт logger для диспетчера.
func WithLogger(logger *log.Entry) Option {
	return func(opts *DispatcherOptions) {
		opts.Logger = logger
	}
}

// WithDLQPublisher задаёт publisher для строк, ушедших в FAILED.
func WithDLQPublisher(publisher domain.OrderEventPublisher) Option {
	return func(opts *DispatcherOptions) {
		opts.DLQPublisher = publisher
	}
}

// WithOutcomeApplier задаёт хук терминальных исходов доставки.
func WithOutcomeApplier(applier OutcomeApplier) Option {
	return func(opts *DispatcherOptions) {
		opts.Outcome = applier
	}
}

// WithPollInterval задаёт частоту опроса outbox.
func WithPollInterval(interval time.Duration) Option {
	return func(opts *DispatcherOptions) {
		opts.PollInterval = interval
	}
}

// WithBatchSize задаёт размер батча из outbox.
func WithBatchSize(batchSize int) Option {
	return func(opts *DispatcherOptions) {
		opts.BatchSize = batchSize
	}
}

// WithClock подменяет источник времени в тестах.
func WithClock(now func() time.Time) Option {
	return func(opts *DispatcherOptions) {
		opts.Now = now
	}
}

// Dispatcher доставляет строки transactional outbox их обработчикам.
// Одна попытка на строку за polling-цикл; расписание повторов задаёт
// OutboxEvent.RecordFailure. Ошибки, которые ретраить бессмысленно,
// сразу переводят строку в FAILED.
type Dispatcher struct {
	repo         domain.OutboxRepository
	registry     Registry
	dlqPublisher domain.OrderEventPublisher
	outcome      OutcomeApplier
	logger       *log.Entry
	pollInterval time.Duration
	batchSize    int
	now          func() time.Time
}

// NewDispatcher создаёт диспетчер outbox.
func NewDispatcher(repo domain.OutboxRepository, registry Registry, options ...Option) *Dispatcher {
	opts := DispatcherOptions{
		PollInterval: defaultPollInterval,
		BatchSize:    defaultBatchSize,
		Now:          time.Now,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "outbox-dispatcher")
	}

	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Dispatcher{
		repo:         repo,
		registry:     registry,
		dlqPublisher: opts.DLQPublisher,
		outcome:      opts.Outcome,
		logger:       logger,
		pollInterval: opts.PollInterval,
		batchSize:    opts.BatchSize,
		now:          opts.Now,
	}
}

// Run запускает периодический polling outbox до отмены ctx.
func (d *Dispatcher) Run(ctx context.Context) {
	if d.repo == nil || len(d.registry) == 0 {
		d.logger.Warn("outbox dispatcher is disabled: repo or registry is empty")
		return
	}

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	d.ProcessOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce выполняет один polling-цикл.
func (d *Dispatcher) ProcessOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	d.refreshBacklogMetrics()

	events, err := d.repo.PullDue(d.now().UTC(), d.batchSize)
	if err != nil {
		d.logger.WithError(err).Warn("failed to pull due outbox records")
		return
	}
	if len(events) == 0 {
		return
	}

	// Неудача строки блокирует последующие строки её агрегата в этом
	// батче: эффекты одного заказа не должны обгонять друг друга.
	blocked := make(map[string]struct{})

	for _, event := range events {
		if ctx.Err() != nil {
			return
		}

		aggregate := event.AggregateType + "/" + event.AggregateID
		if _, skip := blocked[aggregate]; skip {
			continue
		}

		if !d.dispatch(ctx, event) {
			blocked[aggregate] = struct{}{}
		}
	}

	d.refreshBacklogMetrics()
}

// dispatch обрабатывает одну строку; false означает, что строка осталась
// недоставленной и её агрегат нужно придержать до конца батча.
func (d *Dispatcher) dispatch(ctx context.Context, event domain.OutboxEvent) bool {
	logger := d.logger.WithFields(log.Fields{
		"outbox_id":    event.ID,
		"event_type":   event.EventType,
		"aggregate_id": event.AggregateID,
	})

	handler, ok := d.registry[event.EventType]
	if !ok {
		return !d.recordFailure(ctx, logger, event,
			domain.Ef(domain.KindValidation, "no handler registered for event type %s", event.EventType))
	}

	dispatchErr := handler(ctx, event)
	if dispatchErr == nil {
		if err := event.MarkProcessed(d.now()); err != nil {
			logger.WithError(err).Warn("failed to mark outbox record processed")
			return false
		}
		if err := d.repo.Update(event); err != nil {
			logger.WithError(err).Warn("failed to persist processed outbox record")
			return false
		}
		outboxDispatchTotal.WithLabelValues(string(event.EventType), "processed").Inc()
		d.applyOutcome(ctx, logger, event, nil)
		return true
	}

	return !d.recordFailure(ctx, logger, event, dispatchErr)
}

// recordFailure применяет расписание повторов к строке; true означает,
// что строка ушла в FAILED терминально.
func (d *Dispatcher) recordFailure(ctx context.Context, logger *log.Entry, event domain.OutboxEvent, dispatchErr error) bool {
	permanent := !domain.Retryable(dispatchErr)
	if err := event.RecordFailure(d.now(), dispatchErr, permanent); err != nil {
		logger.WithError(err).Warn("failed to record outbox delivery failure")
		return false
	}
	if err := d.repo.Update(event); err != nil {
		logger.WithError(err).Warn("failed to persist outbox delivery failure")
		return false
	}

	if event.Status != domain.OutboxStatusFailed {
		logger.WithError(dispatchErr).WithField("retry_count", event.RetryCount).
			Warn("outbox delivery failed, retry scheduled")
		outboxDispatchTotal.WithLabelValues(string(event.EventType), "retry_scheduled").Inc()
		return false
	}

	logger.WithError(dispatchErr).WithField("retry_count", event.RetryCount).
		Error("outbox delivery failed terminally")
	outboxDispatchTotal.WithLabelValues(string(event.EventType), "failed").Inc()

	if d.dlqPublisher != nil {
		if dlqErr := d.dlqPublisher.Publish(event); dlqErr != nil {
			logger.WithError(dlqErr).Warn("failed to publish outbox record to DLQ")
			outboxDispatchTotal.WithLabelValues(string(event.EventType), "dlq_failed").Inc()
		}
	}

	d.applyOutcome(ctx, logger, event, dispatchErr)
	return true
}

func (d *Dispatcher) applyOutcome(ctx context.Context, logger *log.Entry, event domain.OutboxEvent, dispatchErr error) {
	if d.outcome == nil {
		return
	}
	if err := d.outcome.ApplyOutcome(ctx, event, dispatchErr); err != nil {
		logger.WithError(err).Warn("failed to apply outbox delivery outcome")
	}
}

func (d *Dispatcher) refreshBacklogMetrics() {
	stats, err := d.repo.Stats()
	if err != nil {
		d.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}

	outboxPendingRecords.Set(float64(stats.PendingCount))
	outboxFailedRecords.Set(float64(stats.FailedCount))
	if stats.PendingCount == 0 || stats.OldestPendingAt.IsZero() {
		outboxOldestPendingAge.Set(0)
		return
	}

	age := d.now().Sub(stats.OldestPendingAt).Seconds()
	if age < 0 {
		age = 0
	}
	outboxOldestPendingAge.Set(age)
}
