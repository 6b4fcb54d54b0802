package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/northshop/platform/internal/domain"
)

// outboxRepositoryInMemory — простое in-memory хранилище transactional outbox.
type outboxRepositoryInMemory struct {
	mu     sync.RWMutex
	events map[string]*domain.OutboxEvent
	// seq фиксирует порядок вставки: created_at может совпадать
	// у строк, записанных в одной единице работы.
	seq     map[string]int64
	nextSeq int64
}

// NewOutboxRepository создаёт in-memory реализацию outbox.
func NewOutboxRepository() *outboxRepositoryInMemory {
	return &outboxRepositoryInMemory{
		events: make(map[string]*domain.OutboxEvent),
		seq:    make(map[string]int64),
	}
}

// Enqueue сохраняет строку со статусом PENDING и возвращает её.
func (r *outboxRepositoryInMemory) Enqueue(event domain.OutboxEvent) (domain.OutboxEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enqueueLocked(event), nil
}

func (r *outboxRepositoryInMemory) enqueueLocked(event domain.OutboxEvent) domain.OutboxEvent {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Status == "" {
		event.Status = domain.OutboxStatusPending
	}
	if event.MaxRetries <= 0 {
		event.MaxRetries = domain.DefaultOutboxMaxRetries
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	stored := event
	r.events[event.ID] = &stored
	r.nextSeq++
	r.seq[event.ID] = r.nextSeq
	return event
}

// PullDue возвращает до limit PENDING-строк, у которых подошёл срок,
// в порядке создания.
func (r *outboxRepositoryInMemory) PullDue(now time.Time, limit int) ([]domain.OutboxEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	due := make([]domain.OutboxEvent, 0, limit)
	for _, event := range r.events {
		if event.Due(now) {
			due = append(due, *event)
		}
	}

	sort.Slice(due, func(i, j int) bool {
		return r.seq[due[i].ID] < r.seq[due[j].ID]
	})

	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// Get возвращает строку по идентификатору.
func (r *outboxRepositoryInMemory) Get(id string) (domain.OutboxEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	event, ok := r.events[id]
	if !ok {
		return domain.OutboxEvent{}, domain.ErrOutboxEventNotFound
	}
	return *event, nil
}

// Update сохраняет результат обработки строки диспетчером.
func (r *outboxRepositoryInMemory) Update(event domain.OutboxEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.events[event.ID]
	if !ok {
		return domain.ErrOutboxEventNotFound
	}
	if stored.Terminal() {
		return domain.ErrOutboxTerminal
	}

	updated := event
	r.events[event.ID] = &updated
	return nil
}

// ListFailed возвращает терминально неуспешные строки.
func (r *outboxRepositoryInMemory) ListFailed(limit int) ([]domain.OutboxEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	failed := make([]domain.OutboxEvent, 0)
	for _, event := range r.events {
		if event.Status == domain.OutboxStatusFailed {
			failed = append(failed, *event)
		}
	}
	sort.Slice(failed, func(i, j int) bool {
		return r.seq[failed[i].ID] < r.seq[failed[j].ID]
	})
	if len(failed) > limit {
		failed = failed[:limit]
	}
	return failed, nil
}

// Requeue возвращает FAILED-строку в PENDING со сброшенным retry-бюджетом.
func (r *outboxRepositoryInMemory) Requeue(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	event, ok := r.events[id]
	if !ok {
		return domain.ErrOutboxEventNotFound
	}
	if event.Status != domain.OutboxStatusFailed {
		return domain.Ef(domain.KindValidation, "outbox event %s is not failed", id)
	}

	event.Status = domain.OutboxStatusPending
	event.RetryCount = 0
	event.NextRetryAt = nil
	event.LastError = ""
	return nil
}

// Stats возвращает состояние backlog.
func (r *outboxRepositoryInMemory) Stats() (domain.OutboxStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stats domain.OutboxStats
	for _, event := range r.events {
		switch event.Status {
		case domain.OutboxStatusPending:
			stats.PendingCount++
			if stats.OldestPendingAt.IsZero() || event.CreatedAt.Before(stats.OldestPendingAt) {
				stats.OldestPendingAt = event.CreatedAt
			}
		case domain.OutboxStatusFailed:
			stats.FailedCount++
		}
	}
	return stats, nil
}

var _ domain.OutboxRepository = (*outboxRepositoryInMemory)(nil)
