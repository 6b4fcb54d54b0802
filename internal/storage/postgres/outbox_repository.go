package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/northshop/platform/internal/domain"
)

type outboxRepository struct {
	db *sql.DB
}

// NewOutboxRepository создаёт PostgreSQL-реализацию OutboxRepository.
func NewOutboxRepository(store *Store) domain.OutboxRepository {
	return &outboxRepository{db: store.DB()}
}

func (r *outboxRepository) Enqueue(event domain.OutboxEvent) (domain.OutboxEvent, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	normalizeEvent(&event)

	if _, err := r.db.ExecContext(ctx, insertOutboxSQL,
		event.ID, event.AggregateType, event.AggregateID, string(event.EventType),
		event.Payload, string(event.Status), event.RetryCount, event.MaxRetries,
		event.NextRetryAt, event.LastError, event.ProcessedAt, event.CreatedAt,
	); err != nil {
		return domain.OutboxEvent{}, fmt.Errorf("enqueue outbox event: %w", err)
	}

	return event, nil
}

const insertOutboxSQL = `
	INSERT INTO outbox_events (
		id, aggregate_type, aggregate_id, event_type, payload,
		status, retry_count, max_retries, next_retry_at, last_error,
		processed_at, created_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
`

// enqueueTx вставляет строку outbox в рамках чужой транзакции.
// Так репозиторий заказов записывает доменное изменение и его строки
// outbox одной атомарной единицей.
func enqueueTx(ctx context.Context, tx *sql.Tx, event domain.OutboxEvent) error {
	normalizeEvent(&event)

	if _, err := tx.ExecContext(ctx, insertOutboxSQL,
		event.ID, event.AggregateType, event.AggregateID, string(event.EventType),
		event.Payload, string(event.Status), event.RetryCount, event.MaxRetries,
		event.NextRetryAt, event.LastError, event.ProcessedAt, event.CreatedAt,
	); err != nil {
		return fmt.Errorf("enqueue outbox event in tx: %w", err)
	}
	return nil
}

func normalizeEvent(event *domain.OutboxEvent) {
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
}

// pullLease — на сколько забранная строка перестаёт быть due. Диспетчер,
// упавший после выборки, ничего не теряет: строка снова станет due после
// истечения аренды.
const pullLease = 30 * time.Second

// PullDue забирает PENDING-строки с подошедшим сроком и сдвигает их
// next_retry_at на время аренды одним запросом. Выборка внутри UPDATE
// идёт с SKIP LOCKED, поэтому параллельные диспетчеры не забирают одни
// и те же строки: конкурент пропустит заблокированную строку, а после
// коммита увидит её уже с отодвинутым сроком.
func (r *outboxRepository) PullDue(now time.Time, limit int) ([]domain.OutboxEvent, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `
		UPDATE outbox_events
		SET next_retry_at = $2
		WHERE id IN (
			SELECT id
			FROM outbox_events
			WHERE status = 'PENDING'
			  AND (next_retry_at IS NULL OR next_retry_at <= $1)
			ORDER BY created_at, id
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, aggregate_type, aggregate_id, event_type, payload,
		          status, retry_count, max_retries, next_retry_at, last_error,
		          processed_at, created_at
	`, now.UTC(), now.UTC().Add(pullLease), limit)
	if err != nil {
		return nil, fmt.Errorf("pull due outbox events: %w", err)
	}
	defer rows.Close()

	result := make([]domain.OutboxEvent, 0, limit)
	for rows.Next() {
		event, err := scanOutboxEvent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox rows: %w", err)
	}

	// RETURNING не гарантирует порядок строк, а диспетчеру нужен порядок
	// создания внутри агрегата.
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	return result, nil
}

func (r *outboxRepository) Get(id string) (domain.OutboxEvent, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload,
		       status, retry_count, max_retries, next_retry_at, last_error,
		       processed_at, created_at
		FROM outbox_events
		WHERE id = $1
	`, id)

	event, err := scanOutboxEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.OutboxEvent{}, domain.ErrOutboxEventNotFound
		}
		return domain.OutboxEvent{}, err
	}
	return event, nil
}

// Update сохраняет результат обработки строки. Терминальные строки
// защищены на уровне запроса: обновить их нельзя.
func (r *outboxRepository) Update(event domain.OutboxEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE outbox_events
		SET status = $2,
		    retry_count = $3,
		    next_retry_at = $4,
		    last_error = $5,
		    processed_at = $6
		WHERE id = $1
		  AND status = 'PENDING'
	`, event.ID, string(event.Status), event.RetryCount, event.NextRetryAt, event.LastError, event.ProcessedAt)
	if err != nil {
		return fmt.Errorf("update outbox event: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for outbox update: %w", err)
	}
	if affected == 0 {
		exists, err := r.eventExists(ctx, event.ID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrOutboxEventNotFound
		}
		return domain.ErrOutboxTerminal
	}

	return nil
}

func (r *outboxRepository) ListFailed(limit int) ([]domain.OutboxEvent, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload,
		       status, retry_count, max_retries, next_retry_at, last_error,
		       processed_at, created_at
		FROM outbox_events
		WHERE status = 'FAILED'
		ORDER BY created_at, id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list failed outbox events: %w", err)
	}
	defer rows.Close()

	result := make([]domain.OutboxEvent, 0, limit)
	for rows.Next() {
		event, err := scanOutboxEvent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate failed outbox rows: %w", err)
	}

	return result, nil
}

func (r *outboxRepository) Requeue(id string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE outbox_events
		SET status = 'PENDING',
		    retry_count = 0,
		    next_retry_at = NULL,
		    last_error = ''
		WHERE id = $1
		  AND status = 'FAILED'
	`, id)
	if err != nil {
		return fmt.Errorf("requeue outbox event: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for outbox requeue: %w", err)
	}
	if affected == 0 {
		exists, err := r.eventExists(ctx, id)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrOutboxEventNotFound
		}
		return domain.Ef(domain.KindValidation, "outbox event %s is not failed", id)
	}

	return nil
}

func (r *outboxRepository) Stats() (domain.OutboxStats, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		stats  domain.OutboxStats
		oldest sql.NullTime
	)

	if err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FILTER (WHERE status = 'PENDING'),
		       COUNT(*) FILTER (WHERE status = 'FAILED'),
		       MIN(created_at) FILTER (WHERE status = 'PENDING')
		FROM outbox_events
	`).Scan(&stats.PendingCount, &stats.FailedCount, &oldest); err != nil {
		return domain.OutboxStats{}, fmt.Errorf("outbox stats query failed: %w", err)
	}

	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time.UTC()
	}

	return stats, nil
}

func (r *outboxRepository) eventExists(ctx context.Context, id string) (bool, error) {
	var found string
	err := r.db.QueryRowContext(ctx, `SELECT id FROM outbox_events WHERE id = $1`, id).Scan(&found)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check outbox event exists: %w", err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOutboxEvent(row rowScanner) (domain.OutboxEvent, error) {
	var (
		event       domain.OutboxEvent
		eventType   string
		status      string
		nextRetryAt sql.NullTime
		processedAt sql.NullTime
	)

	if err := row.Scan(
		&event.ID, &event.AggregateType, &event.AggregateID, &eventType, &event.Payload,
		&status, &event.RetryCount, &event.MaxRetries, &nextRetryAt, &event.LastError,
		&processedAt, &event.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.OutboxEvent{}, err
		}
		return domain.OutboxEvent{}, fmt.Errorf("scan outbox event: %w", err)
	}

	event.EventType = domain.OutboxEventType(eventType)
	event.Status = domain.OutboxStatus(status)
	if nextRetryAt.Valid {
		next := nextRetryAt.Time.UTC()
		event.NextRetryAt = &next
	}
	if processedAt.Valid {
		processed := processedAt.Time.UTC()
		event.ProcessedAt = &processed
	}

	return event, nil
}

var _ domain.OutboxRepository = (*outboxRepository)(nil)
