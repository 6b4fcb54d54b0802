package domain

import (
	"time"
)

// OutboxStatus описывает жизненный цикл строки transactional outbox.
// Допустимы только переходы PENDING→PROCESSED и PENDING→FAILED.
type OutboxStatus string

const (
	// OutboxStatusPending — эффект ещё не доставлен; строка доступна диспетчеру.
	OutboxStatusPending OutboxStatus = "PENDING"
	// OutboxStatusProcessed — эффект доставлен; терминальный статус.
	OutboxStatusProcessed OutboxStatus = "PROCESSED"
	// OutboxStatusFailed — retry-бюджет исчерпан или отказ постоянный; терминальный статус.
	OutboxStatusFailed OutboxStatus = "FAILED"
)

// OutboxEventType перечисляет межсервисные эффекты, которые умеет
// доставлять диспетчер.
type OutboxEventType string

const (
	EventInventoryReserve        OutboxEventType = "INVENTORY_RESERVE"
	EventConfirmInventoryReserve OutboxEventType = "CONFIRM_INVENTORY_RESERVATION"
	EventReleaseInventoryReserve OutboxEventType = "RELEASE_INVENTORY_RESERVATION"
	EventCouponCommit            OutboxEventType = "COUPON_COMMIT"
	EventReleaseCouponReserve    OutboxEventType = "RELEASE_COUPON_RESERVATION"
	// EventOrderEvent — публикация события жизненного цикла заказа в Kafka.
	EventOrderEvent OutboxEventType = "ORDER_EVENT"
)

const (
	// DefaultOutboxMaxRetries — retry-бюджет строки по умолчанию.
	DefaultOutboxMaxRetries = 5
	// OutboxLastErrorLimit ограничивает длину сохраняемого текста ошибки.
	OutboxLastErrorLimit = 500
)

// OutboxEvent — одна строка outbox: один требуемый побочный эффект.
// Строку создаёт владеющий агрегат в той же транзакции, что и доменное
// изменение; мутирует статус только диспетчер. Строки не удаляются —
// терминальные остаются для аудита.
type OutboxEvent struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     OutboxEventType
	Payload       []byte
	Status        OutboxStatus
	RetryCount    int
	MaxRetries    int
	NextRetryAt   *time.Time
	LastError     string
	ProcessedAt   *time.Time
	CreatedAt     time.Time
}

// Terminal сообщает, достигла ли строка терминального статуса.
func (e *OutboxEvent) Terminal() bool {
	return e.Status == OutboxStatusProcessed || e.Status == OutboxStatusFailed
}

// Due сообщает, пора ли диспетчеру обрабатывать строку.
// nextRetryAt имеет смысл только для PENDING; nil означает «сразу».
func (e *OutboxEvent) Due(now time.Time) bool {
	if e.Status != OutboxStatusPending {
		return false
	}
	if e.NextRetryAt == nil {
		return true
	}
	return !e.NextRetryAt.After(now)
}

// MarkProcessed переводит строку в PROCESSED.
func (e *OutboxEvent) MarkProcessed(now time.Time) error {
	if e.Terminal() {
		return ErrOutboxTerminal
	}
	e.Status = OutboxStatusProcessed
	processedAt := now.UTC()
	e.ProcessedAt = &processedAt
	e.NextRetryAt = nil
	return nil
}

// RecordFailure фиксирует неудачную попытку доставки: увеличивает
// retryCount, обрезает текст ошибки и либо назначает следующий retry по
// квадратичному расписанию 5·n² секунд, либо — при исчерпании бюджета или
// постоянном отказе — переводит строку в FAILED.
func (e *OutboxEvent) RecordFailure(now time.Time, cause error, permanent bool) error {
	if e.Terminal() {
		return ErrOutboxTerminal
	}

	e.RetryCount++
	e.LastError = TruncateError(cause)

	maxRetries := e.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultOutboxMaxRetries
	}

	if permanent || e.RetryCount >= maxRetries {
		e.Status = OutboxStatusFailed
		e.NextRetryAt = nil
		return nil
	}

	next := now.UTC().Add(RetryBackoff(e.RetryCount))
	e.NextRetryAt = &next
	return nil
}

// RetryBackoff возвращает задержку перед retry номер retryCount:
// 5s, 20s, 45s, 80s, 125s для попыток 1..5.
func RetryBackoff(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	return time.Duration(5*retryCount*retryCount) * time.Second
}

// TruncateError приводит ошибку к строке длиной не более OutboxLastErrorLimit.
func TruncateError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if len(msg) > OutboxLastErrorLimit {
		return msg[:OutboxLastErrorLimit]
	}
	return msg
}
