package domain

import (
	"context"
	"time"
)

// AvailabilityQuery — запрос доступности одной позиции.
type AvailabilityQuery struct {
	SKU string
	Qty int32
}

// Availability — ответ склада по одной позиции.
type Availability struct {
	SKU           string
	Available     bool
	Backorderable bool
	OnHand        int32
}

// InventoryGateway описывает вызовы сервиса склада.
// Мутирующие операции идемпотентны на принимающей стороне, поэтому их
// безопасно ретраить и передоставлять из outbox.
type InventoryGateway interface {
	// CheckAvailability — read-only проверка доступности позиций.
	CheckAvailability(ctx context.Context, items []AvailabilityQuery) ([]Availability, error)
	// Reserve атомарно удерживает сток по всем позициям (all-or-nothing).
	Reserve(ctx context.Context, orderID string, lines []StockReservationLine, expiresAt time.Time) (StockReservation, error)
	// Confirm подтверждает PENDING-резерв заказа.
	Confirm(ctx context.Context, orderID string) error
	// Release снимает резерв заказа (компенсация).
	Release(ctx context.Context, orderID, reason string) error
	// Cancel снимает резерв при полной отмене заказа.
	Cancel(ctx context.Context, orderID, reason string) error
}

// PromotionGateway описывает вызовы сервиса промо-акций.
type PromotionGateway interface {
	// Reserve удерживает одно использование купона под заказ.
	Reserve(ctx context.Context, couponCode, orderID string) (CouponReservation, error)
	// Commit фиксирует использование; повтор возвращает существующую запись.
	Commit(ctx context.Context, reservationID, orderID string) error
	// Release снимает удержание; идемпотентен.
	Release(ctx context.Context, reservationID, reason string) error
}

// OrderRepository описывает хранилище заказов. Методы, принимающие events,
// записывают заказ и строки outbox одной атомарной единицей — это и есть
// transactional outbox.
type OrderRepository interface {
	// Create сохраняет новый заказ вместе с его строками outbox.
	Create(order Order, events []OutboxEvent) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound.
	Get(id string) (Order, error)
	// ListByCustomer возвращает заказы клиента с ограничением на количество.
	ListByCustomer(customerID string, limit int) ([]Order, error)
	// Save применяет обновления к заказу с учётом optimistic locking,
	// атомарно добавляя строки outbox.
	Save(order Order, events []OutboxEvent) error
}

// OutboxRepository хранит строки transactional outbox.
// Статусы строк мутирует только диспетчер; строки не удаляются.
type OutboxRepository interface {
	Enqueue(event OutboxEvent) (OutboxEvent, error)
	// PullDue возвращает PENDING-строки, у которых подошёл nextRetryAt
	// (или он пуст), в порядке создания внутри агрегата.
	PullDue(now time.Time, limit int) ([]OutboxEvent, error)
	Get(id string) (OutboxEvent, error)
	// Update сохраняет результат обработки строки диспетчером.
	Update(event OutboxEvent) error
	// ListFailed возвращает терминально неуспешные строки для оператора.
	ListFailed(limit int) ([]OutboxEvent, error)
	// Requeue возвращает FAILED-строку в PENDING со сброшенным retry-бюджетом.
	Requeue(id string) error
	Stats() (OutboxStats, error)
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	FailedCount     int
	OldestPendingAt time.Time
}

// StockRepository — хранилище позиций стока и резервов.
// Репозиторий владеет критической секцией: конкурентные Hold по одной
// позиции линеаризуются его блокировкой и не пересубскрайбят сток.
type StockRepository interface {
	UpsertItem(item StockItem) error
	Item(sku string) (StockItem, error)
	Items(skus []string) ([]StockItem, error)
	// Hold атомарно проверяет и удерживает количество по всем линиям
	// (all-or-nothing) и сохраняет PENDING-резерв. При нехватке хотя бы
	// одной позиции возвращает ErrInsufficientStock, ничего не меняя.
	Hold(res StockReservation) (StockReservation, error)
	ReservationByOrder(orderID string) (StockReservation, error)
	// UpdateReservation сохраняет новый статус резерва; releaseHold=true
	// возвращает удержанное количество в доступный сток.
	UpdateReservation(res StockReservation, releaseHold bool) error
	// PendingExpired возвращает PENDING-резервы с expiresAt <= before.
	PendingExpired(before time.Time, limit int) ([]StockReservation, error)
}

// CouponRepository — хранилище купонов и их резервов.
type CouponRepository interface {
	CreateBatch(coupons []Coupon) error
	Coupon(code string) (Coupon, error)
	// HoldUsage атомарно удерживает одно использование купона и сохраняет
	// резерв; при исчерпании лимита возвращает ErrCouponExhausted.
	HoldUsage(res CouponReservation) (CouponReservation, error)
	Reservation(id string) (CouponReservation, error)
	// ReservationByOrder возвращает резерв по заказу (для повторного reserve).
	ReservationByOrder(couponCode, orderID string) (CouponReservation, error)
	// UpdateReservation сохраняет резерв и корректирует счётчики купона
	// по фактическому переходу статуса.
	UpdateReservation(res CouponReservation) error
}

// IdempotencyClaim — результат попытки захвата ключа.
type IdempotencyClaim int

const (
	// ClaimAcquired — ключ захвачен, обработчик можно выполнять.
	ClaimAcquired IdempotencyClaim = iota
	// ClaimInFlight — ключ в статусе PENDING у конкурентного запроса.
	ClaimInFlight
	// ClaimCompleted — ответ уже сохранён, его нужно реплеить дословно.
	ClaimCompleted
)

// IdempotencyStore — быстрое KV-хранилище записей idempotency с TTL.
// Методы принимают контекст запроса: хранилище сетевое (Redis), и его
// таймауты подчинены входящему запросу.
type IdempotencyStore interface {
	// Claim атомарно создаёт PENDING-запись с коротким TTL. Если запись
	// существует, возвращает её текущее состояние без модификации.
	Claim(ctx context.Context, key, route string, ttl time.Duration) (IdempotencyClaim, IdempotencyRecord, error)
	// Complete переписывает запись в COMPLETED со снимком ответа и длинным TTL.
	Complete(ctx context.Context, key, route string, httpStatus int, contentType string, body []byte, ttl time.Duration) error
	// Drop удаляет PENDING-запись, чтобы легитимный retry смог пройти.
	Drop(ctx context.Context, key, route string) error
	// DeleteExpired удаляет просроченные записи (для хранилищ без
	// нативного TTL); реализации с TTL возвращают 0.
	DeleteExpired(before time.Time, limit int) (int, error)
}

// OrderEventPublisher публикует события жизненного цикла заказа наружу.
// Должен быть идемпотентным: диспетчер доставляет at-least-once.
type OrderEventPublisher interface {
	Publish(event OutboxEvent) error
}
