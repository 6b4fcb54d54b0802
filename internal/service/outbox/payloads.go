package outbox

import (
	"encoding/json"
	"time"

	"github.com/northshop/platform/internal/domain"
)

// ReserveStockPayload — содержимое строки INVENTORY_RESERVE.
type ReserveStockPayload struct {
	OrderID   string                        `json:"order_id"`
	Lines     []domain.StockReservationLine `json:"lines"`
	ExpiresAt time.Time                     `json:"expires_at"`
}

// ReservationActionPayload — содержимое строк confirm/release/cancel
// по резерву стока. Адресация по order_id: резерв заказа единственный.
type ReservationActionPayload struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason,omitempty"`
}

// CouponCommitPayload — содержимое строки COUPON_COMMIT.
type CouponCommitPayload struct {
	ReservationID string `json:"reservation_id"`
	OrderID       string `json:"order_id"`
}

// CouponReleasePayload — содержимое строки RELEASE_COUPON_RESERVATION.
type CouponReleasePayload struct {
	ReservationID string `json:"reservation_id"`
	Reason        string `json:"reason,omitempty"`
}

// OrderEventPayload — содержимое строки ORDER_EVENT для публикации наружу.
type OrderEventPayload struct {
	OrderID    string `json:"order_id"`
	CustomerID string `json:"customer_id"`
	Status     string `json:"status"`
	OccurredAt string `json:"occurred_at"`
}

// NewEvent собирает строку outbox с сериализованным payload.
// Ошибка сериализации возвращается вызывающему: заказ без строки outbox
// записывать нельзя, запрос должен упасть целиком.
func NewEvent(aggregateType, aggregateID string, eventType domain.OutboxEventType, payload any) (domain.OutboxEvent, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return domain.OutboxEvent{}, domain.WrapE(domain.KindUnknown, "marshal outbox payload", err)
	}

	return domain.OutboxEvent{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       raw,
		Status:        domain.OutboxStatusPending,
		MaxRetries:    domain.DefaultOutboxMaxRetries,
	}, nil
}
