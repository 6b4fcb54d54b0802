package domain

import "time"

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusCreated — заказ принят, побочные эффекты ещё не запущены.
	OrderStatusCreated OrderStatus = "created"
	// OrderStatusReserving — строка INVENTORY_RESERVE поставлена в outbox,
	// ждём результата резервирования.
	OrderStatusReserving OrderStatus = "reserving"
	// OrderStatusReserved — склад подтвердил резерв по всем позициям.
	OrderStatusReserved OrderStatus = "reserved"
	// OrderStatusConfirmed — заказ финализирован: резерв подтверждён,
	// купон закоммичен.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusReservationFailed — склад отказал (нехватка стока);
	// заказ удерживается для решения клиента.
	OrderStatusReservationFailed OrderStatus = "reservation_failed"
	// OrderStatusCanceled — заказ отменён; резервы возвращены.
	OrderStatusCanceled OrderStatus = "canceled"
)

// OrderItem представляет одну позицию заказа.
type OrderItem struct {
	// SKU — внешний идентификатор товара.
	SKU string
	// Qty — количество единиц товара.
	Qty int32
	// PriceMinor — цена за единицу в минимальных денежных единицах.
	PriceMinor int64
}

// StatusChange — запись истории статусов заказа.
type StatusChange struct {
	From       OrderStatus
	To         OrderStatus
	Reason     string
	OccurredAt time.Time
}

// Order агрегирует состояние заказа, его позиции и историю статусов.
// Заказ — единственный владелец, создающий строки outbox для своих
// побочных эффектов.
type Order struct {
	ID            string
	CustomerID    string
	Status        OrderStatus
	Currency      string
	AmountMinor   int64
	CouponCode    string
	CouponResID   string
	Items         []OrderItem
	StatusHistory []StatusChange
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.CustomerID == "" {
		errs = append(errs, ErrCustomerRequired)
	}
	if o.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}

	// Сверяем сумму заказа с суммой позиций: qty * price.
	var calc int64
	for _, item := range o.Items {
		if item.Qty <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.PriceMinor < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
		calc += int64(item.Qty) * item.PriceMinor
	}
	if len(o.Items) > 0 && calc != o.AmountMinor {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}

// allowedTransitions перечисляет допустимые переходы статуса заказа.
var allowedTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusCreated:           {OrderStatusReserving, OrderStatusCanceled},
	OrderStatusReserving:         {OrderStatusReserved, OrderStatusReservationFailed, OrderStatusCanceled},
	OrderStatusReserved:          {OrderStatusConfirmed, OrderStatusCanceled},
	OrderStatusReservationFailed: {OrderStatusCanceled},
}

// TransitionTo переводит заказ в новый статус, записывая историю.
// Повторный перевод в текущий статус — no-op: диспетчер может доставить
// один и тот же результат дважды.
func (o *Order) TransitionTo(status OrderStatus, reason string, now time.Time) error {
	if o.Status == status {
		return nil
	}

	allowed := false
	for _, next := range allowedTransitions[o.Status] {
		if next == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return Ef(KindValidation, "order %s: transition %s -> %s is not allowed", o.ID, o.Status, status)
	}

	o.StatusHistory = append(o.StatusHistory, StatusChange{
		From:       o.Status,
		To:         status,
		Reason:     reason,
		OccurredAt: now.UTC(),
	})
	o.Status = status
	o.UpdatedAt = now.UTC()
	return nil
}
