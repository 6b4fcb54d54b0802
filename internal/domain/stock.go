package domain

import "time"

// StockItem — позиция стока на конкретном складе.
// Инвариант: Reserved никогда не превышает OnHand.
type StockItem struct {
	SKU       string
	Warehouse string
	// OnHand — физически доступное количество.
	OnHand int32
	// Reserved — суммарное количество по PENDING и CONFIRMED резервам.
	Reserved int32
	// Backorderable — позицию можно заказать при нулевом остатке.
	Backorderable bool
	UpdatedAt     time.Time
}

// Available возвращает количество, доступное для новых резервов.
func (s *StockItem) Available() int32 {
	return s.OnHand - s.Reserved
}

// StockReservationStatus — статус резерва стока под заказ.
type StockReservationStatus string

const (
	// StockReservationPending — резерв удержан, ждём подтверждения заказа.
	StockReservationPending StockReservationStatus = "PENDING"
	// StockReservationConfirmed — заказ подтверждён, сток списан.
	StockReservationConfirmed StockReservationStatus = "CONFIRMED"
	// StockReservationReleased — резерв снят, количество возвращено в сток.
	StockReservationReleased StockReservationStatus = "RELEASED"
	// StockReservationCancelled — полная отмена заказа; количество возвращено.
	StockReservationCancelled StockReservationStatus = "CANCELLED"
)

// StockReservationLine — одна позиция резерва.
type StockReservationLine struct {
	SKU       string
	Warehouse string
	Qty       int32
}

// StockReservation — резерв стока по одному заказу.
// PENDING-резерв старше ExpiresAt трактуется как released: его возвращает
// в сток периодический sweep.
type StockReservation struct {
	ID        string
	OrderID   string
	Status    StockReservationStatus
	Lines     []StockReservationLine
	Reason    string
	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Expired сообщает, истёк ли неподтверждённый резерв.
func (r *StockReservation) Expired(now time.Time) bool {
	return r.Status == StockReservationPending && now.After(r.ExpiresAt)
}

// Confirm переводит PENDING→CONFIRMED. Повторный confirm уже
// подтверждённого резерва — no-op: диспетчер может доставить событие дважды.
func (r *StockReservation) Confirm(now time.Time) (changed bool, err error) {
	switch r.Status {
	case StockReservationConfirmed:
		return false, nil
	case StockReservationPending:
		if r.Expired(now) {
			return false, ErrReservationExpired
		}
		r.Status = StockReservationConfirmed
		r.UpdatedAt = now.UTC()
		return true, nil
	default:
		return false, Ef(KindValidation, "reservation %s: cannot confirm from %s", r.ID, r.Status)
	}
}

// Release переводит PENDING→RELEASED. Идемпотентен для уже снятых резервов.
func (r *StockReservation) Release(reason string, now time.Time) (changed bool, err error) {
	return r.giveBack(StockReservationReleased, reason, now)
}

// Cancel переводит PENDING→CANCELLED (полная отмена заказа).
// Идемпотентен для уже снятых резервов.
func (r *StockReservation) Cancel(reason string, now time.Time) (changed bool, err error) {
	return r.giveBack(StockReservationCancelled, reason, now)
}

func (r *StockReservation) giveBack(target StockReservationStatus, reason string, now time.Time) (bool, error) {
	switch r.Status {
	case StockReservationReleased, StockReservationCancelled:
		return false, nil
	case StockReservationPending:
		r.Status = target
		r.Reason = reason
		r.UpdatedAt = now.UTC()
		return true, nil
	default:
		return false, Ef(KindValidation, "reservation %s: cannot release from %s", r.ID, r.Status)
	}
}

// Holds сообщает, удерживает ли резерв сток в данный момент.
// CONFIRMED учитывается тоже: подтверждённый резерв списывается со склада
// отдельным процессом исполнения, до этого количество остаётся занятым.
func (r *StockReservation) Holds() bool {
	return r.Status == StockReservationPending || r.Status == StockReservationConfirmed
}
