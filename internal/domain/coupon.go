package domain

import "time"

// Coupon — промо-код с ограничением числа использований.
// Инвариант: Committed+Reserved никогда не превышает UsageLimit.
type Coupon struct {
	Code        string
	BatchID     string
	Description string
	// DiscountMinor — скидка в минимальных денежных единицах.
	DiscountMinor int64
	UsageLimit    int32
	// Committed — число окончательно использованных резервов.
	Committed int32
	// Reserved — число активных (не terminal) резервов.
	Reserved  int32
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Exhausted сообщает, исчерпан ли лимит использования.
func (c *Coupon) Exhausted() bool {
	return c.Committed+c.Reserved >= c.UsageLimit
}

// CouponReservationStatus — статус резерва купона.
type CouponReservationStatus string

const (
	// CouponReservationReserved — использование удержано под заказ.
	CouponReservationReserved CouponReservationStatus = "RESERVED"
	// CouponReservationCommitted — использование зафиксировано; терминальный.
	CouponReservationCommitted CouponReservationStatus = "COMMITTED"
	// CouponReservationReleased — удержание снято; терминальный.
	CouponReservationReleased CouponReservationStatus = "RELEASED"
)

// CouponReservation — одна попытка использования купона заказом.
type CouponReservation struct {
	ID         string
	CouponCode string
	OrderID    string
	Status     CouponReservationStatus
	Reason     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Commit фиксирует использование. Повторный commit — no-op; commit после
// release — ошибка вызывающей стороны, её нельзя молча проглатывать.
func (r *CouponReservation) Commit(orderID string, now time.Time) (changed bool, err error) {
	switch r.Status {
	case CouponReservationCommitted:
		return false, nil
	case CouponReservationReleased:
		return false, ErrCouponReservationReleased
	default:
		if orderID != "" && r.OrderID != "" && r.OrderID != orderID {
			return false, Ef(KindValidation, "coupon reservation %s belongs to order %s", r.ID, r.OrderID)
		}
		r.Status = CouponReservationCommitted
		r.UpdatedAt = now.UTC()
		return true, nil
	}
}

// Release снимает удержание. Идемпотентен; release закоммиченного
// резерва запрещён.
func (r *CouponReservation) Release(reason string, now time.Time) (changed bool, err error) {
	switch r.Status {
	case CouponReservationReleased:
		return false, nil
	case CouponReservationCommitted:
		return false, Ef(KindValidation, "coupon reservation %s is already committed", r.ID)
	default:
		r.Status = CouponReservationReleased
		r.Reason = reason
		r.UpdatedAt = now.UTC()
		return true, nil
	}
}
