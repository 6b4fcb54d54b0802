package memory

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/northshop/platform/internal/domain"
)

// couponRepositoryInMemory хранит купоны и их резервы под одним мьютексом,
// так что committed+reserved никогда не превышает usage limit даже при
// конкурентных HoldUsage.
type couponRepositoryInMemory struct {
	mu           sync.Mutex
	coupons      map[string]domain.Coupon
	reservations map[string]domain.CouponReservation
}

// NewCouponRepository создаёт in-memory реализацию CouponRepository.
func NewCouponRepository() *couponRepositoryInMemory {
	return &couponRepositoryInMemory{
		coupons:      make(map[string]domain.Coupon),
		reservations: make(map[string]domain.CouponReservation),
	}
}

// CreateBatch сохраняет купоны батча; дубликаты кодов — ошибка.
func (r *couponRepositoryInMemory) CreateBatch(coupons []domain.Coupon) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, coupon := range coupons {
		if _, exists := r.coupons[coupon.Code]; exists {
			return domain.Ef(domain.KindConflict, "coupon %s already exists", coupon.Code)
		}
	}

	now := time.Now().UTC()
	for _, coupon := range coupons {
		if coupon.CreatedAt.IsZero() {
			coupon.CreatedAt = now
		}
		r.coupons[coupon.Code] = coupon
	}
	return nil
}

// Coupon возвращает купон по коду.
func (r *couponRepositoryInMemory) Coupon(code string) (domain.Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	coupon, ok := r.coupons[code]
	if !ok {
		return domain.Coupon{}, domain.ErrCouponNotFound
	}
	return coupon, nil
}

// HoldUsage атомарно удерживает одно использование купона.
// Повторный вызов для той же пары (купон, заказ) возвращает существующий
// резерв.
func (r *couponRepositoryInMemory) HoldUsage(res domain.CouponReservation) (domain.CouponReservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.reservations {
		if existing.CouponCode == res.CouponCode && existing.OrderID == res.OrderID {
			return existing, nil
		}
	}

	coupon, ok := r.coupons[res.CouponCode]
	if !ok {
		return domain.CouponReservation{}, domain.ErrCouponNotFound
	}
	if coupon.Exhausted() {
		return domain.CouponReservation{}, domain.ErrCouponExhausted
	}

	coupon.Reserved++
	r.coupons[res.CouponCode] = coupon

	if res.ID == "" {
		res.ID = uuid.NewString()
	}
	res.Status = domain.CouponReservationReserved
	now := time.Now().UTC()
	res.CreatedAt = now
	res.UpdatedAt = now
	r.reservations[res.ID] = res
	return res, nil
}

// Reservation возвращает резерв по идентификатору.
func (r *couponRepositoryInMemory) Reservation(id string) (domain.CouponReservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, ok := r.reservations[id]
	if !ok {
		return domain.CouponReservation{}, domain.ErrCouponReservationNotFound
	}
	return res, nil
}

// ReservationByOrder возвращает резерв по паре (купон, заказ).
func (r *couponRepositoryInMemory) ReservationByOrder(couponCode, orderID string) (domain.CouponReservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, res := range r.reservations {
		if res.CouponCode == couponCode && res.OrderID == orderID {
			return res, nil
		}
	}
	return domain.CouponReservation{}, domain.ErrCouponReservationNotFound
}

// UpdateReservation сохраняет резерв и корректирует счётчики купона по
// фактическому переходу статуса.
func (r *couponRepositoryInMemory) UpdateReservation(res domain.CouponReservation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.reservations[res.ID]
	if !ok {
		return domain.ErrCouponReservationNotFound
	}

	if stored.Status != res.Status {
		coupon, ok := r.coupons[res.CouponCode]
		if ok && stored.Status == domain.CouponReservationReserved {
			coupon.Reserved--
			if coupon.Reserved < 0 {
				coupon.Reserved = 0
			}
			if res.Status == domain.CouponReservationCommitted {
				coupon.Committed++
			}
			r.coupons[res.CouponCode] = coupon
		}
	}

	r.reservations[res.ID] = res
	return nil
}

var _ domain.CouponRepository = (*couponRepositoryInMemory)(nil)
