package promotion

import (
	"context"

	"github.com/northshop/platform/internal/domain"
)

// MockGateway — конфигурируемая заглушка PromotionGateway для тестов.
type MockGateway struct {
	ReserveErr error
	CommitErr  error
	ReleaseErr error

	ReserveResult domain.CouponReservation

	ReserveCalls int
	CommitCalls  int
	ReleaseCalls int
}

// NewMockGateway возвращает mock с успешным сценарием по умолчанию.
func NewMockGateway() *MockGateway {
	return &MockGateway{}
}

func (m *MockGateway) Reserve(ctx context.Context, couponCode, orderID string) (domain.CouponReservation, error) {
	m.ReserveCalls++
	if m.ReserveErr != nil {
		return domain.CouponReservation{}, m.ReserveErr
	}
	res := m.ReserveResult
	if res.ID == "" {
		res = domain.CouponReservation{
			ID:         "coupon-res-1",
			CouponCode: couponCode,
			OrderID:    orderID,
			Status:     domain.CouponReservationReserved,
		}
	}
	return res, nil
}

func (m *MockGateway) Commit(ctx context.Context, reservationID, orderID string) error {
	m.CommitCalls++
	return m.CommitErr
}

func (m *MockGateway) Release(ctx context.Context, reservationID, reason string) error {
	m.ReleaseCalls++
	return m.ReleaseErr
}

var _ domain.PromotionGateway = (*MockGateway)(nil)
