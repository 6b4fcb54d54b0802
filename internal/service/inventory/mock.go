package inventory

import (
	"context"
	"time"

	"github.com/northshop/platform/internal/domain"
)

// MockGateway — конфигурируемая заглушка InventoryGateway для тестов.
type MockGateway struct {
	CheckErr   error
	ReserveErr error
	ConfirmErr error
	ReleaseErr error
	CancelErr  error

	CheckResult   []domain.Availability
	ReserveResult domain.StockReservation

	CheckCalls   int
	ReserveCalls int
	ConfirmCalls int
	ReleaseCalls int
	CancelCalls  int
}

// NewMockGateway возвращает mock с успешным сценарием по умолчанию.
func NewMockGateway() *MockGateway {
	return &MockGateway{}
}

func (m *MockGateway) CheckAvailability(ctx context.Context, items []domain.AvailabilityQuery) ([]domain.Availability, error) {
	m.CheckCalls++
	return m.CheckResult, m.CheckErr
}

func (m *MockGateway) Reserve(ctx context.Context, orderID string, lines []domain.StockReservationLine, expiresAt time.Time) (domain.StockReservation, error) {
	m.ReserveCalls++
	return m.ReserveResult, m.ReserveErr
}

func (m *MockGateway) Confirm(ctx context.Context, orderID string) error {
	m.ConfirmCalls++
	return m.ConfirmErr
}

func (m *MockGateway) Release(ctx context.Context, orderID, reason string) error {
	m.ReleaseCalls++
	return m.ReleaseErr
}

func (m *MockGateway) Cancel(ctx context.Context, orderID, reason string) error {
	m.CancelCalls++
	return m.CancelErr
}

var _ domain.InventoryGateway = (*MockGateway)(nil)
