package stock

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/northshop/platform/internal/domain"
)

// DefaultReservationTTL — срок жизни неподтверждённого резерва.
const DefaultReservationTTL = 30 * time.Minute

var stockReservationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "platform_stock_reservations_total",
	Help: "Total number of stock reservation operations grouped by operation and result.",
}, []string{"operation", "result"})

// ServiceOptions задаёт параметры сервиса стока.
type ServiceOptions struct {
	Logger         *log.Entry
	ReservationTTL time.Duration
	Now            func() time.Time
}

// ServiceOption настраивает Service.
type ServiceOption func(*ServiceOptions)

// WithServiceLogger задаёт logger для сервиса.
func WithServiceLogger(logger *log.Entry) ServiceOption {
	return func(opts *ServiceOptions) {
		opts.Logger = logger
	}
}

// WithReservationTTL задаёт срок жизни резерва по умолчанию.
func WithReservationTTL(ttl time.Duration) ServiceOption {
	return func(opts *ServiceOptions) {
		opts.ReservationTTL = ttl
	}
}

// WithServiceClock подменяет источник времени в тестах.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(opts *ServiceOptions) {
		opts.Now = now
	}
}

// Service реализует протокол резервирования стока на принимающей стороне.
// Мутирующие операции идемпотентны: диспетчер может доставить одно и то же
// событие несколько раз.
type Service struct {
	repo           domain.StockRepository
	logger         *log.Entry
	reservationTTL time.Duration
	now            func() time.Time
}

// NewService создаёт сервис стока.
func NewService(repo domain.StockRepository, options ...ServiceOption) *Service {
	opts := ServiceOptions{
		ReservationTTL: DefaultReservationTTL,
		Now:            time.Now,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "stock-service")
	}
	if opts.ReservationTTL <= 0 {
		opts.ReservationTTL = DefaultReservationTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Service{
		repo:           repo,
		logger:         logger,
		reservationTTL: opts.ReservationTTL,
		now:            opts.Now,
	}
}

// UpsertItem создаёт или обновляет позицию стока.
func (s *Service) UpsertItem(_ context.Context, item domain.StockItem) (domain.StockItem, error) {
	if item.SKU == "" {
		return domain.StockItem{}, domain.E(domain.KindValidation, "sku is required")
	}
	if item.OnHand < 0 {
		return domain.StockItem{}, domain.E(domain.KindValidation, "on_hand must be non-negative")
	}

	item.UpdatedAt = s.now().UTC()
	if err := s.repo.UpsertItem(item); err != nil {
		return domain.StockItem{}, err
	}
	return s.repo.Item(item.SKU)
}

// Item возвращает позицию стока по SKU.
func (s *Service) Item(_ context.Context, sku string) (domain.StockItem, error) {
	return s.repo.Item(sku)
}

// CheckAvailability — read-only проверка доступности позиций.
// Отсутствующая позиция возвращается как недоступная, а не как ошибка.
func (s *Service) CheckAvailability(_ context.Context, queries []domain.AvailabilityQuery) ([]domain.Availability, error) {
	result := make([]domain.Availability, 0, len(queries))
	for _, query := range queries {
		item, err := s.repo.Item(query.SKU)
		if err != nil {
			if errors.Is(err, domain.ErrStockItemNotFound) {
				result = append(result, domain.Availability{SKU: query.SKU})
				continue
			}
			return nil, err
		}
		result = append(result, domain.Availability{
			SKU:           query.SKU,
			Available:     item.Available() >= query.Qty || item.Backorderable,
			Backorderable: item.Backorderable,
			OnHand:        item.OnHand,
		})
	}
	return result, nil
}

// Reserve удерживает сток по всем позициям заказа атомарно.
// Повторный вызов для того же заказа возвращает существующий резерв.
func (s *Service) Reserve(_ context.Context, orderID string, lines []domain.StockReservationLine, expiresAt time.Time) (domain.StockReservation, error) {
	if orderID == "" {
		return domain.StockReservation{}, domain.E(domain.KindValidation, "order_id is required")
	}
	if len(lines) == 0 {
		return domain.StockReservation{}, domain.E(domain.KindValidation, "reservation must contain at least one line")
	}
	for _, line := range lines {
		if line.SKU == "" {
			return domain.StockReservation{}, domain.E(domain.KindValidation, "reservation line sku is required")
		}
		if line.Qty <= 0 {
			return domain.StockReservation{}, domain.E(domain.KindValidation, "reservation line qty must be greater than zero")
		}
	}

	now := s.now().UTC()
	if expiresAt.IsZero() {
		expiresAt = now.Add(s.reservationTTL)
	}

	res, err := s.repo.Hold(domain.StockReservation{
		OrderID:   orderID,
		Lines:     lines,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		stockReservationsTotal.WithLabelValues("reserve", "rejected").Inc()
		return domain.StockReservation{}, err
	}

	stockReservationsTotal.WithLabelValues("reserve", "ok").Inc()
	s.logger.WithFields(log.Fields{
		"order_id":       orderID,
		"reservation_id": res.ID,
		"lines":          len(res.Lines),
	}).Info("stock reserved")
	return res, nil
}

// Confirm переводит резерв заказа в CONFIRMED. Повторный confirm — no-op.
func (s *Service) Confirm(_ context.Context, orderID string) (domain.StockReservation, error) {
	res, err := s.repo.ReservationByOrder(orderID)
	if err != nil {
		return domain.StockReservation{}, err
	}

	changed, err := res.Confirm(s.now())
	if err != nil {
		stockReservationsTotal.WithLabelValues("confirm", "rejected").Inc()
		return domain.StockReservation{}, err
	}
	if !changed {
		stockReservationsTotal.WithLabelValues("confirm", "noop").Inc()
		return res, nil
	}

	if err := s.repo.UpdateReservation(res, false); err != nil {
		return domain.StockReservation{}, err
	}
	stockReservationsTotal.WithLabelValues("confirm", "ok").Inc()
	s.logger.WithField("order_id", orderID).Info("stock reservation confirmed")
	return res, nil
}

// Release снимает резерв заказа, возвращая количество в сток.
// Идемпотентен для уже снятых резервов.
func (s *Service) Release(_ context.Context, orderID, reason string) (domain.StockReservation, error) {
	return s.giveBack(orderID, reason, false)
}

// Cancel снимает резерв при полной отмене заказа.
func (s *Service) Cancel(_ context.Context, orderID, reason string) (domain.StockReservation, error) {
	return s.giveBack(orderID, reason, true)
}

func (s *Service) giveBack(orderID, reason string, cancel bool) (domain.StockReservation, error) {
	operation := "release"
	if cancel {
		operation = "cancel"
	}

	res, err := s.repo.ReservationByOrder(orderID)
	if err != nil {
		return domain.StockReservation{}, err
	}

	now := s.now()
	var changed bool
	if cancel {
		changed, err = res.Cancel(reason, now)
	} else {
		changed, err = res.Release(reason, now)
	}
	if err != nil {
		stockReservationsTotal.WithLabelValues(operation, "rejected").Inc()
		return domain.StockReservation{}, err
	}
	if !changed {
		stockReservationsTotal.WithLabelValues(operation, "noop").Inc()
		return res, nil
	}

	if err := s.repo.UpdateReservation(res, true); err != nil {
		return domain.StockReservation{}, err
	}
	stockReservationsTotal.WithLabelValues(operation, "ok").Inc()
	s.logger.WithFields(log.Fields{
		"order_id": orderID,
		"reason":   reason,
	}).Info("stock reservation given back")
	return res, nil
}

// SweepExpired возвращает в сток PENDING-резервы, пережившие свой
// expiresAt. Возвращает число обработанных резервов.
func (s *Service) SweepExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = s.now().UTC()
	}

	expired, err := s.repo.PendingExpired(before, limit)
	if err != nil {
		return 0, err
	}

	swept := 0
	for i := range expired {
		if err := ctx.Err(); err != nil {
			return swept, err
		}

		res := expired[i]
		changed, err := res.Release("reservation expired", s.now())
		if err != nil || !changed {
			continue
		}
		if err := s.repo.UpdateReservation(res, true); err != nil {
			s.logger.WithError(err).WithField("order_id", res.OrderID).
				Warn("failed to release expired stock reservation")
			continue
		}
		swept++
	}

	if swept > 0 {
		s.logger.WithField("swept", swept).Info("expired stock reservations released")
	}
	return swept, nil
}
