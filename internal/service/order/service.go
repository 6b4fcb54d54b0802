package order

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/northshop/platform/internal/domain"
	"github.com/northshop/platform/internal/service/outbox"
)

const aggregateOrder = "ORDER"

var ordersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "platform_orders_total",
	Help: "Total number of order operations grouped by operation and result.",
}, []string{"operation", "result"})

// ServiceOptions задаёт параметры сервиса заказов.
type ServiceOptions struct {
	Logger         *log.Entry
	ReservationTTL time.Duration
	Now            func() time.Time
}

// ServiceOption настраивает Service.
type ServiceOption func(*ServiceOptions)

// WithLogger задаёт logger для сервиса.
func WithLogger(logger *log.Entry) ServiceOption {
	return func(opts *ServiceOptions) {
		opts.Logger = logger
	}
}

// WithReservationTTL задаёт срок жизни резерва стока, запрашиваемый у склада.
func WithReservationTTL(ttl time.Duration) ServiceOption {
	return func(opts *ServiceOptions) {
		opts.ReservationTTL = ttl
	}
}

// WithClock подменяет источник времени в тестах.
func WithClock(now func() time.Time) ServiceOption {
	return func(opts *ServiceOptions) {
		opts.Now = now
	}
}

// Service управляет жизненным циклом заказа. Заказ — владеющий агрегат
// саги: все межсервисные эффекты он записывает строками outbox в одной
// атомарной единице со своим изменением, доставляет их диспетчер.
// Купон резервируется синхронно при оформлении: клиент должен сразу
// узнать, что код не сработал.
type Service struct {
	repo           domain.OrderRepository
	promotions     domain.PromotionGateway
	logger         *log.Entry
	reservationTTL time.Duration
	now            func() time.Time
}

// NewService создаёт сервис заказов.
func NewService(repo domain.OrderRepository, promotions domain.PromotionGateway, options ...ServiceOption) *Service {
	opts := ServiceOptions{
		ReservationTTL: 30 * time.Minute,
		Now:            time.Now,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "order-service")
	}
	if opts.ReservationTTL <= 0 {
		opts.ReservationTTL = 30 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Service{
		repo:           repo,
		promotions:     promotions,
		logger:         logger,
		reservationTTL: opts.ReservationTTL,
		now:            opts.Now,
	}
}

// Place оформляет заказ: валидирует его, синхронно резервирует купон,
// записывает заказ вместе со строкой INVENTORY_RESERVE и событием
// жизненного цикла. Ошибка на любом шаге валит запрос целиком — заказ
// без строк outbox не записывается.
func (s *Service) Place(ctx context.Context, order domain.Order) (domain.Order, error) {
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		ordersTotal.WithLabelValues("place", "rejected").Inc()
		return domain.Order{}, errs[0]
	}

	now := s.now().UTC()
	order.ID = uuid.NewString()
	order.Status = domain.OrderStatusCreated
	order.CreatedAt = now
	order.Version = 1

	if order.CouponCode != "" {
		if s.promotions == nil {
			return domain.Order{}, domain.E(domain.KindUnavailable, "promotion service is not configured")
		}
		res, err := s.promotions.Reserve(ctx, order.CouponCode, order.ID)
		if err != nil {
			ordersTotal.WithLabelValues("place", "coupon_rejected").Inc()
			return domain.Order{}, err
		}
		order.CouponResID = res.ID
	}

	if err := order.TransitionTo(domain.OrderStatusReserving, "inventory reserve enqueued", now); err != nil {
		return domain.Order{}, err
	}

	events, err := s.placementEvents(order, now)
	if err != nil {
		return domain.Order{}, err
	}

	if err := s.repo.Create(order, events); err != nil {
		// Купон уже удержан, а заказ не записан: снимаем удержание,
		// иначе лимит купона утечёт.
		s.releaseCouponBestEffort(ctx, order, "order placement failed")
		ordersTotal.WithLabelValues("place", "error").Inc()
		return domain.Order{}, err
	}

	ordersTotal.WithLabelValues("place", "ok").Inc()
	s.logger.WithFields(log.Fields{
		"order_id":    order.ID,
		"customer_id": order.CustomerID,
		"items":       len(order.Items),
	}).Info("order placed")
	return order, nil
}

// Get возвращает заказ по идентификатору.
func (s *Service) Get(_ context.Context, id string) (domain.Order, error) {
	return s.repo.Get(id)
}

// ListByCustomer возвращает заказы клиента.
func (s *Service) ListByCustomer(_ context.Context, customerID string, limit int) ([]domain.Order, error) {
	return s.repo.ListByCustomer(customerID, limit)
}

// Confirm финализирует зарезервированный заказ: ставит в outbox
// подтверждение резерва стока и commit купона.
func (s *Service) Confirm(_ context.Context, id string) (domain.Order, error) {
	order, err := s.repo.Get(id)
	if err != nil {
		return domain.Order{}, err
	}

	now := s.now().UTC()
	if err := order.TransitionTo(domain.OrderStatusConfirmed, "order confirmed", now); err != nil {
		ordersTotal.WithLabelValues("confirm", "rejected").Inc()
		return domain.Order{}, err
	}

	events := make([]domain.OutboxEvent, 0, 3)
	confirmEvent, err := outbox.NewEvent(aggregateOrder, order.ID, domain.EventConfirmInventoryReserve,
		outbox.ReservationActionPayload{OrderID: order.ID})
	if err != nil {
		return domain.Order{}, err
	}
	events = append(events, confirmEvent)

	if order.CouponResID != "" {
		commitEvent, err := outbox.NewEvent(aggregateOrder, order.ID, domain.EventCouponCommit,
			outbox.CouponCommitPayload{ReservationID: order.CouponResID, OrderID: order.ID})
		if err != nil {
			return domain.Order{}, err
		}
		events = append(events, commitEvent)
	}

	statusEvent, err := s.statusEvent(order, now)
	if err != nil {
		return domain.Order{}, err
	}
	events = append(events, statusEvent)

	if err := s.repo.Save(order, events); err != nil {
		ordersTotal.WithLabelValues("confirm", "error").Inc()
		return domain.Order{}, err
	}

	ordersTotal.WithLabelValues("confirm", "ok").Inc()
	s.logger.WithField("order_id", order.ID).Info("order confirmed")
	return order, nil
}

// Cancel отменяет заказ и ставит в outbox компенсации: возврат резерва
// стока и снятие удержания купона.
func (s *Service) Cancel(_ context.Context, id, reason string) (domain.Order, error) {
	order, err := s.repo.Get(id)
	if err != nil {
		return domain.Order{}, err
	}

	previous := order.Status
	now := s.now().UTC()
	if err := order.TransitionTo(domain.OrderStatusCanceled, reason, now); err != nil {
		ordersTotal.WithLabelValues("cancel", "rejected").Inc()
		return domain.Order{}, err
	}

	events := make([]domain.OutboxEvent, 0, 3)

	// Резерв стока мог быть удержан только после постановки INVENTORY_RESERVE.
	if previous == domain.OrderStatusReserving || previous == domain.OrderStatusReserved {
		releaseEvent, err := outbox.NewEvent(aggregateOrder, order.ID, domain.EventReleaseInventoryReserve,
			outbox.ReservationActionPayload{OrderID: order.ID, Reason: reason})
		if err != nil {
			return domain.Order{}, err
		}
		events = append(events, releaseEvent)
	}

	if order.CouponResID != "" {
		releaseCoupon, err := outbox.NewEvent(aggregateOrder, order.ID, domain.EventReleaseCouponReserve,
			outbox.CouponReleasePayload{ReservationID: order.CouponResID, Reason: reason})
		if err != nil {
			return domain.Order{}, err
		}
		events = append(events, releaseCoupon)
	}

	statusEvent, err := s.statusEvent(order, now)
	if err != nil {
		return domain.Order{}, err
	}
	events = append(events, statusEvent)

	if err := s.repo.Save(order, events); err != nil {
		ordersTotal.WithLabelValues("cancel", "error").Inc()
		return domain.Order{}, err
	}

	ordersTotal.WithLabelValues("cancel", "ok").Inc()
	s.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"reason":   reason,
	}).Info("order canceled")
	return order, nil
}

func (s *Service) placementEvents(order domain.Order, now time.Time) ([]domain.OutboxEvent, error) {
	lines := make([]domain.StockReservationLine, 0, len(order.Items))
	for _, item := range order.Items {
		lines = append(lines, domain.StockReservationLine{SKU: item.SKU, Qty: item.Qty})
	}

	reserveEvent, err := outbox.NewEvent(aggregateOrder, order.ID, domain.EventInventoryReserve,
		outbox.ReserveStockPayload{
			OrderID:   order.ID,
			Lines:     lines,
			ExpiresAt: now.Add(s.reservationTTL),
		})
	if err != nil {
		return nil, err
	}

	statusEvent, err := s.statusEvent(order, now)
	if err != nil {
		return nil, err
	}
	return []domain.OutboxEvent{reserveEvent, statusEvent}, nil
}

func (s *Service) statusEvent(order domain.Order, now time.Time) (domain.OutboxEvent, error) {
	return outbox.NewEvent(aggregateOrder, order.ID, domain.EventOrderEvent, outbox.OrderEventPayload{
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		Status:     string(order.Status),
		OccurredAt: now.Format(time.RFC3339Nano),
	})
}

func (s *Service) releaseCouponBestEffort(ctx context.Context, order domain.Order, reason string) {
	if order.CouponResID == "" || s.promotions == nil {
		return
	}
	if err := s.promotions.Release(ctx, order.CouponResID, reason); err != nil &&
		!errors.Is(err, domain.ErrCouponReservationNotFound) {
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id":       order.ID,
			"reservation_id": order.CouponResID,
		}).Warn("failed to release coupon reservation after placement failure")
	}
}
