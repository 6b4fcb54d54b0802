package coupon

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/northshop/platform/internal/domain"
)

var couponReservationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "platform_coupon_reservations_total",
	Help: "Total number of coupon reservation operations grouped by operation and result.",
}, []string{"operation", "result"})

// ServiceOptions задаёт параметры сервиса промо-акций.
type ServiceOptions struct {
	Logger *log.Entry
	Now    func() time.Time
}

// ServiceOption настраивает Service.
type ServiceOption func(*ServiceOptions)

// WithServiceLogger задаёт logger для сервиса.
func WithServiceLogger(logger *log.Entry) ServiceOption {
	return func(opts *ServiceOptions) {
		opts.Logger = logger
	}
}

// WithServiceClock подменяет источник времени в тестах.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(opts *ServiceOptions) {
		opts.Now = now
	}
}

// Service реализует протокол резервирования купонов.
// Commit и Release идемпотентны к повторной доставке; commit после
// release — ошибка вызывающей стороны и наружу отдаётся как есть.
type Service struct {
	repo   domain.CouponRepository
	logger *log.Entry
	now    func() time.Time
}

// NewService создаёт сервис промо-акций.
func NewService(repo domain.CouponRepository, options ...ServiceOption) *Service {
	opts := ServiceOptions{Now: time.Now}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "coupon-service")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Service{
		repo:   repo,
		logger: logger,
		now:    opts.Now,
	}
}

// CreateBatch выпускает партию купонов.
func (s *Service) CreateBatch(_ context.Context, coupons []domain.Coupon) (string, error) {
	if len(coupons) == 0 {
		return "", domain.E(domain.KindValidation, "coupon batch must contain at least one coupon")
	}

	batchID := uuid.NewString()
	now := s.now().UTC()
	for i := range coupons {
		if coupons[i].Code == "" {
			return "", domain.E(domain.KindValidation, "coupon code is required")
		}
		if coupons[i].UsageLimit <= 0 {
			return "", domain.Ef(domain.KindValidation, "coupon %s: usage limit must be greater than zero", coupons[i].Code)
		}
		coupons[i].BatchID = batchID
		coupons[i].CreatedAt = now
	}

	if err := s.repo.CreateBatch(coupons); err != nil {
		return "", err
	}

	s.logger.WithFields(log.Fields{
		"batch_id": batchID,
		"coupons":  len(coupons),
	}).Info("coupon batch created")
	return batchID, nil
}

// Coupon возвращает купон по коду.
func (s *Service) Coupon(_ context.Context, code string) (domain.Coupon, error) {
	return s.repo.Coupon(code)
}

// Reserve удерживает одно использование купона под заказ.
// Повторный вызов для той же пары (купон, заказ) возвращает существующий
// резерв.
func (s *Service) Reserve(_ context.Context, couponCode, orderID string) (domain.CouponReservation, error) {
	if couponCode == "" {
		return domain.CouponReservation{}, domain.E(domain.KindValidation, "coupon code is required")
	}
	if orderID == "" {
		return domain.CouponReservation{}, domain.E(domain.KindValidation, "order_id is required")
	}

	coupon, err := s.repo.Coupon(couponCode)
	if err != nil {
		return domain.CouponReservation{}, err
	}
	if !coupon.ExpiresAt.IsZero() && s.now().After(coupon.ExpiresAt) {
		couponReservationsTotal.WithLabelValues("reserve", "rejected").Inc()
		return domain.CouponReservation{}, domain.Ef(domain.KindValidation, "coupon %s is expired", couponCode)
	}

	res, err := s.repo.HoldUsage(domain.CouponReservation{
		CouponCode: couponCode,
		OrderID:    orderID,
	})
	if err != nil {
		couponReservationsTotal.WithLabelValues("reserve", "rejected").Inc()
		return domain.CouponReservation{}, err
	}

	couponReservationsTotal.WithLabelValues("reserve", "ok").Inc()
	s.logger.WithFields(log.Fields{
		"coupon_code":    couponCode,
		"order_id":       orderID,
		"reservation_id": res.ID,
	}).Info("coupon usage reserved")
	return res, nil
}

// Commit фиксирует использование купона. Повторный commit — no-op;
// commit после release возвращает ErrCouponReservationReleased.
func (s *Service) Commit(_ context.Context, reservationID, orderID string) (domain.CouponReservation, error) {
	res, err := s.repo.Reservation(reservationID)
	if err != nil {
		return domain.CouponReservation{}, err
	}

	changed, err := res.Commit(orderID, s.now())
	if err != nil {
		couponReservationsTotal.WithLabelValues("commit", "rejected").Inc()
		if errors.Is(err, domain.ErrCouponReservationReleased) {
			s.logger.WithFields(log.Fields{
				"reservation_id": reservationID,
				"order_id":       orderID,
			}).Error("commit attempted on released coupon reservation")
		}
		return domain.CouponReservation{}, err
	}
	if !changed {
		couponReservationsTotal.WithLabelValues("commit", "noop").Inc()
		return res, nil
	}

	if err := s.repo.UpdateReservation(res); err != nil {
		return domain.CouponReservation{}, err
	}
	couponReservationsTotal.WithLabelValues("commit", "ok").Inc()
	s.logger.WithField("reservation_id", reservationID).Info("coupon usage committed")
	return res, nil
}

// Release снимает удержание использования. Идемпотентен.
func (s *Service) Release(_ context.Context, reservationID, reason string) (domain.CouponReservation, error) {
	res, err := s.repo.Reservation(reservationID)
	if err != nil {
		return domain.CouponReservation{}, err
	}

	changed, err := res.Release(reason, s.now())
	if err != nil {
		couponReservationsTotal.WithLabelValues("release", "rejected").Inc()
		return domain.CouponReservation{}, err
	}
	if !changed {
		couponReservationsTotal.WithLabelValues("release", "noop").Inc()
		return res, nil
	}

	if err := s.repo.UpdateReservation(res); err != nil {
		return domain.CouponReservation{}, err
	}
	couponReservationsTotal.WithLabelValues("release", "ok").Inc()
	s.logger.WithFields(log.Fields{
		"reservation_id": reservationID,
		"reason":         reason,
	}).Info("coupon usage released")
	return res, nil
}
