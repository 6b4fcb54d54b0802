package order

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/northshop/platform/internal/domain"
	"github.com/northshop/platform/internal/service/outbox"
)

// ApplyOutcome продвигает статус заказа по терминальному исходу доставки
// его строки outbox. Успешный INVENTORY_RESERVE переводит заказ в
// reserved; постоянный отказ склада — в reservation_failed с компенсацией
// купона. Исходы остальных типов событий статус заказа не двигают.
func (s *Service) ApplyOutcome(_ context.Context, event domain.OutboxEvent, dispatchErr error) error {
	if event.EventType != domain.EventInventoryReserve {
		return nil
	}

	order, err := s.repo.Get(event.AggregateID)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	var events []domain.OutboxEvent

	if dispatchErr == nil {
		if err := order.TransitionTo(domain.OrderStatusReserved, "stock reserved", now); err != nil {
			return err
		}
	} else {
		reason := domain.TruncateError(dispatchErr)
		if err := order.TransitionTo(domain.OrderStatusReservationFailed, reason, now); err != nil {
			return err
		}

		// Сток не удержан, купон остаётся занятым — снимаем удержание.
		if order.CouponResID != "" {
			releaseCoupon, err := outbox.NewEvent(aggregateOrder, order.ID, domain.EventReleaseCouponReserve,
				outbox.CouponReleasePayload{ReservationID: order.CouponResID, Reason: "stock reservation failed"})
			if err != nil {
				return err
			}
			events = append(events, releaseCoupon)
		}
	}

	statusEvent, err := s.statusEvent(order, now)
	if err != nil {
		return err
	}
	events = append(events, statusEvent)

	if err := s.repo.Save(order, events); err != nil {
		return err
	}

	s.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"status":   order.Status,
	}).Info("reservation outcome applied")
	return nil
}
