package outbox

import (
	"context"
	"encoding/json"

	"github.com/northshop/platform/internal/domain"
)

// Handler доставляет одну строку outbox в её назначение.
// Ошибка KindValidation/KindNotFound/KindConflict/KindAuth трактуется
// диспетчером как постоянная: строка сразу уходит в FAILED.
type Handler func(ctx context.Context, event domain.OutboxEvent) error

// Registry сопоставляет тип события его обработчику.
type Registry map[domain.OutboxEventType]Handler

// NewRegistry собирает обработчики поверх клиентов downstream-сервисов и
// publisher внешних событий. Любой из аргументов может быть nil, тогда
// соответствующие типы событий в реестр не попадают.
func NewRegistry(inventory domain.InventoryGateway, promotions domain.PromotionGateway, publisher domain.OrderEventPublisher) Registry {
	registry := make(Registry)

	if inventory != nil {
		registry[domain.EventInventoryReserve] = func(ctx context.Context, event domain.OutboxEvent) error {
			var payload ReserveStockPayload
			if err := decodePayload(event, &payload); err != nil {
				return err
			}
			_, err := inventory.Reserve(ctx, payload.OrderID, payload.Lines, payload.ExpiresAt)
			return err
		}
		registry[domain.EventConfirmInventoryReserve] = func(ctx context.Context, event domain.OutboxEvent) error {
			var payload ReservationActionPayload
			if err := decodePayload(event, &payload); err != nil {
				return err
			}
			return inventory.Confirm(ctx, payload.OrderID)
		}
		registry[domain.EventReleaseInventoryReserve] = func(ctx context.Context, event domain.OutboxEvent) error {
			var payload ReservationActionPayload
			if err := decodePayload(event, &payload); err != nil {
				return err
			}
			return inventory.Release(ctx, payload.OrderID, payload.Reason)
		}
	}

	if promotions != nil {
		registry[domain.EventCouponCommit] = func(ctx context.Context, event domain.OutboxEvent) error {
			var payload CouponCommitPayload
			if err := decodePayload(event, &payload); err != nil {
				return err
			}
			return promotions.Commit(ctx, payload.ReservationID, payload.OrderID)
		}
		registry[domain.EventReleaseCouponReserve] = func(ctx context.Context, event domain.OutboxEvent) error {
			var payload CouponReleasePayload
			if err := decodePayload(event, &payload); err != nil {
				return err
			}
			return promotions.Release(ctx, payload.ReservationID, payload.Reason)
		}
	}

	if publisher != nil {
		registry[domain.EventOrderEvent] = func(_ context.Context, event domain.OutboxEvent) error {
			return publisher.Publish(event)
		}
	}

	return registry
}

// decodePayload разбирает payload строки. Битый payload — постоянная
// ошибка: повторная доставка его не починит.
func decodePayload(event domain.OutboxEvent, out any) error {
	if err := json.Unmarshal(event.Payload, out); err != nil {
		return domain.WrapE(domain.KindValidation, "malformed outbox payload", err)
	}
	return nil
}
