package postgres

import (
	"errors"
	"testing"
	"time"

	"github.com/northshop/platform/internal/domain"
)

func TestOrderRepository_Integration_CreateWithOutboxRows(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	orders := NewOrderRepository(store)
	outbox := NewOutboxRepository(store)

	order := domain.Order{
		CustomerID:  "customer-1",
		Status:      domain.OrderStatusReserving,
		Currency:    "RUB",
		AmountMinor: 2000,
		Items:       []domain.OrderItem{{SKU: "SKU-1", Qty: 2, PriceMinor: 1000}},
	}
	events := []domain.OutboxEvent{
		{
			AggregateType: "ORDER",
			AggregateID:   "pending",
			EventType:     domain.EventInventoryReserve,
			Payload:       []byte(`{"order_id":"pending"}`),
		},
	}

	if err := orders.Create(order, events); err != nil {
		t.Fatalf("create order: %v", err)
	}

	due, err := outbox.PullDue(time.Now().UTC(), 10)
	if err != nil {
		t.Fatalf("pull due: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("expected 1 outbox row written with the order, got %d", len(due))
	}
}

func TestOrderRepository_Integration_SaveVersionConflict(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	orders := NewOrderRepository(store)

	order := domain.Order{
		ID:          "11111111-1111-1111-1111-111111111111",
		CustomerID:  "customer-1",
		Status:      domain.OrderStatusReserving,
		Currency:    "RUB",
		AmountMinor: 1000,
		Items:       []domain.OrderItem{{SKU: "SKU-1", Qty: 1, PriceMinor: 1000}},
	}
	if err := orders.Create(order, nil); err != nil {
		t.Fatalf("create order: %v", err)
	}

	stored, err := orders.Get(order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}

	if err := stored.TransitionTo(domain.OrderStatusReserved, "stock reserved", time.Now().UTC()); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if err := orders.Save(stored, nil); err != nil {
		t.Fatalf("first save: %v", err)
	}

	// Повторное сохранение со старой версией должно отвергаться.
	if err := orders.Save(stored, nil); !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("expected ErrOrderVersionConflict, got %v", err)
	}

	reloaded, err := orders.Get(order.ID)
	if err != nil {
		t.Fatalf("reload order: %v", err)
	}
	if reloaded.Status != domain.OrderStatusReserved {
		t.Fatalf("expected reserved, got %s", reloaded.Status)
	}
	if len(reloaded.StatusHistory) != 1 {
		t.Fatalf("expected 1 status history entry, got %d", len(reloaded.StatusHistory))
	}
}
