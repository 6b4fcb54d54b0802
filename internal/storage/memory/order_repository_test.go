package memory

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/northshop/platform/internal/domain"
)

func sampleOrder(id, customerID string) domain.Order {
	return domain.Order{
		ID:          id,
		CustomerID:  customerID,
		Status:      domain.OrderStatusCreated,
		Currency:    "RUB",
		AmountMinor: 1000,
		Items:       []domain.OrderItem{{SKU: "SKU-1", Qty: 1, PriceMinor: 1000}},
	}
}

func TestOrderCreateWritesOutboxAtomically(t *testing.T) {
	t.Parallel()

	outbox := NewOutboxRepository()
	repo := NewOrderRepository(outbox)

	err := repo.Create(sampleOrder("order-1", "customer-1"), []domain.OutboxEvent{
		{AggregateType: "order", AggregateID: "order-1", EventType: domain.EventInventoryReserve},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	stored, err := repo.Get("order-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Version != 1 {
		t.Fatalf("expected version 1, got %d", stored.Version)
	}

	due, err := outbox.PullDue(time.Now(), 10)
	if err != nil {
		t.Fatalf("pull due: %v", err)
	}
	if len(due) != 1 || due[0].EventType != domain.EventInventoryReserve {
		t.Fatalf("expected the outbox row from create, got %+v", due)
	}
}

func TestOrderCreateDuplicate(t *testing.T) {
	t.Parallel()

	repo := NewOrderRepository(NewOutboxRepository())
	if err := repo.Create(sampleOrder("order-1", "customer-1"), nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.Create(sampleOrder("order-1", "customer-1"), nil); domain.KindOf(err) != domain.KindConflict {
		t.Fatalf("expected conflict for duplicate id, got %v", err)
	}
}

func TestOrderGetMissing(t *testing.T) {
	t.Parallel()

	repo := NewOrderRepository(NewOutboxRepository())
	if _, err := repo.Get("missing"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderSaveOptimisticLocking(t *testing.T) {
	t.Parallel()

	repo := NewOrderRepository(NewOutboxRepository())
	if err := repo.Create(sampleOrder("order-1", "customer-1"), nil); err != nil {
		t.Fatalf("create: %v", err)
	}

	first, _ := repo.Get("order-1")
	second, _ := repo.Get("order-1")

	if err := repo.Save(first, nil); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Второе сохранение несёт устаревшую версию.
	if err := repo.Save(second, nil); !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}

	stored, _ := repo.Get("order-1")
	if stored.Version != 2 {
		t.Fatalf("expected version 2 after save, got %d", stored.Version)
	}
}

func TestOrderSaveAppendsOutbox(t *testing.T) {
	t.Parallel()

	outbox := NewOutboxRepository()
	repo := NewOrderRepository(outbox)
	if err := repo.Create(sampleOrder("order-1", "customer-1"), nil); err != nil {
		t.Fatalf("create: %v", err)
	}

	order, _ := repo.Get("order-1")
	err := repo.Save(order, []domain.OutboxEvent{
		{AggregateType: "order", AggregateID: "order-1", EventType: domain.EventOrderEvent},
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	due, _ := outbox.PullDue(time.Now(), 10)
	if len(due) != 1 {
		t.Fatalf("expected outbox row from save, got %d", len(due))
	}
}

func TestOrderListByCustomer(t *testing.T) {
	t.Parallel()

	repo := NewOrderRepository(NewOutboxRepository())
	for i := 0; i < 3; i++ {
		order := sampleOrder(fmt.Sprintf("order-%d", i), "customer-1")
		order.CreatedAt = time.Now().Add(time.Duration(i) * time.Second)
		if err := repo.Create(order, nil); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if err := repo.Create(sampleOrder("other", "customer-2"), nil); err != nil {
		t.Fatalf("create: %v", err)
	}

	orders, err := repo.ListByCustomer("customer-1", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("expected limit to apply, got %d orders", len(orders))
	}
	if orders[0].CreatedAt.Before(orders[1].CreatedAt) {
		t.Fatal("expected newest-first ordering")
	}
}

func TestOrderCloneIsolation(t *testing.T) {
	t.Parallel()

	repo := NewOrderRepository(NewOutboxRepository())
	if err := repo.Create(sampleOrder("order-1", "customer-1"), nil); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, _ := repo.Get("order-1")
	got.Items[0].Qty = 99

	fresh, _ := repo.Get("order-1")
	if fresh.Items[0].Qty != 1 {
		t.Fatal("mutating a returned order must not leak into storage")
	}
}
