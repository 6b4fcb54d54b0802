package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/northshop/platform/internal/domain"
	"github.com/northshop/platform/internal/storage/memory"
)

func seedFailedEvent(t *testing.T, repo domain.OutboxRepository, eventType domain.OutboxEventType) domain.OutboxEvent {
	t.Helper()

	event, err := repo.Enqueue(domain.OutboxEvent{
		AggregateType: "order",
		AggregateID:   "order-1",
		EventType:     eventType,
		Payload:       []byte(`{}`),
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if err := event.RecordFailure(time.Now(), errors.New("downstream rejected"), true); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	if err := repo.Update(event); err != nil {
		t.Fatalf("update: %v", err)
	}
	return event
}

func TestRunDryRunDoesNotRequeue(t *testing.T) {
	t.Parallel()

	repo := memory.NewOutboxRepository()
	event := seedFailedEvent(t, repo, domain.EventInventoryReserve)

	stats, err := run(context.Background(), config{limit: 10}, repo)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.scanned != 1 || stats.requeued != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	stored, err := repo.Get(event.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != domain.OutboxStatusFailed {
		t.Fatalf("dry-run must not change status, got %s", stored.Status)
	}
}

func TestRunExecuteRequeuesFailedRows(t *testing.T) {
	t.Parallel()

	repo := memory.NewOutboxRepository()
	first := seedFailedEvent(t, repo, domain.EventInventoryReserve)
	second := seedFailedEvent(t, repo, domain.EventCouponCommit)

	stats, err := run(context.Background(), config{limit: 10, execute: true}, repo)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.requeued != 2 {
		t.Fatalf("expected 2 requeued rows, got %+v", stats)
	}

	for _, id := range []string{first.ID, second.ID} {
		stored, err := repo.Get(id)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		if stored.Status != domain.OutboxStatusPending {
			t.Errorf("row %s: expected PENDING after requeue, got %s", id, stored.Status)
		}
		if stored.RetryCount != 0 {
			t.Errorf("row %s: expected reset retry budget, got %d", id, stored.RetryCount)
		}
	}
}

func TestRunEventTypeFilter(t *testing.T) {
	t.Parallel()

	repo := memory.NewOutboxRepository()
	seedFailedEvent(t, repo, domain.EventInventoryReserve)
	coupon := seedFailedEvent(t, repo, domain.EventCouponCommit)

	stats, err := run(context.Background(), config{
		limit:     10,
		execute:   true,
		eventType: string(domain.EventCouponCommit),
	}, repo)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.requeued != 1 || stats.skipped != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	stored, err := repo.Get(coupon.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != domain.OutboxStatusPending {
		t.Fatalf("filtered row must be requeued, got %s", stored.Status)
	}
}

func TestRunSingleIDRejectsNonFailedRow(t *testing.T) {
	t.Parallel()

	repo := memory.NewOutboxRepository()
	event, err := repo.Enqueue(domain.OutboxEvent{
		AggregateType: "order",
		AggregateID:   "order-1",
		EventType:     domain.EventOrderEvent,
		Payload:       []byte(`{}`),
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	_, err = run(context.Background(), config{limit: 10, execute: true, id: event.ID}, repo)
	if err == nil {
		t.Fatal("expected error for a PENDING row")
	}
}

func TestRunSingleIDRequeues(t *testing.T) {
	t.Parallel()

	repo := memory.NewOutboxRepository()
	event := seedFailedEvent(t, repo, domain.EventOrderEvent)

	stats, err := run(context.Background(), config{limit: 10, execute: true, id: event.ID}, repo)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.requeued != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	stored, err := repo.Get(event.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != domain.OutboxStatusPending {
		t.Fatalf("expected PENDING after requeue, got %s", stored.Status)
	}
}

func TestRunEmptyBacklog(t *testing.T) {
	t.Parallel()

	repo := memory.NewOutboxRepository()
	stats, err := run(context.Background(), config{limit: 10, execute: true}, repo)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.scanned != 0 || stats.requeued != 0 {
		t.Fatalf("expected empty stats, got %+v", stats)
	}
}
