package postgres

import (
	"testing"
	"time"

	"github.com/northshop/platform/internal/domain"
)

func TestOutboxRepository_Integration_EnqueuePullUpdate(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOutboxRepository(store)

	event, err := repo.Enqueue(domain.OutboxEvent{
		AggregateType: "ORDER",
		AggregateID:   "order-1",
		EventType:     domain.EventInventoryReserve,
		Payload:       []byte(`{"order_id":"order-1"}`),
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if event.ID == "" {
		t.Fatal("expected id to be assigned")
	}

	due, err := repo.PullDue(time.Now().UTC(), 10)
	if err != nil {
		t.Fatalf("pull due: %v", err)
	}
	if len(due) != 1 || due[0].ID != event.ID {
		t.Fatalf("expected the enqueued row to be due, got %d rows", len(due))
	}

	pulled := due[0]
	if err := pulled.MarkProcessed(time.Now().UTC()); err != nil {
		t.Fatalf("mark processed: %v", err)
	}
	if err := repo.Update(pulled); err != nil {
		t.Fatalf("update: %v", err)
	}

	// Терминальная строка защищена от повторного обновления.
	if err := repo.Update(pulled); err == nil {
		t.Fatal("expected update of terminal row to fail")
	}

	due, err = repo.PullDue(time.Now().UTC(), 10)
	if err != nil {
		t.Fatalf("pull due after processing: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("expected no due rows, got %d", len(due))
	}
}

func TestOutboxRepository_Integration_PullDueLeasesRows(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOutboxRepository(store)

	for _, aggregateID := range []string{"order-10", "order-11"} {
		if _, err := repo.Enqueue(domain.OutboxEvent{
			AggregateType: "ORDER",
			AggregateID:   aggregateID,
			EventType:     domain.EventInventoryReserve,
			Payload:       []byte(`{}`),
		}); err != nil {
			t.Fatalf("enqueue %s: %v", aggregateID, err)
		}
	}

	now := time.Now().UTC()
	due, err := repo.PullDue(now, 10)
	if err != nil {
		t.Fatalf("pull due: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("expected 2 due rows, got %d", len(due))
	}

	// Забранные строки арендованы: повторная выборка их не видит,
	// второй диспетчер не получил бы те же строки.
	again, err := repo.PullDue(now, 10)
	if err != nil {
		t.Fatalf("second pull: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("leased rows must not be pulled twice, got %d", len(again))
	}

	// Незавершённые строки снова due после истечения аренды.
	later, err := repo.PullDue(now.Add(pullLease+time.Second), 10)
	if err != nil {
		t.Fatalf("pull after lease: %v", err)
	}
	if len(later) != 2 {
		t.Fatalf("expected rows to become due again after the lease, got %d", len(later))
	}
}

func TestOutboxRepository_Integration_RetryScheduleAndRequeue(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOutboxRepository(store)

	event, err := repo.Enqueue(domain.OutboxEvent{
		AggregateType: "ORDER",
		AggregateID:   "order-2",
		EventType:     domain.EventCouponCommit,
		Payload:       []byte(`{"reservation_id":"res-1"}`),
		MaxRetries:    1,
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	now := time.Now().UTC()
	if err := event.RecordFailure(now, domain.E(domain.KindUnavailable, "downstream is down"), false); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	if err := repo.Update(event); err != nil {
		t.Fatalf("update failed row: %v", err)
	}
	if event.Status != domain.OutboxStatusFailed {
		t.Fatalf("expected FAILED after budget of 1, got %s", event.Status)
	}

	failed, err := repo.ListFailed(10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(failed) != 1 {
		t.Fatalf("expected 1 failed row, got %d", len(failed))
	}

	if err := repo.Requeue(event.ID); err != nil {
		t.Fatalf("requeue: %v", err)
	}

	requeued, err := repo.Get(event.ID)
	if err != nil {
		t.Fatalf("get requeued: %v", err)
	}
	if requeued.Status != domain.OutboxStatusPending || requeued.RetryCount != 0 {
		t.Fatalf("expected reset PENDING row, got %s retry=%d", requeued.Status, requeued.RetryCount)
	}
}
