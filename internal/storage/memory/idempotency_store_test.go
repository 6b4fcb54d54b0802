package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/northshop/platform/internal/domain"
)

func TestIdempotencyClaimLifecycle(t *testing.T) {
	t.Parallel()

	store := NewIdempotencyStore()
	ctx := context.Background()

	claim, _, err := store.Claim(ctx, "key-1", "POST /api/orders", time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claim != domain.ClaimAcquired {
		t.Fatalf("expected ClaimAcquired, got %v", claim)
	}

	// Конкурентный дубликат видит PENDING.
	claim, _, err = store.Claim(ctx, "key-1", "POST /api/orders", time.Minute)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if claim != domain.ClaimInFlight {
		t.Fatalf("expected ClaimInFlight, got %v", claim)
	}

	if err := store.Complete(ctx, "key-1", "POST /api/orders", 201, "application/json; charset=utf-8", []byte(`{"id":"order-1"}`), time.Hour); err != nil {
		t.Fatalf("complete: %v", err)
	}

	claim, record, err := store.Claim(ctx, "key-1", "POST /api/orders", time.Minute)
	if err != nil {
		t.Fatalf("third claim: %v", err)
	}
	if claim != domain.ClaimCompleted {
		t.Fatalf("expected ClaimCompleted, got %v", claim)
	}
	if record.HTTPStatus != 201 || string(record.ResponseBody) != `{"id":"order-1"}` {
		t.Fatalf("unexpected snapshot: %+v", record)
	}
	if record.ContentType != "application/json; charset=utf-8" {
		t.Fatalf("expected content type to survive in the snapshot, got %q", record.ContentType)
	}
}

func TestIdempotencyClaimEmptyKey(t *testing.T) {
	t.Parallel()

	store := NewIdempotencyStore()
	_, _, err := store.Claim(context.Background(), "  ", "POST /api/orders", time.Minute)
	if !errors.Is(err, domain.ErrIdempotencyKeyRequired) {
		t.Fatalf("expected ErrIdempotencyKeyRequired, got %v", err)
	}
}

func TestIdempotencyRouteIsolation(t *testing.T) {
	t.Parallel()

	store := NewIdempotencyStore()
	ctx := context.Background()

	if _, _, err := store.Claim(ctx, "key-1", "POST /api/orders", time.Minute); err != nil {
		t.Fatalf("claim: %v", err)
	}

	claim, _, err := store.Claim(ctx, "key-1", "POST /api/orders/1/cancel", time.Minute)
	if err != nil {
		t.Fatalf("claim other route: %v", err)
	}
	if claim != domain.ClaimAcquired {
		t.Fatalf("same key on another route must be independent, got %v", claim)
	}
}

func TestIdempotencyDropAllowsRetry(t *testing.T) {
	t.Parallel()

	store := NewIdempotencyStore()
	ctx := context.Background()

	if _, _, err := store.Claim(ctx, "key-1", "POST /api/orders", time.Minute); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := store.Drop(ctx, "key-1", "POST /api/orders"); err != nil {
		t.Fatalf("drop: %v", err)
	}

	claim, _, err := store.Claim(ctx, "key-1", "POST /api/orders", time.Minute)
	if err != nil {
		t.Fatalf("claim after drop: %v", err)
	}
	if claim != domain.ClaimAcquired {
		t.Fatalf("retry after drop must acquire, got %v", claim)
	}
}

func TestIdempotencyExpiredRecordIsReclaimable(t *testing.T) {
	t.Parallel()

	store := NewIdempotencyStore()
	ctx := context.Background()

	// Нулевой TTL — запись немедленно просрочена.
	if _, _, err := store.Claim(ctx, "key-1", "POST /api/orders", -time.Second); err != nil {
		t.Fatalf("claim: %v", err)
	}

	claim, _, err := store.Claim(ctx, "key-1", "POST /api/orders", time.Minute)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if claim != domain.ClaimAcquired {
		t.Fatalf("expired record must be reclaimable, got %v", claim)
	}
}

func TestIdempotencyDeleteExpired(t *testing.T) {
	t.Parallel()

	store := NewIdempotencyStore()
	ctx := context.Background()

	if _, _, err := store.Claim(ctx, "stale", "POST /api/orders", -time.Second); err != nil {
		t.Fatalf("claim stale: %v", err)
	}
	if _, _, err := store.Claim(ctx, "fresh", "POST /api/orders", time.Hour); err != nil {
		t.Fatalf("claim fresh: %v", err)
	}

	removed, err := store.DeleteExpired(time.Now(), 100)
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed record, got %d", removed)
	}

	claim, _, err := store.Claim(ctx, "fresh", "POST /api/orders", time.Hour)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claim != domain.ClaimInFlight {
		t.Fatalf("fresh record must survive cleanup, got %v", claim)
	}
}
