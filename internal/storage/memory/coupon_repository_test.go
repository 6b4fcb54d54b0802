package memory

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/northshop/platform/internal/domain"
)

func seedCoupon(t *testing.T, repo *couponRepositoryInMemory, code string, limit int32) {
	t.Helper()
	err := repo.CreateBatch([]domain.Coupon{{Code: code, BatchID: "batch-1", UsageLimit: limit}})
	if err != nil {
		t.Fatalf("create batch: %v", err)
	}
}

func TestCouponCreateBatchDuplicate(t *testing.T) {
	t.Parallel()

	repo := NewCouponRepository()
	seedCoupon(t, repo, "WELCOME10", 5)

	err := repo.CreateBatch([]domain.Coupon{{Code: "WELCOME10", UsageLimit: 1}})
	if domain.KindOf(err) != domain.KindConflict {
		t.Fatalf("expected conflict for duplicate code, got %v", err)
	}
}

func TestCouponHoldUsage(t *testing.T) {
	t.Parallel()

	repo := NewCouponRepository()
	seedCoupon(t, repo, "WELCOME10", 2)

	res, err := repo.HoldUsage(domain.CouponReservation{CouponCode: "WELCOME10", OrderID: "order-1"})
	if err != nil {
		t.Fatalf("hold usage: %v", err)
	}
	if res.ID == "" || res.Status != domain.CouponReservationReserved {
		t.Fatalf("unexpected reservation: %+v", res)
	}

	coupon, _ := repo.Coupon("WELCOME10")
	if coupon.Reserved != 1 {
		t.Fatalf("unexpected reserved counter: %+v", coupon)
	}
}

func TestCouponHoldUsageIdempotentPerOrder(t *testing.T) {
	t.Parallel()

	repo := NewCouponRepository()
	seedCoupon(t, repo, "WELCOME10", 1)

	first, err := repo.HoldUsage(domain.CouponReservation{CouponCode: "WELCOME10", OrderID: "order-1"})
	if err != nil {
		t.Fatalf("hold usage: %v", err)
	}
	second, err := repo.HoldUsage(domain.CouponReservation{CouponCode: "WELCOME10", OrderID: "order-1"})
	if err != nil {
		t.Fatalf("repeat hold usage: %v", err)
	}
	if first.ID != second.ID {
		t.Fatal("repeat hold must return the existing reservation")
	}

	coupon, _ := repo.Coupon("WELCOME10")
	if coupon.Reserved != 1 {
		t.Fatalf("repeat hold must not double-reserve: %+v", coupon)
	}
}

func TestCouponHoldUsageExhausted(t *testing.T) {
	t.Parallel()

	repo := NewCouponRepository()
	seedCoupon(t, repo, "WELCOME10", 1)

	if _, err := repo.HoldUsage(domain.CouponReservation{CouponCode: "WELCOME10", OrderID: "order-1"}); err != nil {
		t.Fatalf("hold usage: %v", err)
	}
	_, err := repo.HoldUsage(domain.CouponReservation{CouponCode: "WELCOME10", OrderID: "order-2"})
	if !errors.Is(err, domain.ErrCouponExhausted) {
		t.Fatalf("expected ErrCouponExhausted, got %v", err)
	}
}

func TestCouponHoldUsageUnknownCode(t *testing.T) {
	t.Parallel()

	repo := NewCouponRepository()
	_, err := repo.HoldUsage(domain.CouponReservation{CouponCode: "GHOST", OrderID: "order-1"})
	if !errors.Is(err, domain.ErrCouponNotFound) {
		t.Fatalf("expected ErrCouponNotFound, got %v", err)
	}
}

func TestCouponConcurrentHoldsRespectLimit(t *testing.T) {
	t.Parallel()

	repo := NewCouponRepository()
	seedCoupon(t, repo, "LIMITED", 3)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for i := 0; i < 10; i++ {
		wg.Add(1)
		orderID := fmt.Sprintf("order-%d", i)
		go func(orderID string) {
			defer wg.Done()
			_, err := repo.HoldUsage(domain.CouponReservation{CouponCode: "LIMITED", OrderID: orderID})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}(orderID)
	}
	wg.Wait()

	if succeeded != 3 {
		t.Fatalf("expected exactly 3 successful holds, got %d", succeeded)
	}
}

func TestCouponUpdateReservationCommitMovesCounters(t *testing.T) {
	t.Parallel()

	repo := NewCouponRepository()
	seedCoupon(t, repo, "WELCOME10", 2)

	res, err := repo.HoldUsage(domain.CouponReservation{CouponCode: "WELCOME10", OrderID: "order-1"})
	if err != nil {
		t.Fatalf("hold usage: %v", err)
	}

	if _, err := res.Commit("order-1", time.Now()); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := repo.UpdateReservation(res); err != nil {
		t.Fatalf("update reservation: %v", err)
	}

	coupon, _ := repo.Coupon("WELCOME10")
	if coupon.Reserved != 0 || coupon.Committed != 1 {
		t.Fatalf("commit must move reserved to committed: %+v", coupon)
	}
}

func TestCouponUpdateReservationReleaseFreesUsage(t *testing.T) {
	t.Parallel()

	repo := NewCouponRepository()
	seedCoupon(t, repo, "WELCOME10", 1)

	res, err := repo.HoldUsage(domain.CouponReservation{CouponCode: "WELCOME10", OrderID: "order-1"})
	if err != nil {
		t.Fatalf("hold usage: %v", err)
	}

	if _, err := res.Release("order canceled", time.Now()); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := repo.UpdateReservation(res); err != nil {
		t.Fatalf("update reservation: %v", err)
	}

	// Освобождённое использование снова доступно другому заказу.
	if _, err := repo.HoldUsage(domain.CouponReservation{CouponCode: "WELCOME10", OrderID: "order-2"}); err != nil {
		t.Fatalf("hold after release: %v", err)
	}
}

func TestCouponReservationByOrder(t *testing.T) {
	t.Parallel()

	repo := NewCouponRepository()
	seedCoupon(t, repo, "WELCOME10", 2)

	created, err := repo.HoldUsage(domain.CouponReservation{CouponCode: "WELCOME10", OrderID: "order-1"})
	if err != nil {
		t.Fatalf("hold usage: %v", err)
	}

	found, err := repo.ReservationByOrder("WELCOME10", "order-1")
	if err != nil {
		t.Fatalf("reservation by order: %v", err)
	}
	if found.ID != created.ID {
		t.Fatalf("unexpected reservation: %+v", found)
	}

	if _, err := repo.ReservationByOrder("WELCOME10", "order-9"); !errors.Is(err, domain.ErrCouponReservationNotFound) {
		t.Fatalf("expected ErrCouponReservationNotFound, got %v", err)
	}
}
