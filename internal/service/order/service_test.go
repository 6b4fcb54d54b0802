package order

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/northshop/platform/internal/domain"
	"github.com/northshop/platform/internal/service/promotion"
	"github.com/northshop/platform/internal/storage/memory"
)

func newTestService(t *testing.T, promotions domain.PromotionGateway) (*Service, domain.OrderRepository, domain.OutboxRepository) {
	t.Helper()

	outboxRepo := memory.NewOutboxRepository()
	orderRepo := memory.NewOrderRepository(outboxRepo)
	return NewService(orderRepo, promotions), orderRepo, outboxRepo
}

func validOrder() domain.Order {
	return domain.Order{
		CustomerID:  "customer-1",
		Currency:    "RUB",
		AmountMinor: 3000,
		Items: []domain.OrderItem{
			{SKU: "SKU-1", Qty: 2, PriceMinor: 1000},
			{SKU: "SKU-2", Qty: 1, PriceMinor: 1000},
		},
	}
}

func dueEvents(t *testing.T, repo domain.OutboxRepository) []domain.OutboxEvent {
	t.Helper()

	events, err := repo.PullDue(time.Now().UTC(), 100)
	if err != nil {
		t.Fatalf("pull due events: %v", err)
	}
	return events
}

func TestService_Place_EnqueuesReserveAndStatusEvent(t *testing.T) {
	t.Parallel()

	service, _, outboxRepo := newTestService(t, promotion.NewMockGateway())

	order, err := service.Place(context.Background(), validOrder())
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if order.Status != domain.OrderStatusReserving {
		t.Fatalf("expected status reserving, got %s", order.Status)
	}

	events := dueEvents(t, outboxRepo)
	if len(events) != 2 {
		t.Fatalf("expected 2 outbox rows, got %d", len(events))
	}
	if events[0].EventType != domain.EventInventoryReserve {
		t.Fatalf("expected INVENTORY_RESERVE first, got %s", events[0].EventType)
	}
	if events[1].EventType != domain.EventOrderEvent {
		t.Fatalf("expected ORDER_EVENT second, got %s", events[1].EventType)
	}
	if events[0].AggregateID != order.ID {
		t.Fatalf("expected aggregate id %s, got %s", order.ID, events[0].AggregateID)
	}
}

func TestService_Place_ValidationRejected(t *testing.T) {
	t.Parallel()

	service, _, outboxRepo := newTestService(t, promotion.NewMockGateway())

	order := validOrder()
	order.AmountMinor = 1

	_, err := service.Place(context.Background(), order)
	if !errors.Is(err, domain.ErrAmountMismatch) {
		t.Fatalf("expected ErrAmountMismatch, got %v", err)
	}
	if events := dueEvents(t, outboxRepo); len(events) != 0 {
		t.Fatalf("expected no outbox rows for rejected order, got %d", len(events))
	}
}

func TestService_Place_CouponReservedSynchronously(t *testing.T) {
	t.Parallel()

	promotions := promotion.NewMockGateway()
	service, _, _ := newTestService(t, promotions)

	order := validOrder()
	order.CouponCode = "SPRING10"

	placed, err := service.Place(context.Background(), order)
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if promotions.ReserveCalls != 1 {
		t.Fatalf("expected 1 coupon reserve call, got %d", promotions.ReserveCalls)
	}
	if placed.CouponResID == "" {
		t.Fatal("expected coupon reservation id on the order")
	}
}

func TestService_Place_CouponRejectionFailsPlacement(t *testing.T) {
	t.Parallel()

	promotions := promotion.NewMockGateway()
	promotions.ReserveErr = domain.ErrCouponExhausted
	service, _, outboxRepo := newTestService(t, promotions)

	order := validOrder()
	order.CouponCode = "SPRING10"

	_, err := service.Place(context.Background(), order)
	if !errors.Is(err, domain.ErrCouponExhausted) {
		t.Fatalf("expected ErrCouponExhausted, got %v", err)
	}
	if events := dueEvents(t, outboxRepo); len(events) != 0 {
		t.Fatalf("expected no outbox rows, got %d", len(events))
	}
}

func TestService_Confirm_EnqueuesConfirmAndCommit(t *testing.T) {
	t.Parallel()

	service, orderRepo, outboxRepo := newTestService(t, promotion.NewMockGateway())

	order := validOrder()
	order.CouponCode = "SPRING10"
	placed, err := service.Place(context.Background(), order)
	if err != nil {
		t.Fatalf("place: %v", err)
	}

	// Склад подтвердил резерв.
	reserveRows := dueEvents(t, outboxRepo)
	if err := service.ApplyOutcome(context.Background(), reserveRows[0], nil); err != nil {
		t.Fatalf("apply outcome: %v", err)
	}

	confirmed, err := service.Confirm(context.Background(), placed.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if confirmed.Status != domain.OrderStatusConfirmed {
		t.Fatalf("expected confirmed, got %s", confirmed.Status)
	}

	stored, err := orderRepo.Get(placed.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if stored.Status != domain.OrderStatusConfirmed {
		t.Fatalf("expected stored status confirmed, got %s", stored.Status)
	}

	var sawConfirm, sawCommit bool
	for _, event := range dueEvents(t, outboxRepo) {
		switch event.EventType {
		case domain.EventConfirmInventoryReserve:
			sawConfirm = true
		case domain.EventCouponCommit:
			sawCommit = true
		}
	}
	if !sawConfirm || !sawCommit {
		t.Fatalf("expected confirm and coupon commit rows, got confirm=%v commit=%v", sawConfirm, sawCommit)
	}
}

func TestService_Confirm_RequiresReservedStatus(t *testing.T) {
	t.Parallel()

	service, _, _ := newTestService(t, promotion.NewMockGateway())

	placed, err := service.Place(context.Background(), validOrder())
	if err != nil {
		t.Fatalf("place: %v", err)
	}

	// Заказ ещё reserving: склад не ответил.
	_, err = service.Confirm(context.Background(), placed.ID)
	if err == nil {
		t.Fatal("expected confirm of unreserved order to fail")
	}
	if kind := domain.KindOf(err); kind != domain.KindValidation {
		t.Fatalf("expected validation kind, got %q", kind)
	}
}

func TestService_Cancel_EnqueuesCompensations(t *testing.T) {
	t.Parallel()

	service, _, outboxRepo := newTestService(t, promotion.NewMockGateway())

	order := validOrder()
	order.CouponCode = "SPRING10"
	placed, err := service.Place(context.Background(), order)
	if err != nil {
		t.Fatalf("place: %v", err)
	}

	canceled, err := service.Cancel(context.Background(), placed.ID, "customer changed mind")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if canceled.Status != domain.OrderStatusCanceled {
		t.Fatalf("expected canceled, got %s", canceled.Status)
	}

	var sawStockRelease, sawCouponRelease bool
	for _, event := range dueEvents(t, outboxRepo) {
		switch event.EventType {
		case domain.EventReleaseInventoryReserve:
			sawStockRelease = true
		case domain.EventReleaseCouponReserve:
			sawCouponRelease = true
		}
	}
	if !sawStockRelease || !sawCouponRelease {
		t.Fatalf("expected compensation rows, got stock=%v coupon=%v", sawStockRelease, sawCouponRelease)
	}
}

func TestService_ApplyOutcome_ReserveSuccess(t *testing.T) {
	t.Parallel()

	service, orderRepo, outboxRepo := newTestService(t, promotion.NewMockGateway())

	placed, err := service.Place(context.Background(), validOrder())
	if err != nil {
		t.Fatalf("place: %v", err)
	}

	rows := dueEvents(t, outboxRepo)
	if err := service.ApplyOutcome(context.Background(), rows[0], nil); err != nil {
		t.Fatalf("apply outcome: %v", err)
	}

	stored, err := orderRepo.Get(placed.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if stored.Status != domain.OrderStatusReserved {
		t.Fatalf("expected reserved, got %s", stored.Status)
	}
}

func TestService_ApplyOutcome_ReserveConflictFailsOrderAndReleasesCoupon(t *testing.T) {
	t.Parallel()

	service, orderRepo, outboxRepo := newTestService(t, promotion.NewMockGateway())

	order := validOrder()
	order.CouponCode = "SPRING10"
	placed, err := service.Place(context.Background(), order)
	if err != nil {
		t.Fatalf("place: %v", err)
	}

	rows := dueEvents(t, outboxRepo)
	reserveErr := domain.WrapE(domain.KindConflict, "insufficient stock for SKU-1", domain.ErrInsufficientStock)
	if err := service.ApplyOutcome(context.Background(), rows[0], reserveErr); err != nil {
		t.Fatalf("apply outcome: %v", err)
	}

	stored, err := orderRepo.Get(placed.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if stored.Status != domain.OrderStatusReservationFailed {
		t.Fatalf("expected reservation_failed, got %s", stored.Status)
	}

	var sawCouponRelease bool
	for _, event := range dueEvents(t, outboxRepo) {
		if event.EventType == domain.EventReleaseCouponReserve {
			sawCouponRelease = true
		}
	}
	if !sawCouponRelease {
		t.Fatal("expected coupon release compensation row")
	}
}

func TestService_ApplyOutcome_IgnoresOtherEventTypes(t *testing.T) {
	t.Parallel()

	service, orderRepo, outboxRepo := newTestService(t, promotion.NewMockGateway())

	placed, err := service.Place(context.Background(), validOrder())
	if err != nil {
		t.Fatalf("place: %v", err)
	}

	rows := dueEvents(t, outboxRepo)
	// ORDER_EVENT — вторая строка; её исход статус заказа не двигает.
	if err := service.ApplyOutcome(context.Background(), rows[1], nil); err != nil {
		t.Fatalf("apply outcome: %v", err)
	}

	stored, err := orderRepo.Get(placed.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if stored.Status != domain.OrderStatusReserving {
		t.Fatalf("expected status unchanged, got %s", stored.Status)
	}
}
