package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/northshop/platform/internal/api"
	"github.com/northshop/platform/internal/domain"
	"github.com/northshop/platform/internal/service/order"
	"github.com/northshop/platform/internal/service/promotion"
	"github.com/northshop/platform/internal/storage/memory"
)

type orderTestServer struct {
	engine *gin.Engine
	repo   domain.OrderRepository
}

func newOrderTestServer(t *testing.T) *orderTestServer {
	t.Helper()

	repo := memory.NewOrderRepository(memory.NewOutboxRepository())
	svc := order.NewService(repo, promotion.NewMockGateway())

	engine := NewOrderRouter(svc, RouterOptions{
		IdempotencyStore: memory.NewIdempotencyStore(),
	})
	return &orderTestServer{engine: engine, repo: repo}
}

func (s *orderTestServer) do(t *testing.T, method, path, idemKey string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if idemKey != "" {
		req.Header.Set(HeaderIdempotencyKey, idemKey)
	}
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	return rec
}

func validPlaceRequest() api.PlaceOrderRequest {
	return api.PlaceOrderRequest{
		CustomerID:  "customer-1",
		Currency:    "RUB",
		AmountMinor: 2000,
		Items: []api.OrderItemRequest{
			{SKU: "SKU-1", Qty: 2, PriceMinor: 1000},
		},
	}
}

func TestOrderRouter_Place(t *testing.T) {
	t.Parallel()

	server := newOrderTestServer(t)
	rec := server.do(t, http.MethodPost, "/api/orders", "key-1", validPlaceRequest())

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp api.OrderResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID == "" {
		t.Fatal("expected order id to be assigned")
	}
	if resp.Status != string(domain.OrderStatusReserving) {
		t.Fatalf("expected reserving status, got %s", resp.Status)
	}
}

func TestOrderRouter_PlaceReplaysWithSameKey(t *testing.T) {
	t.Parallel()

	server := newOrderTestServer(t)

	first := server.do(t, http.MethodPost, "/api/orders", "key-replay", validPlaceRequest())
	second := server.do(t, http.MethodPost, "/api/orders", "key-replay", validPlaceRequest())

	if first.Code != http.StatusCreated || second.Code != http.StatusCreated {
		t.Fatalf("expected 201 on both calls, got %d and %d", first.Code, second.Code)
	}
	if first.Body.String() != second.Body.String() {
		t.Fatal("expected verbatim replay: the same order, not a second one")
	}
}

func TestOrderRouter_PlaceWithoutKeyIsNotDeduplicated(t *testing.T) {
	t.Parallel()

	server := newOrderTestServer(t)

	// Idempotency-Key опционален: без него каждый запрос создаёт заказ.
	first := server.do(t, http.MethodPost, "/api/orders", "", validPlaceRequest())
	second := server.do(t, http.MethodPost, "/api/orders", "", validPlaceRequest())

	if first.Code != http.StatusCreated || second.Code != http.StatusCreated {
		t.Fatalf("expected 201 on both keyless calls, got %d and %d", first.Code, second.Code)
	}

	var a, b api.OrderResponse
	if err := json.Unmarshal(first.Body.Bytes(), &a); err != nil {
		t.Fatalf("decode first response: %v", err)
	}
	if err := json.Unmarshal(second.Body.Bytes(), &b); err != nil {
		t.Fatalf("decode second response: %v", err)
	}
	if a.ID == b.ID {
		t.Fatal("keyless requests must create independent orders")
	}
}

func TestOrderRouter_PlaceValidation(t *testing.T) {
	t.Parallel()

	server := newOrderTestServer(t)

	req := validPlaceRequest()
	req.AmountMinor = 999 // не сходится с суммой позиций
	rec := server.do(t, http.MethodPost, "/api/orders", "key-bad-amount", req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for amount mismatch, got %d", rec.Code)
	}

	rec = server.do(t, http.MethodPost, "/api/orders", "key-no-items", api.PlaceOrderRequest{
		CustomerID: "customer-1",
		Currency:   "RUB",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing items, got %d", rec.Code)
	}
}

func TestOrderRouter_GetNotFound(t *testing.T) {
	t.Parallel()

	server := newOrderTestServer(t)
	rec := server.do(t, http.MethodGet, "/api/orders/absent", "", nil)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestOrderRouter_ListByCustomer(t *testing.T) {
	t.Parallel()

	server := newOrderTestServer(t)
	server.do(t, http.MethodPost, "/api/orders", "key-list-1", validPlaceRequest())
	server.do(t, http.MethodPost, "/api/orders", "key-list-2", validPlaceRequest())

	rec := server.do(t, http.MethodGet, "/api/orders?customer_id=customer-1", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp api.OrderListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Orders) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(resp.Orders))
	}

	rec = server.do(t, http.MethodGet, "/api/orders", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without customer_id, got %d", rec.Code)
	}
}

func TestOrderRouter_ConfirmRequiresReservedOrder(t *testing.T) {
	t.Parallel()

	server := newOrderTestServer(t)
	rec := server.do(t, http.MethodPost, "/api/orders", "key-confirm", validPlaceRequest())

	var placed api.OrderResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &placed); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	// Заказ ещё в reserving: подтверждение запрещено.
	rec = server.do(t, http.MethodPost, "/api/orders/"+placed.ID+"/confirm", "key-confirm-op", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for confirm from reserving, got %d: %s", rec.Code, rec.Body.String())
	}

	// Склад подтвердил резерв: заказ можно финализировать.
	stored, err := server.repo.Get(placed.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if err := stored.TransitionTo(domain.OrderStatusReserved, "stock reserved", time.Now().UTC()); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if err := server.repo.Save(stored, nil); err != nil {
		t.Fatalf("save order: %v", err)
	}

	rec = server.do(t, http.MethodPost, "/api/orders/"+placed.ID+"/confirm", "key-confirm-op-2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on confirm, got %d: %s", rec.Code, rec.Body.String())
	}

	var confirmed api.OrderResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &confirmed); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if confirmed.Status != string(domain.OrderStatusConfirmed) {
		t.Fatalf("expected confirmed, got %s", confirmed.Status)
	}
}

func TestOrderRouter_Cancel(t *testing.T) {
	t.Parallel()

	server := newOrderTestServer(t)
	rec := server.do(t, http.MethodPost, "/api/orders", "key-cancel", validPlaceRequest())

	var placed api.OrderResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &placed); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	rec = server.do(t, http.MethodPost, "/api/orders/"+placed.ID+"/cancel", "key-cancel-op", api.ReasonRequest{Reason: "changed my mind"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on cancel, got %d: %s", rec.Code, rec.Body.String())
	}

	var canceled api.OrderResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &canceled); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if canceled.Status != string(domain.OrderStatusCanceled) {
		t.Fatalf("expected canceled, got %s", canceled.Status)
	}
}
