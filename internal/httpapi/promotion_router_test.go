package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/northshop/platform/internal/api"
	"github.com/northshop/platform/internal/httpcall"
	"github.com/northshop/platform/internal/service/coupon"
	"github.com/northshop/platform/internal/storage/memory"
)

func newPromotionTestEngine(t *testing.T) *gin.Engine {
	t.Helper()

	svc := coupon.NewService(memory.NewCouponRepository())
	return NewPromotionRouter(svc, RouterOptions{
		InternalToken:    testInternalToken,
		IdempotencyStore: memory.NewIdempotencyStore(),
	})
}

func createCouponBatch(t *testing.T, engine *gin.Engine, codes []string, usageLimit int32) {
	t.Helper()

	rec := doInternal(t, engine, http.MethodPost, "/internal/promotions/coupons/batch", api.CouponBatchRequest{
		Codes:         codes,
		DiscountMinor: 500,
		UsageLimit:    usageLimit,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create batch: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
}

func reserveCoupon(t *testing.T, engine *gin.Engine, code, orderID string) *httptest.ResponseRecorder {
	t.Helper()

	return doInternal(t, engine, http.MethodPost, "/internal/promotions/reserve", api.ReserveCouponRequest{
		CouponCode: code,
		OrderID:    orderID,
	})
}

func TestPromotionRouter_BatchRequiresInternalAuth(t *testing.T) {
	t.Parallel()

	engine := newPromotionTestEngine(t)

	req := httptest.NewRequest(http.MethodPost, "/internal/promotions/coupons/batch", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without internal auth, got %d", rec.Code)
	}
}

func TestPromotionRouter_BatchReplaysWithSameKey(t *testing.T) {
	t.Parallel()

	engine := newPromotionTestEngine(t)
	body, err := json.Marshal(api.CouponBatchRequest{
		Codes:         []string{"REPEAT1", "REPEAT2"},
		DiscountMinor: 500,
		UsageLimit:    1,
	})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	doBatch := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/internal/promotions/coupons/batch", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(httpcall.HeaderInternalAuth, testInternalToken)
		req.Header.Set(HeaderIdempotencyKey, "batch-key-1")
		rec := httptest.NewRecorder()
		engine.ServeHTTP(rec, req)
		return rec
	}

	first := doBatch()
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201 on first batch, got %d: %s", first.Code, first.Body.String())
	}

	// Повтор с тем же ключом реплеится: второй партии с теми же кодами
	// не возникает и конфликт по уникальности кодов не срабатывает.
	second := doBatch()
	if second.Code != http.StatusCreated {
		t.Fatalf("expected replayed 201, got %d: %s", second.Code, second.Body.String())
	}
	if first.Body.String() != second.Body.String() {
		t.Fatalf("expected verbatim replay of the batch response: %q vs %q", first.Body.String(), second.Body.String())
	}
}

func TestPromotionRouter_ReserveUntilExhausted(t *testing.T) {
	t.Parallel()

	engine := newPromotionTestEngine(t)
	createCouponBatch(t, engine, []string{"SALE10"}, 2)

	for i, orderID := range []string{"order-1", "order-2"} {
		rec := reserveCoupon(t, engine, "SALE10", orderID)
		if rec.Code != http.StatusCreated {
			t.Fatalf("reserve %d: expected 201, got %d: %s", i+1, rec.Code, rec.Body.String())
		}
	}

	rec := reserveCoupon(t, engine, "SALE10", "order-3")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 when usage limit is reached, got %d", rec.Code)
	}
}

func TestPromotionRouter_CommitAndRelease(t *testing.T) {
	t.Parallel()

	engine := newPromotionTestEngine(t)
	createCouponBatch(t, engine, []string{"SALE20"}, 1)

	rec := reserveCoupon(t, engine, "SALE20", "order-1")
	if rec.Code != http.StatusCreated {
		t.Fatalf("reserve: expected 201, got %d", rec.Code)
	}

	var res api.CouponReservationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	// Commit идемпотентен.
	for i := 0; i < 2; i++ {
		rec = doInternal(t, engine, http.MethodPost, "/internal/promotions/reservations/"+res.ID+"/commit", api.CommitCouponRequest{OrderID: "order-1"})
		if rec.Code != http.StatusOK {
			t.Fatalf("commit attempt %d: expected 200, got %d: %s", i+1, rec.Code, rec.Body.String())
		}
	}

	// Release закоммиченного резерва — ошибка вызывающей стороны.
	rec = doInternal(t, engine, http.MethodPost, "/internal/promotions/reservations/"+res.ID+"/release", api.ReasonRequest{Reason: "late release"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for release of committed reservation, got %d", rec.Code)
	}
}

func TestPromotionRouter_CommitAfterReleaseFails(t *testing.T) {
	t.Parallel()

	engine := newPromotionTestEngine(t)
	createCouponBatch(t, engine, []string{"SALE30"}, 1)

	rec := reserveCoupon(t, engine, "SALE30", "order-1")
	var res api.CouponReservationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	rec = doInternal(t, engine, http.MethodPost, "/internal/promotions/reservations/"+res.ID+"/release", api.ReasonRequest{Reason: "order canceled"})
	if rec.Code != http.StatusOK {
		t.Fatalf("release: expected 200, got %d", rec.Code)
	}

	rec = doInternal(t, engine, http.MethodPost, "/internal/promotions/reservations/"+res.ID+"/commit", api.CommitCouponRequest{OrderID: "order-1"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for commit after release, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestPromotionRouter_PublicCouponLookup(t *testing.T) {
	t.Parallel()

	engine := newPromotionTestEngine(t)
	createCouponBatch(t, engine, []string{"SALE40"}, 3)

	// Чтение купона публичное: внутренний заголовок не нужен.
	req := httptest.NewRequest(http.MethodGet, "/api/coupons/SALE40", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp api.CouponResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Code != "SALE40" || resp.UsageLimit != 3 {
		t.Fatalf("unexpected coupon snapshot: %+v", resp)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/coupons/ABSENT", nil)
	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown coupon, got %d", rec.Code)
	}
}
