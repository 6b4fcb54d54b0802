package main

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/northshop/platform/internal/api"
)

func newOrderAPIStub(t *testing.T, placeStatus, cancelStatus int) (*httptest.Server, *int64, *int64) {
	t.Helper()

	var placed, canceled int64
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/orders", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(idempotencyHeader) == "" {
			t.Error("place request is missing idempotency key")
		}
		atomic.AddInt64(&placed, 1)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(placeStatus)
		if placeStatus == http.StatusCreated {
			_ = json.NewEncoder(w).Encode(api.OrderResponse{ID: "order-1", Status: "reserving"})
		}
	})
	mux.HandleFunc("POST /api/orders/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(idempotencyHeader) == "" {
			t.Error("cancel request is missing idempotency key")
		}
		atomic.AddInt64(&canceled, 1)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(cancelStatus)
		if cancelStatus == http.StatusOK {
			_ = json.NewEncoder(w).Encode(api.OrderResponse{ID: "order-1", Status: "canceled"})
		}
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, &placed, &canceled
}

func testConfig(baseURL string, mode loadMode) config {
	return config{
		baseURL:     baseURL,
		timeout:     2 * time.Second,
		mode:        mode,
		cancelRate:  100,
		currency:    "USD",
		sku:         "SKU-LOAD",
		priceMinor:  1000,
		customerTag: "load",
	}
}

func TestRunScenarioCreateMode(t *testing.T) {
	t.Parallel()

	server, placed, canceled := newOrderAPIStub(t, http.StatusCreated, http.StatusOK)
	col := newCollector()

	err := runScenario(server.Client(), testConfig(server.URL, modeCreate), 0, "run-1", col)
	if err != nil {
		t.Fatalf("run scenario: %v", err)
	}
	if *placed != 1 || *canceled != 0 {
		t.Fatalf("expected 1 place and 0 cancels, got %d/%d", *placed, *canceled)
	}

	result := col.buildReport(time.Now(), time.Second)
	if result.TotalScenarios != 1 || result.FailedScenarios != 0 {
		t.Fatalf("unexpected report: %+v", result)
	}
	if result.Calls["PlaceOrder"].Statuses["201"] != 1 {
		t.Fatalf("expected a recorded 201, got %+v", result.Calls["PlaceOrder"].Statuses)
	}
}

func TestRunScenarioCreateCancelMode(t *testing.T) {
	t.Parallel()

	server, placed, canceled := newOrderAPIStub(t, http.StatusCreated, http.StatusOK)
	col := newCollector()

	err := runScenario(server.Client(), testConfig(server.URL, modeCreateCancel), 0, "run-1", col)
	if err != nil {
		t.Fatalf("run scenario: %v", err)
	}
	if *placed != 1 || *canceled != 1 {
		t.Fatalf("expected 1 place and 1 cancel, got %d/%d", *placed, *canceled)
	}
}

func TestRunScenarioPlaceFailure(t *testing.T) {
	t.Parallel()

	server, _, _ := newOrderAPIStub(t, http.StatusConflict, http.StatusOK)
	col := newCollector()

	err := runScenario(server.Client(), testConfig(server.URL, modeCreate), 0, "run-1", col)
	if err == nil {
		t.Fatal("expected error for a conflicting place call")
	}

	result := col.buildReport(time.Now(), time.Second)
	if result.FailedScenarios != 1 {
		t.Fatalf("expected a failed scenario, got %+v", result)
	}
	if result.Calls["PlaceOrder"].Statuses["409"] != 1 {
		t.Fatalf("expected a recorded 409, got %+v", result.Calls["PlaceOrder"].Statuses)
	}
}

func TestParseMode(t *testing.T) {
	t.Parallel()

	if _, err := parseMode("create"); err != nil {
		t.Errorf("create must be supported: %v", err)
	}
	if _, err := parseMode(" create-cancel "); err != nil {
		t.Errorf("create-cancel must be supported: %v", err)
	}
	if _, err := parseMode("create-pay"); err == nil {
		t.Error("expected error for unsupported mode")
	}
}

func TestShouldCancelScenario(t *testing.T) {
	t.Parallel()

	if shouldCancelScenario(5, 0) {
		t.Error("rate 0 must never cancel")
	}
	if !shouldCancelScenario(5, 100) {
		t.Error("rate 100 must always cancel")
	}
	if !shouldCancelScenario(10, 50) {
		t.Error("index 10 with rate 50 must cancel")
	}
	if shouldCancelScenario(60, 50) {
		t.Error("index 60 with rate 50 must not cancel")
	}
}

func TestStatusLabel(t *testing.T) {
	t.Parallel()

	if got := statusLabel(0); got != "transport_error" {
		t.Errorf("unexpected label for transport error: %s", got)
	}
	if got := statusLabel(503); got != "503" {
		t.Errorf("unexpected label for 503: %s", got)
	}
}

func TestBuildLatencySummary(t *testing.T) {
	t.Parallel()

	summary := buildLatencySummary([]float64{10, 20, 30, 40})
	if summary.Min != 10 || summary.Max != 40 {
		t.Fatalf("unexpected min/max: %+v", summary)
	}
	if summary.Avg != 25 {
		t.Fatalf("unexpected avg: %f", summary.Avg)
	}
	if summary.P50 != 25 {
		t.Fatalf("unexpected p50: %f", summary.P50)
	}

	empty := buildLatencySummary(nil)
	if empty != (latencySummary{}) {
		t.Fatalf("expected zero summary for empty input, got %+v", empty)
	}
}

func TestPercentile(t *testing.T) {
	t.Parallel()

	sorted := []float64{1, 2, 3, 4, 5}
	if got := percentile(sorted, 50); got != 3 {
		t.Errorf("p50 = %f, want 3", got)
	}
	if got := percentile(sorted, 100); got != 5 {
		t.Errorf("p100 = %f, want 5", got)
	}
	if got := percentile([]float64{7}, 95); got != 7 {
		t.Errorf("single value p95 = %f, want 7", got)
	}
	if got := percentile(sorted, 95); math.Abs(got-4.8) > 1e-9 {
		t.Errorf("p95 = %f, want 4.8", got)
	}
}

func TestWriteJSONReportRejectsBadPaths(t *testing.T) {
	t.Parallel()

	if err := writeJSONReport(".", report{}); err == nil {
		t.Error("expected error for current directory path")
	}
	if err := writeJSONReport(".."+string(filepath.Separator)+"report.json", report{}); err == nil {
		t.Error("expected error for parent directory path")
	}
}

func TestWriteJSONReportWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	result := report{TotalScenarios: 3, SuccessScenarios: 3}

	if err := writeJSONReport(path, result); err != nil {
		t.Fatalf("write report: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	if !strings.Contains(string(raw), "\"total_scenarios\": 3") {
		t.Fatalf("unexpected report content: %s", raw)
	}
}
