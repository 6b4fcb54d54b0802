package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	log "github.com/sirupsen/logrus"

	"github.com/northshop/platform/internal/config"
	"github.com/northshop/platform/internal/domain"
	healthcheck "github.com/northshop/platform/internal/health"
)

func TestNewOpsMux(t *testing.T) {
	t.Parallel()

	mux := newOpsMux(healthcheck.NewHandler("test"))

	paths := []string{"/metrics", "/healthz", "/livez", "/readyz"}
	for _, path := range paths {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, rec.Code)
		}
	}
}

func TestNewOpsMux_UnhealthyChecker(t *testing.T) {
	t.Parallel()

	handler := healthcheck.NewHandler("test")
	handler.RegisterChecker("postgres", healthcheck.NewSimpleChecker("postgres", func() error {
		return errors.New("connection refused")
	}))
	mux := newOpsMux(handler)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when a checker is unhealthy, got %d", rec.Code)
	}
}

func TestNewIdempotencyStore_DefaultsToMemory(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load("order", "")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	store, closeStore, err := newIdempotencyStore(context.Background(), cfg, log.WithField("component", "app-test"))
	if err != nil {
		t.Fatalf("new idempotency store: %v", err)
	}
	defer closeStore()

	if store == nil {
		t.Fatal("expected in-memory store without redis configured")
	}
}

func TestLogPublisher(t *testing.T) {
	t.Parallel()

	publisher := newLogPublisher(log.WithField("component", "app-test"))
	err := publisher.Publish(domain.OutboxEvent{
		ID:          "outbox-1",
		EventType:   domain.EventOrderEvent,
		AggregateID: "order-1",
	})
	if err != nil {
		t.Fatalf("log publisher must not fail: %v", err)
	}
}
