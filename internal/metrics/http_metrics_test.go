package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewHTTPMetrics(t *testing.T) {
	metrics := newHTTPMetricsWithRegisterer(prometheus.NewRegistry(), "order")

	if metrics == nil {
		t.Fatal("newHTTPMetricsWithRegisterer should not return nil")
	}

	if metrics.requestsTotal == nil {
		t.Error("requestsTotal counter vec should not be nil")
	}

	if metrics.requestDuration == nil {
		t.Error("requestDuration histogram vec should not be nil")
	}

	if metrics.inFlight == nil {
		t.Error("inFlight gauge should not be nil")
	}

	if metrics.idempotentReplays == nil {
		t.Error("idempotentReplays counter should not be nil")
	}

	if metrics.idempotentConflicts == nil {
		t.Error("idempotentConflicts counter should not be nil")
	}
}

func TestNewHTTPMetrics_DoubleRegistrationReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()

	first := newHTTPMetricsWithRegisterer(reg, "order")
	second := newHTTPMetricsWithRegisterer(reg, "order")

	if first.requestsTotal != second.requestsTotal {
		t.Error("expected the same counter vec on repeated registration")
	}
	if first.inFlight != second.inFlight {
		t.Error("expected the same gauge on repeated registration")
	}
}

func TestRecordRequest(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := newHTTPMetricsWithRegisterer(reg, "order")

	metrics.RecordRequest("POST", "/api/v1/orders", 201, 150*time.Millisecond)
	metrics.RecordRequest("POST", "/api/v1/orders", 201, 50*time.Millisecond)
	metrics.RecordRequest("POST", "/api/v1/orders", 409, 10*time.Millisecond)

	counter := metrics.requestsTotal.WithLabelValues("POST", "/api/v1/orders", "201")
	metric := &dto.Metric{}
	if err := counter.Write(metric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	if metric.Counter.GetValue() != 2.0 {
		t.Errorf("expected counter value 2.0, got %f", metric.Counter.GetValue())
	}

	observer := metrics.requestDuration.WithLabelValues("POST", "/api/v1/orders")
	histMetric := &dto.Metric{}
	if err := observer.(prometheus.Histogram).Write(histMetric); err != nil {
		t.Fatalf("failed to write histogram: %v", err)
	}
	if histMetric.Histogram.GetSampleCount() != 3 {
		t.Errorf("expected 3 samples, got %d", histMetric.Histogram.GetSampleCount())
	}

	// 0.15 + 0.05 + 0.01 = 0.21
	sum := histMetric.Histogram.GetSampleSum()
	if sum < 0.2 || sum > 0.22 {
		t.Errorf("expected sum around 0.21, got %f", sum)
	}
}

func TestRecordInFlight(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := newHTTPMetricsWithRegisterer(reg, "inventory")

	metrics.RecordInFlightStarted()
	metrics.RecordInFlightStarted()
	metrics.RecordInFlightFinished()

	gaugeMetric := &dto.Metric{}
	if err := metrics.inFlight.Write(gaugeMetric); err != nil {
		t.Fatalf("failed to write gauge: %v", err)
	}
	if gaugeMetric.Gauge.GetValue() != 1.0 {
		t.Errorf("expected 1.0 request in flight, got %f", gaugeMetric.Gauge.GetValue())
	}
}

func TestRecordIdempotencyCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := newHTTPMetricsWithRegisterer(reg, "order")

	metrics.RecordIdempotentReplay()
	metrics.RecordIdempotentReplay()
	metrics.RecordIdempotentConflict()

	replayMetric := &dto.Metric{}
	if err := metrics.idempotentReplays.Write(replayMetric); err != nil {
		t.Fatalf("failed to write replay counter: %v", err)
	}
	if replayMetric.Counter.GetValue() != 2.0 {
		t.Errorf("expected 2 replays, got %f", replayMetric.Counter.GetValue())
	}

	conflictMetric := &dto.Metric{}
	if err := metrics.idempotentConflicts.Write(conflictMetric); err != nil {
		t.Fatalf("failed to write conflict counter: %v", err)
	}
	if conflictMetric.Counter.GetValue() != 1.0 {
		t.Errorf("expected 1 conflict, got %f", conflictMetric.Counter.GetValue())
	}
}
