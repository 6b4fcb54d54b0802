package metrics

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics содержит метрики HTTP-слоя сервиса.
type HTTPMetrics struct {
	// Счётчик запросов с разбивкой по маршруту и статусу ответа
	requestsTotal *prometheus.CounterVec

	// Гистограмма времени обработки запроса
	requestDuration *prometheus.HistogramVec

	// Gauge для запросов в обработке
	inFlight prometheus.Gauge

	// Счётчики idempotency-фильтра
	idempotentReplays   prometheus.Counter
	idempotentConflicts prometheus.Counter
}

// NewHTTPMetrics создаёт метрики HTTP-слоя для сервиса с указанным именем.
func NewHTTPMetrics(service string) *HTTPMetrics {
	return newHTTPMetricsWithRegisterer(prometheus.DefaultRegisterer, service)
}

func newHTTPMetricsWithRegisterer(registerer prometheus.Registerer, service string) *HTTPMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	constLabels := prometheus.Labels{"service": service}

	return &HTTPMetrics{
		requestsTotal: registerCounterVec(registerer, prometheus.CounterOpts{
			Name:        "platform_http_requests_total",
			Help:        "Total number of HTTP requests handled",
			ConstLabels: constLabels,
		}, []string{"method", "route", "status"}),
		requestDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:        "platform_http_request_duration_seconds",
			Help:        "Duration of HTTP request handling in seconds",
			Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
			ConstLabels: constLabels,
		}, []string{"method", "route"}),
		inFlight: registerGauge(registerer, prometheus.GaugeOpts{
			Name:        "platform_http_requests_in_flight",
			Help:        "Number of HTTP requests currently being handled",
			ConstLabels: constLabels,
		}),
		idempotentReplays: registerCounter(registerer, prometheus.CounterOpts{
			Name:        "platform_http_idempotent_replays_total",
			Help:        "Total number of responses replayed from the idempotency store",
			ConstLabels: constLabels,
		}),
		idempotentConflicts: registerCounter(registerer, prometheus.CounterOpts{
			Name:        "platform_http_idempotent_conflicts_total",
			Help:        "Total number of concurrent duplicate requests rejected",
			ConstLabels: constLabels,
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordRequest фиксирует завершённый HTTP-запрос.
func (m *HTTPMetrics) RecordRequest(method, route string, status int, duration time.Duration) {
	m.requestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordInFlightStarted увеличивает количество запросов в обработке.
func (m *HTTPMetrics) RecordInFlightStarted() {
	m.inFlight.Inc()
}

// RecordInFlightFinished уменьшает количество запросов в обработке.
func (m *HTTPMetrics) RecordInFlightFinished() {
	m.inFlight.Dec()
}

// RecordIdempotentReplay увеличивает счётчик воспроизведённых ответов.
func (m *HTTPMetrics) RecordIdempotentReplay() {
	m.idempotentReplays.Inc()
}

// RecordIdempotentConflict увеличивает счётчик отклонённых дубликатов.
func (m *HTTPMetrics) RecordIdempotentConflict() {
	m.idempotentConflicts.Inc()
}
