package stock

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

const (
	defaultSweepInterval  = 1 * time.Minute
	defaultSweepBatchSize = 500
)

var (
	stockSweepRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "platform_stock_sweep_runs_total",
		Help: "Total number of expired reservation sweep runs grouped by result.",
	}, []string{"result"})
	stockSweepReleasedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "platform_stock_sweep_released_total",
		Help: "Total number of expired stock reservations released by the sweep.",
	})
	stockSweepLastReleased = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "platform_stock_sweep_last_released",
		Help: "Number of reservations released during the last sweep run.",
	})
)

// SweepOptions задаёт параметры sweep-воркера.
type SweepOptions struct {
	Logger    *log.Entry
	Interval  time.Duration
	BatchSize int
}

// SweepOption настраивает SweepWorker.
type SweepOption func(*SweepOptions)

// WithSweepLogger задаёт logger для воркера.
func WithSweepLogger(logger *log.Entry) SweepOption {
	return func(opts *SweepOptions) {
		opts.Logger = logger
	}
}

// WithSweepInterval задаёт интервал между sweep-циклами.
func WithSweepInterval(interval time.Duration) SweepOption {
	return func(opts *SweepOptions) {
		opts.Interval = interval
	}
}

// WithSweepBatchSize задаёт размер батча одного прохода.
func WithSweepBatchSize(batchSize int) SweepOption {
	return func(opts *SweepOptions) {
		opts.BatchSize = batchSize
	}
}

// SweepWorker периодически возвращает в сток просроченные PENDING-резервы.
// Вне горячего пути, но обязателен для корректности: неподтверждённые
// заказы не должны держать сток бесконечно.
type SweepWorker struct {
	service   *Service
	logger    *log.Entry
	interval  time.Duration
	batchSize int
}

// NewSweepWorker создаёт sweep-воркер поверх сервиса стока.
func NewSweepWorker(service *Service, options ...SweepOption) *SweepWorker {
	opts := SweepOptions{
		Interval:  defaultSweepInterval,
		BatchSize: defaultSweepBatchSize,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "stock-sweep-worker")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultSweepInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultSweepBatchSize
	}

	return &SweepWorker{
		service:   service,
		logger:    logger,
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
	}
}

// Run запускает периодический sweep до отмены ctx.
func (w *SweepWorker) Run(ctx context.Context) {
	if w.service == nil {
		w.logger.Warn("stock sweep worker is disabled: service is nil")
		return
	}

	w.sweep(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *SweepWorker) sweep(ctx context.Context) {
	released, err := w.service.SweepExpired(ctx, time.Now().UTC(), w.batchSize)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		stockSweepRunsTotal.WithLabelValues("error").Inc()
		w.logger.WithError(err).Warn("stock sweep run failed")
		return
	}

	stockSweepRunsTotal.WithLabelValues("ok").Inc()
	stockSweepLastReleased.Set(float64(released))
	if released > 0 {
		stockSweepReleasedTotal.Add(float64(released))
	}
}
