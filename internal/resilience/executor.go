package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/northshop/platform/internal/domain"
)

const (
	defaultMaxAttempts     = 3
	defaultInitialDelay    = 100 * time.Millisecond
	defaultMaxDelay        = 5 * time.Second
	defaultBackoffFactor   = 2.0
	defaultBreakerFailures = 5
	defaultOpenTimeout     = 30 * time.Second
	defaultHalfOpenProbes  = 1
)

var (
	downstreamCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "platform_downstream_calls_total",
		Help: "Total number of downstream calls grouped by downstream and result.",
	}, []string{"downstream", "result"})
	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "platform_downstream_breaker_open",
		Help: "1 when the circuit breaker for a downstream is open.",
	}, []string{"downstream"})
)

// Policy задаёт параметры устойчивости для одного downstream:
// retry-бюджет с экспоненциальным backoff и настройки circuit breaker.
type Policy struct {
	// Name — имя downstream для логов, метрик и breaker.
	Name string
	// MaxAttempts — общее число попыток, включая первую.
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	// BreakerFailures — число последовательных сбоев до открытия breaker.
	BreakerFailures uint32
	// BreakerOpenTimeout — время до перехода open→half-open.
	BreakerOpenTimeout time.Duration
	// BreakerHalfOpenProbes — число пробных запросов в half-open.
	BreakerHalfOpenProbes uint32
}

// DefaultPolicy возвращает политику по умолчанию для downstream name.
func DefaultPolicy(name string) Policy {
	return Policy{
		Name:                  name,
		MaxAttempts:           defaultMaxAttempts,
		InitialDelay:          defaultInitialDelay,
		MaxDelay:              defaultMaxDelay,
		BackoffFactor:         defaultBackoffFactor,
		BreakerFailures:       defaultBreakerFailures,
		BreakerOpenTimeout:    defaultOpenTimeout,
		BreakerHalfOpenProbes: defaultHalfOpenProbes,
	}
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = defaultInitialDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = defaultMaxDelay
	}
	if p.BackoffFactor < 1 {
		p.BackoffFactor = defaultBackoffFactor
	}
	if p.BreakerFailures == 0 {
		p.BreakerFailures = defaultBreakerFailures
	}
	if p.BreakerOpenTimeout <= 0 {
		p.BreakerOpenTimeout = defaultOpenTimeout
	}
	if p.BreakerHalfOpenProbes == 0 {
		p.BreakerHalfOpenProbes = defaultHalfOpenProbes
	}
	return p
}

// Executor оборачивает любой исходящий вызов одного downstream
// политикой retry + circuit breaker. Ретраятся только ошибки
// KindUnavailable/KindUnknown; бизнес-отказы (Validation/NotFound/Conflict)
// и отказ credential (Auth) возвращаются немедленно. При открытом breaker
// вызов завершается KindUnavailable без обращения к сети.
type Executor struct {
	policy  Policy
	breaker *gobreaker.CircuitBreaker
	logger  *log.Entry
}

// NewExecutor создаёт Executor для downstream из политики.
func NewExecutor(policy Policy, logger *log.Entry) *Executor {
	policy = policy.withDefaults()
	if logger == nil {
		logger = log.WithField("component", "resilience")
	}
	logger = logger.WithField("downstream", policy.Name)

	settings := gobreaker.Settings{
		Name:        policy.Name,
		MaxRequests: policy.BreakerHalfOpenProbes,
		Timeout:     policy.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= policy.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				breakerState.WithLabelValues(name).Set(1)
			} else {
				breakerState.WithLabelValues(name).Set(0)
			}
			logger.WithFields(log.Fields{
				"from": from.String(),
				"to":   to.String(),
			}).Warn("circuit breaker state changed")
		},
		// Бизнес-отказы не считаются сбоями downstream: открывать breaker
		// из-за нехватки стока было бы ложной тревогой.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			switch domain.KindOf(err) {
			case domain.KindValidation, domain.KindNotFound, domain.KindConflict:
				return true
			default:
				return false
			}
		},
	}

	return &Executor{
		policy:  policy,
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
	}
}

// Do выполняет fn с retry и circuit breaker. op — имя операции для логов.
func (e *Executor) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var lastErr error
	delay := e.policy.InitialDelay

	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return domain.WrapE(domain.KindUnavailable, e.policy.Name+" call canceled", err)
		}

		_, err := e.breaker.Execute(func() (any, error) {
			return nil, fn(ctx)
		})
		if err == nil {
			downstreamCalls.WithLabelValues(e.policy.Name, "ok").Inc()
			if attempt > 1 {
				e.logger.WithFields(log.Fields{
					"operation": op,
					"attempt":   attempt,
				}).Info("downstream call succeeded after retry")
			}
			return nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			downstreamCalls.WithLabelValues(e.policy.Name, "breaker_open").Inc()
			return domain.WrapE(domain.KindUnavailable, e.policy.Name+" circuit breaker is open", err)
		}

		lastErr = err

		if !domain.Retryable(err) {
			downstreamCalls.WithLabelValues(e.policy.Name, "rejected").Inc()
			return err
		}
		downstreamCalls.WithLabelValues(e.policy.Name, "error").Inc()

		if attempt >= e.policy.MaxAttempts {
			break
		}

		e.logger.WithFields(log.Fields{
			"operation": op,
			"attempt":   attempt,
			"delay":     delay,
		}).WithError(err).Warn("downstream call failed, retrying")

		select {
		case <-ctx.Done():
			return domain.WrapE(domain.KindUnavailable, e.policy.Name+" call canceled", ctx.Err())
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * e.policy.BackoffFactor)
		if delay > e.policy.MaxDelay {
			delay = e.policy.MaxDelay
		}
	}

	if domain.KindOf(lastErr) == domain.KindUnknown {
		lastErr = domain.WrapE(domain.KindUnavailable, e.policy.Name+" call failed", lastErr)
	}
	return lastErr
}
