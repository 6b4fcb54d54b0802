// Package app собирает сервисы платформы из конфигурации: хранилища,
// воркеры, HTTP-роутеры и служебный сервер метрик и health-проверок.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/northshop/platform/internal/config"
	"github.com/northshop/platform/internal/domain"
	healthcheck "github.com/northshop/platform/internal/health"
	"github.com/northshop/platform/internal/storage/memory"
	"github.com/northshop/platform/internal/storage/redis"
)

// serveHTTP запускает API-сервер и аккуратно останавливает его по отмене
// контекста.
func serveHTTP(ctx context.Context, addr string, handler http.Handler, shutdownTimeout time.Duration, logger *log.Entry) error {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 5 * time.Second
	}

	srv := &http.Server{Addr: addr, Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("HTTP сервер слушает %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем HTTP сервер")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("HTTP shutdown with error")
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// newOpsMux собирает служебный mux: метрики Prometheus и health-проверки.
func newOpsMux(healthHandler *healthcheck.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	return mux
}

// startOpsServer запускает служебный HTTP-сервер метрик и health-проверок.
func startOpsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) {
	srv := &http.Server{Addr: addr, Handler: newOpsMux(healthHandler)}

	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/livez, %s/readyz", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("ops server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("ops shutdown with error")
		}
	}()
}

// newIdempotencyStore выбирает хранилище idempotency-записей: Redis при
// настроенном адресе, иначе in-memory с фоновой очисткой.
func newIdempotencyStore(ctx context.Context, cfg config.Config, logger *log.Entry) (domain.IdempotencyStore, func(), error) {
	if cfg.UsesRedis() {
		store, err := redis.Open(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, nil, err
		}
		logger.WithField("addr", cfg.Redis.Addr).Info("redis idempotency store initialized")
		return store, func() {
			if err := store.Close(); err != nil {
				logger.WithError(err).Warn("failed to close redis store")
			}
		}, nil
	}

	logger.Warn("redis addr is not configured, using in-memory idempotency store")
	return memory.NewIdempotencyStore(), func() {}, nil
}
