package app

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/northshop/platform/internal/config"
	"github.com/northshop/platform/internal/domain"
	healthcheck "github.com/northshop/platform/internal/health"
	"github.com/northshop/platform/internal/httpapi"
	"github.com/northshop/platform/internal/metrics"
	"github.com/northshop/platform/internal/service/coupon"
	"github.com/northshop/platform/internal/service/idempotency"
	"github.com/northshop/platform/internal/storage/memory"
	"github.com/northshop/platform/internal/storage/postgres"
	"github.com/northshop/platform/internal/version"
)

// RunPromotion запускает promotion-сервис: протокол резервирования
// купонов и выпуск партий.
func RunPromotion(ctx context.Context, cfg config.Config) error {
	logger := log.WithField("component", "promotion-app")
	healthHandler := healthcheck.NewHandler(version.String())

	var repo domain.CouponRepository
	if cfg.UsesPostgres() {
		store, err := postgres.Open(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return err
		}
		defer store.Close()

		if cfg.Storage.AutoMigrate {
			if err := store.MigrateUp(ctx, 0); err != nil {
				return err
			}
		}

		repo = postgres.NewCouponRepository(store)
		healthHandler.RegisterChecker("postgres", healthcheck.NewSimpleChecker("postgres", func() error {
			return store.Ping(context.Background())
		}))
		logger.Info("postgres storage initialized")
	} else {
		repo = memory.NewCouponRepository()
		logger.Warn("postgres dsn is not configured, using in-memory storage")
	}

	idemStore, closeIdem, err := newIdempotencyStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeIdem()

	svc := coupon.NewService(repo,
		coupon.WithServiceLogger(logger.WithField("layer", "service")),
	)

	cleanup := idempotency.NewCleanupWorker(idemStore,
		idempotency.WithLogger(logger.WithField("layer", "idempotency")),
		idempotency.WithInterval(cfg.Idempotency.CleanupInterval),
	)
	go cleanup.Run(ctx)

	router := httpapi.NewPromotionRouter(svc, httpapi.RouterOptions{
		Logger:           logger.WithField("layer", "http"),
		Metrics:          metrics.NewHTTPMetrics(cfg.Service),
		InternalToken:    cfg.Auth.InternalToken,
		IdempotencyStore: idemStore,
		PendingTTL:       cfg.Idempotency.PendingTTL,
		CompletedTTL:     cfg.Idempotency.CompletedTTL,
	})

	startOpsServer(ctx, cfg.HTTP.OpsAddr, logger, healthHandler)
	return serveHTTP(ctx, cfg.HTTP.Addr, router, cfg.HTTP.ShutdownTimeout, logger)
}
