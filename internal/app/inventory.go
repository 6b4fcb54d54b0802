package app

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/northshop/platform/internal/config"
	"github.com/northshop/platform/internal/domain"
	healthcheck "github.com/northshop/platform/internal/health"
	"github.com/northshop/platform/internal/httpapi"
	"github.com/northshop/platform/internal/metrics"
	"github.com/northshop/platform/internal/service/stock"
	"github.com/northshop/platform/internal/storage/memory"
	"github.com/northshop/platform/internal/storage/postgres"
	"github.com/northshop/platform/internal/version"
)

// RunInventory запускает inventory-сервис: внутреннее API склада и
// фоновый sweep просроченных резервов.
func RunInventory(ctx context.Context, cfg config.Config) error {
	logger := log.WithField("component", "inventory-app")
	healthHandler := healthcheck.NewHandler(version.String())

	var repo domain.StockRepository
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

		repo = postgres.NewStockRepository(store)
		healthHandler.RegisterChecker("postgres", healthcheck.NewSimpleChecker("postgres", func() error {
			return store.Ping(context.Background())
		}))
		logger.Info("postgres storage initialized")
	} else {
		repo = memory.NewStockRepository()
		logger.Warn("postgres dsn is not configured, using in-memory storage")
	}

	svc := stock.NewService(repo,
		stock.WithServiceLogger(logger.WithField("layer", "service")),
		stock.WithReservationTTL(cfg.Stock.ReservationTTL),
	)

	sweeper := stock.NewSweepWorker(svc,
		stock.WithSweepLogger(logger.WithField("layer", "sweep")),
		stock.WithSweepInterval(cfg.Stock.SweepInterval),
		stock.WithSweepBatchSize(cfg.Stock.SweepBatchSize),
	)
	go sweeper.Run(ctx)

	router := httpapi.NewInventoryRouter(svc, httpapi.RouterOptions{
		Logger:        logger.WithField("layer", "http"),
		Metrics:       metrics.NewHTTPMetrics(cfg.Service),
		InternalToken: cfg.Auth.InternalToken,
	})

	startOpsServer(ctx, cfg.HTTP.OpsAddr, logger, healthHandler)
	return serveHTTP(ctx, cfg.HTTP.Addr, router, cfg.HTTP.ShutdownTimeout, logger)
}
