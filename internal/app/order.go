package app

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/northshop/platform/internal/config"
	"github.com/northshop/platform/internal/domain"
	healthcheck "github.com/northshop/platform/internal/health"
	"github.com/northshop/platform/internal/httpapi"
	"github.com/northshop/platform/internal/httpcall"
	"github.com/northshop/platform/internal/messaging/kafka"
	"github.com/northshop/platform/internal/metrics"
	"github.com/northshop/platform/internal/resilience"
	"github.com/northshop/platform/internal/service/idempotency"
	"github.com/northshop/platform/internal/service/inventory"
	"github.com/northshop/platform/internal/service/order"
	"github.com/northshop/platform/internal/service/outbox"
	"github.com/northshop/platform/internal/service/promotion"
	"github.com/northshop/platform/internal/storage/memory"
	"github.com/northshop/platform/internal/storage/postgres"
	"github.com/northshop/platform/internal/version"
)

// RunOrder запускает order-сервис: публичное API заказов, transactional
// outbox с диспетчером и фасады внутренних сервисов.
func RunOrder(ctx context.Context, cfg config.Config) error {
	logger := log.WithField("component", "order-app")
	healthHandler := healthcheck.NewHandler(version.String())

	var (
		orders     domain.OrderRepository
		outboxRepo domain.OutboxRepository
	)
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

		orders = postgres.NewOrderRepository(store)
		outboxRepo = postgres.NewOutboxRepository(store)
		healthHandler.RegisterChecker("postgres", healthcheck.NewSimpleChecker("postgres", func() error {
			return store.Ping(context.Background())
		}))
		logger.Info("postgres storage initialized")
	} else {
		mem := memory.NewOutboxRepository()
		orders = memory.NewOrderRepository(mem)
		outboxRepo = mem
		logger.Warn("postgres dsn is not configured, using in-memory storage")
	}

	idemStore, closeIdem, err := newIdempotencyStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeIdem()

	gatewayLogger := logger.WithField("layer", "gateway")
	inventoryGW := inventory.NewClient(
		httpcall.New("inventory", cfg.Downstream.InventoryURL, cfg.Auth.InternalToken, 0, 0),
		resilience.DefaultPolicy("inventory"),
		gatewayLogger,
	)
	promotionGW := promotion.NewClient(
		httpcall.New("promotion", cfg.Downstream.PromotionURL, cfg.Auth.InternalToken, 0, 0),
		resilience.DefaultPolicy("promotion"),
		gatewayLogger,
	)

	publisher := newLogPublisher(logger.WithField("publisher", "log"))
	dlqPublisher := newLogPublisher(logger.WithField("publisher", "log-dlq"))
	if cfg.UsesKafka() {
		producer, err := kafka.NewProducer(cfg.Kafka.Brokers)
		if err != nil {
			logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		} else {
			defer func() {
				if err := producer.Close(); err != nil {
					logger.WithError(err).Warn("failed to close kafka producer")
				}
			}()
			publisher = kafka.NewOrderEventPublisher(producer, cfg.Kafka.Topic)
			dlqPublisher = kafka.NewDLQPublisher(producer, cfg.Kafka.DLQTopic)
			logger.WithField("brokers", cfg.Kafka.Brokers).Info("kafka producer initialized")
		}
	}

	orderSvc := order.NewService(orders, promotionGW,
		order.WithLogger(logger.WithField("layer", "service")),
		order.WithReservationTTL(cfg.Stock.ReservationTTL),
	)

	registry := outbox.NewRegistry(inventoryGW, promotionGW, publisher)
	dispatcher := outbox.NewDispatcher(outboxRepo, registry,
		outbox.WithLogger(logger.WithField("layer", "outbox")),
		outbox.WithDLQPublisher(dlqPublisher),
		outbox.WithOutcomeApplier(orderSvc),
		outbox.WithPollInterval(cfg.Outbox.PollInterval),
		outbox.WithBatchSize(cfg.Outbox.BatchSize),
	)
	go dispatcher.Run(ctx)

	cleanup := idempotency.NewCleanupWorker(idemStore,
		idempotency.WithLogger(logger.WithField("layer", "idempotency")),
		idempotency.WithInterval(cfg.Idempotency.CleanupInterval),
	)
	go cleanup.Run(ctx)

	router := httpapi.NewOrderRouter(orderSvc, httpapi.RouterOptions{
		Logger:           logger.WithField("layer", "http"),
		Metrics:          metrics.NewHTTPMetrics(cfg.Service),
		IdempotencyStore: idemStore,
		PendingTTL:       cfg.Idempotency.PendingTTL,
		CompletedTTL:     cfg.Idempotency.CompletedTTL,
	})

	startOpsServer(ctx, cfg.HTTP.OpsAddr, logger, healthHandler)
	return serveHTTP(ctx, cfg.HTTP.Addr, router, cfg.HTTP.ShutdownTimeout, logger)
}
