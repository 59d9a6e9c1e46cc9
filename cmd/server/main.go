package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stateset/commerce-core/internal/config"
	"github.com/stateset/commerce-core/internal/eventbus"
	httpHandler "github.com/stateset/commerce-core/internal/handler/http"
	"github.com/stateset/commerce-core/internal/idempotency"
	"github.com/stateset/commerce-core/internal/inventory"
	"github.com/stateset/commerce-core/internal/messaging"
	"github.com/stateset/commerce-core/internal/observability"
	"github.com/stateset/commerce-core/internal/outbox"
	"github.com/stateset/commerce-core/internal/repository"
	"github.com/stateset/commerce-core/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	logger := observability.NewLogger(observability.LoggerConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	logger.Info().
		Str("service", cfg.Service.Name).
		Str("environment", cfg.Service.Environment).
		Msg("commerce-core starting")

	metrics := observability.NewMetrics()

	shutdownTracing, err := observability.InitTracing(context.Background(), observability.TracingConfig{
		Enabled:      cfg.Tracing.Enabled,
		ServiceName:  cfg.Service.Name,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize tracing")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse database config")
	}
	poolCfg.MaxConns = cfg.Database.MaxConns
	poolCfg.MinConns = cfg.Database.MinConns
	poolCfg.MaxConnLifetime = cfg.Database.MaxConnLifetime

	dbPool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer dbPool.Close()

	if err := dbPool.Ping(context.Background()); err != nil {
		logger.Fatal().Err(err).Msg("failed to ping database")
	}
	logger.Info().Msg("database connection established")

	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Producer.RequiredAcks = sarama.WaitForAll
	kafkaConfig.Producer.Return.Successes = true
	kafkaConfig.Producer.Retry.Max = 3
	kafkaConfig.Producer.Compression = sarama.CompressionSnappy

	kafkaProducer, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, kafkaConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create Kafka producer")
	}
	defer kafkaProducer.Close()
	logger.Info().Strs("brokers", cfg.Kafka.Brokers).Msg("kafka producer initialized")

	db := repository.NewPool(dbPool)
	orderRepo := repository.NewPostgresOrderRepository(dbPool, logger)
	shipmentRepo := repository.NewPostgresShipmentRepository(dbPool, logger)
	poRepo := repository.NewPostgresPurchaseOrderRepository(dbPool, logger)
	returnRepo := repository.NewPostgresReturnRepository(dbPool, logger)
	outboxRepo := repository.NewPostgresOutboxRepository(dbPool, logger)
	inventoryRepo := repository.NewPostgresInventoryRepository(dbPool, logger)
	carrierRepo := repository.NewPostgresCarrierRepository(dbPool, logger)
	supplierRepo := repository.NewPostgresSupplierRepository(dbPool, logger)

	var idemStore idempotency.Store
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		idemStore = idempotency.NewRedisStore(dbPool, rdb, logger, idempotency.Config{
			ResponseTTL: cfg.Idempotency.ResponseTTL,
			LockTTL:     cfg.Idempotency.LockTTL,
		})
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("idempotency backed by redis distributed lock")
	} else {
		idemStore = idempotency.NewPostgresStore(dbPool, logger, idempotency.Config{
			ResponseTTL: cfg.Idempotency.ResponseTTL,
			LockTTL:     cfg.Idempotency.LockTTL,
		})
	}

	invEngine := inventory.NewEngine(inventoryRepo, metrics, logger)

	// bus carries best-effort, commit-time notifications published directly
	// by the command path (see internal/command.Executor.Run). It is a
	// separate delivery mechanism from the outbox dispatcher below, which
	// owns the durable, at-least-once path to Kafka; the two never share a
	// sink, or every event would be double-published to in-process
	// subscribers.
	bus := eventbus.New(logger, metrics.EventBusDroppedTotal)

	orderService := service.NewOrderService(db, orderRepo, outboxRepo, idemStore, invEngine, bus, metrics, logger)
	shipmentService := service.NewShipmentService(db, shipmentRepo, orderRepo, outboxRepo, idemStore, invEngine, bus, metrics, logger)
	poService := service.NewPurchaseOrderService(db, poRepo, outboxRepo, idemStore, invEngine, bus, metrics, logger)
	returnService := service.NewReturnService(db, returnRepo, orderRepo, outboxRepo, idemStore, invEngine, bus, metrics, logger)

	sink := messaging.NewKafkaSink(kafkaProducer, logger)

	dispatcher := outbox.New(outboxRepo, sink, outbox.Config{
		PollInterval:    cfg.Outbox.PollInterval,
		BatchSize:       cfg.Outbox.BatchSize,
		MaxAttempts:     cfg.Outbox.MaxAttempts,
		Workers:         cfg.Outbox.Workers,
		StuckAfter:      cfg.Outbox.StuckAfter,
		CleanupAfter:    cfg.Outbox.CleanupAfter,
		CleanupInterval: cfg.Outbox.CleanupInterval,
	}, metrics, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go dispatcher.Run(ctx)
	logger.Info().Msg("outbox dispatcher started")

	go runReservationSweep(ctx, db, inventoryRepo, invEngine, cfg.Reservation, logger)
	logger.Info().Msg("reservation expiry sweep started")

	router := httpHandler.NewRouter(httpHandler.RouterConfig{
		Services: httpHandler.Services{
			Order:         orderService,
			Shipment:      shipmentService,
			PurchaseOrder: poService,
			Return:        returnService,
		},
		OutboxRepo:    outboxRepo,
		Dispatcher:    dispatcher,
		Carriers:      carrierRepo,
		Suppliers:     supplierRepo,
		DB:            dbPool,
		KafkaProducer: kafkaProducer,
		Logger:        logger,
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Int("port", cfg.HTTP.Port).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("shutting down gracefully...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}
	logger.Info().Msg("HTTP server stopped")

	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("tracing shutdown error")
	}

	logger.Info().Msg("shutdown complete")
}

// runReservationSweep periodically expires Pending/Confirmed
// reservations whose TTL has passed, releasing the stock they held.
// Each row is expired in its own transaction so one bad row can't
// block the rest of the batch.
func runReservationSweep(ctx context.Context, db repository.Database, repo repository.InventoryRepository, eng *inventory.Engine, cfg config.ReservationConfig, logger zerolog.Logger) {
	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, err := repo.GetExpiredReservations(ctx, time.Now(), cfg.SweepBatch)
			if err != nil {
				logger.Error().Err(err).Msg("reservation sweep: list expired failed")
				continue
			}
			for _, res := range expired {
				if err := expireOne(ctx, db, eng, res.ID); err != nil {
					logger.Error().Err(err).Str("reservation_id", res.ID.String()).Msg("reservation sweep: expire failed")
				}
			}
		}
	}
}

func expireOne(ctx context.Context, db repository.Database, eng *inventory.Engine, reservationID uuid.UUID) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := eng.ExpireOne(ctx, tx, reservationID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
