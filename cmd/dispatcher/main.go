// Command dispatcher drains the transactional outbox to Kafka. It runs as a
// separate process so publishing lag never backs up the request path.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/yourorg/payment-engine/internal/config"
	"github.com/yourorg/payment-engine/internal/logging"
	"github.com/yourorg/payment-engine/internal/outbox"
	"github.com/yourorg/payment-engine/internal/storage/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if cfg.PostgresDSN == "" {
		log.Fatal("PAYMENTS_POSTGRES_DSN is required: the dispatcher reads the durable outbox")
	}

	logger, err := logging.New(logging.Config{ServiceName: "payment-engine-dispatcher"})
	if err != nil {
		log.Fatalf("creating logger: %v", err)
	}
	defer logging.Sync(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("connecting to postgres", zap.Error(err))
	}
	defer store.Close()

	publisher := outbox.NewKafkaPublisher(cfg.KafkaBrokers)
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("closing kafka writer failed", zap.Error(err))
		}
	}()

	dispatcher := outbox.NewDispatcher(store, publisher, logger, outbox.Config{
		BatchSize:  cfg.OutboxBatchSize,
		Interval:   cfg.OutboxPollInterval,
		MaxRetries: cfg.OutboxMaxRetries,
	})

	logger.Info("outbox dispatcher running",
		zap.Strings("brokers", cfg.KafkaBrokers),
		zap.Int("batch_size", cfg.OutboxBatchSize),
	)
	dispatcher.Run(ctx)
	logger.Info("outbox dispatcher stopped")
}
