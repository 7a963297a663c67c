// Package outbox drains committed outbox rows to the event bus. The
// dispatcher polls for unprocessed rows and publishes them in commit order;
// a row is only marked processed after the publish succeeds, so delivery is
// at-least-once and consumers must deduplicate by event ID.
package outbox

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/yourorg/payment-engine/internal/storage"
)

// Publisher sends a single event payload to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
}

// Dispatcher periodically drains pending outbox rows through a Publisher.
type Dispatcher struct {
	store      storage.Store
	publisher  Publisher
	logger     *zap.Logger
	batchSize  int
	interval   time.Duration
	maxRetries int
}

// Config bounds the dispatcher poll loop.
type Config struct {
	BatchSize  int
	Interval   time.Duration
	MaxRetries int
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.Interval <= 0 {
		c.Interval = 2 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	return c
}

// NewDispatcher creates a dispatcher. It panics if store, publisher or
// logger is nil.
func NewDispatcher(store storage.Store, publisher Publisher, logger *zap.Logger, cfg Config) *Dispatcher {
	if store == nil {
		panic("outbox: store must not be nil")
	}
	if publisher == nil {
		panic("outbox: publisher must not be nil")
	}
	if logger == nil {
		panic("outbox: logger must not be nil")
	}
	cfg = cfg.withDefaults()
	return &Dispatcher{
		store:      store,
		publisher:  publisher,
		logger:     logger,
		batchSize:  cfg.BatchSize,
		interval:   cfg.Interval,
		maxRetries: cfg.MaxRetries,
	}
}

// Run polls until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.DispatchOnce(ctx); err != nil {
				d.logger.Error("outbox dispatch cycle failed", zap.Error(err))
			}
		}
	}
}

// DispatchOnce publishes one batch of pending rows and reports how many were
// delivered. A publish failure bumps the row's retry count and moves on so a
// single poisoned message cannot stall the rest of the batch.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	pending, err := d.store.PendingOutbox(ctx, d.batchSize, d.maxRetries)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, msg := range pending {
		if err := d.publisher.Publish(ctx, msg.Topic, msg.PaymentID, msg.Payload); err != nil {
			d.logger.Warn("publishing outbox message failed",
				zap.String("message_id", msg.ID),
				zap.String("topic", msg.Topic),
				zap.Int("retry_count", msg.RetryCount),
				zap.Error(err))
			if markErr := d.store.MarkOutboxFailed(ctx, msg.ID, err.Error()); markErr != nil {
				return delivered, markErr
			}
			continue
		}
		if err := d.store.MarkOutboxProcessed(ctx, msg.ID); err != nil {
			return delivered, err
		}
		delivered++
	}
	if delivered > 0 {
		d.logger.Info("outbox batch dispatched",
			zap.Int("delivered", delivered),
			zap.Int("pending", len(pending)))
	}
	return delivered, nil
}
