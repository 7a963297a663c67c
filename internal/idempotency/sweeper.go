package idempotency

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// SweepStore deletes expired records in bulk.
type SweepStore interface {
	DeleteExpiredIdempotencyRecords(ctx context.Context, now time.Time) (int64, error)
}

// Sweeper periodically reclaims expired idempotency records.
type Sweeper struct {
	store    SweepStore
	logger   *zap.Logger
	interval time.Duration
}

// NewSweeper creates a sweeper that runs every interval.
func NewSweeper(store SweepStore, logger *zap.Logger, interval time.Duration) *Sweeper {
	if store == nil {
		panic("sweep store cannot be nil")
	}
	if interval <= 0 {
		panic("sweep interval must be positive")
	}
	return &Sweeper{store: store, logger: logger, interval: interval}
}

// Run sweeps until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("idempotency sweep failed", zap.Error(err))
			}
		}
	}
}

// SweepOnce deletes all records whose TTL has passed.
func (s *Sweeper) SweepOnce(ctx context.Context) error {
	deleted, err := s.store.DeleteExpiredIdempotencyRecords(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	if deleted > 0 {
		s.logger.Info("reclaimed expired idempotency records", zap.Int64("deleted", deleted))
	}
	return nil
}
