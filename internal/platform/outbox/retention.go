package outbox

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/clock"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/metrics"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/store"
)

// Retention deletes rows that were published longer ago than Window.
// Unpublished rows are never touched.
type Retention struct {
	store     store.OutboxStore
	clk       clock.Clock
	log       *zap.Logger
	metrics   *metrics.Metrics
	Window    time.Duration
	Interval  time.Duration
	BatchSize int
}

func NewRetention(s store.OutboxStore, window, interval time.Duration, batchSize int, clk clock.Clock, log *zap.Logger, m *metrics.Metrics) *Retention {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	if batchSize <= 0 {
		batchSize = 500
	}
	if window <= 0 {
		window = 7 * 24 * time.Hour
	}
	return &Retention{store: s, clk: clk, log: log, metrics: m, Window: window, Interval: interval, BatchSize: batchSize}
}

// RunOnce deletes in batches until a short batch shows nothing is left.
func (r *Retention) RunOnce(ctx context.Context) (int64, error) {
	cutoff := r.clk.Now().Add(-r.Window)
	var total int64
	for {
		deleted, err := r.store.DeletePublishedOutbox(ctx, cutoff, r.BatchSize)
		r.metrics.ObserveOutboxCleanup(deleted, err)
		if err != nil {
			return total, err
		}
		total += deleted
		if deleted < int64(r.BatchSize) {
			return total, nil
		}
	}
}

func (r *Retention) Run(ctx context.Context) error {
	if r.Interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			deleted, err := r.RunOnce(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				r.log.Error("outbox retention failed", zap.Error(err))
				continue
			}
			if deleted > 0 {
				r.log.Info("outbox retention removed published events", zap.Int64("deleted", deleted))
			}
		}
	}
}
