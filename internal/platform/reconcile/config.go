// Package reconcile polls the provider for the status of in-flight deposits
// and withdrawals and converges the request rows and the ledger onto it. The
// workers never post to the ledger directly; they call the idempotent wallet
// commands, so a cycle repeated after a crash cannot double-settle.
package reconcile

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type Config struct {
	BatchSize int
	Interval  time.Duration
	// Lease is how long a claimed row stays invisible to other workers.
	Lease time.Duration
	// PollDelay spaces out status checks of a row still waiting on the chain.
	PollDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.Interval <= 0 {
		c.Interval = 10 * time.Second
	}
	if c.Lease <= 0 {
		c.Lease = time.Minute
	}
	if c.PollDelay <= 0 {
		c.PollDelay = 30 * time.Second
	}
	return c
}

func loop(ctx context.Context, name string, interval time.Duration, log *zap.Logger, once func(context.Context) (int, error)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := once(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				log.Error("reconcile cycle failed", zap.String("worker", name), zap.Error(err))
				continue
			}
			if n > 0 {
				log.Debug("reconcile cycle", zap.String("worker", name), zap.Int("rows", n))
			}
		}
	}
}
