package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/audit"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/bus"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/clock"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/metrics"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/store"
)

type Config struct {
	// Source names this service on every published message.
	Source    string
	BatchSize int
	Interval  time.Duration
	// Lease is how long a claimed row stays invisible to other publishers.
	Lease          time.Duration
	PublishTimeout time.Duration
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	// AlertAfter is the attempt count at which a stuck row is escalated.
	AlertAfter int
}

func (c Config) withDefaults() Config {
	if c.Source == "" {
		c.Source = "wallet"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.Interval <= 0 {
		c.Interval = time.Second
	}
	if c.Lease <= 0 {
		c.Lease = 30 * time.Second
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 5 * time.Second
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = time.Second
	}
	if c.MaxBackoff < c.BaseBackoff {
		c.MaxBackoff = 5 * time.Minute
	}
	if c.AlertAfter <= 0 {
		c.AlertAfter = 10
	}
	return c
}

// Backoff returns the delay before the next attempt of a row that has failed
// attempts times: base*2^(attempts-1), capped at ceiling.
func Backoff(base, ceiling time.Duration, attempts int) time.Duration {
	if attempts <= 1 {
		return min(base, ceiling)
	}
	d := base
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= ceiling || d <= 0 {
			return ceiling
		}
	}
	return d
}

type Publisher struct {
	store   store.OutboxStore
	bus     bus.Publisher
	cfg     Config
	clk     clock.Clock
	log     *zap.Logger
	metrics *metrics.Metrics
	audit   audit.Recorder
}

func NewPublisher(s store.OutboxStore, b bus.Publisher, cfg Config, clk clock.Clock, log *zap.Logger, m *metrics.Metrics, rec audit.Recorder) *Publisher {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{store: s, bus: b, cfg: cfg.withDefaults(), clk: clk, log: log, metrics: m, audit: rec}
}

// RunOnce ships one batch of due rows and returns how many were confirmed.
// Rows are only ever marked published after the bus accepted them.
func (p *Publisher) RunOnce(ctx context.Context) (int, error) {
	now := p.clk.Now()
	rows, err := p.store.ClaimOutbox(ctx, now, p.cfg.Lease, p.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("claim outbox: %w", err)
	}
	published := 0
	for _, row := range rows {
		if ctx.Err() != nil {
			// Unvisited rows come back once their lease runs out.
			break
		}
		if p.publish(ctx, row) {
			published++
		}
	}
	p.observeBacklog(ctx)
	return published, ctx.Err()
}

func (p *Publisher) publish(ctx context.Context, row store.OutboxEvent) bool {
	log := p.log.With(zap.String("event_id", row.ID), zap.String("routing_key", row.RoutingKey))
	pubCtx, cancel := context.WithTimeout(ctx, p.cfg.PublishTimeout)
	err := p.bus.Publish(pubCtx, p.message(row))
	cancel()
	p.metrics.ObserveOutboxPublish(err == nil)

	if err == nil {
		if err := p.store.MarkOutboxPublished(ctx, row.ID, p.clk.Now()); err != nil {
			// The row is redelivered after its lease; consumers dedupe on the id.
			log.Warn("outbox event published but not marked", zap.Error(err))
			return false
		}
		return true
	}

	next := p.clk.Now().Add(Backoff(p.cfg.BaseBackoff, p.cfg.MaxBackoff, row.Attempts+1))
	attempts, markErr := p.store.MarkOutboxFailed(ctx, row.ID, err.Error(), next)
	if markErr != nil {
		log.Error("outbox failure not recorded", zap.NamedError("publish_error", err), zap.Error(markErr))
		return false
	}
	switch {
	case attempts == p.cfg.AlertAfter:
		p.alert(ctx, row, attempts, err)
	case attempts > p.cfg.AlertAfter:
		log.Error("outbox event still undeliverable", zap.Int("attempts", attempts), zap.Time("next_attempt_at", next), zap.Error(err))
	default:
		log.Warn("outbox publish failed", zap.Int("attempts", attempts), zap.Time("next_attempt_at", next), zap.Error(err))
	}
	return false
}

func (p *Publisher) alert(ctx context.Context, row store.OutboxEvent, attempts int, cause error) {
	p.metrics.ObserveOutboxAlert()
	p.log.Error("outbox retry budget exhausted; still retrying at capped interval",
		zap.String("event_id", row.ID), zap.String("routing_key", row.RoutingKey), zap.Int("attempts", attempts), zap.Error(cause))
	if p.audit == nil {
		return
	}
	_, err := p.audit.Append(ctx, audit.Event{
		ObjectType: audit.ObjectOutboxEvent,
		ObjectID:   row.ID,
		Action:     "outbox.retry_budget_exhausted",
		Result:     audit.ResultError,
		Reason:     cause.Error(),
	})
	if err != nil {
		p.log.Error("audit append failed", zap.Error(err))
	}
}

func (p *Publisher) message(row store.OutboxEvent) bus.Message {
	var ref struct {
		PlayerID string `json:"playerId"`
	}
	_ = json.Unmarshal(row.Payload, &ref)
	return bus.Message{
		ID:         row.ID,
		Source:     p.cfg.Source,
		EventType:  row.EventType,
		RoutingKey: row.RoutingKey,
		Key:        ref.PlayerID,
		Payload:    row.Payload,
	}
}

func (p *Publisher) observeBacklog(ctx context.Context) {
	if p.metrics == nil {
		return
	}
	stats, err := p.store.OutboxStats(ctx)
	if err != nil {
		p.log.Debug("outbox stats unavailable", zap.Error(err))
		return
	}
	p.metrics.SetOutboxBacklog(stats.Pending, stats.OldestPending, p.clk.Now())
}

// Run publishes every Interval until ctx is cancelled. A batch that fills up
// is followed immediately by the next one.
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		for {
			n, err := p.RunOnce(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				p.log.Error("outbox publish cycle failed", zap.Error(err))
				break
			}
			if n < p.cfg.BatchSize {
				break
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
