package inbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/audit"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/bus"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/clock"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/metrics"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/store"
)

// Handler applies a decoded event. It must be idempotent: a message can be
// dispatched again after a crash between the handler and the processed mark.
type Handler interface {
	HandleEvent(ctx context.Context, ev Event) error
}

type HandlerFunc func(ctx context.Context, ev Event) error

func (f HandlerFunc) HandleEvent(ctx context.Context, ev Event) error { return f(ctx, ev) }

type Config struct {
	// MaxAttempts is the retry budget of one message across redeliveries and
	// sweeps. A message that exhausts it is parked for an operator.
	MaxAttempts   int
	SweepBatch    int
	SweepInterval time.Duration
}

type Consumer struct {
	store   store.InboxStore
	handler Handler
	cfg     Config
	clk     clock.Clock
	log     *zap.Logger
	metrics *metrics.Metrics
	audit   audit.Recorder
}

func NewConsumer(s store.InboxStore, h Handler, cfg Config, clk clock.Clock, log *zap.Logger, m *metrics.Metrics, rec audit.Recorder) *Consumer {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = 100
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{store: s, handler: h, cfg: cfg, clk: clk, log: log, metrics: m, audit: rec}
}

// Handle is called once per delivery. A nil return acknowledges the message;
// an error asks the transport to redeliver it.
func (c *Consumer) Handle(ctx context.Context, env Envelope) error {
	if env.Source == "" || env.MessageID == "" {
		return fmt.Errorf("inbox envelope needs source and message id, got %q/%q", env.Source, env.MessageID)
	}
	existing, err := c.store.GetInbox(ctx, env.Source, env.MessageID)
	switch {
	case err == nil:
		if existing.ProcessedAt != nil {
			c.metrics.ObserveInbox(env.EventType, "duplicate")
			c.log.Debug("duplicate inbox message dropped", zap.String("source", env.Source), zap.String("message_id", env.MessageID))
			return nil
		}
		if existing.Attempts >= c.cfg.MaxAttempts {
			c.metrics.ObserveInbox(env.EventType, "parked")
			return nil
		}
	case errors.Is(err, store.ErrNotFound):
		if _, err := c.store.InsertInbox(ctx, store.InboxEvent{
			Source:     env.Source,
			MessageID:  env.MessageID,
			EventType:  env.EventType,
			Payload:    env.Payload,
			ReceivedAt: c.clk.Now(),
		}); err != nil {
			return fmt.Errorf("record inbox message: %w", err)
		}
	default:
		return fmt.Errorf("inbox lookup: %w", err)
	}
	return c.process(ctx, env)
}

// BusHandler adapts the consumer to a bus subscription.
func (c *Consumer) BusHandler() bus.Handler {
	return func(ctx context.Context, msg bus.Message) error {
		return c.Handle(ctx, FromMessage(msg))
	}
}

func FromMessage(msg bus.Message) Envelope {
	eventType := msg.EventType
	if eventType == "" {
		eventType = msg.RoutingKey
	}
	return Envelope{Source: msg.Source, MessageID: msg.ID, EventType: eventType, Payload: msg.Payload}
}

func (c *Consumer) process(ctx context.Context, env Envelope) error {
	log := c.log.With(zap.String("source", env.Source), zap.String("message_id", env.MessageID), zap.String("event_type", env.EventType))
	ev, err := Decode(env)
	if err != nil {
		return c.fail(ctx, env, err)
	}
	if u, ok := ev.(Unknown); ok {
		if err := c.store.MarkInboxProcessed(ctx, env.Source, env.MessageID, c.clk.Now(), "ignored unknown event type "+u.Type); err != nil {
			return fmt.Errorf("mark inbox processed: %w", err)
		}
		c.metrics.ObserveInbox("unknown", "ignored")
		log.Info("unknown inbox event acknowledged")
		return nil
	}
	if err := c.handler.HandleEvent(ctx, ev); err != nil {
		return c.fail(ctx, env, err)
	}
	if err := c.store.MarkInboxProcessed(ctx, env.Source, env.MessageID, c.clk.Now(), ""); err != nil {
		// The effect is committed; a redelivery replays it through idempotency.
		return fmt.Errorf("mark inbox processed: %w", err)
	}
	c.metrics.ObserveInbox(TypeOf(ev), "processed")
	return nil
}

func (c *Consumer) fail(ctx context.Context, env Envelope, cause error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	attempts, err := c.store.MarkInboxFailed(ctx, env.Source, env.MessageID, cause.Error())
	if err != nil {
		return errors.Join(cause, fmt.Errorf("record inbox failure: %w", err))
	}
	c.metrics.ObserveInbox(env.EventType, "failed")
	if attempts < c.cfg.MaxAttempts {
		c.log.Warn("inbox message failed; will retry",
			zap.String("source", env.Source), zap.String("message_id", env.MessageID), zap.Int("attempts", attempts), zap.Error(cause))
		return fmt.Errorf("inbox %s/%s attempt %d: %w", env.Source, env.MessageID, attempts, cause)
	}

	c.metrics.ObserveInbox(env.EventType, "exhausted")
	c.log.Error("inbox message exhausted its retry budget",
		zap.String("source", env.Source), zap.String("message_id", env.MessageID), zap.Int("attempts", attempts), zap.Error(cause))
	if c.audit != nil {
		if _, err := c.audit.Append(ctx, audit.Event{
			ObjectType: audit.ObjectInboxEvent,
			ObjectID:   env.Source + "/" + env.MessageID,
			Action:     "inbox.retry_budget_exhausted",
			Result:     audit.ResultError,
			Reason:     cause.Error(),
		}); err != nil {
			c.log.Error("audit append failed", zap.Error(err))
		}
	}
	return nil
}

// Sweep retries unprocessed messages that still have budget left. The count
// covers messages that were applied or parked.
func (c *Consumer) Sweep(ctx context.Context) (int, error) {
	rows, err := c.store.ListRetryableInbox(ctx, c.cfg.MaxAttempts, c.cfg.SweepBatch)
	if err != nil {
		return 0, fmt.Errorf("list retryable inbox: %w", err)
	}
	done := 0
	for _, row := range rows {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}
		env := Envelope{Source: row.Source, MessageID: row.MessageID, EventType: row.EventType, Payload: row.Payload}
		if err := c.process(ctx, env); err != nil {
			continue
		}
		done++
	}
	return done, nil
}

func (c *Consumer) Run(ctx context.Context) error {
	if c.cfg.SweepInterval <= 0 {
		return nil
	}
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := c.Sweep(ctx)
			if err != nil && ctx.Err() == nil {
				c.log.Error("inbox sweep failed", zap.Error(err))
			}
			if n > 0 {
				c.log.Info("inbox sweep applied messages", zap.Int("count", n))
			}
		}
	}
}
