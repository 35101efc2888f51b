package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/audit"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/bus"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/clock"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/metrics"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/store"
)

// flakyBus rejects the first fails publishes.
type flakyBus struct {
	mu    sync.Mutex
	fails int
	sent  []bus.Message
	calls int
}

func (b *flakyBus) Publish(_ context.Context, msg bus.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.fails > 0 {
		b.fails--
		return errors.New("broker unavailable")
	}
	b.sent = append(b.sent, msg)
	return nil
}

func appendEvent(t *testing.T, s *store.Memory, w *Writer, routing string, payload any) store.OutboxEvent {
	t.Helper()
	var row store.OutboxEvent
	err := s.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		row, err = w.Append(ctx, tx, Event{EventType: routing, Payload: payload})
		return err
	})
	require.NoError(t, err)
	return row
}

func TestBackoffIsExponentialAndCapped(t *testing.T) {
	base, ceiling := time.Second, 30*time.Second
	assert.Equal(t, time.Second, Backoff(base, ceiling, 1))
	assert.Equal(t, 2*time.Second, Backoff(base, ceiling, 2))
	assert.Equal(t, 16*time.Second, Backoff(base, ceiling, 5))
	assert.Equal(t, ceiling, Backoff(base, ceiling, 6))
	assert.Equal(t, ceiling, Backoff(base, ceiling, 500))
}

func TestWriterDefaultsRoutingKey(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	s := store.NewMemory(clk)
	row := appendEvent(t, s, NewWriter(clk), DepositSettled, map[string]any{"playerId": "p1"})
	assert.Equal(t, DepositSettled, row.RoutingKey)
	assert.NotEmpty(t, row.ID)
	assert.JSONEq(t, `{"playerId":"p1"}`, string(row.Payload))
	assert.Equal(t, clk.Now(), row.NextAttemptAt)
}

func TestPublisherDeliversAfterTransientFailures(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	s := store.NewMemory(clk)
	row := appendEvent(t, s, NewWriter(clk), WithdrawalReserved, map[string]any{"playerId": "p7", "amountMinor": 10})

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	rec := audit.NewInMemoryStore()
	b := &flakyBus{fails: 4}
	p := NewPublisher(s, b, Config{BaseBackoff: time.Second, MaxBackoff: 4 * time.Second, AlertAfter: 3, Lease: 10 * time.Second}, clk, zaptest.NewLogger(t), m, rec)

	for i := 0; i < 4; i++ {
		n, err := p.RunOnce(context.Background())
		require.NoError(t, err)
		assert.Zero(t, n)
		// Not due again until its backoff passes.
		n, err = p.RunOnce(context.Background())
		require.NoError(t, err)
		assert.Zero(t, n)
		clk.Advance(Backoff(time.Second, 4*time.Second, i+1))
	}
	assert.Equal(t, 4, b.calls, "rows must not be published before their next attempt time")

	n, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, b.sent, 1)
	assert.Equal(t, row.ID, b.sent[0].ID)
	assert.Equal(t, "p7", b.sent[0].Key)
	assert.Equal(t, "wallet", b.sent[0].Source)

	stats, err := s.OutboxStats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Pending)
	assert.EqualValues(t, 1, stats.Published)

	// One escalation when the budget was reached, not one per later failure.
	const wantAlerts = `
# HELP open_wallet_outbox_alerts_total Outbox rows that exhausted their attempt budget.
# TYPE open_wallet_outbox_alerts_total counter
open_wallet_outbox_alerts_total 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(wantAlerts), "open_wallet_outbox_alerts_total"))
	events := rec.Events()
	require.Len(t, events, 1)
	assert.Equal(t, row.ID, events[0].ObjectID)

	n, err = p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, b.sent, 1)
}

func TestPublisherShipsOldestFirst(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	s := store.NewMemory(clk)
	w := NewWriter(clk)
	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, appendEvent(t, s, w, BetPlaced, map[string]int{"n": i}).ID)
		clk.Advance(time.Millisecond)
	}
	b := &flakyBus{}
	p := NewPublisher(s, b, Config{BatchSize: 3}, clk, nil, nil, nil)

	n, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	n, err = p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var got []string
	for _, m := range b.sent {
		got = append(got, m.ID)
	}
	assert.Equal(t, ids, got)
}

func TestConcurrentPublishersDoNotDoubleSend(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	s := store.NewMemory(clk)
	w := NewWriter(clk)
	for i := 0; i < 50; i++ {
		appendEvent(t, s, w, WinSettled, map[string]int{"n": i})
	}
	b := &flakyBus{}
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := NewPublisher(s, b, Config{BatchSize: 7}, clk, nil, nil, nil)
			for {
				n, err := p.RunOnce(context.Background())
				if err != nil || n == 0 {
					return
				}
			}
		}()
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, m := range b.sent {
		assert.False(t, seen[m.ID], "duplicate publish of %s", m.ID)
		seen[m.ID] = true
	}
	assert.Len(t, seen, 50)
}

func TestRetentionKeepsUnpublishedRows(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	s := store.NewMemory(clk)
	w := NewWriter(clk)
	for i := 0; i < 5; i++ {
		appendEvent(t, s, w, DepositSettled, json.RawMessage(`{}`))
	}
	p := NewPublisher(s, &flakyBus{}, Config{BatchSize: 3}, clk, nil, nil, nil)
	_, err := p.RunOnce(context.Background())
	require.NoError(t, err)

	clk.Advance(48 * time.Hour)
	appendEvent(t, s, w, DepositSettled, json.RawMessage(`{}`))

	r := NewRetention(s, 24*time.Hour, time.Hour, 2, clk, nil, nil)
	deleted, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, deleted)

	stats, err := s.OutboxStats(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, stats.Pending)
	assert.Zero(t, stats.Published)
}
