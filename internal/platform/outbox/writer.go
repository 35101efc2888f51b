// Package outbox records integration events in the same transaction as the
// ledger change that caused them and ships them to the bus afterwards.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/oklog/ulid/v2"

	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/clock"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/store"
)

// Routing keys, <entity>.<verb>.
const (
	WithdrawalReserved    = "withdrawal.reserved"
	WithdrawalFinalized   = "withdrawal.finalized"
	WithdrawalReleased    = "withdrawal.released"
	DepositSettled        = "deposit.settled"
	BetPlaced             = "bet.placed"
	WinSettled            = "win.settled"
	TransactionRolledBack = "transaction.rolledback"
)

type Event struct {
	EventType  string
	RoutingKey string
	Payload    any
}

type Writer struct {
	clk clock.Clock
}

func NewWriter(clk clock.Clock) *Writer {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Writer{clk: clk}
}

// Append inserts ev into the caller's transaction. The routing key defaults to
// the event type.
func (w *Writer) Append(ctx context.Context, tx store.OutboxTx, ev Event) (store.OutboxEvent, error) {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return store.OutboxEvent{}, fmt.Errorf("encode %s payload: %w", ev.EventType, err)
	}
	routing := ev.RoutingKey
	if routing == "" {
		routing = ev.EventType
	}
	now := w.clk.Now()
	row := store.OutboxEvent{
		ID:            ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		EventType:     ev.EventType,
		RoutingKey:    routing,
		Payload:       payload,
		CreatedAt:     now,
		NextAttemptAt: now,
	}
	if err := tx.InsertOutbox(ctx, row); err != nil {
		return store.OutboxEvent{}, fmt.Errorf("insert outbox %s: %w", ev.EventType, err)
	}
	return row, nil
}
