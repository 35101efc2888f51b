// Package idempotency maps (source, key) pairs to the ledger transaction they
// produced so that a redelivered command returns the original result.
package idempotency

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/clock"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/store"
)

var (
	// ErrDuplicateCommand means a concurrent command committed the same key
	// first. The caller must roll back and run the command again.
	ErrDuplicateCommand = errors.New("duplicate command")
	ErrRequestMismatch  = errors.New("idempotency key reused with a different request")
)

type Scope struct {
	Source      string
	Key         string
	RequestHash []byte
}

type Outcome struct {
	TxID     string
	Replayed bool
}

type Guard struct {
	clk clock.Clock
}

func NewGuard(clk clock.Clock) *Guard {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Guard{clk: clk}
}

func HashRequest(parts ...string) []byte {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return sum[:]
}

func (g *Guard) Lookup(ctx context.Context, tx store.IdempotencyTx, source, key string) (store.IdempotencyRecord, bool, error) {
	rec, err := tx.GetIdempotency(ctx, source, key)
	if errors.Is(err, store.ErrNotFound) {
		return store.IdempotencyRecord{}, false, nil
	}
	if err != nil {
		return store.IdempotencyRecord{}, false, err
	}
	return rec, true, nil
}

// Record inserts the mapping. A unique-constraint hit becomes ErrDuplicateCommand.
func (g *Guard) Record(ctx context.Context, tx store.IdempotencyTx, rec store.IdempotencyRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = g.clk.Now()
	}
	if len(rec.Response) == 0 {
		rec.Response = json.RawMessage(`{}`)
	}
	err := tx.InsertIdempotency(ctx, rec)
	if errors.Is(err, store.ErrDuplicate) {
		return fmt.Errorf("%w: %s/%s", ErrDuplicateCommand, rec.Source, rec.Key)
	}
	return err
}

// Execute runs fn at most once per scope within tx. A settled scope replays the
// stored response without calling fn. fn returns the ledger TxID it produced
// together with the response to store.
func Execute[T any](ctx context.Context, g *Guard, tx store.IdempotencyTx, scope Scope, fn func(ctx context.Context) (string, T, error)) (T, Outcome, error) {
	var zero T
	rec, found, err := g.Lookup(ctx, tx, scope.Source, scope.Key)
	if err != nil {
		return zero, Outcome{}, fmt.Errorf("idempotency lookup: %w", err)
	}
	if found {
		if !bytes.Equal(rec.RequestHash, scope.RequestHash) {
			return zero, Outcome{}, fmt.Errorf("%w: %s/%s", ErrRequestMismatch, scope.Source, scope.Key)
		}
		var out T
		if err := json.Unmarshal(rec.Response, &out); err != nil {
			return zero, Outcome{}, fmt.Errorf("decode stored response: %w", err)
		}
		return out, Outcome{TxID: rec.TxID, Replayed: true}, nil
	}

	txID, out, err := fn(ctx)
	if err != nil {
		return zero, Outcome{}, err
	}
	payload, err := json.Marshal(out)
	if err != nil {
		return zero, Outcome{}, fmt.Errorf("encode response: %w", err)
	}
	err = g.Record(ctx, tx, store.IdempotencyRecord{
		Source:      scope.Source,
		Key:         scope.Key,
		TxID:        txID,
		RequestHash: scope.RequestHash,
		Response:    payload,
	})
	if err != nil {
		return zero, Outcome{}, err
	}
	return out, Outcome{TxID: txID}, nil
}
