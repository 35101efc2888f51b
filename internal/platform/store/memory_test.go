package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/clock"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/money"
)

func TestMemoryStoreContract(t *testing.T) {
	runStoreContract(t, NewMemory(clock.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))), "p-mem")
}

func TestMemoryCancelledContextDiscardsWork(t *testing.T) {
	s := NewMemory(nil)
	ctx, cancel := context.WithCancel(context.Background())
	err := s.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.EnsureAccount(ctx, PlayerAccount("p1", usdtTron, AccountMain)); err != nil {
			return err
		}
		cancel()
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	_, err = s.FindAccount(context.Background(), PlayerAccount("p1", usdtTron, AccountMain))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryPostingsRequireKnownTransaction(t *testing.T) {
	s := NewMemory(nil)
	err := s.InTx(context.Background(), func(ctx context.Context, tx Tx) error {
		a, err := tx.EnsureAccount(ctx, PlayerAccount("p1", usdtTron, AccountMain))
		if err != nil {
			return err
		}
		return tx.InsertPostings(ctx, []Posting{{TxID: "ghost", AccountID: a.ID, Direction: Credit, Amount: 1}})
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryOutboxStats(t *testing.T) {
	s := NewMemory(nil)
	ctx := context.Background()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.InsertOutbox(ctx, OutboxEvent{ID: "a", CreatedAt: t0}); err != nil {
			return err
		}
		return tx.InsertOutbox(ctx, OutboxEvent{ID: "b", CreatedAt: t0.Add(time.Second)})
	}))
	_, err := s.MarkOutboxFailed(ctx, "b", "down", t0)
	require.NoError(t, err)
	require.NoError(t, s.MarkOutboxPublished(ctx, "a", t0))

	st, err := s.OutboxStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Pending)
	assert.Equal(t, int64(1), st.Published)
	assert.Equal(t, 1, st.MaxAttempts)
	require.NotNil(t, st.OldestPending)
	assert.True(t, st.OldestPending.Equal(t0.Add(time.Second)))
}

func TestMemoryAbortedAppendLeavesCommittedRefsIntact(t *testing.T) {
	s := NewMemory(nil)
	ctx := context.Background()
	key := PlayerAccount("p1", usdtTron, AccountHouseWager)
	var acct Account
	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		if acct, err = tx.EnsureAccount(ctx, key); err != nil {
			return err
		}
		if err := tx.InsertTransaction(ctx, Transaction{TxID: "t1", ExternalRef: "bet:b1"}); err != nil {
			return err
		}
		return tx.InsertPostings(ctx, []Posting{{TxID: "t1", AccountID: acct.ID, Direction: Credit, Amount: 100}})
	}))

	sum := func() money.Amount {
		var got money.Amount
		require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx Tx) error {
			var err error
			got, err = tx.SumPostingsByRef(ctx, acct.ID, "bet:b1")
			return err
		}))
		return got
	}
	before := sum()

	for i := 0; i < 3; i++ {
		err := s.InTx(ctx, func(ctx context.Context, tx Tx) error {
			if err := tx.InsertTransaction(ctx, Transaction{TxID: "t2", ExternalRef: "bet:b1"}); err != nil {
				return err
			}
			if err := tx.InsertPostings(ctx, []Posting{{TxID: "t1", AccountID: acct.ID, Direction: Credit, Amount: 7}}); err != nil {
				return err
			}
			return ErrStaleState
		})
		require.ErrorIs(t, err, ErrStaleState)
	}
	assert.Equal(t, before, sum())
	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx Tx) error {
		_, postings, err := tx.GetTransaction(ctx, "t1")
		assert.Len(t, postings, 1)
		return err
	}))
}
