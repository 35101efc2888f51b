package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/money"
)

var usdtTron = CurrencyNetwork{Currency: "USDT", Network: "TRON"}

// runStoreContract exercises behavior every Store implementation must share.
// Callers pass a fresh, empty store and a player id unique to the run.
func runStoreContract(t *testing.T, s Store, player string) {
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("ledger round trip", func(t *testing.T) {
		var mainID, extID int64
		err := s.InTx(ctx, func(ctx context.Context, tx Tx) error {
			main, err := tx.EnsureAccount(ctx, PlayerAccount(player, usdtTron, AccountMain))
			if err != nil {
				return err
			}
			again, err := tx.EnsureAccount(ctx, PlayerAccount(player, usdtTron, AccountMain))
			if err != nil {
				return err
			}
			require.Equal(t, main.ID, again.ID)
			ext, err := tx.EnsureAccount(ctx, SystemAccount(usdtTron, AccountExternal))
			if err != nil {
				return err
			}
			mainID, extID = main.ID, ext.ID

			locked, err := tx.LockBalances(ctx, []int64{ext.ID, main.ID})
			if err != nil {
				return err
			}
			require.Len(t, locked, 2)

			txID := player + "-dep-1"
			if err := tx.InsertTransaction(ctx, Transaction{TxID: txID, TxType: TxDeposit, ExternalRef: player + "-ref", CreatedAt: base}); err != nil {
				return err
			}
			if err := tx.InsertPostings(ctx, []Posting{
				{TxID: txID, AccountID: ext.ID, Direction: Debit, Amount: 500, CreatedAt: base},
				{TxID: txID, AccountID: main.ID, Direction: Credit, Amount: 500, CreatedAt: base},
			}); err != nil {
				return err
			}
			if err := tx.ApplyBalanceDelta(ctx, main.ID, BalanceDelta{Balance: 500, Cashable: 500}, base); err != nil {
				return err
			}
			return tx.ApplyBalanceDelta(ctx, ext.ID, BalanceDelta{Balance: -500, Cashable: -500}, base)
		})
		require.NoError(t, err)

		err = s.InTx(ctx, func(ctx context.Context, tx Tx) error {
			tr, postings, err := tx.GetTransaction(ctx, player+"-dep-1")
			require.NoError(t, err)
			assert.Equal(t, TxDeposit, tr.TxType)
			assert.Len(t, postings, 2)

			sum, err := tx.SumPostingsByRef(ctx, mainID, player+"-ref")
			require.NoError(t, err)
			assert.Equal(t, money.Amount(500), sum)

			total, err := tx.SumPostings(ctx, extID)
			require.NoError(t, err)
			assert.Equal(t, money.Amount(-500), total)

			_, _, err = tx.GetTransaction(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)
			return nil
		})
		require.NoError(t, err)

		bals, err := s.Balances(ctx, player)
		require.NoError(t, err)
		require.Len(t, bals, 1)
		assert.Equal(t, money.Amount(500), bals[0].BalanceMinor)
		assert.Equal(t, AccountMain, bals[0].Key.Type)
	})

	t.Run("failed transaction leaves no trace", func(t *testing.T) {
		boom := errors.New("boom")
		err := s.InTx(ctx, func(ctx context.Context, tx Tx) error {
			if _, err := tx.EnsureAccount(ctx, PlayerAccount(player, usdtTron, AccountBonus)); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)
		_, err = s.FindAccount(ctx, PlayerAccount(player, usdtTron, AccountBonus))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("idempotency duplicate", func(t *testing.T) {
		rec := IdempotencyRecord{Source: "test", Key: player + "-k", TxID: "t1", RequestHash: []byte{1, 2}, Response: []byte(`{"ok":true}`), CreatedAt: base}
		require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx Tx) error {
			return tx.InsertIdempotency(ctx, rec)
		}))
		err := s.InTx(ctx, func(ctx context.Context, tx Tx) error {
			got, err := tx.GetIdempotency(ctx, "test", player+"-k")
			require.NoError(t, err)
			assert.Equal(t, "t1", got.TxID)
			assert.Equal(t, []byte{1, 2}, got.RequestHash)
			return tx.InsertIdempotency(ctx, rec)
		})
		assert.ErrorIs(t, err, ErrDuplicate)
	})

	t.Run("outbox claim and publish", func(t *testing.T) {
		id := player + "-evt"
		require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx Tx) error {
			return tx.InsertOutbox(ctx, OutboxEvent{ID: id, EventType: "deposit.settled", RoutingKey: "deposit.settled", Payload: []byte(`{}`), CreatedAt: base})
		}))
		claimed, err := s.ClaimOutbox(ctx, base, time.Minute, 100)
		require.NoError(t, err)
		require.True(t, containsEvent(claimed, id))

		again, err := s.ClaimOutbox(ctx, base.Add(30*time.Second), time.Minute, 100)
		require.NoError(t, err)
		assert.False(t, containsEvent(again, id), "leased row must not be claimed twice")

		attempts, err := s.MarkOutboxFailed(ctx, id, "broker down", base.Add(2*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 1, attempts)

		require.NoError(t, s.MarkOutboxPublished(ctx, id, base.Add(3*time.Minute)))
		later, err := s.ClaimOutbox(ctx, base.Add(time.Hour), time.Minute, 100)
		require.NoError(t, err)
		assert.False(t, containsEvent(later, id))

		n, err := s.DeletePublishedOutbox(ctx, base.Add(time.Hour), 100)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, int64(1))
	})

	t.Run("inbox dedupe", func(t *testing.T) {
		e := InboxEvent{Source: "provider", MessageID: player + "-m1", EventType: "DepositConfirmed", Payload: []byte(`{}`), ReceivedAt: base}
		ok, err := s.InsertInbox(ctx, e)
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = s.InsertInbox(ctx, e)
		require.NoError(t, err)
		assert.False(t, ok)

		attempts, err := s.MarkInboxFailed(ctx, "provider", player+"-m1", "transient")
		require.NoError(t, err)
		assert.Equal(t, 1, attempts)

		retry, err := s.ListRetryableInbox(ctx, 3, 100)
		require.NoError(t, err)
		assert.True(t, containsInbox(retry, player+"-m1"))

		require.NoError(t, s.MarkInboxProcessed(ctx, "provider", player+"-m1", base, ""))
		got, err := s.GetInbox(ctx, "provider", player+"-m1")
		require.NoError(t, err)
		assert.NotNil(t, got.ProcessedAt)
	})

	t.Run("withdrawal conditional update", func(t *testing.T) {
		w := WithdrawalRequest{
			RequestID: player + "-w1", PlayerID: player, Asset: usdtTron, AmountMinor: 100, Target: "T-addr",
			Status: WithdrawalRequested, CreatedAt: base, UpdatedAt: base, NextCheckAt: base,
		}
		ok, err := s.InsertWithdrawal(ctx, w)
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = s.InsertWithdrawal(ctx, w)
		require.NoError(t, err)
		assert.False(t, ok)

		claimed, err := s.ClaimWithdrawals(ctx, []WithdrawalStatus{WithdrawalRequested}, base, time.Minute, 10)
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		assert.Equal(t, base.Add(time.Minute), claimed[0].NextCheckAt.UTC())

		require.NoError(t, s.UpdateWithdrawal(ctx, w.RequestID, WithdrawalRequested, WithdrawalUpdate{Status: WithdrawalProcessing, NextCheckAt: base}, base))
		err = s.UpdateWithdrawal(ctx, w.RequestID, WithdrawalRequested, WithdrawalUpdate{Status: WithdrawalFailed, NextCheckAt: base}, base)
		assert.ErrorIs(t, err, ErrStaleState)
		err = s.UpdateWithdrawal(ctx, "nope", WithdrawalRequested, WithdrawalUpdate{Status: WithdrawalFailed}, base)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("deposit sessions and requests", func(t *testing.T) {
		sess := DepositSession{SessionID: player + "-s1", PlayerID: player, Asset: usdtTron, Address: "T-dep", Status: SessionOpen, ExpiresAt: base.Add(time.Minute), CreatedAt: base, UpdatedAt: base}
		require.NoError(t, s.InsertDepositSession(ctx, sess))
		n, err := s.ExpireDepositSessions(ctx, base.Add(2*time.Minute))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, int64(1))
		got, err := s.GetDepositSession(ctx, sess.SessionID)
		require.NoError(t, err)
		assert.Equal(t, SessionExpired, got.Status)

		d := DepositRequest{
			DepositID: player + "-d1", PlayerID: player, Asset: usdtTron, TxHash: player + "-hash", ConfirmationsRequired: 3,
			Status: DepositPending, CreatedAt: base, UpdatedAt: base, NextCheckAt: base,
		}
		ok, err := s.InsertDeposit(ctx, d)
		require.NoError(t, err)
		assert.True(t, ok)
		d.DepositID = player + "-d2"
		ok, err = s.InsertDeposit(ctx, d)
		require.NoError(t, err)
		assert.False(t, ok, "same tx hash must not register twice")

		require.NoError(t, s.UpdateDeposit(ctx, player+"-d1", DepositPending, DepositUpdate{Status: DepositConfirmed, AmountMinor: 700, Confirmations: 3, NextCheckAt: base}, base))
		byHash, err := s.GetDepositByTxHash(ctx, player+"-hash")
		require.NoError(t, err)
		assert.Equal(t, DepositConfirmed, byHash.Status)
		assert.Equal(t, money.Amount(700), byHash.AmountMinor)
		assert.Equal(t, 3, byHash.Confirmations)
	})
}

func containsEvent(events []OutboxEvent, id string) bool {
	for _, e := range events {
		if e.ID == id {
			return true
		}
	}
	return false
}

func containsInbox(events []InboxEvent, messageID string) bool {
	for _, e := range events {
		if e.MessageID == messageID {
			return true
		}
	}
	return false
}
