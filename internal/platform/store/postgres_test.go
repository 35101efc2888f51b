package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapError(t *testing.T) {
	assert.NoError(t, mapError(nil))
	assert.ErrorIs(t, mapError(&pgconn.PgError{Code: "23505", ConstraintName: "wallet_idempotency_keys_pkey"}), ErrDuplicate)
	assert.ErrorIs(t, mapError(fmt.Errorf("commit: %w", &pgconn.PgError{Code: "40001"})), ErrSerialization)
	assert.ErrorIs(t, mapError(&pgconn.PgError{Code: "40P01"}), ErrSerialization)
	assert.True(t, IsRetryable(mapError(&pgconn.PgError{Code: "40001"})))

	other := errors.New("conn reset")
	assert.Equal(t, other, mapError(other))
}

func TestPostgresLockBalancesAscending(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgres(db, nil)
	cols := []string{"account_id", "player_id", "currency", "network", "account_type", "balance_minor", "reserved_minor", "cashable_minor", "updated_at"}
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)SELECT b\.account_id,.*WHERE b\.account_id = \$1.*FOR UPDATE OF b`).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(3, "p1", "USDT", "TRON", "MAIN", 100, 0, 100, now))
	mock.ExpectQuery(`(?s)SELECT b\.account_id,.*WHERE b\.account_id = \$1.*FOR UPDATE OF b`).
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(9, "system", "USDT", "TRON", "HOUSE", -100, 0, -100, now))
	mock.ExpectCommit()

	err = s.InTx(context.Background(), func(ctx context.Context, tx Tx) error {
		got, err := tx.LockBalances(ctx, []int64{9, 3, 9})
		if err != nil {
			return err
		}
		assert.Len(t, got, 2)
		assert.Equal(t, AccountHouse, got[9].Key.Type)
		assert.EqualValues(t, 100, got[3].BalanceMinor)
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresInTxRollsBackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgres(db, nil)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO wallet_idempotency_keys").
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	err = s.InTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.InsertIdempotency(ctx, IdempotencyRecord{Source: "s", Key: "k", TxID: "t", RequestHash: []byte{1}})
	})
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCommitSerializationFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgres(db, nil)
	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(&pgconn.PgError{Code: "40001", Message: "could not serialize access"})

	err = s.InTx(context.Background(), func(context.Context, Tx) error { return nil })
	assert.ErrorIs(t, err, ErrSerialization)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetIdempotencyMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgres(db, nil)
	mock.ExpectBegin()
	mock.ExpectQuery("FROM wallet_idempotency_keys").
		WithArgs("wallet-bet", "k1").
		WillReturnRows(sqlmock.NewRows([]string{"source", "idempotency_key", "tx_id", "request_hash", "response", "created_at"}))
	mock.ExpectCommit()

	err = s.InTx(context.Background(), func(ctx context.Context, tx Tx) error {
		_, err := tx.GetIdempotency(ctx, "wallet-bet", "k1")
		assert.ErrorIs(t, err, ErrNotFound)
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresInsertInboxDuplicate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgres(db, nil)
	mock.ExpectExec(`(?s)INSERT INTO wallet_inbox .*ON CONFLICT \(source, message_id\) DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := s.InsertInbox(context.Background(), InboxEvent{Source: "provider", MessageID: "m1", EventType: "DepositConfirmed", ReceivedAt: time.Now()})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateWithdrawalStale(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgres(db, nil)
	mock.ExpectExec("UPDATE withdrawal_requests").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT 1 FROM withdrawal_requests WHERE request_id = \\$1").
		WithArgs("w1").
		WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(1))

	err = s.UpdateWithdrawal(context.Background(), "w1", WithdrawalRequested, WithdrawalUpdate{Status: WithdrawalProcessing}, time.Now())
	assert.ErrorIs(t, err, ErrStaleState)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresMarkOutboxFailedReturnsAttempts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgres(db, nil)
	next := time.Now().Add(time.Minute)
	mock.ExpectQuery("UPDATE wallet_outbox").
		WithArgs("evt-1", "broker down", next).
		WillReturnRows(sqlmock.NewRows([]string{"attempts"}).AddRow(4))

	n, err := s.MarkOutboxFailed(context.Background(), "evt-1", "broker down", next)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
