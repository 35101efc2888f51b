// Package store is the relational source of truth for the wallet: accounts,
// balances, postings, idempotency keys, outbox/inbox rows and the payment
// request state machines. Two implementations share the same contract: Postgres
// for production and an in-memory store for local runs and tests.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/money"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrDuplicate reports a unique-constraint violation.
	ErrDuplicate = errors.New("duplicate key")
	// ErrSerialization is a transient conflict; the whole unit of work must be retried.
	ErrSerialization = errors.New("transient store conflict")
	// ErrStaleState reports a conditional update whose expected status no longer holds.
	ErrStaleState = errors.New("row is not in the expected state")
)

func IsRetryable(err error) bool {
	return errors.Is(err, ErrSerialization)
}

// LedgerTx is the ledger half of a store transaction.
type LedgerTx interface {
	EnsureAccount(ctx context.Context, key AccountKey) (Account, error)
	// LockBalances returns the balance rows of the given accounts, locked for the
	// rest of the transaction.
	LockBalances(ctx context.Context, accountIDs []int64) (map[int64]Balance, error)
	InsertTransaction(ctx context.Context, t Transaction) error
	InsertPostings(ctx context.Context, postings []Posting) error
	ApplyBalanceDelta(ctx context.Context, accountID int64, d BalanceDelta, at time.Time) error
	GetTransaction(ctx context.Context, txID string) (Transaction, []Posting, error)
	// SumPostingsByRef is the signed sum of the account's postings that belong to
	// transactions carrying externalRef.
	SumPostingsByRef(ctx context.Context, accountID int64, externalRef string) (money.Amount, error)
	SumPostings(ctx context.Context, accountID int64) (money.Amount, error)
}

type IdempotencyTx interface {
	GetIdempotency(ctx context.Context, source, key string) (IdempotencyRecord, error)
	// InsertIdempotency returns ErrDuplicate when (source, key) already exists.
	InsertIdempotency(ctx context.Context, rec IdempotencyRecord) error
}

type OutboxTx interface {
	InsertOutbox(ctx context.Context, e OutboxEvent) error
}

// Tx is one atomic, serializable unit of work.
type Tx interface {
	LedgerTx
	IdempotencyTx
	OutboxTx
}

type OutboxStore interface {
	// ClaimOutbox leases up to limit unpublished rows due at now, oldest first,
	// pushing their next attempt to now+lease so concurrent publishers skip them.
	ClaimOutbox(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]OutboxEvent, error)
	MarkOutboxPublished(ctx context.Context, id string, at time.Time) error
	// MarkOutboxFailed records the failure and returns the new attempt count.
	MarkOutboxFailed(ctx context.Context, id string, lastErr string, nextAttemptAt time.Time) (int, error)
	OutboxStats(ctx context.Context) (OutboxStats, error)
	DeletePublishedOutbox(ctx context.Context, before time.Time, batchSize int) (int64, error)
}

type InboxStore interface {
	GetInbox(ctx context.Context, source, messageID string) (InboxEvent, error)
	// InsertInbox returns false when the (source, messageID) row already existed.
	InsertInbox(ctx context.Context, e InboxEvent) (bool, error)
	MarkInboxProcessed(ctx context.Context, source, messageID string, at time.Time, note string) error
	MarkInboxFailed(ctx context.Context, source, messageID, errMsg string) (int, error)
	ListRetryableInbox(ctx context.Context, maxAttempts, limit int) ([]InboxEvent, error)
}

type WithdrawalUpdate struct {
	Status        WithdrawalStatus
	ProviderRef   string
	FailureReason string
	NextCheckAt   time.Time
}

type DepositUpdate struct {
	Status        DepositStatus
	AmountMinor   money.Amount
	Confirmations int
	FailureReason string
	NextCheckAt   time.Time
}

type RequestStore interface {
	InsertWithdrawal(ctx context.Context, w WithdrawalRequest) (bool, error)
	GetWithdrawal(ctx context.Context, requestID string) (WithdrawalRequest, error)
	ClaimWithdrawals(ctx context.Context, statuses []WithdrawalStatus, now time.Time, lease time.Duration, limit int) ([]WithdrawalRequest, error)
	// UpdateWithdrawal applies u only while the row is still in status from.
	UpdateWithdrawal(ctx context.Context, requestID string, from WithdrawalStatus, u WithdrawalUpdate, at time.Time) error

	InsertDepositSession(ctx context.Context, s DepositSession) error
	GetDepositSession(ctx context.Context, sessionID string) (DepositSession, error)
	UpdateDepositSession(ctx context.Context, sessionID string, from, to SessionStatus, at time.Time) error
	ExpireDepositSessions(ctx context.Context, now time.Time) (int64, error)

	InsertDeposit(ctx context.Context, d DepositRequest) (bool, error)
	GetDepositByTxHash(ctx context.Context, txHash string) (DepositRequest, error)
	ClaimDeposits(ctx context.Context, statuses []DepositStatus, now time.Time, lease time.Duration, limit int) ([]DepositRequest, error)
	UpdateDeposit(ctx context.Context, depositID string, from DepositStatus, u DepositUpdate, at time.Time) error
}

type Store interface {
	// InTx runs fn inside one serializable transaction. fn's error rolls it back,
	// as does cancellation of ctx before commit.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Balances(ctx context.Context, playerID string) ([]Balance, error)
	FindAccount(ctx context.Context, key AccountKey) (Account, error)

	OutboxStore
	InboxStore
	RequestStore
}
