// Package provider is the contract the wallet needs from a payment or chain
// provider, and a deterministic in-memory simulator of one.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/money"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/store"
)

// ErrUnavailable marks transient provider failures; callers retry later.
var ErrUnavailable = errors.New("provider unavailable")

// PermanentError is a provider rejection that will not change on retry. It
// drives the request to FAILED and releases any reservation.
type PermanentError struct {
	Reason string
}

func (e *PermanentError) Error() string { return "provider rejected: " + e.Reason }

func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

type DepositSession struct {
	Address   string
	ExpiresAt time.Time
}

type DepositStatus struct {
	Found         bool
	Confirmations int
	// Amount is the major-unit figure as the provider reports it.
	Amount   string
	Decimals int32
}

// AmountMinor converts the reported amount into minor units.
func (s DepositStatus) AmountMinor() (money.Amount, error) {
	if s.Amount == "" {
		return 0, nil
	}
	return money.ParseDecimal(s.Amount, s.Decimals)
}

type TxState string

const (
	TxPending   TxState = "PENDING"
	TxConfirmed TxState = "CONFIRMED"
	TxFailed    TxState = "FAILED"
)

type TransactionStatus struct {
	Status        TxState
	Confirmations int
	IsFinal       bool
	FeeMinor      money.Amount
	Reason        string
}

type Withdrawal struct {
	RequestID   string
	Asset       store.CurrencyNetwork
	Target      string
	AmountMinor money.Amount
}

type Adapter interface {
	Name() string
	CreateDepositSession(ctx context.Context, playerID string, asset store.CurrencyNetwork) (DepositSession, error)
	VerifyDeposit(ctx context.Context, asset store.CurrencyNetwork, txHash string) (DepositStatus, error)
	// SendWithdrawal broadcasts the payout and returns the provider reference.
	// Implementations must treat RequestID as an idempotency key.
	SendWithdrawal(ctx context.Context, w Withdrawal) (string, error)
	GetTransactionStatus(ctx context.Context, asset store.CurrencyNetwork, reference string) (TransactionStatus, error)
}

func unavailable(op string) error {
	return fmt.Errorf("%s: %w", op, ErrUnavailable)
}
