package wallet

import (
	"encoding/json"
	"time"

	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/money"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/store"
)

// Idempotency sources, one per command.
const (
	SourceDeposit          = "wallet-deposit"
	SourceWithdrawReserve  = "wallet-withdraw-reserve"
	SourceWithdrawFinalize = "wallet-withdraw-finalize"
	SourceWithdrawRelease  = "wallet-withdraw-release"
	SourceBet              = "wallet-bet"
	SourceWin              = "wallet-win"
	SourceRollback         = "wallet-rollback"
	// SourceRollbackTarget maps an original TxID to the rollback that reversed it.
	SourceRollbackTarget = "wallet-rollback-target"
)

type ApplyDepositSettlement struct {
	PlayerID       string          `json:"playerId" validate:"required,max=128"`
	Currency       string          `json:"currency" validate:"required,max=16"`
	Network        string          `json:"network" validate:"required,max=32"`
	AmountMinor    money.Amount    `json:"amountMinor" validate:"gt=0"`
	TxHash         string          `json:"txHash" validate:"required_without=IdempotencyKey,max=256"`
	IdempotencyKey string          `json:"idempotencyKey" validate:"max=256"`
	CorrelationID  string          `json:"correlationId" validate:"max=128"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
}

type ReserveWithdrawal struct {
	PlayerID      string          `json:"playerId" validate:"required,max=128"`
	Currency      string          `json:"currency" validate:"required,max=16"`
	Network       string          `json:"network" validate:"required,max=32"`
	AmountMinor   money.Amount    `json:"amountMinor" validate:"gt=0"`
	RequestID     string          `json:"requestId" validate:"required,max=128"`
	CorrelationID string          `json:"correlationId" validate:"max=128"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
}

type FinalizeWithdrawal struct {
	PlayerID      string       `json:"playerId" validate:"required,max=128"`
	Currency      string       `json:"currency" validate:"required,max=16"`
	Network       string       `json:"network" validate:"required,max=32"`
	RequestID     string       `json:"requestId" validate:"required,max=128"`
	FeeMinor      money.Amount `json:"feeMinor" validate:"gte=0"`
	ProviderRef   string       `json:"providerRef" validate:"max=256"`
	CorrelationID string       `json:"correlationId" validate:"max=128"`
}

type ReleaseWithdrawal struct {
	PlayerID      string `json:"playerId" validate:"required,max=128"`
	Currency      string `json:"currency" validate:"required,max=16"`
	Network       string `json:"network" validate:"required,max=32"`
	RequestID     string `json:"requestId" validate:"required,max=128"`
	Reason        string `json:"reason" validate:"max=512"`
	CorrelationID string `json:"correlationId" validate:"max=128"`
}

type PlaceBet struct {
	PlayerID    string          `json:"playerId" validate:"required,max=128"`
	Currency    string          `json:"currency" validate:"required,max=16"`
	Network     string          `json:"network" validate:"required,max=32"`
	BetID       string          `json:"betId" validate:"required,max=128"`
	StakeMinor  money.Amount    `json:"stakeMinor" validate:"gt=0"`
	GameRef     string          `json:"gameRef" validate:"max=128"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	Correlation string          `json:"correlationId" validate:"max=128"`
}

type SettleWin struct {
	PlayerID    string          `json:"playerId" validate:"required,max=128"`
	Currency    string          `json:"currency" validate:"required,max=16"`
	Network     string          `json:"network" validate:"required,max=32"`
	WinID       string          `json:"winId" validate:"required,max=128"`
	BetID       string          `json:"betId" validate:"required,max=128"`
	AmountMinor money.Amount    `json:"amountMinor" validate:"gte=0"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	Correlation string          `json:"correlationId" validate:"max=128"`
}

// Rollback names its target by exactly one of TransactionID, BetID or WinID.
type Rollback struct {
	RollbackID    string `json:"rollbackId" validate:"required,max=128"`
	TransactionID string `json:"transactionId" validate:"required_without_all=BetID WinID,max=64"`
	BetID         string `json:"betId" validate:"max=128"`
	WinID         string `json:"winId" validate:"max=128"`
	Reason        string `json:"reason" validate:"max=512"`
	Correlation   string `json:"correlationId" validate:"max=128"`
}

// Result is what a command returns and what its idempotency record stores.
type Result struct {
	TransactionID string       `json:"transactionId"`
	TxType        store.TxType `json:"txType"`
	PlayerID      string       `json:"playerId"`
	Currency      string       `json:"currency"`
	Network       string       `json:"network"`
	AmountMinor   money.Amount `json:"amountMinor"`
	FeeMinor      money.Amount `json:"feeMinor,omitempty"`
	Reference     string       `json:"reference"`
	Main          BalanceView  `json:"main"`
	CreatedAt     time.Time    `json:"createdAt"`
	Replayed      bool         `json:"replayed"`
}

type BalanceView struct {
	Currency      string       `json:"currency"`
	Network       string       `json:"network"`
	BalanceMinor  money.Amount `json:"balanceMinor"`
	ReservedMinor money.Amount `json:"reservedMinor"`
	CashableMinor money.Amount `json:"cashableMinor"`
}

func viewOf(b store.Balance) BalanceView {
	return BalanceView{
		Currency:      b.Key.Asset.Currency,
		Network:       b.Key.Asset.Network,
		BalanceMinor:  b.BalanceMinor,
		ReservedMinor: b.ReservedMinor,
		CashableMinor: b.CashableMinor,
	}
}

// EventPayload is the JSON body of every wallet outbox event.
type EventPayload struct {
	EventType     string       `json:"eventType"`
	TransactionID string       `json:"txId"`
	PlayerID      string       `json:"playerId"`
	Currency      string       `json:"currency"`
	Network       string       `json:"network"`
	AmountMinor   money.Amount `json:"amountMinor"`
	FeeMinor      money.Amount `json:"feeMinor,omitempty"`
	Reference     string       `json:"reference"`
	RelatedTxID   string       `json:"relatedTxId,omitempty"`
	CorrelationID string       `json:"correlationId,omitempty"`
	OccurredAt    time.Time    `json:"occurredAt"`
}

func asset(currency, network string) store.CurrencyNetwork {
	return store.CurrencyNetwork{Currency: currency, Network: network}
}
