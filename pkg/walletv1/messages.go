// Package walletv1 is the wire contract of wallet.v1.WalletService: message
// types, the gRPC service descriptor, a client and the HTTP gateway routes.
// Messages travel as JSON over gRPC (content-subtype "json") and HTTP.
package walletv1

import (
	"encoding/json"
	"time"
)

// Result codes carried in every response.
const (
	ResultOK      = "OK"
	ResultInvalid = "INVALID"
	ResultDenied  = "DENIED"
	ResultError   = "ERROR"
)

type ResponseMeta struct {
	Ok         bool   `json:"ok"`
	ResultCode string `json:"code"`
	Message    string `json:"message,omitempty"`
	ServerTime string `json:"serverTime,omitempty"`
}

type Balance struct {
	Currency      string `json:"currency"`
	Network       string `json:"network"`
	BalanceMinor  int64  `json:"balanceMinor"`
	ReservedMinor int64  `json:"reservedMinor"`
	CashableMinor int64  `json:"cashableMinor"`
}

type ReserveWithdrawalRequest struct {
	PlayerId      string          `json:"playerId"`
	Currency      string          `json:"currency"`
	Network       string          `json:"network"`
	AmountMinor   int64           `json:"amountMinor"`
	RequestId     string          `json:"requestId"`
	CorrelationId string          `json:"correlationId,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
}

type FinalizeWithdrawalRequest struct {
	PlayerId      string `json:"playerId"`
	Currency      string `json:"currency"`
	Network       string `json:"network"`
	RequestId     string `json:"requestId"`
	FeeMinor      int64  `json:"feeMinor"`
	ProviderRef   string `json:"providerRef,omitempty"`
	CorrelationId string `json:"correlationId,omitempty"`
}

type ReleaseWithdrawalRequest struct {
	PlayerId      string `json:"playerId"`
	Currency      string `json:"currency"`
	Network       string `json:"network"`
	RequestId     string `json:"requestId"`
	Reason        string `json:"reason,omitempty"`
	CorrelationId string `json:"correlationId,omitempty"`
}

type ApplyDepositSettlementRequest struct {
	PlayerId       string          `json:"playerId"`
	Currency       string          `json:"currency"`
	Network        string          `json:"network"`
	AmountMinor    int64           `json:"amountMinor"`
	TxHash         string          `json:"txHash,omitempty"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty"`
	CorrelationId  string          `json:"correlationId,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
}

type PlaceBetRequest struct {
	PlayerId      string          `json:"playerId"`
	Currency      string          `json:"currency"`
	Network       string          `json:"network"`
	BetId         string          `json:"betId"`
	StakeMinor    int64           `json:"stakeMinor"`
	GameRef       string          `json:"gameRef,omitempty"`
	CorrelationId string          `json:"correlationId,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
}

type SettleWinRequest struct {
	PlayerId      string          `json:"playerId"`
	Currency      string          `json:"currency"`
	Network       string          `json:"network"`
	WinId         string          `json:"winId"`
	BetId         string          `json:"betId"`
	AmountMinor   int64           `json:"amountMinor"`
	CorrelationId string          `json:"correlationId,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
}

type RollbackRequest struct {
	RollbackId    string `json:"rollbackId"`
	TransactionId string `json:"transactionId,omitempty"`
	BetId         string `json:"betId,omitempty"`
	WinId         string `json:"winId,omitempty"`
	Reason        string `json:"reason,omitempty"`
	CorrelationId string `json:"correlationId,omitempty"`
}

// CommandResponse answers every money command. Replayed is set when the
// answer came from the stored idempotency record.
type CommandResponse struct {
	Meta          ResponseMeta `json:"meta"`
	TransactionId string       `json:"transactionId,omitempty"`
	TxType        string       `json:"txType,omitempty"`
	AmountMinor   int64        `json:"amountMinor,omitempty"`
	FeeMinor      int64        `json:"feeMinor,omitempty"`
	Reference     string       `json:"reference,omitempty"`
	Replayed      bool         `json:"replayed"`
	Balance       *Balance     `json:"balance,omitempty"`
}

type GetBalanceRequest struct {
	PlayerId string `json:"playerId"`
}

type GetBalanceResponse struct {
	Meta     ResponseMeta `json:"meta"`
	Balances []Balance    `json:"balances"`
}

type RequestWithdrawalRequest struct {
	RequestId     string `json:"requestId"`
	PlayerId      string `json:"playerId"`
	Currency      string `json:"currency"`
	Network       string `json:"network"`
	AmountMinor   int64  `json:"amountMinor"`
	FeeMinor      int64  `json:"feeMinor"`
	Target        string `json:"target"`
	CorrelationId string `json:"correlationId,omitempty"`
}

type GetWithdrawalRequest struct {
	RequestId string `json:"requestId"`
}

type Withdrawal struct {
	RequestId     string    `json:"requestId"`
	PlayerId      string    `json:"playerId"`
	Currency      string    `json:"currency"`
	Network       string    `json:"network"`
	AmountMinor   int64     `json:"amountMinor"`
	FeeMinor      int64     `json:"feeMinor"`
	Target        string    `json:"target"`
	Status        string    `json:"status"`
	ProviderRef   string    `json:"providerRef,omitempty"`
	FailureReason string    `json:"failureReason,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type WithdrawalResponse struct {
	Meta       ResponseMeta `json:"meta"`
	Withdrawal *Withdrawal  `json:"withdrawal,omitempty"`
}

type OpenDepositSessionRequest struct {
	PlayerId string `json:"playerId"`
	Currency string `json:"currency"`
	Network  string `json:"network"`
}

type DepositSession struct {
	SessionId string    `json:"sessionId"`
	PlayerId  string    `json:"playerId"`
	Currency  string    `json:"currency"`
	Network   string    `json:"network"`
	Address   string    `json:"address"`
	Status    string    `json:"status"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type DepositSessionResponse struct {
	Meta    ResponseMeta    `json:"meta"`
	Session *DepositSession `json:"session,omitempty"`
}

type RegisterDepositRequest struct {
	SessionId string `json:"sessionId,omitempty"`
	PlayerId  string `json:"playerId"`
	Currency  string `json:"currency,omitempty"`
	Network   string `json:"network,omitempty"`
	TxHash    string `json:"txHash"`
}

type Deposit struct {
	DepositId             string `json:"depositId"`
	SessionId             string `json:"sessionId,omitempty"`
	PlayerId              string `json:"playerId"`
	Currency              string `json:"currency"`
	Network               string `json:"network"`
	TxHash                string `json:"txHash"`
	AmountMinor           int64  `json:"amountMinor"`
	Confirmations         int    `json:"confirmations"`
	ConfirmationsRequired int    `json:"confirmationsRequired"`
	Status                string `json:"status"`
}

type DepositResponse struct {
	Meta    ResponseMeta `json:"meta"`
	Deposit *Deposit     `json:"deposit,omitempty"`
}

type GetSystemStatusRequest struct{}

type GetSystemStatusResponse struct {
	Meta        ResponseMeta `json:"meta"`
	ServiceName string       `json:"serviceName"`
	Version     string       `json:"version"`
	Uptime      string       `json:"uptime"`
}
