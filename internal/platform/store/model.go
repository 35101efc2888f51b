package store

import (
	"encoding/json"
	"time"

	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/money"
)

// SystemPlayerID owns the house and external clearing accounts.
const SystemPlayerID = "system"

type AccountType string

const (
	AccountMain         AccountType = "MAIN"
	AccountWithdrawHold AccountType = "WITHDRAW_HOLD"
	AccountBonus        AccountType = "BONUS"
	AccountHouse        AccountType = "HOUSE"
	AccountHouseWager   AccountType = "HOUSE_WAGER"
	AccountHouseFees    AccountType = "HOUSE_FEES"
	AccountExternal     AccountType = "EXTERNAL"
)

func (t AccountType) Valid() bool {
	switch t {
	case AccountMain, AccountWithdrawHold, AccountBonus, AccountHouse, AccountHouseWager, AccountHouseFees, AccountExternal:
		return true
	}
	return false
}

type CurrencyNetwork struct {
	Currency string `json:"currency"`
	Network  string `json:"network"`
}

func (c CurrencyNetwork) String() string {
	return c.Currency + ":" + c.Network
}

type AccountKey struct {
	PlayerID string
	Asset    CurrencyNetwork
	Type     AccountType
}

func PlayerAccount(playerID string, asset CurrencyNetwork, typ AccountType) AccountKey {
	return AccountKey{PlayerID: playerID, Asset: asset, Type: typ}
}

func SystemAccount(asset CurrencyNetwork, typ AccountType) AccountKey {
	return AccountKey{PlayerID: SystemPlayerID, Asset: asset, Type: typ}
}

type Account struct {
	ID        int64
	Key       AccountKey
	CreatedAt time.Time
}

type Balance struct {
	AccountID     int64
	Key           AccountKey
	BalanceMinor  money.Amount
	ReservedMinor money.Amount
	CashableMinor money.Amount
	UpdatedAt     time.Time
}

// BalanceDelta is what one transaction changes on one account's projection.
type BalanceDelta struct {
	Balance  money.Amount
	Reserved money.Amount
	Cashable money.Amount
}

func (d BalanceDelta) IsZero() bool {
	return d.Balance == 0 && d.Reserved == 0 && d.Cashable == 0
}

type TxType string

const (
	TxDeposit          TxType = "DEPOSIT"
	TxWithdrawReserve  TxType = "WITHDRAW_RESERVE"
	TxWithdrawFinalize TxType = "WITHDRAW_FINALIZE"
	TxWithdrawRelease  TxType = "WITHDRAW_RELEASE"
	TxBet              TxType = "BET"
	TxWin              TxType = "WIN"
	TxRollback         TxType = "ROLLBACK"
	TxFee              TxType = "FEE"
)

type Direction string

const (
	Debit  Direction = "DEBIT"
	Credit Direction = "CREDIT"
)

type Transaction struct {
	TxID        string
	TxType      TxType
	ExternalRef string
	Metadata    json.RawMessage
	CreatedAt   time.Time
}

type Posting struct {
	TxID      string
	AccountID int64
	Direction Direction
	Amount    money.Amount
	CreatedAt time.Time
}

// Signed returns the posting's effect on the account balance (credits positive).
func (p Posting) Signed() money.Amount {
	if p.Direction == Debit {
		return -p.Amount
	}
	return p.Amount
}

type IdempotencyRecord struct {
	Source      string
	Key         string
	TxID        string
	RequestHash []byte
	Response    json.RawMessage
	CreatedAt   time.Time
}

type OutboxEvent struct {
	ID            string
	EventType     string
	RoutingKey    string
	Payload       json.RawMessage
	CreatedAt     time.Time
	PublishedAt   *time.Time
	Attempts      int
	LastError     string
	NextAttemptAt time.Time
}

type OutboxStats struct {
	Pending       int64
	Published     int64
	OldestPending *time.Time
	MaxAttempts   int
}

type InboxEvent struct {
	ID           int64
	Source       string
	MessageID    string
	EventType    string
	Payload      json.RawMessage
	ReceivedAt   time.Time
	ProcessedAt  *time.Time
	ErrorMessage string
	Attempts     int
}

type WithdrawalStatus string

const (
	WithdrawalRequested   WithdrawalStatus = "REQUESTED"
	WithdrawalProcessing  WithdrawalStatus = "PROCESSING"
	WithdrawalBroadcasted WithdrawalStatus = "BROADCASTED"
	WithdrawalSettled     WithdrawalStatus = "SETTLED"
	WithdrawalFailed      WithdrawalStatus = "FAILED"
)

type WithdrawalRequest struct {
	RequestID     string
	PlayerID      string
	Asset         CurrencyNetwork
	AmountMinor   money.Amount
	FeeMinor      money.Amount
	Target        string
	Status        WithdrawalStatus
	ProviderRef   string
	FailureReason string
	CorrelationID string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	NextCheckAt   time.Time
}

type SessionStatus string

const (
	SessionOpen      SessionStatus = "OPEN"
	SessionCompleted SessionStatus = "COMPLETED"
	SessionExpired   SessionStatus = "EXPIRED"
)

type DepositSession struct {
	SessionID string
	PlayerID  string
	Asset     CurrencyNetwork
	Address   string
	Status    SessionStatus
	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

type DepositStatus string

const (
	DepositPending   DepositStatus = "PENDING"
	DepositConfirmed DepositStatus = "CONFIRMED"
	DepositSettled   DepositStatus = "SETTLED"
	DepositFailed    DepositStatus = "FAILED"
)

type DepositRequest struct {
	DepositID             string
	SessionID             string
	PlayerID              string
	Asset                 CurrencyNetwork
	TxHash                string
	AmountMinor           money.Amount
	Confirmations         int
	ConfirmationsRequired int
	Status                DepositStatus
	FailureReason         string
	CreatedAt             time.Time
	UpdatedAt             time.Time
	NextCheckAt           time.Time
}
