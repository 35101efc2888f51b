package audit

import (
	"context"
	"time"
)

type Result string

const (
	ResultSuccess Result = "success"
	ResultDenied  Result = "denied"
	ResultError   Result = "error"
)

// Object types recorded by the wallet.
const (
	ObjectLedgerTransaction = "ledger_transaction"
	ObjectOutboxEvent       = "outbox_event"
	ObjectInboxEvent        = "inbox_event"
	ObjectWithdrawal        = "withdrawal_request"
	ObjectDeposit           = "deposit_request"
)

type Event struct {
	AuditID      string
	OccurredAt   time.Time
	RecordedAt   time.Time
	ActorID      string
	ActorType    string
	AuthContext  string
	ObjectType   string
	ObjectID     string
	Action       string
	Before       []byte
	After        []byte
	Result       Result
	Reason       string
	PartitionDay string
	HashPrev     string
	HashCurr     string
}

// Recorder appends events to a hash chain.
type Recorder interface {
	Append(ctx context.Context, e Event) (Event, error)
}
