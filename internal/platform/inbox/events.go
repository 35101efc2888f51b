// Package inbox dedupes inbound provider and service events on
// (source, message id) and applies each one at most once.
package inbox

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/money"
)

type Envelope struct {
	Source    string          `json:"source"`
	MessageID string          `json:"messageId"`
	EventType string          `json:"eventType"`
	Payload   json.RawMessage `json:"payload"`
}

// Event is one of DepositConfirmed, WithdrawalCompleted, WithdrawalFailed or
// Unknown.
type Event interface {
	eventType() string
}

type DepositConfirmed struct {
	PlayerID    string       `json:"playerId"`
	Currency    string       `json:"currency"`
	Network     string       `json:"network"`
	TxHash      string       `json:"txHash"`
	AmountMinor money.Amount `json:"amountMinor"`
	// Amount and Decimals carry the provider's major-unit figure when it does
	// not report minor units.
	Amount        string `json:"amount,omitempty"`
	Decimals      int32  `json:"decimals,omitempty"`
	Confirmations int    `json:"confirmations"`
	CorrelationID string `json:"correlationId,omitempty"`
}

type WithdrawalCompleted struct {
	PlayerID      string       `json:"playerId"`
	Currency      string       `json:"currency"`
	Network       string       `json:"network"`
	RequestID     string       `json:"requestId"`
	FeeMinor      money.Amount `json:"feeMinor"`
	ProviderRef   string       `json:"providerRef"`
	CorrelationID string       `json:"correlationId,omitempty"`
}

type WithdrawalFailed struct {
	PlayerID      string `json:"playerId"`
	Currency      string `json:"currency"`
	Network       string `json:"network"`
	RequestID     string `json:"requestId"`
	Reason        string `json:"reason"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// Unknown is acknowledged without effect so that new producer event types do
// not block the stream.
type Unknown struct {
	Type string
	Raw  json.RawMessage
}

func (DepositConfirmed) eventType() string    { return "DepositConfirmed" }
func (WithdrawalCompleted) eventType() string { return "WithdrawalCompleted" }
func (WithdrawalFailed) eventType() string    { return "WithdrawalFailed" }
func (u Unknown) eventType() string           { return u.Type }

// TypeOf returns the event's type name for logs and metric labels.
func TypeOf(e Event) string {
	if _, ok := e.(Unknown); ok {
		return "unknown"
	}
	return e.eventType()
}

// Decode turns an envelope into its typed event. Both the PascalCase names and
// the dotted routing-key spelling are accepted.
func Decode(env Envelope) (Event, error) {
	var ev Event
	switch normalize(env.EventType) {
	case "depositconfirmed":
		var d DepositConfirmed
		if err := json.Unmarshal(env.Payload, &d); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.EventType, err)
		}
		if d.AmountMinor == 0 && d.Amount != "" {
			amt, err := money.ParseDecimal(d.Amount, d.Decimals)
			if err != nil {
				return nil, fmt.Errorf("decode %s amount: %w", env.EventType, err)
			}
			d.AmountMinor = amt
		}
		ev = d
	case "withdrawalcompleted":
		var w WithdrawalCompleted
		if err := json.Unmarshal(env.Payload, &w); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.EventType, err)
		}
		ev = w
	case "withdrawalfailed":
		var w WithdrawalFailed
		if err := json.Unmarshal(env.Payload, &w); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.EventType, err)
		}
		ev = w
	default:
		ev = Unknown{Type: env.EventType, Raw: env.Payload}
	}
	return ev, nil
}

func normalize(t string) string {
	return strings.ToLower(strings.NewReplacer(".", "", "_", "", "-", "").Replace(t))
}
