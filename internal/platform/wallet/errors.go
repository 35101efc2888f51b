package wallet

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/idempotency"
)

var (
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrNoSuchReservation  = errors.New("no such reservation")
	ErrReservationClosed  = errors.New("reservation already finalized or released")
	ErrUnknownBet         = errors.New("unknown bet")
	ErrUnknownTransaction = errors.New("unknown transaction")
	ErrAlreadyRolledBack  = errors.New("transaction already rolled back")
	ErrBetSettled         = errors.New("bet wager already settled")
)

// ValidationError is a malformed command, rejected before any store write.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	var fields validator.ValidationErrors
	if errors.As(e.Err, &fields) {
		parts := make([]string, 0, len(fields))
		for _, f := range fields {
			parts = append(parts, fmt.Sprintf("%s failed on '%s'", f.Field(), f.Tag()))
		}
		return "invalid command: " + strings.Join(parts, ", ")
	}
	return "invalid command: " + e.Err.Error()
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(format string, args ...any) error {
	return &ValidationError{Err: fmt.Errorf(format, args...)}
}

// Result codes shared by the transport and the metrics labels.
const (
	CodeOK      = "OK"
	CodeInvalid = "INVALID"
	CodeDenied  = "DENIED"
	CodeError   = "ERROR"
)

func Code(err error) string {
	var ve *ValidationError
	switch {
	case err == nil:
		return CodeOK
	case errors.As(err, &ve), errors.Is(err, idempotency.ErrRequestMismatch):
		return CodeInvalid
	case IsDenial(err):
		return CodeDenied
	default:
		return CodeError
	}
}

// IsDenial reports business-rule rejections; they are final for the given
// command and are not retried.
func IsDenial(err error) bool {
	for _, target := range []error{
		ErrInsufficientFunds, ErrNoSuchReservation, ErrReservationClosed,
		ErrUnknownBet, ErrUnknownTransaction, ErrAlreadyRolledBack, ErrBetSettled,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
