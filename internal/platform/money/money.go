// Package money holds the integer minor-unit amount used everywhere money moves.
package money

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrFractionalMinor   = errors.New("amount has more precision than the currency allows")
	ErrNegativeDecimals  = errors.New("decimals must be >= 0")
	ErrAmountOutOfBounds = errors.New("amount does not fit in minor units")
)

// Amount is a count of minor units (satoshi, cent, sun). It is never a float.
type Amount int64

func (a Amount) Add(b Amount) Amount { return a + b }
func (a Amount) Sub(b Amount) Amount { return a - b }
func (a Amount) Neg() Amount         { return -a }
func (a Amount) IsPositive() bool    { return a > 0 }
func (a Amount) IsZero() bool        { return a == 0 }
func (a Amount) Int64() int64        { return int64(a) }

// Cmp returns -1, 0 or +1.
func (a Amount) Cmp(b Amount) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func Min(a, b Amount) Amount {
	if a < b {
		return a
	}
	return b
}

func (a Amount) String() string {
	return strconv.FormatInt(int64(a), 10)
}

// ParseDecimal converts a provider-reported major-unit string ("0.015") into minor
// units for a currency with the given number of decimals. Values that would need
// rounding are rejected.
func ParseDecimal(s string, decimals int32) (Amount, error) {
	if decimals < 0 {
		return 0, ErrNegativeDecimals
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	minor := d.Shift(decimals)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, fmt.Errorf("%w: %q with %d decimals", ErrFractionalMinor, s, decimals)
	}
	if !minor.BigInt().IsInt64() {
		return 0, fmt.Errorf("%w: %q", ErrAmountOutOfBounds, s)
	}
	return Amount(minor.IntPart()), nil
}

// Decimal renders the amount in major units.
func (a Amount) Decimal(decimals int32) string {
	return decimal.New(int64(a), -decimals).StringFixed(decimals)
}
