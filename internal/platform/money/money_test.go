package money

import (
	"errors"
	"testing"
)

func TestParseDecimal(t *testing.T) {
	cases := []struct {
		in       string
		decimals int32
		want     Amount
		err      error
	}{
		{in: "0.015", decimals: 8, want: 1_500_000},
		{in: "12", decimals: 2, want: 1200},
		{in: "1.5", decimals: 6, want: 1_500_000},
		{in: "0.000001", decimals: 6, want: 1},
		{in: "0.0000001", decimals: 6, err: ErrFractionalMinor},
		{in: "abc", decimals: 2, err: ErrInvalidAmount},
		{in: "1", decimals: -1, err: ErrNegativeDecimals},
		{in: "100000000000000000000", decimals: 8, err: ErrAmountOutOfBounds},
	}
	for _, tc := range cases {
		got, err := ParseDecimal(tc.in, tc.decimals)
		if tc.err != nil {
			if !errors.Is(err, tc.err) {
				t.Fatalf("ParseDecimal(%q,%d) err=%v want %v", tc.in, tc.decimals, err, tc.err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseDecimal(%q,%d) unexpected err: %v", tc.in, tc.decimals, err)
		}
		if got != tc.want {
			t.Fatalf("ParseDecimal(%q,%d)=%d want %d", tc.in, tc.decimals, got, tc.want)
		}
	}
}

func TestDecimalRendering(t *testing.T) {
	if got := Amount(499_000).Decimal(6); got != "0.499000" {
		t.Fatalf("unexpected rendering: %s", got)
	}
	if got := Amount(1200).Decimal(2); got != "12.00" {
		t.Fatalf("unexpected rendering: %s", got)
	}
}

func TestArithmetic(t *testing.T) {
	a := Amount(1_000_000)
	if a.Sub(100_000).Add(180_000) != 1_080_000 {
		t.Fatalf("arithmetic broken")
	}
	if a.Cmp(a) != 0 || a.Cmp(a+1) != -1 || (a+1).Cmp(a) != 1 {
		t.Fatalf("cmp broken")
	}
	if Min(3, 2) != 2 || Amount(0).IsPositive() || !Amount(0).IsZero() {
		t.Fatalf("helpers broken")
	}
}
