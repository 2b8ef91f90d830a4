package api

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/warp/installment-ledger/ledger"
)

var errFractionalCents = errors.New("amount has more than two decimal places")

// ParseCents converts a decimal amount such as "12.50" to cents exactly.
func ParseCents(s string) (ledger.Cents, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	cents := d.Shift(2)
	if !cents.Equal(cents.Truncate(0)) {
		return 0, fmt.Errorf("invalid amount %q: %w", s, errFractionalCents)
	}
	if cents.Abs().GreaterThan(decimal.New(1, 15)) {
		return 0, fmt.Errorf("invalid amount %q: out of range", s)
	}
	return ledger.Cents(cents.IntPart()), nil
}

// formatAmount renders cents as a two-decimal string.
func formatAmount(c ledger.Cents) string {
	return decimal.New(int64(c), -2).StringFixed(2)
}
