// Package money provides fixed-point amount handling for the marketplace.
//
// Amounts are whole currency units (no fractional minor unit) carried as
// decimal values end-to-end, never floats. Rate math multiplies then floors
// to the whole unit.
package money

import (
	"errors"

	"github.com/shopspring/decimal"
)

var ErrInvalidAmount = errors.New("money: invalid amount")

// Zero is the zero amount.
var Zero = decimal.Zero

// Parse converts a decimal string into an amount. Amounts must be
// non-negative whole numbers.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	if d.IsNegative() || !d.Equal(d.Floor()) {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// ParsePositive is Parse restricted to strictly positive amounts.
func ParsePositive(s string) (decimal.Decimal, error) {
	d, err := Parse(s)
	if err != nil {
		return decimal.Zero, err
	}
	if !d.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// ApplyPercent returns floor(a * pct / 100).
func ApplyPercent(a decimal.Decimal, pct int64) decimal.Decimal {
	return a.Mul(decimal.NewFromInt(pct)).Div(decimal.NewFromInt(100)).Floor()
}

// SplitCommission divides an order amount into the platform fee and the
// seller payout. The fee is floored, the payout is the remainder, so
// fee + payout always equals amount exactly.
func SplitCommission(amount decimal.Decimal, ratePct int64) (fee, payout decimal.Decimal) {
	fee = ApplyPercent(amount, ratePct)
	payout = amount.Sub(fee)
	return fee, payout
}
