/*
decimal.go - Exact monetary arithmetic

PURPOSE:
  Every amount, quantity and ratio in the engine is a decimal.Decimal.
  Floats never enter a calculation; they only appear at the JSON edge
  when a client sends a bare number.

ROUNDING:
  decimal.Round is half away from zero, which is half-up for the
  non-negative values the reports produce.

    Money  -> 2 places (sales, cost, profit, profit rate)
    Ratio  -> 4 places (weighted-average unit cost)

DIVISION:
  SafeDiv short-circuits to zero when the divisor is zero. Averages and
  rates over empty sets resolve to 0 instead of failing.

SEE ALSO:
  - ledger/cost.go: Weighted-average cost calculator
*/
package generic

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	// MoneyPlaces is the precision of every reported monetary value.
	MoneyPlaces int32 = 2
	// RatioPlaces is the precision kept for intermediate unit costs.
	RatioPlaces int32 = 4
	// DivisionPrecision bounds non-terminating quotients before rounding.
	DivisionPrecision int32 = 20
)

var hundred = decimal.NewFromInt(100)

// SafeDiv returns a/b, or zero when b is zero.
func SafeDiv(a, b decimal.Decimal) decimal.Decimal {
	if b.IsZero() {
		return decimal.Zero
	}
	return a.DivRound(b, DivisionPrecision)
}

// RoundMoney rounds half-up to two places.
func RoundMoney(d decimal.Decimal) decimal.Decimal { return d.Round(MoneyPlaces) }

// RoundRatio rounds half-up to four places.
func RoundRatio(d decimal.Decimal) decimal.Decimal { return d.Round(RatioPlaces) }

// Percent returns part/whole*100 rounded to money precision.
// A non-positive whole yields zero.
func Percent(part, whole decimal.Decimal) decimal.Decimal {
	if !whole.IsPositive() {
		return decimal.Zero
	}
	return RoundMoney(SafeDiv(part, whole).Mul(hundred))
}

// ClampZero returns d, or zero if d is negative.
func ClampZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// Sum adds all values.
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// ParseDecimal parses a decimal from its string form.
func ParseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	return d, nil
}

// MustDecimal parses s and panics on failure. Test fixtures only.
func MustDecimal(s string) decimal.Decimal {
	d, err := ParseDecimal(s)
	if err != nil {
		panic(err)
	}
	return d
}
