/*
Package money holds the currency arithmetic shared by every calculator.

PURPOSE:
  All amounts are integer won (the minor unit of the only supported
  currency). Fractions appear in exactly two places: percentage rates
  (decimal.Decimal, e.g. a 12.5% discount) and class-day ratios (exact
  integer fractions). Neither is ever converted to float64 on the way to a
  persisted amount.

ROUNDING POLICY:
  Every computed amount is truncated down to a multiple of 1,000 before it is
  persisted. Truncation is a floor, never a round-half-up. User-entered amounts
  (a manually set tuition rate) are stored as given.

SEE ALSO:
  - tuition/: calculators built on these helpers
*/
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Integer won
// =============================================================================

// Amount is a currency amount in won.
type Amount int64

const Unit Amount = 1000

var (
	hundred = decimal.NewFromInt(100)
	unit    = decimal.NewFromInt(int64(Unit))
)

func (a Amount) Decimal() decimal.Decimal { return decimal.NewFromInt(int64(a)) }
func (a Amount) IsPositive() bool         { return a > 0 }
func (a Amount) IsNegative() bool         { return a < 0 }

// FloorToThousand truncates the amount down to a multiple of 1,000.
func (a Amount) FloorToThousand() Amount {
	return Amount(floorDiv(int64(a), int64(Unit)) * int64(Unit))
}

// String formats the amount with thousands separators, e.g. "153,000원".
func (a Amount) String() string {
	n := int64(a)
	sign := ""
	if n < 0 {
		sign, n = "-", -n
	}
	s := fmt.Sprintf("%d", n)
	for i := len(s) - 3; i > 0; i -= 3 {
		s = s[:i] + "," + s[i:]
	}
	return sign + s + "원"
}

// Min returns the smaller of a and b.
func Min(a, b Amount) Amount {
	if a < b {
		return a
	}
	return b
}

// =============================================================================
// ROUNDING POLICY
// =============================================================================

// FloorToThousand computes floor(v / 1000) * 1000 for a real-valued amount.
func FloorToThousand(v decimal.Decimal) Amount {
	return Amount(v.Div(unit).Floor().Mul(unit).IntPart())
}

// Floor truncates a real-valued amount to whole won.
func Floor(v decimal.Decimal) Amount {
	return Amount(v.Floor().IntPart())
}

// =============================================================================
// RATES AND RATIOS
// =============================================================================

// PercentOf returns floor(a * rate / 100) in whole won. rate is a percentage
// in [0, 100]; callers validate the range.
func PercentOf(a Amount, rate decimal.Decimal) Amount {
	return Floor(a.Decimal().Mul(rate).Shift(-2))
}

// ValidPercent reports whether rate lies in [0, 100].
func ValidPercent(rate decimal.Decimal) bool {
	return !rate.IsNegative() && rate.LessThanOrEqual(hundred)
}

// Ratio is an exact non-negative fraction Num/Den. A zero denominator is
// treated as the value 0.
type Ratio struct {
	Num int64
	Den int64
}

func NewRatio(num, den int) Ratio { return Ratio{Num: int64(num), Den: int64(den)} }

// Of returns floor(a * Num / Den) computed in integers.
func (r Ratio) Of(a Amount) Amount {
	if r.Den == 0 {
		return 0
	}
	return Amount(floorDiv(int64(a)*r.Num, r.Den))
}

// Less reports whether r < o, compared by cross-multiplication.
func (r Ratio) Less(o Ratio) bool {
	return r.Num*o.Den < o.Num*r.Den
}

// Decimal returns the ratio rounded to four decimal places.
func (r Ratio) Decimal() decimal.Decimal {
	if r.Den == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(r.Num).DivRound(decimal.NewFromInt(r.Den), 4)
}

// Percent renders the ratio as a percentage with two decimals, e.g. "66.67%".
func (r Ratio) Percent() string {
	if r.Den == 0 {
		return "0.00%"
	}
	return decimal.NewFromInt(r.Num).Mul(hundred).DivRound(decimal.NewFromInt(r.Den), 2).StringFixed(2) + "%"
}

func (r Ratio) String() string { return fmt.Sprintf("%d/%d", r.Num, r.Den) }

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
