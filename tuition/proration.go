/*
Package tuition holds the pure fee calculators: partial-month pro-ration,
mid-season join, season refund, rest credit and continuation discount.

PURPOSE:
  Every function in this package is deterministic and side-effect free. They
  take plain values, never a store, so request handlers can call them directly
  and the billing batch can compose them inside a transaction.

ARITHMETIC:
  Class-day fractions are exact integer ratios (money.Ratio) and are floored
  once, in integers. Percentage rates are decimal.Decimal. Every amount that
  leaves a calculator as "the" charge or refund has been through
  money.FloorToThousand.

BREAKDOWNS:
  Each result carries the counts and a formula string that produced it. The
  enrollment service persists these as JSON snapshots so a disputed charge
  can be explained later without recomputation.

SEE ALSO:
  - calendar.CountMatchingDays: the only class-day counter
  - money: rounding policy
*/
package tuition

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/tuition-engine/academy"
	"github.com/warp/tuition-engine/calendar"
	"github.com/warp/tuition-engine/money"
)

// =============================================================================
// PRO-RATION - Partial calendar month
// =============================================================================

// ProrationInput describes a partial month. The month is the calendar month
// containing PeriodEnd. PeriodStart is optional: zero means the first of that
// month ("bill until the non-season ends"); a later date bills from that day
// onward ("bill from enrollment day").
type ProrationInput struct {
	MonthlyFee   money.Amount
	Weekdays     calendar.WeekdaySet
	PeriodStart  calendar.Date
	PeriodEnd    calendar.Date
	DiscountRate decimal.Decimal // percent
}

// ProrationResult is the pro-rated charge and how it was derived.
type ProrationResult struct {
	Amount         money.Amount    `json:"prorated_fee"`
	BaseProrated   money.Amount    `json:"base_amount"`
	DiscountAmount money.Amount    `json:"discount_amount"`
	ClassesCounted int             `json:"class_count_until_end"`
	TotalClasses   int             `json:"total_monthly_classes"`
	PerClassRate   decimal.Decimal `json:"per_class_fee"`
	PeriodStart    calendar.Date   `json:"period_start"`
	PeriodEnd      calendar.Date   `json:"period_end"`
	Month          string          `json:"month"`
	NoClassDays    bool            `json:"no_class_days"`
	ClassDates     []calendar.Date `json:"class_dates"`
	Formula        string          `json:"formula"`
	Description    string          `json:"description"`
}

// ProRate computes the charge for part of a calendar month.
//
//	perClass     = fee / totalClassesInMonth
//	baseProrated = floor(perClass * classesInPeriod)
//	discount     = floor(baseProrated * rate / 100)
//	amount       = floor1000(baseProrated - discount)
//
// A month with no class days (including an empty weekday set) is charged the
// full monthly fee and flagged NoClassDays.
func ProRate(in ProrationInput) (ProrationResult, error) {
	if err := in.validate(); err != nil {
		return ProrationResult{}, err
	}

	month := in.PeriodEnd.YearMonth()
	start := in.PeriodStart
	if start.IsZero() {
		start = month.FirstDay()
	}

	total := calendar.CountMatchingDays(month.FirstDay(), month.LastDay(), in.Weekdays)
	res := ProrationResult{
		TotalClasses: total,
		PeriodStart:  start,
		PeriodEnd:    in.PeriodEnd,
		Month:        month.String(),
		PerClassRate: decimal.Zero,
	}

	if total == 0 {
		res.NoClassDays = true
		res.BaseProrated = in.MonthlyFee
		res.Formula = fmt.Sprintf("no class days in %s: full monthly fee %s", month, in.MonthlyFee)
	} else {
		res.ClassDates = calendar.MatchingDays(start, in.PeriodEnd, in.Weekdays)
		res.ClassesCounted = len(res.ClassDates)
		res.PerClassRate = in.MonthlyFee.Decimal().DivRound(decimal.NewFromInt(int64(total)), 2)
		res.BaseProrated = money.NewRatio(res.ClassesCounted, total).Of(in.MonthlyFee)
		res.Formula = fmt.Sprintf("%s / %d classes x %d classes = %s",
			in.MonthlyFee, total, res.ClassesCounted, res.BaseProrated)
	}

	res.DiscountAmount = money.PercentOf(res.BaseProrated, in.DiscountRate)
	res.Amount = (res.BaseProrated - res.DiscountAmount).FloorToThousand()
	res.Description = fmt.Sprintf("%s ~ %s: %d of %d classes", start, in.PeriodEnd, res.ClassesCounted, total)
	return res, nil
}

// ProRateFromJoin bills from joinDate through the end of its month.
func ProRateFromJoin(fee money.Amount, weekdays calendar.WeekdaySet, joinDate calendar.Date, discountRate decimal.Decimal) (ProrationResult, error) {
	if joinDate.IsZero() {
		return ProrationResult{}, &academy.ValidationError{Field: "join_date", Reason: "is required"}
	}
	return ProRate(ProrationInput{
		MonthlyFee:   fee,
		Weekdays:     weekdays,
		PeriodStart:  joinDate,
		PeriodEnd:    joinDate.YearMonth().LastDay(),
		DiscountRate: discountRate,
	})
}

func (in ProrationInput) validate() error {
	switch {
	case in.PeriodEnd.IsZero():
		return &academy.ValidationError{Field: "period_end", Reason: "is required"}
	case in.MonthlyFee.IsNegative():
		return &academy.ValidationError{Field: "monthly_fee", Reason: "must not be negative"}
	case !money.ValidPercent(in.DiscountRate):
		return &academy.ValidationError{Field: "discount_rate", Reason: "must be within 0-100"}
	}
	if in.PeriodStart.IsZero() {
		return nil
	}
	if in.PeriodEnd.Before(in.PeriodStart) {
		return &academy.ValidationError{Field: "period_end", Reason: "is before period start"}
	}
	if in.PeriodStart.YearMonth() != in.PeriodEnd.YearMonth() {
		return &academy.ValidationError{Field: "period_start", Reason: "must be in the same month as period end"}
	}
	return nil
}
