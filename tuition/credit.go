package tuition

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/tuition-engine/academy"
	"github.com/warp/tuition-engine/calendar"
	"github.com/warp/tuition-engine/money"
)

// =============================================================================
// REST CREDIT - Amount earned by pausing
// =============================================================================

type RestCreditResult struct {
	Amount      money.Amount       `json:"credit_amount"`
	RestDays    int                `json:"rest_days"`
	DaysInMonth int                `json:"days_in_month"`
	DailyRate   decimal.Decimal    `json:"daily_rate"`
	Month       calendar.YearMonth `json:"-"`
	Period      calendar.Period    `json:"-"`
	Formula     string             `json:"formula"`
}

// RestCreditAmount computes the credit for resting from start to end.
// Only the part of the rest that falls in start's calendar month counts:
//
//	credit = floor1000(fee / daysInMonth * restDays)
func RestCreditAmount(fee money.Amount, start, end calendar.Date) (RestCreditResult, error) {
	switch {
	case fee.IsNegative():
		return RestCreditResult{}, &academy.ValidationError{Field: "monthly_fee", Reason: "must not be negative"}
	case start.IsZero() || end.IsZero():
		return RestCreditResult{}, &academy.ValidationError{Field: "rest_period", Reason: "start and end dates are required"}
	case end.Before(start):
		return RestCreditResult{}, &academy.ValidationError{Field: "rest_end", Reason: "is before rest start"}
	}

	month := start.YearMonth()
	overlap := calendar.Period{Start: start, End: end}.Intersect(month.Period())
	days := overlap.Days()
	inMonth := month.Days()

	amount := money.NewRatio(days, inMonth).Of(fee).FloorToThousand()
	return RestCreditResult{
		Amount:      amount,
		RestDays:    days,
		DaysInMonth: inMonth,
		DailyRate:   fee.Decimal().DivRound(decimal.NewFromInt(int64(inMonth)), 2),
		Month:       month,
		Period:      overlap,
		Formula:     fmt.Sprintf("%s / %d days x %d days = %s", fee, inMonth, days, amount),
	}, nil
}

// =============================================================================
// CONTINUATION DISCOUNT
// =============================================================================

// ContinuationDiscount applies a season's continuation policy to fee for a
// student enrolling straight after a previous season. It returns the discount
// and the fee left to charge. Students that are not continuing get nothing.
func ContinuationDiscount(fee money.Amount, policy academy.ContinuationDiscount, continuous bool) (discount, charged money.Amount, err error) {
	if fee.IsNegative() {
		return 0, 0, &academy.ValidationError{Field: "season_fee", Reason: "must not be negative"}
	}
	if !continuous {
		return 0, fee, nil
	}
	switch policy.Type {
	case academy.ContinuationFree:
		return fee, 0, nil
	case academy.ContinuationRate:
		if !money.ValidPercent(policy.Rate) {
			return 0, 0, &academy.ValidationError{Field: "continuous_discount_rate", Reason: "must be within 0-100"}
		}
		discount = money.PercentOf(fee, policy.Rate).FloorToThousand()
		return discount, fee - discount, nil
	case academy.ContinuationNone, "":
		return 0, fee, nil
	}
	return 0, 0, &academy.ValidationError{Field: "continuous_discount_type", Reason: fmt.Sprintf("unknown type %q", policy.Type)}
}
