package tuition

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/tuition-engine/academy"
	"github.com/warp/tuition-engine/calendar"
	"github.com/warp/tuition-engine/money"
)

// =============================================================================
// MID-SEASON JOIN
// =============================================================================

type MidSeasonInput struct {
	SeasonFee   money.Amount
	SeasonStart calendar.Date
	SeasonEnd   calendar.Date
	JoinDate    calendar.Date
	Weekdays    calendar.WeekdaySet
}

type MidSeasonResult struct {
	OriginalFee   money.Amount `json:"original_fee"`
	ProratedFee   money.Amount `json:"prorated_fee"`
	Discount      money.Amount `json:"discount"`
	TotalDays     int          `json:"total_days"`
	RemainingDays int          `json:"remaining_days"`
	IsProrated    bool         `json:"is_prorated"`
	Details       string       `json:"details"`
}

// MidSeasonJoin computes the season fee for a student joining on JoinDate.
// Joining on or before the start pays in full; joining after the end pays
// nothing; otherwise the fee is scaled by remaining over total class days.
func MidSeasonJoin(in MidSeasonInput) (MidSeasonResult, error) {
	if err := validateSeasonWindow(in.SeasonFee, in.SeasonStart, in.SeasonEnd); err != nil {
		return MidSeasonResult{}, err
	}
	if in.JoinDate.IsZero() {
		return MidSeasonResult{}, &academy.ValidationError{Field: "join_date", Reason: "is required"}
	}

	full := MidSeasonResult{OriginalFee: in.SeasonFee, ProratedFee: in.SeasonFee}

	if in.JoinDate.BeforeOrEqual(in.SeasonStart) {
		full.Details = "registered before season start: no pro-ration"
		return full, nil
	}
	if in.JoinDate.After(in.SeasonEnd) {
		return MidSeasonResult{
			OriginalFee: in.SeasonFee,
			Discount:    in.SeasonFee,
			IsProrated:  true,
			Details:     "registered after season end: no season fee",
		}, nil
	}

	total := calendar.CountMatchingDays(in.SeasonStart, in.SeasonEnd, in.Weekdays)
	if total == 0 {
		full.Details = "no class days in season: full fee"
		return full, nil
	}
	remaining := calendar.CountMatchingDays(in.JoinDate, in.SeasonEnd, in.Weekdays)

	prorated := money.NewRatio(remaining, total).Of(in.SeasonFee).FloorToThousand()
	return MidSeasonResult{
		OriginalFee:   in.SeasonFee,
		ProratedFee:   prorated,
		Discount:      in.SeasonFee - prorated,
		TotalDays:     total,
		RemainingDays: remaining,
		IsProrated:    true,
		Details:       fmt.Sprintf("%s x (%d/%d days) = %s", in.SeasonFee, remaining, total, prorated),
	}, nil
}

// =============================================================================
// SEASON REFUND
// =============================================================================

type RefundPolicy string

const (
	// RefundLegal refunds 2/3 before a third of the course has elapsed, 1/2
	// before half, and nothing after.
	RefundLegal RefundPolicy = "legal"
	// RefundProrated refunds the unattended share of class days.
	RefundProrated RefundPolicy = "prorated"
)

// ParseRefundPolicy maps "" to RefundLegal and rejects unknown policies.
func ParseRefundPolicy(s string) (RefundPolicy, error) {
	switch RefundPolicy(s) {
	case "", RefundLegal:
		return RefundLegal, nil
	case RefundProrated:
		return RefundProrated, nil
	}
	return "", &academy.ValidationError{Field: "refund_policy", Reason: fmt.Sprintf("unknown policy %q", s)}
}

var (
	oneThird  = money.NewRatio(1, 3)
	oneHalf   = money.NewRatio(1, 2)
	twoThirds = money.NewRatio(2, 3)
	noRefund  = money.NewRatio(0, 1)
)

type RefundInput struct {
	SeasonFee        money.Amount
	SeasonStart      calendar.Date
	SeasonEnd        calendar.Date
	CancellationDate calendar.Date
	Weekdays         calendar.WeekdaySet
	Policy           RefundPolicy
}

type RefundResult struct {
	RefundAmount   money.Amount    `json:"refund_amount"`
	UsedAmount     money.Amount    `json:"used_amount"`
	TotalClassDays int             `json:"total_class_days"`
	AttendedDays   int             `json:"attended_days"`
	RemainingDays  int             `json:"remaining_days"`
	Progress       money.Ratio     `json:"-"`
	Rate           money.Ratio     `json:"-"`
	ProgressRate   string          `json:"progress_rate"`
	RefundRate     string          `json:"refund_rate"`
	ProgressValue  decimal.Decimal `json:"progress"`
	Policy         RefundPolicy    `json:"policy"`
	Reason         string          `json:"refund_reason"`
	PerClassFee    money.Amount    `json:"per_class_fee"`
	Formula        string          `json:"formula"`
}

// SeasonRefund computes the refund for cancelling on CancellationDate.
//
//	progress = attended / total   (1 when the season has no class days)
//	refund   = floor1000(fee * refundRate)
//
// Attendance is counted from the season start through the cancellation date,
// capped at the season end.
func SeasonRefund(in RefundInput) (RefundResult, error) {
	if err := validateSeasonWindow(in.SeasonFee, in.SeasonStart, in.SeasonEnd); err != nil {
		return RefundResult{}, err
	}
	if in.CancellationDate.IsZero() {
		return RefundResult{}, &academy.ValidationError{Field: "cancellation_date", Reason: "is required"}
	}
	policy, err := ParseRefundPolicy(string(in.Policy))
	if err != nil {
		return RefundResult{}, err
	}

	total := calendar.CountMatchingDays(in.SeasonStart, in.SeasonEnd, in.Weekdays)
	attended := calendar.CountMatchingDays(in.SeasonStart, calendar.MinDate(in.CancellationDate, in.SeasonEnd), in.Weekdays)

	progress := money.NewRatio(attended, total)
	if total == 0 {
		progress = money.NewRatio(1, 1)
	}

	var rate money.Ratio
	var reason string
	switch policy {
	case RefundLegal:
		rate, reason = legalTier(progress)
	case RefundProrated:
		rate = money.NewRatio(total-attended, total)
		reason = "prorated refund of unattended classes"
	}

	refund := rate.Of(in.SeasonFee).FloorToThousand()
	res := RefundResult{
		RefundAmount:   refund,
		UsedAmount:     in.SeasonFee - refund,
		TotalClassDays: total,
		AttendedDays:   attended,
		RemainingDays:  total - attended,
		Progress:       progress,
		Rate:           rate,
		ProgressRate:   progress.Percent(),
		RefundRate:     rate.Percent(),
		ProgressValue:  progress.Decimal(),
		Policy:         policy,
		Reason:         reason,
		Formula:        fmt.Sprintf("%s x %s = %s", in.SeasonFee, rate.Percent(), refund),
	}
	if total > 0 {
		res.PerClassFee = money.NewRatio(1, total).Of(in.SeasonFee)
	}
	return res, nil
}

// legalTier applies the statutory schedule. Breakpoints are exact fractions.
func legalTier(progress money.Ratio) (money.Ratio, string) {
	switch {
	case progress.Less(oneThird):
		return twoThirds, "before 1/3 of the course elapsed: 2/3 refunded"
	case progress.Less(oneHalf):
		return oneHalf, "before 1/2 of the course elapsed: 1/2 refunded"
	default:
		return noRefund, "1/2 or more of the course elapsed: no refund"
	}
}

func validateSeasonWindow(fee money.Amount, start, end calendar.Date) error {
	switch {
	case fee.IsNegative():
		return &academy.ValidationError{Field: "season_fee", Reason: "must not be negative"}
	case start.IsZero() || end.IsZero():
		return &academy.ValidationError{Field: "season", Reason: "start and end dates are required"}
	case end.Before(start):
		return &academy.ValidationError{Field: "season_end", Reason: "is before season start"}
	}
	return nil
}
