package tuition

import (
	"fmt"

	"github.com/warp/tuition-engine/academy"
	"github.com/warp/tuition-engine/calendar"
	"github.com/warp/tuition-engine/money"
)

// TransitionPreview shows what a student will be charged around a season
// switch: the pro-rated non-season month and the unbilled gap, if any,
// between the non-season end and the season start.
type TransitionPreview struct {
	StudentID       academy.StudentID `json:"student_id"`
	StudentName     string            `json:"student_name"`
	MonthlyFee      money.Amount      `json:"monthly_fee"`
	Weekdays        string            `json:"weekly_schedule"`
	NonSeasonEnd    calendar.Date     `json:"non_season_end_date"`
	SeasonStart     calendar.Date     `json:"season_start_date"`
	ProratedMonth   string            `json:"prorated_month"`
	ProratedAmount  money.Amount      `json:"prorated_amount"`
	ProratedDetails ProrationResult   `json:"prorated_details"`
	HasGap          bool              `json:"has_gap"`
	Gap             *GapPeriod        `json:"gap_period,omitempty"`
	ChargeReason    string            `json:"charge_reason"`
}

type GapPeriod struct {
	Start calendar.Date `json:"start"`
	End   calendar.Date `json:"end"`
	Days  int           `json:"days"`
}

// PreviewTransition computes the non-season pro-ration for student ahead of
// season. It writes nothing.
func PreviewTransition(student academy.Student, season academy.Season) (TransitionPreview, error) {
	if err := season.Validate(); err != nil {
		return TransitionPreview{}, err
	}
	pr, err := ProRate(ProrationInput{
		MonthlyFee:   student.MonthlyTuition,
		Weekdays:     student.Weekdays,
		PeriodEnd:    season.NonSeasonEnd,
		DiscountRate: student.DiscountRate,
	})
	if err != nil {
		return TransitionPreview{}, err
	}

	p := TransitionPreview{
		StudentID:       student.ID,
		StudentName:     student.Name,
		MonthlyFee:      student.MonthlyTuition,
		Weekdays:        student.Weekdays.Korean(),
		NonSeasonEnd:    season.NonSeasonEnd,
		SeasonStart:     season.Start,
		ProratedMonth:   pr.Month,
		ProratedAmount:  pr.Amount,
		ProratedDetails: pr,
		ChargeReason:    fmt.Sprintf("pro-rated through non-season end %s", season.NonSeasonEnd),
	}

	gap := calendar.Period{Start: season.NonSeasonEnd.AddDays(1), End: season.Start.AddDays(-1)}
	if !gap.IsEmpty() {
		p.HasGap = true
		p.Gap = &GapPeriod{Start: gap.Start, End: gap.End, Days: gap.Days()}
	}
	return p, nil
}
