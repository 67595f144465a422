package tuition_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/tuition-engine/academy"
	"github.com/warp/tuition-engine/calendar"
	"github.com/warp/tuition-engine/money"
	"github.com/warp/tuition-engine/tuition"
)

// September 2025 starts on a Monday; July 2025 on a Tuesday; August 2025 on a Friday.
var (
	monWedFri = calendar.NewWeekdaySet(time.Monday, time.Wednesday, time.Friday)
	weekdays  = calendar.NewWeekdaySet(time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday)
	d         = calendar.MustParseDate
)

// =============================================================================
// PRO-RATION
// =============================================================================

func TestProRate_FirstTenDaysOfSeptember(t *testing.T) {
	// GIVEN: 400,000 a month, Mon/Wed/Fri, non-season ends on the 10th
	// WHEN: Pro-rating September
	// THEN: 5 of 13 classes are billed, floored to 153,000

	res, err := tuition.ProRate(tuition.ProrationInput{
		MonthlyFee: 400000,
		Weekdays:   monWedFri,
		PeriodEnd:  d("2025-09-10"),
	})
	require.NoError(t, err)

	assert.Equal(t, 5, res.ClassesCounted)
	assert.Equal(t, 13, res.TotalClasses)
	assert.Equal(t, money.Amount(153846), res.BaseProrated)
	assert.Equal(t, money.Amount(0), res.DiscountAmount)
	assert.Equal(t, money.Amount(153000), res.Amount)
	assert.Equal(t, "30769.23", res.PerClassRate.String())
	assert.Equal(t, "2025-09", res.Month)
	assert.Equal(t, "2025-09-01", res.PeriodStart.String())
	assert.Len(t, res.ClassDates, 5)
	assert.False(t, res.NoClassDays)
	assert.Contains(t, res.Formula, "13 classes x 5 classes")
}

func TestProRate_WithDiscount(t *testing.T) {
	res, err := tuition.ProRate(tuition.ProrationInput{
		MonthlyFee:   400000,
		Weekdays:     monWedFri,
		PeriodEnd:    d("2025-09-10"),
		DiscountRate: decimal.NewFromInt(10),
	})
	require.NoError(t, err)

	assert.Equal(t, money.Amount(15384), res.DiscountAmount)
	assert.Equal(t, money.Amount(138000), res.Amount)
}

func TestProRate_NoClassDaysChargesFullFee(t *testing.T) {
	// GIVEN: A student with no configured class days
	// WHEN: Pro-rating a 300,000 tuition
	// THEN: The full fee is returned, not 0, and the condition is flagged

	res, err := tuition.ProRate(tuition.ProrationInput{
		MonthlyFee: 300000,
		Weekdays:   0,
		PeriodEnd:  d("2025-09-10"),
	})
	require.NoError(t, err)

	assert.Equal(t, money.Amount(300000), res.Amount)
	assert.True(t, res.NoClassDays)
	assert.Equal(t, 0, res.TotalClasses)
}

func TestProRate_FromJoinDate(t *testing.T) {
	// Sept 11-30 holds 8 of the month's 13 Mon/Wed/Fri classes.
	res, err := tuition.ProRateFromJoin(400000, monWedFri, d("2025-09-11"), decimal.Zero)
	require.NoError(t, err)

	assert.Equal(t, 8, res.ClassesCounted)
	assert.Equal(t, money.Amount(246153), res.BaseProrated)
	assert.Equal(t, money.Amount(246000), res.Amount)
	assert.Equal(t, "2025-09-30", res.PeriodEnd.String())
}

func TestProRate_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		in   tuition.ProrationInput
	}{
		{"missing period end", tuition.ProrationInput{MonthlyFee: 1000, Weekdays: monWedFri}},
		{"negative fee", tuition.ProrationInput{MonthlyFee: -1, Weekdays: monWedFri, PeriodEnd: d("2025-09-10")}},
		{"rate above 100", tuition.ProrationInput{MonthlyFee: 1000, PeriodEnd: d("2025-09-10"), DiscountRate: decimal.NewFromInt(101)}},
		{"negative rate", tuition.ProrationInput{MonthlyFee: 1000, PeriodEnd: d("2025-09-10"), DiscountRate: decimal.NewFromInt(-5)}},
		{"end before start", tuition.ProrationInput{MonthlyFee: 1000, PeriodStart: d("2025-09-12"), PeriodEnd: d("2025-09-10")}},
		{"start in another month", tuition.ProrationInput{MonthlyFee: 1000, PeriodStart: d("2025-08-28"), PeriodEnd: d("2025-09-10")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tuition.ProRate(tt.in)
			assert.ErrorIs(t, err, academy.ErrValidation)
			var ve *academy.ValidationError
			assert.ErrorAs(t, err, &ve)
		})
	}
}

func TestProRate_AlwaysFlooredMultipleWithinFee(t *testing.T) {
	fees := []money.Amount{0, 999, 123457, 400000, 1000000}
	sets := []calendar.WeekdaySet{0, monWedFri, weekdays, calendar.NewWeekdaySet(time.Sunday)}
	rates := []decimal.Decimal{decimal.Zero, decimal.RequireFromString("12.5"), decimal.NewFromInt(100)}

	for _, fee := range fees {
		for _, set := range sets {
			for _, rate := range rates {
				for day := d("2025-02-01"); !day.After(d("2025-02-28")); day = day.AddDays(1) {
					res, err := tuition.ProRate(tuition.ProrationInput{MonthlyFee: fee, Weekdays: set, PeriodEnd: day, DiscountRate: rate})
					require.NoError(t, err)
					assert.Zero(t, res.Amount%1000, "fee=%d set=%s end=%s", fee, set, day)
					assert.GreaterOrEqual(t, int64(res.Amount), int64(0))
					assert.LessOrEqual(t, int64(res.Amount), int64(fee.FloorToThousand()))
				}
			}
		}
	}
}

// =============================================================================
// MID-SEASON JOIN
// =============================================================================

// Summer season: 2025-07-01..2025-08-31, Mon/Wed/Fri: 13 classes in July and 13 in August.
func summer(join string) tuition.MidSeasonInput {
	return tuition.MidSeasonInput{
		SeasonFee:   1000000,
		SeasonStart: d("2025-07-01"),
		SeasonEnd:   d("2025-08-31"),
		JoinDate:    d(join),
		Weekdays:    monWedFri,
	}
}

func TestMidSeasonJoin(t *testing.T) {
	tests := []struct {
		name         string
		in           tuition.MidSeasonInput
		wantFee      money.Amount
		wantDiscount money.Amount
		wantProrated bool
		wantTotal    int
		wantLeft     int
	}{
		{"before start", summer("2025-06-20"), 1000000, 0, false, 0, 0},
		{"on start", summer("2025-07-01"), 1000000, 0, false, 0, 0},
		{"half way", summer("2025-08-01"), 500000, 500000, true, 26, 13},
		{"floored", summer("2025-08-04"), 461000, 539000, true, 26, 12},
		{"after end", summer("2025-09-01"), 0, 1000000, true, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := tuition.MidSeasonJoin(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.wantFee, res.ProratedFee)
			assert.Equal(t, tt.wantDiscount, res.Discount)
			assert.Equal(t, tt.wantProrated, res.IsProrated)
			assert.Equal(t, tt.wantTotal, res.TotalDays)
			assert.Equal(t, tt.wantLeft, res.RemainingDays)
			assert.Equal(t, money.Amount(1000000), res.OriginalFee)
			assert.NotEmpty(t, res.Details)
		})
	}
}

func TestMidSeasonJoin_NoClassDaysChargesFullFee(t *testing.T) {
	in := summer("2025-08-04")
	in.Weekdays = 0
	res, err := tuition.MidSeasonJoin(in)
	require.NoError(t, err)
	assert.Equal(t, money.Amount(1000000), res.ProratedFee)
	assert.False(t, res.IsProrated)
}

func TestMidSeasonJoin_Invalid(t *testing.T) {
	in := summer("2025-08-04")
	in.SeasonEnd = d("2025-06-30")
	_, err := tuition.MidSeasonJoin(in)
	assert.ErrorIs(t, err, academy.ErrValidation)

	in = summer("2025-08-04")
	in.JoinDate = calendar.Date{}
	_, err = tuition.MidSeasonJoin(in)
	assert.ErrorIs(t, err, academy.ErrValidation)
}

// =============================================================================
// SEASON REFUND
// =============================================================================

// Two-week course: 2025-09-01..2025-09-12, Mon-Fri, 10 classes.
func twoWeeks(cancel string, policy tuition.RefundPolicy) tuition.RefundInput {
	return tuition.RefundInput{
		SeasonFee:        500000,
		SeasonStart:      d("2025-09-01"),
		SeasonEnd:        d("2025-09-12"),
		CancellationDate: d(cancel),
		Weekdays:         weekdays,
		Policy:           policy,
	}
}

func TestSeasonRefund_LegalAtFortyPercent(t *testing.T) {
	// GIVEN: 4 of 10 classes attended (progress 0.4)
	// WHEN: Cancelling under the legal policy
	// THEN: Half the fee is refunded

	res, err := tuition.SeasonRefund(twoWeeks("2025-09-04", tuition.RefundLegal))
	require.NoError(t, err)

	assert.Equal(t, 4, res.AttendedDays)
	assert.Equal(t, 10, res.TotalClassDays)
	assert.Equal(t, 6, res.RemainingDays)
	assert.Equal(t, money.NewRatio(1, 2), res.Rate)
	assert.Equal(t, "40.00%", res.ProgressRate)
	assert.Equal(t, "50.00%", res.RefundRate)
	assert.Equal(t, money.Amount(250000), res.RefundAmount)
	assert.Equal(t, money.Amount(250000), res.UsedAmount)
	assert.Equal(t, money.Amount(50000), res.PerClassFee)
	assert.Contains(t, res.Reason, "1/2 refunded")
}

func TestSeasonRefund_LegalTierBoundaries(t *testing.T) {
	// Mon/Wed/Fri over the same two weeks: 6 classes (1,3,5,8,10,12).
	in := func(cancel string) tuition.RefundInput {
		r := twoWeeks(cancel, tuition.RefundLegal)
		r.SeasonFee = 900000
		r.Weekdays = monWedFri
		return r
	}
	tests := []struct {
		cancel     string
		wantRate   money.Ratio
		wantRefund money.Amount
	}{
		{"2025-08-25", money.NewRatio(2, 3), 600000}, // before start
		{"2025-09-01", money.NewRatio(2, 3), 600000}, // 1/6
		{"2025-09-03", money.NewRatio(1, 2), 450000}, // exactly 1/3
		{"2025-09-05", money.NewRatio(0, 1), 0},      // exactly 1/2
		{"2025-09-30", money.NewRatio(0, 1), 0},      // after end
	}
	for _, tt := range tests {
		t.Run(tt.cancel, func(t *testing.T) {
			res, err := tuition.SeasonRefund(in(tt.cancel))
			require.NoError(t, err)
			assert.Equal(t, tt.wantRate, res.Rate)
			assert.Equal(t, tt.wantRefund, res.RefundAmount)
			assert.Equal(t, money.Amount(900000)-tt.wantRefund, res.UsedAmount)
		})
	}
}

func TestSeasonRefund_Prorated(t *testing.T) {
	res, err := tuition.SeasonRefund(twoWeeks("2025-09-04", tuition.RefundProrated))
	require.NoError(t, err)
	assert.Equal(t, money.Amount(300000), res.RefundAmount)
	assert.Equal(t, "60.00%", res.RefundRate)
	assert.Equal(t, tuition.RefundProrated, res.Policy)
}

func TestSeasonRefund_DefaultsToLegal(t *testing.T) {
	res, err := tuition.SeasonRefund(twoWeeks("2025-09-04", ""))
	require.NoError(t, err)
	assert.Equal(t, tuition.RefundLegal, res.Policy)
}

func TestSeasonRefund_NoClassDaysMeansNoRefund(t *testing.T) {
	for _, policy := range []tuition.RefundPolicy{tuition.RefundLegal, tuition.RefundProrated} {
		in := twoWeeks("2025-09-02", policy)
		in.Weekdays = 0
		res, err := tuition.SeasonRefund(in)
		require.NoError(t, err)
		assert.Equal(t, money.Amount(0), res.RefundAmount, policy)
		assert.Equal(t, "100.00%", res.ProgressRate, policy)
	}
}

func TestSeasonRefund_NonIncreasingInCancellationDate(t *testing.T) {
	for _, policy := range []tuition.RefundPolicy{tuition.RefundLegal, tuition.RefundProrated} {
		prev := money.Amount(1 << 40)
		for day := d("2025-06-25"); !day.After(d("2025-09-05")); day = day.AddDays(1) {
			in := summer("2025-07-01")
			res, err := tuition.SeasonRefund(tuition.RefundInput{
				SeasonFee:        in.SeasonFee,
				SeasonStart:      in.SeasonStart,
				SeasonEnd:        in.SeasonEnd,
				CancellationDate: day,
				Weekdays:         in.Weekdays,
				Policy:           policy,
			})
			require.NoError(t, err)
			assert.LessOrEqual(t, int64(res.RefundAmount), int64(prev), "policy=%s day=%s", policy, day)
			assert.Zero(t, res.RefundAmount%1000)
			prev = res.RefundAmount
		}
		assert.Equal(t, money.Amount(0), prev, policy)
	}
}

func TestSeasonRefund_UnknownPolicy(t *testing.T) {
	_, err := tuition.SeasonRefund(twoWeeks("2025-09-04", "generous"))
	assert.ErrorIs(t, err, academy.ErrValidation)
}

// =============================================================================
// REST CREDIT
// =============================================================================

func TestRestCreditAmount(t *testing.T) {
	tests := []struct {
		name     string
		fee      money.Amount
		start    string
		end      string
		wantDays int
		want     money.Amount
	}{
		{"ten days of march", 310000, "2025-03-10", "2025-03-19", 10, 100000},
		{"crosses month end", 310000, "2025-03-25", "2025-04-10", 7, 70000},
		{"half of february", 300000, "2025-02-01", "2025-02-14", 14, 150000},
		{"floored", 400000, "2025-09-01", "2025-09-10", 10, 133000},
		{"below a thousand", 20000, "2025-03-05", "2025-03-05", 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := tuition.RestCreditAmount(tt.fee, d(tt.start), d(tt.end))
			require.NoError(t, err)
			assert.Equal(t, tt.wantDays, res.RestDays)
			assert.Equal(t, tt.want, res.Amount)
		})
	}
}

func TestRestCreditAmount_Invalid(t *testing.T) {
	_, err := tuition.RestCreditAmount(100000, d("2025-03-10"), d("2025-03-01"))
	assert.ErrorIs(t, err, academy.ErrValidation)
}

// =============================================================================
// CONTINUATION DISCOUNT
// =============================================================================

func TestContinuationDiscount(t *testing.T) {
	rate := academy.ContinuationDiscount{Type: academy.ContinuationRate, Rate: decimal.NewFromInt(10)}
	free := academy.ContinuationDiscount{Type: academy.ContinuationFree}

	discount, charged, err := tuition.ContinuationDiscount(461000, rate, true)
	require.NoError(t, err)
	assert.Equal(t, money.Amount(46000), discount)
	assert.Equal(t, money.Amount(415000), charged)

	discount, charged, err = tuition.ContinuationDiscount(500000, free, true)
	require.NoError(t, err)
	assert.Equal(t, money.Amount(500000), discount)
	assert.Equal(t, money.Amount(0), charged)

	discount, charged, err = tuition.ContinuationDiscount(500000, free, false)
	require.NoError(t, err)
	assert.Equal(t, money.Amount(0), discount)
	assert.Equal(t, money.Amount(500000), charged)

	_, _, err = tuition.ContinuationDiscount(500000, academy.ContinuationDiscount{Type: "bogus"}, true)
	assert.ErrorIs(t, err, academy.ErrValidation)
}

// =============================================================================
// TRANSITION PREVIEW
// =============================================================================

func TestPreviewTransition(t *testing.T) {
	student := academy.Student{ID: "s-1", Name: "Kim", MonthlyTuition: 400000, Weekdays: monWedFri}
	season := academy.Season{
		ID:           "fall",
		NonSeasonEnd: d("2025-09-10"),
		Start:        d("2025-09-15"),
		End:          d("2025-11-30"),
		DefaultFee:   1200000,
	}

	p, err := tuition.PreviewTransition(student, season)
	require.NoError(t, err)

	assert.Equal(t, money.Amount(153000), p.ProratedAmount)
	assert.Equal(t, "2025-09", p.ProratedMonth)
	assert.Equal(t, "월, 수, 금", p.Weekdays)
	require.True(t, p.HasGap)
	assert.Equal(t, "2025-09-11", p.Gap.Start.String())
	assert.Equal(t, "2025-09-14", p.Gap.End.String())
	assert.Equal(t, 4, p.Gap.Days)

	season.NonSeasonEnd = d("2025-09-14")
	p, err = tuition.PreviewTransition(student, season)
	require.NoError(t, err)
	assert.False(t, p.HasGap)
	assert.Nil(t, p.Gap)
}

func TestPreviewTransition_InvalidSeason(t *testing.T) {
	season := academy.Season{NonSeasonEnd: d("2025-09-20"), Start: d("2025-09-15"), End: d("2025-11-30")}
	_, err := tuition.PreviewTransition(academy.Student{MonthlyTuition: 400000}, season)
	assert.ErrorIs(t, err, academy.ErrValidation)
}
