package calendar_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/tuition-engine/calendar"
)

var monWedFri = calendar.NewWeekdaySet(time.Monday, time.Wednesday, time.Friday)

func TestCountMatchingDays(t *testing.T) {
	tests := []struct {
		name  string
		start string
		end   string
		days  calendar.WeekdaySet
		want  int
	}{
		// September 2025 starts on a Monday and has 30 days.
		{"first ten days, mon/wed/fri", "2025-09-01", "2025-09-10", monWedFri, 5},
		{"whole month, mon/wed/fri", "2025-09-01", "2025-09-30", monWedFri, 13},
		{"single matching day", "2025-09-03", "2025-09-03", monWedFri, 1},
		{"single non-matching day", "2025-09-02", "2025-09-02", monWedFri, 0},
		{"start after end", "2025-09-10", "2025-09-01", monWedFri, 0},
		{"empty set", "2025-09-01", "2025-09-30", 0, 0},
		{"every day", "2025-02-01", "2025-02-28", calendar.NewWeekdaySet(0, 1, 2, 3, 4, 5, 6), 28},
		{"across year boundary", "2024-12-30", "2025-01-05", calendar.NewWeekdaySet(time.Saturday, time.Sunday), 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := calendar.CountMatchingDays(calendar.MustParseDate(tt.start), calendar.MustParseDate(tt.end), tt.days)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCountMatchingDays_AgreesWithDayWalk(t *testing.T) {
	start := calendar.NewDate(2025, time.January, 1)
	sets := []calendar.WeekdaySet{
		monWedFri,
		calendar.NewWeekdaySet(time.Tuesday, time.Thursday),
		calendar.NewWeekdaySet(time.Sunday),
		calendar.NewWeekdaySet(0, 1, 2, 3, 4, 5, 6),
	}
	for _, set := range sets {
		for span := 0; span < 60; span++ {
			end := start.AddDays(span)
			walked := len(calendar.MatchingDays(start, end, set))
			assert.Equal(t, walked, calendar.CountMatchingDays(start, end, set), "set=%s span=%d", set, span)
		}
	}
}

func TestCountMatchingDays_LongSpan(t *testing.T) {
	// GIVEN: A span of four centuries, longer than time.Duration can hold
	// WHEN: Counting every weekday
	// THEN: The count equals the day walk and Period.Days

	start := calendar.NewDate(1700, time.January, 1)
	end := calendar.NewDate(2100, time.December, 31)
	every := calendar.NewWeekdaySet(0, 1, 2, 3, 4, 5, 6)

	walked := len(calendar.MatchingDays(start, end, every))
	assert.Equal(t, 146462, walked)
	assert.Equal(t, walked, calendar.CountMatchingDays(start, end, every))
	assert.Equal(t, walked, calendar.Period{Start: start, End: end}.Days())
	assert.Equal(t, -(walked - 1), end.DaysUntil(start))

	for _, set := range []calendar.WeekdaySet{monWedFri, calendar.NewWeekdaySet(time.Sunday)} {
		assert.Equal(t, len(calendar.MatchingDays(start, end, set)), calendar.CountMatchingDays(start, end, set), "set=%s", set)
	}
}

func TestCountMatchingDays_ZeroDates(t *testing.T) {
	assert.Equal(t, 0, calendar.CountMatchingDays(calendar.Date{}, calendar.NewDate(2025, 1, 31), monWedFri))
}

func TestParseWeekdays(t *testing.T) {
	tests := []struct {
		in   string
		want calendar.WeekdaySet
	}{
		{"1,3,5", monWedFri},
		{"[1,3,5]", monWedFri},
		{"월,수,금", monWedFri},
		{"Mon, Wed, Fri", monWedFri},
		{"monday,wednesday,friday", monWedFri},
		{"5,3,1,1", monWedFri},
		{"", 0},
	}
	for _, tt := range tests {
		got, err := calendar.ParseWeekdays(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestParseWeekdays_Invalid(t *testing.T) {
	for _, in := range []string{"7", "-1", "funday", "[1,9]", "[1,"} {
		_, err := calendar.ParseWeekdays(in)
		assert.Error(t, err, in)
	}
}

func TestWeekdaySet_JSON(t *testing.T) {
	b, err := json.Marshal(monWedFri)
	require.NoError(t, err)
	assert.JSONEq(t, `[1,3,5]`, string(b))

	var fromArray, fromString calendar.WeekdaySet
	require.NoError(t, json.Unmarshal([]byte(`[5,1,3]`), &fromArray))
	require.NoError(t, json.Unmarshal([]byte(`"월,수,금"`), &fromString))
	assert.Equal(t, monWedFri, fromArray)
	assert.Equal(t, monWedFri, fromString)
	assert.Equal(t, "1,3,5", monWedFri.String())
	assert.Equal(t, "월, 수, 금", monWedFri.Korean())
}

func TestYearMonth(t *testing.T) {
	ym := calendar.MustParseYearMonth("2025-01")
	assert.Equal(t, "2025-02", ym.Next().String())
	assert.Equal(t, "2026-01", calendar.MustParseYearMonth("2025-12").Next().String())
	assert.Equal(t, 31, ym.Days())
	assert.Equal(t, calendar.NewDate(2025, time.February, 28), ym.Next().ClampDay(31))
	assert.Equal(t, calendar.NewDate(2024, time.February, 29), calendar.MustParseYearMonth("2024-02").ClampDay(30))
	assert.Equal(t, calendar.NewDate(2025, time.January, 1), ym.ClampDay(0))

	_, err := calendar.ParseYearMonth("2025-13")
	assert.Error(t, err)
}

func TestPeriod(t *testing.T) {
	p := calendar.Period{Start: calendar.MustParseDate("2025-03-25"), End: calendar.MustParseDate("2025-04-10")}
	march := calendar.MustParseYearMonth("2025-03").Period()

	overlap := p.Intersect(march)
	assert.Equal(t, "2025-03-25", overlap.Start.String())
	assert.Equal(t, "2025-03-31", overlap.End.String())
	assert.Equal(t, 7, overlap.Days())

	disjoint := p.Intersect(calendar.MustParseYearMonth("2025-06").Period())
	assert.True(t, disjoint.IsEmpty())
	assert.Equal(t, 0, disjoint.Days())
}

func TestDate_TextRoundTrip(t *testing.T) {
	var d calendar.Date
	require.NoError(t, json.Unmarshal([]byte(`"2025-03-05"`), &d))
	assert.Equal(t, calendar.NewDate(2025, time.March, 5), d)

	var empty calendar.Date
	require.NoError(t, json.Unmarshal([]byte(`""`), &empty))
	assert.True(t, empty.IsZero())

	assert.Error(t, json.Unmarshal([]byte(`"03/05/2025"`), &d))
}
