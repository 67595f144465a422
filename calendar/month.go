package calendar

import (
	"fmt"
	"time"
)

// =============================================================================
// YEAR-MONTH - Billing cycle key
// =============================================================================

// YearMonth identifies a calendar month, the unit of a billing cycle.
type YearMonth struct {
	Year  int
	Month time.Month
}

// ParseYearMonth parses "YYYY-MM".
func ParseYearMonth(s string) (YearMonth, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return YearMonth{}, fmt.Errorf("invalid year-month %q (use YYYY-MM): %w", s, err)
	}
	return YearMonth{Year: t.Year(), Month: t.Month()}, nil
}

// MustParseYearMonth is ParseYearMonth for constants and tests.
func MustParseYearMonth(s string) YearMonth {
	ym, err := ParseYearMonth(s)
	if err != nil {
		panic(err)
	}
	return ym
}

func (ym YearMonth) String() string {
	return fmt.Sprintf("%04d-%02d", ym.Year, int(ym.Month))
}

func (ym YearMonth) IsZero() bool { return ym.Year == 0 && ym.Month == 0 }

// Next returns the following month.
func (ym YearMonth) Next() YearMonth { return ym.FirstDay().AddDays(32).YearMonth() }

// FirstDay returns the 1st of the month.
func (ym YearMonth) FirstDay() Date { return StartOfMonth(ym.Year, ym.Month) }

// LastDay returns the last day of the month.
func (ym YearMonth) LastDay() Date { return EndOfMonth(ym.Year, ym.Month) }

// Period returns the whole month as an inclusive period.
func (ym YearMonth) Period() Period { return Period{Start: ym.FirstDay(), End: ym.LastDay()} }

// Days returns the number of days in the month.
func (ym YearMonth) Days() int { return ym.LastDay().Day() }

// ClampDay returns the given day of this month, clamped into [1, last day].
func (ym YearMonth) ClampDay(day int) Date {
	if day < 1 {
		day = 1
	}
	if last := ym.Days(); day > last {
		day = last
	}
	return NewDate(ym.Year, ym.Month, day)
}

// =============================================================================
// MONTH UTILITIES
// =============================================================================

func StartOfMonth(year int, month time.Month) Date { return NewDate(year, month, 1) }

func EndOfMonth(year int, month time.Month) Date {
	return NewDate(year, month+1, 1).AddDays(-1)
}

// MonthOf returns the whole calendar month containing d.
func MonthOf(d Date) Period { return d.YearMonth().Period() }
