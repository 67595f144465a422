/*
Package calendar provides civil-date arithmetic for the billing engine.

PURPOSE:
  Tuition is charged per class day, not per instant. Every calculator in this
  repository works on local civil dates (year, month, day) with no time zone
  attached. This package owns that representation so the rest of the engine
  never touches time.Time directly for billing math.

KEY CONCEPTS:
  - Date:       A civil date. Comparison and arithmetic are day-granular.
  - YearMonth:  A billing month ("2025-03").
  - Period:     An inclusive [Start, End] date range.
  - WeekdaySet: The weekly class days of a student or season.

SEE ALSO:
  - weekday.go: WeekdaySet and CountMatchingDays
  - month.go:   YearMonth and month boundaries
*/
package calendar

import (
	"fmt"
	"time"
)

// =============================================================================
// DATE - Civil date (no time zone, no clock)
// =============================================================================

const (
	dateLayout    = "2006-01-02"
	secondsPerDay = 24 * 60 * 60
)

// Date is a local civil date. The zero value is "no date".
type Date struct {
	t time.Time
}

// NewDate normalizes overflowing components the same way time.Date does
// (e.g. February 30 becomes March 2).
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf drops the clock and location of t, keeping its calendar day as seen in t's location.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

// ParseDate parses YYYY-MM-DD.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD): %w", s, err)
	}
	return Date{t: t}, nil
}

// MustParseDate is ParseDate for constants and tests.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Comparison
func (d Date) Before(o Date) bool         { return d.t.Before(o.t) }
func (d Date) After(o Date) bool          { return d.t.After(o.t) }
func (d Date) Equal(o Date) bool          { return d.t.Equal(o.t) }
func (d Date) BeforeOrEqual(o Date) bool  { return !d.t.After(o.t) }
func (d Date) AfterOrEqual(o Date) bool   { return !d.t.Before(o.t) }

// Arithmetic
func (d Date) AddDays(n int) Date { return Date{t: d.t.AddDate(0, 0, n)} }

// DaysUntil returns the signed number of days from d to o. Dates are UTC
// midnights; time.Duration would overflow past ~292 years.
func (d Date) DaysUntil(o Date) int { return int((o.t.Unix() - d.t.Unix()) / secondsPerDay) }

// Properties
func (d Date) Year() int               { return d.t.Year() }
func (d Date) Month() time.Month       { return d.t.Month() }
func (d Date) Day() int                { return d.t.Day() }
func (d Date) Weekday() time.Weekday   { return d.t.Weekday() }
func (d Date) IsZero() bool            { return d.t.IsZero() }
func (d Date) YearMonth() YearMonth    { return YearMonth{Year: d.Year(), Month: d.Month()} }
func (d Date) Time() time.Time         { return d.t }

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.t.Format(dateLayout)
}

// MarshalText encodes the date as YYYY-MM-DD.
func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText accepts YYYY-MM-DD; an empty string yields the zero Date.
func (d *Date) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MinDate returns the earlier of a and b.
func MinDate(a, b Date) Date {
	if a.Before(b) {
		return a
	}
	return b
}

// MaxDate returns the later of a and b.
func MaxDate(a, b Date) Date {
	if a.After(b) {
		return a
	}
	return b
}

// =============================================================================
// PERIOD - Inclusive date range
// =============================================================================

// Period is an inclusive range [Start, End].
type Period struct {
	Start Date
	End   Date
}

// IsEmpty reports whether the period contains no days.
func (p Period) IsEmpty() bool { return p.End.Before(p.Start) }

// Contains returns true if d is within [Start, End].
func (p Period) Contains(d Date) bool {
	return d.AfterOrEqual(p.Start) && d.BeforeOrEqual(p.End)
}

// Days returns the inclusive day count, 0 for an empty period.
func (p Period) Days() int {
	if p.IsEmpty() {
		return 0
	}
	return p.Start.DaysUntil(p.End) + 1
}

// Intersect returns the overlap of p and o. The result may be empty.
func (p Period) Intersect(o Period) Period {
	return Period{Start: MaxDate(p.Start, o.Start), End: MinDate(p.End, o.End)}
}

func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}
