package calendar

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
)

// =============================================================================
// WEEKDAY SET - Weekly class days
// =============================================================================

// WeekdaySet is a set of weekdays stored as a bitmask (bit 0 = Sunday).
type WeekdaySet uint8

// NewWeekdaySet builds a set from weekdays. Out-of-range values are ignored.
func NewWeekdaySet(days ...time.Weekday) WeekdaySet {
	var s WeekdaySet
	for _, d := range days {
		if d >= time.Sunday && d <= time.Saturday {
			s |= 1 << uint(d)
		}
	}
	return s
}

func (s WeekdaySet) Contains(d time.Weekday) bool { return s&(1<<uint(d)) != 0 }
func (s WeekdaySet) IsEmpty() bool                { return s&0x7f == 0 }

// Len returns the number of weekdays in the set.
func (s WeekdaySet) Len() int {
	n := 0
	for d := time.Sunday; d <= time.Saturday; d++ {
		if s.Contains(d) {
			n++
		}
	}
	return n
}

// Days returns the weekdays in ascending order (Sunday first).
func (s WeekdaySet) Days() []time.Weekday {
	var days []time.Weekday
	for d := time.Sunday; d <= time.Saturday; d++ {
		if s.Contains(d) {
			days = append(days, d)
		}
	}
	return days
}

// String encodes the set as "1,3,5", the storage format.
func (s WeekdaySet) String() string {
	return strings.Join(lo.Map(s.Days(), func(d time.Weekday, _ int) string {
		return strconv.Itoa(int(d))
	}), ",")
}

// Korean renders the set with Korean day names, e.g. "월, 수, 금".
func (s WeekdaySet) Korean() string {
	return strings.Join(lo.Map(s.Days(), func(d time.Weekday, _ int) string {
		return koreanDayNames[d]
	}), ", ")
}

// MarshalJSON encodes the set as an array of weekday numbers.
func (s WeekdaySet) MarshalJSON() ([]byte, error) {
	nums := lo.Map(s.Days(), func(d time.Weekday, _ int) int { return int(d) })
	if nums == nil {
		nums = []int{}
	}
	return json.Marshal(nums)
}

// UnmarshalJSON accepts an array of numbers or any string ParseWeekdays understands.
func (s *WeekdaySet) UnmarshalJSON(b []byte) error {
	var nums []int
	if err := json.Unmarshal(b, &nums); err == nil {
		set, err := fromNumbers(nums)
		if err != nil {
			return err
		}
		*s = set
		return nil
	}
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return fmt.Errorf("weekdays must be an array or string: %w", err)
	}
	set, err := ParseWeekdays(str)
	if err != nil {
		return err
	}
	*s = set
	return nil
}

var koreanDayNames = [...]string{"일", "월", "화", "수", "목", "금", "토"}

var dayNames = map[string]time.Weekday{
	"일": time.Sunday, "월": time.Monday, "화": time.Tuesday, "수": time.Wednesday,
	"목": time.Thursday, "금": time.Friday, "토": time.Saturday,
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

// ParseWeekdays accepts the formats found in stored schedules:
//
//	"1,3,5"      weekday numbers, 0 = Sunday
//	"[1,3,5]"    JSON array
//	"월,수,금"    Korean day names
//	"mon,wed"    English abbreviations (case-insensitive)
//
// An empty string yields an empty set. Unknown tokens are an error.
func ParseWeekdays(s string) (WeekdaySet, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if strings.HasPrefix(s, "[") {
		var nums []int
		if err := json.Unmarshal([]byte(s), &nums); err != nil {
			return 0, fmt.Errorf("invalid weekday array %q: %w", s, err)
		}
		return fromNumbers(nums)
	}

	tokens := lo.Compact(lo.Map(strings.Split(s, ","), func(t string, _ int) string {
		return strings.ToLower(strings.TrimSpace(t))
	}))
	var days []time.Weekday
	for _, tok := range tokens {
		if n, err := strconv.Atoi(tok); err == nil {
			if n < 0 || n > 6 {
				return 0, fmt.Errorf("weekday %d out of range 0-6", n)
			}
			days = append(days, time.Weekday(n))
			continue
		}
		d, ok := dayNames[tok]
		if !ok && len(tok) > 3 {
			d, ok = dayNames[tok[:3]]
		}
		if !ok {
			return 0, fmt.Errorf("unknown weekday %q", tok)
		}
		days = append(days, d)
	}
	return NewWeekdaySet(days...), nil
}

func fromNumbers(nums []int) (WeekdaySet, error) {
	sort.Ints(nums)
	var days []time.Weekday
	for _, n := range lo.Uniq(nums) {
		if n < 0 || n > 6 {
			return 0, fmt.Errorf("weekday %d out of range 0-6", n)
		}
		days = append(days, time.Weekday(n))
	}
	return NewWeekdaySet(days...), nil
}

// =============================================================================
// CALENDAR COUNTER
// =============================================================================

// CountMatchingDays counts the days in [start, end] (both inclusive) whose
// weekday is in days. It returns 0 when start is after end or either bound is
// the zero Date.
//
// Whole weeks contribute days.Len() each; only the trailing partial week is
// walked day by day.
func CountMatchingDays(start, end Date, days WeekdaySet) int {
	if start.IsZero() || end.IsZero() || start.After(end) || days.IsEmpty() {
		return 0
	}
	total := start.DaysUntil(end) + 1
	count := (total / 7) * days.Len()

	cur := start.AddDays((total / 7) * 7)
	for rem := total % 7; rem > 0; rem-- {
		if days.Contains(cur.Weekday()) {
			count++
		}
		cur = cur.AddDays(1)
	}
	return count
}

// MatchingDays lists the days in [start, end] whose weekday is in days.
func MatchingDays(start, end Date, days WeekdaySet) []Date {
	var out []Date
	for cur := start; !cur.IsZero() && cur.BeforeOrEqual(end); cur = cur.AddDays(1) {
		if days.Contains(cur.Weekday()) {
			out = append(out, cur)
		}
	}
	return out
}
