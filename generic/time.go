package generic

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// DateLayout is the wire and storage format of every calendar day.
const DateLayout = "2006-01-02"

// =============================================================================
// TIME POINT - A calendar day, no time-of-day
// =============================================================================

// TimePoint is a calendar day normalized to midnight UTC.
type TimePoint struct {
	Time time.Time
}

// Constructors
func NewTimePoint(year int, month time.Month, day int) TimePoint {
	return TimePoint{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DayOf truncates t to its calendar day in t's own location.
func DayOf(t time.Time) TimePoint {
	return NewTimePoint(t.Year(), t.Month(), t.Day())
}

func Today() TimePoint {
	return DayOf(time.Now())
}

// ParseDate parses a strict YYYY-MM-DD value. Surrounding whitespace is
// ignored; out-of-range components (2025-02-30) are rejected. Year 0
// is rejected, and so is 0001-01-01, the zero TimePoint that marks an
// unset date.
func ParseDate(s string) (TimePoint, error) {
	raw := strings.TrimSpace(s)
	if len(raw) != len(DateLayout) {
		return TimePoint{}, fmt.Errorf("%w: %q", ErrInvalidDates, s)
	}
	t, err := time.Parse(DateLayout, raw)
	if err != nil || t.Year() < 1 || t.IsZero() {
		return TimePoint{}, fmt.Errorf("%w: %q", ErrInvalidDates, s)
	}
	return TimePoint{Time: t}, nil
}

// Comparison
func (tp TimePoint) Before(other TimePoint) bool        { return tp.Time.Before(other.Time) }
func (tp TimePoint) Equal(other TimePoint) bool         { return tp.Time.Equal(other.Time) }
func (tp TimePoint) After(other TimePoint) bool         { return tp.Time.After(other.Time) }
func (tp TimePoint) BeforeOrEqual(other TimePoint) bool { return !tp.After(other) }
func (tp TimePoint) AfterOrEqual(other TimePoint) bool  { return !tp.Before(other) }

// Arithmetic
func (tp TimePoint) AddDays(n int) TimePoint { return TimePoint{Time: tp.Time.AddDate(0, 0, n)} }

// Properties
func (tp TimePoint) Year() int         { return tp.Time.Year() }
func (tp TimePoint) Month() time.Month { return tp.Time.Month() }
func (tp TimePoint) Day() int          { return tp.Time.Day() }
func (tp TimePoint) IsZero() bool      { return tp.Time.IsZero() }

// ISOWeekday numbers days 1=Monday ... 7=Sunday.
func (tp TimePoint) ISOWeekday() int {
	wd := int(tp.Time.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

// String returns the YYYY-MM-DD key of the day.
func (tp TimePoint) String() string {
	if tp.IsZero() {
		return ""
	}
	return tp.Time.Format(DateLayout)
}

func (tp TimePoint) MarshalText() ([]byte, error) {
	return []byte(tp.String()), nil
}

func (tp *TimePoint) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*tp = TimePoint{}
		return nil
	}
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*tp = parsed
	return nil
}

// =============================================================================
// HOLIDAYS - Company-wide days off, managed per year
// =============================================================================

// Holiday is a calendar day excluded from consumable-day counting for
// every employee.
type Holiday struct {
	Year int
	Date TimePoint
}

// HolidaySet indexes holidays by their YYYY-MM-DD key.
type HolidaySet map[string]struct{}

func NewHolidaySet(holidays ...Holiday) HolidaySet {
	set := make(HolidaySet, len(holidays))
	for _, h := range holidays {
		set.Add(h.Date)
	}
	return set
}

func (s HolidaySet) Add(day TimePoint) { s[day.String()] = struct{}{} }

func (s HolidaySet) Contains(day TimePoint) bool {
	_, ok := s[day.String()]
	return ok
}

// =============================================================================
// WORKING DAYS - Per-employee weekday pattern
// =============================================================================

// WorkingDaySet is a sorted, de-duplicated list of ISO weekdays.
type WorkingDaySet []int

// DefaultWorkingDays is Monday to Friday.
func DefaultWorkingDays() WorkingDaySet { return WorkingDaySet{1, 2, 3, 4, 5} }

// NewWorkingDaySet keeps values in 1..7, removes duplicates and sorts.
func NewWorkingDaySet(days ...int) WorkingDaySet {
	seen := make(map[int]bool, len(days))
	set := WorkingDaySet{}
	for _, d := range days {
		if d < 1 || d > 7 || seen[d] {
			continue
		}
		seen[d] = true
		set = append(set, d)
	}
	sort.Ints(set)
	return set
}

func (s WorkingDaySet) Contains(isoWeekday int) bool {
	for _, d := range s {
		if d == isoWeekday {
			return true
		}
	}
	return false
}

// OrDefault returns the set, or Monday to Friday when it is empty.
func (s WorkingDaySet) OrDefault() WorkingDaySet {
	if len(s) == 0 {
		return DefaultWorkingDays()
	}
	return s
}

// WorkingDaySettings is the stored working-day pattern of one employee.
type WorkingDaySettings struct {
	EmployeeID string
	Days       WorkingDaySet
	UpdatedBy  string
	UpdatedAt  time.Time
}

// =============================================================================
// TIME UTILITIES
// =============================================================================

func StartOfYear(year int) TimePoint { return NewTimePoint(year, time.January, 1) }
func EndOfYear(year int) TimePoint   { return NewTimePoint(year, time.December, 31) }
