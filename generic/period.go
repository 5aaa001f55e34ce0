package generic

// =============================================================================
// PERIOD - Closed date interval [Start, End]
// =============================================================================

// Period is an inclusive range of calendar days, the shape of every
// leave request and calendar window.
type Period struct {
	Start TimePoint
	End   TimePoint
}

// NewPeriod parses both bounds and checks Start <= End.
// Parse failures wrap ErrInvalidDates, reversed bounds ErrInvalidRange.
func NewPeriod(start, end string) (Period, error) {
	s, err := ParseDate(start)
	if err != nil {
		return Period{}, err
	}
	e, err := ParseDate(end)
	if err != nil {
		return Period{}, err
	}
	p := Period{Start: s, End: e}
	if err := p.Validate(); err != nil {
		return Period{}, err
	}
	return p, nil
}

// Validate reports ErrInvalidDates for zero bounds and ErrInvalidRange
// when End is before Start.
func (p Period) Validate() error {
	if p.Start.IsZero() || p.End.IsZero() {
		return ErrInvalidDates
	}
	if p.End.Before(p.Start) {
		return ErrInvalidRange
	}
	return nil
}

// Contains returns true if the day is within the period [Start, End]
func (p Period) Contains(t TimePoint) bool {
	return t.AfterOrEqual(p.Start) && t.BeforeOrEqual(p.End)
}

// Overlaps uses the closed-interval test:
// other.Start <= p.End && other.End >= p.Start.
func (p Period) Overlaps(other Period) bool {
	return other.Start.BeforeOrEqual(p.End) && other.End.AfterOrEqual(p.Start)
}

// Days returns all days in the period as a slice of TimePoints.
func (p Period) Days() []TimePoint {
	var days []TimePoint
	for current := p.Start; current.BeforeOrEqual(p.End); current = current.AddDays(1) {
		days = append(days, current)
	}
	return days
}

// Years lists every calendar year the period touches, in order.
func (p Period) Years() []int {
	var years []int
	for y := p.Start.Year(); y <= p.End.Year(); y++ {
		years = append(years, y)
	}
	return years
}

// String returns a string representation of the period.
func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}
