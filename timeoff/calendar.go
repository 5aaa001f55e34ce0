package timeoff

import (
	"context"
	"fmt"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// CALENDAR RESOLVER - Consumable day counting
// =============================================================================

// Calendar counts the days of a range that draw from an employee's
// balance: working weekdays of that employee that are not holidays.
type Calendar struct {
	Holidays    generic.HolidayStore
	WorkingDays generic.WorkingDayStore
}

// WorkingDaysOf returns the employee's configured weekdays, or Monday to
// Friday when none are stored. An empty employee id gets the default.
func (c Calendar) WorkingDaysOf(ctx context.Context, employeeID string) (generic.WorkingDaySet, error) {
	if employeeID == "" {
		return generic.DefaultWorkingDays(), nil
	}
	settings, err := c.WorkingDays.GetWorkingDays(ctx, employeeID)
	if err != nil {
		return nil, fmt.Errorf("load working days %s: %w", employeeID, err)
	}
	if settings == nil {
		return generic.DefaultWorkingDays(), nil
	}
	return generic.NewWorkingDaySet(settings.Days...).OrDefault(), nil
}

// HolidaysIn loads the holidays of every year the period touches.
func (c Calendar) HolidaysIn(ctx context.Context, p generic.Period) (generic.HolidaySet, error) {
	set := generic.NewHolidaySet()
	for _, year := range p.Years() {
		holidays, err := c.Holidays.HolidaysForYear(ctx, year)
		if err != nil {
			return nil, fmt.Errorf("load holidays %d: %w", year, err)
		}
		for _, h := range holidays {
			set.Add(h.Date)
		}
	}
	return set, nil
}

// CountConsumableDays walks [start, end] inclusive and counts the days
// whose ISO weekday is a working day of the employee and whose date is
// not a holiday.
func (c Calendar) CountConsumableDays(ctx context.Context, start, end generic.TimePoint, employeeID string) (int, error) {
	p := generic.Period{Start: start, End: end}
	holidays, err := c.HolidaysIn(ctx, p)
	if err != nil {
		return 0, err
	}
	working, err := c.WorkingDaysOf(ctx, employeeID)
	if err != nil {
		return 0, err
	}

	count := 0
	for day := start; day.BeforeOrEqual(end); day = day.AddDays(1) {
		if working.Contains(day.ISOWeekday()) && !holidays.Contains(day) {
			count++
		}
	}
	return count, nil
}
