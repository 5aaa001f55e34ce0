package timeoff

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// HOLIDAYS
// =============================================================================

// Holidays returns the holidays configured for year.
// Errors: invalid_year.
func (s *Service) Holidays(ctx context.Context, year int) ([]generic.Holiday, error) {
	if year <= 0 {
		return nil, generic.ErrInvalidYear
	}
	holidays, err := s.Store.HolidaysForYear(ctx, year)
	if err != nil {
		return nil, fmt.Errorf("load holidays %d: %w", year, err)
	}
	if holidays == nil {
		holidays = []generic.Holiday{}
	}
	return holidays, nil
}

// ReplaceHolidays swaps the whole holiday list of year for dates. Entries
// that are not valid YYYY-MM-DD dates are dropped silently; duplicates
// collapse. Returns the number of holidays stored.
// Errors: forbidden, invalid_year.
func (s *Service) ReplaceHolidays(ctx context.Context, actor Actor, year int, dates []string) (int, error) {
	if !actor.Role.IsOrgWide() {
		return 0, generic.ErrForbidden
	}
	if year <= 0 {
		return 0, generic.ErrInvalidYear
	}

	seen := generic.NewHolidaySet()
	days := make([]generic.TimePoint, 0, len(dates))
	for _, raw := range dates {
		day, err := generic.ParseDate(raw)
		if err != nil || seen.Contains(day) {
			continue
		}
		seen.Add(day)
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	err := s.Store.WithTx(ctx, func(tx generic.Store) error {
		return tx.ReplaceHolidays(ctx, year, days)
	})
	if err != nil {
		return 0, fmt.Errorf("replace holidays %d: %w", year, err)
	}
	return len(days), nil
}

// =============================================================================
// DEPARTMENTS
// =============================================================================

func (s *Service) Departments(ctx context.Context) ([]generic.Department, error) {
	departments, err := s.Store.ListDepartments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list departments: %w", err)
	}
	if departments == nil {
		departments = []generic.Department{}
	}
	return departments, nil
}

// CreateDepartment stores a new department. Only jefe and admin_sistema
// may create one.
// Errors: forbidden, missing_name.
func (s *Service) CreateDepartment(ctx context.Context, actor Actor, name, managerID string) (generic.Department, error) {
	if !actor.Role.IsOrgWide() {
		return generic.Department{}, generic.ErrForbidden
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return generic.Department{}, generic.ErrMissingName
	}

	now := s.now()
	d := generic.Department{
		ID:        s.NewID(),
		Name:      name,
		ManagerID: strings.TrimSpace(managerID),
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.Store.WithTx(ctx, func(tx generic.Store) error {
		return tx.SaveDepartment(ctx, d)
	})
	if err != nil {
		return generic.Department{}, fmt.Errorf("save department: %w", err)
	}
	return d, nil
}

// =============================================================================
// PEOPLE & WORKING DAYS
// =============================================================================

// PersonView is a directory entry with its effective working days.
type PersonView struct {
	Person
	WorkingDays generic.WorkingDaySet
}

// People lists the directory entries visible to the actor, scoped like
// Balances.
func (s *Service) People(ctx context.Context, actor Actor) ([]PersonView, error) {
	people, err := s.scopePeople(ctx, actor)
	if err != nil {
		return nil, err
	}
	cal := s.calendar(s.Store)
	out := make([]PersonView, 0, len(people))
	for _, p := range people {
		days, err := cal.WorkingDaysOf(ctx, p.UID)
		if err != nil {
			return nil, err
		}
		out = append(out, PersonView{Person: p, WorkingDays: days})
	}
	return out, nil
}

// NormalizeWorkingDays keeps the values in [1, 7], rounds them half-up,
// removes duplicates and sorts.
func NormalizeWorkingDays(values []decimal.Decimal) generic.WorkingDaySet {
	one, seven := decimal.NewFromInt(1), decimal.NewFromInt(7)
	days := make([]int, 0, len(values))
	for _, v := range values {
		if v.LessThan(one) || v.GreaterThan(seven) {
			continue
		}
		days = append(days, generic.RoundHalfUp(v))
	}
	return generic.NewWorkingDaySet(days...)
}

// SetWorkingDays stores the weekday pattern of an employee. admin_sistema
// and jefe may set anyone's; responsable only their department's.
// Errors: forbidden, missing_user, invalid_working_days.
func (s *Service) SetWorkingDays(ctx context.Context, actor Actor, employeeID string, values []decimal.Decimal) (generic.WorkingDaySet, error) {
	if !actor.Role.IsManagerOrAbove() {
		return nil, generic.ErrForbidden
	}
	employeeID = strings.TrimSpace(employeeID)
	if employeeID == "" {
		return nil, generic.ErrMissingUser
	}
	if err := s.ensureManages(ctx, actor, employeeID); err != nil {
		return nil, err
	}

	days := NormalizeWorkingDays(values)
	if len(days) == 0 {
		return nil, generic.ErrInvalidWorkingDays
	}

	settings := generic.WorkingDaySettings{
		EmployeeID: employeeID,
		Days:       days,
		UpdatedBy:  actor.Email,
		UpdatedAt:  s.now(),
	}
	err := s.Store.WithTx(ctx, func(tx generic.Store) error {
		return tx.SaveWorkingDays(ctx, settings)
	})
	if err != nil {
		return nil, fmt.Errorf("save working days %s: %w", employeeID, err)
	}
	return days, nil
}
