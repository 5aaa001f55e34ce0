// Package storetest is a behavioural test suite shared by every
// generic.TxStore implementation.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/generic"
)

// Factory returns an empty store. Cleanup is registered on t.
type Factory func(t *testing.T) generic.TxStore

var base = time.Date(2025, time.March, 1, 8, 0, 0, 0, time.UTC)

func day(y int, m time.Month, d int) generic.TimePoint {
	return generic.NewTimePoint(y, m, d)
}

func request(id, employee, dept string, status generic.RequestStatus, created time.Time) generic.Request {
	return generic.Request{
		ID:         id,
		EmployeeID: employee,
		Requester: generic.Snapshot{
			Email:        employee + "@example.com",
			DisplayName:  "Name " + employee,
			Role:         "empleado",
			DepartmentID: dept,
		},
		Resource:  "vacation",
		Start:     day(2025, time.April, 7),
		End:       day(2025, time.April, 11),
		Status:    status,
		Note:      "note " + id,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func ids(requests []generic.Request) []string {
	out := make([]string, 0, len(requests))
	for _, r := range requests {
		out = append(out, r.ID)
	}
	return out
}

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("RequestRoundTrip", func(t *testing.T) { testRequestRoundTrip(t, newStore(t)) })
	t.Run("ListRequests", func(t *testing.T) { testListRequests(t, newStore(t)) })
	t.Run("Balances", func(t *testing.T) { testBalances(t, newStore(t)) })
	t.Run("Adjustments", func(t *testing.T) { testAdjustments(t, newStore(t)) })
	t.Run("Holidays", func(t *testing.T) { testHolidays(t, newStore(t)) })
	t.Run("WorkingDays", func(t *testing.T) { testWorkingDays(t, newStore(t)) })
	t.Run("Departments", func(t *testing.T) { testDepartments(t, newStore(t)) })
	t.Run("TxRollback", func(t *testing.T) { testTxRollback(t, newStore(t)) })
	t.Run("TxCommit", func(t *testing.T) { testTxCommit(t, newStore(t)) })
}

func testRequestRoundTrip(t *testing.T, s generic.TxStore) {
	ctx := context.Background()

	// GIVEN: Nothing stored
	missing, err := s.GetRequest(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing, "missing request reads as nil")

	// WHEN: Saving an approved request and reading it back
	r := request("r-1", "u-1", "eng", generic.StatusApproved, base)
	approvedAt := base.Add(time.Hour)
	r.ApproverID = "boss@example.com"
	r.ApprovedAt = &approvedAt
	r.ConsumedDays = 5
	require.NoError(t, s.SaveRequest(ctx, r))

	got, err := s.GetRequest(ctx, "r-1")
	require.NoError(t, err)
	require.NotNil(t, got)

	// THEN: Every field survives
	assert.Equal(t, r.EmployeeID, got.EmployeeID)
	assert.Equal(t, r.Requester, got.Requester)
	assert.Equal(t, r.Resource, got.Resource)
	assert.Equal(t, "2025-04-07", got.Start.String())
	assert.Equal(t, "2025-04-11", got.End.String())
	assert.Equal(t, generic.StatusApproved, got.Status)
	assert.Equal(t, "boss@example.com", got.ApproverID)
	require.NotNil(t, got.ApprovedAt)
	assert.True(t, approvedAt.Equal(*got.ApprovedAt))
	assert.Equal(t, "note r-1", got.Note)
	assert.Equal(t, 5, got.ConsumedDays)
	assert.True(t, base.Equal(got.CreatedAt))

	// WHEN: Saving again with the same id
	r.Status = generic.StatusPending
	r.ApprovedAt = nil
	r.ApproverID = ""
	r.ConsumedDays = 0
	require.NoError(t, s.SaveRequest(ctx, r))

	// THEN: The document is replaced
	got, err = s.GetRequest(ctx, "r-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, generic.StatusPending, got.Status)
	assert.Nil(t, got.ApprovedAt)
	assert.Equal(t, 0, got.ConsumedDays)
}

func testListRequests(t *testing.T, s generic.TxStore) {
	ctx := context.Background()

	// GIVEN: Requests of two employees in two departments
	for _, r := range []generic.Request{
		request("r-1", "u-1", "eng", generic.StatusApproved, base),
		request("r-2", "u-1", "eng", generic.StatusRejected, base.Add(1*time.Minute)),
		request("r-3", "u-2", "ops", generic.StatusPending, base.Add(2*time.Minute)),
		request("r-4", "u-1", "eng", generic.StatusPending, base.Add(3*time.Minute)),
	} {
		require.NoError(t, s.SaveRequest(ctx, r))
	}

	all, err := s.ListRequests(ctx, generic.RequestFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"r-4", "r-3", "r-2", "r-1"}, ids(all), "newest first")

	mine, err := s.ListRequests(ctx, generic.RequestFilter{EmployeeID: "u-1", Statuses: generic.ActiveStatuses()})
	require.NoError(t, err)
	assert.Equal(t, []string{"r-4", "r-1"}, ids(mine))

	ops, err := s.ListRequests(ctx, generic.RequestFilter{DepartmentIDs: []string{"ops", "hr"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"r-3"}, ids(ops))

	limited, err := s.ListRequests(ctx, generic.RequestFilter{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"r-4", "r-3"}, ids(limited))

	none, err := s.ListRequests(ctx, generic.RequestFilter{EmployeeID: "u-9"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testBalances(t *testing.T, s generic.TxStore) {
	ctx := context.Background()

	missing, err := s.GetBalance(ctx, "u-1")
	require.NoError(t, err)
	assert.Nil(t, missing)

	// GIVEN: A balance with a last-adjustment mark
	b := generic.Balance{
		EmployeeID:     "u-1",
		AssignedAnnual: 22,
		CarriedOver:    3,
		Extra:          2,
		Consumed:       5,
		LastAdjustment: &generic.AdjustmentMark{Delta: 2, Comment: "bonus", By: "boss@example.com", At: base},
		UpdatedAt:      base,
	}.Recompute()
	require.NoError(t, s.SaveBalance(ctx, b))

	// WHEN: Reading it back
	got, err := s.GetBalance(ctx, "u-1")
	require.NoError(t, err)
	require.NotNil(t, got)

	// THEN: Components and mark survive
	assert.Equal(t, 22, got.Available)
	assert.True(t, got.Consistent())
	require.NotNil(t, got.LastAdjustment)
	assert.Equal(t, 2, got.LastAdjustment.Delta)
	assert.Equal(t, "bonus", got.LastAdjustment.Comment)
	assert.Equal(t, "boss@example.com", got.LastAdjustment.By)

	// AND: Overwriting without a mark clears it
	b.LastAdjustment = nil
	b.Consumed = 0
	require.NoError(t, s.SaveBalance(ctx, b.Recompute()))
	got, err = s.GetBalance(ctx, "u-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Nil(t, got.LastAdjustment)
	assert.Equal(t, 27, got.Available)
}

func testAdjustments(t *testing.T, s generic.TxStore) {
	ctx := context.Background()

	// GIVEN: Adjustments of two employees, two sharing a timestamp
	for _, a := range []generic.BalanceAdjustment{
		{ID: "a-1", EmployeeID: "u-1", DeltaExtra: 1, Comment: "first", AssignedAnnual: 22, CreatedBy: "x@example.com", CreatedAt: base},
		{ID: "a-2", EmployeeID: "u-2", DeltaExtra: 4, Comment: "other", AssignedAnnual: 22, CreatedBy: "x@example.com", CreatedAt: base.Add(time.Minute)},
		{ID: "a-3", EmployeeID: "u-1", DeltaExtra: -1, Comment: "second", AssignedAnnual: 20, CarriedOver: 2, CreatedBy: "y@example.com", CreatedAt: base.Add(2 * time.Minute)},
		{ID: "a-4", EmployeeID: "u-1", DeltaExtra: 3, Comment: "third", AssignedAnnual: 20, CreatedBy: "y@example.com", CreatedAt: base.Add(2 * time.Minute)},
	} {
		require.NoError(t, s.AppendAdjustment(ctx, a))
	}

	// WHEN: Listing one employee's trail
	trail, err := s.ListAdjustments(ctx, "u-1")
	require.NoError(t, err)

	// THEN: Newest first, ties in reverse insertion order
	require.Len(t, trail, 3)
	assert.Equal(t, "a-4", trail[0].ID)
	assert.Equal(t, "a-3", trail[1].ID)
	assert.Equal(t, "a-1", trail[2].ID)
	assert.Equal(t, -1, trail[1].DeltaExtra)
	assert.Equal(t, 2, trail[1].CarriedOver)
	assert.Equal(t, "y@example.com", trail[1].CreatedBy)

	empty, err := s.ListAdjustments(ctx, "u-9")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func testHolidays(t *testing.T, s generic.TxStore) {
	ctx := context.Background()

	// GIVEN: Holidays for 2025 and 2026
	require.NoError(t, s.ReplaceHolidays(ctx, 2025, []generic.TimePoint{day(2025, time.January, 1), day(2025, time.January, 6)}))
	require.NoError(t, s.ReplaceHolidays(ctx, 2026, []generic.TimePoint{day(2026, time.January, 1)}))

	// WHEN: Replacing 2025
	require.NoError(t, s.ReplaceHolidays(ctx, 2025, []generic.TimePoint{day(2025, time.May, 1), day(2025, time.December, 25)}))

	// THEN: The old list is gone and 2026 is untouched
	got, err := s.HolidaysForYear(ctx, 2025)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "2025-05-01", got[0].Date.String())
	assert.Equal(t, "2025-12-25", got[1].Date.String())
	assert.Equal(t, 2025, got[0].Year)

	other, err := s.HolidaysForYear(ctx, 2026)
	require.NoError(t, err)
	assert.Len(t, other, 1)

	// AND: Replacing with nothing clears the year
	require.NoError(t, s.ReplaceHolidays(ctx, 2025, nil))
	got, err = s.HolidaysForYear(ctx, 2025)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func testWorkingDays(t *testing.T, s generic.TxStore) {
	ctx := context.Background()

	missing, err := s.GetWorkingDays(ctx, "u-1")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, s.SaveWorkingDays(ctx, generic.WorkingDaySettings{
		EmployeeID: "u-1",
		Days:       generic.WorkingDaySet{1, 2, 3, 6},
		UpdatedBy:  "boss@example.com",
		UpdatedAt:  base,
	}))

	got, err := s.GetWorkingDays(ctx, "u-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, generic.WorkingDaySet{1, 2, 3, 6}, got.Days)
	assert.Equal(t, "boss@example.com", got.UpdatedBy)
}

func testDepartments(t *testing.T, s generic.TxStore) {
	ctx := context.Background()

	for _, d := range []generic.Department{
		{ID: "d-2", Name: "Operations", CreatedAt: base, UpdatedAt: base},
		{ID: "d-1", Name: "Engineering", ManagerID: "u-mgr", CreatedAt: base, UpdatedAt: base},
	} {
		require.NoError(t, s.SaveDepartment(ctx, d))
	}

	got, err := s.ListDepartments(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Engineering", got[0].Name, "sorted by name")
	assert.Equal(t, "u-mgr", got[0].ManagerID)
	assert.Equal(t, "Operations", got[1].Name)
}

var errAbort = errors.New("abort")

func testTxRollback(t *testing.T, s generic.TxStore) {
	ctx := context.Background()

	// GIVEN: A transaction that writes and then fails
	err := s.WithTx(ctx, func(tx generic.Store) error {
		if err := tx.SaveRequest(ctx, request("r-1", "u-1", "eng", generic.StatusPending, base)); err != nil {
			return err
		}
		if err := tx.SaveBalance(ctx, generic.Balance{EmployeeID: "u-1", AssignedAnnual: 22, UpdatedAt: base}.Recompute()); err != nil {
			return err
		}
		seen, err := tx.GetRequest(ctx, "r-1")
		if err != nil {
			return err
		}
		if seen == nil {
			return errors.New("transaction does not see its own write")
		}
		return errAbort
	})

	// THEN: The error is returned and nothing was kept
	assert.ErrorIs(t, err, errAbort)

	r, err := s.GetRequest(ctx, "r-1")
	require.NoError(t, err)
	assert.Nil(t, r)
	b, err := s.GetBalance(ctx, "u-1")
	require.NoError(t, err)
	assert.Nil(t, b)
}

func testTxCommit(t *testing.T, s generic.TxStore) {
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx generic.Store) error {
		if err := tx.SaveRequest(ctx, request("r-1", "u-1", "eng", generic.StatusPending, base)); err != nil {
			return err
		}
		return tx.ReplaceHolidays(ctx, 2025, []generic.TimePoint{day(2025, time.January, 1)})
	})
	require.NoError(t, err)

	r, err := s.GetRequest(ctx, "r-1")
	require.NoError(t, err)
	assert.NotNil(t, r)
	h, err := s.HolidaysForYear(ctx, 2025)
	require.NoError(t, err)
	assert.Len(t, h, 1)
}
