package timeoff_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/generic/store"
	"github.com/warp/leave-engine/timeoff"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var (
	admin    = timeoff.Person{UID: "u-admin", Email: "admin@example.com", DisplayName: "Admin", Role: timeoff.RoleSystemAdmin}
	chief    = timeoff.Person{UID: "u-chief", Email: "chief@example.com", DisplayName: "Chief", Role: timeoff.RoleChief}
	engLead  = timeoff.Person{UID: "u-eng-lead", Email: "marta@example.com", DisplayName: "Marta", Role: timeoff.RoleManager, DepartmentID: "eng"}
	opsLead  = timeoff.Person{UID: "u-ops-lead", Email: "oscar@example.com", DisplayName: "Oscar", Role: timeoff.RoleManager, DepartmentID: "ops"}
	engLead2 = timeoff.Person{UID: "u-eng-lead2", Email: "nuria@example.com", DisplayName: "Nuria", Role: timeoff.RoleManager, DepartmentID: "eng"}
	ana      = timeoff.Person{UID: "u-ana", Email: "ana@example.com", DisplayName: "Ana", Role: timeoff.RoleEmployee, DepartmentID: "eng"}
	bea      = timeoff.Person{UID: "u-bea", Email: "bea@example.com", DisplayName: "Bea", Role: timeoff.RoleEmployee, DepartmentID: "eng"}
	luis     = timeoff.Person{UID: "u-luis", Email: "luis@example.com", DisplayName: "Luis", Role: timeoff.RoleEmployee, DepartmentID: "ops"}
)

var testNow = time.Date(2025, time.February, 3, 9, 0, 0, 0, time.UTC)

func actorOf(p timeoff.Person) timeoff.Actor {
	return timeoff.Actor{UID: p.UID, Email: p.Email, Role: p.Role, DepartmentID: p.DepartmentID, DisplayName: p.DisplayName}
}

type fixture struct {
	svc   *timeoff.Service
	store *store.TxMemory
	ctx   context.Context
}

// newFixture wires a service over an in-memory store. The clock advances
// one second per call so CreatedAt orders requests.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewTxMemory()
	dir := timeoff.NewStaticDirectory(admin, chief, engLead, opsLead, engLead2, ana, bea, luis)

	tick := 0
	n := 0
	svc := timeoff.NewService(mem, dir,
		timeoff.WithClock(func() time.Time {
			tick++
			return testNow.Add(time.Duration(tick) * time.Second)
		}),
		timeoff.WithIDGenerator(func() string { n++; return fmt.Sprintf("id-%03d", n) }),
	)
	return &fixture{svc: svc, store: mem, ctx: context.Background()}
}

func (f *fixture) submit(t *testing.T, who timeoff.Person, start, end string) generic.Request {
	t.Helper()
	req, err := f.svc.Submit(f.ctx, actorOf(who), timeoff.SubmitInput{Start: start, End: end})
	require.NoError(t, err)
	return req
}

func (f *fixture) available(t *testing.T, who timeoff.Person) int {
	t.Helper()
	b, err := f.svc.Balance(f.ctx, actorOf(chief), who.UID)
	require.NoError(t, err)
	require.True(t, b.Consistent())
	return b.Available
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestLifecycle_ApproveEditReapprove(t *testing.T) {
	// GIVEN: Ana with the default 22 days
	f := newFixture(t)
	assert.Equal(t, 22, f.available(t, ana))

	// WHEN: She requests Mon 10 to Fri 14 March and her manager approves
	req := f.submit(t, ana, "2025-03-10", "2025-03-14")
	assert.Equal(t, generic.StatusPending, req.Status)
	assert.Equal(t, "eng", req.Requester.DepartmentID)

	days, err := f.svc.Approve(f.ctx, actorOf(engLead), req.ID)
	require.NoError(t, err)

	// THEN: Five days are consumed
	assert.Equal(t, 5, days)
	assert.Equal(t, 17, f.available(t, ana))

	stored, err := f.store.GetRequest(f.ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, generic.StatusApproved, stored.Status)
	assert.Equal(t, engLead.Email, stored.ApproverID)
	require.NotNil(t, stored.ApprovedAt)
	assert.Equal(t, 5, stored.ConsumedDays)

	// WHEN: She shortens it to Mon-Wed
	edited, err := f.svc.Edit(f.ctx, actorOf(ana), req.ID, timeoff.EditInput{End: "2025-03-12"})
	require.NoError(t, err)

	// THEN: The request is pending again and the days are returned
	assert.Equal(t, generic.StatusPending, edited.Status)
	assert.Equal(t, "2025-03-10", edited.Start.String())
	assert.Equal(t, "2025-03-12", edited.End.String())
	assert.Nil(t, edited.ApprovedAt)
	assert.Empty(t, edited.ApproverID)
	assert.Equal(t, 0, edited.ConsumedDays)
	assert.Equal(t, 22, f.available(t, ana))

	// WHEN: Approved again
	days, err = f.svc.Approve(f.ctx, actorOf(engLead), req.ID)
	require.NoError(t, err)

	// THEN: Three days are consumed
	assert.Equal(t, 3, days)
	assert.Equal(t, 19, f.available(t, ana))
}

func TestReject_NoBalanceEffectAndFinal(t *testing.T) {
	f := newFixture(t)
	req := f.submit(t, ana, "2025-03-10", "2025-03-14")

	// WHEN: Rejected
	require.NoError(t, f.svc.Reject(f.ctx, actorOf(engLead), req.ID))

	// THEN: Balance untouched, and no further transition is allowed
	assert.Equal(t, 22, f.available(t, ana))

	_, err := f.svc.Approve(f.ctx, actorOf(engLead), req.ID)
	assert.ErrorIs(t, err, generic.ErrInvalidState)

	err = f.svc.Reject(f.ctx, actorOf(engLead), req.ID)
	assert.ErrorIs(t, err, generic.ErrInvalidState)

	_, err = f.svc.Edit(f.ctx, actorOf(ana), req.ID, timeoff.EditInput{End: "2025-03-11", Note: "please"})
	var transition *generic.TransitionError
	require.ErrorAs(t, err, &transition)
	assert.Equal(t, "edit", transition.Action)
	assert.Equal(t, generic.StatusRejected, transition.From)

	// AND: The rejected request keeps its dates and note
	stored, err := f.store.GetRequest(f.ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, "2025-03-14", stored.End.String())
	assert.Empty(t, stored.Note)
}

func TestApprove_Twice_InvalidState(t *testing.T) {
	f := newFixture(t)
	req := f.submit(t, ana, "2025-03-10", "2025-03-11")

	_, err := f.svc.Approve(f.ctx, actorOf(engLead), req.ID)
	require.NoError(t, err)

	_, err = f.svc.Approve(f.ctx, actorOf(engLead), req.ID)
	assert.ErrorIs(t, err, generic.ErrInvalidState)
	assert.Equal(t, 20, f.available(t, ana), "consumed once")

	err = f.svc.Reject(f.ctx, actorOf(engLead), req.ID)
	assert.ErrorIs(t, err, generic.ErrInvalidState)
}

func TestLifecycle_UnknownRequest(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Approve(f.ctx, actorOf(chief), "missing")
	assert.ErrorIs(t, err, generic.ErrNotFound)

	err = f.svc.Reject(f.ctx, actorOf(chief), "")
	assert.ErrorIs(t, err, generic.ErrNotFound)

	_, err = f.svc.Edit(f.ctx, actorOf(ana), "missing", timeoff.EditInput{})
	assert.ErrorIs(t, err, generic.ErrNotFound)

	_, err = f.svc.Estimate(f.ctx, actorOf(ana), "missing")
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

// =============================================================================
// SUBMIT & EDIT VALIDATION
// =============================================================================

func TestSubmit_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Submit(f.ctx, actorOf(ana), timeoff.SubmitInput{Start: "2025-03-10"})
	assert.ErrorIs(t, err, generic.ErrInvalidDates)

	_, err = f.svc.Submit(f.ctx, actorOf(ana), timeoff.SubmitInput{Start: "10/03/2025", End: "2025-03-12"})
	assert.ErrorIs(t, err, generic.ErrInvalidDates)

	_, err = f.svc.Submit(f.ctx, actorOf(ana), timeoff.SubmitInput{Start: "2025-03-12", End: "2025-03-10"})
	assert.ErrorIs(t, err, generic.ErrInvalidRange)

	_, err = f.svc.Submit(f.ctx, timeoff.Actor{UID: "u-x", Email: "x@example.com", Role: "contractor"}, timeoff.SubmitInput{Start: "2025-03-10", End: "2025-03-10"})
	assert.ErrorIs(t, err, generic.ErrForbidden)

	all, err := f.store.ListRequests(f.ctx, generic.RequestFilter{})
	require.NoError(t, err)
	assert.Empty(t, all, "nothing stored on failure")
}

func TestSubmit_SnapshotsRequester(t *testing.T) {
	f := newFixture(t)

	req, err := f.svc.Submit(f.ctx, actorOf(ana), timeoff.SubmitInput{Start: "2025-03-10", End: "2025-03-10", Note: "  dentist "})
	require.NoError(t, err)

	assert.Equal(t, ana.UID, req.EmployeeID)
	assert.Equal(t, generic.Snapshot{Email: ana.Email, DisplayName: "Ana", Role: "empleado", DepartmentID: "eng"}, req.Requester)
	assert.Equal(t, timeoff.ResourceVacation, req.Resource)
	assert.Equal(t, "dentist", req.Note)
	assert.Equal(t, 0, req.ConsumedDays)
}

func TestEdit_EmployeeCannotEditOthers(t *testing.T) {
	f := newFixture(t)
	req := f.submit(t, ana, "2025-03-10", "2025-03-11")

	_, err := f.svc.Edit(f.ctx, actorOf(bea), req.ID, timeoff.EditInput{Note: "mine now"})
	assert.ErrorIs(t, err, generic.ErrForbidden)
}

func TestEdit_PendingKeepsStatusAndUnsetFields(t *testing.T) {
	f := newFixture(t)
	req, err := f.svc.Submit(f.ctx, actorOf(ana), timeoff.SubmitInput{Start: "2025-03-10", End: "2025-03-11", Note: "trip"})
	require.NoError(t, err)

	edited, err := f.svc.Edit(f.ctx, actorOf(ana), req.ID, timeoff.EditInput{Start: "2025-03-09"})
	require.NoError(t, err)

	assert.Equal(t, generic.StatusPending, edited.Status)
	assert.Equal(t, "2025-03-09", edited.Start.String())
	assert.Equal(t, "2025-03-11", edited.End.String())
	assert.Equal(t, "trip", edited.Note)
	assert.True(t, edited.UpdatedAt.After(edited.CreatedAt))

	_, err = f.svc.Edit(f.ctx, actorOf(ana), req.ID, timeoff.EditInput{Start: "2025-03-20"})
	assert.ErrorIs(t, err, generic.ErrInvalidRange)
}

// =============================================================================
// OVERLAP
// =============================================================================

func TestOverlap_ActiveRequestsBlock(t *testing.T) {
	// GIVEN: A pending request 10-14 March
	f := newFixture(t)
	first := f.submit(t, ana, "2025-03-10", "2025-03-14")

	// WHEN: Submitting a touching period
	_, err := f.svc.Submit(f.ctx, actorOf(ana), timeoff.SubmitInput{Start: "2025-03-14", End: "2025-03-18"})

	// THEN: overlap
	var overlap *generic.OverlapError
	require.ErrorAs(t, err, &overlap)
	assert.Equal(t, ana.UID, overlap.EmployeeID)

	// AND: Another employee is not affected
	f.submit(t, bea, "2025-03-10", "2025-03-14")

	// WHEN: The first request is rejected
	require.NoError(t, f.svc.Reject(f.ctx, actorOf(engLead), first.ID))

	// THEN: The period is free again
	f.submit(t, ana, "2025-03-14", "2025-03-18")
}

func TestOverlap_EditExcludesItselfButNotOthers(t *testing.T) {
	f := newFixture(t)
	a := f.submit(t, ana, "2025-03-10", "2025-03-12")
	f.submit(t, ana, "2025-03-20", "2025-03-21")

	// Moving within its own range is fine
	_, err := f.svc.Edit(f.ctx, actorOf(ana), a.ID, timeoff.EditInput{Start: "2025-03-11", End: "2025-03-13"})
	require.NoError(t, err)

	// Moving onto the other request is not
	_, err = f.svc.Edit(f.ctx, actorOf(ana), a.ID, timeoff.EditInput{End: "2025-03-20"})
	assert.ErrorIs(t, err, generic.ErrOverlap)
}

func TestHasOverlap_IgnoresRejected(t *testing.T) {
	f := newFixture(t)
	req := f.submit(t, ana, "2025-03-10", "2025-03-12")
	p, err := generic.NewPeriod("2025-03-12", "2025-03-13")
	require.NoError(t, err)

	overlap, err := timeoff.HasOverlap(f.ctx, f.store, ana.UID, p, "")
	require.NoError(t, err)
	assert.True(t, overlap)

	overlap, err = timeoff.HasOverlap(f.ctx, f.store, ana.UID, p, req.ID)
	require.NoError(t, err)
	assert.False(t, overlap, "excluded id")

	require.NoError(t, f.svc.Reject(f.ctx, actorOf(engLead), req.ID))
	overlap, err = timeoff.HasOverlap(f.ctx, f.store, ana.UID, p, "")
	require.NoError(t, err)
	assert.False(t, overlap)
}

// =============================================================================
// ESTIMATE & LISTING
// =============================================================================

func TestEstimate(t *testing.T) {
	f := newFixture(t)
	req := f.submit(t, ana, "2025-03-07", "2025-03-10") // Fri..Mon

	days, err := f.svc.Estimate(f.ctx, actorOf(ana), req.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, days)

	_, err = f.svc.Estimate(f.ctx, actorOf(bea), req.ID)
	assert.ErrorIs(t, err, generic.ErrForbidden)

	_, err = f.svc.Approve(f.ctx, actorOf(engLead), req.ID)
	require.NoError(t, err)
	_, err = f.svc.Estimate(f.ctx, actorOf(ana), req.ID)
	assert.ErrorIs(t, err, generic.ErrInvalidState)
}

func TestListRequests_Scoping(t *testing.T) {
	// GIVEN: Requests from eng and ops
	f := newFixture(t)
	r1 := f.submit(t, ana, "2025-03-10", "2025-03-11")
	r2 := f.submit(t, bea, "2025-03-10", "2025-03-11")
	r3 := f.submit(t, luis, "2025-03-10", "2025-03-11")
	_, err := f.svc.Approve(f.ctx, actorOf(opsLead), r3.ID)
	require.NoError(t, err)

	ids := func(views []timeoff.RequestView) []string {
		out := []string{}
		for _, v := range views {
			out = append(out, v.ID)
		}
		return out
	}

	// empleado: own only
	mine, err := f.svc.ListRequests(f.ctx, actorOf(ana), timeoff.RequestQuery{EmployeeID: luis.UID})
	require.NoError(t, err)
	assert.Equal(t, []string{r1.ID}, ids(mine))
	require.NotNil(t, mine[0].EstimatedDays)
	assert.Equal(t, 2, *mine[0].EstimatedDays)

	// responsable: own department, newest first
	dept, err := f.svc.ListRequests(f.ctx, actorOf(engLead), timeoff.RequestQuery{})
	require.NoError(t, err)
	assert.Equal(t, []string{r2.ID, r1.ID}, ids(dept))

	// jefe: everything, narrowed on request
	all, err := f.svc.ListRequests(f.ctx, actorOf(chief), timeoff.RequestQuery{})
	require.NoError(t, err)
	assert.Equal(t, []string{r3.ID, r2.ID, r1.ID}, ids(all))
	assert.Nil(t, all[0].EstimatedDays, "approved requests carry no estimate")

	ops, err := f.svc.ListRequests(f.ctx, actorOf(admin), timeoff.RequestQuery{DepartmentID: "ops"})
	require.NoError(t, err)
	assert.Equal(t, []string{r3.ID}, ids(ops))

	pending, err := f.svc.ListRequests(f.ctx, actorOf(chief), timeoff.RequestQuery{Status: generic.StatusPending})
	require.NoError(t, err)
	assert.Equal(t, []string{r2.ID, r1.ID}, ids(pending))

	// responsable without department: nothing
	orphan := actorOf(engLead)
	orphan.DepartmentID = ""
	none, err := f.svc.ListRequests(f.ctx, orphan, timeoff.RequestQuery{})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCalendarView(t *testing.T) {
	// GIVEN: One approved and one pending request in March, one in May
	f := newFixture(t)
	approved := f.submit(t, ana, "2025-03-10", "2025-03-12")
	_, err := f.svc.Approve(f.ctx, actorOf(engLead), approved.ID)
	require.NoError(t, err)
	pending := f.submit(t, luis, "2025-03-28", "2025-04-02")
	f.submit(t, bea, "2025-05-05", "2025-05-06")

	q := timeoff.CalendarQuery{From: "2025-03-01", To: "2025-03-31"}

	// WHEN: jefe reads March
	entries, err := f.svc.CalendarView(f.ctx, actorOf(chief), q)
	require.NoError(t, err)

	// THEN: Only the approved request is listed, with working days
	require.Len(t, entries, 1)
	assert.Equal(t, approved.ID, entries[0].ID)
	assert.Equal(t, generic.DefaultWorkingDays(), entries[0].WorkingDays)

	// WHEN: Including pending
	q.IncludePending = true
	entries, err = f.svc.CalendarView(f.ctx, actorOf(chief), q)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	// AND: Department filter applies to org-wide roles
	q.DepartmentIDs = []string{"ops"}
	entries, err = f.svc.CalendarView(f.ctx, actorOf(chief), q)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, pending.ID, entries[0].ID)

	// AND: A responsable ignores it and sees their own department
	entries, err = f.svc.CalendarView(f.ctx, actorOf(engLead), q)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, approved.ID, entries[0].ID)

	_, err = f.svc.CalendarView(f.ctx, actorOf(chief), timeoff.CalendarQuery{From: "march", To: "2025-03-31"})
	assert.ErrorIs(t, err, generic.ErrInvalidDates)
}
