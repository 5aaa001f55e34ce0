package timeoff

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// SERVICE - Request lifecycle with transactional guarantees
// =============================================================================

// Service orchestrates the request lifecycle, the balance operations and
// the settings around them. Every mutation runs inside Store.WithTx so
// the overlap check, the day count and the balance write see one
// consistent state.
type Service struct {
	Store             generic.TxStore
	Directory         Directory
	DefaultAnnualDays int
	Now               func() time.Time
	NewID             func() string
}

type Option func(*Service)

func WithDefaultAnnualDays(days int) Option {
	return func(s *Service) { s.DefaultAnnualDays = days }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.Now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.NewID = newID }
}

func NewService(store generic.TxStore, dir Directory, opts ...Option) *Service {
	s := &Service{
		Store:             store,
		Directory:         dir,
		DefaultAnnualDays: generic.DefaultAnnualDays,
		Now:               time.Now,
		NewID:             uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) ledger(store generic.LedgerStore) *generic.Ledger {
	return generic.NewLedger(store,
		generic.WithDefaultAnnualDays(s.DefaultAnnualDays),
		generic.WithClock(s.Now),
		generic.WithIDGenerator(s.NewID),
	)
}

func (s *Service) calendar(store generic.Store) Calendar {
	return Calendar{Holidays: store, WorkingDays: store}
}

func (s *Service) now() time.Time {
	return s.Now().UTC()
}

// =============================================================================
// SUBMIT
// =============================================================================

// Submit creates a pending request for the actor.
// Errors: forbidden, invalid_dates, invalid_range, overlap.
func (s *Service) Submit(ctx context.Context, actor Actor, in SubmitInput) (generic.Request, error) {
	if !actor.Role.CanSubmit() {
		return generic.Request{}, generic.ErrForbidden
	}
	p, err := generic.NewPeriod(in.Start, in.End)
	if err != nil {
		return generic.Request{}, err
	}

	now := s.now()
	req := generic.Request{
		ID:         s.NewID(),
		EmployeeID: actor.UID,
		Requester:  actor.Snapshot(),
		Resource:   ResourceVacation,
		Start:      p.Start,
		End:        p.End,
		Status:     generic.StatusPending,
		Note:       strings.TrimSpace(in.Note),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err = s.Store.WithTx(ctx, func(tx generic.Store) error {
		if err := ensureNoOverlap(ctx, tx, actor.UID, p, ""); err != nil {
			return err
		}
		if err := tx.SaveRequest(ctx, req); err != nil {
			return fmt.Errorf("save request %s: %w", req.ID, err)
		}
		return nil
	})
	if err != nil {
		return generic.Request{}, err
	}
	return req, nil
}

// =============================================================================
// EDIT
// =============================================================================

// Edit changes the dates or note of a request. Editing an approved
// request reverses its consumption and sends it back to pending.
// Rejected requests are final: editing one fails with invalid_state
// instead of rewriting its dates under an unchanged rejected status.
// Errors: not_found, forbidden, invalid_state, invalid_dates, invalid_range, overlap.
func (s *Service) Edit(ctx context.Context, actor Actor, id string, in EditInput) (generic.Request, error) {
	var updated generic.Request
	err := s.Store.WithTx(ctx, func(tx generic.Store) error {
		current, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if actor.Role == RoleEmployee && current.EmployeeID != actor.UID {
			return generic.ErrForbidden
		}
		if current.Status == generic.StatusRejected {
			return &generic.TransitionError{RequestID: id, From: current.Status, Action: "edit"}
		}

		p, err := generic.NewPeriod(
			firstNonEmpty(in.Start, current.Start.String()),
			firstNonEmpty(in.End, current.End.String()),
		)
		if err != nil {
			return err
		}
		if err := ensureNoOverlap(ctx, tx, current.EmployeeID, p, current.ID); err != nil {
			return err
		}

		next := *current
		next.Start, next.End = p.Start, p.End
		next.Note = firstNonEmpty(in.Note, current.Note)
		next.UpdatedAt = s.now()

		if current.Status == generic.StatusApproved {
			if current.ConsumedDays > 0 {
				if _, err := s.ledger(tx).ApplyConsumption(ctx, current.EmployeeID, -current.ConsumedDays); err != nil {
					return err
				}
			}
			next.Status = generic.StatusPending
			next.ApproverID = ""
			next.ApprovedAt = nil
			next.ConsumedDays = 0
		}

		if err := tx.SaveRequest(ctx, next); err != nil {
			return fmt.Errorf("save request %s: %w", next.ID, err)
		}
		updated = next
		return nil
	})
	return updated, err
}

// =============================================================================
// APPROVE / REJECT
// =============================================================================

// Approve moves a pending request to approved, deducting its consumable
// days from the employee's balance. Returns the days consumed.
// Errors: not_found, forbidden, invalid_state, invalid_dates, overlap.
func (s *Service) Approve(ctx context.Context, actor Actor, id string) (int, error) {
	var consumed int
	err := s.Store.WithTx(ctx, func(tx generic.Store) error {
		current, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := s.authorize(ctx, actor, *current); err != nil {
			return err
		}
		if current.Status != generic.StatusPending {
			return &generic.TransitionError{RequestID: id, From: current.Status, Action: "approve"}
		}
		p := current.Period()
		if p.Start.IsZero() || p.End.IsZero() {
			return generic.ErrInvalidDates
		}
		if err := ensureNoOverlap(ctx, tx, current.EmployeeID, p, current.ID); err != nil {
			return err
		}

		days, err := s.calendar(tx).CountConsumableDays(ctx, p.Start, p.End, current.EmployeeID)
		if err != nil {
			return err
		}
		if _, err := s.ledger(tx).ApplyConsumption(ctx, current.EmployeeID, days); err != nil {
			return err
		}

		now := s.now()
		current.Status = generic.StatusApproved
		current.ApproverID = actor.Email
		current.ApprovedAt = &now
		current.ConsumedDays = days
		current.UpdatedAt = now
		if err := tx.SaveRequest(ctx, *current); err != nil {
			return fmt.Errorf("save request %s: %w", id, err)
		}
		consumed = days
		return nil
	})
	if err != nil {
		return 0, err
	}
	return consumed, nil
}

// Reject moves a pending request to rejected. No balance effect.
// Errors: not_found, forbidden, invalid_state.
func (s *Service) Reject(ctx context.Context, actor Actor, id string) error {
	return s.Store.WithTx(ctx, func(tx generic.Store) error {
		current, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := s.authorize(ctx, actor, *current); err != nil {
			return err
		}
		if current.Status != generic.StatusPending {
			return &generic.TransitionError{RequestID: id, From: current.Status, Action: "reject"}
		}

		now := s.now()
		current.Status = generic.StatusRejected
		current.ApproverID = actor.Email
		current.ApprovedAt = &now
		current.UpdatedAt = now
		if err := tx.SaveRequest(ctx, *current); err != nil {
			return fmt.Errorf("save request %s: %w", id, err)
		}
		return nil
	})
}

func (s *Service) authorize(ctx context.Context, actor Actor, req generic.Request) error {
	role, err := RequesterRole(ctx, s.Directory, req)
	if err != nil {
		return err
	}
	if !CanApprove(actor, req, role) {
		return generic.ErrForbidden
	}
	return nil
}

func (s *Service) load(ctx context.Context, store generic.RequestStore, id string) (*generic.Request, error) {
	if strings.TrimSpace(id) == "" {
		return nil, generic.ErrNotFound
	}
	req, err := store.GetRequest(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load request %s: %w", id, err)
	}
	if req == nil {
		return nil, generic.ErrNotFound
	}
	return req, nil
}

// =============================================================================
// ESTIMATE - Read-only day count for pending requests
// =============================================================================

// Estimate recomputes the consumable days of a pending request. The value
// is never stored.
// Errors: not_found, forbidden, invalid_state.
func (s *Service) Estimate(ctx context.Context, actor Actor, id string) (int, error) {
	req, err := s.load(ctx, s.Store, id)
	if err != nil {
		return 0, err
	}
	if actor.Role == RoleEmployee && req.EmployeeID != actor.UID {
		return 0, generic.ErrForbidden
	}
	if req.Status != generic.StatusPending {
		return 0, &generic.TransitionError{RequestID: id, From: req.Status, Action: "estimate"}
	}
	return s.calendar(s.Store).CountConsumableDays(ctx, req.Start, req.End, req.EmployeeID)
}

// =============================================================================
// LISTING
// =============================================================================

// RequestView is a listed request; pending requests carry an estimate.
type RequestView struct {
	generic.Request
	EstimatedDays *int
}

// ListRequests returns the requests the actor may see, newest first, at
// most ListLimit. empleado sees their own, responsable their department,
// jefe and admin_sistema everything (optionally narrowed by the query).
// Any other role sees only their own requests.
func (s *Service) ListRequests(ctx context.Context, actor Actor, q RequestQuery) ([]RequestView, error) {
	filter := generic.RequestFilter{Limit: ListLimit}
	switch {
	case actor.Role == RoleManager:
		if actor.DepartmentID == "" {
			return []RequestView{}, nil
		}
		filter.DepartmentIDs = []string{actor.DepartmentID}
	case actor.Role.IsOrgWide():
		if q.EmployeeID != "" {
			filter.EmployeeID = q.EmployeeID
		} else if q.DepartmentID != "" {
			filter.DepartmentIDs = []string{q.DepartmentID}
		}
	default:
		filter.EmployeeID = actor.UID
	}
	if q.Status != "" {
		filter.Statuses = []generic.RequestStatus{q.Status}
	}

	requests, err := s.Store.ListRequests(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}

	cal := s.calendar(s.Store)
	views := make([]RequestView, 0, len(requests))
	for _, r := range requests {
		r, err := s.fillSnapshot(ctx, r)
		if err != nil {
			return nil, err
		}
		view := RequestView{Request: r}
		if r.Status == generic.StatusPending && !r.Start.IsZero() && !r.End.IsZero() {
			days, err := cal.CountConsumableDays(ctx, r.Start, r.End, r.EmployeeID)
			if err != nil {
				return nil, err
			}
			view.EstimatedDays = &days
		}
		views = append(views, view)
	}
	return views, nil
}

// fillSnapshot completes a snapshot missing role or display name from the
// directory, for display only. Stored requests are not rewritten.
func (s *Service) fillSnapshot(ctx context.Context, r generic.Request) (generic.Request, error) {
	if s.Directory == nil || r.Requester.Email == "" {
		return r, nil
	}
	if r.Requester.Role != "" && r.Requester.DisplayName != "" {
		return r, nil
	}
	person, err := s.Directory.ByEmail(ctx, r.Requester.Email)
	if err != nil {
		return r, fmt.Errorf("resolve requester %s: %w", r.Requester.Email, err)
	}
	if person == nil {
		return r, nil
	}
	if r.Requester.Role == "" {
		r.Requester.Role = string(person.Role)
	}
	if r.Requester.DisplayName == "" {
		r.Requester.DisplayName = person.DisplayName
	}
	return r, nil
}

// =============================================================================
// CALENDAR VIEW
// =============================================================================

// CalendarEntry is a request in the calendar window with the working days
// of its employee.
type CalendarEntry struct {
	generic.Request
	WorkingDays generic.WorkingDaySet
}

// CalendarView lists approved requests (and pending ones when asked)
// intersecting [From, To]. Scoping matches ListRequests; the department
// filter applies to org-wide roles only.
// Errors: invalid_dates.
func (s *Service) CalendarView(ctx context.Context, actor Actor, q CalendarQuery) ([]CalendarEntry, error) {
	from, err := generic.ParseDate(q.From)
	if err != nil {
		return nil, err
	}
	to, err := generic.ParseDate(q.To)
	if err != nil {
		return nil, err
	}
	window := generic.Period{Start: from, End: to}

	filter := generic.RequestFilter{Statuses: []generic.RequestStatus{generic.StatusApproved}}
	if q.IncludePending {
		filter.Statuses = generic.ActiveStatuses()
	}
	switch {
	case actor.Role == RoleManager:
		if actor.DepartmentID == "" {
			return []CalendarEntry{}, nil
		}
		filter.DepartmentIDs = []string{actor.DepartmentID}
	case actor.Role.IsOrgWide():
		filter.DepartmentIDs = q.DepartmentIDs
	default:
		filter.EmployeeID = actor.UID
	}

	requests, err := s.Store.ListRequests(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list calendar requests: %w", err)
	}

	cal := s.calendar(s.Store)
	workingDays := make(map[string]generic.WorkingDaySet)
	entries := []CalendarEntry{}
	for _, r := range requests {
		if r.Start.IsZero() || r.End.IsZero() || !r.Period().Overlaps(window) {
			continue
		}
		days, ok := workingDays[r.EmployeeID]
		if !ok {
			days, err = cal.WorkingDaysOf(ctx, r.EmployeeID)
			if err != nil {
				return nil, err
			}
			workingDays[r.EmployeeID] = days
		}
		r, err := s.fillSnapshot(ctx, r)
		if err != nil {
			return nil, err
		}
		entries = append(entries, CalendarEntry{Request: r, WorkingDays: days})
	}
	return entries, nil
}
