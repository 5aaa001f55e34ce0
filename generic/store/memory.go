// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu   sync.RWMutex
	data state
}

type state struct {
	requests    map[string]generic.Request
	balances    map[string]generic.Balance
	adjustments []generic.BalanceAdjustment
	holidays    map[int][]generic.TimePoint
	workingDays map[string]generic.WorkingDaySettings
	departments map[string]generic.Department
}

func newState() state {
	return state{
		requests:    make(map[string]generic.Request),
		balances:    make(map[string]generic.Balance),
		holidays:    make(map[int][]generic.TimePoint),
		workingDays: make(map[string]generic.WorkingDaySettings),
		departments: make(map[string]generic.Department),
	}
}

func NewMemory() *Memory {
	return &Memory{data: newState()}
}

func (m *Memory) GetRequest(ctx context.Context, id string) (*generic.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.GetRequest(ctx, id)
}

func (m *Memory) SaveRequest(ctx context.Context, r generic.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.SaveRequest(ctx, r)
}

func (m *Memory) ListRequests(ctx context.Context, f generic.RequestFilter) ([]generic.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.ListRequests(ctx, f)
}

func (m *Memory) GetBalance(ctx context.Context, employeeID string) (*generic.Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.GetBalance(ctx, employeeID)
}

func (m *Memory) SaveBalance(ctx context.Context, b generic.Balance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.SaveBalance(ctx, b)
}

func (m *Memory) AppendAdjustment(ctx context.Context, a generic.BalanceAdjustment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.AppendAdjustment(ctx, a)
}

func (m *Memory) ListAdjustments(ctx context.Context, employeeID string) ([]generic.BalanceAdjustment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.ListAdjustments(ctx, employeeID)
}

func (m *Memory) HolidaysForYear(ctx context.Context, year int) ([]generic.Holiday, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.HolidaysForYear(ctx, year)
}

func (m *Memory) ReplaceHolidays(ctx context.Context, year int, days []generic.TimePoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.ReplaceHolidays(ctx, year, days)
}

func (m *Memory) GetWorkingDays(ctx context.Context, employeeID string) (*generic.WorkingDaySettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.GetWorkingDays(ctx, employeeID)
}

func (m *Memory) SaveWorkingDays(ctx context.Context, s generic.WorkingDaySettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.SaveWorkingDays(ctx, s)
}

func (m *Memory) ListDepartments(ctx context.Context) ([]generic.Department, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.ListDepartments(ctx)
}

func (m *Memory) SaveDepartment(ctx context.Context, d generic.Department) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.SaveDepartment(ctx, d)
}

// =============================================================================
// UNLOCKED STATE - Shared by Memory and the transactional view
// =============================================================================

func (s *state) GetRequest(_ context.Context, id string) (*generic.Request, error) {
	r, ok := s.requests[id]
	if !ok {
		return nil, nil
	}
	r = cloneRequest(r)
	return &r, nil
}

func (s *state) SaveRequest(_ context.Context, r generic.Request) error {
	s.requests[r.ID] = cloneRequest(r)
	return nil
}

func (s *state) ListRequests(_ context.Context, f generic.RequestFilter) ([]generic.Request, error) {
	var result []generic.Request
	for _, r := range s.requests {
		if f.Matches(r) {
			result = append(result, cloneRequest(r))
		}
	}
	return generic.NewestFirst(result, f.Limit), nil
}

func (s *state) GetBalance(_ context.Context, employeeID string) (*generic.Balance, error) {
	b, ok := s.balances[employeeID]
	if !ok {
		return nil, nil
	}
	b = cloneBalance(b)
	return &b, nil
}

func (s *state) SaveBalance(_ context.Context, b generic.Balance) error {
	s.balances[b.EmployeeID] = cloneBalance(b)
	return nil
}

func (s *state) AppendAdjustment(_ context.Context, a generic.BalanceAdjustment) error {
	s.adjustments = append(s.adjustments, a)
	return nil
}

func (s *state) ListAdjustments(_ context.Context, employeeID string) ([]generic.BalanceAdjustment, error) {
	var result []generic.BalanceAdjustment
	for i := len(s.adjustments) - 1; i >= 0; i-- {
		if a := s.adjustments[i]; a.EmployeeID == employeeID {
			result = append(result, a)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (s *state) HolidaysForYear(_ context.Context, year int) ([]generic.Holiday, error) {
	var result []generic.Holiday
	for _, d := range s.holidays[year] {
		result = append(result, generic.Holiday{Year: year, Date: d})
	}
	return result, nil
}

func (s *state) ReplaceHolidays(_ context.Context, year int, days []generic.TimePoint) error {
	s.holidays[year] = append([]generic.TimePoint(nil), days...)
	return nil
}

func (s *state) GetWorkingDays(_ context.Context, employeeID string) (*generic.WorkingDaySettings, error) {
	ws, ok := s.workingDays[employeeID]
	if !ok {
		return nil, nil
	}
	ws.Days = append(generic.WorkingDaySet(nil), ws.Days...)
	return &ws, nil
}

func (s *state) SaveWorkingDays(_ context.Context, ws generic.WorkingDaySettings) error {
	ws.Days = append(generic.WorkingDaySet(nil), ws.Days...)
	s.workingDays[ws.EmployeeID] = ws
	return nil
}

func (s *state) ListDepartments(_ context.Context) ([]generic.Department, error) {
	result := make([]generic.Department, 0, len(s.departments))
	for _, d := range s.departments {
		result = append(result, d)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (s *state) SaveDepartment(_ context.Context, d generic.Department) error {
	s.departments[d.ID] = d
	return nil
}

func (s *state) clone() state {
	c := newState()
	for k, v := range s.requests {
		c.requests[k] = cloneRequest(v)
	}
	for k, v := range s.balances {
		c.balances[k] = cloneBalance(v)
	}
	c.adjustments = append([]generic.BalanceAdjustment(nil), s.adjustments...)
	for k, v := range s.holidays {
		c.holidays[k] = append([]generic.TimePoint(nil), v...)
	}
	for k, v := range s.workingDays {
		v.Days = append(generic.WorkingDaySet(nil), v.Days...)
		c.workingDays[k] = v
	}
	for k, v := range s.departments {
		c.departments[k] = v
	}
	return c
}

func cloneRequest(r generic.Request) generic.Request {
	if r.ApprovedAt != nil {
		t := *r.ApprovedAt
		r.ApprovedAt = &t
	}
	return r
}

func cloneBalance(b generic.Balance) generic.Balance {
	if b.LastAdjustment != nil {
		mark := *b.LastAdjustment
		b.LastAdjustment = &mark
	}
	return b
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// The write lock is held for the whole of fn, so transactions are serial.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(generic.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.data.clone()
	if err := fn(&tm.data); err != nil {
		tm.data = snapshot
		return err
	}
	return nil
}

var (
	_ generic.Store   = (*Memory)(nil)
	_ generic.TxStore = (*TxMemory)(nil)
)
