/*
store.go - Persistence contracts

PURPOSE:
  Defines the interface between the engine and the document store.
  Implementations: in-memory (generic/store), SQLite (store/sqlite),
  Bolt (store/bolt) and PostgreSQL (store/postgres).

KEY INTERFACES:
  RequestStore:    Leave requests (point read, upsert, filtered scan)
  BalanceStore:    One balance document per employee
  AdjustmentLog:   Append-only manual adjustment audit
  HolidayStore:    Holidays per year, replaced as a whole
  WorkingDayStore: Per-employee weekday patterns
  DepartmentStore: Departments
  Store:           All of the above
  TxStore:         Store plus WithTx for atomic read-check-write

MISSING DOCUMENTS:
  Point reads return (nil, nil) when the document does not exist.
  Callers decide whether that is an error.

ATOMICITY:
  Every lifecycle mutation runs inside WithTx. The view passed to fn sees
  its own writes; if fn returns an error nothing it wrote is kept. This
  serializes the read-check-write of overlap checks and balance
  arithmetic per store.

SEE ALSO:
  - ledger.go: Uses BalanceStore and AdjustmentLog
  - timeoff/request.go: Uses TxStore
*/
package generic

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Document persistence
// =============================================================================

type RequestStore interface {
	// GetRequest returns (nil, nil) when the id is unknown.
	GetRequest(ctx context.Context, id string) (*Request, error)

	// SaveRequest inserts or replaces the request with the same id.
	SaveRequest(ctx context.Context, r Request) error

	// ListRequests returns matching requests newest first, at most
	// filter.Limit when it is positive.
	ListRequests(ctx context.Context, filter RequestFilter) ([]Request, error)
}

type BalanceStore interface {
	// GetBalance returns (nil, nil) when the employee has no balance yet.
	GetBalance(ctx context.Context, employeeID string) (*Balance, error)

	SaveBalance(ctx context.Context, b Balance) error
}

type AdjustmentLog interface {
	AppendAdjustment(ctx context.Context, a BalanceAdjustment) error

	// ListAdjustments returns an employee's adjustments newest first.
	ListAdjustments(ctx context.Context, employeeID string) ([]BalanceAdjustment, error)
}

type HolidayStore interface {
	HolidaysForYear(ctx context.Context, year int) ([]Holiday, error)

	// ReplaceHolidays deletes every holiday of year and inserts days,
	// as one atomic batch.
	ReplaceHolidays(ctx context.Context, year int, days []TimePoint) error
}

type WorkingDayStore interface {
	// GetWorkingDays returns (nil, nil) when nothing is configured.
	GetWorkingDays(ctx context.Context, employeeID string) (*WorkingDaySettings, error)

	SaveWorkingDays(ctx context.Context, s WorkingDaySettings) error
}

// Department groups employees under a manager.
type Department struct {
	ID        string
	Name      string
	ManagerID string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type DepartmentStore interface {
	ListDepartments(ctx context.Context) ([]Department, error)
	SaveDepartment(ctx context.Context, d Department) error
}

// LedgerStore is what the balance ledger needs.
type LedgerStore interface {
	BalanceStore
	AdjustmentLog
}

// Store is the full document store.
type Store interface {
	RequestStore
	BalanceStore
	AdjustmentLog
	HolidayStore
	WorkingDayStore
	DepartmentStore
}

// =============================================================================
// TRANSACTIONAL STORE - For atomic read-check-write
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
