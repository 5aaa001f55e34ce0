/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Default durable backend of the server. Implements generic.TxStore with
  one table per document kind.

KEY TABLES:
  requests:            Leave requests with the requester snapshot inlined
  balances:            One row per employee
  balance_adjustments: Append-only audit of manual adjustments
  holidays:            (year, date) pairs, replaced per year
  working_days:        Per-employee weekday pattern (JSON array)
  departments:         Departments

INDEXES:
  - idx_requests_employee:   Overlap checks and employee listings (hot path)
  - idx_requests_department: Department-scoped listings and calendar
  - idx_adjustments_employee: Audit trail reads

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. WithTx holds the write lock for the
  whole sql.Tx, so read-check-write sequences are serialized per process.

TIMESTAMPS:
  Stored as fixed-width UTC text so ORDER BY created_at sorts
  chronologically.

USAGE:
  store, err := sqlite.New("./data/leave.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := timeoff.NewService(store, directory)

SEE ALSO:
  - generic/store.go: Interface definitions
  - generic/store/memory.go: In-memory implementation for testing
  - store/postgres: Multi-instance backend
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/leave-engine/generic"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements generic.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// each connection would otherwise open its own empty database
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS requests (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		requester_email TEXT NOT NULL DEFAULT '',
		requester_name TEXT NOT NULL DEFAULT '',
		requester_role TEXT NOT NULL DEFAULT '',
		requester_department TEXT NOT NULL DEFAULT '',
		resource TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		status TEXT NOT NULL,
		approver_id TEXT,
		approved_at TEXT,
		note TEXT,
		consumed_days INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_requests_employee
		ON requests(employee_id, status);
	CREATE INDEX IF NOT EXISTS idx_requests_department
		ON requests(requester_department, status);
	CREATE INDEX IF NOT EXISTS idx_requests_created
		ON requests(created_at DESC);

	CREATE TABLE IF NOT EXISTS balances (
		employee_id TEXT PRIMARY KEY,
		assigned_annual INTEGER NOT NULL,
		carried_over INTEGER NOT NULL,
		extra INTEGER NOT NULL,
		consumed INTEGER NOT NULL,
		available INTEGER NOT NULL,
		last_delta INTEGER,
		last_comment TEXT,
		last_by TEXT,
		last_at TEXT,
		updated_at TEXT NOT NULL
	);

	-- Append-only: no UPDATE or DELETE is ever issued against this table
	CREATE TABLE IF NOT EXISTS balance_adjustments (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		delta_extra INTEGER NOT NULL,
		comment TEXT,
		assigned_annual INTEGER NOT NULL,
		carried_over INTEGER NOT NULL,
		created_by TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_adjustments_employee
		ON balance_adjustments(employee_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS holidays (
		year INTEGER NOT NULL,
		date TEXT NOT NULL,
		PRIMARY KEY (year, date)
	);

	CREATE TABLE IF NOT EXISTS working_days (
		employee_id TEXT PRIMARY KEY,
		days_json TEXT NOT NULL,
		updated_by TEXT,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS departments (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		manager_id TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LOCKED ENTRY POINTS
// =============================================================================

func (s *Store) GetRequest(ctx context.Context, id string) (*generic.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.GetRequest(ctx, id)
}

func (s *Store) SaveRequest(ctx context.Context, r generic.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queries{s.db}.SaveRequest(ctx, r)
}

func (s *Store) ListRequests(ctx context.Context, filter generic.RequestFilter) ([]generic.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.ListRequests(ctx, filter)
}

func (s *Store) GetBalance(ctx context.Context, employeeID string) (*generic.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.GetBalance(ctx, employeeID)
}

func (s *Store) SaveBalance(ctx context.Context, b generic.Balance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queries{s.db}.SaveBalance(ctx, b)
}

func (s *Store) AppendAdjustment(ctx context.Context, a generic.BalanceAdjustment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queries{s.db}.AppendAdjustment(ctx, a)
}

func (s *Store) ListAdjustments(ctx context.Context, employeeID string) ([]generic.BalanceAdjustment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.ListAdjustments(ctx, employeeID)
}

func (s *Store) HolidaysForYear(ctx context.Context, year int) ([]generic.Holiday, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.HolidaysForYear(ctx, year)
}

// ReplaceHolidays runs in its own transaction when called outside WithTx.
func (s *Store) ReplaceHolidays(ctx context.Context, year int, days []generic.TimePoint) error {
	return s.WithTx(ctx, func(tx generic.Store) error {
		return tx.ReplaceHolidays(ctx, year, days)
	})
}

func (s *Store) GetWorkingDays(ctx context.Context, employeeID string) (*generic.WorkingDaySettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.GetWorkingDays(ctx, employeeID)
}

func (s *Store) SaveWorkingDays(ctx context.Context, settings generic.WorkingDaySettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queries{s.db}.SaveWorkingDays(ctx, settings)
}

func (s *Store) ListDepartments(ctx context.Context) ([]generic.Department, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.ListDepartments(ctx)
}

func (s *Store) SaveDepartment(ctx context.Context, d generic.Department) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queries{s.db}.SaveDepartment(ctx, d)
}

// =============================================================================
// TRANSACTION SUPPORT
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store generic.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(txStore{queries{sqlTx}}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore is the view handed to WithTx callbacks. Every call runs on the
// open sql.Tx; the store lock is already held.
type txStore struct {
	queries
}

func (ts txStore) ReplaceHolidays(ctx context.Context, year int, days []generic.TimePoint) error {
	if _, err := ts.db.ExecContext(ctx, `DELETE FROM holidays WHERE year = ?`, year); err != nil {
		return fmt.Errorf("failed to clear holidays: %w", err)
	}
	for _, day := range days {
		_, err := ts.db.ExecContext(ctx, `INSERT OR IGNORE INTO holidays (year, date) VALUES (?, ?)`, year, day.String())
		if err != nil {
			return fmt.Errorf("failed to insert holiday %s: %w", day, err)
		}
	}
	return nil
}

// =============================================================================
// QUERIES - Shared by the store and its transactions
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	db querier
}

const requestColumns = `id, employee_id, requester_email, requester_name, requester_role,
	requester_department, resource, start_date, end_date, status, approver_id,
	approved_at, note, consumed_days, created_at, updated_at`

func (q queries) SaveRequest(ctx context.Context, r generic.Request) error {
	var approvedAt sql.NullString
	if r.ApprovedAt != nil {
		approvedAt = nullString(formatTime(*r.ApprovedAt))
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO requests (`+requestColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID,
		r.EmployeeID,
		r.Requester.Email,
		r.Requester.DisplayName,
		r.Requester.Role,
		r.Requester.DepartmentID,
		string(r.Resource),
		r.Start.String(),
		r.End.String(),
		string(r.Status),
		nullString(r.ApproverID),
		approvedAt,
		nullString(r.Note),
		r.ConsumedDays,
		formatTime(r.CreatedAt),
		formatTime(r.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save request: %w", err)
	}
	return nil
}

func (q queries) GetRequest(ctx context.Context, id string) (*generic.Request, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get request: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	r, err := scanRequest(rows)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (q queries) ListRequests(ctx context.Context, filter generic.RequestFilter) ([]generic.Request, error) {
	var (
		where []string
		args  []any
	)
	if filter.EmployeeID != "" {
		where = append(where, "employee_id = ?")
		args = append(args, filter.EmployeeID)
	}
	if len(filter.DepartmentIDs) > 0 {
		where = append(where, "requester_department IN ("+placeholders(len(filter.DepartmentIDs))+")")
		for _, d := range filter.DepartmentIDs {
			args = append(args, d)
		}
	}
	if len(filter.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(filter.Statuses))+")")
		for _, st := range filter.Statuses {
			args = append(args, string(st))
		}
	}

	query := `SELECT ` + requestColumns + ` FROM requests`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}
	defer rows.Close()

	result := []generic.Request{}
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func scanRequest(rows *sql.Rows) (generic.Request, error) {
	var (
		r                            generic.Request
		resource, status             string
		startDate, endDate           string
		approverID, approvedAt, note sql.NullString
		createdAt, updatedAt         string
	)
	err := rows.Scan(
		&r.ID, &r.EmployeeID,
		&r.Requester.Email, &r.Requester.DisplayName, &r.Requester.Role, &r.Requester.DepartmentID,
		&resource, &startDate, &endDate, &status,
		&approverID, &approvedAt, &note, &r.ConsumedDays,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return generic.Request{}, fmt.Errorf("failed to scan request: %w", err)
	}

	r.Resource = generic.ResourceKind(resource)
	r.Status = generic.RequestStatus(status)
	r.Start, _ = generic.ParseDate(startDate)
	r.End, _ = generic.ParseDate(endDate)
	r.ApproverID = approverID.String
	r.Note = note.String
	if approvedAt.Valid {
		t := parseTime(approvedAt.String)
		r.ApprovedAt = &t
	}
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	return r, nil
}

func (q queries) GetBalance(ctx context.Context, employeeID string) (*generic.Balance, error) {
	var (
		b                           generic.Balance
		lastDelta                   sql.NullInt64
		lastComment, lastBy, lastAt sql.NullString
		updatedAt                   string
	)
	err := q.db.QueryRowContext(ctx, `
		SELECT employee_id, assigned_annual, carried_over, extra, consumed, available,
			last_delta, last_comment, last_by, last_at, updated_at
		FROM balances WHERE employee_id = ?`, employeeID,
	).Scan(
		&b.EmployeeID, &b.AssignedAnnual, &b.CarriedOver, &b.Extra, &b.Consumed, &b.Available,
		&lastDelta, &lastComment, &lastBy, &lastAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}

	if lastAt.Valid {
		b.LastAdjustment = &generic.AdjustmentMark{
			Delta:   int(lastDelta.Int64),
			Comment: lastComment.String,
			By:      lastBy.String,
			At:      parseTime(lastAt.String),
		}
	}
	b.UpdatedAt = parseTime(updatedAt)
	return &b, nil
}

func (q queries) SaveBalance(ctx context.Context, b generic.Balance) error {
	var (
		lastDelta                   sql.NullInt64
		lastComment, lastBy, lastAt sql.NullString
	)
	if m := b.LastAdjustment; m != nil {
		lastDelta = sql.NullInt64{Int64: int64(m.Delta), Valid: true}
		lastComment = nullString(m.Comment)
		lastBy = nullString(m.By)
		lastAt = nullString(formatTime(m.At))
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO balances (employee_id, assigned_annual, carried_over, extra,
			consumed, available, last_delta, last_comment, last_by, last_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.EmployeeID, b.AssignedAnnual, b.CarriedOver, b.Extra, b.Consumed, b.Available,
		lastDelta, lastComment, lastBy, lastAt, formatTime(b.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save balance: %w", err)
	}
	return nil
}

func (q queries) AppendAdjustment(ctx context.Context, a generic.BalanceAdjustment) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO balance_adjustments (id, employee_id, delta_extra, comment,
			assigned_annual, carried_over, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.EmployeeID, a.DeltaExtra, nullString(a.Comment),
		a.AssignedAnnual, a.CarriedOver, a.CreatedBy, formatTime(a.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("adjustment %s already recorded: %w", a.ID, err)
		}
		return fmt.Errorf("failed to append adjustment: %w", err)
	}
	return nil
}

func (q queries) ListAdjustments(ctx context.Context, employeeID string) ([]generic.BalanceAdjustment, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, employee_id, delta_extra, comment, assigned_annual, carried_over,
			created_by, created_at
		FROM balance_adjustments WHERE employee_id = ?
		ORDER BY created_at DESC, id DESC`, employeeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list adjustments: %w", err)
	}
	defer rows.Close()

	result := []generic.BalanceAdjustment{}
	for rows.Next() {
		var (
			a         generic.BalanceAdjustment
			comment   sql.NullString
			createdAt string
		)
		if err := rows.Scan(&a.ID, &a.EmployeeID, &a.DeltaExtra, &comment,
			&a.AssignedAnnual, &a.CarriedOver, &a.CreatedBy, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan adjustment: %w", err)
		}
		a.Comment = comment.String
		a.CreatedAt = parseTime(createdAt)
		result = append(result, a)
	}
	return result, rows.Err()
}

func (q queries) HolidaysForYear(ctx context.Context, year int) ([]generic.Holiday, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT year, date FROM holidays WHERE year = ? ORDER BY date`, year)
	if err != nil {
		return nil, fmt.Errorf("failed to get holidays: %w", err)
	}
	defer rows.Close()

	result := []generic.Holiday{}
	for rows.Next() {
		var (
			h    generic.Holiday
			date string
		)
		if err := rows.Scan(&h.Year, &date); err != nil {
			return nil, fmt.Errorf("failed to scan holiday: %w", err)
		}
		day, err := generic.ParseDate(date)
		if err != nil {
			continue
		}
		h.Date = day
		result = append(result, h)
	}
	return result, rows.Err()
}

func (q queries) GetWorkingDays(ctx context.Context, employeeID string) (*generic.WorkingDaySettings, error) {
	var (
		ws        generic.WorkingDaySettings
		daysJSON  string
		updatedBy sql.NullString
		updatedAt string
	)
	err := q.db.QueryRowContext(ctx, `
		SELECT employee_id, days_json, updated_by, updated_at
		FROM working_days WHERE employee_id = ?`, employeeID,
	).Scan(&ws.EmployeeID, &daysJSON, &updatedBy, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get working days: %w", err)
	}

	var days []int
	if err := json.Unmarshal([]byte(daysJSON), &days); err != nil {
		return nil, fmt.Errorf("failed to decode working days: %w", err)
	}
	ws.Days = generic.NewWorkingDaySet(days...)
	ws.UpdatedBy = updatedBy.String
	ws.UpdatedAt = parseTime(updatedAt)
	return &ws, nil
}

func (q queries) SaveWorkingDays(ctx context.Context, ws generic.WorkingDaySettings) error {
	daysJSON, err := json.Marshal([]int(ws.Days))
	if err != nil {
		return fmt.Errorf("failed to encode working days: %w", err)
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO working_days (employee_id, days_json, updated_by, updated_at)
		VALUES (?, ?, ?, ?)`,
		ws.EmployeeID, string(daysJSON), nullString(ws.UpdatedBy), formatTime(ws.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save working days: %w", err)
	}
	return nil
}

func (q queries) ListDepartments(ctx context.Context) ([]generic.Department, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, name, manager_id, created_at, updated_at
		FROM departments ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list departments: %w", err)
	}
	defer rows.Close()

	result := []generic.Department{}
	for rows.Next() {
		var (
			d                    generic.Department
			managerID            sql.NullString
			createdAt, updatedAt string
		)
		if err := rows.Scan(&d.ID, &d.Name, &managerID, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan department: %w", err)
		}
		d.ManagerID = managerID.String
		d.CreatedAt = parseTime(createdAt)
		d.UpdatedAt = parseTime(updatedAt)
		result = append(result, d)
	}
	return result, rows.Err()
}

func (q queries) SaveDepartment(ctx context.Context, d generic.Department) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO departments (id, name, manager_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		d.ID, d.Name, nullString(d.ManagerID), formatTime(d.CreatedAt), formatTime(d.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save department: %w", err)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var (
	_ generic.TxStore = (*Store)(nil)
	_ generic.Store   = txStore{}
)
