/*
Package postgres provides a PostgreSQL implementation of generic.TxStore.

PURPOSE:
  Backend for running several server instances against one database.
  Every WithTx call is a SERIALIZABLE transaction, so the overlap check
  and the balance read-modify-write cannot interleave across instances.

CONFLICTS:
  PostgreSQL aborts one side of a conflicting pair with SQLSTATE 40001
  (serialization_failure) or 40P01 (deadlock_detected). Both surface as
  generic.ErrConcurrentModification. The store does not retry; callers
  may, since nothing of the aborted transaction was kept.

SCHEMA:
  Created on New with CREATE ... IF NOT EXISTS. Dates are DATE, instants
  TIMESTAMPTZ, working days INT[].

SEE ALSO:
  - generic/store.go: Interface definitions
  - store/sqlite: Single-process backend with the same tables
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/warp/leave-engine/generic"
)

const schema = `
CREATE TABLE IF NOT EXISTS requests (
	id TEXT PRIMARY KEY,
	employee_id TEXT NOT NULL,
	requester_email TEXT NOT NULL DEFAULT '',
	requester_name TEXT NOT NULL DEFAULT '',
	requester_role TEXT NOT NULL DEFAULT '',
	requester_department TEXT NOT NULL DEFAULT '',
	resource TEXT NOT NULL,
	start_date DATE NOT NULL,
	end_date DATE NOT NULL,
	status TEXT NOT NULL,
	approver_id TEXT NOT NULL DEFAULT '',
	approved_at TIMESTAMPTZ,
	note TEXT NOT NULL DEFAULT '',
	consumed_days INT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_requests_employee ON requests (employee_id, status);
CREATE INDEX IF NOT EXISTS idx_requests_department ON requests (requester_department, status);

CREATE TABLE IF NOT EXISTS balances (
	employee_id TEXT PRIMARY KEY,
	assigned_annual INT NOT NULL,
	carried_over INT NOT NULL,
	extra INT NOT NULL,
	consumed INT NOT NULL,
	available INT NOT NULL,
	last_delta INT,
	last_comment TEXT,
	last_by TEXT,
	last_at TIMESTAMPTZ,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS balance_adjustments (
	id TEXT PRIMARY KEY,
	seq BIGSERIAL,
	employee_id TEXT NOT NULL,
	delta_extra INT NOT NULL,
	comment TEXT NOT NULL DEFAULT '',
	assigned_annual INT NOT NULL,
	carried_over INT NOT NULL,
	created_by TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_adjustments_employee ON balance_adjustments (employee_id, created_at DESC);

CREATE TABLE IF NOT EXISTS holidays (
	year INT NOT NULL,
	date DATE NOT NULL,
	PRIMARY KEY (year, date)
);

CREATE TABLE IF NOT EXISTS working_days (
	employee_id TEXT PRIMARY KEY,
	days INT[] NOT NULL,
	updated_by TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS departments (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	manager_id TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`

// Store implements generic.TxStore on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to databaseURL and creates the schema.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConns = 10
	poolCfg.MinConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// Ping checks connectivity; used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// WithTx runs fn in a SERIALIZABLE transaction.
func (s *Store) WithTx(ctx context.Context, fn func(generic.Store) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(queries{tx}); err != nil {
		return mapError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return mapError(fmt.Errorf("commit: %w", err))
	}
	return nil
}

// mapError turns serialization failures into ErrConcurrentModification.
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01") {
		return fmt.Errorf("%w: %s", generic.ErrConcurrentModification, pgErr.Message)
	}
	return err
}

func (s *Store) q() queries { return queries{s.pool} }

func (s *Store) GetRequest(ctx context.Context, id string) (*generic.Request, error) {
	return s.q().GetRequest(ctx, id)
}

func (s *Store) SaveRequest(ctx context.Context, r generic.Request) error {
	return s.q().SaveRequest(ctx, r)
}

func (s *Store) ListRequests(ctx context.Context, f generic.RequestFilter) ([]generic.Request, error) {
	return s.q().ListRequests(ctx, f)
}

func (s *Store) GetBalance(ctx context.Context, employeeID string) (*generic.Balance, error) {
	return s.q().GetBalance(ctx, employeeID)
}

func (s *Store) SaveBalance(ctx context.Context, b generic.Balance) error {
	return s.q().SaveBalance(ctx, b)
}

func (s *Store) AppendAdjustment(ctx context.Context, a generic.BalanceAdjustment) error {
	return s.q().AppendAdjustment(ctx, a)
}

func (s *Store) ListAdjustments(ctx context.Context, employeeID string) ([]generic.BalanceAdjustment, error) {
	return s.q().ListAdjustments(ctx, employeeID)
}

func (s *Store) HolidaysForYear(ctx context.Context, year int) ([]generic.Holiday, error) {
	return s.q().HolidaysForYear(ctx, year)
}

// ReplaceHolidays runs in its own transaction when called outside WithTx.
func (s *Store) ReplaceHolidays(ctx context.Context, year int, days []generic.TimePoint) error {
	return s.WithTx(ctx, func(tx generic.Store) error {
		return tx.ReplaceHolidays(ctx, year, days)
	})
}

func (s *Store) GetWorkingDays(ctx context.Context, employeeID string) (*generic.WorkingDaySettings, error) {
	return s.q().GetWorkingDays(ctx, employeeID)
}

func (s *Store) SaveWorkingDays(ctx context.Context, ws generic.WorkingDaySettings) error {
	return s.q().SaveWorkingDays(ctx, ws)
}

func (s *Store) ListDepartments(ctx context.Context) ([]generic.Department, error) {
	return s.q().ListDepartments(ctx)
}

func (s *Store) SaveDepartment(ctx context.Context, d generic.Department) error {
	return s.q().SaveDepartment(ctx, d)
}

// =============================================================================
// QUERIES - Shared by the pool and open transactions
// =============================================================================

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type queries struct {
	db dbtx
}

const requestColumns = `id, employee_id, requester_email, requester_name, requester_role,
	requester_department, resource, to_char(start_date, 'YYYY-MM-DD'),
	to_char(end_date, 'YYYY-MM-DD'), status, approver_id, approved_at, note,
	consumed_days, created_at, updated_at`

func (q queries) SaveRequest(ctx context.Context, r generic.Request) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO requests (id, employee_id, requester_email, requester_name, requester_role,
			requester_department, resource, start_date, end_date, status, approver_id,
			approved_at, note, consumed_days, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::date, $9::date, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			start_date = EXCLUDED.start_date,
			end_date = EXCLUDED.end_date,
			status = EXCLUDED.status,
			approver_id = EXCLUDED.approver_id,
			approved_at = EXCLUDED.approved_at,
			note = EXCLUDED.note,
			consumed_days = EXCLUDED.consumed_days,
			updated_at = EXCLUDED.updated_at`,
		r.ID, r.EmployeeID,
		r.Requester.Email, r.Requester.DisplayName, r.Requester.Role, r.Requester.DepartmentID,
		string(r.Resource), r.Start.String(), r.End.String(), string(r.Status),
		r.ApproverID, r.ApprovedAt, r.Note, r.ConsumedDays,
		r.CreatedAt.UTC(), r.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save request: %w", err)
	}
	return nil
}

func (q queries) GetRequest(ctx context.Context, id string) (*generic.Request, error) {
	row := q.db.QueryRow(ctx, `SELECT `+requestColumns+` FROM requests WHERE id = $1`, id)
	r, err := scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get request: %w", err)
	}
	return &r, nil
}

func (q queries) ListRequests(ctx context.Context, f generic.RequestFilter) ([]generic.Request, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.EmployeeID != "" {
		where = append(where, "employee_id = "+arg(f.EmployeeID))
	}
	if len(f.DepartmentIDs) > 0 {
		where = append(where, "requester_department = ANY("+arg(f.DepartmentIDs)+")")
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, 0, len(f.Statuses))
		for _, st := range f.Statuses {
			statuses = append(statuses, string(st))
		}
		where = append(where, "status = ANY("+arg(statuses)+")")
	}

	query := `SELECT ` + requestColumns + ` FROM requests`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}

	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	result := []generic.Request{}
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func scanRequest(row pgx.Row) (generic.Request, error) {
	var (
		r                    generic.Request
		resource, status     string
		startDate, endDate   string
		createdAt, updatedAt time.Time
	)
	err := row.Scan(
		&r.ID, &r.EmployeeID,
		&r.Requester.Email, &r.Requester.DisplayName, &r.Requester.Role, &r.Requester.DepartmentID,
		&resource, &startDate, &endDate, &status,
		&r.ApproverID, &r.ApprovedAt, &r.Note, &r.ConsumedDays,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return generic.Request{}, err
	}
	r.Resource = generic.ResourceKind(resource)
	r.Status = generic.RequestStatus(status)
	r.Start, _ = generic.ParseDate(startDate)
	r.End, _ = generic.ParseDate(endDate)
	r.CreatedAt = createdAt.UTC()
	r.UpdatedAt = updatedAt.UTC()
	if r.ApprovedAt != nil {
		t := r.ApprovedAt.UTC()
		r.ApprovedAt = &t
	}
	return r, nil
}

func (q queries) GetBalance(ctx context.Context, employeeID string) (*generic.Balance, error) {
	var (
		b           generic.Balance
		lastDelta   *int
		lastComment *string
		lastBy      *string
		lastAt      *time.Time
	)
	err := q.db.QueryRow(ctx, `
		SELECT employee_id, assigned_annual, carried_over, extra, consumed, available,
			last_delta, last_comment, last_by, last_at, updated_at
		FROM balances WHERE employee_id = $1`, employeeID,
	).Scan(
		&b.EmployeeID, &b.AssignedAnnual, &b.CarriedOver, &b.Extra, &b.Consumed, &b.Available,
		&lastDelta, &lastComment, &lastBy, &lastAt, &b.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}
	if lastAt != nil {
		mark := &generic.AdjustmentMark{At: lastAt.UTC()}
		if lastDelta != nil {
			mark.Delta = *lastDelta
		}
		if lastComment != nil {
			mark.Comment = *lastComment
		}
		if lastBy != nil {
			mark.By = *lastBy
		}
		b.LastAdjustment = mark
	}
	b.UpdatedAt = b.UpdatedAt.UTC()
	return &b, nil
}

func (q queries) SaveBalance(ctx context.Context, b generic.Balance) error {
	var (
		lastDelta   *int
		lastComment *string
		lastBy      *string
		lastAt      *time.Time
	)
	if m := b.LastAdjustment; m != nil {
		at := m.At.UTC()
		lastDelta, lastComment, lastBy, lastAt = &m.Delta, &m.Comment, &m.By, &at
	}
	_, err := q.db.Exec(ctx, `
		INSERT INTO balances (employee_id, assigned_annual, carried_over, extra, consumed,
			available, last_delta, last_comment, last_by, last_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (employee_id) DO UPDATE SET
			assigned_annual = EXCLUDED.assigned_annual,
			carried_over = EXCLUDED.carried_over,
			extra = EXCLUDED.extra,
			consumed = EXCLUDED.consumed,
			available = EXCLUDED.available,
			last_delta = EXCLUDED.last_delta,
			last_comment = EXCLUDED.last_comment,
			last_by = EXCLUDED.last_by,
			last_at = EXCLUDED.last_at,
			updated_at = EXCLUDED.updated_at`,
		b.EmployeeID, b.AssignedAnnual, b.CarriedOver, b.Extra, b.Consumed, b.Available,
		lastDelta, lastComment, lastBy, lastAt, b.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save balance: %w", err)
	}
	return nil
}

func (q queries) AppendAdjustment(ctx context.Context, a generic.BalanceAdjustment) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO balance_adjustments (id, employee_id, delta_extra, comment,
			assigned_annual, carried_over, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.EmployeeID, a.DeltaExtra, a.Comment,
		a.AssignedAnnual, a.CarriedOver, a.CreatedBy, a.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("append adjustment: %w", err)
	}
	return nil
}

func (q queries) ListAdjustments(ctx context.Context, employeeID string) ([]generic.BalanceAdjustment, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, employee_id, delta_extra, comment, assigned_annual, carried_over,
			created_by, created_at
		FROM balance_adjustments WHERE employee_id = $1
		ORDER BY created_at DESC, seq DESC`, employeeID)
	if err != nil {
		return nil, fmt.Errorf("list adjustments: %w", err)
	}
	defer rows.Close()

	result := []generic.BalanceAdjustment{}
	for rows.Next() {
		var a generic.BalanceAdjustment
		if err := rows.Scan(&a.ID, &a.EmployeeID, &a.DeltaExtra, &a.Comment,
			&a.AssignedAnnual, &a.CarriedOver, &a.CreatedBy, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan adjustment: %w", err)
		}
		a.CreatedAt = a.CreatedAt.UTC()
		result = append(result, a)
	}
	return result, rows.Err()
}

func (q queries) HolidaysForYear(ctx context.Context, year int) ([]generic.Holiday, error) {
	rows, err := q.db.Query(ctx, `
		SELECT to_char(date, 'YYYY-MM-DD') FROM holidays WHERE year = $1 ORDER BY date`, year)
	if err != nil {
		return nil, fmt.Errorf("list holidays: %w", err)
	}
	defer rows.Close()

	result := []generic.Holiday{}
	for rows.Next() {
		var date string
		if err := rows.Scan(&date); err != nil {
			return nil, fmt.Errorf("scan holiday: %w", err)
		}
		day, err := generic.ParseDate(date)
		if err != nil {
			continue
		}
		result = append(result, generic.Holiday{Year: year, Date: day})
	}
	return result, rows.Err()
}

func (q queries) ReplaceHolidays(ctx context.Context, year int, days []generic.TimePoint) error {
	if _, err := q.db.Exec(ctx, `DELETE FROM holidays WHERE year = $1`, year); err != nil {
		return fmt.Errorf("clear holidays: %w", err)
	}
	for _, day := range days {
		_, err := q.db.Exec(ctx, `
			INSERT INTO holidays (year, date) VALUES ($1, $2::date)
			ON CONFLICT DO NOTHING`, year, day.String())
		if err != nil {
			return fmt.Errorf("insert holiday %s: %w", day, err)
		}
	}
	return nil
}

func (q queries) GetWorkingDays(ctx context.Context, employeeID string) (*generic.WorkingDaySettings, error) {
	var (
		ws   generic.WorkingDaySettings
		days []int
	)
	err := q.db.QueryRow(ctx, `
		SELECT employee_id, days, updated_by, updated_at
		FROM working_days WHERE employee_id = $1`, employeeID,
	).Scan(&ws.EmployeeID, &days, &ws.UpdatedBy, &ws.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get working days: %w", err)
	}
	ws.Days = generic.NewWorkingDaySet(days...)
	ws.UpdatedAt = ws.UpdatedAt.UTC()
	return &ws, nil
}

func (q queries) SaveWorkingDays(ctx context.Context, ws generic.WorkingDaySettings) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO working_days (employee_id, days, updated_by, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (employee_id) DO UPDATE SET
			days = EXCLUDED.days,
			updated_by = EXCLUDED.updated_by,
			updated_at = EXCLUDED.updated_at`,
		ws.EmployeeID, []int(ws.Days), ws.UpdatedBy, ws.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save working days: %w", err)
	}
	return nil
}

func (q queries) ListDepartments(ctx context.Context) ([]generic.Department, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, name, manager_id, created_at, updated_at
		FROM departments ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("list departments: %w", err)
	}
	defer rows.Close()

	result := []generic.Department{}
	for rows.Next() {
		var d generic.Department
		if err := rows.Scan(&d.ID, &d.Name, &d.ManagerID, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan department: %w", err)
		}
		d.CreatedAt, d.UpdatedAt = d.CreatedAt.UTC(), d.UpdatedAt.UTC()
		result = append(result, d)
	}
	return result, rows.Err()
}

func (q queries) SaveDepartment(ctx context.Context, d generic.Department) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO departments (id, name, manager_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			manager_id = EXCLUDED.manager_id,
			updated_at = EXCLUDED.updated_at`,
		d.ID, d.Name, d.ManagerID, d.CreatedAt.UTC(), d.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save department: %w", err)
	}
	return nil
}

var (
	_ generic.TxStore = (*Store)(nil)
	_ generic.Store   = queries{}
)
