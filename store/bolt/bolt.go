// Package bolt provides a BoltDB-backed implementation of generic.TxStore.
//
// BoltDB is an embedded key/value store: all documents live in a single
// file and no database process is required. Each document kind has its
// own bucket and is stored as JSON under its natural key.
//
// Bolt allows one writer at a time, so WithTx maps directly onto a single
// read-write bolt transaction; readers never block it.
package bolt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	boltdb "github.com/boltdb/bolt"

	"github.com/warp/leave-engine/generic"
)

var (
	bucketRequests    = []byte("requests")
	bucketBalances    = []byte("balances")
	bucketAdjustments = []byte("balance_adjustments")
	bucketHolidays    = []byte("holidays")
	bucketWorkingDays = []byte("working_days")
	bucketDepartments = []byte("departments")

	buckets = [][]byte{
		bucketRequests,
		bucketBalances,
		bucketAdjustments,
		bucketHolidays,
		bucketWorkingDays,
		bucketDepartments,
	}
)

// Store wraps a BoltDB database.
type Store struct {
	db *boltdb.DB
}

// New opens (or creates) a BoltDB database at path and ensures every
// bucket exists.
func New(path string) (*Store, error) {
	db, err := boltdb.Open(path, 0600, &boltdb.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}

	err = db.Update(func(tx *boltdb.Tx) error {
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the database file lock.
func (s *Store) Close() error {
	return s.db.Close()
}

// WithTx runs fn inside one read-write bolt transaction. Returning an
// error from fn rolls every write back.
func (s *Store) WithTx(_ context.Context, fn func(generic.Store) error) error {
	return s.db.Update(func(tx *boltdb.Tx) error {
		return fn(txView{tx})
	})
}

func (s *Store) view(fn func(txView) error) error {
	return s.db.View(func(tx *boltdb.Tx) error { return fn(txView{tx}) })
}

func (s *Store) update(fn func(txView) error) error {
	return s.db.Update(func(tx *boltdb.Tx) error { return fn(txView{tx}) })
}

// =============================================================================
// STORE - Each call is its own bolt transaction
// =============================================================================

func (s *Store) GetRequest(ctx context.Context, id string) (r *generic.Request, err error) {
	err = s.view(func(v txView) error {
		r, err = v.GetRequest(ctx, id)
		return err
	})
	return r, err
}

func (s *Store) SaveRequest(ctx context.Context, r generic.Request) error {
	return s.update(func(v txView) error { return v.SaveRequest(ctx, r) })
}

func (s *Store) ListRequests(ctx context.Context, f generic.RequestFilter) (out []generic.Request, err error) {
	err = s.view(func(v txView) error {
		out, err = v.ListRequests(ctx, f)
		return err
	})
	return out, err
}

func (s *Store) GetBalance(ctx context.Context, employeeID string) (b *generic.Balance, err error) {
	err = s.view(func(v txView) error {
		b, err = v.GetBalance(ctx, employeeID)
		return err
	})
	return b, err
}

func (s *Store) SaveBalance(ctx context.Context, b generic.Balance) error {
	return s.update(func(v txView) error { return v.SaveBalance(ctx, b) })
}

func (s *Store) AppendAdjustment(ctx context.Context, a generic.BalanceAdjustment) error {
	return s.update(func(v txView) error { return v.AppendAdjustment(ctx, a) })
}

func (s *Store) ListAdjustments(ctx context.Context, employeeID string) (out []generic.BalanceAdjustment, err error) {
	err = s.view(func(v txView) error {
		out, err = v.ListAdjustments(ctx, employeeID)
		return err
	})
	return out, err
}

func (s *Store) HolidaysForYear(ctx context.Context, year int) (out []generic.Holiday, err error) {
	err = s.view(func(v txView) error {
		out, err = v.HolidaysForYear(ctx, year)
		return err
	})
	return out, err
}

func (s *Store) ReplaceHolidays(ctx context.Context, year int, days []generic.TimePoint) error {
	return s.update(func(v txView) error { return v.ReplaceHolidays(ctx, year, days) })
}

func (s *Store) GetWorkingDays(ctx context.Context, employeeID string) (ws *generic.WorkingDaySettings, err error) {
	err = s.view(func(v txView) error {
		ws, err = v.GetWorkingDays(ctx, employeeID)
		return err
	})
	return ws, err
}

func (s *Store) SaveWorkingDays(ctx context.Context, ws generic.WorkingDaySettings) error {
	return s.update(func(v txView) error { return v.SaveWorkingDays(ctx, ws) })
}

func (s *Store) ListDepartments(ctx context.Context) (out []generic.Department, err error) {
	err = s.view(func(v txView) error {
		out, err = v.ListDepartments(ctx)
		return err
	})
	return out, err
}

func (s *Store) SaveDepartment(ctx context.Context, d generic.Department) error {
	return s.update(func(v txView) error { return v.SaveDepartment(ctx, d) })
}

// =============================================================================
// TRANSACTION VIEW
// =============================================================================

// txView implements generic.Store on an open bolt transaction. Writes on
// a read-only transaction fail with boltdb.ErrTxNotWritable.
type txView struct {
	tx *boltdb.Tx
}

func (v txView) get(bucket []byte, key string, dst any) (bool, error) {
	raw := v.tx.Bucket(bucket).Get([]byte(key))
	if raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("decode %s/%s: %w", bucket, key, err)
	}
	return true, nil
}

func (v txView) put(bucket []byte, key string, src any) error {
	data, err := json.Marshal(src)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", bucket, key, err)
	}
	return v.tx.Bucket(bucket).Put([]byte(key), data)
}

func (v txView) GetRequest(_ context.Context, id string) (*generic.Request, error) {
	var r generic.Request
	found, err := v.get(bucketRequests, id, &r)
	if err != nil || !found {
		return nil, err
	}
	return &r, nil
}

func (v txView) SaveRequest(_ context.Context, r generic.Request) error {
	return v.put(bucketRequests, r.ID, r)
}

func (v txView) ListRequests(_ context.Context, f generic.RequestFilter) ([]generic.Request, error) {
	result := []generic.Request{}
	err := v.tx.Bucket(bucketRequests).ForEach(func(k, raw []byte) error {
		var r generic.Request
		if err := json.Unmarshal(raw, &r); err != nil {
			return fmt.Errorf("decode request %s: %w", k, err)
		}
		if f.Matches(r) {
			result = append(result, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return generic.NewestFirst(result, f.Limit), nil
}

func (v txView) GetBalance(_ context.Context, employeeID string) (*generic.Balance, error) {
	var b generic.Balance
	found, err := v.get(bucketBalances, employeeID, &b)
	if err != nil || !found {
		return nil, err
	}
	return &b, nil
}

func (v txView) SaveBalance(_ context.Context, b generic.Balance) error {
	return v.put(bucketBalances, b.EmployeeID, b)
}

// Adjustments are keyed employee/sequence so one employee's records are
// contiguous and in insertion order.
func (v txView) AppendAdjustment(_ context.Context, a generic.BalanceAdjustment) error {
	bucket := v.tx.Bucket(bucketAdjustments)
	seq, err := bucket.NextSequence()
	if err != nil {
		return err
	}
	return v.put(bucketAdjustments, adjustmentKey(a.EmployeeID, seq), a)
}

func (v txView) ListAdjustments(_ context.Context, employeeID string) ([]generic.BalanceAdjustment, error) {
	result := []generic.BalanceAdjustment{}
	prefix := []byte(employeeID + "/")
	c := v.tx.Bucket(bucketAdjustments).Cursor()
	for k, raw := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, raw = c.Next() {
		var a generic.BalanceAdjustment
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, fmt.Errorf("decode adjustment %s: %w", k, err)
		}
		result = append(result, a)
	}
	// newest first; insertion order breaks ties
	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (v txView) HolidaysForYear(_ context.Context, year int) ([]generic.Holiday, error) {
	var days []generic.TimePoint
	if _, err := v.get(bucketHolidays, strconv.Itoa(year), &days); err != nil {
		return nil, err
	}
	result := make([]generic.Holiday, 0, len(days))
	for _, d := range days {
		result = append(result, generic.Holiday{Year: year, Date: d})
	}
	return result, nil
}

// ReplaceHolidays stores the year's list as one document, so the swap is
// a single Put.
func (v txView) ReplaceHolidays(_ context.Context, year int, days []generic.TimePoint) error {
	if days == nil {
		days = []generic.TimePoint{}
	}
	return v.put(bucketHolidays, strconv.Itoa(year), days)
}

func (v txView) GetWorkingDays(_ context.Context, employeeID string) (*generic.WorkingDaySettings, error) {
	var ws generic.WorkingDaySettings
	found, err := v.get(bucketWorkingDays, employeeID, &ws)
	if err != nil || !found {
		return nil, err
	}
	return &ws, nil
}

func (v txView) SaveWorkingDays(_ context.Context, ws generic.WorkingDaySettings) error {
	return v.put(bucketWorkingDays, ws.EmployeeID, ws)
}

func (v txView) ListDepartments(_ context.Context) ([]generic.Department, error) {
	result := []generic.Department{}
	err := v.tx.Bucket(bucketDepartments).ForEach(func(k, raw []byte) error {
		var d generic.Department
		if err := json.Unmarshal(raw, &d); err != nil {
			return fmt.Errorf("decode department %s: %w", k, err)
		}
		result = append(result, d)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (v txView) SaveDepartment(_ context.Context, d generic.Department) error {
	return v.put(bucketDepartments, d.ID, d)
}

func adjustmentKey(employeeID string, seq uint64) string {
	return fmt.Sprintf("%s/%020d", employeeID, seq)
}

var (
	_ generic.TxStore = (*Store)(nil)
	_ generic.Store   = txView{}
)
