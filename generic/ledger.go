/*
ledger.go - Balance ledger

PURPOSE:
  The Ledger owns every balance mutation. Request lifecycle code never
  writes Balance fields itself; it calls ApplyConsumption. Manual
  corrections go through ApplyManualAdjustment, which also writes the
  audit trail.

CRITICAL INVARIANT:
  After any primitive returns successfully:

    Available == AssignedAnnual + CarriedOver + Extra - Consumed

  holds for the returned and the persisted balance.

PRIMITIVES:
  GetOrInit:             Read or lazily create with the default entitlement
  ApplyConsumption:      Consumed += delta (clamped at 0)
  ApplyManualAdjustment: Override assigned/carried, shift extra, audit

FAILURE SEMANTICS:
  All input validation happens before the first write. Each primitive
  writes at most one balance document and one adjustment record; run
  it inside TxStore.WithTx to make the pair atomic with surrounding
  reads.

EXAMPLE:
  err := store.WithTx(ctx, func(tx generic.Store) error {
      ledger := generic.NewLedger(tx, generic.WithDefaultAnnualDays(22))
      _, err := ledger.ApplyConsumption(ctx, "emp-1", 5)
      return err
  })

SEE ALSO:
  - balance.go: Balance and BalanceAdjustment shapes
  - timeoff/request.go: Approve and Edit call ApplyConsumption
*/
package generic

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultAnnualDays is the entitlement of a balance created on first read.
const DefaultAnnualDays = 22

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	Store             LedgerStore
	DefaultAnnualDays int
	Now               func() time.Time
	NewID             func() string
}

type LedgerOption func(*Ledger)

func WithDefaultAnnualDays(days int) LedgerOption {
	return func(l *Ledger) { l.DefaultAnnualDays = days }
}

func WithClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) { l.Now = now }
}

func WithIDGenerator(newID func() string) LedgerOption {
	return func(l *Ledger) { l.NewID = newID }
}

func NewLedger(store LedgerStore, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		Store:             store,
		DefaultAnnualDays: DefaultAnnualDays,
		Now:               time.Now,
		NewID:             uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// GetOrInit returns the employee's balance, creating it with the default
// entitlement when absent. Concurrent creation is harmless: the initial
// state is deterministic.
func (l *Ledger) GetOrInit(ctx context.Context, employeeID string) (Balance, error) {
	existing, err := l.Store.GetBalance(ctx, employeeID)
	if err != nil {
		return Balance{}, fmt.Errorf("load balance %s: %w", employeeID, err)
	}
	if existing != nil {
		return existing.Recompute(), nil
	}

	initial := Balance{
		EmployeeID:     employeeID,
		AssignedAnnual: l.DefaultAnnualDays,
		UpdatedAt:      l.Now().UTC(),
	}.Recompute()
	if err := l.Store.SaveBalance(ctx, initial); err != nil {
		return Balance{}, fmt.Errorf("init balance %s: %w", employeeID, err)
	}
	return initial, nil
}

// ApplyConsumption adds deltaDays to Consumed, clamping at zero.
// Positive on approval, negative when an approved request is reopened.
func (l *Ledger) ApplyConsumption(ctx context.Context, employeeID string, deltaDays int) (Balance, error) {
	b, err := l.GetOrInit(ctx, employeeID)
	if err != nil {
		return Balance{}, err
	}

	b.Consumed = max(0, b.Consumed+deltaDays)
	b.UpdatedAt = l.Now().UTC()
	b = b.Recompute()

	if err := l.Store.SaveBalance(ctx, b); err != nil {
		return Balance{}, fmt.Errorf("save balance %s: %w", employeeID, err)
	}
	return b, nil
}

// ApplyManualAdjustment overrides AssignedAnnual and CarriedOver when set,
// shifts Extra by DeltaExtra (floor 0) and records the audit trail.
//
// Errors, all raised before any write:
//   - *InvalidArgumentError (ErrInvalidArgument) for a negative override,
//     or any value or resulting Extra beyond MaxDays
//   - ErrMissingComment when DeltaExtra rounds to non-zero without comment
func (l *Ledger) ApplyManualAdjustment(ctx context.Context, employeeID string, adj ManualAdjustment) (Balance, error) {
	assigned, err := overrideDays("assigned_annual", adj.AssignedAnnual)
	if err != nil {
		return Balance{}, err
	}
	carried, err := overrideDays("carried_over", adj.CarriedOver)
	if err != nil {
		return Balance{}, err
	}
	delta := 0
	if adj.DeltaExtra.Set {
		if !WithinDayRange(adj.DeltaExtra.Value) {
			return Balance{}, &InvalidArgumentError{Field: "delta_extra", Value: adj.DeltaExtra.Value.String()}
		}
		delta = RoundHalfUp(adj.DeltaExtra.Value)
	}
	comment := strings.TrimSpace(adj.Comment)
	if delta != 0 && comment == "" {
		return Balance{}, ErrMissingComment
	}

	b, err := l.GetOrInit(ctx, employeeID)
	if err != nil {
		return Balance{}, err
	}

	if b.Extra+delta > MaxDays {
		return Balance{}, &InvalidArgumentError{Field: "delta_extra", Value: adj.DeltaExtra.Value.String()}
	}

	now := l.Now().UTC()
	b.AssignedAnnual = assigned.OrElse(b.AssignedAnnual)
	b.CarriedOver = carried.OrElse(b.CarriedOver)
	b.Extra = max(0, b.Extra+delta)
	b.UpdatedAt = now
	audited := delta != 0 || comment != ""
	if audited {
		b.LastAdjustment = &AdjustmentMark{Delta: delta, Comment: comment, By: adj.Actor, At: now}
	}
	b = b.Recompute()

	if err := l.Store.SaveBalance(ctx, b); err != nil {
		return Balance{}, fmt.Errorf("save balance %s: %w", employeeID, err)
	}
	if !audited {
		return b, nil
	}

	record := BalanceAdjustment{
		ID:             l.NewID(),
		EmployeeID:     employeeID,
		DeltaExtra:     delta,
		Comment:        comment,
		AssignedAnnual: b.AssignedAnnual,
		CarriedOver:    b.CarriedOver,
		CreatedBy:      adj.Actor,
		CreatedAt:      now,
	}
	if err := l.Store.AppendAdjustment(ctx, record); err != nil {
		return Balance{}, fmt.Errorf("append adjustment %s: %w", employeeID, err)
	}
	return b, nil
}

// overrideDays validates an optional override: not negative, at most
// MaxDays, rounded half-up.
func overrideDays(field string, v Optional[decimal.Decimal]) (Optional[int], error) {
	if !v.Set {
		return None[int](), nil
	}
	if v.Value.IsNegative() || !WithinDayRange(v.Value) {
		return None[int](), &InvalidArgumentError{Field: field, Value: v.Value.String()}
	}
	return Some(RoundHalfUp(v.Value)), nil
}

// Adjustments returns the audit trail of an employee, newest first.
func (l *Ledger) Adjustments(ctx context.Context, employeeID string) ([]BalanceAdjustment, error) {
	return l.Store.ListAdjustments(ctx, employeeID)
}
