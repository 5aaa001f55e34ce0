/*
balance.go - Balance document and adjustment records

PURPOSE:
  One Balance per employee, keyed by employee id. It carries the four
  stored components and the derived availability:

    Available = AssignedAnnual + CarriedOver + Extra - Consumed

  Available is persisted for read convenience but is recomputed by every
  ledger primitive; nothing else writes it.

COMPONENTS:
  AssignedAnnual: yearly entitlement (configurable default, 22)
  CarriedOver:    days brought from the previous year
  Extra:          manual grants, floor-clamped at 0, no upper cap
  Consumed:       days deducted by approved requests, floor-clamped at 0

AUDIT:
  Manual adjustments that change Extra or carry a comment append a
  BalanceAdjustment record and stamp LastAdjustment on the balance.

SEE ALSO:
  - ledger.go: The only writer of Balance and BalanceAdjustment
*/
package generic

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// BALANCE
// =============================================================================

type Balance struct {
	EmployeeID     string
	AssignedAnnual int
	CarriedOver    int
	Extra          int
	Consumed       int
	Available      int
	LastAdjustment *AdjustmentMark
	UpdatedAt      time.Time
}

// AdjustmentMark points at the most recent manual adjustment.
type AdjustmentMark struct {
	Delta   int
	Comment string
	By      string
	At      time.Time
}

// Recompute derives Available from the stored components.
func (b Balance) Recompute() Balance {
	b.Available = b.AssignedAnnual + b.CarriedOver + b.Extra - b.Consumed
	return b
}

// Consistent reports whether Available matches the formula.
func (b Balance) Consistent() bool {
	return b.Available == b.AssignedAnnual+b.CarriedOver+b.Extra-b.Consumed
}

// =============================================================================
// MANUAL ADJUSTMENT
// =============================================================================

// ManualAdjustment is the input of Ledger.ApplyManualAdjustment.
// Unset fields leave the stored component untouched.
type ManualAdjustment struct {
	AssignedAnnual Optional[decimal.Decimal]
	CarriedOver    Optional[decimal.Decimal]
	DeltaExtra     Optional[decimal.Decimal]
	Comment        string
	Actor          string
}

// BalanceAdjustment is the append-only audit record of a manual adjustment.
type BalanceAdjustment struct {
	ID             string
	EmployeeID     string
	DeltaExtra     int
	Comment        string
	AssignedAnnual int
	CarriedOver    int
	CreatedBy      string
	CreatedAt      time.Time
}
