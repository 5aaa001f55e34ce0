/*
Package generic provides the core of the leave engine.

PURPOSE:
  Domain-neutral building blocks shared by the lifecycle code and every
  store implementation: calendar days and periods, the balance ledger,
  persisted document shapes, store contracts and the error taxonomy.

KEY CONCEPTS IN THIS FILE (types.go):
  - Optional: explicit "value was supplied" marker for inputs
  - Day counts: whole days, rounded half-up from decimal input
  - ResourceKind: the kind of leave a request draws from

DESIGN PRINCIPLES:
  1. Explicit optionality: absent input is never read as zero
  2. Precision: numeric input is parsed into decimal.Decimal, never float64
  3. Defaults are applied once, at the ledger boundary

SEE ALSO:
  - ledger.go: Consumes ManualAdjustment built from these types
  - store.go: Persistence contracts
*/
package generic

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// OPTIONAL - Explicitly supplied values
// =============================================================================

// Optional holds a value together with whether the caller supplied it.
type Optional[T any] struct {
	Value T
	Set   bool
}

// Some marks v as supplied.
func Some[T any](v T) Optional[T] {
	return Optional[T]{Value: v, Set: true}
}

// None is the unset Optional.
func None[T any]() Optional[T] {
	return Optional[T]{}
}

// OrElse returns the value when set, otherwise fallback.
func (o Optional[T]) OrElse(fallback T) T {
	if o.Set {
		return o.Value
	}
	return fallback
}

// =============================================================================
// DAY COUNTS
// =============================================================================

// MaxDays bounds every day count a ledger field may hold, so sums of
// balance components always fit in an int.
const MaxDays = math.MaxInt32

var (
	half       = decimal.NewFromFloat(0.5)
	maxDaysDec = decimal.NewFromInt(MaxDays)
)

// WithinDayRange reports whether |d| <= MaxDays.
func WithinDayRange(d decimal.Decimal) bool {
	return d.Abs().LessThanOrEqual(maxDaysDec)
}

// RoundHalfUp rounds towards +Inf on ties: 2.5 -> 3, -2.5 -> -2.
func RoundHalfUp(d decimal.Decimal) int {
	return int(d.Add(half).Floor().IntPart())
}

// ParseDays reads a JSON number or numeric string into a decimal.
// null, an absent value and "" yield an unset Optional. Anything else
// that is not numeric fails with an InvalidArgumentError for field.
func ParseDays(field string, raw json.RawMessage) (Optional[decimal.Decimal], error) {
	text := strings.TrimSpace(string(raw))
	if text == "" || text == "null" {
		return None[decimal.Decimal](), nil
	}
	if strings.HasPrefix(text, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return None[decimal.Decimal](), &InvalidArgumentError{Field: field, Value: text}
		}
		text = strings.TrimSpace(s)
		if text == "" {
			return None[decimal.Decimal](), nil
		}
	}
	d, err := decimal.NewFromString(text)
	if err != nil {
		return None[decimal.Decimal](), &InvalidArgumentError{Field: field, Value: text}
	}
	return Some(d), nil
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

// ResourceKind identifies which kind of leave a request draws from.
type ResourceKind string

func (k ResourceKind) String() string { return string(k) }

// MustParseDecimal parses s or panics; for constants in tests and seeds.
func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(fmt.Sprintf("generic: bad decimal %q: %v", s, err))
	}
	return d
}
