package generic_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/generic/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var fixedNow = time.Date(2025, time.February, 3, 9, 0, 0, 0, time.UTC)

func newTestLedger(t *testing.T) (*generic.Ledger, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	n := 0
	ledger := generic.NewLedger(mem,
		generic.WithClock(func() time.Time { return fixedNow }),
		generic.WithIDGenerator(func() string { n++; return fmt.Sprintf("adj-%d", n) }),
	)
	return ledger, mem
}

func dec(s string) generic.Optional[decimal.Decimal] {
	return generic.Some(generic.MustParseDecimal(s))
}

// =============================================================================
// GET OR INIT
// =============================================================================

func TestLedger_GetOrInit_CreatesDefault(t *testing.T) {
	// GIVEN: No stored balance
	ledger, mem := newTestLedger(t)
	ctx := context.Background()

	// WHEN: Reading it
	b, err := ledger.GetOrInit(ctx, "u-1")
	require.NoError(t, err)

	// THEN: The default entitlement is created and persisted
	assert.Equal(t, 22, b.AssignedAnnual)
	assert.Equal(t, 22, b.Available)
	assert.True(t, b.Consistent())

	stored, err := mem.GetBalance(ctx, "u-1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 22, stored.Available)
}

func TestLedger_GetOrInit_CustomDefault(t *testing.T) {
	mem := store.NewMemory()
	ledger := generic.NewLedger(mem, generic.WithDefaultAnnualDays(25))

	b, err := ledger.GetOrInit(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Equal(t, 25, b.Available)
}

// =============================================================================
// CONSUMPTION
// =============================================================================

func TestLedger_ApplyConsumption(t *testing.T) {
	// GIVEN: A fresh balance of 22
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	// WHEN: Consuming 5 days
	b, err := ledger.ApplyConsumption(ctx, "u-1", 5)
	require.NoError(t, err)

	// THEN: Available drops to 17
	assert.Equal(t, 5, b.Consumed)
	assert.Equal(t, 17, b.Available)

	// WHEN: Reversing 5 days
	b, err = ledger.ApplyConsumption(ctx, "u-1", -5)
	require.NoError(t, err)

	// THEN: Back to 22
	assert.Equal(t, 0, b.Consumed)
	assert.Equal(t, 22, b.Available)
}

func TestLedger_ApplyConsumption_ClampsAtZero(t *testing.T) {
	// GIVEN: 2 days consumed
	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	_, err := ledger.ApplyConsumption(ctx, "u-1", 2)
	require.NoError(t, err)

	// WHEN: Reversing more than was consumed
	b, err := ledger.ApplyConsumption(ctx, "u-1", -10)
	require.NoError(t, err)

	// THEN: Consumed stays at zero
	assert.Equal(t, 0, b.Consumed)
	assert.Equal(t, 22, b.Available)
}

func TestLedger_Overdraw_GoesNegative(t *testing.T) {
	ledger, _ := newTestLedger(t)

	b, err := ledger.ApplyConsumption(context.Background(), "u-1", 30)
	require.NoError(t, err)
	assert.Equal(t, -8, b.Available)
	assert.True(t, b.Consistent())
}

// =============================================================================
// MANUAL ADJUSTMENT
// =============================================================================

func TestLedger_ManualAdjustment_OverridesAndAudits(t *testing.T) {
	// GIVEN: A balance with 3 consumed days
	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	_, err := ledger.ApplyConsumption(ctx, "u-1", 3)
	require.NoError(t, err)

	// WHEN: Setting assigned 20, carried 2.5 and adding 1 extra day
	b, err := ledger.ApplyManualAdjustment(ctx, "u-1", generic.ManualAdjustment{
		AssignedAnnual: dec("20"),
		CarriedOver:    dec("2.5"),
		DeltaExtra:     dec("1"),
		Comment:        "  bonus  ",
		Actor:          "boss@example.com",
	})
	require.NoError(t, err)

	// THEN: Components are overwritten, carried rounds half-up
	assert.Equal(t, 20, b.AssignedAnnual)
	assert.Equal(t, 3, b.CarriedOver)
	assert.Equal(t, 1, b.Extra)
	assert.Equal(t, 20+3+1-3, b.Available)
	require.NotNil(t, b.LastAdjustment)
	assert.Equal(t, "bonus", b.LastAdjustment.Comment)
	assert.Equal(t, "boss@example.com", b.LastAdjustment.By)

	// AND: The audit trail holds one record with the resulting components
	trail, err := ledger.Adjustments(ctx, "u-1")
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, "adj-1", trail[0].ID)
	assert.Equal(t, 1, trail[0].DeltaExtra)
	assert.Equal(t, 20, trail[0].AssignedAnnual)
	assert.Equal(t, 3, trail[0].CarriedOver)
	assert.Equal(t, fixedNow, trail[0].CreatedAt)
}

func TestLedger_ManualAdjustment_UnsetFieldsUntouched(t *testing.T) {
	// GIVEN: A default balance
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	// WHEN: Only carried_over is supplied, without comment
	b, err := ledger.ApplyManualAdjustment(ctx, "u-1", generic.ManualAdjustment{CarriedOver: dec("4")})
	require.NoError(t, err)

	// THEN: Assigned keeps the default and no audit record is written
	assert.Equal(t, 22, b.AssignedAnnual)
	assert.Equal(t, 4, b.CarriedOver)
	assert.Nil(t, b.LastAdjustment)

	trail, err := ledger.Adjustments(ctx, "u-1")
	require.NoError(t, err)
	assert.Empty(t, trail)
}

func TestLedger_ManualAdjustment_ExtraFloorsAtZero(t *testing.T) {
	ledger, _ := newTestLedger(t)

	b, err := ledger.ApplyManualAdjustment(context.Background(), "u-1", generic.ManualAdjustment{
		DeltaExtra: dec("-3"),
		Comment:    "correction",
	})
	require.NoError(t, err)
	assert.Equal(t, 0, b.Extra)
	require.NotNil(t, b.LastAdjustment)
	assert.Equal(t, -3, b.LastAdjustment.Delta)
}

func TestLedger_ManualAdjustment_Validation(t *testing.T) {
	// GIVEN: Invalid adjustments
	// WHEN: Applying them
	// THEN: They fail before anything is written

	ledger, mem := newTestLedger(t)
	ctx := context.Background()

	_, err := ledger.ApplyManualAdjustment(ctx, "u-1", generic.ManualAdjustment{AssignedAnnual: dec("-1")})
	assert.ErrorIs(t, err, generic.ErrInvalidArgument)

	_, err = ledger.ApplyManualAdjustment(ctx, "u-1", generic.ManualAdjustment{CarriedOver: dec("-0.6")})
	assert.ErrorIs(t, err, generic.ErrInvalidArgument)

	_, err = ledger.ApplyManualAdjustment(ctx, "u-1", generic.ManualAdjustment{DeltaExtra: dec("2"), Comment: "   "})
	assert.ErrorIs(t, err, generic.ErrMissingComment)

	stored, err := mem.GetBalance(ctx, "u-1")
	require.NoError(t, err)
	assert.Nil(t, stored, "nothing written on validation failure")
}

func TestLedger_ManualAdjustment_DeltaRoundingToZeroNeedsNoComment(t *testing.T) {
	ledger, _ := newTestLedger(t)

	b, err := ledger.ApplyManualAdjustment(context.Background(), "u-1", generic.ManualAdjustment{DeltaExtra: dec("0.4")})
	require.NoError(t, err)
	assert.Equal(t, 0, b.Extra)
	assert.Nil(t, b.LastAdjustment)
}

func TestLedger_ManualAdjustment_RejectsOutOfRangeDays(t *testing.T) {
	// GIVEN: A balance with extra days close to the limit
	ledger, mem := newTestLedger(t)
	ctx := context.Background()
	_, err := ledger.ApplyManualAdjustment(ctx, "u-1", generic.ManualAdjustment{
		DeltaExtra: generic.Some(decimal.NewFromInt(generic.MaxDays - 1)),
		Comment:    "bulk grant",
	})
	require.NoError(t, err)
	before, err := mem.GetBalance(ctx, "u-1")
	require.NoError(t, err)

	tests := []struct {
		name  string
		field string
		adj   generic.ManualAdjustment
	}{
		{"assigned beyond int64", "assigned_annual", generic.ManualAdjustment{AssignedAnnual: dec("9223372036854775808")}},
		{"assigned beyond limit", "assigned_annual", generic.ManualAdjustment{AssignedAnnual: dec("2147483648")}},
		{"carried beyond limit", "carried_over", generic.ManualAdjustment{CarriedOver: dec("1e12")}},
		{"delta beyond limit", "delta_extra", generic.ManualAdjustment{DeltaExtra: dec("-9223372036854775808"), Comment: "x"}},
		{"extra would exceed limit", "delta_extra", generic.ManualAdjustment{DeltaExtra: dec("2"), Comment: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// WHEN: Applying an out-of-range adjustment
			_, err := ledger.ApplyManualAdjustment(ctx, "u-1", tt.adj)

			// THEN: It is rejected naming the field and nothing changes
			var argErr *generic.InvalidArgumentError
			require.ErrorAs(t, err, &argErr)
			assert.Equal(t, tt.field, argErr.Field)
			assert.ErrorIs(t, err, generic.ErrInvalidArgument)

			after, err := mem.GetBalance(ctx, "u-1")
			require.NoError(t, err)
			assert.Equal(t, before.Extra, after.Extra)
			assert.Equal(t, before.AssignedAnnual, after.AssignedAnnual)
			assert.True(t, after.Consistent())
		})
	}

	// AND: The limit itself is accepted
	b, err := ledger.ApplyManualAdjustment(ctx, "u-1", generic.ManualAdjustment{AssignedAnnual: dec("2147483647")})
	require.NoError(t, err)
	assert.Equal(t, generic.MaxDays, b.AssignedAnnual)
	assert.True(t, b.Consistent())
}
