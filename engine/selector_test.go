package engine_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/repayment-engine/engine"
)

// =============================================================================
// SELECTION
// =============================================================================

func TestChargesInWindow_FiltersKindActivityAndWindow(t *testing.T) {
	// GIVEN: A mixed set of charges around an installment due in April
	// WHEN: Selecting the fee window
	// THEN: Only active, unpaid fees inside [from, due] remain

	inst := testInstallment(3, "10.00", "0", "5.00", "2.00") // window [2025-03-01, 2025-04-01]

	inWindow := testCharge("fee-in", false, date(2025, time.March, 15), "5.00")
	penalty := testCharge("pen", true, date(2025, time.March, 15), "2.00")
	outside := testCharge("fee-out", false, date(2025, time.April, 2), "1.00")
	inactive := testCharge("fee-off", false, date(2025, time.March, 20), "1.00")
	inactive.Active = false
	paid := testCharge("fee-paid", false, date(2025, time.March, 20), "1.00")
	paid.ApplyPayment(usdAmt("1.00"))

	charges := []*engine.Charge{outside, penalty, inactive, paid, inWindow}

	window := engine.ChargesInWindow(charges, inst, engine.BucketFee)
	require.Len(t, window, 1)
	assert.Equal(t, "fee-in", window[0].ID)

	// Principal and interest have no backing charges.
	assert.Empty(t, engine.ChargesInWindow(charges, inst, engine.BucketPrincipal))
}

func TestSelectPendingCharges_SortsOldestFirst(t *testing.T) {
	// GIVEN: Three fees in the window with mixed due dates and timestamps
	// WHEN: Selecting pending charges
	// THEN: Ascending due date, creation time breaking ties, nil first

	inst := testInstallment(3, "10.00", "0", "9.00", "0")

	later := testCharge("later", false, date(2025, time.March, 20), "3.00")
	tieNoTS := testCharge("tie-no-ts", false, date(2025, time.March, 10), "3.00")
	tieWithTS := testCharge("tie-with-ts", false, date(2025, time.March, 10), "3.00")
	tieWithTS.CreatedAt = ts(2025, time.March, 10, 9)

	selected := engine.SelectPendingCharges(
		[]*engine.Charge{later, tieWithTS, tieNoTS},
		inst, engine.BucketFee, date(2025, time.April, 1), nil)

	require.Len(t, selected, 3)
	assert.Equal(t, "tie-no-ts", selected[0].ID)
	assert.Equal(t, "tie-with-ts", selected[1].ID)
	assert.Equal(t, "later", selected[2].ID)
}

func TestSelectPendingCharges_ExcludesSameDayLaterCreated(t *testing.T) {
	// GIVEN: Two fees due on the transaction date, one created after the
	//        transaction
	// WHEN: Selecting pending charges
	// THEN: Only the earlier-created charge is selected

	inst := testInstallment(3, "10.00", "0", "6.00", "0")
	txDate := date(2025, time.March, 10)

	before := testCharge("before", false, txDate, "3.00")
	before.CreatedAt = ts(2025, time.March, 10, 8)
	after := testCharge("after", false, txDate, "3.00")
	after.CreatedAt = ts(2025, time.March, 10, 15)

	selected := engine.SelectPendingCharges(
		[]*engine.Charge{before, after}, inst, engine.BucketFee,
		txDate, ts(2025, time.March, 10, 12))

	require.Len(t, selected, 1)
	assert.Equal(t, "before", selected[0].ID)
}

// =============================================================================
// RECONCILIATION
// =============================================================================

func TestValidateChargeAggregate_AcceptsWithinRoundingUnit(t *testing.T) {
	inst := testInstallment(3, "10.00", "0", "5.00", "0")
	c := testCharge("fee", false, date(2025, time.March, 10), "5.01")

	err := engine.ValidateChargeAggregate([]*engine.Charge{c}, inst, engine.BucketFee)
	assert.NoError(t, err)
}

func TestValidateChargeAggregate_RejectsDivergence(t *testing.T) {
	// GIVEN: Charges totalling 7.00 behind a 5.00 fee aggregate
	// WHEN: Validating
	// THEN: ChargeAggregateError reports both sides

	inst := testInstallment(3, "10.00", "0", "5.00", "0")
	c := testCharge("fee", false, date(2025, time.March, 10), "7.00")

	err := engine.ValidateChargeAggregate([]*engine.Charge{c}, inst, engine.BucketFee)
	require.Error(t, err)
	assert.True(t, errors.Is(err, engine.ErrInconsistentChargeAggregate))

	var aggErr *engine.ChargeAggregateError
	require.True(t, errors.As(err, &aggErr))
	assert.Equal(t, 3, aggErr.InstallmentNumber)
	assert.Equal(t, engine.BucketFee, aggErr.Bucket)
	assert.True(t, aggErr.ChargeOutstanding.Equal(usdAmt("7.00")))
	assert.True(t, aggErr.InstallmentOutstanding.Equal(usdAmt("5.00")))
}

func TestValidateChargeAggregate_SkipsWhenNoChargeRecords(t *testing.T) {
	// Schedules without per-charge records pay the aggregate directly.
	inst := testInstallment(3, "10.00", "0", "5.00", "0")
	assert.NoError(t, engine.ValidateChargeAggregate(nil, inst, engine.BucketFee))
}

// =============================================================================
// DISTRIBUTION
// =============================================================================

func TestDistributeAcrossCharges_OldestFirstWithSplit(t *testing.T) {
	// GIVEN: Two fees of 3.00 each, oldest first
	// WHEN: Distributing 4.00
	// THEN: First takes 3.00, second takes the remaining 1.00

	first := testCharge("first", false, date(2025, time.March, 1), "3.00")
	second := testCharge("second", false, date(2025, time.March, 15), "3.00")

	payments := engine.DistributeAcrossCharges([]*engine.Charge{first, second}, usdAmt("4.00"))

	require.Len(t, payments, 2)
	assert.Equal(t, "first", payments[0].Charge.ID)
	assert.True(t, payments[0].Applied.Equal(usdAmt("3.00")))
	assert.Equal(t, "second", payments[1].Charge.ID)
	assert.True(t, payments[1].Applied.Equal(usdAmt("1.00")))

	assert.True(t, first.IsFullyPaid())
	assert.True(t, second.Outstanding().Equal(usdAmt("2.00")))
}

func TestOutstandingTotal(t *testing.T) {
	a := testCharge("a", false, date(2025, time.March, 1), "3.00")
	b := testCharge("b", false, date(2025, time.March, 2), "2.50")
	b.ApplyPayment(usdAmt("1.00"))

	total := engine.OutstandingTotal([]*engine.Charge{a, b}, usd)
	assert.True(t, total.Equal(usdAmt("4.50")))
}
