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
// TEST HELPERS
// =============================================================================

func order(buckets ...engine.Bucket) engine.BucketOrder {
	return engine.BucketOrder(buckets)
}

// Penalties, fees, interest, principal for due; same order in advance.
func standardStrategy() engine.Strategy {
	return engine.Strategy{
		Code:         "standard",
		Name:         "Standard",
		DueOrder:     order(engine.BucketPenalty, engine.BucketFee, engine.BucketInterest, engine.BucketPrincipal),
		AdvanceOrder: order(engine.BucketPenalty, engine.BucketFee, engine.BucketInterest, engine.BucketPrincipal),
	}
}

// Principal before interest when paying ahead of schedule.
func principalFirstInAdvance() engine.Strategy {
	return engine.Strategy{
		Code:         "principal-first-in-advance",
		Name:         "Principal first in advance",
		DueOrder:     order(engine.BucketInterest, engine.BucketPrincipal, engine.BucketPenalty, engine.BucketFee),
		AdvanceOrder: order(engine.BucketPrincipal, engine.BucketInterest, engine.BucketFee, engine.BucketPenalty),
	}
}

func process(t *testing.T, s engine.Strategy, tx *engine.Transaction, installments []*engine.Installment, charges []*engine.Charge) *engine.Result {
	t.Helper()
	p, err := engine.NewProcessor(s)
	require.NoError(t, err)
	result, err := p.Process(tx, installments, charges)
	require.NoError(t, err)
	return result
}

func repayment(id, amount string, on engine.Date) *engine.Transaction {
	return engine.NewTransaction(id, engine.TypeRepayment, usdAmt(amount), on)
}

func assertAllocated(t *testing.T, r *engine.Result, principal, interest, fee, penalty string) {
	t.Helper()
	assert.True(t, r.Allocated[engine.BucketPrincipal].Equal(usdAmt(principal)),
		"principal: got %s want %s", r.Allocated[engine.BucketPrincipal], principal)
	assert.True(t, r.Allocated[engine.BucketInterest].Equal(usdAmt(interest)),
		"interest: got %s want %s", r.Allocated[engine.BucketInterest], interest)
	assert.True(t, r.Allocated[engine.BucketFee].Equal(usdAmt(fee)),
		"fee: got %s want %s", r.Allocated[engine.BucketFee], fee)
	assert.True(t, r.Allocated[engine.BucketPenalty].Equal(usdAmt(penalty)),
		"penalty: got %s want %s", r.Allocated[engine.BucketPenalty], penalty)
}

// =============================================================================
// WATERFALL - single installment
// =============================================================================

func TestWaterfall_OnTime_ConsumesBucketsInDueOrder(t *testing.T) {
	// GIVEN: An installment due today with 4 principal, 2 interest,
	//        2 fees, 3 penalties outstanding
	// WHEN: A 10.00 repayment arrives on the due date
	// THEN: Penalties, fees and interest are satisfied first; the
	//       remaining 3.00 goes to principal

	inst := testInstallment(3, "4.00", "2.00", "2.00", "3.00")
	tx := repayment("tx-1", "10.00", inst.DueDate)

	result := process(t, standardStrategy(), tx, []*engine.Installment{inst}, nil)

	assertAllocated(t, result, "3.00", "2.00", "2.00", "3.00")
	assert.True(t, result.Overpayment.IsZero())
	assert.True(t, inst.Outstanding(engine.BucketPrincipal).Equal(usdAmt("1.00")))
}

func TestWaterfall_InAdvance_UsesAdvanceOrder(t *testing.T) {
	// GIVEN: A strategy that pays principal first on early payments
	// WHEN: 5.00 arrives before the due date against 10 principal + 2 interest
	// THEN: All 5.00 goes to principal, none to interest

	inst := testInstallment(3, "10.00", "2.00", "0", "0")
	early := date(2025, time.March, 15)
	tx := repayment("tx-1", "5.00", early)

	result := process(t, principalFirstInAdvance(), tx, []*engine.Installment{inst}, nil)

	assertAllocated(t, result, "5.00", "0", "0", "0")
	assert.True(t, inst.Outstanding(engine.BucketPrincipal).Equal(usdAmt("5.00")))
	assert.True(t, inst.Outstanding(engine.BucketInterest).Equal(usdAmt("2.00")))
}

func TestWaterfall_Late_UsesDueOrder(t *testing.T) {
	inst := testInstallment(3, "10.00", "2.00", "0", "0")
	late := date(2025, time.May, 1)
	tx := repayment("tx-1", "5.00", late)

	result := process(t, principalFirstInAdvance(), tx, []*engine.Installment{inst}, nil)

	// DueOrder pays interest before principal.
	assertAllocated(t, result, "3.00", "2.00", "0", "0")
}

func TestWaterfall_Overpayment_ReportedNotAllocated(t *testing.T) {
	// GIVEN: 12.00 total outstanding
	// WHEN: A 20.00 repayment arrives
	// THEN: 12.00 is allocated and 8.00 is reported as overpayment

	inst := testInstallment(3, "10.00", "2.00", "0", "0")
	tx := repayment("tx-1", "20.00", inst.DueDate)

	result := process(t, standardStrategy(), tx, []*engine.Installment{inst}, nil)

	assertAllocated(t, result, "10.00", "2.00", "0", "0")
	assert.True(t, result.Overpayment.Equal(usdAmt("8.00")))
	assert.True(t, tx.Overpayment.Equal(usdAmt("8.00")))
	assert.True(t, inst.IsFullyPaid())
}

// =============================================================================
// WATERFALL - multiple installments
// =============================================================================

func TestWaterfall_WalksInstallmentsInDueDateOrder(t *testing.T) {
	// GIVEN: Two unpaid installments, passed out of order
	// WHEN: A late repayment covers the first and part of the second
	// THEN: The earlier-due installment is satisfied first

	first := testInstallment(1, "5.00", "1.00", "0", "0")  // due Feb 1
	second := testInstallment(2, "5.00", "1.00", "0", "0") // due Mar 1
	tx := repayment("tx-1", "8.00", date(2025, time.April, 1))

	result := process(t, standardStrategy(), tx, []*engine.Installment{second, first}, nil)

	assert.True(t, first.IsFullyPaid())
	assert.True(t, second.Outstanding(engine.BucketInterest).IsZero())
	assert.True(t, second.Outstanding(engine.BucketPrincipal).Equal(usdAmt("4.00")))
	assertAllocated(t, result, "6.00", "2.00", "0", "0")
}

func TestWaterfall_SkipsFullyPaidInstallments(t *testing.T) {
	first := testInstallment(1, "5.00", "0", "0", "0")
	first.PayPrincipal(date(2025, time.February, 1), usdAmt("5.00"))
	second := testInstallment(2, "5.00", "0", "0", "0")

	tx := repayment("tx-1", "3.00", date(2025, time.April, 1))
	result := process(t, standardStrategy(), tx, []*engine.Installment{first, second}, nil)

	assertAllocated(t, result, "3.00", "0", "0", "0")
	assert.True(t, second.Outstanding(engine.BucketPrincipal).Equal(usdAmt("2.00")))
}

func TestWaterfall_Conservation(t *testing.T) {
	// Allocated components plus overpayment always equal the amount.

	installments := []*engine.Installment{
		testInstallment(1, "5.00", "1.50", "0.50", "0"),
		testInstallment(2, "5.00", "1.20", "0", "2.00"),
	}
	tx := repayment("tx-1", "9.75", date(2025, time.April, 1))

	result := process(t, standardStrategy(), tx, installments, nil)

	total := result.Overpayment
	for _, b := range []engine.Bucket{engine.BucketPrincipal, engine.BucketInterest, engine.BucketFee, engine.BucketPenalty} {
		total = total.Add(result.Allocated[b])
	}
	assert.True(t, total.Equal(tx.Amount))
	assert.True(t, total.Equal(tx.AllocatedTotal().Add(result.Overpayment)))
}

// =============================================================================
// CHARGE-BACKED BUCKETS
// =============================================================================

func TestWaterfall_PaysChargesBehindFeeBucket(t *testing.T) {
	// GIVEN: Two fees of 3.00 and 2.00 backing a 5.00 fee aggregate
	// WHEN: A repayment covers the bucket
	// THEN: Charges are paid oldest first and mappings name each charge

	inst := testInstallment(3, "0", "0", "5.00", "0")
	older := testCharge("older", false, date(2025, time.March, 5), "3.00")
	newer := testCharge("newer", false, date(2025, time.March, 20), "2.00")

	tx := repayment("tx-1", "5.00", inst.DueDate)
	result := process(t, standardStrategy(), tx, []*engine.Installment{inst}, []*engine.Charge{older, newer})

	assertAllocated(t, result, "0", "0", "5.00", "0")
	assert.True(t, older.IsFullyPaid())
	assert.True(t, newer.IsFullyPaid())
	assert.True(t, inst.Outstanding(engine.BucketFee).IsZero())

	require.Len(t, result.Mappings, 2)
	assert.Equal(t, "older", result.Mappings[0].ChargeID)
	assert.Equal(t, "newer", result.Mappings[1].ChargeID)
}

func TestWaterfall_SameDayChargeCreatedAfterTxNotCollected(t *testing.T) {
	// GIVEN: Two same-day fees, one created after the transaction
	// WHEN: The repayment allocates
	// THEN: Only the earlier-created fee is collected; the aggregate keeps
	//       the excluded charge's amount outstanding

	txDate := date(2025, time.March, 10)
	inst := testInstallment(3, "0", "0", "5.00", "0")

	collectable := testCharge("early", false, txDate, "3.00")
	collectable.CreatedAt = ts(2025, time.March, 10, 8)
	excluded := testCharge("late-created", false, txDate, "2.00")
	excluded.CreatedAt = ts(2025, time.March, 10, 16)

	tx := repayment("tx-1", "5.00", txDate)
	tx.CreatedAt = ts(2025, time.March, 10, 12)

	result := process(t, standardStrategy(), tx, []*engine.Installment{inst}, []*engine.Charge{collectable, excluded})

	assertAllocated(t, result, "0", "0", "3.00", "0")
	assert.True(t, collectable.IsFullyPaid())
	assert.True(t, excluded.Outstanding().Equal(usdAmt("2.00")))
	assert.True(t, inst.Outstanding(engine.BucketFee).Equal(usdAmt("2.00")))
	assert.True(t, result.Overpayment.Equal(usdAmt("2.00")))
}

func TestWaterfall_AggregateDivergenceFailsBeforeMutation(t *testing.T) {
	// GIVEN: A fee aggregate of 5.00 backed by a 9.00 charge
	// WHEN: A repayment is processed
	// THEN: ChargeAggregateError, and nothing was paid

	inst := testInstallment(3, "4.00", "0", "5.00", "0")
	c := testCharge("fee", false, date(2025, time.March, 10), "9.00")

	p, err := engine.NewProcessor(standardStrategy())
	require.NoError(t, err)

	tx := repayment("tx-1", "9.00", inst.DueDate)
	_, err = p.Process(tx, []*engine.Installment{inst}, []*engine.Charge{c})

	require.Error(t, err)
	assert.True(t, errors.Is(err, engine.ErrInconsistentChargeAggregate))
	assert.True(t, inst.Outstanding(engine.BucketPrincipal).Equal(usdAmt("4.00")))
	assert.True(t, inst.Outstanding(engine.BucketFee).Equal(usdAmt("5.00")))
	assert.True(t, c.Outstanding().Equal(usdAmt("9.00")))
	assert.Empty(t, tx.Mappings)
}

// =============================================================================
// CHARGE PAYMENT
// =============================================================================

func TestChargePayment_SettlesSingleChargeAndMirrors(t *testing.T) {
	// GIVEN: A 100.00 fee backing the fee aggregate
	// WHEN: A 20.00 charge payment targets it
	// THEN: Charge and aggregate both drop by 20.00

	inst := testInstallment(3, "0", "0", "100.00", "0")
	c := testCharge("big-fee", false, date(2025, time.March, 10), "100.00")

	tx := engine.NewTransaction("tx-1", engine.TypeChargePayment, usdAmt("20.00"), inst.DueDate)
	tx.TargetChargeID = "big-fee"

	result := process(t, standardStrategy(), tx, []*engine.Installment{inst}, []*engine.Charge{c})

	assertAllocated(t, result, "0", "0", "20.00", "0")
	assert.True(t, c.Outstanding().Equal(usdAmt("80.00")))
	assert.True(t, inst.Outstanding(engine.BucketFee).Equal(usdAmt("80.00")))

	require.Len(t, result.Mappings, 1)
	assert.Equal(t, "big-fee", result.Mappings[0].ChargeID)
}

func TestChargePayment_PenaltyRoutesToPenaltyBucket(t *testing.T) {
	inst := testInstallment(3, "0", "0", "0", "50.00")
	c := testCharge("late-penalty", true, date(2025, time.March, 10), "50.00")

	tx := engine.NewTransaction("tx-1", engine.TypeChargePayment, usdAmt("50.00"), inst.DueDate)
	tx.TargetChargeID = "late-penalty"

	result := process(t, standardStrategy(), tx, []*engine.Installment{inst}, []*engine.Charge{c})

	assertAllocated(t, result, "0", "0", "0", "50.00")
	assert.True(t, c.IsFullyPaid())
}

func TestChargePayment_UnknownChargeRejected(t *testing.T) {
	inst := testInstallment(3, "0", "0", "5.00", "0")

	tx := engine.NewTransaction("tx-1", engine.TypeChargePayment, usdAmt("5.00"), inst.DueDate)
	tx.TargetChargeID = "nope"

	p, err := engine.NewProcessor(standardStrategy())
	require.NoError(t, err)
	_, err = p.Process(tx, []*engine.Installment{inst}, nil)

	assert.True(t, errors.Is(err, engine.ErrChargeNotFound))
}

func TestChargePayment_ExcessBecomesOverpayment(t *testing.T) {
	inst := testInstallment(3, "0", "0", "10.00", "0")
	c := testCharge("fee", false, date(2025, time.March, 10), "10.00")

	tx := engine.NewTransaction("tx-1", engine.TypeChargePayment, usdAmt("15.00"), inst.DueDate)
	tx.TargetChargeID = "fee"

	result := process(t, standardStrategy(), tx, []*engine.Installment{inst}, []*engine.Charge{c})

	assertAllocated(t, result, "0", "0", "10.00", "0")
	assert.True(t, result.Overpayment.Equal(usdAmt("5.00")))
}

// =============================================================================
// INTEREST WAIVER
// =============================================================================

func TestWaiver_WaivesInterestOnly(t *testing.T) {
	// GIVEN: Two installments with 2.00 interest each plus other dues
	// WHEN: A 3.00 waiver is applied
	// THEN: Interest is waived in due-date order; nothing else is touched

	first := testInstallment(1, "5.00", "2.00", "1.00", "0")
	second := testInstallment(2, "5.00", "2.00", "0", "0")

	tx := engine.NewTransaction("tx-1", engine.TypeWaiver, usdAmt("3.00"), date(2025, time.April, 1))
	result := process(t, standardStrategy(), tx, []*engine.Installment{first, second}, nil)

	assertAllocated(t, result, "0", "3.00", "0", "0")
	assert.True(t, first.Outstanding(engine.BucketInterest).IsZero())
	assert.True(t, second.Outstanding(engine.BucketInterest).Equal(usdAmt("1.00")))
	assert.True(t, first.Outstanding(engine.BucketPrincipal).Equal(usdAmt("5.00")))
	assert.True(t, first.Outstanding(engine.BucketFee).Equal(usdAmt("1.00")))
}

func TestWaiver_RemainderDroppedAsUnprocessed(t *testing.T) {
	// GIVEN: 2.00 interest outstanding in total
	// WHEN: A 5.00 waiver is applied
	// THEN: 3.00 is reported unprocessed, not as overpayment

	inst := testInstallment(1, "5.00", "2.00", "0", "0")

	tx := engine.NewTransaction("tx-1", engine.TypeWaiver, usdAmt("5.00"), date(2025, time.April, 1))
	result := process(t, standardStrategy(), tx, []*engine.Installment{inst}, nil)

	assertAllocated(t, result, "0", "2.00", "0", "0")
	assert.True(t, result.Unprocessed.Equal(usdAmt("3.00")))
	assert.True(t, result.Overpayment.IsZero())
}

// =============================================================================
// WRITE-OFF AND RECOVERY
// =============================================================================

func TestWriteOff_ClosesAllOutstandingComponents(t *testing.T) {
	first := testInstallment(1, "5.00", "1.00", "0.50", "0")
	first.PayPrincipal(date(2025, time.February, 1), usdAmt("2.00"))
	second := testInstallment(2, "5.00", "1.00", "0", "2.00")

	tx := engine.NewTransaction("tx-1", engine.TypeWriteOff, usdAmt("12.50"), date(2025, time.June, 1))
	result := process(t, standardStrategy(), tx, []*engine.Installment{first, second}, nil)

	assertAllocated(t, result, "8.00", "2.00", "0.50", "2.00")
	assert.True(t, first.IsFullyPaid())
	assert.True(t, second.IsFullyPaid())

	for _, m := range result.Mappings {
		assert.Equal(t, engine.MappingWrittenOff, m.Kind)
	}
}

func TestRecovery_RunsFullWaterfall(t *testing.T) {
	// A recovery allocates like a repayment.
	inst := testInstallment(3, "4.00", "2.00", "0", "0")
	tx := engine.NewTransaction("tx-1", engine.TypeRecovery, usdAmt("6.00"), inst.DueDate)

	result := process(t, standardStrategy(), tx, []*engine.Installment{inst}, nil)
	assertAllocated(t, result, "4.00", "2.00", "0", "0")
}

// =============================================================================
// INPUT VALIDATION - no partial mutation
// =============================================================================

func TestProcess_EmptyScheduleRejected(t *testing.T) {
	p, err := engine.NewProcessor(standardStrategy())
	require.NoError(t, err)

	tx := repayment("tx-1", "5.00", date(2025, time.March, 1))
	_, err = p.Process(tx, nil, nil)
	assert.True(t, errors.Is(err, engine.ErrNoInstallments))
}

func TestProcess_ReversedTransactionRejected(t *testing.T) {
	p, err := engine.NewProcessor(standardStrategy())
	require.NoError(t, err)

	inst := testInstallment(1, "5.00", "0", "0", "0")
	tx := repayment("tx-1", "5.00", inst.DueDate)
	tx.Reversed = true

	_, err = p.Process(tx, []*engine.Installment{inst}, nil)
	assert.True(t, errors.Is(err, engine.ErrTransactionReversed))
}

func TestProcess_CurrencyMismatchRejectedBeforeMutation(t *testing.T) {
	eur := engine.NewCurrency("EUR", 2)
	inst := testInstallment(1, "5.00", "0", "0", "0")
	tx := engine.NewTransaction("tx-1", engine.TypeRepayment, engine.MustMoney(eur, "5.00"), inst.DueDate)

	p, err := engine.NewProcessor(standardStrategy())
	require.NoError(t, err)

	_, err = p.Process(tx, []*engine.Installment{inst}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, engine.ErrCurrencyMismatch))
	assert.True(t, inst.Outstanding(engine.BucketPrincipal).Equal(usdAmt("5.00")))
}

func TestNewProcessor_RejectsIncompleteOrder(t *testing.T) {
	s := standardStrategy()
	s.DueOrder = order(engine.BucketPenalty, engine.BucketFee)
	_, err := engine.NewProcessor(s)
	assert.Error(t, err)
}
