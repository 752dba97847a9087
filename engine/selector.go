/*
selector.go - Selecting and paying the charges behind a fee/penalty bucket

PURPOSE:
  The fee and penalty buckets of an installment are aggregates over
  individual Charge records. When the waterfall pays one of those
  buckets, the selector decides which charges the payment is attributed
  to and keeps the two levels of bookkeeping reconciled.

SELECTION:
  Applicable charges are active, not fully paid, of the right kind, fall
  inside the installment's [from, due] window, and count as due for the
  transaction per the same-day tie-break (charge.IsDueAt). Distribution
  is oldest first: ascending due date, creation time breaking ties.

RECONCILIATION:
  Before distributing, the sum of ALL window charges' outstanding
  amounts (due or not) is compared to the installment's aggregate bucket
  outstanding. A divergence beyond one rounding unit is a data-integrity
  error, surfaced as *ChargeAggregateError and never silently corrected.
  Schedules that carry fee/penalty dues without per-charge records skip
  charge routing entirely and pay the aggregate directly.
*/
package engine

import (
	"sort"
	"time"
)

// ChargePayment records the portion of a bucket payment attributed to one
// charge.
type ChargePayment struct {
	Charge  *Charge
	Applied Money
}

// =============================================================================
// SELECTION
// =============================================================================

// ChargesInWindow returns the active, not-fully-paid charges of the
// bucket's kind whose due date falls in the installment's window.
// Only BucketFee and BucketPenalty have backing charges.
func ChargesInWindow(charges []*Charge, inst *Installment, b Bucket) []*Charge {
	if b != BucketFee && b != BucketPenalty {
		return nil
	}
	penalty := b == BucketPenalty
	var in []*Charge
	for _, c := range charges {
		if !c.IsActive() || c.IsFullyPaid() || c.IsPenalty() != penalty {
			continue
		}
		if c.IsDueForCollectionFromIncludingToIncluding(inst.FromDate, inst.DueDate) {
			in = append(in, c)
		}
	}
	return in
}

// SelectPendingCharges returns the window charges that count as due for
// the transaction, oldest first.
func SelectPendingCharges(charges []*Charge, inst *Installment, b Bucket, txDate Date, txCreatedAt *time.Time) []*Charge {
	var selected []*Charge
	for _, c := range ChargesInWindow(charges, inst, b) {
		if c.IsDueAt(txDate, txCreatedAt) {
			selected = append(selected, c)
		}
	}
	sortChargesOldestFirst(selected)
	return selected
}

func sortChargesOldestFirst(charges []*Charge) {
	sort.SliceStable(charges, func(i, j int) bool {
		if !charges[i].DueDate.Equal(charges[j].DueDate) {
			return charges[i].DueDate.Before(charges[j].DueDate)
		}
		ci, cj := charges[i].CreatedAt, charges[j].CreatedAt
		if ci != nil && cj != nil {
			return ci.Before(*cj)
		}
		// Missing timestamps sort first: treated as oldest.
		return ci == nil && cj != nil
	})
}

// =============================================================================
// RECONCILIATION
// =============================================================================

// ValidateChargeAggregate checks that the window charges' combined
// outstanding matches the installment's aggregate bucket outstanding
// within one rounding unit.
func ValidateChargeAggregate(window []*Charge, inst *Installment, b Bucket) error {
	if len(window) == 0 {
		return nil
	}
	sum := ZeroMoney(inst.Currency())
	for _, c := range window {
		sum = sum.Add(c.Outstanding())
	}
	aggregate := inst.Outstanding(b)
	diff := sum.Sub(aggregate)
	if diff.IsNegative() {
		diff = diff.Neg()
	}
	if diff.GreaterThan(sum.RoundingUnit()) {
		return &ChargeAggregateError{
			InstallmentNumber:      inst.Number,
			Bucket:                 b,
			ChargeOutstanding:      sum,
			InstallmentOutstanding: aggregate,
		}
	}
	return nil
}

// =============================================================================
// DISTRIBUTION
// =============================================================================

// DistributeAcrossCharges attributes an applied aggregate amount across
// the selected charges, oldest first, each receiving at most its
// outstanding balance. The charges are mutated via ApplyPayment.
func DistributeAcrossCharges(selected []*Charge, amount Money) []ChargePayment {
	remaining := amount
	var payments []ChargePayment
	for _, c := range selected {
		if !remaining.IsGreaterThanZero() {
			break
		}
		applied := c.ApplyPayment(remaining)
		if applied.IsGreaterThanZero() {
			payments = append(payments, ChargePayment{Charge: c, Applied: applied})
			remaining = remaining.Sub(applied)
		}
	}
	return payments
}

// OutstandingTotal sums the outstanding balances of a charge set.
func OutstandingTotal(charges []*Charge, currency Currency) Money {
	total := ZeroMoney(currency)
	for _, c := range charges {
		total = total.Add(c.Outstanding())
	}
	return total
}
