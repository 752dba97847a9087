/*
installment.go - One scheduled repayment period

PURPOSE:
  An Installment carries due/paid/waived/written-off amounts for each of
  the four buckets. It exposes one "pay" operation per bucket which
  applies at most the outstanding amount and returns what was actually
  absorbed; the caller carries the remainder to the next bucket or
  installment.

INVARIANTS:
  - outstanding(bucket) = due - paid - waived - writtenOff, floored at zero
  - an installment never absorbs more than a bucket's outstanding balance,
    regardless of how large the offered amount is
  - paid amounts never go negative (reversal floors at zero)

LIFECYCLE:
  Created at schedule generation (outside this engine), mutated only by
  allocation and reversal, never deleted while the loan is open.
*/
package engine

// =============================================================================
// OBLIGATION - Bookkeeping for a single bucket
// =============================================================================

// Obligation tracks one bucket of one installment.
type Obligation struct {
	Due        Money
	Paid       Money
	Waived     Money
	WrittenOff Money
}

// Outstanding returns due - paid - waived - writtenOff, floored at zero.
func (o Obligation) Outstanding() Money {
	return o.Due.SubToZero(o.Paid).SubToZero(o.Waived).SubToZero(o.WrittenOff)
}

// =============================================================================
// INSTALLMENT
// =============================================================================

// Installment is one period of a loan's repayment schedule.
type Installment struct {
	Number   int
	FromDate Date
	DueDate  Date

	// Obligations indexed by Bucket.
	Obligations [numBuckets]Obligation

	// ObligationsMetOn records the date the installment became fully paid.
	ObligationsMetOn *Date
}

// NewInstallment creates a schedule period with the given due amounts.
// Paid/waived/written-off start at zero in the same currency.
func NewInstallment(number int, from, due Date, principal, interest, fee, penalty Money) *Installment {
	inst := &Installment{Number: number, FromDate: from, DueDate: due}
	dues := [numBuckets]Money{
		BucketPrincipal: principal,
		BucketInterest:  interest,
		BucketFee:       fee,
		BucketPenalty:   penalty,
	}
	for b := range inst.Obligations {
		zero := dues[b].Zero()
		inst.Obligations[b] = Obligation{Due: dues[b], Paid: zero, Waived: zero, WrittenOff: zero}
	}
	return inst
}

// Currency returns the installment's currency (taken from principal due).
func (inst *Installment) Currency() Currency {
	return inst.Obligations[BucketPrincipal].Due.Currency
}

// Outstanding returns the outstanding amount for one bucket.
func (inst *Installment) Outstanding(b Bucket) Money {
	return inst.Obligations[b].Outstanding()
}

// TotalOutstanding sums the outstanding amounts of all four buckets.
func (inst *Installment) TotalOutstanding() Money {
	total := ZeroMoney(inst.Currency())
	for b := range inst.Obligations {
		total = total.Add(inst.Obligations[Bucket(b)].Outstanding())
	}
	return total
}

// IsFullyPaid reports whether nothing is outstanding on any bucket.
func (inst *Installment) IsFullyPaid() bool {
	return inst.TotalOutstanding().IsZero()
}

// =============================================================================
// PAY OPERATIONS - applied = min(amount, outstanding)
// =============================================================================

// PayComponent applies at most the bucket's outstanding amount and returns
// what was applied. The caller uses amount - applied as the unprocessed
// remainder to carry forward.
func (inst *Installment) PayComponent(b Bucket, on Date, amount Money) Money {
	ob := &inst.Obligations[b]
	applied := amount.Min(ob.Outstanding())
	if !applied.IsGreaterThanZero() {
		return amount.Zero()
	}
	ob.Paid = ob.Paid.Add(applied)
	inst.checkObligationsMet(on)
	return applied
}

// PayPrincipal, PayInterest, PayFees and PayPenalties keep the per-bucket
// entry points explicit for callers that address a single component.
func (inst *Installment) PayPrincipal(on Date, amount Money) Money {
	return inst.PayComponent(BucketPrincipal, on, amount)
}

func (inst *Installment) PayInterest(on Date, amount Money) Money {
	return inst.PayComponent(BucketInterest, on, amount)
}

func (inst *Installment) PayFees(on Date, amount Money) Money {
	return inst.PayComponent(BucketFee, on, amount)
}

func (inst *Installment) PayPenalties(on Date, amount Money) Money {
	return inst.PayComponent(BucketPenalty, on, amount)
}

// WaiveComponent applies at most the bucket's outstanding amount as a
// waiver and returns what was waived.
func (inst *Installment) WaiveComponent(b Bucket, on Date, amount Money) Money {
	ob := &inst.Obligations[b]
	waived := amount.Min(ob.Outstanding())
	if !waived.IsGreaterThanZero() {
		return amount.Zero()
	}
	ob.Waived = ob.Waived.Add(waived)
	inst.checkObligationsMet(on)
	return waived
}

// WriteOffOutstanding writes off whatever remains outstanding on every
// bucket and returns the per-bucket written-off portions.
func (inst *Installment) WriteOffOutstanding(on Date) (principal, interest, fee, penalty Money) {
	var portions [numBuckets]Money
	for b := range inst.Obligations {
		ob := &inst.Obligations[b]
		portion := ob.Outstanding()
		portions[b] = portion
		if portion.IsGreaterThanZero() {
			ob.WrittenOff = ob.WrittenOff.Add(portion)
		}
	}
	inst.checkObligationsMet(on)
	return portions[BucketPrincipal], portions[BucketInterest], portions[BucketFee], portions[BucketPenalty]
}

// =============================================================================
// REVERSAL SUPPORT
// =============================================================================

// UnpayComponent removes a previously applied payment, flooring paid at
// zero, and returns the amount actually removed.
func (inst *Installment) UnpayComponent(b Bucket, amount Money) Money {
	ob := &inst.Obligations[b]
	removed := amount.Min(ob.Paid)
	if !removed.IsGreaterThanZero() {
		return amount.Zero()
	}
	ob.Paid = ob.Paid.Sub(removed)
	inst.ObligationsMetOn = nil
	return removed
}

// UnwaiveComponent removes a previously applied waiver, flooring waived
// at zero, and returns the amount actually removed.
func (inst *Installment) UnwaiveComponent(b Bucket, amount Money) Money {
	ob := &inst.Obligations[b]
	removed := amount.Min(ob.Waived)
	if !removed.IsGreaterThanZero() {
		return amount.Zero()
	}
	ob.Waived = ob.Waived.Sub(removed)
	inst.ObligationsMetOn = nil
	return removed
}

// UnwriteOffComponent removes a previously applied write-off, flooring
// the written-off total at zero, and returns the amount removed.
func (inst *Installment) UnwriteOffComponent(b Bucket, amount Money) Money {
	ob := &inst.Obligations[b]
	removed := amount.Min(ob.WrittenOff)
	if !removed.IsGreaterThanZero() {
		return amount.Zero()
	}
	ob.WrittenOff = ob.WrittenOff.Sub(removed)
	inst.ObligationsMetOn = nil
	return removed
}

func (inst *Installment) checkObligationsMet(on Date) {
	if inst.IsFullyPaid() {
		d := on
		inst.ObligationsMetOn = &d
	}
}
