/*
strategy.go - The allocation waterfall

PURPOSE:
  Consumes a transaction amount across the four buckets of one or more
  installments, in an order determined by configuration and by the
  transaction's timing against each installment. This is one generic
  waterfall parameterized by two bucket orders - the many near-identical
  fixed-order processors of older lending systems collapse into named
  Strategy values (see factory package for the registry).

MECHANICS:
  1. Installments are walked in ascending due-date order.
  2. Each installment classifies the transaction as in-advance, on-time
     or late; on-time and late use DueOrder, in-advance uses AdvanceOrder.
  3. Each bucket step applies min(remaining, outstanding); fee/penalty
     steps route through the charge selector so per-charge and aggregate
     bookkeeping stay reconciled.
  4. The walk stops when the remainder reaches zero; a remainder left
     after every installment is satisfied is reported as overpayment.

KINDS:
  Repayments and recoveries run the full waterfall. Waivers waive
  interest only. Charge payments bypass the walk and settle exactly one
  charge, mirrored into its installment bucket. Write-offs close out all
  outstanding components. The dispatch is an exhaustive switch - a new
  transaction kind will not compile its way past it unnoticed.

NO PARTIAL MUTATION:
  All inputs are currency-validated and aggregate-validated before the
  first mutation, so a failed call leaves installments and charges
  untouched.
*/
package engine

import (
	"fmt"
	"sort"
)

// =============================================================================
// STRATEGY - A pair of bucket orders
// =============================================================================

// Strategy fully defines a legacy allocation strategy: one bucket order
// for due (on-time/late) transactions and one for in-advance payments.
type Strategy struct {
	Code         string
	Name         string
	DueOrder     BucketOrder
	AdvanceOrder BucketOrder
}

// Validate checks both orders are complete permutations.
func (s Strategy) Validate() error {
	if err := s.DueOrder.Validate(); err != nil {
		return fmt.Errorf("strategy %s due order: %w", s.Code, err)
	}
	if err := s.AdvanceOrder.Validate(); err != nil {
		return fmt.Errorf("strategy %s advance order: %w", s.Code, err)
	}
	return nil
}

// orderFor selects the bucket order for a timing classification.
func (s Strategy) orderFor(t Timing) BucketOrder {
	if t == TimingInAdvance {
		return s.AdvanceOrder
	}
	return s.DueOrder
}

// =============================================================================
// RESULT
// =============================================================================

// Result reports the outcome of one allocation call.
type Result struct {
	// Allocated component totals, indexed by Bucket.
	Allocated [numBuckets]Money

	// Overpayment is the remainder left after all installments were
	// satisfied. It is not allocated to any bucket.
	Overpayment Money

	// Unprocessed is the remainder of a waiver that found nothing left
	// to waive. Dropped rather than treated as overpayment.
	Unprocessed Money

	// Mappings is the reversal trail (also recorded on the transaction).
	Mappings []ComponentMapping
}

// =============================================================================
// PROCESSOR
// =============================================================================

// Processor runs the waterfall for one Strategy.
type Processor struct {
	strategy Strategy
}

// NewProcessor creates a processor, validating the strategy's orders.
func NewProcessor(s Strategy) (*Processor, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &Processor{strategy: s}, nil
}

// Strategy returns the processor's configuration.
func (p *Processor) Strategy() Strategy { return p.strategy }

// Process allocates the transaction amount across the installments and
// charges, mutating all three, and returns the component totals. The
// caller must guarantee serialized access per loan.
func (p *Processor) Process(tx *Transaction, installments []*Installment, charges []*Charge) (*Result, error) {
	w, err := newWalk(tx, installments, charges)
	if err != nil {
		return nil, err
	}

	switch tx.Type {
	case TypeChargePayment:
		return w.runChargePayment()
	case TypeWaiver:
		return w.runInterestWaiver()
	case TypeWriteOff:
		return w.runWriteOff()
	case TypeRepayment, TypeRecovery:
		return w.runWaterfall(func(inst *Installment) BucketOrder {
			return p.strategy.orderFor(ClassifyTiming(inst, tx.Date))
		})
	default:
		return nil, fmt.Errorf("unhandled transaction type %s", tx.Type)
	}
}

// =============================================================================
// WALK - Shared allocation mechanics
// =============================================================================

// walk carries the state of one allocation call. Shared by the legacy
// processor above and the advanced rule-based processor (advanced.go).
type walk struct {
	tx           *Transaction
	installments []*Installment
	charges      []*Charge

	remaining Money
	totals    [numBuckets]Money
}

func newWalk(tx *Transaction, installments []*Installment, charges []*Charge) (*walk, error) {
	if len(installments) == 0 {
		return nil, ErrNoInstallments
	}
	if tx.Reversed {
		return nil, ErrTransactionReversed
	}

	// Currency validation up front: nothing is mutated on failure.
	amounts := []Money{tx.Amount}
	for _, inst := range installments {
		amounts = append(amounts, inst.Obligations[BucketPrincipal].Due)
	}
	for _, c := range charges {
		amounts = append(amounts, c.Amount)
	}
	if err := EnsureSameCurrency(amounts...); err != nil {
		return nil, err
	}

	// Aggregate validation up front, for the same reason.
	for _, inst := range installments {
		for _, b := range []Bucket{BucketFee, BucketPenalty} {
			if err := ValidateChargeAggregate(ChargesInWindow(charges, inst, b), inst, b); err != nil {
				return nil, err
			}
		}
	}

	sort.SliceStable(installments, func(i, j int) bool {
		return installments[i].DueDate.Before(installments[j].DueDate)
	})

	w := &walk{
		tx:           tx,
		installments: installments,
		charges:      charges,
		remaining:    tx.Amount,
	}
	zero := tx.Amount.Zero()
	for b := range w.totals {
		w.totals[b] = zero
	}
	return w, nil
}

// payBucket applies the running remainder to one bucket of one
// installment, routing fee/penalty through the charge selector, and
// returns the applied amount.
func (w *walk) payBucket(inst *Installment, b Bucket) (Money, error) {
	if !w.remaining.IsGreaterThanZero() {
		return w.remaining.Zero(), nil
	}

	var applied Money
	var payments []ChargePayment

	window := ChargesInWindow(w.charges, inst, b)
	if len(window) > 0 {
		// Pay only what the due charges can absorb, so a same-day charge
		// excluded by the tie-break is not paid through the aggregate.
		selected := SelectPendingCharges(w.charges, inst, b, w.tx.Date, w.tx.CreatedAt)
		payable := w.remaining.Min(OutstandingTotal(selected, inst.Currency()))
		applied = inst.PayComponent(b, w.tx.Date, payable)
		payments = DistributeAcrossCharges(selected, applied)
	} else {
		applied = inst.PayComponent(b, w.tx.Date, w.remaining)
	}

	if applied.IsNegative() {
		return applied.Zero(), &NegativeAllocationError{InstallmentNumber: inst.Number, Bucket: b, Amount: applied}
	}
	if !applied.IsGreaterThanZero() {
		return applied.Zero(), nil
	}

	if len(payments) > 0 {
		for _, cp := range payments {
			w.tx.recordMapping(inst.Number, b, MappingPaid, cp.Applied, cp.Charge.ID)
		}
	} else {
		w.tx.recordMapping(inst.Number, b, MappingPaid, applied, "")
	}

	w.totals[b] = w.totals[b].Add(applied)
	w.remaining = w.remaining.Sub(applied)
	return applied, nil
}

// runWaterfall walks installments vertically: every bucket of one
// installment before moving to the next. orderFor picks the bucket order
// per installment (timing-dependent for the legacy strategies).
func (w *walk) runWaterfall(orderFor func(*Installment) BucketOrder) (*Result, error) {
	for _, inst := range w.installments {
		if !w.remaining.IsGreaterThanZero() {
			break
		}
		if inst.IsFullyPaid() {
			continue
		}
		for _, b := range orderFor(inst) {
			if _, err := w.payBucket(inst, b); err != nil {
				return nil, err
			}
			if !w.remaining.IsGreaterThanZero() {
				break
			}
		}
	}
	return w.finishWithOverpayment()
}

// runHorizontal satisfies one bucket across every installment before
// moving to the next bucket. Used by the advanced processor.
func (w *walk) runHorizontal(order BucketOrder) (*Result, error) {
	for _, b := range order {
		if !w.remaining.IsGreaterThanZero() {
			break
		}
		for _, inst := range w.installments {
			if _, err := w.payBucket(inst, b); err != nil {
				return nil, err
			}
			if !w.remaining.IsGreaterThanZero() {
				break
			}
		}
	}
	return w.finishWithOverpayment()
}

// runInterestWaiver waives outstanding interest in due-date order. A
// remainder is dropped, not reported as overpayment.
func (w *walk) runInterestWaiver() (*Result, error) {
	for _, inst := range w.installments {
		if !w.remaining.IsGreaterThanZero() {
			break
		}
		waived := inst.WaiveComponent(BucketInterest, w.tx.Date, w.remaining)
		if waived.IsGreaterThanZero() {
			w.tx.recordMapping(inst.Number, BucketInterest, MappingWaived, waived, "")
			w.totals[BucketInterest] = w.totals[BucketInterest].Add(waived)
			w.remaining = w.remaining.Sub(waived)
		}
	}
	res := w.finish()
	res.Unprocessed = w.remaining
	return res, nil
}

// runWriteOff closes out every outstanding component.
func (w *walk) runWriteOff() (*Result, error) {
	for _, inst := range w.installments {
		if inst.IsFullyPaid() {
			continue
		}
		p, i, f, pen := inst.WriteOffOutstanding(w.tx.Date)
		for b, portion := range [numBuckets]Money{BucketPrincipal: p, BucketInterest: i, BucketFee: f, BucketPenalty: pen} {
			if portion.IsGreaterThanZero() {
				w.tx.recordMapping(inst.Number, Bucket(b), MappingWrittenOff, portion, "")
				w.totals[b] = w.totals[b].Add(portion)
			}
		}
	}
	return w.finish(), nil
}

// runChargePayment settles exactly one charge and mirrors the payment
// into the corresponding installment bucket.
func (w *walk) runChargePayment() (*Result, error) {
	var target *Charge
	for _, c := range w.charges {
		if c.ID == w.tx.TargetChargeID {
			target = c
			break
		}
	}
	if target == nil {
		return nil, fmt.Errorf("charge %q: %w", w.tx.TargetChargeID, ErrChargeNotFound)
	}

	bucket := BucketFee
	if target.IsPenalty() {
		bucket = BucketPenalty
	}

	inst := w.installmentForCharge(target)
	applied := target.ApplyPayment(w.remaining)
	if applied.IsGreaterThanZero() {
		mirrored := inst.PayComponent(bucket, w.tx.Date, applied)
		if !mirrored.Equal(applied) {
			// The aggregate absorbed less than the charge did: the two
			// levels of bookkeeping have diverged.
			return nil, &ChargeAggregateError{
				InstallmentNumber:      inst.Number,
				Bucket:                 bucket,
				ChargeOutstanding:      applied,
				InstallmentOutstanding: mirrored,
			}
		}
		w.tx.recordMapping(inst.Number, bucket, MappingPaid, applied, target.ID)
		w.totals[bucket] = applied
		w.remaining = w.remaining.Sub(applied)
	}
	return w.finishWithOverpayment()
}

// installmentForCharge finds the installment whose window covers the
// charge's due date, falling back to the last installment.
func (w *walk) installmentForCharge(c *Charge) *Installment {
	for _, inst := range w.installments {
		if c.IsDueForCollectionFromIncludingToIncluding(inst.FromDate, inst.DueDate) {
			return inst
		}
	}
	return w.installments[len(w.installments)-1]
}

func (w *walk) finish() *Result {
	w.tx.UpdateComponents(w.totals[BucketPrincipal], w.totals[BucketInterest], w.totals[BucketFee], w.totals[BucketPenalty])
	return &Result{
		Allocated:   w.totals,
		Overpayment: w.tx.Amount.Zero(),
		Unprocessed: w.tx.Amount.Zero(),
		Mappings:    w.tx.Mappings,
	}
}

func (w *walk) finishWithOverpayment() (*Result, error) {
	res := w.finish()
	if w.remaining.IsGreaterThanZero() {
		res.Overpayment = w.remaining
		w.tx.Overpayment = w.remaining
	}
	return res, nil
}
