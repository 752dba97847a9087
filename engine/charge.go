/*
charge.go - One fee or penalty instance with its own outstanding balance

PURPOSE:
  Charges carry their own bookkeeping independent of the installment
  aggregates they roll up into. The engine must never let the two
  diverge beyond rounding - see selector.go for the reconciliation check.

TIE-BREAK RULE:
  A charge due exactly on the transaction date counts against that
  transaction only if the charge was created first, judged by the
  optional creation timestamps on both sides. If either side lacks a
  timestamp the charge is treated as due - the conservative default
  favoring collection.
*/
package engine

import "time"

// =============================================================================
// CHARGE
// =============================================================================

// Charge is a single fee or penalty applied to a loan.
type Charge struct {
	ID      string
	Name    string
	Penalty bool

	// DueDate is the charge's effective due date; CreatedAt is the
	// optional fine-grained timestamp used only for same-day tie-breaks.
	DueDate   Date
	CreatedAt *time.Time

	Amount Money
	Paid   Money
	Waived Money

	Active bool
}

// NewCharge creates an active, unpaid charge.
func NewCharge(id, name string, penalty bool, due Date, amount Money) *Charge {
	return &Charge{
		ID:      id,
		Name:    name,
		Penalty: penalty,
		DueDate: due,
		Amount:  amount,
		Paid:    amount.Zero(),
		Waived:  amount.Zero(),
		Active:  true,
	}
}

// Outstanding returns amount - paid - waived, floored at zero.
func (c *Charge) Outstanding() Money {
	return c.Amount.SubToZero(c.Paid).SubToZero(c.Waived)
}

func (c *Charge) IsFullyPaid() bool    { return c.Outstanding().IsZero() }
func (c *Charge) IsNotFullyPaid() bool { return !c.IsFullyPaid() }
func (c *Charge) IsActive() bool       { return c.Active }
func (c *Charge) IsPenalty() bool      { return c.Penalty }
func (c *Charge) IsFee() bool          { return !c.Penalty }

// =============================================================================
// PAYMENT
// =============================================================================

// ApplyPayment absorbs at most the outstanding balance and returns the
// amount actually applied. The charge becomes fully paid when its
// outstanding reaches zero.
func (c *Charge) ApplyPayment(amount Money) Money {
	applied := amount.Min(c.Outstanding())
	if !applied.IsGreaterThanZero() {
		return amount.Zero()
	}
	c.Paid = c.Paid.Add(applied)
	return applied
}

// UndoPayment restores a previously applied payment, flooring paid at
// zero, and returns the amount actually restored.
func (c *Charge) UndoPayment(amount Money) Money {
	restored := amount.Min(c.Paid)
	if !restored.IsGreaterThanZero() {
		return amount.Zero()
	}
	c.Paid = c.Paid.Sub(restored)
	return restored
}

// =============================================================================
// DUE WINDOW AND TIE-BREAK
// =============================================================================

// IsDueForCollectionFromIncludingToIncluding reports whether the charge's
// due date falls inside [from, to]. Used to decide which installment
// window a charge belongs to.
func (c *Charge) IsDueForCollectionFromIncludingToIncluding(from, to Date) bool {
	return c.DueDate.AfterOrEqual(from) && c.DueDate.BeforeOrEqual(to)
}

// IsDueAt reports whether the charge counts as due relative to a
// transaction dated txDate with optional creation time txCreatedAt.
//
// Due date strictly before the transaction date: due. Strictly after:
// not due. On the same day, the earlier-created side wins when both
// timestamps exist; missing timestamps default to due.
func (c *Charge) IsDueAt(txDate Date, txCreatedAt *time.Time) bool {
	if c.DueDate.Before(txDate) {
		return true
	}
	if c.DueDate.After(txDate) {
		return false
	}
	if c.CreatedAt == nil || txCreatedAt == nil {
		return true
	}
	return !c.CreatedAt.After(*txCreatedAt)
}
