/*
Package loan provides the loan aggregate and the write service that
wraps the allocation engine.

PURPOSE:
  The engine (package engine) is purely computational: it mutates the
  installments and charges handed to it and nothing else. This package
  owns everything around one allocation call - loading the aggregate,
  serializing per-loan access, folding overpayment into the account
  state, and persisting the outcome atomically.

OWNERSHIP:
  A Loan owns its installments, charges and transactions for the
  duration of one call. Stores hand out deep copies, so a failed
  allocation discards its half-mutated copy instead of corrupting the
  stored state.
*/
package loan

import (
	"time"

	"github.com/warp/repayment-engine/engine"
)

// =============================================================================
// LOAN AGGREGATE
// =============================================================================

// Status describes the account-level state derived from balances.
type Status string

const (
	StatusActive     Status = "active"
	StatusOverpaid   Status = "overpaid"
	StatusClosed     Status = "closed"
	StatusWrittenOff Status = "written_off"
)

// Loan is the aggregate root: schedule, charges and transaction history
// in one currency, allocated by one named strategy.
type Loan struct {
	ID           string
	ExternalRef  string
	Currency     engine.Currency
	DisbursedOn  engine.Date
	StrategyCode string

	Installments []*engine.Installment
	Charges      []*engine.Charge
	Transactions []*engine.Transaction

	// Overpaid is the account-level balance built from allocation
	// remainders. Never allocated to any bucket.
	Overpaid engine.Money

	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TotalOutstanding sums the outstanding amounts across the schedule.
func (l *Loan) TotalOutstanding() engine.Money {
	total := engine.ZeroMoney(l.Currency)
	for _, inst := range l.Installments {
		total = total.Add(inst.TotalOutstanding())
	}
	return total
}

// Transaction finds a transaction by id.
func (l *Loan) Transaction(id string) (*engine.Transaction, bool) {
	for _, tx := range l.Transactions {
		if tx.ID == id {
			return tx, true
		}
	}
	return nil, false
}

// Charge finds a charge by id.
func (l *Loan) Charge(id string) (*engine.Charge, bool) {
	for _, c := range l.Charges {
		if c.ID == id {
			return c, true
		}
	}
	return nil, false
}

// RefreshStatus re-derives the account status from balances. Write-off
// status is sticky: it is set by the write-off path, not derived.
func (l *Loan) RefreshStatus() {
	if l.Status == StatusWrittenOff {
		return
	}
	switch {
	case l.Overpaid.IsGreaterThanZero():
		l.Status = StatusOverpaid
	case l.TotalOutstanding().IsZero():
		l.Status = StatusClosed
	default:
		l.Status = StatusActive
	}
}

// Clone deep-copies the aggregate. Stores return clones so callers can
// mutate freely and persist (or discard) the result.
func (l *Loan) Clone() *Loan {
	c := *l

	c.Installments = make([]*engine.Installment, len(l.Installments))
	for i, inst := range l.Installments {
		copied := *inst
		if inst.ObligationsMetOn != nil {
			d := *inst.ObligationsMetOn
			copied.ObligationsMetOn = &d
		}
		c.Installments[i] = &copied
	}

	c.Charges = make([]*engine.Charge, len(l.Charges))
	for i, ch := range l.Charges {
		copied := *ch
		if ch.CreatedAt != nil {
			t := *ch.CreatedAt
			copied.CreatedAt = &t
		}
		c.Charges[i] = &copied
	}

	c.Transactions = make([]*engine.Transaction, len(l.Transactions))
	for i, tx := range l.Transactions {
		copied := *tx
		if tx.CreatedAt != nil {
			t := *tx.CreatedAt
			copied.CreatedAt = &t
		}
		copied.Mappings = append([]engine.ComponentMapping(nil), tx.Mappings...)
		c.Transactions[i] = &copied
	}

	return &c
}
