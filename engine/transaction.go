/*
transaction.go - A monetary event applied to a loan

PURPOSE:
  A Transaction is the input and the output of one allocation call: it
  brings an amount and a date in, and leaves with four allocated
  component totals that must reconcile to the processed portion of the
  amount. Component mappings record exactly which installment bucket
  (and charge, for fee/penalty) absorbed each slice, so a later reversal
  can replay them backwards.

TRANSACTION KINDS:
  A closed set, matched exhaustively wherever behavior differs. Adding a
  kind forces a compile-visible decision at every switch.
*/
package engine

import (
	"fmt"
	"time"
)

// =============================================================================
// TRANSACTION TYPE - Closed variant over transaction kinds
// =============================================================================

type TransactionType int

const (
	TypeRepayment TransactionType = iota
	TypeWaiver
	TypeChargePayment
	TypeRecovery
	TypeWriteOff
)

func (t TransactionType) String() string {
	switch t {
	case TypeRepayment:
		return "repayment"
	case TypeWaiver:
		return "waiver"
	case TypeChargePayment:
		return "charge_payment"
	case TypeRecovery:
		return "recovery"
	case TypeWriteOff:
		return "write_off"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

// ParseTransactionType parses the wire/config name of a transaction kind.
func ParseTransactionType(s string) (TransactionType, error) {
	switch s {
	case "repayment":
		return TypeRepayment, nil
	case "waiver":
		return TypeWaiver, nil
	case "charge_payment":
		return TypeChargePayment, nil
	case "recovery":
		return TypeRecovery, nil
	case "write_off":
		return TypeWriteOff, nil
	default:
		return 0, fmt.Errorf("unknown transaction type %q", s)
	}
}

// =============================================================================
// COMPONENT MAPPING - Reversal bookkeeping
// =============================================================================

// MappingKind distinguishes how a slice mutated the installment, so a
// reversal undoes the right total.
type MappingKind int

const (
	MappingPaid MappingKind = iota
	MappingWaived
	MappingWrittenOff
)

func (k MappingKind) String() string {
	switch k {
	case MappingPaid:
		return "paid"
	case MappingWaived:
		return "waived"
	case MappingWrittenOff:
		return "written_off"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseMappingKind parses the stored name of a mapping kind.
func ParseMappingKind(s string) (MappingKind, error) {
	switch s {
	case "paid":
		return MappingPaid, nil
	case "waived":
		return MappingWaived, nil
	case "written_off":
		return MappingWrittenOff, nil
	default:
		return 0, fmt.Errorf("unknown mapping kind %q", s)
	}
}

// ComponentMapping records one slice of a transaction applied to one
// installment bucket. ChargeID is set when the slice was routed through a
// specific charge.
type ComponentMapping struct {
	TransactionID     string
	InstallmentNumber int
	Bucket            Bucket
	Kind              MappingKind
	Amount            Money
	ChargeID          string
}

// =============================================================================
// TRANSACTION
// =============================================================================

// Transaction is a monetary event (repayment, waiver, charge payment,
// recovery, write-off) applied to a loan.
type Transaction struct {
	ID   string
	Type TransactionType

	Amount Money
	Date   Date

	// CreatedAt is the optional fine-grained creation timestamp used for
	// same-day charge tie-breaking.
	CreatedAt *time.Time

	// TargetChargeID names the single charge a charge-payment transaction
	// settles. Ignored for other kinds.
	TargetChargeID string

	// Allocated component totals, indexed by Bucket. Their sum never
	// exceeds Amount; the difference is Overpayment (or, for waivers, an
	// unprocessed remainder that is simply dropped).
	Allocated [numBuckets]Money

	Overpayment Money
	Reversed    bool

	// Mappings is the reversal trail, in application order.
	Mappings []ComponentMapping
}

// NewTransaction creates a transaction with zeroed component totals.
func NewTransaction(id string, kind TransactionType, amount Money, date Date) *Transaction {
	tx := &Transaction{ID: id, Type: kind, Amount: amount, Date: date}
	tx.resetComponents()
	return tx
}

func (tx *Transaction) AllocatedPrincipal() Money { return tx.Allocated[BucketPrincipal] }
func (tx *Transaction) AllocatedInterest() Money  { return tx.Allocated[BucketInterest] }
func (tx *Transaction) AllocatedFee() Money       { return tx.Allocated[BucketFee] }
func (tx *Transaction) AllocatedPenalty() Money   { return tx.Allocated[BucketPenalty] }

// AllocatedTotal sums the four component totals.
func (tx *Transaction) AllocatedTotal() Money {
	total := tx.Amount.Zero()
	for _, a := range tx.Allocated {
		total = total.Add(a)
	}
	return total
}

// UpdateComponents records the four allocated component totals.
func (tx *Transaction) UpdateComponents(principal, interest, fee, penalty Money) {
	tx.Allocated[BucketPrincipal] = principal
	tx.Allocated[BucketInterest] = interest
	tx.Allocated[BucketFee] = fee
	tx.Allocated[BucketPenalty] = penalty
}

// recordMapping appends one applied slice to the reversal trail.
func (tx *Transaction) recordMapping(installmentNumber int, b Bucket, kind MappingKind, amount Money, chargeID string) {
	tx.Mappings = append(tx.Mappings, ComponentMapping{
		TransactionID:     tx.ID,
		InstallmentNumber: installmentNumber,
		Bucket:            b,
		Kind:              kind,
		Amount:            amount,
		ChargeID:          chargeID,
	})
}

func (tx *Transaction) resetComponents() {
	zero := tx.Amount.Zero()
	for b := range tx.Allocated {
		tx.Allocated[b] = zero
	}
	tx.Overpayment = zero
}
