/*
errors.go - Centralized error types for the allocation engine

PURPOSE:
  All engine error types in one place. Callers (the loan write service,
  the API layer) match on the sentinels with errors.Is and unwrap the
  structured variants with errors.As.

ERROR CATEGORIES:
  1. Input errors    - currency mismatch, unknown strategy/charge
  2. Integrity errors - charge aggregates diverging from installment totals
  3. Logic errors    - negative allocation attempts (should never happen)

Overpayment is NOT an error: a remainder left after every installment is
satisfied is a normal, reported outcome.
*/
package engine

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrCurrencyMismatch is returned when amounts of different currencies
	// would be combined. Fatal to the allocation call; no state is mutated.
	ErrCurrencyMismatch = errors.New("incompatible currencies")

	// ErrNegativeAllocation is returned by the defensive check that an
	// allocation step would drive an outstanding balance below zero.
	// Clamped subtraction makes this unreachable; if it fires, it is a
	// programming-logic error, not something to retry.
	ErrNegativeAllocation = errors.New("negative allocation attempt")

	// ErrInconsistentChargeAggregate is returned when the sum of a bucket's
	// charges no longer reconciles with the installment aggregate beyond
	// one rounding unit. Surfaced as a data-integrity problem, never
	// silently corrected.
	ErrInconsistentChargeAggregate = errors.New("charge aggregate does not reconcile with installment")

	// ErrUnknownStrategy is returned when a strategy code has no
	// registered configuration.
	ErrUnknownStrategy = errors.New("unknown allocation strategy")

	// ErrChargeNotFound is returned when a charge-payment transaction
	// references a charge that is not in the provided set.
	ErrChargeNotFound = errors.New("charge not found")

	// ErrTransactionReversed is returned when reversing an already
	// reversed transaction.
	ErrTransactionReversed = errors.New("transaction already reversed")

	// ErrNoInstallments is returned when allocation is attempted against
	// an empty schedule.
	ErrNoInstallments = errors.New("no installments to allocate against")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// CurrencyMismatchError reports the two currencies that were combined.
type CurrencyMismatchError struct {
	Left  Currency
	Right Currency
}

func (e *CurrencyMismatchError) Error() string {
	return fmt.Sprintf("incompatible currencies: %s vs %s", e.Left, e.Right)
}

func (e *CurrencyMismatchError) Unwrap() error { return ErrCurrencyMismatch }

// NegativeAllocationError reports where the impossible happened.
type NegativeAllocationError struct {
	InstallmentNumber int
	Bucket            Bucket
	Amount            Money
}

func (e *NegativeAllocationError) Error() string {
	return fmt.Sprintf("negative allocation of %s to %s on installment %d",
		e.Amount, e.Bucket, e.InstallmentNumber)
}

func (e *NegativeAllocationError) Unwrap() error { return ErrNegativeAllocation }

// ChargeAggregateError reports a divergence between per-charge outstanding
// totals and the installment's aggregate bucket outstanding.
type ChargeAggregateError struct {
	InstallmentNumber     int
	Bucket                Bucket
	ChargeOutstanding     Money
	InstallmentOutstanding Money
}

func (e *ChargeAggregateError) Error() string {
	return fmt.Sprintf("installment %d %s charges outstanding %s != installment outstanding %s",
		e.InstallmentNumber, e.Bucket, e.ChargeOutstanding, e.InstallmentOutstanding)
}

func (e *ChargeAggregateError) Unwrap() error { return ErrInconsistentChargeAggregate }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrCurrencyMismatch) ||
		errors.Is(err, ErrUnknownStrategy) ||
		errors.Is(err, ErrChargeNotFound) ||
		errors.Is(err, ErrTransactionReversed) ||
		errors.Is(err, ErrNoInstallments)
}

// IsIntegrityError returns true if the error indicates corrupted loan data
// rather than bad input.
func IsIntegrityError(err error) bool {
	return errors.Is(err, ErrInconsistentChargeAggregate) ||
		errors.Is(err, ErrNegativeAllocation)
}
