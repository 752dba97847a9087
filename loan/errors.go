package loan

import "errors"

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrLoanNotFound is returned when a referenced loan doesn't exist.
	ErrLoanNotFound = errors.New("loan not found")

	// ErrTransactionNotFound is returned when a referenced transaction
	// doesn't exist on the loan.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrDuplicateLoan is returned when creating a loan with an id that
	// already exists.
	ErrDuplicateLoan = errors.New("loan already exists")
)

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrLoanNotFound) || errors.Is(err, ErrTransactionNotFound)
}
