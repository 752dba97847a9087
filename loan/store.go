package loan

import "context"

// =============================================================================
// STORE - Persistence boundary for loan aggregates
// =============================================================================

// Store persists whole loan aggregates. Implementations must return
// deep copies from Get/List and persist SaveLoan atomically: one
// allocation call's mutations (installments, charges, transaction,
// overpaid balance) either all land or none do.
type Store interface {
	// CreateLoan stores a new aggregate. Fails with ErrDuplicateLoan if
	// the id exists.
	CreateLoan(ctx context.Context, l *Loan) error

	// GetLoan loads one aggregate. Fails with ErrLoanNotFound.
	GetLoan(ctx context.Context, id string) (*Loan, error)

	// SaveLoan replaces the stored aggregate with the given state.
	SaveLoan(ctx context.Context, l *Loan) error

	// ListLoans returns all aggregates, ordered by creation time.
	ListLoans(ctx context.Context) ([]*Loan, error)
}
