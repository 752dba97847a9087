/*
service.go - The loan write service

PURPOSE:
  One entry point per mutating operation: repayment, interest waiver,
  charge payment, recovery, write-off, reversal. Each loads the loan,
  runs the engine, folds the result into account state, and persists -
  all under a per-loan lock, because two transactions against the same
  loan must never be allocated concurrently (allocation order depends on
  mutable outstanding balances).
*/
package loan

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/repayment-engine/engine"
	"github.com/warp/repayment-engine/factory"
)

// =============================================================================
// SERVICE
// =============================================================================

// Service coordinates allocation calls against persisted loans.
type Service struct {
	store    Store
	registry *factory.Registry
	logger   *zap.Logger

	// Per-loan locks enforce the single-writer contract.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService creates a write service. A nil logger falls back to no-op.
func NewService(store Store, registry *factory.Registry, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    store,
		registry: registry,
		locks:    make(map[string]*sync.Mutex),
		logger:   logger,
	}
}

func (s *Service) lockLoan(id string) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// =============================================================================
// CREATION
// =============================================================================

// InstallmentInput describes one schedule period at creation.
type InstallmentInput struct {
	Number    int
	FromDate  engine.Date
	DueDate   engine.Date
	Principal decimal.Decimal
	Interest  decimal.Decimal
	Fee       decimal.Decimal
	Penalty   decimal.Decimal
}

// ChargeInput describes one fee/penalty at creation.
type ChargeInput struct {
	Name      string
	Penalty   bool
	DueDate   engine.Date
	Amount    decimal.Decimal
	CreatedAt *time.Time
}

// CreateLoanInput bundles everything needed to open a loan.
type CreateLoanInput struct {
	ExternalRef  string
	CurrencyCode string
	Scale        int32
	DisbursedOn  engine.Date
	StrategyCode string
	Installments []InstallmentInput
	Charges      []ChargeInput
}

// CreateLoan opens a loan with its already-generated schedule. Schedule
// generation itself happens upstream; this only records its output.
func (s *Service) CreateLoan(ctx context.Context, in CreateLoanInput) (*Loan, error) {
	if !s.registry.Has(in.StrategyCode) {
		return nil, fmt.Errorf("strategy %q: %w", in.StrategyCode, engine.ErrUnknownStrategy)
	}
	if len(in.Installments) == 0 {
		return nil, engine.ErrNoInstallments
	}

	currency := engine.NewCurrency(in.CurrencyCode, in.Scale)
	now := time.Now().UTC()

	l := &Loan{
		ID:           uuid.NewString(),
		ExternalRef:  in.ExternalRef,
		Currency:     currency,
		DisbursedOn:  in.DisbursedOn,
		StrategyCode: in.StrategyCode,
		Overpaid:     engine.ZeroMoney(currency),
		Status:       StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	for _, ii := range in.Installments {
		l.Installments = append(l.Installments, engine.NewInstallment(
			ii.Number, ii.FromDate, ii.DueDate,
			engine.NewMoney(currency, ii.Principal),
			engine.NewMoney(currency, ii.Interest),
			engine.NewMoney(currency, ii.Fee),
			engine.NewMoney(currency, ii.Penalty),
		))
	}
	for _, ci := range in.Charges {
		c := engine.NewCharge(uuid.NewString(), ci.Name, ci.Penalty, ci.DueDate, engine.NewMoney(currency, ci.Amount))
		c.CreatedAt = ci.CreatedAt
		l.Charges = append(l.Charges, c)
	}

	if err := s.store.CreateLoan(ctx, l); err != nil {
		return nil, err
	}
	s.logger.Info("loan created",
		zap.String("loan_id", l.ID),
		zap.String("strategy", l.StrategyCode),
		zap.Int("installments", len(l.Installments)),
		zap.Int("charges", len(l.Charges)),
	)
	return l, nil
}

// =============================================================================
// MUTATING OPERATIONS
// =============================================================================

// ApplyRepayment allocates a repayment across the schedule.
func (s *Service) ApplyRepayment(ctx context.Context, loanID string, amount decimal.Decimal, date engine.Date) (*engine.Transaction, *engine.Result, error) {
	return s.apply(ctx, loanID, engine.TypeRepayment, amount, date, "")
}

// ApplyWaiver waives outstanding interest.
func (s *Service) ApplyWaiver(ctx context.Context, loanID string, amount decimal.Decimal, date engine.Date) (*engine.Transaction, *engine.Result, error) {
	return s.apply(ctx, loanID, engine.TypeWaiver, amount, date, "")
}

// ApplyRecovery allocates a post-write-off recovery payment.
func (s *Service) ApplyRecovery(ctx context.Context, loanID string, amount decimal.Decimal, date engine.Date) (*engine.Transaction, *engine.Result, error) {
	return s.apply(ctx, loanID, engine.TypeRecovery, amount, date, "")
}

// ApplyChargePayment settles a single charge.
func (s *Service) ApplyChargePayment(ctx context.Context, loanID, chargeID string, amount decimal.Decimal, date engine.Date) (*engine.Transaction, *engine.Result, error) {
	return s.apply(ctx, loanID, engine.TypeChargePayment, amount, date, chargeID)
}

// ApplyWriteOff closes out every outstanding component.
func (s *Service) ApplyWriteOff(ctx context.Context, loanID string, date engine.Date) (*engine.Transaction, *engine.Result, error) {
	return s.applyWith(ctx, loanID, func(l *Loan) *engine.Transaction {
		tx := engine.NewTransaction(uuid.NewString(), engine.TypeWriteOff, l.TotalOutstanding(), date)
		return tx
	}, func(l *Loan) {
		l.Status = StatusWrittenOff
	})
}

func (s *Service) apply(ctx context.Context, loanID string, kind engine.TransactionType, amount decimal.Decimal, date engine.Date, chargeID string) (*engine.Transaction, *engine.Result, error) {
	return s.applyWith(ctx, loanID, func(l *Loan) *engine.Transaction {
		tx := engine.NewTransaction(uuid.NewString(), kind, engine.NewMoney(l.Currency, amount), date)
		tx.TargetChargeID = chargeID
		return tx
	}, nil)
}

// applyWith is the shared write path: lock, load, allocate, fold, save.
func (s *Service) applyWith(ctx context.Context, loanID string, makeTx func(*Loan) *engine.Transaction, after func(*Loan)) (*engine.Transaction, *engine.Result, error) {
	unlock := s.lockLoan(loanID)
	defer unlock()

	l, err := s.store.GetLoan(ctx, loanID)
	if err != nil {
		return nil, nil, err
	}

	tx := makeTx(l)
	now := time.Now().UTC()
	tx.CreatedAt = &now

	processor, err := s.registry.AllocatorFor(l.StrategyCode)
	if err != nil {
		return nil, nil, err
	}

	result, err := processor.Process(tx, l.Installments, l.Charges)
	if err != nil {
		// The mutated copy is discarded; stored state is untouched.
		s.logger.Warn("allocation failed",
			zap.String("loan_id", loanID),
			zap.String("type", tx.Type.String()),
			zap.Error(err),
		)
		return nil, nil, err
	}

	l.Transactions = append(l.Transactions, tx)
	l.Overpaid = l.Overpaid.Add(result.Overpayment)
	if after != nil {
		after(l)
	}
	l.RefreshStatus()
	l.UpdatedAt = now

	if err := s.store.SaveLoan(ctx, l); err != nil {
		return nil, nil, err
	}

	s.logger.Info("transaction allocated",
		zap.String("loan_id", loanID),
		zap.String("tx_id", tx.ID),
		zap.String("type", tx.Type.String()),
		zap.String("amount", tx.Amount.String()),
		zap.String("principal", tx.AllocatedPrincipal().String()),
		zap.String("interest", tx.AllocatedInterest().String()),
		zap.String("fee", tx.AllocatedFee().String()),
		zap.String("penalty", tx.AllocatedPenalty().String()),
		zap.String("overpayment", result.Overpayment.String()),
	)
	return tx, result, nil
}

// ReverseTransaction undoes a transaction's allocations and re-derives
// the account state. Arrears/NPA recalculation belongs upstream.
func (s *Service) ReverseTransaction(ctx context.Context, loanID, txID string) (*engine.Transaction, error) {
	unlock := s.lockLoan(loanID)
	defer unlock()

	l, err := s.store.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}

	tx, ok := l.Transaction(txID)
	if !ok {
		return nil, ErrTransactionNotFound
	}

	overpaidPortion := tx.Overpayment
	if err := engine.Reverse(tx, l.Installments, l.Charges); err != nil {
		return nil, err
	}

	l.Overpaid = l.Overpaid.SubToZero(overpaidPortion)
	l.RefreshStatus()
	l.UpdatedAt = time.Now().UTC()

	if err := s.store.SaveLoan(ctx, l); err != nil {
		return nil, err
	}

	s.logger.Info("transaction reversed",
		zap.String("loan_id", loanID),
		zap.String("tx_id", txID),
	)
	return tx, nil
}

// =============================================================================
// READS
// =============================================================================

// GetLoan loads one loan aggregate.
func (s *Service) GetLoan(ctx context.Context, loanID string) (*Loan, error) {
	return s.store.GetLoan(ctx, loanID)
}

// ListLoans loads all loans.
func (s *Service) ListLoans(ctx context.Context) ([]*Loan, error) {
	return s.store.ListLoans(ctx)
}
