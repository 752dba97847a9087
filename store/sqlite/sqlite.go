/*
Package sqlite provides a SQLite-backed implementation of loan.Store.

PURPOSE:
  Persists the loan aggregate (schedule, charges, transactions, component
  mappings) relationally. In production the same patterns apply to
  PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  loans:                   Account-level state (currency, strategy, status)
  installments:            Schedule periods
  installment_obligations: One row per period per bucket (due/paid/waived/written_off)
  charges:                 Fee and penalty bookkeeping records
  loan_transactions:       Applied transactions with their component totals
  component_mappings:      Per-slice allocation trail, replayed on reversal

SAVE SEMANTICS:
  SaveLoan rewrites the whole aggregate inside one database transaction.
  A loan's row counts are small (tens of installments, a handful of
  charges), so wholesale replace keeps the load/save pair trivially
  consistent with the in-memory model.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/loans.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - loan/store.go: Interface definition
  - loan/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/repayment-engine/engine"
	"github.com/warp/repayment-engine/loan"
)

// Store implements loan.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		external_ref TEXT,
		currency_code TEXT NOT NULL,
		currency_scale INTEGER NOT NULL,
		disbursed_on TEXT NOT NULL,
		strategy_code TEXT NOT NULL,
		overpaid TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_loans_external_ref
		ON loans(external_ref) WHERE external_ref != '';

	CREATE TABLE IF NOT EXISTS installments (
		loan_id TEXT NOT NULL REFERENCES loans(id) ON DELETE CASCADE,
		number INTEGER NOT NULL,
		from_date TEXT NOT NULL,
		due_date TEXT NOT NULL,
		obligations_met_on TEXT,
		PRIMARY KEY (loan_id, number)
	);

	CREATE TABLE IF NOT EXISTS installment_obligations (
		loan_id TEXT NOT NULL REFERENCES loans(id) ON DELETE CASCADE,
		installment_number INTEGER NOT NULL,
		bucket TEXT NOT NULL,
		due TEXT NOT NULL,
		paid TEXT NOT NULL,
		waived TEXT NOT NULL,
		written_off TEXT NOT NULL,
		PRIMARY KEY (loan_id, installment_number, bucket)
	);

	CREATE TABLE IF NOT EXISTS charges (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL REFERENCES loans(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		name TEXT NOT NULL,
		penalty BOOLEAN NOT NULL,
		due_date TEXT NOT NULL,
		created_at TEXT,
		amount TEXT NOT NULL,
		paid TEXT NOT NULL,
		waived TEXT NOT NULL,
		active BOOLEAN NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_charges_loan
		ON charges(loan_id, position);

	CREATE TABLE IF NOT EXISTS loan_transactions (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL REFERENCES loans(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		tx_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		tx_date TEXT NOT NULL,
		created_at TEXT,
		target_charge_id TEXT,
		alloc_principal TEXT NOT NULL,
		alloc_interest TEXT NOT NULL,
		alloc_fee TEXT NOT NULL,
		alloc_penalty TEXT NOT NULL,
		overpayment TEXT NOT NULL,
		reversed BOOLEAN NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_loan
		ON loan_transactions(loan_id, position);

	CREATE TABLE IF NOT EXISTS component_mappings (
		transaction_id TEXT NOT NULL REFERENCES loan_transactions(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		installment_number INTEGER NOT NULL,
		bucket TEXT NOT NULL,
		kind TEXT NOT NULL,
		amount TEXT NOT NULL,
		charge_id TEXT,
		PRIMARY KEY (transaction_id, position)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LOAN STORE (loan.Store interface)
// =============================================================================

// CreateLoan inserts a new aggregate. Duplicate IDs are rejected.
func (s *Store) CreateLoan(ctx context.Context, l *loan.Loan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	_, err = sqlTx.ExecContext(ctx, `
		INSERT INTO loans (id, external_ref, currency_code, currency_scale, disbursed_on,
			strategy_code, overpaid, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		l.ID, l.ExternalRef, l.Currency.Code, l.Currency.Scale, l.DisbursedOn.String(),
		l.StrategyCode, l.Overpaid.Value.String(), string(l.Status),
		l.CreatedAt.UTC().Format(time.RFC3339), l.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return loan.ErrDuplicateLoan
		}
		return fmt.Errorf("failed to insert loan: %w", err)
	}

	if err := s.insertChildren(ctx, sqlTx, l); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// SaveLoan rewrites the stored aggregate wholesale.
func (s *Store) SaveLoan(ctx context.Context, l *loan.Loan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	res, err := sqlTx.ExecContext(ctx, `
		UPDATE loans SET external_ref = ?, currency_code = ?, currency_scale = ?,
			disbursed_on = ?, strategy_code = ?, overpaid = ?, status = ?, updated_at = ?
		WHERE id = ?
	`,
		l.ExternalRef, l.Currency.Code, l.Currency.Scale, l.DisbursedOn.String(),
		l.StrategyCode, l.Overpaid.Value.String(), string(l.Status),
		l.UpdatedAt.UTC().Format(time.RFC3339), l.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update loan: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return loan.ErrLoanNotFound
	}

	// Mapping rows go first: their FK cascades off loan_transactions only
	// on loan deletion, not on per-loan rewrites.
	for _, stmt := range []string{
		`DELETE FROM component_mappings WHERE transaction_id IN
			(SELECT id FROM loan_transactions WHERE loan_id = ?)`,
		`DELETE FROM loan_transactions WHERE loan_id = ?`,
		`DELETE FROM charges WHERE loan_id = ?`,
		`DELETE FROM installment_obligations WHERE loan_id = ?`,
		`DELETE FROM installments WHERE loan_id = ?`,
	} {
		if _, err := sqlTx.ExecContext(ctx, stmt, l.ID); err != nil {
			return fmt.Errorf("failed to clear loan children: %w", err)
		}
	}

	if err := s.insertChildren(ctx, sqlTx, l); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func (s *Store) insertChildren(ctx context.Context, sqlTx *sql.Tx, l *loan.Loan) error {
	for _, inst := range l.Installments {
		var metOn *string
		if inst.ObligationsMetOn != nil {
			d := inst.ObligationsMetOn.String()
			metOn = &d
		}
		_, err := sqlTx.ExecContext(ctx, `
			INSERT INTO installments (loan_id, number, from_date, due_date, obligations_met_on)
			VALUES (?, ?, ?, ?, ?)
		`, l.ID, inst.Number, inst.FromDate.String(), inst.DueDate.String(), metOn)
		if err != nil {
			return fmt.Errorf("failed to insert installment %d: %w", inst.Number, err)
		}

		for _, b := range []engine.Bucket{engine.BucketPrincipal, engine.BucketInterest, engine.BucketFee, engine.BucketPenalty} {
			o := inst.Obligations[b]
			_, err := sqlTx.ExecContext(ctx, `
				INSERT INTO installment_obligations
					(loan_id, installment_number, bucket, due, paid, waived, written_off)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`, l.ID, inst.Number, b.String(),
				o.Due.Value.String(), o.Paid.Value.String(),
				o.Waived.Value.String(), o.WrittenOff.Value.String())
			if err != nil {
				return fmt.Errorf("failed to insert obligation: %w", err)
			}
		}
	}

	for i, c := range l.Charges {
		_, err := sqlTx.ExecContext(ctx, `
			INSERT INTO charges (id, loan_id, position, name, penalty, due_date, created_at,
				amount, paid, waived, active)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, c.ID, l.ID, i, c.Name, c.Penalty, c.DueDate.String(), nullTime(c.CreatedAt),
			c.Amount.Value.String(), c.Paid.Value.String(), c.Waived.Value.String(), c.Active)
		if err != nil {
			return fmt.Errorf("failed to insert charge %s: %w", c.ID, err)
		}
	}

	for i, tx := range l.Transactions {
		_, err := sqlTx.ExecContext(ctx, `
			INSERT INTO loan_transactions (id, loan_id, position, tx_type, amount, tx_date,
				created_at, target_charge_id, alloc_principal, alloc_interest, alloc_fee,
				alloc_penalty, overpayment, reversed)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, tx.ID, l.ID, i, tx.Type.String(), tx.Amount.Value.String(), tx.Date.String(),
			nullTime(tx.CreatedAt), nullString(tx.TargetChargeID),
			tx.AllocatedPrincipal().Value.String(), tx.AllocatedInterest().Value.String(),
			tx.AllocatedFee().Value.String(), tx.AllocatedPenalty().Value.String(),
			tx.Overpayment.Value.String(), tx.Reversed)
		if err != nil {
			return fmt.Errorf("failed to insert transaction %s: %w", tx.ID, err)
		}

		for j, m := range tx.Mappings {
			_, err := sqlTx.ExecContext(ctx, `
				INSERT INTO component_mappings (transaction_id, position, installment_number,
					bucket, kind, amount, charge_id)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`, tx.ID, j, m.InstallmentNumber, m.Bucket.String(), m.Kind.String(),
				m.Amount.Value.String(), nullString(m.ChargeID))
			if err != nil {
				return fmt.Errorf("failed to insert mapping: %w", err)
			}
		}
	}

	return nil
}

// GetLoan reconstructs the full aggregate. The result is a fresh copy,
// safe to mutate and discard.
func (s *Store) GetLoan(ctx context.Context, id string) (*loan.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.loadLoan(ctx, id)
}

func (s *Store) loadLoan(ctx context.Context, id string) (*loan.Loan, error) {
	var (
		l                    loan.Loan
		scale                int32
		code                 string
		disbursedOn          string
		overpaid             string
		status               string
		createdAt, updatedAt string
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT id, external_ref, currency_code, currency_scale, disbursed_on,
			strategy_code, overpaid, status, created_at, updated_at
		FROM loans WHERE id = ?
	`, id).Scan(&l.ID, &l.ExternalRef, &code, &scale, &disbursedOn,
		&l.StrategyCode, &overpaid, &status, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, loan.ErrLoanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load loan: %w", err)
	}

	l.Currency = engine.NewCurrency(code, scale)
	if l.DisbursedOn, err = engine.ParseDate(disbursedOn); err != nil {
		return nil, fmt.Errorf("failed to parse disbursed_on: %w", err)
	}
	if l.Overpaid, err = engine.NewMoneyFromString(l.Currency, overpaid); err != nil {
		return nil, fmt.Errorf("failed to parse overpaid: %w", err)
	}
	l.Status = loan.Status(status)
	l.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	l.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	if l.Installments, err = s.loadInstallments(ctx, &l); err != nil {
		return nil, err
	}
	if l.Charges, err = s.loadCharges(ctx, &l); err != nil {
		return nil, err
	}
	if l.Transactions, err = s.loadTransactions(ctx, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *Store) loadInstallments(ctx context.Context, l *loan.Loan) ([]*engine.Installment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT number, from_date, due_date, obligations_met_on
		FROM installments WHERE loan_id = ? ORDER BY number ASC
	`, l.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to query installments: %w", err)
	}
	defer rows.Close()

	byNumber := make(map[int]*engine.Installment)
	var installments []*engine.Installment
	for rows.Next() {
		var (
			inst     engine.Installment
			from, to string
			metOn    sql.NullString
		)
		if err := rows.Scan(&inst.Number, &from, &to, &metOn); err != nil {
			return nil, fmt.Errorf("failed to scan installment: %w", err)
		}
		if inst.FromDate, err = engine.ParseDate(from); err != nil {
			return nil, err
		}
		if inst.DueDate, err = engine.ParseDate(to); err != nil {
			return nil, err
		}
		if metOn.Valid {
			d, err := engine.ParseDate(metOn.String)
			if err != nil {
				return nil, err
			}
			inst.ObligationsMetOn = &d
		}
		installments = append(installments, &inst)
		byNumber[inst.Number] = &inst
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	oblRows, err := s.db.QueryContext(ctx, `
		SELECT installment_number, bucket, due, paid, waived, written_off
		FROM installment_obligations WHERE loan_id = ?
	`, l.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to query obligations: %w", err)
	}
	defer oblRows.Close()

	for oblRows.Next() {
		var (
			number                        int
			bucket                        string
			due, paid, waived, writtenOff string
		)
		if err := oblRows.Scan(&number, &bucket, &due, &paid, &waived, &writtenOff); err != nil {
			return nil, fmt.Errorf("failed to scan obligation: %w", err)
		}
		inst, ok := byNumber[number]
		if !ok {
			return nil, fmt.Errorf("obligation row for unknown installment %d", number)
		}
		b, err := engine.ParseBucket(bucket)
		if err != nil {
			return nil, err
		}
		o := &inst.Obligations[b]
		if o.Due, err = engine.NewMoneyFromString(l.Currency, due); err != nil {
			return nil, err
		}
		if o.Paid, err = engine.NewMoneyFromString(l.Currency, paid); err != nil {
			return nil, err
		}
		if o.Waived, err = engine.NewMoneyFromString(l.Currency, waived); err != nil {
			return nil, err
		}
		if o.WrittenOff, err = engine.NewMoneyFromString(l.Currency, writtenOff); err != nil {
			return nil, err
		}
	}
	return installments, oblRows.Err()
}

func (s *Store) loadCharges(ctx context.Context, l *loan.Loan) ([]*engine.Charge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, penalty, due_date, created_at, amount, paid, waived, active
		FROM charges WHERE loan_id = ? ORDER BY position ASC
	`, l.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to query charges: %w", err)
	}
	defer rows.Close()

	var charges []*engine.Charge
	for rows.Next() {
		var (
			c                    engine.Charge
			due                  string
			createdAt            sql.NullString
			amount, paid, waived string
		)
		if err := rows.Scan(&c.ID, &c.Name, &c.Penalty, &due, &createdAt,
			&amount, &paid, &waived, &c.Active); err != nil {
			return nil, fmt.Errorf("failed to scan charge: %w", err)
		}
		if c.DueDate, err = engine.ParseDate(due); err != nil {
			return nil, err
		}
		if createdAt.Valid {
			t, _ := time.Parse(time.RFC3339, createdAt.String)
			c.CreatedAt = &t
		}
		if c.Amount, err = engine.NewMoneyFromString(l.Currency, amount); err != nil {
			return nil, err
		}
		if c.Paid, err = engine.NewMoneyFromString(l.Currency, paid); err != nil {
			return nil, err
		}
		if c.Waived, err = engine.NewMoneyFromString(l.Currency, waived); err != nil {
			return nil, err
		}
		charges = append(charges, &c)
	}
	return charges, rows.Err()
}

func (s *Store) loadTransactions(ctx context.Context, l *loan.Loan) ([]*engine.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tx_type, amount, tx_date, created_at, target_charge_id,
			alloc_principal, alloc_interest, alloc_fee, alloc_penalty, overpayment, reversed
		FROM loan_transactions WHERE loan_id = ? ORDER BY position ASC
	`, l.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txs []*engine.Transaction
	byID := make(map[string]*engine.Transaction)
	for rows.Next() {
		var (
			tx                           engine.Transaction
			txType, amount, txDate       string
			createdAt, targetCharge      sql.NullString
			allocP, allocI, allocF       string
			allocPen, overpayment        string
		)
		if err := rows.Scan(&tx.ID, &txType, &amount, &txDate, &createdAt, &targetCharge,
			&allocP, &allocI, &allocF, &allocPen, &overpayment, &tx.Reversed); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		if tx.Type, err = engine.ParseTransactionType(txType); err != nil {
			return nil, err
		}
		if tx.Amount, err = engine.NewMoneyFromString(l.Currency, amount); err != nil {
			return nil, err
		}
		if tx.Date, err = engine.ParseDate(txDate); err != nil {
			return nil, err
		}
		if createdAt.Valid {
			t, _ := time.Parse(time.RFC3339, createdAt.String)
			tx.CreatedAt = &t
		}
		tx.TargetChargeID = targetCharge.String

		var principal, interest, fee, penalty engine.Money
		if principal, err = engine.NewMoneyFromString(l.Currency, allocP); err != nil {
			return nil, err
		}
		if interest, err = engine.NewMoneyFromString(l.Currency, allocI); err != nil {
			return nil, err
		}
		if fee, err = engine.NewMoneyFromString(l.Currency, allocF); err != nil {
			return nil, err
		}
		if penalty, err = engine.NewMoneyFromString(l.Currency, allocPen); err != nil {
			return nil, err
		}
		tx.UpdateComponents(principal, interest, fee, penalty)
		if tx.Overpayment, err = engine.NewMoneyFromString(l.Currency, overpayment); err != nil {
			return nil, err
		}

		txs = append(txs, &tx)
		byID[tx.ID] = &tx
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	mapRows, err := s.db.QueryContext(ctx, `
		SELECT m.transaction_id, m.installment_number, m.bucket, m.kind, m.amount, m.charge_id
		FROM component_mappings m
		JOIN loan_transactions t ON t.id = m.transaction_id
		WHERE t.loan_id = ?
		ORDER BY t.position ASC, m.position ASC
	`, l.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to query mappings: %w", err)
	}
	defer mapRows.Close()

	for mapRows.Next() {
		var (
			m              engine.ComponentMapping
			bucket, kind   string
			amount         string
			chargeID       sql.NullString
		)
		if err := mapRows.Scan(&m.TransactionID, &m.InstallmentNumber, &bucket, &kind,
			&amount, &chargeID); err != nil {
			return nil, fmt.Errorf("failed to scan mapping: %w", err)
		}
		if m.Bucket, err = engine.ParseBucket(bucket); err != nil {
			return nil, err
		}
		if m.Kind, err = engine.ParseMappingKind(kind); err != nil {
			return nil, err
		}
		if m.Amount, err = engine.NewMoneyFromString(l.Currency, amount); err != nil {
			return nil, err
		}
		m.ChargeID = chargeID.String

		tx, ok := byID[m.TransactionID]
		if !ok {
			return nil, fmt.Errorf("mapping row for unknown transaction %s", m.TransactionID)
		}
		tx.Mappings = append(tx.Mappings, m)
	}
	return txs, mapRows.Err()
}

// ListLoans loads every aggregate, oldest first.
func (s *Store) ListLoans(ctx context.Context) ([]*loan.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT id FROM loans ORDER BY created_at ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query loans: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	loans := make([]*loan.Loan, 0, len(ids))
	for _, id := range ids {
		l, err := s.loadLoan(ctx, id)
		if err != nil {
			return nil, err
		}
		loans = append(loans, l)
	}
	return loans, nil
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"component_mappings", "loan_transactions", "charges",
		"installment_obligations", "installments", "loans"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
