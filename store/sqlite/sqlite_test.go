package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/repayment-engine/engine"
	"github.com/warp/repayment-engine/loan"
	"github.com/warp/repayment-engine/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func usdMoney(s string) engine.Money {
	return engine.MustMoney(engine.NewCurrency("USD", 2), s)
}

func buildLoan(id string) *loan.Loan {
	usd := engine.NewCurrency("USD", 2)
	now := time.Date(2025, time.January, 1, 10, 0, 0, 0, time.UTC)

	charge := engine.NewCharge("ch-1", "processing fee", false,
		engine.NewDate(2025, time.January, 15), engine.MustMoney(usd, "10.00"))
	charge.CreatedAt = &now

	return &loan.Loan{
		ID:           id,
		ExternalRef:  "LN-042",
		Currency:     usd,
		DisbursedOn:  engine.NewDate(2025, time.January, 1),
		StrategyCode: "mifos-standard-strategy",
		Installments: []*engine.Installment{
			engine.NewInstallment(1,
				engine.NewDate(2025, time.January, 1), engine.NewDate(2025, time.February, 1),
				engine.MustMoney(usd, "50.00"), engine.MustMoney(usd, "5.00"),
				engine.MustMoney(usd, "10.00"), engine.MustMoney(usd, "0")),
			engine.NewInstallment(2,
				engine.NewDate(2025, time.February, 1), engine.NewDate(2025, time.March, 1),
				engine.MustMoney(usd, "50.00"), engine.MustMoney(usd, "5.00"),
				engine.MustMoney(usd, "0"), engine.MustMoney(usd, "0")),
		},
		Charges:   []*engine.Charge{charge},
		Overpaid:  engine.ZeroMoney(usd),
		Status:    loan.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// =============================================================================
// ROUND TRIP
// =============================================================================

func TestCreateAndGetLoan_RoundTrip(t *testing.T) {
	// GIVEN: A loan aggregate with schedule and a charge
	// WHEN: It is created and loaded back
	// THEN: Every field survives the relational round trip

	s := newStore(t)
	original := buildLoan("loan-1")
	require.NoError(t, s.CreateLoan(context.Background(), original))

	loaded, err := s.GetLoan(context.Background(), "loan-1")
	require.NoError(t, err)

	assert.Equal(t, original.ID, loaded.ID)
	assert.Equal(t, original.ExternalRef, loaded.ExternalRef)
	assert.Equal(t, "USD", loaded.Currency.Code)
	assert.Equal(t, int32(2), loaded.Currency.Scale)
	assert.Equal(t, original.StrategyCode, loaded.StrategyCode)
	assert.Equal(t, loan.StatusActive, loaded.Status)
	assert.True(t, loaded.DisbursedOn.Equal(original.DisbursedOn))
	assert.True(t, loaded.Overpaid.IsZero())

	require.Len(t, loaded.Installments, 2)
	first := loaded.Installments[0]
	assert.Equal(t, 1, first.Number)
	assert.True(t, first.Outstanding(engine.BucketPrincipal).Equal(usdMoney("50.00")))
	assert.True(t, first.Outstanding(engine.BucketInterest).Equal(usdMoney("5.00")))
	assert.True(t, first.Outstanding(engine.BucketFee).Equal(usdMoney("10.00")))
	assert.Nil(t, first.ObligationsMetOn)

	require.Len(t, loaded.Charges, 1)
	c := loaded.Charges[0]
	assert.Equal(t, "ch-1", c.ID)
	assert.Equal(t, "processing fee", c.Name)
	assert.False(t, c.Penalty)
	assert.True(t, c.Active)
	assert.True(t, c.Outstanding().Equal(usdMoney("10.00")))
	require.NotNil(t, c.CreatedAt)
	assert.True(t, c.CreatedAt.Equal(*original.Charges[0].CreatedAt))
}

func TestSaveLoan_PersistsAllocationOutcome(t *testing.T) {
	// GIVEN: A stored loan mutated by a real allocation
	// WHEN: SaveLoan rewrites the aggregate
	// THEN: Transactions, mappings and paid balances all load back

	s := newStore(t)
	l := buildLoan("loan-1")
	require.NoError(t, s.CreateLoan(context.Background(), l))

	p, err := engine.NewProcessor(engine.Strategy{
		Code:         "test",
		DueOrder:     engine.BucketOrder{engine.BucketPenalty, engine.BucketFee, engine.BucketInterest, engine.BucketPrincipal},
		AdvanceOrder: engine.BucketOrder{engine.BucketPenalty, engine.BucketFee, engine.BucketInterest, engine.BucketPrincipal},
	})
	require.NoError(t, err)

	now := time.Date(2025, time.February, 1, 9, 30, 0, 0, time.UTC)
	tx := engine.NewTransaction("tx-1", engine.TypeRepayment, usdMoney("65.00"), engine.NewDate(2025, time.February, 1))
	tx.CreatedAt = &now
	result, err := p.Process(tx, l.Installments, l.Charges)
	require.NoError(t, err)

	l.Transactions = append(l.Transactions, tx)
	l.Overpaid = l.Overpaid.Add(result.Overpayment)
	l.RefreshStatus()
	require.NoError(t, s.SaveLoan(context.Background(), l))

	loaded, err := s.GetLoan(context.Background(), "loan-1")
	require.NoError(t, err)

	assert.True(t, loaded.Installments[0].IsFullyPaid())
	assert.NotNil(t, loaded.Installments[0].ObligationsMetOn)
	assert.True(t, loaded.Charges[0].IsFullyPaid())

	require.Len(t, loaded.Transactions, 1)
	got := loaded.Transactions[0]
	assert.Equal(t, "tx-1", got.ID)
	assert.Equal(t, engine.TypeRepayment, got.Type)
	assert.True(t, got.Amount.Equal(usdMoney("65.00")))
	assert.True(t, got.AllocatedFee().Equal(usdMoney("10.00")))
	assert.True(t, got.AllocatedInterest().Equal(usdMoney("5.00")))
	assert.True(t, got.AllocatedPrincipal().Equal(usdMoney("50.00")))
	assert.False(t, got.Reversed)
	require.NotNil(t, got.CreatedAt)

	// The mapping trail survives, including the charge reference.
	require.NotEmpty(t, got.Mappings)
	var chargeMapped bool
	for _, m := range got.Mappings {
		if m.ChargeID == "ch-1" {
			chargeMapped = true
			assert.Equal(t, engine.MappingPaid, m.Kind)
			assert.True(t, m.Amount.Equal(usdMoney("10.00")))
		}
	}
	assert.True(t, chargeMapped)

	// A reversal replayed from the loaded state restores the schedule.
	require.NoError(t, engine.Reverse(got, loaded.Installments, loaded.Charges))
	assert.True(t, loaded.Installments[0].Outstanding(engine.BucketPrincipal).Equal(usdMoney("50.00")))
	assert.True(t, loaded.Charges[0].Outstanding().Equal(usdMoney("10.00")))
}

func TestSaveLoan_RewritesWholesale(t *testing.T) {
	s := newStore(t)
	l := buildLoan("loan-1")
	require.NoError(t, s.CreateLoan(context.Background(), l))

	l.Status = loan.StatusClosed
	l.Overpaid = usdMoney("3.50")
	l.Charges = nil
	require.NoError(t, s.SaveLoan(context.Background(), l))

	loaded, err := s.GetLoan(context.Background(), "loan-1")
	require.NoError(t, err)
	assert.Equal(t, loan.StatusClosed, loaded.Status)
	assert.True(t, loaded.Overpaid.Equal(usdMoney("3.50")))
	assert.Empty(t, loaded.Charges)
}

// =============================================================================
// ERRORS
// =============================================================================

func TestGetLoan_NotFound(t *testing.T) {
	s := newStore(t)
	_, err := s.GetLoan(context.Background(), "missing")
	assert.True(t, loan.IsNotFound(err))
}

func TestSaveLoan_NotFound(t *testing.T) {
	s := newStore(t)
	err := s.SaveLoan(context.Background(), buildLoan("never-created"))
	assert.True(t, loan.IsNotFound(err))
}

func TestCreateLoan_DuplicateRejected(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.CreateLoan(context.Background(), buildLoan("loan-1")))

	err := s.CreateLoan(context.Background(), buildLoan("loan-1"))
	assert.ErrorIs(t, err, loan.ErrDuplicateLoan)
}

func TestListLoans_OrderedByCreation(t *testing.T) {
	s := newStore(t)

	a := buildLoan("loan-a")
	a.CreatedAt = time.Date(2025, time.January, 2, 0, 0, 0, 0, time.UTC)
	b := buildLoan("loan-b")
	b.CreatedAt = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.CreateLoan(context.Background(), a))
	require.NoError(t, s.CreateLoan(context.Background(), b))

	loans, err := s.ListLoans(context.Background())
	require.NoError(t, err)
	require.Len(t, loans, 2)
	assert.Equal(t, "loan-b", loans[0].ID)
	assert.Equal(t, "loan-a", loans[1].ID)
}

func TestMoneyScaleSurvivesStorage(t *testing.T) {
	s := newStore(t)
	jpy := engine.NewCurrency("JPY", 0)
	now := time.Now().UTC()

	l := &loan.Loan{
		ID:           "loan-jpy",
		Currency:     jpy,
		DisbursedOn:  engine.NewDate(2025, time.January, 1),
		StrategyCode: "mifos-standard-strategy",
		Installments: []*engine.Installment{
			engine.NewInstallment(1,
				engine.NewDate(2025, time.January, 1), engine.NewDate(2025, time.February, 1),
				engine.NewMoney(jpy, decimal.NewFromInt(1000)), engine.ZeroMoney(jpy),
				engine.ZeroMoney(jpy), engine.ZeroMoney(jpy)),
		},
		Overpaid:  engine.ZeroMoney(jpy),
		Status:    loan.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.CreateLoan(context.Background(), l))

	loaded, err := s.GetLoan(context.Background(), "loan-jpy")
	require.NoError(t, err)
	assert.Equal(t, int32(0), loaded.Currency.Scale)
	assert.True(t, loaded.Installments[0].Outstanding(engine.BucketPrincipal).Equal(
		engine.NewMoney(jpy, decimal.NewFromInt(1000))))
}
