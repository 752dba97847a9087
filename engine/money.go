/*
money.go - Fixed-point monetary amounts bound to a currency

PURPOSE:
  Every amount the allocation engine touches is a Money: a decimal value
  rounded to its currency's scale. All waterfall arithmetic goes through
  this type - no floating point anywhere in allocation math.

KEY CONCEPTS:
  - Currency: code + scale (e.g. USD/2, JPY/0)
  - Money: immutable value, always rounded half-even to the currency scale
  - SubToZero: clamped subtraction used for outstanding calculations
  - RoundingUnit: the smallest representable amount, used as the tolerance
    when reconciling charge-level and installment-level aggregates

CURRENCY SAFETY:
  Arithmetic methods assume both operands share a currency; the engine
  validates that once, up front, via EnsureSameCurrency before any state
  is mutated. A failed validation surfaces as *CurrencyMismatchError and
  the allocation call returns without touching installments or charges.

SEE ALSO:
  - errors.go: ErrCurrencyMismatch and CurrencyMismatchError
  - strategy.go: boundary validation before the waterfall runs
*/
package engine

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CURRENCY
// =============================================================================

// Currency identifies a monetary unit and its decimal scale.
type Currency struct {
	Code  string
	Scale int32
}

// NewCurrency creates a currency with the given ISO code and scale.
func NewCurrency(code string, scale int32) Currency {
	return Currency{Code: code, Scale: scale}
}

func (c Currency) String() string { return c.Code }

// =============================================================================
// MONEY
// =============================================================================

// Money is an immutable fixed-point amount in a single currency.
// The zero value is unusable; construct via NewMoney / ZeroMoney.
type Money struct {
	Currency Currency
	Value    decimal.Decimal
}

// NewMoney creates a Money rounded half-even to the currency scale.
func NewMoney(currency Currency, value decimal.Decimal) Money {
	return Money{Currency: currency, Value: value.RoundBank(currency.Scale)}
}

// NewMoneyFromString parses a decimal string into Money.
func NewMoneyFromString(currency Currency, s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return NewMoney(currency, d), nil
}

// MustMoney parses a decimal string, substituting zero on failure.
// Intended for literals in configuration and tests.
func MustMoney(currency Currency, s string) Money {
	d, err := decimal.NewFromString(s)
	if err != nil {
		d = decimal.Zero
	}
	return NewMoney(currency, d)
}

// ZeroMoney returns the zero amount in the given currency.
func ZeroMoney(currency Currency) Money {
	return Money{Currency: currency, Value: decimal.Zero}
}

// Zero returns the zero amount in this Money's currency.
func (m Money) Zero() Money { return ZeroMoney(m.Currency) }

// Arithmetic. Operands must share a currency (validated at the engine
// boundary by EnsureSameCurrency). Results stay at the currency scale
// because both operands already are.
func (m Money) Add(o Money) Money { return Money{Currency: m.Currency, Value: m.Value.Add(o.Value)} }
func (m Money) Sub(o Money) Money { return Money{Currency: m.Currency, Value: m.Value.Sub(o.Value)} }
func (m Money) Neg() Money        { return Money{Currency: m.Currency, Value: m.Value.Neg()} }

// SubToZero subtracts o, flooring the result at zero. Used everywhere an
// outstanding balance is reduced: an allocation can never drive it negative.
func (m Money) SubToZero(o Money) Money {
	r := m.Value.Sub(o.Value)
	if r.IsNegative() {
		r = decimal.Zero
	}
	return Money{Currency: m.Currency, Value: r}
}

func (m Money) Min(o Money) Money {
	if m.Value.LessThan(o.Value) {
		return m
	}
	return o
}

// Comparison
func (m Money) IsZero() bool                     { return m.Value.IsZero() }
func (m Money) IsNegative() bool                 { return m.Value.IsNegative() }
func (m Money) IsGreaterThanZero() bool          { return m.Value.IsPositive() }
func (m Money) GreaterThan(o Money) bool         { return m.Value.GreaterThan(o.Value) }
func (m Money) GreaterThanOrEqual(o Money) bool  { return m.Value.GreaterThanOrEqual(o.Value) }
func (m Money) LessThan(o Money) bool            { return m.Value.LessThan(o.Value) }
func (m Money) Equal(o Money) bool               { return m.Value.Equal(o.Value) }
func (m Money) SameCurrency(o Money) bool        { return m.Currency == o.Currency }

// RoundingUnit returns one unit at the currency scale (e.g. 0.01 for USD).
func (m Money) RoundingUnit() Money {
	return Money{Currency: m.Currency, Value: decimal.New(1, -m.Currency.Scale)}
}

func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Currency.Code, m.Value.StringFixed(m.Currency.Scale))
}

// EnsureSameCurrency validates that every amount shares the first one's
// currency. Returns *CurrencyMismatchError on the first mismatch.
func EnsureSameCurrency(amounts ...Money) error {
	if len(amounts) < 2 {
		return nil
	}
	first := amounts[0].Currency
	for _, a := range amounts[1:] {
		if a.Currency != first {
			return &CurrencyMismatchError{Left: first, Right: a.Currency}
		}
	}
	return nil
}
