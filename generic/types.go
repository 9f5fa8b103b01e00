/*
Package generic provides the numeric and calendar primitives shared by the
billing engine.

PURPOSE:
  Everything the bill generator, the interest/penalty/rebate calculator and
  the payment allocator have in common lives here: a fixed-point Money type,
  the rounding policy, day-granular dates, billing periods and the
  infrastructure-level error sentinels.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: a rupee amount backed by decimal.Decimal (never float64)
  - Round: the society rounding policy (whole rupees or two decimals)

DESIGN PRINCIPLES:
  1. Precision: all arithmetic uses decimal.Decimal so repeated interest
     compounding never drifts by a paisa
  2. Determinism: rounded values always carry the same exponent, so two
     computations over the same inputs produce identical values
  3. Non-negativity is enforced by callers (ClampZero), not by Money itself

USAGE:
  amount := generic.NewMoney(1200)
  due := amount.Sub(generic.NewMoney(700))           // 500
  interest := generic.Round(generic.MustParseMoney("17.26"), true) // 17

SEE ALSO:
  - time.go: TimePoint, DaysBetween, MonthsBetween
  - period.go: Period (billing cycle)
  - errors.go: sentinel errors and outcome classification
*/
package generic

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Fixed-point currency amount
// =============================================================================

// Money is an amount in the society's currency (rupees).
type Money struct {
	Value decimal.Decimal
}

var (
	hundred  = decimal.NewFromInt(100)
	halfUnit = decimal.New(5, -1)
)

func NewMoney(value float64) Money             { return Money{Value: decimal.NewFromFloat(value)} }
func NewMoneyFromInt(value int64) Money        { return Money{Value: decimal.NewFromInt(value)} }
func MoneyFromDecimal(d decimal.Decimal) Money { return Money{Value: d} }
func ZeroMoney() Money                         { return Money{Value: decimal.Zero} }

// ParseMoney parses a decimal string such as "1250.50".
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return Money{Value: d}, nil
}

// MustParseMoney is like ParseMoney but panics on bad input. Use for
// constants and tests.
func MustParseMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

func (m Money) Add(o Money) Money               { return Money{Value: m.Value.Add(o.Value)} }
func (m Money) Sub(o Money) Money               { return Money{Value: m.Value.Sub(o.Value)} }
func (m Money) Mul(s decimal.Decimal) Money     { return Money{Value: m.Value.Mul(s)} }
func (m Money) Div(s decimal.Decimal) Money     { return Money{Value: m.Value.Div(s)} }
func (m Money) Neg() Money                      { return Money{Value: m.Value.Neg()} }
func (m Money) IsNegative() bool                { return m.Value.IsNegative() }
func (m Money) IsZero() bool                    { return m.Value.IsZero() }
func (m Money) IsPositive() bool                { return m.Value.IsPositive() }
func (m Money) Equal(o Money) bool              { return m.Value.Equal(o.Value) }
func (m Money) GreaterThan(o Money) bool        { return m.Value.GreaterThan(o.Value) }
func (m Money) GreaterThanOrEqual(o Money) bool { return m.Value.GreaterThanOrEqual(o.Value) }
func (m Money) LessThan(o Money) bool           { return m.Value.LessThan(o.Value) }
func (m Money) String() string                  { return m.Value.StringFixed(2) }

func (m Money) Min(o Money) Money {
	if m.LessThan(o) {
		return m
	}
	return o
}

func (m Money) Max(o Money) Money {
	if m.GreaterThan(o) {
		return m
	}
	return o
}

// ClampZero returns m, or zero when m is negative.
func (m Money) ClampZero() Money {
	if m.IsNegative() {
		return ZeroMoney()
	}
	return m
}

// Percent returns m * pct / 100.
func (m Money) Percent(pct decimal.Decimal) Money {
	return Money{Value: m.Value.Mul(pct).Div(hundred)}
}

// MarshalJSON renders money as a two-decimal string so clients never see
// float artifacts.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Value.StringFixed(2))
}

// UnmarshalJSON accepts both quoted and bare numbers.
func (m *Money) UnmarshalJSON(b []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		return fmt.Errorf("invalid amount: %w", err)
	}
	m.Value = d
	return nil
}

// SumMoney adds all amounts.
func SumMoney(amounts ...Money) Money {
	total := ZeroMoney()
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

// =============================================================================
// ROUNDING POLICY
// =============================================================================

// Round applies the society rounding policy. When enabled the amount is
// rounded to whole rupees, half-up; otherwise it is kept at two decimals
// (also half-up). Round is idempotent: Round(Round(x, e), e) == Round(x, e).
func Round(amount Money, enabled bool) Money {
	if enabled {
		return Money{Value: roundHalfUp(amount.Value, 0)}
	}
	return Money{Value: roundHalfUp(amount.Value, 2)}
}

// RoundPaise rounds to two decimals regardless of policy.
func RoundPaise(amount Money) Money {
	return Money{Value: roundHalfUp(amount.Value, 2)}
}

// roundHalfUp rounds towards +infinity on ties. The result always has
// exponent -places.
func roundHalfUp(d decimal.Decimal, places int32) decimal.Decimal {
	return d.Shift(places).Add(halfUnit).Floor().Shift(-places)
}
