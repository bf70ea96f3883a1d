// Package money provides fixed-precision currency amounts for billing.
//
// Amounts are held as integer minor units (cents). Decimal numbers only
// appear at the boundary: parsing user or wire input, JSON encoding, and
// display formatting.
package money

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
)

// DefaultSymbol is used by String and by Format when no symbol is given.
const DefaultSymbol = "$"

// ErrInvalidAmount is returned for non-finite input, input with more than two
// fractional digits, or negative input where only non-negative amounts are
// allowed.
var ErrInvalidAmount = errors.New("money: invalid amount")

var hundred = decimal.NewFromInt(100)

// Money is an amount in cents. The zero value is 0.00.
type Money struct {
	cents int64
}

// FromCents creates Money from minor units.
func FromCents(cents int64) Money { return Money{cents: cents} }

// Zero returns 0.00.
func Zero() Money { return Money{} }

// FromDecimal converts a decimal with at most two fractional digits.
func FromDecimal(d decimal.Decimal) (Money, error) {
	if !d.Round(2).Equal(d) {
		return Money{}, fmt.Errorf("%w: %s has more than 2 fractional digits", ErrInvalidAmount, d.String())
	}
	scaled := d.Mul(hundred)
	if !scaled.IsInteger() || scaled.Abs().GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
		return Money{}, fmt.Errorf("%w: %s out of range", ErrInvalidAmount, d.String())
	}
	return Money{cents: scaled.IntPart()}, nil
}

// FromFloat converts a float with at most two fractional digits. Floats are
// accepted through their shortest decimal representation, so 0.1 is 10 cents.
func FromFloat(f float64) (Money, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Money{}, fmt.Errorf("%w: %v is not finite", ErrInvalidAmount, f)
	}
	return FromDecimal(decimal.NewFromFloat(f))
}

// Parse reads a decimal string such as "275", "275.5" or "1,275.50". A
// leading currency symbol is not accepted.
func Parse(s string) (Money, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return Money{}, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("%w: %q is not numeric", ErrInvalidAmount, s)
	}
	return FromDecimal(d)
}

// ParseNonNegative is Parse restricted to amounts >= 0.
func ParseNonNegative(s string) (Money, error) {
	m, err := Parse(s)
	if err != nil {
		return Money{}, err
	}
	return m.requireNonNegative()
}

// NonNegativeFromFloat is FromFloat restricted to amounts >= 0.
func NonNegativeFromFloat(f float64) (Money, error) {
	m, err := FromFloat(f)
	if err != nil {
		return Money{}, err
	}
	return m.requireNonNegative()
}

func (m Money) requireNonNegative() (Money, error) {
	if m.cents < 0 {
		return Money{}, fmt.Errorf("%w: %s is negative", ErrInvalidAmount, m.decimalString())
	}
	return m, nil
}

// Add returns a + b.
func Add(a, b Money) Money { return Money{cents: a.cents + b.cents} }

// Subtract returns a - b. The result may be negative.
func Subtract(a, b Money) Money { return Money{cents: a.cents - b.cents} }

// Sum adds all values; the sum of nothing is zero.
func Sum(values ...Money) Money {
	var total int64
	for _, v := range values {
		total += v.cents
	}
	return Money{cents: total}
}

// Add returns m + other.
func (m Money) Add(other Money) Money { return Add(m, other) }

// Subtract returns m - other.
func (m Money) Subtract(other Money) Money { return Subtract(m, other) }

// Multiply returns m * qty.
func (m Money) Multiply(qty int64) Money { return Money{cents: m.cents * qty} }

// Max returns the larger of m and other.
func (m Money) Max(other Money) Money {
	if m.cents >= other.cents {
		return m
	}
	return other
}

func (m Money) Cents() int64 { return m.cents }

func (m Money) IsZero() bool { return m.cents == 0 }

func (m Money) IsPositive() bool { return m.cents > 0 }

func (m Money) IsNegative() bool { return m.cents < 0 }

func (m Money) Equal(o Money) bool { return m.cents == o.cents }

// Cmp returns -1, 0 or +1.
func (m Money) Cmp(o Money) int {
	switch {
	case m.cents < o.cents:
		return -1
	case m.cents > o.cents:
		return 1
	}
	return 0
}

// Decimal returns the exact decimal value.
func (m Money) Decimal() decimal.Decimal { return decimal.New(m.cents, -2) }

// Float64 returns the value as a float for callers that need a number type.
// Do not accumulate on the result.
func (m Money) Float64() float64 {
	f, _ := m.Decimal().Float64()
	return f
}

func (m Money) decimalString() string { return m.Decimal().StringFixed(2) }

// Format renders the amount with exactly two decimals, thousands separators
// and the symbol prefix: "$1,234.50", "-$20.00". An empty symbol means
// DefaultSymbol.
func (m Money) Format(symbol string) string {
	if symbol == "" {
		symbol = DefaultSymbol
	}
	abs := m.cents
	sign := ""
	if abs < 0 {
		sign = "-"
		abs = -abs
	}
	return fmt.Sprintf("%s%s%s.%02d", sign, symbol, humanize.Comma(abs/100), abs%100)
}

// String formats with DefaultSymbol.
func (m Money) String() string { return m.Format(DefaultSymbol) }

// MarshalJSON encodes the amount as a JSON number with two decimals.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.decimalString()), nil
}

// UnmarshalJSON accepts a JSON number or a numeric string.
func (m *Money) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		return nil
	}
	parsed, err := Parse(strings.Trim(s, `"`))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
