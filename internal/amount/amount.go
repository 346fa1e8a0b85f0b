// Package amount defines the ledger's arbitrary-precision base-unit amount
// type. Every numeric literal that crosses the node API or the relational
// store passes through here so that no intermediate binary float is ever
// introduced, matching the original Rust agent's use of bigdecimal/BigDecimal
// for the same fields.
package amount

import (
	"database/sql/driver"
	"fmt"

	"github.com/shopspring/decimal"
)

// Amount is an exact, arbitrary-precision decimal. In practice every amount
// the ledger produces is a base-unit integer that exceeds 64 bits, but the
// wire format is a plain JSON numeric literal, so the underlying type must
// support fractional precision even though fractions never actually occur.
type Amount struct {
	d decimal.Decimal
}

// Zero is the additive identity.
var Zero = Amount{d: decimal.Zero}

// New wraps a shopspring/decimal.Decimal.
func New(d decimal.Decimal) Amount { return Amount{d: d} }

// FromInt builds an Amount from a plain int64, mostly useful in tests.
func FromInt(v int64) Amount { return Amount{d: decimal.NewFromInt(v)} }

// Parse parses a base-10 string (as produced by (Amount).String) into an
// Amount without ever routing through float64.
func Parse(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("amount: parse %q: %w", s, err)
	}
	return Amount{d: d}, nil
}

func (a Amount) Add(b Amount) Amount { return Amount{d: a.d.Add(b.d)} }
func (a Amount) Sub(b Amount) Amount { return Amount{d: a.d.Sub(b.d)} }
func (a Amount) Neg() Amount         { return Amount{d: a.d.Neg()} }
func (a Amount) Equal(b Amount) bool { return a.d.Equal(b.d) }
func (a Amount) Cmp(b Amount) int    { return a.d.Cmp(b.d) }
func (a Amount) IsZero() bool        { return a.d.IsZero() }
func (a Amount) String() string      { return a.d.String() }

// MarshalJSON writes the amount as an unquoted numeric literal, matching the
// node API's wire format (amounts are numbers, not strings, in JSON).
// decimal.Decimal.MarshalJSON quotes its output by default, so this bypasses
// it and writes the digits directly.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.d.String()), nil
}

// UnmarshalJSON parses a numeric JSON literal directly into a decimal,
// never through float64: shopspring/decimal reads the raw token bytes.
func (a *Amount) UnmarshalJSON(data []byte) error {
	return a.d.UnmarshalJSON(data)
}

// Value/Scan implement database/sql/driver so gorm can persist Amount into
// a DECIMAL/NUMERIC column without a lossy float round trip.
func (a Amount) Value() (driver.Value, error) {
	return a.d.String(), nil
}

func (a *Amount) Scan(value interface{}) error {
	d := decimal.Decimal{}
	if err := d.Scan(value); err != nil {
		return err
	}
	a.d = d
	return nil
}
