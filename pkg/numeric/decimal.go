// Package numeric provides the decimal value type used for every number that flows
// through the formula engine. It wraps shopspring/decimal so that money arithmetic
// never goes through binary floating point.
package numeric

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// DefaultDivisionPrecision is the number of fractional digits kept by Div.
const DefaultDivisionPrecision = 16

// ErrDivisionByZero is returned by Div when the divisor is zero.
var ErrDivisionByZero = errors.New("division by zero")

// Decimal is an immutable arbitrary-precision decimal number.
// The zero value is 0.
type Decimal struct {
	d decimal.Decimal
}

// Zero is the decimal 0.
var Zero = Decimal{}

// One is the decimal 1.
var One = NewFromInt(1)

// NewFromInt returns the decimal for an integer.
func NewFromInt(v int64) Decimal {
	return Decimal{d: decimal.NewFromInt(v)}
}

// NewFromFloat returns the decimal closest to a float64.
// Prefer Parse for values that originate as text.
func NewFromFloat(v float64) Decimal {
	return Decimal{d: decimal.NewFromFloat(v)}
}

// Parse parses a decimal literal such as "12", "-0.15" or "1e3".
func Parse(s string) (Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	return Decimal{d: d}, nil
}

// MustParse is like Parse but panics on malformed input. Intended for constants and tests.
func MustParse(s string) Decimal {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Add returns a + b.
func (a Decimal) Add(b Decimal) Decimal { return Decimal{d: a.d.Add(b.d)} }

// Sub returns a - b.
func (a Decimal) Sub(b Decimal) Decimal { return Decimal{d: a.d.Sub(b.d)} }

// Mul returns a * b.
func (a Decimal) Mul(b Decimal) Decimal { return Decimal{d: a.d.Mul(b.d)} }

// Neg returns -a.
func (a Decimal) Neg() Decimal { return Decimal{d: a.d.Neg()} }

// Div returns a / b rounded to precision fractional digits.
// Dividing by zero returns ErrDivisionByZero instead of panicking.
func (a Decimal) Div(b Decimal, precision int32) (Decimal, error) {
	if b.d.IsZero() {
		return Zero, ErrDivisionByZero
	}
	return Decimal{d: a.d.DivRound(b.d, precision)}, nil
}

// Cmp compares a and b: -1 if a < b, 0 if equal, +1 if a > b.
func (a Decimal) Cmp(b Decimal) int { return a.d.Cmp(b.d) }

// Equal reports whether a and b are numerically equal (1.50 equals 1.5).
func (a Decimal) Equal(b Decimal) bool { return a.d.Equal(b.d) }

// IsZero reports whether a is 0.
func (a Decimal) IsZero() bool { return a.d.IsZero() }

// Round rounds to places fractional digits, half away from zero.
func (a Decimal) Round(places int32) Decimal { return Decimal{d: a.d.Round(places)} }

// Float64 returns the nearest float64. Only for display; never feed it back into arithmetic.
func (a Decimal) Float64() float64 {
	f, _ := a.d.Float64()
	return f
}

// String returns the canonical representation without trailing zeros.
func (a Decimal) String() string { return a.d.String() }

// StringFixed returns the value formatted with exactly places fractional digits.
func (a Decimal) StringFixed(places int32) string { return a.d.StringFixed(places) }

// Min returns the smaller of a and b.
func Min(a, b Decimal) Decimal {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b Decimal) Decimal {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}

// Sum adds all values; the sum of nothing is 0.
func Sum(values ...Decimal) Decimal {
	total := Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// MarshalJSON encodes the value as a JSON string to keep full precision.
func (a Decimal) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts a JSON number, a numeric string or null (decoded as 0).
func (a *Decimal) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*a = Zero
		return nil
	}
	s := string(data)
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*a = Zero
			return nil
		}
	}
	d, err := Parse(s)
	if err != nil {
		return err
	}
	*a = d
	return nil
}

// MarshalText implements encoding.TextMarshaler (used by YAML and map keys).
func (a Decimal) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Decimal) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*a = Zero
		return nil
	}
	d, err := Parse(string(text))
	if err != nil {
		return err
	}
	*a = d
	return nil
}

// Value implements driver.Valuer, storing the canonical string.
func (a Decimal) Value() (driver.Value, error) {
	return a.String(), nil
}

// Scan implements sql.Scanner.
func (a *Decimal) Scan(src any) error {
	if src == nil {
		*a = Zero
		return nil
	}
	var d decimal.Decimal
	if err := d.Scan(src); err != nil {
		return fmt.Errorf("scan decimal: %w", err)
	}
	*a = Decimal{d: d}
	return nil
}
