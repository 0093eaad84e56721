package formula

import (
	"errors"
	"fmt"

	"github.com/leapstack-labs/leapcalc/pkg/numeric"
	"github.com/leapstack-labs/leapcalc/pkg/token"
)

// Evaluation errors. Callers match them with errors.Is; the returned errors wrap
// them with the offending identifier or scope.
var (
	// ErrDivisionByZero is returned when a divisor evaluates to zero.
	ErrDivisionByZero = numeric.ErrDivisionByZero
	// ErrUnresolved is returned when an identifier has no value.
	ErrUnresolved = errors.New("unresolved reference")
	// ErrNotNumeric is returned when an expression or aggregated member value is not a number.
	ErrNotNumeric = errors.New("non-numeric value")
	// ErrMissingContext is returned when an aggregation names a collection that was not supplied.
	ErrMissingContext = errors.New("missing collection context")
)

// ParseError represents a formula syntax error with position information.
type ParseError struct {
	Pos     token.Position
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at column %d: %s", e.Pos.Column, e.Message)
}

// Common error messages
const (
	errUnexpectedToken    = "unexpected %s, expected %s"
	errUnterminatedString = "unterminated string literal"
	errIllegalCharacter   = "illegal character %q"
	errInvalidNumber      = "invalid number literal %q"
)
