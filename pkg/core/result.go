package core

import (
	"fmt"
	"strings"
)

// ErrorKind classifies a computation error.
type ErrorKind int

const (
	// ErrorKindEvaluation is a formula that failed to produce a number.
	ErrorKindEvaluation ErrorKind = iota
	// ErrorKindCycle is a circular dependency between fields.
	ErrorKindCycle
	// ErrorKindMissingContext is an aggregation over a collection the caller did not supply.
	ErrorKindMissingContext
)

// String returns the string representation of the kind.
func (k ErrorKind) String() string {
	switch k {
	case ErrorKindEvaluation:
		return "evaluation"
	case ErrorKindCycle:
		return "cycle"
	case ErrorKindMissingContext:
		return "missing_context"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k ErrorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *ErrorKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "evaluation":
		*k = ErrorKindEvaluation
	case "cycle":
		*k = ErrorKindCycle
	case "missing_context":
		*k = ErrorKindMissingContext
	default:
		return fmt.Errorf("unknown error kind %q", text)
	}
	return nil
}

// FieldError is one computation error, attached to the offending field.
type FieldError struct {
	Kind    ErrorKind `json:"kind"`
	Field   FieldKey  `json:"field"`
	Message string    `json:"message"`
	// Dependencies is the full cycle path for cycle errors.
	Dependencies []FieldKey `json:"dependencies,omitempty"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ComputationResult is the outcome of one compute call.
//
// Values always holds every schema field; fields whose formula failed hold zero.
// Success is false iff Errors is non-empty.
type ComputationResult struct {
	Success bool         `json:"success"`
	Values  EntityValues `json:"values"`
	Errors  []FieldError `json:"errors,omitempty"`
	Cycles  [][]FieldKey `json:"cycles,omitempty"`
	// Evaluated lists the computed fields that were actually evaluated, in order.
	Evaluated []FieldKey `json:"evaluated,omitempty"`
}

// ErrorFor returns the first error recorded for field.
func (r *ComputationResult) ErrorFor(field FieldKey) (FieldError, bool) {
	for _, e := range r.Errors {
		if e.Field == field {
			return e, true
		}
	}
	return FieldError{}, false
}

// Err folds the errors into a single error, or nil on success.
func (r *ComputationResult) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	msgs := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		msgs[i] = e.Error()
	}
	return fmt.Errorf("computation failed: %s", strings.Join(msgs, "; "))
}

// FormatCycle renders a cycle path as "a -> b -> a".
func FormatCycle(cycle []FieldKey) string {
	if len(cycle) == 0 {
		return ""
	}
	parts := make([]string, 0, len(cycle)+1)
	for _, k := range cycle {
		parts = append(parts, string(k))
	}
	parts = append(parts, string(cycle[0]))
	return strings.Join(parts, " -> ")
}
