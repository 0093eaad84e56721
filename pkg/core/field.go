package core

import (
	"fmt"
	"strings"
)

// FieldKey identifies a field within one schema, e.g. "quantity" or "unit_price".
type FieldKey string

// FieldRole tells whether a field is supplied by the caller or derived by the engine.
type FieldRole int

const (
	// RoleInput fields are supplied by the caller and never derived.
	RoleInput FieldRole = iota
	// RoleComputed fields always carry a formula and are only written by the engine.
	RoleComputed
)

// String returns the string representation of the role.
func (r FieldRole) String() string {
	switch r {
	case RoleInput:
		return "input"
	case RoleComputed:
		return "computed"
	default:
		return "unknown"
	}
}

// ParseFieldRole converts a string to a FieldRole. The empty string means input.
func ParseFieldRole(s string) (FieldRole, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "input":
		return RoleInput, nil
	case "computed":
		return RoleComputed, nil
	default:
		return RoleInput, fmt.Errorf("unknown field role %q (expected input or computed)", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (r FieldRole) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *FieldRole) UnmarshalText(text []byte) error {
	role, err := ParseFieldRole(string(text))
	if err != nil {
		return err
	}
	*r = role
	return nil
}

// Field describes one input or computed field of a template.
type Field struct {
	Key  FieldKey
	Role FieldRole
	// Formula is the explicit formula text of a computed field. Empty means none:
	// the schema falls back to a default formula for well-known keys.
	Formula string
}

// IsComputed reports whether the field is derived by the engine.
func (f Field) IsComputed() bool {
	return f.Role == RoleComputed
}

// Default formulas for the well-known budget line fields.
var defaultFormulas = map[FieldKey]string{
	"quantity":   "real_quantity * (1 + waste_pct)",
	"unit_price": "real_price * (1 + fee_pct)",
	"total_real": "real_price * real_quantity",
	"total":      "unit_price * quantity",
}

// DefaultFormula returns the default formula for key, if one exists.
func DefaultFormula(key FieldKey) (string, bool) {
	f, ok := defaultFormulas[key]
	return f, ok
}
