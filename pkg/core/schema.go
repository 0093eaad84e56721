package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/leapstack-labs/leapcalc/pkg/token"
)

// FieldSchema is the ordered, immutable set of fields of one template.
// It is created once per template and shared by reference across entities.
type FieldSchema struct {
	name        string
	description string
	fields      []Field
	index       map[FieldKey]int
	formulas    map[FieldKey]string
	fingerprint string
}

// SchemaError reports an invalid schema definition.
type SchemaError struct {
	Schema string
	Field  FieldKey
	Msg    string
}

func (e *SchemaError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("schema %q: %s", e.Schema, e.Msg)
	}
	return fmt.Sprintf("schema %q: field %q: %s", e.Schema, e.Field, e.Msg)
}

// NewFieldSchema validates fields and builds an immutable schema.
//
// Validation rejects:
//   - empty, duplicate or reserved keys
//   - input fields that carry a formula
//   - computed fields with neither an explicit nor a default formula
func NewFieldSchema(name string, fields []Field) (*FieldSchema, error) {
	return NewFieldSchemaWithDescription(name, "", fields)
}

// NewFieldSchemaWithDescription is NewFieldSchema with a human-readable description.
func NewFieldSchemaWithDescription(name, description string, fields []Field) (*FieldSchema, error) {
	s := &FieldSchema{
		name:        name,
		description: description,
		fields:      make([]Field, 0, len(fields)),
		index:       make(map[FieldKey]int, len(fields)),
		formulas:    make(map[FieldKey]string),
	}

	for _, f := range fields {
		f.Formula = strings.TrimSpace(f.Formula)
		if f.Key == "" {
			return nil, &SchemaError{Schema: name, Msg: "field key is required"}
		}
		if token.IsReserved(string(f.Key)) {
			return nil, &SchemaError{Schema: name, Field: f.Key, Msg: "key is a reserved word"}
		}
		if _, exists := s.index[f.Key]; exists {
			return nil, &SchemaError{Schema: name, Field: f.Key, Msg: "duplicate field key"}
		}

		switch f.Role {
		case RoleInput:
			if f.Formula != "" {
				return nil, &SchemaError{Schema: name, Field: f.Key, Msg: "input fields cannot have a formula"}
			}
		case RoleComputed:
			formula := f.Formula
			if formula == "" {
				def, ok := DefaultFormula(f.Key)
				if !ok {
					return nil, &SchemaError{Schema: name, Field: f.Key, Msg: "computed field has no formula and no default"}
				}
				formula = def
			}
			s.formulas[f.Key] = formula
		default:
			return nil, &SchemaError{Schema: name, Field: f.Key, Msg: fmt.Sprintf("invalid role %d", f.Role)}
		}

		s.index[f.Key] = len(s.fields)
		s.fields = append(s.fields, f)
	}

	s.fingerprint = s.computeFingerprint()
	return s, nil
}

// MustFieldSchema is like NewFieldSchema but panics on error. Intended for tests and constants.
func MustFieldSchema(name string, fields []Field) *FieldSchema {
	s, err := NewFieldSchema(name, fields)
	if err != nil {
		panic(err)
	}
	return s
}

// Name returns the template name.
func (s *FieldSchema) Name() string { return s.name }

// Description returns the template description.
func (s *FieldSchema) Description() string { return s.description }

// Len returns the number of fields.
func (s *FieldSchema) Len() int { return len(s.fields) }

// Fields returns a copy of the fields in declaration order.
func (s *FieldSchema) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// Keys returns the field keys in declaration order.
func (s *FieldSchema) Keys() []FieldKey {
	keys := make([]FieldKey, len(s.fields))
	for i, f := range s.fields {
		keys[i] = f.Key
	}
	return keys
}

// Field returns the field with the given key.
func (s *FieldSchema) Field(key FieldKey) (Field, bool) {
	i, ok := s.index[key]
	if !ok {
		return Field{}, false
	}
	return s.fields[i], true
}

// Has reports whether key belongs to the schema.
func (s *FieldSchema) Has(key FieldKey) bool {
	_, ok := s.index[key]
	return ok
}

// Formula returns the resolved formula (explicit or default) of a computed field.
func (s *FieldSchema) Formula(key FieldKey) (string, bool) {
	f, ok := s.formulas[key]
	return f, ok
}

// ComputedCount returns the number of computed fields.
func (s *FieldSchema) ComputedCount() int {
	return len(s.formulas)
}

// Fingerprint returns a stable identity for the schema content, suitable as a cache key.
// Two schemas with the same name, fields and resolved formulas share a fingerprint.
func (s *FieldSchema) Fingerprint() string { return s.fingerprint }

func (s *FieldSchema) computeFingerprint() string {
	h := sha256.New()
	_, _ = fmt.Fprintf(h, "schema:%s\n", s.name)
	for _, f := range s.fields {
		formula := s.formulas[f.Key]
		_, _ = fmt.Fprintf(h, "%s\x00%s\x00%s\n", f.Key, f.Role, formula)
	}
	return hex.EncodeToString(h.Sum(nil))
}
