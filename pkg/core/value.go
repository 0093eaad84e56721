package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/leapstack-labs/leapcalc/pkg/numeric"
)

// EntityValues holds the numeric field values of one entity, inputs and computed alike.
type EntityValues map[FieldKey]numeric.Decimal

// Clone returns a shallow copy (decimals are immutable).
func (v EntityValues) Clone() EntityValues {
	out := make(EntityValues, len(v))
	for k, d := range v {
		out[k] = d
	}
	return out
}

// Get returns the value of key, or zero when it is absent.
func (v EntityValues) Get(key FieldKey) numeric.Decimal {
	return v[key]
}

// SortedKeys returns the keys in lexical order.
func (v EntityValues) SortedKeys() []FieldKey {
	keys := make([]FieldKey, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Equal reports whether both maps hold the same keys with numerically equal values.
func (v EntityValues) Equal(other EntityValues) bool {
	if len(v) != len(other) {
		return false
	}
	for k, d := range v {
		o, ok := other[k]
		if !ok || !d.Equal(o) {
			return false
		}
	}
	return true
}

// ValueKind is the dynamic type of a Value.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindNumber
	KindBool
	KindString
)

// String returns the string representation of the kind.
func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	default:
		return "unknown"
	}
}

// Value is a scalar held by a collection record: a decimal, a flag, a label, or null.
// The zero Value is null.
type Value struct {
	kind ValueKind
	num  numeric.Decimal
	b    bool
	s    string
}

// Null returns the null value.
func Null() Value { return Value{} }

// Number wraps a decimal.
func Number(d numeric.Decimal) Value { return Value{kind: KindNumber, num: d} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Kind returns the dynamic type.
func (v Value) Kind() ValueKind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsNumber returns the decimal and true if v is a number.
func (v Value) AsNumber() (numeric.Decimal, bool) { return v.num, v.kind == KindNumber }

// AsBool returns the flag and true if v is a bool.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsString returns the text and true if v is a string.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// Equal compares two values. Numbers compare numerically; different kinds are never equal.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindNumber:
		return v.num.Equal(other.num)
	case KindBool:
		return v.b == other.b
	case KindString:
		return v.s == other.s
	default:
		return false
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindNumber:
		return v.num.String()
	case KindBool:
		if v.b {
			return "true"
		}
		return "false"
	case KindString:
		return fmt.Sprintf("%q", v.s)
	default:
		return "null"
	}
}

// MarshalJSON encodes numbers as decimal strings, flags as booleans, labels as strings.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNumber:
		return json.Marshal(v.num)
	case KindBool:
		return json.Marshal(v.b)
	case KindString:
		return json.Marshal(v.s)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes null, booleans, numbers and strings. JSON numbers become decimals;
// strings stay strings even when they look numeric.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = Null()
		return nil
	}
	switch data[0] {
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = Bool(b)
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = String(s)
	default:
		d, err := numeric.Parse(string(data))
		if err != nil {
			return err
		}
		*v = Number(d)
	}
	return nil
}

// ValueOf converts a loosely typed value (as decoded from YAML or JSON) into a Value.
func ValueOf(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case numeric.Decimal:
		return Number(t), nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case int:
		return Number(numeric.NewFromInt(int64(t))), nil
	case int64:
		return Number(numeric.NewFromInt(t)), nil
	case float64:
		return Number(numeric.NewFromFloat(t)), nil
	case json.Number:
		d, err := numeric.Parse(t.String())
		if err != nil {
			return Null(), err
		}
		return Number(d), nil
	default:
		return Null(), fmt.Errorf("unsupported value type %T", x)
	}
}

// Record is one member of a collection: the fields of a sibling or child entity.
type Record map[FieldKey]Value

// Get returns the value of key, or null when absent.
func (r Record) Get(key FieldKey) Value {
	return r[key]
}

// Collections maps a scope name (such as "children") to its homogeneous member records.
type Collections map[string][]Record

// Scope returns the records of a scope and whether the scope was supplied at all.
// A supplied but empty scope is not the same as a missing one.
func (c Collections) Scope(name string) ([]Record, bool) {
	if c == nil {
		return nil, false
	}
	recs, ok := c[name]
	return recs, ok
}
