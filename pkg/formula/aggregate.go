package formula

import (
	"fmt"

	"github.com/leapstack-labs/leapcalc/pkg/core"
	"github.com/leapstack-labs/leapcalc/pkg/numeric"
)

// Matches reports whether a collection member satisfies every clause.
func (p Predicate) Matches(rec core.Record) bool {
	for _, c := range p {
		if !c.Matches(rec) {
			return false
		}
	}
	return true
}

// Matches tests one member. Boolean literals compare against the member's
// truthiness, so a missing flag equals false.
func (c Clause) Matches(rec core.Record) bool {
	v := rec.Get(c.Field)
	switch c.Op {
	case OpEq:
		return clauseEqual(v, c.Value)
	case OpNe:
		return !clauseEqual(v, c.Value)
	default:
		return truthy(v)
	}
}

func clauseEqual(member, lit core.Value) bool {
	if b, ok := lit.AsBool(); ok {
		return truthy(member) == b
	}
	return member.Equal(lit)
}

func truthy(v core.Value) bool {
	switch v.Kind() {
	case core.KindBool:
		b, _ := v.AsBool()
		return b
	case core.KindNumber:
		d, _ := v.AsNumber()
		return !d.IsZero()
	case core.KindString:
		s, _ := v.AsString()
		return s != ""
	default:
		return false
	}
}

// resolveScope returns the members the aggregate reduces. COUNT(x) without a
// scope counts the collection named x when one is supplied.
func (a *Aggregate) resolveScope(collections core.Collections) (string, []core.Record, error) {
	if a.Func == FuncCount && a.implicitScope && a.Field != "" {
		if recs, ok := collections.Scope(string(a.Field)); ok {
			return string(a.Field), recs, nil
		}
	}
	recs, ok := collections.Scope(a.Scope)
	if !ok {
		return a.Scope, nil, fmt.Errorf("%w: collection %q not supplied", ErrMissingContext, a.Scope)
	}
	return a.Scope, recs, nil
}

// Apply reduces the supplied collections to a single value.
//
// Null or missing member values count as zero. SUM, AVG, MIN and MAX of an
// empty filtered set are zero.
func (a *Aggregate) Apply(collections core.Collections, precision int32) (numeric.Decimal, error) {
	scope, members, err := a.resolveScope(collections)
	if err != nil {
		return numeric.Zero, err
	}

	var (
		count  int64
		sum    numeric.Decimal
		lo, hi numeric.Decimal
	)
	for _, rec := range members {
		if !a.Predicate.Matches(rec) {
			continue
		}
		count++
		if a.Func == FuncCount {
			continue
		}

		d, err := memberNumber(rec, a.Field)
		if err != nil {
			return numeric.Zero, fmt.Errorf("%s over %q: %w", a.Func, scope, err)
		}
		sum = sum.Add(d)
		if count == 1 {
			lo, hi = d, d
		} else {
			lo = numeric.Min(lo, d)
			hi = numeric.Max(hi, d)
		}
	}

	switch a.Func {
	case FuncCount:
		return numeric.NewFromInt(count), nil
	case FuncSum:
		return sum, nil
	case FuncAvg:
		if count == 0 {
			return numeric.Zero, nil
		}
		return sum.Div(numeric.NewFromInt(count), precision)
	case FuncMin:
		return lo, nil
	case FuncMax:
		return hi, nil
	default:
		return numeric.Zero, fmt.Errorf("unknown aggregate function %q", a.Func)
	}
}

func memberNumber(rec core.Record, field core.FieldKey) (numeric.Decimal, error) {
	v := rec.Get(field)
	switch v.Kind() {
	case core.KindNull:
		return numeric.Zero, nil
	case core.KindNumber:
		d, _ := v.AsNumber()
		return d, nil
	default:
		return numeric.Zero, fmt.Errorf("%w: member field %q is %s", ErrNotNumeric, field, v.Kind())
	}
}
