package engine

// compute.go - Full and incremental computation of one entity

import (
	"errors"
	"fmt"

	"github.com/leapstack-labs/leapcalc/pkg/core"
	"github.com/leapstack-labs/leapcalc/pkg/formula"
	"github.com/leapstack-labs/leapcalc/pkg/numeric"
)

// Evaluator evaluates one formula against already computed values and the
// caller's collections. *formula.Evaluator is the default implementation.
type Evaluator interface {
	Evaluate(text string, values core.EntityValues, collections core.Collections) (numeric.Decimal, error)
}

// Compute runs a full computation of one entity. It builds a fresh plan and
// evaluator on every call and shares nothing between calls.
func Compute(schema *core.FieldSchema, values core.EntityValues, collections core.Collections) core.ComputationResult {
	return NewPlan(schema).compute(formula.NewEvaluator(), values, collections, nil)
}

// ComputeIncremental recomputes only the fields affected by changed.
// It yields the same values as Compute on the same final state. An empty
// changed set is a full computation.
func ComputeIncremental(schema *core.FieldSchema, values core.EntityValues, changed []core.FieldKey, collections core.Collections) core.ComputationResult {
	return NewPlan(schema).computeIncremental(formula.NewEvaluator(), values, changed, collections)
}

func (p *Plan) computeIncremental(ev Evaluator, values core.EntityValues, changed []core.FieldKey, collections core.Collections) core.ComputationResult {
	if len(changed) == 0 {
		return p.compute(ev, values, collections, nil)
	}
	affected := make(map[core.FieldKey]bool)
	for _, k := range p.Affected(changed, values, collections != nil) {
		affected[k] = true
	}
	return p.compute(ev, values, collections, affected)
}

// compute evaluates the computed fields of the plan. A nil affected set means
// every computed field; otherwise unaffected computed fields keep their value
// from values.
func (p *Plan) compute(ev Evaluator, values core.EntityValues, collections core.Collections, affected map[core.FieldKey]bool) core.ComputationResult {
	result := core.ComputationResult{
		Values: make(core.EntityValues, p.Schema.Len()),
	}

	// Inputs are seeded in every case; missing inputs are zero.
	for _, f := range p.Schema.Fields() {
		if f.IsComputed() {
			continue
		}
		result.Values[f.Key] = values.Get(f.Key)
	}

	if len(p.Order.Cycles) > 0 {
		for _, f := range p.Schema.Fields() {
			if f.IsComputed() {
				result.Values[f.Key] = numeric.Zero
			}
		}
		for _, cycle := range p.Order.Cycles {
			result.Cycles = append(result.Cycles, cycle)
			result.Errors = append(result.Errors, core.FieldError{
				Kind:         core.ErrorKindCycle,
				Field:        cycle[0],
				Message:      "circular dependency: " + core.FormatCycle(cycle),
				Dependencies: cycle,
			})
		}
		return result
	}

	if affected != nil {
		for _, f := range p.Schema.Fields() {
			if f.IsComputed() && !affected[f.Key] {
				result.Values[f.Key] = values.Get(f.Key)
			}
		}
	}

	for _, key := range p.Order.Order {
		node, _ := p.Graph.Node(key)
		if node.Role != core.RoleComputed {
			continue
		}
		if affected != nil && !affected[key] {
			continue
		}

		v, err := evaluate(ev, node.Formula, result.Values, collections)
		if err != nil {
			result.Errors = append(result.Errors, fieldError(key, err))
			v = numeric.Zero
		}
		result.Values[key] = v
		result.Evaluated = append(result.Evaluated, key)
	}

	result.Success = len(result.Errors) == 0
	return result
}

// evaluate calls ev, turning a panic of a custom evaluator into an error for
// this field only.
func evaluate(ev Evaluator, text string, values core.EntityValues, collections core.Collections) (v numeric.Decimal, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = numeric.Zero, fmt.Errorf("evaluator panic: %v", r)
		}
	}()
	return ev.Evaluate(text, values, collections)
}

// fieldError classifies an evaluation failure.
func fieldError(key core.FieldKey, err error) core.FieldError {
	kind := core.ErrorKindEvaluation
	if errors.Is(err, formula.ErrMissingContext) {
		kind = core.ErrorKindMissingContext
	}
	return core.FieldError{
		Kind:    kind,
		Field:   key,
		Message: fmt.Sprintf("cannot evaluate %q: %v", key, err),
	}
}
