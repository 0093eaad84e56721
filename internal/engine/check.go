package engine

// check.go - Static diagnostics of a field schema

import (
	"errors"
	"fmt"
	"slices"

	"github.com/leapstack-labs/leapcalc/pkg/core"
	"github.com/leapstack-labs/leapcalc/pkg/formula"
)

// ProblemKind classifies a schema problem.
type ProblemKind string

const (
	ProblemParse      ProblemKind = "parse"
	ProblemCycle      ProblemKind = "cycle"
	ProblemUnresolved ProblemKind = "unresolved"
	ProblemScope      ProblemKind = "scope"
)

// Problem is one issue found in a schema before any value is computed.
type Problem struct {
	Kind    ProblemKind   `json:"kind"`
	Field   core.FieldKey `json:"field"`
	Message string        `json:"message"`
	// Column is the 1-based position of a parse error, 0 otherwise.
	Column int `json:"column,omitempty"`
}

func (p Problem) String() string {
	return fmt.Sprintf("%s: %s", p.Field, p.Message)
}

// Check reports formulas that do not parse, references to fields the schema does
// not define, circular dependencies, and aggregations over scopes outside
// knownScopes. A nil knownScopes skips the scope check.
func Check(schema *core.FieldSchema, knownScopes []string) []Problem {
	plan := NewPlan(schema)
	var problems []Problem

	for _, node := range plan.Graph.Nodes() {
		if node.Role != core.RoleComputed {
			continue
		}

		if _, err := formula.Parse(node.Formula); err != nil {
			p := Problem{Kind: ProblemParse, Field: node.Key, Message: err.Error()}
			var perr *formula.ParseError
			if errors.As(err, &perr) {
				p.Column = perr.Pos.Column
			}
			problems = append(problems, p)
		}

		for _, ident := range formula.Scan(node.Formula).Identifiers {
			if !schema.Has(core.FieldKey(ident)) {
				problems = append(problems, Problem{
					Kind:    ProblemUnresolved,
					Field:   node.Key,
					Message: fmt.Sprintf("unknown field %q", ident),
				})
			}
		}

		if knownScopes != nil {
			for _, scope := range node.Scopes {
				if !slices.Contains(knownScopes, scope) {
					problems = append(problems, Problem{
						Kind:    ProblemScope,
						Field:   node.Key,
						Message: fmt.Sprintf("collection %q is never supplied", scope),
					})
				}
			}
		}
	}

	for _, cycle := range plan.Order.Cycles {
		problems = append(problems, Problem{
			Kind:    ProblemCycle,
			Field:   cycle[0],
			Message: "circular dependency: " + core.FormatCycle(cycle),
		})
	}
	return problems
}

// RunnerScopes are the collections a Runner supplies to every computation.
func RunnerScopes() []string {
	return []string{ScopeChildren, ScopeSiblings}
}
