package formula

import (
	"fmt"
	"sync"

	"github.com/leapstack-labs/leapcalc/pkg/core"
	"github.com/leapstack-labs/leapcalc/pkg/numeric"
	"github.com/leapstack-labs/leapcalc/pkg/token"
)

// Evaluator compiles and evaluates formulas over decimal values.
// Compiled programs are cached by formula text. An Evaluator is safe for concurrent use.
type Evaluator struct {
	precision int32
	programs  sync.Map // string -> compiled
}

type compiled struct {
	prog *Program
	err  error
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithDivisionPrecision sets the number of fractional digits kept by division.
func WithDivisionPrecision(places int32) Option {
	return func(e *Evaluator) {
		if places >= 0 {
			e.precision = places
		}
	}
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(opts ...Option) *Evaluator {
	e := &Evaluator{precision: numeric.DefaultDivisionPrecision}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Precision returns the division precision.
func (e *Evaluator) Precision() int32 {
	return e.precision
}

// Compile parses text, reusing a cached program when the same text was compiled before.
// Parse failures are cached too.
func (e *Evaluator) Compile(text string) (*Program, error) {
	if c, ok := e.programs.Load(text); ok {
		entry := c.(compiled)
		return entry.prog, entry.err
	}
	prog, err := Parse(text)
	c, _ := e.programs.LoadOrStore(text, compiled{prog: prog, err: err})
	entry := c.(compiled)
	return entry.prog, entry.err
}

// Evaluate compiles text and evaluates it against values and collections.
func (e *Evaluator) Evaluate(text string, values core.EntityValues, collections core.Collections) (numeric.Decimal, error) {
	prog, err := e.Compile(text)
	if err != nil {
		return numeric.Zero, err
	}
	return prog.Eval(Env{Values: values, Collections: collections, Precision: e.precision})
}

// Env is the input of one evaluation.
type Env struct {
	Values      core.EntityValues
	Collections core.Collections
	Precision   int32
}

// Eval evaluates the program. The result is always numeric; anything else is an error.
func (p *Program) Eval(env Env) (numeric.Decimal, error) {
	return eval(p.Root, env)
}

func eval(e Expr, env Env) (numeric.Decimal, error) {
	switch n := e.(type) {
	case *NumberLit:
		return n.Value, nil

	case *LiteralExpr:
		return numeric.Zero, fmt.Errorf("%w: literal %s", ErrNotNumeric, n.Value)

	case *Ident:
		d, ok := env.Values[core.FieldKey(n.Name)]
		if !ok {
			return numeric.Zero, fmt.Errorf("%w: %q", ErrUnresolved, n.Name)
		}
		return d, nil

	case *ParenExpr:
		return eval(n.Expr, env)

	case *UnaryExpr:
		d, err := eval(n.Expr, env)
		if err != nil {
			return numeric.Zero, err
		}
		if n.Op == token.MINUS {
			return d.Neg(), nil
		}
		return d, nil

	case *BinaryExpr:
		left, err := eval(n.Left, env)
		if err != nil {
			return numeric.Zero, err
		}
		right, err := eval(n.Right, env)
		if err != nil {
			return numeric.Zero, err
		}
		switch n.Op {
		case token.PLUS:
			return left.Add(right), nil
		case token.MINUS:
			return left.Sub(right), nil
		case token.STAR:
			return left.Mul(right), nil
		case token.SLASH:
			q, err := left.Div(right, env.Precision)
			if err != nil {
				return numeric.Zero, fmt.Errorf("%s: %w", n, err)
			}
			return q, nil
		default:
			return numeric.Zero, fmt.Errorf("unknown operator %s", n.Op)
		}

	case *AggregateCall:
		return n.Aggregate.Apply(env.Collections, env.Precision)

	default:
		return numeric.Zero, fmt.Errorf("unsupported expression %T", e)
	}
}
