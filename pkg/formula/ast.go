package formula

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/leapcalc/pkg/core"
	"github.com/leapstack-labs/leapcalc/pkg/numeric"
	"github.com/leapstack-labs/leapcalc/pkg/token"
)

// Expr is a node of a parsed formula.
type Expr interface {
	Pos() token.Position
	String() string
	exprNode()
}

// NumberLit is a decimal literal such as 1 or 0.15.
type NumberLit struct {
	At    token.Position
	Value numeric.Decimal
}

// LiteralExpr is a non-numeric literal (true, false, null or a quoted string).
// It parses anywhere a number can, and fails at evaluation time.
type LiteralExpr struct {
	At    token.Position
	Value core.Value
}

// Ident references another field of the same entity.
type Ident struct {
	At   token.Position
	Name string
}

// UnaryExpr is a sign applied to an operand.
type UnaryExpr struct {
	At   token.Position
	Op   token.TokenType // MINUS or PLUS
	Expr Expr
}

// BinaryExpr is an arithmetic operation.
type BinaryExpr struct {
	Left  Expr
	Op    token.TokenType // PLUS, MINUS, STAR or SLASH
	Right Expr
}

// ParenExpr keeps explicit grouping for printing.
type ParenExpr struct {
	At   token.Position
	Expr Expr
}

// AggregateCall is an aggregation over a collection scope.
type AggregateCall struct {
	At        token.Position
	Aggregate *Aggregate
}

func (e *NumberLit) Pos() token.Position     { return e.At }
func (e *LiteralExpr) Pos() token.Position   { return e.At }
func (e *Ident) Pos() token.Position         { return e.At }
func (e *UnaryExpr) Pos() token.Position     { return e.At }
func (e *BinaryExpr) Pos() token.Position    { return e.Left.Pos() }
func (e *ParenExpr) Pos() token.Position     { return e.At }
func (e *AggregateCall) Pos() token.Position { return e.At }

func (*NumberLit) exprNode()     {}
func (*LiteralExpr) exprNode()   {}
func (*Ident) exprNode()         {}
func (*UnaryExpr) exprNode()     {}
func (*BinaryExpr) exprNode()    {}
func (*ParenExpr) exprNode()     {}
func (*AggregateCall) exprNode() {}

func (e *NumberLit) String() string   { return e.Value.String() }
func (e *LiteralExpr) String() string { return e.Value.String() }
func (e *Ident) String() string       { return e.Name }
func (e *UnaryExpr) String() string {
	return e.Op.String() + e.Expr.String()
}
func (e *BinaryExpr) String() string {
	return fmt.Sprintf("%s %s %s", e.Left, e.Op, e.Right)
}
func (e *ParenExpr) String() string     { return "(" + e.Expr.String() + ")" }
func (e *AggregateCall) String() string { return e.Aggregate.String() }

// Func is an aggregation function.
type Func string

// Aggregation functions.
const (
	FuncSum   Func = "SUM"
	FuncAvg   Func = "AVG"
	FuncMin   Func = "MIN"
	FuncMax   Func = "MAX"
	FuncCount Func = "COUNT"
)

// DefaultScope is the collection aggregated when a call names no scope.
const DefaultScope = "children"

// Aggregate is one aggregation request extracted from a formula:
// FUNC(scope.field WHERE predicate).
type Aggregate struct {
	Func  Func
	Scope string
	// Field is the member field to aggregate. Empty for COUNT(*).
	Field     core.FieldKey
	Predicate Predicate
	// implicitScope is set when the call named no scope, so COUNT(x) may
	// still resolve x as a scope name.
	implicitScope bool
}

func (a *Aggregate) String() string {
	var sb strings.Builder
	sb.WriteString(string(a.Func))
	sb.WriteByte('(')
	switch {
	case a.Field == "" && a.implicitScope:
		sb.WriteByte('*')
	case a.Field == "":
		sb.WriteString(a.Scope)
	case a.implicitScope:
		sb.WriteString(string(a.Field))
	default:
		sb.WriteString(a.Scope)
		sb.WriteByte('.')
		sb.WriteString(string(a.Field))
	}
	if len(a.Predicate) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(a.Predicate.String())
	}
	sb.WriteByte(')')
	return sb.String()
}

// ClauseOp is the comparison of one predicate clause.
type ClauseOp int

const (
	// OpTruthy tests a bare field: true, non-zero or non-empty.
	OpTruthy ClauseOp = iota
	// OpEq tests equality with a literal.
	OpEq
	// OpNe tests inequality with a literal.
	OpNe
)

// Clause is a single predicate test on a member field.
type Clause struct {
	Field core.FieldKey
	Op    ClauseOp
	Value core.Value
}

func (c Clause) String() string {
	switch c.Op {
	case OpEq:
		return fmt.Sprintf("%s == %s", c.Field, c.Value)
	case OpNe:
		return fmt.Sprintf("%s != %s", c.Field, c.Value)
	default:
		return string(c.Field)
	}
}

// Predicate is a conjunction of clauses. The empty predicate matches every member.
type Predicate []Clause

func (p Predicate) String() string {
	parts := make([]string, len(p))
	for i, c := range p {
		parts[i] = c.String()
	}
	return strings.Join(parts, " AND ")
}
