// Package formula parses and evaluates the formula language of computed fields.
//
// # Grammar
//
//	formula    → expr EOF
//	expr       → term (("+" | "-") term)*
//	term       → unary (("*" | "/") unary)*
//	unary      → ("-" | "+") unary | primary
//	primary    → NUMBER | IDENT | literal | "(" expr ")" | aggregate
//	aggregate  → FUNC "(" target ["WHERE" predicate] ")"
//	target     → "*" | IDENT ["." IDENT]
//	predicate  → clause ("AND" clause)*
//	clause     → field [("==" | "=" | "!=") literal]
//	literal    → ["-"] NUMBER | STRING | true | false | null
//
// FUNC is one of SUM, AVG, MIN, MAX, COUNT. Keywords are upper case; true,
// false and null may be written in either case.
//
// All arithmetic is decimal. Division by zero is an error, never infinity.
package formula

import (
	"fmt"

	"github.com/leapstack-labs/leapcalc/pkg/core"
	"github.com/leapstack-labs/leapcalc/pkg/numeric"
	"github.com/leapstack-labs/leapcalc/pkg/token"
)

// Operator precedence, lowest first.
const (
	precedenceNone = iota
	precedenceAddition
	precedenceMultiply
	precedenceUnary
)

// Program is a compiled formula. It is immutable and safe for concurrent use.
type Program struct {
	Text string
	Root Expr

	identifiers []string
	aggregates  []*Aggregate
}

// Identifiers returns the entity fields referenced outside aggregation calls,
// in order of first appearance.
func (p *Program) Identifiers() []string {
	out := make([]string, len(p.identifiers))
	copy(out, p.identifiers)
	return out
}

// Aggregates returns the aggregation requests of the formula in source order.
func (p *Program) Aggregates() []*Aggregate {
	out := make([]*Aggregate, len(p.aggregates))
	copy(out, p.aggregates)
	return out
}

// HasAggregates reports whether the formula aggregates over a collection.
func (p *Program) HasAggregates() bool {
	return len(p.aggregates) > 0
}

// Parser parses formula text into an expression tree.
type Parser struct {
	lexer *Lexer
	token token.Token // current token
	peek  token.Token // lookahead token
	err   error
}

// NewParser creates a new parser for the given formula text.
func NewParser(text string) *Parser {
	p := &Parser{lexer: NewLexer(text)}
	// Read two tokens to initialize current and peek
	p.nextToken()
	p.nextToken()
	return p
}

// Parse parses formula text into a Program.
func Parse(text string) (*Program, error) {
	p := NewParser(text)
	root := p.parseExpression()
	if p.err == nil && !p.check(token.EOF) {
		p.errorf(p.token.Pos, errUnexpectedToken, describe(p.token), "operator or end of formula")
	}
	if p.err != nil {
		return nil, p.err
	}

	prog := &Program{Text: text, Root: root}
	seen := make(map[string]bool)
	walk(root, func(e Expr) {
		switch n := e.(type) {
		case *Ident:
			if !seen[n.Name] {
				seen[n.Name] = true
				prog.identifiers = append(prog.identifiers, n.Name)
			}
		case *AggregateCall:
			prog.aggregates = append(prog.aggregates, n.Aggregate)
		}
	})
	return prog, nil
}

// walk visits e and its children depth-first, left to right.
func walk(e Expr, fn func(Expr)) {
	if e == nil {
		return
	}
	fn(e)
	switch n := e.(type) {
	case *UnaryExpr:
		walk(n.Expr, fn)
	case *BinaryExpr:
		walk(n.Left, fn)
		walk(n.Right, fn)
	case *ParenExpr:
		walk(n.Expr, fn)
	}
}

// ---------- Token Helpers ----------

func (p *Parser) nextToken() {
	p.token = p.peek
	p.peek = p.lexer.NextToken()
}

func (p *Parser) check(t token.TokenType) bool {
	return p.token.Type == t
}

// expect consumes the current token if it matches, otherwise records an error.
func (p *Parser) expect(t token.TokenType, what string) bool {
	if p.check(t) {
		p.nextToken()
		return true
	}
	p.errorf(p.token.Pos, errUnexpectedToken, describe(p.token), what)
	return false
}

// errorf records the first error only; later errors are consequences of it.
func (p *Parser) errorf(pos token.Position, format string, args ...any) {
	if p.err != nil {
		return
	}
	p.err = &ParseError{Pos: pos, Message: fmt.Sprintf(format, args...)}
}

func describe(tok token.Token) string {
	switch tok.Type {
	case token.EOF:
		return "end of formula"
	case token.ILLEGAL:
		return fmt.Sprintf("character %q", tok.Literal)
	default:
		return fmt.Sprintf("%q", tok.Literal)
	}
}

// ---------- Expressions ----------

func (p *Parser) parseExpression() Expr {
	return p.parseExpressionWithPrecedence(precedenceNone + 1)
}

// parseExpressionWithPrecedence implements Pratt parsing.
func (p *Parser) parseExpressionWithPrecedence(minPrecedence int) Expr {
	left := p.parsePrefixExpr()
	if left == nil {
		return nil
	}

	for {
		prec := infixPrecedence(p.token.Type)
		if prec < minPrecedence {
			break
		}
		op := p.token.Type
		p.nextToken()
		// Left associative: the right operand binds tighter.
		right := p.parseExpressionWithPrecedence(prec + 1)
		if right == nil {
			return nil
		}
		left = &BinaryExpr{Left: left, Op: op, Right: right}
	}

	return left
}

func infixPrecedence(t token.TokenType) int {
	switch t {
	case token.PLUS, token.MINUS:
		return precedenceAddition
	case token.STAR, token.SLASH:
		return precedenceMultiply
	default:
		return precedenceNone
	}
}

func (p *Parser) parsePrefixExpr() Expr {
	switch p.token.Type {
	case token.MINUS, token.PLUS:
		tok := p.token
		p.nextToken()
		expr := p.parseExpressionWithPrecedence(precedenceUnary)
		if expr == nil {
			return nil
		}
		return &UnaryExpr{At: tok.Pos, Op: tok.Type, Expr: expr}
	default:
		return p.parsePrimary()
	}
}

func (p *Parser) parsePrimary() Expr {
	tok := p.token

	switch tok.Type {
	case token.NUMBER:
		d, err := numeric.Parse(tok.Literal)
		if err != nil {
			p.errorf(tok.Pos, errInvalidNumber, tok.Literal)
			return nil
		}
		p.nextToken()
		return &NumberLit{At: tok.Pos, Value: d}

	case token.IDENT:
		p.nextToken()
		return &Ident{At: tok.Pos, Name: tok.Literal}

	case token.TRUE, token.FALSE, token.NULL, token.STRING:
		p.nextToken()
		return &LiteralExpr{At: tok.Pos, Value: literalValue(tok)}

	case token.LPAREN:
		p.nextToken()
		inner := p.parseExpression()
		if inner == nil || !p.expect(token.RPAREN, `")"`) {
			return nil
		}
		return &ParenExpr{At: tok.Pos, Expr: inner}

	case token.SUM, token.AVG, token.MIN, token.MAX, token.COUNT:
		return p.parseAggregate()

	case token.ILLEGAL:
		p.illegal(tok)
		return nil

	default:
		p.errorf(tok.Pos, errUnexpectedToken, describe(tok), "expression")
		return nil
	}
}

func (p *Parser) illegal(tok token.Token) {
	if len(tok.Literal) > 1 && (tok.Literal[0] == '"' || tok.Literal[0] == '\'') {
		p.errorf(tok.Pos, errUnterminatedString)
		return
	}
	p.errorf(tok.Pos, errIllegalCharacter, tok.Literal)
}

func literalValue(tok token.Token) core.Value {
	switch tok.Type {
	case token.TRUE:
		return core.Bool(true)
	case token.FALSE:
		return core.Bool(false)
	case token.STRING:
		return core.String(tok.Literal)
	default:
		return core.Null()
	}
}

// ---------- Aggregations ----------

// parseAggregate parses FUNC "(" target ["WHERE" predicate] ")".
func (p *Parser) parseAggregate() Expr {
	start := p.token
	agg := &Aggregate{Func: Func(start.Literal)}
	p.nextToken()

	if !p.expect(token.LPAREN, `"(" after `+start.Literal) {
		return nil
	}

	switch {
	case agg.Func == FuncCount && p.check(token.STAR):
		agg.Scope = DefaultScope
		agg.implicitScope = true
		p.nextToken()
	case p.check(token.IDENT):
		first := p.token.Literal
		p.nextToken()
		if p.check(token.DOT) {
			p.nextToken()
			if !p.check(token.IDENT) {
				p.errorf(p.token.Pos, errUnexpectedToken, describe(p.token), "field name after "+first+".")
				return nil
			}
			agg.Scope = first
			agg.Field = core.FieldKey(p.token.Literal)
			p.nextToken()
		} else {
			agg.Scope = DefaultScope
			agg.Field = core.FieldKey(first)
			agg.implicitScope = true
		}
	default:
		p.errorf(p.token.Pos, errUnexpectedToken, describe(p.token), "field to aggregate")
		return nil
	}

	if p.check(token.WHERE) {
		p.nextToken()
		agg.Predicate = p.parsePredicate(agg)
		if agg.Predicate == nil {
			return nil
		}
	}

	if !p.expect(token.RPAREN, `")" to close `+start.Literal) {
		return nil
	}
	return &AggregateCall{At: start.Pos, Aggregate: agg}
}

func (p *Parser) parsePredicate(agg *Aggregate) Predicate {
	var pred Predicate
	for {
		clause, ok := p.parseClause(agg)
		if !ok {
			return nil
		}
		pred = append(pred, clause)
		if !p.check(token.AND) {
			return pred
		}
		p.nextToken()
	}
}

// parseClause parses field [("==" | "!=") literal]. A field may be qualified
// with the aggregated scope.
func (p *Parser) parseClause(agg *Aggregate) (Clause, bool) {
	if !p.check(token.IDENT) {
		p.errorf(p.token.Pos, errUnexpectedToken, describe(p.token), "predicate field")
		return Clause{}, false
	}
	field := p.token
	p.nextToken()

	if p.check(token.DOT) {
		p.nextToken()
		if !p.check(token.IDENT) {
			p.errorf(p.token.Pos, errUnexpectedToken, describe(p.token), "field name after "+field.Literal+".")
			return Clause{}, false
		}
		if field.Literal != agg.Scope {
			p.errorf(field.Pos, "predicate field %s.%s is not in scope %q", field.Literal, p.token.Literal, agg.Scope)
			return Clause{}, false
		}
		field = p.token
		p.nextToken()
	}

	clause := Clause{Field: core.FieldKey(field.Literal), Op: OpTruthy}
	switch p.token.Type {
	case token.EQ:
		clause.Op = OpEq
	case token.NE:
		clause.Op = OpNe
	default:
		return clause, true
	}
	p.nextToken()

	v, ok := p.parseLiteral()
	if !ok {
		return Clause{}, false
	}
	clause.Value = v
	return clause, true
}

func (p *Parser) parseLiteral() (core.Value, bool) {
	tok := p.token
	switch tok.Type {
	case token.TRUE, token.FALSE, token.NULL, token.STRING:
		p.nextToken()
		return literalValue(tok), true
	case token.NUMBER, token.MINUS:
		neg := false
		if tok.Type == token.MINUS {
			neg = true
			p.nextToken()
			if !p.check(token.NUMBER) {
				p.errorf(p.token.Pos, errUnexpectedToken, describe(p.token), "number")
				return core.Value{}, false
			}
		}
		d, err := numeric.Parse(p.token.Literal)
		if err != nil {
			p.errorf(p.token.Pos, errInvalidNumber, p.token.Literal)
			return core.Value{}, false
		}
		p.nextToken()
		if neg {
			d = d.Neg()
		}
		return core.Number(d), true
	case token.ILLEGAL:
		p.illegal(tok)
		return core.Value{}, false
	default:
		p.errorf(tok.Pos, errUnexpectedToken, describe(tok), "literal")
		return core.Value{}, false
	}
}
