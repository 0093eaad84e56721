// Package token defines the token types of the formula language.
//
// The language is deliberately small: arithmetic over decimals, field references,
// and aggregation calls of the form FUNC(scope.field WHERE predicate).
package token

import "fmt"

// TokenType represents the type of a lexical token.
//
//nolint:revive // Accept stutter as token.TokenType is clear and widely used
type TokenType int32

const (
	// Special tokens
	EOF TokenType = iota
	ILLEGAL

	// Literals
	IDENT  // quantity, unit_price
	NUMBER // 12, 0.15, .5
	STRING // 'active', "active"

	// Operators
	PLUS   // +
	MINUS  // -
	STAR   // *
	SLASH  // /
	EQ     // == or =
	NE     // !=
	DOT    // .
	LPAREN // (
	RPAREN // )

	// Aggregation functions
	SUM
	AVG
	MIN
	MAX
	COUNT

	// Keywords
	WHERE
	AND
	TRUE
	FALSE
	NULL
)

// String returns a human-readable representation of the token type.
func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("TOKEN(%d)", t)
}

// IsAggregate reports whether t names an aggregation function.
func (t TokenType) IsAggregate() bool {
	return t >= SUM && t <= COUNT
}

// IsLiteral reports whether t is a literal keyword (true, false, null).
func (t TokenType) IsLiteral() bool {
	return t == TRUE || t == FALSE || t == NULL
}

var tokenNames = map[TokenType]string{
	EOF:     "EOF",
	ILLEGAL: "ILLEGAL",

	IDENT:  "IDENT",
	NUMBER: "NUMBER",
	STRING: "STRING",

	PLUS:   "+",
	MINUS:  "-",
	STAR:   "*",
	SLASH:  "/",
	EQ:     "==",
	NE:     "!=",
	DOT:    ".",
	LPAREN: "(",
	RPAREN: ")",

	SUM:   "SUM",
	AVG:   "AVG",
	MIN:   "MIN",
	MAX:   "MAX",
	COUNT: "COUNT",

	WHERE: "WHERE",
	AND:   "AND",
	TRUE:  "true",
	FALSE: "false",
	NULL:  "null",
}

// keywords maps reserved words to their token types. Function names and clause
// keywords are upper case only, so a field may be called "count" or "total".
var keywords = map[string]TokenType{
	"SUM":   SUM,
	"AVG":   AVG,
	"MIN":   MIN,
	"MAX":   MAX,
	"COUNT": COUNT,
	"WHERE": WHERE,
	"AND":   AND,
	"true":  TRUE,
	"TRUE":  TRUE,
	"false": FALSE,
	"FALSE": FALSE,
	"null":  NULL,
	"NULL":  NULL,
}

// LookupIdent returns the keyword token type for ident, or IDENT if it is not reserved.
func LookupIdent(ident string) TokenType {
	if tok, ok := keywords[ident]; ok {
		return tok
	}
	return IDENT
}

// IsReserved reports whether s is a reserved word and therefore unusable as a field key.
func IsReserved(s string) bool {
	_, ok := keywords[s]
	return ok
}

// Token is a lexical token with its literal text and position.
type Token struct {
	Type    TokenType
	Literal string
	Pos     Position
}

func (t Token) String() string {
	if t.Literal == "" {
		return t.Type.String()
	}
	return fmt.Sprintf("%s(%q)", t.Type, t.Literal)
}
