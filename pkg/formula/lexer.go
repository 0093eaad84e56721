package formula

import (
	"github.com/leapstack-labs/leapcalc/pkg/token"
)

// Lexer tokenizes formula text. It never fails: characters it does not
// understand become ILLEGAL tokens and the parser decides what to do with them.
type Lexer struct {
	input   string
	pos     int  // current position in input
	readPos int  // reading position (after current char)
	ch      byte // current char under examination
	col     int  // current column number (1-based)
}

// NewLexer creates a new Lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{input: input}
	l.readChar()
	return l
}

// readChar advances to the next character.
func (l *Lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.ch = 0
	} else {
		l.ch = l.input[l.readPos]
	}
	l.pos = l.readPos
	l.readPos++
	l.col++
}

// peekChar returns the next character without advancing.
func (l *Lexer) peekChar() byte {
	if l.readPos >= len(l.input) {
		return 0
	}
	return l.input[l.readPos]
}

// atEOF reports whether the whole input has been consumed. A NUL byte inside
// the input is not the end.
func (l *Lexer) atEOF() bool {
	return l.pos >= len(l.input)
}

func (l *Lexer) currentPos() token.Position {
	return token.Position{Column: l.col, Offset: l.pos}
}

// NextToken returns the next token. After the end of input it keeps returning EOF.
func (l *Lexer) NextToken() token.Token {
	l.skipWhitespace()

	pos := l.currentPos()
	tok := token.Token{Pos: pos}
	if l.atEOF() {
		tok.Type = token.EOF
		return tok
	}

	switch l.ch {
	case '+':
		tok.Type, tok.Literal = token.PLUS, "+"
	case '-':
		tok.Type, tok.Literal = token.MINUS, "-"
	case '*':
		tok.Type, tok.Literal = token.STAR, "*"
	case '/':
		tok.Type, tok.Literal = token.SLASH, "/"
	case '(':
		tok.Type, tok.Literal = token.LPAREN, "("
	case ')':
		tok.Type, tok.Literal = token.RPAREN, ")"
	case '=':
		if l.peekChar() == '=' {
			l.readChar()
			tok.Type, tok.Literal = token.EQ, "=="
		} else {
			tok.Type, tok.Literal = token.EQ, "="
		}
	case '!':
		if l.peekChar() == '=' {
			l.readChar()
			tok.Type, tok.Literal = token.NE, "!="
		} else {
			tok.Type, tok.Literal = token.ILLEGAL, "!"
		}
	case '.':
		if isDigit(l.peekChar()) {
			return l.readNumber(pos)
		}
		tok.Type, tok.Literal = token.DOT, "."
	case '\'', '"':
		return l.readString(pos)
	default:
		switch {
		case isLetter(l.ch):
			ident := l.readIdentifier()
			return token.Token{Type: token.LookupIdent(ident), Literal: ident, Pos: pos}
		case isDigit(l.ch):
			return l.readNumber(pos)
		default:
			tok.Type, tok.Literal = token.ILLEGAL, string(l.ch)
		}
	}

	l.readChar()
	return tok
}

func (l *Lexer) skipWhitespace() {
	for l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' {
		l.readChar()
	}
}

func (l *Lexer) readIdentifier() string {
	start := l.pos
	for isLetter(l.ch) || isDigit(l.ch) {
		l.readChar()
	}
	return l.input[start:l.pos]
}

// readNumber reads digits with at most one decimal point. A second point ends the literal.
func (l *Lexer) readNumber(pos token.Position) token.Token {
	start := l.pos
	seenDot := false
	for isDigit(l.ch) || (l.ch == '.' && !seenDot) {
		if l.ch == '.' {
			seenDot = true
		}
		l.readChar()
	}
	return token.Token{Type: token.NUMBER, Literal: l.input[start:l.pos], Pos: pos}
}

// readString reads a single- or double-quoted literal. The literal excludes the quotes.
// An unterminated string yields an ILLEGAL token carrying the rest of the input.
func (l *Lexer) readString(pos token.Position) token.Token {
	quote := l.ch
	l.readChar()
	start := l.pos
	for l.ch != quote {
		if l.atEOF() {
			return token.Token{Type: token.ILLEGAL, Literal: string(quote) + l.input[start:], Pos: pos}
		}
		l.readChar()
	}
	lit := l.input[start:l.pos]
	l.readChar() // closing quote
	return token.Token{Type: token.STRING, Literal: lit, Pos: pos}
}

func isLetter(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch == '_'
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

// Tokenize returns all tokens of input up to and excluding EOF.
func Tokenize(input string) []token.Token {
	l := NewLexer(input)
	var toks []token.Token
	for {
		tok := l.NextToken()
		if tok.Type == token.EOF {
			return toks
		}
		toks = append(toks, tok)
	}
}
