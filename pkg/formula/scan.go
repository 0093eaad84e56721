package formula

import (
	"github.com/leapstack-labs/leapcalc/pkg/token"
)

// References is what a formula mentions, found by scanning its tokens.
type References struct {
	// Identifiers are entity field references in order of first appearance.
	// Names inside aggregation calls belong to collection members and are excluded.
	Identifiers []string
	// Scopes are the collections aggregated by the formula, deduplicated.
	Scopes []string
}

// HasAggregates reports whether the formula aggregates over any collection.
func (r References) HasAggregates() bool {
	return len(r.Scopes) > 0
}

// Scan extracts references from formula text without parsing it.
//
// Scanning is permissive: it never fails, skips illegal characters, and works on
// formulas the parser would reject. Keywords and literals are never references.
func Scan(text string) References {
	var refs References
	seenIdent := make(map[string]bool)
	seenScope := make(map[string]bool)

	addScope := func(s string) {
		if !seenScope[s] {
			seenScope[s] = true
			refs.Scopes = append(refs.Scopes, s)
		}
	}

	toks := Tokenize(text)
	for i := 0; i < len(toks); i++ {
		tok := toks[i]

		if tok.Type.IsAggregate() && i+1 < len(toks) && toks[i+1].Type == token.LPAREN {
			// Skip to the matching close paren, noting the scope.
			scope := DefaultScope
			if i+3 < len(toks) && toks[i+2].Type == token.IDENT && toks[i+3].Type == token.DOT {
				scope = toks[i+2].Literal
			}
			addScope(scope)

			depth := 0
			j := i + 1
			for ; j < len(toks); j++ {
				switch toks[j].Type {
				case token.LPAREN:
					depth++
				case token.RPAREN:
					depth--
				}
				if depth == 0 {
					break
				}
			}
			i = j
			continue
		}

		if tok.Type == token.IDENT && !seenIdent[tok.Literal] {
			seenIdent[tok.Literal] = true
			refs.Identifiers = append(refs.Identifiers, tok.Literal)
		}
	}

	return refs
}

// Dependencies returns the entity fields a formula references, in order of first
// appearance. See Scan.
func Dependencies(text string) []string {
	return Scan(text).Identifiers
}
