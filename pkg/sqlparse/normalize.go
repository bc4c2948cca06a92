package sqlparse

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/leapstack-labs/wardsql/pkg/token"
)

var bareIdentRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Normalize renders SQL with canonical whitespace: keywords uppercased,
// comments stripped, one space between tokens, no space around '.' or
// inside parentheses. Identifiers and literals are preserved verbatim.
// A trailing semicolon is dropped. No semantic rewriting happens here.
func Normalize(sql string) (string, error) {
	l := NewLexer(sql)

	var b strings.Builder
	var prev token.Token
	first := true

	for {
		tok := l.NextToken()
		if tok.Type == token.EOF {
			break
		}
		if tok.Type == token.ILLEGAL {
			return "", fmt.Errorf("normalize: illegal character %q at line %d, column %d",
				tok.Literal, tok.Pos.Line, tok.Pos.Column)
		}
		if tok.Type == token.SEMICOLON {
			continue
		}

		if !first && needSpace(prev, tok) {
			b.WriteByte(' ')
		}
		b.WriteString(renderToken(tok))
		prev = tok
		first = false
	}

	return b.String(), nil
}

// needSpace decides whether a space separates prev and cur in the
// canonical rendering.
func needSpace(prev, cur token.Token) bool {
	switch cur.Type {
	case token.COMMA, token.RPAREN, token.DOT:
		return false
	case token.LPAREN:
		// Function calls hug their name: count(x), not count (x).
		return prev.Type != token.IDENT && prev.Type != token.LPAREN
	}
	switch prev.Type {
	case token.LPAREN, token.DOT:
		return false
	}
	return true
}

// renderToken returns the canonical text of a token.
func renderToken(tok token.Token) string {
	switch tok.Type {
	case token.STRING:
		return "'" + strings.ReplaceAll(tok.Literal, "'", "''") + "'"
	case token.IDENT:
		// Requote identifiers that would not survive a round trip.
		if !bareIdentRe.MatchString(tok.Literal) || token.LookupIdent(strings.ToLower(tok.Literal)) != token.IDENT {
			return `"` + strings.ReplaceAll(tok.Literal, `"`, `""`) + `"`
		}
		return tok.Literal
	default:
		if token.IsKeyword(tok.Type) {
			return strings.ToUpper(tok.Literal)
		}
		return tok.Literal
	}
}
