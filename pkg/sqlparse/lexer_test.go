package sqlparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/wardsql/pkg/token"
)

func TestLexerBasicTokens(t *testing.T) {
	input := `SELECT dept_code, COUNT(*) FROM ovst WHERE vstdate >= '2024-01-01'`

	expected := []struct {
		typ token.Type
		lit string
	}{
		{token.SELECT, "SELECT"},
		{token.IDENT, "dept_code"},
		{token.COMMA, ","},
		{token.IDENT, "COUNT"},
		{token.LPAREN, "("},
		{token.STAR, "*"},
		{token.RPAREN, ")"},
		{token.FROM, "FROM"},
		{token.IDENT, "ovst"},
		{token.WHERE, "WHERE"},
		{token.IDENT, "vstdate"},
		{token.GE, ">="},
		{token.STRING, "2024-01-01"},
		{token.EOF, ""},
	}

	l := NewLexer(input)
	for i, exp := range expected {
		tok := l.NextToken()
		assert.Equal(t, exp.typ, tok.Type, "token %d type", i)
		assert.Equal(t, exp.lit, tok.Literal, "token %d literal", i)
	}
}

func TestLexerOperators(t *testing.T) {
	tests := []struct {
		input string
		typ   token.Type
	}{
		{"<=", token.LE},
		{">=", token.GE},
		{"<>", token.NE},
		{"!=", token.NE},
		{"||", token.DPIPE},
		{"<", token.LT},
		{">", token.GT},
		{"=", token.EQ},
		{";", token.SEMICOLON},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			l := NewLexer(tt.input)
			tok := l.NextToken()
			assert.Equal(t, tt.typ, tok.Type)
		})
	}
}

func TestLexerStringEscapes(t *testing.T) {
	l := NewLexer(`'it''s'`)
	tok := l.NextToken()
	require.Equal(t, token.STRING, tok.Type)
	assert.Equal(t, "it's", tok.Literal)
}

func TestLexerQuotedIdentifier(t *testing.T) {
	l := NewLexer(`"Select"`)
	tok := l.NextToken()
	require.Equal(t, token.IDENT, tok.Type)
	assert.Equal(t, "Select", tok.Literal)
}

func TestLexerKeywordsInsideStringsStayStrings(t *testing.T) {
	// Words like DELETE inside a string literal must not become keywords.
	tokens := Tokenize(`SELECT note FROM t WHERE note = 'please delete this'`)

	for _, tok := range tokens {
		if tok.Type == token.STRING {
			assert.Equal(t, "please delete this", tok.Literal)
		}
	}
}

func TestLexerSkipsComments(t *testing.T) {
	input := `SELECT a -- trailing comment
	/* block
	   comment */ FROM t`

	tokens := Tokenize(input)
	var types []token.Type
	for _, tok := range tokens {
		types = append(types, tok.Type)
	}
	assert.Equal(t, []token.Type{token.SELECT, token.IDENT, token.FROM, token.IDENT, token.EOF}, types)
}

func TestLexerNumbers(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"42", "42"},
		{"3.14", "3.14"},
		{"1e10", "1e10"},
		{"2.5E-3", "2.5E-3"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			l := NewLexer(tt.input)
			tok := l.NextToken()
			require.Equal(t, token.NUMBER, tok.Type)
			assert.Equal(t, tt.want, tok.Literal)
		})
	}
}

func TestLexerPositions(t *testing.T) {
	l := NewLexer("SELECT\n  a")
	sel := l.NextToken()
	assert.Equal(t, 1, sel.Pos.Line)
	a := l.NextToken()
	assert.Equal(t, 2, a.Pos.Line)
	assert.Equal(t, 3, a.Pos.Column)
}
