package sqlparse

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/wardsql/pkg/token"
)

// Parser parses SQL into an AST.
//
// Grammar overview:
//
//	statement     → [WITH [RECURSIVE] cte_list] select_body
//	                [ORDER BY order_list] [LIMIT expr [OFFSET expr]] [;]
//	select_body   → select_core [(UNION|INTERSECT|EXCEPT) [ALL] select_body]
//	select_core   → SELECT [DISTINCT] select_list [FROM from_clause]
//	                [WHERE expr] [GROUP BY expr_list] [HAVING expr]
//
// Only SELECT statements parse. Anything else is a parse error.
type Parser struct {
	lexer  *Lexer
	token  token.Token // current token
	peek   token.Token // lookahead token
	peek2  token.Token // second lookahead token
	errors []error
}

// NewParser creates a new parser for the given SQL input.
func NewParser(sql string) *Parser {
	p := &Parser{
		lexer: NewLexer(sql),
	}
	// Read three tokens to initialize current, peek, and peek2
	p.nextToken()
	p.nextToken()
	p.nextToken()
	return p
}

// Parse parses the SQL and returns the AST for a single SELECT statement.
// A trailing semicolon is tolerated; a second statement is not.
func Parse(sql string) (*Statement, error) {
	p := NewParser(sql)
	stmt := p.parseStatement()
	p.match(token.SEMICOLON)
	if !p.check(token.EOF) && len(p.errors) == 0 {
		p.addError(fmt.Sprintf(ErrTrailingInput, p.token.Literal))
	}
	if len(p.errors) > 0 {
		return nil, p.errors[0]
	}
	return stmt, nil
}

// ---------- Token Helpers ----------

// nextToken advances to the next token.
func (p *Parser) nextToken() {
	p.token = p.peek
	p.peek = p.peek2
	p.peek2 = p.lexer.NextToken()
}

// check returns true if the current token is of the given type.
func (p *Parser) check(t token.Type) bool {
	return p.token.Type == t
}

// checkPeek returns true if the peek token is of the given type.
func (p *Parser) checkPeek(t token.Type) bool {
	return p.peek.Type == t
}

// checkPeek2 returns true if the peek2 token is of the given type.
func (p *Parser) checkPeek2(t token.Type) bool {
	return p.peek2.Type == t
}

// match consumes the current token if it matches and returns true.
func (p *Parser) match(t token.Type) bool {
	if p.check(t) {
		p.nextToken()
		return true
	}
	return false
}

// expect consumes the current token if it matches, otherwise adds an error.
func (p *Parser) expect(t token.Type) bool {
	if p.check(t) {
		p.nextToken()
		return true
	}
	p.addError(fmt.Sprintf(ErrUnexpectedToken, p.token.Type, t))
	return false
}

// addError adds a parse error at the current token.
func (p *Parser) addError(msg string) {
	p.errors = append(p.errors, &ParseError{
		Pos:     p.token.Pos,
		Message: msg,
	})
}

// ---------- Statement ----------

func (p *Parser) parseStatement() *Statement {
	stmt := &Statement{}

	if p.check(token.WITH) {
		stmt.With = p.parseWithClause()
	}

	if !p.check(token.SELECT) && !p.check(token.LPAREN) {
		p.addError(fmt.Sprintf(ErrNotSelect, p.token.Literal))
		return stmt
	}

	stmt.Body = p.parseSelectBody()

	if p.match(token.ORDER) {
		p.expect(token.BY)
		stmt.OrderBy = p.parseOrderList()
	}
	if p.match(token.LIMIT) {
		stmt.Limit = p.parseExpr()
	}
	if p.match(token.OFFSET) {
		stmt.Offset = p.parseExpr()
	}

	return stmt
}

func (p *Parser) parseWithClause() *WithClause {
	w := &WithClause{}
	p.expect(token.WITH)
	w.Recursive = p.match(token.RECURSIVE)

	for {
		cte := &CTE{}
		cte.Name = p.parseIdent()

		if p.match(token.LPAREN) {
			for {
				cte.Columns = append(cte.Columns, p.parseIdent())
				if !p.match(token.COMMA) {
					break
				}
			}
			p.expect(token.RPAREN)
		}

		p.expect(token.AS)
		p.expect(token.LPAREN)
		cte.Select = p.parseStatement()
		p.expect(token.RPAREN)

		w.CTEs = append(w.CTEs, cte)
		if !p.match(token.COMMA) {
			break
		}
	}
	return w
}

func (p *Parser) parseSelectBody() *SelectBody {
	body := &SelectBody{}

	if p.check(token.LPAREN) && (p.checkPeek(token.SELECT) || p.checkPeek(token.WITH)) {
		// Parenthesized select core inside a compound; flatten it.
		p.nextToken()
		inner := p.parseSelectBody()
		p.expect(token.RPAREN)
		body = inner
	} else {
		body.Left = p.parseSelectCore()
	}

	switch p.token.Type {
	case token.UNION, token.INTERSECT, token.EXCEPT:
		op := strings.ToLower(p.token.Literal)
		p.nextToken()
		all := p.match(token.ALL)
		if !all {
			p.match(token.DISTINCT) // UNION DISTINCT is the default
		}
		right := p.parseSelectBody()
		// Attach at the tail so a parenthesized compound on the left keeps
		// all of its cores reachable.
		tail := body
		for tail.Op != "" && tail.Right != nil {
			tail = tail.Right
		}
		tail.Op, tail.All, tail.Right = op, all, right
	}

	return body
}

func (p *Parser) parseSelectCore() *SelectCore {
	core := &SelectCore{}
	p.expect(token.SELECT)

	if p.match(token.DISTINCT) {
		core.Distinct = true
	} else {
		p.match(token.ALL)
	}

	if p.check(token.FROM) || p.check(token.EOF) {
		p.addError(ErrEmptySelectList)
		return core
	}
	for {
		core.Items = append(core.Items, p.parseSelectItem())
		if !p.match(token.COMMA) {
			break
		}
	}

	if p.match(token.FROM) {
		core.From = p.parseTableExpr()
	}
	if p.match(token.WHERE) {
		core.Where = p.parseExpr()
	}
	if p.match(token.GROUP) {
		p.expect(token.BY)
		for {
			core.GroupBy = append(core.GroupBy, p.parseExpr())
			if !p.match(token.COMMA) {
				break
			}
		}
	}
	if p.match(token.HAVING) {
		core.Having = p.parseExpr()
	}

	return core
}

func (p *Parser) parseSelectItem() *SelectItem {
	item := &SelectItem{}

	if p.match(token.STAR) {
		item.Star = true
		return item
	}
	if p.check(token.IDENT) && p.checkPeek(token.DOT) && p.checkPeek2(token.STAR) {
		item.TableStar = p.token.Literal
		p.nextToken() // table
		p.nextToken() // .
		p.nextToken() // *
		return item
	}

	item.Expr = p.parseExpr()
	if p.match(token.AS) {
		item.Alias = p.parseIdent()
	} else if p.check(token.IDENT) {
		item.Alias = p.token.Literal
		p.nextToken()
	}
	return item
}

// parseIdent consumes an identifier token and returns its literal.
func (p *Parser) parseIdent() string {
	if !p.check(token.IDENT) {
		p.addError(fmt.Sprintf(ErrUnexpectedToken, p.token.Type, token.IDENT))
		return ""
	}
	name := p.token.Literal
	p.nextToken()
	return name
}

// ---------- FROM clause ----------

func (p *Parser) parseTableExpr() TableExpr {
	left := p.parseTableRef()

	for {
		var joinType string
		switch {
		case p.check(token.COMMA):
			p.nextToken()
			joinType = "cross"
		case p.check(token.CROSS):
			p.nextToken()
			p.expect(token.JOIN)
			joinType = "cross"
		case p.check(token.JOIN):
			p.nextToken()
			joinType = "inner"
		case p.check(token.INNER):
			p.nextToken()
			p.expect(token.JOIN)
			joinType = "inner"
		case p.check(token.LEFT):
			p.nextToken()
			p.match(token.OUTER)
			p.expect(token.JOIN)
			joinType = "left"
		case p.check(token.RIGHT):
			p.nextToken()
			p.match(token.OUTER)
			p.expect(token.JOIN)
			joinType = "right"
		case p.check(token.FULL):
			p.nextToken()
			p.match(token.OUTER)
			p.expect(token.JOIN)
			joinType = "full"
		default:
			return left
		}

		join := &Join{Left: left, Type: joinType}
		join.Right = p.parseTableRef()

		if joinType != "cross" {
			switch {
			case p.match(token.ON):
				join.On = p.parseExpr()
			case p.match(token.USING):
				p.expect(token.LPAREN)
				for {
					join.Using = append(join.Using, p.parseIdent())
					if !p.match(token.COMMA) {
						break
					}
				}
				p.expect(token.RPAREN)
			default:
				p.addError(fmt.Sprintf(ErrUnexpectedToken, p.token.Type, token.ON))
			}
		}
		left = join
	}
}

func (p *Parser) parseTableRef() TableExpr {
	if p.match(token.LPAREN) {
		if p.check(token.SELECT) || p.check(token.WITH) {
			dt := &DerivedTable{Select: p.parseStatement()}
			p.expect(token.RPAREN)
			if p.match(token.AS) {
				dt.Alias = p.parseIdent()
			} else if p.check(token.IDENT) {
				dt.Alias = p.token.Literal
				p.nextToken()
			}
			if dt.Alias == "" {
				p.addError(ErrMissingAlias)
			}
			return dt
		}
		// Parenthesized join group; parens are transparent.
		inner := p.parseTableExpr()
		p.expect(token.RPAREN)
		return inner
	}

	tn := &TableName{}
	tn.Name = p.parseIdent()
	if p.match(token.DOT) {
		tn.Name = tn.Name + "." + p.parseIdent()
	}
	if p.match(token.AS) {
		tn.Alias = p.parseIdent()
	} else if p.check(token.IDENT) {
		tn.Alias = p.token.Literal
		p.nextToken()
	}
	return tn
}

// ---------- ORDER BY ----------

func (p *Parser) parseOrderList() []*OrderItem {
	var items []*OrderItem
	for {
		item := &OrderItem{Expr: p.parseExpr()}
		if p.match(token.DESC) {
			item.Desc = true
		} else {
			p.match(token.ASC)
		}
		if p.match(token.NULLS) {
			switch strings.ToLower(p.token.Literal) {
			case "first":
				v := true
				item.NullsFirst = &v
				p.nextToken()
			case "last":
				v := false
				item.NullsFirst = &v
				p.nextToken()
			default:
				p.addError(fmt.Sprintf(ErrBadNullsOrdering, p.token.Literal))
			}
		}
		items = append(items, item)
		if !p.match(token.COMMA) {
			break
		}
	}
	return items
}
