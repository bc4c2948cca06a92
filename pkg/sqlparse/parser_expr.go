package sqlparse

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/wardsql/pkg/token"
)

// Expression precedence, loosest first:
//
//	OR > AND > NOT > comparison/IS/IN/BETWEEN/LIKE > additive > multiplicative > unary > primary

func (p *Parser) parseExpr() Expr {
	return p.parseOr()
}

func (p *Parser) parseOr() Expr {
	left := p.parseAnd()
	for p.match(token.OR) {
		right := p.parseAnd()
		left = &BinaryExpr{Left: left, Op: "or", Right: right}
	}
	return left
}

func (p *Parser) parseAnd() Expr {
	left := p.parseNot()
	for p.match(token.AND) {
		right := p.parseNot()
		left = &BinaryExpr{Left: left, Op: "and", Right: right}
	}
	return left
}

func (p *Parser) parseNot() Expr {
	if p.match(token.NOT) {
		return &UnaryExpr{Op: "not", Expr: p.parseNot()}
	}
	return p.parseComparison()
}

func (p *Parser) parseComparison() Expr {
	left := p.parseAdditive()

	for {
		switch p.token.Type {
		case token.EQ, token.NE, token.LT, token.GT, token.LE, token.GE:
			op := p.token.Literal
			p.nextToken()
			right := p.parseAdditive()
			left = &BinaryExpr{Left: left, Op: op, Right: right}

		case token.IS:
			p.nextToken()
			not := p.match(token.NOT)
			p.expect(token.NULL)
			left = &IsNullExpr{Expr: left, Not: not}

		case token.NOT:
			p.nextToken()
			switch p.token.Type {
			case token.IN:
				left = p.parseInTail(left, true)
			case token.BETWEEN:
				left = p.parseBetweenTail(left, true)
			case token.LIKE:
				left = p.parseLikeTail(left, true)
			default:
				p.addError(fmt.Sprintf(ErrUnexpectedToken, p.token.Type, token.IN))
				return left
			}

		case token.IN:
			left = p.parseInTail(left, false)

		case token.BETWEEN:
			left = p.parseBetweenTail(left, false)

		case token.LIKE:
			left = p.parseLikeTail(left, false)

		default:
			return left
		}
	}
}

func (p *Parser) parseInTail(operand Expr, not bool) Expr {
	p.expect(token.IN)
	in := &InExpr{Expr: operand, Not: not}
	p.expect(token.LPAREN)
	if p.check(token.SELECT) || p.check(token.WITH) {
		in.Select = p.parseStatement()
	} else {
		for {
			in.List = append(in.List, p.parseExpr())
			if !p.match(token.COMMA) {
				break
			}
		}
	}
	p.expect(token.RPAREN)
	return in
}

func (p *Parser) parseBetweenTail(operand Expr, not bool) Expr {
	p.expect(token.BETWEEN)
	// Bounds bind tighter than AND, so parse at additive level.
	low := p.parseAdditive()
	p.expect(token.AND)
	high := p.parseAdditive()
	return &BetweenExpr{Expr: operand, Not: not, Low: low, High: high}
}

func (p *Parser) parseLikeTail(operand Expr, not bool) Expr {
	p.expect(token.LIKE)
	like := &LikeExpr{Expr: operand, Not: not, Pattern: p.parseAdditive()}
	if p.match(token.ESCAPE) {
		like.Escape = p.parseAdditive()
	}
	return like
}

func (p *Parser) parseAdditive() Expr {
	left := p.parseMultiplicative()
	for {
		switch p.token.Type {
		case token.PLUS, token.MINUS, token.DPIPE:
			op := p.token.Literal
			p.nextToken()
			right := p.parseMultiplicative()
			left = &BinaryExpr{Left: left, Op: op, Right: right}
		default:
			return left
		}
	}
}

func (p *Parser) parseMultiplicative() Expr {
	left := p.parseUnary()
	for {
		switch p.token.Type {
		case token.STAR, token.SLASH, token.PERCENT:
			op := p.token.Literal
			p.nextToken()
			right := p.parseUnary()
			left = &BinaryExpr{Left: left, Op: op, Right: right}
		default:
			return left
		}
	}
}

func (p *Parser) parseUnary() Expr {
	if p.check(token.MINUS) || p.check(token.PLUS) {
		op := p.token.Literal
		p.nextToken()
		return &UnaryExpr{Op: op, Expr: p.parseUnary()}
	}
	return p.parsePrimary()
}

func (p *Parser) parsePrimary() Expr {
	switch p.token.Type {
	case token.NUMBER:
		lit := &Literal{Kind: LiteralNumber, Value: p.token.Literal}
		p.nextToken()
		return lit

	case token.STRING:
		lit := &Literal{Kind: LiteralString, Value: p.token.Literal}
		p.nextToken()
		return lit

	case token.TRUE, token.FALSE:
		lit := &Literal{Kind: LiteralBool, Value: strings.ToLower(p.token.Literal)}
		p.nextToken()
		return lit

	case token.NULL:
		p.nextToken()
		return &Literal{Kind: LiteralNull, Value: "null"}

	case token.CASE:
		return p.parseCase()

	case token.CAST:
		return p.parseCast()

	case token.EXISTS:
		p.nextToken()
		p.expect(token.LPAREN)
		stmt := p.parseStatement()
		p.expect(token.RPAREN)
		return &ExistsExpr{Select: stmt}

	case token.LPAREN:
		p.nextToken()
		if p.check(token.SELECT) || p.check(token.WITH) {
			stmt := p.parseStatement()
			p.expect(token.RPAREN)
			return &SubqueryExpr{Select: stmt}
		}
		inner := p.parseExpr()
		p.expect(token.RPAREN)
		return &ParenExpr{Expr: inner}

	case token.IDENT:
		if p.checkPeek(token.LPAREN) {
			return p.parseFuncCall()
		}
		ref := &ColumnRef{Name: p.token.Literal}
		p.nextToken()
		if p.match(token.DOT) {
			ref.Table = ref.Name
			ref.Name = p.parseIdent()
		}
		return ref

	default:
		p.addError(fmt.Sprintf(ErrUnexpectedToken, p.token.Type, "expression"))
		p.nextToken()
		return &Literal{Kind: LiteralNull, Value: "null"}
	}
}

func (p *Parser) parseCase() Expr {
	p.expect(token.CASE)
	c := &CaseExpr{}

	if !p.check(token.WHEN) {
		c.Operand = p.parseExpr()
	}
	for p.match(token.WHEN) {
		w := &WhenClause{Cond: p.parseExpr()}
		p.expect(token.THEN)
		w.Then = p.parseExpr()
		c.Whens = append(c.Whens, w)
	}
	if p.match(token.ELSE) {
		c.Else = p.parseExpr()
	}
	p.expect(token.END)
	return c
}

func (p *Parser) parseCast() Expr {
	p.expect(token.CAST)
	p.expect(token.LPAREN)
	c := &CastExpr{Expr: p.parseExpr()}
	p.expect(token.AS)
	c.Type = p.parseTypeName()
	p.expect(token.RPAREN)
	return c
}

// parseTypeName reads a type name like INTEGER, VARCHAR(20), NUMERIC(10, 2)
// or DOUBLE PRECISION.
func (p *Parser) parseTypeName() string {
	var parts []string
	for p.check(token.IDENT) {
		parts = append(parts, p.token.Literal)
		p.nextToken()
	}
	if len(parts) == 0 {
		p.addError(fmt.Sprintf(ErrUnexpectedToken, p.token.Type, "type name"))
		return ""
	}
	name := strings.Join(parts, " ")
	if p.match(token.LPAREN) {
		args := []string{}
		for p.check(token.NUMBER) {
			args = append(args, p.token.Literal)
			p.nextToken()
			if !p.match(token.COMMA) {
				break
			}
		}
		p.expect(token.RPAREN)
		name = name + "(" + strings.Join(args, ", ") + ")"
	}
	return name
}

func (p *Parser) parseFuncCall() Expr {
	fc := &FuncCall{Name: strings.ToLower(p.token.Literal)}
	p.nextToken() // function name
	p.expect(token.LPAREN)

	switch {
	case p.check(token.STAR):
		fc.Star = true
		p.nextToken()
	case p.check(token.RPAREN):
		// zero-arg call
	default:
		fc.Distinct = p.match(token.DISTINCT)
		for {
			fc.Args = append(fc.Args, p.parseExpr())
			if !p.match(token.COMMA) {
				break
			}
		}
	}
	p.expect(token.RPAREN)

	if p.match(token.OVER) {
		fc.Over = p.parseWindowSpec()
	}
	return fc
}

func (p *Parser) parseWindowSpec() *WindowSpec {
	spec := &WindowSpec{}
	p.expect(token.LPAREN)

	if p.match(token.PARTITION) {
		p.expect(token.BY)
		for {
			spec.PartitionBy = append(spec.PartitionBy, p.parseExpr())
			if !p.match(token.COMMA) {
				break
			}
		}
	}
	if p.match(token.ORDER) {
		p.expect(token.BY)
		spec.OrderBy = p.parseOrderList()
	}
	if p.check(token.ROWS) || p.check(token.RANGE) {
		spec.Frame = p.parseWindowFrame()
	}

	p.expect(token.RPAREN)
	return spec
}

func (p *Parser) parseWindowFrame() *WindowFrame {
	frame := &WindowFrame{Unit: strings.ToLower(p.token.Literal)}
	p.nextToken()

	if p.match(token.BETWEEN) {
		frame.Start = p.parseFrameBound()
		p.expect(token.AND)
		frame.End = p.parseFrameBound()
	} else {
		frame.Start = p.parseFrameBound()
	}
	return frame
}

func (p *Parser) parseFrameBound() *FrameBound {
	switch {
	case p.match(token.UNBOUNDED):
		switch {
		case p.match(token.PRECEDING):
			return &FrameBound{Kind: "unbounded preceding"}
		case p.match(token.FOLLOWING):
			return &FrameBound{Kind: "unbounded following"}
		}
		p.addError(ErrBadFrameBound)
		return &FrameBound{}
	case p.match(token.CURRENT):
		p.expect(token.ROW)
		return &FrameBound{Kind: "current row"}
	default:
		expr := p.parseAdditive()
		switch {
		case p.match(token.PRECEDING):
			return &FrameBound{Kind: "preceding", Expr: expr}
		case p.match(token.FOLLOWING):
			return &FrameBound{Kind: "following", Expr: expr}
		}
		p.addError(ErrBadFrameBound)
		return &FrameBound{Expr: expr}
	}
}
