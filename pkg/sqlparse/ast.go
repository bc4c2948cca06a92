package sqlparse

// Statement is a complete SELECT statement, optionally with a WITH clause
// and compound set operations. ORDER BY, LIMIT and OFFSET attach to the
// whole statement.
type Statement struct {
	With    *WithClause
	Body    *SelectBody
	OrderBy []*OrderItem
	Limit   Expr
	Offset  Expr
}

// WithClause is a WITH clause holding one or more CTEs.
type WithClause struct {
	Recursive bool
	CTEs      []*CTE
}

// CTE is a single common table expression.
type CTE struct {
	Name    string
	Columns []string // optional explicit column list
	Select  *Statement
}

// SelectBody is a select core optionally combined with another body via a
// set operation (UNION, INTERSECT, EXCEPT).
type SelectBody struct {
	Left  *SelectCore
	Op    string // "union", "intersect", "except"; empty if no compound
	All   bool   // UNION ALL
	Right *SelectBody
}

// Cores returns all select cores in the body, left to right.
func (b *SelectBody) Cores() []*SelectCore {
	var cores []*SelectCore
	for cur := b; cur != nil; cur = cur.Right {
		if cur.Left != nil {
			cores = append(cores, cur.Left)
		}
	}
	return cores
}

// SelectCore is a single SELECT ... FROM ... block.
type SelectCore struct {
	Distinct bool
	Items    []*SelectItem
	From     TableExpr // nil for FROM-less selects
	Where    Expr
	GroupBy  []Expr
	Having   Expr
}

// SelectItem is a single projection item.
type SelectItem struct {
	Star      bool   // SELECT *
	TableStar string // SELECT t.* (table or alias name)
	Expr      Expr   // nil when Star or TableStar
	Alias     string
}

// TableExpr is a table reference in a FROM clause.
type TableExpr interface {
	tableExpr()
}

// TableName is a direct reference to a named table.
type TableName struct {
	Name  string
	Alias string
}

// DerivedTable is a parenthesized subquery used as a table.
type DerivedTable struct {
	Select *Statement
	Alias  string
}

// Join combines two table expressions.
type Join struct {
	Left  TableExpr
	Right TableExpr
	Type  string // "inner", "left", "right", "full", "cross"
	On    Expr
	Using []string
}

func (*TableName) tableExpr()    {}
func (*DerivedTable) tableExpr() {}
func (*Join) tableExpr()         {}

// Expr is any expression node.
type Expr interface {
	expr()
}

// ColumnRef references a column, optionally qualified by table or alias.
type ColumnRef struct {
	Table string // empty if unqualified
	Name  string
}

// LiteralKind distinguishes literal value types.
type LiteralKind int

const (
	LiteralString LiteralKind = iota
	LiteralNumber
	LiteralBool
	LiteralNull
)

// Literal is a constant value.
type Literal struct {
	Kind  LiteralKind
	Value string
}

// BinaryExpr is a binary operation.
type BinaryExpr struct {
	Left  Expr
	Op    string // "+", "-", "*", "/", "%", "||", "=", "!=", "<", ">", "<=", ">=", "and", "or"
	Right Expr
}

// UnaryExpr is a prefix operation (NOT, unary minus/plus).
type UnaryExpr struct {
	Op   string // "not", "-", "+"
	Expr Expr
}

// FuncCall is a function call, possibly with DISTINCT, *, or an OVER clause.
type FuncCall struct {
	Name     string // lowercased
	Distinct bool
	Star     bool // count(*)
	Args     []Expr
	Over     *WindowSpec // non-nil for window functions
}

// WindowSpec is an inline OVER ( ... ) window specification.
type WindowSpec struct {
	PartitionBy []Expr
	OrderBy     []*OrderItem
	Frame       *WindowFrame
}

// WindowFrame is a ROWS/RANGE frame clause.
type WindowFrame struct {
	Unit  string // "rows", "range"
	Start *FrameBound
	End   *FrameBound // nil for single-bound frames
}

// FrameBound is one endpoint of a window frame.
type FrameBound struct {
	Kind string // "unbounded preceding", "unbounded following", "current row", "preceding", "following"
	Expr Expr   // for "<expr> preceding/following"
}

// CaseExpr is a CASE expression, simple or searched.
type CaseExpr struct {
	Operand Expr // nil for searched CASE
	Whens   []*WhenClause
	Else    Expr
}

// WhenClause is one WHEN ... THEN ... arm.
type WhenClause struct {
	Cond Expr
	Then Expr
}

// CastExpr is CAST(expr AS type).
type CastExpr struct {
	Expr Expr
	Type string
}

// InExpr is expr [NOT] IN (list) or expr [NOT] IN (subquery).
type InExpr struct {
	Expr   Expr
	Not    bool
	List   []Expr
	Select *Statement // nil when List is set
}

// BetweenExpr is expr [NOT] BETWEEN low AND high.
type BetweenExpr struct {
	Expr Expr
	Not  bool
	Low  Expr
	High Expr
}

// IsNullExpr is expr IS [NOT] NULL.
type IsNullExpr struct {
	Expr Expr
	Not  bool
}

// LikeExpr is expr [NOT] LIKE pattern [ESCAPE esc].
type LikeExpr struct {
	Expr    Expr
	Not     bool
	Pattern Expr
	Escape  Expr
}

// ParenExpr preserves explicit grouping.
type ParenExpr struct {
	Expr Expr
}

// SubqueryExpr is a scalar subquery.
type SubqueryExpr struct {
	Select *Statement
}

// ExistsExpr is EXISTS (subquery). NOT EXISTS parses as a UnaryExpr
// wrapping this node.
type ExistsExpr struct {
	Select *Statement
}

// OrderItem is one ORDER BY element.
type OrderItem struct {
	Expr       Expr
	Desc       bool
	NullsFirst *bool // nil when unspecified
}

func (*ColumnRef) expr()    {}
func (*Literal) expr()      {}
func (*BinaryExpr) expr()   {}
func (*UnaryExpr) expr()    {}
func (*FuncCall) expr()     {}
func (*CaseExpr) expr()     {}
func (*CastExpr) expr()     {}
func (*InExpr) expr()       {}
func (*BetweenExpr) expr()  {}
func (*IsNullExpr) expr()   {}
func (*LikeExpr) expr()     {}
func (*ParenExpr) expr()    {}
func (*SubqueryExpr) expr() {}
func (*ExistsExpr) expr()   {}
