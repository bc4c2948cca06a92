package guard

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/wardsql/pkg/catalog"
	"github.com/leapstack-labs/wardsql/pkg/sqlparse"
)

// phiSafeAggs are aggregate functions whose result cannot reproduce an
// individual input value. min, max, string_agg and friends return values
// straight from the column, so they are deliberately absent.
var phiSafeAggs = map[string]struct{}{
	"count": {}, "sum": {}, "avg": {},
	"stddev": {}, "stddev_pop": {}, "stddev_samp": {},
	"variance": {}, "var_pop": {}, "var_samp": {},
	"median": {}, "corr": {},
}

// comparisonOps yield booleans, so protected operands do not leak through
// them. Arithmetic and concatenation do leak and are not listed.
var comparisonOps = map[string]struct{}{
	"=": {}, "<>": {}, "!=": {}, "<": {}, ">": {}, "<=": {}, ">=": {},
	"and": {}, "or": {},
}

// relation is one name visible in a FROM scope: a catalog table, or the
// output shape of a CTE or derived table. A relation with neither entry
// nor outputs is opaque; columns resolve against it by name alone.
type relation struct {
	name    string
	entry   *catalog.Entry
	outputs []*output
	byOut   map[string]*output
}

func (r *relation) opaque() bool { return r.entry == nil && r.outputs == nil }

// output is one column of a relation's result shape. exposed means a raw
// protected value is reachable through it.
type output struct {
	name    string
	use     *ColumnUse
	exposed bool
}

// columnInfo is the result of resolving one column reference.
type columnInfo struct {
	use     *ColumnUse
	exposed bool
}

// scope is one level of name visibility: the relations of a single select
// core, plus the CTEs declared around it. parent links to the enclosing
// query for correlated subqueries.
type scope struct {
	parent *scope
	rels   []*relation
	ctes   map[string]*relation
}

func (s *scope) lookupCTE(name string) *relation {
	for sc := s; sc != nil; sc = sc.parent {
		if sc.ctes != nil {
			if rel, ok := sc.ctes[name]; ok {
				return rel
			}
		}
	}
	return nil
}

func (s *scope) lookupRel(name string) *relation {
	for sc := s; sc != nil; sc = sc.parent {
		for _, rel := range sc.rels {
			if rel.name == name {
				return rel
			}
		}
	}
	return nil
}

// analyzer resolves every reference in a statement against the catalog,
// tracks which outputs expose protected data, and records the first
// grounding failure. After a failure the offending name becomes opaque so
// one bad table does not cascade into a violation per column.
type analyzer struct {
	rc         *ruleContext
	groundViol *violation
}

func (a *analyzer) ground(detail string) {
	if a.groundViol == nil {
		a.groundViol = &violation{Reason: ReasonUnknownIdentifier, Detail: detail}
	}
}

// analyzeStatement resolves one statement and returns its output shape.
// Output names come from the first select core; in a compound select an
// output is exposed when any branch exposes that position.
func (a *analyzer) analyzeStatement(stmt *sqlparse.Statement, parent *scope) *relation {
	sc := &scope{parent: parent, ctes: make(map[string]*relation)}

	if stmt.With != nil {
		for _, cte := range stmt.With.CTEs {
			name := lower(cte.Name)
			if stmt.With.Recursive {
				// Pre-register so the recursive branch can resolve its
				// own name; a declared column list gives it a shape.
				sc.ctes[name] = a.placeholderRelation(name, cte.Columns)
			}
			rel := a.analyzeStatement(cte.Select, sc)
			rel.name = name
			if len(cte.Columns) > 0 {
				rel = renameOutputs(a, rel, cte.Columns)
			}
			sc.ctes[name] = rel
		}
	}

	var first *relation
	var firstScope *scope
	for i, core := range stmt.Body.Cores() {
		rel, coreScope := a.analyzeCore(core, sc)
		if i == 0 {
			first, firstScope = rel, coreScope
			continue
		}
		mergeExposure(first, rel)
	}
	if first == nil {
		return &relation{}
	}

	for _, item := range stmt.OrderBy {
		a.resolveAliasable(item.Expr, firstScope, first)
	}
	a.resolveExpr(stmt.Limit, firstScope)
	a.resolveExpr(stmt.Offset, firstScope)
	return first
}

// placeholderRelation builds the shape a recursive CTE presents to its own
// body. Without a declared column list it is opaque.
func (a *analyzer) placeholderRelation(name string, columns []string) *relation {
	rel := &relation{name: name}
	if len(columns) == 0 {
		return rel
	}
	rel.byOut = make(map[string]*output, len(columns))
	for _, col := range columns {
		out := &output{name: lower(col), exposed: a.rc.guard.isPHIName(col)}
		rel.outputs = append(rel.outputs, out)
		rel.byOut[out.name] = out
	}
	return rel
}

// mergeExposure folds a later compound-select branch into the shape of the
// first one. UNION and friends align columns by position, so position i is
// exposed when either branch exposes it. use stays with the first branch;
// exposure tracking never reads it from later branches.
func mergeExposure(dst, src *relation) {
	for i, out := range src.outputs {
		if i >= len(dst.outputs) {
			break
		}
		if out.exposed {
			dst.outputs[i].exposed = true
		}
	}
}

// renameOutputs applies a CTE's declared column list positionally. Extra
// declared names beyond the select list become opaque outputs.
func renameOutputs(a *analyzer, rel *relation, columns []string) *relation {
	renamed := &relation{name: rel.name, byOut: make(map[string]*output, len(columns))}
	for i, col := range columns {
		out := &output{name: lower(col), exposed: a.rc.guard.isPHIName(col)}
		if i < len(rel.outputs) {
			out.use = rel.outputs[i].use
			out.exposed = rel.outputs[i].exposed
		}
		renamed.outputs = append(renamed.outputs, out)
		renamed.byOut[out.name] = out
	}
	return renamed
}

type pendingJoin struct {
	on    sqlparse.Expr
	using []string
}

// analyzeCore resolves one select core and returns its output shape along
// with the scope its relations live in.
func (a *analyzer) analyzeCore(core *sqlparse.SelectCore, parent *scope) (*relation, *scope) {
	sc := &scope{parent: parent}

	var joins []pendingJoin
	a.addTableExpr(sc, core.From, &joins)
	// Join conditions resolve after the whole FROM clause is in scope.
	for _, j := range joins {
		a.resolveExpr(j.on, sc)
		for _, name := range j.using {
			a.resolveUsing(name, sc)
		}
	}

	a.resolveExpr(core.Where, sc)

	rel := &relation{byOut: make(map[string]*output)}
	for _, item := range core.Items {
		a.resolveExpr(item.Expr, sc)
		out := a.outputOf(item, sc)
		rel.outputs = append(rel.outputs, out)
		if out.name != "" {
			rel.byOut[out.name] = out
		}
	}

	for _, expr := range core.GroupBy {
		a.resolveAliasable(expr, sc, rel)
	}
	a.resolveAliasable(core.Having, sc, rel)

	return rel, sc
}

// outputOf computes the shape of one select item: its visible name, its
// origin column when it is a plain passthrough, and whether protected data
// reaches it.
func (a *analyzer) outputOf(item *sqlparse.SelectItem, sc *scope) *output {
	out := &output{exposed: a.exprExposed(item.Expr, sc)}
	if item.Alias != "" {
		out.name = lower(item.Alias)
	}
	if cr, ok := item.Expr.(*sqlparse.ColumnRef); ok {
		if out.name == "" {
			out.name = lower(cr.Name)
		}
		info, ok := a.lookupColumn(cr, sc)
		if ok {
			out.use = info.use
		}
	}
	return out
}

// addTableExpr registers the relations of a FROM clause into sc. Join
// conditions are deferred via joins.
func (a *analyzer) addTableExpr(sc *scope, te sqlparse.TableExpr, joins *[]pendingJoin) {
	switch t := te.(type) {
	case nil:
		return
	case *sqlparse.TableName:
		a.addTableName(sc, t)
	case *sqlparse.DerivedTable:
		// The subquery sees CTEs and outer scopes, not its siblings.
		rel := a.analyzeStatement(t.Select, sc.parent)
		rel.name = lower(t.Alias)
		sc.rels = append(sc.rels, rel)
	case *sqlparse.Join:
		a.addTableExpr(sc, t.Left, joins)
		a.addTableExpr(sc, t.Right, joins)
		*joins = append(*joins, pendingJoin{on: t.On, using: t.Using})
	}
}

func (a *analyzer) addTableName(sc *scope, t *sqlparse.TableName) {
	name := lower(lastSegment(t.Name))
	if t.Alias != "" {
		name = lower(t.Alias)
	}

	if cte := sc.lookupCTE(lower(t.Name)); cte != nil {
		aliased := *cte
		aliased.name = name
		sc.rels = append(sc.rels, &aliased)
		return
	}
	if entry, ok := a.rc.cat.Resolve(t.Name); ok {
		sc.rels = append(sc.rels, &relation{name: name, entry: entry})
		a.rc.recordTable(entry.Name)
		return
	}

	a.ground(fmt.Sprintf("unknown table %q", t.Name))
	// Register an opaque stand-in so later column refs do not cascade.
	sc.rels = append(sc.rels, &relation{name: name})
}

func lastSegment(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i+1:]
	}
	return name
}

// resolveExpr walks an expression resolving every column reference, and
// analyzes nested subqueries with the current scope as their parent.
func (a *analyzer) resolveExpr(e sqlparse.Expr, sc *scope) {
	switch x := e.(type) {
	case nil:
	case *sqlparse.ColumnRef:
		a.resolveColumnRef(x, sc)
	case *sqlparse.Literal:
	case *sqlparse.BinaryExpr:
		a.resolveExpr(x.Left, sc)
		a.resolveExpr(x.Right, sc)
	case *sqlparse.UnaryExpr:
		a.resolveExpr(x.Expr, sc)
	case *sqlparse.FuncCall:
		for _, arg := range x.Args {
			a.resolveExpr(arg, sc)
		}
		if x.Over != nil {
			for _, p := range x.Over.PartitionBy {
				a.resolveExpr(p, sc)
			}
			for _, item := range x.Over.OrderBy {
				a.resolveExpr(item.Expr, sc)
			}
		}
	case *sqlparse.CaseExpr:
		a.resolveExpr(x.Operand, sc)
		for _, when := range x.Whens {
			a.resolveExpr(when.Cond, sc)
			a.resolveExpr(when.Then, sc)
		}
		a.resolveExpr(x.Else, sc)
	case *sqlparse.CastExpr:
		a.resolveExpr(x.Expr, sc)
	case *sqlparse.InExpr:
		a.resolveExpr(x.Expr, sc)
		for _, v := range x.List {
			a.resolveExpr(v, sc)
		}
		if x.Select != nil {
			a.analyzeStatement(x.Select, sc)
		}
	case *sqlparse.BetweenExpr:
		a.resolveExpr(x.Expr, sc)
		a.resolveExpr(x.Low, sc)
		a.resolveExpr(x.High, sc)
	case *sqlparse.IsNullExpr:
		a.resolveExpr(x.Expr, sc)
	case *sqlparse.LikeExpr:
		a.resolveExpr(x.Expr, sc)
		a.resolveExpr(x.Pattern, sc)
		a.resolveExpr(x.Escape, sc)
	case *sqlparse.ParenExpr:
		a.resolveExpr(x.Expr, sc)
	case *sqlparse.SubqueryExpr:
		a.analyzeStatement(x.Select, sc)
	case *sqlparse.ExistsExpr:
		a.analyzeStatement(x.Select, sc)
	}
}

// resolveAliasable resolves an ORDER BY, GROUP BY or HAVING expression
// where a bare name may refer to a select-list alias before any relation.
func (a *analyzer) resolveAliasable(e sqlparse.Expr, sc *scope, rel *relation) {
	if cr, ok := e.(*sqlparse.ColumnRef); ok && cr.Table == "" {
		if _, found := rel.byOut[lower(cr.Name)]; found {
			return
		}
	}
	a.resolveExpr(e, sc)
}

// resolveColumnRef resolves one reference, recording catalog columns and
// grounding failures.
func (a *analyzer) resolveColumnRef(ref *sqlparse.ColumnRef, sc *scope) columnInfo {
	info, ok := a.lookupColumn(ref, sc)
	if ok && info.use != nil {
		a.rc.recordColumn(*info.use)
	}
	return info
}

// lookupColumn resolves a reference without recording it. Qualified names
// must name a visible relation and a column it provides. Unqualified names
// must match exactly one relation per scope level, walking outward before
// failing; catalog and shaped relations win over opaque stand-ins.
func (a *analyzer) lookupColumn(ref *sqlparse.ColumnRef, sc *scope) (columnInfo, bool) {
	name := lower(ref.Name)

	if ref.Table != "" {
		rel := sc.lookupRel(lower(ref.Table))
		if rel == nil {
			a.ground(fmt.Sprintf("unknown table or alias %q", ref.Table))
			return columnInfo{exposed: a.rc.guard.isPHIName(name)}, false
		}
		info, ok := a.columnFrom(rel, name)
		if !ok {
			a.ground(fmt.Sprintf("unknown column %q on %q", ref.Name, ref.Table))
			return columnInfo{exposed: a.rc.guard.isPHIName(name)}, false
		}
		return info, true
	}

	for s := sc; s != nil; s = s.parent {
		var matches []*relation
		var opaques []*relation
		for _, rel := range s.rels {
			if rel.opaque() {
				opaques = append(opaques, rel)
				continue
			}
			if _, ok := a.columnFrom(rel, name); ok {
				matches = append(matches, rel)
			}
		}
		switch {
		case len(matches) == 1:
			info, _ := a.columnFrom(matches[0], name)
			return info, true
		case len(matches) > 1:
			a.ground(fmt.Sprintf("ambiguous column %q; qualify it with a table name", ref.Name))
			return columnInfo{exposed: a.rc.guard.isPHIName(name)}, false
		case len(opaques) > 0:
			return columnInfo{exposed: a.rc.guard.isPHIName(name)}, true
		}
	}

	a.ground(fmt.Sprintf("unknown column %q", ref.Name))
	return columnInfo{exposed: a.rc.guard.isPHIName(name)}, false
}

// columnFrom resolves a column against a single relation.
func (a *analyzer) columnFrom(rel *relation, name string) (columnInfo, bool) {
	if rel.entry != nil {
		col, ok := rel.entry.Column(name)
		if !ok {
			return columnInfo{}, false
		}
		return columnInfo{
			use:     &ColumnUse{Table: rel.entry.Name, Column: col.Name, Tag: col.Tag},
			exposed: col.Tag.Sensitive(),
		}, true
	}
	if rel.byOut != nil {
		out, ok := rel.byOut[name]
		if !ok {
			return columnInfo{}, false
		}
		return columnInfo{use: out.use, exposed: out.exposed}, true
	}
	// Opaque relation: anything resolves, protected by name pattern.
	return columnInfo{exposed: a.rc.guard.isPHIName(name)}, true
}

// resolveUsing resolves a USING column against the relations of the
// current core. USING names legitimately match both join sides, so
// multiple matches are not ambiguous here.
func (a *analyzer) resolveUsing(name string, sc *scope) {
	col := lower(name)
	found := false
	for _, rel := range sc.rels {
		if rel.opaque() {
			found = true
			continue
		}
		info, ok := a.columnFrom(rel, col)
		if !ok {
			continue
		}
		found = true
		if info.use != nil {
			a.rc.recordColumn(*info.use)
		}
	}
	if !found {
		a.ground(fmt.Sprintf("column %q in USING not found in any joined table", name))
	}
}

// exprExposed reports whether a raw protected value can reach the result
// of an expression. Boolean-valued forms do not leak their operands;
// arithmetic, concatenation and ordinary function calls do. Unlisted
// aggregate functions are treated like ordinary calls, so min(pname) is
// still an exposure.
func (a *analyzer) exprExposed(e sqlparse.Expr, sc *scope) bool {
	switch x := e.(type) {
	case nil:
		return false
	case *sqlparse.ColumnRef:
		info, _ := a.lookupColumn(x, sc)
		return info.exposed
	case *sqlparse.Literal:
		return false
	case *sqlparse.ParenExpr:
		return a.exprExposed(x.Expr, sc)
	case *sqlparse.CastExpr:
		return a.exprExposed(x.Expr, sc)
	case *sqlparse.UnaryExpr:
		if x.Op == "not" {
			return false
		}
		return a.exprExposed(x.Expr, sc)
	case *sqlparse.BinaryExpr:
		if _, ok := comparisonOps[x.Op]; ok {
			return false
		}
		return a.exprExposed(x.Left, sc) || a.exprExposed(x.Right, sc)
	case *sqlparse.FuncCall:
		if x.Over == nil {
			if _, safe := phiSafeAggs[x.Name]; safe {
				return false
			}
		}
		for _, arg := range x.Args {
			if a.exprExposed(arg, sc) {
				return true
			}
		}
		return false
	case *sqlparse.CaseExpr:
		for _, when := range x.Whens {
			if a.exprExposed(when.Then, sc) {
				return true
			}
		}
		return a.exprExposed(x.Else, sc)
	case *sqlparse.InExpr, *sqlparse.BetweenExpr, *sqlparse.IsNullExpr,
		*sqlparse.LikeExpr, *sqlparse.ExistsExpr:
		return false
	case *sqlparse.SubqueryExpr:
		rel := a.analyzeStatement(x.Select, sc)
		return len(rel.outputs) > 0 && rel.outputs[0].exposed
	}
	return true
}
