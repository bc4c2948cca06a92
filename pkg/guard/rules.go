package guard

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/leapstack-labs/wardsql/pkg/sqlparse"
	"github.com/leapstack-labs/wardsql/pkg/token"
)

// Rule IDs, in check order.
const (
	RuleScreen    = "SG01" // safety.keyword_screen
	RuleParse     = "SG02" // safety.parse
	RuleWildcard  = "SG03" // safety.wildcard_projection
	RuleGrounding = "SG04" // safety.grounding
	RulePHI       = "SG05" // safety.phi_projection
	RuleShape     = "SG06" // safety.row_level_limit
	RuleResource  = "SG07" // safety.resource
)

// violation is a single rule finding. The first violation rejects the query.
type violation struct {
	Reason Reason
	Detail string
}

// ruleDef is one entry of the guard's fixed rule pipeline.
type ruleDef struct {
	ID          string
	Name        string
	Description string
	Check       func(rc *ruleContext) *violation
}

// orderedRules returns the rule pipeline. Order is part of the contract:
// cheap textual screens run before parsing, projection checks before
// grounding, and everything before the shape and resource audits.
func orderedRules() []ruleDef {
	return []ruleDef{
		{
			ID:          RuleScreen,
			Name:        "safety.keyword_screen",
			Description: "Reject write, DDL, transaction and locking keywords before parsing.",
			Check:       checkKeywordScreen,
		},
		{
			ID:          RuleParse,
			Name:        "safety.parse",
			Description: "The query must parse as a single SELECT (or WITH ... SELECT).",
			Check:       checkParse,
		},
		{
			ID:          RuleWildcard,
			Name:        "safety.wildcard_projection",
			Description: "Reject * and t.* projections anywhere in the statement.",
			Check:       checkWildcard,
		},
		{
			ID:          RuleGrounding,
			Name:        "safety.grounding",
			Description: "Every table and column reference must resolve against the catalog.",
			Check:       checkGrounding,
		},
		{
			ID:          RulePHI,
			Name:        "safety.phi_projection",
			Description: "No protected column may reach the output, aliased or wrapped.",
			Check:       checkPHIProjection,
		},
		{
			ID:          RuleShape,
			Name:        "safety.row_level_limit",
			Description: "Row-level queries need a literal LIMIT within the configured maximum.",
			Check:       checkShape,
		},
		{
			ID:          RuleResource,
			Name:        "safety.resource",
			Description: "Reject administrative and blocking function calls.",
			Check:       checkResource,
		},
	}
}

// writeKeywords are statement kinds that mutate data or state. Appearing
// anywhere outside a string literal rejects the query. Derived from the
// statement kinds the upstream HIS deployment blocks.
var writeKeywords = map[string]struct{}{
	"insert": {}, "update": {}, "delete": {}, "merge": {}, "upsert": {},
	"drop": {}, "create": {}, "alter": {}, "truncate": {}, "rename": {},
	"grant": {}, "revoke": {}, "copy": {}, "vacuum": {}, "analyze": {},
	"analyse": {}, "call": {}, "do": {}, "execute": {}, "prepare": {},
	"deallocate": {}, "commit": {}, "rollback": {}, "savepoint": {},
	"begin": {}, "abort": {}, "reset": {}, "discard": {}, "load": {},
	"unload": {}, "listen": {}, "notify": {}, "refresh": {},
	"reindex": {}, "cluster": {}, "checkpoint": {},
}

// lockKeywords are blocking or result-redirecting constructs.
var lockKeywords = map[string]struct{}{
	"lock": {}, "unlock": {}, "into": {},
}

// lockFollowers complete a FOR ... locking clause.
var lockFollowers = map[string]struct{}{
	"update": {}, "share": {}, "no": {}, "key": {},
}

// unsafeFunctions are admin, locking, sleep, and file-access functions that
// must never run under the query credential.
var unsafeFunctions = map[string]struct{}{
	"pg_sleep": {}, "pg_sleep_for": {}, "pg_sleep_until": {},
	"pg_advisory_lock": {}, "pg_advisory_xact_lock": {},
	"pg_try_advisory_lock": {}, "pg_advisory_unlock": {},
	"pg_terminate_backend": {}, "pg_cancel_backend": {},
	"pg_reload_conf": {}, "pg_rotate_logfile": {},
	"pg_read_file": {}, "pg_read_binary_file": {}, "pg_ls_dir": {},
	"pg_stat_file": {}, "lo_import": {}, "lo_export": {},
	"dblink": {}, "dblink_exec": {}, "dblink_connect": {},
	"set_config": {}, "current_setting": {},
}

func lower(s string) string { return strings.ToLower(s) }

// checkKeywordScreen scans the token stream before parsing. Working on
// tokens rather than raw text means words inside string literals never
// trigger it.
func checkKeywordScreen(rc *ruleContext) *violation {
	var words []string
	for _, tok := range sqlparse.Tokenize(rc.query.SQL) {
		if tok.Type == token.IDENT || token.IsKeyword(tok.Type) {
			words = append(words, lower(tok.Literal))
		}
	}

	for i, w := range words {
		// FOR UPDATE / FOR SHARE / FOR NO KEY UPDATE locking clauses.
		if w == "for" && i+1 < len(words) {
			if _, ok := lockFollowers[words[i+1]]; ok {
				return &violation{
					Reason: ReasonUnsafeConstruct,
					Detail: fmt.Sprintf("locking clause FOR %s is not allowed", strings.ToUpper(words[i+1])),
				}
			}
		}
		if w == "set" && i+1 < len(words) && words[i+1] == "role" {
			return &violation{Reason: ReasonWriteOperation, Detail: "SET ROLE is not allowed"}
		}
		if _, ok := lockKeywords[w]; ok {
			return &violation{
				Reason: ReasonUnsafeConstruct,
				Detail: fmt.Sprintf("keyword %s is not allowed", strings.ToUpper(w)),
			}
		}
		if _, ok := rc.guard.blocked[w]; ok {
			return &violation{
				Reason: ReasonWriteOperation,
				Detail: fmt.Sprintf("forbidden keyword %s", strings.ToUpper(w)),
			}
		}
	}
	return nil
}

// checkParse normalizes and parses the query, stashing both on the context.
func checkParse(rc *ruleContext) *violation {
	normalized, err := sqlparse.Normalize(rc.query.SQL)
	if err != nil {
		return &violation{Reason: ReasonUnparseable, Detail: err.Error()}
	}
	rc.normalized = normalized

	stmt, err := sqlparse.Parse(rc.query.SQL)
	if err != nil {
		return &violation{Reason: ReasonUnparseable, Detail: err.Error()}
	}
	rc.stmt = stmt
	return nil
}

// checkWildcard rejects * and t.* in any select list, including subqueries
// and CTEs. Wildcards bypass the projection audit, so they are never
// allowed, aggregate query or not.
func checkWildcard(rc *ruleContext) *violation {
	for _, core := range sqlparse.CollectSelectCores(rc.stmt) {
		for _, item := range core.Items {
			if item.Star {
				return &violation{
					Reason: ReasonWildcardProjection,
					Detail: "SELECT * is not allowed; name the columns you need",
				}
			}
			if item.TableStar != "" {
				return &violation{
					Reason: ReasonWildcardProjection,
					Detail: fmt.Sprintf("SELECT %s.* is not allowed; name the columns you need", item.TableStar),
				}
			}
		}
	}
	return nil
}

// checkGrounding runs the scope analyzer over the whole statement and
// reports the first reference that does not resolve against the catalog.
// The analysis result stays on the context for the projection audit.
func checkGrounding(rc *ruleContext) *violation {
	a := &analyzer{rc: rc}
	rc.topOutputs = a.analyzeStatement(rc.stmt, nil)
	rc.analysis = a
	return a.groundViol
}

// checkPHIProjection reports any protected column reachable in the output,
// however aliased or wrapped, using the grounding analysis.
func checkPHIProjection(rc *ruleContext) *violation {
	var exposed []string
	for _, out := range rc.topOutputs.outputs {
		if !out.exposed {
			continue
		}
		name := out.name
		if name == "" {
			name = "(unnamed expression)"
		}
		exposed = append(exposed, name)
	}
	if len(exposed) > 0 {
		return &violation{
			Reason: ReasonPhiExposure,
			Detail: fmt.Sprintf("protected column(s) in output: %s", strings.Join(exposed, ", ")),
		}
	}
	return nil
}

// aggregateFuncs collapse rows, making a query aggregate-shaped for the
// LIMIT rule.
var aggregateFuncs = map[string]struct{}{
	"count": {}, "sum": {}, "avg": {}, "min": {}, "max": {},
	"stddev": {}, "stddev_pop": {}, "stddev_samp": {},
	"variance": {}, "var_pop": {}, "var_samp": {}, "median": {},
	"string_agg": {}, "array_agg": {}, "group_concat": {},
	"bool_and": {}, "bool_or": {}, "every": {}, "corr": {},
}

// checkShape enforces the row-level LIMIT bound. A statement counts as
// aggregate when any top-level core has GROUP BY, DISTINCT, or an
// aggregate function call; DISTINCT counts because it collapses rows the
// same way grouping does. Window functions do not count: they keep every
// row.
func checkShape(rc *ruleContext) *violation {
	rc.aggregate = isAggregate(rc.stmt)
	if rc.aggregate {
		return nil
	}

	maxRows := rc.guard.cfg.MaxRows
	if rc.stmt.Limit == nil {
		return &violation{
			Reason: ReasonUnboundedRowLevel,
			Detail: fmt.Sprintf("row-level queries must carry LIMIT (max %d rows)", maxRows),
		}
	}
	lit, ok := rc.stmt.Limit.(*sqlparse.Literal)
	if !ok || lit.Kind != sqlparse.LiteralNumber {
		return &violation{
			Reason: ReasonUnboundedRowLevel,
			Detail: "LIMIT must be a literal number",
		}
	}
	n, err := strconv.Atoi(lit.Value)
	if err != nil {
		return &violation{
			Reason: ReasonUnboundedRowLevel,
			Detail: fmt.Sprintf("LIMIT %s is not a whole number", lit.Value),
		}
	}
	if n > maxRows {
		return &violation{
			Reason: ReasonUnboundedRowLevel,
			Detail: fmt.Sprintf("LIMIT %d exceeds the maximum of %d", n, maxRows),
		}
	}
	return nil
}

// isAggregate inspects the top-level cores only: a row-level outer query
// over an aggregating subquery still returns rows and still needs LIMIT.
func isAggregate(stmt *sqlparse.Statement) bool {
	for _, core := range stmt.Body.Cores() {
		if core.Distinct || len(core.GroupBy) > 0 {
			return true
		}
		for _, item := range core.Items {
			if exprHasAggregate(item.Expr) {
				return true
			}
		}
		if exprHasAggregate(core.Having) {
			return true
		}
	}
	return false
}

// exprHasAggregate looks for aggregate calls without descending into
// subquery statements: their aggregation is their own business.
func exprHasAggregate(e sqlparse.Expr) bool {
	if e == nil {
		return false
	}
	found := false
	sqlparse.Walk(e, func(node any) bool {
		switch n := node.(type) {
		case *sqlparse.FuncCall:
			if n.Over == nil {
				if _, ok := aggregateFuncs[n.Name]; ok {
					found = true
					return false
				}
			}
		case *sqlparse.Statement:
			return false
		}
		return !found
	})
	return found
}

// checkResource rejects calls to admin, locking, and sleep functions
// anywhere in the statement.
func checkResource(rc *ruleContext) *violation {
	for _, fc := range sqlparse.CollectFuncCalls(rc.stmt) {
		if _, ok := rc.guard.unsafeFuncs[fc.Name]; ok {
			return &violation{
				Reason: ReasonUnsafeConstruct,
				Detail: fmt.Sprintf("function %s is not allowed", fc.Name),
			}
		}
	}
	return nil
}
