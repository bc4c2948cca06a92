package sqlparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSimpleSelect(t *testing.T) {
	stmt, err := Parse("SELECT dept_code, COUNT(*) AS visits FROM ovst GROUP BY dept_code")
	require.NoError(t, err)

	core := stmt.Body.Left
	require.Len(t, core.Items, 2)

	ref, ok := core.Items[0].Expr.(*ColumnRef)
	require.True(t, ok)
	assert.Equal(t, "dept_code", ref.Name)

	fc, ok := core.Items[1].Expr.(*FuncCall)
	require.True(t, ok)
	assert.Equal(t, "count", fc.Name)
	assert.True(t, fc.Star)
	assert.Equal(t, "visits", core.Items[1].Alias)

	tn, ok := core.From.(*TableName)
	require.True(t, ok)
	assert.Equal(t, "ovst", tn.Name)
	require.Len(t, core.GroupBy, 1)
}

func TestParseJoins(t *testing.T) {
	tests := []struct {
		name     string
		sql      string
		joinType string
	}{
		{"inner", "SELECT a.x FROM t1 a JOIN t2 b ON a.id = b.id", "inner"},
		{"explicit inner", "SELECT a.x FROM t1 a INNER JOIN t2 b ON a.id = b.id", "inner"},
		{"left", "SELECT a.x FROM t1 a LEFT JOIN t2 b ON a.id = b.id", "left"},
		{"left outer", "SELECT a.x FROM t1 a LEFT OUTER JOIN t2 b ON a.id = b.id", "left"},
		{"full", "SELECT a.x FROM t1 a FULL OUTER JOIN t2 b ON a.id = b.id", "full"},
		{"cross", "SELECT a.x FROM t1 a CROSS JOIN t2 b", "cross"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stmt, err := Parse(tt.sql)
			require.NoError(t, err)

			join, ok := stmt.Body.Left.From.(*Join)
			require.True(t, ok)
			assert.Equal(t, tt.joinType, join.Type)
		})
	}
}

func TestParseJoinUsing(t *testing.T) {
	stmt, err := Parse("SELECT x FROM t1 JOIN t2 USING (hn, vn)")
	require.NoError(t, err)

	join := stmt.Body.Left.From.(*Join)
	assert.Equal(t, []string{"hn", "vn"}, join.Using)
}

func TestParseWithClause(t *testing.T) {
	stmt, err := Parse(`WITH daily (d, n) AS (
		SELECT vstdate, COUNT(*) FROM ovst GROUP BY vstdate
	)
	SELECT d, n FROM daily ORDER BY d DESC LIMIT 30`)
	require.NoError(t, err)

	require.NotNil(t, stmt.With)
	require.Len(t, stmt.With.CTEs, 1)
	cte := stmt.With.CTEs[0]
	assert.Equal(t, "daily", cte.Name)
	assert.Equal(t, []string{"d", "n"}, cte.Columns)

	require.Len(t, stmt.OrderBy, 1)
	assert.True(t, stmt.OrderBy[0].Desc)
	require.NotNil(t, stmt.Limit)
	lim := stmt.Limit.(*Literal)
	assert.Equal(t, "30", lim.Value)
}

func TestParseUnion(t *testing.T) {
	stmt, err := Parse("SELECT a FROM t1 UNION ALL SELECT b FROM t2 UNION SELECT c FROM t3")
	require.NoError(t, err)

	cores := stmt.Body.Cores()
	require.Len(t, cores, 3)
	assert.Equal(t, "union", stmt.Body.Op)
	assert.True(t, stmt.Body.All)
}

func TestParseDerivedTable(t *testing.T) {
	stmt, err := Parse("SELECT s.n FROM (SELECT COUNT(*) AS n FROM ovst) AS s")
	require.NoError(t, err)

	dt, ok := stmt.Body.Left.From.(*DerivedTable)
	require.True(t, ok)
	assert.Equal(t, "s", dt.Alias)
	require.NotNil(t, dt.Select)
}

func TestParseDerivedTableRequiresAlias(t *testing.T) {
	_, err := Parse("SELECT n FROM (SELECT COUNT(*) AS n FROM ovst)")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "alias")
}

func TestParseExpressions(t *testing.T) {
	tests := []struct {
		name string
		sql  string
	}{
		{"between", "SELECT x FROM t WHERE vstdate BETWEEN '2024-01-01' AND '2024-12-31'"},
		{"in list", "SELECT x FROM t WHERE dept IN ('01', '02')"},
		{"not in subquery", "SELECT x FROM t WHERE hn NOT IN (SELECT hn FROM u)"},
		{"like escape", "SELECT x FROM t WHERE icd LIKE 'E11%' ESCAPE '\\'"},
		{"is null", "SELECT x FROM t WHERE discharge IS NOT NULL"},
		{"case searched", "SELECT CASE WHEN age >= 60 THEN 'elderly' ELSE 'adult' END FROM t"},
		{"case simple", "SELECT CASE sex WHEN '1' THEN 'male' ELSE 'female' END FROM t"},
		{"cast", "SELECT CAST(n AS NUMERIC(10, 2)) FROM t"},
		{"exists", "SELECT x FROM t WHERE EXISTS (SELECT 1 FROM u WHERE u.id = t.id)"},
		{"arithmetic", "SELECT 100.0 * a / NULLIF(b, 0) FROM t"},
		{"concat", "SELECT a || '-' || b FROM t"},
		{"scalar subquery", "SELECT (SELECT COUNT(*) FROM u) FROM t"},
		{"not between", "SELECT x FROM t WHERE age NOT BETWEEN 0 AND 150"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.sql)
			assert.NoError(t, err)
		})
	}
}

func TestParsePrecedence(t *testing.T) {
	stmt, err := Parse("SELECT x FROM t WHERE a = 1 OR b = 2 AND c = 3")
	require.NoError(t, err)

	// AND binds tighter: a = 1 OR (b = 2 AND c = 3)
	where := stmt.Body.Left.Where.(*BinaryExpr)
	assert.Equal(t, "or", where.Op)
	right := where.Right.(*BinaryExpr)
	assert.Equal(t, "and", right.Op)
}

func TestParseWindowFunction(t *testing.T) {
	stmt, err := Parse(`SELECT dept, ROW_NUMBER() OVER (PARTITION BY dept ORDER BY n DESC) FROM t`)
	require.NoError(t, err)

	fc := stmt.Body.Left.Items[1].Expr.(*FuncCall)
	require.NotNil(t, fc.Over)
	assert.Len(t, fc.Over.PartitionBy, 1)
	assert.Len(t, fc.Over.OrderBy, 1)
}

func TestParseWindowFrame(t *testing.T) {
	stmt, err := Parse(`SELECT SUM(n) OVER (ORDER BY d ROWS BETWEEN 6 PRECEDING AND CURRENT ROW) FROM t`)
	require.NoError(t, err)

	fc := stmt.Body.Left.Items[0].Expr.(*FuncCall)
	require.NotNil(t, fc.Over)
	require.NotNil(t, fc.Over.Frame)
	assert.Equal(t, "rows", fc.Over.Frame.Unit)
	assert.Equal(t, "preceding", fc.Over.Frame.Start.Kind)
	assert.Equal(t, "current row", fc.Over.Frame.End.Kind)
}

func TestParseCountDistinct(t *testing.T) {
	stmt, err := Parse("SELECT COUNT(DISTINCT hn) FROM ovst")
	require.NoError(t, err)

	fc := stmt.Body.Left.Items[0].Expr.(*FuncCall)
	assert.Equal(t, "count", fc.Name)
	assert.True(t, fc.Distinct)
	require.Len(t, fc.Args, 1)
}

func TestParseStars(t *testing.T) {
	stmt, err := Parse("SELECT *, t.* FROM t")
	require.NoError(t, err)

	items := stmt.Body.Left.Items
	require.Len(t, items, 2)
	assert.True(t, items[0].Star)
	assert.Equal(t, "t", items[1].TableStar)
}

func TestParseTrailingSemicolon(t *testing.T) {
	_, err := Parse("SELECT 1;")
	assert.NoError(t, err)
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		sql  string
	}{
		{"empty", ""},
		{"insert", "INSERT INTO t VALUES (1)"},
		{"update", "UPDATE t SET x = 1"},
		{"delete", "DELETE FROM t"},
		{"drop", "DROP TABLE t"},
		{"two statements", "SELECT 1; SELECT 2"},
		{"unterminated paren", "SELECT (1 FROM t"},
		{"garbage", "SELECT FROM WHERE"},
		{"empty select list", "SELECT FROM t"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.sql)
			assert.Error(t, err)
		})
	}
}

func TestParseCorrelatedSubquery(t *testing.T) {
	_, err := Parse(`SELECT o.dept FROM ovst o
		WHERE o.vn IN (SELECT i.vn FROM ipt i WHERE i.hn = o.hn)`)
	assert.NoError(t, err)
}

func TestCollectHelpers(t *testing.T) {
	stmt, err := Parse(`WITH c AS (SELECT hn FROM ovst)
		SELECT COUNT(DISTINCT hn) FROM c WHERE hn IN (SELECT hn FROM ipt)`)
	require.NoError(t, err)

	assert.Equal(t, []string{"c"}, CollectCTENames(stmt))
	assert.Len(t, CollectFuncCalls(stmt), 1)
	assert.Len(t, CollectSelectCores(stmt), 3)
	assert.GreaterOrEqual(t, len(CollectColumnRefs(stmt)), 3)
}
