package guard

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/wardsql/pkg/catalog"
)

const testCatalog = `
tables:
  - name: ovst
    family: visit
    columns:
      - name: hn
        tag: identifier
      - name: vn
        tag: key
      - name: an
        tag: key
      - name: vstdate
        tag: temporal
      - name: dept_code
        tag: categorical
      - name: income
        tag: measure
    joins:
      - column: hn
        table: patient
        target: hn
        confidence: high
  - name: patient
    family: person
    columns:
      - name: hn
        tag: identifier
      - name: pname
        tag: phi
      - name: birthdate
      - name: sex
        tag: categorical
  - name: opitemrece
    family: billing
    columns:
      - name: vn
        tag: key
      - name: icode
        tag: categorical
      - name: sum_price
        tag: measure
`

func testGuard(t *testing.T) (*Guard, *catalog.Catalog) {
	t.Helper()
	cat, err := catalog.Load(strings.NewReader(testCatalog))
	require.NoError(t, err)
	g, err := New(DefaultConfig())
	require.NoError(t, err)
	return g, cat
}

func check(t *testing.T, sql string) Verdict {
	t.Helper()
	g, cat := testGuard(t)
	return g.Check(cat, CandidateQuery{SQL: sql})
}

func TestCheckApprovesAggregates(t *testing.T) {
	tests := []struct {
		name string
		sql  string
	}{
		{"group by", "SELECT dept_code, COUNT(*) AS visits FROM ovst GROUP BY dept_code"},
		{"count distinct identifier", "SELECT COUNT(DISTINCT hn) FROM ovst"},
		{"avg measure", "SELECT AVG(income) FROM ovst"},
		{"distinct categorical", "SELECT DISTINCT dept_code FROM ovst"},
		{"having", "SELECT dept_code, COUNT(*) FROM ovst GROUP BY dept_code HAVING COUNT(*) > 10"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := check(t, tt.sql)
			require.True(t, v.Approved(), "detail: %s", v.Detail)
			assert.True(t, v.Aggregate)
			assert.Contains(t, v.Tables, "OVST")
			assert.NotEmpty(t, v.NormalizedSQL)
		})
	}
}

func TestCheckApprovesBoundedRowLevel(t *testing.T) {
	v := check(t, "SELECT vstdate, dept_code FROM ovst WHERE vstdate >= '2025-01-01' LIMIT 500")
	require.True(t, v.Approved(), "detail: %s", v.Detail)
	assert.False(t, v.Aggregate)
	assert.Equal(t, []string{"OVST"}, v.Tables)
}

func TestCheckBlocksWriteKeywords(t *testing.T) {
	tests := []struct {
		name string
		sql  string
	}{
		{"delete", "DELETE FROM ovst WHERE vn = 1"},
		{"piggybacked drop", "SELECT vstdate FROM ovst LIMIT 10; DROP TABLE ovst"},
		{"insert after cte", "WITH x AS (SELECT 1) INSERT INTO ovst VALUES (1)"},
		{"update nested", "SELECT vstdate FROM ovst WHERE vn IN (SELECT vn FROM opitemrece); UPDATE ovst SET vn = 1"},
		{"truncate", "TRUNCATE ovst"},
		{"commit", "COMMIT"},
		{"set role", "SET ROLE admin"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := check(t, tt.sql)
			require.Equal(t, Rejected, v.Outcome)
			assert.Equal(t, ReasonWriteOperation, v.Reason)
		})
	}
}

func TestCheckIgnoresKeywordsInStrings(t *testing.T) {
	v := check(t, "SELECT 'please delete this row' AS note, vstdate FROM ovst LIMIT 10")
	assert.True(t, v.Approved(), "detail: %s", v.Detail)
}

func TestCheckBlocksPHIProjection(t *testing.T) {
	tests := []struct {
		name string
		sql  string
	}{
		{"raw identifier", "SELECT hn, vstdate FROM ovst LIMIT 100"},
		{"aliased", "SELECT pname AS display_name FROM patient LIMIT 10"},
		{"wrapped in function", "SELECT upper(pname) FROM patient LIMIT 10"},
		{"concatenated", "SELECT hn || '-x' FROM ovst LIMIT 10"},
		{"min is not anonymizing", "SELECT MIN(pname) FROM patient"},
		{"through a cte", "WITH p AS (SELECT pname AS label FROM patient) SELECT label FROM p LIMIT 10"},
		{"through a derived table", "SELECT x.v FROM (SELECT hn AS v FROM ovst) x LIMIT 10"},
		{"window does not anonymize", "SELECT sum(income) OVER (PARTITION BY hn), hn FROM ovst LIMIT 10"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := check(t, tt.sql)
			require.Equal(t, Rejected, v.Outcome)
			assert.Equal(t, ReasonPhiExposure, v.Reason)
		})
	}
}

func TestCheckCompoundSelectExposure(t *testing.T) {
	// Set operators align columns by position, so a protected value in any
	// branch taints the whole output.
	tests := []struct {
		name string
		sql  string
	}{
		{"union all second branch", "SELECT dept_code FROM ovst UNION ALL SELECT pname FROM patient LIMIT 10"},
		{"union second branch", "SELECT dept_code FROM ovst UNION SELECT pname FROM patient LIMIT 10"},
		{"except second branch", "SELECT dept_code FROM ovst EXCEPT SELECT hn FROM patient LIMIT 10"},
		{"third branch", "SELECT dept_code FROM ovst UNION ALL SELECT sex FROM patient UNION ALL SELECT pname FROM patient LIMIT 10"},
		{"through a cte", "WITH u AS (SELECT dept_code AS c FROM ovst UNION ALL SELECT pname FROM patient) SELECT c FROM u LIMIT 10"},
		{"through a derived table", "SELECT x.c FROM (SELECT dept_code AS c FROM ovst UNION ALL SELECT pname FROM patient) x LIMIT 10"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := check(t, tt.sql)
			require.Equal(t, Rejected, v.Outcome)
			assert.Equal(t, ReasonPhiExposure, v.Reason)
		})
	}
}

func TestCheckApprovesCompoundWithoutExposure(t *testing.T) {
	v := check(t, "SELECT dept_code FROM ovst UNION SELECT sex FROM patient LIMIT 100")
	assert.True(t, v.Approved(), "detail: %s", v.Detail)
}

func TestCheckAllowsPHIInPredicates(t *testing.T) {
	// Filtering on a protected column is fine; only output exposure is not.
	v := check(t, "SELECT COUNT(*) FROM ovst WHERE hn = '000123'")
	assert.True(t, v.Approved(), "detail: %s", v.Detail)
}

func TestCheckGrounding(t *testing.T) {
	tests := []struct {
		name   string
		sql    string
		detail string
	}{
		{"unknown table", "SELECT vstdate FROM nosuch LIMIT 10", "unknown table"},
		{"unknown column", "SELECT nosuch FROM ovst LIMIT 10", `unknown column "nosuch"`},
		{"unknown alias", "SELECT o.vstdate FROM ovst LIMIT 10", "unknown table or alias"},
		{"ambiguous unqualified", "SELECT sex FROM ovst JOIN patient ON ovst.hn = patient.hn WHERE sex IS NOT NULL AND vstdate > '2025-01-01' AND hn > '0' LIMIT 10", "ambiguous"},
		{"cte does not export", "WITH v AS (SELECT vn FROM ovst) SELECT icode FROM v LIMIT 10", "icode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := check(t, tt.sql)
			require.Equal(t, Rejected, v.Outcome)
			assert.Equal(t, ReasonUnknownIdentifier, v.Reason)
			assert.Contains(t, v.Detail, tt.detail)
		})
	}
}

func TestCheckGroundingAmbiguityBeatsExposure(t *testing.T) {
	// hn exists on both sides of the join. The unresolved reference is the
	// actionable problem, so it is reported ahead of the projection audit.
	v := check(t, "SELECT hn FROM ovst JOIN patient ON ovst.hn = patient.hn LIMIT 10")
	require.Equal(t, Rejected, v.Outcome)
	assert.Equal(t, ReasonUnknownIdentifier, v.Reason)
}

func TestCheckRowLevelLimit(t *testing.T) {
	tests := []struct {
		name   string
		sql    string
		reject bool
	}{
		{"missing limit", "SELECT vstdate FROM ovst", true},
		{"limit too high", "SELECT vstdate FROM ovst LIMIT 5000", true},
		{"limit within bound", "SELECT vstdate FROM ovst LIMIT 2000", false},
		{"aggregate needs no limit", "SELECT COUNT(*) FROM ovst", false},
		{"outer row level over aggregate", "SELECT dept_code FROM (SELECT dept_code FROM ovst GROUP BY dept_code) t", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := check(t, tt.sql)
			if tt.reject {
				require.Equal(t, Rejected, v.Outcome)
				assert.Equal(t, ReasonUnboundedRowLevel, v.Reason)
			} else {
				assert.True(t, v.Approved(), "detail: %s", v.Detail)
			}
		})
	}
}

func TestCheckWildcards(t *testing.T) {
	tests := []struct {
		name string
		sql  string
	}{
		{"bare star", "SELECT * FROM ovst LIMIT 10"},
		{"qualified star", "SELECT o.* FROM ovst o LIMIT 10"},
		{"star in subquery", "SELECT dept_code FROM (SELECT * FROM ovst) t LIMIT 10"},
		{"star in cte", "WITH v AS (SELECT * FROM ovst) SELECT dept_code FROM v LIMIT 10"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := check(t, tt.sql)
			require.Equal(t, Rejected, v.Outcome)
			assert.Equal(t, ReasonWildcardProjection, v.Reason)
		})
	}
}

func TestCheckUnsafeConstructs(t *testing.T) {
	tests := []struct {
		name string
		sql  string
	}{
		{"for update", "SELECT vstdate FROM ovst LIMIT 10 FOR UPDATE"},
		{"for share", "SELECT vstdate FROM ovst LIMIT 10 FOR SHARE"},
		{"select into", "SELECT vstdate INTO newtab FROM ovst"},
		{"lock table", "LOCK TABLE ovst"},
		{"pg_sleep", "SELECT pg_sleep(10) LIMIT 1"},
		{"dblink", "SELECT dblink('host=evil', 'SELECT 1') LIMIT 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := check(t, tt.sql)
			require.Equal(t, Rejected, v.Outcome)
			assert.Equal(t, ReasonUnsafeConstruct, v.Reason)
		})
	}
}

func TestCheckUnparseable(t *testing.T) {
	tests := []struct {
		name string
		sql  string
	}{
		{"garbage", "SELECT FROM WHERE"},
		{"explain", "EXPLAIN SELECT 1"},
		{"empty", ""},
		{"bad token", "SELECT vstdate FROM ovst LIMIT $1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := check(t, tt.sql)
			require.Equal(t, Rejected, v.Outcome)
			assert.Equal(t, ReasonUnparseable, v.Reason)
		})
	}
}

func TestCheckRecordsResolvedColumns(t *testing.T) {
	v := check(t, "WITH v AS (SELECT vn, dept_code FROM ovst) SELECT dept_code, COUNT(DISTINCT vn) FROM v GROUP BY dept_code")
	require.True(t, v.Approved(), "detail: %s", v.Detail)
	assert.Contains(t, v.Columns, ColumnUse{Table: "OVST", Column: "vn", Tag: catalog.TagKey})
	assert.Contains(t, v.Columns, ColumnUse{Table: "OVST", Column: "dept_code", Tag: catalog.TagCategorical})
}

func TestCheckCorrelatedSubquery(t *testing.T) {
	v := check(t, `SELECT dept_code, COUNT(*) FROM ovst o GROUP BY dept_code
		HAVING COUNT(*) > (SELECT AVG(sum_price) FROM opitemrece WHERE opitemrece.vn = o.vn)`)
	require.True(t, v.Approved(), "detail: %s", v.Detail)
	assert.ElementsMatch(t, []string{"OPITEMRECE", "OVST"}, v.Tables)
}

func TestCheckScalarSubqueryExposure(t *testing.T) {
	v := check(t, "SELECT (SELECT pname FROM patient WHERE patient.hn = ovst.hn) FROM ovst LIMIT 10")
	require.Equal(t, Rejected, v.Outcome)
	assert.Equal(t, ReasonPhiExposure, v.Reason)
}

func TestNewRuleOptions(t *testing.T) {
	t.Run("max rows override", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.RuleOptions = map[string]map[string]any{
			RuleShape: {"max_rows": 100},
		}
		g, err := New(cfg)
		require.NoError(t, err)
		cat, err := catalog.Load(strings.NewReader(testCatalog))
		require.NoError(t, err)

		v := g.Check(cat, CandidateQuery{SQL: "SELECT vstdate FROM ovst LIMIT 200"})
		require.Equal(t, Rejected, v.Outcome)
		assert.Equal(t, ReasonUnboundedRowLevel, v.Reason)
	})

	t.Run("unknown rule", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.RuleOptions = map[string]map[string]any{"SG99": {}}
		_, err := New(cfg)
		assert.Error(t, err)
	})

	t.Run("unknown option key", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.RuleOptions = map[string]map[string]any{
			RuleShape: {"max_rowz": 100},
		}
		_, err := New(cfg)
		assert.Error(t, err)
	})
}

func TestNewExtraBlocklists(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BlockedKeywords = []string{"pivot"}
	cfg.UnsafeFunctions = []string{"my_admin_fn"}
	g, err := New(cfg)
	require.NoError(t, err)
	cat, err := catalog.Load(strings.NewReader(testCatalog))
	require.NoError(t, err)

	v := g.Check(cat, CandidateQuery{SQL: "SELECT pivot FROM ovst LIMIT 10"})
	assert.Equal(t, ReasonWriteOperation, v.Reason)

	v = g.Check(cat, CandidateQuery{SQL: "SELECT my_admin_fn(1) LIMIT 1"})
	assert.Equal(t, ReasonUnsafeConstruct, v.Reason)
}
