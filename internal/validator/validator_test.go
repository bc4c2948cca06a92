package validator

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/wardsql/internal/executor"
	"github.com/leapstack-labs/wardsql/pkg/catalog"
	"github.com/leapstack-labs/wardsql/pkg/guard"
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
      - name: vstdate
        tag: temporal
      - name: dept_code
        tag: categorical
    joins:
      - column: hn
        table: patient
        target: hn
        confidence: high
  - name: patient
    columns:
      - name: hn
        tag: identifier
      - name: pname
        tag: phi
  - name: opitemrece
    columns:
      - name: vn
        tag: key
      - name: sum_price
        tag: measure
    joins:
      - column: vn
        table: ovst
        target: vn
        confidence: medium
`

// fakeRunner answers aux queries from a substring-keyed table.
type fakeRunner struct {
	results map[string]*executor.Result
	err     error
	calls   []string
}

func (f *fakeRunner) RunWithBudget(ctx context.Context, sql string, budget executor.Budget) (*executor.Result, error) {
	f.calls = append(f.calls, sql)
	if f.err != nil {
		return nil, f.err
	}
	for key, res := range f.results {
		if strings.Contains(sql, key) {
			return res, nil
		}
	}
	return &executor.Result{}, nil
}

func (f *fakeRunner) Budget() executor.Budget { return executor.DefaultBudget() }

func scalar(col string, v any) *executor.Result {
	return &executor.Result{
		Columns:  []string{col},
		Rows:     []map[string]any{{col: v}},
		RowCount: 1,
	}
}

func setup(t *testing.T, runner Runner) (*Validator, *guard.Guard, *catalog.Catalog) {
	t.Helper()
	cat, err := catalog.Load(strings.NewReader(testCatalog))
	require.NoError(t, err)
	g, err := guard.New(guard.DefaultConfig())
	require.NoError(t, err)
	return New(g, runner, DefaultConfig(), nil), g, cat
}

func approved(t *testing.T, g *guard.Guard, cat *catalog.Catalog, sql string) guard.Verdict {
	t.Helper()
	v := g.Check(cat, guard.CandidateQuery{SQL: sql})
	require.True(t, v.Approved(), "detail: %s", v.Detail)
	return v
}

func findingByCheck(report Report, check string) (Finding, bool) {
	for _, f := range report.Findings {
		if f.Check == check {
			return f, true
		}
	}
	return Finding{}, false
}

func TestValidateHighGrade(t *testing.T) {
	runner := &fakeRunner{results: map[string]*executor.Result{
		"COUNT(DISTINCT vn)": scalar("count", int64(450)),
	}}
	v, g, cat := setup(t, runner)
	verdict := approved(t, g, cat, "SELECT COUNT(DISTINCT hn) FROM ovst")

	report := v.Validate(context.Background(), cat, verdict, guard.Intent{AggregateOnly: true, MetricKind: guard.MetricCount}, scalar("count", int64(120)))

	assert.Equal(t, GradeHigh, report.Grade)
	assert.False(t, report.Suspicious)
	f, ok := findingByCheck(report, "alternate_key")
	require.True(t, ok)
	assert.Equal(t, Passed, f.Status)
	require.Len(t, runner.calls, 1)
	assert.Contains(t, runner.calls[0], "COUNT(DISTINCT vn)")
}

func TestValidateAlternateKeyInversion(t *testing.T) {
	// More distinct patients than distinct visits cannot happen; the
	// recomputation flags the answer.
	runner := &fakeRunner{results: map[string]*executor.Result{
		"COUNT(DISTINCT vn)": scalar("count", int64(100)),
	}}
	v, g, cat := setup(t, runner)
	verdict := approved(t, g, cat, "SELECT COUNT(DISTINCT hn) FROM ovst")

	report := v.Validate(context.Background(), cat, verdict, guard.Intent{}, scalar("count", int64(500)))

	assert.Equal(t, GradeLow, report.Grade)
	assert.True(t, report.Suspicious)
}

func TestValidateSmallCountsSkipComparison(t *testing.T) {
	runner := &fakeRunner{results: map[string]*executor.Result{
		"COUNT(DISTINCT vn)": scalar("count", int64(3)),
	}}
	v, g, cat := setup(t, runner)
	verdict := approved(t, g, cat, "SELECT COUNT(DISTINCT hn) FROM ovst")

	report := v.Validate(context.Background(), cat, verdict, guard.Intent{}, scalar("count", int64(5)))

	assert.Equal(t, GradeHigh, report.Grade)
	assert.False(t, report.Suspicious)
	assert.NotEmpty(t, report.Caveats)
}

func TestValidateMediumConfidencePathsCapGrade(t *testing.T) {
	runner := &fakeRunner{}
	v, g, cat := setup(t, runner)
	verdict := approved(t, g, cat,
		"SELECT COUNT(DISTINCT hn) FROM ovst JOIN opitemrece ON ovst.vn = opitemrece.vn")

	report := v.Validate(context.Background(), cat, verdict, guard.Intent{}, scalar("count", int64(200)))

	assert.Equal(t, GradeMedium, report.Grade)
	assert.False(t, report.Suspicious)
	f, ok := findingByCheck(report, "alternate_key")
	require.True(t, ok)
	assert.Equal(t, Skipped, f.Status)
	assert.Empty(t, runner.calls, "no aux query over a medium-confidence path")
}

func TestValidateEmptyResult(t *testing.T) {
	t.Run("metric intent fails", func(t *testing.T) {
		v, _, cat := setup(t, &fakeRunner{})
		report := v.Validate(context.Background(), cat, guard.Verdict{},
			guard.Intent{MetricKind: guard.MetricCount}, &executor.Result{})
		assert.Equal(t, GradeLow, report.Grade)
		assert.True(t, report.Suspicious)
	})

	t.Run("listing intent is a caveat", func(t *testing.T) {
		v, _, cat := setup(t, &fakeRunner{})
		report := v.Validate(context.Background(), cat, guard.Verdict{},
			guard.Intent{RowClass: guard.RowClassListing}, &executor.Result{})
		assert.Equal(t, GradeHigh, report.Grade)
		assert.False(t, report.Suspicious)
		assert.NotEmpty(t, report.Caveats)
	})
}

func TestValidatePercentageRange(t *testing.T) {
	tests := []struct {
		name       string
		value      any
		suspicious bool
	}{
		{"in range", 42.5, false},
		{"over 100", 130.0, true},
		{"negative", -1.0, true},
		{"string number over", "250", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, _, cat := setup(t, &fakeRunner{})
			report := v.Validate(context.Background(), cat, guard.Verdict{},
				guard.Intent{MetricKind: guard.MetricPercentage, MetricColumn: "pct"},
				scalar("pct", tt.value))
			assert.Equal(t, tt.suspicious, report.Suspicious)
		})
	}
}

func TestValidatePercentageRangeScoping(t *testing.T) {
	mixed := func(pctCol string, pct any) *executor.Result {
		return &executor.Result{
			Columns: []string{"dept_code", "visits", pctCol},
			Rows: []map[string]any{
				{"dept_code": "OPD", "visits": int64(450), pctCol: pct},
				{"dept_code": "ER", "visits": int64(180), pctCol: pct},
			},
			RowCount: 2,
		}
	}

	t.Run("count beside percentage is not flagged", func(t *testing.T) {
		v, _, cat := setup(t, &fakeRunner{})
		report := v.Validate(context.Background(), cat, guard.Verdict{},
			guard.Intent{MetricKind: guard.MetricPercentage},
			mixed("share_pct", 42.5))
		assert.False(t, report.Suspicious)
		f, ok := findingByCheck(report, "range")
		require.True(t, ok)
		assert.Equal(t, Passed, f.Status)
	})

	t.Run("percentage column out of range still fails", func(t *testing.T) {
		v, _, cat := setup(t, &fakeRunner{})
		report := v.Validate(context.Background(), cat, guard.Verdict{},
			guard.Intent{MetricKind: guard.MetricPercentage},
			mixed("share_pct", 130.0))
		assert.True(t, report.Suspicious)
	})

	t.Run("named metric column wins over name heuristics", func(t *testing.T) {
		v, _, cat := setup(t, &fakeRunner{})
		res := &executor.Result{
			Columns:  []string{"coverage", "visits"},
			Rows:     []map[string]any{{"coverage": 250.0, "visits": int64(10)}},
			RowCount: 1,
		}
		report := v.Validate(context.Background(), cat, guard.Verdict{},
			guard.Intent{MetricKind: guard.MetricPercentage, MetricColumn: "coverage"}, res)
		assert.True(t, report.Suspicious)
	})

	t.Run("no percentage column skips the check", func(t *testing.T) {
		v, _, cat := setup(t, &fakeRunner{})
		report := v.Validate(context.Background(), cat, guard.Verdict{},
			guard.Intent{MetricKind: guard.MetricPercentage},
			scalar("visits", int64(900)))
		f, ok := findingByCheck(report, "range")
		require.True(t, ok)
		assert.Equal(t, Skipped, f.Status)
		assert.False(t, report.Suspicious)
	})
}

func TestValidateDenominator(t *testing.T) {
	t.Run("zero denominator is suspicious", func(t *testing.T) {
		runner := &fakeRunner{results: map[string]*executor.Result{
			"COUNT(*)": scalar("count", int64(0)),
		}}
		v, _, cat := setup(t, runner)
		report := v.Validate(context.Background(), cat, guard.Verdict{},
			guard.Intent{DenominatorSQL: "SELECT COUNT(*) FROM ovst"},
			scalar("pct", 12.0))
		assert.True(t, report.Suspicious)
		assert.Equal(t, GradeLow, report.Grade)
	})

	t.Run("healthy denominator passes", func(t *testing.T) {
		runner := &fakeRunner{results: map[string]*executor.Result{
			"COUNT(*)": scalar("count", int64(900)),
		}}
		v, _, cat := setup(t, runner)
		report := v.Validate(context.Background(), cat, guard.Verdict{},
			guard.Intent{DenominatorSQL: "SELECT COUNT(*) FROM ovst"},
			scalar("pct", 12.0))
		f, ok := findingByCheck(report, "denominator")
		require.True(t, ok)
		assert.Equal(t, Passed, f.Status)
	})

	t.Run("rejected aux query is skipped and caps grade", func(t *testing.T) {
		runner := &fakeRunner{}
		v, _, cat := setup(t, runner)
		report := v.Validate(context.Background(), cat, guard.Verdict{},
			guard.Intent{DenominatorSQL: "SELECT * FROM ovst"},
			scalar("pct", 12.0))
		f, ok := findingByCheck(report, "denominator")
		require.True(t, ok)
		assert.Equal(t, Skipped, f.Status)
		assert.Equal(t, GradeLow, report.Grade)
		assert.Empty(t, runner.calls, "rejected aux queries never run")
	})
}

func TestValidateConceptGrading(t *testing.T) {
	v, _, cat := setup(t, &fakeRunner{})

	report := v.Validate(context.Background(), cat, guard.Verdict{}, guard.Intent{
		Concepts: []guard.ConceptUse{{Name: "sepsis", Fallback: true}},
	}, scalar("count", int64(50)))
	assert.Equal(t, GradeMedium, report.Grade)
	assert.NotEmpty(t, report.Caveats)

	report = v.Validate(context.Background(), cat, guard.Verdict{}, guard.Intent{
		Concepts: []guard.ConceptUse{{Name: "sepsis", Ambiguous: true}},
	}, scalar("count", int64(50)))
	assert.Equal(t, GradeLow, report.Grade)
}
