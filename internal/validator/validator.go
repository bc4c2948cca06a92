// Package validator runs semantic sanity checks over an executed result:
// does the number look like what the question asked for.
//
// Checks are advisory by intent kind. Auxiliary queries issued by a check
// go through the guard first, with no exceptions, and run under the tighter
// aux budget so a check never costs more than the query it checks.
package validator

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/leapstack-labs/wardsql/internal/executor"
	"github.com/leapstack-labs/wardsql/pkg/catalog"
	"github.com/leapstack-labs/wardsql/pkg/guard"
)

// Grade is the confidence attached to an answer.
type Grade string

const (
	GradeHigh   Grade = "high"
	GradeMedium Grade = "medium"
	GradeLow    Grade = "low"
)

// rank orders grades for capping.
func (g Grade) rank() int {
	switch g {
	case GradeHigh:
		return 2
	case GradeMedium:
		return 1
	default:
		return 0
	}
}

// Status of one check.
type Status string

const (
	Passed  Status = "passed"
	Failed  Status = "failed"
	Skipped Status = "skipped"
)

// Finding is one check outcome.
type Finding struct {
	Check  string `json:"check"`
	Status Status `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Report is the validator's verdict over one result.
type Report struct {
	Findings   []Finding `json:"findings"`
	Grade      Grade     `json:"grade"`
	Suspicious bool      `json:"suspicious"`
	Caveats    []string  `json:"caveats,omitempty"`
}

// Config tunes the checks.
type Config struct {
	// Tolerance is the relative divergence allowed by comparison checks.
	Tolerance float64 `koanf:"tolerance"`
	// SmallCountFloor is the count below which comparisons are skipped;
	// small numbers diverge wildly in relative terms.
	SmallCountFloor int `koanf:"small_count_floor"`
}

// DefaultConfig matches production defaults.
func DefaultConfig() Config {
	return Config{Tolerance: 0.05, SmallCountFloor: 20}
}

// Runner is the slice of the executor the validator needs.
type Runner interface {
	RunWithBudget(ctx context.Context, sql string, budget executor.Budget) (*executor.Result, error)
	Budget() executor.Budget
}

// Validator checks executed results against their stated intent.
type Validator struct {
	guard  *guard.Guard
	runner Runner
	cfg    Config
	logger *slog.Logger
}

// New creates a validator. A nil logger discards.
func New(g *guard.Guard, runner Runner, cfg Config, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = DefaultConfig().Tolerance
	}
	if cfg.SmallCountFloor <= 0 {
		cfg.SmallCountFloor = DefaultConfig().SmallCountFloor
	}
	return &Validator{guard: g, runner: runner, cfg: cfg, logger: logger}
}

// run carries mutable grading state through the checks.
type run struct {
	report Report
}

func (r *run) finding(check string, status Status, detail string) {
	r.report.Findings = append(r.report.Findings, Finding{Check: check, Status: status, Detail: detail})
}

func (r *run) cap(g Grade) {
	if g.rank() < r.report.Grade.rank() {
		r.report.Grade = g
	}
}

func (r *run) caveat(msg string) {
	r.report.Caveats = append(r.report.Caveats, msg)
}

func (r *run) fail(check, detail string) {
	r.finding(check, Failed, detail)
	r.report.Suspicious = true
	r.cap(GradeLow)
}

// Validate grades one executed result against the intent it served.
func (v *Validator) Validate(ctx context.Context, cat *catalog.Catalog, verdict guard.Verdict, intent guard.Intent, res *executor.Result) Report {
	r := &run{report: Report{Grade: GradeHigh}}

	v.checkNonEmpty(r, intent, res)
	v.checkRange(r, intent, res)
	v.checkDenominator(ctx, r, cat, intent)
	v.checkAlternateKey(ctx, r, cat, verdict, res)
	v.gradeConcepts(r, intent)

	v.logger.Debug("validation complete",
		slog.String("grade", string(r.report.Grade)),
		slog.Bool("suspicious", r.report.Suspicious))
	return r.report
}

// checkNonEmpty: a metric question with zero rows answered nothing.
func (v *Validator) checkNonEmpty(r *run, intent guard.Intent, res *executor.Result) {
	if res.RowCount > 0 {
		r.finding("non_empty", Passed, "")
		return
	}
	if intent.MetricKind != "" {
		r.fail("non_empty", "metric query returned no rows")
		return
	}
	r.finding("non_empty", Passed, "result is empty")
	r.caveat("the query matched no rows")
}

// checkRange: percentages live in [0, 100]. The scan covers only the
// intent's metric column, or columns named like a percentage when the
// intent does not name one. A count sitting next to the percentage is
// not this check's business.
func (v *Validator) checkRange(r *run, intent guard.Intent, res *executor.Result) {
	if intent.MetricKind != guard.MetricPercentage {
		return
	}
	cols := percentageColumns(res.Columns, intent.MetricColumn)
	if len(cols) == 0 {
		r.finding("range", Skipped, "no percentage column to check")
		return
	}
	for _, row := range res.Rows {
		for _, name := range cols {
			f, ok := asFloat(row[name])
			if !ok {
				continue
			}
			if f < 0 || f > 100 {
				r.fail("range", fmt.Sprintf("value %v in %q is outside [0, 100]", row[name], name))
				return
			}
		}
	}
	r.finding("range", Passed, "")
}

// percentageNames mark a column as percentage-like when the intent does
// not name the metric column.
var percentageNames = []string{"percent", "pct", "rate", "ratio", "share"}

func percentageColumns(columns []string, metric string) []string {
	var cols []string
	for _, col := range columns {
		name := strings.ToLower(col)
		if metric != "" {
			if strings.Contains(name, strings.ToLower(metric)) {
				cols = append(cols, col)
			}
			continue
		}
		for _, p := range percentageNames {
			if strings.Contains(name, p) {
				cols = append(cols, col)
				break
			}
		}
	}
	return cols
}

// checkDenominator: a ratio or percentage needs a non-zero denominator. The
// aux query is guarded like any other.
func (v *Validator) checkDenominator(ctx context.Context, r *run, cat *catalog.Catalog, intent guard.Intent) {
	if intent.DenominatorSQL == "" {
		return
	}

	verdict := v.guard.Check(cat, guard.CandidateQuery{SQL: intent.DenominatorSQL})
	if !verdict.Approved() {
		r.finding("denominator", Skipped, fmt.Sprintf("denominator query rejected: %s", verdict.Detail))
		r.cap(GradeLow)
		return
	}

	res, err := v.runner.RunWithBudget(ctx, verdict.NormalizedSQL, v.runner.Budget().Aux())
	if err != nil {
		r.finding("denominator", Skipped, fmt.Sprintf("denominator query failed: %v", err))
		r.cap(GradeLow)
		return
	}

	den, ok := firstNumeric(res)
	if !ok {
		r.finding("denominator", Skipped, "denominator query returned no number")
		r.cap(GradeLow)
		return
	}
	if den <= 0 {
		r.fail("denominator", "denominator is zero")
		return
	}
	r.finding("denominator", Passed, "")
}

// distinctPatientRe matches the projection the alternate-key check
// rewrites: a patient count recomputed as a visit count must not be
// smaller. Normalization fixes the spacing; identifier case is free.
var distinctPatientRe = regexp.MustCompile(`(?i)count\(DISTINCT hn\)`)

const distinctVisit = "COUNT(DISTINCT vn)"

// checkAlternateKey recomputes a scalar distinct-patient count over the
// visit key. More patients than visits is impossible, so divergence that
// way flags the result. Only applies when the join paths involved carry a
// high-confidence edge; medium-only paths cap the grade instead, since the
// recomputation itself would be built on a guess.
func (v *Validator) checkAlternateKey(ctx context.Context, r *run, cat *catalog.Catalog, verdict guard.Verdict, res *executor.Result) {
	if !verdict.Aggregate || res.RowCount != 1 {
		return
	}
	if !distinctPatientRe.MatchString(verdict.NormalizedSQL) {
		return
	}

	if !highConfidencePaths(cat, verdict.Tables) {
		r.finding("alternate_key", Skipped, "join paths carry medium confidence only")
		r.cap(GradeMedium)
		r.caveat("cross-checked join paths are medium confidence")
		return
	}

	altSQL := distinctPatientRe.ReplaceAllString(verdict.NormalizedSQL, distinctVisit)
	altVerdict := v.guard.Check(cat, guard.CandidateQuery{SQL: altSQL})
	if !altVerdict.Approved() {
		r.finding("alternate_key", Skipped, "alternate key not available for these tables")
		r.cap(GradeMedium)
		return
	}

	altRes, err := v.runner.RunWithBudget(ctx, altVerdict.NormalizedSQL, v.runner.Budget().Aux())
	if err != nil {
		r.finding("alternate_key", Skipped, fmt.Sprintf("alternate-key query failed: %v", err))
		r.cap(GradeLow)
		return
	}

	patients, ok1 := firstNumeric(res)
	visits, ok2 := firstNumeric(altRes)
	if !ok1 || !ok2 {
		r.finding("alternate_key", Skipped, "no numeric value to compare")
		return
	}
	if patients < float64(v.cfg.SmallCountFloor) && visits < float64(v.cfg.SmallCountFloor) {
		r.finding("alternate_key", Passed, "counts too small for a meaningful comparison")
		r.caveat("counts are small; treat the figure with care")
		return
	}
	if patients > visits*(1+v.cfg.Tolerance) {
		r.fail("alternate_key", fmt.Sprintf("distinct patients (%.0f) exceed distinct visits (%.0f)", patients, visits))
		return
	}
	r.finding("alternate_key", Passed, "")
}

// gradeConcepts folds concept resolution into the grade.
func (v *Validator) gradeConcepts(r *run, intent guard.Intent) {
	if intent.HasAmbiguousConcept() {
		r.cap(GradeLow)
		r.caveat("an ambiguous clinical concept was not clarified")
	}
	if intent.HasFallbackConcept() {
		r.cap(GradeMedium)
		r.caveat("a default concept definition was assumed")
	}
	for _, a := range intent.Assumptions {
		r.caveat(a)
	}
}

// highConfidencePaths reports whether every table pair in use is reachable
// over at least one high-confidence edge, directly or trivially. Single
// table queries trivially qualify.
func highConfidencePaths(cat *catalog.Catalog, tables []string) bool {
	if len(tables) <= 1 {
		return true
	}
	for _, from := range tables {
		entry, ok := cat.Resolve(from)
		if !ok {
			return false
		}
		high := false
		for _, key := range cat.UniversalKeys() {
			for _, edge := range cat.JoinEdges(entry.Name, key) {
				if edge.Confidence == catalog.ConfidenceHigh {
					high = true
				}
			}
		}
		if !high {
			return false
		}
	}
	return true
}

// firstNumeric pulls the first numeric value of the first row, scanning
// columns in result order.
func firstNumeric(res *executor.Result) (float64, bool) {
	if res == nil || len(res.Rows) == 0 {
		return 0, false
	}
	row := res.Rows[0]
	for _, col := range res.Columns {
		if f, ok := asFloat(row[col]); ok {
			return f, true
		}
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	}
	return 0, false
}
