package guard

// RowClass is the generator's declared expectation for how many rows the
// query returns.
type RowClass string

const (
	RowClassUnknown RowClass = ""
	RowClassSingle  RowClass = "single" // one summary row
	RowClassGrouped RowClass = "grouped" // a handful of grouped rows
	RowClassListing RowClass = "listing" // row-level listing
)

// MetricKind classifies the primary metric for validation purposes.
type MetricKind string

const (
	MetricNone       MetricKind = ""
	MetricCount      MetricKind = "count"
	MetricPercentage MetricKind = "percentage"
	MetricRatio      MetricKind = "ratio"
	MetricAverage    MetricKind = "average"
)

// TimeWindow bounds the period a query is meant to cover. Zero values mean
// unbounded on that side. Dates are ISO-8601 (yyyy-mm-dd).
type TimeWindow struct {
	Start string
	End   string
}

// ConceptUse records one clinical concept the generator mapped the question
// onto. Ambiguous or fallback mappings lower the validator's confidence
// grade.
type ConceptUse struct {
	Name      string
	Ambiguous bool // several plausible definitions existed
	Fallback  bool // default definition used, not confirmed by the user
}

// Clarification is set when the generator could not map the question to an
// unambiguous cohort or metric. The pipeline short-circuits before the
// guard runs.
type Clarification struct {
	Needed   bool
	Question string
	Options  []string
}

// Intent is the declared metadata accompanying a candidate query. It comes
// from the untrusted generator: the guard verifies the SQL itself and the
// validator uses intent only to choose which checks to run.
type Intent struct {
	AggregateOnly bool
	RowClass      RowClass
	Window        TimeWindow
	MetricKind    MetricKind
	MetricColumn  string // result column holding the metric, e.g. "percent"
	// DenominatorSQL is the generator's denominator query for ratio
	// metrics. It is guarded like any other SQL before execution.
	DenominatorSQL string
	Concepts       []ConceptUse
	Assumptions    []string
	Clarification  Clarification
}

// HasAmbiguousConcept reports whether any concept mapping was ambiguous.
func (in Intent) HasAmbiguousConcept() bool {
	for _, c := range in.Concepts {
		if c.Ambiguous {
			return true
		}
	}
	return false
}

// HasFallbackConcept reports whether any concept mapping fell back to a
// default definition.
func (in Intent) HasFallbackConcept() bool {
	for _, c := range in.Concepts {
		if c.Fallback {
			return true
		}
	}
	return false
}

// CandidateQuery is one SQL candidate plus its intent metadata.
type CandidateQuery struct {
	SQL    string
	Intent Intent
}
