// Package guard statically validates candidate SQL against the catalog
// before anything touches the database. A Guard is a pure function over
// the query text: no I/O, no network, safe for concurrent use.
package guard

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/go-viper/mapstructure/v2"

	"github.com/leapstack-labs/wardsql/pkg/catalog"
	"github.com/leapstack-labs/wardsql/pkg/sqlparse"
)

// Outcome is the binary guard decision.
type Outcome string

const (
	Approved Outcome = "approved"
	Rejected Outcome = "rejected"
)

// Reason identifies why a query was rejected. Approved verdicts carry an
// empty reason.
type Reason string

const (
	ReasonNone                 Reason = ""
	ReasonUnparseable          Reason = "unparseable"
	ReasonWriteOperation       Reason = "write_operation"
	ReasonPhiExposure          Reason = "phi_exposure"
	ReasonUnknownIdentifier    Reason = "unknown_identifier"
	ReasonUnboundedRowLevel    Reason = "unbounded_row_level_query"
	ReasonWildcardProjection   Reason = "wildcard_projection"
	ReasonUnsafeConstruct      Reason = "unsafe_construct"
)

// ColumnUse is one catalog column a query references, with its tag.
type ColumnUse struct {
	Table  string
	Column string
	Tag    catalog.Tag
}

// Verdict is the result of a guard check. An Approved verdict guarantees:
// no forbidden statement kinds anywhere in the tree, no PHI in the
// projection, and every table/column reference grounded in the catalog.
type Verdict struct {
	Outcome       Outcome
	Reason        Reason
	Detail        string // human-readable explanation
	NormalizedSQL string // canonical whitespace, set when the query lexes
	Tables        []string
	Columns       []ColumnUse
	Aggregate     bool // statement is aggregate-shaped (GROUP BY, DISTINCT, or aggregate funcs)
}

// Approved reports whether the verdict approved the query.
func (v Verdict) Approved() bool {
	return v.Outcome == Approved
}

// Config tunes the guard. The zero value is not usable; call DefaultConfig.
type Config struct {
	// MaxRows bounds the literal LIMIT a row-level query may carry.
	MaxRows int
	// BlockedKeywords extends the built-in write/admin keyword screen.
	BlockedKeywords []string
	// UnsafeFunctions extends the built-in admin function blocklist.
	UnsafeFunctions []string
	// PHIPatterns are extra regexes (on column names) treated as protected
	// in addition to the catalog's built-in patterns.
	PHIPatterns []string
	// RuleOptions carries per-rule option maps from configuration, keyed
	// by rule ID. Unknown keys are rejected at New time.
	RuleOptions map[string]map[string]any
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{MaxRows: 2000}
}

// Guard checks candidate queries against a fixed ordered rule set.
type Guard struct {
	cfg         Config
	phiPatterns []*regexp.Regexp
	blocked     map[string]struct{}
	unsafeFuncs map[string]struct{}
	rules       []ruleDef
}

// shapeOptions are per-rule options for the shape audit.
type shapeOptions struct {
	MaxRows int `mapstructure:"max_rows"`
}

// screenOptions are per-rule options for the keyword screen.
type screenOptions struct {
	Keywords []string `mapstructure:"keywords"`
}

// resourceOptions are per-rule options for the resource audit.
type resourceOptions struct {
	Functions []string `mapstructure:"functions"`
}

// New builds a guard, compiling configured PHI patterns and merging keyword
// and function blocklists. Invalid patterns or rule options are an error.
func New(cfg Config) (*Guard, error) {
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = DefaultConfig().MaxRows
	}

	g := &Guard{
		cfg:         cfg,
		blocked:     make(map[string]struct{}),
		unsafeFuncs: make(map[string]struct{}),
	}

	for _, p := range cfg.PHIPatterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("guard: bad phi pattern %q: %w", p, err)
		}
		g.phiPatterns = append(g.phiPatterns, re)
	}

	for w := range writeKeywords {
		g.blocked[w] = struct{}{}
	}
	for _, w := range cfg.BlockedKeywords {
		g.blocked[lower(w)] = struct{}{}
	}
	for f := range unsafeFunctions {
		g.unsafeFuncs[f] = struct{}{}
	}
	for _, f := range cfg.UnsafeFunctions {
		g.unsafeFuncs[lower(f)] = struct{}{}
	}

	if err := g.applyRuleOptions(cfg.RuleOptions); err != nil {
		return nil, err
	}

	g.rules = orderedRules()
	return g, nil
}

// applyRuleOptions decodes per-rule option maps into their typed option
// structs and folds them into the guard.
func (g *Guard) applyRuleOptions(opts map[string]map[string]any) error {
	for id, raw := range opts {
		var err error
		switch id {
		case RuleScreen:
			var o screenOptions
			if err = decodeOptions(raw, &o); err == nil {
				for _, w := range o.Keywords {
					g.blocked[lower(w)] = struct{}{}
				}
			}
		case RuleShape:
			var o shapeOptions
			if err = decodeOptions(raw, &o); err == nil && o.MaxRows > 0 {
				g.cfg.MaxRows = o.MaxRows
			}
		case RuleResource:
			var o resourceOptions
			if err = decodeOptions(raw, &o); err == nil {
				for _, f := range o.Functions {
					g.unsafeFuncs[lower(f)] = struct{}{}
				}
			}
		default:
			return fmt.Errorf("guard: options for unknown rule %q", id)
		}
		if err != nil {
			return fmt.Errorf("guard: bad options for rule %s: %w", id, err)
		}
	}
	return nil
}

func decodeOptions(raw map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      out,
		ErrorUnused: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(raw)
}

// Check runs the ordered rule set against one candidate. The first
// violation wins; later rules never see a query an earlier rule rejected.
func (g *Guard) Check(cat *catalog.Catalog, q CandidateQuery) Verdict {
	rc := &ruleContext{
		guard: g,
		cat:   cat,
		query: q,
	}

	for _, rule := range g.rules {
		if v := rule.Check(rc); v != nil {
			return Verdict{
				Outcome:       Rejected,
				Reason:        v.Reason,
				Detail:        fmt.Sprintf("%s: %s", rule.ID, v.Detail),
				NormalizedSQL: rc.normalized,
				Tables:        rc.tableList(),
				Aggregate:     rc.aggregate,
			}
		}
	}

	return Verdict{
		Outcome:       Approved,
		NormalizedSQL: rc.normalized,
		Tables:        rc.tableList(),
		Columns:       rc.columnList(),
		Aggregate:     rc.aggregate,
	}
}

// isPHIName checks the catalog's built-in patterns plus any configured
// extras. Used fail-closed for columns the catalog cannot tag.
func (g *Guard) isPHIName(name string) bool {
	if catalog.IsPHIName(name) {
		return true
	}
	for _, re := range g.phiPatterns {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

// ruleContext carries state across rules within one Check call. Earlier
// rules populate fields later rules depend on.
type ruleContext struct {
	guard *Guard
	cat   *catalog.Catalog
	query CandidateQuery

	normalized string
	stmt       *sqlparse.Statement
	aggregate  bool

	// populated once by the projection audit, consumed by later rules
	analysis   *analyzer
	topOutputs *relation

	// populated by the scope analyzer
	tables  map[string]struct{}
	columns map[ColumnUse]struct{}
}

func (rc *ruleContext) recordTable(name string) {
	if rc.tables == nil {
		rc.tables = make(map[string]struct{})
	}
	rc.tables[name] = struct{}{}
}

func (rc *ruleContext) recordColumn(use ColumnUse) {
	if rc.columns == nil {
		rc.columns = make(map[ColumnUse]struct{})
	}
	rc.columns[use] = struct{}{}
}

func (rc *ruleContext) tableList() []string {
	if len(rc.tables) == 0 {
		return nil
	}
	out := make([]string, 0, len(rc.tables))
	for t := range rc.tables {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (rc *ruleContext) columnList() []ColumnUse {
	if len(rc.columns) == 0 {
		return nil
	}
	out := make([]ColumnUse, 0, len(rc.columns))
	for c := range rc.columns {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Table != out[j].Table {
			return out[i].Table < out[j].Table
		}
		return out[i].Column < out[j].Column
	})
	return out
}
