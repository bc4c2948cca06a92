// Package pipeline orchestrates one question turn: guard the candidate SQL,
// execute it under budget, validate the result, and allow at most one
// revision round before settling on a terminal outcome.
//
// The pipeline never builds SQL itself. Revised candidates come from a
// Reviser, and every revised candidate goes back through the guard like any
// other. A PHI rejection is terminal immediately; no revision is attempted.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/leapstack-labs/wardsql/internal/audit"
	"github.com/leapstack-labs/wardsql/internal/executor"
	"github.com/leapstack-labs/wardsql/internal/validator"
	"github.com/leapstack-labs/wardsql/pkg/catalog"
	"github.com/leapstack-labs/wardsql/pkg/guard"
)

// State of one turn as it moves through the pipeline.
type State int

const (
	StateReceived State = iota
	StateGuarding
	StateExecuting
	StateValidating
	StateRevising
	StateDone
)

var stateNames = map[State]string{
	StateReceived:   "received",
	StateGuarding:   "guarding",
	StateExecuting:  "executing",
	StateValidating: "validating",
	StateRevising:   "revising",
	StateDone:       "done",
}

func (s State) String() string { return stateNames[s] }

// Status is a terminal outcome kind.
type Status string

const (
	StatusAnswered           Status = "answered"
	StatusAnsweredWithCaveat Status = "answered_with_caveat"
	StatusRefused            Status = "refused"
	StatusErrored            Status = "errored"
	StatusNeedsClarification Status = "needs_clarification"
)

// Turn is one question with its candidate query.
type Turn struct {
	Question  string
	Candidate guard.CandidateQuery
	Actor     string
}

// Outcome is the terminal result of one turn.
type Outcome struct {
	Status        Status
	Reason        string
	Explanation   string
	Verdict       guard.Verdict
	Result        *executor.Result
	Report        validator.Report
	Revised       bool
	Clarification *guard.Clarification
	AuditID       string
}

// Reviser produces a corrected candidate from rejection feedback. The
// report is nil when the guard rejected before execution.
type Reviser interface {
	Revise(ctx context.Context, turn Turn, verdict guard.Verdict, report *validator.Report) (guard.CandidateQuery, error)
}

// Runner is the slice of the executor the pipeline needs.
type Runner interface {
	RunWithBudget(ctx context.Context, sql string, budget executor.Budget) (*executor.Result, error)
	Budget() executor.Budget
}

// Checker validates an executed result.
type Checker interface {
	Validate(ctx context.Context, cat *catalog.Catalog, verdict guard.Verdict, intent guard.Intent, res *executor.Result) validator.Report
}

// Auditor persists one record per turn.
type Auditor interface {
	Append(ctx context.Context, rec *audit.Record) error
}

// Pipeline wires the components of one deployment together.
type Pipeline struct {
	catalog *catalog.Handle
	guard   *guard.Guard
	runner  Runner
	checker Checker
	reviser Reviser
	auditor Auditor
	logger  *slog.Logger
}

// New creates a pipeline. reviser may be nil (rejections become terminal
// without a revision round). A nil logger discards.
func New(h *catalog.Handle, g *guard.Guard, runner Runner, checker Checker, reviser Reviser, auditor Auditor, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Pipeline{
		catalog: h,
		guard:   g,
		runner:  runner,
		checker: checker,
		reviser: reviser,
		auditor: auditor,
		logger:  logger,
	}
}

// turnState carries working data across state transitions.
type turnState struct {
	turn      Turn
	cat       *catalog.Catalog
	candidate guard.CandidateQuery
	verdict   guard.Verdict
	result    *executor.Result
	report    validator.Report
	validated bool
	revised   bool
	started   time.Time
	outcome   *Outcome
}

// Process runs one turn to a terminal outcome and writes exactly one audit
// record before returning. The returned error reports audit persistence
// failure only; the turn itself always terminates in an Outcome.
func (p *Pipeline) Process(ctx context.Context, turn Turn) (*Outcome, error) {
	s := &turnState{
		turn:      turn,
		cat:       p.catalog.Current(),
		candidate: turn.Candidate,
		started:   time.Now(),
	}

	// The transition loop is the retry bound: StateRevising can only be
	// entered while s.revised is false, so no path visits a state twice
	// with the same inputs.
	for state := StateReceived; state != StateDone; {
		next := p.step(ctx, state, s)
		p.logger.Debug("pipeline transition",
			slog.String("from", state.String()), slog.String("to", next.String()))
		state = next
	}

	rec := p.buildRecord(s)
	if err := p.auditor.Append(ctx, rec); err != nil {
		return s.outcome, fmt.Errorf("pipeline: audit append: %w", err)
	}
	s.outcome.AuditID = rec.ID
	return s.outcome, nil
}

func (p *Pipeline) step(ctx context.Context, state State, s *turnState) State {
	switch state {
	case StateReceived:
		if c := s.candidate.Intent.Clarification; c.Needed {
			s.outcome = &Outcome{
				Status:        StatusNeedsClarification,
				Reason:        "needs_clarification",
				Explanation:   c.Question,
				Clarification: &c,
			}
			return StateDone
		}
		return StateGuarding

	case StateGuarding:
		s.verdict = p.guard.Check(s.cat, s.candidate)
		if s.verdict.Approved() {
			return StateExecuting
		}
		if s.verdict.Reason == guard.ReasonPhiExposure {
			// Terminal. A query shaped around protected data does not
			// get a second draft.
			return p.refuse(s)
		}
		if !s.revised && p.reviser != nil {
			return StateRevising
		}
		return p.refuse(s)

	case StateExecuting:
		res, err := p.runner.RunWithBudget(ctx, s.verdict.NormalizedSQL, p.runner.Budget())
		if err == nil {
			s.result = res
			return StateValidating
		}
		kind, revisable := executorFailure(err)
		if revisable && !s.revised && p.reviser != nil {
			s.verdict.Detail = err.Error()
			return StateRevising
		}
		return p.errored(s, kind, err)

	case StateValidating:
		s.report = p.checker.Validate(ctx, s.cat, s.verdict, s.candidate.Intent, s.result)
		s.validated = true
		if s.report.Suspicious && !s.revised && p.reviser != nil {
			return StateRevising
		}
		return p.answered(s)

	case StateRevising:
		s.revised = true
		var report *validator.Report
		if s.validated {
			report = &s.report
		}
		candidate, err := p.reviser.Revise(ctx, s.turn, s.verdict, report)
		if err != nil {
			return p.errored(s, "revision_failed", err)
		}
		s.candidate = candidate
		s.result = nil
		s.report = validator.Report{}
		s.validated = false
		return StateGuarding
	}

	// Unknown state: terminate rather than spin.
	return p.errored(s, "internal", fmt.Errorf("invalid pipeline state %v", state))
}

func (p *Pipeline) refuse(s *turnState) State {
	s.outcome = &Outcome{
		Status:      StatusRefused,
		Reason:      string(s.verdict.Reason),
		Explanation: refusalText(s.verdict),
		Verdict:     s.verdict,
		Revised:     s.revised,
	}
	return StateDone
}

func (p *Pipeline) errored(s *turnState, kind string, err error) State {
	explanation := "the query could not be completed"
	var execErr *executor.Error
	if errors.As(err, &execErr) {
		explanation = execErr.Redacted()
	}
	s.outcome = &Outcome{
		Status:      StatusErrored,
		Reason:      kind,
		Explanation: explanation,
		Verdict:     s.verdict,
		Revised:     s.revised,
	}
	p.logger.Warn("turn errored", slog.String("reason", kind), slog.Any("error", err))
	return StateDone
}

func (p *Pipeline) answered(s *turnState) State {
	status := StatusAnswered
	if s.report.Suspicious || s.report.Grade != validator.GradeHigh ||
		len(s.report.Caveats) > 0 || s.result.Truncated {
		status = StatusAnsweredWithCaveat
	}
	s.outcome = &Outcome{
		Status:      status,
		Reason:      string(s.report.Grade),
		Explanation: answerText(s),
		Verdict:     s.verdict,
		Result:      s.result,
		Report:      s.report,
		Revised:     s.revised,
	}
	return StateDone
}

// executorFailure classifies an execution error: database errors are worth
// a revision round (the SQL may use an unsupported construct), timeouts and
// connection failures are environmental.
func executorFailure(err error) (kind string, revisable bool) {
	var execErr *executor.Error
	if errors.As(err, &execErr) {
		return string(execErr.Kind), execErr.Kind == executor.KindDatabase
	}
	return "internal", false
}

func refusalText(v guard.Verdict) string {
	switch v.Reason {
	case guard.ReasonPhiExposure:
		return "the query would expose protected patient data and was refused"
	case guard.ReasonWriteOperation:
		return "only read-only SELECT queries are allowed"
	case guard.ReasonUnknownIdentifier:
		return "the query references tables or columns not in the catalog"
	case guard.ReasonUnboundedRowLevel:
		return "row-level queries must carry a LIMIT within the configured maximum"
	case guard.ReasonWildcardProjection:
		return "SELECT * is not allowed; name the columns you need"
	case guard.ReasonUnsafeConstruct:
		return "the query uses a construct that is not allowed"
	default:
		return "the query could not be checked and was refused"
	}
}

func answerText(s *turnState) string {
	if s.result.Truncated {
		return fmt.Sprintf("returned %d rows (truncated at the row cap)", s.result.RowCount)
	}
	return fmt.Sprintf("returned %d rows", s.result.RowCount)
}

// buildRecord flattens the terminal state into one audit record.
func (p *Pipeline) buildRecord(s *turnState) *audit.Record {
	rec := &audit.Record{
		Actor:         s.turn.Actor,
		Question:      s.turn.Question,
		CandidateSQL:  s.candidate.SQL,
		NormalizedSQL: s.verdict.NormalizedSQL,
		Status:        string(s.outcome.Status),
		GuardOutcome:  string(s.verdict.Outcome),
		GuardReason:   string(s.verdict.Reason),
		GuardDetail:   s.verdict.Detail,
		Tables:        s.verdict.Tables,
		Aggregate:     s.verdict.Aggregate,
		Revised:       s.revised,
		DurationMS:    time.Since(s.started).Milliseconds(),
		Grade:         string(s.report.Grade),
		Suspicious:    s.report.Suspicious,
	}
	if s.result != nil {
		rec.RowCount = s.result.RowCount
		rec.Truncated = s.result.Truncated
	}
	if len(s.report.Findings) > 0 {
		if data, err := json.Marshal(s.report.Findings); err == nil {
			rec.Findings = data
		}
	}
	if s.outcome.Status == StatusErrored {
		rec.ErrorKind = s.outcome.Reason
		rec.ErrorDetail = s.outcome.Explanation
	}
	return rec
}
