// Package executor runs guard-approved SQL under a strict time and row
// budget on a dedicated connection.
//
// Every query gets its own connection from the pool, prepared read-only by
// the adapter. On timeout the connection is poisoned so the pool discards
// it instead of handing a possibly still-busy session to the next caller.
package executor

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"log/slog"
	"time"
)

// Budget bounds one execution.
type Budget struct {
	Timeout time.Duration
	RowCap  int
}

// DefaultBudget matches the production defaults for user-facing queries.
func DefaultBudget() Budget {
	return Budget{Timeout: 15 * time.Second, RowCap: 2000}
}

// Aux returns the tighter budget used for validation side-queries: half the
// timeout and a lower row cap, so checks never cost more than the query
// they are checking.
func (b Budget) Aux() Budget {
	return Budget{Timeout: b.Timeout / 2, RowCap: 1000}
}

// Result is one bounded result set.
type Result struct {
	Columns   []string
	Rows      []map[string]any
	RowCount  int
	Duration  time.Duration
	Truncated bool
}

// Session is the slice of an adapter the executor needs.
type Session interface {
	DB() *sql.DB
	PrepareSession(ctx context.Context, conn *sql.Conn, timeout time.Duration) error
}

// Executor runs queries against one session with a default budget.
type Executor struct {
	session Session
	budget  Budget
	logger  *slog.Logger
}

// New creates an executor. A nil logger discards.
func New(session Session, budget Budget, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if budget.Timeout <= 0 {
		budget.Timeout = DefaultBudget().Timeout
	}
	if budget.RowCap <= 0 {
		budget.RowCap = DefaultBudget().RowCap
	}
	return &Executor{session: session, budget: budget, logger: logger}
}

// Budget returns the executor's default budget.
func (e *Executor) Budget() Budget { return e.budget }

// Run executes one query under the default budget.
func (e *Executor) Run(ctx context.Context, query string) (*Result, error) {
	return e.RunWithBudget(ctx, query, e.budget)
}

// RunWithBudget executes one query under an explicit budget. Failures are
// always *Error.
func (e *Executor) RunWithBudget(ctx context.Context, query string, budget Budget) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, budget.Timeout)
	defer cancel()

	start := time.Now()

	conn, err := e.session.DB().Conn(ctx)
	if err != nil {
		return nil, e.fail(ctx, KindConnection, err)
	}
	defer func() { _ = conn.Close() }()

	if err := e.session.PrepareSession(ctx, conn, budget.Timeout); err != nil {
		return nil, e.fail(ctx, KindConnection, err)
	}

	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		poison(conn)
		return nil, e.fail(ctx, KindDatabase, err)
	}
	defer func() { _ = rows.Close() }()

	result, err := collect(rows, budget.RowCap)
	if err != nil {
		poison(conn)
		return nil, e.fail(ctx, KindDatabase, err)
	}
	result.Duration = time.Since(start)

	e.logger.Debug("query executed",
		slog.Int("rows", result.RowCount),
		slog.Bool("truncated", result.Truncated),
		slog.Duration("duration", result.Duration))
	return result, nil
}

// fail classifies an error, preferring the context verdict: a driver error
// surfaced after the deadline fired is a timeout, not a database problem.
func (e *Executor) fail(ctx context.Context, kind ErrorKind, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		kind = KindTimeout
	}
	e.logger.Warn("query failed", slog.String("kind", string(kind)), slog.Any("error", err))
	return &Error{Kind: kind, Err: err}
}

// poison marks the connection bad so the pool drops it on Close. A session
// that timed out mid-statement may still be executing server-side.
func poison(conn *sql.Conn) {
	_ = conn.Raw(func(driverConn any) error {
		return driver.ErrBadConn
	})
}

// collect scans up to rowCap rows into generic maps, fetching one extra row
// to detect truncation.
func collect(rows *sql.Rows, rowCap int) (*Result, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	result := &Result{Columns: cols}
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if result.RowCount == rowCap {
			result.Truncated = true
			break
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = normalizeValue(values[i])
		}
		result.Rows = append(result.Rows, row)
		result.RowCount++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// normalizeValue makes driver values JSON-friendly.
func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
