package executor

import "fmt"

// ErrorKind classifies execution failures for the orchestrator: timeouts
// and connection failures are environmental and reported as-is, database
// errors may feed a revision attempt.
type ErrorKind string

const (
	KindTimeout    ErrorKind = "timeout"
	KindConnection ErrorKind = "connection_error"
	KindDatabase   ErrorKind = "database_error"
)

// Error wraps a failed execution with its classification.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Redacted returns a user-safe message. Driver errors can echo query text
// and literals, so end users only ever see the canned form.
func (e *Error) Redacted() string {
	switch e.Kind {
	case KindTimeout:
		return "the query exceeded its time budget and was cancelled"
	case KindConnection:
		return "could not reach the database"
	default:
		return "the database rejected the query"
	}
}
