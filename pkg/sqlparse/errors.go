package sqlparse

import (
	"fmt"

	"github.com/leapstack-labs/wardsql/pkg/token"
)

// ParseError represents a parsing error with position information.
type ParseError struct {
	Pos     token.Position
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at line %d, column %d: %s", e.Pos.Line, e.Pos.Column, e.Message)
}

// Common error messages
const (
	ErrUnexpectedToken  = "unexpected token %s, expected %s"
	ErrTrailingInput    = "unexpected input after statement: %s"
	ErrMissingAlias     = "derived table requires an alias"
	ErrNotSelect        = "statement must begin with SELECT or WITH, got %s"
	ErrEmptySelectList  = "empty select list"
	ErrBadFrameBound    = "invalid window frame bound"
	ErrBadNullsOrdering = "expected FIRST or LAST after NULLS, got %q"
)
