// Package audit persists one record per pipeline turn to a local SQLite
// database. Records are append-only; nothing ever updates or deletes them.
package audit

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // sqlite driver
)

//go:embed migrations/*.sql
var migrations embed.FS

// ErrNotFound is returned by Get for an unknown record ID.
var ErrNotFound = errors.New("audit: record not found")

// Record is one pipeline turn, terminal state included. JSON sub-documents
// (tables, validator findings) are stored marshaled so the row is written
// in a single INSERT.
type Record struct {
	ID            string          `json:"id"`
	CreatedAt     time.Time       `json:"created_at"`
	Actor         string          `json:"actor,omitempty"`
	Question      string          `json:"question"`
	CandidateSQL  string          `json:"candidate_sql"`
	NormalizedSQL string          `json:"normalized_sql,omitempty"`
	Status        string          `json:"status"`
	GuardOutcome  string          `json:"guard_outcome,omitempty"`
	GuardReason   string          `json:"guard_reason,omitempty"`
	GuardDetail   string          `json:"guard_detail,omitempty"`
	Tables        []string        `json:"tables,omitempty"`
	Aggregate     bool            `json:"aggregate"`
	Revised       bool            `json:"revised"`
	RowCount      int             `json:"row_count"`
	Truncated     bool            `json:"truncated"`
	DurationMS    int64           `json:"duration_ms"`
	Grade         string          `json:"grade,omitempty"`
	Suspicious    bool            `json:"suspicious"`
	Findings      json.RawMessage `json:"findings,omitempty"`
	ErrorKind     string          `json:"error_kind,omitempty"`
	ErrorDetail   string          `json:"error_detail,omitempty"`
}

// Store is the append-only audit log.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// Open opens (creating if needed) the audit database at path and runs
// pending migrations. Use ":memory:" for tests. A nil logger discards.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("audit: create directory: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: open database: %w", err)
	}
	// One connection: SQLite has a single writer anyway, and this keeps
	// the in-memory database from splitting across pool connections.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("audit: ping database: %w", err)
	}

	s := &Store{db: db, path: path, logger: logger}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite"); err != nil {
		return fmt.Errorf("audit: set dialect: %w", err)
	}
	if err := goose.Up(s.db, "migrations"); err != nil {
		return fmt.Errorf("audit: run migrations: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append writes one record in a single INSERT. A missing ID or timestamp
// is filled in.
func (s *Store) Append(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	tablesJSON, err := json.Marshal(rec.Tables)
	if err != nil {
		return fmt.Errorf("audit: marshal tables: %w", err)
	}
	findings := rec.Findings
	if len(findings) == 0 {
		findings = json.RawMessage("[]")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_runs (
			id, created_at, actor, question, candidate_sql, normalized_sql,
			status, guard_outcome, guard_reason, guard_detail, tables_json,
			aggregate, revised, row_count, truncated, duration_ms,
			grade, suspicious, findings_json, error_kind, error_detail
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.CreatedAt, rec.Actor, rec.Question, rec.CandidateSQL,
		rec.NormalizedSQL, rec.Status, rec.GuardOutcome, rec.GuardReason,
		rec.GuardDetail, string(tablesJSON), rec.Aggregate, rec.Revised,
		rec.RowCount, rec.Truncated, rec.DurationMS, rec.Grade,
		rec.Suspicious, string(findings), rec.ErrorKind, rec.ErrorDetail,
	)
	if err != nil {
		return fmt.Errorf("audit: append record: %w", err)
	}

	s.logger.Debug("audit record written",
		slog.String("id", rec.ID), slog.String("status", rec.Status))
	return nil
}

const selectColumns = `
	id, created_at, actor, question, candidate_sql, normalized_sql,
	status, guard_outcome, guard_reason, guard_detail, tables_json,
	aggregate, revised, row_count, truncated, duration_ms,
	grade, suspicious, findings_json, error_kind, error_detail`

// Get retrieves one record by ID.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT`+selectColumns+` FROM audit_runs WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("audit: get record: %w", err)
	}
	return rec, nil
}

// List returns the newest records first, at most limit of them.
func (s *Store) List(ctx context.Context, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT`+selectColumns+` FROM audit_runs ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: list records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("audit: scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: list records: %w", err)
	}
	return records, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	rec := &Record{}
	var tablesJSON, findingsJSON string
	err := row.Scan(
		&rec.ID, &rec.CreatedAt, &rec.Actor, &rec.Question,
		&rec.CandidateSQL, &rec.NormalizedSQL, &rec.Status,
		&rec.GuardOutcome, &rec.GuardReason, &rec.GuardDetail, &tablesJSON,
		&rec.Aggregate, &rec.Revised, &rec.RowCount, &rec.Truncated,
		&rec.DurationMS, &rec.Grade, &rec.Suspicious, &findingsJSON,
		&rec.ErrorKind, &rec.ErrorDetail,
	)
	if err != nil {
		return nil, err
	}
	if tablesJSON != "" && tablesJSON != "null" {
		if err := json.Unmarshal([]byte(tablesJSON), &rec.Tables); err != nil {
			return nil, fmt.Errorf("bad tables json: %w", err)
		}
	}
	if findingsJSON != "" && findingsJSON != "[]" {
		rec.Findings = json.RawMessage(findingsJSON)
	}
	return rec, nil
}
