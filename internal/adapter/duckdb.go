package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/marcboeker/go-duckdb" // duckdb driver
)

func init() {
	Register("duckdb", func(logger *slog.Logger) Adapter { return NewDuckDB(logger) })
}

// DuckDB runs queries against a local analytics extract. Used for local
// development and for HIS sites that ship parquet snapshots instead of a
// live replica.
type DuckDB struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewDuckDB creates a DuckDB adapter. A nil logger discards.
func NewDuckDB(logger *slog.Logger) *DuckDB {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &DuckDB{logger: logger}
}

func (d *DuckDB) Name() string { return "duckdb" }

// Connect opens the database file. Use ":memory:" for an in-memory database.
func (d *DuckDB) Connect(ctx context.Context, cfg Config) error {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}
	d.logger.Debug("opening duckdb", slog.String("path", path))

	dsn := path
	if path != ":memory:" {
		// File-backed extracts open read-only.
		dsn = path + "?access_mode=read_only"
	}
	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return fmt.Errorf("failed to open duckdb: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping duckdb: %w", err)
	}

	d.db = db
	return nil
}

func (d *DuckDB) Close() error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}

func (d *DuckDB) DB() *sql.DB { return d.db }

// PrepareSession is a no-op: the database opens read-only and DuckDB has no
// per-session statement timeout, so the client context deadline is the
// only time bound.
func (d *DuckDB) PrepareSession(ctx context.Context, conn *sql.Conn, timeout time.Duration) error {
	return nil
}

var _ Adapter = (*DuckDB)(nil)
