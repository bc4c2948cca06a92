package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver
)

func init() {
	Register("postgres", func(logger *slog.Logger) Adapter { return NewPostgres(logger) })
}

// Postgres connects to a HIS PostgreSQL replica.
type Postgres struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgres creates a PostgreSQL adapter. A nil logger discards.
func NewPostgres(logger *slog.Logger) *Postgres {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Postgres{logger: logger}
}

func (p *Postgres) Name() string { return "postgres" }

// Connect opens and pings the database.
func (p *Postgres) Connect(ctx context.Context, cfg Config) error {
	dsn := buildPostgresDSN(cfg)
	p.logger.Debug("connecting to postgres",
		slog.String("host", cfg.Host), slog.String("database", cfg.Database))

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("failed to open postgres connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping postgres: %w", err)
	}

	p.db = db
	return nil
}

func (p *Postgres) Close() error {
	if p.db == nil {
		return nil
	}
	return p.db.Close()
}

func (p *Postgres) DB() *sql.DB { return p.db }

// PrepareSession makes the connection read-only and sets a server-side
// statement timeout slightly above the client deadline, so the server kills
// runaway statements even if the client goes away.
func (p *Postgres) PrepareSession(ctx context.Context, conn *sql.Conn, timeout time.Duration) error {
	if _, err := conn.ExecContext(ctx, "SET default_transaction_read_only = on"); err != nil {
		return fmt.Errorf("failed to set read-only: %w", err)
	}
	if timeout > 0 {
		ms := (timeout + time.Second).Milliseconds()
		stmt := fmt.Sprintf("SET statement_timeout = %d", ms)
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to set statement timeout: %w", err)
		}
	}
	return nil
}

func buildPostgresDSN(cfg Config) string {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	sslmode := "disable"
	if cfg.Options != nil {
		if mode, ok := cfg.Options["sslmode"]; ok {
			sslmode = mode
		}
	}

	dsn := fmt.Sprintf("host=%s port=%d dbname=%s sslmode=%s",
		host, port, cfg.Database, sslmode)
	if cfg.Username != "" {
		dsn += fmt.Sprintf(" user=%s", cfg.Username)
	}
	if cfg.Password != "" {
		dsn += fmt.Sprintf(" password=%s", cfg.Password)
	}
	return dsn
}

var _ Adapter = (*Postgres)(nil)
