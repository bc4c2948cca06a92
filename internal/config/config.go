// Package config loads the wardsql configuration from defaults, an
// optional wardsql.yaml file, WARDSQL_ environment variables, and CLI
// flags, in that order of increasing precedence.
package config

import (
	"fmt"
	"time"

	"github.com/leapstack-labs/wardsql/internal/adapter"
	"github.com/leapstack-labs/wardsql/internal/executor"
	"github.com/leapstack-labs/wardsql/internal/validator"
	"github.com/leapstack-labs/wardsql/pkg/guard"
)

// Config is the full runtime configuration.
type Config struct {
	Target    adapter.Config   `koanf:"target"`
	Guard     GuardConfig      `koanf:"guard"`
	Executor  ExecutorConfig   `koanf:"executor"`
	Validator validator.Config `koanf:"validator"`
	Catalog   CatalogConfig    `koanf:"catalog"`
	Audit     AuditConfig      `koanf:"audit"`
	Verbose   bool             `koanf:"verbose"`
}

// GuardConfig tunes the static guard.
type GuardConfig struct {
	MaxRows         int                       `koanf:"max_rows"`
	BlockedKeywords []string                  `koanf:"blocked_keywords"`
	UnsafeFunctions []string                  `koanf:"unsafe_functions"`
	PHIPatterns     []string                  `koanf:"phi_patterns"`
	RuleOptions     map[string]map[string]any `koanf:"rules"`
}

// Rules converts the file shape into the guard package's config.
func (g GuardConfig) Rules() guard.Config {
	return guard.Config{
		MaxRows:         g.MaxRows,
		BlockedKeywords: g.BlockedKeywords,
		UnsafeFunctions: g.UnsafeFunctions,
		PHIPatterns:     g.PHIPatterns,
		RuleOptions:     g.RuleOptions,
	}
}

// ExecutorConfig bounds query execution.
type ExecutorConfig struct {
	StatementTimeoutMS int `koanf:"statement_timeout_ms"`
	RowCap             int `koanf:"row_cap"`
}

// Budget converts the file shape into an executor budget.
func (e ExecutorConfig) Budget() executor.Budget {
	return executor.Budget{
		Timeout: time.Duration(e.StatementTimeoutMS) * time.Millisecond,
		RowCap:  e.RowCap,
	}
}

// CatalogConfig locates the schema catalog and concept dictionary.
type CatalogConfig struct {
	Path     string `koanf:"path"`
	Concepts string `koanf:"concepts"`
	Watch    bool   `koanf:"watch"`
}

// AuditConfig locates the audit trail database.
type AuditConfig struct {
	Path string `koanf:"path"`
}

// Validate rejects configurations that cannot produce a working pipeline.
func (c *Config) Validate() error {
	if c.Guard.MaxRows <= 0 {
		return fmt.Errorf("guard.max_rows must be positive, got %d", c.Guard.MaxRows)
	}
	if c.Executor.StatementTimeoutMS <= 0 {
		return fmt.Errorf("executor.statement_timeout_ms must be positive, got %d", c.Executor.StatementTimeoutMS)
	}
	if c.Executor.RowCap <= 0 {
		return fmt.Errorf("executor.row_cap must be positive, got %d", c.Executor.RowCap)
	}
	if c.Validator.Tolerance < 0 {
		return fmt.Errorf("validator.tolerance must not be negative, got %g", c.Validator.Tolerance)
	}
	if c.Catalog.Path == "" {
		return fmt.Errorf("catalog.path is required")
	}
	switch c.Target.Type {
	case "", "postgres", "duckdb":
	default:
		return fmt.Errorf("unknown target type %q (known: %v)", c.Target.Type, adapter.List())
	}
	return nil
}
