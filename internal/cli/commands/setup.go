// Package commands implements the wardsql subcommands.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/wardsql/internal/adapter"
	"github.com/leapstack-labs/wardsql/internal/audit"
	"github.com/leapstack-labs/wardsql/internal/config"
	"github.com/leapstack-labs/wardsql/internal/executor"
	"github.com/leapstack-labs/wardsql/internal/pipeline"
	"github.com/leapstack-labs/wardsql/internal/validator"
	"github.com/leapstack-labs/wardsql/pkg/catalog"
	"github.com/leapstack-labs/wardsql/pkg/concepts"
	"github.com/leapstack-labs/wardsql/pkg/guard"
)

type configKey struct{}
type loggerKey struct{}

// WithConfig stores the loaded config in the command context.
func WithConfig(ctx context.Context, cfg *config.Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

// GetConfig retrieves the config from the command context.
func GetConfig(ctx context.Context) *config.Config {
	if c, ok := ctx.Value(configKey{}).(*config.Config); ok {
		return c
	}
	return nil
}

// WithLogger stores the logger in the command context.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// GetLogger retrieves the logger from the command context.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.New(slog.DiscardHandler)
}

// requireConfig returns the context config or an error when the root
// command did not load one (test harnesses construct commands directly).
func requireConfig(ctx context.Context) (*config.Config, error) {
	cfg := GetConfig(ctx)
	if cfg == nil {
		return nil, fmt.Errorf("no configuration loaded")
	}
	return cfg, nil
}

// openCatalog loads the schema catalog and optionally starts the file
// watcher, which then swaps reloaded catalogs into the handle.
func openCatalog(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*catalog.Handle, error) {
	cat, err := catalog.LoadFile(cfg.Catalog.Path)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	h := catalog.NewHandle(cat, logger)
	if cfg.Catalog.Watch {
		// Watch blocks until ctx is done; run it for the life of the command.
		go func() {
			if err := h.Watch(ctx, cfg.Catalog.Path); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("catalog watcher stopped", "error", err)
			}
		}()
	}
	return h, nil
}

// openConcepts loads the concept dictionary when configured. A missing
// path is fine; the ask command just loses name completion.
func openConcepts(cfg *config.Config) (*concepts.Library, error) {
	if cfg.Catalog.Concepts == "" {
		return nil, nil
	}
	lib, err := concepts.LoadFile(cfg.Catalog.Concepts)
	if err != nil {
		return nil, fmt.Errorf("load concepts: %w", err)
	}
	return lib, nil
}

// newGuard builds the guard from config.
func newGuard(cfg *config.Config) (*guard.Guard, error) {
	g, err := guard.New(cfg.Guard.Rules())
	if err != nil {
		return nil, fmt.Errorf("configure guard: %w", err)
	}
	return g, nil
}

// stack is everything the ask command wires together. Close releases the
// database connection and the audit store.
type stack struct {
	catalog  *catalog.Handle
	guard    *guard.Guard
	adapter  adapter.Adapter
	executor *executor.Executor
	pipeline *pipeline.Pipeline
	audit    *audit.Store
}

// Close releases held resources in reverse acquisition order.
func (s *stack) Close() error {
	var firstErr error
	if s.audit != nil {
		if err := s.audit.Close(); err != nil {
			firstErr = err
		}
	}
	if s.adapter != nil {
		if err := s.adapter.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// buildStack connects the full pipeline: catalog, guard, adapter,
// executor, validator, audit store. reviser may be nil.
func buildStack(ctx context.Context, cfg *config.Config, reviser pipeline.Reviser, logger *slog.Logger) (*stack, error) {
	h, err := openCatalog(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	g, err := newGuard(cfg)
	if err != nil {
		return nil, err
	}

	ad, err := adapter.New(cfg.Target, logger)
	if err != nil {
		return nil, err
	}
	if err := ad.Connect(ctx, cfg.Target); err != nil {
		return nil, fmt.Errorf("connect %s: %w", ad.Name(), err)
	}

	exec := executor.New(ad, cfg.Executor.Budget(), logger)
	check := validator.New(g, exec, cfg.Validator, logger)

	store, err := audit.Open(cfg.Audit.Path, logger)
	if err != nil {
		_ = ad.Close()
		return nil, err
	}

	return &stack{
		catalog:  h,
		guard:    g,
		adapter:  ad,
		executor: exec,
		pipeline: pipeline.New(h, g, exec, check, reviser, store, logger),
		audit:    store,
	}, nil
}
