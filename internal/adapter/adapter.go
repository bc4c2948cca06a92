// Package adapter provides read-only database adapters for query execution.
//
// Adapters open a database/sql handle and prepare sessions so that every
// query runs read-only and under a server-side time budget where the engine
// supports one. Concrete adapters register themselves in init().
package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Config holds connection settings for one target database.
type Config struct {
	Type     string            `koanf:"type"`
	Path     string            `koanf:"path"`
	Host     string            `koanf:"host"`
	Port     int               `koanf:"port"`
	Database string            `koanf:"database"`
	Username string            `koanf:"username"`
	Password string            `koanf:"password"`
	Options  map[string]string `koanf:"options"`
}

// Adapter is the contract for one database engine.
type Adapter interface {
	// Connect opens and pings the database.
	Connect(ctx context.Context, cfg Config) error

	// Close releases the underlying handle.
	Close() error

	// DB returns the open handle, nil before Connect.
	DB() *sql.DB

	// PrepareSession configures one connection for a guarded query:
	// read-only, with a server-side statement timeout where the engine
	// supports one.
	PrepareSession(ctx context.Context, conn *sql.Conn, timeout time.Duration) error

	// Name returns the adapter type name.
	Name() string
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]func(*slog.Logger) Adapter)
)

// Register adds an adapter factory. Called from init() in each adapter file.
func Register(name string, factory func(*slog.Logger) Adapter) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// New creates an adapter for cfg.Type. A nil logger discards.
func New(cfg Config, logger *slog.Logger) (Adapter, error) {
	if cfg.Type == "" {
		return nil, fmt.Errorf("adapter type not specified")
	}
	registryMu.RLock()
	factory, ok := registry[cfg.Type]
	registryMu.RUnlock()
	if !ok {
		return nil, &UnknownAdapterError{Type: cfg.Type, Available: List()}
	}
	return factory(logger), nil
}

// List returns all registered adapter names, sorted.
func List() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UnknownAdapterError is returned when no adapter matches the configured type.
type UnknownAdapterError struct {
	Type      string
	Available []string
}

func (e *UnknownAdapterError) Error() string {
	return fmt.Sprintf("unknown adapter type %q (available: %v)", e.Type, e.Available)
}
