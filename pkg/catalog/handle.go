package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Handle is a shared reference to the current catalog. Readers call
// Current and get an immutable snapshot; reloads swap the pointer
// atomically so in-flight checks keep the catalog they started with.
type Handle struct {
	ptr    atomic.Pointer[Catalog]
	logger *slog.Logger
}

// NewHandle creates a handle holding the given catalog.
func NewHandle(cat *Catalog, logger *slog.Logger) *Handle {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	h := &Handle{logger: logger}
	h.ptr.Store(cat)
	return h
}

// Current returns the current catalog snapshot.
func (h *Handle) Current() *Catalog {
	return h.ptr.Load()
}

// Swap replaces the current catalog.
func (h *Handle) Swap(cat *Catalog) {
	h.ptr.Store(cat)
}

// Watch reloads the catalog whenever the source file changes, swapping it
// in atomically. A reload that fails to build leaves the current catalog
// in place. Watch blocks until ctx is done.
func (h *Handle) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("catalog: create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory so editors that replace the file (rename +
	// create) still trigger a reload.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("catalog: watch %s: %w", dir, err)
	}

	target := filepath.Clean(path)
	h.logger.Info("watching catalog source", "path", target)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			cat, err := LoadFile(target)
			if err != nil {
				h.logger.Error("catalog reload failed, keeping current", "error", err)
				continue
			}
			h.Swap(cat)
			h.logger.Info("catalog reloaded", "tables", cat.Len())

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			h.logger.Error("catalog watcher error", "error", err)
		}
	}
}
