// Package testutil holds shared test helpers.
package testutil

import (
	"log/slog"
	"testing"
)

// tbWriter routes slog output through t.Log so it shows up attached to
// the failing test instead of interleaved on stderr.
type tbWriter struct{ tb testing.TB }

func (w tbWriter) Write(p []byte) (int, error) {
	w.tb.Helper()
	w.tb.Log(string(p))
	return len(p), nil
}

// NewTestLogger returns a debug-level logger whose output only appears on
// failure or with -v.
func NewTestLogger(tb testing.TB) *slog.Logger {
	tb.Helper()
	return slog.New(slog.NewTextHandler(tbWriter{tb}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}
