// Package obslog is the allocator's shared structured-logging plumbing: one
// atomically-swappable *slog.Logger, silent by default, used by block,
// gpualloc, defrag, and vblock alike so a host can turn on diagnostics for
// the whole allocator with a single call. Grounded on the teacher's
// hal.SetLogger/hal.Logger pair (hal/logger.go); gpualloc.SetLogger/Logger
// are thin re-exports of this package so callers never need to import it
// directly.
package obslog

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// nopHandler silently discards all log records. Enabled returns false so
// callers skip message formatting entirely when logging is disabled.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(slog.New(nopHandler{}))
}

// Set installs l as the active logger for every allocator package. Passing
// nil restores the silent default. Safe for concurrent use.
//
// Log levels follow the teacher's convention: Debug for per-allocation
// placement decisions, Info for block creation/retirement, Warn for
// budget-exceeded/fallback-to-committed paths, Error for corruption
// detected by Validate().
func Set(l *slog.Logger) {
	if l == nil {
		l = slog.New(nopHandler{})
	}
	loggerPtr.Store(l)
}

// Get returns the currently active logger.
func Get() *slog.Logger {
	return loggerPtr.Load()
}
