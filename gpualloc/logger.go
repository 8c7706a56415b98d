package gpualloc

import (
	"log/slog"

	"github.com/gogpu/vma/internal/obslog"
)

// SetLogger configures the logger used by the allocator facade and, since
// they share internal/obslog, by block, defrag, and vblock as well. By
// default the allocator produces no log output. Mirrors the teacher's
// hal.SetLogger (hal/logger.go).
func SetLogger(l *slog.Logger) { obslog.Set(l) }

// Logger returns the currently active logger.
func Logger() *slog.Logger { return obslog.Get() }
