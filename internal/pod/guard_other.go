//go:build !linux

package pod

// GuardPages is a no-op stub on platforms without the mmap/mprotect guard
// page implementation (guard_linux.go). Protect always reports ok=false so
// callers fall back to running without the debug aid.
type GuardPages struct{}

func NewGuardPages() *GuardPages { return &GuardPages{} }

func (g *GuardPages) Protect(key uintptr) (ok bool) { return false }

func (g *GuardPages) Unprotect(key uintptr) {}

func (g *GuardPages) Close() {}

func (g *GuardPages) Count() int { return 0 }
