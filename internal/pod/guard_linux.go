//go:build linux

package pod

import (
	"sync"

	"golang.org/x/sys/unix"
)

// GuardPages is an optional debug aid wired into internal/pod.PoolAllocator
// (behind EnableDebugGuard): every Free installs a real mmap'd PROT_NONE
// page keyed by the freed slot's address, lifted again the moment that
// exact address is handed back out by Alloc. A Go slice's backing array
// can't itself be mprotected mid-block (slots aren't individually
// page-aligned), so the guard page is a separate, real piece of poisoned
// memory standing in for the freed slot's identity — touching it faults,
// and its presence/absence tracks whether a given address is currently
// live. This is the Go-idiomatic analogue of D3D12MA's debug-margin heap
// poisoning (spec.md §4.3's "debug margin of M bytes"), scoped to the
// host-side bookkeeping rather than device memory.
//
// Only available on Linux, matching the teacher's per-OS split for
// platform-specific facilities (hal/gles/*_linux.go, hal/dx12 on Windows
// only). GuardPages is a no-op stub on other platforms (guard_other.go).
type GuardPages struct {
	mu      sync.Mutex
	pageSz  int
	guarded map[uintptr][]byte
}

// NewGuardPages creates a guard-page manager. NewGuardPages itself is
// cheap; the page-granular mmap cost is paid on each Protect call.
func NewGuardPages() *GuardPages {
	return &GuardPages{
		pageSz:  unix.Getpagesize(),
		guarded: make(map[uintptr][]byte),
	}
}

// Protect maps one PROT_NONE guard page and records it under key,
// replacing any page already recorded there; Unprotect(key) releases it.
// Errors are swallowed (best-effort debug
// feature, never load-bearing for correctness) and reported via the
// returned ok=false.
func (g *GuardPages) Protect(key uintptr) (ok bool) {
	mem, err := unix.Mmap(-1, 0, g.pageSz, unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return false
	}
	g.mu.Lock()
	if old, exists := g.guarded[key]; exists {
		_ = unix.Munmap(old)
	}
	g.guarded[key] = mem
	g.mu.Unlock()
	return true
}

// Unprotect releases the guard page previously installed for key.
func (g *GuardPages) Unprotect(key uintptr) {
	g.mu.Lock()
	mem, ok := g.guarded[key]
	if ok {
		delete(g.guarded, key)
	}
	g.mu.Unlock()
	if ok {
		_ = unix.Munmap(mem)
	}
}

// Close releases every outstanding guard page.
func (g *GuardPages) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for k, mem := range g.guarded {
		_ = unix.Munmap(mem)
		delete(g.guarded, k)
	}
}

// Count returns the number of addresses currently guarded. Used by tests
// to observe that Free/Alloc are actually installing and lifting guard
// pages rather than silently no-op'ing.
func (g *GuardPages) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.guarded)
}
