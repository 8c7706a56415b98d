// Package syncutil wraps sync.Mutex/sync.RWMutex behind the scoped
// acquisition helper spec.md §4.1 describes, plus an optional global
// "heavy contention" debug mutex for corruption diagnosis.
package syncutil

import "sync"

// Mutex is a plain mutual-exclusion lock. It exists as a named type
// (rather than using sync.Mutex directly everywhere) so call sites read
// the same whether the underlying primitive is a Mutex or an RWMutex.
type Mutex struct {
	mu sync.Mutex
}

func (m *Mutex) Lock()   { m.mu.Lock() }
func (m *Mutex) Unlock() { m.mu.Unlock() }

// Scoped acquires m and returns a release function, for use as:
//
//	defer syncutil.Scoped(&m)()
func Scoped(m *Mutex) func() {
	m.Lock()
	return m.Unlock
}

// RWMutex is a reader/writer lock, used by block vectors, where read-mostly statistics queries should not serialize against
// each other.
type RWMutex struct {
	mu sync.RWMutex
}

func (m *RWMutex) Lock()    { m.mu.Lock() }
func (m *RWMutex) Unlock()  { m.mu.Unlock() }
func (m *RWMutex) RLock()   { m.mu.RLock() }
func (m *RWMutex) RUnlock() { m.mu.RUnlock() }

// ScopedWrite acquires the write lock of m and returns a release function.
func ScopedWrite(m *RWMutex) func() {
	m.Lock()
	return m.Unlock
}

// ScopedRead acquires the read lock of m and returns a release function.
func ScopedRead(m *RWMutex) func() {
	m.RLock()
	return m.RUnlock
}

// globalDebugMutex, when enabled, is taken by ScopedGlobalDebug. No
// allocator entry point calls ScopedGlobalDebug, so enabling it does not
// serialize allocator calls. It exists purely as a
// diagnostic aid for narrowing down suspected lock-ordering or data-race
// corruption; it is never required for correctness (spec.md §9 "Global
// mutable state: None is required").
var globalDebugMutex Mutex
var globalDebugEnabled bool

// EnableGlobalDebugMutex turns on the heavy-contention diagnostic mode.
// Not safe to toggle concurrently with allocator use.
func EnableGlobalDebugMutex(enabled bool) {
	globalDebugEnabled = enabled
}

// ScopedGlobalDebug acquires the global debug mutex if enabled and returns
// a release function (a no-op if the debug mutex is disabled).
func ScopedGlobalDebug() func() {
	if !globalDebugEnabled {
		return func() {}
	}
	globalDebugMutex.Lock()
	return globalDebugMutex.Unlock
}
