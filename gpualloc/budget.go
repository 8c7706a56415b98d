package gpualloc

import (
	"sync"
	"sync/atomic"

	"github.com/gogpu/vma/rhi"
)

// BudgetTracker maintains the allocator's view of per-memory-segment-group
// usage and implements block.BudgetChecker so every BlockVector can honor
// AllocationFlags.WithinBudget without importing gpualloc (spec.md §5).
// Usage is kept as an atomic running total updated on every placed/
// committed allocation and free; the budget ceiling itself is considered
// expensive to query (it round-trips to the OS/driver on most backends) so
// it is cached and refreshed under a short lock, mirroring the teacher's
// own split between hot-path atomics and cold-path locked refreshes.
type BudgetTracker struct {
	backend rhi.Backend

	usage [rhi.MemorySegmentGroupCount]atomic.Int64

	mu     sync.Mutex
	cached [rhi.MemorySegmentGroupCount]rhi.SegmentBudget
}

// NewBudgetTracker creates a tracker backed by backend.Budget(), priming
// the cache with an immediate sample.
func NewBudgetTracker(backend rhi.Backend) *BudgetTracker {
	t := &BudgetTracker{backend: backend}
	t.Refresh()
	return t
}

// Refresh re-queries the backend's budget ceiling for both segment groups.
func (t *BudgetTracker) Refresh() {
	sample := t.backend.Budget()
	t.mu.Lock()
	t.cached = sample
	t.mu.Unlock()
}

// AddUsage records bytes added to (positive delta) or removed from
// (negative delta) the given segment group's live allocation total.
func (t *BudgetTracker) AddUsage(group rhi.MemorySegmentGroup, delta int64) {
	t.usage[group].Add(delta)
}

// Fits reports whether allocating extraBytes more in group would keep
// usage at or below the cached budget ceiling (spec.md §5 "WithinBudget
// ... rejected if usage + requested size would exceed the ceiling").
func (t *BudgetTracker) Fits(group rhi.MemorySegmentGroup, extraBytes uint64) bool {
	t.mu.Lock()
	ceiling := t.cached[group].BudgetBytes
	t.mu.Unlock()

	if ceiling == 0 {
		return true
	}
	current := uint64(t.usage[group].Load())
	return current+extraBytes <= ceiling
}

// Sample returns a point-in-time Budget view for GetBudget, combining the live atomic usage counter with the
// last-refreshed ceiling.
func (t *BudgetTracker) Sample(group rhi.MemorySegmentGroup) Budget {
	t.mu.Lock()
	ceiling := t.cached[group]
	t.mu.Unlock()

	return Budget{
		UsageBytes:  uint64(t.usage[group].Load()),
		BudgetBytes: ceiling.BudgetBytes,
	}
}
