package block

import (
	"github.com/gogpu/vma/internal/pod"
	"github.com/gogpu/vma/internal/syncutil"
	"github.com/gogpu/vma/rhi"
)

// CommittedEntry is one committed (dedicated-heap) allocation's bookkeeping
// as tracked by a CommittedAllocationList: its own heap, not suballocated
// out of any NormalBlock. Data carries an opaque back-reference to the
// owning gpualloc.Allocation record so this package never needs to import
// gpualloc.
type CommittedEntry struct {
	Heap     rhi.Heap
	HeapType rhi.HeapType
	Size     uint64
	Data     any

	prev, next *CommittedEntry
}

func (e *CommittedEntry) ListPrev() *CommittedEntry      { return e.prev }
func (e *CommittedEntry) ListNext() *CommittedEntry      { return e.next }
func (e *CommittedEntry) SetListPrev(p *CommittedEntry)  { e.prev = p }
func (e *CommittedEntry) SetListNext(n *CommittedEntry)  { e.next = n }

// CommittedAllocationList is the intrusive-list-backed registry a pool
// keeps alongside its BlockVector for committed allocations (spec.md §4.4,
// §5 "each committed-allocation list holds its own lock").
type CommittedAllocationList struct {
	mu    syncutil.Mutex
	list  *pod.IntrusiveList[*CommittedEntry]
	bytes uint64
}

// NewCommittedAllocationList creates an empty list.
func NewCommittedAllocationList() *CommittedAllocationList {
	return &CommittedAllocationList{list: pod.NewIntrusiveList[*CommittedEntry]()}
}

// Register links e into the list.
func (c *CommittedAllocationList) Register(e *CommittedEntry) {
	unlock := syncutil.Scoped(&c.mu)
	defer unlock()
	c.list.PushBack(e)
	c.bytes += e.Size
}

// Unregister unlinks e from the list. e must currently be linked in c.
func (c *CommittedAllocationList) Unregister(e *CommittedEntry) {
	unlock := syncutil.Scoped(&c.mu)
	defer unlock()
	c.list.Remove(e)
	c.bytes -= e.Size
}

// Count returns the number of committed allocations currently tracked.
func (c *CommittedAllocationList) Count() int {
	unlock := syncutil.Scoped(&c.mu)
	defer unlock()
	return c.list.Len()
}

// Bytes returns the total size of every committed allocation tracked.
func (c *CommittedAllocationList) Bytes() uint64 {
	unlock := syncutil.Scoped(&c.mu)
	defer unlock()
	return c.bytes
}

// IsEmpty reports whether the list holds no committed allocations.
func (c *CommittedAllocationList) IsEmpty() bool {
	return c.Count() == 0
}

// Each calls fn for every tracked entry, front to back, while holding the
// list's lock. fn must not call back into the list.
func (c *CommittedAllocationList) Each(fn func(*CommittedEntry)) {
	unlock := syncutil.Scoped(&c.mu)
	defer unlock()
	c.list.Each(fn)
}
