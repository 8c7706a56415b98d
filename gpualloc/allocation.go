package gpualloc

import (
	"sync"

	"github.com/gogpu/vma/block"
	"github.com/gogpu/vma/internal/pod"
	"github.com/gogpu/vma/metadata"
	"github.com/gogpu/vma/rhi"
)

// allocationCase tags which of the three union members an Allocation holds
// (spec.md §3 Data Model, "Allocation record").
type allocationCase uint8

const (
	caseCommitted allocationCase = iota
	casePlaced
	caseHeap
)

// Packed-field bit layout (spec.md §4.2): case tag (2 bits) | resource
// dimension (3 bits) | resource flags (24 bits) | texture layout (9 bits),
// low bits to high bits in that order. 2+3+24+9 = 38 bits, comfortably
// inside a uint64.
const (
	packedCaseBits      = 2
	packedDimensionBits = 3
	packedFlagsBits     = 24
	packedLayoutBits    = 9

	packedCaseShift      = 0
	packedDimensionShift = packedCaseShift + packedCaseBits
	packedFlagsShift     = packedDimensionShift + packedDimensionBits
	packedLayoutShift    = packedFlagsShift + packedFlagsBits

	packedCaseMask      = uint64(1)<<packedCaseBits - 1
	packedDimensionMask = uint64(1)<<packedDimensionBits - 1
	packedFlagsMask     = uint64(1)<<packedFlagsBits - 1
	packedLayoutMask    = uint64(1)<<packedLayoutBits - 1
)

func packFields(c allocationCase, dim rhi.ResourceDimension, flags uint32, layout uint32) uint64 {
	return uint64(c)&packedCaseMask<<packedCaseShift |
		uint64(dim)&packedDimensionMask<<packedDimensionShift |
		uint64(flags)&packedFlagsMask<<packedFlagsShift |
		uint64(layout)&packedLayoutMask<<packedLayoutShift
}

func unpackCase(packed uint64) allocationCase {
	return allocationCase(packed >> packedCaseShift & packedCaseMask)
}

func unpackDimension(packed uint64) rhi.ResourceDimension {
	return rhi.ResourceDimension(packed >> packedDimensionShift & packedDimensionMask)
}

func unpackResourceFlags(packed uint64) uint32 {
	return uint32(packed >> packedFlagsShift & packedFlagsMask)
}

func unpackLayout(packed uint64) uint32 {
	return uint32(packed >> packedLayoutShift & packedLayoutMask)
}

// Allocation is one user-visible allocation record: a tagged union over
// committed (owns a heap and a resource), placed (references a block plus
// a metadata handle), and heap (owns a heap, no resource) — spec.md §3.
// Instances live in an internal/pod.PoolAllocator so their addresses stay
// stable for the lifetime of the handle a caller holds, matching the
// teacher's object-pool convention for hot, short-lived records.
type Allocation struct {
	size      uint64
	alignment uint64
	packed    uint64 // case tag, resource dimension, resource flags, layout
	name      []byte // owned via AllocationCallbacks when non-nil, else unused
	nameStr   string // GC-managed fallback when no AllocationCallbacks is set
	resource  rhi.Resource
	privateData any

	owner *Allocator

	// committed/heap case.
	heap           rhi.Heap
	heapType       rhi.HeapType
	committedEntry *block.CommittedEntry

	// placed case.
	blockVec *block.BlockVector
	nblock   *block.NormalBlock
	handle   metadata.Handle
	pool     *Pool
}

func newCommittedAllocation(owner *Allocator, heap rhi.Heap, heapType rhi.HeapType, resource rhi.Resource, size, alignment uint64, dim rhi.ResourceDimension, resFlags, layout uint32) *Allocation {
	a := owner.allocPool.alloc()
	*a = Allocation{
		owner:     owner,
		size:      size,
		alignment: alignment,
		packed:    packFields(caseCommitted, dim, resFlags, layout),
		resource:  resource,
		heap:      heap,
		heapType:  heapType,
	}
	return a
}

func newHeapAllocation(owner *Allocator, heap rhi.Heap, heapType rhi.HeapType, size, alignment uint64) *Allocation {
	a := owner.allocPool.alloc()
	*a = Allocation{
		owner:     owner,
		size:      size,
		alignment: alignment,
		packed:    packFields(caseHeap, rhi.ResourceDimensionUnknown, 0, 0),
		heap:      heap,
		heapType:  heapType,
	}
	return a
}

func newPlacedAllocation(owner *Allocator, pool *Pool, vec *block.BlockVector, nblock *block.NormalBlock, h metadata.Handle, resource rhi.Resource, size, alignment uint64, dim rhi.ResourceDimension, resFlags, layout uint32) *Allocation {
	a := owner.allocPool.alloc()
	*a = Allocation{
		owner:     owner,
		size:      size,
		alignment: alignment,
		packed:    packFields(casePlaced, dim, resFlags, layout),
		resource:  resource,
		pool:      pool,
		blockVec:  vec,
		nblock:    nblock,
		handle:    h,
	}
	return a
}

// Size returns the allocation's size in bytes.
func (a *Allocation) Size() uint64 { return a.size }

// Alignment returns the alignment the allocation was created with.
func (a *Allocation) Alignment() uint64 { return a.alignment }

// Resource returns the bound RHI resource handle, or rhi.NullHandle for a
// bare-heap allocation created through AllocateMemory.
func (a *Allocation) Resource() rhi.Resource { return a.resource }

// Offset returns the allocation's byte offset within its block or heap
// (0 for committed allocations, which own their heap outright).
func (a *Allocation) Offset() uint64 {
	if a.packedCase() != casePlaced {
		return 0
	}
	info := a.nblock.Meta.GetAllocationInfo(a.handle)
	return info.Offset
}

// ResourceDimension, ResourceFlags, and TextureLayout expose the packed
// metadata field's bit-exact accessors (spec.md §4.2 "implementations
// must provide bit-exact accessors because this field is inspected by
// statistics dumpers").
func (a *Allocation) ResourceDimension() rhi.ResourceDimension { return unpackDimension(a.packed) }
func (a *Allocation) ResourceFlags() uint32                    { return unpackResourceFlags(a.packed) }
func (a *Allocation) TextureLayout() uint32                    { return unpackLayout(a.packed) }

func (a *Allocation) packedCase() allocationCase { return unpackCase(a.packed) }

// BlockID identifies the normal block a placed allocation currently
// occupies, stable until the next CommitMove relocates it (spec.md §4.6
// candidate selection: block order is used to steer fast/balanced/full
// defragmentation). Returns -1 for committed and heap-only allocations,
// which are never movable.
func (a *Allocation) BlockID() int {
	if a.packedCase() != casePlaced {
		return -1
	}
	return a.nblock.ID
}

// heapAndOffset returns the heap and within-heap byte offset backing this
// allocation, used by CreateAliasingResource (spec.md §4.5) and by the
// defragmentation mover to address a destination range.
func (a *Allocation) heapAndOffset() (rhi.Heap, uint64) {
	if a.packedCase() == casePlaced {
		return a.nblock.Heap, a.Offset()
	}
	return a.heap, 0
}

// SetResource rebinds the RHI resource handle backing this allocation. Used
// by the defragmentation mover to attach the resource the caller created in
// a move's destination range (spec.md §4.6 "assign it to the temporary
// allocation via SetResource").
func (a *Allocation) SetResource(r rhi.Resource) { a.resource = r }

// PrivateData returns the opaque pointer supplied at creation time, or sets
// it.
func (a *Allocation) PrivateData() any     { return a.privateData }
func (a *Allocation) SetPrivateData(v any) { a.privateData = v }

// Name returns the allocation's debug name, or "" if none was set.
func (a *Allocation) Name() string {
	if a.name != nil {
		return string(a.name)
	}
	return a.nameStr
}

// SetName assigns a debug name, releasing any previously held name buffer
// first. When the owning Allocator was configured with AllocationCallbacks,
// the name is copied into a buffer obtained from Alloc and released through
// Free on the next SetName or on ReleaseThis; otherwise it is stored as an
// ordinary Go string (spec.md §4.2, §6).
func (a *Allocation) SetName(name string) {
	a.releaseNameBuffer()
	cb := a.owner.desc.AllocationCallbacks
	if cb.Alloc == nil || cb.Free == nil {
		a.nameStr = name
		return
	}
	buf := cb.Alloc(len(name))
	copy(buf, name)
	a.name = buf
}

func (a *Allocation) releaseNameBuffer() {
	if a.name == nil {
		return
	}
	cb := a.owner.desc.AllocationCallbacks
	if cb.Free != nil {
		cb.Free(a.name)
	}
	a.name = nil
}

// ReleaseThis frees the allocation's backing memory (per its case) and
// returns the record to the owning allocator's object pool. After this
// call the Allocation must not be used (spec.md §3 "destroyed through the
// allocation object pool").
func (a *Allocation) ReleaseThis() {
	a.releaseNameBuffer()
	switch a.packedCase() {
	case caseCommitted:
		a.owner.releaseCommitted(a)
	case caseHeap:
		a.owner.releaseHeapOnly(a)
	case casePlaced:
		a.owner.releasePlaced(a)
	}
	a.owner.allocPool.free(a)
}

// poolAllocatorAdapter wraps internal/pod.PoolAllocator[Allocation] with a
// mutex: PoolAllocator itself is documented not safe for concurrent use,
// but Allocation creation/destruction can race across goroutines allocating
// from the same Allocator.
type poolAllocatorAdapter struct {
	mu   sync.Mutex
	pool *pod.PoolAllocator[Allocation]
}

func newPoolAllocatorAdapter() *poolAllocatorAdapter {
	return &poolAllocatorAdapter{pool: pod.NewPoolAllocator[Allocation](64)}
}

func (p *poolAllocatorAdapter) alloc() *Allocation {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pool.Alloc()
}

func (p *poolAllocatorAdapter) free(a *Allocation) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pool.Free(a)
}

func (p *poolAllocatorAdapter) enableDebugGuard() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pool.EnableDebugGuard()
}
