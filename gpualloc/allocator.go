// Package gpualloc is the public allocator facade: pools, resources,
// aliasing, budgeting, statistics, and the defragmentation/virtual-block
// entry points build on top of the block and metadata packages (spec.md
// §4.5). It plays the role the teacher's hal package plays for device
// access — the one import a host application needs.
package gpualloc

import (
	"sync"

	"github.com/gogpu/vma/block"
	"github.com/gogpu/vma/metadata"
	"github.com/gogpu/vma/rhi"
)

// smallBufferThresholdBytes is the ceiling under which a buffer is
// preferred to be committed rather than placed (spec.md §4.5 "for small
// buffers, unless DontPreferSmallBuffersCommitted is set, prefer
// committed"). Neither spec.md nor the original implementation's headers
// give a literal byte threshold — only the flag name that disables the
// behavior — so this is a resolved Open Question; see DESIGN.md. 64 KiB
// matches the granularity already used for the small-resource "one tile"
// heuristic (rhi.MemoryProperties.SmallResourceTileBytes) on the grounds
// that both are proxies for "cheap enough to special-case outside the
// suballocator."
const smallBufferThresholdBytes = 64 * 1024

// segmentGroupForHeapType is the allocator-wide policy mapping a heap type
// to the memory-segment-group its budget is tracked under (spec.md §5):
// device-local and GPU-upload heaps draw from the local (VRAM) budget,
// everything else from the non-local (system memory over PCIe) budget.
func segmentGroupForHeapType(t rhi.HeapType) rhi.MemorySegmentGroup {
	switch t {
	case rhi.HeapTypeDeviceLocal, rhi.HeapTypeGPUUpload:
		return rhi.MemorySegmentLocal
	default:
		return rhi.MemorySegmentNonLocal
	}
}

// Allocator is the facade a host application constructs once per RHI
// device (spec.md §3 "Allocator"). It owns the six per-heap-type default
// pools, the budget tracker, and the allocation object pool every
// Allocation is carved from.
type Allocator struct {
	desc  AllocatorDesc
	props rhi.MemoryProperties

	budget *BudgetTracker

	mu           sync.Mutex
	defaultPools [rhi.HeapTypeCount]*Pool
	customPools  map[*Pool]struct{}

	allocPool *poolAllocatorAdapter
}

// NewAllocator validates desc and constructs the default pools (spec.md
// §4.5, §6). AllocatorDesc.Backend and Device must be set; PreferredBlockSize
// of zero is replaced with DefaultPreferredBlockSize.
func NewAllocator(desc AllocatorDesc) (*Allocator, error) {
	if desc.Backend == nil {
		return nil, newValidationError("AllocatorDesc", "Backend", "must not be nil")
	}
	if desc.PreferredBlockSize == 0 {
		desc.PreferredBlockSize = DefaultPreferredBlockSize
	}

	a := &Allocator{
		desc:        desc,
		props:       desc.Backend.MemoryProperties(),
		budget:      NewBudgetTracker(desc.Backend),
		customPools: make(map[*Pool]struct{}),
		allocPool:   newPoolAllocatorAdapter(),
	}
	if desc.Flags&AllocatorFlagDebugGuardFreedSlots != 0 {
		a.allocPool.enableDebugGuard()
	}
	for ht := rhi.HeapType(0); ht < rhi.HeapTypeCount; ht++ {
		a.defaultPools[ht] = newPool(a, PoolDesc{HeapType: ht}, true)
	}
	return a, nil
}

func (a *Allocator) naturalAlignment(t rhi.HeapType) uint64 {
	if int(t) < len(a.props.NaturalAlignment) {
		if v := a.props.NaturalAlignment[t]; v != 0 {
			return v
		}
	}
	return 1
}

func (a *Allocator) poolFor(desc AllocationDesc, class rhi.ResourceClass) *Pool {
	if desc.CustomPool != nil {
		return desc.CustomPool
	}
	_ = class // default pools are chosen by heap type alone; the resource class and ExtraHeapFlags are not used
	return a.defaultPools[desc.HeapType]
}

// CreateResource implements the decision tree of spec.md §4.5.
func (a *Allocator) CreateResource(desc AllocationDesc, resDesc rhi.ResourceDesc, castableFormats []uint32) (*Allocation, rhi.Resource, error) {
	if desc.CustomPool == nil && (desc.HeapType < 0 || desc.HeapType >= rhi.HeapTypeCount) {
		return nil, rhi.NullHandle, newValidationError("AllocationDesc", "HeapType", "out of range")
	}
	strategy, err := desc.Flags.strategy()
	if err != nil {
		return nil, rhi.NullHandle, err
	}

	if desc.Flags&AllocationFlagCanAlias != 0 {
		alloc, err := a.allocateMemoryInternal(desc, resDesc.Width, a.naturalAlignment(desc.HeapType), strategy)
		return alloc, rhi.NullHandle, err
	}

	pool := a.poolFor(desc, resDesc.Class())
	committed := desc.Flags&AllocationFlagCommitted != 0 ||
		(resDesc.Class() == rhi.ResourceClassBuffer &&
			resDesc.Width <= smallBufferThresholdBytes &&
			a.desc.Flags&AllocatorFlagDontPreferSmallBuffersCommitted == 0) ||
		(resDesc.IsMSAA() && pool.msaaAlwaysCommitted()) ||
		pool.alwaysCommitted()

	if committed {
		return a.createCommittedResource(pool, desc, resDesc, castableFormats)
	}

	alignment := a.placementAlignment(desc, resDesc)
	flags := block.AllocFlags{
		WithinBudget:  desc.Flags&AllocationFlagWithinBudget != 0,
		NeverAllocate: desc.Flags&AllocationFlagNeverAllocate != 0,
	}
	upper := desc.Flags&AllocationFlagUpperAddress != 0

	res, err := pool.vec.Allocate(resDesc.Width, alignment, upper, strategy, flags, desc.PrivateData)
	if err != nil {
		return nil, rhi.NullHandle, err
	}

	resource, err := a.desc.Backend.CreatePlacedResource(rhi.CreateInfo{
		Device:          a.desc.Device,
		Heap:            res.Block.Heap,
		HeapOffset:      res.Offset,
		Resource:        resDesc,
		CastableFormats: castableFormats,
	})
	if err != nil {
		pool.vec.Free(res.Block, res.Handle)
		Logger().Warn("placed resource creation failed, falling back to committed",
			"heapType", desc.HeapType, "size", resDesc.Width, "err", err)
		return a.createCommittedResource(pool, desc, resDesc, castableFormats)
	}

	a.budget.AddUsage(pool.segmentGroup, int64(resDesc.Width))
	alloc := newPlacedAllocation(a, pool, pool.vec, res.Block, res.Handle, resource, resDesc.Width, alignment, resDesc.Dimension, resDesc.Flags, resDesc.Layout)
	alloc.privateData = desc.PrivateData
	res.Block.Meta.SetAllocationPrivateData(res.Handle, alloc)
	if desc.Name != "" {
		alloc.SetName(desc.Name)
	}
	return alloc, resource, nil
}

// placementAlignment resolves the effective alignment for a placed
// resource: the heap's natural alignment, tightened for small resources
// per AllocatorDesc.SmallAlignmentMode unless AllocatorFlagDontUseTightAlignment
// is set (spec.md §4.5).
func (a *Allocator) placementAlignment(desc AllocationDesc, resDesc rhi.ResourceDesc) uint64 {
	natural := a.naturalAlignment(desc.HeapType)
	if a.desc.Flags&AllocatorFlagDontUseTightAlignment != 0 {
		return natural
	}
	switch a.desc.SmallAlignmentMode {
	case SmallAlignmentNever:
		return natural
	case SmallAlignmentAskRHI:
		return natural
	default: // SmallAlignmentConservative
		tile := a.props.SmallResourceTileBytes
		if tile != 0 && resDesc.Dimension != rhi.ResourceDimensionBuffer && resDesc.Width <= tile {
			if tile < natural {
				return tile
			}
			return natural
		}
		return natural
	}
}

func (a *Allocator) createCommittedResource(pool *Pool, desc AllocationDesc, resDesc rhi.ResourceDesc, castableFormats []uint32) (*Allocation, rhi.Resource, error) {
	resource, heap, err := a.desc.Backend.CreateCommittedResource(rhi.CreateInfo{
		Device:          a.desc.Device,
		Resource:        resDesc,
		CastableFormats: castableFormats,
	})
	if err != nil {
		return nil, rhi.NullHandle, err
	}
	a.budget.AddUsage(pool.segmentGroup, int64(resDesc.Width))
	alloc := newCommittedAllocation(a, heap, desc.HeapType, resource, resDesc.Width, a.naturalAlignment(desc.HeapType), resDesc.Dimension, resDesc.Flags, resDesc.Layout)
	alloc.pool = pool
	alloc.privateData = desc.PrivateData
	entry := &block.CommittedEntry{Heap: heap, HeapType: desc.HeapType, Size: resDesc.Width, Data: alloc}
	pool.committed.Register(entry)
	alloc.committedEntry = entry
	if desc.Name != "" {
		alloc.SetName(desc.Name)
	}
	return alloc, resource, nil
}

// AllocateMemory is the heap-only variant of CreateResource (spec.md §4.5):
// it reserves a range of device memory without creating any RHI resource.
func (a *Allocator) AllocateMemory(desc AllocationDesc, size, alignment uint64) (*Allocation, error) {
	if desc.CustomPool == nil && (desc.HeapType < 0 || desc.HeapType >= rhi.HeapTypeCount) {
		return nil, newValidationError("AllocationDesc", "HeapType", "out of range")
	}
	strategy, err := desc.Flags.strategy()
	if err != nil {
		return nil, err
	}
	return a.allocateMemoryInternal(desc, size, alignment, strategy)
}

func (a *Allocator) allocateMemoryInternal(desc AllocationDesc, size, alignment uint64, strategy metadata.Strategy) (*Allocation, error) {
	pool := a.poolFor(desc, rhi.ResourceClassBuffer)

	if desc.Flags&AllocationFlagCommitted != 0 {
		heapDesc := rhi.HeapDesc{Device: a.desc.Device, Size: size, Type: desc.HeapType, Flags: desc.ExtraHeapFlags}
		heap, err := a.desc.Backend.CreateHeap(heapDesc)
		if err != nil {
			return nil, err
		}
		a.budget.AddUsage(pool.segmentGroup, int64(size))
		alloc := newHeapAllocation(a, heap, desc.HeapType, size, alignment)
		alloc.pool = pool
		alloc.privateData = desc.PrivateData
		entry := &block.CommittedEntry{Heap: heap, HeapType: desc.HeapType, Size: size, Data: alloc}
		pool.committed.Register(entry)
		alloc.committedEntry = entry
		if desc.Name != "" {
			alloc.SetName(desc.Name)
		}
		return alloc, nil
	}

	flags := block.AllocFlags{
		WithinBudget:  desc.Flags&AllocationFlagWithinBudget != 0,
		NeverAllocate: desc.Flags&AllocationFlagNeverAllocate != 0,
	}
	upper := desc.Flags&AllocationFlagUpperAddress != 0
	res, err := pool.vec.Allocate(size, alignment, upper, strategy, flags, desc.PrivateData)
	if err != nil {
		return nil, err
	}
	a.budget.AddUsage(pool.segmentGroup, int64(size))
	alloc := newPlacedAllocation(a, pool, pool.vec, res.Block, res.Handle, rhi.NullHandle, size, alignment, rhi.ResourceDimensionUnknown, 0, 0)
	alloc.privateData = desc.PrivateData
	res.Block.Meta.SetAllocationPrivateData(res.Handle, alloc)
	if desc.Name != "" {
		alloc.SetName(desc.Name)
	}
	return alloc, nil
}

// CreateAliasingResource asks the RHI to bind an additional resource to the
// memory range of an existing allocation, offset by localOffset (spec.md
// §4.5). The allocator does not track the returned resource's lifetime.
func (a *Allocator) CreateAliasingResource(alloc *Allocation, localOffset uint64, resDesc rhi.ResourceDesc, castableFormats []uint32) (rhi.Resource, error) {
	heap, offset := alloc.heapAndOffset()
	return a.desc.Backend.CreateAliasingResource(rhi.CreateInfo{
		Device:          a.desc.Device,
		Heap:            heap,
		HeapOffset:      offset + localOffset,
		Resource:        resDesc,
		CastableFormats: castableFormats,
	})
}

// CreatePool validates desc and creates a custom pool (spec.md §4.5).
func (a *Allocator) CreatePool(desc PoolDesc) (*Pool, error) {
	if err := desc.validate(a.naturalAlignment(desc.HeapType)); err != nil {
		return nil, err
	}
	p := newPool(a, desc, false)
	a.mu.Lock()
	a.customPools[p] = struct{}{}
	a.mu.Unlock()
	return p, nil
}

// DefaultPools returns the six per-heap-type default pools, in HeapType
// order. Used by the defrag package to target "every default pool" the way
// a caller would target a specific custom pool (spec.md §4.6).
func (a *Allocator) DefaultPools() []*Pool {
	pools := make([]*Pool, len(a.defaultPools))
	copy(pools, a.defaultPools[:])
	return pools
}

// untrackPool is called from Pool.ReleaseThis for custom pools so the
// allocator stops tracking them; default pools are never removed from
// defaultPools.
func (a *Allocator) untrackPool(p *Pool) {
	a.mu.Lock()
	delete(a.customPools, p)
	a.mu.Unlock()
}

// GetBudget samples the budget tracker for both memory-segment-groups
// (spec.md §4.5, §5).
func (a *Allocator) GetBudget() (local, nonLocal Budget) {
	return a.budget.Sample(rhi.MemorySegmentLocal), a.budget.Sample(rhi.MemorySegmentNonLocal)
}

// CalculateStatistics folds detailed statistics across every default and
// custom pool, bucketed by heap type and by memory-segment-group, plus a
// grand total (spec.md §4.5, §6).
func (a *Allocator) CalculateStatistics() TotalStatistics {
	ts := NewTotalStatistics()
	a.eachPool(func(p *Pool) {
		ts.addPool(p.heapType, p.segmentGroup, p.CalculateStatistics())
	})
	return ts
}

func (a *Allocator) eachPool(fn func(*Pool)) {
	for _, p := range a.defaultPools {
		fn(p)
	}
	a.mu.Lock()
	pools := make([]*Pool, 0, len(a.customPools))
	for p := range a.customPools {
		pools = append(pools, p)
	}
	a.mu.Unlock()
	for _, p := range pools {
		fn(p)
	}
}

// BuildStatsString renders the full JSON statistics document (spec.md §6).
// detailedMap controls whether per-block suballocation maps are included;
// when false, only each pool's summary totals are written.
func (a *Allocator) BuildStatsString(detailedMap bool) string {
	w := newStatsWriter()
	w.BeginObject(false)
	w.WriteString("Total")
	writeDetailedStatistics(w, a.CalculateStatistics().Total)

	w.WriteString("Pools")
	w.BeginArray(false)
	a.eachPool(func(p *Pool) {
		w.BeginObject(false)
		if p.Name() != "" {
			w.WriteString("Name")
			w.WriteString(p.Name())
		}
		w.WriteString("Stats")
		writeDetailedStatistics(w, p.CalculateStatistics())
		if detailedMap {
			w.WriteString("Blocks")
			p.writeBlocksJSON(w)
		}
		w.EndObject()
	})
	w.EndArray()
	w.EndObject()
	return w.String()
}

// FreeStatsString releases a document produced by BuildStatsString. Since
// Go strings are garbage-collected, this is a no-op kept for API parity
// with the original paired Build/Free entry points (spec.md §6); a host
// that supplied AllocationCallbacks for name buffers is not affected,
// because stats strings never reuse that allocator.
func (a *Allocator) FreeStatsString(string) {}

// ReleaseThis destroys the allocator. Panics via ErrAllocatorHasLiveAllocations
// if any pool (default or custom) still holds a live allocation, or any
// custom pool has not itself been released (spec.md §4.5, §7).
func (a *Allocator) ReleaseThis() {
	a.mu.Lock()
	liveCustomPools := len(a.customPools)
	a.mu.Unlock()
	if liveCustomPools != 0 {
		panic(ErrAllocatorHasLiveAllocations)
	}
	for _, p := range a.defaultPools {
		if !p.IsEmpty() {
			panic(ErrAllocatorHasLiveAllocations)
		}
	}
	for _, p := range a.defaultPools {
		p.vec.Destroy()
	}
}

func (a *Allocator) releaseCommitted(al *Allocation) {
	al.pool.committed.Unregister(al.committedEntry)
	a.budget.AddUsage(al.pool.segmentGroup, -int64(al.size))
	a.desc.Backend.DestroyResource(al.resource)
	a.desc.Backend.DestroyHeap(al.heap)
}

func (a *Allocator) releaseHeapOnly(al *Allocation) {
	al.pool.committed.Unregister(al.committedEntry)
	a.budget.AddUsage(al.pool.segmentGroup, -int64(al.size))
	a.desc.Backend.DestroyHeap(al.heap)
}

func (a *Allocator) releasePlaced(al *Allocation) {
	if al.resource != rhi.NullHandle {
		a.desc.Backend.DestroyResource(al.resource)
	}
	a.budget.AddUsage(al.pool.segmentGroup, -int64(al.size))
	al.blockVec.Free(al.nblock, al.handle)
}
