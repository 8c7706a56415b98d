package gpualloc

import (
	"github.com/gogpu/vma/block"
	"github.com/gogpu/vma/internal/jsonwriter"
	"github.com/gogpu/vma/metadata"
	"github.com/gogpu/vma/rhi"
)

// Pool is one configuration of device memory: a block vector for placed
// suballocations plus a committed-allocation list for dedicated-heap
// allocations created within it (spec.md §3 "Pool", §4.4). The six
// per-heap-type default pools and every custom pool created via
// Allocator.CreatePool share this same type.
type Pool struct {
	owner     *Allocator
	desc      PoolDesc
	isDefault bool

	heapType     rhi.HeapType
	segmentGroup rhi.MemorySegmentGroup

	vec       *block.BlockVector
	committed *block.CommittedAllocationList
}

func newPool(owner *Allocator, desc PoolDesc, isDefault bool) *Pool {
	segGroup := segmentGroupForHeapType(desc.HeapType)
	algo := block.AlgorithmGeneral
	if desc.Flags&PoolFlagAlgorithmLinear != 0 {
		algo = block.AlgorithmLinear
	}

	explicit := desc.BlockSize != 0
	preferred := desc.BlockSize
	if preferred == 0 {
		preferred = owner.desc.PreferredBlockSize
	}

	p := &Pool{
		owner:        owner,
		desc:         desc,
		isDefault:    isDefault,
		heapType:     desc.HeapType,
		segmentGroup: segGroup,
		committed:    block.NewCommittedAllocationList(),
	}
	p.vec = block.NewBlockVector(block.Config{
		Backend:                owner.desc.Backend,
		Device:                 owner.desc.Device,
		HeapType:               desc.HeapType,
		HeapFlags:              desc.HeapFlags,
		SegmentGroup:           segGroup,
		Algorithm:              algo,
		PreferredBlockSize:     preferred,
		ExplicitBlockSize:      explicit,
		MinBlockCount:          desc.MinBlockCount,
		MaxBlockCount:          desc.MaxBlockCount,
		MinAllocationAlignment: desc.MinAllocationAlignment,
		NaturalAlignment:       owner.naturalAlignment(desc.HeapType),
		Budget:                 owner.budget,
		DebugGuardFreedSlots:   owner.desc.Flags&AllocatorFlagDebugGuardFreedSlots != 0,
	})
	return p
}

// alwaysCommitted reports whether this pool forces every allocation
// through the committed path (spec.md §4.5), either because this is a
// default pool and the allocator-wide AlwaysCommitted flag is set, or
// because this specific pool was created with PoolFlagAlwaysCommitted.
// The allocator-wide flag does not affect custom pools.
func (p *Pool) alwaysCommitted() bool {
	if p.desc.Flags&PoolFlagAlwaysCommitted != 0 {
		return true
	}
	return p.isDefault && p.owner.desc.Flags&AllocatorFlagAlwaysCommitted != 0
}

// msaaAlwaysCommitted mirrors alwaysCommitted for the MSAA-specific flag
// pair (spec.md §4.5 "MsaaTexturesAlwaysCommitted"); again the
// allocator-wide flag applies to default pools only.
func (p *Pool) msaaAlwaysCommitted() bool {
	if p.desc.Flags&PoolFlagMsaaTexturesAlwaysCommitted != 0 {
		return true
	}
	return p.isDefault && p.owner.desc.Flags&AllocatorFlagMsaaTexturesAlwaysCommitted != 0
}

// IsEmpty reports whether the pool holds no live allocations of any kind.
func (p *Pool) IsEmpty() bool {
	return p.vec.IsEmpty() && p.committed.IsEmpty()
}

// Name returns the pool's debug name.
func (p *Pool) Name() string { return p.desc.Name }

// CalculateStatistics folds this pool's placed and committed allocations
// into a single DetailedStatistics (spec.md §6).
func (p *Pool) CalculateStatistics() metadata.DetailedStatistics {
	stats := metadata.NewDetailedStatistics()
	p.vec.AddDetailedStatistics(&stats)
	p.committed.Each(func(e *block.CommittedEntry) {
		stats.AddAllocation(e.Size)
	})
	return stats
}

// DebugLogAllocations logs every live allocation in the pool (placed and
// committed) at Debug level.
func (p *Pool) DebugLogAllocations() {
	p.vec.DebugLogAllocations()
	p.committed.Each(func(e *block.CommittedEntry) {
		name := ""
		if a, ok := e.Data.(*Allocation); ok {
			name = a.Name()
		}
		Logger().Debug("committed allocation", "heapType", e.HeapType, "size", e.Size, "name", name)
	})
}

// SupportsDefragmentation reports whether this pool's block vector can
// enumerate its allocations (spec.md §4.6): pools built with
// PoolFlagAlgorithmLinear use Linear metadata, which rejects the
// enumeration entry points the defrag package's mover depends on.
func (p *Pool) SupportsDefragmentation() bool {
	return p.desc.Flags&PoolFlagAlgorithmLinear == 0
}

// LiveAllocation pairs one live placed allocation with the block it
// currently occupies, for the defrag package's candidate selection
// (spec.md §4.6). BlockID/BlockBytesUsed/BlockBytesTotal let a mover
// outside this package judge fill ratio and block ordering without
// reaching into block.NormalBlock directly.
type LiveAllocation struct {
	Alloc           *Allocation
	BlockID         int
	BlockBytesUsed  uint64
	BlockBytesTotal uint64
}

// LiveAllocations enumerates every placed allocation currently in the
// pool. Returns an error if the pool does not support defragmentation.
func (p *Pool) LiveAllocations() ([]LiveAllocation, error) {
	if !p.SupportsDefragmentation() {
		return nil, rhi.ResultNotSupported.Err(ErrDefragEnumerationUnsupported.Error())
	}
	var out []LiveAllocation
	p.vec.Each(func(b *block.NormalBlock) {
		used := b.Size - b.Meta.GetSumFreeSize()
		h, ok := b.Meta.GetAllocationListBegin()
		for ok {
			if a, isAlloc := b.Meta.GetAllocationPrivateData(h).(*Allocation); isAlloc {
				out = append(out, LiveAllocation{Alloc: a, BlockID: b.ID, BlockBytesUsed: used, BlockBytesTotal: b.Size})
			}
			h, ok = b.Meta.GetNextAllocation(h)
		}
	})
	return out, nil
}

// ReserveMove reserves a temporary placed allocation of the same size and
// alignment as src, using lowest-offset-fit so the mover naturally biases
// toward compacting allocations into the lowest-address blocks (spec.md
// §4.6 "Full ... compacts toward lowest-address blocks"). The returned
// Allocation is not wired into src; the caller (defrag package) inspects
// it, lets the host create a resource there, then calls CommitMove or
// CancelMove.
func (p *Pool) ReserveMove(src *Allocation) (*Allocation, error) {
	res, err := p.vec.Allocate(src.size, src.alignment, false, metadata.StrategyMinOffset, block.AllocFlags{}, nil)
	if err != nil {
		return nil, err
	}
	dst := newPlacedAllocation(p.owner, p, p.vec, res.Block, res.Handle, rhi.NullHandle, src.size, src.alignment, src.ResourceDimension(), src.ResourceFlags(), src.TextureLayout())
	res.Block.Meta.SetAllocationPrivateData(res.Handle, dst)
	return dst, nil
}

// CommitMove atomically replaces src's backing block/handle/resource with
// dst's, returns src's previous range to its original block, and discards
// the now-empty dst wrapper (spec.md §4.6 EndPass "Copy" semantics).
func (p *Pool) CommitMove(src, dst *Allocation) {
	oldVec, oldBlock, oldHandle := src.blockVec, src.nblock, src.handle

	src.blockVec = dst.blockVec
	src.nblock = dst.nblock
	src.handle = dst.handle
	src.resource = dst.resource
	src.nblock.Meta.SetAllocationPrivateData(src.handle, src)

	oldVec.Free(oldBlock, oldHandle)
	p.owner.allocPool.free(dst)
}

// CancelMove releases a reservation obtained from ReserveMove without ever
// committing it (spec.md §4.6 EndPass "Ignore", and cleanup on failure).
func (p *Pool) CancelMove(dst *Allocation) {
	dst.blockVec.Free(dst.nblock, dst.handle)
	p.owner.allocPool.free(dst)
}

// ReleaseThis destroys the pool's block vector and committed-allocation
// bookkeeping. Panics via ErrPoolHasLiveAllocations if any allocation is
// still live, matching the teacher's debug-assert convention for
// programmer errors (spec.md §7).
func (p *Pool) ReleaseThis() {
	if !p.IsEmpty() {
		panic(ErrPoolHasLiveAllocations)
	}
	p.vec.Destroy()
	if !p.isDefault {
		p.owner.untrackPool(p)
	}
}

// writeBlocksJSON writes this pool's normal blocks as a JSON array,
// resolving each live suballocation's JSON fields from the Allocation
// record metadata stores as that suballocation's private data (spec.md
// §6). Iterating blocks directly here (rather than through
// BlockVector.WriteJSON) lets the lookup closure capture the specific
// block whose metadata handle space it is resolving against.
func (p *Pool) writeBlocksJSON(w *jsonwriter.Writer) {
	w.BeginArray(false)
	p.vec.Each(func(b *block.NormalBlock) {
		b.WriteJSON(w, func(h metadata.Handle) metadata.JSONAllocation {
			a, _ := b.Meta.GetAllocationPrivateData(h).(*Allocation)
			if a == nil {
				return metadata.JSONAllocation{}
			}
			return metadata.JSONAllocation{
				Type:      a.ResourceDimension().String(),
				Usage:     a.ResourceFlags(),
				Name:      a.Name(),
				Layout:    a.TextureLayout(),
				HasCustom: false,
			}
		})
	})
	w.EndArray()
}
