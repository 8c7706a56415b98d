package block

import (
	"github.com/gogpu/vma/internal/jsonwriter"
	"github.com/gogpu/vma/internal/obslog"
	"github.com/gogpu/vma/internal/pod"
	"github.com/gogpu/vma/internal/syncutil"
	"github.com/gogpu/vma/metadata"
	"github.com/gogpu/vma/rhi"
)

// newBlockSizeShiftMax bounds how many times a fresh block's size may be
// halved below the preferred block size while still growing the vector
// toward it (spec.md §4.4 "geometric growth bounded by
// NEW_BLOCK_SIZE_SHIFT_MAX doublings"); grounded on
// original_source/BasicRHI/rhi_allocator_utils.h's identically named
// constant, which keeps the first few blocks of a cold pool small instead
// of over-committing a full preferred-size heap immediately.
const newBlockSizeShiftMax = 3

// BudgetChecker is the minimal slice of the budget tracker a BlockVector
// needs to honor AllocFlags.WithinBudget, expressed as an interface so
// this package never imports gpualloc (which imports block).
type BudgetChecker interface {
	Fits(group rhi.MemorySegmentGroup, extraBytes uint64) bool
}

// AllocFlags carries the allocation-descriptor bits BlockVector.Allocate
// must enforce itself (spec.md §4.4 step 1).
type AllocFlags struct {
	WithinBudget  bool
	NeverAllocate bool
}

// Reservation is a committed placed-allocation: a block plus the handle
// metadata.Alloc produced inside it. The caller (gpualloc.Allocator)
// attaches an RHI resource to Offset/Size within Block.Heap.
type Reservation struct {
	Block  *NormalBlock
	Handle metadata.Handle
	Offset uint64
	Size   uint64
}

// Config bundles the fixed parameters a BlockVector is constructed with
// (everything PoolDesc/AllocatorDesc fixes once and never changes).
type Config struct {
	Backend                rhi.Backend
	Device                 rhi.Device
	HeapType               rhi.HeapType
	HeapFlags              rhi.HeapFlags
	SegmentGroup           rhi.MemorySegmentGroup
	Algorithm              Algorithm
	DebugMargin            uint64
	DebugGuardFreedSlots   bool
	PreferredBlockSize     uint64
	ExplicitBlockSize      bool
	MinBlockCount          int
	MaxBlockCount          int
	MinAllocationAlignment uint64
	NaturalAlignment       uint64
	Budget                 BudgetChecker
}

// BlockVector owns the normal blocks of one pool (default or custom) and
// the lock serializing access to them (spec.md §4.4, §5 "each block vector
// holds its own lock").
type BlockVector struct {
	mu  syncutil.RWMutex
	cfg Config

	blocks []*NormalBlock
	nextID int
}

// NewBlockVector creates an empty block vector; no heap is allocated until
// the first Allocate call that cannot be satisfied by an existing block.
func NewBlockVector(cfg Config) *BlockVector {
	return &BlockVector{cfg: cfg}
}

// Allocate finds or creates room for size bytes aligned to at least
// alignment, committing the allocation against the winning block's
// metadata before returning (spec.md §4.4 steps 1-6).
func (bv *BlockVector) Allocate(size, alignment uint64, upperAddress bool, strategy metadata.Strategy, flags AllocFlags, privateData any) (Reservation, error) {
	if alignment < bv.cfg.MinAllocationAlignment {
		alignment = bv.cfg.MinAllocationAlignment
	}
	if alignment < bv.cfg.NaturalAlignment {
		alignment = bv.cfg.NaturalAlignment
	}
	if alignment == 0 {
		alignment = 1
	}

	if flags.WithinBudget && bv.cfg.Budget != nil && !bv.cfg.Budget.Fits(bv.cfg.SegmentGroup, size) {
		obslog.Get().Warn("block: allocation rejected, would exceed budget",
			"heapType", bv.cfg.HeapType, "segmentGroup", bv.cfg.SegmentGroup, "size", size)
		return Reservation{}, rhi.ResultWithinBudgetExceeded.Err("allocation would exceed the current budget")
	}

	unlock := syncutil.ScopedWrite(&bv.mu)
	defer unlock()

	if blk, req, ok := bv.findCandidate(size, alignment, upperAddress, strategy); ok {
		h := blk.Meta.Alloc(req, size, privateData)
		obslog.Get().Debug("block: placed", "blockID", blk.ID, "offset", req.Offset, "size", size)
		return Reservation{Block: blk, Handle: h, Offset: req.Offset, Size: size}, nil
	}

	if flags.NeverAllocate {
		return Reservation{}, rhi.ResultOutOfDeviceMemory.Err("no existing block had room and NeverAllocate is set")
	}
	if bv.cfg.MaxBlockCount > 0 && len(bv.blocks) >= bv.cfg.MaxBlockCount {
		return Reservation{}, rhi.ResultOutOfDeviceMemory.Err("block vector is already at its maximum block count")
	}

	blockSize := bv.nextBlockSize(size, alignment)
	blk, err := newNormalBlock(bv.cfg.Backend, bv.cfg.Device, bv.nextID, bv.cfg.HeapType, bv.cfg.HeapFlags, blockSize, bv.cfg.Algorithm, bv.cfg.DebugMargin, bv.cfg.DebugGuardFreedSlots)
	if err != nil {
		return Reservation{}, err
	}
	bv.nextID++
	bv.blocks = append(bv.blocks, blk)

	req, ok := blk.Meta.CreateAllocationRequest(size, alignment, upperAddress, strategy)
	if !ok {
		return Reservation{}, rhi.ResultOutOfDeviceMemory.Err("freshly created block could not satisfy the request")
	}
	h := blk.Meta.Alloc(req, size, privateData)
	obslog.Get().Debug("block: placed in new block", "blockID", blk.ID, "offset", req.Offset, "size", size)
	return Reservation{Block: blk, Handle: h, Offset: req.Offset, Size: size}, nil
}

// findCandidate scans existing blocks under the caller's lock, honoring the
// requested strategy: best-fit (StrategyMinMemory) considers every block
// and keeps the one with the least free space remaining (the tightest
// overall fit); first-fit and lowest-address fit stop at the first block
// that can satisfy the request, since blocks are tried in creation order.
func (bv *BlockVector) findCandidate(size, alignment uint64, upperAddress bool, strategy metadata.Strategy) (*NormalBlock, metadata.AllocationRequest, bool) {
	var best *NormalBlock
	var bestReq metadata.AllocationRequest
	found := false
	for _, blk := range bv.blocks {
		req, ok := blk.Meta.CreateAllocationRequest(size, alignment, upperAddress, strategy)
		if !ok {
			continue
		}
		if strategy != metadata.StrategyMinMemory {
			return blk, req, true
		}
		if !found || blk.Meta.GetSumFreeSize() < best.Meta.GetSumFreeSize() {
			best, bestReq, found = blk, req, true
		}
	}
	return best, bestReq, found
}

// nextBlockSize computes the size of the next block to create: the first
// few blocks of an implicitly-sized pool grow geometrically from a
// fraction of the preferred size up toward it (at most
// newBlockSizeShiftMax halvings below it), so a pool that only ever holds
// a handful of small allocations doesn't commit a full preferred-size heap
// on its very first allocation. A pool with an explicit block size (set
// via PoolDesc.BlockSize) always uses exactly that size.
func (bv *BlockVector) nextBlockSize(size, alignment uint64) uint64 {
	newSize := bv.cfg.PreferredBlockSize
	if !bv.cfg.ExplicitBlockSize {
		maxExisting := bv.maxExistingBlockSize()
		for i := 0; i < newBlockSizeShiftMax; i++ {
			smaller := newSize / 2
			if smaller > maxExisting && smaller >= size*2 {
				newSize = smaller
			} else {
				break
			}
		}
	}
	if newSize < size {
		a := alignment
		if a == 0 {
			a = 1
		}
		newSize = pod.AlignUp(size, a)
	}
	return newSize
}

func (bv *BlockVector) maxExistingBlockSize() uint64 {
	var m uint64
	for _, b := range bv.blocks {
		if b.Size > m {
			m = b.Size
		}
	}
	return m
}

// Free releases the allocation h inside blk, then retires blk if it is now
// empty, the vector holds more than MinBlockCount blocks, and blk is not
// the sole remaining block (spec.md §4.4 "the last kept block is never
// destroyed even if empty").
func (bv *BlockVector) Free(blk *NormalBlock, h metadata.Handle) {
	unlock := syncutil.ScopedWrite(&bv.mu)
	defer unlock()

	blk.Meta.Free(h)
	bv.retireIfEmpty(blk)
}

func (bv *BlockVector) retireIfEmpty(blk *NormalBlock) {
	if !blk.Meta.IsEmpty() {
		return
	}
	if len(bv.blocks) <= 1 || len(bv.blocks) <= bv.cfg.MinBlockCount {
		return
	}
	idx := -1
	for i, b := range bv.blocks {
		if b == blk {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	blk.destroy(bv.cfg.Backend)
	bv.blocks = append(bv.blocks[:idx], bv.blocks[idx+1:]...)
}

// BlockCount returns the number of live blocks.
func (bv *BlockVector) BlockCount() int {
	unlock := syncutil.ScopedRead(&bv.mu)
	defer unlock()
	return len(bv.blocks)
}

// IsEmpty reports whether the vector holds no live suballocations across
// any of its blocks.
func (bv *BlockVector) IsEmpty() bool {
	unlock := syncutil.ScopedRead(&bv.mu)
	defer unlock()
	for _, b := range bv.blocks {
		if !b.Meta.IsEmpty() {
			return false
		}
	}
	return true
}

// Each calls fn for every live block, holding the read lock for the
// duration. fn must not call back into the vector.
func (bv *BlockVector) Each(fn func(*NormalBlock)) {
	unlock := syncutil.ScopedRead(&bv.mu)
	defer unlock()
	for _, b := range bv.blocks {
		fn(b)
	}
}

// AddStatistics folds every block's metadata statistics into stats.
func (bv *BlockVector) AddStatistics(stats *metadata.Statistics) {
	unlock := syncutil.ScopedRead(&bv.mu)
	defer unlock()
	for _, b := range bv.blocks {
		b.Meta.AddStatistics(stats)
	}
}

// AddDetailedStatistics folds every block's detailed metadata statistics
// into stats.
func (bv *BlockVector) AddDetailedStatistics(stats *metadata.DetailedStatistics) {
	unlock := syncutil.ScopedRead(&bv.mu)
	defer unlock()
	for _, b := range bv.blocks {
		b.Meta.AddDetailedStatistics(stats)
	}
}

// WriteJSON writes this vector's blocks as a JSON array (the caller writes
// the key first), matching the per-pool "Blocks" entry of spec.md §6's document.
func (bv *BlockVector) WriteJSON(w *jsonwriter.Writer, lookup func(h metadata.Handle) metadata.JSONAllocation) {
	unlock := syncutil.ScopedRead(&bv.mu)
	defer unlock()
	w.BeginArray(false)
	for _, b := range bv.blocks {
		b.WriteJSON(w, lookup)
	}
	w.EndArray()
}

// DebugLogAllocations logs every live suballocation across every block at
// Debug level (spec.md supplemented feature, §3 of SPEC_FULL.md), and
// validates each block's metadata first, logging at Error level (and
// reporting ok=false) for any block whose invariants no longer hold
// (spec.md §4.3 "Validate(): assert all invariants; returns false on
// corruption").
func (bv *BlockVector) DebugLogAllocations() (ok bool) {
	unlock := syncutil.ScopedRead(&bv.mu)
	defer unlock()
	ok = true
	for _, b := range bv.blocks {
		if !b.Meta.Validate() {
			obslog.Get().Error("block: metadata corruption detected", "blockID", b.ID, "heapType", bv.cfg.HeapType)
			ok = false
		}
		b.Meta.DebugLogAllAllocations(func(offset, size uint64, name string) {
			obslog.Get().Debug("allocation", "blockID", b.ID, "offset", offset, "size", size, "name", name)
		})
	}
	return ok
}

// Destroy releases every block's heap. The caller must ensure no
// allocations are live (a programming error otherwise, spec.md §4.4 "pool
// destruction with live allocations").
func (bv *BlockVector) Destroy() {
	unlock := syncutil.ScopedWrite(&bv.mu)
	defer unlock()
	for _, b := range bv.blocks {
		if !b.Meta.IsEmpty() {
			panic("block: BlockVector destroyed with live allocations")
		}
		b.destroy(bv.cfg.Backend)
	}
	bv.blocks = nil
}
