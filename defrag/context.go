// Package defrag implements incremental defragmentation (spec.md §4.6):
// a per-pool move planner that proposes relocations, lets the caller execute
// the GPU copy, then commits or cancels each move on EndPass. It builds
// strictly on top of gpualloc's exported defrag-support surface
// (Pool.LiveAllocations/ReserveMove/CommitMove/CancelMove) rather than the
// block or metadata packages directly, so gpualloc never needs to import
// defrag back.
package defrag

import (
	"errors"
	"sort"

	"github.com/gogpu/vma/gpualloc"
	"github.com/gogpu/vma/rhi"
)

// Algorithm selects the candidate-block heuristic a Context uses when
// proposing moves (spec.md §4.6).
type Algorithm int

const (
	// AlgorithmFast selects the tail-most heavy blocks and tries to empty
	// them in as few passes as possible.
	AlgorithmFast Algorithm = iota
	// AlgorithmBalanced prefers blocks with the lowest fill ratio.
	AlgorithmBalanced
	// AlgorithmFull enumerates every allocation in the pool and compacts
	// toward the lowest-address blocks until the per-pass caps are
	// exhausted.
	AlgorithmFull
)

// Desc configures a Context (spec.md §4.6).
type Desc struct {
	// Pools lists the pools this context defragments. A single-pool target
	// passes one entry; "all default pools" passes gpualloc.Allocator's
	// DefaultPools() result.
	Pools []*gpualloc.Pool
	// Algorithm selects the candidate heuristic.
	Algorithm Algorithm
	// MaxBytesPerPass caps the total size of allocations proposed for move
	// in a single BeginPass call. Zero means unlimited.
	MaxBytesPerPass uint64
	// MaxAllocationsPerPass caps the number of moves a single BeginPass
	// call proposes. Zero means unlimited.
	MaxAllocationsPerPass int
}

// Operation is the caller's disposition for one proposed move (spec.md
// §4.6 pass protocol step 2).
type Operation int

const (
	// OpCopy is the default: the caller must create a resource in Dst's
	// range, call Dst.SetResource, and issue the GPU copy before EndPass.
	OpCopy Operation = iota
	// OpIgnore leaves Src where it is; the reservation held by Dst is
	// released on EndPass without being committed.
	OpIgnore
	// OpDestroy releases Src entirely on EndPass instead of moving it.
	OpDestroy
)

// MoveInfo is one proposed relocation (spec.md §4.6). Dst is a temporary
// allocation reserved in the destination range; it is never visible to the
// application beyond the lifetime of the pass.
type MoveInfo struct {
	Operation Operation
	Src       *gpualloc.Allocation
	Dst       *gpualloc.Allocation

	pool *gpualloc.Pool
}

// ErrBroken is returned by BeginPass/EndPass once a context has failed:
// per spec.md §4.6 "the context ... becomes unusable until destroyed."
var ErrBroken = errors.New("defrag: context is broken and must be released")

// ErrMoveSetMismatch is returned by EndPass when the move slice passed in
// does not correspond to the one BeginPass most recently returned (spec.md
// §4.6 "caller contract violation").
var ErrMoveSetMismatch = errors.New("defrag: move list passed to EndPass does not match the last BeginPass")

// Context is an incremental move planner for one or more pools (spec.md §3
// "Defragmentation context", §4.6).
type Context struct {
	desc    Desc
	broken  bool
	pending []*MoveInfo
}

// Begin validates desc and constructs a Context. Every pool in desc.Pools
// must support defragmentation (spec.md §4.6, §7 "defragmentation on a
// linear-metadata pool" is Not Supported).
func Begin(desc Desc) (*Context, error) {
	if len(desc.Pools) == 0 {
		return nil, errors.New("defrag: Desc.Pools must not be empty")
	}
	for _, p := range desc.Pools {
		if !p.SupportsDefragmentation() {
			return nil, rhi.ResultNotSupported.Err(gpualloc.ErrDefragEnumerationUnsupported.Error())
		}
	}
	return &Context{desc: desc}, nil
}

// candidate pairs one live allocation with the pool it came from, for
// cross-pool candidate selection.
type candidate struct {
	gpualloc.LiveAllocation
	pool *gpualloc.Pool
}

// BeginPass proposes the next round of moves (spec.md §4.6 pass protocol
// step 1). An empty, non-error result means the context has nothing left
// to do: "a context reports completion when a pass would propose nothing."
func (c *Context) BeginPass() ([]*MoveInfo, error) {
	if c.broken {
		return nil, ErrBroken
	}
	if len(c.pending) != 0 {
		return nil, errors.New("defrag: BeginPass called with a pass already open")
	}

	var all []candidate
	for _, p := range c.desc.Pools {
		live, err := p.LiveAllocations()
		if err != nil {
			return nil, err
		}
		for _, la := range live {
			all = append(all, candidate{LiveAllocation: la, pool: p})
		}
	}

	ordered := c.order(all)

	var moves []*MoveInfo
	var bytes uint64
	for _, cand := range ordered {
		if c.desc.MaxAllocationsPerPass > 0 && len(moves) >= c.desc.MaxAllocationsPerPass {
			break
		}
		if c.desc.MaxBytesPerPass > 0 && bytes+cand.Alloc.Size() > c.desc.MaxBytesPerPass {
			continue
		}

		dst, err := cand.pool.ReserveMove(cand.Alloc)
		if err != nil {
			// Pool is full or fragmented in a way that can't place this
			// allocation elsewhere; skip it rather than fail the pass.
			continue
		}
		if !c.improves(cand, dst) {
			cand.pool.CancelMove(dst)
			continue
		}

		bytes += cand.Alloc.Size()
		moves = append(moves, &MoveInfo{Operation: OpCopy, Src: cand.Alloc, Dst: dst, pool: cand.pool})
	}

	c.pending = moves
	return moves, nil
}

// order sorts live allocations into the priority BeginPass walks them in,
// per algorithm (spec.md §4.6 "Algorithm").
func (c *Context) order(all []candidate) []candidate {
	switch c.desc.Algorithm {
	case AlgorithmFast:
		// Tail-most heavy blocks first: highest block ID, heaviest blocks
		// (by used bytes) ahead of lighter ones within that block.
		sort.SliceStable(all, func(i, j int) bool {
			if all[i].BlockID != all[j].BlockID {
				return all[i].BlockID > all[j].BlockID
			}
			return all[i].BlockBytesUsed > all[j].BlockBytesUsed
		})
	case AlgorithmFull:
		// Compact toward the lowest-address blocks: lowest block ID first,
		// then lowest offset within the block.
		sort.SliceStable(all, func(i, j int) bool {
			if all[i].BlockID != all[j].BlockID {
				return all[i].BlockID < all[j].BlockID
			}
			return all[i].Alloc.Offset() < all[j].Alloc.Offset()
		})
	default: // AlgorithmBalanced
		sort.SliceStable(all, func(i, j int) bool {
			fi := fillRatio(all[i].BlockBytesUsed, all[i].BlockBytesTotal)
			fj := fillRatio(all[j].BlockBytesUsed, all[j].BlockBytesTotal)
			if fi != fj {
				return fi < fj
			}
			return all[i].BlockID > all[j].BlockID
		})
	}
	return all
}

func fillRatio(used, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(used) / float64(total)
}

// improves reports whether relocating cand into dst is worth proposing: a
// move is only useful if it lands in an earlier (lower-ID) block than the
// one the allocation currently occupies, so a pass can never propose a
// move that would just shuffle an allocation sideways within its own block
// or regress it toward the tail.
func (c *Context) improves(cand candidate, dst *gpualloc.Allocation) bool {
	return dst.BlockID() < cand.BlockID
}

// EndPass commits the pass (spec.md §4.6 pass protocol step 3). moves must
// be the exact slice most recently returned by BeginPass (entries may have
// had their Operation field changed by the caller, but the slice identity
// and Src/Dst pairing must be unchanged). Returns complete=true once a pass
// proposes zero moves, matching "a context reports completion when a pass
// would propose nothing."
func (c *Context) EndPass(moves []*MoveInfo) (complete bool, err error) {
	if c.broken {
		return false, ErrBroken
	}
	if !sameMoveSet(moves, c.pending) {
		c.broken = true
		return false, ErrMoveSetMismatch
	}

	for _, m := range moves {
		switch m.Operation {
		case OpCopy:
			m.pool.CommitMove(m.Src, m.Dst)
		case OpIgnore:
			m.pool.CancelMove(m.Dst)
		case OpDestroy:
			m.pool.CancelMove(m.Dst)
			m.Src.ReleaseThis()
		}
	}

	n := len(c.pending)
	c.pending = nil
	return n == 0, nil
}

func sameMoveSet(a, b []*MoveInfo) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ReleaseThis abandons the context. Any moves reserved by a BeginPass that
// was never committed via EndPass have their destination reservations
// released (spec.md §5 "abandoned by destroying the context, which
// implicitly releases any temporary destination allocations").
func (c *Context) ReleaseThis() {
	for _, m := range c.pending {
		m.pool.CancelMove(m.Dst)
	}
	c.pending = nil
	c.broken = true
}
