package defrag

import (
	"testing"

	"github.com/gogpu/vma/gpualloc"
	"github.com/gogpu/vma/internal/fakerhi"
	"github.com/gogpu/vma/rhi"
)

func newTestAllocator(t *testing.T) (*gpualloc.Allocator, *fakerhi.Backend) {
	t.Helper()
	backend := fakerhi.New()
	a, err := gpualloc.NewAllocator(gpualloc.DefaultAllocatorDesc(1, backend))
	if err != nil {
		t.Fatalf("NewAllocator: %v", err)
	}
	return a, backend
}

// TestOnePassRelinksIntoEarlierBlock reproduces spec.md §8 scenario 6: a
// pool with two blocks, the second holding a single small allocation X.
// BeginDefragmentation(Balanced); BeginPass proposes one move; EndPass
// relinks X into the first block and retires the second, so the pool's
// block count goes from 2 to 1.
func TestOnePassRelinksIntoEarlierBlock(t *testing.T) {
	a, _ := newTestAllocator(t)

	pool, err := a.CreatePool(gpualloc.PoolDesc{
		HeapType:      rhi.HeapTypeDeviceLocal,
		BlockSize:     512,
		MinBlockCount: 1,
	})
	if err != nil {
		t.Fatalf("CreatePool: %v", err)
	}

	poolDesc := gpualloc.AllocationDesc{HeapType: rhi.HeapTypeDeviceLocal, CustomPool: pool}

	a1, err := a.AllocateMemory(poolDesc, 200, 1)
	if err != nil {
		t.Fatalf("AllocateMemory a1: %v", err)
	}
	a2, err := a.AllocateMemory(poolDesc, 56, 1)
	if err != nil {
		t.Fatalf("AllocateMemory a2: %v", err)
	}
	x, err := a.AllocateMemory(poolDesc, 64, 1)
	if err != nil {
		t.Fatalf("AllocateMemory x: %v", err)
	}

	if got := x.BlockID(); got != 1 {
		t.Fatalf("expected X to land in block 1 (block 0 full), got block %d", got)
	}

	a1.ReleaseThis() // frees room in block 0 without emptying it (a2 remains)

	ctx, err := Begin(Desc{Pools: []*gpualloc.Pool{pool}, Algorithm: AlgorithmBalanced})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	moves, err := ctx.BeginPass()
	if err != nil {
		t.Fatalf("BeginPass: %v", err)
	}
	if len(moves) != 1 {
		t.Fatalf("expected exactly one proposed move, got %d", len(moves))
	}
	move := moves[0]
	if move.Src != x {
		t.Fatalf("expected the proposed move's source to be X")
	}
	if move.Dst.BlockID() != 0 {
		t.Fatalf("expected the destination range to lie in block 0, got block %d", move.Dst.BlockID())
	}
	if move.Operation != OpCopy {
		t.Fatalf("expected the default operation to be Copy")
	}

	// Caller performs the GPU copy and binds the destination's resource.
	move.Dst.SetResource(42)

	complete, err := ctx.EndPass(moves)
	if err != nil {
		t.Fatalf("EndPass: %v", err)
	}
	if complete {
		t.Fatalf("EndPass should report complete=false for a pass that moved something")
	}

	if got := x.BlockID(); got != 0 {
		t.Fatalf("expected X relinked into block 0, got block %d", got)
	}
	if got := x.Resource(); got != 42 {
		t.Fatalf("expected X's resource to be the one bound via SetResource, got %v", got)
	}

	if got := a2.BlockID(); got != 0 {
		t.Fatalf("expected the untouched allocation to remain in block 0, got block %d", got)
	}

	pass2, err := ctx.BeginPass()
	if err != nil {
		t.Fatalf("BeginPass (second pass): %v", err)
	}
	if len(pass2) != 0 {
		t.Fatalf("expected the second pass to propose nothing, got %d moves", len(pass2))
	}
	if _, err := ctx.EndPass(pass2); err != nil {
		t.Fatalf("EndPass (second pass): %v", err)
	}

	ctx.ReleaseThis()

	a2.ReleaseThis()
	x.ReleaseThis()
	pool.ReleaseThis()
}

// TestBeginRejectsLinearPool confirms defragmentation on a linear-metadata
// pool is refused up front (spec.md §4.6, §7 "Not supported").
func TestBeginRejectsLinearPool(t *testing.T) {
	a, _ := newTestAllocator(t)
	pool, err := a.CreatePool(gpualloc.PoolDesc{
		HeapType: rhi.HeapTypeDeviceLocal,
		Flags:    gpualloc.PoolFlagAlgorithmLinear,
	})
	if err != nil {
		t.Fatalf("CreatePool: %v", err)
	}
	if _, err := Begin(Desc{Pools: []*gpualloc.Pool{pool}}); err == nil {
		t.Fatalf("expected Begin to reject a linear-metadata pool")
	}
}

// TestReleaseThisCancelsPendingMoves confirms that abandoning a context
// mid-pass releases the destination reservations it had proposed (spec.md
// §5 "implicitly releases any temporary destination allocations").
func TestReleaseThisCancelsPendingMoves(t *testing.T) {
	a, _ := newTestAllocator(t)
	pool, err := a.CreatePool(gpualloc.PoolDesc{HeapType: rhi.HeapTypeDeviceLocal, BlockSize: 512, MinBlockCount: 1})
	if err != nil {
		t.Fatalf("CreatePool: %v", err)
	}
	desc := gpualloc.AllocationDesc{HeapType: rhi.HeapTypeDeviceLocal, CustomPool: pool}

	a1, err := a.AllocateMemory(desc, 200, 1)
	if err != nil {
		t.Fatalf("AllocateMemory a1: %v", err)
	}
	a2, err := a.AllocateMemory(desc, 56, 1)
	if err != nil {
		t.Fatalf("AllocateMemory a2: %v", err)
	}
	x, err := a.AllocateMemory(desc, 64, 1)
	if err != nil {
		t.Fatalf("AllocateMemory x: %v", err)
	}
	a1.ReleaseThis()

	ctx, err := Begin(Desc{Pools: []*gpualloc.Pool{pool}, Algorithm: AlgorithmBalanced})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	moves, err := ctx.BeginPass()
	if err != nil {
		t.Fatalf("BeginPass: %v", err)
	}
	if len(moves) == 0 {
		t.Fatalf("expected at least one proposed move to abandon")
	}

	ctx.ReleaseThis()

	a2.ReleaseThis()
	x.ReleaseThis()
	pool.ReleaseThis()
}
