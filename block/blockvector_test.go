package block

import (
	"testing"

	"github.com/gogpu/vma/internal/fakerhi"
	"github.com/gogpu/vma/metadata"
	"github.com/gogpu/vma/rhi"
)

func newTestVector(t *testing.T, preferred uint64, minBlocks, maxBlocks int) (*BlockVector, *fakerhi.Backend) {
	t.Helper()
	backend := fakerhi.New()
	cfg := Config{
		Backend:                backend,
		Device:                 1,
		HeapType:               rhi.HeapTypeDeviceLocal,
		SegmentGroup:           rhi.MemorySegmentLocal,
		Algorithm:              AlgorithmGeneral,
		PreferredBlockSize:     preferred,
		MinBlockCount:          minBlocks,
		MaxBlockCount:          maxBlocks,
		NaturalAlignment:       1,
		MinAllocationAlignment: 1,
	}
	return NewBlockVector(cfg), backend
}

func TestBlockVectorCreatesFirstBlockOnDemand(t *testing.T) {
	bv, _ := newTestVector(t, 1024, 0, 0)
	if bv.BlockCount() != 0 {
		t.Fatalf("block count before any allocation = %d, want 0", bv.BlockCount())
	}

	res, err := bv.Allocate(256, 16, false, metadata.StrategyMinTime, AllocFlags{}, "A")
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if bv.BlockCount() != 1 {
		t.Fatalf("block count after first allocation = %d, want 1", bv.BlockCount())
	}
	if res.Offset != 0 {
		t.Fatalf("offset = %d, want 0", res.Offset)
	}
}

func TestBlockVectorReusesExistingBlockBeforeGrowing(t *testing.T) {
	bv, _ := newTestVector(t, 4096, 0, 0)

	res1, err := bv.Allocate(1024, 16, false, metadata.StrategyMinTime, AllocFlags{}, "A")
	if err != nil {
		t.Fatalf("first allocate: %v", err)
	}
	_, err = bv.Allocate(1024, 16, false, metadata.StrategyMinTime, AllocFlags{}, "B")
	if err != nil {
		t.Fatalf("second allocate: %v", err)
	}
	if bv.BlockCount() != 1 {
		t.Fatalf("block count = %d, want 1 (both allocations fit in one block)", bv.BlockCount())
	}

	bv.Free(res1.Block, res1.Handle)
	if bv.BlockCount() != 1 {
		t.Fatalf("block count after free = %d, want 1 (block still holds B, and is the last block)", bv.BlockCount())
	}
}

func TestBlockVectorRetiresEmptyBlockAboveMinCount(t *testing.T) {
	bv, _ := newTestVector(t, 256, 0, 0)

	// Each block holds exactly one 256-byte allocation at this preferred
	// size, so two allocations force two separate blocks.
	res1, err := bv.Allocate(256, 1, false, metadata.StrategyMinTime, AllocFlags{}, nil)
	if err != nil {
		t.Fatalf("alloc 1: %v", err)
	}
	_, err = bv.Allocate(256, 1, false, metadata.StrategyMinTime, AllocFlags{}, nil)
	if err != nil {
		t.Fatalf("alloc 2: %v", err)
	}
	if bv.BlockCount() != 2 {
		t.Fatalf("block count = %d, want 2", bv.BlockCount())
	}

	bv.Free(res1.Block, res1.Handle)
	if bv.BlockCount() != 1 {
		t.Fatalf("block count after freeing the first block's only allocation = %d, want 1 (retired)", bv.BlockCount())
	}
}

func TestBlockVectorNeverAllocateFailsWithoutGrowing(t *testing.T) {
	bv, _ := newTestVector(t, 256, 0, 0)

	_, err := bv.Allocate(1024, 1, false, metadata.StrategyMinTime, AllocFlags{NeverAllocate: true}, nil)
	if err == nil {
		t.Fatal("expected failure: no existing block and NeverAllocate set")
	}
	if rhi.ResultOf(err) != rhi.ResultOutOfDeviceMemory {
		t.Fatalf("result = %v, want OutOfDeviceMemory", rhi.ResultOf(err))
	}
	if bv.BlockCount() != 0 {
		t.Fatalf("block count = %d, want 0 (NeverAllocate must not create a block)", bv.BlockCount())
	}
}

func TestBlockVectorMaxBlockCountEnforced(t *testing.T) {
	bv, _ := newTestVector(t, 256, 0, 1)

	if _, err := bv.Allocate(256, 1, false, metadata.StrategyMinTime, AllocFlags{}, nil); err != nil {
		t.Fatalf("first allocate: %v", err)
	}
	_, err := bv.Allocate(256, 1, false, metadata.StrategyMinTime, AllocFlags{}, nil)
	if err == nil {
		t.Fatal("expected failure: at MaxBlockCount")
	}
	if rhi.ResultOf(err) != rhi.ResultOutOfDeviceMemory {
		t.Fatalf("result = %v, want OutOfDeviceMemory", rhi.ResultOf(err))
	}
}

func TestBlockVectorWithinBudgetRejectsOverBudget(t *testing.T) {
	bv, backend := newTestVector(t, 4096, 0, 0)
	budget := &fakeBudget{fits: false}
	bv.cfg.Budget = budget

	_, err := bv.Allocate(1024, 1, false, metadata.StrategyMinTime, AllocFlags{WithinBudget: true}, nil)
	if err == nil {
		t.Fatal("expected WithinBudgetExceeded")
	}
	if rhi.ResultOf(err) != rhi.ResultWithinBudgetExceeded {
		t.Fatalf("result = %v, want WithinBudgetExceeded", rhi.ResultOf(err))
	}
	_ = backend
}

type fakeBudget struct{ fits bool }

func (f *fakeBudget) Fits(rhi.MemorySegmentGroup, uint64) bool { return f.fits }
