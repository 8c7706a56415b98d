package gpualloc

import (
	"testing"

	"github.com/gogpu/vma/rhi"
)

func TestPoolSupportsDefragmentationFalseForLinear(t *testing.T) {
	a, _ := newTestAllocator(t)
	pool, err := a.CreatePool(PoolDesc{HeapType: rhi.HeapTypeDeviceLocal, Flags: PoolFlagAlgorithmLinear})
	if err != nil {
		t.Fatalf("CreatePool: %v", err)
	}
	if pool.SupportsDefragmentation() {
		t.Fatalf("expected a linear-metadata pool to not support defragmentation")
	}
	if _, err := pool.LiveAllocations(); err == nil {
		t.Fatalf("expected LiveAllocations to error on a linear-metadata pool")
	}
}

func TestPoolReserveMoveAndCancelMoveRoundTrip(t *testing.T) {
	a, _ := newTestAllocator(t)
	pool, err := a.CreatePool(PoolDesc{HeapType: rhi.HeapTypeDeviceLocal, BlockSize: 1024, MinBlockCount: 1})
	if err != nil {
		t.Fatalf("CreatePool: %v", err)
	}
	desc := AllocationDesc{HeapType: rhi.HeapTypeDeviceLocal, CustomPool: pool}

	src, err := a.AllocateMemory(desc, 128, 256)
	if err != nil {
		t.Fatalf("AllocateMemory: %v", err)
	}

	before := pool.CalculateStatistics()

	dst, err := pool.ReserveMove(src)
	if err != nil {
		t.Fatalf("ReserveMove: %v", err)
	}
	if dst.Size() != src.Size() {
		t.Fatalf("reserved destination size = %d, want %d", dst.Size(), src.Size())
	}

	pool.CancelMove(dst)

	after := pool.CalculateStatistics()
	if after.AllocationBytes != before.AllocationBytes {
		t.Fatalf("expected CancelMove to leave allocation byte count unchanged: before=%d after=%d", before.AllocationBytes, after.AllocationBytes)
	}

	src.ReleaseThis()
	pool.ReleaseThis()
}

func TestPoolIsEmptyAndName(t *testing.T) {
	a, _ := newTestAllocator(t)
	pool, err := a.CreatePool(PoolDesc{HeapType: rhi.HeapTypeDeviceLocal, Name: "upload-pool"})
	if err != nil {
		t.Fatalf("CreatePool: %v", err)
	}
	if pool.Name() != "upload-pool" {
		t.Fatalf("Name() = %q, want %q", pool.Name(), "upload-pool")
	}
	if !pool.IsEmpty() {
		t.Fatalf("expected a freshly created pool to be empty")
	}

	alloc, err := a.AllocateMemory(AllocationDesc{HeapType: rhi.HeapTypeDeviceLocal, CustomPool: pool}, 256, 256)
	if err != nil {
		t.Fatalf("AllocateMemory: %v", err)
	}
	if pool.IsEmpty() {
		t.Fatalf("expected the pool to be non-empty after an allocation")
	}

	alloc.ReleaseThis()
	if !pool.IsEmpty() {
		t.Fatalf("expected the pool to be empty again after releasing the only allocation")
	}
	pool.ReleaseThis()
}
