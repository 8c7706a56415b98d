package vblock

import (
	"testing"

	"github.com/gogpu/vma/metadata"
)

func TestCreateVirtualBlockRejectsZeroSize(t *testing.T) {
	if _, err := CreateVirtualBlock(Desc{Size: 0}); err == nil {
		t.Fatalf("expected a zero-size Desc to be rejected")
	}
}

func TestAllocateAndFreeRoundTrip(t *testing.T) {
	b, err := CreateVirtualBlock(Desc{Size: 4096})
	if err != nil {
		t.Fatalf("CreateVirtualBlock: %v", err)
	}
	if !b.IsEmpty() {
		t.Fatalf("expected a fresh block to be empty")
	}

	h, offset, err := b.Allocate(AllocationDesc{Size: 256, Alignment: 16, Name: "descriptor-table"})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if h == 0 {
		t.Fatalf("expected a non-zero handle on success")
	}
	if offset != 0 {
		t.Fatalf("offset = %d, want 0 for the first allocation", offset)
	}
	if b.IsEmpty() {
		t.Fatalf("expected the block to be non-empty after an allocation")
	}

	info := b.GetAllocationInfo(h)
	if info.Size != 256 || info.Offset != 0 {
		t.Fatalf("GetAllocationInfo = %+v, want Offset=0 Size=256", info)
	}

	b.FreeAllocation(h)
	if !b.IsEmpty() {
		t.Fatalf("expected the block to be empty again after freeing its only allocation")
	}
}

func TestFreeAllocationZeroHandleIsNoOp(t *testing.T) {
	b, err := CreateVirtualBlock(Desc{Size: 1024})
	if err != nil {
		t.Fatalf("CreateVirtualBlock: %v", err)
	}
	b.FreeAllocation(0) // must not panic
}

func TestAllocateFailsWhenBlockIsFull(t *testing.T) {
	b, err := CreateVirtualBlock(Desc{Size: 128})
	if err != nil {
		t.Fatalf("CreateVirtualBlock: %v", err)
	}
	if _, _, err := b.Allocate(AllocationDesc{Size: 128}); err != nil {
		t.Fatalf("Allocate (filling the block): %v", err)
	}
	if _, _, err := b.Allocate(AllocationDesc{Size: 1}); err == nil {
		t.Fatalf("expected allocating into a full block to fail")
	}
}

func TestSetAllocationPrivateData(t *testing.T) {
	b, err := CreateVirtualBlock(Desc{Size: 1024})
	if err != nil {
		t.Fatalf("CreateVirtualBlock: %v", err)
	}
	h, _, err := b.Allocate(AllocationDesc{Size: 64})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	b.SetAllocationPrivateData(h, "tag")
	if got := b.GetAllocationInfo(h).PrivateData; got != "tag" {
		t.Fatalf("PrivateData = %v, want %q", got, "tag")
	}
}

func TestClearReleasesEverything(t *testing.T) {
	b, err := CreateVirtualBlock(Desc{Size: 1024})
	if err != nil {
		t.Fatalf("CreateVirtualBlock: %v", err)
	}
	if _, _, err := b.Allocate(AllocationDesc{Size: 256, Name: "a"}); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if _, _, err := b.Allocate(AllocationDesc{Size: 256, Name: "b"}); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	b.Clear()
	if !b.IsEmpty() {
		t.Fatalf("expected Clear to empty the block")
	}
}

func TestLinearAlgorithmRejectsUpperAddressOverlap(t *testing.T) {
	b, err := CreateVirtualBlock(Desc{Size: 256, Algorithm: AlgorithmLinear})
	if err != nil {
		t.Fatalf("CreateVirtualBlock: %v", err)
	}
	if _, _, err := b.Allocate(AllocationDesc{Size: 128}); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if _, _, err := b.Allocate(AllocationDesc{Size: 128, UpperAddress: true, Strategy: metadata.StrategyMinOffset}); err != nil {
		t.Fatalf("Allocate upper-address: %v", err)
	}
	if _, _, err := b.Allocate(AllocationDesc{Size: 1}); err == nil {
		t.Fatalf("expected the block to be completely full")
	}
}

func TestCalculateStatisticsAndBuildStatsString(t *testing.T) {
	b, err := CreateVirtualBlock(Desc{Size: 1024})
	if err != nil {
		t.Fatalf("CreateVirtualBlock: %v", err)
	}
	if _, _, err := b.Allocate(AllocationDesc{Size: 300, Name: "x"}); err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	stats := b.CalculateStatistics()
	if stats.AllocationCount != 1 || stats.AllocationBytes != 300 {
		t.Fatalf("CalculateStatistics = %+v, want AllocationCount=1 AllocationBytes=300", stats)
	}

	doc := b.BuildStatsString()
	if doc == "" {
		t.Fatalf("expected a non-empty stats document")
	}
	b.FreeStatsString(doc)
}

func TestAllocationCallbacksBackNameBuffers(t *testing.T) {
	var freed bool
	b, err := CreateVirtualBlock(Desc{
		Size: 1024,
		AllocationCallbacks: AllocationCallbacks{
			Alloc: func(size int) []byte { return make([]byte, size) },
			Free:  func(buf []byte) { freed = true },
		},
	})
	if err != nil {
		t.Fatalf("CreateVirtualBlock: %v", err)
	}
	h, _, err := b.Allocate(AllocationDesc{Size: 64, Name: "named"})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	b.FreeAllocation(h)
	if !freed {
		t.Fatalf("expected FreeAllocation to release the name buffer via AllocationCallbacks.Free")
	}
}
