package gpualloc

import (
	"testing"

	"github.com/gogpu/vma/metadata"
	"github.com/gogpu/vma/rhi"
)

func TestNewTotalStatisticsStartsAtMinSentinel(t *testing.T) {
	ts := NewTotalStatistics()
	if ts.Total.AllocationCount != 0 {
		t.Fatalf("expected a fresh TotalStatistics to have zero allocations")
	}
	if ts.Total.AllocationSizeMin == 0 {
		t.Fatalf("expected AllocationSizeMin to start at the max-uint64 sentinel, not 0")
	}
}

func TestTotalStatisticsAddPoolFoldsIntoAllThreeBuckets(t *testing.T) {
	ts := NewTotalStatistics()
	stats := metadata.NewDetailedStatistics()
	stats.AddAllocation(4096)

	ts.addPool(rhi.HeapTypeDeviceLocal, rhi.MemorySegmentLocal, stats)

	if ts.Total.AllocationCount != 1 || ts.Total.AllocationBytes != 4096 {
		t.Fatalf("Total not folded correctly: %+v", ts.Total)
	}
	if ts.HeapType[rhi.HeapTypeDeviceLocal].AllocationCount != 1 {
		t.Fatalf("HeapType bucket not folded correctly: %+v", ts.HeapType[rhi.HeapTypeDeviceLocal])
	}
	if ts.MemorySegmentGroup[rhi.MemorySegmentLocal].AllocationCount != 1 {
		t.Fatalf("MemorySegmentGroup bucket not folded correctly: %+v", ts.MemorySegmentGroup[rhi.MemorySegmentLocal])
	}
	if ts.HeapType[rhi.HeapTypeHostVisibleCoherent].AllocationCount != 0 {
		t.Fatalf("expected an unrelated heap type bucket to remain untouched")
	}
}
