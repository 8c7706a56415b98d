package gpualloc

import (
	"github.com/gogpu/vma/metadata"
	"github.com/gogpu/vma/rhi"
)

// Budget is a single memory-segment-group's usage/ceiling sample; GetBudget
// returns one for the local and one for the non-local group (spec.md §6).
type Budget struct {
	Statistics  metadata.Statistics
	UsageBytes  uint64
	BudgetBytes uint64
}

// TotalStatistics is the full statistics dump produced by
// Allocator.CalculateStatistics, broken down by heap type and by memory
// segment group in addition to the grand total (spec.md §6).
type TotalStatistics struct {
	HeapType           [rhi.HeapTypeCount]metadata.DetailedStatistics
	MemorySegmentGroup [rhi.MemorySegmentGroupCount]metadata.DetailedStatistics
	Total              metadata.DetailedStatistics
}

// NewTotalStatistics returns a TotalStatistics with every bucket at the
// fold identity (metadata.NewDetailedStatistics's AllocationSizeMin and
// UnusedRangeSizeMin at
// their max-value sentinels so the first real sample always wins a min
// comparison).
func NewTotalStatistics() TotalStatistics {
	ts := TotalStatistics{Total: metadata.NewDetailedStatistics()}
	for i := range ts.HeapType {
		ts.HeapType[i] = metadata.NewDetailedStatistics()
	}
	for i := range ts.MemorySegmentGroup {
		ts.MemorySegmentGroup[i] = metadata.NewDetailedStatistics()
	}
	return ts
}

// addPool folds one pool's detailed statistics into the heapType and
// segmentGroup buckets it belongs to, and into the grand total.
func (ts *TotalStatistics) addPool(heapType rhi.HeapType, segmentGroup rhi.MemorySegmentGroup, stats metadata.DetailedStatistics) {
	ts.HeapType[heapType].Add(stats)
	ts.MemorySegmentGroup[segmentGroup].Add(stats)
	ts.Total.Add(stats)
}
