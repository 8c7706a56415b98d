package gpualloc

import (
	"github.com/gogpu/vma/internal/jsonwriter"
	"github.com/gogpu/vma/metadata"
)

func newStatsWriter() *jsonwriter.Writer { return jsonwriter.New() }

// writeDetailedStatistics writes one DetailedStatistics object, matching
// the per-pool/total "Stats" entries of spec.md §6's JSON dump.
func writeDetailedStatistics(w *jsonwriter.Writer, s metadata.DetailedStatistics) {
	w.BeginObject(false)
	w.WriteString("BlockCount")
	w.WriteNumber(uint64(s.BlockCount))
	w.WriteString("AllocationCount")
	w.WriteNumber(uint64(s.AllocationCount))
	w.WriteString("BlockBytes")
	w.WriteNumber(s.BlockBytes)
	w.WriteString("AllocationBytes")
	w.WriteNumber(s.AllocationBytes)
	w.WriteString("UnusedRangeCount")
	w.WriteNumber(uint64(s.UnusedRangeCount))
	if s.AllocationCount > 0 {
		w.WriteString("AllocationSizeMin")
		w.WriteNumber(s.AllocationSizeMin)
		w.WriteString("AllocationSizeMax")
		w.WriteNumber(s.AllocationSizeMax)
	}
	if s.UnusedRangeCount > 0 {
		w.WriteString("UnusedRangeSizeMin")
		w.WriteNumber(s.UnusedRangeSizeMin)
		w.WriteString("UnusedRangeSizeMax")
		w.WriteNumber(s.UnusedRangeSizeMax)
	}
	w.EndObject()
}
