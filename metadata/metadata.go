// Package metadata implements the block-metadata contract of spec.md §4.3:
// the suballocation engines that decide where inside one block a request
// fits. Two variants are provided — Linear (append-only/ring-buffer/
// double-stack/upper-address, fully specified by spec.md) and General (a
// TLSF-style segregated free-list allocator satisfying the "contract only"
// requirements: all three strategies, coalescing, and defragmentation
// enumeration).
package metadata

import "github.com/gogpu/vma/internal/jsonwriter"

// Handle is an opaque allocation handle, private to the metadata instance
// that produced it. 0 is reserved as "invalid" (spec.md Data Model table).
// Implementations must not expose how the numeric value is derived; the
// Linear variant happens to use offset+1 but that is not part of the
// contract (spec.md §9).
type Handle uint64

// InvalidHandle is the reserved "no allocation" value.
const InvalidHandle Handle = 0

// Strategy is a bitfield selecting the placement policy
// CreateAllocationRequest should use. Exactly one of the three bits may be
// set; StrategyBestFit/StrategyFirstFit are spec-mandated aliases.
type Strategy uint32

const (
	StrategyMinMemory Strategy = 1 << iota // best fit
	StrategyMinTime                        // first fit
	StrategyMinOffset                      // lowest-address fit

	StrategyBestFit  = StrategyMinMemory
	StrategyFirstFit = StrategyMinTime
)

// AllocationRequest is the opaque result of a successful
// CreateAllocationRequest call: a plan for where an allocation would land,
// not yet committed. Callers must not inspect fields other than through
// the metadata's own Alloc/GetAllocationOffset-style accessors; the struct
// is exported only so BlockVector can hold it between planning and commit
// without metadata needing to allocate a box for it.
type AllocationRequest struct {
	// Offset is the byte offset the allocation would occupy.
	Offset uint64
	// Size is the size CreateAllocationRequest was asked for (after
	// alignment rounding where the variant performs it).
	Size uint64
	// opaque carries variant-private planning state (e.g. which vector
	// and insertion point the Linear variant would use). Never
	// interpreted outside the producing variant.
	opaque any
}

// AllocationInfo is returned by GetAllocationInfo.
type AllocationInfo struct {
	Offset      uint64
	Size        uint64
	PrivateData any
}

// Statistics is the basic, non-detailed statistics block (spec.md §6).
type Statistics struct {
	BlockCount      int
	AllocationCount int
	BlockBytes      uint64
	AllocationBytes uint64
}

// Add folds other into s (statistics are additive, spec.md §3).
func (s *Statistics) Add(other Statistics) {
	s.BlockCount += other.BlockCount
	s.AllocationCount += other.AllocationCount
	s.BlockBytes += other.BlockBytes
	s.AllocationBytes += other.AllocationBytes
}

// DetailedStatistics extends Statistics with min/max ranges. Add() folds
// correctly when the accumulator starts from NewDetailedStatistics()
// (spec.md §3 "folding min/max with the appropriate identities"); from a
// zero value the Min fields stay at 0.
type DetailedStatistics struct {
	Statistics
	UnusedRangeCount    int
	AllocationSizeMin   uint64
	AllocationSizeMax   uint64
	UnusedRangeSizeMin  uint64
	UnusedRangeSizeMax  uint64
}

// NewDetailedStatistics returns a DetailedStatistics at the fold identity:
// zero counts/bytes, Min fields at max-uint64, Max fields at 0.
func NewDetailedStatistics() DetailedStatistics {
	return DetailedStatistics{
		AllocationSizeMin:  ^uint64(0),
		UnusedRangeSizeMin: ^uint64(0),
	}
}

// AddAllocation folds one live suballocation of the given size into d.
func (d *DetailedStatistics) AddAllocation(size uint64) {
	d.AllocationCount++
	d.AllocationBytes += size
	if size < d.AllocationSizeMin {
		d.AllocationSizeMin = size
	}
	if size > d.AllocationSizeMax {
		d.AllocationSizeMax = size
	}
}

// AddUnusedRange folds one free range of the given size into d.
func (d *DetailedStatistics) AddUnusedRange(size uint64) {
	d.UnusedRangeCount++
	if size < d.UnusedRangeSizeMin {
		d.UnusedRangeSizeMin = size
	}
	if size > d.UnusedRangeSizeMax {
		d.UnusedRangeSizeMax = size
	}
}

// Add folds other into d, preserving the min/max identities.
func (d *DetailedStatistics) Add(other DetailedStatistics) {
	d.Statistics.Add(other.Statistics)
	d.UnusedRangeCount += other.UnusedRangeCount
	if other.AllocationSizeMin < d.AllocationSizeMin {
		d.AllocationSizeMin = other.AllocationSizeMin
	}
	if other.AllocationSizeMax > d.AllocationSizeMax {
		d.AllocationSizeMax = other.AllocationSizeMax
	}
	if other.UnusedRangeSizeMin < d.UnusedRangeSizeMin {
		d.UnusedRangeSizeMin = other.UnusedRangeSizeMin
	}
	if other.UnusedRangeSizeMax > d.UnusedRangeSizeMax {
		d.UnusedRangeSizeMax = other.UnusedRangeSizeMax
	}
}

// JSONAllocation is what WriteAllocationInfoToJson needs about one live
// suballocation beyond offset/size, supplied by the caller (gpualloc holds
// the actual Allocation record; metadata only knows offsets/handles).
type JSONAllocation struct {
	Type        string // "BUFFER", "TEXTURE1D/2D/3D", or "UNKNOWN"
	Usage       uint32
	CustomData  uintptr
	HasCustom   bool
	Name        string
	Layout      uint32
}

// Metadata is the contract every block-metadata variant implements
// (spec.md §4.3). A Metadata instance manages suballocations inside one
// block of the given Init size; it never touches device memory itself.
type Metadata interface {
	// Init declares the total capacity this instance manages. Called
	// exactly once, before any other method.
	Init(size uint64)

	// Validate asserts every invariant holds, returning false (never
	// panicking) on corruption so callers can report it rather than crash.
	Validate() bool

	GetSize() uint64
	GetSumFreeSize() uint64
	GetAllocationCount() int
	GetFreeRegionsCount() int
	IsEmpty() bool
	IsVirtual() bool

	GetAllocationOffset(h Handle) uint64
	GetAllocationInfo(h Handle) AllocationInfo

	// CreateAllocationRequest is pure planning: it must not mutate any
	// observable state. upperAddress requests allocation from the top of
	// the block where the variant supports it.
	CreateAllocationRequest(size, alignment uint64, upperAddress bool, strategy Strategy) (AllocationRequest, bool)

	// Alloc commits a request previously returned by
	// CreateAllocationRequest on this same instance, with no intervening
	// state change. privateData is stored opaquely against the resulting
	// handle.
	Alloc(req AllocationRequest, size uint64, privateData any) Handle

	// Free returns the range referenced by h to the free pool, coalescing
	// as the variant permits.
	Free(h Handle)

	// Clear wipes all allocations without destroying privateData (the
	// caller remains responsible for it).
	Clear()

	// GetAllocationListBegin, GetNextAllocation and GetNextFreeRegionSize
	// support defragmentation enumeration. The Linear variant rejects
	// these (spec.md: "Defragmentation entry points are explicitly
	// unsupported in the linear variant").
	GetAllocationListBegin() (Handle, bool)
	GetNextAllocation(h Handle) (Handle, bool)
	GetNextFreeRegionSize(h Handle) uint64

	GetAllocationPrivateData(h Handle) any
	SetAllocationPrivateData(h Handle, data any)

	AddStatistics(stats *Statistics)
	AddDetailedStatistics(stats *DetailedStatistics)
	WriteAllocationInfoToJson(w *jsonwriter.Writer, lookup func(h Handle) JSONAllocation)
	DebugLogAllAllocations(log func(offset, size uint64, name string))
}

// SupportsDefragmentation reports whether a Metadata implementation
// supports the enumeration entry points defragmentation relies on. Linear
// metadata returns false; General metadata returns true.
type SupportsDefragmentation interface {
	SupportsDefrag() bool
}
