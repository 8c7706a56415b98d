// Package vblock implements the virtual (CPU-only) suballocator of
// spec.md §4.7: a VirtualBlock wraps exactly one metadata.Metadata
// instance with no RHI heap or resource behind it, for callers that need
// address-space bookkeeping without device memory (e.g. a software
// descriptor-index allocator, or a placement rehearsal before a real
// CreateResource call).
package vblock

import (
	"errors"

	"github.com/gogpu/vma/internal/jsonwriter"
	"github.com/gogpu/vma/metadata"
)

// Algorithm selects the metadata variant backing a VirtualBlock (spec.md
// §4.7 "currently: default, or linear").
type Algorithm int

const (
	// AlgorithmDefault uses the General (TLSF-style) metadata.
	AlgorithmDefault Algorithm = iota
	// AlgorithmLinear restricts the block to append-only/ring-buffer/
	// double-stack/upper-address placement.
	AlgorithmLinear
)

// AllocationCallbacks mirrors gpualloc.AllocationCallbacks: a VirtualBlock
// only uses these for its own bookkeeping allocations (it owns no device
// memory to free), matching spec.md §4.7 "the block owns the metadata and
// the callbacks."
type AllocationCallbacks struct {
	Alloc func(size int) []byte
	Free  func(buf []byte)
}

// Desc configures CreateVirtualBlock (spec.md §4.7).
type Desc struct {
	Size                 uint64
	Algorithm            Algorithm
	DebugMargin          uint64
	DebugGuardFreedSlots bool
	AllocationCallbacks  AllocationCallbacks
}

// AllocationDesc configures VirtualBlock.Allocate (spec.md §4.7).
type AllocationDesc struct {
	Size         uint64
	Alignment    uint64 // 0 is interpreted as 1
	UpperAddress bool
	Strategy     metadata.Strategy
	PrivateData  any
	Name         string
}

// AllocationInfo reports a virtual allocation's current placement (spec.md
// §4.7 "GetAllocationInfo(handle, out): fills offset, size, private-data").
type AllocationInfo struct {
	Offset      uint64
	Size        uint64
	PrivateData any
}

var errAllocationFailed = errors.New("vblock: no suitable free region for this request")

// VirtualBlock is a pure bookkeeping arena: one metadata.Metadata instance
// and nothing else. It never touches a backend or creates an RHI resource.
type VirtualBlock struct {
	meta metadata.Metadata
	cb   AllocationCallbacks

	names map[metadata.Handle][]byte
}

// CreateVirtualBlock constructs a metadata instance of the requested
// variant sized to desc.Size (spec.md §4.7).
func CreateVirtualBlock(desc Desc) (*VirtualBlock, error) {
	if desc.Size == 0 {
		return nil, errors.New("vblock: Desc.Size must be > 0")
	}
	var m metadata.Metadata
	switch desc.Algorithm {
	case AlgorithmLinear:
		m = metadata.NewLinear(desc.DebugMargin)
	default:
		general := metadata.NewGeneral(desc.DebugMargin)
		if desc.DebugGuardFreedSlots {
			general.EnableDebugGuard()
		}
		m = general
	}
	m.Init(desc.Size)
	return &VirtualBlock{meta: m, cb: desc.AllocationCallbacks, names: make(map[metadata.Handle][]byte)}, nil
}

// Allocate reserves a range (spec.md §4.7): alignment 0 is interpreted as
// 1; returns the handle (0/metadata.Handle zero value means failure, per
// the contract) and the allocation's offset for convenience.
func (b *VirtualBlock) Allocate(desc AllocationDesc) (metadata.Handle, uint64, error) {
	alignment := desc.Alignment
	if alignment == 0 {
		alignment = 1
	}
	req, ok := b.meta.CreateAllocationRequest(desc.Size, alignment, desc.UpperAddress, desc.Strategy)
	if !ok {
		return 0, 0, errAllocationFailed
	}
	h := b.meta.Alloc(req, desc.Size, desc.PrivateData)
	if desc.Name != "" {
		b.setName(h, desc.Name)
	}
	return h, req.Offset, nil
}

// FreeAllocation releases the range referenced by h. Passing the zero
// Handle is a no-op (spec.md §4.7).
func (b *VirtualBlock) FreeAllocation(h metadata.Handle) {
	if h == 0 {
		return
	}
	b.releaseName(h)
	b.meta.Free(h)
}

// GetAllocationInfo fills offset, size, and private-data for h (spec.md
// §4.7).
func (b *VirtualBlock) GetAllocationInfo(h metadata.Handle) AllocationInfo {
	info := b.meta.GetAllocationInfo(h)
	return AllocationInfo{Offset: info.Offset, Size: info.Size, PrivateData: info.PrivateData}
}

// SetAllocationPrivateData updates the opaque pointer associated with h
// (spec.md §4.7).
func (b *VirtualBlock) SetAllocationPrivateData(h metadata.Handle, data any) {
	b.meta.SetAllocationPrivateData(h, data)
}

// Clear releases every allocation without notifying private-data holders
// (spec.md §4.7); any name buffers obtained through AllocationCallbacks
// are still released, since those are this package's own bookkeeping, not
// caller-owned private data.
func (b *VirtualBlock) Clear() {
	for h := range b.names {
		b.releaseName(h)
	}
	b.meta.Clear()
}

// IsEmpty reports whether no allocation is live (spec.md §4.7).
func (b *VirtualBlock) IsEmpty() bool { return b.meta.IsEmpty() }

// GetStatistics returns the block's basic statistics.
func (b *VirtualBlock) GetStatistics() metadata.Statistics {
	var s metadata.Statistics
	b.meta.AddStatistics(&s)
	return s
}

// CalculateStatistics returns the block's detailed statistics (spec.md
// §4.7 "aggregate over the single block").
func (b *VirtualBlock) CalculateStatistics() metadata.DetailedStatistics {
	s := metadata.NewDetailedStatistics()
	b.meta.AddDetailedStatistics(&s)
	return s
}

// BuildStatsString renders a JSON dump of the block's single suballocation
// map (spec.md §4.7).
func (b *VirtualBlock) BuildStatsString() string {
	w := jsonwriter.New()
	w.BeginObject(false)
	w.WriteString("Stats")
	writeDetailedStatistics(w, b.CalculateStatistics())
	w.WriteString("Block")
	b.meta.WriteAllocationInfoToJson(w, func(h metadata.Handle) metadata.JSONAllocation {
		name := ""
		if buf, ok := b.names[h]; ok {
			name = string(buf)
		}
		return metadata.JSONAllocation{Name: name}
	})
	w.EndObject()
	return w.String()
}

// FreeStatsString releases a document produced by BuildStatsString. A
// no-op: Go strings are garbage-collected (spec.md §4.7 API parity with
// the paired Build/Free entry points).
func (b *VirtualBlock) FreeStatsString(string) {}

func (b *VirtualBlock) setName(h metadata.Handle, name string) {
	if b.cb.Alloc == nil || b.cb.Free == nil {
		b.names[h] = []byte(name)
		return
	}
	buf := b.cb.Alloc(len(name))
	copy(buf, name)
	b.names[h] = buf
}

func (b *VirtualBlock) releaseName(h metadata.Handle) {
	buf, ok := b.names[h]
	if !ok {
		return
	}
	if b.cb.Free != nil {
		b.cb.Free(buf)
	}
	delete(b.names, h)
}

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
