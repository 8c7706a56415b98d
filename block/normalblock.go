// Package block implements the suballocation layer above a single block
// metadata instance: normal blocks backed by one RHI heap each, the block
// vector that grows/retires them per pool, and the committed-allocation
// list a pool keeps alongside its block vector (spec.md §4.4).
package block

import (
	"fmt"

	"github.com/gogpu/vma/internal/jsonwriter"
	"github.com/gogpu/vma/internal/obslog"
	"github.com/gogpu/vma/metadata"
	"github.com/gogpu/vma/rhi"
)

// Algorithm selects which metadata variant a normal block's suballocations
// are tracked with.
type Algorithm int

const (
	// AlgorithmGeneral is the default, full-featured (TLSF-style) metadata.
	AlgorithmGeneral Algorithm = iota
	// AlgorithmLinear restricts the block to append-only/ring-buffer/
	// double-stack placement (PoolDesc/VirtualBlockDesc's AlgorithmLinear
	// flag, spec.md §4.3/§4.7).
	AlgorithmLinear
)

func newMetadata(algo Algorithm, debugMargin uint64, size uint64, debugGuardFreedSlots bool) metadata.Metadata {
	var m metadata.Metadata
	switch algo {
	case AlgorithmLinear:
		m = metadata.NewLinear(debugMargin)
	default:
		general := metadata.NewGeneral(debugMargin)
		if debugGuardFreedSlots {
			general.EnableDebugGuard()
		}
		m = general
	}
	m.Init(size)
	return m
}

// NormalBlock is one placed-allocation arena: an RHI heap of fixed capacity
// plus the metadata instance that suballocates it. Every field is guarded
// by the owning BlockVector's lock; NormalBlock has no lock of its own.
type NormalBlock struct {
	ID       int
	Heap     rhi.Heap
	HeapType rhi.HeapType
	HeapFlags rhi.HeapFlags
	Size     uint64
	Meta     metadata.Metadata

	// MapPointer, when non-zero, is a host-visible mapping of the heap kept
	// open for the block's lifetime. newNormalBlock does not map the heap,
	// so it leaves MapPointer at zero.
	MapPointer uintptr
}

// newNormalBlock creates the RHI heap and initializes the metadata for it.
// The caller (BlockVector) owns insertion into its block slice.
func newNormalBlock(backend rhi.Backend, device rhi.Device, id int, heapType rhi.HeapType, heapFlags rhi.HeapFlags, size uint64, algo Algorithm, debugMargin uint64, debugGuardFreedSlots bool) (*NormalBlock, error) {
	heap, err := backend.CreateHeap(rhi.HeapDesc{
		Device: device,
		Size:   size,
		Type:   heapType,
		Flags:  heapFlags,
	})
	if err != nil {
		return nil, rhi.ResultOutOfDeviceMemory.Err(fmt.Sprintf("creating %d-byte heap for block %d: %v", size, id, err))
	}
	nb := &NormalBlock{
		ID:        id,
		Heap:      heap,
		HeapType:  heapType,
		HeapFlags: heapFlags,
		Size:      size,
		Meta:      newMetadata(algo, debugMargin, size, debugGuardFreedSlots),
	}
	obslog.Get().Info("block: created", "id", id, "heapType", heapType, "size", size)
	return nb, nil
}

func (b *NormalBlock) destroy(backend rhi.Backend) {
	obslog.Get().Info("block: destroyed", "id", b.ID, "heapType", b.HeapType, "size", b.Size)
	backend.DestroyHeap(b.Heap)
}

// IsEmpty reports whether the block currently holds no live suballocations.
func (b *NormalBlock) IsEmpty() bool { return b.Meta.IsEmpty() }

// WriteJSON writes this block's self-describing document (TotalBytes,
// UnusedBytes, Allocations, UnusedRanges, Suballocations) preceded by its
// BlockID, matching the per-block entry of spec.md §6's "BuildStatsString".
// The metadata itself writes the TotalBytes/.../Suballocations object; this
// wraps it with the one field (BlockID) the metadata has no notion of.
func (b *NormalBlock) WriteJSON(w *jsonwriter.Writer, lookup func(h metadata.Handle) metadata.JSONAllocation) {
	w.BeginObject(false)
	w.WriteString("BlockID")
	w.WriteSignedNumber(int64(b.ID))
	w.WriteString("Stats")
	b.Meta.WriteAllocationInfoToJson(w, lookup)
	w.EndObject()
}
