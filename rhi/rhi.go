// Package rhi defines the boundary between the allocator and the graphics
// RHI (render hardware interface) it places resources on behalf of. The RHI
// itself — device creation, command recording, resource state transitions,
// shader compilation — is an external collaborator and out of scope for
// this module; only the slice of it the allocator must call is modeled
// here.
package rhi

import "fmt"

// Handle is an opaque RHI-owned object reference. The allocator never
// interprets the value; it only stores and returns it.
type Handle uint64

// NullHandle is the reserved "no object" value.
const NullHandle Handle = 0

// Device identifies the logical device allocations are created against.
type Device Handle

// Heap identifies one block of device memory owned by the RHI.
type Heap Handle

// Resource identifies a placed, committed, or aliasing resource bound to a
// heap range.
type Resource Handle

// HeapType selects which memory-segment-group a heap is backed by.
type HeapType int

const (
	HeapTypeDeviceLocal HeapType = iota
	HeapTypeHostVisibleCoherent
	HeapTypeHostVisibleCached
	HeapTypeHostCached
	HeapTypeGPUUpload
	HeapTypeCustom

	// HeapTypeCount is the fixed number of heap-type slots statistics are
	// bucketed into (spec.md §6, TotalStatistics.heapType[6]).
	HeapTypeCount = 6
)

func (t HeapType) String() string {
	switch t {
	case HeapTypeDeviceLocal:
		return "DeviceLocal"
	case HeapTypeHostVisibleCoherent:
		return "HostVisibleCoherent"
	case HeapTypeHostVisibleCached:
		return "HostVisibleCached"
	case HeapTypeHostCached:
		return "HostCached"
	case HeapTypeGPUUpload:
		return "GPUUpload"
	case HeapTypeCustom:
		return "Custom"
	default:
		return fmt.Sprintf("HeapType(%d)", int(t))
	}
}

// MemorySegmentGroup distinguishes the two budget domains the RHI reports
// usage/budget for.
type MemorySegmentGroup int

const (
	MemorySegmentLocal MemorySegmentGroup = iota
	MemorySegmentNonLocal

	MemorySegmentGroupCount = 2
)

// HeapFlags is a bitset of RHI heap-creation flags. Bit meaning beyond
// "affects natural alignment" is RHI-specific and opaque to the allocator.
type HeapFlags uint32

const (
	HeapFlagNone HeapFlags = 0
	// HeapFlagAllowAllBuffersAndTextures relaxes the natural-alignment and
	// buffer/image-aliasing restriction some RHIs impose per heap.
	HeapFlagAllowAllBuffersAndTextures HeapFlags = 1 << iota
	HeapFlagDenyBuffers
	HeapFlagDenyRTDSTextures
	HeapFlagDenyNonRTDSTextures
)

// ResourceClass is derived from a ResourceDesc by the allocator when
// choosing a default pool; it is never supplied directly by the caller.
type ResourceClass int

const (
	ResourceClassBuffer ResourceClass = iota
	ResourceClassNonRTDSTexture
	ResourceClassRTDSTexture
)

// ResourceDimension mirrors the public 3-bit resource-dimension field
// packed into an allocation record (spec.md §4.2).
type ResourceDimension uint8

const (
	ResourceDimensionUnknown ResourceDimension = iota
	ResourceDimensionBuffer
	ResourceDimensionTexture1D
	ResourceDimensionTexture2D
	ResourceDimensionTexture3D
)

func (d ResourceDimension) String() string {
	switch d {
	case ResourceDimensionBuffer:
		return "BUFFER"
	case ResourceDimensionTexture1D:
		return "TEXTURE1D"
	case ResourceDimensionTexture2D:
		return "TEXTURE2D"
	case ResourceDimensionTexture3D:
		return "TEXTURE3D"
	default:
		return "UNKNOWN"
	}
}

// ResourceDesc is the RHI-opaque description of the resource to create. The
// allocator inspects only Dimension and IsRenderTargetOrDS (to derive
// ResourceClass), SampleCount (IsMSAA), Width (the size, and the
// small-alignment eligibility check) and Flags/Layout (to pack into the
// allocation record); everything else, Height and DepthOrArraySize
// included, is forwarded verbatim to the RHI.
type ResourceDesc struct {
	Dimension         ResourceDimension
	Width             uint64
	Height            uint32
	DepthOrArraySize  uint16
	MipLevels         uint16
	SampleCount       uint32 // > 1 marks an MSAA texture
	Flags             uint32 // opaque resource-flag bits, packed verbatim
	Layout            uint32 // opaque texture-layout bits, packed verbatim
	IsRenderTargetOrDS bool
}

// Class derives the ResourceClass used for default-pool selection.
func (d *ResourceDesc) Class() ResourceClass {
	if d.Dimension == ResourceDimensionBuffer {
		return ResourceClassBuffer
	}
	if d.IsRenderTargetOrDS {
		return ResourceClassRTDSTexture
	}
	return ResourceClassNonRTDSTexture
}

// IsMSAA reports whether the descriptor is for a multi-sample texture.
func (d *ResourceDesc) IsMSAA() bool {
	return d.Dimension != ResourceDimensionBuffer && d.SampleCount > 1
}

// Result is the allocator's public typed result code (spec.md §6). No
// exceptions cross the public API boundary; every fallible entry point
// returns one of these (wrapped in an `error` via Result.Err()).
type Result int

const (
	ResultOK Result = iota
	ResultOutOfDeviceMemory
	ResultOutOfHostMemory
	ResultInvalidArgument
	ResultWithinBudgetExceeded
	ResultNotSupported
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "OK"
	case ResultOutOfDeviceMemory:
		return "OutOfDeviceMemory"
	case ResultOutOfHostMemory:
		return "OutOfHostMemory"
	case ResultInvalidArgument:
		return "InvalidArgument"
	case ResultWithinBudgetExceeded:
		return "WithinBudgetExceeded"
	case ResultNotSupported:
		return "NotSupported"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

// resultError adapts a Result to the `error` interface so call sites can
// use ordinary Go error handling while still letting callers recover the
// typed code via ResultOf.
type resultError struct {
	code resultCode
	msg  string
}

type resultCode = Result

func (e *resultError) Error() string {
	if e.msg == "" {
		return e.code.String()
	}
	return e.code.String() + ": " + e.msg
}

// Err wraps a non-OK Result as an error carrying msg as additional context.
// Err(ResultOK, ...) returns nil.
func (r Result) Err(msg string) error {
	if r == ResultOK {
		return nil
	}
	return &resultError{code: r, msg: msg}
}

// ResultOf extracts the Result code from an error produced by Result.Err,
// defaulting to ResultOutOfHostMemory for errors it does not recognize
// (matching spec.md §7: host-allocation-callback failures surface as a
// generic allocator-level failure when the underlying cause is unknown).
func ResultOf(err error) Result {
	if err == nil {
		return ResultOK
	}
	if re, ok := err.(*resultError); ok {
		return re.code
	}
	return ResultOutOfHostMemory
}

// CreateInfo is passed to Backend.CreatePlaced/CreateCommitted/CreateAliasing.
type CreateInfo struct {
	Device            Device
	Heap              Heap
	HeapOffset        uint64
	Resource          ResourceDesc
	CastableFormats   []uint32 // opaque format list, forwarded verbatim
}

// HeapDesc describes a heap to create.
type HeapDesc struct {
	Device Device
	Size   uint64
	Type   HeapType
	Flags  HeapFlags
}

// Backend is the slice of the graphics RHI the allocator calls into. A real
// RHI binding implements this against its native API (Vulkan, DX12, Metal);
// internal/fakerhi provides an in-memory implementation for tests and the
// demo command.
type Backend interface {
	// CreateHeap allocates a dedicated chunk of device memory.
	CreateHeap(desc HeapDesc) (Heap, error)
	// DestroyHeap releases a heap created by CreateHeap.
	DestroyHeap(h Heap)

	// CreatePlacedResource creates a resource bound to an existing heap at
	// the given offset. Used for suballocated placements.
	CreatePlacedResource(info CreateInfo) (Resource, error)
	// CreateCommittedResource creates a resource with its own dedicated
	// heap in one call; the returned Heap is owned by the resource.
	CreateCommittedResource(info CreateInfo) (Resource, Heap, error)
	// CreateAliasingResource creates an additional resource aliasing the
	// memory range of an existing allocation. The allocator does not track
	// the returned handle's lifetime.
	CreateAliasingResource(info CreateInfo) (Resource, error)
	// DestroyResource releases a resource handle (not its backing heap).
	DestroyResource(r Resource)

	// MemoryProperties reports the heap types and per-type natural
	// alignment the backend currently exposes.
	MemoryProperties() MemoryProperties

	// Budget reports current usage/budget for both memory-segment groups.
	Budget() [MemorySegmentGroupCount]SegmentBudget
}

// MemoryProperties mirrors the subset of RHI device-memory properties the
// allocator consults when computing natural alignment and small-resource
// placement eligibility.
type MemoryProperties struct {
	// NaturalAlignment is the minimum placement alignment the backend
	// requires per heap type, before any caller-supplied
	// minAllocationAlignment or debug alignment is applied.
	NaturalAlignment [HeapTypeCount]uint64
	// SmallResourceTileBytes is the "one tile" granularity used by the
	// conservative (mode 1) small-alignment heuristic.
	SmallResourceTileBytes uint64
}

// SegmentBudget is one memory-segment-group's usage/budget sample.
type SegmentBudget struct {
	UsageBytes      uint64
	BudgetBytes     uint64
	ReservationBytes uint64
}
