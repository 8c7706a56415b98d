package gpualloc

import (
	"github.com/gogpu/vma/metadata"
	"github.com/gogpu/vma/rhi"
)

// AllocationCallbacks is the Go-idiomatic rendering of the original's
// user-supplied allocate/free pair (spec.md §5, §6): since Go is
// garbage-collected, the only place this module still exercises custom
// callbacks is allocation-name storage (spec.md §4.2 "the record owns a
// heap-allocated copy through the user-supplied allocation callbacks and
// frees it on destruction"). A nil pair means names are ordinary
// GC-managed Go strings, which is the default and is sufficient for nearly
// every host; supplying both lets a host account for name-buffer bytes
// against its own budget exactly as the original's byte-counting allocator
// wrapper would.
type AllocationCallbacks struct {
	Alloc func(size int) []byte
	Free  func(buf []byte)
}

// DefaultPreferredBlockSize is used when AllocatorDesc.PreferredBlockSize
// is left at zero (spec.md §6 "0 = library default, 64 MiB").
const DefaultPreferredBlockSize = 64 * 1024 * 1024

// AllocatorFlags is the bitset of AllocatorDesc.Flags (spec.md §6).
type AllocatorFlags uint32

const (
	AllocatorFlagSingleThreaded AllocatorFlags = 1 << iota
	AllocatorFlagAlwaysCommitted
	AllocatorFlagDefaultPoolsNotZeroed
	AllocatorFlagMsaaTexturesAlwaysCommitted
	AllocatorFlagDontPreferSmallBuffersCommitted
	AllocatorFlagDontUseTightAlignment
	// AllocatorFlagDebugGuardFreedSlots enables internal/pod's guard-page
	// poisoning of freed Allocation records (internal/pod/guard_linux.go):
	// each free installs a separate PROT_NONE page keyed by the released
	// record's address, lifted when that address is handed out again. The
	// record's own bytes are not protected, so reading through a dangling
	// reference does not fault. Off by default since it costs a real mmap/munmap
	// pair per allocation lifecycle (spec.md §4.3 debug-margin family of
	// opt-in correctness aids).
	AllocatorFlagDebugGuardFreedSlots
)

// SmallAlignmentMode selects how small-resource placement alignment is
// determined (spec.md §4.5): 0 never allows it, 1 uses a conservative
// fixed "one tile" rule, 2 uses the heap's natural alignment (the same as
// 0; the RHI is not queried, since rhi.Backend has no such call). Default is SmallAlignmentConservative
// (spec.md §9 "Open question... default to mode 1").
type SmallAlignmentMode int

const (
	SmallAlignmentNever SmallAlignmentMode = iota
	SmallAlignmentConservative
	SmallAlignmentAskRHI
)

// AllocatorDesc configures NewAllocator (spec.md §6).
type AllocatorDesc struct {
	Flags               AllocatorFlags
	Device              rhi.Device
	Backend             rhi.Backend
	PreferredBlockSize  uint64
	AllocationCallbacks AllocationCallbacks
	SmallAlignmentMode  SmallAlignmentMode
}

// DefaultAllocatorDesc returns a zero-value-safe descriptor for device,
// backend.
func DefaultAllocatorDesc(device rhi.Device, backend rhi.Backend) AllocatorDesc {
	return AllocatorDesc{
		Device:             device,
		Backend:            backend,
		PreferredBlockSize: DefaultPreferredBlockSize,
		SmallAlignmentMode: SmallAlignmentConservative,
	}
}

// PoolFlags is the bitset of PoolDesc.Flags (spec.md §6).
type PoolFlags uint32

const (
	PoolFlagAlgorithmLinear PoolFlags = 1 << iota
	PoolFlagMsaaTexturesAlwaysCommitted
	PoolFlagAlwaysCommitted
)

// PoolDesc configures Allocator.CreatePool (spec.md §6).
type PoolDesc struct {
	Flags                  PoolFlags
	HeapType               rhi.HeapType
	HeapFlags              rhi.HeapFlags
	BlockSize              uint64
	MinBlockCount          int
	MaxBlockCount          int
	MinAllocationAlignment uint64
	ProtectedSession       rhi.Handle
	ResidencyPriority      int32
	Name                   string
}

// validate checks the descriptor against spec.md §4.5 "CreatePool...
// validates heap type, block size, min/max block counts".
func (d PoolDesc) validate(naturalAlignment uint64) error {
	if d.HeapType < 0 || d.HeapType >= rhi.HeapTypeCount {
		return newValidationError("PoolDesc", "HeapType", "out of range")
	}
	align := naturalAlignment
	if align == 0 {
		align = 1
	}
	if d.BlockSize != 0 {
		if d.BlockSize%align != 0 || !isPow2OrMultiple(d.BlockSize, align) {
			return newValidationError("PoolDesc", "BlockSize", "must be zero or a power-of-two multiple of the heap's natural alignment")
		}
	}
	if d.MinBlockCount != 0 && d.MaxBlockCount != 0 && d.MinBlockCount > d.MaxBlockCount {
		return newValidationError("PoolDesc", "MinBlockCount/MaxBlockCount", "MinBlockCount must be <= MaxBlockCount when both are nonzero")
	}
	return nil
}

func isPow2OrMultiple(size, align uint64) bool {
	ratio := size / align
	return ratio != 0 && (ratio&(ratio-1)) == 0
}

// AllocationFlags is the bitset of AllocationDesc.Flags (spec.md §6). The
// three strategy bits are mutually exclusive; StrategyBestFit/
// StrategyFirstFit are spec-mandated aliases.
type AllocationFlags uint32

const (
	AllocationFlagCommitted AllocationFlags = 1 << iota
	AllocationFlagNeverAllocate
	AllocationFlagWithinBudget
	AllocationFlagUpperAddress
	AllocationFlagCanAlias
	AllocationFlagStrategyMinMemory
	AllocationFlagStrategyMinTime
	AllocationFlagStrategyMinOffset

	AllocationFlagStrategyBestFit  = AllocationFlagStrategyMinMemory
	AllocationFlagStrategyFirstFit = AllocationFlagStrategyMinTime
)

const allocationFlagStrategyMask = AllocationFlagStrategyMinMemory | AllocationFlagStrategyMinTime | AllocationFlagStrategyMinOffset

// strategy decodes the three strategy bits, defaulting to StrategyMinTime
// (first fit) when none are set — the same fallback spec.md §4.3 names for
// metadata variants that cannot honor a requested strategy, applied here
// as the facade's default when the caller expresses no preference.
func (f AllocationFlags) strategy() (metadata.Strategy, error) {
	bits := f & allocationFlagStrategyMask
	switch bits {
	case 0:
		return metadata.StrategyMinTime, nil
	case AllocationFlagStrategyMinMemory:
		return metadata.StrategyMinMemory, nil
	case AllocationFlagStrategyMinTime:
		return metadata.StrategyMinTime, nil
	case AllocationFlagStrategyMinOffset:
		return metadata.StrategyMinOffset, nil
	default:
		return 0, newValidationError("AllocationDesc", "Flags", "at most one strategy flag may be set")
	}
}

// AllocationDesc configures resource/memory creation entry points
// (spec.md §6).
type AllocationDesc struct {
	Flags          AllocationFlags
	HeapType       rhi.HeapType
	ExtraHeapFlags rhi.HeapFlags
	CustomPool     *Pool
	PrivateData    any
	Name           string
}
