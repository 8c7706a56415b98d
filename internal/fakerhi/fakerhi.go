// Package fakerhi is an in-memory rhi.Backend implementation used by tests
// and cmd/vma-dump: it never touches a real GPU, just bookkeeping of heap
// and resource handles plus a budget model a test can tighten to exercise
// OutOfDeviceMemory/WithinBudgetExceeded paths. Grounded on the teacher's
// hal/noop backend (hal/noop/api.go): a trivial struct implementing the
// collaborator interface, always succeeding unless a test explicitly
// configures it to fail.
package fakerhi

import (
	"sync"

	"github.com/gogpu/vma/rhi"
)

type heapRecord struct {
	size uint64
	typ  rhi.HeapType
}

type resourceRecord struct {
	heap   rhi.Heap
	owned  bool // true for committed resources, which own a dedicated heap
}

// Backend is a minimal, fully in-process rhi.Backend. Create one with New
// (the zero value's maps are nil, so it is not usable); New sets
// NaturalAlignment to 256 bytes for every heap type and
// SmallResourceTileBytes to 64 KiB (the original's conservative
// small-alignment tile size), matching values a real RHI binding would
// report for a typical desktop GPU.
type Backend struct {
	mu sync.Mutex

	nextHeap     rhi.Heap
	nextResource rhi.Resource
	heaps        map[rhi.Heap]heapRecord
	resources    map[rhi.Resource]resourceRecord

	props  rhi.MemoryProperties
	usage  [rhi.MemorySegmentGroupCount]uint64
	budget [rhi.MemorySegmentGroupCount]uint64

	// MaxHeapBytes, when nonzero, makes CreateHeap fail once the segment
	// group the requested heap type maps to would exceed this many total
	// bytes. Lets tests force OutOfDeviceMemory / fallback-to-committed
	// paths deterministically.
	MaxHeapBytes uint64
	// FailPlacedResource, when true, makes every CreatePlacedResource call
	// fail; used to exercise the allocator's committed-resource fallback
	// (spec.md §4.5 "If placed-resource creation fails, free the
	// allocation and retry as committed").
	FailPlacedResource bool
}

// New creates a Backend with reasonable default memory properties.
func New() *Backend {
	b := &Backend{
		nextHeap:     1,
		nextResource: 1,
		heaps:        make(map[rhi.Heap]heapRecord),
		resources:    make(map[rhi.Resource]resourceRecord),
		props: rhi.MemoryProperties{
			SmallResourceTileBytes: 64 * 1024,
		},
		budget: [rhi.MemorySegmentGroupCount]uint64{
			rhi.MemorySegmentLocal:    256 * 1024 * 1024,
			rhi.MemorySegmentNonLocal: 256 * 1024 * 1024,
		},
	}
	for i := range b.props.NaturalAlignment {
		b.props.NaturalAlignment[i] = 256
	}
	return b
}

// SetBudget overrides the simulated budget for one memory-segment group.
func (b *Backend) SetBudget(group rhi.MemorySegmentGroup, bytes uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.budget[group] = bytes
}

func segmentGroupOf(t rhi.HeapType) rhi.MemorySegmentGroup {
	switch t {
	case rhi.HeapTypeDeviceLocal, rhi.HeapTypeGPUUpload:
		return rhi.MemorySegmentLocal
	default:
		return rhi.MemorySegmentNonLocal
	}
}

func (b *Backend) CreateHeap(desc rhi.HeapDesc) (rhi.Heap, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	group := segmentGroupOf(desc.Type)
	if b.MaxHeapBytes != 0 && b.usage[group]+desc.Size > b.MaxHeapBytes {
		return 0, rhi.ResultOutOfDeviceMemory.Err("fakerhi: simulated device memory exhausted")
	}

	h := b.nextHeap
	b.nextHeap++
	b.heaps[h] = heapRecord{size: desc.Size, typ: desc.Type}
	b.usage[group] += desc.Size
	return h, nil
}

func (b *Backend) DestroyHeap(h rhi.Heap) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.heaps[h]
	if !ok {
		return
	}
	b.usage[segmentGroupOf(rec.typ)] -= rec.size
	delete(b.heaps, h)
}

func (b *Backend) CreatePlacedResource(info rhi.CreateInfo) (rhi.Resource, error) {
	if b.FailPlacedResource {
		return 0, rhi.ResultNotSupported.Err("fakerhi: placed-resource creation disabled for this test")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.heaps[info.Heap]; !ok {
		return 0, rhi.ResultInvalidArgument.Err("fakerhi: CreatePlacedResource on unknown heap")
	}
	r := b.nextResource
	b.nextResource++
	b.resources[r] = resourceRecord{heap: info.Heap}
	return r, nil
}

func (b *Backend) CreateCommittedResource(info rhi.CreateInfo) (rhi.Resource, rhi.Heap, error) {
	size := info.Resource.Width
	if size == 0 {
		size = 1
	}
	h, err := b.CreateHeap(rhi.HeapDesc{Device: info.Device, Size: size, Type: rhi.HeapTypeDeviceLocal})
	if err != nil {
		return 0, 0, err
	}
	b.mu.Lock()
	r := b.nextResource
	b.nextResource++
	b.resources[r] = resourceRecord{heap: h, owned: true}
	b.mu.Unlock()
	return r, h, nil
}

func (b *Backend) CreateAliasingResource(info rhi.CreateInfo) (rhi.Resource, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.heaps[info.Heap]; !ok {
		return 0, rhi.ResultInvalidArgument.Err("fakerhi: CreateAliasingResource on unknown heap")
	}
	r := b.nextResource
	b.nextResource++
	b.resources[r] = resourceRecord{heap: info.Heap}
	return r, nil
}

func (b *Backend) DestroyResource(r rhi.Resource) {
	b.mu.Lock()
	rec, ok := b.resources[r]
	if ok {
		delete(b.resources, r)
	}
	b.mu.Unlock()
	if ok && rec.owned {
		b.DestroyHeap(rec.heap)
	}
}

func (b *Backend) MemoryProperties() rhi.MemoryProperties {
	return b.props
}

func (b *Backend) Budget() [rhi.MemorySegmentGroupCount]rhi.SegmentBudget {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out [rhi.MemorySegmentGroupCount]rhi.SegmentBudget
	for g := range out {
		out[g] = rhi.SegmentBudget{
			UsageBytes:  b.usage[g],
			BudgetBytes: b.budget[g],
		}
	}
	return out
}

var _ rhi.Backend = (*Backend)(nil)
