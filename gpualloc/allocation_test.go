package gpualloc

import (
	"testing"

	"github.com/gogpu/vma/internal/fakerhi"
	"github.com/gogpu/vma/rhi"
)

func TestPackedFieldsRoundTrip(t *testing.T) {
	packed := packFields(casePlaced, rhi.ResourceDimensionTexture2D, 0xABCDEF, 0x1FF)
	if got := unpackCase(packed); got != casePlaced {
		t.Fatalf("unpackCase = %v, want casePlaced", got)
	}
	if got := unpackDimension(packed); got != rhi.ResourceDimensionTexture2D {
		t.Fatalf("unpackDimension = %v, want Texture2D", got)
	}
	if got := unpackResourceFlags(packed); got != 0xABCDEF {
		t.Fatalf("unpackResourceFlags = %#x, want 0xABCDEF", got)
	}
	if got := unpackLayout(packed); got != 0x1FF {
		t.Fatalf("unpackLayout = %#x, want 0x1FF", got)
	}
}

func TestPackedFieldsFlagsAreTruncatedTo24Bits(t *testing.T) {
	packed := packFields(caseCommitted, rhi.ResourceDimensionBuffer, 0xFFFFFFFF, 0)
	if got := unpackResourceFlags(packed); got != 0xFFFFFF {
		t.Fatalf("unpackResourceFlags = %#x, want truncated to 24 bits (0xFFFFFF)", got)
	}
}

func TestAllocationNameRoundTrip(t *testing.T) {
	a, _ := newTestAllocator(t)
	alloc, err := a.AllocateMemory(AllocationDesc{HeapType: rhi.HeapTypeDeviceLocal}, 256, 256)
	if err != nil {
		t.Fatalf("AllocateMemory: %v", err)
	}
	defer alloc.ReleaseThis()

	if alloc.Name() != "" {
		t.Fatalf("expected no name by default")
	}
	alloc.SetName("upload-ring")
	if got := alloc.Name(); got != "upload-ring" {
		t.Fatalf("Name() = %q, want %q", got, "upload-ring")
	}
	alloc.SetName("renamed")
	if got := alloc.Name(); got != "renamed" {
		t.Fatalf("Name() after rename = %q, want %q", got, "renamed")
	}
}

func TestAllocationNameUsesCallbacks(t *testing.T) {
	backend := fakerhi.New()
	var freed bool
	desc := DefaultAllocatorDesc(1, backend)
	desc.AllocationCallbacks = AllocationCallbacks{
		Alloc: func(size int) []byte { return make([]byte, size) },
		Free:  func(buf []byte) { freed = true },
	}
	a, err := NewAllocator(desc)
	if err != nil {
		t.Fatalf("NewAllocator: %v", err)
	}
	alloc, err := a.AllocateMemory(AllocationDesc{HeapType: rhi.HeapTypeDeviceLocal}, 256, 256)
	if err != nil {
		t.Fatalf("AllocateMemory: %v", err)
	}
	alloc.SetName("a")
	alloc.SetName("b") // releases the first buffer through Free
	if !freed {
		t.Fatalf("expected renaming to release the previous name buffer via AllocationCallbacks.Free")
	}
	alloc.ReleaseThis()
}

func TestAllocationPrivateDataIsDistinctFromMetadataPrivateData(t *testing.T) {
	a, _ := newTestAllocator(t)
	type payload struct{ tag string }
	want := &payload{tag: "caller-owned"}

	alloc, err := a.AllocateMemory(AllocationDesc{HeapType: rhi.HeapTypeDeviceLocal, PrivateData: want}, 256, 256)
	if err != nil {
		t.Fatalf("AllocateMemory: %v", err)
	}
	defer alloc.ReleaseThis()

	got, ok := alloc.PrivateData().(*payload)
	if !ok || got != want {
		t.Fatalf("PrivateData() = %#v, want the caller-supplied pointer", alloc.PrivateData())
	}

	// The metadata handle's own private data must resolve back to the
	// Allocation object itself, not the caller's payload — this is what
	// Pool.LiveAllocations and Pool.writeBlocksJSON depend on.
	live, err := a.defaultPools[rhi.HeapTypeDeviceLocal].LiveAllocations()
	if err != nil {
		t.Fatalf("LiveAllocations: %v", err)
	}
	if len(live) != 1 || live[0].Alloc != alloc {
		t.Fatalf("expected LiveAllocations to resolve the metadata handle back to the Allocation")
	}
}
