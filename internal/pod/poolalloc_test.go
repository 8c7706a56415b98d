package pod

import "testing"

func TestPoolAllocatorReusesFreedSlots(t *testing.T) {
	p := NewPoolAllocator[int](2)
	a := p.Alloc()
	*a = 1
	p.Free(a)
	if p.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 after freeing the only live slot", p.Len())
	}

	b := p.Alloc()
	if b != a {
		t.Fatalf("expected Alloc to reuse the just-freed slot's address")
	}
	if *b != 0 {
		t.Fatalf("expected a reused slot to be zeroed, got %d", *b)
	}
}

func TestPoolAllocatorGrowsBlocks(t *testing.T) {
	p := NewPoolAllocator[int](2)
	for i := 0; i < 5; i++ {
		p.Alloc()
	}
	if p.BlockCount() < 2 {
		t.Fatalf("BlockCount() = %d, want at least 2 after exceeding the first block's capacity", p.BlockCount())
	}
	if p.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", p.Len())
	}
}

func TestPoolAllocatorFreeUnownedPointerPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected Free to panic on a pointer it never allocated")
		}
	}()
	p := NewPoolAllocator[int](2)
	var stray int
	p.Free(&stray)
}

func TestPoolAllocatorDebugGuardDisabledByDefault(t *testing.T) {
	p := NewPoolAllocator[int](2)
	if p.guard != nil {
		t.Fatalf("expected a fresh PoolAllocator to have no guard installed")
	}
	a := p.Alloc()
	p.Free(a)
	if p.guard != nil {
		t.Fatalf("Free must not install a guard unless EnableDebugGuard was called")
	}
}
