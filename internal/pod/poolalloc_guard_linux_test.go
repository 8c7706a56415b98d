//go:build linux

package pod

import "testing"

func TestPoolAllocatorDebugGuardProtectsFreedSlot(t *testing.T) {
	p := NewPoolAllocator[int](2)
	p.EnableDebugGuard()

	a := p.Alloc()
	p.Free(a)
	if got := p.guard.Count(); got != 1 {
		t.Fatalf("guarded count = %d, want 1 after freeing a slot with the debug guard enabled", got)
	}

	b := p.Alloc()
	if b != a {
		t.Fatalf("expected the freed slot's address to be reused")
	}
	if got := p.guard.Count(); got != 0 {
		t.Fatalf("guarded count = %d, want 0 once the freed address is reallocated", got)
	}
}

func TestPoolAllocatorDebugGuardTracksMultipleFrees(t *testing.T) {
	p := NewPoolAllocator[int](4)
	p.EnableDebugGuard()

	a := p.Alloc()
	b := p.Alloc()
	p.Free(a)
	p.Free(b)
	if got := p.guard.Count(); got != 2 {
		t.Fatalf("guarded count = %d, want 2 after freeing two slots", got)
	}

	p.Alloc()
	if got := p.guard.Count(); got != 1 {
		t.Fatalf("guarded count = %d, want 1 after reallocating one of the two freed slots", got)
	}
}
