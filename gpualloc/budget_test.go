package gpualloc

import (
	"testing"

	"github.com/gogpu/vma/internal/fakerhi"
	"github.com/gogpu/vma/rhi"
)

func TestBudgetTrackerFitsRespectsCeiling(t *testing.T) {
	backend := fakerhi.New()
	backend.SetBudget(rhi.MemorySegmentLocal, 1024)
	bt := NewBudgetTracker(backend)

	if !bt.Fits(rhi.MemorySegmentLocal, 512) {
		t.Fatalf("expected 512 extra bytes to fit under a 1024-byte budget with no usage")
	}

	bt.AddUsage(rhi.MemorySegmentLocal, 900)
	if bt.Fits(rhi.MemorySegmentLocal, 200) {
		t.Fatalf("expected 900+200 to exceed a 1024-byte budget")
	}
	if !bt.Fits(rhi.MemorySegmentLocal, 100) {
		t.Fatalf("expected 900+100 to fit under a 1024-byte budget")
	}
}

func TestBudgetTrackerZeroCeilingAlwaysFits(t *testing.T) {
	backend := fakerhi.New()
	backend.SetBudget(rhi.MemorySegmentLocal, 0)
	bt := NewBudgetTracker(backend)
	bt.AddUsage(rhi.MemorySegmentLocal, 1<<40)
	if !bt.Fits(rhi.MemorySegmentLocal, 1<<40) {
		t.Fatalf("expected a zero budget ceiling to mean unlimited")
	}
}

func TestBudgetTrackerSample(t *testing.T) {
	backend := fakerhi.New()
	backend.SetBudget(rhi.MemorySegmentNonLocal, 2048)
	bt := NewBudgetTracker(backend)
	bt.AddUsage(rhi.MemorySegmentNonLocal, 512)

	b := bt.Sample(rhi.MemorySegmentNonLocal)
	if b.UsageBytes != 512 {
		t.Fatalf("UsageBytes = %d, want 512", b.UsageBytes)
	}
	if b.BudgetBytes != 2048 {
		t.Fatalf("BudgetBytes = %d, want 2048", b.BudgetBytes)
	}
}
