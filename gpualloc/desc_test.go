package gpualloc

import (
	"testing"

	"github.com/gogpu/vma/metadata"
	"github.com/gogpu/vma/rhi"
)

func TestAllocationFlagsStrategyDefault(t *testing.T) {
	s, err := AllocationFlags(0).strategy()
	if err != nil {
		t.Fatalf("strategy(): %v", err)
	}
	if s != metadata.StrategyMinTime {
		t.Fatalf("default strategy = %v, want StrategyMinTime", s)
	}
}

func TestAllocationFlagsStrategySingleBit(t *testing.T) {
	cases := []struct {
		flags AllocationFlags
		want  metadata.Strategy
	}{
		{AllocationFlagStrategyMinMemory, metadata.StrategyMinMemory},
		{AllocationFlagStrategyMinTime, metadata.StrategyMinTime},
		{AllocationFlagStrategyMinOffset, metadata.StrategyMinOffset},
		{AllocationFlagStrategyBestFit, metadata.StrategyMinMemory},
		{AllocationFlagStrategyFirstFit, metadata.StrategyMinTime},
	}
	for _, c := range cases {
		got, err := c.flags.strategy()
		if err != nil {
			t.Fatalf("strategy() for %v: %v", c.flags, err)
		}
		if got != c.want {
			t.Fatalf("strategy() for %v = %v, want %v", c.flags, got, c.want)
		}
	}
}

func TestAllocationFlagsStrategyConflictIsRejected(t *testing.T) {
	flags := AllocationFlagStrategyMinMemory | AllocationFlagStrategyMinTime
	if _, err := flags.strategy(); err == nil {
		t.Fatalf("expected an error when more than one strategy bit is set")
	}
}

func TestPoolDescValidateRejectsBadBlockSize(t *testing.T) {
	desc := PoolDesc{HeapType: rhi.HeapTypeDeviceLocal, BlockSize: 300}
	if err := desc.validate(256); err == nil {
		t.Fatalf("expected BlockSize=300 (not a power-of-two multiple of 256) to be rejected")
	}
}

func TestPoolDescValidateAcceptsZeroBlockSize(t *testing.T) {
	desc := PoolDesc{HeapType: rhi.HeapTypeDeviceLocal}
	if err := desc.validate(256); err != nil {
		t.Fatalf("validate(): %v", err)
	}
}

func TestPoolDescValidateRejectsInvertedBlockCounts(t *testing.T) {
	desc := PoolDesc{HeapType: rhi.HeapTypeDeviceLocal, MinBlockCount: 4, MaxBlockCount: 2}
	if err := desc.validate(256); err == nil {
		t.Fatalf("expected MinBlockCount > MaxBlockCount to be rejected")
	}
}

func TestPoolDescValidateRejectsOutOfRangeHeapType(t *testing.T) {
	desc := PoolDesc{HeapType: rhi.HeapType(-1)}
	if err := desc.validate(256); err == nil {
		t.Fatalf("expected a negative HeapType to be rejected")
	}
}
