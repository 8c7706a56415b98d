package metadata

import "testing"

func mustRequest(t *testing.T, l *Linear, size, align uint64, upper bool) AllocationRequest {
	t.Helper()
	req, ok := l.CreateAllocationRequest(size, align, upper, StrategyMinTime)
	if !ok {
		t.Fatalf("CreateAllocationRequest(size=%d, align=%d, upper=%v) unexpectedly failed", size, align, upper)
	}
	return req
}

// TestLinearRingBufferWraparound exercises the ring-buffer reuse path: once
// the tail of the block has no room left for a new request, a later Free at
// the front of 1st opens space that CreateAllocationRequest reclaims via the
// 2nd-vector wraparound case instead of growing past the block's end.
func TestLinearRingBufferWraparound(t *testing.T) {
	l := NewLinear(0)
	l.Init(512)

	reqA := mustRequest(t, l, 256, 256, false)
	if reqA.Offset != 0 {
		t.Fatalf("A offset = %d, want 0", reqA.Offset)
	}
	handleA := l.Alloc(reqA, 256, "A")

	reqB := mustRequest(t, l, 256, 256, false)
	if reqB.Offset != 256 {
		t.Fatalf("B offset = %d, want 256", reqB.Offset)
	}
	l.Alloc(reqB, 256, "B")

	l.Free(handleA)

	reqC := mustRequest(t, l, 256, 256, false)
	if reqC.Offset != 0 {
		t.Fatalf("C offset = %d, want 0 (ring-buffer wraparound)", reqC.Offset)
	}
	l.Alloc(reqC, 256, "C")

	if l.mode != modeRingBuffer {
		t.Fatalf("2nd-vector mode = %v, want ring-buffer", l.mode)
	}
	if l.GetSumFreeSize() != 0 {
		t.Fatalf("sum free size = %d, want 0", l.GetSumFreeSize())
	}
}

// TestLinearDoubleStack follows the double-stack scenario: an upper-address
// allocation starts the 2nd vector growing down from the top, a lower
// allocation grows 1st from the bottom, freeing the sole upper allocation
// drops the 2nd vector back to empty, and a further upper-address request
// starts a fresh double stack.
func TestLinearDoubleStack(t *testing.T) {
	l := NewLinear(0)
	l.Init(1024)

	reqU := mustRequest(t, l, 256, 1, true)
	if reqU.Offset != 768 {
		t.Fatalf("U offset = %d, want 768", reqU.Offset)
	}
	handleU := l.Alloc(reqU, 256, "U")
	if l.mode != modeDoubleStack {
		t.Fatalf("mode = %v, want double-stack", l.mode)
	}

	reqL := mustRequest(t, l, 256, 1, false)
	if reqL.Offset != 0 {
		t.Fatalf("L offset = %d, want 0", reqL.Offset)
	}
	l.Alloc(reqL, 256, "L")

	l.Free(handleU)
	if l.mode != modeEmpty {
		t.Fatalf("mode after freeing sole upper alloc = %v, want empty", l.mode)
	}

	reqU2 := mustRequest(t, l, 128, 1, true)
	if reqU2.Offset != 896 {
		t.Fatalf("U2 offset = %d, want 896", reqU2.Offset)
	}
	l.Alloc(reqU2, 128, "U2")
	if l.mode != modeDoubleStack {
		t.Fatalf("mode after U2 = %v, want double-stack", l.mode)
	}
}

func TestLinearFreeAndSumFreeSizeRoundTrip(t *testing.T) {
	l := NewLinear(0)
	l.Init(4096)

	req := mustRequest(t, l, 1024, 256, false)
	h := l.Alloc(req, 1024, nil)
	if l.GetSumFreeSize() != 4096-1024 {
		t.Fatalf("sum free size = %d, want %d", l.GetSumFreeSize(), 4096-1024)
	}
	l.Free(h)
	if l.GetSumFreeSize() != 4096 {
		t.Fatalf("sum free size after free = %d, want 4096", l.GetSumFreeSize())
	}
	if l.GetAllocationCount() != 0 {
		t.Fatalf("allocation count after free = %d, want 0", l.GetAllocationCount())
	}
}

func TestLinearClearResetsState(t *testing.T) {
	l := NewLinear(0)
	l.Init(2048)

	req := mustRequest(t, l, 512, 1, false)
	l.Alloc(req, 512, nil)
	req2 := mustRequest(t, l, 256, 1, true)
	l.Alloc(req2, 256, nil)

	l.Clear()
	if l.GetAllocationCount() != 0 {
		t.Fatalf("allocation count after Clear = %d, want 0", l.GetAllocationCount())
	}
	if l.GetSumFreeSize() != 2048 {
		t.Fatalf("sum free size after Clear = %d, want 2048", l.GetSumFreeSize())
	}
	if l.mode != modeEmpty {
		t.Fatalf("mode after Clear = %v, want empty", l.mode)
	}
}

func TestLinearDefragEnumerationUnsupported(t *testing.T) {
	l := NewLinear(0)
	l.Init(1024)

	if l.SupportsDefrag() {
		t.Fatal("Linear must report SupportsDefrag() == false")
	}

	defer func() {
		if recover() == nil {
			t.Fatal("GetAllocationListBegin should panic on the linear variant")
		}
	}()
	l.GetAllocationListBegin()
}

func TestLinearAllocationInfoMatchesHandle(t *testing.T) {
	l := NewLinear(0)
	l.Init(1024)

	req := mustRequest(t, l, 128, 64, false)
	h := l.Alloc(req, 128, "payload")

	info := l.GetAllocationInfo(h)
	if info.Offset != req.Offset || info.Size != 128 {
		t.Fatalf("GetAllocationInfo = %+v, want offset=%d size=128", info, req.Offset)
	}
	if info.PrivateData != "payload" {
		t.Fatalf("PrivateData = %v, want payload", info.PrivateData)
	}
}

func TestLinearUpperAddressRejectedDuringRingBuffer(t *testing.T) {
	l := NewLinear(0)
	l.Init(512)

	// Force ring-buffer mode the same way TestLinearRingBufferWraparound does.
	a := mustRequest(t, l, 256, 256, false)
	ha := l.Alloc(a, 256, nil)
	b := mustRequest(t, l, 256, 256, false)
	l.Alloc(b, 256, nil)
	l.Free(ha)
	c := mustRequest(t, l, 256, 256, false)
	l.Alloc(c, 256, nil)
	if l.mode != modeRingBuffer {
		t.Fatalf("setup failed to reach ring-buffer mode: %v", l.mode)
	}

	defer func() {
		if recover() == nil {
			t.Fatal("upper-address request during ring-buffer mode should panic")
		}
	}()
	l.CreateAllocationRequest(1, 1, true, StrategyMinTime)
}
