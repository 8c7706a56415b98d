package metadata

import (
	"fmt"
	"unsafe"

	"github.com/gogpu/vma/internal/jsonwriter"
	"github.com/gogpu/vma/internal/pod"
)

const generalBucketCount = 64

// generalNode is one suballocation record, live (used) or free, threaded
// into an address-ordered intrusive list. Free nodes are additionally
// indexed into a segregated-by-size bucket (spec.md §4.3's "TLSF-style"
// wording) so CreateAllocationRequest only has to scan buckets whose
// minimum size could possibly satisfy the request, mirroring the
// power-of-two bucketing the teacher's buddy allocator uses for its free
// lists (hal/vulkan/memory/buddy.go), generalized from powers of two to
// arbitrary block sizes.
type generalNode struct {
	offset, size uint64
	used         bool
	data         any
	bucket       int

	addrPrev, addrNext *generalNode
}

func (n *generalNode) ListPrev() *generalNode     { return n.addrPrev }
func (n *generalNode) ListNext() *generalNode     { return n.addrNext }
func (n *generalNode) SetListPrev(p *generalNode) { n.addrPrev = p }
func (n *generalNode) SetListNext(p *generalNode) { n.addrNext = p }

type generalOpaque struct {
	node *generalNode
}

// General implements the TLSF-style segregated free-list variant: the
// contract leaves the internal index structure unspecified, so this
// chooses address-ordered intrusive nodes (for O(1) coalescing and
// defragmentation enumeration) plus bucket-indexed free lists (for
// sublinear best/first-fit search).
type General struct {
	size        uint64
	debugMargin uint64

	pool    *pod.PoolAllocator[generalNode]
	addr    *pod.IntrusiveList[*generalNode]
	buckets [generalBucketCount]*pod.Vector[*generalNode]

	sumFreeSize uint64
	allocCount  int
}

// NewGeneral creates an uninitialized General metadata instance. Call Init
// before use.
func NewGeneral(debugMargin uint64) *General {
	return &General{
		debugMargin: debugMargin,
		pool:        pod.NewPoolAllocator[generalNode](64),
		addr:        pod.NewIntrusiveList[*generalNode](),
	}
}

// EnableDebugGuard turns on guard-page poisoning (internal/pod.GuardPages)
// of freed generalNode records: each freed node's address gets a separate
// PROT_NONE page until the pool hands that slot out again. The node's own
// bytes are not protected, so a node pointer kept past its Free call still
// reads them without faulting.
func (g *General) EnableDebugGuard() {
	g.pool.EnableDebugGuard()
}

func (g *General) Init(size uint64) {
	g.size = size
	g.sumFreeSize = size
	n := g.pool.Alloc()
	n.offset = 0
	n.size = size
	n.used = false
	g.addr.PushBack(n)
	g.insertFree(n)
}

func bucketIndex(size uint64) int {
	if size == 0 {
		return 0
	}
	b := pod.BitScanMSB(size)
	if b < 0 {
		b = 0
	}
	if b >= generalBucketCount {
		b = generalBucketCount - 1
	}
	return b
}

func (g *General) insertFree(n *generalNode) {
	n.used = false
	n.data = nil
	b := bucketIndex(n.size)
	if g.buckets[b] == nil {
		g.buckets[b] = pod.NewVector[*generalNode](4)
	}
	g.buckets[b].PushBack(n)
	n.bucket = b
}

func (g *General) removeFree(n *generalNode) {
	vec := g.buckets[n.bucket]
	for i := 0; i < vec.Len(); i++ {
		if vec.At(i) == n {
			vec.RemoveSwap(i)
			break
		}
	}
	n.bucket = -1
}

func handleOfGeneral(n *generalNode) Handle { return Handle(uintptr(unsafe.Pointer(n))) }
func nodeOfGeneral(h Handle) *generalNode   { return (*generalNode)(unsafe.Pointer(uintptr(h))) }

func (g *General) GetSize() uint64        { return g.size }
func (g *General) GetSumFreeSize() uint64 { return g.sumFreeSize }
func (g *General) GetAllocationCount() int {
	return g.allocCount
}
func (g *General) IsEmpty() bool { return g.allocCount == 0 }
func (g *General) IsVirtual() bool { return false }
func (g *General) SupportsDefrag() bool { return true }

func (g *General) GetFreeRegionsCount() int {
	n := 0
	for cur := g.addr.Front(); cur != nil; cur = cur.addrNext {
		if !cur.used {
			n++
		}
	}
	return n
}

func (g *General) GetAllocationOffset(h Handle) uint64 { return nodeOfGeneral(h).offset }

func (g *General) GetAllocationInfo(h Handle) AllocationInfo {
	n := nodeOfGeneral(h)
	return AllocationInfo{Offset: n.offset, Size: n.size, PrivateData: n.data}
}

func (g *General) GetAllocationPrivateData(h Handle) any { return nodeOfGeneral(h).data }

func (g *General) SetAllocationPrivateData(h Handle, data any) { nodeOfGeneral(h).data = data }

// CreateAllocationRequest implements all three strategies, plus an
// upperAddress preference (not part of the mandated contract, but exposed
// for symmetry with Linear): among viable placements, the one with the
// greatest offset is chosen instead of applying the requested strategy.
func (g *General) CreateAllocationRequest(size, alignment uint64, upperAddress bool, strategy Strategy) (AllocationRequest, bool) {
	if size == 0 {
		return AllocationRequest{}, false
	}
	if alignment == 0 {
		alignment = 1
	}

	if !upperAddress && strategy&StrategyMinMemory == 0 && strategy&StrategyMinOffset == 0 {
		// First-fit: address-order scan, stop at the first viable node.
		for cur := g.addr.Front(); cur != nil; cur = cur.addrNext {
			if cur.used {
				continue
			}
			alignedOffset := pod.AlignUp(cur.offset, alignment)
			if alignedOffset+size+g.debugMargin <= cur.offset+cur.size {
				return AllocationRequest{Offset: alignedOffset, Size: size, opaque: generalOpaque{node: cur}}, true
			}
		}
		return AllocationRequest{}, false
	}

	var best *generalNode
	var bestOffset uint64

	consider := func(n *generalNode, alignedOffset uint64) {
		switch {
		case best == nil:
		case upperAddress:
			if alignedOffset <= bestOffset {
				return
			}
		case strategy&StrategyMinOffset != 0:
			if alignedOffset >= bestOffset {
				return
			}
		case strategy&StrategyMinMemory != 0:
			if n.size >= best.size {
				return
			}
		default:
			return
		}
		best = n
		bestOffset = alignedOffset
	}

	start := bucketIndex(size)
	for b := start; b < generalBucketCount; b++ {
		vec := g.buckets[b]
		if vec == nil {
			continue
		}
		for i := 0; i < vec.Len(); i++ {
			n := vec.At(i)
			alignedOffset := pod.AlignUp(n.offset, alignment)
			if alignedOffset+size+g.debugMargin > n.offset+n.size {
				continue
			}
			consider(n, alignedOffset)
		}
	}

	if best == nil {
		return AllocationRequest{}, false
	}
	return AllocationRequest{Offset: bestOffset, Size: size, opaque: generalOpaque{node: best}}, true
}

func (g *General) Alloc(req AllocationRequest, size uint64, privateData any) Handle {
	op, ok := req.opaque.(generalOpaque)
	if !ok {
		panic("metadata: general: Alloc called with a request not produced by this instance")
	}
	n := op.node
	g.removeFree(n)

	leftPad := req.Offset - n.offset
	end := n.offset + n.size
	if leftPad > 0 {
		left := g.pool.Alloc()
		left.offset = n.offset
		left.size = leftPad
		g.addr.InsertBefore(n, left)
		g.insertFree(left)
	}

	n.offset = req.Offset
	n.size = size
	n.used = true
	n.data = privateData

	rightLeftover := end - (req.Offset + size)
	if rightLeftover > 0 {
		right := g.pool.Alloc()
		right.offset = req.Offset + size
		right.size = rightLeftover
		g.addr.InsertAfter(n, right)
		g.insertFree(right)
	}

	g.sumFreeSize -= size
	g.allocCount++
	return handleOfGeneral(n)
}

func (g *General) Free(h Handle) {
	n := nodeOfGeneral(h)
	if !n.used {
		panic(fmt.Sprintf("metadata: general: double free at offset %d", n.offset))
	}
	g.sumFreeSize += n.size
	g.allocCount--
	g.insertFree(n)
	g.coalesce(n)
}

func (g *General) coalesce(n *generalNode) {
	if prev := n.addrPrev; prev != nil && !prev.used {
		g.removeFree(prev)
		g.removeFree(n)
		prev.size += n.size
		g.addr.Remove(n)
		g.pool.Free(n)
		n = prev
		g.insertFree(n)
	}
	if next := n.addrNext; next != nil && !next.used {
		g.removeFree(next)
		g.removeFree(n)
		n.size += next.size
		g.addr.Remove(next)
		g.pool.Free(next)
		g.insertFree(n)
	}
}

func (g *General) Clear() {
	g.pool = pod.NewPoolAllocator[generalNode](64)
	g.addr = pod.NewIntrusiveList[*generalNode]()
	for i := range g.buckets {
		g.buckets[i] = nil
	}
	g.allocCount = 0
	g.Init(g.size)
}

func (g *General) Validate() bool {
	var sumFree uint64
	prevEnd := uint64(0)
	valid := true
	count := 0
	for cur := g.addr.Front(); cur != nil; cur = cur.addrNext {
		if cur.offset != prevEnd {
			valid = false
		}
		if !cur.used {
			sumFree += cur.size
			if cur.addrPrev != nil && !cur.addrPrev.used {
				valid = false // adjacent free nodes should have been coalesced
			}
		} else {
			count++
		}
		prevEnd = cur.offset + cur.size
	}
	if prevEnd != g.size {
		valid = false
	}
	if sumFree != g.sumFreeSize {
		valid = false
	}
	if count != g.allocCount {
		valid = false
	}
	return valid
}

func (g *General) GetAllocationListBegin() (Handle, bool) {
	for cur := g.addr.Front(); cur != nil; cur = cur.addrNext {
		if cur.used {
			return handleOfGeneral(cur), true
		}
	}
	return InvalidHandle, false
}

func (g *General) GetNextAllocation(h Handle) (Handle, bool) {
	n := nodeOfGeneral(h)
	for cur := n.addrNext; cur != nil; cur = cur.addrNext {
		if cur.used {
			return handleOfGeneral(cur), true
		}
	}
	return InvalidHandle, false
}

func (g *General) GetNextFreeRegionSize(h Handle) uint64 {
	n := nodeOfGeneral(h)
	if next := n.addrNext; next != nil && !next.used {
		return next.size
	}
	return 0
}

func (g *General) AddStatistics(stats *Statistics) {
	stats.BlockCount++
	stats.BlockBytes += g.size
	stats.AllocationCount += g.allocCount
	stats.AllocationBytes += g.size - g.sumFreeSize
}

func (g *General) AddDetailedStatistics(stats *DetailedStatistics) {
	stats.BlockCount++
	stats.BlockBytes += g.size
	for cur := g.addr.Front(); cur != nil; cur = cur.addrNext {
		if cur.used {
			stats.AddAllocation(cur.size)
		} else {
			stats.AddUnusedRange(cur.size)
		}
	}
}

func (g *General) WriteAllocationInfoToJson(w *jsonwriter.Writer, lookup func(h Handle) JSONAllocation) {
	w.BeginObject(false)
	w.WriteString("TotalBytes")
	w.WriteNumber(g.size)
	w.WriteString("UnusedBytes")
	w.WriteNumber(g.sumFreeSize)
	w.WriteString("Allocations")
	w.WriteNumber(uint64(g.allocCount))
	w.WriteString("UnusedRanges")
	w.WriteNumber(uint64(g.GetFreeRegionsCount()))
	w.WriteString("Suballocations")
	w.BeginArray(false)
	for cur := g.addr.Front(); cur != nil; cur = cur.addrNext {
		w.BeginObject(true)
		w.WriteString("Offset")
		w.WriteNumber(cur.offset)
		if !cur.used {
			w.WriteString("Type")
			w.WriteString("FREE")
			w.WriteString("Size")
			w.WriteNumber(cur.size)
			w.EndObject()
			continue
		}
		info := lookup(handleOfGeneral(cur))
		w.WriteString("Type")
		if info.Type == "" {
			w.WriteString("UNKNOWN")
		} else {
			w.WriteString(info.Type)
		}
		w.WriteString("Size")
		w.WriteNumber(cur.size)
		w.WriteString("Usage")
		w.WriteNumber(uint64(info.Usage))
		if info.HasCustom {
			w.WriteString("CustomData")
			w.BeginString("")
			w.ContinueStringPointer(info.CustomData)
			w.EndString("")
		}
		if info.Name != "" {
			w.WriteString("Name")
			w.WriteString(info.Name)
		}
		w.WriteString("Layout")
		w.WriteNumber(uint64(info.Layout))
		w.EndObject()
	}
	w.EndArray()
	w.EndObject()
}

func (g *General) DebugLogAllAllocations(log func(offset, size uint64, name string)) {
	for cur := g.addr.Front(); cur != nil; cur = cur.addrNext {
		if !cur.used {
			continue
		}
		name := ""
		if s, ok := cur.data.(string); ok {
			name = s
		}
		log(cur.offset, cur.size, name)
	}
}

var _ Metadata = (*General)(nil)
var _ SupportsDefragmentation = (*General)(nil)
