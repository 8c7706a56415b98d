package metadata

import (
	"fmt"
	"sort"

	"github.com/gogpu/vma/internal/jsonwriter"
	"github.com/gogpu/vma/internal/pod"
)

// secondVectorMode tracks what role the "2nd" suballocation vector is
// currently playing (spec.md §4.3 Linear variant).
type secondVectorMode int

const (
	modeEmpty secondVectorMode = iota
	modeRingBuffer
	modeDoubleStack
)

func (m secondVectorMode) String() string {
	switch m {
	case modeRingBuffer:
		return "ring-buffer"
	case modeDoubleStack:
		return "double-stack"
	default:
		return "empty"
	}
}

type linearSuballoc struct {
	offset uint64
	size   uint64
	used   bool
	data   any
}

// requestTag records which of the three placement cases produced a pending
// AllocationRequest, so Alloc knows which vector to commit into.
type requestTag int

const (
	tagEndOf1st requestTag = iota
	tagEndOf2nd
	tagUpperAddress
)

type linearOpaque struct {
	tag requestTag
}

// Linear implements the append-only / ring-buffer / double-stack /
// upper-address block-metadata variant, fully specified by spec.md §4.3.
// Defragmentation enumeration is deliberately unsupported (it panics, per
// "Defragmentation entry points are explicitly unsupported in the linear
// variant" — a programmer error, not a recoverable one).
type Linear struct {
	size        uint64
	debugMargin uint64

	first  *pod.Vector[linearSuballoc]
	second *pod.Vector[linearSuballoc]
	mode   secondVectorMode

	first1stNullBegin  int
	first1stNullMiddle int
	second2ndNullCount int

	sumFreeSize uint64
}

// NewLinear creates an uninitialized Linear metadata instance. Call Init
// before use. debugMargin configures the padding spec.md §4.3 describes;
// pass 0 to disable it.
func NewLinear(debugMargin uint64) *Linear {
	return &Linear{
		debugMargin: debugMargin,
		first:       pod.NewVector[linearSuballoc](16),
		second:      pod.NewVector[linearSuballoc](0),
	}
}

func (l *Linear) Init(size uint64) {
	l.size = size
	l.sumFreeSize = size
}

func (l *Linear) GetSize() uint64            { return l.size }
func (l *Linear) GetSumFreeSize() uint64     { return l.sumFreeSize }
func (l *Linear) IsVirtual() bool            { return false }
func (l *Linear) GetFreeRegionsCount() int {
	// Approximate: one region between every pair of adjacent live items,
	// plus head/tail gaps, recomputed from a fresh accounting pass.
	count := 0
	l.scanRanges(func(offset, size uint64, live bool, _ any) {
		if !live {
			count++
		}
	})
	return count
}

func (l *Linear) GetAllocationCount() int {
	n := 0
	for i := 0; i < l.first.Len(); i++ {
		if l.first.At(i).used {
			n++
		}
	}
	for i := 0; i < l.second.Len(); i++ {
		if l.second.At(i).used {
			n++
		}
	}
	return n
}

func (l *Linear) IsEmpty() bool { return l.GetAllocationCount() == 0 }

func offsetFromHandle(h Handle) uint64 { return uint64(h) - 1 }
func handleFromOffset(o uint64) Handle { return Handle(o + 1) }

func (l *Linear) findByOffset(offset uint64) (vec *pod.Vector[linearSuballoc], idx int, ok bool) {
	if l.first.Len() > 0 && l.first.Front().offset == offset {
		return l.first, 0, true
	}
	if l.second.Len() > 0 && l.second.Back().offset == offset {
		return l.second, l.second.Len() - 1, true
	}
	// Binary search in the middle of 1st (ascending order).
	if idx := sort.Search(l.first.Len(), func(i int) bool { return l.first.At(i).offset >= offset }); idx < l.first.Len() && l.first.At(idx).offset == offset {
		return l.first, idx, true
	}
	// Binary search in 2nd: ascending for ring-buffer, descending for
	// double-stack.
	if l.mode == modeRingBuffer {
		if idx := sort.Search(l.second.Len(), func(i int) bool { return l.second.At(i).offset >= offset }); idx < l.second.Len() && l.second.At(idx).offset == offset {
			return l.second, idx, true
		}
	} else if l.mode == modeDoubleStack {
		if idx := sort.Search(l.second.Len(), func(i int) bool { return l.second.At(i).offset <= offset }); idx < l.second.Len() && l.second.At(idx).offset == offset {
			return l.second, idx, true
		}
	}
	return nil, 0, false
}

func (l *Linear) GetAllocationOffset(h Handle) uint64 { return offsetFromHandle(h) }

func (l *Linear) GetAllocationInfo(h Handle) AllocationInfo {
	offset := offsetFromHandle(h)
	vec, idx, ok := l.findByOffset(offset)
	if !ok {
		return AllocationInfo{}
	}
	s := vec.At(idx)
	return AllocationInfo{Offset: s.offset, Size: s.size, PrivateData: s.data}
}

func (l *Linear) GetAllocationPrivateData(h Handle) any {
	offset := offsetFromHandle(h)
	vec, idx, ok := l.findByOffset(offset)
	if !ok {
		return nil
	}
	return vec.At(idx).data
}

func (l *Linear) SetAllocationPrivateData(h Handle, data any) {
	offset := offsetFromHandle(h)
	vec, idx, ok := l.findByOffset(offset)
	if !ok {
		return
	}
	p := vec.Ptr(idx)
	p.data = data
}

// CreateAllocationRequest implements the three placement cases of spec.md
// §4.3. strategy is accepted for interface conformance; Linear always
// falls back to min-time (first viable placement), as spec.md §9 permits.
func (l *Linear) CreateAllocationRequest(size, alignment uint64, upperAddress bool, _ Strategy) (AllocationRequest, bool) {
	if size == 0 {
		return AllocationRequest{}, false
	}
	if alignment == 0 {
		alignment = 1
	}

	if upperAddress {
		if l.mode == modeRingBuffer {
			panic("metadata: linear: upper-address request while 2nd vector is in ring-buffer mode")
		}
		top := l.size
		if l.mode == modeDoubleStack && l.second.Len() > 0 {
			top = l.second.Back().offset
		}
		if top < size+l.debugMargin {
			return AllocationRequest{}, false
		}
		offset := top - size - l.debugMargin
		offset = pod.AlignDown(offset, alignment)
		firstEnd := uint64(0)
		if l.first.Len() > 0 {
			last := l.first.Back()
			firstEnd = last.offset + last.size
		}
		if offset < firstEnd {
			return AllocationRequest{}, false
		}
		return AllocationRequest{Offset: offset, Size: size, opaque: linearOpaque{tag: tagUpperAddress}}, true
	}

	if l.mode != modeRingBuffer {
		// Case 1: place after the end of 1st.
		base := uint64(0)
		if l.first.Len() > 0 {
			last := l.first.Back()
			base = last.offset + last.size + l.debugMargin
		}
		base = pod.AlignUp(base, alignment)

		limit := l.size
		if l.mode == modeDoubleStack && l.second.Len() > 0 {
			limit = l.second.Back().offset
		}
		if base+size <= limit {
			return AllocationRequest{Offset: base, Size: size, opaque: linearOpaque{tag: tagEndOf1st}}, true
		}

		if l.mode == modeDoubleStack {
			return AllocationRequest{}, false
		}

		// Fallback: wrap to the front, starting (or continuing) the 2nd
		// vector as a ring buffer.
		base2 := uint64(0)
		if l.second.Len() > 0 {
			last := l.second.Back()
			base2 = last.offset + last.size + l.debugMargin
		}
		base2 = pod.AlignUp(base2, alignment)

		frontLimit := l.size
		if l.first.Len() > l.first1stNullBegin {
			frontLimit = l.first.At(l.first1stNullBegin).offset
		}
		if base2+size <= frontLimit {
			return AllocationRequest{Offset: base2, Size: size, opaque: linearOpaque{tag: tagEndOf2nd}}, true
		}
		return AllocationRequest{}, false
	}

	// mode == modeRingBuffer: only the "end of 2nd" path is valid.
	base := uint64(0)
	if l.second.Len() > 0 {
		last := l.second.Back()
		base = last.offset + last.size + l.debugMargin
	}
	base = pod.AlignUp(base, alignment)

	frontLimit := l.size
	if l.first.Len() > l.first1stNullBegin {
		frontLimit = l.first.At(l.first1stNullBegin).offset
	}
	if base+size <= frontLimit {
		return AllocationRequest{Offset: base, Size: size, opaque: linearOpaque{tag: tagEndOf2nd}}, true
	}
	return AllocationRequest{}, false
}

func (l *Linear) Alloc(req AllocationRequest, size uint64, privateData any) Handle {
	op, ok := req.opaque.(linearOpaque)
	if !ok {
		panic("metadata: linear: Alloc called with a request not produced by this instance")
	}

	sa := linearSuballoc{offset: req.Offset, size: size, used: true, data: privateData}

	switch op.tag {
	case tagEndOf1st:
		l.first.PushBack(sa)
	case tagEndOf2nd:
		wasEmpty := l.second.Len() == 0
		l.second.PushBack(sa)
		if wasEmpty && l.mode == modeEmpty {
			l.mode = modeRingBuffer
		}
	case tagUpperAddress:
		wasEmpty := l.second.Len() == 0
		l.second.PushBack(sa)
		if wasEmpty {
			l.mode = modeDoubleStack
		}
	default:
		panic("metadata: linear: invalid request tag")
	}

	l.sumFreeSize -= size
	return handleFromOffset(req.Offset)
}

func (l *Linear) Free(h Handle) {
	offset := offsetFromHandle(h)
	vec, idx, ok := l.findByOffset(offset)
	if !ok {
		panic(fmt.Sprintf("metadata: linear: Free called with unknown handle at offset %d", offset))
	}
	p := vec.Ptr(idx)
	if !p.used {
		panic("metadata: linear: double free")
	}
	size := p.size
	p.used = false
	p.data = nil
	l.sumFreeSize += size

	if vec == l.first {
		if idx == 0 {
			l.first1stNullBegin++
		} else {
			l.first1stNullMiddle++
		}
	} else {
		l.second2ndNullCount++
	}

	l.cleanup()
}

// cleanup implements spec.md §4.3's cleanup policy: trim contiguous null
// items from vector ends, drop null items from the front of 2nd, compact
// 1st when it is mostly dead, and swap vectors when 1st drains entirely in
// ring-buffer mode.
func (l *Linear) cleanup() {
	if l.GetAllocationCount() == 0 {
		l.first.Clear()
		l.second.Clear()
		l.first1stNullBegin = 0
		l.first1stNullMiddle = 0
		l.second2ndNullCount = 0
		l.mode = modeEmpty
		return
	}

	// Trim trailing nulls from 1st.
	for l.first.Len() > 0 && !l.first.Back().used {
		l.first.PopBack()
		if l.first1stNullMiddle > 0 {
			l.first1stNullMiddle--
		}
	}
	// Trim leading nulls from 1st (front-null bookkeeping).
	for l.first.Len() > 0 && !l.first.Front().used {
		l.first.Remove(0)
		if l.first1stNullBegin > 0 {
			l.first1stNullBegin--
		}
	}

	// Trim both ends of 2nd.
	for l.second.Len() > 0 && !l.second.Back().used {
		l.second.PopBack()
		if l.second2ndNullCount > 0 {
			l.second2ndNullCount--
		}
	}
	for l.second.Len() > 0 && !l.second.Front().used {
		l.second.Remove(0)
		if l.second2ndNullCount > 0 {
			l.second2ndNullCount--
		}
	}

	liveIn1st := l.first.Len() - l.first1stNullMiddle
	if liveIn1st < 0 {
		liveIn1st = 0
	}
	if l.first.Len() > 32 && liveIn1st > 0 && l.first1stNullMiddle*2 > liveIn1st*3 {
		l.compactFirst()
	}

	// 2nd vector drained: whatever mode it was playing is over.
	if l.second.Len() == 0 {
		l.mode = modeEmpty
		l.second2ndNullCount = 0
	}

	// 1st drained while 2nd is still an active ring buffer: the ring
	// buffer's tail becomes the new main run.
	if l.first.Len() == 0 && l.second.Len() > 0 && l.mode == modeRingBuffer {
		l.first, l.second = l.second, l.first
		l.first1stNullBegin = 0
		l.first1stNullMiddle = l.second2ndNullCount
		l.second2ndNullCount = 0
		l.mode = modeEmpty
	}
}

func (l *Linear) compactFirst() {
	kept := pod.NewVector[linearSuballoc](l.first.Len())
	for i := 0; i < l.first.Len(); i++ {
		if l.first.At(i).used {
			kept.PushBack(l.first.At(i))
		}
	}
	l.first = kept
	l.first1stNullBegin = 0
	l.first1stNullMiddle = 0
}

func (l *Linear) Clear() {
	l.first.Clear()
	l.second.Clear()
	l.mode = modeEmpty
	l.first1stNullBegin = 0
	l.first1stNullMiddle = 0
	l.second2ndNullCount = 0
	l.sumFreeSize = l.size
}

func (l *Linear) Validate() bool {
	var sumLive uint64
	prevEnd := uint64(0)
	valid := true
	for i := 0; i < l.first.Len(); i++ {
		s := l.first.At(i)
		if s.offset < prevEnd {
			valid = false
		}
		if s.used {
			sumLive += s.size
		}
		prevEnd = s.offset + s.size
	}
	switch l.mode {
	case modeRingBuffer:
		prev := uint64(0)
		for i := 0; i < l.second.Len(); i++ {
			s := l.second.At(i)
			if s.offset < prev {
				valid = false
			}
			if s.used {
				sumLive += s.size
			}
			prev = s.offset + s.size
		}
	case modeDoubleStack:
		prev := l.size
		for i := 0; i < l.second.Len(); i++ {
			s := l.second.At(i)
			if s.offset+s.size > prev {
				valid = false
			}
			if s.used {
				sumLive += s.size
			}
			prev = s.offset
		}
	}
	if sumLive+l.sumFreeSize != l.size {
		valid = false
	}
	return valid
}

// Unsupported defragmentation enumeration (spec.md §4.3).

func (l *Linear) GetAllocationListBegin() (Handle, bool) {
	panic("metadata: linear: defragmentation enumeration is not supported")
}
func (l *Linear) GetNextAllocation(Handle) (Handle, bool) {
	panic("metadata: linear: defragmentation enumeration is not supported")
}
func (l *Linear) GetNextFreeRegionSize(Handle) uint64 {
	panic("metadata: linear: defragmentation enumeration is not supported")
}
func (l *Linear) SupportsDefrag() bool { return false }

// scanRanges performs the two-phase scan spec.md §4.3 describes for
// statistics and JSON dumping, visiting every live suballocation and
// unused gap in monotonic address order, honoring the current 2nd-vector
// mode.
func (l *Linear) scanRanges(visit func(offset, size uint64, live bool, data any)) {
	type ordered struct {
		offset uint64
		size   uint64
		live   bool
		data   any
	}
	var items []ordered

	switch l.mode {
	case modeRingBuffer:
		for i := 0; i < l.second.Len(); i++ {
			s := l.second.At(i)
			items = append(items, ordered{s.offset, s.size, s.used, s.data})
		}
		for i := 0; i < l.first.Len(); i++ {
			s := l.first.At(i)
			items = append(items, ordered{s.offset, s.size, s.used, s.data})
		}
	case modeDoubleStack:
		for i := 0; i < l.first.Len(); i++ {
			s := l.first.At(i)
			items = append(items, ordered{s.offset, s.size, s.used, s.data})
		}
		for i := l.second.Len() - 1; i >= 0; i-- {
			s := l.second.At(i)
			items = append(items, ordered{s.offset, s.size, s.used, s.data})
		}
	default:
		for i := 0; i < l.first.Len(); i++ {
			s := l.first.At(i)
			items = append(items, ordered{s.offset, s.size, s.used, s.data})
		}
	}

	cursor := uint64(0)
	for _, it := range items {
		if it.offset > cursor {
			visit(cursor, it.offset-cursor, false, nil)
		}
		visit(it.offset, it.size, it.live, it.data)
		cursor = it.offset + it.size
	}
	if cursor < l.size {
		visit(cursor, l.size-cursor, false, nil)
	}
}

func (l *Linear) AddStatistics(stats *Statistics) {
	stats.BlockCount++
	stats.BlockBytes += l.size
	l.scanRanges(func(_, size uint64, live bool, _ any) {
		if live {
			stats.AllocationCount++
			stats.AllocationBytes += size
		}
	})
}

func (l *Linear) AddDetailedStatistics(stats *DetailedStatistics) {
	stats.BlockCount++
	stats.BlockBytes += l.size
	l.scanRanges(func(_, size uint64, live bool, _ any) {
		if live {
			stats.AddAllocation(size)
		} else {
			stats.AddUnusedRange(size)
		}
	})
}

func (l *Linear) WriteAllocationInfoToJson(w *jsonwriter.Writer, lookup func(h Handle) JSONAllocation) {
	var used, unusedBytes uint64
	var allocCount, unusedCount int
	l.scanRanges(func(_, size uint64, live bool, _ any) {
		if live {
			used += size
			allocCount++
		} else {
			unusedBytes += size
			unusedCount++
		}
	})

	w.BeginObject(false)
	w.WriteString("TotalBytes")
	w.WriteNumber(used + unusedBytes)
	w.WriteString("UnusedBytes")
	w.WriteNumber(unusedBytes)
	w.WriteString("Allocations")
	w.WriteNumber(uint64(allocCount))
	w.WriteString("UnusedRanges")
	w.WriteNumber(uint64(unusedCount))
	w.WriteString("Suballocations")
	w.BeginArray(false)
	l.scanRanges(func(offset, size uint64, live bool, _ any) {
		w.BeginObject(true)
		w.WriteString("Offset")
		w.WriteNumber(offset)
		if !live {
			w.WriteString("Type")
			w.WriteString("FREE")
			w.WriteString("Size")
			w.WriteNumber(size)
			w.EndObject()
			return
		}
		info := lookup(handleFromOffset(offset))
		w.WriteString("Type")
		if info.Type == "" {
			w.WriteString("UNKNOWN")
		} else {
			w.WriteString(info.Type)
		}
		w.WriteString("Size")
		w.WriteNumber(size)
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
	})
	w.EndArray()
	w.EndObject()
}

func (l *Linear) DebugLogAllAllocations(log func(offset, size uint64, name string)) {
	l.scanRanges(func(offset, size uint64, live bool, data any) {
		if !live {
			return
		}
		name := ""
		if s, ok := data.(string); ok {
			name = s
		}
		log(offset, size, name)
	})
}

var _ Metadata = (*Linear)(nil)
