package core

import (
	"container/heap"
	"sort"
)

// Fragment is one chunk file discovered by Watch, identified by its
// sequence number within a backup and the filesystem path it currently
// lives at. Fragments arrive out of order (readdir and inotify give no
// ordering guarantee) and are reassembled by FragmentQueue/IntervalSet.
type Fragment struct {
	Num  int64
	Path string
}

// fragmentHeap is a container/heap min-heap ordered by Fragment.Num. Go's
// heap has no built-in max/min bias (unlike Rust's BinaryHeap, which is a
// max-heap requiring Reverse to get min-first semantics) so no wrapper
// type is needed here: Less simply compares Num ascending.
type fragmentHeap []Fragment

func (h fragmentHeap) Len() int            { return len(h) }
func (h fragmentHeap) Less(i, j int) bool  { return h[i].Num < h[j].Num }
func (h fragmentHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *fragmentHeap) Push(x interface{}) { *h = append(*h, x.(Fragment)) }
func (h *fragmentHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// FragmentQueue buffers Fragments as they are discovered and releases
// them to the consumer (Cat, via its Paths channel) strictly in Num
// order, holding back any fragment whose predecessor has not yet
// arrived. This lets a producer walk a directory or receive inotify
// events in arbitrary order while the consumer still sees a contiguous
// stream.
type FragmentQueue struct {
	heap    fragmentHeap
	next    int64
	started bool
}

// NewFragmentQueue constructs an empty queue. The first fragment released
// is whichever has the lowest Num seen; set Start to pin expectations to
// a specific starting number (1 in the freeze and restore orchestrators).
func NewFragmentQueue() *FragmentQueue {
	fq := &FragmentQueue{heap: fragmentHeap{}}
	heap.Init(&fq.heap)
	return fq
}

// Start pins the Num of the next fragment FragmentQueue expects to
// release, for queues that are known to start at something other than
// whatever arrives first (1 for a backup's data chunks; the chunk.0
// sentinel is handled by the caller, outside the queue).
func (fq *FragmentQueue) Start(n int64) {
	fq.next = n
	fq.started = true
}

// Push adds a newly discovered fragment to the queue. If Start was never
// called, the first Push pins the expected start to that fragment's Num.
func (fq *FragmentQueue) Push(f Fragment) {
	if !fq.started {
		fq.next = f.Num
		fq.started = true
	}
	heap.Push(&fq.heap, f)
}

// Ready reports whether the next fragment in sequence is available
// without removing it.
func (fq *FragmentQueue) Ready() bool {
	return len(fq.heap) > 0 && fq.heap[0].Num == fq.next
}

// Pop removes and returns the next fragment in sequence if it is ready,
// advancing the expected Num. Returns ok=false if the next fragment
// hasn't arrived yet (a gap) or the queue is empty.
func (fq *FragmentQueue) Pop() (Fragment, bool) {
	if !fq.Ready() {
		return Fragment{}, false
	}
	f := heap.Pop(&fq.heap).(Fragment)
	fq.next++
	return f, true
}

// Pending returns the number of fragments buffered but not yet released,
// for diagnostics.
func (fq *FragmentQueue) Pending() int {
	return len(fq.heap)
}

// Interval is an inclusive-exclusive range [Start, End) of contiguous
// fragment numbers known to be present.
type Interval struct {
	Start int64
	End   int64
}

// Len returns the number of fragment numbers this interval covers.
func (iv Interval) Len() int64 {
	return iv.End - iv.Start
}

// IntervalSet tracks which fragment numbers of a backup have been
// observed (e.g. already uploaded, or already downloaded and restored),
// merging adjacent/overlapping ranges as they are added. This answers
// "is the backup complete" (a single interval [0, total)) without
// needing to enumerate every fragment, and supports resuming a partially
// completed freeze/thaw after a crash by diffing against what the spool
// directory already contains.
type IntervalSet struct {
	intervals []Interval
}

// NewIntervalSet constructs an empty IntervalSet.
func NewIntervalSet() *IntervalSet {
	return &IntervalSet{}
}

// Add records that fragment numbers [start, end) are present, merging
// with any overlapping or adjacent intervals already tracked.
func (s *IntervalSet) Add(start, end int64) {
	if end <= start {
		return
	}

	merged := Interval{Start: start, End: end}
	out := make([]Interval, 0, len(s.intervals)+1)

	for _, iv := range s.intervals {
		if iv.End < merged.Start || iv.Start > merged.End {
			out = append(out, iv)
			continue
		}
		if iv.Start < merged.Start {
			merged.Start = iv.Start
		}
		if iv.End > merged.End {
			merged.End = iv.End
		}
	}
	out = append(out, merged)

	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	s.intervals = out
}

// AddOne is a convenience for Add(n, n+1).
func (s *IntervalSet) AddOne(n int64) {
	s.Add(n, n+1)
}

// Contains reports whether fragment number n has been recorded.
func (s *IntervalSet) Contains(n int64) bool {
	for _, iv := range s.intervals {
		if n >= iv.Start && n < iv.End {
			return true
		}
	}
	return false
}

// Complete reports whether [0, total) is fully covered by a single
// interval, i.e. every fragment of a backup of `total` chunks is present.
func (s *IntervalSet) Complete(total int64) bool {
	if total <= 0 {
		return len(s.intervals) == 0
	}
	if len(s.intervals) != 1 {
		return false
	}
	return s.intervals[0].Start == 0 && s.intervals[0].End == total
}

// Gaps returns the missing fragment-number ranges below total, in order,
// given what has been recorded so far. Used to resume an interrupted
// freeze/thaw by re-requesting only what's missing.
func (s *IntervalSet) Gaps(total int64) []Interval {
	var gaps []Interval
	cursor := int64(0)
	for _, iv := range s.intervals {
		if iv.Start > cursor {
			gaps = append(gaps, Interval{Start: cursor, End: iv.Start})
		}
		if iv.End > cursor {
			cursor = iv.End
		}
	}
	if cursor < total {
		gaps = append(gaps, Interval{Start: cursor, End: total})
	}
	return gaps
}

// Intervals returns a copy of the currently tracked intervals, in order.
func (s *IntervalSet) Intervals() []Interval {
	out := make([]Interval, len(s.intervals))
	copy(out, s.intervals)
	return out
}
