// Package segment provides the paged, growable, relocating allocator that
// backs per-node entity-id spans. One large main page carries the bulk-built
// runs; incremental edits spill into recycled side pages.
//
// Segment identity (page and span) may change on any Grow or Shrink call, so
// holders must keep the returned handle and never cache derived slices
// across mutations.
package segment

import "sort"

const (
	// MinSegmentSize is the smallest remainder the allocator leaves behind
	// when carving a main-page free segment.
	MinSegmentSize = 4

	// DefaultPageSize sizes the main page when no capacity hint is given.
	DefaultPageSize = 1024

	mainPageID = 0
)

// Handle identifies one allocated span: the page it lives on and its
// position there. The zero Handle is the empty segment.
type Handle struct {
	Page  uint32
	Begin uint32
	Len   uint32
}

// IsEmpty reports whether the handle refers to no storage.
func (h Handle) IsEmpty() bool { return h.Len == 0 }

// indexedSegment is one free span of the main page.
type indexedSegment struct {
	begin    uint32
	capacity uint32
}

// Allocator is a vector-of-vectors pool for values of type T.
//
// The free list of the main page is kept ordered by ascending capacity;
// mutations bubble the changed entry to its new position. All operations
// assume non-negative sizes; allocation failures surface as runtime panics
// of the underlying append, there is no recovery path.
type Allocator[T any] struct {
	pages      [][]T
	freeMain   []indexedSegment
	freedPages []uint32

	// fillFreed overwrites released main-page memory with fillValue, a debug
	// aid to surface stale-handle reads in tests.
	fillFreed bool
	fillValue T
}

// New returns an uninitialized allocator; call Init before use.
func New[T any]() *Allocator[T] {
	return &Allocator[T]{}
}

// Init reserves the main page. The whole page starts as one free segment.
func (a *Allocator[T]) Init(capacity int) {
	if capacity <= 0 {
		capacity = DefaultPageSize
	}

	a.pages = make([][]T, 1, 8)
	a.pages[mainPageID] = make([]T, capacity+MinSegmentSize)
	a.freeMain = make([]indexedSegment, 1, 8)
	a.freeMain[0] = indexedSegment{begin: 0, capacity: uint32(len(a.pages[mainPageID]))}
	a.freedPages = a.freedPages[:0]
}

// Reset drops all pages and bookkeeping.
func (a *Allocator[T]) Reset() {
	a.pages = nil
	a.freeMain = nil
	a.freedPages = nil
}

// SetDebugFill makes Deallocate overwrite released main-page memory.
func (a *Allocator[T]) SetDebugFill(value T) {
	a.fillFreed = true
	a.fillValue = value
}

// Slice materializes the span behind a handle. The slice is invalidated by
// any subsequent Grow or Shrink on any handle.
func (a *Allocator[T]) Slice(h Handle) []T {
	if h.IsEmpty() {
		return nil
	}
	return a.pages[h.Page][h.Begin : h.Begin+h.Len : h.Begin+h.Len]
}

// Allocate reserves a span of n values. Main-page free segments are
// preferred; when none is large enough a side page of exactly n is used,
// recycling freed page slots first.
func (a *Allocator[T]) Allocate(n int) Handle {
	if n <= 0 {
		return Handle{}
	}

	size := uint32(n)
	if i, ok := a.freeSegmentByCapacity(size); ok {
		h := Handle{Page: mainPageID, Begin: a.freeMain[i].begin, Len: size}
		a.updateFreeSegment(i, a.freeMain[i].begin+size, a.freeMain[i].capacity-size)
		return h
	}

	var pageID uint32
	if len(a.freedPages) > 0 {
		pageID = a.freedPages[len(a.freedPages)-1]
		a.freedPages = a.freedPages[:len(a.freedPages)-1]
		a.pages[pageID] = make([]T, n)
	} else {
		pageID = uint32(len(a.pages))
		a.pages = append(a.pages, make([]T, n))
	}

	return Handle{Page: pageID, Begin: 0, Len: size}
}

// Deallocate releases a span. Main-page spans coalesce with adjacent free
// segments; side pages are truncated away when last, otherwise marked freed.
func (a *Allocator[T]) Deallocate(h Handle) {
	if h.IsEmpty() {
		return
	}

	if h.Page != mainPageID {
		if int(h.Page) == len(a.pages)-1 {
			a.pages = a.pages[:len(a.pages)-1]
		} else {
			a.pages[h.Page] = nil
			a.freedPages = append(a.freedPages, h.Page)
		}
		return
	}

	if a.fillFreed {
		span := a.pages[mainPageID][h.Begin : h.Begin+h.Len]
		for i := range span {
			span[i] = a.fillValue
		}
	}

	nextIdx, hasNext := a.findFreeSegment(func(fs indexedSegment) bool { return fs.begin == h.Begin+h.Len })
	prevIdx, hasPrev := a.findFreeSegment(func(fs indexedSegment) bool { return fs.begin+fs.capacity == h.Begin })

	switch {
	case hasPrev && hasNext:
		begin := a.freeMain[prevIdx].begin
		capacity := a.freeMain[prevIdx].capacity + h.Len + a.freeMain[nextIdx].capacity
		// Erase one entry first; removing it shifts later indexes down.
		if prevIdx < nextIdx {
			a.updateFreeSegment(nextIdx, 0, 0)
			a.updateFreeSegment(prevIdx, begin, capacity)
		} else {
			a.updateFreeSegment(prevIdx, 0, 0)
			a.updateFreeSegment(nextIdx, begin, capacity)
		}
	case hasPrev:
		a.updateFreeSegment(prevIdx, a.freeMain[prevIdx].begin, a.freeMain[prevIdx].capacity+h.Len)
	case hasNext:
		a.updateFreeSegment(nextIdx, h.Begin, a.freeMain[nextIdx].capacity+h.Len)
	default:
		a.insertFreeSegment(indexedSegment{begin: h.Begin, capacity: h.Len})
	}
}

// Grow extends a span by delta values and returns its (possibly relocated)
// handle. Side pages grow in place. Main-page spans extend into an
// immediately following free segment when it is large enough, otherwise the
// content relocates to a fresh span and the old one is released.
func (a *Allocator[T]) Grow(h Handle, delta int) Handle {
	if delta <= 0 {
		return h
	}
	if h.IsEmpty() {
		return a.Allocate(delta)
	}

	if h.Page != mainPageID {
		page := a.pages[h.Page]
		a.pages[h.Page] = append(page, make([]T, delta)...)
		h.Len += uint32(delta)
		return h
	}

	size := uint32(delta)
	i, ok := a.findFreeSegment(func(fs indexedSegment) bool { return fs.begin == h.Begin+h.Len })
	if ok && a.freeMain[i].capacity >= size {
		a.updateFreeSegment(i, a.freeMain[i].begin+size, a.freeMain[i].capacity-size)
		h.Len += size
		return h
	}

	fresh := a.Allocate(int(h.Len) + delta)
	copy(a.Slice(fresh), a.Slice(h))
	a.Deallocate(h)
	return fresh
}

// Shrink releases the tail of a span and returns the shortened handle.
func (a *Allocator[T]) Shrink(h Handle, delta int) Handle {
	if delta <= 0 || h.IsEmpty() {
		return h
	}

	size := uint32(delta)
	if h.Page == mainPageID {
		a.Deallocate(Handle{Page: mainPageID, Begin: h.Begin + h.Len - size, Len: size})
	} else {
		page := a.pages[h.Page]
		a.pages[h.Page] = page[:len(page)-delta]
	}

	h.Len -= size
	return h
}

// Clone deep-copies the listed segments into a single fresh main page of the
// destination allocator, updating every handle in place. The destination
// starts with no free main space; later edits go to side pages.
func (a *Allocator[T]) Clone(dst *Allocator[T], handles []*Handle) {
	total := 0
	for _, h := range handles {
		total += int(h.Len)
	}

	dst.pages = make([][]T, 1, 8)
	dst.pages[mainPageID] = make([]T, total)
	dst.freeMain = nil
	dst.freedPages = nil

	offset := uint32(0)
	for _, h := range handles {
		if h.IsEmpty() {
			*h = Handle{}
			continue
		}
		copy(dst.pages[mainPageID][offset:offset+h.Len], a.Slice(*h))
		*h = Handle{Page: mainPageID, Begin: offset, Len: h.Len}
		offset += h.Len
	}
}

// freeSegmentByCapacity finds the first free segment able to serve a span of
// the given size and still keep a usable remainder, by partition point on
// the capacity-ordered list.
func (a *Allocator[T]) freeSegmentByCapacity(size uint32) (int, bool) {
	if len(a.freeMain) == 0 || a.freeMain[len(a.freeMain)-1].capacity < size+MinSegmentSize {
		return 0, false
	}

	required := size + MinSegmentSize
	i := sort.Search(len(a.freeMain), func(i int) bool {
		return a.freeMain[i].capacity >= required
	})
	return i, i < len(a.freeMain)
}

func (a *Allocator[T]) findFreeSegment(match func(indexedSegment) bool) (int, bool) {
	for i, fs := range a.freeMain {
		if match(fs) {
			return i, true
		}
	}
	return 0, false
}

// updateFreeSegment rewrites one free-list entry and bubbles it to its new
// capacity-ordered position; a zero capacity erases the entry.
func (a *Allocator[T]) updateFreeSegment(i int, begin, capacity uint32) {
	if capacity == 0 {
		a.freeMain = append(a.freeMain[:i], a.freeMain[i+1:]...)
		return
	}

	for i > 0 && a.freeMain[i-1].capacity > capacity {
		a.freeMain[i] = a.freeMain[i-1]
		i--
	}
	for i < len(a.freeMain)-1 && a.freeMain[i+1].capacity < capacity {
		a.freeMain[i] = a.freeMain[i+1]
		i++
	}

	a.freeMain[i] = indexedSegment{begin: begin, capacity: capacity}
}

func (a *Allocator[T]) insertFreeSegment(fs indexedSegment) {
	i := sort.Search(len(a.freeMain), func(i int) bool {
		return a.freeMain[i].capacity >= fs.capacity
	})
	a.freeMain = append(a.freeMain, indexedSegment{})
	copy(a.freeMain[i+1:], a.freeMain[i:])
	a.freeMain[i] = fs
}
