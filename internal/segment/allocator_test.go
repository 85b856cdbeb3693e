package segment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateFromMainPage(t *testing.T) {
	a := New[int]()
	a.Init(100)

	h := a.Allocate(10)
	assert.Equal(t, uint32(0), h.Page)
	assert.Equal(t, uint32(10), h.Len)
	assert.Len(t, a.Slice(h), 10)

	h2 := a.Allocate(20)
	assert.Equal(t, uint32(0), h2.Page)
	assert.Equal(t, uint32(10), h2.Begin, "segments carve the main page front to back")

	assert.Nil(t, a.Slice(Handle{}))
	assert.True(t, a.Allocate(0).IsEmpty())
}

func TestAllocateSpillsToSidePage(t *testing.T) {
	a := New[int]()
	a.Init(16)

	// Exhaust the main page, then overflow.
	h1 := a.Allocate(16)
	require.Equal(t, uint32(0), h1.Page)

	h2 := a.Allocate(8)
	assert.NotEqual(t, uint32(0), h2.Page)
	assert.Len(t, a.Slice(h2), 8)
}

func TestDeallocateCoalesces(t *testing.T) {
	a := New[int]()
	a.Init(100)

	h1 := a.Allocate(10)
	h2 := a.Allocate(10)
	h3 := a.Allocate(10)

	a.Deallocate(h1)
	a.Deallocate(h3) // h3 coalesces with the trailing free space
	a.Deallocate(h2) // h2 bridges h1's hole and the tail: one free segment again

	require.Len(t, a.freeMain, 1)
	assert.Equal(t, uint32(0), a.freeMain[0].begin)
	assert.Equal(t, uint32(100+MinSegmentSize), a.freeMain[0].capacity)
}

func TestSidePageRecycling(t *testing.T) {
	a := New[int]()
	a.Init(4)

	main := a.Allocate(4)
	side1 := a.Allocate(6)
	side2 := a.Allocate(6)
	require.NotEqual(t, side1.Page, side2.Page)

	a.Deallocate(side1)
	side3 := a.Allocate(3)
	assert.Equal(t, side1.Page, side3.Page, "freed page slot is reused")

	a.Deallocate(side2)
	a.Deallocate(side3)
	a.Deallocate(main)
}

func TestGrowInPlace(t *testing.T) {
	a := New[int]()
	a.Init(100)

	h := a.Allocate(10)
	s := a.Slice(h)
	for i := range s {
		s[i] = i
	}

	grown := a.Grow(h, 5)
	assert.Equal(t, h.Begin, grown.Begin, "free space follows, no relocation")
	assert.Equal(t, uint32(15), grown.Len)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, a.Slice(grown)[:10])
}

func TestGrowRelocates(t *testing.T) {
	a := New[int]()
	a.Init(64)

	h1 := a.Allocate(10)
	blocker := a.Allocate(10)

	s := a.Slice(h1)
	for i := range s {
		s[i] = 100 + i
	}

	grown := a.Grow(h1, 30)
	assert.Equal(t, uint32(30+10), grown.Len)
	assert.Equal(t, 100, a.Slice(grown)[0])
	assert.Equal(t, 109, a.Slice(grown)[9])

	_ = blocker
}

func TestGrowSidePage(t *testing.T) {
	a := New[int]()
	a.Init(4)

	_ = a.Allocate(4)
	side := a.Allocate(6)
	require.NotEqual(t, uint32(0), side.Page)

	a.Slice(side)[5] = 42
	grown := a.Grow(side, 4)
	assert.Equal(t, side.Page, grown.Page)
	assert.Equal(t, uint32(10), grown.Len)
	assert.Equal(t, 42, a.Slice(grown)[5])
}

func TestGrowEmptyAllocates(t *testing.T) {
	a := New[int]()
	a.Init(32)

	h := a.Grow(Handle{}, 7)
	assert.Equal(t, uint32(7), h.Len)
}

func TestShrink(t *testing.T) {
	a := New[int]()
	a.Init(100)

	h := a.Allocate(20)
	shrunk := a.Shrink(h, 5)
	assert.Equal(t, uint32(15), shrunk.Len)
	assert.Equal(t, h.Begin, shrunk.Begin)

	// The released tail is allocatable again.
	free := 0
	for _, fs := range a.freeMain {
		free += int(fs.capacity)
	}
	assert.Equal(t, 100+MinSegmentSize-15, free)
}

func TestDebugFill(t *testing.T) {
	a := New[int]()
	a.Init(32)
	a.SetDebugFill(-1)

	h := a.Allocate(8)
	s := a.Slice(h)
	for i := range s {
		s[i] = i + 1
	}

	page := a.pages[0][h.Begin : h.Begin+h.Len]
	a.Deallocate(h)
	for _, v := range page {
		assert.Equal(t, -1, v)
	}
}

func TestClone(t *testing.T) {
	a := New[int]()
	a.Init(16)

	h1 := a.Allocate(4)
	copy(a.Slice(h1), []int{1, 2, 3, 4})
	h2 := a.Allocate(20) // side page
	copy(a.Slice(h2)[:3], []int{7, 8, 9})
	h3 := Handle{}

	dst := New[int]()
	a.Clone(dst, []*Handle{&h1, &h2, &h3})

	assert.Equal(t, uint32(0), h1.Page)
	assert.Equal(t, uint32(0), h2.Page)
	assert.Equal(t, []int{1, 2, 3, 4}, dst.Slice(h1))
	assert.Equal(t, []int{7, 8, 9}, dst.Slice(h2)[:3])
	assert.True(t, h3.IsEmpty())

	// Post-clone allocations go to side pages: the main page is fully used.
	extra := dst.Allocate(5)
	assert.NotEqual(t, uint32(0), extra.Page)
}
