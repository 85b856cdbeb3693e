package psort

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSliceMatchesSequentialSort(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	for _, n := range []int{0, 1, 2, 100, minParallelLen - 1, minParallelLen, 3*minParallelLen + 17} {
		got := make([]int, n)
		for i := range got {
			got[i] = rng.Intn(1000)
		}
		want := append([]int{}, got...)

		Slice(got, func(a, b int) bool { return a < b })
		sort.Ints(want)

		assert.Equal(t, want, got, "n=%d", n)
	}
}

func TestSliceByStructField(t *testing.T) {
	type pair struct {
		key   uint64
		value int
	}

	rng := rand.New(rand.NewSource(2))
	s := make([]pair, 2*minParallelLen)
	for i := range s {
		s[i] = pair{key: rng.Uint64() % 512, value: i}
	}

	Slice(s, func(a, b pair) bool { return a.key < b.key })

	assert.True(t, sort.SliceIsSorted(s, func(i, j int) bool { return s[i].key < s[j].key }))
}
