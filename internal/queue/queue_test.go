package queue

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMinHeapOrdering(t *testing.T) {
	pq := NewMin(8)
	rng := rand.New(rand.NewSource(7))

	want := make([]float64, 50)
	for i := range want {
		want[i] = rng.Float64()
		pq.Push(Item{ID: i, Distance: want[i]})
	}
	sort.Float64s(want)

	for _, w := range want {
		item, ok := pq.Pop()
		require.True(t, ok)
		assert.Equal(t, w, item.Distance)
	}

	_, ok := pq.Pop()
	assert.False(t, ok)
}

func TestMaxHeapBounded(t *testing.T) {
	const k = 3
	pq := NewMax(k)

	for i, d := range []float64{5, 1, 4, 2, 8, 3} {
		item := Item{ID: i, Distance: d}
		if pq.Len() < k {
			pq.Push(item)
			continue
		}
		if top, _ := pq.Top(); d < top.Distance {
			pq.ReplaceTop(item)
		}
	}

	require.Equal(t, k, pq.Len())
	distances := make([]float64, 0, k)
	for pq.Len() > 0 {
		item, _ := pq.Pop()
		distances = append(distances, item.Distance)
	}
	assert.Equal(t, []float64{3, 2, 1}, distances)
}

func TestTopAndReset(t *testing.T) {
	pq := NewMin(2)
	_, ok := pq.Top()
	assert.False(t, ok)

	pq.Push(Item{ID: 1, Distance: 2})
	pq.Push(Item{ID: 2, Distance: 1})
	top, ok := pq.Top()
	require.True(t, ok)
	assert.Equal(t, 2, top.ID)

	pq.Reset()
	assert.Zero(t, pq.Len())
}
