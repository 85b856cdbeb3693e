package grid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func unitSquare(maxDepth int) Indexing {
	return New(2, maxDepth, []float64{0, 0}, []float64{1, 1})
}

func TestPointGridID(t *testing.T) {
	g := unitSquare(2) // resolution 4

	tests := []struct {
		name  string
		point []float64
		want  []GridID
	}{
		{name: "origin", point: []float64{0, 0}, want: []GridID{0, 0}},
		{name: "interior", point: []float64{0.3, 0.6}, want: []GridID{1, 2}},
		{name: "max corner clamps", point: []float64{1, 1}, want: []GridID{3, 3}},
		{name: "negative clamps", point: []float64{-0.5, 0.1}, want: []GridID{0, 0}},
		{name: "beyond max clamps", point: []float64{2, 0}, want: []GridID{3, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, g.PointGridID(tt.point))
		})
	}
}

func TestBoxGridIDRange(t *testing.T) {
	g := unitSquare(2)

	t.Run("interior box", func(t *testing.T) {
		lo, hi := g.BoxGridIDRange([]float64{0.1, 0.1}, []float64{0.4, 0.4})
		assert.Equal(t, []GridID{0, 0}, lo)
		assert.Equal(t, []GridID{1, 1}, hi)
	})

	t.Run("max on grid line stays in lower cell", func(t *testing.T) {
		lo, hi := g.BoxGridIDRange([]float64{0.1, 0.1}, []float64{0.5, 0.5})
		assert.Equal(t, []GridID{0, 0}, lo)
		assert.Equal(t, []GridID{1, 1}, hi)
	})

	t.Run("whole space", func(t *testing.T) {
		lo, hi := g.BoxGridIDRange([]float64{0, 0}, []float64{1, 1})
		assert.Equal(t, []GridID{0, 0}, lo)
		assert.Equal(t, []GridID{3, 3}, hi)
	})

	t.Run("degenerate box on grid line keeps its cell", func(t *testing.T) {
		lo, hi := g.BoxGridIDRange([]float64{0.5, 0.5}, []float64{0.5, 0.5})
		assert.Equal(t, []GridID{2, 2}, lo)
		assert.Equal(t, []GridID{2, 2}, hi)
	})
}

func TestEdgePointGridIDs(t *testing.T) {
	g := unitSquare(2)

	t.Run("interior point", func(t *testing.T) {
		lo, hi := g.EdgePointGridIDs([]float64{0.3, 0.3})
		assert.Equal(t, hi, lo)
	})

	t.Run("grid line steps back", func(t *testing.T) {
		lo, hi := g.EdgePointGridIDs([]float64{0.5, 0.3})
		assert.Equal(t, []GridID{1, 1}, lo)
		assert.Equal(t, []GridID{2, 1}, hi)
	})

	t.Run("space min does not step back", func(t *testing.T) {
		lo, hi := g.EdgePointGridIDs([]float64{0, 0})
		assert.Equal(t, []GridID{0, 0}, lo)
		assert.Equal(t, []GridID{0, 0}, hi)
	})
}

func TestCellCenter(t *testing.T) {
	g := unitSquare(2)

	assert.InDeltaSlice(t, []float64{0.125, 0.125}, g.CellCenter([]GridID{0, 0}, 0), 1e-12)
	assert.InDeltaSlice(t, []float64{0.25, 0.25}, g.CellCenter([]GridID{0, 0}, 1), 1e-12)
	assert.InDeltaSlice(t, []float64{0.5, 0.5}, g.CellCenter([]GridID{0, 0}, 2), 1e-12)
	assert.InDeltaSlice(t, []float64{0.625, 0.375}, g.CellCenter([]GridID{2, 1}, 0), 1e-12)
}

func TestContains(t *testing.T) {
	g := unitSquare(3)

	assert.True(t, g.ContainsPoint([]float64{0.5, 0.5}))
	assert.True(t, g.ContainsPoint([]float64{0, 1}))
	assert.False(t, g.ContainsPoint([]float64{1.01, 0.5}))

	assert.True(t, g.ContainsBox([]float64{0, 0}, []float64{1, 1}))
	assert.False(t, g.ContainsBox([]float64{-0.1, 0}, []float64{0.5, 0.5}))
}

func TestFlatDimension(t *testing.T) {
	g := New(2, 2, []float64{0, 0}, []float64{1, 0})

	assert.Equal(t, []GridID{2, 0}, g.PointGridID([]float64{0.6, 0}))
	assert.Zero(t, g.Volume())
}
