package mortree

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDoesBoxContainPoint(t *testing.T) {
	box := NewBox(Point{0, 0}, Point{1, 1})

	tests := []struct {
		name      string
		point     Point
		tolerance float64
		want      bool
	}{
		{name: "inside", point: Point{0.5, 0.5}, want: true},
		{name: "boundary counts without tolerance", point: Point{1, 1}, want: true},
		{name: "outside", point: Point{1.1, 0.5}, want: false},
		{name: "tolerance expands", point: Point{1.05, 0.5}, tolerance: 0.1, want: true},
		{name: "expanded boundary is exclusive", point: Point{1.1, 0.5}, tolerance: 0.1, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DoesBoxContainPoint(box, tt.point, tt.tolerance))
		})
	}
}

func TestBoxOverlap(t *testing.T) {
	a := NewBox(Point{0, 0}, Point{1, 1})

	t.Run("strict excludes touch", func(t *testing.T) {
		touching := NewBox(Point{1, 0}, Point{2, 1})
		assert.False(t, AreBoxesOverlappedStrict(a, touching))
		assert.True(t, AreBoxesOverlapped(a, touching, false, true))
		assert.False(t, AreBoxesOverlapped(a, touching, false, false))
	})

	t.Run("positive overlap", func(t *testing.T) {
		b := NewBox(Point{0.5, 0.5}, Point{1.5, 1.5})
		assert.True(t, AreBoxesOverlappedStrict(a, b))
	})

	t.Run("separated", func(t *testing.T) {
		b := NewBox(Point{2, 2}, Point{3, 3})
		assert.False(t, AreBoxesOverlappedStrict(a, b))
	})

	t.Run("must contain", func(t *testing.T) {
		inner := NewBox(Point{0.2, 0.2}, Point{0.8, 0.8})
		assert.True(t, AreBoxesOverlapped(a, inner, true, false))
		assert.False(t, AreBoxesOverlapped(inner, a, true, false))
	})
}

func TestGetPointPlaneRelation(t *testing.T) {
	normal := Point{1, 0, 0}

	assert.Equal(t, PlaneNegative, GetPointPlaneRelation(Point{0, 0, 0}, 0.5, normal, 0))
	assert.Equal(t, PlanePositive, GetPointPlaneRelation(Point{1, 0, 0}, 0.5, normal, 0))
	assert.Equal(t, PlaneHit, GetPointPlaneRelation(Point{0.5, 0, 0}, 0.5, normal, 0))
	assert.Equal(t, PlaneHit, GetPointPlaneRelation(Point{0.4, 0, 0}, 0.5, normal, 0.2))
}

func TestCellPlaneRelation(t *testing.T) {
	center := Point{0.5, 0.5}
	half := Point{0.5, 0.5}
	normal := Point{1, 0}

	assert.Equal(t, PlaneHit, cellPlaneRelation(center, half, 0.5, normal, 0))
	assert.Equal(t, PlaneNegative, cellPlaneRelation(center, half, 1.5, normal, 0))
	assert.Equal(t, PlanePositive, cellPlaneRelation(center, half, -0.5, normal, 0))
}

func TestWallDistance(t *testing.T) {
	center := Point{0.5, 0.5}
	half := Point{0.5, 0.5}

	t.Run("inside with zero", func(t *testing.T) {
		assert.Zero(t, wallDistance(Point{0.4, 0.4}, center, half, true))
	})

	t.Run("inside distance to nearest wall", func(t *testing.T) {
		assert.InDelta(t, 0.1, wallDistance(Point{0.9, 0.5}, center, half, false), 1e-12)
	})

	t.Run("outside along one axis", func(t *testing.T) {
		assert.InDelta(t, 0.5, wallDistance(Point{1.5, 0.5}, center, half, true), 1e-12)
	})

	t.Run("outside along the diagonal", func(t *testing.T) {
		assert.InDelta(t, math.Sqrt2, wallDistance(Point{2, 2}, center, half, true), 1e-12)
	})
}

func TestBoxesOverlapByCenter(t *testing.T) {
	size := Point{1, 1}

	assert.True(t, boxesOverlapByCenter(Point{0, 0}, Point{0.5, 0.5}, size, size))
	assert.False(t, boxesOverlapByCenter(Point{0, 0}, Point{1, 0}, size, size), "exact touch is not overlap")
	assert.False(t, boxesOverlapByCenter(Point{0, 0}, Point{3, 0}, size, size))
}

func TestBoxHelpers(t *testing.T) {
	box := NewBox(Point{1, 2}, Point{3, 6})

	assert.Equal(t, Point{2, 4}, BoxCenter(box))
	assert.Equal(t, Point{2, 4}, BoxSize(box))
	assert.Equal(t, Point{1, 2}, boxHalfSize(box))
	assert.Equal(t, 8.0, boxVolume(box))

	assert.True(t, doesRangeContainBox(NewBox(Point{0, 0}, Point{4, 8}), box))
	assert.False(t, doesRangeContainBox(box, NewBox(Point{0, 0}, Point{4, 8})))
}

func TestBoxOfGeometry(t *testing.T) {
	points := []Point{{1, 5}, {-2, 3}, {4, 0}}
	got := boxOfPoints(2, points)
	assert.Equal(t, Point{-2, 0}, got.Min)
	assert.Equal(t, Point{4, 5}, got.Max)

	boxes := []Box{
		NewBox(Point{0, 0}, Point{1, 1}),
		NewBox(Point{-1, 2}, Point{0.5, 3}),
	}
	got = boxOfBoxes(2, boxes)
	assert.Equal(t, Point{-1, 0}, got.Min)
	assert.Equal(t, Point{1, 3}, got.Max)
}

func TestIsNormalizedVector(t *testing.T) {
	assert.True(t, IsNormalizedVector(Point{1, 0, 0}))
	assert.True(t, IsNormalizedVector(Point{math.Sqrt2 / 2, math.Sqrt2 / 2}))
	assert.False(t, IsNormalizedVector(Point{1, 1}))
}

func TestDistanceHelpers(t *testing.T) {
	assert.Equal(t, 5.0, Distance(Point{0, 0}, Point{3, 4}))
	assert.Equal(t, 25.0, Distance2(Point{0, 0}, Point{3, 4}))
	assert.True(t, ArePointsEqual(Point{0, 0}, Point{0.001, 0}, 0.01))
	assert.False(t, ArePointsEqual(Point{0, 0}, Point{0.1, 0}, 0.01))
	assert.Equal(t, 11.0, Dot(Point{1, 2}, Point{3, 4}))
}
