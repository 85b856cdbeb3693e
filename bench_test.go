package mortree

import (
	"math/rand"
	"testing"
)

func benchmarkPoints(n int) []Point {
	rng := rand.New(rand.NewSource(1))
	points := make([]Point, n)
	for i := range points {
		points[i] = Point{rng.Float64() * 100, rng.Float64() * 100, rng.Float64() * 100}
	}
	return points
}

func BenchmarkPointTreeBuild(b *testing.B) {
	points := benchmarkPoints(100000)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = NewPointTree(3, points)
	}
}

func BenchmarkPointTreeBuildParallel(b *testing.B) {
	points := benchmarkPoints(100000)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = NewPointTree(3, points, WithParallel())
	}
}

func BenchmarkPointTreeRangeSearch(b *testing.B) {
	points := benchmarkPoints(100000)
	tree, err := NewPointTree(3, points)
	if err != nil {
		b.Fatal(err)
	}
	rangeBox := NewBox(Point{20, 20, 20}, Point{30, 30, 30})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = tree.RangeSearch(rangeBox, points)
	}
}

func BenchmarkPointTreeNearestNeighbors(b *testing.B) {
	points := benchmarkPoints(100000)
	tree, err := NewPointTree(3, points)
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = tree.NearestNeighbors(Point{50, 50, 50}, 10, points)
	}
}

func BenchmarkBoxTreeCollisionDetection(b *testing.B) {
	rng := rand.New(rand.NewSource(2))
	boxes := randomBoxes(rng, 10000, 100)
	tree, err := NewBoxTree(2, boxes)
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = tree.CollisionDetection(boxes)
	}
}
