package mortree

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyOptionsDefaults(t *testing.T) {
	o := applyOptions(nil)

	assert.Equal(t, DefaultMaxElementsPerNode, o.maxElementsPerNode)
	assert.True(t, o.splitEntities)
	assert.True(t, o.cacheCenters)
	assert.False(t, o.parallel)
	assert.Zero(t, o.maxDepth)
	assert.Nil(t, o.boundingBox)
	assert.NotNil(t, o.logger)
	assert.NotNil(t, o.metrics)
}

func TestApplyOptionsOverrides(t *testing.T) {
	box := NewBox(Point{0, 0}, Point{1, 1})
	mc := &BasicMetricsCollector{}

	o := applyOptions([]Option{
		WithMaxDepth(5),
		WithBoundingBox(box),
		WithMaxElementsPerNode(7),
		WithParallel(),
		WithoutSplitEntities(),
		WithoutNodeCenters(),
		WithLogLevel(slog.LevelDebug),
		WithMetricsCollector(mc),
		nil, // tolerated
	})

	assert.Equal(t, 5, o.maxDepth)
	assert.Equal(t, box, *o.boundingBox)
	assert.Equal(t, 7, o.maxElementsPerNode)
	assert.True(t, o.parallel)
	assert.False(t, o.splitEntities)
	assert.False(t, o.cacheCenters)
	assert.Same(t, mc, o.metrics.(*BasicMetricsCollector))
}

func TestApplyOptionsNilGuards(t *testing.T) {
	o := applyOptions([]Option{WithLogger(nil), WithMetricsCollector(nil)})
	assert.NotNil(t, o.logger)
	assert.NotNil(t, o.metrics)
}

func TestBasicMetricsCollector(t *testing.T) {
	mc := &BasicMetricsCollector{}

	mc.RecordBuild(100, time.Millisecond)
	mc.RecordInsert(time.Microsecond, true)
	mc.RecordInsert(time.Microsecond, false)
	mc.RecordSearch("range", 5, 2*time.Microsecond)
	mc.RecordSearch("knn", 3, 4*time.Microsecond)
	mc.RecordErase(time.Microsecond, false)

	stats := mc.GetStats()
	assert.Equal(t, int64(1), stats.BuildCount)
	assert.Equal(t, int64(100), stats.BuildEntities)
	assert.Equal(t, int64(2), stats.InsertCount)
	assert.Equal(t, int64(1), stats.InsertRejected)
	assert.Equal(t, int64(2), stats.SearchCount)
	assert.Equal(t, int64(8), stats.SearchResults)
	assert.Equal(t, int64(3000), stats.SearchAvgNanos)
	assert.Equal(t, int64(1), stats.EraseCount)
	assert.Equal(t, int64(1), stats.EraseMissed)
}

func TestTreeWithMetricsAndLogger(t *testing.T) {
	mc := &BasicMetricsCollector{}
	points := scenario3D()

	tree, err := NewPointTree(3, points,
		WithBoundingBox(unitCube()),
		WithMaxDepth(2),
		WithMetricsCollector(mc),
		WithLogger(NoopLogger()),
	)
	require.NoError(t, err)

	_ = tree.RangeSearch(unitCube(), points)
	_ = tree.NearestNeighbors(Point{0.5, 0.5, 0.5}, 2, points)
	tree.Insert(5, Point{0.5, 0.5, 0.5}, false)
	tree.EraseEntity(5)

	stats := mc.GetStats()
	assert.Equal(t, int64(1), stats.BuildCount)
	assert.Equal(t, int64(2), stats.SearchCount)
	assert.Equal(t, int64(1), stats.InsertCount)
	assert.Equal(t, int64(1), stats.EraseCount)
}

func TestErrorMessages(t *testing.T) {
	assert.Contains(t, (&ErrInvalidDimension{Dimension: 77}).Error(), "77")
	assert.Contains(t, (&ErrDimensionMismatch{Expected: 3, Actual: 2}).Error(), "expected 3")
	assert.Contains(t, (&ErrInvalidMaxDepth{MaxDepth: 40, Limit: 21}).Error(), "40")
}
