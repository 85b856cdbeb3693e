package mortree

import (
	"math"
	"sort"
	"time"

	"github.com/hupe1980/mortree/internal/morton"
	"github.com/hupe1980/mortree/internal/psort"
	"github.com/hupe1980/mortree/internal/segment"
)

// PointTreeG is a non-owning spatial index over point entities, organized
// into a hash-addressed hierarchy keyed by the Morton Z-order curve. The
// tree stores entity ids only; every operation takes the caller's point
// collection.
//
// Use the PointTree alias for dimensions up to 15 and HighDimPointTree
// above.
type PointTreeG[K morton.Key[K]] struct {
	treeBase[K]
}

// PointTree is the linear point tree: location ids fit a machine word.
type PointTree = PointTreeG[morton.Key64]

// HighDimPointTree is the point tree for dimensions above 15, backed by a
// wide bit key with a bounded depth.
type HighDimPointTree = PointTreeG[morton.BitKey]

// NewPointTree bulk-builds a linear point tree over points with dense ids
// 0..len(points)-1.
func NewPointTree(dim int, points []Point, opts ...Option) (*PointTree, error) {
	return newPointTree[morton.Key64](dim, points, opts)
}

// NewHighDimPointTree bulk-builds a high-dimensional point tree.
func NewHighDimPointTree(dim int, points []Point, opts ...Option) (*HighDimPointTree, error) {
	return newPointTree[morton.BitKey](dim, points, opts)
}

func newPointTree[K morton.Key[K]](dim int, points []Point, optFns []Option) (*PointTreeG[K], error) {
	start := time.Now()
	o := applyOptions(optFns)
	o.splitEntities = false // points never straddle

	for _, p := range points {
		if len(p) != dim {
			return nil, &ErrDimensionMismatch{Expected: dim, Actual: len(p)}
		}
	}

	spaceBox, err := resolveSpaceBox(dim, o, len(points), func() Box { return boxOfPoints(dim, points) })
	if err != nil {
		return nil, err
	}

	t := &PointTreeG[K]{}
	maxDepth := o.maxDepth
	if maxDepth == 0 {
		maxDepth = estimateMaxDepth(len(points), o.maxElementsPerNode, dim, min(morton.NewSpace[K](dim).MaxTheoreticalDepth(), 31))
	}
	if err := t.initBase(dim, spaceBox, maxDepth, o.maxElementsPerNode, len(points), o); err != nil {
		return nil, err
	}

	if len(points) > 0 {
		t.build(points)
	}

	t.logger.WithDimension(dim).LogBuild(len(points), len(t.nodes), t.maxDepth, t.parallel)
	t.metrics.RecordBuild(len(points), time.Since(start))
	return t, nil
}

func resolveSpaceBox(dim int, o options, entityCount int, derive func() Box) (Box, error) {
	if o.boundingBox != nil {
		if len(o.boundingBox.Min) != dim || len(o.boundingBox.Max) != dim {
			return Box{}, &ErrDimensionMismatch{Expected: dim, Actual: len(o.boundingBox.Min)}
		}
		return *o.boundingBox, nil
	}
	if entityCount == 0 {
		return Box{}, &ErrInvalidDimension{Dimension: dim}
	}
	return derive(), nil
}

type pointBuildLocation[K morton.Key[K]] struct {
	loc K
	id  EntityID
}

type pointStackEntry[K morton.Key[K]] struct {
	n   *node[K]
	end int
}

// build walks the zipped location/id array depth-first with an explicit
// stack, seating each finished run as a sub-span of one pre-allocated main
// segment: zero copies after the initial write.
func (t *PointTreeG[K]) build(points []Point) {
	entityCount := len(points)

	locations := make([]pointBuildLocation[K], entityCount)
	for i, p := range points {
		locations[i] = pointBuildLocation[K]{loc: t.locationID(p), id: EntityID(i)}
	}

	sorted := t.parallel
	if sorted {
		psort.Slice(locations, func(a, b pointBuildLocation[K]) bool { return a.loc.Less(b.loc) })
	}

	main := t.memory.Allocate(entityCount)
	mainSlice := t.memory.Slice(main)
	cursor := 0

	stack := make([]pointStackEntry[K], t.maxDepth+1)
	stack[0] = pointStackEntry[K]{n: t.nodes[t.si.RootKey()], end: entityCount}

	begin := 0
	for depth := 0; depth >= 0; {
		entry := &stack[depth]
		count := entry.end - begin

		if (count > 0 && count <= t.maxElementsPerNode && !entry.n.hasAnyChild(t.bitmapChildren)) || depth == t.maxDepth {
			for i := 0; i < count; i++ {
				mainSlice[cursor+i] = locations[begin+i].id
			}
			entry.n.entities = segment.Handle{Page: main.Page, Begin: main.Begin + uint32(cursor), Len: uint32(count)}
			cursor += count
			begin = entry.end
		}

		if begin == entry.end {
			depth--
			continue
		}

		depth++
		level := t.maxDepth - depth
		checker := t.si.ChildChecker(level, locations[begin].loc)
		childSeg := checker.ChildSegment(level)
		childKey := t.si.ChildKeyGen(entry.n.key).ChildKey(childSeg)
		entry.n.addChild(childSeg, t.bitmapChildren)

		var end int
		if sorted {
			end = begin + sort.Search(entry.end-begin, func(i int) bool {
				return !checker.Test(locations[begin+i].loc)
			})
		} else {
			end = begin + partitionLocations(locations[begin:entry.end], func(l pointBuildLocation[K]) bool {
				return checker.Test(l.loc)
			})
		}

		child := t.createChild(entry.n, childKey, childSeg)
		t.nodes[childKey] = child
		stack[depth] = pointStackEntry[K]{n: child, end: end}
	}
}

// partitionLocations moves elements satisfying test to the front and returns
// the boundary index.
func partitionLocations[T any](s []T, test func(T) bool) int {
	i := 0
	for j := range s {
		if test(s[j]) {
			s[i], s[j] = s[j], s[i]
			i++
		}
	}
	return i
}

func (t *PointTreeG[K]) locate(points []Point) locateFn[K] {
	return func(id EntityID) morton.RangeLocation[K] {
		return t.pointLocation(points[id])
	}
}

// entityNodeKey returns the max-depth node key of a point.
func (t *PointTreeG[K]) entityNodeKey(p Point) K {
	return t.si.KeyForDepth(t.maxDepth, t.locationID(p))
}

// FindSmallestNode returns the key of the smallest existing node whose cell
// contains the point, or the none key when the point lies outside the space.
func (t *PointTreeG[K]) FindSmallestNode(p Point) K {
	if !t.grid.ContainsPoint(p) {
		return t.si.NoneKey()
	}
	return t.FindSmallestNodeKey(t.entityNodeKey(p))
}

// Insert places an id at the smallest existing node on the point's path;
// with toLeaf the missing chain down to max depth is created instead. It
// returns false when the point lies outside the handled space.
func (t *PointTreeG[K]) Insert(id EntityID, p Point, toLeaf bool) bool {
	start := time.Now()
	ok := t.insert(id, p, toLeaf)
	t.logger.LogInsert(id, ok)
	t.metrics.RecordInsert(time.Since(start), ok)
	return ok
}

func (t *PointTreeG[K]) insert(id EntityID, p Point, toLeaf bool) bool {
	if !t.grid.ContainsPoint(p) {
		return false
	}

	entityNodeKey := t.entityNodeKey(p)
	smallestKey := t.FindSmallestNodeKey(entityNodeKey)
	if !t.si.IsValid(smallestKey) {
		return false
	}

	return t.insertWithoutRebalancing(smallestKey, entityNodeKey, id, toLeaf)
}

// InsertWithRebalancing inserts an id and locally rebalances the receiving
// node when it overflows, pushing entities one level down.
func (t *PointTreeG[K]) InsertWithRebalancing(id EntityID, p Point, points []Point) bool {
	start := time.Now()
	ok := t.insertWithRebalancingPoint(id, p, points)
	t.logger.LogInsert(id, ok)
	t.metrics.RecordInsert(time.Since(start), ok)
	return ok
}

func (t *PointTreeG[K]) insertWithRebalancingPoint(id EntityID, p Point, points []Point) bool {
	if !t.grid.ContainsPoint(p) {
		return false
	}

	loc := t.pointLocation(p)
	parentKey, parentDepth := t.findSmallestNodeKeyWithDepth(t.si.KeyForDepth(t.maxDepth, loc.Loc))
	if !t.si.IsValid(parentKey) {
		return false
	}

	return t.insertWithRebalancing(parentKey, parentDepth, false, loc, id, t.locate(points))
}

// InsertUnique inserts an id only when no existing entity lies within
// tolerance of the point.
func (t *PointTreeG[K]) InsertUnique(id EntityID, p Point, tolerance float64, points []Point, toLeaf bool) bool {
	if !t.grid.ContainsPoint(p) {
		return false
	}

	if nearest := t.NearestNeighborsWithin(p, 1, tolerance, points); len(nearest) > 0 {
		return false
	}

	if toLeaf {
		return t.insert(id, p, true)
	}
	return t.insertWithRebalancingPoint(id, p, points)
}

// Erase removes an id from the node containing its known point, renumbering
// all larger ids downward to keep a contiguous collection dense. It returns
// false when the point is outside the space or the id was not stored there.
func (t *PointTreeG[K]) Erase(id EntityID, p Point) bool {
	start := time.Now()
	ok := t.erase(id, p, true)
	t.logger.LogErase(id, ok)
	t.metrics.RecordErase(time.Since(start), ok)
	return ok
}

func (t *PointTreeG[K]) erase(id EntityID, p Point, renumber bool) bool {
	nodeKey := t.FindSmallestNode(p)
	if !t.si.IsValid(nodeKey) {
		return false
	}

	n := t.nodes[nodeKey]
	if !t.removeNodeEntity(n, id) {
		return false
	}

	if renumber {
		t.decreaseEntityIDs(id)
	}
	t.removeNodeIfPossible(n)
	return true
}

// EraseEntity removes an id wherever it is stored, walking the whole node
// map, and renumbers larger ids downward.
func (t *PointTreeG[K]) EraseEntity(id EntityID) bool {
	start := time.Now()
	ok := t.eraseEntityBase(id, false, true)
	t.logger.LogErase(id, ok)
	t.metrics.RecordErase(time.Since(start), ok)
	return ok
}

// Update moves an id to a new point: erase plus insert. The new point is
// checked against the space before the erase, so Update returns false and
// leaves the tree unchanged when the point lies outside the space or the id
// is not stored.
func (t *PointTreeG[K]) Update(id EntityID, newPoint Point, toLeaf bool) bool {
	if !t.grid.ContainsPoint(newPoint) {
		return false
	}
	if !t.eraseEntityBase(id, false, false) {
		return false
	}
	return t.insert(id, newPoint, toLeaf)
}

// UpdateFrom moves an id from a known old point to a new one; the erase is
// aided by the old geometry, avoiding a node-map walk. The same best-effort
// contract as Update applies.
func (t *PointTreeG[K]) UpdateFrom(id EntityID, oldPoint, newPoint Point, toLeaf bool) bool {
	if !t.grid.ContainsPoint(newPoint) {
		return false
	}
	if !t.erase(id, oldPoint, false) {
		return false
	}
	return t.insert(id, newPoint, toLeaf)
}

// UpdateWithRebalancing moves an id to a new point using the rebalancing
// insert. The same best-effort contract as Update applies.
func (t *PointTreeG[K]) UpdateWithRebalancing(id EntityID, newPoint Point, points []Point) bool {
	if !t.grid.ContainsPoint(newPoint) {
		return false
	}
	if !t.eraseEntityBase(id, false, false) {
		return false
	}
	return t.insertWithRebalancingPoint(id, newPoint, points)
}

// Contains reports whether a stored point coincides with the search point
// within tolerance.
func (t *PointTreeG[K]) Contains(p Point, points []Point, tolerance float64) bool {
	nodeKey := t.FindSmallestNode(p)
	if !t.si.IsValid(nodeKey) {
		return false
	}

	for _, id := range t.entitySlice(t.nodes[nodeKey]) {
		if ArePointsEqual(p, points[id], tolerance) {
			return true
		}
	}
	return false
}

// RangeSearch returns the ids of all points inside the query box, boundary
// included. A query box with zero volume yields no ids.
func (t *PointTreeG[K]) RangeSearch(rangeBox Box, points []Point) []EntityID {
	start := time.Now()

	var out []EntityID
	t.rangeSearchRoot(rangeBox, len(points), true, func(id EntityID) bool {
		return DoesBoxContainPoint(rangeBox, points[id], 0)
	}, &out)

	t.logger.LogSearch("range", len(out))
	t.metrics.RecordSearch("range", len(out), time.Since(start))
	return out
}

// PlaneSearch returns the ids of points lying on the hyperplane
// dot(normal, p) = distance within tolerance.
func (t *PointTreeG[K]) PlaneSearch(plane Plane, tolerance float64, points []Point) []EntityID {
	return t.planeIntersectionBase(plane.Distance, plane.Normal, tolerance, func(id EntityID) PlaneRelation {
		return GetPointPlaneRelation(points[id], plane.Distance, plane.Normal, tolerance)
	})
}

// PlanePositiveSegmentation returns the ids of points on the positive side
// of the plane or within tolerance of it.
func (t *PointTreeG[K]) PlanePositiveSegmentation(plane Plane, tolerance float64, points []Point) []EntityID {
	return t.planePositiveSegmentationBase(plane.Distance, plane.Normal, tolerance, func(id EntityID) PlaneRelation {
		return GetPointPlaneRelation(points[id], plane.Distance, plane.Normal, tolerance)
	})
}

// FrustumCulling returns the ids of points inside the convex region bounded
// by the planes, accepting points within tolerance of a boundary.
func (t *PointTreeG[K]) FrustumCulling(planes []Plane, tolerance float64, points []Point) []EntityID {
	return t.frustumCullingBase(planes, tolerance, func(id EntityID, plane Plane) PlaneRelation {
		return GetPointPlaneRelation(points[id], plane.Distance, plane.Normal, tolerance)
	})
}

// NearestNeighbors returns up to k ids sorted by ascending distance to the
// search point.
func (t *PointTreeG[K]) NearestNeighbors(p Point, k int, points []Point) []EntityID {
	return t.NearestNeighborsWithin(p, k, math.MaxFloat64, points)
}

// Clone deep-copies the tree; the clone's entity segments relocate into a
// single fresh main page.
func (t *PointTreeG[K]) Clone() *PointTreeG[K] {
	return &PointTreeG[K]{treeBase: t.cloneBase()}
}
