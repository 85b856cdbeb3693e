package mortree

import (
	"github.com/RoaringBitmap/roaring/v2"
)

// getRelativeMinMaxLocation relates a query box to a cell center per
// dimension: bit d of minSeg/maxSeg is set iff the center is at or below the
// range's min/max on axis d.
func (t *treeBase[K]) getRelativeMinMaxLocation(center Point, rangeBox Box) (minSeg, maxSeg uint64) {
	for d := 0; d < t.dim; d++ {
		bit := uint64(1) << uint(d)
		if center[d] <= rangeBox.Min[d] {
			minSeg |= bit
		}
		if center[d] <= rangeBox.Max[d] {
			maxSeg |= bit
		}
	}
	return minSeg, maxSeg
}

func (t *treeBase[K]) rangeSearchNodeEntities(n *node[K], check func(EntityID) bool, out *[]EntityID) {
	for _, id := range t.entitySlice(n) {
		if check(id) {
			*out = append(*out, id)
		}
	}
}

// rangeSearchDescend walks a subtree with dimension-masked pruning. On axes
// where the range does not straddle the node center only the matching child
// side is entered; when no axis is masked and the cell is fully inside the
// range the whole subtree is collected without further geometry checks.
func (t *treeBase[K]) rangeSearchDescend(rangeBox Box, depth int, key K, check func(EntityID) bool, out *[]EntityID) {
	n := t.nodes[key]
	if !n.hasAnyChild(t.bitmapChildren) {
		t.rangeSearchNodeEntities(n, check, out)
		return
	}

	center := t.nodeCenter(key, n)
	minSeg, maxSeg := t.getRelativeMinMaxLocation(center, rangeBox)

	// Different min/max bits mean the axis must be walked on both sides;
	// equal bits limit the walk to one side.
	childMask := t.si.ChildCount() - 1
	limitedDims := ^(minSeg ^ maxSeg) & childMask

	if limitedDims == 0 && doesRangeContainBox(rangeBox, t.nodeBox(depth, center)) {
		t.collectSubtreeEntities(n, out)
		return
	}

	t.rangeSearchNodeEntities(n, check, out)

	boundaries := minSeg & maxSeg & limitedDims
	gen := t.si.ChildKeyGen(key)
	n.eachChildSegment(t.bitmapChildren, func(seg uint64) bool {
		if seg&limitedDims == boundaries {
			t.rangeSearchDescend(rangeBox, depth+1, gen.ChildKey(seg), check, out)
		}
		return true
	})
}

// rangeSearchRoot drives a range query: whole-space fast path, zero-volume
// reject, then masked descent from the smallest node containing the range,
// followed by a scan of that node's ancestors (entities may sit above
// leaves).
func (t *treeBase[K]) rangeSearchRoot(rangeBox Box, entityCount int, pointLike bool, check func(EntityID) bool, out *[]EntityID) {
	if doesRangeContainBox(rangeBox, t.SpaceBox()) {
		for id := 0; id < entityCount; id++ {
			*out = append(*out, id)
		}
		return
	}

	if boxVolume(rangeBox) <= 0 {
		// A zero-volume range can stick to any node comparison by surface
		// touch; it is rejected rather than handled per node.
		return
	}

	var rangeKey K
	if pointLike {
		lo, hi := t.grid.BoxGridIDRangeClamped(rangeBox.Min, rangeBox.Max)
		rangeKey = t.si.KeyAtDepth(t.si.RangeLocation(t.maxDepth, t.si.Encode(lo), t.si.Encode(hi)), t.maxDepth)
	} else {
		rangeKey = t.si.KeyAtDepth(t.boxLocation(rangeBox), t.maxDepth)
	}

	smallestKey := t.FindSmallestNodeKey(rangeKey)
	if !t.si.IsValid(smallestKey) {
		return
	}

	estimate := 10
	if t.grid.Volume() >= 0.01 {
		estimate = int(boxVolume(rangeBox) * float64(entityCount) / t.grid.Volume())
	}
	if cap(*out) < estimate {
		*out = make([]EntityID, 0, estimate)
	}

	t.rangeSearchDescend(rangeBox, t.si.Depth(smallestKey), smallestKey, check, out)

	for key := t.si.Parent(smallestKey); t.si.IsValid(key); key = t.si.Parent(key) {
		if n, ok := t.nodes[key]; ok {
			t.rangeSearchNodeEntities(n, check, out)
		}
	}
}

// sortUniqueIDs deduplicates a result list, returning it in ascending id
// order. Queries on split-entity trees funnel through it.
func sortUniqueIDs(ids []EntityID) []EntityID {
	bm := roaring.New()
	for _, id := range ids {
		bm.Add(uint32(id))
	}

	out := ids[:0]
	for _, v := range bm.ToArray() {
		out = append(out, EntityID(v))
	}
	return out
}

// planeIntersectionBase collects entities intersecting the hyperplane
// dot(normal, p) = distance within tolerance, pruning subtrees whose cells
// miss the plane.
func (t *treeBase[K]) planeIntersectionBase(distance float64, normal Point, tolerance float64, relate func(EntityID) PlaneRelation) []EntityID {
	var results []EntityID
	seen := roaring.New()

	t.visitNodesDFS(t.si.RootKey(),
		func(key K, n *node[K]) bool {
			half := t.nodeSize(t.si.Depth(key) + 1)
			return cellPlaneRelation(t.nodeCenter(key, n), half, distance, normal, tolerance) == PlaneHit
		},
		func(_ K, n *node[K]) {
			for _, id := range t.entitySlice(n) {
				if relate(id) == PlaneHit && seen.CheckedAdd(uint32(id)) {
					results = append(results, id)
				}
			}
		})

	return results
}

// planePositiveSegmentationBase collects entities on the positive side of
// the plane or hit by it, pruning entirely negative subtrees.
func (t *treeBase[K]) planePositiveSegmentationBase(distance float64, normal Point, tolerance float64, relate func(EntityID) PlaneRelation) []EntityID {
	var results []EntityID
	seen := roaring.New()

	t.visitNodesDFS(t.si.RootKey(),
		func(key K, n *node[K]) bool {
			half := t.nodeSize(t.si.Depth(key) + 1)
			return cellPlaneRelation(t.nodeCenter(key, n), half, distance, normal, tolerance) != PlaneNegative
		},
		func(_ K, n *node[K]) {
			for _, id := range t.entitySlice(n) {
				if relate(id) == PlaneNegative {
					continue
				}
				if seen.CheckedAdd(uint32(id)) {
					results = append(results, id)
				}
			}
		})

	return results
}

// frustumCullingBase collects entities inside or touching the convex region
// bounded by the planes. A node is discarded as soon as one plane reports
// its cell negative; the entities of visited nodes are tested against every
// plane and dropped when any plane reports them negative.
func (t *treeBase[K]) frustumCullingBase(planes []Plane, tolerance float64, relate func(id EntityID, plane Plane) PlaneRelation) []EntityID {
	if len(planes) == 0 {
		return nil
	}

	var results []EntityID
	seen := roaring.New()

	t.visitNodesDFS(t.si.RootKey(),
		func(key K, n *node[K]) bool {
			half := t.nodeSize(t.si.Depth(key) + 1)
			center := t.nodeCenter(key, n)
			for _, plane := range planes {
				if cellPlaneRelation(center, half, plane.Distance, plane.Normal, tolerance) == PlaneNegative {
					return false
				}
			}
			return true
		},
		func(_ K, n *node[K]) {
			for _, id := range t.entitySlice(n) {
				relation := PlanePositive
				for _, plane := range planes {
					if relate(id, plane) == PlaneNegative {
						relation = PlaneNegative
						break
					}
				}
				if relation == PlaneNegative {
					continue
				}
				if seen.CheckedAdd(uint32(id)) {
					results = append(results, id)
				}
			}
		})

	return results
}
