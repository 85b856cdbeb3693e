package mortree

import (
	"sort"
	"time"

	"github.com/hupe1980/mortree/internal/morton"
	"github.com/hupe1980/mortree/internal/psort"
	"github.com/hupe1980/mortree/internal/segment"
)

// BoxTreeG is a non-owning spatial index over axis-aligned box entities.
// Boxes that straddle child mid-planes are, by default, duplicated into
// every child cell they touch ("split entities"); WithoutSplitEntities keeps
// them at the deepest node whose cell fully contains them instead.
//
// Use the BoxTree alias for dimensions up to 15 and HighDimBoxTree above.
type BoxTreeG[K morton.Key[K]] struct {
	treeBase[K]
}

// BoxTree is the linear box tree: location ids fit a machine word.
type BoxTree = BoxTreeG[morton.Key64]

// HighDimBoxTree is the box tree for dimensions above 15, backed by a wide
// bit key with a bounded depth.
type HighDimBoxTree = BoxTreeG[morton.BitKey]

// NewBoxTree bulk-builds a linear box tree over boxes with dense ids
// 0..len(boxes)-1.
func NewBoxTree(dim int, boxes []Box, opts ...Option) (*BoxTree, error) {
	return newBoxTree[morton.Key64](dim, boxes, opts)
}

// NewHighDimBoxTree bulk-builds a high-dimensional box tree.
func NewHighDimBoxTree(dim int, boxes []Box, opts ...Option) (*HighDimBoxTree, error) {
	return newBoxTree[morton.BitKey](dim, boxes, opts)
}

func newBoxTree[K morton.Key[K]](dim int, boxes []Box, optFns []Option) (*BoxTreeG[K], error) {
	start := time.Now()
	o := applyOptions(optFns)

	for _, b := range boxes {
		if len(b.Min) != dim || len(b.Max) != dim {
			return nil, &ErrDimensionMismatch{Expected: dim, Actual: len(b.Min)}
		}
	}

	spaceBox, err := resolveSpaceBox(dim, o, len(boxes), func() Box { return boxOfBoxes(dim, boxes) })
	if err != nil {
		return nil, err
	}

	t := &BoxTreeG[K]{}
	maxDepth := o.maxDepth
	if maxDepth == 0 {
		maxDepth = estimateMaxDepth(len(boxes), o.maxElementsPerNode, dim, min(morton.NewSpace[K](dim).MaxTheoreticalDepth(), 31))
	}

	estimatedEntityCount := len(boxes)
	if o.splitEntities {
		estimatedEntityCount = estimatedEntityCount * 13 / 10
	}
	if err := t.initBase(dim, spaceBox, maxDepth, o.maxElementsPerNode, estimatedEntityCount, o); err != nil {
		return nil, err
	}

	if len(boxes) > 0 {
		t.build(boxes)
	}

	t.logger.WithDimension(dim).LogBuild(len(boxes), len(t.nodes), t.maxDepth, t.parallel)
	t.metrics.RecordBuild(len(boxes), time.Since(start))
	return t, nil
}

type boxBuildLocation[K morton.Key[K]] struct {
	loc morton.RangeLocation[K]
	id  EntityID
}

// splitItem is one pending duplicate of a straddling entity: the child slot
// it belongs to and the index of its location record.
type splitItem struct {
	segment  uint64
	locIndex int
}

type nodeProcessing[K morton.Key[K]] struct {
	n   *node[K]
	end int
}

type splitProcessing struct {
	items []splitItem
	begin int
}

func (t *BoxTreeG[K]) build(boxes []Box) {
	entityCount := len(boxes)

	locations := make([]boxBuildLocation[K], entityCount)
	for i, b := range boxes {
		locations[i] = boxBuildLocation[K]{loc: t.boxLocation(b), id: EntityID(i)}
	}

	sorted := t.parallel
	if sorted {
		psort.Slice(locations, func(a, b boxBuildLocation[K]) bool {
			return morton.LocationLess(a.loc, b.loc)
		})
	}

	var main segment.Handle
	var mainSlice []EntityID
	seatCursor := 0
	if !t.splitEntities {
		main = t.memory.Allocate(entityCount)
		mainSlice = t.memory.Slice(main)
	}

	nodeStack := make([]nodeProcessing[K], t.maxDepth+1)
	nodeStack[0] = nodeProcessing[K]{n: t.nodes[t.si.RootKey()], end: entityCount}
	splitStack := make([]splitProcessing, t.maxDepth+1)

	cursor := 0
	for depth := 0; depth >= 0; {
		np := &nodeStack[depth]

		if !np.n.hasAnyChild(t.bitmapChildren) {
			if t.splitEntities {
				var parentSp *splitProcessing
				if depth > 0 {
					parentSp = &splitStack[depth-1]
				}
				t.processNodeWithSplit(depth, locations, &cursor, np, &splitStack[depth], parentSp, sorted)
			} else {
				t.processNodeWithoutSplit(depth, locations, &cursor, np, mainSlice, main, &seatCursor, sorted)
			}
		}

		canCommit := cursor == np.end
		if t.splitEntities {
			sp := &splitStack[depth]
			canCommit = canCommit && (len(sp.items) == 0 || sp.begin == len(sp.items))
		}

		if canCommit || depth == t.maxDepth {
			splitStack[depth].items = splitStack[depth].items[:0]
			splitStack[depth].begin = 0
			depth--
			continue
		}

		depth++
		var parentSp *splitProcessing
		if t.splitEntities {
			parentSp = &splitStack[depth-1]
		}
		nodeStack[depth] = t.createProcessing(depth, locations, cursor, &nodeStack[depth-1], parentSp, sorted)
	}
}

// processNodeWithoutSplit seats the entities stuck at this depth (or the
// whole remaining run when it fits) as a sub-span of the pre-allocated main
// segment.
func (t *BoxTreeG[K]) processNodeWithoutSplit(depth int, locations []boxBuildLocation[K], cursor *int, np *nodeProcessing[K], mainSlice []EntityID, main segment.Handle, seatCursor *int, sorted bool) {
	subtreeCount := np.end - *cursor
	if subtreeCount == 0 {
		return
	}

	stuckEnd := np.end
	if subtreeCount > t.maxElementsPerNode && depth < t.maxDepth {
		stuckEnd = t.partitionByDepth(locations, *cursor, np.end, depth, sorted)
	}

	nodeCount := stuckEnd - *cursor
	if nodeCount == 0 {
		return
	}

	for i := 0; i < nodeCount; i++ {
		mainSlice[*seatCursor+i] = locations[*cursor+i].id
	}
	np.n.entities = segment.Handle{Page: main.Page, Begin: main.Begin + uint32(*seatCursor), Len: uint32(nodeCount)}
	*seatCursor += nodeCount
	*cursor += nodeCount
}

// processNodeWithSplit seats the entities assigned to this node (split
// duplicates arriving from the parent plus entities stuck here that touch
// every child) and expands the remaining stuck entities into the per-child
// split list.
func (t *BoxTreeG[K]) processNodeWithSplit(depth int, locations []boxBuildLocation[K], cursor *int, np *nodeProcessing[K], sp *splitProcessing, parentSp *splitProcessing, sorted bool) {
	subtreeCount := np.end - *cursor
	nodeCount := subtreeCount

	splitFromParent := 0
	if parentSp != nil && len(parentSp.items) > 0 {
		seg := t.si.ChildSegment(np.n.key)
		end := partitionSplitItems(parentSp.items, parentSp.begin, seg)
		splitFromParent = end - parentSp.begin
		nodeCount += splitFromParent
	}

	isLeaf := depth == t.maxDepth || nodeCount <= t.maxElementsPerNode

	stuckEnd := np.end
	stuckNonSplitEnd := np.end
	if !isLeaf {
		stuckEnd = t.partitionByDepth(locations, *cursor, np.end, depth, sorted)
		stuckNonSplitEnd = *cursor + partitionLocations(locations[*cursor:stuckEnd], func(l boxBuildLocation[K]) bool {
			return t.si.IsAllChildTouched(l.loc.TouchedDims)
		})
	}

	stuckNonSplitCount := stuckNonSplitEnd - *cursor
	np.n.entities = t.memory.Allocate(splitFromParent + stuckNonSplitCount)
	ids := t.entitySlice(np.n)

	for i := 0; i < splitFromParent; i++ {
		ids[i] = locations[parentSp.items[parentSp.begin].locIndex].id
		parentSp.begin++
	}
	for i := 0; i < stuckNonSplitCount; i++ {
		ids[splitFromParent+i] = locations[*cursor+i].id
	}
	*cursor += stuckNonSplitCount

	for ; *cursor < stuckEnd; *cursor++ {
		for _, seg := range t.si.SplitSegments(locations[*cursor].loc) {
			sp.items = append(sp.items, splitItem{segment: seg, locIndex: *cursor})
		}
	}
	sp.begin = 0
}

// createProcessing opens the next child: from the first remaining location,
// or, when only split duplicates remain, from the head of the parent's
// split list.
func (t *BoxTreeG[K]) createProcessing(depth int, locations []boxBuildLocation[K], cursor int, parentNp *nodeProcessing[K], parentSp *splitProcessing, sorted bool) nodeProcessing[K] {
	gen := t.si.ChildKeyGen(parentNp.n.key)

	if cursor == parentNp.end {
		seg := parentSp.items[parentSp.begin].segment
		childKey := gen.ChildKey(seg)
		parentNp.n.addChild(seg, t.bitmapChildren)
		child := t.createChild(parentNp.n, childKey, seg)
		t.nodes[childKey] = child
		return nodeProcessing[K]{n: child, end: parentNp.end}
	}

	level := t.maxDepth - depth
	checker := t.si.ChildChecker(level, locations[cursor].loc.Loc)
	seg := checker.ChildSegment(level)
	childKey := gen.ChildKey(seg)
	parentNp.n.addChild(seg, t.bitmapChildren)

	var end int
	if sorted {
		end = cursor + sort.Search(parentNp.end-cursor, func(i int) bool {
			return !checker.Test(locations[cursor+i].loc.Loc)
		})
	} else {
		end = cursor + partitionLocations(locations[cursor:parentNp.end], func(l boxBuildLocation[K]) bool {
			return checker.Test(l.loc.Loc)
		})
	}

	child := t.createChild(parentNp.n, childKey, seg)
	t.nodes[childKey] = child
	return nodeProcessing[K]{n: child, end: end}
}

// partitionByDepth separates the entities stuck at the given depth to the
// front of [begin, end) and returns the boundary.
func (t *BoxTreeG[K]) partitionByDepth(locations []boxBuildLocation[K], begin, end, depth int, sorted bool) int {
	if sorted {
		return begin + sort.Search(end-begin, func(i int) bool {
			return locations[begin+i].loc.Depth != depth
		})
	}
	return begin + partitionLocations(locations[begin:end], func(l boxBuildLocation[K]) bool {
		return l.loc.Depth == depth
	})
}

// partitionSplitItems groups the items with the given segment to the front
// of items[begin:] and returns the boundary.
func partitionSplitItems(items []splitItem, begin int, seg uint64) int {
	i := begin
	for j := begin; j < len(items); j++ {
		if items[j].segment == seg {
			items[i], items[j] = items[j], items[i]
			i++
		}
	}
	return i
}

func (t *BoxTreeG[K]) locate(boxes []Box) locateFn[K] {
	return func(id EntityID) morton.RangeLocation[K] {
		return t.boxLocation(boxes[id])
	}
}

// FindSmallestNode returns the key of the smallest existing node whose cell
// fully contains the box, or the none key when the box leaves the space.
func (t *BoxTreeG[K]) FindSmallestNode(box Box) K {
	if !t.grid.ContainsBox(box.Min, box.Max) {
		return t.si.NoneKey()
	}
	return t.FindSmallestNodeKey(t.si.KeyAtDepth(t.boxLocation(box), t.maxDepth))
}

// Insert places an id at the smallest existing node on the box's path; with
// toLeaf the chain toward max depth is created, duplicating straddling
// boxes into every touched child when splitting is enabled.
func (t *BoxTreeG[K]) Insert(id EntityID, box Box, toLeaf bool) bool {
	start := time.Now()
	ok := t.insert(id, box, toLeaf)
	t.logger.LogInsert(id, ok)
	t.metrics.RecordInsert(time.Since(start), ok)
	return ok
}

func (t *BoxTreeG[K]) insert(id EntityID, box Box, toLeaf bool) bool {
	if !t.grid.ContainsBox(box.Min, box.Max) {
		return false
	}

	loc := t.boxLocation(box)
	entityNodeKey := t.si.KeyAtDepth(loc, t.maxDepth)
	smallestKey := t.FindSmallestNodeKey(entityNodeKey)
	if !t.si.IsValid(smallestKey) {
		return false
	}

	if toLeaf && t.splitEntities && loc.Depth != t.maxDepth {
		gen := t.si.ChildKeyGen(entityNodeKey)
		for _, seg := range t.si.SplitSegments(loc) {
			if !t.insertWithoutRebalancing(smallestKey, gen.ChildKey(seg), id, true) {
				return false
			}
		}
		return true
	}

	return t.insertWithoutRebalancing(smallestKey, entityNodeKey, id, toLeaf)
}

// InsertWithRebalancing inserts an id and locally rebalances the receiving
// node when it overflows.
func (t *BoxTreeG[K]) InsertWithRebalancing(id EntityID, box Box, boxes []Box) bool {
	start := time.Now()
	ok := t.insertWithRebalancingBox(id, box, boxes)
	t.logger.LogInsert(id, ok)
	t.metrics.RecordInsert(time.Since(start), ok)
	return ok
}

func (t *BoxTreeG[K]) insertWithRebalancingBox(id EntityID, box Box, boxes []Box) bool {
	if !t.grid.ContainsBox(box.Min, box.Max) {
		return false
	}

	loc := t.boxLocation(box)
	entityNodeKey := t.si.KeyAtDepth(loc, t.maxDepth)
	parentKey, parentDepth := t.findSmallestNodeKeyWithDepth(entityNodeKey)
	if !t.si.IsValid(parentKey) {
		return false
	}

	return t.insertWithRebalancing(parentKey, parentDepth, t.splitEntities, loc, id, t.locate(boxes))
}

func (t *BoxTreeG[K]) eraseRecursive(key K, id EntityID, remainingDepth int) bool {
	n := t.nodes[key]
	erased := t.removeNodeEntity(n, id)

	if remainingDepth > 0 {
		// Child keys are captured first: removing an emptied child mutates
		// the child set being iterated.
		var childKeys []K
		gen := t.si.ChildKeyGen(key)
		n.eachChildSegment(t.bitmapChildren, func(seg uint64) bool {
			childKeys = append(childKeys, gen.ChildKey(seg))
			return true
		})
		for _, childKey := range childKeys {
			if t.eraseRecursive(childKey, id, remainingDepth-1) {
				erased = true
			}
		}
	}

	t.removeNodeIfPossible(n)
	return erased
}

// Erase removes an id from the nodes covering its known box, renumbering
// larger ids downward. With splitting enabled the duplicates one level below
// the smallest containing node are removed too.
func (t *BoxTreeG[K]) Erase(id EntityID, box Box) bool {
	start := time.Now()
	ok := t.erase(id, box, true)
	t.logger.LogErase(id, ok)
	t.metrics.RecordErase(time.Since(start), ok)
	return ok
}

func (t *BoxTreeG[K]) erase(id EntityID, box Box, renumber bool) bool {
	smallestKey := t.FindSmallestNode(box)
	if !t.si.IsValid(smallestKey) {
		return false
	}

	remainingDepth := 0
	if t.splitEntities {
		remainingDepth = 1
	}
	if !t.eraseRecursive(smallestKey, id, remainingDepth) {
		return false
	}

	if renumber {
		t.decreaseEntityIDs(id)
	}
	return true
}

// EraseEntity removes an id wherever it is stored, walking the whole node
// map, and renumbers larger ids downward.
func (t *BoxTreeG[K]) EraseEntity(id EntityID) bool {
	start := time.Now()
	ok := t.eraseEntityBase(id, t.splitEntities, true)
	t.logger.LogErase(id, ok)
	t.metrics.RecordErase(time.Since(start), ok)
	return ok
}

// Update moves an id to a new box: erase plus insert. The new box is checked
// against the space before the erase, so Update returns false and leaves the
// tree unchanged when the box leaves the space or the id is not stored.
func (t *BoxTreeG[K]) Update(id EntityID, newBox Box, toLeaf bool) bool {
	if !t.grid.ContainsBox(newBox.Min, newBox.Max) {
		return false
	}
	if !t.eraseEntityBase(id, t.splitEntities, false) {
		return false
	}
	return t.insert(id, newBox, toLeaf)
}

// UpdateFrom moves an id from a known old box to a new one. Without
// splitting, a move that stays within the same smallest node is a no-op.
func (t *BoxTreeG[K]) UpdateFrom(id EntityID, oldBox, newBox Box, toLeaf bool) bool {
	if !t.grid.ContainsBox(newBox.Min, newBox.Max) {
		return false
	}

	if !t.splitEntities && t.FindSmallestNode(oldBox) == t.FindSmallestNode(newBox) {
		return true
	}

	if !t.erase(id, oldBox, false) {
		return false
	}
	return t.insert(id, newBox, toLeaf)
}

// UpdateWithRebalancing moves an id to a new box using the rebalancing
// insert. The same best-effort contract as Update applies.
func (t *BoxTreeG[K]) UpdateWithRebalancing(id EntityID, newBox Box, boxes []Box) bool {
	if !t.grid.ContainsBox(newBox.Min, newBox.Max) {
		return false
	}
	if !t.eraseEntityBase(id, t.splitEntities, false) {
		return false
	}
	return t.insertWithRebalancingBox(id, newBox, boxes)
}

// PickSearch returns the ids of all boxes containing the pick point. Points
// on a cell boundary examine the neighbouring cells too.
func (t *BoxTreeG[K]) PickSearch(pickPoint Point, boxes []Box) []EntityID {
	var found []EntityID
	if !t.grid.ContainsPoint(pickPoint) {
		return found
	}

	lo, hi := t.grid.EdgePointGridIDs(pickPoint)
	locLo := t.si.Encode(lo)
	locHi := t.si.Encode(hi)

	nodeKey := t.si.KeyForDepth(t.maxDepth, locLo)
	if locLo != locHi {
		// The pick point lies on a node edge; nodes below the common
		// ancestor must be checked on both sides.
		rangeKey := t.si.KeyAtDepth(t.si.RangeLocation(t.maxDepth, locLo, locHi), t.maxDepth)
		nodeKey = t.FindSmallestNodeKey(rangeKey)
		if _, ok := t.nodes[nodeKey]; ok {
			t.pickSearchRecursive(pickPoint, boxes, nodeKey, &found)
		}
		nodeKey = t.si.Parent(nodeKey)
	}

	for ; t.si.IsValid(nodeKey); nodeKey = t.si.Parent(nodeKey) {
		n, ok := t.nodes[nodeKey]
		if !ok {
			continue
		}
		for _, id := range t.entitySlice(n) {
			if DoesBoxContainPoint(boxes[id], pickPoint, 0) {
				found = append(found, id)
			}
		}
	}

	if t.splitEntities {
		found = sortUniqueIDs(found)
	}
	return found
}

func (t *BoxTreeG[K]) pickSearchRecursive(pickPoint Point, boxes []Box, parentKey K, found *[]EntityID) {
	n := t.nodes[parentKey]
	for _, id := range t.entitySlice(n) {
		if DoesBoxContainPoint(boxes[id], pickPoint, 0) {
			*found = append(*found, id)
		}
	}

	center := t.nodeCenter(parentKey, n)
	gen := t.si.ChildKeyGen(parentKey)
	n.eachChildSegment(t.bitmapChildren, func(seg uint64) bool {
		// Only children whose side matches the pick point on every axis can
		// contain it; a point exactly at the center can lie in several.
		for d := 0; d < t.dim; d++ {
			if t.si.InGreaterSegment(seg, d) {
				if center[d] > pickPoint[d] {
					return true
				}
			} else if center[d] < pickPoint[d] {
				return true
			}
		}
		t.pickSearchRecursive(pickPoint, boxes, gen.ChildKey(seg), found)
		return true
	})
}

// RangeSearch returns the ids of boxes overlapping the query box with
// positive volume. With splitting enabled the result is deduplicated and
// sorted ascending.
func (t *BoxTreeG[K]) RangeSearch(rangeBox Box, boxes []Box) []EntityID {
	return t.rangeSearch(rangeBox, boxes, false)
}

// RangeSearchMustContain returns the ids of boxes fully contained in the
// query box.
func (t *BoxTreeG[K]) RangeSearchMustContain(rangeBox Box, boxes []Box) []EntityID {
	return t.rangeSearch(rangeBox, boxes, true)
}

func (t *BoxTreeG[K]) rangeSearch(rangeBox Box, boxes []Box, mustContain bool) []EntityID {
	start := time.Now()

	check := func(id EntityID) bool {
		if mustContain {
			return AreBoxesOverlapped(rangeBox, boxes[id], true, false)
		}
		return AreBoxesOverlappedStrict(rangeBox, boxes[id])
	}

	var out []EntityID
	t.rangeSearchRoot(rangeBox, len(boxes), false, check, &out)

	if t.splitEntities {
		out = sortUniqueIDs(out)
	}

	t.logger.LogSearch("range", len(out))
	t.metrics.RecordSearch("range", len(out), time.Since(start))
	return out
}

// PlaneIntersection returns the ids of boxes intersecting the hyperplane
// dot(normal, p) = distance within tolerance.
func (t *BoxTreeG[K]) PlaneIntersection(plane Plane, tolerance float64, boxes []Box) []EntityID {
	return t.planeIntersectionBase(plane.Distance, plane.Normal, tolerance, func(id EntityID) PlaneRelation {
		return boxPlaneRelation(boxes[id], plane.Distance, plane.Normal, tolerance)
	})
}

// PlanePositiveSegmentation returns the ids of boxes on the positive side of
// the plane or intersecting it.
func (t *BoxTreeG[K]) PlanePositiveSegmentation(plane Plane, tolerance float64, boxes []Box) []EntityID {
	return t.planePositiveSegmentationBase(plane.Distance, plane.Normal, tolerance, func(id EntityID) PlaneRelation {
		return boxPlaneRelation(boxes[id], plane.Distance, plane.Normal, tolerance)
	})
}

// FrustumCulling returns the ids of boxes inside or touching the convex
// region bounded by the planes.
func (t *BoxTreeG[K]) FrustumCulling(planes []Plane, tolerance float64, boxes []Box) []EntityID {
	return t.frustumCullingBase(planes, tolerance, func(id EntityID, plane Plane) PlaneRelation {
		return boxPlaneRelation(boxes[id], plane.Distance, plane.Normal, tolerance)
	})
}

// Clone deep-copies the tree; the clone's entity segments relocate into a
// single fresh main page.
func (t *BoxTreeG[K]) Clone() *BoxTreeG[K] {
	return &BoxTreeG[K]{treeBase: t.cloneBase()}
}
