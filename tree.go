package mortree

import (
	"math"
	"runtime"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/mortree/internal/grid"
	"github.com/hupe1980/mortree/internal/morton"
	"github.com/hupe1980/mortree/internal/segment"
)

// treeBase carries the node map, the entity-segment allocator, the grid
// mapping and the shared insert/erase/visit machinery of both tree kinds.
type treeBase[K morton.Key[K]] struct {
	si     morton.Space[K]
	nodes  map[K]*node[K]
	memory *segment.Allocator[EntityID]
	grid   grid.Indexing

	dim                int
	maxDepth           int
	maxElementsPerNode int
	nodeSizes          []Point

	// bitmapChildren selects the packed child representation (2^dim <= 64).
	bitmapChildren bool
	cacheCenters   bool
	parallel       bool
	splitEntities  bool

	logger  *Logger
	metrics MetricsCollector
}

// locateFn resolves an entity id to its current range-location metadata by
// consulting the caller's geometry collection.
type locateFn[K morton.Key[K]] func(id EntityID) morton.RangeLocation[K]

func (t *treeBase[K]) initBase(dim int, spaceBox Box, maxDepth, maxElementsPerNode, estimatedEntityCount int, o options) error {
	if dim < 1 || dim > 63 {
		return &ErrInvalidDimension{Dimension: dim}
	}
	if maxElementsPerNode < 1 {
		return ErrInvalidMaxElements
	}

	t.si = morton.NewSpace[K](dim)
	limit := min(t.si.MaxTheoreticalDepth(), 31) // GridID is 32-bit
	if maxDepth < 1 || maxDepth > limit {
		return &ErrInvalidMaxDepth{MaxDepth: maxDepth, Limit: limit}
	}
	if len(spaceBox.Min) != dim || len(spaceBox.Max) != dim {
		return &ErrDimensionMismatch{Expected: dim, Actual: len(spaceBox.Min)}
	}

	t.dim = dim
	t.maxDepth = maxDepth
	t.maxElementsPerNode = maxElementsPerNode
	t.bitmapChildren = dim <= 6
	t.cacheCenters = o.cacheCenters
	t.parallel = o.parallel
	t.splitEntities = o.splitEntities
	t.logger = o.logger
	t.metrics = o.metrics

	t.grid = grid.New(dim, maxDepth, spaceBox.Min, spaceBox.Max)
	t.nodes = make(map[K]*node[K], estimateNodeNumber(estimatedEntityCount, maxDepth, maxElementsPerNode, dim))
	t.memory = segment.New[EntityID]()
	t.memory.Init(estimatedEntityCount)

	root := &node[K]{key: t.si.RootKey()}
	if t.cacheCenters {
		root.center = BoxCenter(spaceBox)
	}
	t.nodes[root.key] = root

	// One depth beyond max is the half size of a leaf; a further fictive
	// child half size can be asked for prematurely during box tests.
	sizeCount := maxDepth + 3
	t.nodeSizes = make([]Point, sizeCount)
	t.nodeSizes[0] = append(Point(nil), t.grid.Sizes()...)
	for depth := 1; depth < sizeCount; depth++ {
		t.nodeSizes[depth] = make(Point, dim)
		for d := 0; d < dim; d++ {
			t.nodeSizes[depth][d] = t.nodeSizes[depth-1][d] * 0.5
		}
	}

	return nil
}

// Dim returns the dimension count of the tree.
func (t *treeBase[K]) Dim() int { return t.dim }

// MaxDepth returns the subdivision depth of the tree.
func (t *treeBase[K]) MaxDepth() int { return t.maxDepth }

// MaxElementsPerNode returns the per-node element limit.
func (t *treeBase[K]) MaxElementsPerNode() int { return t.maxElementsPerNode }

// NodeCount returns the number of nodes in the map, root included.
func (t *treeBase[K]) NodeCount() int { return len(t.nodes) }

// SpaceBox returns the handled space box.
func (t *treeBase[K]) SpaceBox() Box {
	return Box{
		Min: append(Point(nil), t.grid.SpaceMin()...),
		Max: append(Point(nil), t.grid.SpaceMax()...),
	}
}

// ResolutionMax returns the grid resolution per dimension (2^maxDepth).
func (t *treeBase[K]) ResolutionMax() uint32 { return t.grid.Resolution() }

// RootKey returns the node key of the root.
func (t *treeBase[K]) RootKey() K { return t.si.RootKey() }

// NoneKey returns the sentinel "no node" key.
func (t *treeBase[K]) NoneKey() K { return t.si.NoneKey() }

// HasNode reports whether a node with the given key exists.
func (t *treeBase[K]) HasNode(key K) bool {
	_, ok := t.nodes[key]
	return ok
}

// NodeKeys returns all node keys; the order is unspecified.
func (t *treeBase[K]) NodeKeys() []K {
	keys := make([]K, 0, len(t.nodes))
	for key := range t.nodes {
		keys = append(keys, key)
	}
	return keys
}

// NodeEntities returns a copy of the entity ids stored directly in a node.
func (t *treeBase[K]) NodeEntities(key K) []EntityID {
	n, ok := t.nodes[key]
	if !ok {
		return nil
	}
	return append([]EntityID(nil), t.entitySlice(n)...)
}

func (t *treeBase[K]) entitySlice(n *node[K]) []EntityID {
	return t.memory.Slice(n.entities)
}

// nodeCenter returns the cell center, from the cache when enabled.
func (t *treeBase[K]) nodeCenter(key K, n *node[K]) Point {
	if n != nil && n.center != nil {
		return n.center
	}
	depth := t.si.Depth(key)
	return t.grid.CellCenter(t.si.Decode(key, t.maxDepth), t.maxDepth-depth)
}

// nodeSize returns the cell extents at a depth.
func (t *treeBase[K]) nodeSize(depth int) Point { return t.nodeSizes[depth] }

// nodeBox composes the cell box from a depth and center.
func (t *treeBase[K]) nodeBox(depth int, center Point) Box {
	half := t.nodeSizes[depth+1]
	box := Box{Min: make(Point, t.dim), Max: make(Point, t.dim)}
	for d := 0; d < t.dim; d++ {
		box.Min[d] = center[d] - half[d]
		box.Max[d] = center[d] + half[d]
	}
	return box
}

// NodeBox returns the cell box of a node key.
func (t *treeBase[K]) NodeBox(key K) Box {
	return t.nodeBox(t.si.Depth(key), t.nodeCenter(key, t.nodes[key]))
}

// createChild builds the child node, deriving its center from the parent's
// by stepping half a child size along each dimension.
func (t *treeBase[K]) createChild(parent *node[K], childKey K, childSeg uint64) *node[K] {
	child := &node[K]{key: childKey}
	if !t.cacheCenters {
		return child
	}

	depth := t.si.Depth(childKey)
	half := t.nodeSizes[depth+1]
	parentCenter := t.nodeCenter(parent.key, parent)

	center := make(Point, t.dim)
	for d := 0; d < t.dim; d++ {
		if t.si.InGreaterSegment(childSeg, d) {
			center[d] = parentCenter[d] + half[d]
		} else {
			center[d] = parentCenter[d] - half[d]
		}
	}
	child.center = center
	return child
}

func (t *treeBase[K]) addNodeEntity(n *node[K], id EntityID) {
	n.entities = t.memory.Grow(n.entities, 1)
	s := t.entitySlice(n)
	s[len(s)-1] = id
}

func (t *treeBase[K]) removeNodeEntity(n *node[K], id EntityID) bool {
	s := t.entitySlice(n)
	for i, e := range s {
		if e == id {
			copy(s[i:], s[i+1:])
			n.entities = t.memory.Shrink(n.entities, 1)
			return true
		}
	}
	return false
}

func (t *treeBase[K]) resizeNodeEntities(n *node[K], size int) {
	n.entities = t.memory.Shrink(n.entities, int(n.entities.Len)-size)
}

// removeNodeIfPossible erases a node that has neither children nor entities;
// the root always stays.
func (t *treeBase[K]) removeNodeIfPossible(n *node[K]) {
	if n.key == t.si.RootKey() {
		return
	}
	if n.hasAnyChild(t.bitmapChildren) || !n.entities.IsEmpty() {
		return
	}

	t.memory.Deallocate(n.entities)
	if parent, ok := t.nodes[t.si.Parent(n.key)]; ok {
		parent.removeChild(t.si.ChildSegment(n.key), t.bitmapChildren)
	}
	delete(t.nodes, n.key)
}

func (t *treeBase[K]) locationID(p Point) K {
	return t.si.Encode(t.grid.PointGridID(p))
}

func (t *treeBase[K]) pointLocation(p Point) morton.RangeLocation[K] {
	return t.si.PointLocation(t.maxDepth, t.locationID(p))
}

func (t *treeBase[K]) boxLocation(box Box) morton.RangeLocation[K] {
	lo, hi := t.grid.BoxGridIDRange(box.Min, box.Max)
	return t.si.RangeLocation(t.maxDepth, t.si.Encode(lo), t.si.Encode(hi))
}

// FindSmallestNodeKey walks from a key toward the root until it hits an
// existing node; the none key means not even the root matched.
func (t *treeBase[K]) FindSmallestNodeKey(searchKey K) K {
	for ; t.si.IsValid(searchKey); searchKey = t.si.Parent(searchKey) {
		if _, ok := t.nodes[searchKey]; ok {
			return searchKey
		}
	}
	return t.si.NoneKey()
}

func (t *treeBase[K]) findSmallestNodeKeyWithDepth(searchKey K) (K, int) {
	depth := t.si.Depth(searchKey)
	for ; t.si.IsValid(searchKey); searchKey = t.si.Parent(searchKey) {
		if _, ok := t.nodes[searchKey]; ok {
			return searchKey, depth
		}
		depth--
	}
	return t.si.NoneKey(), 0
}

// GetNodeIDByEntity scans the node map for the node storing an id; with
// split entities it returns one of the storing nodes. The none key means not
// found.
func (t *treeBase[K]) GetNodeIDByEntity(id EntityID) K {
	for key, n := range t.nodes {
		for _, e := range t.entitySlice(n) {
			if e == id {
				return key
			}
		}
	}
	return t.si.NoneKey()
}

// visitNodes traverses breadth-first, descending only into nodes accepted by
// the selector.
func (t *treeBase[K]) visitNodes(rootKey K, selector func(key K, n *node[K]) bool, procedure func(key K, n *node[K])) {
	queue := []K{rootKey}
	for len(queue) > 0 {
		key := queue[0]
		queue = queue[1:]

		n := t.nodes[key]
		if !selector(key, n) {
			continue
		}
		procedure(key, n)

		gen := t.si.ChildKeyGen(key)
		n.eachChildSegment(t.bitmapChildren, func(seg uint64) bool {
			queue = append(queue, gen.ChildKey(seg))
			return true
		})
	}
}

// visitNodesDFS traverses depth-first pre-order with the same contract.
func (t *treeBase[K]) visitNodesDFS(key K, selector func(key K, n *node[K]) bool, procedure func(key K, n *node[K])) {
	n := t.nodes[key]
	if !selector(key, n) {
		return
	}
	procedure(key, n)

	gen := t.si.ChildKeyGen(key)
	n.eachChildSegment(t.bitmapChildren, func(seg uint64) bool {
		t.visitNodesDFS(gen.ChildKey(seg), selector, procedure)
		return true
	})
}

func (t *treeBase[K]) collectSubtreeEntities(n *node[K], out *[]EntityID) {
	*out = append(*out, t.entitySlice(n)...)

	gen := t.si.ChildKeyGen(n.key)
	n.eachChildSegment(t.bitmapChildren, func(seg uint64) bool {
		t.collectSubtreeEntities(t.nodes[gen.ChildKey(seg)], out)
		return true
	})
}

// VisitNodes walks the tree breadth-first, calling fn with each node key and
// the entity ids stored directly in that node. Returning false prunes the
// node's subtree.
func (t *treeBase[K]) VisitNodes(fn func(key K, entities []EntityID) bool) {
	t.visitNodes(t.si.RootKey(),
		func(key K, n *node[K]) bool { return fn(key, t.entitySlice(n)) },
		func(K, *node[K]) {})
}

// CollectAllEntities returns every stored id in breadth-first node order.
// With split entities the same id can appear multiple times.
func (t *treeBase[K]) CollectAllEntities() []EntityID {
	out := make([]EntityID, 0, len(t.nodes)*max(2, t.maxElementsPerNode/2))
	t.visitNodes(t.si.RootKey(),
		func(K, *node[K]) bool { return true },
		func(_ K, n *node[K]) { out = append(out, t.entitySlice(n)...) })
	return out
}

// CollectAllEntitiesDFS returns every stored id in depth-first pre-order
// node order.
func (t *treeBase[K]) CollectAllEntitiesDFS() []EntityID {
	var out []EntityID
	t.collectSubtreeEntities(t.nodes[t.si.RootKey()], &out)
	return out
}

// insertWithoutRebalancing places an id at the smallest existing node on the
// path to entityNodeKey, or builds the node chain down to it when toLeaf is
// set.
func (t *treeBase[K]) insertWithoutRebalancing(existingParentKey, entityNodeKey K, id EntityID, toLeaf bool) bool {
	if entityNodeKey == existingParentKey {
		t.addNodeEntity(t.nodes[entityNodeKey], id)
		return true
	}

	if toLeaf {
		var missing []K
		parentKey := entityNodeKey
		for parentKey != existingParentKey {
			if _, ok := t.nodes[parentKey]; ok {
				break
			}
			missing = append(missing, parentKey)
			parentKey = t.si.Parent(parentKey)
		}

		parent := t.nodes[parentKey]
		for i := len(missing) - 1; i >= 0; i-- {
			childKey := missing[i]
			childSeg := t.si.ChildSegment(childKey)
			parent.addChild(childSeg, t.bitmapChildren)
			child := t.createChild(parent, childKey, childSeg)
			t.nodes[childKey] = child
			parent = child
		}
		t.addNodeEntity(parent, id)
		return true
	}

	parent := t.nodes[existingParentKey]
	if parent.hasAnyChild(t.bitmapChildren) {
		parentDepth := t.si.Depth(existingParentKey)
		childSeg := t.si.ChildSegmentByDepth(entityNodeKey, parentDepth, t.si.Depth(entityNodeKey))
		childKey := t.si.ChildKeyGen(existingParentKey).ChildKey(childSeg)

		if child, ok := t.nodes[childKey]; ok {
			t.addNodeEntity(child, id)
			return true
		}
		parent.addChild(childSeg, t.bitmapChildren)
		child := t.createChild(parent, childKey, childSeg)
		t.nodes[childKey] = child
		t.addNodeEntity(child, id)
		return true
	}

	t.addNodeEntity(parent, id)
	return true
}

// insertWithRebalancingSplitToChildren duplicates a straddling entity into
// every child slot it touches, recursing where the child already exists.
func (t *treeBase[K]) insertWithRebalancingSplitToChildren(parentKey K, parent *node[K], parentDepth int, loc morton.RangeLocation[K], id EntityID, locate locateFn[K]) {
	gen := t.si.ChildKeyGen(parentKey)
	for _, childSeg := range t.si.SplitSegments(loc) {
		childKey := gen.ChildKey(childSeg)
		if parent.hasChild(childSeg, t.bitmapChildren) {
			t.insertWithRebalancing(childKey, parentDepth+1, true, loc, id, locate)
			continue
		}
		parent.addChild(childSeg, t.bitmapChildren)
		child := t.createChild(parent, childKey, childSeg)
		t.nodes[childKey] = child
		t.addNodeEntity(child, id)
	}
}

// insertWithRebalancing is the shared incremental insert. At the smallest
// existing node on the entity's path it either appends, splits into touched
// children, creates the one child on the straddle-free path, or performs a
// local full rebalance of the node's entities.
func (t *treeBase[K]) insertWithRebalancing(parentKey K, parentDepth int, doSplit bool, loc morton.RangeLocation[K], id EntityID, locate locateFn[K]) bool {
	const (
		insertInParent = iota
		splitToChildren
		createOneChild
		fullRebalance
	)

	isEntitySplit := doSplit && !t.si.IsAllChildTouched(loc.TouchedDims)
	entityNodeKey := t.si.KeyAtDepth(loc, t.maxDepth)
	shouldInsertInParent := entityNodeKey == parentKey || (isEntitySplit && loc.Depth < parentDepth)

	parent := t.nodes[parentKey]

	var flow int
	switch {
	case parentDepth == t.maxDepth:
		flow = insertInParent
	case parent.hasAnyChild(t.bitmapChildren) && isEntitySplit && loc.Depth == parentDepth:
		flow = splitToChildren
	case parent.hasAnyChild(t.bitmapChildren) && !shouldInsertInParent:
		// The entity belongs deeper but its node does not exist yet; keep
		// entities in leaves by creating the one child on its path.
		flow = createOneChild
	case int(parent.entities.Len)+1 > t.maxElementsPerNode:
		flow = fullRebalance
	default:
		flow = insertInParent
	}

	switch flow {
	case createOneChild:
		childSeg := t.si.ChildSegmentAtLevel(loc.Loc, t.maxDepth-parentDepth)
		childKey := t.si.ChildKeyGen(parentKey).ChildKey(childSeg)

		parent.addChild(childSeg, t.bitmapChildren)
		child := t.createChild(parent, childKey, childSeg)
		t.nodes[childKey] = child
		t.addNodeEntity(child, id)

	case fullRebalance:
		gen := t.si.ChildKeyGen(parentKey)
		t.addNodeEntity(parent, id)

		entities := t.entitySlice(parent)
		count := len(entities)
		for i := 0; i < count; i++ {
			entityID := entities[i]
			entityLoc := locate(entityID)
			isLocSplit := doSplit && !t.si.IsAllChildTouched(entityLoc.TouchedDims)

			stuckDepth := entityLoc.Depth
			if isLocSplit {
				stuckDepth++
			}
			if stuckDepth <= parentDepth {
				continue // stuck in this node
			}

			if isLocSplit && entityLoc.Depth == parentDepth {
				t.insertWithRebalancingSplitToChildren(parentKey, parent, parentDepth, entityLoc, entityID, locate)
			} else {
				childSeg := t.si.ChildSegmentAtLevel(entityLoc.Loc, t.maxDepth-parentDepth)
				if parent.hasChild(childSeg, t.bitmapChildren) {
					entityNodeKey := t.si.KeyAtDepth(entityLoc, t.maxDepth)
					smallestKey, smallestDepth := t.findSmallestNodeKeyWithDepth(entityNodeKey)
					t.insertWithRebalancing(smallestKey, smallestDepth, doSplit, entityLoc, entityID, locate)
				} else {
					childKey := gen.ChildKey(childSeg)
					parent.addChild(childSeg, t.bitmapChildren)
					child := t.createChild(parent, childKey, childSeg)
					t.nodes[childKey] = child
					t.addNodeEntity(child, entityID)
				}
			}

			count--
			entities[i] = entities[count]
			i--
		}
		t.resizeNodeEntities(parent, count)

	case splitToChildren:
		t.insertWithRebalancingSplitToChildren(parentKey, parent, parentDepth, loc, id, locate)

	case insertInParent:
		t.addNodeEntity(parent, id)
	}

	return true
}

// eraseEntityBase removes an id wherever it is stored, walking the whole
// node map. multiNode covers split entities; renumber keeps ids dense for
// contiguous collections by decrementing every id above the removed one.
func (t *treeBase[K]) eraseEntityBase(id EntityID, multiNode, renumber bool) bool {
	var erasable []K
	erased := false
	for key, n := range t.nodes {
		if !t.removeNodeEntity(n, id) {
			continue
		}
		erased = true
		if !multiNode {
			t.removeNodeIfPossible(n)
			break
		}
		erasable = append(erasable, key)
	}

	if !erased {
		return false
	}

	for _, key := range erasable {
		t.removeNodeIfPossible(t.nodes[key])
	}

	if renumber {
		t.decreaseEntityIDs(id)
	}
	return true
}

func (t *treeBase[K]) decreaseEntityIDs(removedID EntityID) {
	for _, n := range t.nodes {
		s := t.entitySlice(n)
		for i, e := range s {
			if e > removedID {
				s[i] = e - 1
			}
		}
	}
}

// UpdateIndexes remaps stored entity ids in place. A mapping to NoEntity
// removes the id. In parallel mode the rewrite fans out over the node map;
// segment shrinking stays sequential, so results match the sequential path.
func (t *treeBase[K]) UpdateIndexes(updates map[EntityID]EntityID) {
	nodes := make([]*node[K], 0, len(t.nodes))
	for _, n := range t.nodes {
		nodes = append(nodes, n)
	}

	counts := make([]int, len(nodes))
	rewrite := func(i int) {
		n := nodes[i]
		s := t.entitySlice(n)
		count := len(s)
		for j := 0; j < count; j++ {
			replacement, ok := updates[s[j]]
			if !ok {
				continue
			}
			if replacement == NoEntity {
				count--
				s[j] = s[count]
				j--
				continue
			}
			s[j] = replacement
		}
		counts[i] = count
	}

	if t.parallel && len(nodes) > 1 {
		var g errgroup.Group
		g.SetLimit(runtime.GOMAXPROCS(0))
		for i := range nodes {
			g.Go(func() error {
				rewrite(i)
				return nil
			})
		}
		_ = g.Wait() // workers never fail
	} else {
		for i := range nodes {
			rewrite(i)
		}
	}

	for i, n := range nodes {
		t.resizeNodeEntities(n, counts[i])
	}
}

// Move translates the whole tree, entities excluded: cached centers and the
// space box shift by the offset.
func (t *treeBase[K]) Move(offset Point) {
	for _, n := range t.nodes {
		for d := range n.center {
			n.center[d] += offset[d]
		}
	}
	t.grid.Move(offset)
}

// Clear removes every node and entity except the root.
func (t *treeBase[K]) Clear() {
	rootKey := t.si.RootKey()
	for key, n := range t.nodes {
		if key == rootKey {
			continue
		}
		t.memory.Deallocate(n.entities)
		delete(t.nodes, key)
	}
	t.nodes[rootKey].clear()
}

// Reset drops all tree state; the tree must be rebuilt before reuse.
func (t *treeBase[K]) Reset() {
	t.nodes = nil
	t.memory.Reset()
	t.grid = grid.Indexing{}
}

// cloneBase deep-copies the tree. Every live entity segment relocates into a
// single fresh main page of the clone's allocator.
func (t *treeBase[K]) cloneBase() treeBase[K] {
	dst := *t
	dst.nodes = make(map[K]*node[K], len(t.nodes))
	dst.memory = segment.New[EntityID]()

	dst.nodeSizes = make([]Point, len(t.nodeSizes))
	for i, s := range t.nodeSizes {
		dst.nodeSizes[i] = append(Point(nil), s...)
	}
	dst.grid = t.grid.Clone()

	handles := make([]*segment.Handle, 0, len(t.nodes))
	for key, n := range t.nodes {
		cp := &node[K]{key: n.key, childBits: n.childBits, entities: n.entities}
		if n.childIDs != nil {
			cp.childIDs = append([]uint64(nil), n.childIDs...)
		}
		if n.center != nil {
			cp.center = append(Point(nil), n.center...)
		}
		dst.nodes[key] = cp
		handles = append(handles, &cp.entities)
	}
	t.memory.Clone(dst.memory, handles)

	return dst
}

// validateUniqueEntities reports whether no id is stored twice. It is a
// debugging aid for trees without split entities.
func (t *treeBase[K]) validateUniqueEntities() bool {
	seen := roaring.New()
	for _, n := range t.nodes {
		for _, id := range t.entitySlice(n) {
			if !seen.CheckedAdd(uint32(id)) {
				return false
			}
		}
	}
	return true
}

// estimateMaxDepth derives a depth from the expected leaf count so that the
// average leaf holds about maxElementsPerNode entities. A non-positive
// element limit yields 2 and is left for initBase to reject.
func estimateMaxDepth(entityCount, maxElementsPerNode, dim, limit int) int {
	if limit < 2 {
		return limit
	}
	if entityCount <= maxElementsPerNode || maxElementsPerNode < 1 {
		return 2
	}

	leafCount := entityCount / maxElementsPerNode
	depth := int(math.Log2(float64(leafCount)) / float64(dim))
	return max(2, min(depth, limit))
}

// estimateNodeNumber is a non-shrinking upper bound on the node count, good
// enough to amortize map growth during build.
func estimateNodeNumber(entityCount, maxDepth, maxElementsPerNode, dim int) int {
	if entityCount < 10 {
		return 10
	}

	if (maxDepth+1)*dim < 64 {
		maxChildCount := 1 << uint(maxDepth*dim)
		if entityCount/maxChildCount > maxElementsPerNode/2 {
			return maxChildCount
		}
	}

	avgPerNode := float64(entityCount) / float64(maxElementsPerNode)
	depthEstimate := min(maxDepth, int(math.Ceil((math.Log2(avgPerNode)+1)/float64(dim))))
	if depthEstimate*dim < 64 {
		return int(1.05 * math.Exp2(float64(depthEstimate*min(6, dim))))
	}
	return int(1.5 * avgPerNode)
}
