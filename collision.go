package mortree

import (
	"runtime"
	"sort"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/mortree/internal/morton"
)

// CollisionPair is one detected overlap between two entities.
type CollisionPair struct {
	First  EntityID
	Second EntityID
}

// CollisionFilter decides whether an AABB-overlapping pair is reported.
type CollisionFilter func(a, b EntityID) bool

// sortByMinX orders ids by the first coordinate of their box minimum, the
// sweep axis of the prune; ties break by id for determinism.
func sortByMinX(ids []EntityID, boxes []Box) {
	sort.Slice(ids, func(i, j int) bool {
		a, b := boxes[ids[i]].Min[0], boxes[ids[j]].Min[0]
		if a == b {
			return ids[i] < ids[j]
		}
		return a < b
	})
}

func sortUniquePairs(pairs []CollisionPair) []CollisionPair {
	bm := roaring64.New()
	for _, p := range pairs {
		bm.Add(uint64(uint32(p.First))<<32 | uint64(uint32(p.Second)))
	}

	out := pairs[:0]
	it := bm.Iterator()
	for it.HasNext() {
		v := it.Next()
		out = append(out, CollisionPair{First: EntityID(uint32(v >> 32)), Second: EntityID(uint32(v))})
	}
	return out
}

type collisionSideNode[K morton.Key[K]] struct {
	key       K
	n         *node[K]
	traversed bool
}

// CollisionDetectionWith returns all overlapping box pairs between this tree
// and another, ids of this tree first. Both trees walk down in lockstep; at
// each paired node the entity lists run a sweep-and-prune on the first axis.
func (t *BoxTreeG[K]) CollisionDetectionWith(boxes []Box, other *BoxTreeG[K], otherBoxes []Box) []CollisionPair {
	start := time.Now()

	trees := [2]*BoxTreeG[K]{t, other}
	sideBoxes := [2][]Box{boxes, otherBoxes}

	// Per-node min-x-sorted entity lists, built on first use.
	var caches [2]map[K][]EntityID
	caches[0] = make(map[K][]EntityID)
	caches[1] = make(map[K][]EntityID)
	sortedEntities := func(side int, key K, n *node[K]) []EntityID {
		if s, ok := caches[side][key]; ok {
			return s
		}
		s := append([]EntityID(nil), trees[side].entitySlice(n)...)
		sortByMinX(s, sideBoxes[side])
		caches[side][key] = s
		return s
	}

	results := make([]CollisionPair, 0, max(16, len(boxes)/10))

	queue := [][2]collisionSideNode[K]{{
		{key: t.si.RootKey(), n: t.nodes[t.si.RootKey()]},
		{key: other.si.RootKey(), n: other.nodes[other.si.RootKey()]},
	}}

	for len(queue) > 0 {
		pair := queue[0]
		queue = queue[1:]

		leftSorted := sortedEntities(0, pair[0].key, pair[0].n)
		rightSorted := sortedEntities(1, pair[1].key, pair[1].n)

		rightBegin := 0
		for _, leftID := range leftSorted {
			leftBox := boxes[leftID]
			for rightBegin < len(rightSorted) && otherBoxes[rightSorted[rightBegin]].Max[0] < leftBox.Min[0] {
				rightBegin++
			}
			for i := rightBegin; i < len(rightSorted); i++ {
				rightID := rightSorted[i]
				if leftBox.Max[0] < otherBoxes[rightID].Min[0] {
					break
				}
				if AreBoxesOverlapped(leftBox, otherBoxes[rightID], false, false) {
					results = append(results, CollisionPair{First: leftID, Second: rightID})
				}
			}
		}

		var children [2][]collisionSideNode[K]
		for side := 0; side < 2; side++ {
			if pair[side].traversed {
				continue
			}
			tree := trees[side]
			gen := tree.si.ChildKeyGen(pair[side].key)
			pair[side].n.eachChildSegment(tree.bitmapChildren, func(seg uint64) bool {
				childKey := gen.ChildKey(seg)
				children[side] = append(children[side], collisionSideNode[K]{key: childKey, n: tree.nodes[childKey]})
				return true
			})
		}

		if len(children[0]) == 0 && len(children[1]) == 0 {
			continue
		}

		// The parent keeps interacting with the opposing subtree while it
		// still holds entities.
		for side := 0; side < 2; side++ {
			if len(trees[side].entitySlice(pair[side].n)) > 0 {
				children[side] = append(children[side], collisionSideNode[K]{key: pair[side].key, n: pair[side].n, traversed: true})
			}
		}

		for _, leftChild := range children[0] {
			for _, rightChild := range children[1] {
				if leftChild.key == pair[0].key && rightChild.key == pair[1].key {
					continue
				}
				if boxesOverlapByCenter(
					t.nodeCenter(leftChild.key, leftChild.n),
					other.nodeCenter(rightChild.key, rightChild.n),
					t.nodeSize(t.si.Depth(leftChild.key)),
					other.nodeSize(other.si.Depth(rightChild.key)),
				) {
					queue = append(queue, [2]collisionSideNode[K]{leftChild, rightChild})
				}
			}
		}
	}

	if t.splitEntities || other.splitEntities {
		results = sortUniquePairs(results)
	}

	t.logger.LogSearch("collision_pair", len(results))
	t.metrics.RecordSearch("collision_pair", len(results), time.Since(start))
	return results
}

// nodeCollisionContext is the per-node working set of the self-tree
// bottom-up detection: the cell center and box plus the min-x-sorted entity
// list, with split duplicates lifted to the ancestor that spans them.
type nodeCollisionContext struct {
	center Point
	box    Box
	ids    []EntityID
}

func (t *BoxTreeG[K]) fillCollisionContext(key K, n *node[K], depth int, ctx *nodeCollisionContext) {
	ctx.ids = append(ctx.ids[:0], t.entitySlice(n)...)
	ctx.center = t.nodeCenter(key, n)
	ctx.box = t.nodeBox(depth, ctx.center)
}

// prepareCollisionContext lifts the split duplicates whose own depth is
// above the current one into the parent context (deduplicated there) and
// sorts the remainder by min-x.
func (t *BoxTreeG[K]) prepareCollisionContext(boxes []Box, depth int, ctx, parentCtx *nodeCollisionContext, lifted *[]EntityID) {
	if t.splitEntities && parentCtx != nil {
		count := len(ctx.ids)
		for i := 0; i < count; i++ {
			id := ctx.ids[i]
			if t.boxLocation(boxes[id]).Depth >= depth {
				continue
			}

			parentCtx.ids = append(parentCtx.ids, id)
			if lifted != nil {
				*lifted = append(*lifted, id)
			}

			count--
			ctx.ids[i] = ctx.ids[count]
			i--
		}
		ctx.ids = ctx.ids[:count]

		sortByMinX(parentCtx.ids, boxes)
		parentCtx.ids = uniqueIDs(parentCtx.ids)
	}

	sortByMinX(ctx.ids, boxes)
}

func uniqueIDs(ids []EntityID) []EntityID {
	if len(ids) < 2 {
		return ids
	}
	out := ids[:1]
	for _, id := range ids[1:] {
		if id != out[len(out)-1] {
			out = append(out, id)
		}
	}
	return out
}

// collideInsideNode sweeps the node's own sorted list against itself.
func (t *BoxTreeG[K]) collideInsideNode(boxes []Box, ctx *nodeCollisionContext, out *[]CollisionPair, filter CollisionFilter) {
	ids := ctx.ids
	for i := 0; i < len(ids); i++ {
		boxI := boxes[ids[i]]
		for j := i + 1; j < len(ids); j++ {
			boxJ := boxes[ids[j]]
			if boxI.Max[0] < boxJ.Min[0] {
				break
			}
			if AreBoxesOverlappedStrict(boxI, boxJ) && (filter == nil || filter(ids[i], ids[j])) {
				*out = append(*out, CollisionPair{First: ids[i], Second: ids[j]})
			}
		}
	}
}

// collideWithParents sweeps the node's list against every ancestor context,
// gated by center-distance overlap of the ancestor entity with the node
// cell.
func (t *BoxTreeG[K]) collideWithParents(boxes []Box, depth int, stack []nodeCollisionContext, out *[]CollisionPair, filter CollisionFilter) {
	ctx := &stack[depth]
	nodeSizes := t.nodeSize(depth)
	ids := ctx.ids

	for parentDepth := 0; parentDepth < depth; parentDepth++ {
		parentCtx := &stack[parentDepth]

		begin := 0
		for _, parentID := range parentCtx.ids {
			parentBox := boxes[parentID]
			if parentBox.Min[0] > ctx.box.Max[0] {
				break
			}

			if !boxesOverlapByCenter(ctx.center, BoxCenter(parentBox), nodeSizes, BoxSize(parentBox)) {
				continue
			}

			for begin < len(ids) && boxes[ids[begin]].Max[0] < parentBox.Min[0] {
				begin++
			}
			for i := begin; i < len(ids); i++ {
				entityBox := boxes[ids[i]]
				if parentBox.Max[0] < entityBox.Min[0] {
					break
				}
				if AreBoxesOverlappedStrict(entityBox, parentBox) && (filter == nil || filter(ids[i], parentID)) {
					*out = append(*out, CollisionPair{First: ids[i], Second: parentID})
				}
			}
		}
	}
}

func (t *BoxTreeG[K]) collideSubtree(boxes []Box, depth int, key K, stack []nodeCollisionContext, out *[]CollisionPair, filter CollisionFilter, lifted *[]EntityID) {
	n := t.nodes[key]

	t.fillCollisionContext(key, n, depth, &stack[depth])
	var parentCtx *nodeCollisionContext
	if depth > 0 {
		parentCtx = &stack[depth-1]
	}
	t.prepareCollisionContext(boxes, depth, &stack[depth], parentCtx, lifted)

	gen := t.si.ChildKeyGen(key)
	n.eachChildSegment(t.bitmapChildren, func(seg uint64) bool {
		t.collideSubtree(boxes, depth+1, gen.ChildKey(seg), stack, out, filter, nil)
		return true
	})

	t.collideInsideNode(boxes, &stack[depth], out, filter)
	t.collideWithParents(boxes, depth, stack, out, filter)
}

// CollisionDetection returns all overlapping pairs among the stored boxes,
// each unordered pair at most once. With WithParallel set at construction
// the subtrees below a BFS frontier fan out to workers.
func (t *BoxTreeG[K]) CollisionDetection(boxes []Box) []CollisionPair {
	return t.CollisionDetectionWithFilter(boxes, nil)
}

// CollisionDetectionWithFilter is CollisionDetection with a pair predicate
// applied after AABB overlap.
func (t *BoxTreeG[K]) CollisionDetectionWithFilter(boxes []Box, filter CollisionFilter) []CollisionPair {
	start := time.Now()

	var results []CollisionPair
	if t.parallel {
		results = t.collideParallel(boxes, filter)
	} else {
		results = make([]CollisionPair, 0, max(100, len(boxes)/10))
		stack := make([]nodeCollisionContext, t.maxDepth+1)
		t.collideSubtree(boxes, 0, t.si.RootKey(), stack, &results, filter, nil)
	}

	t.logger.LogSearch("collision", len(results))
	t.metrics.RecordSearch("collision", len(results), time.Since(start))
	return results
}

type collisionFrontierNode[K morton.Key[K]] struct {
	key K
	n   *node[K]
}

// collideParallel chooses a frontier of about workers*2 nodes by BFS,
// prepares the frontier ancestors' contexts sequentially, farms each
// frontier subtree to a worker, then absorbs the lifted entities and
// processes the short interior path sequentially.
func (t *BoxTreeG[K]) collideParallel(boxes []Box, filter CollisionFilter) []CollisionPair {
	workers := runtime.GOMAXPROCS(0)
	if len(t.nodes) < workers*3 {
		results := make([]CollisionPair, 0, max(100, len(boxes)/10))
		stack := make([]nodeCollisionContext, t.maxDepth+1)
		t.collideSubtree(boxes, 0, t.si.RootKey(), stack, &results, filter, nil)
		return results
	}

	rootKey := t.si.RootKey()
	nodeQueue := []collisionFrontierNode[K]{{key: rootKey, n: t.nodes[rootKey]}}
	contexts := make(map[K]*nodeCollisionContext)

	pending := 1
	interior := 0
	for ; pending > 0 && pending < workers*2; interior++ {
		fn := nodeQueue[interior]
		pending--

		gen := t.si.ChildKeyGen(fn.key)
		fn.n.eachChildSegment(t.bitmapChildren, func(seg uint64) bool {
			childKey := gen.ChildKey(seg)
			nodeQueue = append(nodeQueue, collisionFrontierNode[K]{key: childKey, n: t.nodes[childKey]})
			pending++
			return true
		})

		depth := t.si.Depth(fn.key)
		ctx := &nodeCollisionContext{}
		t.fillCollisionContext(fn.key, fn.n, depth, ctx)
		var parentCtx *nodeCollisionContext
		if interior > 0 {
			parentCtx = contexts[t.si.Parent(fn.key)]
		}
		contexts[fn.key] = ctx
		t.prepareCollisionContext(boxes, depth, ctx, parentCtx, nil)
	}

	if pending == 0 {
		results := make([]CollisionPair, 0, max(100, len(boxes)/10))
		stack := make([]nodeCollisionContext, t.maxDepth+1)
		t.collideSubtree(boxes, 0, rootKey, stack, &results, filter, nil)
		return results
	}

	frontier := nodeQueue[len(nodeQueue)-pending:]

	type taskResult struct {
		pairs  []CollisionPair
		lifted []EntityID
	}
	taskResults := make([]taskResult, len(frontier))

	var g errgroup.Group
	g.SetLimit(workers)
	for i, fn := range frontier {
		g.Go(func() error {
			depth := t.si.Depth(fn.key)

			stack := make([]nodeCollisionContext, t.maxDepth+1)
			parentDepth := depth
			for parentKey := t.si.Parent(fn.key); t.si.IsValid(parentKey); parentKey = t.si.Parent(parentKey) {
				parentDepth--
				ctx := contexts[parentKey]
				stack[parentDepth] = nodeCollisionContext{
					center: ctx.center,
					box:    ctx.box,
					ids:    append([]EntityID(nil), ctx.ids...),
				}
			}

			t.collideSubtree(boxes, depth, fn.key, stack, &taskResults[i].pairs, filter, &taskResults[i].lifted)
			return nil
		})
	}
	_ = g.Wait() // workers never fail

	// Frontier parents absorb the entities lifted by their workers.
	if t.splitEntities {
		absorbed := make(map[K][]EntityID)
		for i, fn := range frontier {
			parentKey := t.si.Parent(fn.key)
			absorbed[parentKey] = append(absorbed[parentKey], taskResults[i].lifted...)
		}
		for parentKey, ids := range absorbed {
			ctx := contexts[parentKey]
			ctx.ids = append(ctx.ids, ids...)
			sortByMinX(ctx.ids, boxes)
			ctx.ids = uniqueIDs(ctx.ids)
		}
	}

	// The short path from the frontier parents up to the root runs
	// sequentially over the prepared contexts.
	results := make([]CollisionPair, 0, max(100, len(boxes)/10))
	stack := make([]nodeCollisionContext, t.maxDepth+1)
	for _, fn := range nodeQueue[:interior] {
		depth := 0
		var chain []K
		for key := fn.key; t.si.IsValid(key); key = t.si.Parent(key) {
			chain = append(chain, key)
		}
		for i := len(chain) - 1; i >= 0; i-- {
			stack[depth] = *contexts[chain[i]]
			depth++
		}
		depth--

		t.collideInsideNode(boxes, &stack[depth], &results, filter)
		t.collideWithParents(boxes, depth, stack, &results, filter)
	}

	for i := range taskResults {
		results = append(results, taskResults[i].pairs...)
	}
	return results
}
