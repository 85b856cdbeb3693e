package mortree

import (
	"sort"
	"time"

	"github.com/hupe1980/mortree/internal/queue"
)

// knnState carries the bounded candidate heap of one nearest-neighbor
// search. The max-heap keeps the k best candidates; farthest is the current
// k-th distance and gates every further node and entity visit.
type knnState struct {
	heap     *queue.PriorityQueue
	k        int
	farthest float64
	ord      int
}

func (s *knnState) add(id EntityID, distance float64) {
	if distance >= s.farthest {
		return
	}

	item := queue.Item{ID: id, Distance: distance, Ord: s.ord}
	s.ord++

	if s.heap.Len() < s.k {
		s.heap.Push(item)
		if s.heap.Len() == s.k {
			top, _ := s.heap.Top()
			s.farthest = top.Distance
		}
		return
	}

	s.heap.ReplaceTop(item)
	top, _ := s.heap.Top()
	s.farthest = top.Distance
}

func (s *knnState) results() []EntityID {
	items := append([]queue.Item(nil), s.heap.Items()...)
	sort.Slice(items, func(i, j int) bool {
		if items[i].Distance == items[j].Distance {
			return items[i].Ord < items[j].Ord
		}
		return items[i].Distance < items[j].Distance
	})

	ids := make([]EntityID, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	return ids
}

// nodeWallDistance is the distance from the search point to the nearest
// face of the node cell.
func (t *treeBase[K]) nodeWallDistance(p Point, key K, n *node[K], insideZero bool) float64 {
	half := t.nodeSize(t.si.Depth(key) + 1)
	return wallDistance(p, t.nodeCenter(key, n), half, insideZero)
}

// NearestNeighborsWithin returns up to k ids within maxDistance of the
// search point, sorted by ascending distance; distance ties keep candidate
// discovery order.
//
// The search starts at the smallest node containing the point, sweeps its
// ancestors' entities, then traverses subtrees in wall-distance order,
// skipping cells farther than the current k-th candidate.
func (t *PointTreeG[K]) NearestNeighborsWithin(p Point, k int, maxDistance float64, points []Point) []EntityID {
	if k < 1 {
		return nil
	}
	start := time.Now()

	state := &knnState{heap: queue.NewMax(k), k: k, farthest: maxDistance}

	smallestKey := t.FindSmallestNodeKey(t.entityNodeKey(p))
	if !t.si.IsValid(smallestKey) {
		smallestKey = t.si.RootKey()
	}

	addEntities := func(n *node[K]) {
		for _, id := range t.entitySlice(n) {
			state.add(id, Distance(p, points[id]))
		}
	}

	// Ancestor sweep: in the usual case parents hold no entities, but
	// inserted ids can sit above the leaves.
	for key := smallestKey; t.si.IsValid(key); key = t.si.Parent(key) {
		if n, ok := t.nodes[key]; ok {
			addEntities(n)
		}
	}

	// Wall-distance ordered descent, widening from the smallest node to the
	// root; prevKey skips the already-traversed subtree at each widening.
	prevKey := t.si.NoneKey()
	for key := smallestKey; t.si.IsValid(key); prevKey, key = key, t.si.Parent(key) {
		n, ok := t.nodes[key]
		if !ok {
			continue
		}

		t.knnDescend(p, points, key, n, prevKey, key, state, addEntities)

		if wall := t.nodeWallDistance(p, key, n, false); state.farthest < wall {
			break
		}
	}

	ids := state.results()
	t.logger.LogSearch("knn", len(ids))
	t.metrics.RecordSearch("knn", len(ids), time.Since(start))
	return ids
}

type knnChild[K any] struct {
	key      K
	distance float64
}

func (t *PointTreeG[K]) knnDescend(p Point, points []Point, key K, n *node[K], prevKey, selfKey K, state *knnState, addEntities func(*node[K])) {
	if key != selfKey {
		if key == prevKey {
			return // previous widening already covered this subtree
		}
		addEntities(n)
	}

	var children []knnChild[K]
	gen := t.si.ChildKeyGen(key)
	n.eachChildSegment(t.bitmapChildren, func(seg uint64) bool {
		childKey := gen.ChildKey(seg)
		child := t.nodes[childKey]
		wall := t.nodeWallDistance(p, childKey, child, true)
		if wall <= state.farthest {
			children = append(children, knnChild[K]{key: childKey, distance: wall})
		}
		return true
	})

	sort.Slice(children, func(i, j int) bool { return children[i].distance < children[j].distance })

	for _, child := range children {
		if child.distance > state.farthest {
			continue
		}
		t.knnDescend(p, points, child.key, t.nodes[child.key], prevKey, selfKey, state, addEntities)
	}
}
