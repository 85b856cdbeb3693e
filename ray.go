package mortree

import (
	"sort"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/mortree/internal/morton"
)

type entityDistance struct {
	distance float64
	id       EntityID
}

// nodeRayDistance runs the slab test against a node cell.
func (t *treeBase[K]) nodeRayDistance(key K, n *node[K], origin, direction Point, tolerance float64) (float64, bool) {
	half := t.nodeSize(t.si.Depth(key) + 1)
	return rayCellDistance(t.nodeCenter(key, n), half, origin, direction, tolerance)
}

// RayIntersectedAll returns the ids of all boxes hit by the ray, sorted by
// ascending hit distance. maxDistance of zero means unlimited; with
// splitting enabled duplicates collapse to their nearest hit.
func (t *BoxTreeG[K]) RayIntersectedAll(origin, direction Point, boxes []Box, tolerance, maxDistance float64) []EntityID {
	start := time.Now()

	found := make([]entityDistance, 0, 20)
	t.rayAllRecursive(t.si.RootKey(), boxes, origin, direction, tolerance, maxDistance, &found)

	sort.Slice(found, func(i, j int) bool {
		if found[i].distance == found[j].distance {
			return found[i].id < found[j].id
		}
		return found[i].distance < found[j].distance
	})

	ids := make([]EntityID, 0, len(found))
	if t.splitEntities {
		seen := roaring.New()
		for _, fd := range found {
			if seen.CheckedAdd(uint32(fd.id)) {
				ids = append(ids, fd.id)
			}
		}
	} else {
		for _, fd := range found {
			ids = append(ids, fd.id)
		}
	}

	t.logger.LogSearch("ray_all", len(ids))
	t.metrics.RecordSearch("ray_all", len(ids), time.Since(start))
	return ids
}

// RayIntersectedAllByRay is RayIntersectedAll over a Ray value.
func (t *BoxTreeG[K]) RayIntersectedAllByRay(ray Ray, boxes []Box, tolerance, maxDistance float64) []EntityID {
	return t.RayIntersectedAll(ray.Origin, ray.Direction, boxes, tolerance, maxDistance)
}

func (t *BoxTreeG[K]) rayAllRecursive(key K, boxes []Box, origin, direction Point, tolerance, maxDistance float64, found *[]entityDistance) {
	n := t.nodes[key]
	if _, hit := t.nodeRayDistance(key, n, origin, direction, tolerance); !hit {
		return
	}

	for _, id := range t.entitySlice(n) {
		distance, hit := GetRayBoxDistance(boxes[id], origin, direction, tolerance)
		if hit && (maxDistance == 0 || distance <= maxDistance) {
			*found = append(*found, entityDistance{distance: distance, id: id})
		}
	}

	gen := t.si.ChildKeyGen(key)
	n.eachChildSegment(t.bitmapChildren, func(seg uint64) bool {
		t.rayAllRecursive(gen.ChildKey(seg), boxes, origin, direction, tolerance, maxDistance, found)
		return true
	})
}

// RayIntersectedFirst returns the id of the nearest box hit by the ray. The
// second result is false when nothing is hit.
//
// The descent orders children by ascending ray-to-cell distance and prunes a
// child as soon as its entry distance (less tolerance) cannot beat the best
// hit so far.
func (t *BoxTreeG[K]) RayIntersectedFirst(origin, direction Point, boxes []Box, tolerance float64) (EntityID, bool) {
	start := time.Now()

	rootKey := t.si.RootKey()
	root := t.nodes[rootKey]
	if _, hit := t.nodeRayDistance(rootKey, root, origin, direction, tolerance); !hit {
		return 0, false
	}

	var best *entityDistance
	t.rayFirstRecursive(rootKey, root, boxes, origin, direction, tolerance, &best)

	resultCount := 0
	if best != nil {
		resultCount = 1
	}
	t.logger.LogSearch("ray_first", resultCount)
	t.metrics.RecordSearch("ray_first", resultCount, time.Since(start))

	if best == nil {
		return 0, false
	}
	return best.id, true
}

// RayIntersectedFirstByRay is RayIntersectedFirst over a Ray value.
func (t *BoxTreeG[K]) RayIntersectedFirstByRay(ray Ray, boxes []Box, tolerance float64) (EntityID, bool) {
	return t.RayIntersectedFirst(ray.Origin, ray.Direction, boxes, tolerance)
}

type nodeDistance[K morton.Key[K]] struct {
	distance float64
	key      K
	n        *node[K]
}

func (t *BoxTreeG[K]) rayFirstRecursive(key K, n *node[K], boxes []Box, origin, direction Point, tolerance float64, best **entityDistance) {
	for _, id := range t.entitySlice(n) {
		distance, hit := GetRayBoxDistance(boxes[id], origin, direction, tolerance)
		if !hit {
			continue
		}
		if *best == nil || (*best).distance > distance {
			*best = &entityDistance{distance: distance, id: id}
		}
	}

	var childDistances []nodeDistance[K]
	gen := t.si.ChildKeyGen(key)
	n.eachChildSegment(t.bitmapChildren, func(seg uint64) bool {
		childKey := gen.ChildKey(seg)
		child := t.nodes[childKey]
		distance, hit := t.nodeRayDistance(childKey, child, origin, direction, tolerance)
		if !hit {
			return true
		}
		if *best != nil && distance > (*best).distance {
			return true
		}
		childDistances = append(childDistances, nodeDistance[K]{distance: distance, key: childKey, n: child})
		return true
	})

	sort.Slice(childDistances, func(i, j int) bool {
		return childDistances[i].distance < childDistances[j].distance
	})

	for _, cd := range childDistances {
		if *best != nil && cd.distance-tolerance >= (*best).distance {
			break
		}
		t.rayFirstRecursive(cd.key, cd.n, boxes, origin, direction, tolerance, best)
	}
}
