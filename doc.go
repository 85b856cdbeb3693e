// Package mortree provides N-dimensional linear orthotrees (generalized
// quad/oct/hyper-trees): non-owning spatial indexes that organize point or
// axis-aligned box entities into a hash-addressed hierarchy keyed by the
// Morton (Z-order) curve.
//
// The trees support:
//
//   - Bulk construction over pre-computed Morton locations, with an optional
//     parallel sort of the location array
//   - Incremental insert with local rebalancing, erase and update
//   - Range search with dimension-masked pruning
//   - k-nearest-neighbor search with wall-distance ordering
//   - Ray casts (first hit and all hits) with early termination
//   - Hyperplane intersection, positive-side segmentation and frustum culling
//   - Same-tree and cross-tree broad-phase collision detection with
//     sweep-and-prune, optionally fanned out over a parallel node frontier
//
// # Non-owning contract
//
// A tree stores entity ids only. The caller keeps the geometry collection
// (a []Point or []Box indexed by dense ids) and passes it to every operation
// that needs coordinates. Mutating the collection without updating the tree
// invalidates query results.
//
// # Quick start
//
//	points := []mortree.Point{{0, 0, 0}, {1, 0, 0}, {1, 1, 1}}
//	tree, err := mortree.NewPointTree(3, points,
//	    mortree.WithMaxDepth(4),
//	    mortree.WithMaxElementsPerNode(2),
//	)
//	if err != nil {
//	    panic(err)
//	}
//
//	inRange := tree.RangeSearch(mortree.NewBox(
//	    mortree.Point{0.5, -0.5, -0.5},
//	    mortree.Point{1.5, 1.5, 1.5},
//	), points)
//
//	nearest := tree.NearestNeighbors(mortree.Point{0.9, 0.9, 0.9}, 2, points)
//
// Box trees work the same way over []Box and additionally offer pick search,
// ray casts and collision detection. By default a box straddling child
// mid-planes is duplicated into every child it touches, which keeps leaves
// tight; query results are deduplicated transparently. WithoutSplitEntities
// switches to storing such boxes at the deepest fully containing node.
//
// # Dimension limits
//
// PointTree and BoxTree carry location ids in a machine word and serve
// dimensions 1 through 15 at full depth. HighDimPointTree and HighDimBoxTree
// use a wide fixed-size key for dimensions up to 63 with a bounded
// subdivision depth.
//
// # Concurrency
//
// Read queries on an unmutated tree are safe to run concurrently. Mutations
// require exclusive access; the tree performs no internal locking. The
// WithParallel option only parallelizes internally (bulk-build sort,
// UpdateIndexes, collision detection) and never changes results.
package mortree
