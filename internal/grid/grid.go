// Package grid maps world coordinates to integer grid ids at the tree's
// maximum raster resolution and back to cell centers.
package grid

import "math"

// GridID is one integer grid coordinate at the maximum raster resolution.
type GridID = uint32

// Indexing caches the raster resolution, the space box extents and the
// per-dimension rasterizer factors (resolution / extent).
type Indexing struct {
	dim           int
	resolution    GridID
	maxRasterID   GridID
	spaceMin      []float64
	spaceMax      []float64
	sizes         []float64
	rasterFactors []float64
	volume        float64
}

// New builds the indexing for a space box subdivided maxDepth times.
// Flat dimensions (zero extent) rasterize everything to grid id 0.
func New(dim, maxDepth int, spaceMin, spaceMax []float64) Indexing {
	resolution := GridID(1) << uint(maxDepth)

	g := Indexing{
		dim:           dim,
		resolution:    resolution,
		maxRasterID:   resolution - 1,
		spaceMin:      append([]float64(nil), spaceMin...),
		spaceMax:      append([]float64(nil), spaceMax...),
		sizes:         make([]float64, dim),
		rasterFactors: make([]float64, dim),
		volume:        1,
	}

	for d := 0; d < dim; d++ {
		g.sizes[d] = spaceMax[d] - spaceMin[d]
		if g.sizes[d] == 0 {
			g.rasterFactors[d] = 1
		} else {
			g.rasterFactors[d] = float64(resolution) / g.sizes[d]
		}
		g.volume *= g.sizes[d]
	}

	return g
}

// Clone returns a deep copy of the indexing.
func (g *Indexing) Clone() Indexing {
	cp := *g
	cp.spaceMin = append([]float64(nil), g.spaceMin...)
	cp.spaceMax = append([]float64(nil), g.spaceMax...)
	cp.sizes = append([]float64(nil), g.sizes...)
	cp.rasterFactors = append([]float64(nil), g.rasterFactors...)
	return cp
}

// Dim returns the dimension count.
func (g *Indexing) Dim() int { return g.dim }

// Resolution returns the grid id count per dimension (2^maxDepth).
func (g *Indexing) Resolution() GridID { return g.resolution }

// SpaceMin returns the lower corner of the handled space.
func (g *Indexing) SpaceMin() []float64 { return g.spaceMin }

// SpaceMax returns the upper corner of the handled space.
func (g *Indexing) SpaceMax() []float64 { return g.spaceMax }

// Sizes returns the per-dimension extents of the handled space.
func (g *Indexing) Sizes() []float64 { return g.sizes }

// Volume returns the volume of the handled space.
func (g *Indexing) Volume() float64 { return g.volume }

// Move translates the handled space box.
func (g *Indexing) Move(offset []float64) {
	for d := 0; d < g.dim; d++ {
		g.spaceMin[d] += offset[d]
		g.spaceMax[d] += offset[d]
	}
}

// ContainsPoint reports whether the point lies in the handled space.
func (g *Indexing) ContainsPoint(point []float64) bool {
	for d := 0; d < g.dim; d++ {
		if point[d] < g.spaceMin[d] || point[d] > g.spaceMax[d] {
			return false
		}
	}
	return true
}

// ContainsBox reports whether the box lies entirely in the handled space.
func (g *Indexing) ContainsBox(boxMin, boxMax []float64) bool {
	for d := 0; d < g.dim; d++ {
		if boxMin[d] < g.spaceMin[d] || boxMax[d] > g.spaceMax[d] {
			return false
		}
	}
	return true
}

// PointGridID rasterizes a point, clamping each component into
// [0, resolution-1].
func (g *Indexing) PointGridID(point []float64) []GridID {
	gridIDs := make([]GridID, g.dim)
	for d := 0; d < g.dim; d++ {
		component := point[d] - g.spaceMin[d]
		if component < 0 {
			component = 0
		}
		rasterID := component * g.rasterFactors[d]
		gridIDs[d] = min(g.maxRasterID, GridID(rasterID))
	}
	return gridIDs
}

// BoxGridIDRange rasterizes a box into its lower and upper grid corners.
// An upper component landing exactly on a grid line stays in the lower cell,
// so boxes touching a cell boundary from below do not leak into the next
// cell.
func (g *Indexing) BoxGridIDRange(boxMin, boxMax []float64) (lo, hi []GridID) {
	lo = make([]GridID, g.dim)
	hi = make([]GridID, g.dim)

	for d := 0; d < g.dim; d++ {
		minRaster := (boxMin[d] - g.spaceMin[d]) * g.rasterFactors[d]
		maxRaster := (boxMax[d] - g.spaceMin[d]) * g.rasterFactors[d]

		lo[d] = GridID(clamp(minRaster, 0, float64(g.resolution)))
		hi[d] = GridID(clamp(maxRaster, 0, float64(g.resolution)))

		if (lo[d] != hi[d] && math.Floor(maxRaster) == maxRaster) || hi[d] >= g.resolution {
			hi[d]--
		}
	}

	return lo, hi
}

// BoxGridIDRangeClamped rasterizes a box that may extend beyond the handled
// space, clamping both corners like points. Query ranges of point trees use
// it; the gridline correction of BoxGridIDRange does not apply.
func (g *Indexing) BoxGridIDRangeClamped(boxMin, boxMax []float64) (lo, hi []GridID) {
	lo = make([]GridID, g.dim)
	hi = make([]GridID, g.dim)

	for d := 0; d < g.dim; d++ {
		minRaster := (boxMin[d] - g.spaceMin[d]) * g.rasterFactors[d]
		maxRaster := (boxMax[d] - g.spaceMin[d]) * g.rasterFactors[d]
		if minRaster < 0 {
			minRaster = 0
		}
		if maxRaster < 0 {
			maxRaster = 0
		}
		lo[d] = min(g.maxRasterID, GridID(minRaster))
		hi[d] = min(g.maxRasterID, GridID(maxRaster))
	}

	return lo, hi
}

// EdgePointGridIDs rasterizes a point into a grid id pair where the lower id
// steps back one cell on every axis where the point coincides with a grid
// line. Pick searches use it to examine neighbouring cells of boundary
// points.
func (g *Indexing) EdgePointGridIDs(point []float64) (lo, hi []GridID) {
	lo = make([]GridID, g.dim)
	hi = make([]GridID, g.dim)

	for d := 0; d < g.dim; d++ {
		rasterID := clamp((point[d]-g.spaceMin[d])*g.rasterFactors[d], 0, float64(g.maxRasterID))
		lo[d] = GridID(rasterID)
		hi[d] = lo[d]

		if lo[d] > 0 && lo[d] < g.resolution && math.Floor(rasterID) == rasterID {
			lo[d]--
		}
	}

	return lo, hi
}

// CellCenter returns the world coordinates of the center of the cell at the
// given grid ids, where centerLevel counts levels above the leaf resolution.
func (g *Indexing) CellCenter(gridIDs []GridID, centerLevel int) []float64 {
	halfGrid := float64(uint64(1)<<uint(centerLevel)) * 0.5

	center := make([]float64, g.dim)
	for d := 0; d < g.dim; d++ {
		center[d] = (float64(gridIDs[d])+halfGrid)/g.rasterFactors[d] + g.spaceMin[d]
	}
	return center
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}
