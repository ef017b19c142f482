package cloud

import "math"

// NNIndex answers bounded-radius nearest-neighbour queries over a
// fixed reference point slice using a regular 3D grid. The grid is
// built eagerly at construction and never mutated afterwards, so a
// query can never observe a stale or partially built index; indexing
// a different cloud means building a new NNIndex.
//
// Queries are exact for any radius up to the cell size: a query
// examines the 3x3x3 cell neighbourhood around the target, which
// covers every point within one cell size of it.
type NNIndex struct {
	cellSize float64
	points   []Point
	grid     map[voxelKey][]int32
}

// estimatedPointsPerCell sizes the grid map at construction.
const estimatedPointsPerCell = 4

// NewNNIndex builds a grid index over points. cellSize must be
// positive and at least as large as the largest radius that will be
// queried; choosing the correspondence cutoff as cell size is
// typical.
func NewNNIndex(points []Point, cellSize float64) *NNIndex {
	idx := &NNIndex{
		cellSize: cellSize,
		points:   points,
		grid:     make(map[voxelKey][]int32, len(points)/estimatedPointsPerCell+1),
	}
	for i, p := range points {
		key := idx.key(p.X, p.Y, p.Z)
		idx.grid[key] = append(idx.grid[key], int32(i))
	}
	return idx
}

// Len returns the number of indexed points.
func (idx *NNIndex) Len() int { return len(idx.points) }

// Point returns the indexed point at position i.
func (idx *NNIndex) Point(i int) Point { return idx.points[i] }

// CellSize returns the grid cell size the index was built with.
func (idx *NNIndex) CellSize() float64 { return idx.cellSize }

func (idx *NNIndex) key(x, y, z float64) voxelKey {
	return voxelKey{
		ix: int32(math.Floor(x / idx.cellSize)),
		iy: int32(math.Floor(y / idx.cellSize)),
		iz: int32(math.Floor(z / idx.cellSize)),
	}
}

// NearestWithin returns the index and squared distance of the indexed
// point nearest to (x, y, z), provided it lies within radius. ok is
// false when no indexed point is that close. radius must not exceed
// the cell size the index was built with.
func (idx *NNIndex) NearestWithin(x, y, z, radius float64) (nearest int, distSq float64, ok bool) {
	if radius > idx.cellSize {
		radius = idx.cellSize
	}
	maxDistSq := radius * radius

	cx := int32(math.Floor(x / idx.cellSize))
	cy := int32(math.Floor(y / idx.cellSize))
	cz := int32(math.Floor(z / idx.cellSize))

	nearest = -1
	bestSq := math.MaxFloat64
	for dx := int32(-1); dx <= 1; dx++ {
		for dy := int32(-1); dy <= 1; dy++ {
			for dz := int32(-1); dz <= 1; dz++ {
				cell := idx.grid[voxelKey{ix: cx + dx, iy: cy + dy, iz: cz + dz}]
				for _, i := range cell {
					p := idx.points[i]
					ddx := p.X - x
					ddy := p.Y - y
					ddz := p.Z - z
					d := ddx*ddx + ddy*ddy + ddz*ddz
					if d < bestSq {
						bestSq = d
						nearest = int(i)
					}
				}
			}
		}
	}
	if nearest < 0 || bestSq > maxDistSq {
		return -1, 0, false
	}
	return nearest, bestSq, true
}
