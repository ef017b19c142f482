package cloud

import "math"

type voxelKey struct {
	ix, iy, iz int32
}

// VoxelGrid downsamples points with a cubic voxel grid of the given
// leaf size (metres). Each occupied voxel is reduced to the single
// original point closest to the voxel's point centroid, so no
// synthetic points are introduced. A leaf size of zero or less
// returns the input unchanged.
func VoxelGrid(points []Point, leafSize float64) []Point {
	if leafSize <= 0 || len(points) == 0 {
		return points
	}

	type accum struct {
		sumX, sumY, sumZ float64
		indices          []int
	}
	voxels := make(map[voxelKey]*accum)

	for i, p := range points {
		key := voxelKey{
			ix: int32(math.Floor(p.X / leafSize)),
			iy: int32(math.Floor(p.Y / leafSize)),
			iz: int32(math.Floor(p.Z / leafSize)),
		}
		a := voxels[key]
		if a == nil {
			a = &accum{}
			voxels[key] = a
		}
		a.sumX += p.X
		a.sumY += p.Y
		a.sumZ += p.Z
		a.indices = append(a.indices, i)
	}

	out := make([]Point, 0, len(voxels))
	for _, a := range voxels {
		n := float64(len(a.indices))
		cx, cy, cz := a.sumX/n, a.sumY/n, a.sumZ/n

		best := a.indices[0]
		bestDist := math.MaxFloat64
		for _, idx := range a.indices {
			p := points[idx]
			dx, dy, dz := p.X-cx, p.Y-cy, p.Z-cz
			d := dx*dx + dy*dy + dz*dz
			if d < bestDist {
				bestDist = d
				best = idx
			}
		}
		out = append(out, points[best])
	}
	return out
}
