package cloud

import "time"

// Point is a single LiDAR return in Cartesian coordinates (metres).
type Point struct {
	X, Y, Z   float64
	Intensity uint8
}

// PointCloud is an ordered sequence of points sharing an acquisition
// timestamp. A cloud is owned by its producer until handed to the
// registration path, after which it must not be mutated.
type PointCloud struct {
	Stamp  time.Time
	Points []Point
}

// NewPointCloud wraps points with an acquisition stamp.
func NewPointCloud(stamp time.Time, points []Point) *PointCloud {
	return &PointCloud{Stamp: stamp, Points: points}
}

// Len returns the number of points in the cloud.
func (pc *PointCloud) Len() int {
	if pc == nil {
		return 0
	}
	return len(pc.Points)
}

// Transform returns a new point slice with every point moved by pose.
// The receiver is left untouched.
func Transform(points []Point, pose Pose) []Point {
	if len(points) == 0 {
		return nil
	}
	out := make([]Point, len(points))
	for i, p := range points {
		x, y, z := pose.Apply(p.X, p.Y, p.Z)
		out[i] = Point{X: x, Y: y, Z: z, Intensity: p.Intensity}
	}
	return out
}

// Merge concatenates the given point slices into a single slice.
func Merge(slices ...[]Point) []Point {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	if total == 0 {
		return nil
	}
	out := make([]Point, 0, total)
	for _, s := range slices {
		out = append(out, s...)
	}
	return out
}
