package localization

import (
	"math"
	"time"

	"github.com/banshee-data/relocalize/internal/cloud"
	"github.com/banshee-data/relocalize/internal/localmap"
)

// PoseRange bounds a coarse relocalization search: a rectangle in the
// map XY plane plus a yaw interval in radians.
type PoseRange struct {
	MinX, MaxX     float64
	MinY, MaxY     float64
	MinYaw, MaxYaw float64
}

// RangeAround returns a PoseRange centred on pose with the given
// planar radius and the full yaw circle.
func RangeAround(pose cloud.Pose, radius float64) PoseRange {
	x, y, _ := pose.Translation()
	return PoseRange{
		MinX: x - radius, MaxX: x + radius,
		MinY: y - radius, MaxY: y + radius,
		MinYaw: -math.Pi, MaxYaw: math.Pi,
	}
}

// Localizer is the incremental scan-matching capability: register a
// cloud against the local map starting from a seed pose. It reports
// failure by returning ok=false rather than an error.
type Localizer interface {
	Register(pc *cloud.PointCloud, seed cloud.Pose, lm *localmap.LocalMap) (cloud.Pose, bool)
}

// RegisterFunc adapts a function to the Localizer interface.
type RegisterFunc func(pc *cloud.PointCloud, seed cloud.Pose, lm *localmap.LocalMap) (cloud.Pose, bool)

// Register calls f.
func (f RegisterFunc) Register(pc *cloud.PointCloud, seed cloud.Pose, lm *localmap.LocalMap) (cloud.Pose, bool) {
	return f(pc, seed, lm)
}

// GlobalLocalizer is the coarse relocalization capability: search a
// pose range for the cloud's pose without an accurate prior.
type GlobalLocalizer interface {
	Search(pc *cloud.PointCloud, r PoseRange) (cloud.Pose, bool)
}

// SearchFunc adapts a function to the GlobalLocalizer interface.
type SearchFunc func(pc *cloud.PointCloud, r PoseRange) (cloud.Pose, bool)

// Search calls f.
func (f SearchFunc) Search(pc *cloud.PointCloud, r PoseRange) (cloud.Pose, bool) {
	return f(pc, r)
}

// INSFix is a projected inertial/positioning fix. Geodetic-to-map
// projection happens upstream; the core consumes map-frame
// coordinates only.
type INSFix struct {
	Stamp   time.Time
	X, Y, Z float64
	// Valid marks fixes with a usable solution status; invalid fixes
	// are accepted but never seed the search range.
	Valid bool
}

// IMUSample is a raw inertial sample. The core keeps only the most
// recent one as an availability signal; consuming the measurements is
// the scan matcher's concern.
type IMUSample struct {
	Stamp time.Time
	Gyro  [3]float64
	Accel [3]float64
}
