package graphmap

import (
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"github.com/banshee-data/relocalize/internal/cloud"
)

// KeyFrame is a node of the static graph map: a point cloud captured
// at a known pose. KeyFrames are created at map-load time and never
// mutated; their lifetime is the lifetime of the loaded map.
type KeyFrame struct {
	ID    string
	Stamp time.Time
	Pose  cloud.Pose
	Cloud *cloud.PointCloud
}

// NewKeyFrame creates a keyframe, assigning a fresh UUID when id is
// empty.
func NewKeyFrame(id string, stamp time.Time, pose cloud.Pose, pc *cloud.PointCloud) *KeyFrame {
	if id == "" {
		id = uuid.NewString()
	}
	return &KeyFrame{ID: id, Stamp: stamp, Pose: pose, Cloud: pc}
}

// Point returns the keyframe's map-frame (x, y) position, making
// *KeyFrame an orb.Pointer so it can live in the quadtree directly.
func (k *KeyFrame) Point() orb.Point {
	x, y, _ := k.Pose.Translation()
	return orb.Point{x, y}
}

// Origin anchors the map frame to a geodetic datum. Projection into
// and out of the datum is the concern of an external collaborator;
// the core only carries the anchor alongside the map.
type Origin struct {
	Latitude  float64
	Longitude float64
	Altitude  float64
}
