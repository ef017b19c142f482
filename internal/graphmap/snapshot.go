package graphmap

import (
	"sort"
	"sync/atomic"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/quadtree"

	"github.com/banshee-data/relocalize/internal/cloud"
)

// boundPadding expands the quadtree bound beyond the outermost
// keyframe so edge keyframes never sit exactly on the boundary.
const boundPadding = 1.0

// Snapshot is an immutable view of a loaded graph map: the keyframe
// set plus a quadtree over keyframe (x, y) positions. Once built, a
// Snapshot is safe for unsynchronised concurrent reads.
type Snapshot struct {
	frames []*KeyFrame
	origin *Origin
	tree   *quadtree.Quadtree
}

// NewSnapshot builds a snapshot and its spatial index from the given
// keyframes. origin may be nil when the map carries no geodetic
// anchor.
func NewSnapshot(frames []*KeyFrame, origin *Origin) *Snapshot {
	s := &Snapshot{
		frames: frames,
		origin: origin,
	}
	if len(frames) == 0 {
		return s
	}

	bound := orb.Bound{Min: frames[0].Point(), Max: frames[0].Point()}
	for _, kf := range frames[1:] {
		bound = bound.Extend(kf.Point())
	}
	bound = bound.Pad(boundPadding)

	s.tree = quadtree.New(bound)
	for _, kf := range frames {
		// Add only fails for points outside the bound, which the
		// extend loop above rules out.
		_ = s.tree.Add(kf)
	}
	return s
}

// KeyFrames returns the snapshot's keyframe set. Callers must treat
// the slice and its elements as read-only.
func (s *Snapshot) KeyFrames() []*KeyFrame { return s.frames }

// Len returns the number of keyframes in the snapshot.
func (s *Snapshot) Len() int { return len(s.frames) }

// Origin returns the geodetic anchor and whether one is set.
func (s *Snapshot) Origin() (Origin, bool) {
	if s.origin == nil {
		return Origin{}, false
	}
	return *s.origin, true
}

// Nearest returns up to k keyframes closest to the query pose,
// ordered nearest first.
func (s *Snapshot) Nearest(pose cloud.Pose, k int) []*KeyFrame {
	if s.tree == nil || k <= 0 {
		return nil
	}
	x, y, _ := pose.Translation()
	q := orb.Point{x, y}
	found := s.tree.KNearest(nil, q, k)
	out := make([]*KeyFrame, 0, len(found))
	for _, ptr := range found {
		out = append(out, ptr.(*KeyFrame))
	}
	// KNearest does not guarantee ordering.
	sort.Slice(out, func(i, j int) bool {
		return planar.DistanceSquared(out[i].Point(), q) < planar.DistanceSquared(out[j].Point(), q)
	})
	return out
}

// Merge returns a new snapshot containing this snapshot's keyframes
// plus the additional ones, with a freshly built index. The receiver
// is left untouched; readers holding it keep a consistent view.
func (s *Snapshot) Merge(frames []*KeyFrame) *Snapshot {
	combined := make([]*KeyFrame, 0, len(s.frames)+len(frames))
	combined = append(combined, s.frames...)
	combined = append(combined, frames...)
	return NewSnapshot(combined, s.origin)
}

// Handle publishes the current map snapshot. Replace swaps in a
// fully built snapshot; Load never observes a partial one.
type Handle struct {
	snap atomic.Pointer[Snapshot]
}

// NewHandle returns a handle, optionally seeded with a snapshot.
func NewHandle(s *Snapshot) *Handle {
	h := &Handle{}
	if s != nil {
		h.snap.Store(s)
	}
	return h
}

// Load returns the current snapshot, or nil when no map is loaded.
func (h *Handle) Load() *Snapshot { return h.snap.Load() }

// Replace publishes a new snapshot. The previous snapshot remains
// valid for readers still holding it.
func (h *Handle) Replace(s *Snapshot) { h.snap.Store(s) }
