package localization

import (
	"sync"
	"time"

	"github.com/banshee-data/relocalize/internal/cloud"
)

// poseRecord is one accepted pose estimate.
type poseRecord struct {
	stamp time.Time
	pose  cloud.Pose
}

// poseHistory is a bounded, time-ordered buffer of accepted poses.
// The tracking path appends; query operations read concurrently and
// never block registration.
type poseHistory struct {
	mu      sync.RWMutex
	records []poseRecord
	max     int
}

func newPoseHistory(max int) *poseHistory {
	if max <= 0 {
		max = 128
	}
	return &poseHistory{max: max}
}

func (h *poseHistory) add(stamp time.Time, pose cloud.Pose) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, poseRecord{stamp: stamp, pose: pose})
	if len(h.records) > h.max {
		h.records = h.records[len(h.records)-h.max:]
	}
}

func (h *poseHistory) latest() (poseRecord, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.records) == 0 {
		return poseRecord{}, false
	}
	return h.records[len(h.records)-1], true
}

// at returns the pose at time t. Between two accepted poses the
// translation is interpolated linearly and the rotation taken from
// the nearer sample; outside the recorded span the boundary pose is
// returned. ok is false when no pose has been accepted yet.
func (h *poseHistory) at(t time.Time) (cloud.Pose, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := len(h.records)
	if n == 0 {
		return cloud.Pose{}, false
	}
	if !t.After(h.records[0].stamp) {
		return h.records[0].pose, true
	}
	if !t.Before(h.records[n-1].stamp) {
		return h.records[n-1].pose, true
	}

	// records are appended in acceptance order; find the bracketing pair
	hi := 1
	for hi < n && h.records[hi].stamp.Before(t) {
		hi++
	}
	lo := hi - 1
	a, b := h.records[lo], h.records[hi]

	span := b.stamp.Sub(a.stamp)
	if span <= 0 {
		return b.pose, true
	}
	frac := float64(t.Sub(a.stamp)) / float64(span)

	base := a.pose
	if frac > 0.5 {
		base = b.pose
	}
	ax, ay, az := a.pose.Translation()
	bx, by, bz := b.pose.Translation()
	out := base
	out.T[3] = ax + (bx-ax)*frac
	out.T[7] = ay + (by-ay)*frac
	out.T[11] = az + (bz-az)*frac
	return out, true
}

func (h *poseHistory) len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.records)
}
