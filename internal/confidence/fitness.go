package confidence

import (
	"math"

	"github.com/banshee-data/relocalize/internal/cloud"
)

// Height-discontinuity inlier classification constants. Matched pairs
// closer than the horizontal limit, below the floor ceiling, and with
// a vertical gap above the minimum are flagged as structural features
// (curbs, overhangs).
const (
	// InlierHorizontalDistSq is the maximum squared horizontal
	// displacement (m²) between a matched pair.
	InlierHorizontalDistSq = 10.0
	// InlierFloorCeilingOffset is added to the floor height to form
	// the ceiling below which both points must lie (m).
	InlierFloorCeilingOffset = 2.0
	// InlierMinVerticalGap is the minimum vertical gap (m) between a
	// matched pair for it to count as a discontinuity.
	InlierMinVerticalGap = 0.25
)

// Evaluator scores candidate clouds against a fixed reference cloud.
// The nearest-neighbour index over the reference is built at
// construction, so an Evaluator can never score against a stale
// index; a new reference cloud requires a new Evaluator.
type Evaluator struct {
	ref      []cloud.Point
	index    *cloud.NNIndex
	maxRange float64
}

// NewEvaluator indexes the reference cloud for scoring. maxRange is
// the correspondence cutoff: candidate points whose nearest reference
// neighbour is farther than this are treated as occluded and ignored.
func NewEvaluator(ref []cloud.Point, maxRange float64) *Evaluator {
	return &Evaluator{
		ref:      ref,
		index:    cloud.NewNNIndex(ref, maxRange),
		maxRange: maxRange,
	}
}

// MaxRange returns the correspondence cutoff the evaluator was built with.
func (e *Evaluator) MaxRange() float64 { return e.maxRange }

// Score computes the mean nearest-neighbour squared distance between
// the reference cloud and the candidate transformed by relpose.
// Candidate points without a reference neighbour inside the cutoff
// are excluded from both the mean and the matched count. Returns
// (+Inf, 0) when no point has a correspondence, signalling a
// degenerate alignment.
func (e *Evaluator) Score(candidate []cloud.Point, relpose cloud.Pose) (score float64, matched int) {
	sum := 0.0
	for _, p := range candidate {
		x, y, z := relpose.Apply(p.X, p.Y, p.Z)
		if _, distSq, ok := e.index.NearestWithin(x, y, z, e.maxRange); ok {
			sum += distSq
			matched++
		}
	}
	if matched == 0 {
		return math.Inf(1), 0
	}
	return sum / float64(matched), matched
}

// ScoreWithInliers scores the candidate like Score and additionally
// classifies matched pairs as height-discontinuity inliers: the pair
// must be horizontally close, both points must lie beneath
// floorHeight + InlierFloorCeilingOffset after applying relpose, and
// the vertical gap must exceed InlierMinVerticalGap. The returned
// indices refer to positions in candidate and are an auxiliary
// output only; they carry no further registration semantics.
func (e *Evaluator) ScoreWithInliers(candidate []cloud.Point, relpose cloud.Pose, floorHeight float64) (score float64, matched int, inliers []int) {
	floorCeiling := floorHeight + InlierFloorCeilingOffset
	sum := 0.0
	inliers = make([]int, 0, len(candidate))

	for i, p := range candidate {
		nearest, distSq, ok := e.index.NearestWithin(p.X, p.Y, p.Z, e.maxRange)
		if !ok {
			continue
		}
		sum += distSq
		matched++

		r := e.ref[nearest]
		rx, ry, rz := relpose.Apply(r.X, r.Y, r.Z)
		px, py, pz := relpose.Apply(p.X, p.Y, p.Z)

		dx := rx - px
		dy := ry - py
		horizDistSq := dx*dx + dy*dy
		if horizDistSq <= InlierHorizontalDistSq &&
			rz < floorCeiling && pz < floorCeiling &&
			math.Abs(rz-pz) > InlierMinVerticalGap {
			inliers = append(inliers, i)
		}
	}
	if matched == 0 {
		return math.Inf(1), 0, inliers
	}
	return sum / float64(matched), matched, inliers
}
