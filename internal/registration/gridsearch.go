package registration

import (
	"log"
	"math"
	"time"

	"github.com/banshee-data/relocalize/internal/cloud"
	"github.com/banshee-data/relocalize/internal/confidence"
	"github.com/banshee-data/relocalize/internal/graphmap"
	"github.com/banshee-data/relocalize/internal/localization"
	"github.com/banshee-data/relocalize/internal/localmap"
)

// GridSearchConfig tunes the coarse relocalization search.
type GridSearchConfig struct {
	// LinearStep is the planar sampling stride (m).
	LinearStep float64
	// YawStep is the heading sampling stride (rad).
	YawStep float64
	// KeyframeCount is how many keyframes around the range centre
	// form the search reference cloud.
	KeyframeCount int
	// MaxCorrespondenceRange is the fitness cutoff (m).
	MaxCorrespondenceRange float64
	// FitnessThreshold: the best candidate must score below this for
	// the search to succeed.
	FitnessThreshold float64
	// ScanVoxelLeaf downsamples the scan before scoring candidates
	// (m). Zero scores the full scan.
	ScanVoxelLeaf float64
}

// DefaultGridSearchConfig returns search defaults.
func DefaultGridSearchConfig() GridSearchConfig {
	return GridSearchConfig{
		LinearStep:             2.0,
		YawStep:                15 * math.Pi / 180,
		KeyframeCount:          10,
		MaxCorrespondenceRange: 2.0,
		FitnessThreshold:       0.5,
		ScanVoxelLeaf:          1.0,
	}
}

// GridSearch relocates a scan without an accurate prior by scoring a
// grid of candidate poses over the search range and refining the best
// one with ICP. It implements localization.GlobalLocalizer.
type GridSearch struct {
	cfg    GridSearchConfig
	maps   *graphmap.Handle
	refine *ICP
}

// NewGridSearch builds a coarse localizer over the given map handle.
func NewGridSearch(cfg GridSearchConfig, maps *graphmap.Handle) *GridSearch {
	icpCfg := DefaultICPConfig()
	icpCfg.MaxCorrespondenceRange = cfg.MaxCorrespondenceRange
	return &GridSearch{
		cfg:    cfg,
		maps:   maps,
		refine: NewICP(icpCfg),
	}
}

// Search scans the pose range for the cloud's pose. ok is false when
// no map is loaded or no candidate scores below the fitness
// threshold.
func (g *GridSearch) Search(pc *cloud.PointCloud, r localization.PoseRange) (cloud.Pose, bool) {
	snap := g.maps.Load()
	if snap == nil || snap.Len() == 0 || pc.Len() == 0 {
		return cloud.Pose{}, false
	}
	start := time.Now()

	centre := cloud.FromTranslation((r.MinX+r.MaxX)/2, (r.MinY+r.MaxY)/2, 0)
	frames := snap.Nearest(centre, g.cfg.KeyframeCount)
	if len(frames) == 0 {
		return cloud.Pose{}, false
	}
	parts := make([][]cloud.Point, 0, len(frames))
	for _, kf := range frames {
		if kf.Cloud.Len() > 0 {
			parts = append(parts, cloud.Transform(kf.Cloud.Points, kf.Pose))
		}
	}
	ref := cloud.Merge(parts...)
	if len(ref) == 0 {
		return cloud.Pose{}, false
	}
	ev := confidence.NewEvaluator(ref, g.cfg.MaxCorrespondenceRange)

	scan := pc.Points
	if g.cfg.ScanVoxelLeaf > 0 {
		scan = cloud.VoxelGrid(scan, g.cfg.ScanVoxelLeaf)
	}

	// Candidate height follows the nearest keyframe; the grid only
	// varies x, y and yaw.
	_, _, z := frames[0].Pose.Translation()

	bestScore := math.Inf(1)
	var bestPose cloud.Pose
	candidates := 0
	for x := r.MinX; x <= r.MaxX; x += g.cfg.LinearStep {
		for y := r.MinY; y <= r.MaxY; y += g.cfg.LinearStep {
			for yaw := r.MinYaw; yaw <= r.MaxYaw; yaw += g.cfg.YawStep {
				cand := cloud.FromXYZYaw(x, y, z, yaw)
				score, _ := ev.Score(scan, cand)
				candidates++
				if score < bestScore {
					bestScore = score
					bestPose = cand
				}
			}
		}
	}
	if bestScore >= g.cfg.FitnessThreshold {
		log.Printf("[GlobalSearch] no candidate below threshold (best=%.3f over %d candidates, %s)",
			bestScore, candidates, time.Since(start).Round(time.Millisecond))
		return cloud.Pose{}, false
	}

	// Refine the winning cell with ICP against the same reference.
	refMap := &localmap.LocalMap{
		Generation: 0,
		QueryPose:  bestPose,
		Cloud:      cloud.NewPointCloud(pc.Stamp, ref),
	}
	if refined, ok := g.refine.Register(pc, bestPose, refMap); ok {
		bestPose = refined
	}
	log.Printf("[GlobalSearch] relocated with fitness %.3f over %d candidates in %s",
		bestScore, candidates, time.Since(start).Round(time.Millisecond))
	return bestPose, true
}
