package localization

import (
	"errors"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/relocalize/internal/cloud"
	"github.com/banshee-data/relocalize/internal/confidence"
	"github.com/banshee-data/relocalize/internal/localmap"
)

// ErrNoEstimate is returned by pose queries before the first accepted
// estimate exists. Callers get an explicit failure, never a default
// pose.
var ErrNoEstimate = errors.New("localization: no pose estimate yet")

// State is the mode of the localization state machine.
type State int32

const (
	// StateUninitialized accumulates sensor data until an initial
	// pose or pose range and a first cloud are available.
	StateUninitialized State = iota
	// StateGlobalSearch relocates coarsely over a pose range.
	StateGlobalSearch
	// StateTracking registers each scan incrementally against the
	// local map.
	StateTracking
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateGlobalSearch:
		return "global_search"
	case StateTracking:
		return "tracking"
	default:
		return "unknown"
	}
}

// Config holds the state machine's tuning knobs.
type Config struct {
	// FitnessThreshold is the score below which a registration is
	// accepted.
	FitnessThreshold float64
	// MaxCorrespondenceRange is the fitness correspondence cutoff (m).
	MaxCorrespondenceRange float64
	// FailureCountThreshold is how many consecutive rejections send
	// tracking back to global search.
	FailureCountThreshold int
	// INSSearchRadius is the planar half-extent (m) of the search
	// range seeded from an INS fix.
	INSSearchRadius float64
	// RelocalizeSearchRadius is the planar half-extent (m) of the
	// search range around the last pose after tracking is lost.
	RelocalizeSearchRadius float64
	// HistoryLength bounds the accepted-pose buffer serving timed
	// pose queries.
	HistoryLength int
}

// Estimate is the outcome of one accepted (or scored-but-rejected)
// registration.
type Estimate struct {
	Stamp       time.Time
	Pose        cloud.Pose
	Fitness     float64
	Matched     int
	Information *mat.SymDense
}

// Service is the localization state machine. FeedCloud is the scan
// entry point and is serialized with respect to itself; query
// operations never block on it.
type Service struct {
	cfg       Config
	localizer Localizer
	global    GlobalLocalizer
	local     *localmap.Builder
	matrices  *confidence.Builder

	// mu serializes the scan path (FeedCloud).
	mu sync.Mutex
	// localizerMu serializes registration against localizer
	// reinitialization triggered from other contexts.
	localizerMu sync.Mutex

	state       atomic.Int32
	initialized atomic.Bool
	failures    atomic.Int32

	// scan-path state, touched only under mu
	lastPose    cloud.Pose
	searchRange PoseRange
	eval        *confidence.Evaluator
	evalGen     uint64

	history *poseHistory

	// pending initialization priors and sensor fixes
	priorMu   sync.Mutex
	initPose  *cloud.Pose
	initRange *PoseRange
	lastINS   *INSFix
	lastIMU   *IMUSample

	// onEstimate, when set, is invoked for every accepted estimate.
	onEstimate func(Estimate)
}

// NewService wires the state machine to its collaborators.
func NewService(cfg Config, localizer Localizer, global GlobalLocalizer, local *localmap.Builder, matrices *confidence.Builder) *Service {
	return &Service{
		cfg:       cfg,
		localizer: localizer,
		global:    global,
		local:     local,
		matrices:  matrices,
		history:   newPoseHistory(cfg.HistoryLength),
	}
}

// OnEstimate registers a hook called for each accepted estimate, on
// the scan path. Must be set before clouds are fed.
func (s *Service) OnEstimate(fn func(Estimate)) { s.onEstimate = fn }

// State returns the current mode.
func (s *Service) State() State { return State(s.state.Load()) }

// Initialized reports whether a first valid pose has been obtained.
func (s *Service) Initialized() bool { return s.initialized.Load() }

// FailureCount returns the consecutive registration failure count.
func (s *Service) FailureCount() int { return int(s.failures.Load()) }

// SetInitialPose supplies an externally known pose. It is adopted on
// the next scan, also mid-run: feeding a new initial pose
// reinitializes tracking.
func (s *Service) SetInitialPose(p cloud.Pose) {
	s.priorMu.Lock()
	defer s.priorMu.Unlock()
	s.initPose = &p
	s.initRange = nil
}

// SetInitialPoseRange supplies a coarse search range for global
// relocalization, consumed on the next scan.
func (s *Service) SetInitialPoseRange(r PoseRange) {
	s.priorMu.Lock()
	defer s.priorMu.Unlock()
	s.initRange = &r
	s.initPose = nil
}

// FeedINS accepts a projected positioning fix. Valid fixes seed the
// global search range when no explicit initial pose or range was set.
func (s *Service) FeedINS(fix INSFix) {
	s.priorMu.Lock()
	defer s.priorMu.Unlock()
	s.lastINS = &fix
}

// FeedIMU accepts an inertial sample. Only the most recent sample is
// retained; inertial integration is the scan matcher's concern.
func (s *Service) FeedIMU(imu IMUSample) {
	s.priorMu.Lock()
	defer s.priorMu.Unlock()
	s.lastIMU = &imu
}

// FeedCloud processes one incoming point cloud in arrival order and
// returns the accepted estimate, if any. Rejected or skipped scans
// return ok=false; the Fitness field still reports the score when one
// was computed.
func (s *Service) FeedCloud(pc *cloud.PointCloud) (Estimate, bool) {
	if pc.Len() == 0 {
		return Estimate{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// A pending explicit pose reinitializes tracking in any state.
	if p := s.takeInitPose(); p != nil {
		log.Printf("[Localization] adopting external initial pose")
		s.adopt(pc.Stamp, *p)
		return s.track(pc)
	}

	if s.State() == StateUninitialized {
		r, ok := s.initialRange()
		if !ok {
			// keep accumulating until a prior shows up
			return Estimate{}, false
		}
		s.searchRange = r
		s.setState(StateGlobalSearch)
	}

	if s.State() == StateGlobalSearch {
		return s.globalSearch(pc)
	}
	return s.track(pc)
}

// Pose returns the latest accepted pose.
func (s *Service) Pose() (cloud.Pose, error) {
	if !s.initialized.Load() {
		return cloud.Pose{}, ErrNoEstimate
	}
	rec, ok := s.history.latest()
	if !ok {
		return cloud.Pose{}, ErrNoEstimate
	}
	return rec.pose, nil
}

// TimedPose returns the pose at time t, interpolated over recent
// accepted poses.
func (s *Service) TimedPose(t time.Time) (cloud.Pose, error) {
	if !s.initialized.Load() {
		return cloud.Pose{}, ErrNoEstimate
	}
	pose, ok := s.history.at(t)
	if !ok {
		return cloud.Pose{}, ErrNoEstimate
	}
	return pose, nil
}

func (s *Service) setState(next State) {
	prev := State(s.state.Swap(int32(next)))
	if prev != next {
		log.Printf("[Localization] state %s → %s", prev, next)
	}
}

// takeInitPose consumes a pending explicit initial pose.
func (s *Service) takeInitPose() *cloud.Pose {
	s.priorMu.Lock()
	defer s.priorMu.Unlock()
	p := s.initPose
	s.initPose = nil
	return p
}

// initialRange derives the first global search range: an explicit
// range wins, then a valid INS fix; otherwise none is available yet.
func (s *Service) initialRange() (PoseRange, bool) {
	s.priorMu.Lock()
	defer s.priorMu.Unlock()
	if s.initRange != nil {
		r := *s.initRange
		s.initRange = nil
		return r, true
	}
	if s.lastINS != nil && s.lastINS.Valid {
		return RangeAround(cloud.FromTranslation(s.lastINS.X, s.lastINS.Y, s.lastINS.Z), s.cfg.INSSearchRadius), true
	}
	return PoseRange{}, false
}

// adopt installs pose as the accepted estimate: counter reset, history
// append, synchronous local map rebuild so the next registration has
// a map, and transition to tracking.
func (s *Service) adopt(stamp time.Time, pose cloud.Pose) {
	s.failures.Store(0)
	s.lastPose = pose
	s.history.add(stamp, pose)
	s.local.RebuildNow(pose)
	s.initialized.Store(true)
	s.setState(StateTracking)
}

// globalSearch delegates to the coarse localizer over the current
// search range.
func (s *Service) globalSearch(pc *cloud.PointCloud) (Estimate, bool) {
	pose, ok := s.global.Search(pc, s.searchRange)
	if !ok {
		log.Printf("[Localization] global search found no pose")
		return Estimate{}, false
	}
	s.adopt(pc.Stamp, pose)

	est := Estimate{Stamp: pc.Stamp, Pose: pose}
	if lm := s.local.Current(); lm != nil {
		ev := s.evaluatorFor(lm)
		est.Fitness, est.Matched = ev.Score(pc.Points, pose)
		est.Information = s.matrices.Information(est.Fitness)
	}
	if s.onEstimate != nil {
		s.onEstimate(est)
	}
	return est, true
}

// track registers the scan against the current local map seeded by
// the last accepted pose.
func (s *Service) track(pc *cloud.PointCloud) (Estimate, bool) {
	lm := s.local.Current()
	if lm == nil {
		s.recordFailure("no local map published")
		return Estimate{}, false
	}

	s.localizerMu.Lock()
	pose, ok := s.localizer.Register(pc, s.lastPose, lm)
	s.localizerMu.Unlock()
	if !ok {
		s.recordFailure("scan matcher did not converge")
		return Estimate{}, false
	}

	ev := s.evaluatorFor(lm)
	score, matched := ev.Score(pc.Points, pose)
	if math.IsInf(score, 1) || score >= s.cfg.FitnessThreshold {
		s.recordFailure("fitness above threshold")
		return Estimate{Stamp: pc.Stamp, Fitness: score, Matched: matched}, false
	}

	s.failures.Store(0)
	s.lastPose = pose
	s.history.add(pc.Stamp, pose)
	s.initialized.Store(true)
	s.local.Update(pose)

	est := Estimate{
		Stamp:       pc.Stamp,
		Pose:        pose,
		Fitness:     score,
		Matched:     matched,
		Information: s.matrices.Information(score),
	}
	if s.onEstimate != nil {
		s.onEstimate(est)
	}
	return est, true
}

// recordFailure counts a rejected registration and escalates to
// global search once the threshold is crossed.
func (s *Service) recordFailure(reason string) {
	n := s.failures.Add(1)
	log.Printf("[Localization] registration rejected (%s): %d/%d consecutive failures",
		reason, n, s.cfg.FailureCountThreshold)
	if int(n) >= s.cfg.FailureCountThreshold {
		s.searchRange = RangeAround(s.lastPose, s.cfg.RelocalizeSearchRadius)
		s.setState(StateGlobalSearch)
		log.Printf("[Localization] tracking lost, falling back to global search around last pose")
	}
}

// evaluatorFor returns a fitness evaluator for the local map, rebuilt
// only when the map generation changes so the reference index always
// matches the map being scored.
func (s *Service) evaluatorFor(lm *localmap.LocalMap) *confidence.Evaluator {
	if s.eval == nil || s.evalGen != lm.Generation {
		s.eval = confidence.NewEvaluator(lm.Cloud.Points, s.cfg.MaxCorrespondenceRange)
		s.evalGen = lm.Generation
	}
	return s.eval
}
