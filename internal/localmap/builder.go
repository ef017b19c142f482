package localmap

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/relocalize/internal/cloud"
	"github.com/banshee-data/relocalize/internal/graphmap"
)

// LocalMap is the working subset of the graph map around a reference
// pose. Instances are immutable after publication: a rebuild always
// produces a fresh LocalMap, so a reader holding one keeps a fully
// consistent (if slightly stale) view.
type LocalMap struct {
	// Generation increases with every rebuild; useful for callers
	// caching derived state (e.g. a fitness index) per map version.
	Generation uint64
	// QueryPose is the pose the map was assembled around.
	QueryPose cloud.Pose
	// Cloud is the merged, optionally downsampled keyframe cloud in
	// the map frame.
	Cloud *cloud.PointCloud
}

// BuilderConfig configures local map assembly.
type BuilderConfig struct {
	// KeyframeCount is how many nearest keyframes form the local map.
	KeyframeCount int
	// VoxelLeafSize, when > 0, downsamples the merged cloud with a
	// voxel grid of this leaf size (metres). Zero disables
	// downsampling.
	VoxelLeafSize float64
}

// Builder owns the published local map and the background loop that
// rebuilds it. Exactly one loop runs per Builder (single consumer);
// the tracking path is the single producer of pose updates.
type Builder struct {
	cfg  BuilderConfig
	maps *graphmap.Handle

	current atomic.Pointer[LocalMap]
	gen     atomic.Uint64

	// poseCh carries pose updates to the rebuild loop. Capacity one
	// plus drop-oldest on overflow: only the newest pose matters for
	// the next rebuild, so superseded entries are coalesced away and
	// the producer never blocks.
	poseCh    chan cloud.Pose
	done      chan struct{}
	closeOnce sync.Once
}

// NewBuilder creates a Builder and starts its rebuild loop. Close
// must be called to stop the loop.
func NewBuilder(cfg BuilderConfig, maps *graphmap.Handle) *Builder {
	b := &Builder{
		cfg:    cfg,
		maps:   maps,
		poseCh: make(chan cloud.Pose, 1),
		done:   make(chan struct{}),
	}
	go b.loop()
	return b
}

// Current returns the latest published local map, or nil before the
// first rebuild completes.
func (b *Builder) Current() *LocalMap {
	return b.current.Load()
}

// Update hands a new reference pose to the rebuild loop without
// blocking. When a previous update is still pending it is replaced:
// only the latest local map is functionally relevant. Must not be
// called after Close.
func (b *Builder) Update(pose cloud.Pose) {
	for {
		select {
		case b.poseCh <- pose:
			return
		default:
		}
		// Channel full: discard the superseded pending pose and retry.
		select {
		case <-b.poseCh:
		default:
		}
	}
}

// RebuildNow rebuilds and publishes the local map synchronously on
// the caller's goroutine. Used at (re)initialization, when tracking
// needs a map before the next registration rather than eventually.
func (b *Builder) RebuildNow(pose cloud.Pose) *LocalMap {
	lm := b.rebuild(pose)
	if lm != nil {
		b.publish(lm)
	}
	return lm
}

// Close stops the rebuild loop and waits for it to exit. The
// published local map stays readable after Close.
func (b *Builder) Close() {
	b.closeOnce.Do(func() {
		close(b.poseCh)
		<-b.done
	})
}

// loop drains pose updates and rebuilds the local map for each. It
// blocks when no update is pending and exits when the channel closes.
func (b *Builder) loop() {
	defer close(b.done)
	for pose := range b.poseCh {
		start := time.Now()
		lm := b.rebuild(pose)
		if lm == nil {
			continue
		}
		b.publish(lm)
		x, y, _ := pose.Translation()
		log.Printf("[LocalMap] rebuilt generation=%d points=%d around=(%.1f, %.1f) in %s",
			lm.Generation, lm.Cloud.Len(), x, y, time.Since(start).Round(time.Millisecond))
	}
}

// publish swaps in lm unless a newer generation is already visible.
// RebuildNow and the loop can race at reinitialization; the CAS keeps
// publication monotonic in generation.
func (b *Builder) publish(lm *LocalMap) {
	for {
		cur := b.current.Load()
		if cur != nil && cur.Generation >= lm.Generation {
			return
		}
		if b.current.CompareAndSwap(cur, lm) {
			return
		}
	}
}

// rebuild assembles a fresh LocalMap from the keyframes nearest the
// query pose. Returns nil when no map is loaded or the map is empty.
func (b *Builder) rebuild(pose cloud.Pose) *LocalMap {
	snap := b.maps.Load()
	if snap == nil {
		return nil
	}
	frames := snap.Nearest(pose, b.cfg.KeyframeCount)
	if len(frames) == 0 {
		return nil
	}

	parts := make([][]cloud.Point, 0, len(frames))
	for _, kf := range frames {
		if kf.Cloud.Len() == 0 {
			continue
		}
		parts = append(parts, cloud.Transform(kf.Cloud.Points, kf.Pose))
	}
	merged := cloud.Merge(parts...)
	if b.cfg.VoxelLeafSize > 0 {
		merged = cloud.VoxelGrid(merged, b.cfg.VoxelLeafSize)
	}

	return &LocalMap{
		Generation: b.gen.Add(1),
		QueryPose:  pose,
		Cloud:      cloud.NewPointCloud(time.Now(), merged),
	}
}
