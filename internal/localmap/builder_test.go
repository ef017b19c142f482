package localmap

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/relocalize/internal/cloud"
	"github.com/banshee-data/relocalize/internal/graphmap"
)

// testMap builds a handle over n keyframes spaced along X, each
// carrying a small cloud in its own sensor frame.
func testMap(n int, spacing float64) *graphmap.Handle {
	frames := make([]*graphmap.KeyFrame, n)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := range frames {
		points := []cloud.Point{
			{X: 0, Y: 0, Z: 0},
			{X: 0.5, Y: 0, Z: 0},
			{X: 0, Y: 0.5, Z: 0},
		}
		frames[i] = graphmap.NewKeyFrame(
			fmt.Sprintf("kf-%02d", i),
			base.Add(time.Duration(i)*time.Second),
			cloud.FromTranslation(float64(i)*spacing, 0, 0),
			cloud.NewPointCloud(base, points),
		)
	}
	return graphmap.NewHandle(graphmap.NewSnapshot(frames, nil))
}

func TestBuilder_RebuildNow(t *testing.T) {
	t.Parallel()

	b := NewBuilder(BuilderConfig{KeyframeCount: 2}, testMap(5, 10.0))
	defer b.Close()

	require.Nil(t, b.Current())

	lm := b.RebuildNow(cloud.FromTranslation(1, 0, 0))
	require.NotNil(t, lm)
	assert.Same(t, lm, b.Current())
	// Two keyframes (at x=0 and x=10) of three points each.
	assert.Equal(t, 6, lm.Cloud.Len())
	assert.Equal(t, uint64(1), lm.Generation)
}

func TestBuilder_KeyframeCloudsTransformedToMapFrame(t *testing.T) {
	t.Parallel()

	b := NewBuilder(BuilderConfig{KeyframeCount: 1}, testMap(3, 100.0))
	defer b.Close()

	lm := b.RebuildNow(cloud.FromTranslation(100, 0, 0))
	require.NotNil(t, lm)
	// Only kf-01 at x=100 is within reach; its sensor-frame points
	// must appear shifted by the keyframe pose.
	require.Equal(t, 3, lm.Cloud.Len())
	for _, p := range lm.Cloud.Points {
		assert.GreaterOrEqual(t, p.X, 100.0)
		assert.Less(t, p.X, 101.0)
	}
}

func TestBuilder_VoxelDownsampling(t *testing.T) {
	t.Parallel()

	// All three points of a keyframe fall into one 2m voxel.
	b := NewBuilder(BuilderConfig{KeyframeCount: 1, VoxelLeafSize: 2.0}, testMap(1, 1.0))
	defer b.Close()

	lm := b.RebuildNow(cloud.Identity())
	require.NotNil(t, lm)
	assert.Equal(t, 1, lm.Cloud.Len())
}

func TestBuilder_BackgroundRebuild(t *testing.T) {
	t.Parallel()

	b := NewBuilder(BuilderConfig{KeyframeCount: 2}, testMap(5, 10.0))
	defer b.Close()

	b.Update(cloud.FromTranslation(20, 0, 0))

	require.Eventually(t, func() bool {
		return b.Current() != nil
	}, 2*time.Second, time.Millisecond)

	lm := b.Current()
	x, _, _ := lm.QueryPose.Translation()
	assert.Equal(t, 20.0, x)
}

func TestBuilder_UpdateCoalescesAndNeverBlocks(t *testing.T) {
	t.Parallel()

	b := NewBuilder(BuilderConfig{KeyframeCount: 1}, testMap(3, 5.0))
	defer b.Close()

	// Flood far more updates than the loop can drain; Update must
	// return promptly every time.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10000; i++ {
			b.Update(cloud.FromTranslation(float64(i%3)*5.0, 0, 0))
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Update blocked under burst")
	}
}

func TestBuilder_NoMapLoaded(t *testing.T) {
	t.Parallel()

	b := NewBuilder(BuilderConfig{KeyframeCount: 3}, graphmap.NewHandle(nil))
	defer b.Close()

	assert.Nil(t, b.RebuildNow(cloud.Identity()))
	assert.Nil(t, b.Current())
}

func TestBuilder_CloseUnblocksLoop(t *testing.T) {
	t.Parallel()

	b := NewBuilder(BuilderConfig{KeyframeCount: 1}, testMap(1, 1.0))

	closed := make(chan struct{})
	go func() {
		b.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not unblock the idle loop")
	}

	// Idempotent.
	b.Close()
}

func TestBuilder_ReadersSeeConsistentMaps(t *testing.T) {
	t.Parallel()

	b := NewBuilder(BuilderConfig{KeyframeCount: 2}, testMap(10, 2.0))
	defer b.Close()

	b.RebuildNow(cloud.Identity())

	// Each published map must be internally complete: generation set
	// and cloud fully assembled, regardless of rebuilds in flight.
	var wg sync.WaitGroup
	stop := make(chan struct{})
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var lastGen uint64
			for {
				select {
				case <-stop:
					return
				default:
				}
				lm := b.Current()
				if lm == nil {
					continue
				}
				assert.GreaterOrEqual(t, lm.Generation, lastGen, "generations must not go backwards")
				assert.NotNil(t, lm.Cloud)
				assert.Equal(t, 6, lm.Cloud.Len())
				lastGen = lm.Generation
			}
		}()
	}
	for i := 0; i < 200; i++ {
		b.Update(cloud.FromTranslation(float64(i%10)*2.0, 0, 0))
	}
	close(stop)
	wg.Wait()
}
