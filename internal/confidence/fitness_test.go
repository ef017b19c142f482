package confidence

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/relocalize/internal/cloud"
)

func gridCloud(n int, spacing float64) []cloud.Point {
	points := make([]cloud.Point, 0, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			points = append(points, cloud.Point{
				X: float64(i) * spacing,
				Y: float64(j) * spacing,
				Z: 0,
			})
		}
	}
	return points
}

func TestEvaluator_IdenticalCloudsScoreZero(t *testing.T) {
	t.Parallel()

	ref := gridCloud(10, 0.5)
	ev := NewEvaluator(ref, 2.0)

	score, matched := ev.Score(ref, cloud.Identity())
	assert.Equal(t, 0.0, score)
	assert.Equal(t, len(ref), matched)
}

func TestEvaluator_NoCorrespondenceIsInf(t *testing.T) {
	t.Parallel()

	ref := gridCloud(5, 0.5)
	ev := NewEvaluator(ref, 1.0)

	far := []cloud.Point{{X: 500, Y: 500, Z: 0}}
	score, matched := ev.Score(far, cloud.Identity())
	assert.True(t, math.IsInf(score, 1))
	assert.Equal(t, 0, matched)
}

func TestEvaluator_KnownOffsetScore(t *testing.T) {
	t.Parallel()

	ref := gridCloud(10, 1.0)
	ev := NewEvaluator(ref, 0.5)

	// Shift every candidate point 0.1m in X: each point's nearest
	// reference neighbour is its origin, squared distance 0.01.
	offset := cloud.FromTranslation(0.1, 0, 0)
	score, matched := ev.Score(ref, offset)
	assert.InDelta(t, 0.01, score, 1e-9)
	assert.Equal(t, len(ref), matched)
}

func TestEvaluator_OutOfRangePointsExcluded(t *testing.T) {
	t.Parallel()

	ref := []cloud.Point{{X: 0, Y: 0, Z: 0}}
	ev := NewEvaluator(ref, 1.0)

	candidate := []cloud.Point{
		{X: 0.2, Y: 0, Z: 0}, // within range: contributes 0.04
		{X: 50, Y: 0, Z: 0},  // occluded: excluded from mean and count
	}
	score, matched := ev.Score(candidate, cloud.Identity())
	assert.Equal(t, 1, matched)
	assert.InDelta(t, 0.04, score, 1e-9)
}

func TestEvaluator_ScoreWithInliers(t *testing.T) {
	t.Parallel()

	ref := []cloud.Point{
		{X: 0, Y: 0, Z: 0},   // pairs with a vertical-gap candidate
		{X: 10, Y: 0, Z: 10}, // above the floor ceiling
	}
	ev := NewEvaluator(ref, 1.0)

	candidate := []cloud.Point{
		{X: 0.1, Y: 0, Z: 0.5}, // gap 0.5 > 0.25, below ceiling → inlier
		{X: 0.1, Y: 0, Z: 0.1}, // gap 0.1 < 0.25 → not an inlier
		{X: 10, Y: 0, Z: 9.9},  // pair above floorHeight+2 → not an inlier
	}

	score, matched, inliers := ev.ScoreWithInliers(candidate, cloud.Identity(), 0.0)
	assert.False(t, math.IsInf(score, 1))
	assert.Equal(t, 3, matched)
	require.Len(t, inliers, 1)
	assert.Equal(t, 0, inliers[0])
}

func TestEvaluator_ScoreWithInliers_Empty(t *testing.T) {
	t.Parallel()

	ev := NewEvaluator([]cloud.Point{{X: 0, Y: 0, Z: 0}}, 1.0)
	score, matched, inliers := ev.ScoreWithInliers([]cloud.Point{{X: 99, Y: 99, Z: 0}}, cloud.Identity(), 0)
	assert.True(t, math.IsInf(score, 1))
	assert.Equal(t, 0, matched)
	assert.Empty(t, inliers)
}
