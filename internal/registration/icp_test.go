package registration

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/relocalize/internal/cloud"
	"github.com/banshee-data/relocalize/internal/localmap"
)

// jitteredCloud builds an irregular but deterministic point cloud so
// nearest-neighbour correspondences are unambiguous (no grid
// symmetry).
func jitteredCloud(n int) []cloud.Point {
	points := make([]cloud.Point, 0, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			k := float64(i*n + j)
			points = append(points, cloud.Point{
				X: float64(i)*1.5 + 0.3*math.Sin(7.3*k),
				Y: float64(j)*1.5 + 0.3*math.Cos(3.1*k),
				Z: 0.2 * math.Sin(1.7*k),
			})
		}
	}
	return points
}

func asLocalMap(points []cloud.Point, gen uint64) *localmap.LocalMap {
	return &localmap.LocalMap{
		Generation: gen,
		QueryPose:  cloud.Identity(),
		Cloud:      cloud.NewPointCloud(time.Now(), points),
	}
}

func TestRigidAlign_RecoversKnownTransform(t *testing.T) {
	t.Parallel()

	points := jitteredCloud(6)
	want := cloud.FromXYZYaw(1.2, -0.7, 0.3, 0.4)

	src := make([]float64, 0, 3*len(points))
	dst := make([]float64, 0, 3*len(points))
	for _, p := range points {
		src = append(src, p.X, p.Y, p.Z)
		x, y, z := want.Apply(p.X, p.Y, p.Z)
		dst = append(dst, x, y, z)
	}

	got, ok := rigidAlign(src, dst)
	require.True(t, ok)
	assert.InDelta(t, 0, got.TranslationDistance(want), 1e-9)
	assert.InDelta(t, 0, got.RotationAngleTo(want), 1e-9)
	assert.True(t, got.IsRigid(1e-9))
}

func TestRigidAlign_DegenerateInput(t *testing.T) {
	t.Parallel()

	_, ok := rigidAlign(nil, nil)
	assert.False(t, ok)
}

func TestICP_RecoversSeedError(t *testing.T) {
	t.Parallel()

	ref := jitteredCloud(8)
	lm := asLocalMap(ref, 1)

	// The scan is the reference itself: its true pose is identity.
	scan := cloud.NewPointCloud(time.Now(), ref)
	seed := cloud.FromXYZYaw(0.2, -0.15, 0, 0.005)

	icp := NewICP(DefaultICPConfig())
	pose, ok := icp.Register(scan, seed, lm)
	require.True(t, ok)
	assert.InDelta(t, 0, pose.TranslationDistance(cloud.Identity()), 0.05)
	assert.InDelta(t, 0, pose.RotationAngleTo(cloud.Identity()), 0.01)
}

func TestICP_RecoversOffsetScan(t *testing.T) {
	t.Parallel()

	ref := jitteredCloud(8)
	lm := asLocalMap(ref, 1)

	// The scan was taken from a slightly offset pose: registering its
	// points must recover that pose.
	truth := cloud.FromXYZYaw(0.2, 0.1, 0, 0.005)
	inv := truth.Inverse()
	scanPoints := cloud.Transform(ref, inv)
	scan := cloud.NewPointCloud(time.Now(), scanPoints)

	icp := NewICP(DefaultICPConfig())
	pose, ok := icp.Register(scan, cloud.Identity(), lm)
	require.True(t, ok)
	assert.InDelta(t, 0, pose.TranslationDistance(truth), 0.05)
	assert.InDelta(t, 0, pose.RotationAngleTo(truth), 0.01)
}

func TestICP_FailsOnEmptyMap(t *testing.T) {
	t.Parallel()

	icp := NewICP(DefaultICPConfig())
	scan := cloud.NewPointCloud(time.Now(), jitteredCloud(3))

	_, ok := icp.Register(scan, cloud.Identity(), nil)
	assert.False(t, ok)

	_, ok = icp.Register(scan, cloud.Identity(), asLocalMap(nil, 1))
	assert.False(t, ok)
}

func TestICP_FailsWithoutCorrespondences(t *testing.T) {
	t.Parallel()

	lm := asLocalMap(jitteredCloud(4), 1)
	// A scan nowhere near the map yields too few matches.
	far := cloud.Transform(jitteredCloud(4), cloud.FromTranslation(500, 500, 0))
	scan := cloud.NewPointCloud(time.Now(), far)

	icp := NewICP(DefaultICPConfig())
	_, ok := icp.Register(scan, cloud.Identity(), lm)
	assert.False(t, ok)
}
