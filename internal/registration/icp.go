package registration

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/relocalize/internal/cloud"
	"github.com/banshee-data/relocalize/internal/localmap"
)

// ICPConfig tunes the iterative-closest-point matcher.
type ICPConfig struct {
	// MaxIterations bounds the refinement loop.
	MaxIterations int
	// MaxCorrespondenceRange is the nearest-neighbour cutoff (m).
	MaxCorrespondenceRange float64
	// TranslationEps: iteration stops when the correction moves less
	// than this (m).
	TranslationEps float64
	// RotationEps: iteration stops when the correction rotates less
	// than this (rad).
	RotationEps float64
	// MinMatched is the minimum correspondence count required for a
	// step; fewer means the alignment is degenerate and registration
	// fails.
	MinMatched int
}

// DefaultICPConfig returns matcher defaults suitable for automotive
// scan rates.
func DefaultICPConfig() ICPConfig {
	return ICPConfig{
		MaxIterations:          30,
		MaxCorrespondenceRange: 2.0,
		TranslationEps:         1e-4,
		RotationEps:            1e-4,
		MinMatched:             10,
	}
}

// ICP registers a scan against the local map by alternating
// nearest-neighbour correspondence search with a closed-form rigid
// alignment (SVD). It implements localization.Localizer. Register is
// not safe for concurrent use; the tracking path serializes calls.
type ICP struct {
	cfg ICPConfig

	// index cached per local-map generation; the reference cloud is
	// immutable for a given generation.
	index    *cloud.NNIndex
	indexGen uint64
}

// NewICP returns a matcher with the given configuration.
func NewICP(cfg ICPConfig) *ICP {
	return &ICP{cfg: cfg}
}

// Register aligns pc to the local map starting from seed. ok is false
// when the map is empty, correspondences are too few, or the
// iteration budget runs out before the correction settles.
func (icp *ICP) Register(pc *cloud.PointCloud, seed cloud.Pose, lm *localmap.LocalMap) (cloud.Pose, bool) {
	if lm == nil || lm.Cloud.Len() == 0 || pc.Len() == 0 {
		return cloud.Pose{}, false
	}
	// Generation 0 marks an ad-hoc map that is never cached.
	if icp.index == nil || lm.Generation == 0 || icp.indexGen != lm.Generation {
		icp.index = cloud.NewNNIndex(lm.Cloud.Points, icp.cfg.MaxCorrespondenceRange)
		icp.indexGen = lm.Generation
	}

	pose := seed
	src := make([]float64, 0, 3*pc.Len())
	dst := make([]float64, 0, 3*pc.Len())

	for iter := 0; iter < icp.cfg.MaxIterations; iter++ {
		src = src[:0]
		dst = dst[:0]
		for _, p := range pc.Points {
			x, y, z := pose.Apply(p.X, p.Y, p.Z)
			nearest, _, ok := icp.index.NearestWithin(x, y, z, icp.cfg.MaxCorrespondenceRange)
			if !ok {
				continue
			}
			r := icp.index.Point(nearest)
			src = append(src, x, y, z)
			dst = append(dst, r.X, r.Y, r.Z)
		}
		if len(src)/3 < icp.cfg.MinMatched {
			return cloud.Pose{}, false
		}

		delta, ok := rigidAlign(src, dst)
		if !ok {
			return cloud.Pose{}, false
		}
		pose = delta.Compose(pose)

		if delta.TranslationDistance(cloud.Identity()) < icp.cfg.TranslationEps &&
			delta.RotationAngleTo(cloud.Identity()) < icp.cfg.RotationEps {
			return pose, true
		}
	}
	return cloud.Pose{}, false
}

// rigidAlign computes the rigid transform best mapping src onto dst
// in the least-squares sense (Kabsch). src and dst are flat xyz
// triples of equal length.
func rigidAlign(src, dst []float64) (cloud.Pose, bool) {
	n := len(src) / 3
	if n == 0 || len(src) != len(dst) {
		return cloud.Pose{}, false
	}
	inv := 1.0 / float64(n)

	var csx, csy, csz, cdx, cdy, cdz float64
	for i := 0; i < n; i++ {
		csx += src[3*i]
		csy += src[3*i+1]
		csz += src[3*i+2]
		cdx += dst[3*i]
		cdy += dst[3*i+1]
		cdz += dst[3*i+2]
	}
	csx, csy, csz = csx*inv, csy*inv, csz*inv
	cdx, cdy, cdz = cdx*inv, cdy*inv, cdz*inv

	// cross-covariance H = Σ (src-cs)(dst-cd)^T
	h := mat.NewDense(3, 3, nil)
	for i := 0; i < n; i++ {
		sx, sy, sz := src[3*i]-csx, src[3*i+1]-csy, src[3*i+2]-csz
		dx, dy, dz := dst[3*i]-cdx, dst[3*i+1]-cdy, dst[3*i+2]-cdz
		h.Set(0, 0, h.At(0, 0)+sx*dx)
		h.Set(0, 1, h.At(0, 1)+sx*dy)
		h.Set(0, 2, h.At(0, 2)+sx*dz)
		h.Set(1, 0, h.At(1, 0)+sy*dx)
		h.Set(1, 1, h.At(1, 1)+sy*dy)
		h.Set(1, 2, h.At(1, 2)+sy*dz)
		h.Set(2, 0, h.At(2, 0)+sz*dx)
		h.Set(2, 1, h.At(2, 1)+sz*dy)
		h.Set(2, 2, h.At(2, 2)+sz*dz)
	}

	var svd mat.SVD
	if !svd.Factorize(h, mat.SVDFull) {
		return cloud.Pose{}, false
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	// R = V * diag(1, 1, det(V U^T)) * U^T guards against reflections.
	var vut mat.Dense
	vut.Mul(&v, u.T())
	d := mat.Det(&vut)

	var corr mat.Dense
	corr.CloneFrom(&v)
	if d < 0 {
		for r := 0; r < 3; r++ {
			corr.Set(r, 2, -corr.At(r, 2))
		}
	}
	var rot mat.Dense
	rot.Mul(&corr, u.T())

	var pose cloud.Pose
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			pose.T[r*4+c] = rot.At(r, c)
		}
	}
	// t = cd - R*cs
	pose.T[3] = cdx - (rot.At(0, 0)*csx + rot.At(0, 1)*csy + rot.At(0, 2)*csz)
	pose.T[7] = cdy - (rot.At(1, 0)*csx + rot.At(1, 1)*csy + rot.At(1, 2)*csz)
	pose.T[11] = cdz - (rot.At(2, 0)*csx + rot.At(2, 1)*csy + rot.At(2, 2)*csz)
	pose.T[15] = 1

	if math.IsNaN(pose.T[3]) || !pose.IsRigid(1e-6) {
		return cloud.Pose{}, false
	}
	return pose, true
}
