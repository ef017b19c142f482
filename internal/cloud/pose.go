package cloud

import "math"

// Pose is a rigid transform (rotation + translation) stored as a 4x4
// row-major matrix: m00,m01,m02,m03, m10,... Poses carry full double
// precision and are compared via distance/angle thresholds, never for
// equality.
type Pose struct {
	T [16]float64
}

// Identity returns the identity pose.
func Identity() Pose {
	return Pose{T: [16]float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}}
}

// FromTranslation returns a pure translation pose.
func FromTranslation(x, y, z float64) Pose {
	p := Identity()
	p.T[3] = x
	p.T[7] = y
	p.T[11] = z
	return p
}

// FromXYZYaw returns a pose translated to (x, y, z) and rotated about
// the Z axis by yaw radians.
func FromXYZYaw(x, y, z, yaw float64) Pose {
	c := math.Cos(yaw)
	s := math.Sin(yaw)
	return Pose{T: [16]float64{
		c, -s, 0, x,
		s, c, 0, y,
		0, 0, 1, z,
		0, 0, 0, 1,
	}}
}

// Apply transforms the point (x, y, z) by the pose.
func (p Pose) Apply(x, y, z float64) (wx, wy, wz float64) {
	t := &p.T
	wx = t[0]*x + t[1]*y + t[2]*z + t[3]
	wy = t[4]*x + t[5]*y + t[6]*z + t[7]
	wz = t[8]*x + t[9]*y + t[10]*z + t[11]
	return
}

// Translation returns the translational component of the pose.
func (p Pose) Translation() (x, y, z float64) {
	return p.T[3], p.T[7], p.T[11]
}

// Yaw returns the rotation of the pose about the Z axis in radians.
func (p Pose) Yaw() float64 {
	return math.Atan2(p.T[4], p.T[0])
}

// Compose returns p * q: q applied first, then p.
func (p Pose) Compose(q Pose) Pose {
	var out Pose
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			sum := 0.0
			for k := 0; k < 4; k++ {
				sum += p.T[r*4+k] * q.T[k*4+c]
			}
			out.T[r*4+c] = sum
		}
	}
	return out
}

// Inverse returns the inverse transform. Only valid for rigid poses:
// the rotation block is transposed and the translation negated through
// it.
func (p Pose) Inverse() Pose {
	var out Pose
	// R^T
	out.T[0], out.T[1], out.T[2] = p.T[0], p.T[4], p.T[8]
	out.T[4], out.T[5], out.T[6] = p.T[1], p.T[5], p.T[9]
	out.T[8], out.T[9], out.T[10] = p.T[2], p.T[6], p.T[10]
	// -R^T * t
	tx, ty, tz := p.T[3], p.T[7], p.T[11]
	out.T[3] = -(out.T[0]*tx + out.T[1]*ty + out.T[2]*tz)
	out.T[7] = -(out.T[4]*tx + out.T[5]*ty + out.T[6]*tz)
	out.T[11] = -(out.T[8]*tx + out.T[9]*ty + out.T[10]*tz)
	out.T[15] = 1
	return out
}

// TranslationDistance returns the Euclidean distance between the
// translations of p and q.
func (p Pose) TranslationDistance(q Pose) float64 {
	dx := p.T[3] - q.T[3]
	dy := p.T[7] - q.T[7]
	dz := p.T[11] - q.T[11]
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// RotationAngleTo returns the angle in radians of the relative
// rotation between p and q, computed from the trace of R_p^T * R_q.
func (p Pose) RotationAngleTo(q Pose) float64 {
	// trace(R_p^T * R_q)
	tr := 0.0
	for c := 0; c < 3; c++ {
		for k := 0; k < 3; k++ {
			tr += p.T[k*4+c] * q.T[k*4+c]
		}
	}
	cos := (tr - 1) / 2
	if cos > 1 {
		cos = 1
	} else if cos < -1 {
		cos = -1
	}
	return math.Acos(cos)
}

// IsRigid reports whether the pose is a proper rigid transform: the
// rotation block must be orthonormal with determinant +1 and the
// bottom row must be (0, 0, 0, 1), within tol.
func (p Pose) IsRigid(tol float64) bool {
	for c := 0; c < 3; c++ {
		if math.Abs(p.T[12+c]) > tol {
			return false
		}
	}
	if math.Abs(p.T[15]-1) > tol {
		return false
	}
	// columns of R must be unit length and mutually orthogonal
	for a := 0; a < 3; a++ {
		for b := a; b < 3; b++ {
			dot := 0.0
			for k := 0; k < 3; k++ {
				dot += p.T[k*4+a] * p.T[k*4+b]
			}
			want := 0.0
			if a == b {
				want = 1.0
			}
			if math.Abs(dot-want) > tol {
				return false
			}
		}
	}
	det := p.T[0]*(p.T[5]*p.T[10]-p.T[6]*p.T[9]) -
		p.T[1]*(p.T[4]*p.T[10]-p.T[6]*p.T[8]) +
		p.T[2]*(p.T[4]*p.T[9]-p.T[5]*p.T[8])
	return math.Abs(det-1) <= tol
}
