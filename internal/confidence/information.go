package confidence

import (
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/relocalize/internal/cloud"
)

// MatrixParams configures information matrix assembly. The zero value
// is not usable; construct via DefaultMatrixParams or from the tuning
// config.
type MatrixParams struct {
	UseConst      bool    // constant mode: use the configured stddevs directly
	ConstStddevX  float64 // constant translational stddev
	ConstStddevQ  float64 // constant rotational stddev
	Gain          float64 // saturation sharpness of the variance curve
	MinStddevX    float64 // best-case translational stddev (m)
	MaxStddevX    float64 // worst-case translational stddev (m)
	MinStddevQ    float64 // best-case rotational stddev (rad)
	MaxStddevQ    float64 // worst-case rotational stddev (rad)
	FitnessThresh float64 // fitness score at which variance saturates
}

// DefaultMatrixParams returns the calibration defaults.
func DefaultMatrixParams() MatrixParams {
	return MatrixParams{
		UseConst:      false,
		ConstStddevX:  0.5,
		ConstStddevQ:  0.1,
		Gain:          20.0,
		MinStddevX:    0.1,
		MaxStddevX:    5.0,
		MinStddevQ:    0.05,
		MaxStddevQ:    0.2,
		FitnessThresh: 0.5,
	}
}

// Builder assembles 6x6 information matrices from registration
// fitness. Matrices are diagonal: the top-left 3x3 block carries
// translational precision, the bottom-right 3x3 rotational precision.
type Builder struct {
	params MatrixParams
}

// NewBuilder returns a Builder with the given parameters.
func NewBuilder(params MatrixParams) *Builder {
	return &Builder{params: params}
}

// Matrix computes the information matrix for a registered cloud pair.
// In constant mode the configured stddevs are used directly; in
// adaptive mode the pair is scored with the evaluator and the score
// drives the variance curve. The fitness score is returned alongside
// the matrix (zero in constant mode, where no scoring happens).
func (b *Builder) Matrix(ev *Evaluator, candidate []cloud.Point, relpose cloud.Pose) (*mat.SymDense, float64) {
	if b.params.UseConst {
		return b.ConstMatrix(), 0
	}
	score, _ := ev.Score(candidate, relpose)
	return b.FromFitness(score), score
}

// Information returns the information matrix for an already computed
// fitness score, honouring the configured mode.
func (b *Builder) Information(score float64) *mat.SymDense {
	if b.params.UseConst {
		return b.ConstMatrix()
	}
	return b.FromFitness(score)
}

// ConstMatrix returns the constant-mode information matrix built from
// the configured stddevs.
func (b *Builder) ConstMatrix() *mat.SymDense {
	return diagonalInformation(b.params.ConstStddevX, b.params.ConstStddevQ)
}

// FromFitness maps a fitness score to an information matrix via two
// independent variance curves, one per axis group. A worse (higher)
// score always yields numerically smaller information entries.
func (b *Builder) FromFitness(score float64) *mat.SymDense {
	p := b.params
	minVarX := p.MinStddevX * p.MinStddevX
	maxVarX := p.MaxStddevX * p.MaxStddevX
	minVarQ := p.MinStddevQ * p.MinStddevQ
	maxVarQ := p.MaxStddevQ * p.MaxStddevQ

	varX := Weight(p.Gain, p.FitnessThresh, minVarX, maxVarX, score)
	varQ := Weight(p.Gain, p.FitnessThresh, minVarQ, maxVarQ, score)
	return diagonalInformation(varX, varQ)
}

// diagonalInformation builds a diagonal 6x6 matrix with I/varX in the
// translational block and I/varQ in the rotational block.
func diagonalInformation(varX, varQ float64) *mat.SymDense {
	m := mat.NewSymDense(6, nil)
	for i := 0; i < 3; i++ {
		m.SetSym(i, i, 1.0/varX)
		m.SetSym(i+3, i+3, 1.0/varQ)
	}
	return m
}
