package confidence

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/relocalize/internal/cloud"
)

func TestBuilder_DiagonalPositive(t *testing.T) {
	t.Parallel()

	b := NewBuilder(DefaultMatrixParams())
	for _, score := range []float64{0, 0.1, 0.25, 0.5, 2.0, math.Inf(1)} {
		m := b.FromFitness(score)
		r, c := m.Dims()
		require.Equal(t, 6, r)
		require.Equal(t, 6, c)
		for i := 0; i < 6; i++ {
			for j := 0; j < 6; j++ {
				v := m.At(i, j)
				if i == j {
					assert.Greater(t, v, 0.0, "score=%f diag %d", score, i)
					assert.False(t, math.IsInf(v, 0))
				} else {
					assert.Equal(t, 0.0, v, "score=%f off-diag (%d,%d)", score, i, j)
				}
			}
		}
	}
}

func TestBuilder_BlockStructure(t *testing.T) {
	t.Parallel()

	b := NewBuilder(DefaultMatrixParams())
	m := b.FromFitness(0) // best case → min variances

	p := DefaultMatrixParams()
	wantX := 1.0 / (p.MinStddevX * p.MinStddevX)
	wantQ := 1.0 / (p.MinStddevQ * p.MinStddevQ)
	for i := 0; i < 3; i++ {
		assert.InDelta(t, wantX, m.At(i, i), 1e-9)
		assert.InDelta(t, wantQ, m.At(i+3, i+3), 1e-9)
	}
}

func TestBuilder_WorseFitnessSmallerInformation(t *testing.T) {
	t.Parallel()

	b := NewBuilder(DefaultMatrixParams())
	prevX := math.Inf(1)
	prevQ := math.Inf(1)
	for _, score := range []float64{0, 0.05, 0.1, 0.2, 0.35, 0.5, 1.0, math.Inf(1)} {
		m := b.FromFitness(score)
		assert.LessOrEqual(t, m.At(0, 0), prevX, "score=%f", score)
		assert.LessOrEqual(t, m.At(3, 3), prevQ, "score=%f", score)
		prevX = m.At(0, 0)
		prevQ = m.At(3, 3)
	}
}

func TestBuilder_ConstMode(t *testing.T) {
	t.Parallel()

	params := DefaultMatrixParams()
	params.UseConst = true
	b := NewBuilder(params)

	// Constant mode never scores the pair; the evaluator is unused.
	m, score := b.Matrix(nil, nil, cloud.Identity())
	assert.Equal(t, 0.0, score)
	for i := 0; i < 3; i++ {
		assert.InDelta(t, 1.0/params.ConstStddevX, m.At(i, i), 1e-9)
		assert.InDelta(t, 1.0/params.ConstStddevQ, m.At(i+3, i+3), 1e-9)
	}
}

func TestBuilder_AdaptiveMatrixUsesScore(t *testing.T) {
	t.Parallel()

	ref := gridCloud(8, 0.5)
	ev := NewEvaluator(ref, 2.0)
	b := NewBuilder(DefaultMatrixParams())

	// Perfect alignment → minimum variance → maximum information.
	m, score := b.Matrix(ev, ref, cloud.Identity())
	assert.Equal(t, 0.0, score)
	p := DefaultMatrixParams()
	assert.InDelta(t, 1.0/(p.MinStddevX*p.MinStddevX), m.At(0, 0), 1e-9)

	// Misaligned pair → strictly less information.
	m2, score2 := b.Matrix(ev, ref, cloud.FromTranslation(0.3, 0, 0))
	assert.Greater(t, score2, 0.0)
	assert.Less(t, m2.At(0, 0), m.At(0, 0))
}
