package confidence

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWeight_Endpoints(t *testing.T) {
	t.Parallel()

	const (
		gain   = 20.0
		thresh = 0.5
		minVar = 0.01
		maxVar = 25.0
	)

	assert.Equal(t, minVar, Weight(gain, thresh, minVar, maxVar, 0))
	assert.Equal(t, maxVar, Weight(gain, thresh, minVar, maxVar, math.Inf(1)))
	assert.Equal(t, maxVar, Weight(gain, thresh, minVar, maxVar, thresh))
	assert.Equal(t, maxVar, Weight(gain, thresh, minVar, maxVar, thresh*10))
}

func TestWeight_Monotonic(t *testing.T) {
	t.Parallel()

	const (
		gain   = 20.0
		thresh = 0.5
		minVar = 0.0025
		maxVar = 0.04
	)

	prev := -1.0
	for score := 0.0; score <= 1.0; score += 0.001 {
		w := Weight(gain, thresh, minVar, maxVar, score)
		assert.GreaterOrEqual(t, w, prev, "score %f", score)
		assert.False(t, math.IsNaN(w))
		assert.False(t, math.IsInf(w, 0))
		assert.GreaterOrEqual(t, w, minVar)
		assert.LessOrEqual(t, w, maxVar)
		prev = w
	}
}

func TestWeight_Bounded(t *testing.T) {
	t.Parallel()

	// Finite for every non-negative score under extreme gains.
	for _, gain := range []float64{0.001, 1, 20, 500} {
		for _, score := range []float64{0, 1e-9, 0.25, 0.4999, 0.5, 100, math.Inf(1)} {
			w := Weight(gain, 0.5, 0.01, 25.0, score)
			assert.False(t, math.IsNaN(w), "gain=%f score=%f", gain, score)
			assert.GreaterOrEqual(t, w, 0.01)
			assert.LessOrEqual(t, w, 25.0)
		}
	}
}
