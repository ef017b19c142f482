package confidence

import "math"

// Weight maps a registration fitness score to a variance in
// [minVar, maxVar]. The curve rises from minVar at a perfect score
// through a saturating exponential controlled by gain, and pins to
// maxVar at or beyond scoreThresh. It is finite and monotonically
// non-decreasing for every non-negative score, including the +Inf
// sentinel produced when a registration finds no correspondences.
func Weight(gain, scoreThresh, minVar, maxVar, fitnessScore float64) float64 {
	if fitnessScore <= 0 {
		return minVar
	}
	if math.IsInf(fitnessScore, 1) || fitnessScore >= scoreThresh {
		return maxVar
	}
	y := (1.0 - math.Exp(-gain*fitnessScore)) / (1.0 - math.Exp(-gain*scoreThresh))
	if y < 0 {
		y = 0
	} else if y > 1 {
		y = 1
	}
	return minVar + (maxVar-minVar)*y
}
