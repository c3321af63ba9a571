// Package noise estimates the standard deviation of Gaussian noise from the
// detail layers of a multiscale decomposition.
package noise

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Estimate is the result of a noise estimation.
type Estimate struct {
	// Sigma is the estimated standard deviation, zero for degenerate input.
	Sigma float64
	// Count is the number of samples the estimate was computed from.
	Count int
	// Iterations is the number of refinement iterations performed.
	Iterations int
}

// KSigma estimates the standard deviation of samples by iterative k-sigma
// clipping: samples whose magnitude exceeds k times the current estimate are
// discarded and the estimate is recomputed, up to maxIterations times or
// until its relative change falls below epsilon. The zero Estimate is
// returned when fewer than two samples remain or the deviation vanishes.
func KSigma(samples []float64, k, epsilon float64, maxIterations int) Estimate {
	s := make([]float64, 0, len(samples))
	for _, v := range samples {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			s = append(s, v)
		}
	}
	maxIterations = max(maxIterations, 1)

	var last float64
	for it := 1; ; it++ {
		if len(s) < 2 {
			return Estimate{}
		}
		sigma := stat.StdDev(s, nil)
		if sigma == 0 || math.IsNaN(sigma) {
			return Estimate{}
		}
		if it >= maxIterations || (it > 1 && math.Abs(sigma-last)/sigma < epsilon) {
			return Estimate{Sigma: sigma, Count: len(s), Iterations: it}
		}
		last = sigma

		threshold := k * sigma
		kept := s[:0]
		for _, v := range s {
			if math.Abs(v) <= threshold {
				kept = append(kept, v)
			}
		}
		s = kept
	}
}
