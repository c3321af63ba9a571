package noise

import (
	"context"
	"fmt"
	"math"

	"multiscale/pkg/filter"
	"multiscale/pkg/multiscale"
	"multiscale/pkg/parallel"
)

const (
	// MaxMRSIterations bounds the refinement loop of MRS.
	MaxMRSIterations = 10

	// mrsTolerance is the relative sigma change below which MRS stops.
	mrsTolerance = 1.0e-4

	// mrsBias corrects the underestimation caused by rejecting significant
	// coefficients.
	mrsBias = 0.974
)

// moments accumulates count, mean and squared deviations (Welford).
type moments struct {
	n    int
	mean float64
	m2   float64
}

func (m *moments) add(x float64) {
	m.n++
	d := x - m.mean
	m.mean += d / float64(m.n)
	m.m2 += d * (x - m.mean)
}

// merge combines two partial accumulations (Chan et al.).
func (m *moments) merge(o moments) {
	if o.n == 0 {
		return
	}
	if m.n == 0 {
		*m = o
		return
	}
	n := m.n + o.n
	d := o.mean - m.mean
	m.mean += d * float64(o.n) / float64(n)
	m.m2 += o.m2 + d*d*float64(m.n)*float64(o.n)/float64(n)
	m.n = n
}

func (m moments) stdDev() float64 {
	if m.n < 2 {
		return 0
	}
	return math.Sqrt(m.m2 / float64(m.n-1))
}

// MRS refines an initial noise estimate sigma with the multiresolution
// support of a complete layer set.
//
// A pixel belongs to the noise when its coefficient in every detail layer j
// satisfies |w_j| < k*sigma*layerNoise[j] and its original value lies strictly
// between lowClip and highClip. The estimate is the standard deviation of
// original minus residual over noise pixels, recomputed until it converges or
// MaxMRSIterations is reached, and finally divided by an empirical bias
// factor. The first selected channel of the layers is evaluated over their
// selected rectangle.
func MRS(ctx context.Context, layers *multiscale.LayerSet, layerNoise []float64, sigma, k, lowClip, highClip float64, cfg parallel.Config) (Estimate, error) {
	if layers == nil || !layers.IsComplete() {
		return Estimate{}, fmt.Errorf("%w: MRS requires every layer and the residual", multiscale.ErrInvalidLayers)
	}
	n := layers.NumberOfLayers()
	if len(layerNoise) < n {
		return Estimate{}, fmt.Errorf("%w: %d layer noise coefficients for %d layers", filter.ErrInvalidParameter, len(layerNoise), n)
	}
	if k <= 0 {
		return Estimate{}, fmt.Errorf("%w: k=%g", filter.ErrInvalidParameter, k)
	}
	if sigma <= 0 || math.IsNaN(sigma) {
		return Estimate{}, nil
	}

	residual := layers.Residual()
	r := residual.SelectedRectangle()
	c := residual.FirstSelectedChannel()
	rows := r.Dy()
	threads := cfg.NumberOfThreads(rows, 1)
	thresholds := make([]float64, n)

	var est Estimate
	for it := 1; it <= MaxMRSIterations; it++ {
		for j := range thresholds {
			thresholds[j] = k * sigma * layerNoise[j]
		}

		partial := make([]moments, threads)
		err := parallel.For(ctx, rows, threads, func(ctx context.Context, worker, begin, end int) error {
			acc := &partial[worker]
			details := make([][]float64, n)
			for y := r.Min.Y + begin; y < r.Min.Y+end; y++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				for j := range details {
					details[j] = layers.Layer(j).Row(y, c)
				}
				res := residual.Row(y, c)
			pixels:
				for x := r.Min.X; x < r.Max.X; x++ {
					var d float64
					for j, row := range details {
						w := row[x]
						if math.Abs(w) >= thresholds[j] {
							continue pixels
						}
						d += w
					}
					if v := d + res[x]; v <= lowClip || v >= highClip {
						continue
					}
					acc.add(d)
				}
			}
			return nil
		})
		if err != nil {
			return Estimate{}, err
		}

		var total moments
		for _, p := range partial {
			total.merge(p)
		}
		if total.n < 2 {
			return Estimate{}, nil
		}
		next := total.stdDev()
		if next == 0 {
			return Estimate{}, nil
		}
		est = Estimate{Sigma: next, Count: total.n, Iterations: it}
		if math.Abs(next-sigma)/next < mrsTolerance {
			break
		}
		sigma = next
	}
	est.Sigma /= mrsBias
	return est, nil
}
