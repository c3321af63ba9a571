package multiscale

import (
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"multiscale/pkg/convolution"
	"multiscale/pkg/filter"
	"multiscale/pkg/morphology"
	"multiscale/pkg/parallel"
	"multiscale/pkg/raster"
)

// DefaultMedianWaveletThreshold is the default k of the median-wavelet
// significance test |d| > k*MAD/0.6745.
const DefaultMedianWaveletThreshold = 5.0

// madToSigma converts a median absolute deviation into a Gaussian sigma.
const madToSigma = 0.6745

// MedianTransform is the multiscale median transform.
type MedianTransform struct {
	NumberOfLayers int

	// StructureSizes optionally sets the median structure size of every
	// scale. Empty selects 2*2^(j-1)+1 at scale j.
	StructureSizes []int

	// MedianWavelet enables the median-wavelet hybrid: significant median
	// differences keep the median value, the rest keeps the original, and
	// the result is smoothed with ScalingFunction.
	MedianWavelet          bool
	MedianWaveletThreshold float64
	// ScalingFunction is used by the median-wavelet hybrid. Nil selects the
	// B3 spline.
	ScalingFunction *filter.Kernel

	LayerEnabled []bool

	Parallel parallel.Config
	Logger   *logrus.Entry
}

// StructureSize returns the median structure size of scale j, j >= 1.
func (t *MedianTransform) StructureSize(j int) int {
	if len(t.StructureSizes) >= j {
		return t.StructureSizes[j-1]
	}
	return 2*(1<<(j-1)) + 1
}

// Transform decomposes img. The input image is not modified.
func (t *MedianTransform) Transform(ctx context.Context, img *raster.Image) (*LayerSet, error) {
	enabled, err := checkLayers(t.NumberOfLayers, t.LayerEnabled)
	if err != nil {
		return nil, err
	}
	if n := len(t.StructureSizes); n != 0 && n != t.NumberOfLayers {
		return nil, fmt.Errorf("%w: %d structure sizes for %d layers", ErrInvalidLayers, n, t.NumberOfLayers)
	}
	for j := 1; j <= t.NumberOfLayers; j++ {
		if s := t.StructureSize(j); s < 3 || s%2 == 0 {
			return nil, fmt.Errorf("%w: structure size %d at scale %d", filter.ErrInvalidParameter, s, j)
		}
	}
	k := t.MedianWaveletThreshold
	if k <= 0 {
		k = DefaultMedianWaveletThreshold
	}
	scaling := t.ScalingFunction
	if scaling == nil {
		scaling = filter.NewB3SplineKernel()
	}

	logger := entry(t.Logger).WithField("transform", "median")
	logger.WithFields(logrus.Fields{
		"layers":        t.NumberOfLayers,
		"medianWavelet": t.MedianWavelet,
	}).Debug("Starting multiscale median transform")

	return decompose(ctx, img, t.NumberOfLayers, enabled, "Multiscale median transform", logger,
		func(ctx context.Context, j int, residual *raster.Image) error {
			structure, err := filter.StandardStructure(t.StructureSize(j))
			if err != nil {
				return err
			}
			f, err := morphology.New(morphology.Median(), structure,
				morphology.WithParallel(t.Parallel),
				morphology.WithLogger(logger))
			if err != nil {
				return err
			}
			if !t.MedianWavelet {
				return f.Apply(ctx, residual)
			}

			original := residual.Clone()
			if err := f.Apply(ctx, residual); err != nil {
				return err
			}
			selectSignificant(original, residual, k)
			c, err := convolution.New(scaling,
				convolution.WithInterlacing(1<<(j-1)),
				convolution.WithRawHighPass(true),
				convolution.WithParallel(t.Parallel),
				convolution.WithLogger(logger))
			if err != nil {
				return err
			}
			return c.Apply(ctx, residual)
		})
}

// selectSignificant replaces, in the selection of every selected channel,
// the median-filtered samples whose difference from the original is not
// significant by the original samples. A difference is significant when its
// magnitude exceeds k*MAD/0.6745, the MAD being taken over the selection.
func selectSignificant(original, filtered *raster.Image, k float64) {
	r := filtered.SelectedRectangle()
	for c := filtered.FirstSelectedChannel(); c <= filtered.LastSelectedChannel(); c++ {
		diff := make([]float64, 0, r.Dx()*r.Dy())
		for y := r.Min.Y; y < r.Max.Y; y++ {
			o := original.Row(y, c)[r.Min.X:r.Max.X]
			f := filtered.Row(y, c)[r.Min.X:r.Max.X]
			for x := range o {
				diff = append(diff, o[x]-f[x])
			}
		}
		threshold := k * MAD(diff) / madToSigma

		i := 0
		for y := r.Min.Y; y < r.Max.Y; y++ {
			o := original.Row(y, c)[r.Min.X:r.Max.X]
			f := filtered.Row(y, c)[r.Min.X:r.Max.X]
			for x := range o {
				if math.Abs(diff[i]) <= threshold {
					f[x] = o[x]
				}
				i++
			}
		}
	}
}

// MAD returns the median absolute deviation from the median of values.
func MAD(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	m := stat.Quantile(0.5, stat.Empirical, sorted, nil)
	for i, v := range sorted {
		sorted[i] = math.Abs(v - m)
	}
	slices.Sort(sorted)
	return stat.Quantile(0.5, stat.Empirical, sorted, nil)
}
