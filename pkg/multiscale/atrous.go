package multiscale

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"multiscale/pkg/convolution"
	"multiscale/pkg/filter"
	"multiscale/pkg/parallel"
	"multiscale/pkg/raster"
)

// Sequence selects how the tap distance grows with the scale.
type Sequence int

const (
	// Dyadic uses a tap distance of 2^(j-1) at scale j.
	Dyadic Sequence = iota
	// Linear uses a tap distance of 1 + (j-1)*Delta at scale j.
	Linear
)

// ATrousWaveletTransform is the undecimated wavelet transform computed with
// the à trous algorithm.
type ATrousWaveletTransform struct {
	// ScalingFunction is the low-pass kernel. Nil selects the B3 spline.
	ScalingFunction *filter.Kernel

	NumberOfLayers int
	Sequence       Sequence
	// Delta is the tap distance increment of the linear sequence.
	Delta int

	// LayerEnabled has NumberOfLayers+1 entries, the last one for the
	// residual. Nil enables every layer.
	LayerEnabled []bool

	Parallel parallel.Config
	Logger   *logrus.Entry
}

// Interlacing returns the tap distance used at scale j, j >= 1.
func (t *ATrousWaveletTransform) Interlacing(j int) int {
	if t.Sequence == Linear {
		return 1 + (j-1)*max(t.Delta, 1)
	}
	return 1 << (j - 1)
}

// Transform decomposes img. The input image is not modified.
func (t *ATrousWaveletTransform) Transform(ctx context.Context, img *raster.Image) (*LayerSet, error) {
	enabled, err := checkLayers(t.NumberOfLayers, t.LayerEnabled)
	if err != nil {
		return nil, err
	}
	if t.Sequence == Linear && t.Delta < 1 {
		return nil, fmt.Errorf("%w: linear sequence delta %d", filter.ErrInvalidParameter, t.Delta)
	}
	scaling := t.ScalingFunction
	if scaling == nil {
		scaling = filter.NewB3SplineKernel()
	}
	if scaling.IsEmpty() {
		return nil, filter.ErrEmptyFilter
	}
	logger := entry(t.Logger).WithField("transform", "atrous")
	logger.WithFields(logrus.Fields{
		"layers":  t.NumberOfLayers,
		"scaling": scaling.Name(),
	}).Debug("Starting à trous wavelet transform")

	return decompose(ctx, img, t.NumberOfLayers, enabled, "À trous wavelet transform", logger,
		func(ctx context.Context, j int, residual *raster.Image) error {
			c, err := convolution.New(scaling,
				convolution.WithInterlacing(t.Interlacing(j)),
				convolution.WithRawHighPass(true),
				convolution.WithParallel(t.Parallel),
				convolution.WithLogger(logger))
			if err != nil {
				return err
			}
			return c.Apply(ctx, residual)
		})
}
