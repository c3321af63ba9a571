package noise

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"multiscale/pkg/filter"
	"multiscale/pkg/multiscale"
	"multiscale/pkg/parallel"
	"multiscale/pkg/raster"
)

// Defaults of EstimateImageNoise.
const (
	DefaultLayers     = 4
	DefaultK          = 3.0
	DefaultEpsilon    = 0.01
	DefaultIterations = 10
)

// minMRSFraction is the fraction of the selection MRS must classify as noise
// for its estimate to be preferred over the k-sigma one.
const minMRSFraction = 0.01

// ImageEstimate is the noise evaluation of one image channel.
type ImageEstimate struct {
	Estimate
	// Method is "MRS" or "k-sigma".
	Method string
	// Fraction is Count relative to the number of evaluated pixels.
	Fraction float64
}

// EstimateImageNoise evaluates the Gaussian noise of channel c of img over
// its selected rectangle. A four-layer B3 spline à trous decomposition is
// computed; k-sigma clipping of the finest layer gives the initial estimate,
// which MRS then refines. The k-sigma estimate is returned when MRS finds too
// few noise pixels. Samples outside [0,1] are not considered by MRS.
func EstimateImageNoise(ctx context.Context, img *raster.Image, c int, cfg parallel.Config, logger *logrus.Entry) (ImageEstimate, error) {
	if c < 0 || c >= img.NumberOfChannels() {
		return ImageEstimate{}, fmt.Errorf("%w: channel %d", filter.ErrInvalidParameter, c)
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	logger = logger.WithField("component", "noise")

	work := img.Clone()
	work.SelectChannel(c)
	work.SetStatus(img.Status().Child())

	wt := &multiscale.ATrousWaveletTransform{
		ScalingFunction: filter.NewB3SplineKernel(),
		NumberOfLayers:  DefaultLayers,
		Parallel:        cfg,
		Logger:          logger,
	}
	layers, err := wt.Transform(ctx, work)
	if err != nil {
		return ImageEstimate{}, err
	}
	defer layers.Destroy()

	r := work.SelectedRectangle()
	finest := make([]float64, 0, r.Dx()*r.Dy())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		finest = append(finest, layers.Layer(0).Row(y, c)[r.Min.X:r.Max.X]...)
	}
	pixels := float64(len(finest))

	ks := KSigma(finest, DefaultK, DefaultEpsilon, DefaultIterations)
	ks.Sigma /= B3SplineLayerNoise[0]
	logger.WithFields(logrus.Fields{
		"sigma":      ks.Sigma,
		"count":      ks.Count,
		"iterations": ks.Iterations,
	}).Debug("K-sigma estimate")
	if ks.Sigma == 0 {
		return ImageEstimate{Estimate: ks, Method: "k-sigma"}, nil
	}

	mrs, err := MRS(ctx, layers, B3SplineLayerNoise, ks.Sigma, DefaultK, 0, 1, cfg)
	if err != nil {
		return ImageEstimate{}, err
	}
	logger.WithFields(logrus.Fields{
		"sigma":      mrs.Sigma,
		"count":      mrs.Count,
		"iterations": mrs.Iterations,
	}).Debug("MRS estimate")

	if mrs.Sigma == 0 || float64(mrs.Count) < minMRSFraction*pixels {
		return ImageEstimate{Estimate: ks, Method: "k-sigma", Fraction: float64(ks.Count) / pixels}, nil
	}
	return ImageEstimate{Estimate: mrs, Method: "MRS", Fraction: float64(mrs.Count) / pixels}, nil
}
