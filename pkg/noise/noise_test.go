package noise

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"multiscale/pkg/multiscale"
	"multiscale/pkg/parallel"
	"multiscale/pkg/progress"
	"multiscale/pkg/raster"
)

func gaussianSamples(n int, sigma float64, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	s := make([]float64, n)
	for i := range s {
		s[i] = sigma * rng.NormFloat64()
	}
	return s
}

// noisyImage creates a flat image at 0.5 with additive Gaussian noise
func noisyImage(t *testing.T, width, height int, sigma float64, seed int64) *raster.Image {
	t.Helper()
	img, err := raster.NewImage(width, height, 1)
	require.NoError(t, err)
	copy(img.PixelData(0), gaussianSamples(width*height, sigma, seed))
	for i := range img.PixelData(0) {
		img.PixelData(0)[i] += 0.5
	}
	return img
}

// TestKSigmaGaussian verifies convergence within 5% of the true sigma
func TestKSigmaGaussian(t *testing.T) {
	for _, sigma := range []float64{0.01, 0.1, 2} {
		est := KSigma(gaussianSamples(200000, sigma, 1), 3, 0.001, 10)
		assert.InEpsilon(t, sigma, est.Sigma, 0.05, "sigma=%g", sigma)
		assert.LessOrEqual(t, est.Iterations, 10)
		assert.Greater(t, est.Count, 190000)
	}
}

// TestKSigmaDegenerate verifies the zero estimate for degenerate input
func TestKSigmaDegenerate(t *testing.T) {
	constant := make([]float64, 1000)
	for i := range constant {
		constant[i] = 0.25
	}
	assert.Equal(t, Estimate{}, KSigma(constant, 3, 0.01, 10))
	assert.Equal(t, Estimate{}, KSigma([]float64{1}, 3, 0.01, 10))
	assert.Equal(t, Estimate{}, KSigma(nil, 3, 0.01, 10))
}

// TestKSigmaRejectsOutliers verifies that clipping removes gross outliers
func TestKSigmaRejectsOutliers(t *testing.T) {
	s := gaussianSamples(50000, 1, 2)
	for i := 0; i < 100; i++ {
		s[i*500] = 1000
	}
	est := KSigma(s, 3, 0.001, 10)
	assert.InEpsilon(t, 1, est.Sigma, 0.05)
}

// TestLayerNoise verifies the table lookup by kernel name
func TestLayerNoise(t *testing.T) {
	b3, ok := LayerNoise("B3 Spline (5)")
	require.True(t, ok)
	assert.Equal(t, B3SplineLayerNoise, b3)

	b3[0] = 0
	assert.Equal(t, 0.8907, B3SplineLayerNoise[0], "lookup must return a copy")

	linear, ok := LayerNoise("Linear Interpolation (3)")
	require.True(t, ok)
	assert.Equal(t, 0.8002, linear[0])

	_, ok = LayerNoise("Gaussian")
	assert.False(t, ok)
}

// TestMoments verifies that merged partial moments match a single pass
func TestMoments(t *testing.T) {
	s := gaussianSamples(1000, 1, 3)
	var all moments
	for _, v := range s {
		all.add(v)
	}
	var a, b, merged moments
	for _, v := range s[:333] {
		a.add(v)
	}
	for _, v := range s[333:] {
		b.add(v)
	}
	merged.merge(a)
	merged.merge(b)
	assert.Equal(t, all.n, merged.n)
	assert.InDelta(t, all.mean, merged.mean, 1e-12)
	assert.InDelta(t, all.stdDev(), merged.stdDev(), 1e-12)
}

// TestMRS verifies the refined estimate on pure Gaussian noise and its
// independence from the worker count
func TestMRS(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping MRS evaluation in short mode")
	}
	const sigma = 0.02
	img := noisyImage(t, 256, 256, sigma, 4)
	layers, err := multiscale.DecomposeMultiscale(context.Background(), img, 4, nil, multiscale.ATrous, parallel.WithThreads(4))
	require.NoError(t, err)

	est, err := MRS(context.Background(), layers, B3SplineLayerNoise, sigma, 3, 0, 1, parallel.WithThreads(1))
	require.NoError(t, err)
	assert.InEpsilon(t, sigma, est.Sigma, 0.1)
	assert.Greater(t, est.Count, 256*256/2)
	assert.LessOrEqual(t, est.Iterations, MaxMRSIterations)

	again, err := MRS(context.Background(), layers, B3SplineLayerNoise, sigma, 3, 0, 1, parallel.WithThreads(6))
	require.NoError(t, err)
	assert.Equal(t, est.Count, again.Count)
	assert.InDelta(t, est.Sigma, again.Sigma, 1e-12)
}

// TestMRSErrors covers invalid arguments and degenerate input
func TestMRSErrors(t *testing.T) {
	img := noisyImage(t, 32, 32, 0.01, 5)
	mask := []bool{true, true, false}
	partial, err := multiscale.DecomposeMultiscale(context.Background(), img, 2, mask, multiscale.ATrous, parallel.Sequential())
	require.NoError(t, err)
	_, err = MRS(context.Background(), partial, B3SplineLayerNoise, 0.01, 3, 0, 1, parallel.Sequential())
	assert.ErrorIs(t, err, multiscale.ErrInvalidLayers)

	full, err := multiscale.DecomposeMultiscale(context.Background(), img, 2, nil, multiscale.ATrous, parallel.Sequential())
	require.NoError(t, err)
	_, err = MRS(context.Background(), full, []float64{1}, 0.01, 3, 0, 1, parallel.Sequential())
	assert.Error(t, err)

	est, err := MRS(context.Background(), full, B3SplineLayerNoise, 0, 3, 0, 1, parallel.Sequential())
	require.NoError(t, err)
	assert.Equal(t, Estimate{}, est)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = MRS(ctx, full, B3SplineLayerNoise, 0.01, 3, 0, 1, parallel.WithThreads(2))
	assert.ErrorIs(t, err, context.Canceled)
}

// TestEstimateImageNoise verifies the whole-image evaluation
func TestEstimateImageNoise(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping image noise evaluation in short mode")
	}
	const sigma = 0.03
	img := noisyImage(t, 200, 160, sigma, 6)

	est, err := EstimateImageNoise(context.Background(), img, 0, parallel.WithThreads(3), nil)
	require.NoError(t, err)
	assert.Equal(t, "MRS", est.Method)
	assert.InEpsilon(t, sigma, est.Sigma, 0.1)
	assert.Greater(t, est.Fraction, 0.5)
}

// TestEstimateImageNoiseConstant verifies that a flat image has no noise
func TestEstimateImageNoiseConstant(t *testing.T) {
	img, err := raster.NewImage(64, 64, 2)
	require.NoError(t, err)
	img.Fill(0.4)

	est, err := EstimateImageNoise(context.Background(), img, 1, parallel.WithThreads(2), nil)
	require.NoError(t, err)
	assert.Zero(t, est.Sigma)
	assert.Zero(t, est.Count)

	_, err = EstimateImageNoise(context.Background(), img, 2, parallel.Sequential(), nil)
	assert.Error(t, err)
}

// TestEstimateImageNoiseAbort verifies that an abort on the image monitor
// reaches the decomposition of the evaluation
func TestEstimateImageNoiseAbort(t *testing.T) {
	img := noisyImage(t, 256, 256, 0.05, 7)
	m := progress.New(nil)
	m.Abort()
	img.SetStatus(m)

	_, err := EstimateImageNoise(context.Background(), img, 0, parallel.WithThreads(2), nil)
	assert.ErrorIs(t, err, progress.ErrAborted)
}
