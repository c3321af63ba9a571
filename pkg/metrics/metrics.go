// Package metrics computes quality measures between two images, typically a
// filtered or reconstructed image and its reference. The command line tool
// reports them after reconstructing a multiscale decomposition and after
// comparing a spatial convolution with its FFT counterpart.
package metrics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"multiscale/pkg/raster"
)

// Metrics holds the comparison of one channel.
type Metrics struct {
	// RMSE is the root mean square difference of the samples.
	RMSE float64

	// MaxAbsDiff is the largest absolute sample difference.
	MaxAbsDiff float64

	// SSIM is the global structural similarity index, in [-1, 1].
	SSIM float64

	// MI approximates the mutual information under a Gaussian assumption.
	MI float64

	// EntropyDiff is the absolute difference of the 256-bin Shannon
	// entropies.
	EntropyDiff float64
}

// Compare evaluates every channel of two images of equal geometry.
func Compare(reference, test *raster.Image) ([]Metrics, error) {
	if reference.Width() != test.Width() || reference.Height() != test.Height() ||
		reference.NumberOfChannels() != test.NumberOfChannels() {
		return nil, fmt.Errorf("incompatible images: %dx%dx%d vs %dx%dx%d",
			reference.Width(), reference.Height(), reference.NumberOfChannels(),
			test.Width(), test.Height(), test.NumberOfChannels())
	}
	out := make([]Metrics, reference.NumberOfChannels())
	for c := range out {
		a := reference.PixelData(c)
		b := test.PixelData(c)
		out[c] = Metrics{
			RMSE:        RMSE(a, b),
			MaxAbsDiff:  MaxAbsDiff(a, b),
			SSIM:        SSIM(a, b),
			MI:          MutualInformation(a, b),
			EntropyDiff: math.Abs(Entropy(a) - Entropy(b)),
		}
	}
	return out, nil
}

// RMSE computes the root mean square error
func RMSE(original, reconstructed []float64) float64 {
	n := len(original)
	if n != len(reconstructed) || n == 0 {
		return 0
	}
	return floats.Distance(original, reconstructed, 2) / math.Sqrt(float64(n))
}

// MaxAbsDiff returns the Chebyshev distance of the samples.
func MaxAbsDiff(original, reconstructed []float64) float64 {
	if len(original) != len(reconstructed) || len(original) == 0 {
		return 0
	}
	return floats.Distance(original, reconstructed, math.Inf(1))
}

// SSIM computes the Structural Similarity Index over the whole data set for
// a unit dynamic range.
func SSIM(original, reconstructed []float64) float64 {
	const L = 1.0
	const k1 = 0.01
	const k2 = 0.03

	c1 := (k1 * L) * (k1 * L)
	c2 := (k2 * L) * (k2 * L)

	n := len(original)
	if n != len(reconstructed) || n < 2 {
		return 0
	}

	muX := stat.Mean(original, nil)
	muY := stat.Mean(reconstructed, nil)
	sigmaX := stat.Variance(original, nil)
	sigmaY := stat.Variance(reconstructed, nil)
	sigmaXY := stat.Covariance(original, reconstructed, nil)

	num := (2*muX*muY + c1) * (2*sigmaXY + c2)
	den := (muX*muX + muY*muY + c1) * (sigmaX + sigmaY + c2)
	if den > 0 {
		return num / den
	}
	return 0
}

// MutualInformation returns 0.5*log(var(X)var(Y) / (var(X)var(Y) - cov(X,Y)²)).
// Identical or perfectly correlated data yield +Inf.
func MutualInformation(original, reconstructed []float64) float64 {
	n := len(original)
	if n != len(reconstructed) || n < 2 {
		return 0
	}
	varX := stat.Variance(original, nil)
	varY := stat.Variance(reconstructed, nil)
	cov := stat.Covariance(original, reconstructed, nil)
	if varX <= 0 || varY <= 0 {
		return 0
	}
	det := varX*varY - cov*cov
	if det <= 0 {
		return math.Inf(1)
	}
	return 0.5 * math.Log(varX*varY/det)
}

// Entropy computes the Shannon entropy, in bits, of a 256-bin histogram
// spanning the data range.
func Entropy(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	lo, hi := floats.Min(data), floats.Max(data)
	if hi <= lo {
		return 0
	}

	const numBins = 256
	hist := make([]float64, numBins)
	binWidth := (hi - lo) / numBins
	for _, v := range data {
		bin := min(max(int((v-lo)/binWidth), 0), numBins-1)
		hist[bin]++
	}
	floats.Scale(1/float64(len(data)), hist)
	return stat.Entropy(hist) / math.Ln2
}
