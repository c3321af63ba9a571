// Package multiscale decomposes images into detail layers of increasing
// characteristic scale plus a large-scale residual.
//
// Two transforms are provided: the à trous (starlet) wavelet transform, which
// smooths with a scaling function at growing tap distances, and the
// multiscale median transform, which smooths with median filters of growing
// size. In both, detail layer j is the difference between the residuals of
// scales j-1 and j, so the sum of all layers reproduces the input.
package multiscale

import (
	"context"
	"errors"
	"fmt"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"multiscale/pkg/parallel"
	"multiscale/pkg/raster"
)

// ErrInvalidLayers is returned for invalid layer counts, masks or indices.
var ErrInvalidLayers = errors.New("invalid layer specification")

// MaxLayers bounds the number of detail layers of a decomposition.
const MaxLayers = 16

// Mode selects the decomposition algorithm.
type Mode int

const (
	ATrous Mode = iota
	Median
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ATrous:
		return "atrous"
	case Median:
		return "median"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode maps a mode name to a Mode.
func ParseMode(name string) (Mode, error) {
	switch name {
	case "atrous", "a-trous", "wavelet", "starlet":
		return ATrous, nil
	case "median", "mmt":
		return Median, nil
	}
	return 0, fmt.Errorf("unknown decomposition mode %q", name)
}

// Transform is implemented by both multiscale transforms.
type Transform interface {
	Transform(ctx context.Context, img *raster.Image) (*LayerSet, error)
}

// DecomposeMultiscale decomposes img into numberOfLayers detail layers and a
// residual using default transform parameters. layerEnabled may be nil to
// keep every layer; otherwise it needs numberOfLayers+1 entries.
func DecomposeMultiscale(ctx context.Context, img *raster.Image, numberOfLayers int, layerEnabled []bool, mode Mode, cfg parallel.Config) (*LayerSet, error) {
	var t Transform
	switch mode {
	case ATrous:
		t = &ATrousWaveletTransform{NumberOfLayers: numberOfLayers, LayerEnabled: layerEnabled, Parallel: cfg}
	case Median:
		t = &MedianTransform{NumberOfLayers: numberOfLayers, LayerEnabled: layerEnabled, Parallel: cfg}
	default:
		return nil, fmt.Errorf("unknown decomposition mode %d", int(mode))
	}
	return t.Transform(ctx, img)
}

// checkLayers validates a layer count and mask and returns the effective mask.
func checkLayers(numberOfLayers int, layerEnabled []bool) ([]bool, error) {
	if numberOfLayers < 1 || numberOfLayers > MaxLayers {
		return nil, fmt.Errorf("%w: %d layers, expected 1 to %d", ErrInvalidLayers, numberOfLayers, MaxLayers)
	}
	if layerEnabled == nil {
		return lo.Times(numberOfLayers+1, func(int) bool { return true }), nil
	}
	if len(layerEnabled) != numberOfLayers+1 {
		return nil, fmt.Errorf("%w: layer mask has %d entries, expected %d", ErrInvalidLayers, len(layerEnabled), numberOfLayers+1)
	}
	return layerEnabled, nil
}

// step produces residual j from residual j-1 in place.
type step func(ctx context.Context, j int, residual *raster.Image) error

// decompose runs the common scale loop. The input is never modified. On
// failure the partial layer set is destroyed.
func decompose(ctx context.Context, img *raster.Image, numberOfLayers int, enabled []bool, label string, logger *logrus.Entry, next step) (_ *LayerSet, err error) {
	set := newLayerSet(numberOfLayers)
	defer func() {
		if err != nil {
			set.Destroy()
		}
	}()

	monitor := img.Status()
	if monitor != nil {
		monitor.Initialize(label, int64(numberOfLayers))
	}

	// Scale filters report to a child so the per-layer count stays on
	// monitor while an abort still reaches the workers.
	residual := img.Clone()
	residual.SetStatus(monitor.Child())
	for j := 1; j <= numberOfLayers; j++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		previous := residual
		if enabled[j-1] {
			previous = residual.Clone()
		}
		if err := next(ctx, j, residual); err != nil {
			return nil, fmt.Errorf("scale %d: %w", j, err)
		}
		if enabled[j-1] {
			if err := previous.Subtract(residual); err != nil {
				return nil, err
			}
			previous.SetStatus(nil)
			set.layers[j-1] = previous
		}
		logger.WithField("layer", j).Debug("Layer computed")
		if err := monitor.Add(1); err != nil {
			return nil, err
		}
	}
	if enabled[numberOfLayers] {
		residual.SetStatus(nil)
		set.layers[numberOfLayers] = residual
	}
	monitor.Complete()
	return set, nil
}

func entry(logger *logrus.Entry) *logrus.Entry {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return logger.WithField("component", "multiscale")
}

var (
	_ Transform = (*ATrousWaveletTransform)(nil)
	_ Transform = (*MedianTransform)(nil)
)
