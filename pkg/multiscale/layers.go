package multiscale

import (
	"fmt"

	"multiscale/pkg/raster"
)

// LayerSet holds the result of a multiscale decomposition: one detail layer
// per scale followed by the large-scale residual. Disabled layers are nil.
type LayerSet struct {
	layers []*raster.Image
}

func newLayerSet(numberOfLayers int) *LayerSet {
	return &LayerSet{layers: make([]*raster.Image, numberOfLayers+1)}
}

// NumberOfLayers returns the number of detail layers, excluding the residual.
func (s *LayerSet) NumberOfLayers() int { return len(s.layers) - 1 }

// Len returns the number of entries including the residual.
func (s *LayerSet) Len() int { return len(s.layers) }

// Layer returns entry j: a detail layer for j < NumberOfLayers(), the
// residual for j == NumberOfLayers(). Disabled entries are nil.
func (s *LayerSet) Layer(j int) *raster.Image { return s.layers[j] }

// Residual returns the large-scale residual layer, or nil if it is disabled.
func (s *LayerSet) Residual() *raster.Image { return s.layers[len(s.layers)-1] }

// IsComplete reports whether every entry, residual included, is present.
func (s *LayerSet) IsComplete() bool {
	for _, l := range s.layers {
		if l == nil {
			return false
		}
	}
	return len(s.layers) > 0
}

// Reconstruct returns the sum of all present entries. When every entry is
// present the result reproduces the decomposed image.
func (s *LayerSet) Reconstruct() (*raster.Image, error) {
	var out *raster.Image
	for _, l := range s.layers {
		if l == nil {
			continue
		}
		if out == nil {
			out = l.Clone()
			out.ResetSelections()
			out.SetStatus(nil)
			continue
		}
		if err := out.Add(l); err != nil {
			return nil, err
		}
	}
	if out == nil {
		return nil, fmt.Errorf("%w: no layers to reconstruct", ErrInvalidLayers)
	}
	return out, nil
}

// BiasLayer multiplies entry j by factor.
func (s *LayerSet) BiasLayer(j int, factor float64) error {
	if j < 0 || j >= len(s.layers) {
		return fmt.Errorf("%w: layer %d out of range", ErrInvalidLayers, j)
	}
	if s.layers[j] == nil {
		return fmt.Errorf("%w: layer %d is disabled", ErrInvalidLayers, j)
	}
	s.layers[j].Scale(factor)
	return nil
}

// Destroy releases every entry.
func (s *LayerSet) Destroy() {
	for j := range s.layers {
		s.layers[j] = nil
	}
}
