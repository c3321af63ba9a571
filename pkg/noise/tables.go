package noise

import "strings"

// B3SplineLayerNoise holds the standard deviation of the first ten à trous
// layers of unit-variance white Gaussian noise, B3 spline scaling function.
var B3SplineLayerNoise = []float64{0.8907, 0.2007, 0.0856, 0.0413, 0.0205, 0.0103, 0.0052, 0.0026, 0.0013, 0.0007}

// LinearLayerNoise is the same table for the linear interpolation scaling
// function.
var LinearLayerNoise = []float64{0.8002, 0.2735, 0.1202, 0.0585, 0.0291, 0.0152, 0.0080, 0.0044, 0.0029, 0.0022}

// LayerNoise returns a copy of the layer noise table of a scaling function,
// identified by kernel name.
func LayerNoise(kernelName string) ([]float64, bool) {
	name := strings.ToLower(kernelName)
	switch {
	case strings.Contains(name, "b3"):
		return append([]float64(nil), B3SplineLayerNoise...), true
	case strings.Contains(name, "linear"):
		return append([]float64(nil), LinearLayerNoise...), true
	}
	return nil, false
}
