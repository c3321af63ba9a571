package filter

import "fmt"

// Thresholds control ringing suppression. Where a filtered value differs from
// the original sample by less than the threshold on its side (Low for negative
// differences, High for positive ones) the result is blended linearly back
// toward the original. A zero threshold disables its side.
type Thresholds struct {
	Low  float64
	High float64
}

// Validate rejects negative thresholds.
func (t Thresholds) Validate() error {
	if t.Low < 0 || t.High < 0 {
		return fmt.Errorf("%w: negative threshold (low=%g, high=%g)", ErrInvalidParameter, t.Low, t.High)
	}
	return nil
}

// Active reports whether any side is enabled.
func (t Thresholds) Active() bool { return t.Low > 0 || t.High > 0 }

// Blend returns the thresholded result for one sample.
func (t Thresholds) Blend(original, filtered float64) float64 {
	delta := filtered - original
	switch {
	case delta < 0:
		if -delta < t.Low {
			return original + delta*(-delta/t.Low)
		}
	case delta > 0:
		if delta < t.High {
			return original + delta*(delta/t.High)
		}
	}
	return filtered
}

// BlendRow applies Blend element-wise, writing into filtered.
func (t Thresholds) BlendRow(original, filtered []float64) {
	for i, f := range filtered {
		filtered[i] = t.Blend(original[i], f)
	}
}
