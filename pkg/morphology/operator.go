package morphology

import (
	"fmt"
	"math"
	"slices"

	"github.com/samber/lo"
	"gonum.org/v1/gonum/stat"

	"multiscale/pkg/filter"
)

// OperatorKind enumerates the rank-order operators.
type OperatorKind int

const (
	ErosionKind OperatorKind = iota
	DilationKind
	MedianKind
	SelectionKind
	MidpointKind
	AlphaTrimmedMeanKind
)

// Operator reduces the samples covered by one way of a structuring element to
// a single value. The set of operators is closed; use the constructors below.
type Operator struct {
	kind  OperatorKind
	param float64
}

// Erosion returns the minimum operator.
func Erosion() Operator { return Operator{kind: ErosionKind} }

// Dilation returns the maximum operator.
func Dilation() Operator { return Operator{kind: DilationKind} }

// Median returns the median operator.
func Median() Operator { return Operator{kind: MedianKind} }

// Midpoint returns the mean of the minimum and the maximum.
func Midpoint() Operator { return Operator{kind: MidpointKind} }

// Selection returns the operator selecting the sample at rank p*(n-1),
// 0 <= p <= 1. Selection(0) is an erosion and Selection(1) a dilation.
func Selection(p float64) (Operator, error) {
	if p < 0 || p > 1 || math.IsNaN(p) {
		return Operator{}, fmt.Errorf("%w: selection point %g", filter.ErrInvalidParameter, p)
	}
	return Operator{kind: SelectionKind, param: p}, nil
}

// AlphaTrimmedMean returns the mean of the samples left after discarding the
// fraction t of the lowest and of the highest ones, 0 <= t < 0.5.
func AlphaTrimmedMean(t float64) (Operator, error) {
	if t < 0 || t >= 0.5 || math.IsNaN(t) {
		return Operator{}, fmt.Errorf("%w: trimming factor %g", filter.ErrInvalidParameter, t)
	}
	return Operator{kind: AlphaTrimmedMeanKind, param: t}, nil
}

// ParseOperator maps a command line name to an operator. param is used by
// selection and alpha-trimmed mean.
func ParseOperator(name string, param float64) (Operator, error) {
	switch name {
	case "erosion", "erode", "min":
		return Erosion(), nil
	case "dilation", "dilate", "max":
		return Dilation(), nil
	case "median":
		return Median(), nil
	case "midpoint":
		return Midpoint(), nil
	case "selection":
		return Selection(param)
	case "alpha-trimmed-mean", "atm":
		return AlphaTrimmedMean(param)
	}
	return Operator{}, fmt.Errorf("%w: unknown morphological operator %q", filter.ErrInvalidParameter, name)
}

// Kind returns the operator kind.
func (op Operator) Kind() OperatorKind { return op.kind }

// String returns the operator name.
func (op Operator) String() string {
	switch op.kind {
	case ErosionKind:
		return "Erosion"
	case DilationKind:
		return "Dilation"
	case MedianKind:
		return "Median"
	case SelectionKind:
		return fmt.Sprintf("Selection (%g)", op.param)
	case MidpointKind:
		return "Midpoint"
	case AlphaTrimmedMeanKind:
		return fmt.Sprintf("Alpha-Trimmed Mean (%g)", op.param)
	}
	return "Unknown"
}

// reflected reports the structure orientation the operator works with.
func (op Operator) reflected() bool { return op.kind == DilationKind }

// Apply computes the operator over values. values is reordered in place and
// must not be empty.
func (op Operator) Apply(values []float64) float64 {
	switch op.kind {
	case ErosionKind:
		return lo.Min(values)
	case DilationKind:
		return lo.Max(values)
	case MedianKind:
		return median(values)
	case SelectionKind:
		return quickSelect(values, int(math.Round(op.param*float64(len(values)-1))))
	case MidpointKind:
		return (lo.Min(values) + lo.Max(values)) / 2
	case AlphaTrimmedMeanKind:
		slices.Sort(values)
		d := int(op.param * float64(len(values)))
		return stat.Mean(values[d:len(values)-d], nil)
	}
	panic(fmt.Sprintf("morphology: unknown operator kind %d", op.kind))
}

// median returns the median of values, averaging the two central samples of
// an even-length slice.
func median(values []float64) float64 {
	n := len(values)
	m := quickSelect(values, n/2)
	if n%2 == 1 {
		return m
	}
	// After selection every sample below n/2 is <= m.
	return (lo.Max(values[:n/2]) + m) / 2
}

// quickSelect partially sorts values so that values[k] holds the k-th
// smallest sample and returns it.
func quickSelect(values []float64, k int) float64 {
	left, right := 0, len(values)-1
	for left < right {
		// median of three pivot
		mid := left + (right-left)/2
		if values[mid] < values[left] {
			values[mid], values[left] = values[left], values[mid]
		}
		if values[right] < values[left] {
			values[right], values[left] = values[left], values[right]
		}
		if values[right] < values[mid] {
			values[right], values[mid] = values[mid], values[right]
		}
		pivot := values[mid]

		i, j := left, right
		for i <= j {
			for values[i] < pivot {
				i++
			}
			for values[j] > pivot {
				j--
			}
			if i <= j {
				values[i], values[j] = values[j], values[i]
				i++
				j--
			}
		}
		switch {
		case k <= j:
			right = j
		case k >= i:
			left = i
		default:
			return values[k]
		}
	}
	return values[k]
}
