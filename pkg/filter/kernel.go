// Package filter defines the numeric descriptors consumed by the filtering
// engines: convolution kernels and morphological structuring elements, plus
// the small helpers every engine shares (border mirroring and threshold
// blending).
package filter

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrEmptyFilter is returned when a kernel or structure has no data.
	ErrEmptyFilter = errors.New("empty filter")

	// ErrEvenSize is returned when a kernel or structure size is not odd.
	ErrEvenSize = errors.New("filter size must be odd")

	// ErrInvalidParameter is returned for out-of-range construction parameters.
	ErrInvalidParameter = errors.New("invalid filter parameter")
)

// separabilityTolerance bounds the ratio between the second and the first
// singular value of a kernel matrix for it to be treated as rank one.
const separabilityTolerance = 1.0e-10

// Kernel is a square, odd-sized matrix of filter coefficients.
//
// A kernel is built in normal orientation. The correlation engine flips it
// for the duration of a call (see Orient), which turns its correlation pass
// into a true convolution.
type Kernel struct {
	name         string
	size         int
	coefficients []float64
	flipped      bool

	// rowFactor and colFactor are the 1D factors of a separable kernel:
	// coefficients[i*size+j] == colFactor[i]*rowFactor[j].
	rowFactor []float64
	colFactor []float64
}

// NewKernel creates a kernel from size*size coefficients in row-major order.
// Separability is detected automatically.
func NewKernel(coefficients []float64, size int, name string) (*Kernel, error) {
	if size <= 0 || len(coefficients) == 0 {
		return nil, ErrEmptyFilter
	}
	if size%2 == 0 {
		return nil, fmt.Errorf("%w: %d", ErrEvenSize, size)
	}
	if len(coefficients) != size*size {
		return nil, fmt.Errorf("%w: %d coefficients for a %dx%d kernel", ErrInvalidParameter, len(coefficients), size, size)
	}
	k := &Kernel{
		name:         name,
		size:         size,
		coefficients: append([]float64(nil), coefficients...),
	}
	k.rowFactor, k.colFactor = factorize(k.coefficients, size)
	return k, nil
}

// NewSeparableKernel creates a kernel as the outer product of a column vector
// (vertical profile) and a row vector (horizontal profile) of equal odd length.
func NewSeparableKernel(row, col []float64, name string) (*Kernel, error) {
	if len(row) == 0 || len(col) == 0 {
		return nil, ErrEmptyFilter
	}
	if len(row) != len(col) {
		return nil, fmt.Errorf("%w: separable factors of different lengths %d and %d", ErrInvalidParameter, len(row), len(col))
	}
	size := len(row)
	if size%2 == 0 {
		return nil, fmt.Errorf("%w: %d", ErrEvenSize, size)
	}
	k := &Kernel{
		name:         name,
		size:         size,
		coefficients: make([]float64, size*size),
		rowFactor:    append([]float64(nil), row...),
		colFactor:    append([]float64(nil), col...),
	}
	for i := 0; i < size; i++ {
		for j := 0; j < size; j++ {
			k.coefficients[i*size+j] = col[i] * row[j]
		}
	}
	return k, nil
}

// NewGaussianKernel creates a separable Gaussian kernel with unit peak. A
// non-positive size selects 2*ceil(3*sigma)+1.
func NewGaussianKernel(sigma float64, size int) (*Kernel, error) {
	if sigma <= 0 || math.IsNaN(sigma) || math.IsInf(sigma, 0) {
		return nil, fmt.Errorf("%w: sigma=%v", ErrInvalidParameter, sigma)
	}
	if size <= 0 {
		size = 2*int(math.Ceil(3*sigma)) + 1
	}
	if size%2 == 0 {
		return nil, fmt.Errorf("%w: %d", ErrEvenSize, size)
	}
	h := size / 2
	g := make([]float64, size)
	for i := range g {
		x := float64(i - h)
		g[i] = math.Exp(-x * x / (2 * sigma * sigma))
	}
	return NewSeparableKernel(g, g, fmt.Sprintf("Gaussian (sigma=%g)", sigma))
}

// NewB3SplineKernel returns the 5x5 B3 spline scaling function.
func NewB3SplineKernel() *Kernel {
	v := []float64{1.0 / 16, 4.0 / 16, 6.0 / 16, 4.0 / 16, 1.0 / 16}
	k, _ := NewSeparableKernel(v, v, "B3 Spline (5)")
	return k
}

// NewLinearKernel returns the 3x3 linear interpolation scaling function.
func NewLinearKernel() *Kernel {
	v := []float64{0.25, 0.5, 0.25}
	k, _ := NewSeparableKernel(v, v, "Linear Interpolation (3)")
	return k
}

// Name returns the descriptive name of the kernel.
func (k *Kernel) Name() string { return k.name }

// Size returns the number of rows (and columns) of the kernel.
func (k *Kernel) Size() int { return k.size }

// IsEmpty reports whether the kernel holds no coefficients.
func (k *Kernel) IsEmpty() bool { return k == nil || k.size == 0 || len(k.coefficients) == 0 }

// Coefficients returns the coefficients in current orientation. The returned
// slice must not be modified.
func (k *Kernel) Coefficients() []float64 { return k.coefficients }

// At returns the coefficient at row i, column j in current orientation.
func (k *Kernel) At(i, j int) float64 { return k.coefficients[i*k.size+j] }

// Weight returns the sum of all coefficients.
func (k *Kernel) Weight() float64 { return floats.Sum(k.coefficients) }

// NormalizationWeight returns the divisor applied to filtered values: the
// kernel weight, or 1 for zero-sum (high-pass) kernels.
func (k *Kernel) NormalizationWeight() float64 {
	w := k.Weight()
	var abs float64
	for _, c := range k.coefficients {
		abs += math.Abs(c)
	}
	if abs == 0 || math.Abs(w) <= 1.0e-12*abs {
		return 1
	}
	return w
}

// IsHighPass reports whether the kernel has negative coefficients.
func (k *Kernel) IsHighPass() bool {
	for _, c := range k.coefficients {
		if c < 0 {
			return true
		}
	}
	return false
}

// IsSeparable reports whether the kernel is the outer product of two vectors.
func (k *Kernel) IsSeparable() bool { return k.rowFactor != nil }

// SeparableFactors returns the row (horizontal) and column (vertical) factors
// of a separable kernel in current orientation, or nil slices.
func (k *Kernel) SeparableFactors() (row, col []float64) { return k.rowFactor, k.colFactor }

// OverlappingDistance returns the neighborhood width required around a pixel.
func (k *Kernel) OverlappingDistance() int { return k.size }

// IsFlipped reports whether the kernel is currently rotated by 180 degrees.
func (k *Kernel) IsFlipped() bool { return k.flipped }

// Flip rotates the kernel by 180 degrees in place. Flip is an involution.
func (k *Kernel) Flip() {
	reverse(k.coefficients)
	reverse(k.rowFactor)
	reverse(k.colFactor)
	k.flipped = !k.flipped
}

// Orient forces the flipped state and returns a function that restores the
// previous state. The restore function must be called exactly once, from the
// same goroutine, after all users of the oriented kernel have finished.
func (k *Kernel) Orient(flipped bool) (restore func()) {
	if k.flipped == flipped {
		return func() {}
	}
	k.Flip()
	return k.Flip
}

// Clone returns an independent copy of the kernel.
func (k *Kernel) Clone() *Kernel {
	out := *k
	out.coefficients = append([]float64(nil), k.coefficients...)
	if k.rowFactor != nil {
		out.rowFactor = append([]float64(nil), k.rowFactor...)
		out.colFactor = append([]float64(nil), k.colFactor...)
	}
	return &out
}

func reverse(v []float64) {
	for i, j := 0, len(v)-1; i < j; i, j = i+1, j-1 {
		v[i], v[j] = v[j], v[i]
	}
}

// factorize returns the rank-one factors of a square coefficient matrix, or
// nil slices when the matrix is not separable.
func factorize(coefficients []float64, size int) (row, col []float64) {
	if size == 1 {
		return []float64{coefficients[0]}, []float64{1}
	}
	var svd mat.SVD
	if !svd.Factorize(mat.NewDense(size, size, append([]float64(nil), coefficients...)), mat.SVDThin) {
		return nil, nil
	}
	s := svd.Values(nil)
	if s[0] == 0 || s[1] > s[0]*separabilityTolerance {
		return nil, nil
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	r := math.Sqrt(s[0])
	row = make([]float64, size)
	col = make([]float64, size)
	for i := 0; i < size; i++ {
		col[i] = r * u.At(i, 0)
		row[i] = r * v.At(i, 0)
	}
	return row, col
}
