// Package fftconv implements convolution in the frequency domain.
//
// The response (a kernel or a response image) is normalized to unit sum,
// written in wrap-around order into a zero padded buffer and transformed once
// per padded geometry. Every call mirrors the target into a padded buffer,
// transforms it, multiplies by the cached response and transforms back.
// Two-dimensional transforms run all rows in parallel, then all columns.
package fftconv

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"sync"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"

	"multiscale/pkg/filter"
	"multiscale/pkg/parallel"
	"multiscale/pkg/progress"
	"multiscale/pkg/raster"
)

// ErrZeroResponse is returned when a response cannot be normalized because
// its coefficients sum to zero.
var ErrZeroResponse = errors.New("response coefficients sum to zero")

// FFTConvolution convolves images with a fixed response.
type FFTConvolution struct {
	name     string
	response []float64 // normalized, row-major
	rw, rh   int

	parallel parallel.Config
	logger   *logrus.Entry

	mu    sync.Mutex
	cache map[image.Point][]complex128
}

// Option configures an FFTConvolution.
type Option func(*FFTConvolution)

// WithParallel sets the worker configuration.
func WithParallel(cfg parallel.Config) Option {
	return func(f *FFTConvolution) { f.parallel = cfg }
}

// WithLogger sets the logger used for debug output.
func WithLogger(logger *logrus.Entry) Option {
	return func(f *FFTConvolution) { f.logger = logger }
}

// New creates an FFT convolution with a kernel as response.
func New(kernel *filter.Kernel, opts ...Option) (*FFTConvolution, error) {
	if kernel.IsEmpty() {
		return nil, filter.ErrEmptyFilter
	}
	restore := kernel.Orient(false)
	defer restore()
	return newConvolution(kernel.Name(), kernel.Coefficients(), kernel.Size(), kernel.Size(), opts)
}

// NewWithResponse creates an FFT convolution whose response is the selected
// rectangle of channel c of img.
func NewWithResponse(img *raster.Image, c int, opts ...Option) (*FFTConvolution, error) {
	if img == nil {
		return nil, filter.ErrEmptyFilter
	}
	if c < 0 || c >= img.NumberOfChannels() {
		return nil, fmt.Errorf("%w: channel %d", filter.ErrInvalidParameter, c)
	}
	plane := img.Plane(c)
	data := make([]float64, 0, plane.Width()*plane.Height())
	for y := 0; y < plane.Height(); y++ {
		data = append(data, plane.Row(y)...)
	}
	return newConvolution("Response image", data, plane.Width(), plane.Height(), opts)
}

func newConvolution(name string, coefficients []float64, width, height int, opts []Option) (*FFTConvolution, error) {
	if len(coefficients) == 0 || width <= 0 || height <= 0 {
		return nil, filter.ErrEmptyFilter
	}
	sum := floats.Sum(coefficients)
	if sum == 0 || math.IsNaN(sum) || math.IsInf(1/sum, 0) {
		return nil, fmt.Errorf("%s: %w", name, ErrZeroResponse)
	}
	response := append([]float64(nil), coefficients...)
	floats.Scale(1/sum, response)

	f := &FFTConvolution{
		name:     name,
		response: response,
		rw:       width,
		rh:       height,
		parallel: parallel.DefaultConfig(),
		cache:    make(map[image.Point][]complex128),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.logger == nil {
		f.logger = logrus.NewEntry(logrus.StandardLogger())
	}
	f.logger = f.logger.WithField("component", "fftconv")
	return f, nil
}

// ResponseSize returns the width and height of the response.
func (f *FFTConvolution) ResponseSize() (width, height int) { return f.rw, f.rh }

// OptimizedLength returns the smallest integer >= n whose only prime factors
// are 2, 3 and 5.
func OptimizedLength(n int) int {
	if n <= 1 {
		return 1
	}
	for m := n; ; m++ {
		k := m
		for _, p := range []int{2, 3, 5} {
			for k%p == 0 {
				k /= p
			}
		}
		if k == 1 {
			return m
		}
	}
}

// PaddedSize returns the transform geometry used for a target of the given
// size.
func (f *FFTConvolution) PaddedSize(width, height int) image.Point {
	return image.Pt(OptimizedLength(width+f.rw), OptimizedLength(height+f.rh))
}

// transformedResponse returns the cached forward transform of the response
// for geometry size, already scaled by 1/(w*h).
func (f *FFTConvolution) transformedResponse(ctx context.Context, size image.Point) ([]complex128, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if k, ok := f.cache[size]; ok {
		return k, nil
	}

	w, h := size.X, size.Y
	k := make([]complex128, w*h)
	cx, cy := f.rw/2, f.rh/2
	for i := 0; i < f.rh; i++ {
		y := mod(i-cy, h)
		for j := 0; j < f.rw; j++ {
			x := mod(j-cx, w)
			k[y*w+x] = complex(f.response[i*f.rw+j], 0)
		}
	}
	if err := transform2D(ctx, k, w, h, false, f.threads(h), nil); err != nil {
		return nil, err
	}
	s := complex(1/float64(w*h), 0)
	for i := range k {
		k[i] *= s
	}
	f.cache[size] = k
	f.logger.WithFields(logrus.Fields{
		"response": f.name,
		"width":    w,
		"height":   h,
	}).Debug("Cached transformed response")
	return k, nil
}

func (f *FFTConvolution) threads(lines int) int {
	return f.parallel.NumberOfThreads(lines, 1)
}

// Apply convolves the selection of every selected channel of img in place.
// Selections smaller than the response are filtered like any other: the
// mirrored padding extends them to the transform size, so no zero filling
// takes place as in the spatial engines. A 1x1 selection keeps its value
// under a normalized response.
// If Apply returns an error the selection content is undefined.
func (f *FFTConvolution) Apply(ctx context.Context, img *raster.Image) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if img.Status().IsAborted() {
		return progress.ErrAborted
	}

	r := img.SelectedRectangle()
	W, H := r.Dx(), r.Dy()
	size := f.PaddedSize(W, H)
	w, h := size.X, size.Y

	k, err := f.transformedResponse(ctx, size)
	if err != nil {
		return err
	}

	monitor := img.Status()
	if monitor != nil {
		perChannel := int64(6*w*h + W*H)
		monitor.Initialize(fmt.Sprintf("FFT convolution: %s", f.name), perChannel*int64(img.NumberOfSelectedChannels()))
	}
	f.logger.WithFields(logrus.Fields{
		"response": f.name,
		"target":   r.String(),
		"padded":   size.String(),
	}).Debug("Convolving in the frequency domain")

	buf := make([]complex128, w*h)
	for ch := img.FirstSelectedChannel(); ch <= img.LastSelectedChannel(); ch++ {
		plane := img.Plane(ch)
		if err := f.mirror(ctx, buf, plane, w, h, monitor); err != nil {
			return err
		}
		if err := transform2D(ctx, buf, w, h, false, f.threads(h), monitor); err != nil {
			return err
		}
		err := parallel.For(ctx, h, f.threads(h), func(ctx context.Context, _, begin, end int) error {
			tracker := progress.NewTracker(ctx, monitor)
			for y := begin; y < end; y++ {
				row, kr := buf[y*w:(y+1)*w], k[y*w:(y+1)*w]
				for x := range row {
					row[x] *= kr[x]
				}
				if err := tracker.Advance(w); err != nil {
					return err
				}
			}
			return tracker.Flush()
		})
		if err != nil {
			return err
		}
		if err := transform2D(ctx, buf, w, h, true, f.threads(h), monitor); err != nil {
			return err
		}
		err = parallel.For(ctx, H, f.threads(H), func(ctx context.Context, _, begin, end int) error {
			tracker := progress.NewTracker(ctx, monitor)
			for y := begin; y < end; y++ {
				dst, src := plane.Row(y), buf[y*w:y*w+W]
				for x := range dst {
					dst[x] = real(src[x])
				}
				if err := tracker.Advance(W); err != nil {
					return err
				}
			}
			return tracker.Flush()
		})
		if err != nil {
			return err
		}
	}
	monitor.Complete()
	return nil
}

// mirror copies plane into the top-left corner of buf and fills the padding
// with mirrored samples. Padding columns right of the plane continue it to
// the right; the remaining ones wrap around to the left of column zero, and
// likewise for rows.
func (f *FFTConvolution) mirror(ctx context.Context, buf []complex128, plane raster.Plane, w, h int, monitor *progress.Monitor) error {
	W, H := plane.Width(), plane.Height()
	cols := make([]int, w)
	for x := range cols {
		cols[x] = filter.Mirror(logical(x, W, w), W)
	}
	return parallel.For(ctx, h, f.threads(h), func(ctx context.Context, _, begin, end int) error {
		tracker := progress.NewTracker(ctx, monitor)
		for y := begin; y < end; y++ {
			src := plane.Row(filter.Mirror(logical(y, H, h), H))
			dst := buf[y*w : (y+1)*w]
			for x, c := range cols {
				dst[x] = complex(src[c], 0)
			}
			if err := tracker.Advance(w); err != nil {
				return err
			}
		}
		return tracker.Flush()
	})
}

// logical maps padded index i of a buffer of length padded holding n samples
// to its position relative to the samples.
func logical(i, n, padded int) int {
	if i < n+(padded-n)/2 {
		return i
	}
	return i - padded
}

// FFTConvolve convolves img with kernel in the frequency domain.
func FFTConvolve(ctx context.Context, img *raster.Image, kernel *filter.Kernel, cfg parallel.Config) error {
	f, err := New(kernel, WithParallel(cfg))
	if err != nil {
		return err
	}
	return f.Apply(ctx, img)
}

func mod(a, n int) int {
	a %= n
	if a < 0 {
		a += n
	}
	return a
}
