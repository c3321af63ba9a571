// Package convolution implements the tiled parallel spatial correlation
// engine. Kernels are flipped for the duration of a call, so the correlation
// pass computes a true convolution.
//
// The selection of every selected channel is split into horizontal strips,
// one per worker. Each worker slides a window of mirrored source rows down its
// strip and writes the rows that border a neighbor strip into private halo
// buffers, which are copied back after all workers have joined.
package convolution

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"

	"multiscale/pkg/filter"
	"multiscale/pkg/parallel"
	"multiscale/pkg/progress"
	"multiscale/pkg/raster"
)

// Convolution filters images with a fixed kernel.
type Convolution struct {
	kernel          *filter.Kernel
	thresholds      filter.Thresholds
	interlacing     int
	rawHighPass     bool
	rescaleHighPass bool
	parallel        parallel.Config
	logger          *logrus.Entry
}

// Option configures a Convolution.
type Option func(*Convolution)

// WithThresholds enables ringing suppression with the given low and high
// thresholds.
func WithThresholds(low, high float64) Option {
	return func(c *Convolution) { c.thresholds = filter.Thresholds{Low: low, High: high} }
}

// WithInterlacing sets the distance between kernel taps in pixels. An
// interlacing of 1 is a regular convolution; larger values implement the
// holes of the à trous algorithm.
func WithInterlacing(d int) Option {
	return func(c *Convolution) { c.interlacing = d }
}

// WithRawHighPass disables the post normalization of high-pass results.
func WithRawHighPass(raw bool) Option {
	return func(c *Convolution) { c.rawHighPass = raw }
}

// WithRescaleHighPass rescales high-pass results to [0,1] instead of
// truncating them.
func WithRescaleHighPass(rescale bool) Option {
	return func(c *Convolution) { c.rescaleHighPass = rescale }
}

// WithParallel sets the worker configuration.
func WithParallel(cfg parallel.Config) Option {
	return func(c *Convolution) { c.parallel = cfg }
}

// WithLogger sets the logger used for debug output.
func WithLogger(logger *logrus.Entry) Option {
	return func(c *Convolution) { c.logger = logger }
}

// New creates a convolution with the given kernel. The kernel is shared, not
// copied; it is flipped and restored by every call to Apply.
func New(kernel *filter.Kernel, opts ...Option) (*Convolution, error) {
	if kernel.IsEmpty() {
		return nil, filter.ErrEmptyFilter
	}
	if kernel.Size()%2 == 0 {
		return nil, fmt.Errorf("%w: %d", filter.ErrEvenSize, kernel.Size())
	}
	c := &Convolution{
		kernel:      kernel,
		interlacing: 1,
		parallel:    parallel.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.interlacing < 1 {
		return nil, fmt.Errorf("%w: interlacing %d", filter.ErrInvalidParameter, c.interlacing)
	}
	if err := c.thresholds.Validate(); err != nil {
		return nil, err
	}
	if c.logger == nil {
		c.logger = logrus.NewEntry(logrus.StandardLogger())
	}
	c.logger = c.logger.WithField("component", "convolution")
	return c, nil
}

// Kernel returns the filter kernel.
func (c *Convolution) Kernel() *filter.Kernel { return c.kernel }

// Interlacing returns the tap distance.
func (c *Convolution) Interlacing() int { return c.interlacing }

// OverlappingDistance returns the number of rows and columns a pixel's
// neighborhood spans, (kernelRows-1)*interlacing + 1.
func (c *Convolution) OverlappingDistance() int {
	return OverlappingDistance(c.kernel.Size(), c.interlacing)
}

// OverlappingDistance returns (size-1)*interlacing + 1.
func OverlappingDistance(size, interlacing int) int {
	return (size-1)*interlacing + 1
}

// Apply convolves the selected rectangle of every selected channel of img in
// place. When the neighborhood is larger than the selection in either
// direction, the selection is zero-filled.
//
// If Apply returns an error the selection content is undefined.
func (c *Convolution) Apply(ctx context.Context, img *raster.Image) error {
	restore := c.kernel.Orient(true)
	defer restore()

	if err := ctx.Err(); err != nil {
		return err
	}
	if img.Status().IsAborted() {
		return progress.ErrAborted
	}

	r := img.SelectedRectangle()
	n := c.OverlappingDistance()
	if n > r.Dx() || n > r.Dy() {
		c.logger.WithFields(logrus.Fields{
			"overlap":   n,
			"selection": r.String(),
		}).Debug("Selection smaller than kernel neighborhood, zero filling")
		img.Fill(0)
		return nil
	}

	separable := c.kernel.IsSeparable() && !c.thresholds.Active() && c.kernel.Size() > 1
	passes := int64(1)
	if separable {
		passes = 2
	}
	monitor := img.Status()
	if monitor != nil {
		monitor.Initialize(fmt.Sprintf("Convolution: %s", c.kernel.Name()), passes*img.NumberOfSelectedSamples())
	}

	threads := c.parallel.NumberOfThreads(r.Dy(), n)
	c.logger.WithFields(logrus.Fields{
		"kernel":      c.kernel.Name(),
		"size":        c.kernel.Size(),
		"interlacing": c.interlacing,
		"separable":   separable,
		"threads":     threads,
	}).Debug("Convolving")

	for ch := img.FirstSelectedChannel(); ch <= img.LastSelectedChannel(); ch++ {
		plane := img.Plane(ch)
		if separable {
			// The factors are used unnormalized; the kernel weight is
			// applied once by the vertical pass.
			row, col := c.kernel.SeparableFactors()
			horizontal := taps{coefficients: row, rows: 1, cols: len(row), d: c.interlacing, weight: 1}
			vertical := taps{coefficients: col, rows: len(col), cols: 1, d: c.interlacing, weight: c.kernel.NormalizationWeight()}
			if err := c.pass(ctx, plane, horizontal, filter.Thresholds{}, monitor); err != nil {
				return err
			}
			if err := c.pass(ctx, plane, vertical, filter.Thresholds{}, monitor); err != nil {
				return err
			}
			continue
		}
		t := taps{
			coefficients: c.kernel.Coefficients(),
			rows:         c.kernel.Size(),
			cols:         c.kernel.Size(),
			d:            c.interlacing,
			weight:       c.kernel.NormalizationWeight(),
		}
		if err := c.pass(ctx, plane, t, c.thresholds, monitor); err != nil {
			return err
		}
	}

	if c.kernel.IsHighPass() && !c.rawHighPass {
		if c.rescaleHighPass {
			img.Rescale()
		} else {
			img.Truncate(0, 1)
		}
	}
	monitor.Complete()
	return nil
}

// Convolve filters img with kernel using the given thresholds and worker
// configuration.
func Convolve(ctx context.Context, img *raster.Image, kernel *filter.Kernel, low, high float64, cfg parallel.Config) error {
	c, err := New(kernel, WithThresholds(low, high), WithParallel(cfg))
	if err != nil {
		return err
	}
	return c.Apply(ctx, img)
}

// taps is a rows x cols grid of coefficients spread d pixels apart. Sums
// are divided by weight unless it is exactly 1.
type taps struct {
	coefficients []float64
	rows, cols   int
	d            int
	weight       float64
}

func (t taps) radiusY() int { return (t.rows / 2) * t.d }
func (t taps) radiusX() int { return (t.cols / 2) * t.d }

// pass runs one correlation of plane with t across all strips.
func (c *Convolution) pass(ctx context.Context, plane raster.Plane, t taps, th filter.Thresholds, monitor *progress.Monitor) error {
	halo := t.radiusY()
	threads := c.parallel.NumberOfThreads(plane.Height(), 2*halo+1)
	return parallel.RunStrips(ctx, plane, halo, threads, func(ctx context.Context, s *parallel.Strip) error {
		return correlateStrip(ctx, s, t, th, monitor)
	})
}

func correlateStrip(ctx context.Context, s *parallel.Strip, t taps, th filter.Thresholds, monitor *progress.Monitor) error {
	width := s.Plane().Width()
	rx := t.radiusX()
	win := parallel.NewWindow(s, t.radiusY(), rx)
	tracker := progress.NewTracker(ctx, monitor)
	blend := th.Active()
	result := make([]float64, width)
	hy := t.rows / 2

	for y := s.Begin; y < s.End; y++ {
		for x := range result {
			result[x] = 0
		}
		for i := 0; i < t.rows; i++ {
			src := win.Row((i - hy) * t.d)
			k := t.coefficients[i*t.cols : (i+1)*t.cols]
			if t.d == 1 {
				for x := range result {
					result[x] += floats.Dot(k, src[x:x+t.cols])
				}
				continue
			}
			for x := range result {
				var sum float64
				for j, kv := range k {
					sum += kv * src[x+j*t.d]
				}
				result[x] += sum
			}
		}
		if t.weight != 1 {
			floats.Scale(1/t.weight, result)
		}
		if blend {
			center := win.Row(0)[rx : rx+width]
			th.BlendRow(center, result)
		}
		copy(s.Target(y), result)

		win.Advance()
		if err := tracker.Advance(width); err != nil {
			return err
		}
	}
	return tracker.Flush()
}
