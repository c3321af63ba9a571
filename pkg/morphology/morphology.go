// Package morphology implements the tiled parallel rank-order filtering
// engine: erosion, dilation, median and the other order statistics over
// one or more ways of a structuring element.
//
// The engine shares the strip and halo discipline of the correlation engine.
package morphology

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"multiscale/pkg/filter"
	"multiscale/pkg/parallel"
	"multiscale/pkg/progress"
	"multiscale/pkg/raster"
)

// Filter applies a rank-order operator over a structuring element.
type Filter struct {
	op         Operator
	structure  *filter.Structure
	thresholds filter.Thresholds
	parallel   parallel.Config
	logger     *logrus.Entry
}

// Option configures a Filter.
type Option func(*Filter)

// WithThresholds enables ringing suppression.
func WithThresholds(low, high float64) Option {
	return func(f *Filter) { f.thresholds = filter.Thresholds{Low: low, High: high} }
}

// WithParallel sets the worker configuration.
func WithParallel(cfg parallel.Config) Option {
	return func(f *Filter) { f.parallel = cfg }
}

// WithLogger sets the logger used for debug output.
func WithLogger(logger *logrus.Entry) Option {
	return func(f *Filter) { f.logger = logger }
}

// New creates a morphological filter. The structure is shared; Apply
// reflects it for dilations and restores it afterwards.
func New(op Operator, structure *filter.Structure, opts ...Option) (*Filter, error) {
	if structure.IsEmpty() {
		return nil, filter.ErrEmptyFilter
	}
	if structure.Size()%2 == 0 {
		return nil, fmt.Errorf("%w: %d", filter.ErrEvenSize, structure.Size())
	}
	for w := 0; w < structure.NumberOfWays(); w++ {
		if structure.NumberOfElements(w) == 0 {
			return nil, fmt.Errorf("%w: way %d of %s has no elements", filter.ErrEmptyFilter, w, structure.Name())
		}
	}
	f := &Filter{
		op:        op,
		structure: structure,
		parallel:  parallel.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if err := f.thresholds.Validate(); err != nil {
		return nil, err
	}
	if f.logger == nil {
		f.logger = logrus.NewEntry(logrus.StandardLogger())
	}
	f.logger = f.logger.WithField("component", "morphology")
	return f, nil
}

// Operator returns the rank-order operator.
func (f *Filter) Operator() Operator { return f.op }

// Structure returns the structuring element.
func (f *Filter) Structure() *filter.Structure { return f.structure }

// OverlappingDistance returns the structure size.
func (f *Filter) OverlappingDistance() int { return f.structure.OverlappingDistance() }

// Apply filters the selection of every selected channel of img in place.
// A selection smaller than the structure is zero-filled. If Apply returns an
// error the selection content is undefined.
func (f *Filter) Apply(ctx context.Context, img *raster.Image) error {
	restore := f.structure.Orient(f.op.reflected())
	defer restore()

	if err := ctx.Err(); err != nil {
		return err
	}
	if img.Status().IsAborted() {
		return progress.ErrAborted
	}

	r := img.SelectedRectangle()
	n := f.OverlappingDistance()
	if n > r.Dx() || n > r.Dy() {
		f.logger.WithFields(logrus.Fields{
			"overlap":   n,
			"selection": r.String(),
		}).Debug("Selection smaller than structure, zero filling")
		img.Fill(0)
		return nil
	}

	monitor := img.Status()
	if monitor != nil {
		monitor.Initialize(fmt.Sprintf("Morphological transformation: %s, %s", f.op, f.structure.Name()), img.NumberOfSelectedSamples())
	}

	ways := f.offsets()
	threads := f.parallel.NumberOfThreads(r.Dy(), n)
	f.logger.WithFields(logrus.Fields{
		"operator":  f.op.String(),
		"structure": f.structure.Name(),
		"ways":      len(ways),
		"threads":   threads,
	}).Debug("Filtering")

	for ch := img.FirstSelectedChannel(); ch <= img.LastSelectedChannel(); ch++ {
		err := parallel.RunStrips(ctx, img.Plane(ch), n/2, threads, func(ctx context.Context, s *parallel.Strip) error {
			return f.filterStrip(ctx, s, ways, monitor)
		})
		if err != nil {
			return err
		}
	}
	monitor.Complete()
	return nil
}

// offset is the position of a structure member relative to its center.
type offset struct{ dy, dx int }

// offsets lists the members of every way in current orientation.
func (f *Filter) offsets() [][]offset {
	size := f.structure.Size()
	h := size / 2
	ways := make([][]offset, f.structure.NumberOfWays())
	for w := range ways {
		for i := 0; i < size; i++ {
			for j := 0; j < size; j++ {
				if f.structure.IsMember(w, i, j) {
					ways[w] = append(ways[w], offset{dy: i - h, dx: j - h})
				}
			}
		}
	}
	return ways
}

func (f *Filter) filterStrip(ctx context.Context, s *parallel.Strip, ways [][]offset, monitor *progress.Monitor) error {
	width := s.Plane().Width()
	h := f.structure.Size() / 2
	win := parallel.NewWindow(s, h, h)
	tracker := progress.NewTracker(ctx, monitor)
	blend := f.thresholds.Active()

	maxElements := 0
	for _, way := range ways {
		maxElements = max(maxElements, len(way))
	}
	values := make([]float64, maxElements)
	partial := make([]float64, len(ways))
	result := make([]float64, width)

	for y := s.Begin; y < s.End; y++ {
		for x := range result {
			for w, way := range ways {
				v := values[:len(way)]
				for k, o := range way {
					v[k] = win.Row(o.dy)[x+h+o.dx]
				}
				partial[w] = f.op.Apply(v)
			}
			if len(ways) == 1 {
				result[x] = partial[0]
			} else {
				result[x] = f.op.Apply(partial)
			}
		}
		if blend {
			f.thresholds.BlendRow(win.Row(0)[h:h+width], result)
		}
		copy(s.Target(y), result)

		win.Advance()
		if err := tracker.Advance(width); err != nil {
			return err
		}
	}
	return tracker.Flush()
}

// MorphologicalFilter applies op over structure to img with the given
// thresholds and worker configuration.
func MorphologicalFilter(ctx context.Context, img *raster.Image, op Operator, structure *filter.Structure, low, high float64, cfg parallel.Config) error {
	f, err := New(op, structure, WithThresholds(low, high), WithParallel(cfg))
	if err != nil {
		return err
	}
	return f.Apply(ctx, img)
}

// Opening applies an erosion followed by a dilation with the same structure.
func Opening(ctx context.Context, img *raster.Image, structure *filter.Structure, cfg parallel.Config) error {
	if err := MorphologicalFilter(ctx, img, Erosion(), structure, 0, 0, cfg); err != nil {
		return err
	}
	return MorphologicalFilter(ctx, img, Dilation(), structure, 0, 0, cfg)
}

// Closing applies a dilation followed by an erosion with the same structure.
func Closing(ctx context.Context, img *raster.Image, structure *filter.Structure, cfg parallel.Config) error {
	if err := MorphologicalFilter(ctx, img, Dilation(), structure, 0, 0, cfg); err != nil {
		return err
	}
	return MorphologicalFilter(ctx, img, Erosion(), structure, 0, 0, cfg)
}
