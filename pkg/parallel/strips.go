package parallel

import (
	"context"

	"golang.org/x/sync/errgroup"

	"multiscale/pkg/raster"
)

// Strip is a contiguous band of rows of a plane owned by one worker.
//
// A worker reads source rows through Source and writes output rows through
// Target. Rows that lie within the halo distance of a boundary shared with a
// neighbor strip are redirected to private buffers, so the neighbor keeps
// reading the original values. The dispatcher copies those buffers into the
// plane after every worker has joined.
type Strip struct {
	Index int
	Begin int
	End   int

	plane raster.Plane

	topBegin, topEnd       int
	bottomBegin, bottomEnd int
	top, bottom            []float64
}

// Plane returns the plane the strip belongs to.
func (s *Strip) Plane() raster.Plane { return s.plane }

// Rows returns the number of rows of the strip.
func (s *Strip) Rows() int { return s.End - s.Begin }

// Source returns plane row y. Rows staged by neighbors and rows of this strip
// that have not been written yet still hold their original values.
func (s *Strip) Source(y int) []float64 { return s.plane.Row(y) }

// Target returns the destination of output row y, which must lie in the strip.
func (s *Strip) Target(y int) []float64 {
	w := s.plane.Width()
	switch {
	case y >= s.topBegin && y < s.topEnd:
		off := (y - s.topBegin) * w
		return s.top[off : off+w]
	case y >= s.bottomBegin && y < s.bottomEnd:
		off := (y - s.bottomBegin) * w
		return s.bottom[off : off+w]
	}
	return s.plane.Row(y)
}

// IsStaged reports whether output row y goes to a halo buffer.
func (s *Strip) IsStaged(y int) bool {
	return (y >= s.topBegin && y < s.topEnd) || (y >= s.bottomBegin && y < s.bottomEnd)
}

func (s *Strip) flush() {
	w := s.plane.Width()
	for y := s.topBegin; y < s.topEnd; y++ {
		off := (y - s.topBegin) * w
		copy(s.plane.Row(y), s.top[off:off+w])
	}
	for y := s.bottomBegin; y < s.bottomEnd; y++ {
		off := (y - s.bottomBegin) * w
		copy(s.plane.Row(y), s.bottom[off:off+w])
	}
}

// Partition splits the rows of plane into threads strips and allocates their
// halo buffers. The first strip has no top buffer and the last strip has no
// bottom buffer.
func Partition(plane raster.Plane, halo, threads int) []*Strip {
	rows := plane.Height()
	threads = min(max(threads, 1), max(rows, 1))
	w := plane.Width()

	strips := make([]*Strip, threads)
	for t := range strips {
		begin, end := Range(rows, threads, t)
		s := &Strip{Index: t, Begin: begin, End: end, plane: plane}
		s.topBegin, s.topEnd = begin, begin
		s.bottomBegin, s.bottomEnd = end, end
		if threads > 1 && halo > 0 {
			if t > 0 {
				s.topEnd = min(begin+halo, end)
			}
			if t < threads-1 {
				s.bottomBegin = max(end-halo, s.topEnd)
			}
		}
		if n := s.topEnd - s.topBegin; n > 0 {
			s.top = make([]float64, n*w)
		}
		if n := s.bottomEnd - s.bottomBegin; n > 0 {
			s.bottom = make([]float64, n*w)
		}
		strips[t] = s
	}
	return strips
}

// RunStrips partitions plane into strips, runs work on every strip in its own
// worker, waits for all of them and finally copies the halo buffers into the
// plane in strip order. If any worker fails, no halo buffer is copied and the
// first error is returned.
func RunStrips(ctx context.Context, plane raster.Plane, halo, threads int, work func(ctx context.Context, s *Strip) error) error {
	strips := Partition(plane, halo, threads)

	if len(strips) == 1 {
		if err := protect(func() error { return work(ctx, strips[0]) }); err != nil {
			return err
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		for _, s := range strips {
			s := s
			g.Go(func() error {
				return protect(func() error { return work(gctx, s) })
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}

	for _, s := range strips {
		s.flush()
	}
	return nil
}
