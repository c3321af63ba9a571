package parallel

import (
	"context"
	"errors"
	"fmt"
	"image"
	"runtime"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"multiscale/pkg/filter"
	"multiscale/pkg/raster"
)

func TestNumberOfThreads(t *testing.T) {
	cfg := Config{Enabled: true, MaxProcessors: 4}
	assert.Equal(t, 4, cfg.NumberOfThreads(100, 10))
	assert.Equal(t, 2, cfg.NumberOfThreads(20, 10))
	assert.Equal(t, 1, cfg.NumberOfThreads(5, 10))
	assert.Equal(t, 1, cfg.NumberOfThreads(0, 1))
	assert.Equal(t, 4, cfg.NumberOfThreads(100, 0))

	assert.Equal(t, 1, Sequential().NumberOfThreads(100, 1))
	assert.Equal(t, 1, WithThreads(1).Processors())
	assert.Equal(t, 3, WithThreads(3).Processors())
	assert.Equal(t, runtime.NumCPU(), Config{Enabled: true}.Processors())
	assert.Equal(t, runtime.NumCPU(), DefaultConfig().Processors())
}

func TestRange(t *testing.T) {
	for _, count := range []int{1, 7, 10, 100} {
		for n := 1; n <= min(count, 6); n++ {
			next := 0
			for w := 0; w < n; w++ {
				begin, end := Range(count, n, w)
				assert.Equal(t, next, begin)
				assert.GreaterOrEqual(t, end-begin, count/n)
				assert.LessOrEqual(t, end-begin, count/n+1)
				next = end
			}
			assert.Equal(t, count, next)
		}
	}
}

func TestFor(t *testing.T) {
	var sum atomic.Int64
	var workers atomic.Int32
	err := For(context.Background(), 1000, 4, func(ctx context.Context, worker, begin, end int) error {
		workers.Add(1)
		for i := begin; i < end; i++ {
			sum.Add(int64(i))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(999*1000/2), sum.Load())
	assert.Equal(t, int32(4), workers.Load())

	assert.NoError(t, For(context.Background(), 0, 4, func(context.Context, int, int, int) error {
		t.Error("no worker expected for an empty range")
		return nil
	}))
}

func TestForErrors(t *testing.T) {
	failure := errors.New("worker failed")
	err := For(context.Background(), 100, 4, func(ctx context.Context, worker, begin, end int) error {
		if worker == 2 {
			return failure
		}
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, failure)

	err = For(context.Background(), 10, 1, func(context.Context, int, int, int) error {
		panic("boom")
	})
	assert.ErrorIs(t, err, ErrWorkerPanic)
	assert.Contains(t, err.Error(), "boom")
}

func testPlane(width, height int) raster.Plane {
	data := make([]float64, width*height)
	for i := range data {
		data[i] = float64((i*37)%101) / 100
	}
	return raster.Plane{Data: data, Stride: width, Rect: image.Rect(0, 0, width, height)}
}

func TestPartition(t *testing.T) {
	plane := testPlane(8, 20)
	strips := Partition(plane, 2, 3)
	require.Len(t, strips, 3)

	assert.Equal(t, 0, strips[0].Begin)
	assert.Equal(t, 20, strips[2].End)
	for i, s := range strips {
		assert.Equal(t, i, s.Index)
		if i > 0 {
			assert.Equal(t, strips[i-1].End, s.Begin)
		}
	}

	assert.False(t, strips[0].IsStaged(0))
	assert.True(t, strips[0].IsStaged(strips[0].End-1))
	assert.True(t, strips[1].IsStaged(strips[1].Begin+1))
	assert.False(t, strips[1].IsStaged(strips[1].Begin+2))
	assert.False(t, strips[2].IsStaged(19))

	// A staged target is a private buffer, not the plane row.
	y := strips[1].Begin
	strips[1].Target(y)[0] = -1
	assert.NotEqual(t, -1.0, plane.Row(y)[0])
	assert.Equal(t, plane.Row(y)[0], strips[1].Source(y)[0])

	single := Partition(plane, 2, 1)
	require.Len(t, single, 1)
	assert.False(t, single[0].IsStaged(0))
	assert.False(t, single[0].IsStaged(19))
}

// verticalMean is a 1x(2r+1) box filter computed with a Window.
func verticalMean(r int) func(ctx context.Context, s *Strip) error {
	return func(ctx context.Context, s *Strip) error {
		win := NewWindow(s, r, 1)
		for y := s.Begin; y < s.End; y++ {
			if win.Center() != y {
				return fmt.Errorf("window centered on %d, expected %d", win.Center(), y)
			}
			dst := s.Target(y)
			for x := range dst {
				var sum float64
				for dy := -r; dy <= r; dy++ {
					sum += win.Row(dy)[x+win.Pad()]
				}
				dst[x] = sum / float64(2*r+1)
			}
			win.Advance()
		}
		return nil
	}
}

func TestRunStripsMatchesSequential(t *testing.T) {
	const width, height, radius = 9, 23, 2
	src := testPlane(width, height)
	want := make([]float64, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			var sum float64
			for dy := -radius; dy <= radius; dy++ {
				sum += src.Data[filter.Mirror(y+dy, height)*width+x]
			}
			want[y*width+x] = sum / (2*radius + 1)
		}
	}

	for threads := 1; threads <= 4; threads++ {
		plane := testPlane(width, height)
		err := RunStrips(context.Background(), plane, radius, threads, verticalMean(radius))
		require.NoError(t, err)
		assert.InDeltaSlice(t, want, plane.Data, 1e-12, "threads=%d", threads)
	}
}

func TestRunStripsSubRectangle(t *testing.T) {
	plane := testPlane(10, 12)
	plane.Rect = image.Rect(2, 3, 7, 11)
	before := append([]float64(nil), plane.Data...)

	err := RunStrips(context.Background(), plane, 1, 2, func(ctx context.Context, s *Strip) error {
		for y := s.Begin; y < s.End; y++ {
			dst := s.Target(y)
			for x := range dst {
				dst[x] = -1
			}
		}
		return nil
	})
	require.NoError(t, err)

	for y := 0; y < 12; y++ {
		for x := 0; x < 10; x++ {
			got := plane.Data[y*10+x]
			if image.Pt(x, y).In(plane.Rect) {
				assert.Equal(t, -1.0, got)
			} else {
				assert.Equal(t, before[y*10+x], got)
			}
		}
	}
}

func TestRunStripsErrors(t *testing.T) {
	plane := testPlane(4, 12)
	before := append([]float64(nil), plane.Data...)
	failure := errors.New("strip failed")

	err := RunStrips(context.Background(), plane, 2, 3, func(ctx context.Context, s *Strip) error {
		for y := s.Begin; y < s.End; y++ {
			if s.IsStaged(y) {
				s.Target(y)[0] = 42
			}
		}
		if s.Index == 1 {
			return failure
		}
		return nil
	})
	assert.ErrorIs(t, err, failure)
	assert.Equal(t, before, plane.Data, "halo buffers must not be flushed after a failure")

	err = RunStrips(context.Background(), plane, 2, 3, func(ctx context.Context, s *Strip) error {
		if s.Index == 0 {
			var rows []float64
			_ = rows[s.End]
		}
		return nil
	})
	assert.ErrorIs(t, err, ErrWorkerPanic)
}
