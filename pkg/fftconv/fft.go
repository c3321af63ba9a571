package fftconv

import (
	"context"

	"gonum.org/v1/gonum/dsp/fourier"

	"multiscale/pkg/parallel"
	"multiscale/pkg/progress"
)

// transform2D performs an in-place two-dimensional FFT of data, a row-major
// w x h array. The transform is unnormalized in both directions. Rows are
// transformed first; the column phase starts after every row worker joined.
// Each worker owns its FFT plan and line buffers.
func transform2D(ctx context.Context, data []complex128, w, h int, inverse bool, threads int, monitor *progress.Monitor) error {
	err := parallel.For(ctx, h, threads, func(ctx context.Context, _, begin, end int) error {
		fft := fourier.NewCmplxFFT(w)
		tracker := progress.NewTracker(ctx, monitor)
		line := make([]complex128, w)
		for y := begin; y < end; y++ {
			row := data[y*w : (y+1)*w]
			if inverse {
				fft.Sequence(line, row)
			} else {
				fft.Coefficients(line, row)
			}
			copy(row, line)
			if err := tracker.Advance(w); err != nil {
				return err
			}
		}
		return tracker.Flush()
	})
	if err != nil {
		return err
	}

	return parallel.For(ctx, w, min(threads, w), func(ctx context.Context, _, begin, end int) error {
		fft := fourier.NewCmplxFFT(h)
		tracker := progress.NewTracker(ctx, monitor)
		column := make([]complex128, h)
		line := make([]complex128, h)
		for x := begin; x < end; x++ {
			for y := range column {
				column[y] = data[y*w+x]
			}
			if inverse {
				fft.Sequence(line, column)
			} else {
				fft.Coefficients(line, column)
			}
			for y, v := range line {
				data[y*w+x] = v
			}
			if err := tracker.Advance(h); err != nil {
				return err
			}
		}
		return tracker.Flush()
	})
}
