// Package parallel provides the worker scheduling shared by the filtering
// engines: thread count selection, contiguous range partitioning, and the
// strip scheduler with private halo buffers used by neighborhood filters.
//
// Every dispatch is join-after-dispatch: the calling goroutine starts all
// workers of a phase and waits for them before it returns.
package parallel

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"

	"golang.org/x/sync/errgroup"
)

// ErrWorkerPanic wraps panics recovered from worker goroutines.
var ErrWorkerPanic = errors.New("worker panic")

// Config selects how many workers a call may use.
type Config struct {
	// Enabled turns parallel processing on. When false every call runs on a
	// single worker.
	Enabled bool `yaml:"enabled" toml:"enabled"`

	// MaxProcessors caps the number of workers. Zero or negative means the
	// number of logical CPUs.
	MaxProcessors int `yaml:"maxProcessors" toml:"maxProcessors"`
}

// DefaultConfig enables parallelism on all logical CPUs.
func DefaultConfig() Config {
	return Config{Enabled: true, MaxProcessors: runtime.NumCPU()}
}

// Sequential returns a configuration with parallelism disabled.
func Sequential() Config {
	return Config{Enabled: false, MaxProcessors: 1}
}

// WithThreads returns a parallel configuration capped at n workers.
func WithThreads(n int) Config {
	return Config{Enabled: n > 1, MaxProcessors: n}
}

// Processors returns the effective processor cap.
func (c Config) Processors() int {
	if !c.Enabled {
		return 1
	}
	if c.MaxProcessors <= 0 {
		return runtime.NumCPU()
	}
	return c.MaxProcessors
}

// NumberOfThreads returns how many workers should share count items when
// every worker needs at least minPerThread of them.
func (c Config) NumberOfThreads(count, minPerThread int) int {
	if count <= 0 {
		return 1
	}
	n := count / max(minPerThread, 1)
	return min(max(n, 1), c.Processors())
}

// Range returns the half-open range [begin, end) assigned to worker t of n
// over count items. Ranges are contiguous, disjoint and balanced.
func Range(count, n, t int) (begin, end int) {
	return t * count / n, (t + 1) * count / n
}

// For runs fn over [0, count) split into contiguous ranges across at most
// threads workers and waits for all of them. The first worker error cancels
// the context passed to the others and is returned.
func For(ctx context.Context, count, threads int, fn func(ctx context.Context, worker, begin, end int) error) error {
	if count <= 0 {
		return nil
	}
	threads = min(max(threads, 1), count)
	if threads == 1 {
		return protect(func() error { return fn(ctx, 0, 0, count) })
	}

	g, gctx := errgroup.WithContext(ctx)
	for t := 0; t < threads; t++ {
		t := t
		begin, end := Range(count, threads, t)
		g.Go(func() error {
			return protect(func() error { return fn(gctx, t, begin, end) })
		})
	}
	return g.Wait()
}

// protect converts a panic in fn into an error.
func protect(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v\n%s", ErrWorkerPanic, r, debug.Stack())
		}
	}()
	return fn()
}
