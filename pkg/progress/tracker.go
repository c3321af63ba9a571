package progress

import "context"

// PollInterval is the number of samples processed between two cancellation
// polls inside worker loops.
const PollInterval = 65536

// Tracker batches per-worker progress so that the shared monitor counter is
// touched at most once every PollInterval samples. A Tracker belongs to one
// worker goroutine.
type Tracker struct {
	ctx     context.Context
	monitor *Monitor
	pending int64
}

// NewTracker creates a tracker reporting to monitor, which may be nil.
func NewTracker(ctx context.Context, monitor *Monitor) *Tracker {
	return &Tracker{ctx: ctx, monitor: monitor}
}

// Advance records n processed samples. It returns a non-nil error once the
// context is done or the monitor has been aborted; the worker must stop.
func (t *Tracker) Advance(n int) error {
	t.pending += int64(n)
	if t.pending < PollInterval {
		return nil
	}
	return t.Flush()
}

// Flush publishes pending samples and polls for cancellation.
func (t *Tracker) Flush() error {
	n := t.pending
	t.pending = 0
	if err := t.monitor.Add(n); err != nil {
		return err
	}
	if t.ctx != nil {
		if err := t.ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}
