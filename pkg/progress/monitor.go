// Package progress provides the status monitor attached to images processed by
// the filtering engines. A monitor counts processed samples, reports progress
// through an optional callback and carries the cooperative abort flag polled
// by worker goroutines.
package progress

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrAborted is returned by engines that observed an abort request.
var ErrAborted = errors.New("process aborted")

// Callback receives progress updates. A total of zero means the update is an
// informational message rather than a counter change.
type Callback func(completed, total int64, label string)

// Monitor tracks the progress of a single long running operation.
//
// Add and IsAborted are safe for concurrent use. Initialize and Complete are
// called by the dispatching goroutine only.
type Monitor struct {
	label     string
	total     int64
	count     atomic.Int64
	aborted   atomic.Bool
	reported  atomic.Int64
	startTime time.Time
	parent    *Monitor

	mu       sync.Mutex
	callback Callback
	logger   *logrus.Entry
}

// New creates a monitor that logs through the given logger. A nil logger
// disables logging.
func New(logger *logrus.Entry) *Monitor {
	return &Monitor{logger: logger}
}

// SetCallback installs a progress callback. Passing nil removes it.
func (m *Monitor) SetCallback(callback Callback) {
	m.mu.Lock()
	m.callback = callback
	m.mu.Unlock()
}

// Initialize starts a new monitored operation with the given label and total
// number of samples. The abort flag is left untouched so that an abort issued
// before the operation started is still honored.
func (m *Monitor) Initialize(label string, total int64) {
	m.label = label
	m.total = total
	m.count.Store(0)
	m.reported.Store(0)
	m.startTime = time.Now()
	if m.logger != nil {
		m.logger.WithFields(logrus.Fields{
			"operation": label,
			"samples":   total,
		}).Debug("Operation started")
	}
	m.report(0)
}

// Add advances the sample counter by n. It returns ErrAborted once an abort
// has been requested, so workers can stop advancing without a separate poll.
func (m *Monitor) Add(n int64) error {
	if m == nil {
		return nil
	}
	c := m.count.Add(n)
	// Report roughly once per percent.
	if m.total > 0 {
		step := max(m.total/100, 1)
		last := m.reported.Load()
		if c-last >= step && m.reported.CompareAndSwap(last, c) {
			m.report(c)
		}
	}
	if m.IsAborted() {
		return ErrAborted
	}
	return nil
}

// Count returns the number of samples processed so far.
func (m *Monitor) Count() int64 {
	if m == nil {
		return 0
	}
	return m.count.Load()
}

// Total returns the total number of samples of the current operation.
func (m *Monitor) Total() int64 {
	if m == nil {
		return 0
	}
	return m.total
}

// Label returns the label of the current operation.
func (m *Monitor) Label() string {
	if m == nil {
		return ""
	}
	return m.label
}

// Abort requests cooperative cancellation of the running operation.
func (m *Monitor) Abort() {
	m.aborted.Store(true)
}

// Reset clears a previous abort request.
func (m *Monitor) Reset() {
	m.aborted.Store(false)
}

// IsAborted reports whether an abort has been requested on m or on any
// monitor it was derived from.
func (m *Monitor) IsAborted() bool {
	if m == nil {
		return false
	}
	return m.aborted.Load() || m.parent.IsAborted()
}

// Child returns a silent monitor for a nested operation. It has its own
// counters and no callback or logger, and it observes aborts requested on m.
// The child of a nil monitor is nil.
func (m *Monitor) Child() *Monitor {
	if m == nil {
		return nil
	}
	return &Monitor{parent: m}
}

// Complete marks the current operation as finished.
func (m *Monitor) Complete() {
	if m == nil {
		return
	}
	m.count.Store(m.total)
	m.report(m.total)
	if m.logger != nil {
		m.logger.WithFields(logrus.Fields{
			"operation": m.label,
			"elapsed":   time.Since(m.startTime).Round(time.Millisecond).String(),
		}).Debug("Operation completed")
	}
}

func (m *Monitor) report(completed int64) {
	m.mu.Lock()
	callback := m.callback
	m.mu.Unlock()
	if callback != nil {
		callback(completed, m.total, m.label)
	}
}

// Bar renders a textual progress bar, e.g. for console callbacks.
func Bar(completed, total int64, width int) string {
	if total <= 0 || width <= 0 {
		return ""
	}
	percentage := float64(completed) / float64(total) * 100
	numBars := int(percentage / 100 * float64(width))

	var b strings.Builder
	b.WriteString("[")
	for i := 0; i < width; i++ {
		switch {
		case i < numBars:
			b.WriteString("█")
		case i == numBars:
			b.WriteString("▓")
		default:
			b.WriteString("░")
		}
	}
	b.WriteString("]")
	return fmt.Sprintf("%s %.1f%% (%d/%d)", b.String(), percentage, completed, total)
}
