package watcher

import (
	"sync"
	"time"
)

// DefaultDebounceDuration is how long a directory must stay quiet before a
// change is reported.
const DefaultDebounceDuration = 200 * time.Millisecond

// Debouncer coalesces bursts of triggers into one call after a quiet period.
// The callback of the last Trigger wins.
type Debouncer struct {
	mu       sync.Mutex
	duration time.Duration
	timer    *time.Timer
	seq      uint64
}

// NewDebouncer returns a debouncer; d <= 0 selects DefaultDebounceDuration.
func NewDebouncer(d time.Duration) *Debouncer {
	if d <= 0 {
		d = DefaultDebounceDuration
	}
	return &Debouncer{duration: d}
}

// Trigger (re)starts the quiet period and schedules fn at its end.
func (d *Debouncer) Trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.seq++
	seq := d.seq
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.duration, func() {
		d.mu.Lock()
		stale := seq != d.seq
		d.mu.Unlock()
		if !stale {
			fn()
		}
	})
}

// Cancel drops any scheduled call.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	// a timer that already fired sees a newer seq and bails
	d.seq++
}

func (d *Debouncer) Duration() time.Duration {
	return d.duration
}
