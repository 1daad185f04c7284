package metrics

import "sync/atomic"

// Counter is a monotonically increasing event count.
type Counter struct {
	name string
	n    atomic.Int64
}

func newCounter(name string) *Counter {
	return &Counter{name: name}
}

// Inc adds one to the counter.
func (c *Counter) Inc() {
	if !enabled {
		return
	}
	c.n.Add(1)
}

// Name returns the counter name.
func (c *Counter) Name() string {
	return c.name
}

// Value returns the current count.
func (c *Counter) Value() int64 {
	return c.n.Load()
}

// Reset sets the count back to zero.
func (c *Counter) Reset() {
	c.n.Store(0)
}

// Load outcome counters.
var (
	LoadsStarted   = newCounter("loads_started")
	LoadsSkipped   = newCounter("loads_skipped")
	LoadsCancelled = newCounter("loads_cancelled")
	LoadsFailed    = newCounter("loads_failed")
	LoadsInstalled = newCounter("loads_installed")
)

// AllCounters returns all registered counters.
func AllCounters() []*Counter {
	return []*Counter{
		LoadsStarted,
		LoadsSkipped,
		LoadsCancelled,
		LoadsFailed,
		LoadsInstalled,
	}
}

// CounterValues returns a name -> value map of every non-zero counter.
func CounterValues() map[string]int64 {
	out := make(map[string]int64)
	for _, c := range AllCounters() {
		if v := c.Value(); v != 0 {
			out[c.name] = v
		}
	}
	return out
}
