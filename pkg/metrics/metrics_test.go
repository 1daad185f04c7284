package metrics

import (
	"testing"
	"time"
)

func withEnabled(t *testing.T, on bool) {
	t.Helper()
	saved := Enabled()
	SetEnabled(on)
	ResetAll()
	t.Cleanup(func() {
		SetEnabled(saved)
		ResetAll()
	})
}

func TestTimingMetricRecord(t *testing.T) {
	withEnabled(t, true)
	m := newTimingMetric("op")
	m.Record(2 * time.Millisecond)
	m.Record(4 * time.Millisecond)
	m.Record(3 * time.Millisecond)

	s := m.Stats()
	if s.Count != 3 {
		t.Errorf("count = %d, want 3", s.Count)
	}
	if s.MinMs != 2 || s.MaxMs != 4 || s.AvgMs != 3 || s.TotalMs != 9 {
		t.Errorf("unexpected stats: %+v", s)
	}

	m.Reset()
	if m.Count() != 0 || m.Stats().MaxMs != 0 {
		t.Error("Reset did not clear the metric")
	}
}

func TestDisabledRecordsNothing(t *testing.T) {
	withEnabled(t, false)
	Timer(FetchChildren)()
	LoadsStarted.Inc()
	if FetchChildren.Count() != 0 || LoadsStarted.Value() != 0 {
		t.Error("disabled metrics should not record")
	}
}

func TestTimerWithCallback(t *testing.T) {
	withEnabled(t, true)
	var got time.Duration
	stop := TimerWithCallback(DeepLoad, func(d time.Duration) { got = d })
	time.Sleep(time.Millisecond)
	stop()

	if got <= 0 {
		t.Error("callback did not receive the elapsed time")
	}
	if DeepLoad.Count() != 1 {
		t.Errorf("count = %d, want 1", DeepLoad.Count())
	}
}

func TestCounterValuesAndStats(t *testing.T) {
	withEnabled(t, true)
	LoadsStarted.Inc()
	LoadsStarted.Inc()
	LoadsFailed.Inc()
	Timer(GateWait)()

	vals := CounterValues()
	if vals["loads_started"] != 2 || vals["loads_failed"] != 1 {
		t.Errorf("counter values = %v", vals)
	}
	if _, ok := vals["loads_skipped"]; ok {
		t.Error("zero counters should be omitted")
	}

	stats := AllTimingStats()
	if len(stats) != 1 || stats[0].Name != "gate_wait" {
		t.Errorf("timing stats = %+v", stats)
	}
}
