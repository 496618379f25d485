package metrics

import (
	"testing"

	"github.com/kilianp07/fluxgo/core/events"
)

// recordSink only implements a subset of the recorders.
type recordSink struct {
	count int
}

func (r *recordSink) RecordCycle(events.CycleEvent) error {
	r.count++
	return nil
}

func (r *recordSink) RecordStrategyCalls([]StrategyCall) error {
	r.count++
	return nil
}

func TestMultiSink(t *testing.T) {
	s1 := &recordSink{}
	s2 := &recordSink{}
	m := NewMultiSink(s1, s2, NopSink{})
	if err := m.RecordCycle(events.CycleEvent{CycleID: "c1"}); err != nil {
		t.Fatalf("record cycle: %v", err)
	}
	if err := m.RecordStrategyCalls([]StrategyCall{{Strategy: "arbitrage", Outcome: OutcomeOK}}); err != nil {
		t.Fatalf("record calls: %v", err)
	}
	// recordSink is not a FallbackRecorder; only NopSink receives it.
	if err := m.RecordFallback(events.FallbackEvent{Strategy: "x"}); err != nil {
		t.Fatalf("record fallback: %v", err)
	}
	if s1.count != 2 || s2.count != 2 {
		t.Fatalf("records not forwarded: %d %d", s1.count, s2.count)
	}
}
