package metrics

import (
	"github.com/kilianp07/fluxgo/core/events"
	"github.com/kilianp07/fluxgo/core/model"
)

// MultiSink fans out records to multiple sinks.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink returns a MultiSink wrapping the given sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordCycle forwards the record to all sinks, returning the first error encountered.
func (m *MultiSink) RecordCycle(ev events.CycleEvent) error {
	for _, s := range m.Sinks {
		if err := s.RecordCycle(ev); err != nil {
			return err
		}
	}
	return nil
}

// RecordStrategyCalls forwards strategy call records.
func (m *MultiSink) RecordStrategyCalls(calls []StrategyCall) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(StrategyCallRecorder); ok {
			if err := rec.RecordStrategyCalls(calls); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordFallback forwards fallback events.
func (m *MultiSink) RecordFallback(ev events.FallbackEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(FallbackRecorder); ok {
			if err := rec.RecordFallback(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordModeChange forwards governor commands.
func (m *MultiSink) RecordModeChange(ev events.ModeChangeEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(ModeChangeRecorder); ok {
			if err := rec.RecordModeChange(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordViolation forwards governor violations.
func (m *MultiSink) RecordViolation(ev events.ViolationEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(ViolationRecorder); ok {
			if err := rec.RecordViolation(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordPluginHealth forwards plugin health transitions.
func (m *MultiSink) RecordPluginHealth(ev events.PluginHealthEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(PluginHealthRecorder); ok {
			if err := rec.RecordPluginHealth(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordSchedule forwards the published schedule.
func (m *MultiSink) RecordSchedule(s model.Schedule) error {
	for _, sink := range m.Sinks {
		if rec, ok := sink.(ScheduleRecorder); ok {
			if err := rec.RecordSchedule(s); err != nil {
				return err
			}
		}
	}
	return nil
}
