package metrics

import (
	"time"

	"github.com/kilianp07/fluxgo/core/events"
	"github.com/kilianp07/fluxgo/core/model"
)

// MetricsSink records planning cycles for observability purposes.
type MetricsSink interface {
	RecordCycle(ev events.CycleEvent) error
}

// Strategy call outcomes.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
	OutcomePanic   = "panic"
)

// StrategyCall is a single strategy evaluation of one block.
type StrategyCall struct {
	Strategy string
	Outcome  string
	Latency  time.Duration
	Time     time.Time
}

// StrategyCallRecorder records strategy evaluations.
type StrategyCallRecorder interface {
	RecordStrategyCalls(calls []StrategyCall) error
}

// FallbackRecorder records fallback substitutions.
type FallbackRecorder interface {
	RecordFallback(ev events.FallbackEvent) error
}

// ModeChangeRecorder records commands issued by the governor.
type ModeChangeRecorder interface {
	RecordModeChange(ev events.ModeChangeEvent) error
}

// ViolationRecorder records rejected or deferred mode requests.
type ViolationRecorder interface {
	RecordViolation(ev events.ViolationEvent) error
}

// PluginHealthRecorder records strategy handle health transitions.
type PluginHealthRecorder interface {
	RecordPluginHealth(ev events.PluginHealthEvent) error
}

// ScheduleRecorder records the published schedule.
type ScheduleRecorder interface {
	RecordSchedule(s model.Schedule) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordCycle(events.CycleEvent) error { return nil }

func (NopSink) RecordStrategyCalls([]StrategyCall) error          { return nil }
func (NopSink) RecordFallback(events.FallbackEvent) error         { return nil }
func (NopSink) RecordModeChange(events.ModeChangeEvent) error     { return nil }
func (NopSink) RecordViolation(events.ViolationEvent) error       { return nil }
func (NopSink) RecordPluginHealth(events.PluginHealthEvent) error { return nil }
func (NopSink) RecordSchedule(model.Schedule) error               { return nil }
