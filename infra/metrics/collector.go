package metrics

import (
	"context"

	"github.com/kilianp07/fluxgo/core/events"
	coremetrics "github.com/kilianp07/fluxgo/core/metrics"
	"github.com/kilianp07/fluxgo/internal/eventbus"
)

// StartEventCollector subscribes to the event bus and records metrics for events.
// It stops when the context is canceled.
func StartEventCollector(ctx context.Context, bus eventbus.EventBus, sink coremetrics.MetricsSink) {
	if bus == nil || sink == nil {
		return
	}
	sub := bus.Subscribe()
	go func() {
		defer bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				record(sink, ev)
			}
		}
	}()
}

// StartPluginHealthCollector records plugin health transitions from a typed bus.
func StartPluginHealthCollector(ctx context.Context, bus *eventbus.TypedBus[events.PluginHealthEvent], sink coremetrics.MetricsSink) {
	if bus == nil || sink == nil {
		return
	}
	rec, ok := sink.(coremetrics.PluginHealthRecorder)
	if !ok {
		return
	}
	sub := bus.Subscribe()
	go func() {
		defer bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				_ = rec.RecordPluginHealth(ev)
			}
		}
	}()
}

func record(sink coremetrics.MetricsSink, ev eventbus.Event) {
	switch e := ev.(type) {
	case events.CycleEvent:
		_ = sink.RecordCycle(e)
	case events.FallbackEvent:
		if r, ok := sink.(coremetrics.FallbackRecorder); ok {
			_ = r.RecordFallback(e)
		}
	case events.ModeChangeEvent:
		if r, ok := sink.(coremetrics.ModeChangeRecorder); ok {
			_ = r.RecordModeChange(e)
		}
	case events.ViolationEvent:
		if r, ok := sink.(coremetrics.ViolationRecorder); ok {
			_ = r.RecordViolation(e)
		}
	case events.PluginHealthEvent:
		if r, ok := sink.(coremetrics.PluginHealthRecorder); ok {
			_ = r.RecordPluginHealth(e)
		}
	}
}
