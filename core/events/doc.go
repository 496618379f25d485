// Package events defines the planning events emitted on the event bus.
//
// Available event types:
//   - CycleEvent: a planning cycle finished or was aborted
//   - ModeChangeEvent: the governor issued a command to an inverter
//   - ViolationEvent: the governor rejected or deferred a requested mode
//   - FallbackEvent: a strategy call was replaced by the fallback decision
//   - PluginHealthEvent: a strategy handle changed health state
package events
