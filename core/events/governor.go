package events

import (
	"time"

	"github.com/kilianp07/fluxgo/core/model"
)

// ModeChangeEvent is published for every command the governor emits.
type ModeChangeEvent struct {
	Inverter   string
	From       model.OperationMode
	To         model.OperationMode
	Reason     string
	DecisionID string
	CommandID  string
	At         time.Time
}

// ViolationEvent is published when a requested mode is rejected or deferred.
type ViolationEvent struct {
	Violation model.SafetyViolation
	Deferred  bool
	At        time.Time
}
