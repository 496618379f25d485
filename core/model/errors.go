package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrInsufficientData is returned when less than one full block is available.
var ErrInsufficientData = errors.New("insufficient price data")

// InputError reports malformed or insufficient input. It aborts a cycle.
type InputError struct {
	Reason string
	Err    error
}

func (e *InputError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("input error: %s: %v", e.Reason, e.Err)
	}
	return "input error: " + e.Reason
}

func (e *InputError) Unwrap() error { return e.Err }

// StrategyError reports a failed or timed out strategy call for one block.
type StrategyError struct {
	Strategy string
	Block    time.Time
	Timeout  bool
	Err      error
}

func (e *StrategyError) Error() string {
	kind := "error"
	if e.Timeout {
		kind = "timeout"
	}
	return fmt.Sprintf("strategy %s %s at %s: %v", e.Strategy, kind, e.Block.Format(time.RFC3339), e.Err)
}

func (e *StrategyError) Unwrap() error { return e.Err }

// SafetyViolation reports a decision the governor refused to execute.
type SafetyViolation struct {
	Inverter   string
	Requested  OperationMode
	Held       OperationMode
	Constraint string
	Detail     string
}

func (e *SafetyViolation) Error() string {
	return fmt.Sprintf("safety violation on %s: %s rejected (%s), holding %s: %s",
		e.Inverter, e.Requested, e.Constraint, e.Held, e.Detail)
}

// PluginProtocolError reports an invalid plugin response.
type PluginProtocolError struct {
	Plugin string
	Reason string
}

func (e *PluginProtocolError) Error() string {
	return fmt.Sprintf("plugin %s protocol error: %s", e.Plugin, e.Reason)
}
