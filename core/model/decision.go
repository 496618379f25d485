package model

import "time"

// StrategyDecision is one strategy's recommendation for one block.
type StrategyDecision struct {
	BlockStart     time.Time
	Duration       time.Duration
	Mode           OperationMode
	Priority       uint8
	Reason         string
	Confidence     *float64
	ExpectedProfit *float64
	// DecisionID is opaque audit metadata.
	DecisionID   string
	StrategyName string
}

// ConfidenceOr returns the confidence or def when unset.
func (d StrategyDecision) ConfidenceOr(def float64) float64 {
	if d.Confidence == nil {
		return def
	}
	return *d.Confidence
}

// ProfitOr returns the expected profit or def when unset.
func (d StrategyDecision) ProfitOr(def float64) float64 {
	if d.ExpectedProfit == nil {
		return def
	}
	return *d.ExpectedProfit
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Fallback builds the SelfUse priority 0 decision substituted for a failed
// strategy call.
func Fallback(b ScheduleBlock, strategy, reason string) StrategyDecision {
	return StrategyDecision{
		BlockStart:   b.Start,
		Duration:     b.Duration,
		Mode:         SelfUse,
		Priority:     0,
		Reason:       reason,
		DecisionID:   "fallback:" + strategy,
		StrategyName: strategy,
	}
}
