// Package strategy defines the decision units evaluated against every
// schedule block and the built-in economic strategies.
//
// A strategy maps one block plus the cycle context to a StrategyDecision. It
// must answer for every block it is asked about, returning Neutral when it has
// nothing useful to say. Built-ins are pure and safe to call concurrently;
// they compete with each other and with external plugins purely through
// priority.
package strategy

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/kilianp07/fluxgo/core/model"
	"github.com/kilianp07/fluxgo/core/profile"
)

const (
	// NeutralPriority is the priority of a "nothing to say" decision.
	NeutralPriority = 10
	// NeutralConfidence is the confidence of a "nothing to say" decision.
	NeutralConfidence = 0.1
)

// Input is the read-only context of one evaluation.
type Input struct {
	Block model.ScheduleBlock
	// Index is the position of Block in All.
	Index      int
	All        []model.ScheduleBlock
	State      model.BatteryState
	Battery    model.BatteryModel
	Profile    profile.Profile
	Forecast   model.Forecast
	Historical model.Historical
	Now        time.Time
}

// Strategy produces one decision per block.
type Strategy interface {
	Name() string
	Evaluate(ctx context.Context, in Input) (model.StrategyDecision, error)
}

// Func adapts a plain function to Strategy.
type Func struct {
	ID string
	Fn func(ctx context.Context, in Input) (model.StrategyDecision, error)
}

func (f Func) Name() string { return f.ID }

func (f Func) Evaluate(ctx context.Context, in Input) (model.StrategyDecision, error) {
	return f.Fn(ctx, in)
}

// Neutral returns the default SelfUse decision for a block.
func Neutral(name string, b model.ScheduleBlock, reason string) model.StrategyDecision {
	return model.StrategyDecision{
		BlockStart:   b.Start,
		Duration:     b.Duration,
		Mode:         model.SelfUse,
		Priority:     NeutralPriority,
		Reason:       reason,
		Confidence:   model.Float(NeutralConfidence),
		StrategyName: name,
	}
}

func decision(name string, b model.ScheduleBlock, mode model.OperationMode, priority uint8, reason string) model.StrategyDecision {
	return model.StrategyDecision{
		BlockStart:   b.Start,
		Duration:     b.Duration,
		Mode:         mode,
		Priority:     priority,
		Reason:       reason,
		DecisionID:   decisionID(name, mode, b.Start),
		StrategyName: name,
	}
}

func decisionID(name string, mode model.OperationMode, start time.Time) string {
	return fmt.Sprintf("%s:%s:%d", name, mode, start.Unix())
}

// rankByPrice returns block indexes ordered by price, cheapest first when
// ascending. Equal prices keep chronological order.
func rankByPrice(blocks []model.ScheduleBlock, ascending bool) []int {
	idx := make([]int, len(blocks))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		pa, pb := blocks[idx[a]].Price, blocks[idx[b]].Price
		if ascending {
			return pa < pb
		}
		return pa > pb
	})
	return idx
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampPriority(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return uint8(v)
}

// blocksFor converts hours into a block count for the horizon's block length.
func blocksFor(hours float64, all []model.ScheduleBlock) int {
	if hours <= 0 || len(all) == 0 || all[0].Duration <= 0 {
		return 0
	}
	n := hours * float64(time.Hour) / float64(all[0].Duration)
	return int(n + 0.5)
}
