// Package merger reduces the decisions of every strategy for every block to
// exactly one winning decision per block.
//
// The winner of a block is chosen by, in order:
//
//  1. highest priority
//  2. highest confidence (unset counts as 0)
//  3. highest expected profit (unset counts as 0)
//  4. lowest registration order
//
// The rule is a total order over candidates, so the result does not depend
// on the order in which candidates were collected.
package merger

import "github.com/kilianp07/fluxgo/core/model"

// NoPluginsReason is the reason of the decision used when a block has no
// candidates at all.
const NoPluginsReason = "No strategy plugins available"

// Candidate is one strategy's answer for one block.
type Candidate struct {
	Decision model.StrategyDecision
	// Order is the registration order of the strategy that produced it.
	Order int
	// Err marks a failed call. Decision is ignored and replaced by the
	// fallback decision.
	Err error
}

// NoPlugins returns the decision for a block nobody answered for.
func NoPlugins(b model.ScheduleBlock) model.StrategyDecision {
	return model.StrategyDecision{
		BlockStart:   b.Start,
		Duration:     b.Duration,
		Mode:         model.SelfUse,
		Priority:     0,
		Reason:       NoPluginsReason,
		DecisionID:   "fallback:no_plugins",
		StrategyName: "Fallback",
	}
}

// Better reports whether a wins over b.
func Better(a, b Candidate) bool {
	da, db := a.Decision, b.Decision
	if da.Priority != db.Priority {
		return da.Priority > db.Priority
	}
	if ca, cb := da.ConfidenceOr(0), db.ConfidenceOr(0); ca != cb {
		return ca > cb
	}
	if pa, pb := da.ProfitOr(0), db.ProfitOr(0); pa != pb {
		return pa > pb
	}
	return a.Order < b.Order
}

// Merge returns one decision per block. candidates[i] holds the answers for
// blocks[i]; a missing or short slice is treated as no candidates.
func Merge(blocks []model.ScheduleBlock, candidates [][]Candidate) []model.StrategyDecision {
	out := make([]model.StrategyDecision, len(blocks))
	for i, b := range blocks {
		var set []Candidate
		if i < len(candidates) {
			set = candidates[i]
		}
		out[i] = mergeBlock(b, set)
	}
	return out
}

func mergeBlock(b model.ScheduleBlock, set []Candidate) model.StrategyDecision {
	if len(set) == 0 {
		return NoPlugins(b)
	}
	var best Candidate
	for i, c := range set {
		c = normalize(b, c)
		if i == 0 || Better(c, best) {
			best = c
		}
	}
	return best.Decision
}

// normalize substitutes the fallback for errored or malformed candidates and
// pins the decision to the block it was merged for.
func normalize(b model.ScheduleBlock, c Candidate) Candidate {
	d := c.Decision
	switch {
	case c.Err != nil:
		c.Decision = model.Fallback(b, d.StrategyName, "Fallback: "+c.Err.Error())
	case !d.Mode.Valid():
		c.Decision = model.Fallback(b, d.StrategyName, "Fallback: invalid mode")
	case d.Priority > 100:
		d.Priority = 100
		c.Decision = d
	}
	c.Decision.BlockStart = b.Start
	c.Decision.Duration = b.Duration
	return c
}
