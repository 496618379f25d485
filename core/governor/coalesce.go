package governor

import (
	"github.com/kilianp07/fluxgo/core/model"
)

type run struct {
	start, end int // [start, end)
	mode       model.OperationMode
}

func runs(decisions []model.StrategyDecision) []run {
	var out []run
	for i, d := range decisions {
		if len(out) > 0 && out[len(out)-1].mode == d.Mode {
			out[len(out)-1].end = i + 1
			continue
		}
		out = append(out, run{start: i, end: i + 1, mode: d.Mode})
	}
	return out
}

// Coalesce replaces force runs shorter than minConsecutive blocks by the mode
// of their longer neighbouring run. Ties go to the left neighbour; a run
// without neighbours takes defaultMode. Replaced decisions keep their block,
// priority and strategy and get an annotated reason.
func Coalesce(decisions []model.StrategyDecision, minConsecutive int, defaultMode model.OperationMode) []model.StrategyDecision {
	out := append([]model.StrategyDecision(nil), decisions...)
	if minConsecutive <= 1 || len(out) == 0 {
		return out
	}
	rs := runs(decisions)
	for i, r := range rs {
		if !r.mode.IsForce() || r.end-r.start >= minConsecutive {
			continue
		}
		target := defaultMode
		switch {
		case i > 0 && i < len(rs)-1:
			left, right := rs[i-1], rs[i+1]
			target = left.mode
			if right.end-right.start > left.end-left.start {
				target = right.mode
			}
		case i > 0:
			target = rs[i-1].mode
		case i < len(rs)-1:
			target = rs[i+1].mode
		}
		for j := r.start; j < r.end; j++ {
			d := out[j]
			d.Reason = "coalesced to " + target.String() + ": " + d.Reason
			d.Mode = target
			out[j] = d
		}
	}
	return out
}
