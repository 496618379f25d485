package strategy

import (
	"context"
	"fmt"

	"github.com/kilianp07/fluxgo/core/model"
	"github.com/kilianp07/fluxgo/core/simulator"
)

// PeakDischargeConfig configures the lookahead discharge search.
type PeakDischargeConfig struct {
	Priority int `json:"priority"`
	// FloorSOC is the SOC that must hold until the next solar window.
	FloorSOC float64 `json:"floor_soc"`
	// MaxWindowBlocks bounds the length of the discharge window.
	MaxWindowBlocks int `json:"max_window_blocks"`
	// SolarBlockKWh marks a block as part of a solar window.
	SolarBlockKWh float64 `json:"solar_block_kwh"`
	// MaxLookaheadBlocks bounds the simulated horizon.
	MaxLookaheadBlocks int `json:"max_lookahead_blocks"`
	// MinGain is the minimum value over plain self use, in currency.
	MinGain float64 `json:"min_gain"`
}

// SetDefaults fills zero values.
func (c *PeakDischargeConfig) SetDefaults() {
	if c.Priority == 0 {
		c.Priority = 80
	}
	if c.MaxWindowBlocks == 0 {
		c.MaxWindowBlocks = 8
	}
	if c.SolarBlockKWh == 0 {
		c.SolarBlockKWh = 0.5
	}
	if c.MaxLookaheadBlocks == 0 {
		c.MaxLookaheadBlocks = 96
	}
}

// PeakDischarge searches, with the battery simulator, the contiguous
// discharge window worth the most while SOC stays above a floor until the
// next solar window.
type PeakDischarge struct {
	name string
	cfg  PeakDischargeConfig
}

// NewPeakDischarge returns a PeakDischarge strategy.
func NewPeakDischarge(name string, cfg PeakDischargeConfig) (*PeakDischarge, error) {
	cfg.SetDefaults()
	if cfg.MaxWindowBlocks < 1 || cfg.MaxLookaheadBlocks < 1 {
		return nil, fmt.Errorf("peak discharge window and lookahead must be positive")
	}
	if name == "" {
		name = "peak_discharge"
	}
	return &PeakDischarge{name: name, cfg: cfg}, nil
}

func (p *PeakDischarge) Name() string { return p.name }

// Window is a discharge window found by Search.
type Window struct {
	Start, End int
	Gain       float64
	MinSOC     float64
}

// Contains reports whether block i is inside the window.
func (w Window) Contains(i int) bool { return i >= w.Start && i < w.End }

// nextSolar returns the index of the first solar block after from, or len(all).
func (p *PeakDischarge) nextSolar(in Input, from int) int {
	for j := from; j < len(in.All); j++ {
		if in.Forecast.Solar(j) >= p.cfg.SolarBlockKWh {
			return j
		}
	}
	return len(in.All)
}

// Search returns the best window from the start of the horizon, if any.
func (p *PeakDischarge) Search(in Input) (Window, bool) {
	floor := p.cfg.FloorSOC
	if floor < in.Battery.MinSOC {
		floor = in.Battery.MinSOC
	}
	solar := p.nextSolar(in, 0)
	if solar == 0 {
		solar = p.nextSolar(in, p.endOfSolar(in, 0))
	}
	horizon := min(solar, p.cfg.MaxLookaheadBlocks, len(in.All))
	if horizon == 0 {
		return Window{}, false
	}

	baseline := simulator.Simulate(in.State, in.Battery,
		simulator.StepsFor(in.All, 0, simulator.Uniform(model.SelfUse, horizon), in.Forecast))
	baseCost := baseline.TotalCost()
	// Energy left at the end of the horizon is worth the average price.
	var ref float64
	for _, b := range in.All[:horizon] {
		ref += b.EffectivePrice
	}
	ref /= float64(horizon)
	baseEnd := in.Battery.PercentToKWh(baseline.FinalSOC())

	var best Window
	found := false
	modes := make([]model.OperationMode, horizon)
	for a := 0; a < horizon; a++ {
		for l := 1; l <= p.cfg.MaxWindowBlocks && a+l <= horizon; l++ {
			for i := range modes {
				modes[i] = model.SelfUse
				if i >= a && i < a+l {
					modes[i] = model.ForceDischarge
				}
			}
			res := simulator.Simulate(in.State, in.Battery, simulator.StepsFor(in.All, 0, modes, in.Forecast))
			if !res.Valid() || res.MinSOC() < floor {
				// Longer windows from the same start only drain more.
				break
			}
			gain := baseCost - res.TotalCost() - (baseEnd-in.Battery.PercentToKWh(res.FinalSOC()))*ref
			if gain > p.cfg.MinGain && (!found || gain > best.Gain) {
				best = Window{Start: a, End: a + l, Gain: gain, MinSOC: res.MinSOC()}
				found = true
			}
		}
	}
	return best, found
}

// endOfSolar returns the first index at or after from that is not a solar block.
func (p *PeakDischarge) endOfSolar(in Input, from int) int {
	j := from
	for j < len(in.All) && in.Forecast.Solar(j) >= p.cfg.SolarBlockKWh {
		j++
	}
	return j
}

func (p *PeakDischarge) Evaluate(ctx context.Context, in Input) (model.StrategyDecision, error) {
	if err := ctx.Err(); err != nil {
		return model.StrategyDecision{}, err
	}
	w, ok := p.Search(in)
	if !ok {
		return Neutral(p.name, in.Block, "no discharge window keeps the floor until solar"), nil
	}
	if !w.Contains(in.Index) {
		return Neutral(p.name, in.Block, "outside best discharge window"), nil
	}
	d := decision(p.name, in.Block, model.ForceDischarge, clampPriority(p.cfg.Priority),
		fmt.Sprintf("peak window %d-%d gains %.2f, soc stays above %.1f%%", w.Start, w.End, w.Gain, w.MinSOC))
	d.Confidence = model.Float(0.7)
	d.ExpectedProfit = model.Float(w.Gain)
	return d, nil
}
