package strategy

import (
	"context"
	"fmt"

	"github.com/kilianp07/fluxgo/core/model"
)

// BudgetConfig sets the daily quota of forced blocks.
type BudgetConfig struct {
	Priority            int     `json:"priority"`
	ForceChargeHours    float64 `json:"force_charge_hours"`
	ForceDischargeHours float64 `json:"force_discharge_hours"`
}

// SetDefaults fills zero values.
func (c *BudgetConfig) SetDefaults() {
	if c.Priority == 0 {
		c.Priority = 60
	}
}

// Budget assigns a fixed quota of force blocks to the most extreme price
// blocks first. Equal prices are taken in chronological order.
type Budget struct {
	name string
	cfg  BudgetConfig
}

// NewBudget returns a Budget strategy.
func NewBudget(name string, cfg BudgetConfig) (*Budget, error) {
	cfg.SetDefaults()
	if cfg.ForceChargeHours < 0 || cfg.ForceDischargeHours < 0 {
		return nil, fmt.Errorf("budget hours must not be negative")
	}
	if name == "" {
		name = "budget"
	}
	return &Budget{name: name, cfg: cfg}, nil
}

func (b *Budget) Name() string { return b.name }

// Plan returns the mode assigned to every block of all.
func (b *Budget) Plan(all []model.ScheduleBlock, bm model.BatteryModel) []model.OperationMode {
	modes := make([]model.OperationMode, len(all))
	nCharge := min(blocksFor(b.cfg.ForceChargeHours, all), len(all))
	nDischarge := blocksFor(b.cfg.ForceDischargeHours, all)

	maxCharge := 0.0
	for k, i := range rankByPrice(all, true) {
		if k >= nCharge {
			break
		}
		modes[i] = model.ForceCharge
		if k == 0 || all[i].Price > maxCharge {
			maxCharge = all[i].Price
		}
	}
	if nDischarge == 0 {
		return modes
	}
	floor := maxCharge
	if nCharge > 0 {
		// Only discharge where it beats recharging at the quota's worst price.
		floor += 2 * bm.WearCostPerKWh
	}
	taken := 0
	for _, i := range rankByPrice(all, false) {
		if taken >= nDischarge {
			break
		}
		if modes[i] != model.SelfUse || (nCharge > 0 && all[i].Price <= floor) {
			continue
		}
		modes[i] = model.ForceDischarge
		taken++
	}
	return modes
}

func (b *Budget) Evaluate(_ context.Context, in Input) (model.StrategyDecision, error) {
	modes := b.Plan(in.All, in.Battery)
	if in.Index < 0 || in.Index >= len(modes) {
		return Neutral(b.name, in.Block, "block outside horizon"), nil
	}
	switch m := modes[in.Index]; m {
	case model.ForceCharge, model.ForceDischarge:
		d := decision(b.name, in.Block, m, clampPriority(b.cfg.Priority),
			fmt.Sprintf("daily %s quota: price %.3f ranks within budget", m, in.Block.Price))
		d.Confidence = model.Float(0.6)
		return d, nil
	}
	return Neutral(b.name, in.Block, "outside daily force quota"), nil
}
