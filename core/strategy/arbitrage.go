package strategy

import (
	"context"
	"fmt"

	"github.com/kilianp07/fluxgo/core/model"
	"github.com/kilianp07/fluxgo/core/profile"
)

// ArbitrageConfig configures the percentile arbitrage strategy.
type ArbitrageConfig struct {
	Priority            int     `json:"priority"`
	ChargePercentile    float64 `json:"charge_percentile"`
	DischargePercentile float64 `json:"discharge_percentile"`
	ChargeBlocks        int     `json:"charge_blocks"`
	DischargeBlocks     int     `json:"discharge_blocks"`
	// VolatileWiden moves both percentiles toward the median on volatile days.
	VolatileWiden float64 `json:"volatile_widen"`
	// MinProfit is the minimum margin per kWh on top of wear and losses.
	MinProfit float64 `json:"min_profit"`
}

// SetDefaults fills zero values.
func (c *ArbitrageConfig) SetDefaults() {
	if c.Priority == 0 {
		c.Priority = 70
	}
	if c.ChargePercentile == 0 {
		c.ChargePercentile = 0.25
	}
	if c.DischargePercentile == 0 {
		c.DischargePercentile = 0.75
	}
	if c.ChargeBlocks == 0 {
		c.ChargeBlocks = 8
	}
	if c.DischargeBlocks == 0 {
		c.DischargeBlocks = 8
	}
	if c.VolatileWiden == 0 {
		c.VolatileWiden = 0.1
	}
}

// Validate checks the percentile ordering.
func (c ArbitrageConfig) Validate() error {
	if c.ChargePercentile <= 0 || c.DischargePercentile >= 1 || c.ChargePercentile >= c.DischargePercentile {
		return fmt.Errorf("arbitrage percentiles must satisfy 0 < charge < discharge < 1")
	}
	return nil
}

// Arbitrage charges below a low price percentile and discharges above a high one.
type Arbitrage struct {
	name string
	cfg  ArbitrageConfig
}

// NewArbitrage returns an Arbitrage strategy.
func NewArbitrage(name string, cfg ArbitrageConfig) (*Arbitrage, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if name == "" {
		name = "arbitrage"
	}
	return &Arbitrage{name: name, cfg: cfg}, nil
}

func (a *Arbitrage) Name() string { return a.name }

func (a *Arbitrage) thresholds(p profile.Profile, all []model.ScheduleBlock) (low, high float64) {
	cq, dq := a.cfg.ChargePercentile, a.cfg.DischargePercentile
	if p.Volatile {
		cq = min(cq+a.cfg.VolatileWiden, 0.5)
		dq = max(dq-a.cfg.VolatileWiden, 0.5)
	}
	return profile.Percentile(all, cq), profile.Percentile(all, dq)
}

func (a *Arbitrage) Evaluate(_ context.Context, in Input) (model.StrategyDecision, error) {
	if in.Profile.Outlook() == profile.OutlookFlat {
		return Neutral(a.name, in.Block, "flat prices, no arbitrage"), nil
	}
	low, high := a.thresholds(in.Profile, in.All)
	bm := in.Battery
	// Buying one kWh back at low must cover its round trip and the profit floor.
	minSpread := bm.WearCostPerKWh + bm.CycleCost(1, max(low, 0)/bm.Efficiency) + a.cfg.MinProfit
	if high-low < minSpread {
		return Neutral(a.name, in.Block, fmt.Sprintf("spread %.3f below %.3f", high-low, minSpread)), nil
	}

	price := in.Block.Price
	hours := in.Block.Hours()
	switch {
	case price <= low && selected(in.All, in.Index, true, a.cfg.ChargeBlocks, low):
		kwh := bm.MaxChargeKW * hours
		profit := kwh*bm.Efficiency*high - kwh*price - kwh*bm.WearCostPerKWh
		d := decision(a.name, in.Block, model.ForceCharge, clampPriority(a.cfg.Priority),
			fmt.Sprintf("price %.3f at or below P%.0f threshold %.3f", price, a.cfg.ChargePercentile*100, low))
		d.Confidence = model.Float(clamp01((high - price) / (high - low)))
		d.ExpectedProfit = model.Float(profit)
		return d, nil
	case price >= high && selected(in.All, in.Index, false, a.cfg.DischargeBlocks, high):
		kwh := bm.MaxDischargeKW * hours
		profit := kwh*price - kwh*low/bm.Efficiency - kwh*bm.WearCostPerKWh
		d := decision(a.name, in.Block, model.ForceDischarge, clampPriority(a.cfg.Priority),
			fmt.Sprintf("price %.3f at or above P%.0f threshold %.3f", price, a.cfg.DischargePercentile*100, high))
		d.Confidence = model.Float(clamp01((price - low) / (high - low)))
		d.ExpectedProfit = model.Float(profit)
		return d, nil
	}
	return Neutral(a.name, in.Block, "price between arbitrage thresholds"), nil
}

// selected reports whether block i is within the n most extreme blocks on the
// given side of threshold.
func selected(all []model.ScheduleBlock, i int, cheap bool, n int, threshold float64) bool {
	taken := 0
	for _, j := range rankByPrice(all, cheap) {
		p := all[j].Price
		if (cheap && p > threshold) || (!cheap && p < threshold) || taken >= n {
			return false
		}
		if j == i {
			return true
		}
		taken++
	}
	return false
}
