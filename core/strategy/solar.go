package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/kilianp07/fluxgo/core/model"
)

// SolarDeferralConfig configures grid-charge suppression ahead of solar production.
type SolarDeferralConfig struct {
	Priority int `json:"priority"`
	// WindowHours is how far ahead solar production is considered.
	WindowHours float64 `json:"window_hours"`
	// MinSolarKWh is the forecast total below which the strategy stays neutral.
	MinSolarKWh float64 `json:"min_solar_kwh"`
}

// SetDefaults fills zero values.
func (c *SolarDeferralConfig) SetDefaults() {
	if c.Priority == 0 {
		c.Priority = 75
	}
	if c.WindowHours == 0 {
		c.WindowHours = 4
	}
	if c.MinSolarKWh == 0 {
		c.MinSolarKWh = 1
	}
}

// SolarDeferral keeps the battery in SelfUse on cheap blocks when forecast
// solar production is about to fill the remaining headroom. Its priority
// scales with how much of the headroom the forecast covers.
type SolarDeferral struct {
	name string
	cfg  SolarDeferralConfig
}

// NewSolarDeferral returns a SolarDeferral strategy.
func NewSolarDeferral(name string, cfg SolarDeferralConfig) (*SolarDeferral, error) {
	cfg.SetDefaults()
	if cfg.WindowHours < 0 || cfg.MinSolarKWh < 0 {
		return nil, fmt.Errorf("solar deferral window and threshold must not be negative")
	}
	if name == "" {
		name = "solar_deferral"
	}
	return &SolarDeferral{name: name, cfg: cfg}, nil
}

func (s *SolarDeferral) Name() string { return s.name }

// upcomingSolar sums the solar forecast of blocks starting within the window
// after block i.
func (s *SolarDeferral) upcomingSolar(in Input) float64 {
	horizon := in.Block.Start.Add(time.Duration(s.cfg.WindowHours * float64(time.Hour)))
	var sum float64
	for j := in.Index; j < len(in.All) && in.All[j].Start.Before(horizon); j++ {
		sum += in.Forecast.Solar(j)
	}
	return sum
}

func (s *SolarDeferral) Evaluate(_ context.Context, in Input) (model.StrategyDecision, error) {
	if in.Block.Price < 0 {
		return Neutral(s.name, in.Block, "negative price, grid charging pays"), nil
	}
	if in.Profile.Count > 0 && in.Block.Price > in.Profile.Median {
		return Neutral(s.name, in.Block, "block too expensive for grid charging"), nil
	}
	solar := s.upcomingSolar(in)
	if solar < s.cfg.MinSolarKWh {
		return Neutral(s.name, in.Block, fmt.Sprintf("%.2f kWh solar ahead, below %.2f", solar, s.cfg.MinSolarKWh)), nil
	}
	headroom := in.Battery.PercentToKWh(in.Battery.MaxSOC - in.State.SOC)
	ratio := 1.0
	if headroom > 0 {
		ratio = clamp01(solar * in.Battery.Efficiency / headroom)
	}
	prio := clampPriority(int(float64(s.cfg.Priority)*ratio + 0.5))
	if prio <= NeutralPriority {
		return Neutral(s.name, in.Block, "solar forecast covers little headroom"), nil
	}
	reason := fmt.Sprintf("deferring grid charge: %.2f kWh solar expected within %.0fh", solar, s.cfg.WindowHours)
	if r := in.Profile.SolarRatio(); r > 0 {
		reason += fmt.Sprintf(", %.0f%% of horizon consumption", r*100)
	}
	d := decision(s.name, in.Block, model.SelfUse, prio, reason)
	d.Confidence = model.Float(ratio)
	return d, nil
}
