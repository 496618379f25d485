package strategy

import (
	"context"

	"github.com/kilianp07/fluxgo/core/model"
)

// SelfUseConfig configures the baseline strategy.
type SelfUseConfig struct {
	Priority int `json:"priority"`
}

// SelfUseStrategy always recommends SelfUse.
type SelfUseStrategy struct {
	name string
	cfg  SelfUseConfig
}

// NewSelfUse returns the baseline strategy.
func NewSelfUse(name string, cfg SelfUseConfig) *SelfUseStrategy {
	if cfg.Priority == 0 {
		cfg.Priority = NeutralPriority
	}
	if name == "" {
		name = "self_use"
	}
	return &SelfUseStrategy{name: name, cfg: cfg}
}

func (s *SelfUseStrategy) Name() string { return s.name }

func (s *SelfUseStrategy) Evaluate(_ context.Context, in Input) (model.StrategyDecision, error) {
	d := Neutral(s.name, in.Block, "baseline self use")
	d.Priority = clampPriority(s.cfg.Priority)
	return d, nil
}
