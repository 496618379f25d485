package plugins

import (
	"fmt"

	"github.com/kilianp07/fluxgo/core/factory"
	"github.com/kilianp07/fluxgo/core/strategy"
)

var strategies = factory.NewRegistry[strategy.Strategy]()

// RegisterStrategy adds a built-in strategy factory identified by type name.
func RegisterStrategy(name string, f factory.Factory[strategy.Strategy]) error {
	return strategies.Register(name, f)
}

// StrategyTypes lists the registered strategy types.
func StrategyTypes() []string { return strategies.Types() }

// NewStrategy builds the strategy described by cfg.
func NewStrategy(cfg factory.ModuleConfig) (strategy.Strategy, error) {
	s, err := strategies.Create(cfg)
	if err != nil {
		return nil, fmt.Errorf("strategy %s: %w", cfg.Type, err)
	}
	return s, nil
}

// NewStrategies builds every configured strategy in order.
func NewStrategies(cfgs []factory.ModuleConfig) ([]strategy.Strategy, error) {
	out := make([]strategy.Strategy, 0, len(cfgs))
	for _, c := range cfgs {
		s, err := NewStrategy(c)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
