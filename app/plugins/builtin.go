package plugins

import (
	"github.com/kilianp07/fluxgo/core/factory"
	"github.com/kilianp07/fluxgo/core/strategy"
)

// nameOf reads the optional instance name so one type can be configured twice.
func nameOf(conf map[string]any) string {
	if n, ok := conf["name"].(string); ok {
		return n
	}
	return ""
}

func init() {
	_ = RegisterStrategy("self_use", func(conf map[string]any) (strategy.Strategy, error) {
		var c strategy.SelfUseConfig
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return strategy.NewSelfUse(nameOf(conf), c), nil
	})
	_ = RegisterStrategy("arbitrage", func(conf map[string]any) (strategy.Strategy, error) {
		var c strategy.ArbitrageConfig
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return strategy.NewArbitrage(nameOf(conf), c)
	})
	_ = RegisterStrategy("budget", func(conf map[string]any) (strategy.Strategy, error) {
		var c strategy.BudgetConfig
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return strategy.NewBudget(nameOf(conf), c)
	})
	_ = RegisterStrategy("solar_deferral", func(conf map[string]any) (strategy.Strategy, error) {
		var c strategy.SolarDeferralConfig
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return strategy.NewSolarDeferral(nameOf(conf), c)
	})
	_ = RegisterStrategy("peak_discharge", func(conf map[string]any) (strategy.Strategy, error) {
		var c strategy.PeakDischargeConfig
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return strategy.NewPeakDischarge(nameOf(conf), c)
	})
	_ = RegisterStrategy("user_override", func(conf map[string]any) (strategy.Strategy, error) {
		var c strategy.OverrideConfig
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return strategy.NewUserOverride(nameOf(conf), c)
	})
}
