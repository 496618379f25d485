package config

import (
	"fmt"
	"time"

	"github.com/kilianp07/fluxgo/auth"
	"github.com/kilianp07/fluxgo/core/blocks"
	"github.com/kilianp07/fluxgo/core/engine"
	"github.com/kilianp07/fluxgo/core/gateway"
	"github.com/kilianp07/fluxgo/core/governor"
	"github.com/kilianp07/fluxgo/core/health"
	"github.com/kilianp07/fluxgo/core/model"
	"github.com/kilianp07/fluxgo/core/profile"
	"github.com/kilianp07/fluxgo/infra/prices"
)

// EngineConfig tunes the planning cycle.
type EngineConfig struct {
	IntervalSecs   int     `json:"interval_secs"`
	BlockMinutes   int     `json:"block_minutes"`
	GridFee        float64 `json:"grid_fee"`
	FallbackLoadKW float64 `json:"fallback_load_kw"`
	CVThreshold    float64 `json:"cv_threshold"`
	// Concurrency bounds in-flight strategy calls. Zero keeps the default.
	Concurrency int `json:"concurrency"`
}

// SetDefaults applies sane defaults.
func (c *EngineConfig) SetDefaults() {
	if c.IntervalSecs == 0 {
		c.IntervalSecs = int(engine.DefaultInterval / time.Second)
	}
	if c.BlockMinutes == 0 {
		c.BlockMinutes = int(blocks.DefaultDuration / time.Minute)
	}
	if c.FallbackLoadKW == 0 {
		c.FallbackLoadKW = profile.DefaultFallbackLoadKW
	}
	if c.CVThreshold == 0 {
		c.CVThreshold = profile.DefaultVolatileCV
	}
}

// Validate checks the cycle settings.
func (c EngineConfig) Validate() error {
	if c.IntervalSecs <= 0 || c.BlockMinutes <= 0 {
		return fmt.Errorf("interval_secs and block_minutes must be positive")
	}
	if c.FallbackLoadKW < 0 || c.CVThreshold < 0 || c.Concurrency < 0 {
		return fmt.Errorf("fallback_load_kw, cv_threshold and concurrency must not be negative")
	}
	return nil
}

// BatteryConfig is the battery model plus the SOC assumed until telemetry
// arrives.
type BatteryConfig struct {
	CapacityKWh    float64 `json:"capacity_kwh"`
	MaxChargeKW    float64 `json:"max_charge_kw"`
	MaxDischargeKW float64 `json:"max_discharge_kw"`
	Efficiency     float64 `json:"efficiency"`
	HardwareMinSOC float64 `json:"hardware_min_soc"`
	MinSOC         float64 `json:"min_soc"`
	MaxSOC         float64 `json:"max_soc"`
	WearCostPerKWh float64 `json:"wear_cost_per_kwh"`
	InitialSOC     float64 `json:"initial_soc"`
}

// Model returns the battery model.
func (c BatteryConfig) Model() model.BatteryModel {
	return model.BatteryModel{
		CapacityKWh:    c.CapacityKWh,
		MaxChargeKW:    c.MaxChargeKW,
		MaxDischargeKW: c.MaxDischargeKW,
		Efficiency:     c.Efficiency,
		HardwareMinSOC: c.HardwareMinSOC,
		MinSOC:         c.MinSOC,
		MaxSOC:         c.MaxSOC,
		WearCostPerKWh: c.WearCostPerKWh,
	}
}

// Validate checks the model and the initial SOC.
func (c BatteryConfig) Validate() error {
	if err := c.Model().Validate(); err != nil {
		return err
	}
	if c.InitialSOC < 0 || c.InitialSOC > 100 {
		return fmt.Errorf("initial_soc %v outside 0..100", c.InitialSOC)
	}
	return nil
}

// GovernorConfig tunes the safety and debounce layer.
type GovernorConfig struct {
	MinDwellSecs         int    `json:"min_dwell_secs"`
	MinConsecutiveBlocks int    `json:"min_consecutive_blocks"`
	DefaultMode          string `json:"default_mode"`
	// SOCMargin is nil when unset so that 0 can disable the margin.
	SOCMargin *float64 `json:"soc_margin"`
}

// SetDefaults applies sane defaults.
func (c *GovernorConfig) SetDefaults() {
	if c.MinDwellSecs == 0 {
		c.MinDwellSecs = int(governor.DefaultMinDwell / time.Second)
	}
	if c.MinConsecutiveBlocks == 0 {
		c.MinConsecutiveBlocks = 2
	}
	if c.DefaultMode == "" {
		c.DefaultMode = model.SelfUse.String()
	}
	if c.SOCMargin == nil {
		m := float64(governor.DefaultSOCMargin)
		c.SOCMargin = &m
	}
}

// Validate checks the governor settings.
func (c GovernorConfig) Validate() error {
	if c.MinDwellSecs < 0 || c.MinConsecutiveBlocks < 0 {
		return fmt.Errorf("min_dwell_secs and min_consecutive_blocks must not be negative")
	}
	if _, err := model.ParseOperationMode(c.DefaultMode); err != nil {
		return err
	}
	if c.SOCMargin != nil && (*c.SOCMargin < 0 || *c.SOCMargin > 50) {
		return fmt.Errorf("soc_margin %v outside 0..50", *c.SOCMargin)
	}
	return nil
}

// Governor builds the governor configuration for the given topology.
func (c GovernorConfig) Governor(invs []governor.Inverter, targets []string) governor.Config {
	mode, _ := model.ParseOperationMode(c.DefaultMode)
	cfg := governor.Config{
		MinDwell:       time.Duration(c.MinDwellSecs) * time.Second,
		MinConsecutive: c.MinConsecutiveBlocks,
		DefaultMode:    mode,
		Inverters:      invs,
		Targets:        targets,
	}
	if c.SOCMargin != nil {
		cfg.SOCMargin = *c.SOCMargin
	}
	return cfg
}

// HealthConfig bounds price data age.
type HealthConfig struct {
	SoftStaleSecs int `json:"soft_stale_secs"`
	HardStaleSecs int `json:"hard_stale_secs"`
}

// SetDefaults applies sane defaults.
func (c *HealthConfig) SetDefaults() {
	if c.SoftStaleSecs == 0 {
		c.SoftStaleSecs = int(health.DefaultSoft / time.Second)
	}
	if c.HardStaleSecs == 0 {
		c.HardStaleSecs = int(health.DefaultHard / time.Second)
	}
}

// Thresholds converts the section.
func (c HealthConfig) Thresholds() health.Thresholds {
	return health.Thresholds{
		Soft: time.Duration(c.SoftStaleSecs) * time.Second,
		Hard: time.Duration(c.HardStaleSecs) * time.Second,
	}
}

// Validate checks 0 < soft <= hard.
func (c HealthConfig) Validate() error { return c.Thresholds().Validate() }

// GatewayConfig configures plugin calls and the HTTP API.
type GatewayConfig struct {
	TimeoutMS   int    `json:"timeout_ms"`
	MaxFailures int    `json:"max_failures"`
	Listen      string `json:"listen"`
	// Token is the bearer token required by plugin mutations and /audit.
	Token string `json:"token"`
	// ProbeEveryCycles re-checks automatically disabled plugins. Zero disables probing.
	ProbeEveryCycles int `json:"probe_every_cycles"`
}

// SetDefaults applies sane defaults.
func (c *GatewayConfig) SetDefaults() {
	if c.TimeoutMS == 0 {
		c.TimeoutMS = int(gateway.DefaultTimeout / time.Millisecond)
	}
	if c.MaxFailures == 0 {
		c.MaxFailures = gateway.DefaultMaxFailures
	}
	if c.Listen == "" {
		c.Listen = ":8090"
	}
}

// Validate checks the gateway settings.
func (c GatewayConfig) Validate() error {
	if c.TimeoutMS <= 0 || c.MaxFailures <= 0 {
		return fmt.Errorf("timeout_ms and max_failures must be positive")
	}
	if c.ProbeEveryCycles < 0 {
		return fmt.Errorf("probe_every_cycles must not be negative")
	}
	return nil
}

// Timeout is the per-call plugin deadline.
func (c GatewayConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// PricesConfig selects the price source.
type PricesConfig struct {
	// Type is "http", "file" or "synthetic".
	Type       string `json:"type"`
	URL        string `json:"url"`
	Path       string `json:"path"`
	PollSecs   int    `json:"poll_secs"`
	MaxRetries int    `json:"max_retries"`
	// Auth signs HTTP requests with OAuth2 client credentials.
	Auth      auth.Conf              `json:"auth"`
	Synthetic prices.SyntheticConfig `json:"synthetic"`
}

// SetDefaults applies sane defaults.
func (c *PricesConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "file"
	}
	if c.PollSecs == 0 {
		c.PollSecs = 300
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
}

// Validate checks the source settings.
func (c PricesConfig) Validate() error {
	switch c.Type {
	case "http":
		if c.URL == "" {
			return fmt.Errorf("url is required for http prices")
		}
	case "file":
		if c.Path == "" {
			return fmt.Errorf("path is required for file prices")
		}
	case "synthetic":
	default:
		return fmt.Errorf("unknown type %s", c.Type)
	}
	if c.PollSecs < 0 || c.MaxRetries < 0 {
		return fmt.Errorf("poll_secs and max_retries must not be negative")
	}
	if c.Auth.Enabled() && c.Auth.TokenURL == "" {
		return fmt.Errorf("auth.token_url is required with auth.client_id")
	}
	return nil
}

// EngineConfig builds the engine configuration.
func (c Config) EngineConfig() engine.Config {
	return engine.Config{
		Interval:      time.Duration(c.Engine.IntervalSecs) * time.Second,
		BlockDuration: time.Duration(c.Engine.BlockMinutes) * time.Minute,
		GridFee:       c.Engine.GridFee,
		Profile: profile.Options{
			VolatileCV:     c.Engine.CVThreshold,
			FallbackLoadKW: c.Engine.FallbackLoadKW,
		},
		Health:      c.Health.Thresholds(),
		ProbeEvery:  c.Gateway.ProbeEveryCycles,
		Concurrency: c.Engine.Concurrency,
	}
}
