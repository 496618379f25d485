package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/fluxgo/core/audit"
	"github.com/kilianp07/fluxgo/core/factory"
	"github.com/kilianp07/fluxgo/core/governor"
	"github.com/kilianp07/fluxgo/core/metrics"
	"github.com/kilianp07/fluxgo/core/strategy"
	"github.com/kilianp07/fluxgo/infra/mqtt"
)

// EnvPrefix marks environment overrides, e.g. FLUX_GOVERNOR__MIN_DWELL_SECS.
const EnvPrefix = "FLUX_"

type Config struct {
	Logging         LoggingConfig           `json:"logging"`
	Engine          EngineConfig            `json:"engine"`
	Battery         BatteryConfig           `json:"battery"`
	Governor        GovernorConfig          `json:"governor"`
	Health          HealthConfig            `json:"health"`
	Inverters       []governor.Inverter     `json:"inverters"`
	TargetInverters []string                `json:"target_inverters"`
	Gateway         GatewayConfig           `json:"gateway"`
	Strategies      []factory.ModuleConfig  `json:"strategies"`
	Overrides       []strategy.OverrideSlot `json:"overrides"`
	Prices          PricesConfig            `json:"prices"`
	MQTT            mqtt.Config             `json:"mqtt"`
	Telemetry       TelemetryConfig         `json:"telemetry"`
	Audit           audit.Config            `json:"audit"`
	Metrics         metrics.Config          `json:"metrics"`
	Sentry          SentryConfig            `json:"sentry"`
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), strings.ToLower(EnvPrefix))
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults fills every section.
func (c *Config) SetDefaults() {
	c.Logging.SetDefaults()
	c.Engine.SetDefaults()
	c.Governor.SetDefaults()
	c.Health.SetDefaults()
	c.Gateway.SetDefaults()
	c.Prices.SetDefaults()
	c.Telemetry.SetDefaults()
	c.Audit.SetDefaults()
	if c.Telemetry.Mode == "mqtt" || c.Prices.Type == "mqtt" || c.MQTT.Broker != "" {
		c.MQTT.SetDefaults()
	}
	if len(c.Strategies) == 0 {
		c.Strategies = []factory.ModuleConfig{{Type: "self_use"}}
	}
}

// Validate checks every section.
func (c Config) Validate() error {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"logging", c.Logging.Validate},
		{"engine", c.Engine.Validate},
		{"battery", c.Battery.Validate},
		{"governor", c.Governor.Validate},
		{"health", c.Health.Validate},
		{"gateway", c.Gateway.Validate},
		{"prices", c.Prices.Validate},
		{"telemetry", c.Telemetry.Validate},
		{"audit", c.Audit.Validate},
	}
	for _, chk := range checks {
		if err := chk.fn(); err != nil {
			return fmt.Errorf("%s: %w", chk.name, err)
		}
	}
	if c.Telemetry.Mode == "mqtt" {
		if err := c.MQTT.Validate(); err != nil {
			return err
		}
	}
	for i, s := range c.Strategies {
		if s.Type == "" {
			return fmt.Errorf("strategies[%d]: type is required", i)
		}
	}
	return nil
}
