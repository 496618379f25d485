package config

import (
	"fmt"
	"time"
)

// TelemetryConfig selects where the battery state comes from.
type TelemetryConfig struct {
	// Mode is "static" (battery.initial_soc) or "mqtt".
	Mode         string `json:"mode"`
	Topic        string `json:"topic"`
	StaleSeconds int    `json:"stale_seconds"`
}

// SetDefaults applies sane defaults.
func (c *TelemetryConfig) SetDefaults() {
	if c.Mode == "" {
		c.Mode = "static"
	}
}

// Validate checks the mode.
func (c TelemetryConfig) Validate() error {
	if c.Mode != "static" && c.Mode != "mqtt" {
		return fmt.Errorf("unknown mode %s", c.Mode)
	}
	return nil
}

// SOCTopic is the topic carrying SOC readings, relative to the MQTT prefix.
func (c TelemetryConfig) SOCTopic() string {
	if c.Topic == "" {
		return "battery/soc"
	}
	return c.Topic
}

// Stale is the age after which a reading no longer counts as live.
func (c TelemetryConfig) Stale() time.Duration {
	if c.StaleSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.StaleSeconds) * time.Second
}
