package config

import (
	"fmt"

	"github.com/rs/zerolog"
)

// LoggingConfig selects the application logger.
type LoggingConfig struct {
	// Level is a zerolog level name: debug, info, warn or error.
	Level string `json:"level"`
	// Backend is "zerolog" or "nop".
	Backend string `json:"backend"`
}

// SetDefaults applies sane defaults.
func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Backend == "" {
		c.Backend = "zerolog"
	}
}

// Validate checks mandatory fields.
func (c LoggingConfig) Validate() error {
	if c.Backend != "zerolog" && c.Backend != "nop" {
		return fmt.Errorf("unknown backend %s", c.Backend)
	}
	if _, err := zerolog.ParseLevel(c.Level); err != nil {
		return fmt.Errorf("invalid level %q", c.Level)
	}
	return nil
}
