package metrics

import "github.com/kilianp07/fluxgo/core/factory"

// Config defines settings for metrics sinks.
type Config struct {
	Sinks []factory.ModuleConfig `json:"sinks"`
	// PromAddr is the listen address of the /metrics endpoint when the
	// HTTP API is disabled.
	PromAddr string `json:"prom_addr"`
}
