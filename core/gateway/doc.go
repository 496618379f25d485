// Package gateway manages the strategy handles evaluated each cycle: the
// built-in strategies and the external plugins reached over HTTP. It owns the
// per-handle health (consecutive failures, auto-disable) and the JSON wire
// protocol spoken with plugins.
package gateway
