// Package infra holds the adapters around the engine: the MQTT executor,
// price sources, battery telemetry, metrics exporters and error reporting.
// They depend on the interfaces declared in the core packages.
package infra
