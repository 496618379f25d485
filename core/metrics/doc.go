package metrics

// Package metrics defines the sink interfaces used to observe planning
// cycles. A MetricsSink records cycles; optional recorder interfaces cover
// strategy calls, fallbacks, governor commands and violations, plugin
// health and published schedules. Sinks are looked up with a type
// assertion so implementations only provide what they support. Several
// configured sinks are combined into a MultiSink by NewMetricsSink.
