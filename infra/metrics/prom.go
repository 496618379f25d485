package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/fluxgo/core/events"
	coremetrics "github.com/kilianp07/fluxgo/core/metrics"
	"github.com/kilianp07/fluxgo/core/model"
)

// PromSink records planning events in Prometheus metrics.
type PromSink struct {
	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	calls         *prometheus.CounterVec
	callLatency   *prometheus.HistogramVec
	fallbacks     *prometheus.CounterVec
	modeChanges   *prometheus.CounterVec
	violations    *prometheus.CounterVec
	pluginEnabled *prometheus.GaugeVec
	pluginFails   *prometheus.GaugeVec
	blocks        prometheus.Gauge
}

// NewPromSink registers planning metrics on the default Prometheus registerer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer. Collectors
// that are already registered are reused.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	var err error
	s := &PromSink{}
	if s.cycles, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fluxgo_cycles_total",
		Help: "Planning cycles by trigger, health and result",
	}, []string{"trigger", "health", "result"})); err != nil {
		return nil, err
	}
	if s.cycleDuration, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "fluxgo_cycle_duration_seconds",
		Help:    "Duration of a planning cycle",
		Buckets: prometheus.DefBuckets,
	})); err != nil {
		return nil, err
	}
	if s.calls, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fluxgo_strategy_calls_total",
		Help: "Strategy evaluations by outcome",
	}, []string{"strategy", "outcome"})); err != nil {
		return nil, err
	}
	if s.callLatency, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fluxgo_strategy_call_seconds",
		Help:    "Latency of a single strategy evaluation",
		Buckets: prometheus.DefBuckets,
	}, []string{"strategy"})); err != nil {
		return nil, err
	}
	if s.fallbacks, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fluxgo_fallbacks_total",
		Help: "Strategy results replaced by the fallback decision",
	}, []string{"strategy", "timeout"})); err != nil {
		return nil, err
	}
	if s.modeChanges, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fluxgo_mode_changes_total",
		Help: "Commands issued by the governor",
	}, []string{"inverter", "mode"})); err != nil {
		return nil, err
	}
	if s.violations, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fluxgo_governor_violations_total",
		Help: "Mode requests rejected or deferred by the governor",
	}, []string{"inverter", "constraint", "deferred"})); err != nil {
		return nil, err
	}
	if s.pluginEnabled, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fluxgo_plugin_enabled",
		Help: "1 when the strategy handle takes part in evaluation",
	}, []string{"plugin"})); err != nil {
		return nil, err
	}
	if s.pluginFails, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fluxgo_plugin_consecutive_failures",
		Help: "Consecutive failing cycles of a strategy handle",
	}, []string{"plugin"})); err != nil {
		return nil, err
	}
	if s.blocks, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fluxgo_schedule_blocks",
		Help: "Number of blocks in the published schedule",
	})); err != nil {
		return nil, err
	}
	return s, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordCycle counts the cycle and observes its duration.
func (s *PromSink) RecordCycle(ev events.CycleEvent) error {
	result := "ok"
	if ev.Err != nil {
		result = "aborted"
	}
	s.cycles.WithLabelValues(ev.Trigger, ev.Health, result).Inc()
	s.cycleDuration.Observe(ev.Duration.Seconds())
	return nil
}

// RecordStrategyCalls counts strategy calls and their latency.
func (s *PromSink) RecordStrategyCalls(calls []coremetrics.StrategyCall) error {
	for _, c := range calls {
		s.calls.WithLabelValues(c.Strategy, c.Outcome).Inc()
		s.callLatency.WithLabelValues(c.Strategy).Observe(c.Latency.Seconds())
	}
	return nil
}

// RecordFallback counts fallback substitutions.
func (s *PromSink) RecordFallback(ev events.FallbackEvent) error {
	s.fallbacks.WithLabelValues(ev.Strategy, strconv.FormatBool(ev.Timeout)).Inc()
	return nil
}

// RecordModeChange counts governor commands per target mode.
func (s *PromSink) RecordModeChange(ev events.ModeChangeEvent) error {
	s.modeChanges.WithLabelValues(ev.Inverter, ev.To.String()).Inc()
	return nil
}

// RecordViolation counts rejected and deferred requests.
func (s *PromSink) RecordViolation(ev events.ViolationEvent) error {
	v := ev.Violation
	s.violations.WithLabelValues(v.Inverter, v.Constraint, strconv.FormatBool(ev.Deferred)).Inc()
	return nil
}

// RecordPluginHealth exports the handle state.
func (s *PromSink) RecordPluginHealth(ev events.PluginHealthEvent) error {
	enabled := 1.0
	if ev.State == "disabled" {
		enabled = 0
	}
	s.pluginEnabled.WithLabelValues(ev.Plugin).Set(enabled)
	s.pluginFails.WithLabelValues(ev.Plugin).Set(float64(ev.Failures))
	return nil
}

// RecordSchedule sets the schedule size gauge.
func (s *PromSink) RecordSchedule(sch model.Schedule) error {
	s.blocks.Set(float64(len(sch.Entries)))
	return nil
}
