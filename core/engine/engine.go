// Package engine runs planning cycles: it turns a price snapshot and the
// battery state into a schedule with one decision per block, and hands the
// decision of the current block to the governor.
//
// A cycle is Build blocks, Analyze, Evaluate every active strategy, Merge,
// Coalesce and publish. An InputError aborts the cycle and the previous
// schedule stays in effect. Cycles never overlap.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/fluxgo/core/audit"
	"github.com/kilianp07/fluxgo/core/blocks"
	"github.com/kilianp07/fluxgo/core/events"
	"github.com/kilianp07/fluxgo/core/gateway"
	"github.com/kilianp07/fluxgo/core/governor"
	"github.com/kilianp07/fluxgo/core/health"
	"github.com/kilianp07/fluxgo/core/logger"
	"github.com/kilianp07/fluxgo/core/merger"
	"github.com/kilianp07/fluxgo/core/metrics"
	"github.com/kilianp07/fluxgo/core/model"
	"github.com/kilianp07/fluxgo/core/profile"
	"github.com/kilianp07/fluxgo/core/strategy"
	"github.com/kilianp07/fluxgo/internal/eventbus"
	infralogger "github.com/kilianp07/fluxgo/infra/logger"
)

const (
	// DefaultInterval is the time between two timer-driven cycles.
	DefaultInterval = 60 * time.Second
	// SafeModeStrategy names the decisions substituted in SafeMode.
	SafeModeStrategy = "SafeMode"
)

// Config tunes the engine.
type Config struct {
	Interval      time.Duration
	BlockDuration time.Duration
	GridFee       float64
	Profile       profile.Options
	Health        health.Thresholds
	// ProbeEvery re-checks automatically disabled plugins every n cycles.
	// Zero disables probing.
	ProbeEvery int
	// Concurrency bounds in-flight strategy calls.
	Concurrency int
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.BlockDuration <= 0 {
		c.BlockDuration = blocks.DefaultDuration
	}
	if c.Health.Soft <= 0 {
		c.Health.Soft = health.DefaultSoft
	}
	if c.Health.Hard <= 0 {
		c.Health.Hard = health.DefaultHard
	}
}

// Deps are the collaborators of the engine. Registry and Governor are required.
type Deps struct {
	Registry  *gateway.Registry
	Governor  *governor.Governor
	Audit     audit.Store
	Metrics   metrics.MetricsSink
	Bus       eventbus.EventBus
	Logger    logger.Logger
	Prices    PriceSource
	Telemetry TelemetrySource
	Executor  Executor
	Now       func() time.Time
}

// Engine owns the cycle state: the last valid schedule and the last health.
type Engine struct {
	cfg       Config
	registry  *gateway.Registry
	evaluator *merger.Evaluator
	governor  *governor.Governor
	audit     audit.Store
	metrics   metrics.MetricsSink
	bus       eventbus.EventBus
	log       logger.Logger
	prices    PriceSource
	telemetry TelemetrySource
	executor  Executor
	now       func() time.Time

	// cycleMu serializes cycles.
	cycleMu sync.Mutex

	mu          sync.RWMutex
	current     model.Schedule
	report      health.Report
	cycles      int
	lastVersion string
	lastAsOf    time.Time
	lastTel     Telemetry
}

// New wires an engine.
func New(cfg Config, d Deps) (*Engine, error) {
	if d.Registry == nil || d.Governor == nil {
		return nil, errors.New("engine: registry and governor are required")
	}
	cfg.SetDefaults()
	if err := cfg.Health.Validate(); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	if d.Audit == nil {
		d.Audit = audit.NewMemoryStore(10000)
	}
	if d.Metrics == nil {
		d.Metrics = metrics.NopSink{}
	}
	if d.Logger == nil {
		d.Logger = infralogger.NopLogger{}
	}
	if d.Executor == nil {
		d.Executor = LogExecutor{Log: d.Logger}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	ev := merger.NewEvaluator(d.Registry, d.Metrics, d.Logger.With("component", "merger"))
	if cfg.Concurrency > 0 {
		ev.Concurrency = cfg.Concurrency
	}
	return &Engine{
		cfg:       cfg,
		registry:  d.Registry,
		evaluator: ev,
		governor:  d.Governor,
		audit:     d.Audit,
		metrics:   d.Metrics,
		bus:       d.Bus,
		log:       d.Logger,
		prices:    d.Prices,
		telemetry: d.Telemetry,
		executor:  d.Executor,
		now:       d.Now,
	}, nil
}

// Current returns the last valid schedule.
func (e *Engine) Current() model.Schedule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.current
}

// Health returns the health evaluated by the last cycle.
func (e *Engine) Health() health.Report {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.report
}

// Registry exposes the strategy registry.
func (e *Engine) Registry() *gateway.Registry { return e.registry }

// Governor exposes the governor.
func (e *Engine) Governor() *governor.Governor { return e.governor }

// Audit exposes the audit store.
func (e *Engine) Audit() audit.Store { return e.audit }

// Plan runs one planning cycle on snap and tel and stores the resulting
// schedule as current. On an InputError the previous schedule is kept.
func (e *Engine) Plan(ctx context.Context, snap Snapshot, tel Telemetry) (model.Schedule, error) {
	return e.plan(ctx, "manual", snap, tel)
}

func (e *Engine) plan(ctx context.Context, trigger string, snap Snapshot, tel Telemetry) (model.Schedule, error) {
	started := e.now()
	cycleID := uuid.NewString()
	log := e.log.With("cycle_id", cycleID)

	sch, fallbacks, err := e.cycle(ctx, cycleID, started, snap, tel, log)
	ev := events.CycleEvent{
		CycleID:   cycleID,
		Trigger:   trigger,
		StartedAt: started,
		Duration:  e.now().Sub(started),
		Blocks:    len(sch.Entries),
		Health:    sch.Health,
		Err:       err,
	}
	if err != nil {
		ev.Health = e.Health().Status.String()
		log.Errorf("cycle aborted, keeping previous schedule: %v", err)
		e.appendAudit(ctx, audit.Record{Timestamp: started, Kind: audit.KindCycleAbort, CycleID: cycleID, Reason: err.Error()})
	}
	for _, f := range fallbacks {
		e.publish(f)
	}
	e.publish(ev)
	if mErr := e.metrics.RecordCycle(ev); mErr != nil {
		log.Warnf("record cycle: %v", mErr)
	}
	if err != nil {
		return model.Schedule{}, err
	}
	if rec, ok := e.metrics.(metrics.ScheduleRecorder); ok {
		if mErr := rec.RecordSchedule(sch); mErr != nil {
			log.Warnf("record schedule: %v", mErr)
		}
	}

	e.mu.Lock()
	e.current = sch
	e.lastVersion = snap.Version
	e.lastAsOf = snap.AsOf
	e.lastTel = tel
	e.mu.Unlock()
	return sch, nil
}

func (e *Engine) cycle(ctx context.Context, cycleID string, now time.Time, snap Snapshot, tel Telemetry, log logger.Logger) (model.Schedule, []events.FallbackEvent, error) {
	if err := tel.Battery.Validate(); err != nil {
		return model.Schedule{}, nil, &model.InputError{Reason: "battery model", Err: err}
	}
	bs, err := blocks.Build(snap.Prices, e.cfg.BlockDuration,
		blocks.WithGridFee(e.cfg.GridFee), blocks.WithNow(now), blocks.WithLogger(log))
	if err != nil {
		return model.Schedule{}, nil, err
	}

	popts := e.cfg.Profile
	popts.Consumption = snap.Forecast.ConsumptionKWh
	popts.Solar = snap.Forecast.SolarKWh
	prof := profile.Analyze(bs, popts)

	report := health.Evaluate(now, e.signals(snap, tel), e.cfg.Health)
	e.mu.Lock()
	e.report = report
	e.cycles++
	e.mu.Unlock()
	if report.Status != health.Healthy {
		log.Warnf("system health %s", report)
	}

	res, err := e.evaluator.Evaluate(ctx, cycleID, strategy.Input{
		All:        bs,
		State:      tel.State,
		Battery:    tel.Battery,
		Profile:    prof,
		Forecast:   snap.Forecast,
		Historical: snap.Historical,
		Now:        now,
	})
	if err != nil {
		return model.Schedule{}, nil, err
	}
	for _, name := range res.Disabled {
		h, _ := e.registry.Get(name)
		e.appendAudit(ctx, audit.Record{Timestamp: now, Kind: audit.KindPlugin, CycleID: cycleID, Strategy: name,
			Reason: fmt.Sprintf("disabled after %d consecutive failures: %s", h.Failures, h.LastError)})
	}
	for _, f := range res.Fallbacks {
		e.appendAudit(ctx, audit.Record{Timestamp: now, Kind: audit.KindFallback, CycleID: cycleID, Strategy: f.Strategy,
			BlockStart: f.Block, Mode: model.SelfUse.String(), Reason: f.Reason})
	}

	decisions := governor.Coalesce(res.Decisions, e.governor.MinConsecutive(), e.governor.DefaultMode())
	if report.Status == health.SafeMode {
		decisions = safeMode(bs, report)
	}

	sch := model.Schedule{CycleID: cycleID, GeneratedAt: now, Health: report.Status.String()}
	sch.Entries = make([]model.ScheduleEntry, len(bs))
	for i, b := range bs {
		sch.Entries[i] = model.NewEntry(b, decisions[i])
	}
	if i := blocks.Current(bs, now); i >= 0 {
		d := decisions[i]
		e.appendAudit(ctx, audit.Record{Timestamp: now, Kind: audit.KindDecision, CycleID: cycleID, Strategy: d.StrategyName,
			BlockStart: d.BlockStart, Mode: d.Mode.String(), Reason: d.Reason, DecisionID: d.DecisionID})
	}
	if cmp := profile.Compare(bs, popts); cmp.TomorrowRatio > 0 {
		log.Debugf("outlook today %s, tomorrow %s, tomorrow/today mean %.2f",
			cmp.Today.Outlook(), cmp.Tomorrow.Outlook(), cmp.TomorrowRatio)
	}
	log.Infof("planned %d blocks, %d fallbacks, health %s, outlook %s", len(bs), len(res.Fallbacks), report.Status, prof.Outlook())
	return sch, res.Fallbacks, nil
}

func (e *Engine) signals(snap Snapshot, tel Telemetry) health.Signals {
	connected := true
	if c, ok := e.executor.(Connectivity); ok {
		connected = c.Connected()
	}
	return health.Signals{
		PriceAsOf:      snap.AsOf,
		Connected:      connected,
		InverterSource: tel.Available,
		PriceSource:    true,
	}
}

func safeMode(bs []model.ScheduleBlock, r health.Report) []model.StrategyDecision {
	out := make([]model.StrategyDecision, len(bs))
	for i, b := range bs {
		out[i] = model.StrategyDecision{
			BlockStart:   b.Start,
			Duration:     b.Duration,
			Mode:         model.SelfUse,
			Priority:     0,
			Reason:       "safe mode: " + r.String(),
			DecisionID:   "safe_mode",
			StrategyName: SafeModeStrategy,
		}
	}
	return out
}

func (e *Engine) publish(ev any) {
	if e.bus != nil {
		e.bus.Publish(ev)
	}
}

func (e *Engine) appendAudit(ctx context.Context, rec audit.Record) {
	if err := e.audit.Append(ctx, rec); err != nil {
		e.log.Warnf("audit append: %v", err)
	}
}
