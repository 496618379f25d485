package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kilianp07/fluxgo/core/governor"
	"github.com/kilianp07/fluxgo/core/health"
	"github.com/kilianp07/fluxgo/core/model"
	"github.com/kilianp07/fluxgo/core/monitoring"
	"github.com/kilianp07/fluxgo/core/strategy"
)

// Cycle fetches fresh inputs, plans and executes. A failed fetch or an
// aborted plan still executes the previous schedule.
func (e *Engine) Cycle(ctx context.Context, trigger string) error {
	if e.prices == nil || e.telemetry == nil {
		return errors.New("engine: price and telemetry sources are required")
	}
	snap, err := e.prices.Fetch(ctx)
	if err != nil {
		e.log.Errorf("fetch prices: %v", err)
		e.degrade(err)
		return e.executeCurrent(ctx, err)
	}
	return e.cycleWith(ctx, trigger, snap)
}

func (e *Engine) cycleWith(ctx context.Context, trigger string, snap Snapshot) error {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	tel, err := e.telemetry.Read(ctx)
	if err != nil {
		e.log.Warnf("read telemetry: %v", err)
		e.mu.RLock()
		tel = e.lastTel
		e.mu.RUnlock()
		tel.Available = false
	}
	if _, perr := e.plan(ctx, trigger, snap, tel); perr != nil {
		err = perr
	}
	e.probe(ctx, snap, tel)
	return e.execute(ctx, tel.State.SOC, err)
}

func (e *Engine) executeCurrent(ctx context.Context, cause error) error {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()
	e.mu.RLock()
	soc := e.lastTel.State.SOC
	e.mu.RUnlock()
	return e.execute(ctx, soc, cause)
}

// degrade re-evaluates the health after the price source failed. The prices
// of the last valid schedule keep aging against the thresholds.
func (e *Engine) degrade(cause error) {
	connected := true
	if c, ok := e.executor.(Connectivity); ok {
		connected = c.Connected()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.report = health.Evaluate(e.now(), health.Signals{
		PriceAsOf:      e.lastAsOf,
		Connected:      connected,
		InverterSource: e.lastTel.Available,
		PriceSource:    true,
		Errors:         []error{fmt.Errorf("price source: %w", cause)},
	}, e.cfg.Health)
}

// execute publishes the current schedule and applies its current block.
func (e *Engine) execute(ctx context.Context, soc float64, cause error) error {
	sch := e.Current()
	if sch.Empty() {
		return cause
	}
	if err := e.executor.Publish(ctx, sch); err != nil {
		e.log.Warnf("publish schedule: %v", err)
	}
	now := e.now()
	entry, ok := sch.At(now)
	if !ok {
		e.log.Warnf("schedule %s has no block covering %s", sch.CycleID, now.Format(time.RFC3339))
		return cause
	}
	d := model.StrategyDecision{
		BlockStart:   entry.BlockStart,
		Duration:     time.Duration(entry.DurationMinutes) * time.Minute,
		Mode:         entry.Mode,
		Priority:     entry.Priority,
		Reason:       entry.Reason,
		DecisionID:   entry.DecisionID,
		StrategyName: entry.StrategyName,
	}
	if e.Health().Status == health.SafeMode && d.Mode.IsForce() {
		d.Mode = model.SelfUse
		d.Reason = "safe mode: " + d.Reason
	}
	for _, out := range e.governor.ApplyAll(ctx, now, d, soc) {
		if out.Kind != governor.Applied {
			continue
		}
		if err := e.executor.Command(ctx, *out.Command); err != nil {
			e.log.Errorf("command %s to %s: %v", out.Command.ID, out.Inverter, err)
			monitoring.CaptureException(err, map[string]string{"inverter": out.Inverter})
		}
	}
	return cause
}

func (e *Engine) probe(ctx context.Context, snap Snapshot, tel Telemetry) {
	e.mu.RLock()
	n := e.cycles
	e.mu.RUnlock()
	if e.cfg.ProbeEvery <= 0 || n == 0 || n%e.cfg.ProbeEvery != 0 {
		return
	}
	sch := e.Current()
	if sch.Empty() {
		return
	}
	bs, err := blocksOf(sch)
	if err != nil {
		return
	}
	names := e.registry.Probe(ctx, strategy.Input{
		Block:      bs[0],
		All:        bs,
		State:      tel.State,
		Battery:    tel.Battery,
		Forecast:   snap.Forecast,
		Historical: snap.Historical,
		Now:        e.now(),
	})
	for _, name := range names {
		e.log.Infof("strategy %s re-enabled by probe", name)
	}
}

func blocksOf(s model.Schedule) ([]model.ScheduleBlock, error) {
	if s.Empty() {
		return nil, errors.New("empty schedule")
	}
	out := make([]model.ScheduleBlock, len(s.Entries))
	for i, en := range s.Entries {
		out[i] = model.ScheduleBlock{
			Start:          en.BlockStart,
			Duration:       time.Duration(en.DurationMinutes) * time.Minute,
			Price:          en.Price,
			EffectivePrice: en.Price,
		}
	}
	return out, nil
}

// Run drives cycles from a timer and from price updates until ctx is done.
// Updates whose Version matches the last planned one are ignored. Updates
// that arrive while a cycle runs are collapsed to the most recent.
func (e *Engine) Run(ctx context.Context, updates <-chan Snapshot) error {
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	e.guardedCycle(ctx, "startup", nil)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.guardedCycle(ctx, "timer", nil)
		case snap, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			snap = latest(snap, updates)
			e.mu.RLock()
			same := snap.Version != "" && snap.Version == e.lastVersion
			e.mu.RUnlock()
			if same {
				continue
			}
			e.guardedCycle(ctx, "price_update", &snap)
		}
	}
}

func latest(snap Snapshot, updates <-chan Snapshot) Snapshot {
	for {
		select {
		case next, ok := <-updates:
			if !ok {
				return snap
			}
			snap = next
		default:
			return snap
		}
	}
}

func (e *Engine) guardedCycle(ctx context.Context, trigger string, snap *Snapshot) {
	err := monitoring.Guard("engine", func() error {
		if snap != nil && e.telemetry != nil {
			return e.cycleWith(ctx, trigger, *snap)
		}
		return e.Cycle(ctx, trigger)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		e.log.Warnf("%s cycle: %v", trigger, err)
	}
}
