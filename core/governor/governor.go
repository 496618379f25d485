// Package governor turns the merged schedule into inverter commands while
// protecting the hardware.
//
// The governor owns the per-inverter state (current mode and the time of the
// last change). A requested mode is checked against the battery SOC limits
// and the minimum dwell time; at most one command per inverter is emitted per
// call. Rejections and deferrals are counted, published on the event bus and
// written to the audit trail.
package governor

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/fluxgo/core/audit"
	"github.com/kilianp07/fluxgo/core/events"
	"github.com/kilianp07/fluxgo/core/logger"
	"github.com/kilianp07/fluxgo/core/model"
	"github.com/kilianp07/fluxgo/internal/eventbus"
)

const (
	// DefaultMinDwell is the minimum time between two mode changes.
	DefaultMinDwell = 300 * time.Second
	// DefaultSOCMargin keeps force modes away from the SOC limits.
	DefaultSOCMargin = 5.0
)

// Constraint names used in violations.
const (
	ConstraintMaxSOC      = "max_soc"
	ConstraintMinSOC      = "min_soc"
	ConstraintHardwareSOC = "hardware_min_soc"
	ConstraintDwell       = "min_dwell"
)

// Config tunes the governor.
type Config struct {
	MinDwell       time.Duration
	MinConsecutive int
	DefaultMode    model.OperationMode
	// SOCMargin in percentage points, applied to both SOC limits.
	SOCMargin float64
	Inverters []Inverter
	// Targets restricts commands to these inverter ids when non-empty.
	Targets []string
}

// Command is a mode change sent to one inverter.
type Command struct {
	ID         string              `json:"command_id"`
	Inverter   string              `json:"inverter"`
	Mode       model.OperationMode `json:"mode"`
	Previous   model.OperationMode `json:"previous"`
	Slaves     []string            `json:"slaves,omitempty"`
	DecisionID string              `json:"decision_id"`
	Reason     string              `json:"reason"`
	IssuedAt   time.Time           `json:"issued_at"`
}

// Kind is the result of applying a decision.
type Kind string

const (
	Applied  Kind = "applied"
	NoOp     Kind = "noop"
	Rejected Kind = "rejected"
	Deferred Kind = "deferred"
)

// Outcome describes what happened to a requested mode on one inverter.
type Outcome struct {
	Kind      Kind
	Inverter  string
	Command   *Command
	Violation *model.SafetyViolation
	// Mode is the mode the inverter is in after the call.
	Mode model.OperationMode
}

type inverterState struct {
	known     bool
	mode      model.OperationMode
	changedAt time.Time
	pending   *model.StrategyDecision
}

// State is a read-only view of an inverter.
type State struct {
	Inverter  string               `json:"inverter"`
	Topology  Topology             `json:"topology"`
	Known     bool                 `json:"known"`
	Mode      model.OperationMode  `json:"mode"`
	ChangedAt time.Time            `json:"changed_at"`
	Pending   *model.OperationMode `json:"pending,omitempty"`
}

// Options wires the governor's collaborators. All are optional.
type Options struct {
	Logger logger.Logger
	Bus    eventbus.EventBus
	Audit  audit.Store
	NewID  func() string
}

// Governor enforces dwell time and SOC limits per inverter.
type Governor struct {
	mu         sync.Mutex
	cfg        Config
	battery    model.BatteryModel
	inverters  map[string]Inverter
	order      []string
	states     map[string]*inverterState
	violations map[string]int

	log   logger.Logger
	bus   eventbus.EventBus
	audit audit.Store
	newID func() string
}

// New validates cfg and returns a governor for battery bm.
func New(cfg Config, bm model.BatteryModel, opts Options) (*Governor, error) {
	if cfg.MinDwell < 0 {
		return nil, fmt.Errorf("governor: negative dwell %s", cfg.MinDwell)
	}
	if cfg.SOCMargin < 0 {
		return nil, fmt.Errorf("governor: negative soc margin %v", cfg.SOCMargin)
	}
	if !cfg.DefaultMode.Valid() {
		return nil, fmt.Errorf("governor: invalid default mode %v", cfg.DefaultMode)
	}
	invs := cfg.Inverters
	if len(invs) == 0 {
		invs = []Inverter{{ID: DefaultInverter, Topology: Independent}}
	}
	if err := validateTopology(invs); err != nil {
		return nil, fmt.Errorf("governor: %w", err)
	}
	g := &Governor{
		cfg:        cfg,
		battery:    bm,
		inverters:  make(map[string]Inverter, len(invs)),
		states:     make(map[string]*inverterState, len(invs)),
		violations: make(map[string]int),
		log:        opts.Logger,
		bus:        opts.Bus,
		audit:      opts.Audit,
		newID:      opts.NewID,
	}
	if g.newID == nil {
		g.newID = uuid.NewString
	}
	for _, inv := range invs {
		if inv.Topology == "" {
			inv.Topology = Independent
		}
		g.inverters[inv.ID] = inv
		g.order = append(g.order, inv.ID)
		g.states[inv.ID] = &inverterState{mode: cfg.DefaultMode}
	}
	for _, id := range cfg.Targets {
		if _, ok := g.inverters[id]; !ok {
			return nil, fmt.Errorf("governor: unknown target inverter %s", id)
		}
	}
	return g, nil
}

// Commanded returns the inverters that receive commands: independents and
// masters, restricted to the configured targets.
func (g *Governor) Commanded() []string {
	var out []string
	for _, id := range g.order {
		inv := g.inverters[id]
		if inv.Topology == Slave {
			continue
		}
		if len(g.cfg.Targets) > 0 && !slices.Contains(g.cfg.Targets, id) {
			continue
		}
		out = append(out, id)
	}
	return out
}

// ApplyAll applies d to every commanded inverter.
func (g *Governor) ApplyAll(ctx context.Context, now time.Time, d model.StrategyDecision, soc float64) []Outcome {
	ids := g.Commanded()
	out := make([]Outcome, 0, len(ids))
	for _, id := range ids {
		o, err := g.Apply(ctx, now, id, d, soc)
		if err != nil {
			g.warnf("apply on %s: %v", id, err)
			continue
		}
		out = append(out, o)
	}
	return out
}

// Apply checks d against the state of inverter id and returns at most one
// command. A deferred decision is kept as pending and must be re-applied on
// the next cycle.
func (g *Governor) Apply(ctx context.Context, now time.Time, id string, d model.StrategyDecision, soc float64) (Outcome, error) {
	g.mu.Lock()
	inv, ok := g.inverters[id]
	if !ok {
		g.mu.Unlock()
		return Outcome{}, fmt.Errorf("unknown inverter %s", id)
	}
	if inv.Topology == Slave {
		g.mu.Unlock()
		return Outcome{}, fmt.Errorf("inverter %s is a slave of %s", id, inv.Master)
	}
	st := g.states[id]
	out, ev := g.decide(now, inv, st, d, soc)
	g.mu.Unlock()

	g.emit(ctx, now, out, ev, d)
	return out, nil
}

// decide runs under g.mu.
func (g *Governor) decide(now time.Time, inv Inverter, st *inverterState, d model.StrategyDecision, soc float64) (Outcome, any) {
	out := Outcome{Inverter: inv.ID, Mode: st.mode}

	if st.known && st.mode == d.Mode {
		st.pending = nil
		out.Kind = NoOp
		return out, nil
	}

	if v := g.socViolation(inv.ID, st.mode, d.Mode, soc); v != nil {
		st.pending = nil
		g.violations[v.Constraint]++
		out.Kind, out.Violation = Rejected, v
		return out, events.ViolationEvent{Violation: *v, At: now}
	}

	if st.known && g.cfg.MinDwell > 0 && now.Sub(st.changedAt) < g.cfg.MinDwell {
		pending := d
		st.pending = &pending
		g.violations[ConstraintDwell]++
		v := &model.SafetyViolation{
			Inverter:   inv.ID,
			Requested:  d.Mode,
			Held:       st.mode,
			Constraint: ConstraintDwell,
			Detail: fmt.Sprintf("last change %s ago, minimum %s",
				now.Sub(st.changedAt).Truncate(time.Second), g.cfg.MinDwell),
		}
		out.Kind, out.Violation = Deferred, v
		return out, events.ViolationEvent{Violation: *v, Deferred: true, At: now}
	}

	cmd := g.transition(now, inv, st, d.Mode, d.Reason, d.DecisionID)
	out.Kind, out.Command, out.Mode = Applied, cmd, st.mode
	return out, events.ModeChangeEvent{Inverter: inv.ID, From: cmd.Previous, To: cmd.Mode, Reason: cmd.Reason, DecisionID: cmd.DecisionID, CommandID: cmd.ID, At: now}
}

func (g *Governor) transition(now time.Time, inv Inverter, st *inverterState, mode model.OperationMode, reason, decisionID string) *Command {
	cmd := &Command{
		ID:         g.newID(),
		Inverter:   inv.ID,
		Mode:       mode,
		Previous:   st.mode,
		Slaves:     append([]string(nil), inv.Slaves...),
		DecisionID: decisionID,
		Reason:     reason,
		IssuedAt:   now,
	}
	st.known = true
	st.mode = mode
	st.changedAt = now
	st.pending = nil
	for _, s := range inv.Slaves {
		if ss := g.states[s]; ss != nil {
			ss.known, ss.mode, ss.changedAt = true, mode, now
		}
	}
	return cmd
}

// socViolation checks the requested mode against the SOC limits. The
// hardware floor is checked first and is never relaxed.
func (g *Governor) socViolation(id string, held, requested model.OperationMode, soc float64) *model.SafetyViolation {
	bm := g.battery
	margin := g.cfg.SOCMargin
	v := &model.SafetyViolation{Inverter: id, Requested: requested, Held: held}
	switch requested {
	case model.ForceCharge:
		if limit := bm.MaxSOC - margin; soc >= limit {
			v.Constraint = ConstraintMaxSOC
			v.Detail = fmt.Sprintf("soc %.1f >= %.1f", soc, limit)
			return v
		}
	case model.ForceDischarge:
		if soc <= bm.HardwareMinSOC {
			v.Constraint = ConstraintHardwareSOC
			v.Detail = fmt.Sprintf("soc %.1f <= hardware floor %.1f", soc, bm.HardwareMinSOC)
			return v
		}
		if limit := bm.MinSOC + margin; soc <= limit {
			v.Constraint = ConstraintMinSOC
			v.Detail = fmt.Sprintf("soc %.1f <= %.1f", soc, limit)
			return v
		}
	}
	return nil
}

func (g *Governor) emit(ctx context.Context, now time.Time, out Outcome, ev any, d model.StrategyDecision) {
	if ev == nil {
		return
	}
	if g.bus != nil {
		g.bus.Publish(ev)
	}
	rec := audit.Record{
		Timestamp:  now,
		Strategy:   d.StrategyName,
		BlockStart: d.BlockStart,
		Inverter:   out.Inverter,
		DecisionID: d.DecisionID,
	}
	switch out.Kind {
	case Applied:
		rec.Kind = audit.KindCommand
		rec.Mode = out.Command.Mode.String()
		rec.Reason = out.Command.Reason
		if out.Violation != nil {
			rec.Constraint = out.Violation.Constraint
		}
		g.infof("%s: %s -> %s (%s)", out.Inverter, out.Command.Previous, out.Command.Mode, out.Command.Reason)
	case Rejected:
		rec.Kind = audit.KindViolation
		rec.Mode = d.Mode.String()
		rec.Constraint = out.Violation.Constraint
		rec.Reason = out.Violation.Detail
		g.warnf("%v", out.Violation)
	case Deferred:
		rec.Kind = audit.KindDeferral
		rec.Mode = d.Mode.String()
		rec.Constraint = out.Violation.Constraint
		rec.Reason = out.Violation.Detail
		g.debugf("%s: %s deferred: %s", out.Inverter, d.Mode, out.Violation.Detail)
	}
	if g.audit != nil {
		if err := g.audit.Append(ctx, rec); err != nil {
			g.warnf("audit append: %v", err)
		}
	}
}

// States returns a snapshot of every inverter in configuration order.
func (g *Governor) States() []State {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]State, 0, len(g.order))
	for _, id := range g.order {
		st := g.states[id]
		s := State{
			Inverter:  id,
			Topology:  g.inverters[id].Topology,
			Known:     st.known,
			Mode:      st.mode,
			ChangedAt: st.changedAt,
		}
		if st.pending != nil {
			m := st.pending.Mode
			s.Pending = &m
		}
		out = append(out, s)
	}
	return out
}

// Violations returns the violation counts per constraint.
func (g *Governor) Violations() map[string]int {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]int, len(g.violations))
	for k, v := range g.violations {
		out[k] = v
	}
	return out
}

// MinConsecutive returns the configured run length for Coalesce.
func (g *Governor) MinConsecutive() int { return g.cfg.MinConsecutive }

// DefaultMode returns the mode used when nothing else applies.
func (g *Governor) DefaultMode() model.OperationMode { return g.cfg.DefaultMode }

func (g *Governor) infof(format string, args ...any) {
	if g.log != nil {
		g.log.Infof(format, args...)
	}
}

func (g *Governor) warnf(format string, args ...any) {
	if g.log != nil {
		g.log.Warnf(format, args...)
	}
}

func (g *Governor) debugf(format string, args ...any) {
	if g.log != nil {
		g.log.Debugf(format, args...)
	}
}
