package engine

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/fluxgo/core/audit"
	"github.com/kilianp07/fluxgo/core/gateway"
	"github.com/kilianp07/fluxgo/core/governor"
	"github.com/kilianp07/fluxgo/core/health"
	"github.com/kilianp07/fluxgo/core/model"
	"github.com/kilianp07/fluxgo/core/strategy"
)

var t0 = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func battery() model.BatteryModel {
	return model.BatteryModel{
		CapacityKWh:    10,
		MaxChargeKW:    5,
		MaxDischargeKW: 5,
		Efficiency:     0.9,
		HardwareMinSOC: 5,
		MinSOC:         10,
		MaxSOC:         100,
	}
}

func snapshot(prices ...float64) Snapshot {
	pts := make([]model.PricePoint, len(prices))
	for i, p := range prices {
		pts[i] = model.PricePoint{Start: t0.Add(time.Duration(i) * 15 * time.Minute), Duration: 15 * time.Minute, Price: p}
	}
	return Snapshot{Prices: pts, AsOf: t0, Version: "v1"}
}

func telemetry(soc float64) Telemetry {
	return Telemetry{State: model.BatteryState{SOC: soc}, Battery: battery(), Available: true}
}

type recordingExecutor struct {
	mu        sync.Mutex
	commands  []governor.Command
	schedules []model.Schedule
}

func (r *recordingExecutor) Publish(_ context.Context, s model.Schedule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schedules = append(r.schedules, s)
	return nil
}

func (r *recordingExecutor) Command(_ context.Context, cmd governor.Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, cmd)
	return nil
}

type fixture struct {
	engine *Engine
	store  *audit.MemoryStore
	exec   *recordingExecutor
	reg    *gateway.Registry
}

func newFixture(t *testing.T, reg *gateway.Registry, gcfg governor.Config) fixture {
	t.Helper()
	store := audit.NewMemoryStore(0)
	g, err := governor.New(gcfg, battery(), governor.Options{Audit: store})
	require.NoError(t, err)
	exec := &recordingExecutor{}
	e, err := New(Config{}, Deps{
		Registry: reg,
		Governor: g,
		Audit:    store,
		Executor: exec,
		Now:      func() time.Time { return t0 },
	})
	require.NoError(t, err)
	return fixture{engine: e, store: store, exec: exec, reg: reg}
}

func budgetRegistry(t *testing.T) *gateway.Registry {
	t.Helper()
	reg := gateway.NewRegistry(gateway.Options{})
	b, err := strategy.NewBudget("budget", strategy.BudgetConfig{ForceChargeHours: 0.25})
	require.NoError(t, err)
	require.NoError(t, reg.RegisterBuiltin(strategy.NewSelfUse("", strategy.SelfUseConfig{})))
	require.NoError(t, reg.RegisterBuiltin(b))
	return reg
}

func modes(s model.Schedule) []model.OperationMode {
	out := make([]model.OperationMode, len(s.Entries))
	for i, e := range s.Entries {
		out[i] = e.Mode
	}
	return out
}

func TestPlan_BudgetChargesCheapestBlock(t *testing.T) {
	f := newFixture(t, budgetRegistry(t), governor.Config{MinConsecutive: 1})

	sch, err := f.engine.Plan(context.Background(), snapshot(0.05, 0.05, 0.30, 0.30), telemetry(50))
	require.NoError(t, err)
	require.Len(t, sch.Entries, 4)
	assert.Equal(t, []model.OperationMode{model.ForceCharge, model.SelfUse, model.SelfUse, model.SelfUse}, modes(sch))
	assert.Equal(t, "budget", sch.Entries[0].StrategyName)
	assert.Equal(t, "healthy", sch.Health)
	assert.Equal(t, sch.CycleID, f.engine.Current().CycleID)

	recs, err := f.store.Query(context.Background(), audit.Query{Kind: audit.KindDecision})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "ForceCharge", recs[0].Mode)
}

func TestPlan_CoalescesShortRuns(t *testing.T) {
	f := newFixture(t, budgetRegistry(t), governor.Config{MinConsecutive: 2})

	sch, err := f.engine.Plan(context.Background(), snapshot(0.05, 0.10, 0.30, 0.30), telemetry(50))
	require.NoError(t, err)
	assert.Equal(t, []model.OperationMode{model.SelfUse, model.SelfUse, model.SelfUse, model.SelfUse}, modes(sch))
	assert.Contains(t, sch.Entries[0].Reason, "coalesced")
}

func TestPlan_InputErrorKeepsPreviousSchedule(t *testing.T) {
	f := newFixture(t, budgetRegistry(t), governor.Config{MinConsecutive: 1})
	ctx := context.Background()

	first, err := f.engine.Plan(ctx, snapshot(0.05, 0.05, 0.30, 0.30), telemetry(50))
	require.NoError(t, err)

	bad := snapshot(0.05, 0.05)
	bad.Prices[1].Start = bad.Prices[1].Start.Add(time.Minute)
	_, err = f.engine.Plan(ctx, bad, telemetry(50))
	var inErr *model.InputError
	require.True(t, errors.As(err, &inErr), "want InputError, got %v", err)
	assert.Equal(t, first.CycleID, f.engine.Current().CycleID)

	_, err = f.engine.Plan(ctx, snapshot(0.1, 0.1), Telemetry{State: model.BatteryState{SOC: 50}})
	require.True(t, errors.As(err, &inErr))
	assert.Equal(t, first.CycleID, f.engine.Current().CycleID)

	recs, err := f.store.Query(ctx, audit.Query{Kind: audit.KindCycleAbort})
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestPlan_SafeModeForcesSelfUse(t *testing.T) {
	f := newFixture(t, budgetRegistry(t), governor.Config{MinConsecutive: 1})
	snap := snapshot(0.05, 0.05, 0.30, 0.30)
	snap.AsOf = t0.Add(-5 * time.Hour)

	sch, err := f.engine.Plan(context.Background(), snap, telemetry(50))
	require.NoError(t, err)
	assert.Equal(t, health.SafeMode, f.engine.Health().Status)
	assert.Equal(t, "safe_mode", sch.Health)
	for _, e := range sch.Entries {
		assert.Equal(t, model.SelfUse, e.Mode)
		assert.Equal(t, SafeModeStrategy, e.StrategyName)
	}
}

func TestPlan_StalePricesDegrade(t *testing.T) {
	f := newFixture(t, budgetRegistry(t), governor.Config{MinConsecutive: 1})
	snap := snapshot(0.05, 0.05, 0.30, 0.30)
	snap.AsOf = t0.Add(-2 * time.Hour)

	sch, err := f.engine.Plan(context.Background(), snap, telemetry(50))
	require.NoError(t, err)
	assert.Equal(t, health.Degraded, f.engine.Health().Status)
	assert.Equal(t, model.ForceCharge, sch.Entries[0].Mode)
}

func TestPlan_UnreachablePluginDisabled(t *testing.T) {
	srv := httptest.NewServer(nil)
	url := srv.URL
	srv.Close()

	reg := gateway.NewRegistry(gateway.Options{Timeout: 200 * time.Millisecond})
	require.NoError(t, reg.RegisterBuiltin(strategy.NewSelfUse("", strategy.SelfUseConfig{})))
	_, err := reg.Register(gateway.RegistrationRequest{
		Manifest:    gateway.PluginManifest{Name: "remote", Version: "1.0", DefaultPriority: 80},
		CallbackURL: url,
	})
	require.NoError(t, err)
	f := newFixture(t, reg, governor.Config{MinConsecutive: 1})
	ctx := context.Background()

	fallbacks := func() int {
		recs, err := f.store.Query(ctx, audit.Query{Kind: audit.KindFallback, Strategy: "remote"})
		require.NoError(t, err)
		return len(recs)
	}

	for cycle := 1; cycle <= 3; cycle++ {
		sch, err := f.engine.Plan(ctx, snapshot(0.1, 0.2, 0.3, 0.4), telemetry(50))
		require.NoError(t, err)
		for _, e := range sch.Entries {
			assert.Equal(t, "self_use", e.StrategyName)
		}
		h, err := reg.Get("remote")
		require.NoError(t, err)
		assert.Equal(t, cycle, h.Failures)
		assert.Equal(t, cycle < 3, h.Enabled, "cycle %d", cycle)
	}
	assert.Equal(t, 12, fallbacks())

	plugins, err := f.store.Query(ctx, audit.Query{Kind: audit.KindPlugin})
	require.NoError(t, err)
	require.Len(t, plugins, 1)
	assert.Equal(t, "remote", plugins[0].Strategy)

	_, err = f.engine.Plan(ctx, snapshot(0.1, 0.2, 0.3, 0.4), telemetry(50))
	require.NoError(t, err)
	assert.Equal(t, 12, fallbacks())
}

func TestCycle_GovernorRejectsChargeAtHighSOC(t *testing.T) {
	reg := gateway.NewRegistry(gateway.Options{})
	require.NoError(t, reg.RegisterBuiltin(strategy.Func{ID: "charger", Fn: func(_ context.Context, in strategy.Input) (model.StrategyDecision, error) {
		return model.StrategyDecision{BlockStart: in.Block.Start, Duration: in.Block.Duration, Mode: model.ForceCharge, Priority: 100, Reason: "always charge"}, nil
	}}))
	store := audit.NewMemoryStore(0)
	g, err := governor.New(governor.Config{MinConsecutive: 1, SOCMargin: governor.DefaultSOCMargin}, battery(), governor.Options{Audit: store})
	require.NoError(t, err)
	exec := &recordingExecutor{}
	e, err := New(Config{}, Deps{
		Registry:  reg,
		Governor:  g,
		Audit:     store,
		Executor:  exec,
		Prices:    StaticPrices{Snapshot: snapshot(0.1, 0.1, 0.1, 0.1)},
		Telemetry: StaticTelemetry{Telemetry: telemetry(95)},
		Now:       func() time.Time { return t0 },
	})
	require.NoError(t, err)

	require.NoError(t, e.Cycle(context.Background(), "test"))
	assert.Equal(t, model.ForceCharge, e.Current().Entries[0].Mode)
	assert.Empty(t, exec.commands)
	require.Len(t, exec.schedules, 1)
	assert.Equal(t, 1, g.Violations()[governor.ConstraintMaxSOC])

	recs, err := store.Query(context.Background(), audit.Query{Kind: audit.KindViolation})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, governor.ConstraintMaxSOC, recs[0].Constraint)
}

func TestCycle_CommandsCurrentBlock(t *testing.T) {
	f := newFixture(t, budgetRegistry(t), governor.Config{MinConsecutive: 1})
	f.engine.prices = StaticPrices{Snapshot: snapshot(0.05, 0.05, 0.30, 0.30)}
	f.engine.telemetry = StaticTelemetry{Telemetry: telemetry(50)}

	require.NoError(t, f.engine.Cycle(context.Background(), "test"))
	require.Len(t, f.exec.commands, 1)
	assert.Equal(t, model.ForceCharge, f.exec.commands[0].Mode)
	assert.Equal(t, governor.DefaultInverter, f.exec.commands[0].Inverter)

	require.NoError(t, f.engine.Cycle(context.Background(), "test"))
	assert.Len(t, f.exec.commands, 1, "same mode must not be re-commanded")
}

type failingPrices struct{}

func (failingPrices) Fetch(context.Context) (Snapshot, error) {
	return Snapshot{}, errors.New("upstream down")
}

func TestCycle_PriceFailureKeepsSchedule(t *testing.T) {
	f := newFixture(t, budgetRegistry(t), governor.Config{MinConsecutive: 1})
	f.engine.cfg.Health = health.Thresholds{Soft: 5 * time.Minute, Hard: 10 * time.Minute}
	now := t0
	f.engine.now = func() time.Time { return now }
	f.engine.prices = StaticPrices{Snapshot: snapshot(0.05, 0.05, 0.30, 0.30)}
	f.engine.telemetry = StaticTelemetry{Telemetry: telemetry(50)}

	require.NoError(t, f.engine.Cycle(context.Background(), "test"))
	first := f.engine.Current()
	require.Len(t, f.exec.commands, 1)
	require.Equal(t, model.ForceCharge, f.exec.commands[0].Mode)

	// A single failed fetch keeps the schedule while its prices are fresh.
	now = t0.Add(6 * time.Minute)
	f.engine.prices = failingPrices{}
	err := f.engine.Cycle(context.Background(), "test")
	require.Error(t, err)
	assert.Equal(t, first.CycleID, f.engine.Current().CycleID)
	assert.Equal(t, health.Degraded, f.engine.Health().Status)
	assert.Equal(t, model.ForceCharge, f.engine.Current().Entries[0].Mode)
	assert.Len(t, f.exec.commands, 1)
	assert.Len(t, f.exec.schedules, 2)

	// Past the hard threshold force modes are dropped.
	now = t0.Add(11 * time.Minute)
	require.Error(t, f.engine.Cycle(context.Background(), "test"))
	assert.Equal(t, health.SafeMode, f.engine.Health().Status)
	require.Len(t, f.exec.commands, 2)
	assert.Equal(t, model.SelfUse, f.exec.commands[1].Mode)
}

func TestCycle_PriceFailureWithoutScheduleIsSafeMode(t *testing.T) {
	f := newFixture(t, budgetRegistry(t), governor.Config{MinConsecutive: 1})
	f.engine.prices = failingPrices{}
	f.engine.telemetry = StaticTelemetry{Telemetry: telemetry(50)}

	require.Error(t, f.engine.Cycle(context.Background(), "test"))
	assert.Equal(t, health.SafeMode, f.engine.Health().Status)
	assert.True(t, f.engine.Current().Empty())
	assert.Empty(t, f.exec.commands)
}

func TestRun_PlansOnStartupAndUpdates(t *testing.T) {
	f := newFixture(t, budgetRegistry(t), governor.Config{MinConsecutive: 1})
	f.engine.prices = StaticPrices{Snapshot: snapshot(0.05, 0.05, 0.30, 0.30)}
	f.engine.telemetry = StaticTelemetry{Telemetry: telemetry(50)}

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan Snapshot, 1)
	done := make(chan error, 1)
	go func() { done <- f.engine.Run(ctx, updates) }()

	require.Eventually(t, func() bool { return !f.engine.Current().Empty() }, time.Second, 10*time.Millisecond)
	first := f.engine.Current().CycleID

	next := snapshot(0.30, 0.30, 0.05, 0.05)
	next.Version = "v2"
	updates <- next
	require.Eventually(t, func() bool { return f.engine.Current().CycleID != first }, time.Second, 10*time.Millisecond)
	assert.Equal(t, model.SelfUse, f.engine.Current().Entries[0].Mode)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}
