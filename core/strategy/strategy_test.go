package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/fluxgo/core/model"
	"github.com/kilianp07/fluxgo/core/profile"
)

var t0 = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func testBattery() model.BatteryModel {
	return model.BatteryModel{
		CapacityKWh:    10,
		MaxChargeKW:    4,
		MaxDischargeKW: 4,
		Efficiency:     0.9,
		HardwareMinSOC: 5,
		MinSOC:         10,
		MaxSOC:         100,
		WearCostPerKWh: 0.01,
	}
}

func testBlocks(prices ...float64) []model.ScheduleBlock {
	out := make([]model.ScheduleBlock, len(prices))
	for i, p := range prices {
		out[i] = model.ScheduleBlock{
			Start:          t0.Add(time.Duration(i) * 15 * time.Minute),
			Duration:       15 * time.Minute,
			Price:          p,
			EffectivePrice: p,
		}
	}
	return out
}

func inputs(blocks []model.ScheduleBlock, soc float64, fc model.Forecast) []Input {
	prof := profile.Analyze(blocks, profile.Options{VolatileCV: 10})
	out := make([]Input, len(blocks))
	for i, b := range blocks {
		out[i] = Input{
			Block:    b,
			Index:    i,
			All:      blocks,
			State:    model.BatteryState{SOC: soc},
			Battery:  testBattery(),
			Profile:  prof,
			Forecast: fc,
			Now:      t0,
		}
	}
	return out
}

func evaluateAll(t *testing.T, s Strategy, ins []Input) []model.StrategyDecision {
	t.Helper()
	out := make([]model.StrategyDecision, len(ins))
	for i, in := range ins {
		d, err := s.Evaluate(context.Background(), in)
		require.NoError(t, err)
		require.True(t, d.BlockStart.Equal(in.Block.Start), "decision must echo block start")
		assert.Equal(t, s.Name(), d.StrategyName)
		out[i] = d
	}
	return out
}

func modesOf(ds []model.StrategyDecision) []model.OperationMode {
	out := make([]model.OperationMode, len(ds))
	for i, d := range ds {
		out[i] = d.Mode
	}
	return out
}

func TestBudgetCheapestBlockChronologicalTie(t *testing.T) {
	b, err := NewBudget("", BudgetConfig{ForceChargeHours: 0.25})
	require.NoError(t, err)
	ds := evaluateAll(t, b, inputs(testBlocks(0.05, 0.05, 0.30, 0.30), 50, model.Forecast{}))
	assert.Equal(t, []model.OperationMode{model.ForceCharge, model.SelfUse, model.SelfUse, model.SelfUse}, modesOf(ds))
	assert.Equal(t, uint8(60), ds[0].Priority)
	assert.Equal(t, uint8(NeutralPriority), ds[1].Priority)
}

func TestBudgetDischargeQuota(t *testing.T) {
	b, err := NewBudget("", BudgetConfig{ForceChargeHours: 0.25, ForceDischargeHours: 0.25})
	require.NoError(t, err)
	modes := b.Plan(testBlocks(0.05, 0.05, 0.30, 0.30), testBattery())
	assert.Equal(t, []model.OperationMode{model.ForceCharge, model.SelfUse, model.ForceDischarge, model.SelfUse}, modes)

	flat := b.Plan(testBlocks(0.30, 0.30, 0.30), testBattery())
	assert.Equal(t, model.ForceCharge, flat[0])
	assert.Equal(t, model.SelfUse, flat[1], "no discharge without spread")
}

func TestArbitrageThresholdsAndQuota(t *testing.T) {
	a, err := NewArbitrage("", ArbitrageConfig{ChargeBlocks: 1, DischargeBlocks: 1})
	require.NoError(t, err)
	ds := evaluateAll(t, a, inputs(testBlocks(0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8), 50, model.Forecast{}))
	assert.Equal(t, model.ForceCharge, ds[0].Mode)
	assert.Equal(t, model.SelfUse, ds[1].Mode, "charge quota already used")
	assert.Equal(t, model.ForceDischarge, ds[7].Mode)
	assert.Equal(t, model.SelfUse, ds[5].Mode, "discharge quota already used")
	require.NotNil(t, ds[0].ExpectedProfit)
	assert.Greater(t, *ds[0].ExpectedProfit, 0.0)
	assert.NotEmpty(t, ds[0].DecisionID)
}

func TestArbitrageNeutralOnNarrowSpread(t *testing.T) {
	a, err := NewArbitrage("arb", ArbitrageConfig{MinProfit: 1})
	require.NoError(t, err)
	for _, d := range evaluateAll(t, a, inputs(testBlocks(0.1, 0.5, 0.1, 0.5), 50, model.Forecast{})) {
		assert.Equal(t, model.SelfUse, d.Mode)
		assert.Equal(t, uint8(NeutralPriority), d.Priority)
	}
}

func TestArbitrageRejectsBadPercentiles(t *testing.T) {
	_, err := NewArbitrage("", ArbitrageConfig{ChargePercentile: 0.8, DischargePercentile: 0.2})
	assert.Error(t, err)
}

func TestSolarDeferralScalesWithForecast(t *testing.T) {
	s, err := NewSolarDeferral("", SolarDeferralConfig{})
	require.NoError(t, err)
	blocks := testBlocks(0.1, 0.1, 0.5, 0.5)

	ds := evaluateAll(t, s, inputs(blocks, 50, model.Forecast{SolarKWh: []float64{0, 0, 3, 3}}))
	assert.Equal(t, model.SelfUse, ds[0].Mode)
	assert.Equal(t, uint8(75), ds[0].Priority)
	assert.Equal(t, uint8(NeutralPriority), ds[2].Priority, "expensive block is left alone")

	// 1.2 kWh covers about a fifth of the 5 kWh headroom.
	ds = evaluateAll(t, s, inputs(blocks, 50, model.Forecast{SolarKWh: []float64{0, 0, 0.6, 0.6}}))
	assert.Greater(t, ds[0].Priority, uint8(NeutralPriority))
	assert.Less(t, ds[0].Priority, uint8(75))

	ds = evaluateAll(t, s, inputs(blocks, 50, model.Forecast{}))
	assert.Equal(t, uint8(NeutralPriority), ds[0].Priority)
}

func TestSolarDeferralIgnoresNegativePrices(t *testing.T) {
	s, err := NewSolarDeferral("", SolarDeferralConfig{})
	require.NoError(t, err)
	ds := evaluateAll(t, s, inputs(testBlocks(-0.1, 0.1, 0.5, 0.5), 50, model.Forecast{SolarKWh: []float64{0, 3, 3, 3}}))
	assert.Equal(t, uint8(NeutralPriority), ds[0].Priority)
}

func TestPeakDischargeFindsPeakWindow(t *testing.T) {
	p, err := NewPeakDischarge("", PeakDischargeConfig{FloorSOC: 20})
	require.NoError(t, err)
	ins := inputs(testBlocks(0.1, 0.1, 0.2, 0.2, 1.0, 1.0, 0.2, 0.2), 80, model.Forecast{})
	w, ok := p.Search(ins[0])
	require.True(t, ok)
	assert.Equal(t, 4, w.Start)
	assert.Equal(t, 6, w.End)
	assert.GreaterOrEqual(t, w.MinSOC, 20.0)

	ds := evaluateAll(t, p, ins)
	assert.Equal(t, model.ForceDischarge, ds[4].Mode)
	assert.Equal(t, model.ForceDischarge, ds[5].Mode)
	assert.Equal(t, model.SelfUse, ds[0].Mode)
	assert.Equal(t, model.SelfUse, ds[6].Mode)
}

func TestPeakDischargeKeepsFloor(t *testing.T) {
	p, err := NewPeakDischarge("", PeakDischargeConfig{FloorSOC: 20})
	require.NoError(t, err)
	ins := inputs(testBlocks(0.1, 0.1, 0.2, 0.2, 1.0, 1.0, 0.2, 0.2), 25, model.Forecast{})
	_, ok := p.Search(ins[0])
	assert.False(t, ok)
	for _, d := range evaluateAll(t, p, ins) {
		assert.Equal(t, model.SelfUse, d.Mode)
	}
}

func TestPeakDischargeStopsAtSolar(t *testing.T) {
	p, err := NewPeakDischarge("", PeakDischargeConfig{FloorSOC: 20})
	require.NoError(t, err)
	// Solar from block 3 cuts the horizon before the 1.0 peak.
	ins := inputs(testBlocks(0.3, 0.3, 0.3, 0.2, 1.0, 1.0), 80, model.Forecast{SolarKWh: []float64{0, 0, 0, 1, 1, 1}})
	w, ok := p.Search(ins[0])
	if ok {
		assert.LessOrEqual(t, w.End, 3)
	}
}

func TestUserOverride(t *testing.T) {
	u, err := NewUserOverride("", OverrideConfig{Slots: []OverrideSlot{
		{ID: "evening", Start: t0.Add(20 * time.Minute), End: t0.Add(40 * time.Minute), Mode: "BackUpMode"},
	}})
	require.NoError(t, err)
	ds := evaluateAll(t, u, inputs(testBlocks(1, 1, 1, 1), 50, model.Forecast{}))
	assert.Equal(t, uint8(0), ds[0].Priority)
	for _, i := range []int{1, 2} {
		assert.Equal(t, model.BackUpMode, ds[i].Mode)
		assert.Equal(t, uint8(100), ds[i].Priority)
		assert.Equal(t, "user_override:evening", ds[i].DecisionID)
	}
	assert.Equal(t, model.SelfUse, ds[3].Mode)

	_, err = NewUserOverride("", OverrideConfig{Slots: []OverrideSlot{{ID: "x", Start: t0, End: t0.Add(time.Hour), Mode: "Turbo"}}})
	assert.Error(t, err)
	_, err = NewUserOverride("", OverrideConfig{Slots: []OverrideSlot{{ID: "x", Start: t0, End: t0, Mode: "SelfUse"}}})
	assert.Error(t, err)
}

func TestSelfUseAndFunc(t *testing.T) {
	s := NewSelfUse("", SelfUseConfig{Priority: 5})
	d, err := s.Evaluate(context.Background(), inputs(testBlocks(1), 50, model.Forecast{})[0])
	require.NoError(t, err)
	assert.Equal(t, model.SelfUse, d.Mode)
	assert.Equal(t, uint8(5), d.Priority)

	f := Func{ID: "closure", Fn: func(_ context.Context, in Input) (model.StrategyDecision, error) {
		return decision("closure", in.Block, model.BackUpMode, 42, "test"), nil
	}}
	d, err = f.Evaluate(context.Background(), inputs(testBlocks(1), 50, model.Forecast{})[0])
	require.NoError(t, err)
	assert.Equal(t, "closure", f.Name())
	assert.Equal(t, model.BackUpMode, d.Mode)
}
