// Package simulator emulates an inverter and its battery on MQTT. It applies
// the commanded mode, acknowledges commands and publishes the SOC the engine
// reads as telemetry.
package simulator

import (
	"sync"
	"time"

	"github.com/kilianp07/fluxgo/core/model"
	coresim "github.com/kilianp07/fluxgo/core/simulator"
)

// Battery holds the simulated state of charge.
type Battery struct {
	mu    sync.Mutex
	model model.BatteryModel
	soc   float64
	mode  model.OperationMode
}

// NewBattery starts at soc percent in SelfUse.
func NewBattery(bm model.BatteryModel, soc float64) *Battery {
	return &Battery{model: bm, soc: soc, mode: model.SelfUse}
}

// SetMode applies a commanded mode.
func (b *Battery) SetMode(m model.OperationMode) {
	b.mu.Lock()
	b.mode = m
	b.mu.Unlock()
}

// Mode returns the active mode.
func (b *Battery) Mode() model.OperationMode {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mode
}

// SOC returns the state of charge in percent.
func (b *Battery) SOC() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.soc
}

// Advance runs the active mode for dt with a constant house load.
func (b *Battery) Advance(dt time.Duration, loadKW float64) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if dt <= 0 {
		return b.soc
	}
	res := coresim.Simulate(model.BatteryState{SOC: b.soc}, b.model, []coresim.Step{{
		Mode:     b.mode,
		Duration: dt,
		LoadKWh:  loadKW * dt.Hours(),
	}})
	b.soc = res.FinalSOC()
	return b.soc
}
