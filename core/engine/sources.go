package engine

import (
	"context"
	"time"

	"github.com/kilianp07/fluxgo/core/governor"
	"github.com/kilianp07/fluxgo/core/logger"
	"github.com/kilianp07/fluxgo/core/model"
)

// Snapshot is the price and forecast input of one cycle.
type Snapshot struct {
	Prices []model.PricePoint
	// AsOf is when the prices were produced; it drives staleness.
	AsOf time.Time
	// Version changes whenever the price data changes.
	Version    string
	Forecast   model.Forecast
	Historical model.Historical
}

// Telemetry is the battery state read once at cycle start.
type Telemetry struct {
	State   model.BatteryState
	Battery model.BatteryModel
	// Available is false when the reading is a fallback rather than live data.
	Available bool
}

// PriceSource provides price snapshots.
type PriceSource interface {
	Fetch(ctx context.Context) (Snapshot, error)
}

// TelemetrySource provides the battery state at cycle start.
type TelemetrySource interface {
	Read(ctx context.Context) (Telemetry, error)
}

// Executor carries schedules and commands to the inverters. It translates
// modes into vendor writes and never re-derives decisions.
type Executor interface {
	Publish(ctx context.Context, s model.Schedule) error
	Command(ctx context.Context, cmd governor.Command) error
}

// Connectivity is implemented by executors that can report their link state.
type Connectivity interface {
	Connected() bool
}

// StaticTelemetry always returns the same reading.
type StaticTelemetry struct {
	Telemetry Telemetry
}

func (s StaticTelemetry) Read(context.Context) (Telemetry, error) { return s.Telemetry, nil }

// StaticPrices always returns the same snapshot.
type StaticPrices struct {
	Snapshot Snapshot
}

func (s StaticPrices) Fetch(context.Context) (Snapshot, error) { return s.Snapshot, nil }

// LogExecutor logs schedules and commands instead of sending them.
type LogExecutor struct {
	Log logger.Logger
}

func (e LogExecutor) Publish(_ context.Context, s model.Schedule) error {
	if e.Log != nil {
		e.Log.Infof("schedule %s: %d blocks, health %s", s.CycleID, len(s.Entries), s.Health)
	}
	return nil
}

func (e LogExecutor) Command(_ context.Context, cmd governor.Command) error {
	if e.Log != nil {
		e.Log.Infof("command %s: %s %s -> %s (%s)", cmd.ID, cmd.Inverter, cmd.Previous, cmd.Mode, cmd.Reason)
	}
	return nil
}

func (LogExecutor) Connected() bool { return true }
