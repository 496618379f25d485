package simulator

import (
	"github.com/kilianp07/fluxgo/core/model"
)

// DefaultLoadKWh is the per-block consumption assumed when no forecast is known.
const DefaultLoadKWh = 0.25

// StepsFor builds simulation steps for blocks[from:] using modes, which must
// have one entry per simulated block. Missing forecast entries fall back to
// DefaultLoadKWh scaled by block length and zero solar.
func StepsFor(blocks []model.ScheduleBlock, from int, modes []model.OperationMode, fc model.Forecast) []Step {
	steps := make([]Step, 0, len(modes))
	for j, m := range modes {
		i := from + j
		if i >= len(blocks) {
			break
		}
		b := blocks[i]
		load, ok := fc.Consumption(i)
		if !ok {
			load = DefaultLoadKWh * b.Duration.Minutes() / 15
		}
		export := fc.ExportPrice
		if export == 0 {
			export = b.Price
		}
		steps = append(steps, Step{
			Mode:        m,
			Duration:    b.Duration,
			SolarKWh:    fc.Solar(i),
			LoadKWh:     load,
			Price:       b.EffectivePrice,
			ExportPrice: export,
		})
	}
	return steps
}

// Uniform returns n copies of mode.
func Uniform(mode model.OperationMode, n int) []model.OperationMode {
	out := make([]model.OperationMode, n)
	for i := range out {
		out[i] = mode
	}
	return out
}
