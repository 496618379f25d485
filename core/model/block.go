package model

import "time"

// PricePoint is one interval of a price series. Prices may be negative.
type PricePoint struct {
	Start    time.Time     `json:"start"`
	Duration time.Duration `json:"duration"`
	Price    float64       `json:"price"`
}

// End returns the exclusive end of the interval.
func (p PricePoint) End() time.Time { return p.Start.Add(p.Duration) }

// ScheduleBlock is the atomic planning unit. Blocks are rebuilt every cycle.
type ScheduleBlock struct {
	Start    time.Time
	Duration time.Duration
	Price    float64
	// EffectivePrice is the spot price plus the configured grid fee.
	EffectivePrice float64
	// Note records a deviation from the target duration.
	Note     string
	Decision *StrategyDecision
}

// End returns the exclusive end of the block.
func (b ScheduleBlock) End() time.Time { return b.Start.Add(b.Duration) }

// Contains reports whether t falls inside the block.
func (b ScheduleBlock) Contains(t time.Time) bool {
	return !t.Before(b.Start) && t.Before(b.End())
}

// Hours returns the block duration in hours.
func (b ScheduleBlock) Hours() float64 { return b.Duration.Hours() }

// Forecast carries per-block solar and consumption estimates aligned with the
// block sequence. Missing entries are treated as unknown.
type Forecast struct {
	SolarKWh       []float64 `json:"solar_kwh"`
	ConsumptionKWh []float64 `json:"consumption_kwh"`
	ExportPrice    float64   `json:"grid_export_price"`
}

// Solar returns the solar estimate for block i, or 0 when unknown.
func (f Forecast) Solar(i int) float64 {
	if i < 0 || i >= len(f.SolarKWh) {
		return 0
	}
	return f.SolarKWh[i]
}

// Consumption returns the consumption estimate for block i and whether it is known.
func (f Forecast) Consumption(i int) (float64, bool) {
	if i < 0 || i >= len(f.ConsumptionKWh) {
		return 0, false
	}
	return f.ConsumptionKWh[i], true
}

// Historical holds consumption hints for the current day.
type Historical struct {
	GridImportTodayKWh  *float64 `json:"grid_import_today_kwh,omitempty"`
	ConsumptionTodayKWh *float64 `json:"consumption_today_kwh,omitempty"`
}
