package model

import "fmt"

// BatteryModel describes the storage hardware for one planning cycle.
type BatteryModel struct {
	CapacityKWh    float64 `json:"capacity_kwh"`
	MaxChargeKW    float64 `json:"max_charge_kw"`
	MaxDischargeKW float64 `json:"max_discharge_kw"`
	// Efficiency is the round-trip efficiency in (0,1].
	Efficiency float64 `json:"efficiency"`
	// HardwareMinSOC is the absolute floor the inverter enforces.
	HardwareMinSOC float64 `json:"hardware_min_soc"`
	MinSOC         float64 `json:"min_soc"`
	MaxSOC         float64 `json:"max_soc"`
	WearCostPerKWh float64 `json:"wear_cost_per_kwh"`
}

// Validate checks the model is physically consistent.
func (b BatteryModel) Validate() error {
	if b.CapacityKWh <= 0 {
		return fmt.Errorf("battery capacity must be positive")
	}
	if b.MaxChargeKW <= 0 || b.MaxDischargeKW <= 0 {
		return fmt.Errorf("battery rate limits must be positive")
	}
	if b.Efficiency <= 0 || b.Efficiency > 1 {
		return fmt.Errorf("battery efficiency must be in (0,1], got %v", b.Efficiency)
	}
	if b.HardwareMinSOC < 0 || b.HardwareMinSOC > b.MinSOC {
		return fmt.Errorf("hardware min soc %v must be within [0, min soc %v]", b.HardwareMinSOC, b.MinSOC)
	}
	if b.MinSOC > b.MaxSOC || b.MaxSOC > 100 {
		return fmt.Errorf("soc bounds invalid: min %v max %v", b.MinSOC, b.MaxSOC)
	}
	return nil
}

// KWhToPercent converts an energy amount to SOC percentage points.
func (b BatteryModel) KWhToPercent(kwh float64) float64 {
	return kwh / b.CapacityKWh * 100
}

// PercentToKWh converts SOC percentage points to energy.
func (b BatteryModel) PercentToKWh(pct float64) float64 {
	return pct / 100 * b.CapacityKWh
}

// CycleCost returns the wear cost plus the efficiency loss of moving kwh
// through the battery at price.
func (b BatteryModel) CycleCost(kwh, price float64) float64 {
	loss := kwh * (1 - b.Efficiency) * price
	if loss < 0 {
		loss = -loss
	}
	return kwh*b.WearCostPerKWh + loss
}

// BatteryState is the simulation cursor.
type BatteryState struct {
	SOC float64 `json:"soc"`
}
