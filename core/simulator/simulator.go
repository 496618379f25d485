package simulator

import (
	"math"
	"time"

	"github.com/kilianp07/fluxgo/core/model"
)

// Epsilon is the energy difference, in kWh, below which a clamp is not a violation.
const Epsilon = 1e-6

// Step is one block of a tentative plan.
type Step struct {
	Mode     model.OperationMode
	Duration time.Duration
	// AllowHardwareFloor lets ForceDischarge go below MinSOC down to HardwareMinSOC.
	AllowHardwareFloor bool
	// RequestKWh overrides the rate-limited transfer request when positive.
	RequestKWh  float64
	SolarKWh    float64
	LoadKWh     float64
	Price       float64
	ExportPrice float64
}

// BlockEnergy is the realized energy of one step.
type BlockEnergy struct {
	GridImportKWh float64
	GridExportKWh float64
	// ChargedKWh is the energy stored in the battery.
	ChargedKWh float64
	// DischargedKWh is the energy drawn from the battery.
	DischargedKWh float64
	Cost          float64
}

// Violation records a requested transfer the battery bounds did not allow.
type Violation struct {
	Index        int
	Mode         model.OperationMode
	RequestedKWh float64
	AppliedKWh   float64
	Bound        string
}

// Result is the outcome of a simulation.
type Result struct {
	// Trajectory holds the SOC before the first step and after each step.
	Trajectory []float64
	Energy     []BlockEnergy
	Violations []Violation
}

// Valid reports whether the plan ran without violations.
func (r Result) Valid() bool { return len(r.Violations) == 0 }

// FinalSOC returns the SOC after the last step.
func (r Result) FinalSOC() float64 {
	if len(r.Trajectory) == 0 {
		return 0
	}
	return r.Trajectory[len(r.Trajectory)-1]
}

// TotalCost sums the cost of every step. Negative values are profit.
func (r Result) TotalCost() float64 {
	var c float64
	for _, e := range r.Energy {
		c += e.Cost
	}
	return c
}

// MinSOC returns the lowest SOC reached along the trajectory.
func (r Result) MinSOC() float64 {
	if len(r.Trajectory) == 0 {
		return 0
	}
	m := r.Trajectory[0]
	for _, s := range r.Trajectory[1:] {
		m = math.Min(m, s)
	}
	return m
}

// Simulate runs steps from the initial state.
func Simulate(initial model.BatteryState, bm model.BatteryModel, steps []Step) Result {
	res := Result{
		Trajectory: make([]float64, 0, len(steps)+1),
		Energy:     make([]BlockEnergy, 0, len(steps)),
	}
	soc := initial.SOC
	upper := bm.MaxSOC
	if soc > upper || soc < bm.HardwareMinSOC {
		clamped := math.Min(math.Max(soc, bm.HardwareMinSOC), upper)
		res.Violations = append(res.Violations, Violation{
			Index:        -1,
			RequestedKWh: bm.PercentToKWh(soc),
			AppliedKWh:   bm.PercentToKWh(clamped),
			Bound:        "initial_soc",
		})
		soc = clamped
	}
	res.Trajectory = append(res.Trajectory, soc)

	for i, s := range steps {
		var e BlockEnergy
		var v *Violation
		soc, e, v = step(soc, bm, s)
		if v != nil {
			v.Index = i
			res.Violations = append(res.Violations, *v)
		}
		res.Trajectory = append(res.Trajectory, soc)
		res.Energy = append(res.Energy, e)
	}
	return res
}

func step(soc float64, bm model.BatteryModel, s Step) (float64, BlockEnergy, *Violation) {
	hours := s.Duration.Hours()
	var e BlockEnergy
	var v *Violation
	net := s.SolarKWh - s.LoadKWh

	switch s.Mode {
	case model.ForceCharge:
		request := bm.MaxChargeKW * hours
		if s.RequestKWh > 0 {
			request = s.RequestKWh
		}
		// Request is measured at the grid side; only the stored part counts
		// against headroom.
		headroom := math.Max(0, bm.PercentToKWh(bm.MaxSOC-soc))
		stored := math.Min(request*bm.Efficiency, headroom)
		if request*bm.Efficiency-stored > Epsilon {
			v = &Violation{Mode: s.Mode, RequestedKWh: request, AppliedKWh: stored / bm.Efficiency, Bound: "max_soc"}
		}
		e.ChargedKWh = stored
		gridIn := stored / bm.Efficiency
		// Solar covers load first, then offsets grid charging.
		flowGrid(&e, gridIn-net)
		soc += bm.KWhToPercent(stored)

	case model.ForceDischarge:
		request := bm.MaxDischargeKW * hours
		if s.RequestKWh > 0 {
			request = s.RequestKWh
		}
		floor, bound := bm.MinSOC, "min_soc"
		if s.AllowHardwareFloor {
			floor, bound = bm.HardwareMinSOC, "hardware_min_soc"
		}
		headroom := math.Max(0, bm.PercentToKWh(soc-floor))
		drawn := math.Min(request, headroom)
		if request-drawn > Epsilon {
			v = &Violation{Mode: s.Mode, RequestedKWh: request, AppliedKWh: drawn, Bound: bound}
		}
		e.DischargedKWh = drawn
		flowGrid(&e, -(drawn + net))
		soc -= bm.KWhToPercent(drawn)

	case model.SelfUse:
		if net > 0 {
			room := math.Max(0, bm.PercentToKWh(bm.MaxSOC-soc))
			in := math.Min(net, bm.MaxChargeKW*hours)
			stored := math.Min(in*bm.Efficiency, room)
			e.ChargedKWh = stored
			flowGrid(&e, -(net - stored/bm.Efficiency))
			soc += bm.KWhToPercent(stored)
		} else {
			avail := math.Max(0, bm.PercentToKWh(soc-bm.MinSOC))
			drawn := math.Min(math.Min(-net, bm.MaxDischargeKW*hours), avail)
			e.DischargedKWh = drawn
			flowGrid(&e, -net-drawn)
			soc -= bm.KWhToPercent(drawn)
		}

	default:
		// BackUpMode and NoChargeNoDischarge leave the battery untouched.
		flowGrid(&e, -net)
	}

	soc = math.Min(math.Max(soc, bm.HardwareMinSOC), bm.MaxSOC)
	e.Cost = e.GridImportKWh*s.Price - e.GridExportKWh*s.ExportPrice +
		(e.ChargedKWh+e.DischargedKWh)*bm.WearCostPerKWh
	return soc, e, v
}

// flowGrid books a signed grid exchange: positive imports, negative exports.
func flowGrid(e *BlockEnergy, kwh float64) {
	if kwh >= 0 {
		e.GridImportKWh = kwh
	} else {
		e.GridExportKWh = -kwh
	}
}
