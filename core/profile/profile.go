// Package profile derives scalar statistics from a block sequence so that
// strategies can resolve their thresholds relative to the day's character.
package profile

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/kilianp07/fluxgo/core/model"
)

const (
	// DefaultVolatileCV is the coefficient of variation above which a day is volatile.
	DefaultVolatileCV = 0.35
	// DefaultFallbackLoadKW is used when no consumption forecast is supplied.
	DefaultFallbackLoadKW = 1.0
	// minMeanForCV avoids dividing by near-zero means.
	minMeanForCV = 0.01
)

// Outlook classifies the price shape of a horizon.
type Outlook string

const (
	OutlookFlat         Outlook = "flat"
	OutlookNormal       Outlook = "normal"
	OutlookVolatile     Outlook = "volatile"
	OutlookNegativeRich Outlook = "negative_rich"
)

// Options tune the analysis.
type Options struct {
	VolatileCV     float64
	FallbackLoadKW float64
	// Consumption is a per-block consumption forecast in kWh.
	Consumption []float64
	// Solar is a per-block solar forecast in kWh.
	Solar []float64
}

func (o *Options) setDefaults() {
	if o.VolatileCV <= 0 {
		o.VolatileCV = DefaultVolatileCV
	}
	if o.FallbackLoadKW <= 0 {
		o.FallbackLoadKW = DefaultFallbackLoadKW
	}
}

// Profile holds the statistics of one block slice.
type Profile struct {
	Count  int
	Mean   float64
	StdDev float64
	CV     float64
	Min    float64
	Max    float64
	Median float64
	P25    float64
	P75    float64
	// Spread is Max - Min.
	Spread float64

	ConsumptionKWh float64
	SolarKWh       float64
	// NegativeFraction is the share of blocks priced below zero.
	NegativeFraction float64

	Volatile       bool
	NegativePrices bool
}

// Analyze computes the profile of blocks. It is a pure function.
func Analyze(blocks []model.ScheduleBlock, opts Options) Profile {
	opts.setDefaults()
	var p Profile
	if len(blocks) == 0 {
		return p
	}
	prices := make([]float64, len(blocks))
	negatives := 0
	var hours float64
	for i, b := range blocks {
		prices[i] = b.Price
		if b.Price < 0 {
			negatives++
		}
		hours += b.Hours()
	}
	sorted := append([]float64(nil), prices...)
	sort.Float64s(sorted)

	p.Count = len(prices)
	p.Mean, p.StdDev = stat.PopMeanStdDev(prices, nil)
	if math.Abs(p.Mean) >= minMeanForCV {
		p.CV = p.StdDev / math.Abs(p.Mean)
	}
	p.Min = floats.Min(prices)
	p.Max = floats.Max(prices)
	p.Spread = p.Max - p.Min
	p.Median = stat.Quantile(0.5, stat.Empirical, sorted, nil)
	p.P25 = stat.Quantile(0.25, stat.Empirical, sorted, nil)
	p.P75 = stat.Quantile(0.75, stat.Empirical, sorted, nil)
	p.NegativeFraction = float64(negatives) / float64(len(prices))

	p.ConsumptionKWh = estimateConsumption(opts, len(blocks), hours)
	if len(opts.Solar) > 0 {
		p.SolarKWh = floats.Sum(opts.Solar)
	}

	p.Volatile = p.CV > opts.VolatileCV
	p.NegativePrices = negatives > 0
	return p
}

func estimateConsumption(opts Options, n int, hours float64) float64 {
	if len(opts.Consumption) == 0 {
		return opts.FallbackLoadKW * hours
	}
	if len(opts.Consumption) >= n {
		return floats.Sum(opts.Consumption[:n])
	}
	// Partial forecast: extend with the average of the known part.
	known := floats.Sum(opts.Consumption)
	avg := known / float64(len(opts.Consumption))
	return known + avg*float64(n-len(opts.Consumption))
}

// Outlook classifies the profile.
func (p Profile) Outlook() Outlook {
	switch {
	case p.Count == 0:
		return OutlookFlat
	case p.NegativeFraction >= 0.1:
		return OutlookNegativeRich
	case p.Volatile:
		return OutlookVolatile
	case p.CV < 0.05:
		return OutlookFlat
	default:
		return OutlookNormal
	}
}

// SolarRatio is the share of estimated consumption covered by solar.
func (p Profile) SolarRatio() float64 {
	if p.ConsumptionKWh <= 0 {
		return 0
	}
	return p.SolarKWh / p.ConsumptionKWh
}

// Percentile returns the empirical q-quantile (0..1) of block prices.
func Percentile(blocks []model.ScheduleBlock, q float64) float64 {
	if len(blocks) == 0 {
		return 0
	}
	sorted := make([]float64, len(blocks))
	for i, b := range blocks {
		sorted[i] = b.Price
	}
	sort.Float64s(sorted)
	return stat.Quantile(math.Min(math.Max(q, 0), 1), stat.Empirical, sorted, nil)
}

// SplitTodayTomorrow splits blocks at the first midnight after the first
// block, in the location of that block.
func SplitTodayTomorrow(blocks []model.ScheduleBlock) (today, tomorrow []model.ScheduleBlock) {
	if len(blocks) == 0 {
		return nil, nil
	}
	first := blocks[0].Start
	y, m, d := first.Date()
	midnight := time.Date(y, m, d+1, 0, 0, 0, 0, first.Location())
	for i, b := range blocks {
		if !b.Start.Before(midnight) {
			return blocks[:i], blocks[i:]
		}
	}
	return blocks, nil
}

// Comparison relates tomorrow's profile to today's.
type Comparison struct {
	Today    Profile
	Tomorrow Profile
	// TomorrowRatio is tomorrow's mean divided by today's, 0 when unknown.
	TomorrowRatio float64
}

// Compare analyzes today and tomorrow separately.
func Compare(blocks []model.ScheduleBlock, opts Options) Comparison {
	today, tomorrow := SplitTodayTomorrow(blocks)
	c := Comparison{
		Today:    Analyze(today, Options{VolatileCV: opts.VolatileCV, FallbackLoadKW: opts.FallbackLoadKW}),
		Tomorrow: Analyze(tomorrow, Options{VolatileCV: opts.VolatileCV, FallbackLoadKW: opts.FallbackLoadKW}),
	}
	if c.Tomorrow.Count > 0 && math.Abs(c.Today.Mean) >= minMeanForCV {
		c.TomorrowRatio = c.Tomorrow.Mean / c.Today.Mean
	}
	return c
}
