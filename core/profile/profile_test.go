package profile

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kilianp07/fluxgo/core/model"
)

var t0 = time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)

func quarterBlocks(start time.Time, prices ...float64) []model.ScheduleBlock {
	out := make([]model.ScheduleBlock, len(prices))
	for i, p := range prices {
		out[i] = model.ScheduleBlock{Start: start.Add(time.Duration(i) * 15 * time.Minute), Duration: 15 * time.Minute, Price: p}
	}
	return out
}

func TestAnalyzeStatistics(t *testing.T) {
	p := Analyze(quarterBlocks(t0, 1, 2, 3, 4), Options{})
	assert.Equal(t, 4, p.Count)
	assert.InDelta(t, 2.5, p.Mean, 1e-9)
	assert.InDelta(t, math.Sqrt(1.25), p.StdDev, 1e-9)
	assert.InDelta(t, math.Sqrt(1.25)/2.5, p.CV, 1e-9)
	assert.Equal(t, 1.0, p.Min)
	assert.Equal(t, 4.0, p.Max)
	assert.Equal(t, 3.0, p.Spread)
	assert.Equal(t, 1.0, p.P25)
	assert.Equal(t, 2.0, p.Median)
	assert.Equal(t, 3.0, p.P75)
	assert.InDelta(t, 1.0, p.ConsumptionKWh, 1e-9, "fallback load of 1kW over one hour")
	assert.True(t, p.Volatile)
	assert.False(t, p.NegativePrices)
}

func TestAnalyzeFlagsAndOutlook(t *testing.T) {
	flat := Analyze(quarterBlocks(t0, 2, 2, 2, 2), Options{})
	assert.Zero(t, flat.CV)
	assert.False(t, flat.Volatile)
	assert.Equal(t, OutlookFlat, flat.Outlook())

	neg := Analyze(quarterBlocks(t0, 1, -0.2, 1, 1), Options{})
	assert.True(t, neg.NegativePrices)
	assert.Equal(t, OutlookNegativeRich, neg.Outlook())

	calm := Analyze(quarterBlocks(t0, 2, 2.2, 2.1, 2.3), Options{VolatileCV: 0.5})
	assert.Equal(t, OutlookNormal, calm.Outlook())
}

func TestAnalyzeNearZeroMeanHasNoCV(t *testing.T) {
	p := Analyze(quarterBlocks(t0, -1, 1, -1, 1), Options{})
	assert.Zero(t, p.CV)
	assert.True(t, p.NegativePrices)
}

func TestAnalyzeConsumptionForecast(t *testing.T) {
	blocks := quarterBlocks(t0, 1, 1, 1, 1)
	p := Analyze(blocks, Options{Consumption: []float64{0.5, 0.5, 0.5, 0.5}, Solar: []float64{0, 1, 1, 0}})
	assert.InDelta(t, 2.0, p.ConsumptionKWh, 1e-9)
	assert.InDelta(t, 2.0, p.SolarKWh, 1e-9)
	assert.InDelta(t, 1.0, p.SolarRatio(), 1e-9)

	partial := Analyze(blocks, Options{Consumption: []float64{0.4, 0.6}})
	assert.InDelta(t, 2.0, partial.ConsumptionKWh, 1e-9)
}

func TestAnalyzeEmpty(t *testing.T) {
	p := Analyze(nil, Options{})
	assert.Zero(t, p.Count)
	assert.Equal(t, OutlookFlat, p.Outlook())
}

func TestSplitTodayTomorrowAndCompare(t *testing.T) {
	start := time.Date(2024, 5, 10, 23, 30, 0, 0, time.UTC)
	blocks := quarterBlocks(start, 2, 2, 4, 4)
	today, tomorrow := SplitTodayTomorrow(blocks)
	assert.Len(t, today, 2)
	assert.Len(t, tomorrow, 2)

	c := Compare(blocks, Options{})
	assert.InDelta(t, 2.0, c.TomorrowRatio, 1e-9)
}

func TestPercentile(t *testing.T) {
	blocks := quarterBlocks(t0, 0.3, 0.05, 0.05, 0.3)
	assert.Equal(t, 0.05, Percentile(blocks, 0.25))
	assert.Equal(t, 0.3, Percentile(blocks, 1))
	assert.Zero(t, Percentile(nil, 0.5))
}
