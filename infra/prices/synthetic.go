package prices

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/fluxgo/core/engine"
	"github.com/kilianp07/fluxgo/core/model"
)

// SyntheticConfig shapes a generated day-ahead curve with a morning and an
// evening peak and a midday dip.
type SyntheticConfig struct {
	Seed         int64   `json:"seed"`
	BasePrice    float64 `json:"base_price"`
	PeakPrice    float64 `json:"peak_price"`
	JitterPct    float64 `json:"jitter_pct"`
	HorizonHours int     `json:"horizon_hours"`
	StepMinutes  int     `json:"step_minutes"`
}

// SetDefaults applies sane defaults.
func (c *SyntheticConfig) SetDefaults() {
	if c.BasePrice == 0 {
		c.BasePrice = 0.12
	}
	if c.PeakPrice == 0 {
		c.PeakPrice = 0.35
	}
	if c.HorizonHours == 0 {
		c.HorizonHours = 24
	}
	if c.StepMinutes == 0 {
		c.StepMinutes = 15
	}
}

var syntheticSnapshots = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "fluxgo_synthetic_price_snapshots_total",
	Help: "Synthetic price snapshots generated",
})

func init() {
	prometheus.MustRegister(syntheticSnapshots)
}

// SyntheticSource generates prices for demos and the inverter simulator. The
// curve starts at the current hour and is stable within that hour.
type SyntheticSource struct {
	cfg SyntheticConfig
	now func() time.Time
}

// NewSyntheticSource returns a generator for cfg.
func NewSyntheticSource(cfg SyntheticConfig) *SyntheticSource {
	cfg.SetDefaults()
	return &SyntheticSource{cfg: cfg, now: time.Now}
}

func (s *SyntheticSource) Fetch(context.Context) (engine.Snapshot, error) {
	now := s.now().UTC()
	start := now.Truncate(time.Hour)
	return s.Generate(start, now), nil
}

// Generate builds the curve starting at start.
func (s *SyntheticSource) Generate(start, asOf time.Time) engine.Snapshot {
	rng := rand.New(rand.NewSource(s.cfg.Seed ^ start.Unix()))
	step := time.Duration(s.cfg.StepMinutes) * time.Minute
	n := int(time.Duration(s.cfg.HorizonHours) * time.Hour / step)
	points := make([]model.PricePoint, n)
	for i := range points {
		t := start.Add(time.Duration(i) * step)
		h := float64(t.Hour()) + float64(t.Minute())/60
		p := s.cfg.BasePrice + (s.cfg.PeakPrice-s.cfg.BasePrice)*shape(h)
		p *= 1 + (rng.Float64()*2-1)*s.cfg.JitterPct
		points[i] = model.PricePoint{Start: t, Duration: step, Price: math.Round(p*1e5) / 1e5}
	}
	syntheticSnapshots.Inc()
	return engine.Snapshot{Prices: points, AsOf: asOf, Version: "synthetic-" + start.Format(time.RFC3339)}
}

func shape(h float64) float64 {
	bump := func(center, width float64) float64 {
		d := h - center
		return math.Exp(-d * d / (2 * width * width))
	}
	return bump(19, 1.5) + 0.5*bump(8, 1.5) - 0.3*bump(13, 2)
}
