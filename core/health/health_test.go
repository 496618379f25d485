package health

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEvaluate(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	th := Thresholds{Soft: time.Hour, Hard: 4 * time.Hour}
	ok := Signals{PriceAsOf: now.Add(-10 * time.Minute), Connected: true, InverterSource: true, PriceSource: true}

	tests := []struct {
		name   string
		mutate func(*Signals)
		want   Status
	}{
		{"fresh", func(*Signals) {}, Healthy},
		{"soft stale", func(s *Signals) { s.PriceAsOf = now.Add(-2 * time.Hour) }, Degraded},
		{"hard stale", func(s *Signals) { s.PriceAsOf = now.Add(-5 * time.Hour) }, SafeMode},
		{"unknown age", func(s *Signals) { s.PriceAsOf = time.Time{} }, SafeMode},
		{"disconnected", func(s *Signals) { s.Connected = false }, SafeMode},
		{"no telemetry", func(s *Signals) { s.InverterSource = false }, SafeMode},
		{"soft error", func(s *Signals) { s.Errors = []error{errors.New("forecast missing")} }, Degraded},
		{"worst wins", func(s *Signals) {
			s.PriceAsOf = now.Add(-2 * time.Hour)
			s.Connected = false
		}, SafeMode},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := ok
			tc.mutate(&s)
			r := Evaluate(now, s, th)
			assert.Equal(t, tc.want, r.Status, r.String())
			if tc.want != Healthy {
				assert.NotEmpty(t, r.Reasons)
			}
		})
	}
}

func TestEvaluate_DefaultThresholds(t *testing.T) {
	now := time.Now()
	r := Evaluate(now, Signals{PriceAsOf: now.Add(-90 * time.Minute), Connected: true, InverterSource: true, PriceSource: true}, Thresholds{})
	assert.Equal(t, Degraded, r.Status)
}

func TestThresholdsValidate(t *testing.T) {
	assert.NoError(t, Thresholds{Soft: time.Hour, Hard: time.Hour}.Validate())
	assert.Error(t, Thresholds{Soft: 2 * time.Hour, Hard: time.Hour}.Validate())
	assert.Error(t, Thresholds{}.Validate())
}

func TestStatusText(t *testing.T) {
	b, err := SafeMode.MarshalText()
	assert.NoError(t, err)
	assert.Equal(t, "safe_mode", string(b))
	assert.Equal(t, "healthy", Healthy.String())
}
