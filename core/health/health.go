// Package health derives the tri-state system health from freshness and
// connectivity signals. It is recomputed every cycle and never persisted.
package health

import (
	"fmt"
	"strings"
	"time"
)

// Status is the derived health of the engine.
type Status int

const (
	Healthy Status = iota
	// Degraded means price data is older than the soft threshold.
	Degraded
	// SafeMode means no connectivity or data older than the hard threshold.
	// The schedule is forced to SelfUse and no force command is sent.
	SafeMode
)

func (s Status) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	case SafeMode:
		return "safe_mode"
	default:
		return "unknown"
	}
}

// MarshalText encodes the status name.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Default staleness thresholds.
const (
	DefaultSoft = time.Hour
	DefaultHard = 4 * time.Hour
)

// Thresholds bound price data age.
type Thresholds struct {
	Soft time.Duration
	Hard time.Duration
}

// Validate checks 0 < Soft <= Hard.
func (t Thresholds) Validate() error {
	if t.Soft <= 0 || t.Hard <= 0 {
		return fmt.Errorf("health thresholds must be positive")
	}
	if t.Soft > t.Hard {
		return fmt.Errorf("soft threshold %s exceeds hard threshold %s", t.Soft, t.Hard)
	}
	return nil
}

// Signals are the inputs observed at cycle start.
type Signals struct {
	// PriceAsOf is when the price data was produced. Zero means unknown.
	PriceAsOf time.Time
	// Connected reports whether the command path to the inverters is up.
	Connected      bool
	InverterSource bool
	PriceSource    bool
	// Errors are non-fatal problems observed while collecting the inputs.
	Errors []error
}

// Report is the evaluated health with its reasons.
type Report struct {
	Status  Status        `json:"status"`
	Reasons []string      `json:"reasons,omitempty"`
	Age     time.Duration `json:"price_age_ns"`
	At      time.Time     `json:"at"`
}

// Evaluate derives the health at now. The worst condition wins.
func Evaluate(now time.Time, s Signals, th Thresholds) Report {
	if th.Soft <= 0 {
		th.Soft = DefaultSoft
	}
	if th.Hard <= 0 {
		th.Hard = DefaultHard
	}
	r := Report{Status: Healthy, At: now}
	raise := func(st Status, reason string) {
		if st > r.Status {
			r.Status = st
		}
		r.Reasons = append(r.Reasons, reason)
	}

	if !s.Connected {
		raise(SafeMode, "no connectivity")
	}
	if !s.PriceSource {
		raise(SafeMode, "price source unavailable")
	}
	if !s.InverterSource {
		raise(SafeMode, "battery telemetry unavailable")
	}
	if s.PriceAsOf.IsZero() {
		raise(SafeMode, "price data age unknown")
	} else {
		r.Age = now.Sub(s.PriceAsOf)
		switch {
		case r.Age > th.Hard:
			raise(SafeMode, fmt.Sprintf("price data %s old, hard limit %s", r.Age.Truncate(time.Second), th.Hard))
		case r.Age > th.Soft:
			raise(Degraded, fmt.Sprintf("price data %s old, soft limit %s", r.Age.Truncate(time.Second), th.Soft))
		}
	}
	for _, err := range s.Errors {
		if err != nil {
			raise(Degraded, err.Error())
		}
	}
	return r
}

// String renders the report on one line.
func (r Report) String() string {
	if len(r.Reasons) == 0 {
		return r.Status.String()
	}
	return r.Status.String() + ": " + strings.Join(r.Reasons, "; ")
}
