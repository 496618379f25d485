package model

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"
)

func TestParseOperationMode(t *testing.T) {
	m, err := ParseOperationMode("NoChargeNoDischarge")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if m != NoChargeNoDischarge {
		t.Fatalf("expected NoChargeNoDischarge got %v", m)
	}
	if _, err := ParseOperationMode("Turbo"); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestOperationModeJSONRejectsUnknown(t *testing.T) {
	var m OperationMode
	if err := json.Unmarshal([]byte(`"ForceDischarge"`), &m); err != nil || m != ForceDischarge {
		t.Fatalf("unexpected %v %v", m, err)
	}
	if err := json.Unmarshal([]byte(`"force_discharge"`), &m); err == nil {
		t.Fatal("expected error for snake case mode")
	}
	if _, err := json.Marshal(OperationMode(42)); err == nil {
		t.Fatal("expected error for invalid mode")
	}
}

func TestBatteryModelValidate(t *testing.T) {
	ok := BatteryModel{CapacityKWh: 10, MaxChargeKW: 5, MaxDischargeKW: 5, Efficiency: 0.95, HardwareMinSOC: 5, MinSOC: 10, MaxSOC: 100}
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid model rejected: %v", err)
	}
	checks := []struct {
		name string
		mod  func(*BatteryModel)
	}{
		{"capacity", func(b *BatteryModel) { b.CapacityKWh = 0 }},
		{"efficiency", func(b *BatteryModel) { b.Efficiency = 1.2 }},
		{"hardware floor above min", func(b *BatteryModel) { b.HardwareMinSOC = 20 }},
		{"min above max", func(b *BatteryModel) { b.MinSOC = 90; b.MaxSOC = 80 }},
		{"rate", func(b *BatteryModel) { b.MaxDischargeKW = 0 }},
	}
	for _, c := range checks {
		b := ok
		c.mod(&b)
		if err := b.Validate(); err == nil {
			t.Errorf("%s: expected error", c.name)
		}
	}
}

func TestBatteryModelCycleCost(t *testing.T) {
	b := BatteryModel{Efficiency: 0.9, WearCostPerKWh: 0.02}
	if got := b.CycleCost(2, 0.1); math.Abs(got-0.06) > 1e-9 {
		t.Fatalf("cycle cost = %v, want 0.06", got)
	}
	// Losses are a cost even when the price is negative.
	if got := b.CycleCost(1, -0.1); math.Abs(got-0.03) > 1e-9 {
		t.Fatalf("cycle cost at negative price = %v, want 0.03", got)
	}
}

func TestScheduleAt(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	s := Schedule{Entries: []ScheduleEntry{
		{BlockStart: start, DurationMinutes: 15, Mode: ForceCharge},
		{BlockStart: start.Add(15 * time.Minute), DurationMinutes: 15, Mode: SelfUse},
	}}
	e, ok := s.At(start.Add(20 * time.Minute))
	if !ok || e.Mode != SelfUse {
		t.Fatalf("unexpected entry %+v ok=%v", e, ok)
	}
	if _, ok := s.At(start.Add(time.Hour)); ok {
		t.Fatal("expected no entry past the horizon")
	}
}

func TestInputErrorUnwrap(t *testing.T) {
	err := error(&InputError{Reason: "empty series", Err: ErrInsufficientData})
	if !errors.Is(err, ErrInsufficientData) {
		t.Fatal("expected errors.Is to match ErrInsufficientData")
	}
	var ie *InputError
	if !errors.As(err, &ie) {
		t.Fatal("expected errors.As to match InputError")
	}
}
