package model

import (
	"encoding/json"
	"fmt"
)

// OperationMode is the inverter working mode assigned to a block.
type OperationMode int

const (
	// SelfUse lets the inverter balance solar, load and battery on its own.
	SelfUse OperationMode = iota
	// ForceCharge charges the battery from the grid at the rate limit.
	ForceCharge
	// ForceDischarge discharges the battery to the grid at the rate limit.
	ForceDischarge
	// BackUpMode holds the current SOC.
	BackUpMode
	// NoChargeNoDischarge serves the load from the grid and leaves the battery untouched.
	NoChargeNoDischarge
)

var modeNames = map[OperationMode]string{
	SelfUse:             "SelfUse",
	ForceCharge:         "ForceCharge",
	ForceDischarge:      "ForceDischarge",
	BackUpMode:          "BackUpMode",
	NoChargeNoDischarge: "NoChargeNoDischarge",
}

// String returns the wire name of the mode.
func (m OperationMode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return "unknown"
}

// Valid reports whether m is one of the known modes.
func (m OperationMode) Valid() bool {
	_, ok := modeNames[m]
	return ok
}

// IsForce reports whether the mode moves energy against the grid on purpose.
func (m OperationMode) IsForce() bool {
	return m == ForceCharge || m == ForceDischarge
}

// ParseOperationMode converts a wire name into a mode.
func ParseOperationMode(s string) (OperationMode, error) {
	for m, name := range modeNames {
		if name == s {
			return m, nil
		}
	}
	return SelfUse, fmt.Errorf("unknown operation mode %q", s)
}

func (m OperationMode) MarshalJSON() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("invalid operation mode %d", int(m))
	}
	return json.Marshal(m.String())
}

func (m *OperationMode) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseOperationMode(s)
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// MarshalText lets modes be used as config values and map keys.
func (m OperationMode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("invalid operation mode %d", int(m))
	}
	return []byte(m.String()), nil
}

func (m *OperationMode) UnmarshalText(b []byte) error {
	v, err := ParseOperationMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}
