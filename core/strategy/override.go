package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/kilianp07/fluxgo/core/model"
)

// OverrideSlot pins a mode for a fixed time range.
type OverrideSlot struct {
	ID    string    `json:"id"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Mode  string    `json:"mode"`
}

// OverrideConfig lists the user slots.
type OverrideConfig struct {
	Slots []OverrideSlot `json:"slots"`
}

type slot struct {
	OverrideSlot
	mode model.OperationMode
}

// UserOverride returns the user's fixed mode at maximum priority for blocks
// overlapping a slot.
type UserOverride struct {
	name  string
	slots []slot
}

// NewUserOverride validates slots and returns the strategy.
func NewUserOverride(name string, cfg OverrideConfig) (*UserOverride, error) {
	if name == "" {
		name = "user_override"
	}
	u := &UserOverride{name: name}
	for i, s := range cfg.Slots {
		if s.ID == "" {
			return nil, fmt.Errorf("override slot %d: id is required", i)
		}
		if !s.End.After(s.Start) {
			return nil, fmt.Errorf("override slot %s: end must be after start", s.ID)
		}
		m, err := model.ParseOperationMode(s.Mode)
		if err != nil {
			return nil, fmt.Errorf("override slot %s: %w", s.ID, err)
		}
		u.slots = append(u.slots, slot{OverrideSlot: s, mode: m})
	}
	return u, nil
}

func (u *UserOverride) Name() string { return u.name }

func (u *UserOverride) Evaluate(_ context.Context, in Input) (model.StrategyDecision, error) {
	for _, s := range u.slots {
		if in.Block.Start.Before(s.End) && in.Block.End().After(s.Start) {
			return model.StrategyDecision{
				BlockStart:   in.Block.Start,
				Duration:     in.Block.Duration,
				Mode:         s.mode,
				Priority:     100,
				Reason:       fmt.Sprintf("user override %s", s.ID),
				Confidence:   model.Float(1),
				DecisionID:   "user_override:" + s.ID,
				StrategyName: u.name,
			}, nil
		}
	}
	d := Neutral(u.name, in.Block, "no user override")
	d.Priority = 0
	return d, nil
}
