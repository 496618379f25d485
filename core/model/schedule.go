package model

import "time"

// ScheduleEntry is one row of the schedule handed to the command executor.
type ScheduleEntry struct {
	BlockStart      time.Time     `json:"block_start"`
	DurationMinutes int           `json:"duration_minutes"`
	Mode            OperationMode `json:"mode"`
	Reason          string        `json:"reason"`
	Priority        uint8         `json:"priority"`
	StrategyName    string        `json:"strategy_name"`
	DecisionID      string        `json:"decision_id"`
	Price           float64       `json:"price"`
}

// Schedule is the output of one planning cycle.
type Schedule struct {
	CycleID     string          `json:"cycle_id"`
	GeneratedAt time.Time       `json:"generated_at"`
	Health      string          `json:"health"`
	Entries     []ScheduleEntry `json:"entries"`
}

// NewEntry converts a decided block into a schedule entry.
func NewEntry(b ScheduleBlock, d StrategyDecision) ScheduleEntry {
	return ScheduleEntry{
		BlockStart:      b.Start,
		DurationMinutes: int(b.Duration / time.Minute),
		Mode:            d.Mode,
		Reason:          d.Reason,
		Priority:        d.Priority,
		StrategyName:    d.StrategyName,
		DecisionID:      d.DecisionID,
		Price:           b.Price,
	}
}

// At returns the entry covering t.
func (s Schedule) At(t time.Time) (ScheduleEntry, bool) {
	for _, e := range s.Entries {
		end := e.BlockStart.Add(time.Duration(e.DurationMinutes) * time.Minute)
		if !t.Before(e.BlockStart) && t.Before(end) {
			return e, true
		}
	}
	return ScheduleEntry{}, false
}

// Empty reports whether the schedule has no entries.
func (s Schedule) Empty() bool { return len(s.Entries) == 0 }
