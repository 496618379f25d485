package events

import "time"

// CycleEvent is published at the end of every planning cycle.
type CycleEvent struct {
	CycleID   string
	Trigger   string
	StartedAt time.Time
	Duration  time.Duration
	Blocks    int
	Health    string
	// Err is set when the cycle aborted and the previous schedule stays in effect.
	Err error
}

// FallbackEvent is published when a strategy result is substituted.
type FallbackEvent struct {
	CycleID  string
	Strategy string
	Block    time.Time
	Reason   string
	Timeout  bool
}
