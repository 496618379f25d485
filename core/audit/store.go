// Package audit persists the decision trail of the engine: merged decisions,
// fallbacks, safety violations, deferrals, plugin health changes and aborted
// cycles. Every record carries enough context to tell why a mode was chosen
// or refused.
package audit

import (
	"context"
	"time"
)

// Kind classifies an audit record.
type Kind string

const (
	KindDecision   Kind = "decision"
	KindCommand    Kind = "command"
	KindFallback   Kind = "fallback"
	KindViolation  Kind = "violation"
	KindDeferral   Kind = "deferral"
	KindPlugin     Kind = "plugin"
	KindCycleAbort Kind = "cycle_abort"
)

// Record is one audit entry.
type Record struct {
	Timestamp  time.Time `json:"timestamp"`
	Kind       Kind      `json:"kind"`
	CycleID    string    `json:"cycle_id,omitempty"`
	Strategy   string    `json:"strategy,omitempty"`
	BlockStart time.Time `json:"block_start,omitempty"`
	Inverter   string    `json:"inverter,omitempty"`
	Mode       string    `json:"mode,omitempty"`
	Constraint string    `json:"constraint,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	DecisionID string    `json:"decision_id,omitempty"`
}

// Query defines filters for retrieving records. Zero values match everything.
type Query struct {
	Start    time.Time
	End      time.Time
	Kind     Kind
	Strategy string
	Inverter string
	// Limit keeps the most recent records when positive.
	Limit int
}

// Match reports whether r passes the filters of q, ignoring Limit.
func (q Query) Match(r Record) bool {
	if !q.Start.IsZero() && r.Timestamp.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && r.Timestamp.After(q.End) {
		return false
	}
	if q.Kind != "" && r.Kind != q.Kind {
		return false
	}
	if q.Strategy != "" && r.Strategy != q.Strategy {
		return false
	}
	if q.Inverter != "" && r.Inverter != q.Inverter {
		return false
	}
	return true
}

func (q Query) limit(recs []Record) []Record {
	if q.Limit > 0 && len(recs) > q.Limit {
		return recs[len(recs)-q.Limit:]
	}
	return recs
}

// Store persists Records and supports querying.
type Store interface {
	Append(ctx context.Context, rec Record) error
	Query(ctx context.Context, q Query) ([]Record, error)
	Close() error
}
