// Package audit persists an append-only record of assignment decisions:
// status transitions, bids and awards. Records are queryable for
// explainability; they are never updated or deleted.
package audit

import (
	"context"
	"time"
)

// Actions written by the engine.
const (
	ActionStatusChanged = "status_changed"
	ActionBidSubmitted  = "bid_submitted"
	ActionBidCancelled  = "bid_cancelled"
	ActionAuctionClosed = "auction_closed"
	ActionCaseAssigned  = "case_assigned"
	ActionMatchingRun   = "matching_run"
)

// Record captures one assignment decision.
type Record struct {
	Timestamp time.Time      `json:"timestamp"`
	CaseID    string         `json:"case_id"`
	Action    string         `json:"action"`
	Actor     string         `json:"actor,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// Query defines filters for retrieving records.
type Query struct {
	Start  time.Time
	End    time.Time
	CaseID string
	Action string
}

func (q Query) matches(r Record) bool {
	if !q.Start.IsZero() && r.Timestamp.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && r.Timestamp.After(q.End) {
		return false
	}
	if q.CaseID != "" && r.CaseID != q.CaseID {
		return false
	}
	if q.Action != "" && r.Action != q.Action {
		return false
	}
	return true
}

// Store persists Records and supports querying.
type Store interface {
	Append(ctx context.Context, rec Record) error
	Query(ctx context.Context, q Query) ([]Record, error)
	Close() error
}

// NopStore discards records. Used when auditing is disabled.
type NopStore struct{}

func (NopStore) Append(context.Context, Record) error          { return nil }
func (NopStore) Query(context.Context, Query) ([]Record, error) { return nil, nil }
func (NopStore) Close() error                                  { return nil }
