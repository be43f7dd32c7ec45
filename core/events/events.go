// Package events defines the domain events published on the engine bus.
// Notification and manifest collaborators consume these; the engine never
// calls them directly.
package events

import "time"

// Event is implemented by every domain event.
type Event interface {
	// Kind returns a stable machine-readable event name.
	Kind() string
	// Case returns the id of the case the event concerns.
	Case() string
}

// StatusChanged is published after every validated status transition.
type StatusChanged struct {
	CaseID string    `json:"case_id"`
	From   string    `json:"from"`
	To     string    `json:"to"`
	Actor  string    `json:"actor,omitempty"`
	Reason string    `json:"reason,omitempty"`
	Time   time.Time `json:"time"`
}

func (e StatusChanged) Kind() string { return "status_changed" }
func (e StatusChanged) Case() string { return e.CaseID }

// BidSubmitted is published on every accepted bid, including resubmissions.
type BidSubmitted struct {
	CaseID       string    `json:"case_id"`
	CarrierID    string    `json:"carrier_id"`
	BidID        string    `json:"bid_id"`
	Amount       float64   `json:"amount"`
	Resubmission bool      `json:"resubmission"`
	Time         time.Time `json:"time"`
}

func (e BidSubmitted) Kind() string { return "bid_submitted" }
func (e BidSubmitted) Case() string { return e.CaseID }

// MatchingCompleted is published when a matching task finishes.
type MatchingCompleted struct {
	CaseID     string    `json:"case_id"`
	Candidates int       `json:"candidates"`
	TopScore   float64   `json:"top_score,omitempty"`
	Time       time.Time `json:"time"`
}

func (e MatchingCompleted) Kind() string { return "matching_completed" }
func (e MatchingCompleted) Case() string { return e.CaseID }

// AuctionClosed is published when an auction close produced a winner.
type AuctionClosed struct {
	CaseID       string    `json:"case_id"`
	WinningBidID string    `json:"winning_bid_id"`
	BidCount     int       `json:"bid_count"`
	Time         time.Time `json:"time"`
}

func (e AuctionClosed) Kind() string { return "auction_closed" }
func (e AuctionClosed) Case() string { return e.CaseID }

// CaseAssigned is the assignment event of the engine: exactly one is
// published per successful award, whether by auction, auto-assignment or an
// operator.
type CaseAssigned struct {
	CaseID    string    `json:"case_id"`
	CarrierID string    `json:"carrier_id"`
	BidID     string    `json:"bid_id,omitempty"`
	Amount    float64   `json:"amount,omitempty"`
	Method    string    `json:"method"` // auction, auto or manual
	Time      time.Time `json:"time"`
}

func (e CaseAssigned) Kind() string { return "case_assigned" }
func (e CaseAssigned) Case() string { return e.CaseID }
