package model

import "time"

// BidStatus enumerates the states of an auction bid. AWARDED exists for data
// contract parity with upstream systems; the award flow writes WON.
type BidStatus string

const (
	BidSubmitted BidStatus = "SUBMITTED"
	BidAwarded   BidStatus = "AWARDED"
	BidWon       BidStatus = "WON"
	BidCancelled BidStatus = "CANCELLED"
)

// Bid is a carrier's offer to perform a case. This is a reverse auction: the
// lowest amount wins. At most one non-cancelled bid may exist per
// (case, carrier) pair; resubmission updates the existing row.
type Bid struct {
	ID        string    `json:"id"`
	CaseID    string    `json:"case_id"`
	CarrierID string    `json:"carrier_id"`
	Amount    float64   `json:"amount"`
	Message   string    `json:"message,omitempty"`
	Status    BidStatus `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Candidate is a cached matching result entry for a case. The full carrier
// record is not embedded; candidates are re-validated before assignment.
type Candidate struct {
	CarrierID string   `json:"carrier_id"`
	Score     float64  `json:"score"`
	Reasons   []string `json:"reasons,omitempty"`
}
