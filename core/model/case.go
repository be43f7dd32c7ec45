package model

import "time"

// CaseStatus enumerates the lifecycle states of a collection case.
type CaseStatus string

const (
	CaseNew       CaseStatus = "NEW"
	CaseMatching  CaseStatus = "MATCHING"
	CaseAssigned  CaseStatus = "ASSIGNED"
	CaseCollected CaseStatus = "COLLECTED"
	CaseDisposed  CaseStatus = "DISPOSED"
	CaseCancelled CaseStatus = "CANCELLED"
)

// Terminal reports whether no further transitions are possible from s.
func (s CaseStatus) Terminal() bool {
	return s == CaseDisposed || s == CaseCancelled
}

// CasePriority orders cases for operators. It does not affect matching.
type CasePriority string

const (
	PriorityLow    CasePriority = "LOW"
	PriorityNormal CasePriority = "NORMAL"
	PriorityHigh   CasePriority = "HIGH"
	PriorityUrgent CasePriority = "URGENT"
)

// Case is a waste-collection job to be matched or auctioned to a carrier.
type Case struct {
	ID                string       `json:"id"`
	CaseNumber        string       `json:"case_number,omitempty"`
	Site              Point        `json:"site"`
	WasteType         string       `json:"waste_type"`
	WasteCategory     string       `json:"waste_category,omitempty"`
	EstimatedWeightKg *float64     `json:"estimated_weight_kg,omitempty"`
	EstimatedVolumeM3 *float64     `json:"estimated_volume_m3,omitempty"`
	ScheduledDate     time.Time    `json:"scheduled_date"`
	Priority          CasePriority `json:"priority,omitempty"`
	Status            CaseStatus   `json:"status"`
	AutoAssign        bool         `json:"auto_assign"`
	AuctionEnabled    bool         `json:"auction_enabled"`
	AuctionStartAt    *time.Time   `json:"auction_start_at,omitempty"`
	AuctionEndAt      *time.Time   `json:"auction_end_at,omitempty"`
	AssignedCarrierID string       `json:"assigned_carrier_id,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// Assigned reports whether the case is held by a carrier. The carrier field
// must be set exactly in the ASSIGNED, COLLECTED and DISPOSED states.
func (c *Case) Assigned() bool {
	switch c.Status {
	case CaseAssigned, CaseCollected, CaseDisposed:
		return true
	}
	return false
}

// AuctionWindowOpen reports whether now falls inside the configured auction
// window. A missing bound is treated as unbounded on that side.
func (c *Case) AuctionWindowOpen(now time.Time) bool {
	if c.AuctionStartAt != nil && now.Before(*c.AuctionStartAt) {
		return false
	}
	if c.AuctionEndAt != nil && !now.Before(*c.AuctionEndAt) {
		return false
	}
	return true
}
