// Package store declares the persistence interfaces the engine depends on.
// Implementations live under infra/store; the engine never assumes a storage
// schema.
package store

import (
	"context"

	"github.com/hfujita/wastematch/core/model"
)

// CaseStore persists cases. Get returns a NOT_FOUND domain error for absent
// ids. Save overwrites the full record.
type CaseStore interface {
	Get(ctx context.Context, id string) (*model.Case, error)
	Save(ctx context.Context, c *model.Case) (*model.Case, error)
	// ListOpenAuctions returns cases with auctions enabled that are still in
	// MATCHING. Used by the auction watchdog.
	ListOpenAuctions(ctx context.Context) ([]model.Case, error)
}

// CarrierStore provides read access to carrier records.
type CarrierStore interface {
	Get(ctx context.Context, id string) (*model.Carrier, error)
	ListActive(ctx context.Context) ([]model.Carrier, error)
}

// BidStore persists bids. Bids are never deleted.
type BidStore interface {
	Get(ctx context.Context, id string) (*model.Bid, error)
	FindByCase(ctx context.Context, caseID string) ([]model.Bid, error)
	// FindByCarrierAndCase returns the non-cancelled bid for the pair, or
	// (nil, nil) when none exists.
	FindByCarrierAndCase(ctx context.Context, carrierID, caseID string) (*model.Bid, error)
	Save(ctx context.Context, b *model.Bid) (*model.Bid, error)
}

// MatchStore caches the latest ranked candidate list per case. Matching
// recomputation overwrites it; last write wins.
type MatchStore interface {
	Put(ctx context.Context, caseID string, candidates []model.Candidate) error
	// Get returns the cached candidates, or an empty slice when none.
	Get(ctx context.Context, caseID string) ([]model.Candidate, error)
}
