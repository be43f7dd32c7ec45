// Package memory provides in-memory store implementations backed by maps and
// RW mutexes. They are the reference implementations for tests and the demo
// command; production deployments use the postgres stores.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/hfujita/wastematch/core/errs"
	"github.com/hfujita/wastematch/core/model"
)

// CaseStore is an in-memory store.CaseStore.
type CaseStore struct {
	mu   sync.RWMutex
	data map[string]model.Case
}

// NewCaseStore creates an empty CaseStore.
func NewCaseStore() *CaseStore {
	return &CaseStore{data: map[string]model.Case{}}
}

func (s *CaseStore) Get(_ context.Context, id string) (*model.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.data[id]
	if !ok {
		return nil, errs.NotFound("case %s", id)
	}
	out := c
	return &out, nil
}

func (s *CaseStore) Save(_ context.Context, c *model.Case) (*model.Case, error) {
	s.mu.Lock()
	s.data[c.ID] = *c
	s.mu.Unlock()
	out := *c
	return &out, nil
}

func (s *CaseStore) ListOpenAuctions(_ context.Context) ([]model.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []model.Case
	for _, c := range s.data {
		if c.AuctionEnabled && c.Status == model.CaseMatching {
			res = append(res, c)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

// CarrierStore is an in-memory store.CarrierStore.
type CarrierStore struct {
	mu    sync.RWMutex
	data  map[string]model.Carrier
	order []string
}

// NewCarrierStore creates a CarrierStore seeded with the given carriers.
// ListActive preserves insertion order, which makes ranking ties stable.
func NewCarrierStore(carriers ...model.Carrier) *CarrierStore {
	s := &CarrierStore{data: map[string]model.Carrier{}}
	for _, c := range carriers {
		s.Put(c)
	}
	return s
}

// Put inserts or replaces a carrier.
func (s *CarrierStore) Put(c model.Carrier) {
	s.mu.Lock()
	if _, ok := s.data[c.ID]; !ok {
		s.order = append(s.order, c.ID)
	}
	s.data[c.ID] = c
	s.mu.Unlock()
}

func (s *CarrierStore) Get(_ context.Context, id string) (*model.Carrier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.data[id]
	if !ok {
		return nil, errs.NotFound("carrier %s", id)
	}
	out := c
	return &out, nil
}

func (s *CarrierStore) ListActive(_ context.Context) ([]model.Carrier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]model.Carrier, 0, len(s.order))
	for _, id := range s.order {
		if c := s.data[id]; c.Active {
			res = append(res, c)
		}
	}
	return res, nil
}

// BidStore is an in-memory store.BidStore.
type BidStore struct {
	mu   sync.RWMutex
	data map[string]model.Bid
}

// NewBidStore creates an empty BidStore.
func NewBidStore() *BidStore {
	return &BidStore{data: map[string]model.Bid{}}
}

func (s *BidStore) Get(_ context.Context, id string) (*model.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.data[id]
	if !ok {
		return nil, errs.NotFound("bid %s", id)
	}
	out := b
	return &out, nil
}

func (s *BidStore) FindByCase(_ context.Context, caseID string) ([]model.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []model.Bid
	for _, b := range s.data {
		if b.CaseID == caseID {
			res = append(res, b)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].Amount != res[j].Amount {
			return res[i].Amount < res[j].Amount
		}
		return res[i].CreatedAt.Before(res[j].CreatedAt)
	})
	return res, nil
}

func (s *BidStore) FindByCarrierAndCase(_ context.Context, carrierID, caseID string) (*model.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.data {
		if b.CaseID == caseID && b.CarrierID == carrierID && b.Status != model.BidCancelled {
			out := b
			return &out, nil
		}
	}
	return nil, nil
}

func (s *BidStore) Save(_ context.Context, b *model.Bid) (*model.Bid, error) {
	s.mu.Lock()
	s.data[b.ID] = *b
	s.mu.Unlock()
	out := *b
	return &out, nil
}

// MatchStore is an in-memory store.MatchStore.
type MatchStore struct {
	mu   sync.RWMutex
	data map[string][]model.Candidate
}

// NewMatchStore creates an empty MatchStore.
func NewMatchStore() *MatchStore {
	return &MatchStore{data: map[string][]model.Candidate{}}
}

func (s *MatchStore) Put(_ context.Context, caseID string, candidates []model.Candidate) error {
	cp := make([]model.Candidate, len(candidates))
	copy(cp, candidates)
	s.mu.Lock()
	s.data[caseID] = cp
	s.mu.Unlock()
	return nil
}

func (s *MatchStore) Get(_ context.Context, caseID string) ([]model.Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cached := s.data[caseID]
	res := make([]model.Candidate, len(cached))
	copy(res, cached)
	return res, nil
}
