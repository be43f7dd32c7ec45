package auction

import (
	"context"
	"fmt"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/hfujita/wastematch/core/assignment"
	"github.com/hfujita/wastematch/core/audit"
	"github.com/hfujita/wastematch/core/errs"
	"github.com/hfujita/wastematch/core/events"
	corelogger "github.com/hfujita/wastematch/core/logger"
	"github.com/hfujita/wastematch/core/metrics"
	"github.com/hfujita/wastematch/core/model"
	"github.com/hfujita/wastematch/core/store"
	"github.com/hfujita/wastematch/internal/keylock"
)

// Summary describes the live state of a case auction. Counts and amounts
// cover SUBMITTED bids only; the winning bid is reported separately.
type Summary struct {
	CaseID          string     `json:"case_id"`
	Enabled         bool       `json:"enabled"`
	Open            bool       `json:"open"`
	EndsAt          *time.Time `json:"ends_at,omitempty"`
	TimeRemainingMS int64      `json:"time_remaining_ms,omitempty"`
	BidCount        int        `json:"bid_count"`
	LowestAmount    *float64   `json:"lowest_amount,omitempty"`
	HighestAmount   *float64   `json:"highest_amount,omitempty"`
	MeanAmount      float64    `json:"mean_amount,omitempty"`
	StdDevAmount    float64    `json:"std_dev_amount,omitempty"`
	WinningBidID    string     `json:"winning_bid_id,omitempty"`
}

// Manager closes auctions and awards the winning bid. Closing is idempotent:
// replaying a close on an already decided case returns the recorded winner.
type Manager struct {
	cases store.CaseStore
	bids  store.BidStore
	locks *keylock.KeyedMutex
	coord *assignment.Coordinator
	sink  metrics.Sink
	log   corelogger.Logger
	now   func() time.Time
}

// NewManager creates a Manager around the coordinator that validates the
// ASSIGNED transition.
func NewManager(
	cases store.CaseStore,
	bids store.BidStore,
	locks *keylock.KeyedMutex,
	coord *assignment.Coordinator,
	sink metrics.Sink,
	log corelogger.Logger,
) (*Manager, error) {
	if cases == nil || bids == nil || locks == nil || coord == nil || log == nil {
		return nil, fmt.Errorf("auction: nil parameter provided to NewManager")
	}
	if sink == nil {
		sink = metrics.NopSink{}
	}
	return &Manager{
		cases: cases,
		bids:  bids,
		locks: locks,
		coord: coord,
		sink:  sink,
		log:   log,
		now:   time.Now,
	}, nil
}

// SetClock overrides the manager clock, for tests.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// Status reports the auction state of the case without mutating anything.
func (m *Manager) Status(ctx context.Context, caseID string) (*Summary, error) {
	cs, err := m.cases.Get(ctx, caseID)
	if err != nil {
		return nil, err
	}
	all, err := m.bids.FindByCase(ctx, caseID)
	if err != nil {
		return nil, err
	}

	now := m.now()
	s := &Summary{
		CaseID:  caseID,
		Enabled: cs.AuctionEnabled,
		Open:    cs.AuctionEnabled && cs.Status == model.CaseMatching && cs.AuctionWindowOpen(now),
		EndsAt:  cs.AuctionEndAt,
	}
	if cs.AuctionEndAt != nil {
		if remaining := cs.AuctionEndAt.Sub(now); remaining > 0 {
			s.TimeRemainingMS = remaining.Milliseconds()
		}
	}
	var amounts []float64
	for _, b := range all {
		switch b.Status {
		case model.BidWon, model.BidAwarded:
			s.WinningBidID = b.ID
			continue
		case model.BidCancelled:
			continue
		}
		s.BidCount++
		amounts = append(amounts, b.Amount)
	}
	if len(amounts) > 0 {
		// FindByCase returns bids in ascending amount order.
		low, high := amounts[0], amounts[len(amounts)-1]
		s.LowestAmount = &low
		s.HighestAmount = &high
		s.MeanAmount = stat.Mean(amounts, nil)
		if len(amounts) > 1 {
			s.StdDevAmount = stat.StdDev(amounts, nil)
		}
	}
	return s, nil
}

// Close decides the auction: the lowest live bid wins, ties break on earliest
// submission. The winner is awarded and the case moves to ASSIGNED. With no
// live bids the case stays in MATCHING and the winner is nil. Replaying a
// close on a decided case returns the recorded winner without side effects.
func (m *Manager) Close(ctx context.Context, caseID, actor string) (*model.Bid, error) {
	unlock := m.locks.Lock(caseID)
	defer unlock()

	cs, err := m.cases.Get(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if cs.Status != model.CaseMatching {
		return m.replay(ctx, cs)
	}
	if !cs.AuctionEnabled {
		return nil, errs.InvalidState("case %s does not run an auction", caseID)
	}

	all, err := m.bids.FindByCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	var winner *model.Bid
	for i := range all {
		b := all[i]
		if b.Status == model.BidWon || b.Status == model.BidAwarded {
			return nil, errs.Conflict("case %s already has winning bid %s", caseID, b.ID)
		}
		// Ascending amount order with stable submission-time ties, so the
		// first live bid is the winner.
		if winner == nil && b.Status == model.BidSubmitted {
			winner = &b
		}
	}
	if winner == nil {
		m.log.Infof("auction close for case %s found no bids; case stays open", caseID)
		return nil, nil
	}

	cs.AssignedCarrierID = winner.CarrierID
	if err := m.coord.Transition(cs, model.CaseAssigned, actor, "auction won by "+winner.CarrierID); err != nil {
		return nil, err
	}
	if _, err := m.cases.Save(ctx, cs); err != nil {
		return nil, err
	}

	now := m.now()
	winner.Status = model.BidWon
	winner.UpdatedAt = now
	saved, err := m.bids.Save(ctx, winner)
	if err != nil {
		return nil, err
	}

	live := 0
	for _, b := range all {
		if b.Status == model.BidSubmitted {
			live++
		}
	}
	m.coord.Publish(events.AuctionClosed{
		CaseID: caseID, WinningBidID: saved.ID, BidCount: live, Time: now,
	})
	m.coord.Publish(events.CaseAssigned{
		CaseID: caseID, CarrierID: saved.CarrierID, BidID: saved.ID,
		Amount: saved.Amount, Method: "auction", Time: now,
	})
	m.coord.Record(caseID, audit.ActionAuctionClosed, actor, map[string]any{
		"winning_bid_id": saved.ID, "carrier_id": saved.CarrierID,
		"amount": saved.Amount, "bid_count": live,
	})
	if err := m.sink.RecordAssignment(metrics.AssignmentEvent{
		CaseID: caseID, CarrierID: saved.CarrierID, Method: "auction",
		Amount: saved.Amount, Time: now,
	}); err != nil {
		m.log.Warnf("record assignment metric for case %s: %v", caseID, err)
	}
	m.log.Infof("auction for case %s closed: carrier %s wins at %.2f (%d bids)",
		caseID, saved.CarrierID, saved.Amount, live)
	return saved, nil
}

// replay resolves a close request against an already decided case.
func (m *Manager) replay(ctx context.Context, cs *model.Case) (*model.Bid, error) {
	switch cs.Status {
	case model.CaseAssigned, model.CaseCollected, model.CaseDisposed:
		all, err := m.bids.FindByCase(ctx, cs.ID)
		if err != nil {
			return nil, err
		}
		for i := range all {
			if all[i].Status == model.BidWon || all[i].Status == model.BidAwarded {
				return &all[i], nil
			}
		}
		// Assigned outside the auction; there is no winning bid to report.
		return nil, nil
	default:
		return nil, errs.InvalidState("case %s is %s; auction cannot be closed", cs.ID, cs.Status)
	}
}
