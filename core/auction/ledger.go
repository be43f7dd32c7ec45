// Package auction implements the reverse-auction flow: carriers bid on
// MATCHING cases, the lowest amount wins at close. Bids are upserted per
// (case, carrier) pair and never deleted.
package auction

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hfujita/wastematch/core/audit"
	"github.com/hfujita/wastematch/core/errs"
	"github.com/hfujita/wastematch/core/events"
	corelogger "github.com/hfujita/wastematch/core/logger"
	"github.com/hfujita/wastematch/core/metrics"
	"github.com/hfujita/wastematch/core/model"
	"github.com/hfujita/wastematch/core/store"
	"github.com/hfujita/wastematch/internal/eventbus"
	"github.com/hfujita/wastematch/internal/keylock"
)

// Ledger records and cancels bids. All writes run under the per-case lock
// shared with the auction manager and the assignment coordinator.
type Ledger struct {
	cases    store.CaseStore
	carriers store.CarrierStore
	bids     store.BidStore
	locks    *keylock.KeyedMutex
	bus      *eventbus.TypedBus[events.Event]
	audit    audit.Store
	sink     metrics.Sink
	log      corelogger.Logger
	now      func() time.Time
}

// NewLedger creates a Ledger. The audit store and metrics sink may be nil.
func NewLedger(
	cases store.CaseStore,
	carriers store.CarrierStore,
	bids store.BidStore,
	locks *keylock.KeyedMutex,
	bus *eventbus.TypedBus[events.Event],
	auditStore audit.Store,
	sink metrics.Sink,
	log corelogger.Logger,
) (*Ledger, error) {
	if cases == nil || carriers == nil || bids == nil || locks == nil || bus == nil || log == nil {
		return nil, fmt.Errorf("auction: nil parameter provided to NewLedger")
	}
	if auditStore == nil {
		auditStore = audit.NopStore{}
	}
	if sink == nil {
		sink = metrics.NopSink{}
	}
	return &Ledger{
		cases:    cases,
		carriers: carriers,
		bids:     bids,
		locks:    locks,
		bus:      bus,
		audit:    auditStore,
		sink:     sink,
		log:      log,
		now:      time.Now,
	}, nil
}

// SetClock overrides the ledger clock, for tests.
func (l *Ledger) SetClock(now func() time.Time) { l.now = now }

// SubmitBid records or updates the carrier's bid on the case. A carrier holds
// at most one live bid per case; submitting again replaces amount and message
// on the existing bid.
func (l *Ledger) SubmitBid(ctx context.Context, caseID, carrierID string, amount float64, message string) (*model.Bid, error) {
	if amount < 0 {
		return nil, errs.Validation("bid amount must not be negative")
	}
	if carrierID == "" {
		return nil, errs.Validation("carrier id is required")
	}

	unlock := l.locks.Lock(caseID)
	defer unlock()

	cs, err := l.cases.Get(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if cs.Status != model.CaseMatching {
		return nil, errs.InvalidState("case %s is %s; bids are only accepted while MATCHING", caseID, cs.Status)
	}
	if !cs.AuctionEnabled {
		return nil, errs.InvalidState("case %s does not run an auction", caseID)
	}
	now := l.now()
	if !cs.AuctionWindowOpen(now) {
		return nil, errs.InvalidState("auction window for case %s is not open", caseID)
	}
	carrier, err := l.carriers.Get(ctx, carrierID)
	if err != nil {
		return nil, err
	}
	if !carrier.Active {
		return nil, errs.InvalidState("carrier %s is not active", carrierID)
	}

	existing, err := l.bids.FindByCarrierAndCase(ctx, carrierID, caseID)
	if err != nil {
		return nil, err
	}
	resubmission := existing != nil
	var bid *model.Bid
	if resubmission {
		bid = existing
		bid.Amount = amount
		bid.Message = message
		bid.UpdatedAt = now
	} else {
		bid = &model.Bid{
			ID:        uuid.NewString(),
			CaseID:    caseID,
			CarrierID: carrierID,
			Amount:    amount,
			Message:   message,
			Status:    model.BidSubmitted,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}
	saved, err := l.bids.Save(ctx, bid)
	if err != nil {
		return nil, err
	}

	l.bus.Publish(events.BidSubmitted{
		CaseID: caseID, CarrierID: carrierID, BidID: saved.ID,
		Amount: amount, Resubmission: resubmission, Time: now,
	})
	l.append(audit.Record{
		Timestamp: now, CaseID: caseID, Action: audit.ActionBidSubmitted, Actor: carrierID,
		Detail: map[string]any{"bid_id": saved.ID, "amount": amount, "resubmission": resubmission},
	})
	if err := l.sink.RecordBid(metrics.BidEvent{
		CaseID: caseID, CarrierID: carrierID, Amount: amount,
		Resubmission: resubmission, Time: now,
	}); err != nil {
		l.log.Warnf("record bid metric for case %s: %v", caseID, err)
	}
	l.log.Debugf("bid %s on case %s by carrier %s amount=%.2f resubmission=%t",
		saved.ID, caseID, carrierID, amount, resubmission)
	return saved, nil
}

// CancelBid withdraws a submitted bid. A carrier can only cancel its own bid;
// a bid belonging to someone else reads as NOT_FOUND. An empty carrierID is an
// operator override and skips the ownership check. Won bids cannot be
// cancelled; bids on closed cases cannot be cancelled either.
func (l *Ledger) CancelBid(ctx context.Context, bidID, carrierID string) (*model.Bid, error) {
	bid, err := l.bids.Get(ctx, bidID)
	if err != nil {
		return nil, err
	}

	unlock := l.locks.Lock(bid.CaseID)
	defer unlock()

	// Re-read under the lock; the bid may have been awarded in between.
	bid, err = l.bids.Get(ctx, bidID)
	if err != nil {
		return nil, err
	}
	if carrierID != "" && bid.CarrierID != carrierID {
		return nil, errs.NotFound("bid %s not found for carrier %s", bidID, carrierID)
	}
	switch bid.Status {
	case model.BidCancelled:
		return bid, nil
	case model.BidWon, model.BidAwarded:
		return nil, errs.InvalidState("bid %s has won the auction and cannot be cancelled", bidID)
	}
	cs, err := l.cases.Get(ctx, bid.CaseID)
	if err != nil {
		return nil, err
	}
	if cs.Status != model.CaseMatching {
		return nil, errs.InvalidState("case %s is %s; bids can no longer be withdrawn", cs.ID, cs.Status)
	}

	now := l.now()
	bid.Status = model.BidCancelled
	bid.UpdatedAt = now
	saved, err := l.bids.Save(ctx, bid)
	if err != nil {
		return nil, err
	}
	actor := carrierID
	if actor == "" {
		actor = "operator"
	}
	l.append(audit.Record{
		Timestamp: now, CaseID: bid.CaseID, Action: audit.ActionBidCancelled, Actor: actor,
		Detail: map[string]any{"bid_id": bidID},
	})
	l.log.Debugf("bid %s on case %s cancelled by %s", bidID, bid.CaseID, actor)
	return saved, nil
}

// ListBids returns the non-cancelled bids on the case ordered by ascending
// amount, lowest first.
func (l *Ledger) ListBids(ctx context.Context, caseID string) ([]model.Bid, error) {
	if _, err := l.cases.Get(ctx, caseID); err != nil {
		return nil, err
	}
	all, err := l.bids.FindByCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	live := all[:0]
	for _, b := range all {
		if b.Status != model.BidCancelled {
			live = append(live, b)
		}
	}
	return live, nil
}

func (l *Ledger) append(rec audit.Record) {
	if err := l.audit.Append(context.Background(), rec); err != nil {
		l.log.Errorf("audit append for case %s: %v", rec.CaseID, err)
	}
}
