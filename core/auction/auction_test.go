package auction

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hfujita/wastematch/core/assignment"
	"github.com/hfujita/wastematch/core/errs"
	"github.com/hfujita/wastematch/core/events"
	"github.com/hfujita/wastematch/core/model"
	"github.com/hfujita/wastematch/infra/logger"
	"github.com/hfujita/wastematch/infra/store/memory"
	"github.com/hfujita/wastematch/internal/eventbus"
	"github.com/hfujita/wastematch/internal/keylock"
)

type fixture struct {
	cases    *memory.CaseStore
	carriers *memory.CarrierStore
	bids     *memory.BidStore
	ledger   *Ledger
	manager  *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cases := memory.NewCaseStore()
	carriers := memory.NewCarrierStore(
		model.Carrier{ID: "carrier-a", Name: "Alpha Haulage", Active: true, ReliabilityScore: 0.9},
		model.Carrier{ID: "carrier-b", Name: "Beta Disposal", Active: true, ReliabilityScore: 0.8},
		model.Carrier{ID: "carrier-c", Name: "Gamma Waste", Active: true, ReliabilityScore: 0.7},
		model.Carrier{ID: "carrier-x", Name: "Dormant Co", Active: false},
	)
	bids := memory.NewBidStore()
	locks := keylock.New(0)
	bus := eventbus.NewTyped[events.Event]()
	log := logger.NopLogger{}

	coord, err := assignment.NewCoordinator(cases, locks, bus, nil, nil, nil, log)
	if err != nil {
		t.Fatalf("coordinator: %v", err)
	}
	ledger, err := NewLedger(cases, carriers, bids, locks, bus, nil, nil, log)
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	manager, err := NewManager(cases, bids, locks, coord, nil, log)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	return &fixture{cases: cases, carriers: carriers, bids: bids, ledger: ledger, manager: manager}
}

func (f *fixture) seedAuctionCase(t *testing.T, status model.CaseStatus) *model.Case {
	t.Helper()
	end := time.Now().Add(time.Hour)
	cs, err := f.cases.Save(context.Background(), &model.Case{
		ID:             "case-1",
		Site:           model.Point{Lat: 35.68, Lng: 139.76},
		WasteType:      "industrial",
		Status:         status,
		AuctionEnabled: true,
		AuctionEndAt:   &end,
	})
	if err != nil {
		t.Fatalf("seed case: %v", err)
	}
	return cs
}

func TestSubmitBidUpsertsPerCarrier(t *testing.T) {
	f := newFixture(t)
	f.seedAuctionCase(t, model.CaseMatching)
	ctx := context.Background()

	first, err := f.ledger.SubmitBid(ctx, "case-1", "carrier-a", 50000, "initial offer")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	second, err := f.ledger.SubmitBid(ctx, "case-1", "carrier-a", 47000, "revised")
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("resubmission must update the existing bid, got new id %s", second.ID)
	}
	if second.Amount != 47000 || second.Message != "revised" {
		t.Fatalf("resubmission did not update fields: %+v", second)
	}
	all, _ := f.bids.FindByCase(ctx, "case-1")
	if len(all) != 1 {
		t.Fatalf("expected one bid per carrier, got %d", len(all))
	}
}

func TestSubmitBidValidation(t *testing.T) {
	f := newFixture(t)
	f.seedAuctionCase(t, model.CaseMatching)
	ctx := context.Background()

	if _, err := f.ledger.SubmitBid(ctx, "case-1", "carrier-a", -1, ""); errs.CodeOf(err) != errs.CodeValidation {
		t.Fatalf("negative amount should be VALIDATION_ERROR, got %v", err)
	}
	if _, err := f.ledger.SubmitBid(ctx, "case-1", "carrier-x", 100, ""); errs.CodeOf(err) != errs.CodeInvalidState {
		t.Fatalf("inactive carrier should be INVALID_STATE, got %v", err)
	}
	if _, err := f.ledger.SubmitBid(ctx, "case-1", "missing", 100, ""); !errs.IsNotFound(err) {
		t.Fatalf("unknown carrier should be NOT_FOUND, got %v", err)
	}
	if _, err := f.ledger.SubmitBid(ctx, "missing", "carrier-a", 100, ""); !errs.IsNotFound(err) {
		t.Fatalf("unknown case should be NOT_FOUND, got %v", err)
	}
}

func TestSubmitBidOutsideWindow(t *testing.T) {
	f := newFixture(t)
	cs := f.seedAuctionCase(t, model.CaseMatching)
	past := time.Now().Add(-time.Minute)
	cs.AuctionEndAt = &past
	if _, err := f.cases.Save(context.Background(), cs); err != nil {
		t.Fatalf("save: %v", err)
	}

	_, err := f.ledger.SubmitBid(context.Background(), "case-1", "carrier-a", 100, "")
	if errs.CodeOf(err) != errs.CodeInvalidState {
		t.Fatalf("lapsed window should be INVALID_STATE, got %v", err)
	}
}

func TestSubmitBidOnDecidedCase(t *testing.T) {
	f := newFixture(t)
	f.seedAuctionCase(t, model.CaseAssigned)

	_, err := f.ledger.SubmitBid(context.Background(), "case-1", "carrier-a", 100, "")
	if errs.CodeOf(err) != errs.CodeInvalidState {
		t.Fatalf("bidding on ASSIGNED case should be INVALID_STATE, got %v", err)
	}
}

func TestCancelBid(t *testing.T) {
	f := newFixture(t)
	f.seedAuctionCase(t, model.CaseMatching)
	ctx := context.Background()

	bid, err := f.ledger.SubmitBid(ctx, "case-1", "carrier-a", 50000, "")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	cancelled, err := f.ledger.CancelBid(ctx, bid.ID, "carrier-a")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != model.BidCancelled {
		t.Fatalf("expected CANCELLED, got %s", cancelled.Status)
	}
	// Cancelling again is a no-op.
	again, err := f.ledger.CancelBid(ctx, bid.ID, "carrier-a")
	if err != nil || again.Status != model.BidCancelled {
		t.Fatalf("repeat cancel: %v %+v", err, again)
	}
	// A fresh submission after cancelling creates a new bid.
	fresh, err := f.ledger.SubmitBid(ctx, "case-1", "carrier-a", 48000, "")
	if err != nil {
		t.Fatalf("resubmit after cancel: %v", err)
	}
	if fresh.ID == bid.ID {
		t.Fatalf("cancelled bids must not be revived")
	}
}

func TestCancelBidOwnership(t *testing.T) {
	f := newFixture(t)
	f.seedAuctionCase(t, model.CaseMatching)
	ctx := context.Background()

	bid, err := f.ledger.SubmitBid(ctx, "case-1", "carrier-a", 50000, "")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := f.ledger.CancelBid(ctx, bid.ID, "carrier-b"); !errs.IsNotFound(err) {
		t.Fatalf("foreign bid must read NOT_FOUND, got %v", err)
	}
	got, _ := f.bids.Get(ctx, bid.ID)
	if got.Status != model.BidSubmitted {
		t.Fatalf("bid must be untouched, got %s", got.Status)
	}
	// An empty carrier id is the operator override.
	cancelled, err := f.ledger.CancelBid(ctx, bid.ID, "")
	if err != nil || cancelled.Status != model.BidCancelled {
		t.Fatalf("operator cancel: %v %+v", err, cancelled)
	}
}

func TestCancelWinningBid(t *testing.T) {
	f := newFixture(t)
	f.seedAuctionCase(t, model.CaseMatching)
	ctx := context.Background()

	bid, err := f.ledger.SubmitBid(ctx, "case-1", "carrier-a", 50000, "")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := f.manager.Close(ctx, "case-1", "system"); err != nil {
		t.Fatalf("close: %v", err)
	}
	_, err = f.ledger.CancelBid(ctx, bid.ID, "carrier-a")
	if errs.CodeOf(err) != errs.CodeInvalidState {
		t.Fatalf("cancelling a won bid should be INVALID_STATE, got %v", err)
	}
}

func TestCloseLowestBidWins(t *testing.T) {
	f := newFixture(t)
	f.seedAuctionCase(t, model.CaseMatching)
	ctx := context.Background()

	for _, b := range []struct {
		carrier string
		amount  float64
	}{
		{"carrier-a", 50000},
		{"carrier-b", 45000},
		{"carrier-c", 55000},
	} {
		if _, err := f.ledger.SubmitBid(ctx, "case-1", b.carrier, b.amount, ""); err != nil {
			t.Fatalf("submit %s: %v", b.carrier, err)
		}
	}

	winner, err := f.manager.Close(ctx, "case-1", "system")
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if winner.CarrierID != "carrier-b" || winner.Amount != 45000 {
		t.Fatalf("lowest bid must win, got %+v", winner)
	}
	if winner.Status != model.BidWon {
		t.Fatalf("winner must be WON, got %s", winner.Status)
	}
	cs, _ := f.cases.Get(ctx, "case-1")
	if cs.Status != model.CaseAssigned || cs.AssignedCarrierID != "carrier-b" {
		t.Fatalf("case must be ASSIGNED to the winner, got %s/%s", cs.Status, cs.AssignedCarrierID)
	}
	// Losing bids stay SUBMITTED for the audit trail.
	all, _ := f.bids.FindByCase(ctx, "case-1")
	for _, b := range all {
		if b.CarrierID != "carrier-b" && b.Status != model.BidSubmitted {
			t.Fatalf("losing bid %s changed status to %s", b.ID, b.Status)
		}
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.seedAuctionCase(t, model.CaseMatching)
	ctx := context.Background()

	if _, err := f.ledger.SubmitBid(ctx, "case-1", "carrier-a", 50000, ""); err != nil {
		t.Fatalf("submit: %v", err)
	}
	first, err := f.manager.Close(ctx, "case-1", "system")
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	second, err := f.manager.Close(ctx, "case-1", "system")
	if err != nil {
		t.Fatalf("repeat close: %v", err)
	}
	if second == nil || second.ID != first.ID {
		t.Fatalf("repeat close must return the recorded winner, got %+v", second)
	}
}

func TestCloseWithNoBids(t *testing.T) {
	f := newFixture(t)
	f.seedAuctionCase(t, model.CaseMatching)

	winner, err := f.manager.Close(context.Background(), "case-1", "system")
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if winner != nil {
		t.Fatalf("no bids must yield no winner, got %+v", winner)
	}
	cs, _ := f.cases.Get(context.Background(), "case-1")
	if cs.Status != model.CaseMatching {
		t.Fatalf("case must stay MATCHING without bids, got %s", cs.Status)
	}
}

func TestCloseCancelledCase(t *testing.T) {
	f := newFixture(t)
	f.seedAuctionCase(t, model.CaseCancelled)

	_, err := f.manager.Close(context.Background(), "case-1", "system")
	if errs.CodeOf(err) != errs.CodeInvalidState {
		t.Fatalf("closing a cancelled case should be INVALID_STATE, got %v", err)
	}
}

func TestCloseConcurrent(t *testing.T) {
	f := newFixture(t)
	f.seedAuctionCase(t, model.CaseMatching)
	ctx := context.Background()

	if _, err := f.ledger.SubmitBid(ctx, "case-1", "carrier-a", 50000, ""); err != nil {
		t.Fatalf("submit: %v", err)
	}

	const n = 8
	winners := make([]*model.Bid, n)
	errors := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			winners[i], errors[i] = f.manager.Close(ctx, "case-1", "system")
		}(i)
	}
	wg.Wait()

	var id string
	for i := 0; i < n; i++ {
		if errors[i] != nil {
			t.Fatalf("close %d: %v", i, errors[i])
		}
		if winners[i] == nil {
			t.Fatalf("close %d returned no winner", i)
		}
		if id == "" {
			id = winners[i].ID
		} else if winners[i].ID != id {
			t.Fatalf("divergent winners: %s vs %s", id, winners[i].ID)
		}
	}
	cs, _ := f.cases.Get(ctx, "case-1")
	if cs.Status != model.CaseAssigned {
		t.Fatalf("case must be ASSIGNED exactly once, got %s", cs.Status)
	}
}

func TestStatusSummary(t *testing.T) {
	f := newFixture(t)
	f.seedAuctionCase(t, model.CaseMatching)
	ctx := context.Background()

	for _, b := range []struct {
		carrier string
		amount  float64
	}{
		{"carrier-a", 40000},
		{"carrier-b", 50000},
		{"carrier-c", 60000},
	} {
		if _, err := f.ledger.SubmitBid(ctx, "case-1", b.carrier, b.amount, ""); err != nil {
			t.Fatalf("submit %s: %v", b.carrier, err)
		}
	}

	s, err := f.manager.Status(ctx, "case-1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !s.Open || s.BidCount != 3 {
		t.Fatalf("unexpected summary: %+v", s)
	}
	if s.TimeRemainingMS <= 0 {
		t.Fatalf("open auction must report time remaining, got %d", s.TimeRemainingMS)
	}
	if s.LowestAmount == nil || *s.LowestAmount != 40000 {
		t.Fatalf("lowest must be 40000, got %v", s.LowestAmount)
	}
	if s.HighestAmount == nil || *s.HighestAmount != 60000 {
		t.Fatalf("highest must be 60000, got %v", s.HighestAmount)
	}
	if s.MeanAmount != 50000 {
		t.Fatalf("mean must be 50000, got %f", s.MeanAmount)
	}
	if s.StdDevAmount <= 0 {
		t.Fatalf("stddev must be positive, got %f", s.StdDevAmount)
	}

	if _, err := f.manager.Close(ctx, "case-1", "system"); err != nil {
		t.Fatalf("close: %v", err)
	}
	s, err = f.manager.Status(ctx, "case-1")
	if err != nil {
		t.Fatalf("status after close: %v", err)
	}
	if s.Open || s.WinningBidID == "" {
		t.Fatalf("closed summary must carry the winner: %+v", s)
	}
	// The won bid leaves the live pool; only the losing bids remain counted.
	if s.BidCount != 2 {
		t.Fatalf("closed summary must count SUBMITTED bids only, got %d", s.BidCount)
	}
}
