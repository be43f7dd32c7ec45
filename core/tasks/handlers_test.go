package tasks

import (
	"context"
	"testing"
	"time"

	"github.com/hfujita/wastematch/core/assignment"
	"github.com/hfujita/wastematch/core/auction"
	"github.com/hfujita/wastematch/core/events"
	"github.com/hfujita/wastematch/core/matching"
	"github.com/hfujita/wastematch/core/model"
	"github.com/hfujita/wastematch/core/worker"
	"github.com/hfujita/wastematch/infra/logger"
	"github.com/hfujita/wastematch/infra/store/memory"
	"github.com/hfujita/wastematch/internal/eventbus"
	"github.com/hfujita/wastematch/internal/keylock"
)

var site = model.Point{Lat: 35.6812, Lng: 139.7671}

func testCarrier(id string, reliability float64) model.Carrier {
	return model.Carrier{
		ID:               id,
		Name:             id,
		Active:           true,
		ReliabilityScore: reliability,
		Permits: []model.Permit{{
			Number:     "P-" + id,
			ValidFrom:  time.Now().Add(-24 * time.Hour),
			ValidTo:    time.Now().Add(24 * time.Hour),
			WasteTypes: []string{"industrial"},
		}},
		ServiceAreas: []model.ServiceArea{{
			Kind:    model.AreaRadius,
			Center:  &model.Point{Lat: 35.69, Lng: 139.70},
			RadiusM: 50000,
		}},
		PriceMatrix: []model.PriceEntry{{
			WasteType: "industrial", BasePrice: 10000, PricePerUnit: 30,
		}},
	}
}

type env struct {
	cases    *memory.CaseStore
	carriers *memory.CarrierStore
	bids     *memory.BidStore
	matches  *memory.MatchStore
	ledger   *auction.Ledger
	handlers *Handlers
}

func newEnv(t *testing.T, carriers ...model.Carrier) *env {
	t.Helper()
	cases := memory.NewCaseStore()
	carrierStore := memory.NewCarrierStore(carriers...)
	bids := memory.NewBidStore()
	matches := memory.NewMatchStore()
	locks := keylock.New(0)
	bus := eventbus.NewTyped[events.Event]()
	log := logger.NopLogger{}

	coord, err := assignment.NewCoordinator(cases, locks, bus, nil, nil, nil, log)
	if err != nil {
		t.Fatalf("coordinator: %v", err)
	}
	engine, err := matching.NewEngine(cases, carrierStore, nil, log)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	manager, err := auction.NewManager(cases, bids, locks, coord, nil, log)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	ledger, err := auction.NewLedger(cases, carrierStore, bids, locks, bus, nil, nil, log)
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	handlers, err := NewHandlers(cases, matches, coord, engine, manager, matching.DefaultCriteria(), nil, log)
	if err != nil {
		t.Fatalf("handlers: %v", err)
	}
	return &env{cases: cases, carriers: carrierStore, bids: bids, matches: matches, ledger: ledger, handlers: handlers}
}

func (e *env) seed(t *testing.T, cs model.Case) *model.Case {
	t.Helper()
	if cs.ID == "" {
		cs.ID = "case-1"
	}
	cs.Site = site
	if cs.WasteType == "" {
		cs.WasteType = "industrial"
	}
	saved, err := e.cases.Save(context.Background(), &cs)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return saved
}

func TestMatchCaseMovesToMatchingAndCaches(t *testing.T) {
	e := newEnv(t, testCarrier("carrier-a", 0.9), testCarrier("carrier-b", 0.7))
	e.seed(t, model.Case{Status: model.CaseNew})

	if err := e.handlers.Handle(context.Background(), worker.Task{Kind: worker.KindMatchCase, CaseID: "case-1"}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	cs, _ := e.cases.Get(context.Background(), "case-1")
	if cs.Status != model.CaseMatching {
		t.Fatalf("expected MATCHING, got %s", cs.Status)
	}
	cached, err := e.matches.Get(context.Background(), "case-1")
	if err != nil {
		t.Fatalf("cached candidates: %v", err)
	}
	if len(cached) != 2 {
		t.Fatalf("expected 2 cached candidates, got %d", len(cached))
	}
	if cached[0].CarrierID != "carrier-a" {
		t.Fatalf("higher reliability must rank first, got %s", cached[0].CarrierID)
	}
}

func TestMatchCaseIsIdempotent(t *testing.T) {
	e := newEnv(t, testCarrier("carrier-a", 0.9))
	e.seed(t, model.Case{Status: model.CaseNew})
	task := worker.Task{Kind: worker.KindMatchCase, CaseID: "case-1"}

	for i := 0; i < 3; i++ {
		if err := e.handlers.Handle(context.Background(), task); err != nil {
			t.Fatalf("handle %d: %v", i, err)
		}
	}
	cs, _ := e.cases.Get(context.Background(), "case-1")
	if cs.Status != model.CaseMatching {
		t.Fatalf("expected MATCHING, got %s", cs.Status)
	}
}

func TestMatchCaseAutoAssignsWithoutAuction(t *testing.T) {
	e := newEnv(t, testCarrier("carrier-a", 0.9), testCarrier("carrier-b", 0.7))
	e.seed(t, model.Case{Status: model.CaseNew, AutoAssign: true})

	if err := e.handlers.Handle(context.Background(), worker.Task{Kind: worker.KindMatchCase, CaseID: "case-1"}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	cs, _ := e.cases.Get(context.Background(), "case-1")
	if cs.Status != model.CaseAssigned || cs.AssignedCarrierID != "carrier-a" {
		t.Fatalf("expected auto-assignment to carrier-a, got %s/%s", cs.Status, cs.AssignedCarrierID)
	}
}

func TestMatchCaseLeavesAuctionCasesOpen(t *testing.T) {
	e := newEnv(t, testCarrier("carrier-a", 0.9))
	end := time.Now().Add(time.Hour)
	e.seed(t, model.Case{Status: model.CaseNew, AutoAssign: true, AuctionEnabled: true, AuctionEndAt: &end})

	if err := e.handlers.Handle(context.Background(), worker.Task{Kind: worker.KindMatchCase, CaseID: "case-1"}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	cs, _ := e.cases.Get(context.Background(), "case-1")
	if cs.Status != model.CaseMatching {
		t.Fatalf("auction cases must wait for the close, got %s", cs.Status)
	}
}

func TestMatchCaseUnknownCaseDropped(t *testing.T) {
	e := newEnv(t)
	if err := e.handlers.Handle(context.Background(), worker.Task{Kind: worker.KindMatchCase, CaseID: "missing"}); err != nil {
		t.Fatalf("unknown case must not retry: %v", err)
	}
}

func TestCloseAuctionAwardsLowestBid(t *testing.T) {
	e := newEnv(t, testCarrier("carrier-a", 0.9), testCarrier("carrier-b", 0.7))
	end := time.Now().Add(time.Hour)
	e.seed(t, model.Case{Status: model.CaseMatching, AuctionEnabled: true, AuctionEndAt: &end})
	ctx := context.Background()

	if _, err := e.ledger.SubmitBid(ctx, "case-1", "carrier-a", 52000, ""); err != nil {
		t.Fatalf("bid a: %v", err)
	}
	if _, err := e.ledger.SubmitBid(ctx, "case-1", "carrier-b", 48000, ""); err != nil {
		t.Fatalf("bid b: %v", err)
	}
	if err := e.handlers.Handle(ctx, worker.Task{Kind: worker.KindCloseAuction, CaseID: "case-1"}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	cs, _ := e.cases.Get(ctx, "case-1")
	if cs.Status != model.CaseAssigned || cs.AssignedCarrierID != "carrier-b" {
		t.Fatalf("expected carrier-b to win, got %s/%s", cs.Status, cs.AssignedCarrierID)
	}
}

func TestCloseAuctionFallsBackToCandidates(t *testing.T) {
	e := newEnv(t, testCarrier("carrier-a", 0.9))
	end := time.Now().Add(time.Hour)
	e.seed(t, model.Case{Status: model.CaseNew, AutoAssign: true, AuctionEnabled: true, AuctionEndAt: &end})
	ctx := context.Background()

	// Matching caches candidates, then the auction lapses with no bids.
	if err := e.handlers.Handle(ctx, worker.Task{Kind: worker.KindMatchCase, CaseID: "case-1"}); err != nil {
		t.Fatalf("match: %v", err)
	}
	if err := e.handlers.Handle(ctx, worker.Task{Kind: worker.KindCloseAuction, CaseID: "case-1"}); err != nil {
		t.Fatalf("close: %v", err)
	}
	cs, _ := e.cases.Get(ctx, "case-1")
	if cs.Status != model.CaseAssigned || cs.AssignedCarrierID != "carrier-a" {
		t.Fatalf("expected fallback assignment to carrier-a, got %s/%s", cs.Status, cs.AssignedCarrierID)
	}
}

func TestCloseAuctionNoBidsNoAutoAssign(t *testing.T) {
	e := newEnv(t, testCarrier("carrier-a", 0.9))
	end := time.Now().Add(time.Hour)
	e.seed(t, model.Case{Status: model.CaseMatching, AuctionEnabled: true, AuctionEndAt: &end})

	if err := e.handlers.Handle(context.Background(), worker.Task{Kind: worker.KindCloseAuction, CaseID: "case-1"}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	cs, _ := e.cases.Get(context.Background(), "case-1")
	if cs.Status != model.CaseMatching {
		t.Fatalf("case without auto-assign must stay MATCHING, got %s", cs.Status)
	}
}
