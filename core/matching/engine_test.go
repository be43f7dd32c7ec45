package matching

import (
	"context"
	"testing"
	"time"

	"github.com/hfujita/wastematch/core/errs"
	"github.com/hfujita/wastematch/core/model"
	"github.com/hfujita/wastematch/infra/logger"
	"github.com/hfujita/wastematch/infra/store/memory"
)

var tokyo = model.Point{Lat: 35.6762, Lng: 139.6503}

func testCase(id string) *model.Case {
	weight := 1000.0
	return &model.Case{
		ID:                id,
		Site:              tokyo,
		WasteType:         "general",
		EstimatedWeightKg: &weight,
		Status:            model.CaseNew,
	}
}

func testCarrier(id string, center model.Point, radiusM, reliability float64) model.Carrier {
	c := center
	return model.Carrier{
		ID:               id,
		Active:           true,
		ReliabilityScore: reliability,
		Permits: []model.Permit{{
			Number:     "P-" + id,
			ValidFrom:  time.Now().AddDate(-1, 0, 0),
			ValidTo:    time.Now().AddDate(1, 0, 0),
			WasteTypes: []string{"general"},
		}},
		ServiceAreas: []model.ServiceArea{{Kind: model.AreaRadius, Center: &c, RadiusM: radiusM}},
		PriceMatrix: []model.PriceEntry{{
			WasteType: "general", BasePrice: 5000, PricePerUnit: 50,
		}},
	}
}

func newEngine(t *testing.T, cs *model.Case, carriers ...model.Carrier) *Engine {
	t.Helper()
	caseStore := memory.NewCaseStore()
	if cs != nil {
		if _, err := caseStore.Save(context.Background(), cs); err != nil {
			t.Fatalf("seed case: %v", err)
		}
	}
	e, err := NewEngine(caseStore, memory.NewCarrierStore(carriers...), nil, logger.NopLogger{})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	return e
}

func TestFindMatchingCarriersCaseNotFound(t *testing.T) {
	e := newEngine(t, nil)
	_, err := e.FindMatchingCarriers(context.Background(), "missing", nil)
	if !errs.IsNotFound(err) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestPermitExclusion(t *testing.T) {
	carrier := testCarrier("a", tokyo, 50000, 0.9)
	carrier.Permits[0].WasteTypes = []string{"hazardous"}
	e := newEngine(t, testCase("case-1"), carrier)

	results, err := e.FindMatchingCarriers(context.Background(), "case-1", nil)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("carrier without a permit for the waste type must be excluded, got %d results", len(results))
	}
}

func TestServiceAreaExclusion(t *testing.T) {
	// Carrier B is centered ~60 km away with a 10 km radius: the site is not
	// inside its geofence.
	osakaDir := model.Point{Lat: 35.6762, Lng: 139.6503 + 0.66} // ~60 km east
	a := testCarrier("a", tokyo, 50000, 0.85)
	b := testCarrier("b", osakaDir, 10000, 0.95)
	e := newEngine(t, testCase("case-1"), a, b)

	results, err := e.FindMatchingCarriers(context.Background(), "case-1", nil)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(results) != 1 || results[0].Carrier.ID != "a" {
		t.Fatalf("expected only carrier a, got %v", results)
	}
	if results[0].Score <= 0 || results[0].Score >= 100 {
		t.Fatalf("score %v should lie strictly between 0 and 100", results[0].Score)
	}
	if len(results[0].Reasons) == 0 {
		t.Fatalf("expected audit reasons")
	}
}

func TestReliabilityExclusion(t *testing.T) {
	low := testCarrier("low", tokyo, 50000, 0.3)
	e := newEngine(t, testCase("case-1"), low)

	results, err := e.FindMatchingCarriers(context.Background(), "case-1", nil)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("carrier below min reliability must be excluded")
	}

	results, err = e.FindMatchingCarriers(context.Background(), "case-1", &Criteria{MinReliability: 0.2})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("loosened criteria should admit the carrier")
	}
}

func TestDistanceExclusion(t *testing.T) {
	// A polygon large enough to contain the site but whose centroid is far
	// from it: containment passes, the distance cutoff excludes.
	far := testCarrier("far", tokyo, 50000, 0.9)
	far.ServiceAreas = []model.ServiceArea{{
		Kind: model.AreaPolygon,
		Vertices: []model.Point{
			{Lat: 30, Lng: 130}, {Lat: 30, Lng: 145}, {Lat: 40, Lng: 145}, {Lat: 40, Lng: 130},
		},
	}}
	e := newEngine(t, testCase("case-1"), far)

	results, err := e.FindMatchingCarriers(context.Background(), "case-1", nil)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("carrier beyond max distance must be excluded, got %v", results)
	}
}

func TestRankingOrderAndStability(t *testing.T) {
	near := testCarrier("near", tokyo, 50000, 0.9)
	offCenter := model.Point{Lat: 35.9, Lng: 139.9}
	farther := testCarrier("farther", offCenter, 60000, 0.9)
	twinA := testCarrier("twin-a", tokyo, 50000, 0.7)
	twinB := testCarrier("twin-b", tokyo, 50000, 0.7)

	e := newEngine(t, testCase("case-1"), farther, near, twinA, twinB)
	results, err := e.FindMatchingCarriers(context.Background(), "case-1", nil)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("expected 4 candidates, got %d", len(results))
	}
	if results[0].Carrier.ID != "near" {
		t.Fatalf("closest identical carrier should rank first, got %s", results[0].Carrier.ID)
	}
	// Equal-score twins keep input order.
	var twins []string
	for _, r := range results {
		if r.Carrier.ID == "twin-a" || r.Carrier.ID == "twin-b" {
			twins = append(twins, r.Carrier.ID)
		}
	}
	if len(twins) != 2 || twins[0] != "twin-a" {
		t.Fatalf("stable sort violated: %v", twins)
	}
}

func TestEngineIsReadOnly(t *testing.T) {
	cs := testCase("case-1")
	caseStore := memory.NewCaseStore()
	_, _ = caseStore.Save(context.Background(), cs)
	e, err := NewEngine(caseStore, memory.NewCarrierStore(testCarrier("a", tokyo, 50000, 0.9)), nil, logger.NopLogger{})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	if _, err := e.FindMatchingCarriers(context.Background(), "case-1", nil); err != nil {
		t.Fatalf("find: %v", err)
	}
	after, _ := caseStore.Get(context.Background(), "case-1")
	if after.Status != model.CaseNew {
		t.Fatalf("matching must not mutate case state")
	}
}
