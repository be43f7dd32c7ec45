// Package matching ranks candidate carriers for a case. The engine is
// read-only: it never mutates case or carrier state.
package matching

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hfujita/wastematch/core/geo"
	corelogger "github.com/hfujita/wastematch/core/logger"
	"github.com/hfujita/wastematch/core/model"
	"github.com/hfujita/wastematch/core/scoring"
	"github.com/hfujita/wastematch/core/store"
)

// Criteria holds the configurable exclusion thresholds applied before
// scoring.
type Criteria struct {
	MaxDistanceM   float64 `json:"max_distance_m"`
	MinReliability float64 `json:"min_reliability"`
}

// DefaultCriteria returns the production thresholds.
func DefaultCriteria() Criteria {
	return Criteria{MaxDistanceM: 50000, MinReliability: 0.5}
}

// Result is one ranked candidate with its audit trail.
type Result struct {
	Carrier   model.Carrier     `json:"carrier"`
	Score     float64           `json:"score"`
	Reasons   []string          `json:"reasons"`
	Breakdown scoring.Breakdown `json:"breakdown"`
}

// Engine finds and ranks matching carriers.
type Engine struct {
	cases    store.CaseStore
	carriers store.CarrierStore
	model    *scoring.Model
	log      corelogger.Logger
	now      func() time.Time
}

// NewEngine creates an Engine. A nil scoring model falls back to defaults.
func NewEngine(cases store.CaseStore, carriers store.CarrierStore, sm *scoring.Model, log corelogger.Logger) (*Engine, error) {
	if cases == nil || carriers == nil || log == nil {
		return nil, fmt.Errorf("matching: nil parameter provided to NewEngine")
	}
	if sm == nil {
		sm = scoring.New(scoring.Config{})
	}
	return &Engine{cases: cases, carriers: carriers, model: sm, log: log, now: time.Now}, nil
}

// SetClock overrides the engine clock, for tests.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// FindMatchingCarriers returns active carriers able to perform the case,
// ranked by descending score. Ties keep carrier input order. A nil criteria
// applies the defaults.
func (e *Engine) FindMatchingCarriers(ctx context.Context, caseID string, crit *Criteria) ([]Result, error) {
	c := DefaultCriteria()
	if crit != nil {
		if crit.MaxDistanceM > 0 {
			c.MaxDistanceM = crit.MaxDistanceM
		}
		if crit.MinReliability > 0 {
			c.MinReliability = crit.MinReliability
		}
	}

	cs, err := e.cases.Get(ctx, caseID)
	if err != nil {
		return nil, err
	}
	carriers, err := e.carriers.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	now := e.now()
	results := make([]Result, 0, len(carriers))
	for _, carrier := range carriers {
		if r, ok := e.evaluate(carrier, *cs, c, now); ok {
			results = append(results, r)
		}
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	e.log.Debugw("matching complete", map[string]any{
		"case_id": caseID, "carriers": len(carriers), "candidates": len(results),
	})
	return results, nil
}

// evaluate applies the hard exclusions, then scores. A carrier failing any
// exclusion is omitted entirely, not penalized.
func (e *Engine) evaluate(carrier model.Carrier, cs model.Case, crit Criteria, now time.Time) (Result, bool) {
	var reasons []string

	if !e.model.PermitValid(carrier, cs.WasteType, now) {
		return Result{}, false
	}
	reasons = append(reasons, fmt.Sprintf("holds a valid permit for %s", cs.WasteType))

	if !geo.CarrierContains(carrier, cs.Site) {
		return Result{}, false
	}
	reasons = append(reasons, "site is within service area")

	dist, ok := geo.CarrierDistance(carrier, cs.Site)
	if !ok || dist > crit.MaxDistanceM {
		return Result{}, false
	}

	if carrier.ReliabilityScore < crit.MinReliability {
		return Result{}, false
	}

	score, b := e.model.Score(carrier, cs, dist, crit.MaxDistanceM)
	reasons = append(reasons,
		fmt.Sprintf("distance %.0f m (score %.1f)", b.DistanceM, b.DistanceScore),
		fmt.Sprintf("price estimate %.0f (score %.1f)", b.PriceEstimate, b.PriceScore),
		fmt.Sprintf("reliability %.2f (score %.1f)", carrier.ReliabilityScore, b.ReliabilityScore),
	)
	return Result{Carrier: carrier, Score: score, Reasons: reasons, Breakdown: b}, true
}

// Candidates converts results into the compact cached form.
func Candidates(results []Result) []model.Candidate {
	out := make([]model.Candidate, len(results))
	for i, r := range results {
		out[i] = model.Candidate{CarrierID: r.Carrier.ID, Score: r.Score, Reasons: r.Reasons}
	}
	return out
}
