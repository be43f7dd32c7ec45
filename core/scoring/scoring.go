// Package scoring evaluates carriers against cases: permit validity, price
// estimation and the weighted total score used for ranking.
package scoring

import (
	"time"

	"github.com/hfujita/wastematch/core/model"
)

// Model computes carrier scores. It is stateless and safe for concurrent use.
type Model struct {
	cfg Config
}

// New returns a Model, filling missing config fields with defaults.
func New(cfg Config) *Model {
	cfg.SetDefaults()
	return &Model{cfg: cfg}
}

// Config returns the effective configuration.
func (m *Model) Config() Config { return m.cfg }

// PermitValid reports whether the carrier holds at least one permit covering
// wasteType at the given time.
func (m *Model) PermitValid(c model.Carrier, wasteType string, now time.Time) bool {
	for _, p := range c.Permits {
		if p.Covers(wasteType, now) {
			return true
		}
	}
	return false
}

// PriceEstimate estimates what the carrier would charge for the case:
// basePrice + estimatedWeight × pricePerUnit, substituting the configured
// default weight when the case has none. A carrier without a price matrix
// entry for the waste type estimates to zero; missing pricing alone never
// excludes a carrier.
func (m *Model) PriceEstimate(c model.Carrier, cs model.Case) float64 {
	entry, ok := c.PriceFor(cs.WasteType)
	if !ok {
		return 0
	}
	weight := m.cfg.DefaultWeightKg
	if cs.EstimatedWeightKg != nil {
		weight = *cs.EstimatedWeightKg
	}
	return entry.BasePrice + weight*entry.PricePerUnit
}

// Breakdown carries the per-component sub-scores for audit output.
type Breakdown struct {
	DistanceM     float64 `json:"distance_m"`
	PriceEstimate float64 `json:"price_estimate"`

	DistanceScore    float64 `json:"distance_score"`
	PriceScore       float64 `json:"price_score"`
	ReliabilityScore float64 `json:"reliability_score"`
}

// Score computes the weighted total for a carrier at the given distance from
// the case site. Each component is normalized to [0, 100]; maxDistanceM
// overrides the configured normalizer when positive (matching criteria may
// tighten it per query).
func (m *Model) Score(c model.Carrier, cs model.Case, distanceM, maxDistanceM float64) (float64, Breakdown) {
	if maxDistanceM <= 0 {
		maxDistanceM = m.cfg.MaxDistanceM
	}

	b := Breakdown{DistanceM: distanceM, PriceEstimate: m.PriceEstimate(c, cs)}
	b.DistanceScore = clampScore(100 - distanceM/maxDistanceM*100)
	b.PriceScore = clampScore(100 - b.PriceEstimate/m.cfg.MaxPriceNorm*100)
	b.ReliabilityScore = c.ReliabilityScore * 100

	total := m.cfg.DistanceWeight*b.DistanceScore +
		m.cfg.PriceWeight*b.PriceScore +
		m.cfg.ReliabilityWeight*b.ReliabilityScore
	return total, b
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
