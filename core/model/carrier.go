package model

import "time"

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Permit is a time-bounded authorization covering specific waste types.
type Permit struct {
	Number     string    `json:"number"`
	Type       string    `json:"type,omitempty"`
	ValidFrom  time.Time `json:"valid_from"`
	ValidTo    time.Time `json:"valid_to"`
	WasteTypes []string  `json:"waste_types"`
}

// Covers reports whether the permit authorizes wasteType at the given time.
func (p Permit) Covers(wasteType string, now time.Time) bool {
	if now.Before(p.ValidFrom) || now.After(p.ValidTo) {
		return false
	}
	for _, wt := range p.WasteTypes {
		if wt == wasteType {
			return true
		}
	}
	return false
}

// AreaKind discriminates the two geofence shapes.
type AreaKind string

const (
	AreaRadius  AreaKind = "radius"
	AreaPolygon AreaKind = "polygon"
)

// ServiceArea is a geofence defining where a carrier operates. Radius areas
// need Center and RadiusM; polygon areas need at least three Vertices.
type ServiceArea struct {
	Kind     AreaKind `json:"kind"`
	Center   *Point   `json:"center,omitempty"`
	RadiusM  float64  `json:"radius_m,omitempty"`
	Vertices []Point  `json:"vertices,omitempty"`
}

// PriceEntry is one row of a carrier's price matrix.
type PriceEntry struct {
	WasteType     string  `json:"waste_type"`
	BasePrice     float64 `json:"base_price"`
	PricePerUnit  float64 `json:"price_per_unit"`
	Unit          string  `json:"unit,omitempty"`
	MinimumCharge float64 `json:"minimum_charge,omitempty"`
}

// Carrier is a collection-and-transport business with permits, service areas
// and pricing.
type Carrier struct {
	ID               string        `json:"id"`
	Name             string        `json:"name,omitempty"`
	Permits          []Permit      `json:"permits"`
	ServiceAreas     []ServiceArea `json:"service_areas"`
	PriceMatrix      []PriceEntry  `json:"price_matrix"`
	ReliabilityScore float64       `json:"reliability_score"`
	Active           bool          `json:"active"`
}

// PriceFor returns the price matrix entry for wasteType, if any.
func (c *Carrier) PriceFor(wasteType string) (PriceEntry, bool) {
	for _, e := range c.PriceMatrix {
		if e.WasteType == wasteType {
			return e, true
		}
	}
	return PriceEntry{}, false
}
