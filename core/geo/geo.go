// Package geo provides the distance and containment primitives used by
// carrier matching.
package geo

import (
	"math"

	"github.com/hfujita/wastematch/core/errs"
	"github.com/hfujita/wastematch/core/model"
)

// EarthRadiusM is the spherical Earth radius used for great-circle distances.
const EarthRadiusM = 6371000.0

// Distance returns the great-circle distance between two points in meters,
// computed with the haversine formula.
func Distance(a, b model.Point) float64 {
	dLat := radians(b.Lat - a.Lat)
	dLng := radians(b.Lng - a.Lng)
	sinLat := math.Sin(dLat / 2)
	sinLng := math.Sin(dLng / 2)
	h := sinLat*sinLat + math.Cos(radians(a.Lat))*math.Cos(radians(b.Lat))*sinLng*sinLng
	return EarthRadiusM * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

// ValidatePoint rejects coordinates outside the WGS84 domain.
func ValidatePoint(p model.Point) error {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) || p.Lat < -90 || p.Lat > 90 || p.Lng < -180 || p.Lng > 180 {
		return errs.Validation("coordinates (%v, %v) out of range", p.Lat, p.Lng)
	}
	return nil
}

// CarrierContains reports whether any of the carrier's service areas contains
// the point. Malformed areas never match.
func CarrierContains(c model.Carrier, p model.Point) bool {
	for _, area := range c.ServiceAreas {
		if AreaContains(area, p) {
			return true
		}
	}
	return false
}

// AreaContains tests a single service area. A radius area without a center or
// radius, or a polygon with fewer than three vertices, is treated as
// non-matching rather than an error.
func AreaContains(a model.ServiceArea, p model.Point) bool {
	switch a.Kind {
	case model.AreaRadius:
		if a.Center == nil || a.RadiusM <= 0 {
			return false
		}
		return Distance(*a.Center, p) <= a.RadiusM
	case model.AreaPolygon:
		if len(a.Vertices) < 3 {
			return false
		}
		return pointInPolygon(p, a.Vertices)
	}
	return false
}

// pointInPolygon runs the standard ray-casting test over the vertex sequence.
func pointInPolygon(p model.Point, vs []model.Point) bool {
	inside := false
	for i, j := 0, len(vs)-1; i < len(vs); j, i = i, i+1 {
		xi, yi := vs[i].Lat, vs[i].Lng
		xj, yj := vs[j].Lat, vs[j].Lng
		if (yi > p.Lng) != (yj > p.Lng) &&
			p.Lat < (xj-xi)*(p.Lng-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside
}

// CarrierDistance returns the distance from p to the nearest service-area
// reference point of the carrier. Radius areas use their center; polygon
// areas use the vertex centroid. The second return value is false when the
// carrier has no well-formed area.
func CarrierDistance(c model.Carrier, p model.Point) (float64, bool) {
	best := math.Inf(1)
	found := false
	for _, area := range c.ServiceAreas {
		ref, ok := areaReference(area)
		if !ok {
			continue
		}
		if d := Distance(ref, p); d < best {
			best = d
			found = true
		}
	}
	return best, found
}

func areaReference(a model.ServiceArea) (model.Point, bool) {
	switch a.Kind {
	case model.AreaRadius:
		if a.Center == nil || a.RadiusM <= 0 {
			return model.Point{}, false
		}
		return *a.Center, true
	case model.AreaPolygon:
		if len(a.Vertices) < 3 {
			return model.Point{}, false
		}
		var lat, lng float64
		for _, v := range a.Vertices {
			lat += v.Lat
			lng += v.Lng
		}
		n := float64(len(a.Vertices))
		return model.Point{Lat: lat / n, Lng: lng / n}, true
	}
	return model.Point{}, false
}
