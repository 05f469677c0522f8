package routing

import (
	"math"

	"github.com/dpup/trafficwatch/server/internal/lib/geo"
)

// DefaultCorridorToleranceKm is how close a point must be to a corridor endpoint
const DefaultCorridorToleranceKm = 2.0

// RegionMatcher finds the responsible region for a point
type RegionMatcher interface {
	// Match returns the closest eligible region covering point, if any
	Match(point geo.Point, regions []Region) (Match, bool)

	// Distance returns the region's distance from point and whether it covers it
	Distance(point geo.Point, region Region) (float64, bool)
}

// regionMatcher implements the RegionMatcher interface
type regionMatcher struct {
	corridorToleranceKm float64
}

// NewRegionMatcher creates a RegionMatcher. Corridor regions cover points
// within toleranceKm of either endpoint.
func NewRegionMatcher(toleranceKm float64) RegionMatcher {
	if toleranceKm <= 0 {
		toleranceKm = DefaultCorridorToleranceKm
	}
	return &regionMatcher{corridorToleranceKm: toleranceKm}
}

// Match iterates every active region with an active owner and keeps the
// closest one that covers the point. Equal distances resolve to the lowest id.
func (m *regionMatcher) Match(point geo.Point, regions []Region) (Match, bool) {
	best := Match{DistanceKm: math.Inf(1)}
	found := false

	for _, region := range regions {
		if !region.Eligible() {
			continue
		}

		distance, covers := m.Distance(point, region)
		if !covers {
			continue
		}

		if !found || distance < best.DistanceKm ||
			(distance == best.DistanceKm && region.ID < best.Region.ID) {
			best = Match{Region: region, DistanceKm: distance}
			found = true
		}
	}

	return best, found
}

// Distance measures radius regions from their center and corridor regions
// from the nearer endpoint.
func (m *regionMatcher) Distance(point geo.Point, region Region) (float64, bool) {
	switch region.Boundary.Kind {
	case Radius:
		d := geo.DistanceKm(point, region.Boundary.Center)
		return d, d <= region.Boundary.RadiusKm
	case Corridor:
		d := math.Min(
			geo.DistanceKm(point, region.Boundary.Start),
			geo.DistanceKm(point, region.Boundary.End),
		)
		return d, d <= m.corridorToleranceKm
	default:
		return math.Inf(1), false
	}
}
