package routing

import (
	"errors"
	"sort"

	"github.com/dpup/trafficwatch/server/internal/lib/congestion"
	"github.com/dpup/trafficwatch/server/internal/lib/directions"
	"github.com/dpup/trafficwatch/server/internal/lib/geo"
)

// ErrNoRoutesAvailable means the provider returned zero candidate routes.
// Callers treat it as "no traffic signal".
var ErrNoRoutesAvailable = errors.New("routing: no routes available")

// SelectWorst returns the route with the largest total congested length.
// Ties go to the lowest route index.
func SelectWorst(routes []directions.Route, scale congestion.Scale) (RankedRoute, error) {
	if len(routes) == 0 {
		return RankedRoute{}, ErrNoRoutesAvailable
	}

	worst := rank(0, routes[0], scale)
	for i := 1; i < len(routes); i++ {
		candidate := rank(i, routes[i], scale)
		if candidate.Analysis.TotalCongestedKm > worst.Analysis.TotalCongestedKm {
			worst = candidate
		}
	}

	return worst, nil
}

// Rank analyzes every alternative and orders them from least to most
// congested, keeping provider order among equals.
func Rank(routes []directions.Route, scale congestion.Scale) ([]RankedRoute, error) {
	if len(routes) == 0 {
		return nil, ErrNoRoutesAvailable
	}

	ranked := make([]RankedRoute, len(routes))
	for i, r := range routes {
		ranked[i] = rank(i, r, scale)
		ranked[i].Path, ranked[i].PathLengthKm = decodePath(r.OverviewPolyline)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Analysis.TotalCongestedKm < ranked[j].Analysis.TotalCongestedKm
	})

	return ranked, nil
}

func rank(index int, route directions.Route, scale congestion.Scale) RankedRoute {
	nominal, live := route.Durations()
	return RankedRoute{
		Index:          index,
		Route:          route,
		Summary:        route.Summary,
		Analysis:       congestion.Analyze(route, scale),
		DistanceKm:     float64(route.DistanceMeters()) / 1000,
		NominalSeconds: nominal,
		LiveSeconds:    live,
		DelaySeconds:   max(live-nominal, 0),
	}
}

// decodePath decodes the overview polyline for display. A missing or broken
// polyline yields no path rather than failing the ranking.
func decodePath(encoded string) ([]geo.Point, float64) {
	if encoded == "" {
		return nil, 0
	}
	points, err := geo.DecodePolyline(encoded)
	if err != nil {
		return nil, 0
	}
	return points, geo.PathLengthKm(points)
}
