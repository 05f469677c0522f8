// Package directions describes the route-with-traffic data the detection
// engine consumes, independent of any one upstream provider.
package directions

import (
	"context"
	"fmt"
	"time"

	"github.com/dpup/trafficwatch/server/internal/lib/geo"
)

// Default query options used by the detection engine
const (
	TrafficModelBestGuess   = "best_guess"
	TrafficModelPessimistic = "pessimistic"
	TrafficModelOptimistic  = "optimistic"
)

// Options controls a directions query
type Options struct {
	TrafficModel  string
	Alternatives  bool
	DepartureTime time.Time // zero means now
}

// Step is the smallest unit of a route with nominal and live durations
type Step struct {
	DistanceMeters         int        `json:"distance_meters"`
	NominalDurationSeconds int        `json:"nominal_duration_seconds"`
	LiveDurationSeconds    int        `json:"live_duration_seconds"`
	StartLocation          *geo.Point `json:"start_location,omitempty"`
	EndLocation            *geo.Point `json:"end_location,omitempty"`
	Polyline               string     `json:"polyline,omitempty"`
}

// Leg is an origin-to-destination hop made of ordered steps
type Leg struct {
	DistanceMeters         int    `json:"distance_meters"`
	NominalDurationSeconds int    `json:"nominal_duration_seconds"`
	LiveDurationSeconds    int    `json:"live_duration_seconds"`
	StartAddress           string `json:"start_address,omitempty"`
	EndAddress             string `json:"end_address,omitempty"`
	Steps                  []Step `json:"steps"`
}

// Route is one candidate route returned for a query
type Route struct {
	Summary          string `json:"summary"`
	OverviewPolyline string `json:"overview_polyline,omitempty"`
	Legs             []Leg  `json:"legs"`
}

// Result holds every candidate route for one query
type Result struct {
	Routes []Route `json:"routes"`
}

// Provider returns candidate routes with live traffic between two points
type Provider interface {
	GetDirections(ctx context.Context, origin, destination geo.Point, opts Options) (*Result, error)
}

// Geocoder resolves a coordinate to a human readable address
type Geocoder interface {
	ReverseGeocode(ctx context.Context, point geo.Point) (string, error)
}

// ProviderError reports a non-success upstream status
type ProviderError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *ProviderError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("directions provider error %d (%s): %s", e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("directions provider error %d: %s", e.StatusCode, e.Message)
}

// DistanceMeters sums step distances over every leg
func (r Route) DistanceMeters() int {
	var total int
	for _, leg := range r.Legs {
		for _, step := range leg.Steps {
			total += step.DistanceMeters
		}
	}
	return total
}

// Durations sums nominal and live durations over every leg
func (r Route) Durations() (nominalSeconds, liveSeconds int) {
	for _, leg := range r.Legs {
		for _, step := range leg.Steps {
			nominalSeconds += step.NominalDurationSeconds
			liveSeconds += step.LiveDurationSeconds
		}
	}
	return nominalSeconds, liveSeconds
}
