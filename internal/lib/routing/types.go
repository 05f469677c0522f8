package routing

import (
	"github.com/dpup/trafficwatch/server/internal/lib/congestion"
	"github.com/dpup/trafficwatch/server/internal/lib/directions"
	"github.com/dpup/trafficwatch/server/internal/lib/geo"
)

// BoundaryKind identifies how a region's coverage is described
type BoundaryKind string

const (
	Corridor BoundaryKind = "corridor" // start/end pair
	Radius   BoundaryKind = "radius"   // center plus radius
)

// Boundary is either a corridor or a center with radius
type Boundary struct {
	Kind     BoundaryKind `json:"kind"`
	Start    geo.Point    `json:"start,omitempty"`
	End      geo.Point    `json:"end,omitempty"`
	Center   geo.Point    `json:"center,omitempty"`
	RadiusKm float64      `json:"radius_km,omitempty"`
}

// Region is a monitored area owned by a responder
type Region struct {
	ID          int64    `json:"id"`
	OwnerID     string   `json:"owner_id"`
	OwnerActive bool     `json:"owner_active"`
	Name        string   `json:"name"`
	Boundary    Boundary `json:"boundary"`
	IsActive    bool     `json:"is_active"`
}

// Eligible reports whether the region and its owner are both active
func (r Region) Eligible() bool {
	return r.IsActive && r.OwnerActive
}

// Match is the region chosen for a point and its distance from the point
type Match struct {
	Region     Region  `json:"region"`
	DistanceKm float64 `json:"distance_km"`
}

// RankedRoute is one candidate route with its own analysis
type RankedRoute struct {
	Index          int                 `json:"index"`
	Route          directions.Route    `json:"-"`
	Summary        string              `json:"summary"`
	Analysis       congestion.Analysis `json:"analysis"`
	DistanceKm     float64             `json:"distance_km"`
	NominalSeconds int                 `json:"nominal_duration_seconds"`
	LiveSeconds    int                 `json:"live_duration_seconds"`
	DelaySeconds   int                 `json:"delay_seconds"`
	Path           []geo.Point         `json:"path,omitempty"`
	PathLengthKm   float64             `json:"path_length_km,omitempty"`
}
