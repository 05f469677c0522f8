package congestion

import "github.com/dpup/trafficwatch/server/internal/lib/geo"

// Severity is a categorical congestion level
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityModerate Severity = "MODERATE"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Tier is the per-segment congestion tier
type Tier string

const (
	TierModerate Tier = "MODERATE"
	TierHigh     Tier = "HIGH"
)

// Segment is a congested step of a route
type Segment struct {
	Start      *geo.Point `json:"start,omitempty"`
	End        *geo.Point `json:"end,omitempty"`
	DistanceKm float64    `json:"distance_km"`
	Factor     float64    `json:"congestion_factor"`
	Tier       Tier       `json:"tier"`
}

// Analysis is the congestion judgment for one candidate route
type Analysis struct {
	Segments         []Segment `json:"segments"`
	TotalCongestedKm float64   `json:"total_congested_km"`
	Severity         Severity  `json:"severity"`
	Scale            Scale     `json:"scale"`
}

// FirstCoordinate returns the start of the first segment that carries one
func (a Analysis) FirstCoordinate() (geo.Point, bool) {
	for _, s := range a.Segments {
		if s.Start != nil {
			return *s.Start, true
		}
	}
	return geo.Point{}, false
}

// LastCoordinate returns the end of the last segment that carries one
func (a Analysis) LastCoordinate() (geo.Point, bool) {
	for i := len(a.Segments) - 1; i >= 0; i-- {
		if a.Segments[i].End != nil {
			return *a.Segments[i].End, true
		}
	}
	return geo.Point{}, false
}
