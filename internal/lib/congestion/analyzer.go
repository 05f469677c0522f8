// Package congestion turns a route's nominal and live step durations into
// congested segments, a total congested length and a severity.
package congestion

import (
	"github.com/dpup/trafficwatch/server/internal/lib/directions"
	"github.com/dpup/trafficwatch/server/internal/lib/geo"
)

const (
	// CongestedFactor is the live/nominal ratio above which a step is congested
	CongestedFactor = 1.2

	// HighFactor is the ratio above which a congested segment is HIGH tier
	HighFactor = 2.0
)

// Scale maps a total congested length to a Severity
type Scale string

const (
	// AlertScale is used when creating alerts: CRITICAL > 5km, HIGH > 3km,
	// MEDIUM > 1.5km, otherwise LOW
	AlertScale Scale = "alert"

	// DisplayScale is used for route comparison and daily route checks:
	// HIGH > 1km, MODERATE > 0.5km, otherwise LOW
	DisplayScale Scale = "display"
)

// Classify returns the severity of a congested length under the scale
func (s Scale) Classify(congestedKm float64) Severity {
	switch s {
	case DisplayScale:
		return displaySeverity(congestedKm)
	default:
		return alertSeverity(congestedKm)
	}
}

func alertSeverity(km float64) Severity {
	switch {
	case km > 5:
		return SeverityCritical
	case km > 3:
		return SeverityHigh
	case km > 1.5:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

func displaySeverity(km float64) Severity {
	switch {
	case km > 1:
		return SeverityHigh
	case km > 0.5:
		return SeverityModerate
	default:
		return SeverityLow
	}
}

// Factor returns live/nominal, or 1 when the nominal duration is zero
func Factor(step directions.Step) float64 {
	if step.NominalDurationSeconds == 0 {
		return 1
	}
	return float64(step.LiveDurationSeconds) / float64(step.NominalDurationSeconds)
}

// Analyze scores every step of the route and classifies the total under scale.
// It performs no I/O and returns identical output for identical input.
func Analyze(route directions.Route, scale Scale) Analysis {
	analysis := Analysis{
		Segments: []Segment{},
		Scale:    scale,
	}

	for _, leg := range route.Legs {
		for _, step := range leg.Steps {
			factor := Factor(step)
			if factor <= CongestedFactor {
				continue
			}

			tier := TierModerate
			if factor > HighFactor {
				tier = TierHigh
			}

			segment := Segment{
				Start:      copyPoint(step.StartLocation),
				End:        copyPoint(step.EndLocation),
				DistanceKm: float64(max(step.DistanceMeters, 0)) / 1000,
				Factor:     factor,
				Tier:       tier,
			}
			analysis.Segments = append(analysis.Segments, segment)
			analysis.TotalCongestedKm += segment.DistanceKm
		}
	}

	analysis.Severity = scale.Classify(analysis.TotalCongestedKm)

	return analysis
}

func copyPoint(p *geo.Point) *geo.Point {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}
