package google

import "github.com/dpup/trafficwatch/server/internal/lib/geo"

// DirectionsResponse represents the Directions API response structure
type DirectionsResponse struct {
	Status       string            `json:"status"`
	ErrorMessage string            `json:"error_message,omitempty"`
	Routes       []DirectionsRoute `json:"routes"`
}

// DirectionsRoute represents a single route in the response
type DirectionsRoute struct {
	Summary          string          `json:"summary"`
	Legs             []DirectionsLeg `json:"legs"`
	OverviewPolyline EncodedPolyline `json:"overview_polyline"`
}

// DirectionsLeg is one origin-to-destination hop
type DirectionsLeg struct {
	Distance          TextValue        `json:"distance"`
	Duration          TextValue        `json:"duration"`
	DurationInTraffic *TextValue       `json:"duration_in_traffic,omitempty"`
	StartAddress      string           `json:"start_address"`
	EndAddress        string           `json:"end_address"`
	Steps             []DirectionsStep `json:"steps"`
}

// DirectionsStep is a single navigation instruction
type DirectionsStep struct {
	Distance          TextValue       `json:"distance"`
	Duration          TextValue       `json:"duration"`
	DurationInTraffic *TextValue      `json:"duration_in_traffic,omitempty"`
	StartLocation     *LatLng         `json:"start_location,omitempty"`
	EndLocation       *LatLng         `json:"end_location,omitempty"`
	Polyline          EncodedPolyline `json:"polyline"`
}

// TextValue pairs a display string with its numeric value (meters or seconds)
type TextValue struct {
	Text  string `json:"text"`
	Value int    `json:"value"`
}

// LatLng is the API coordinate shape
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (l *LatLng) point() *geo.Point {
	if l == nil {
		return nil
	}
	return &geo.Point{Latitude: l.Lat, Longitude: l.Lng}
}

// EncodedPolyline wraps an encoded polyline string
type EncodedPolyline struct {
	Points string `json:"points"`
}

// GeocodeResponse represents the Geocoding API response structure
type GeocodeResponse struct {
	Status       string          `json:"status"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Results      []GeocodeResult `json:"results"`
}

// GeocodeResult is one candidate address
type GeocodeResult struct {
	FormattedAddress string `json:"formatted_address"`
	PlaceID          string `json:"place_id"`
}
