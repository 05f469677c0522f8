package geo

// Point represents a geographic coordinate
type Point struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
}

// Polyline represents an encoded polyline with optional decoded points
type Polyline struct {
	EncodedPolyline string  `json:"encoded_polyline"`
	Points          []Point `json:"points"`
}

// BoundingBox is an axis-aligned lat/lng box
type BoundingBox struct {
	MinLatitude  float64 `json:"min_lat"`
	MaxLatitude  float64 `json:"max_lat"`
	MinLongitude float64 `json:"min_lng"`
	MaxLongitude float64 `json:"max_lng"`
}
