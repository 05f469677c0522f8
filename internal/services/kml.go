package services

import (
	"fmt"
	"io"
	"math"

	"github.com/twpayne/go-kml"

	"github.com/dpup/trafficwatch/server/internal/lib/alerts"
	"github.com/dpup/trafficwatch/server/internal/lib/geo"
	"github.com/dpup/trafficwatch/server/internal/lib/routing"
)

const circleVertices = 36

// WriteKML renders alerts as congested stretches and regions as their
// boundaries, for viewing in mapping tools
func WriteKML(w io.Writer, name string, openAlerts []alerts.Alert, regions []routing.Region) error {
	var elements []kml.Element
	elements = append(elements, kml.Name(name))

	for _, a := range openAlerts {
		elements = append(elements, kml.Placemark(
			kml.Name(fmt.Sprintf("%s congestion (%.2f km)", a.Severity, a.CongestedLengthKm)),
			kml.Description(alertDescription(a)),
			kml.LineString(
				kml.Tessellate(true),
				kml.Coordinates(coordinate(a.Start), coordinate(a.End)),
			),
		))
	}

	for _, r := range regions {
		if geometry := regionGeometry(r); geometry != nil {
			elements = append(elements, kml.Placemark(
				kml.Name(r.Name),
				kml.Description(fmt.Sprintf("Region %d (%s)", r.ID, r.Boundary.Kind)),
				geometry,
			))
		}
	}

	return kml.KML(kml.Document(elements...)).WriteIndent(w, "", "  ")
}

func alertDescription(a alerts.Alert) string {
	desc := fmt.Sprintf("Status: %s\nDetected: %s", a.Status, a.DetectedAt.UTC().Format("2006-01-02 15:04 MST"))
	if a.StartAddress != nil {
		desc += "\nFrom: " + *a.StartAddress
	}
	if a.EndAddress != nil {
		desc += "\nTo: " + *a.EndAddress
	}
	return desc
}

func regionGeometry(r routing.Region) kml.Element {
	switch r.Boundary.Kind {
	case routing.Corridor:
		return kml.LineString(
			kml.Tessellate(true),
			kml.Coordinates(coordinate(r.Boundary.Start), coordinate(r.Boundary.End)),
		)
	case routing.Radius:
		return kml.Polygon(kml.OuterBoundaryIs(kml.LinearRing(
			kml.Coordinates(circle(r.Boundary.Center, r.Boundary.RadiusKm)...),
		)))
	default:
		return nil
	}
}

// circle approximates a radius boundary as a closed ring
func circle(center geo.Point, radiusKm float64) []kml.Coordinate {
	latDelta := radiusKm / (geo.EarthRadiusKm * math.Pi / 180)
	lngDelta := latDelta / math.Cos(center.Latitude*math.Pi/180)

	coords := make([]kml.Coordinate, 0, circleVertices+1)
	for i := 0; i <= circleVertices; i++ {
		theta := 2 * math.Pi * float64(i%circleVertices) / circleVertices
		coords = append(coords, kml.Coordinate{
			Lon: center.Longitude + lngDelta*math.Cos(theta),
			Lat: center.Latitude + latDelta*math.Sin(theta),
		})
	}
	return coords
}

func coordinate(p geo.Point) kml.Coordinate {
	return kml.Coordinate{Lon: p.Longitude, Lat: p.Latitude}
}
