package services

import (
	"bytes"
	"encoding/xml"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dpup/trafficwatch/server/internal/lib/alerts"
	"github.com/dpup/trafficwatch/server/internal/lib/congestion"
	"github.com/dpup/trafficwatch/server/internal/lib/geo"
	"github.com/dpup/trafficwatch/server/internal/lib/routing"
)

func TestWriteKML(t *testing.T) {
	address := "Main St, Murphys, CA"
	openAlerts := []alerts.Alert{{
		ID:                "a-1",
		Severity:          congestion.SeverityHigh,
		CongestedLengthKm: 3.4,
		Start:             geo.Point{Latitude: 38.1391, Longitude: -120.4561},
		End:               geo.Point{Latitude: 38.2458, Longitude: -120.3486},
		StartAddress:      &address,
		Status:            alerts.StatusPending,
		DetectedAt:        time.Date(2026, 3, 14, 8, 30, 0, 0, time.UTC),
	}}
	regions := []routing.Region{
		{ID: 1, Name: "Hwy 4 corridor", Boundary: routing.Boundary{
			Kind:  routing.Corridor,
			Start: geo.Point{Latitude: 38.0675, Longitude: -120.5436},
			End:   geo.Point{Latitude: 38.1391, Longitude: -120.4561},
		}},
		{ID: 2, Name: "Arnold", Boundary: routing.Boundary{
			Kind:     routing.Radius,
			Center:   geo.Point{Latitude: 38.2458, Longitude: -120.3486},
			RadiusKm: 3,
		}},
		{ID: 3, Name: "Broken", Boundary: routing.Boundary{Kind: "polygon"}},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteKML(&buf, "Traffic alerts", openAlerts, regions))
	out := buf.String()

	assert.Contains(t, out, "<kml")
	assert.Contains(t, out, "HIGH congestion (3.40 km)")
	assert.Contains(t, out, "From: Main St, Murphys, CA")
	assert.Contains(t, out, "-120.4561,38.1391")
	assert.Contains(t, out, "Hwy 4 corridor")
	assert.Contains(t, out, "<Polygon>")
	assert.NotContains(t, out, "Broken")
	assert.Equal(t, 3, strings.Count(out, "<Placemark>"))

	// Output is well-formed XML
	dec := xml.NewDecoder(strings.NewReader(out))
	for {
		if _, err := dec.Token(); err != nil {
			assert.Equal(t, "EOF", err.Error())
			break
		}
	}
}

func TestCircleIsClosedAndSized(t *testing.T) {
	center := geo.Point{Latitude: 38.2458, Longitude: -120.3486}
	ring := circle(center, 3)

	require.Len(t, ring, circleVertices+1)
	assert.Equal(t, ring[0], ring[len(ring)-1])

	for _, c := range ring {
		d := geo.DistanceKm(center, geo.Point{Latitude: c.Lat, Longitude: c.Lon})
		assert.InDelta(t, 3.0, d, 0.05)
	}
}
