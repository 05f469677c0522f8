package alerts

import (
	"crypto/sha256"
	"fmt"
	"strconv"

	"github.com/dpup/trafficwatch/server/internal/lib/geo"
)

// RegionFingerprint identifies detections owned by a region
func RegionFingerprint(regionID int64) string {
	return "region:" + strconv.FormatInt(regionID, 10)
}

// RouteFingerprint identifies detections with no owning region by their
// rounded endpoints, so repeat queries for the same trip share a key.
// Coordinates are rounded to 4 decimals (about 11m).
func RouteFingerprint(origin, destination geo.Point) string {
	signature := fmt.Sprintf("%.4f,%.4f|%.4f,%.4f",
		origin.Latitude, origin.Longitude, destination.Latitude, destination.Longitude)

	hash := sha256.Sum256([]byte(signature))
	return fmt.Sprintf("route:%x", hash[:8])
}

// ContentHash fingerprints a composed message input for caching
func ContentHash(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
