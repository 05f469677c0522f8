package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/dpup/trafficwatch/server/internal/clients/google"
	"github.com/dpup/trafficwatch/server/internal/lib/alerts"
	"github.com/dpup/trafficwatch/server/internal/lib/congestion"
	"github.com/dpup/trafficwatch/server/internal/lib/directions"
	"github.com/dpup/trafficwatch/server/internal/lib/geo"
	"github.com/dpup/trafficwatch/server/internal/lib/routing"
)

func main() {
	var (
		apiKey    = flag.String("api-key", "", "Google Maps API key (or set GOOGLE_API_KEY env var)")
		originStr = flag.String("origin", "38.067400,-120.540200", "Origin coordinates (lat,lon)")
		destStr   = flag.String("dest", "38.139117,-120.456111", "Destination coordinates (lat,lon)")
		model     = flag.String("traffic-model", directions.TrafficModelBestGuess, "Traffic model: best_guess, pessimistic or optimistic")
		help      = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		fmt.Printf("Route Congestion Check\n\n")
		fmt.Printf("Fetches live alternatives and reports how the alert engine would judge them.\n\n")
		fmt.Printf("Usage: %s [options]\n\n", os.Args[0])
		fmt.Printf("Options:\n")
		flag.PrintDefaults()
		fmt.Printf("\nExamples:\n")
		fmt.Printf("  %s -api-key=YOUR_KEY\n", os.Args[0])
		fmt.Printf("  %s -origin=\"37.7749,-122.4194\" -dest=\"37.8044,-122.2712\"\n", os.Args[0])
		return
	}

	_ = godotenv.Load()

	key := *apiKey
	if key == "" {
		key = os.Getenv("GOOGLE_API_KEY")
	}
	if key == "" {
		log.Fatal("Google Maps API key required. Use -api-key flag or GOOGLE_API_KEY env var")
	}

	origin, err := parsePoint(*originStr)
	if err != nil {
		log.Fatalf("Invalid origin coordinates: %v", err)
	}
	destination, err := parsePoint(*destStr)
	if err != nil {
		log.Fatalf("Invalid destination coordinates: %v", err)
	}

	fmt.Printf("Route Congestion Check\n")
	fmt.Printf("======================\n")
	fmt.Printf("Origin: %.6f, %.6f\n", origin.Latitude, origin.Longitude)
	fmt.Printf("Destination: %.6f, %.6f\n", destination.Latitude, destination.Longitude)
	fmt.Printf("Straight line: %.2f km\n\n", geo.DistanceKm(origin, destination))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := google.NewClient(key)
	res, err := client.GetDirections(ctx, origin, destination, directions.Options{
		TrafficModel: *model,
		Alternatives: true,
	})
	if err != nil {
		log.Fatalf("GetDirections failed: %v", err)
	}

	ranked, err := routing.Rank(res.Routes, congestion.DisplayScale)
	if err != nil {
		log.Fatalf("Ranking failed: %v", err)
	}

	fmt.Printf("Alternatives (least congested first):\n")
	for _, r := range ranked {
		fmt.Printf("  #%d %-30s %6.2f km  delay %4ds  congested %.2f km  %s\n",
			r.Index, r.Summary, r.DistanceKm, r.DelaySeconds,
			r.Analysis.TotalCongestedKm, r.Analysis.Severity)
		for _, s := range r.Analysis.Segments {
			fmt.Printf("      %-8s factor %.2f over %.2f km\n", s.Tier, s.Factor, s.DistanceKm)
		}
	}

	worst, err := routing.SelectWorst(res.Routes, congestion.AlertScale)
	if err != nil {
		log.Fatalf("Selection failed: %v", err)
	}

	threshold := alerts.DefaultEngineConfig().AlertThresholdKm
	fmt.Printf("\nWorst alternative: #%d %s\n", worst.Index, worst.Summary)
	if worst.Analysis.TotalCongestedKm > threshold {
		fmt.Printf("Verdict: would raise a %s alert (%.2f km > %.2f km)\n",
			worst.Analysis.Severity, worst.Analysis.TotalCongestedKm, threshold)
	} else {
		fmt.Printf("Verdict: below the alert threshold (%.2f km <= %.2f km)\n",
			worst.Analysis.TotalCongestedKm, threshold)
	}
}

func parsePoint(s string) (geo.Point, error) {
	var lat, lng float64
	if _, err := fmt.Sscanf(s, "%f,%f", &lat, &lng); err != nil {
		return geo.Point{}, err
	}
	return geo.NewPoint(lat, lng)
}
