package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/dpup/trafficwatch/server/internal/lib/directions"
	"github.com/dpup/trafficwatch/server/internal/lib/geo"
)

// DefaultBaseURL is the Google Maps web services root
const DefaultBaseURL = "https://maps.googleapis.com/maps/api"

// ErrNoAddress is returned when reverse geocoding finds no result
var ErrNoAddress = errors.New("google: no address for coordinate")

// HTTPDoer is the subset of *http.Client used by the client
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client provides access to the Google Directions and Geocoding APIs
type Client struct {
	apiKey     string
	httpClient HTTPDoer
	baseURL    string
}

var (
	_ directions.Provider = (*Client)(nil)
	_ directions.Geocoder = (*Client)(nil)
)

// NewClient creates a new Google Maps client
func NewClient(apiKey string) *Client {
	return NewClientWithHTTPDoer(apiKey, DefaultBaseURL, &http.Client{
		Timeout: 30 * time.Second,
	})
}

// NewClientWithHTTPDoer creates a client with a custom transport, used in tests
func NewClientWithHTTPDoer(apiKey, baseURL string, doer HTTPDoer) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		apiKey:     apiKey,
		httpClient: doer,
		baseURL:    baseURL,
	}
}

// GetDirections requests candidate routes with live traffic durations
func (c *Client) GetDirections(ctx context.Context, origin, destination geo.Point, opts directions.Options) (*directions.Result, error) {
	params := url.Values{}
	params.Set("origin", formatLatLng(origin))
	params.Set("destination", formatLatLng(destination))
	params.Set("key", c.apiKey)
	params.Set("alternatives", strconv.FormatBool(opts.Alternatives))

	trafficModel := opts.TrafficModel
	if trafficModel == "" {
		trafficModel = directions.TrafficModelBestGuess
	}
	params.Set("traffic_model", trafficModel)

	// duration_in_traffic is only returned when a departure time is given
	if opts.DepartureTime.IsZero() {
		params.Set("departure_time", "now")
	} else {
		params.Set("departure_time", strconv.FormatInt(opts.DepartureTime.Unix(), 10))
	}

	var response DirectionsResponse
	if err := c.get(ctx, "/directions/json", params, &response); err != nil {
		return nil, err
	}

	switch response.Status {
	case "OK":
	case "ZERO_RESULTS":
		return &directions.Result{Routes: []directions.Route{}}, nil
	default:
		return nil, &directions.ProviderError{
			StatusCode: http.StatusOK,
			Status:     response.Status,
			Message:    response.ErrorMessage,
		}
	}

	result := &directions.Result{Routes: make([]directions.Route, 0, len(response.Routes))}
	for _, route := range response.Routes {
		result.Routes = append(result.Routes, convertRoute(route))
	}

	return result, nil
}

// ReverseGeocode returns the formatted address of the first geocoding result
func (c *Client) ReverseGeocode(ctx context.Context, point geo.Point) (string, error) {
	params := url.Values{}
	params.Set("latlng", formatLatLng(point))
	params.Set("key", c.apiKey)

	var response GeocodeResponse
	if err := c.get(ctx, "/geocode/json", params, &response); err != nil {
		return "", err
	}

	switch response.Status {
	case "OK":
	case "ZERO_RESULTS":
		return "", ErrNoAddress
	default:
		return "", &directions.ProviderError{
			StatusCode: http.StatusOK,
			Status:     response.Status,
			Message:    response.ErrorMessage,
		}
	}

	if len(response.Results) == 0 || response.Results[0].FormattedAddress == "" {
		return "", ErrNoAddress
	}

	return response.Results[0].FormattedAddress, nil
}

// get performs a GET against the API and decodes the JSON body into out
func (c *Client) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return &directions.ProviderError{
			StatusCode: resp.StatusCode,
			Status:     "OVER_QUERY_LIMIT",
			Message:    "rate limit exceeded",
		}
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &directions.ProviderError{
			StatusCode: resp.StatusCode,
			Message:    string(body),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

// convertRoute maps the API route shape onto directions.Route. Steps
// without duration_in_traffic use their nominal duration.
func convertRoute(route DirectionsRoute) directions.Route {
	converted := directions.Route{
		Summary:          route.Summary,
		OverviewPolyline: route.OverviewPolyline.Points,
		Legs:             make([]directions.Leg, 0, len(route.Legs)),
	}

	for _, leg := range route.Legs {
		l := directions.Leg{
			DistanceMeters:         leg.Distance.Value,
			NominalDurationSeconds: leg.Duration.Value,
			LiveDurationSeconds:    liveOrNominal(leg.DurationInTraffic, leg.Duration),
			StartAddress:           leg.StartAddress,
			EndAddress:             leg.EndAddress,
			Steps:                  make([]directions.Step, 0, len(leg.Steps)),
		}

		for _, step := range leg.Steps {
			l.Steps = append(l.Steps, directions.Step{
				DistanceMeters:         step.Distance.Value,
				NominalDurationSeconds: step.Duration.Value,
				LiveDurationSeconds:    liveOrNominal(step.DurationInTraffic, step.Duration),
				StartLocation:          step.StartLocation.point(),
				EndLocation:            step.EndLocation.point(),
				Polyline:               step.Polyline.Points,
			})
		}

		converted.Legs = append(converted.Legs, l)
	}

	return converted
}

func liveOrNominal(live *TextValue, nominal TextValue) int {
	if live == nil {
		return nominal.Value
	}
	return live.Value
}

func formatLatLng(p geo.Point) string {
	return strconv.FormatFloat(p.Latitude, 'f', -1, 64) + "," + strconv.FormatFloat(p.Longitude, 'f', -1, 64)
}
