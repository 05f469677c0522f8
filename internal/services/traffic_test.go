package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dpup/trafficwatch/server/internal/cache"
	"github.com/dpup/trafficwatch/server/internal/lib/alerts"
	"github.com/dpup/trafficwatch/server/internal/lib/directions"
	"github.com/dpup/trafficwatch/server/internal/lib/geo"
	"github.com/dpup/trafficwatch/server/internal/lib/routing"
	"github.com/dpup/trafficwatch/server/internal/repository"
)

type fakeProvider struct {
	mu     sync.Mutex
	result *directions.Result
	err    error
	calls  int
}

func (f *fakeProvider) GetDirections(context.Context, geo.Point, geo.Point, directions.Options) (*directions.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.result, f.err
}

type fakeStore struct {
	alerts        map[string]*alerts.Alert
	regions       []routing.Region
	notifications []alerts.Notification
	lastBox       geo.BoundingBox
	lastStatuses  []alerts.Status
	lastLimit     int
}

func (s *fakeStore) ListActiveRegions(context.Context) ([]routing.Region, error) {
	return s.regions, nil
}

func (s *fakeStore) ListRegionsByOwner(_ context.Context, owner string) ([]routing.Region, error) {
	var out []routing.Region
	for _, r := range s.regions {
		if r.OwnerID == owner {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeStore) GetAlert(_ context.Context, id string) (*alerts.Alert, error) {
	a, ok := s.alerts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return a, nil
}

func (s *fakeStore) UpdateAlertStatus(_ context.Context, id string, status alerts.Status) (*alerts.Alert, error) {
	a, ok := s.alerts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	a.Status = status
	if status == alerts.StatusResolved {
		now := time.Now()
		a.ResolvedAt = &now
	}
	return a, nil
}

func (s *fakeStore) ListAlertsNear(_ context.Context, box geo.BoundingBox, statuses []alerts.Status, limit int) ([]alerts.Alert, error) {
	s.lastBox, s.lastStatuses, s.lastLimit = box, statuses, limit
	var out []alerts.Alert
	for _, a := range s.alerts {
		out = append(out, *a)
	}
	return out, nil
}

func (s *fakeStore) ListUnreadNotifications(_ context.Context, userID string, _ int) ([]alerts.Notification, error) {
	var out []alerts.Notification
	for _, n := range s.notifications {
		if n.RecipientUserID == userID && !n.IsRead {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *fakeStore) MarkNotificationRead(_ context.Context, userID, id string) error {
	for i := range s.notifications {
		if s.notifications[i].ID == id && s.notifications[i].RecipientUserID == userID {
			s.notifications[i].IsRead = true
			return nil
		}
	}
	return repository.ErrNotFound
}

// fakeAuth maps bearer tokens straight to user IDs
type fakeAuth map[string]string

func (a fakeAuth) Verify(token string) (string, error) {
	if userID, ok := a[token]; ok {
		return userID, nil
	}
	return "", errors.New("bad token")
}

var (
	asDriver    = []string{"Authorization", "Bearer driver-token"}
	asResponder = []string{"Authorization", "Bearer responder-token"}
	asStranger  = []string{"Authorization", "Bearer stranger-token"}
)

type testAPI struct {
	mux      *runtime.ServeMux
	detector *fakeDetector
	provider *fakeProvider
	store    *fakeStore
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	api := &testAPI{
		mux:      runtime.NewServeMux(),
		detector: &fakeDetector{},
		provider: &fakeProvider{},
		store:    &fakeStore{alerts: map[string]*alerts.Alert{}},
	}
	auth := fakeAuth{
		"driver-token":    "driver-1",
		"responder-token": "owner",
		"stranger-token":  "someone-else",
	}
	svc := NewTrafficService(api.detector, api.provider, api.store, cache.NewCache(), auth, "", 0, zap.NewNop().Sugar())
	require.NoError(t, svc.Register(api.mux))
	return api
}

func (a *testAPI) do(method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	a.mux.ServeHTTP(rec, req)
	return rec
}

var (
	origin      = map[string]float64{"lat": 38.0675, "lng": -120.5436}
	destination = map[string]float64{"lat": 38.1391, "lng": -120.4561}
)

func TestEndpointsRequireAuthentication(t *testing.T) {
	api := newTestAPI(t)
	trip := map[string]interface{}{"origin": origin, "destination": destination}

	tests := []struct {
		method string
		path   string
		body   interface{}
	}{
		{http.MethodPost, "/api/v1/traffic/detect", trip},
		{http.MethodPost, "/api/v1/traffic/routes", trip},
		{http.MethodGet, "/api/v1/alerts/nearby?lat=38.1&lng=-120.5", nil},
		{http.MethodPost, "/api/v1/alerts/a-1/status", map[string]string{"status": "RESOLVED"}},
		{http.MethodGet, "/api/v1/regions", nil},
		{http.MethodGet, "/api/v1/notifications", nil},
		{http.MethodPost, "/api/v1/notifications/n-1/read", nil},
		{http.MethodGet, "/api/v1/export/kml?lat=38.1&lng=-120.5", nil},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := api.do(tt.method, tt.path, tt.body)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)

			rec = api.do(tt.method, tt.path, tt.body, "Authorization", "Bearer forged")
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}

	assert.Empty(t, api.detector.detects)
	assert.Zero(t, api.provider.calls)
}

func TestDetectEndpoint(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(http.MethodPost, "/api/v1/traffic/detect", map[string]interface{}{
		"origin": origin, "destination": destination, "user_id": "victim", "route_id": "r-1",
	}, asDriver...)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.Len(t, api.detector.detects, 1)
	req := api.detector.detects[0]
	assert.Equal(t, "driver-1", req.UserID, "Requester comes from the token, not the body")
	assert.Equal(t, "r-1", req.RouteID)
	assert.Nil(t, req.Region)
	assert.InDelta(t, 38.0675, req.Origin.Latitude, 1e-9)

	var result alerts.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, alerts.StateDone, result.State)
}

func TestDetectEndpoint_InvalidCoordinates(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(http.MethodPost, "/api/v1/traffic/detect", map[string]interface{}{
		"origin": map[string]float64{"lat": 91, "lng": 0}, "destination": destination,
	}, asDriver...)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, api.detector.detects)

	rec = api.do(http.MethodPost, "/api/v1/traffic/detect", nil, asDriver...)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCompareEndpoint_RanksAndCaches(t *testing.T) {
	api := newTestAPI(t)
	step := func(nominal, live int) directions.Step {
		return directions.Step{DistanceMeters: 2000, NominalDurationSeconds: nominal, LiveDurationSeconds: live}
	}
	api.provider.result = &directions.Result{Routes: []directions.Route{
		{Summary: "CA-4", Legs: []directions.Leg{{Steps: []directions.Step{step(100, 300)}}}},
		{Summary: "Murphys Grade", Legs: []directions.Leg{{Steps: []directions.Step{step(100, 110)}}}},
	}}

	body := map[string]interface{}{"origin": origin, "destination": destination}
	rec := api.do(http.MethodPost, "/api/v1/traffic/routes", body, asDriver...)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp CompareResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Routes, 2)
	assert.Equal(t, "Murphys Grade", resp.Routes[0].Summary)
	assert.Equal(t, 1, resp.Routes[0].Index)
	assert.Equal(t, "CA-4", resp.Routes[1].Summary)
	assert.InDelta(t, 2.0, resp.Routes[1].Analysis.TotalCongestedKm, 1e-9)

	rec = api.do(http.MethodPost, "/api/v1/traffic/routes", body, asDriver...)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, api.provider.calls, "Second comparison is served from cache")
}

func TestCompareEndpoint_ProviderFailure(t *testing.T) {
	api := newTestAPI(t)
	api.provider.err = &directions.ProviderError{StatusCode: 429, Status: "OVER_QUERY_LIMIT"}

	rec := api.do(http.MethodPost, "/api/v1/traffic/routes", map[string]interface{}{"origin": origin, "destination": destination}, asDriver...)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestNearbyEndpoint(t *testing.T) {
	api := newTestAPI(t)
	api.store.alerts["a-1"] = &alerts.Alert{ID: "a-1", Status: alerts.StatusPending}

	rec := api.do(http.MethodGet, "/api/v1/alerts/nearby?lat=38.1&lng=-120.5", nil, asResponder...)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.InDelta(t, 38.0, api.store.lastBox.MinLatitude, 1e-9)
	assert.InDelta(t, 38.2, api.store.lastBox.MaxLatitude, 1e-9)
	assert.InDelta(t, -120.6, api.store.lastBox.MinLongitude, 1e-9)
	assert.Equal(t, []alerts.Status{alerts.StatusPending, alerts.StatusAcknowledged}, api.store.lastStatuses)
	assert.Equal(t, 50, api.store.lastLimit)
	assert.Contains(t, rec.Body.String(), `"a-1"`)

	rec = api.do(http.MethodGet, "/api/v1/alerts/nearby?lat=abc", nil, asResponder...)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusEndpoint(t *testing.T) {
	api := newTestAPI(t)
	regionID := int64(1)
	api.store.regions = []routing.Region{corridor(1)}
	api.store.alerts["a-1"] = &alerts.Alert{ID: "a-1", RegionID: &regionID, Status: alerts.StatusPending}

	rec := api.do(http.MethodPost, "/api/v1/alerts/a-1/status", map[string]string{"status": "RESOLVED"}, asResponder...)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, alerts.StatusResolved, api.store.alerts["a-1"].Status)
	assert.NotNil(t, api.store.alerts["a-1"].ResolvedAt)

	rec = api.do(http.MethodPost, "/api/v1/alerts/a-1/status", map[string]string{"status": "PENDING"}, asResponder...)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(http.MethodPost, "/api/v1/alerts/a-1/status", map[string]string{"status": "DONE"}, asResponder...)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(http.MethodPost, "/api/v1/alerts/missing/status", map[string]string{"status": "ACKNOWLEDGED"}, asResponder...)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusEndpoint_OnlyRegionOwner(t *testing.T) {
	api := newTestAPI(t)
	regionID := int64(1)
	api.store.regions = []routing.Region{corridor(1)}
	api.store.alerts["a-1"] = &alerts.Alert{ID: "a-1", RegionID: &regionID, Status: alerts.StatusPending}
	api.store.alerts["unassigned"] = &alerts.Alert{ID: "unassigned", Status: alerts.StatusPending}

	rec := api.do(http.MethodPost, "/api/v1/alerts/a-1/status", map[string]string{"status": "IGNORED"}, asStranger...)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(http.MethodPost, "/api/v1/alerts/a-1/status", map[string]string{"status": "IGNORED"}, asDriver...)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, alerts.StatusPending, api.store.alerts["a-1"].Status)

	rec = api.do(http.MethodPost, "/api/v1/alerts/unassigned/status", map[string]string{"status": "RESOLVED"}, asResponder...)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, alerts.StatusPending, api.store.alerts["unassigned"].Status)
}

func TestRegionsEndpoint(t *testing.T) {
	api := newTestAPI(t)
	api.store.regions = []routing.Region{corridor(1), {ID: 2, OwnerID: "someone-else"}}

	rec := api.do(http.MethodGet, "/api/v1/regions?owner=someone-else", nil, asResponder...)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Regions []routing.Region `json:"regions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Regions, 1, "Only the caller's regions are listed")
	assert.Equal(t, int64(1), resp.Regions[0].ID)
}

func TestNotificationEndpoints(t *testing.T) {
	api := newTestAPI(t)
	api.store.notifications = []alerts.Notification{
		{ID: "n-1", RecipientUserID: "driver-1", Title: "Traffic Alert"},
		{ID: "n-2", RecipientUserID: "driver-2", Title: "Traffic Alert"},
	}

	rec := api.do(http.MethodGet, "/api/v1/notifications", nil, asDriver...)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Notifications []alerts.Notification `json:"notifications"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Notifications, 1)
	assert.Equal(t, "n-1", resp.Notifications[0].ID)

	rec = api.do(http.MethodPost, "/api/v1/notifications/n-2/read", nil, asDriver...)
	assert.Equal(t, http.StatusNotFound, rec.Code, "Cannot read another user's notification")

	rec = api.do(http.MethodPost, "/api/v1/notifications/n-1/read", nil, asDriver...)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, api.store.notifications[0].IsRead)
}

func TestExportKMLEndpoint(t *testing.T) {
	api := newTestAPI(t)
	api.store.alerts["a-1"] = &alerts.Alert{ID: "a-1", Severity: "LOW", CongestedLengthKm: 1.2}
	api.store.regions = []routing.Region{corridor(1)}

	rec := api.do(http.MethodGet, "/api/v1/export/kml?lat=38.1&lng=-120.5", nil, asResponder...)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/vnd.google-earth.kml+xml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "LOW congestion (1.20 km)")
	assert.Equal(t, 2, strings.Count(rec.Body.String(), "<Placemark>"), "Alert plus the caller's region")
}
