package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"go.uber.org/zap"

	"github.com/dpup/trafficwatch/server/internal/cache"
	"github.com/dpup/trafficwatch/server/internal/lib/alerts"
	"github.com/dpup/trafficwatch/server/internal/lib/congestion"
	"github.com/dpup/trafficwatch/server/internal/lib/directions"
	"github.com/dpup/trafficwatch/server/internal/lib/geo"
	"github.com/dpup/trafficwatch/server/internal/lib/routing"
	"github.com/dpup/trafficwatch/server/internal/repository"
)

const (
	nearbyDelta = 0.1
	nearbyLimit = 50
	unreadLimit = 50
)

var openStatuses = []alerts.Status{alerts.StatusPending, alerts.StatusAcknowledged}

// Authenticator resolves the calling user from a request
type Authenticator interface {
	Verify(token string) (string, error)
}

// Store is the persistence the HTTP API reads
type Store interface {
	repository.RegionRepository
	repository.AlertRepository
	repository.NotificationRepository
}

// TrafficService serves the traffic HTTP API on the gateway mux
type TrafficService struct {
	detector     Detector
	provider     directions.Provider
	store        Store
	cache        *cache.Cache
	auth         Authenticator
	trafficModel string
	compareTTL   time.Duration
	logger       *zap.SugaredLogger
	now          func() time.Time
}

// NewTrafficService creates a new TrafficService
func NewTrafficService(detector Detector, provider directions.Provider, store Store, cache *cache.Cache, auth Authenticator, trafficModel string, compareTTL time.Duration, logger *zap.SugaredLogger) *TrafficService {
	if compareTTL <= 0 {
		compareTTL = 60 * time.Second
	}
	if trafficModel == "" {
		trafficModel = directions.TrafficModelBestGuess
	}
	return &TrafficService{
		detector:     detector,
		provider:     provider,
		store:        store,
		cache:        cache,
		auth:         auth,
		trafficModel: trafficModel,
		compareTTL:   compareTTL,
		logger:       logger.With("component", "traffic_api"),
		now:          time.Now,
	}
}

// Register mounts the API routes on the gateway mux
func (s *TrafficService) Register(mux *runtime.ServeMux) error {
	routes := []struct {
		method  string
		pattern string
		handler runtime.HandlerFunc
	}{
		{http.MethodPost, "/api/v1/traffic/detect", s.handleDetect},
		{http.MethodPost, "/api/v1/traffic/routes", s.handleCompare},
		{http.MethodGet, "/api/v1/alerts/nearby", s.handleNearby},
		{http.MethodPost, "/api/v1/alerts/{id}/status", s.handleStatus},
		{http.MethodGet, "/api/v1/regions", s.handleRegions},
		{http.MethodGet, "/api/v1/notifications", s.handleNotifications},
		{http.MethodPost, "/api/v1/notifications/{id}/read", s.handleMarkRead},
		{http.MethodGet, "/api/v1/export/kml", s.handleExportKML},
	}
	for _, r := range routes {
		if err := mux.HandlePath(r.method, r.pattern, r.handler); err != nil {
			return fmt.Errorf("failed to register %s %s: %w", r.method, r.pattern, err)
		}
	}
	return nil
}

type detectRequest struct {
	Origin      geo.Point `json:"origin"`
	Destination geo.Point `json:"destination"`
	RouteID     string    `json:"route_id,omitempty"`
}

// handleDetect runs detection on behalf of the caller, who becomes the
// alert's requester
func (s *TrafficService) handleDetect(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	userID, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	var req detectRequest
	if !s.decodeTrip(w, r, &req, &req.Origin, &req.Destination) {
		return
	}

	result, err := s.detector.Detect(r.Context(), alerts.Request{
		Origin:      req.Origin,
		Destination: req.Destination,
		UserID:      userID,
		RouteID:     req.RouteID,
	})
	if err != nil {
		s.logger.Errorw("detection failed", "error", err)
		writeError(w, http.StatusInternalServerError, "detection failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type compareRequest struct {
	Origin      geo.Point `json:"origin"`
	Destination geo.Point `json:"destination"`
}

// CompareResponse lists every alternative, least congested first
type CompareResponse struct {
	Routes    []routing.RankedRoute `json:"routes"`
	FetchedAt time.Time             `json:"fetched_at"`
}

func (s *TrafficService) handleCompare(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if _, ok := s.authenticate(w, r); !ok {
		return
	}

	var req compareRequest
	if !s.decodeTrip(w, r, &req, &req.Origin, &req.Destination) {
		return
	}

	resp, err := s.Compare(r.Context(), req.Origin, req.Destination)
	if err != nil {
		var perr *directions.ProviderError
		if errors.As(err, &perr) {
			writeError(w, http.StatusBadGateway, "directions provider unavailable")
			return
		}
		s.logger.Errorw("route comparison failed", "error", err)
		writeError(w, http.StatusBadGateway, "route comparison failed")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Compare ranks the alternatives between two points on the display scale.
// Results are cached per origin and destination.
func (s *TrafficService) Compare(ctx context.Context, origin, destination geo.Point) (*CompareResponse, error) {
	key := fmt.Sprintf("compare:%.5f,%.5f:%.5f,%.5f",
		origin.Latitude, origin.Longitude, destination.Latitude, destination.Longitude)

	var cached CompareResponse
	if found, err := s.cache.Get(key, &cached); err == nil && found {
		return &cached, nil
	}

	res, err := s.provider.GetDirections(ctx, origin, destination, directions.Options{
		TrafficModel: s.trafficModel,
		Alternatives: true,
	})
	if err != nil {
		return nil, err
	}

	resp := &CompareResponse{FetchedAt: s.now().UTC()}
	if res != nil {
		ranked, err := routing.Rank(res.Routes, congestion.DisplayScale)
		if err != nil && !errors.Is(err, routing.ErrNoRoutesAvailable) {
			return nil, err
		}
		resp.Routes = ranked
	}
	if resp.Routes == nil {
		resp.Routes = []routing.RankedRoute{}
	}

	if err := s.cache.Set(key, resp, s.compareTTL, "compare"); err != nil {
		s.logger.Warnw("failed to cache route comparison", "error", err)
	}
	return resp, nil
}

func (s *TrafficService) handleNearby(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if _, ok := s.authenticate(w, r); !ok {
		return
	}

	center, ok := pointFromQuery(w, r)
	if !ok {
		return
	}

	found, err := s.store.ListAlertsNear(r.Context(), geo.Around(center, nearbyDelta), openStatuses, nearbyLimit)
	if err != nil {
		s.logger.Errorw("nearby alert lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load alerts")
		return
	}
	if found == nil {
		found = []alerts.Alert{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"alerts": found})
}

type statusRequest struct {
	Status alerts.Status `json:"status"`
}

// handleStatus lets the owner of an alert's region move it out of PENDING
func (s *TrafficService) handleStatus(w http.ResponseWriter, r *http.Request, params map[string]string) {
	userID, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !req.Status.Valid() || req.Status == alerts.StatusPending {
		writeError(w, http.StatusBadRequest, "status must be ACKNOWLEDGED, RESOLVED or IGNORED")
		return
	}

	existing, err := s.store.GetAlert(r.Context(), params["id"])
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "alert not found")
		return
	}
	if err != nil {
		s.logger.Errorw("alert lookup failed", "alert_id", params["id"], "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load alert")
		return
	}

	owns, err := s.ownsRegion(r.Context(), userID, existing.RegionID)
	if err != nil {
		s.logger.Errorw("region lookup failed", "owner", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load regions")
		return
	}
	if !owns {
		writeError(w, http.StatusForbidden, "only the region's responder may update this alert")
		return
	}

	alert, err := s.store.UpdateAlertStatus(r.Context(), params["id"], req.Status)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "alert not found")
		return
	}
	if err != nil {
		s.logger.Errorw("alert status update failed", "alert_id", params["id"], "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update alert")
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

// handleRegions lists the caller's own regions
func (s *TrafficService) handleRegions(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	owner, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	regions, err := s.store.ListRegionsByOwner(r.Context(), owner)
	if err != nil {
		s.logger.Errorw("region lookup failed", "owner", owner, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load regions")
		return
	}
	if regions == nil {
		regions = []routing.Region{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"regions": regions})
}

func (s *TrafficService) handleNotifications(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	userID, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	unread, err := s.store.ListUnreadNotifications(r.Context(), userID, unreadLimit)
	if err != nil {
		s.logger.Errorw("notification lookup failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load notifications")
		return
	}
	if unread == nil {
		unread = []alerts.Notification{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"notifications": unread})
}

func (s *TrafficService) handleMarkRead(w http.ResponseWriter, r *http.Request, params map[string]string) {
	userID, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	err := s.store.MarkNotificationRead(r.Context(), userID, params["id"])
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "notification not found")
		return
	}
	if err != nil {
		s.logger.Errorw("mark read failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update notification")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *TrafficService) handleExportKML(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	owner, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	center, ok := pointFromQuery(w, r)
	if !ok {
		return
	}

	found, err := s.store.ListAlertsNear(r.Context(), geo.Around(center, nearbyDelta), openStatuses, nearbyLimit)
	if err != nil {
		s.logger.Errorw("nearby alert lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load alerts")
		return
	}

	regions, err := s.store.ListRegionsByOwner(r.Context(), owner)
	if err != nil {
		s.logger.Errorw("region lookup failed", "owner", owner, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load regions")
		return
	}

	w.Header().Set("Content-Type", "application/vnd.google-earth.kml+xml")
	w.Header().Set("Content-Disposition", `attachment; filename="traffic.kml"`)
	if err := WriteKML(w, "Traffic alerts", found, regions); err != nil {
		s.logger.Errorw("failed to write KML", "error", err)
	}
}

// decodeTrip reads a JSON body and validates its two coordinates
func (s *TrafficService) decodeTrip(w http.ResponseWriter, r *http.Request, dst interface{}, origin, destination *geo.Point) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if !geo.IsValid(*origin) || !geo.IsValid(*destination) {
		writeError(w, http.StatusBadRequest, geo.ErrInvalidCoordinate.Error())
		return false
	}
	return true
}

func (s *TrafficService) authenticate(w http.ResponseWriter, r *http.Request) (string, bool) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	userID, err := s.auth.Verify(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return "", false
	}
	return userID, true
}

// ownsRegion reports whether userID owns the region. Unassigned alerts have
// no responder and are owned by nobody.
func (s *TrafficService) ownsRegion(ctx context.Context, userID string, regionID *int64) (bool, error) {
	if regionID == nil {
		return false, nil
	}
	regions, err := s.store.ListRegionsByOwner(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, region := range regions {
		if region.ID == *regionID {
			return true, nil
		}
	}
	return false, nil
}

func pointFromQuery(w http.ResponseWriter, r *http.Request) (geo.Point, bool) {
	q := r.URL.Query()
	lat, latErr := strconv.ParseFloat(q.Get("lat"), 64)
	lng, lngErr := strconv.ParseFloat(q.Get("lng"), 64)
	if latErr != nil || lngErr != nil {
		writeError(w, http.StatusBadRequest, "lat and lng are required")
		return geo.Point{}, false
	}
	p, err := geo.NewPoint(lat, lng)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return geo.Point{}, false
	}
	return p, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
