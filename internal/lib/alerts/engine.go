// Package alerts decides whether congestion warrants an alert, suppresses
// repeats, persists the alert and notifies its recipients.
package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dpup/trafficwatch/server/internal/lib/congestion"
	"github.com/dpup/trafficwatch/server/internal/lib/directions"
	"github.com/dpup/trafficwatch/server/internal/lib/geo"
	"github.com/dpup/trafficwatch/server/internal/lib/routing"
)

// State is a step of a detection run
type State string

const (
	StateQuerying        State = "QUERYING"
	StateAnalyzing       State = "ANALYZING"
	StateThresholdNotMet State = "THRESHOLD_NOT_MET"
	StateDeduped         State = "DEDUPED"
	StateCreating        State = "CREATING"
	StateNotifying       State = "NOTIFYING"
	StateDone            State = "DONE"
	StateFailed          State = "FAILED"
)

const (
	runKindDetect = "detect"
	runKindDaily  = "daily_route"
)

// EngineConfig holds thresholds and per-call timeouts
type EngineConfig struct {
	AlertThresholdKm float64
	DailyThresholdKm float64
	BackstopWindow   time.Duration
	DedupeTTL        time.Duration
	TrafficModel     string
	ProviderTimeout  time.Duration
	GeocodeTimeout   time.Duration
	ComposeTimeout   time.Duration
	DispatchTimeout  time.Duration
}

// DefaultEngineConfig returns the production thresholds
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		AlertThresholdKm: 1.0,
		DailyThresholdKm: 0.5,
		BackstopWindow:   DefaultBackstopWindow,
		DedupeTTL:        DefaultDedupeTTL,
		TrafficModel:     directions.TrafficModelBestGuess,
		ProviderTimeout:  20 * time.Second,
		GeocodeTimeout:   5 * time.Second,
		ComposeTimeout:   5 * time.Second,
		DispatchTimeout:  5 * time.Second,
	}
}

// withDefaults fills unset fields from DefaultEngineConfig
func (c EngineConfig) withDefaults() EngineConfig {
	d := DefaultEngineConfig()
	if c.AlertThresholdKm <= 0 {
		c.AlertThresholdKm = d.AlertThresholdKm
	}
	if c.DailyThresholdKm <= 0 {
		c.DailyThresholdKm = d.DailyThresholdKm
	}
	if c.BackstopWindow <= 0 {
		c.BackstopWindow = d.BackstopWindow
	}
	if c.DedupeTTL <= 0 {
		c.DedupeTTL = d.DedupeTTL
	}
	if c.TrafficModel == "" {
		c.TrafficModel = d.TrafficModel
	}
	if c.ProviderTimeout <= 0 {
		c.ProviderTimeout = d.ProviderTimeout
	}
	if c.GeocodeTimeout <= 0 {
		c.GeocodeTimeout = d.GeocodeTimeout
	}
	if c.ComposeTimeout <= 0 {
		c.ComposeTimeout = d.ComposeTimeout
	}
	if c.DispatchTimeout <= 0 {
		c.DispatchTimeout = d.DispatchTimeout
	}
	return c
}

// Request is one detection run. UserID and RouteID are empty for sweeps.
// Region is set when the run is a sweep of that region, which then owns
// the alert instead of the matcher's choice.
type Request struct {
	Origin      geo.Point
	Destination geo.Point
	RequestedAt time.Time
	UserID      string
	RouteID     string
	Region      *routing.Region
}

// Result is the outcome of a detection run. Alert is nil unless State is DONE.
type Result struct {
	State         State                `json:"state"`
	Alert         *Alert               `json:"alert"`
	Analysis      *congestion.Analysis `json:"analysis,omitempty"`
	RouteIndex    int                  `json:"route_index"`
	Region        *routing.Region      `json:"region,omitempty"`
	Notifications []Notification       `json:"notifications,omitempty"`
}

// Engine runs detections. It is safe for concurrent use.
type Engine struct {
	provider  directions.Provider
	store     Store
	matcher   routing.RegionMatcher
	geocoder  directions.Geocoder
	dedupe    *Deduplicator
	publisher Publisher
	composer  MessageComposer
	metrics   *Metrics
	cfg       EngineConfig
	logger    *zap.SugaredLogger
	now       func() time.Time
}

// EngineOption configures optional collaborators
type EngineOption func(*Engine)

// WithGeocoder enables best-effort address lookup for alert endpoints
func WithGeocoder(g directions.Geocoder) EngineOption {
	return func(e *Engine) { e.geocoder = g }
}

// WithDeduplicator sets the advisory dedupe layer
func WithDeduplicator(d *Deduplicator) EngineOption {
	return func(e *Engine) { e.dedupe = d }
}

// WithPublisher sets the push channel for notifications
func WithPublisher(p Publisher) EngineOption {
	return func(e *Engine) { e.publisher = p }
}

// WithComposer replaces the template message composer
func WithComposer(c MessageComposer) EngineOption {
	return func(e *Engine) { e.composer = c }
}

// WithMetrics records run outcomes
func WithMetrics(m *Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the engine logger
func WithLogger(l *zap.SugaredLogger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an Engine with its required collaborators
func NewEngine(provider directions.Provider, store Store, matcher routing.RegionMatcher, cfg EngineConfig, opts ...EngineOption) *Engine {
	e := &Engine{
		provider: provider,
		store:    store,
		matcher:  matcher,
		cfg:      cfg.withDefaults(),
		logger:   zap.NewNop().Sugar(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "alert_engine")
	if e.dedupe == nil {
		e.dedupe = NewDeduplicator(nil, e.logger)
	}
	return e
}

// Detect runs one detection. Provider failures and missing routes end the
// run without an alert and without an error. Only persistence failures are
// returned.
func (e *Engine) Detect(ctx context.Context, req Request) (Result, error) {
	if req.RequestedAt.IsZero() {
		req.RequestedAt = e.now()
	}

	result, err := e.detect(ctx, req)
	e.metrics.observeRun(runKindDetect, result.State)
	return result, err
}

func (e *Engine) detect(ctx context.Context, req Request) (Result, error) {
	log := e.logger.With("origin", req.Origin, "destination", req.Destination)
	if req.Region != nil {
		log = log.With("region_id", req.Region.ID)
	}

	// QUERYING
	worst, state := e.queryWorst(ctx, req.Origin, req.Destination, congestion.AlertScale, log)
	if state != StateAnalyzing {
		return Result{State: state}, nil
	}

	// ANALYZING
	analysis := worst.Analysis
	result := Result{Analysis: &analysis, RouteIndex: worst.Index}
	e.metrics.observeCongestion(analysis.TotalCongestedKm)

	if analysis.TotalCongestedKm <= e.cfg.AlertThresholdKm {
		log.Debugw("congestion below alert threshold", "congested_km", analysis.TotalCongestedKm)
		result.State = StateThresholdNotMet
		return result, nil
	}

	start, ok := analysis.FirstCoordinate()
	if !ok {
		start = req.Origin
	}
	end, ok := analysis.LastCoordinate()
	if !ok {
		end = req.Destination
	}

	region := e.resolveRegion(ctx, req, start, log)
	result.Region = region

	fingerprint := RouteFingerprint(req.Origin, req.Destination)
	if region != nil {
		fingerprint = RegionFingerprint(region.ID)
	}

	// DEDUPED
	if e.dedupe.ShouldSkip(ctx, fingerprint, req.RequestedAt) {
		log.Debugw("detection deduped by marker", "fingerprint", fingerprint)
		result.State = StateDeduped
		return result, nil
	}

	existing, found, err := e.store.FindRecentPendingAlert(ctx, fingerprint, req.RequestedAt.Add(-e.cfg.BackstopWindow))
	if err != nil {
		result.State = StateFailed
		return result, fmt.Errorf("failed to check recent alerts: %w", err)
	}
	if found {
		log.Debugw("detection deduped by pending alert", "fingerprint", fingerprint, "alert_id", existing.ID)
		e.dedupe.MarkChecked(ctx, fingerprint, req.RequestedAt, e.cfg.DedupeTTL)
		result.State = StateDeduped
		return result, nil
	}

	// CREATING
	alert := &Alert{
		ID:                uuid.NewString(),
		Fingerprint:       fingerprint,
		Severity:          analysis.Severity,
		CongestedLengthKm: analysis.TotalCongestedKm,
		Start:             start,
		End:               end,
		StartAddress:      e.reverseGeocode(ctx, start, log),
		EndAddress:        e.reverseGeocode(ctx, end, log),
		Status:            StatusPending,
		DetectedAt:        req.RequestedAt,
	}
	if region != nil {
		alert.RegionID = &region.ID
	}
	if req.UserID != "" {
		alert.SourceUserID = stringPtr(req.UserID)
	}
	if req.RouteID != "" {
		alert.RelatedRouteID = stringPtr(req.RouteID)
	}

	if err := e.store.CreateAlert(ctx, alert); err != nil {
		result.State = StateFailed
		return result, fmt.Errorf("failed to persist alert: %w", err)
	}
	result.Alert = alert
	e.dedupe.MarkChecked(ctx, fingerprint, req.RequestedAt, e.cfg.DedupeTTL)

	log.Infow("traffic alert created",
		"alert_id", alert.ID, "severity", alert.Severity, "congested_km", alert.CongestedLengthKm)

	// NOTIFYING
	notifications, err := e.notifyAlert(ctx, alert, region, req)
	result.Notifications = notifications
	if err != nil {
		result.State = StateFailed
		return result, err
	}

	result.State = StateDone
	return result, nil
}

// DailyResult is the outcome of a daily route check
type DailyResult struct {
	State        State                `json:"state"`
	Analysis     *congestion.Analysis `json:"analysis,omitempty"`
	Notification *Notification        `json:"notification,omitempty"`
}

// CheckDailyRoute judges a daily route on the display scale and notifies its
// owner directly when congestion exceeds the daily threshold. No alert is
// created and no region is involved.
func (e *Engine) CheckDailyRoute(ctx context.Context, route DailyRoute) (DailyResult, error) {
	result, err := e.checkDailyRoute(ctx, route)
	e.metrics.observeRun(runKindDaily, result.State)
	return result, err
}

func (e *Engine) checkDailyRoute(ctx context.Context, route DailyRoute) (DailyResult, error) {
	log := e.logger.With("route_id", route.ID, "owner_id", route.OwnerID)

	worst, state := e.queryWorst(ctx, route.Origin, route.Destination, congestion.DisplayScale, log)
	if state != StateAnalyzing {
		return DailyResult{State: state}, nil
	}

	analysis := worst.Analysis
	result := DailyResult{Analysis: &analysis}
	if analysis.TotalCongestedKm <= e.cfg.DailyThresholdKm {
		result.State = StateThresholdNotMet
		return result, nil
	}

	message := e.compose(ctx, MessageInput{
		Audience:    AudienceRouteOwner,
		CongestedKm: analysis.TotalCongestedKm,
		Severity:    analysis.Severity,
		RouteName:   route.Name,
		OnRoute:     true,
	}, log)

	notification := &Notification{
		ID:              uuid.NewString(),
		RecipientUserID: route.OwnerID,
		Type:            TypeRouteUpdate,
		Title:           message.Title,
		Message:         message.Body,
		Data: map[string]interface{}{
			"routeId":          route.ID,
			"severity":         analysis.Severity,
			"congestionLength": analysis.TotalCongestedKm,
		},
		CreatedAt: e.now(),
	}
	if err := e.store.CreateNotification(ctx, notification); err != nil {
		result.State = StateFailed
		return result, fmt.Errorf("failed to persist notification: %w", err)
	}
	result.Notification = notification

	e.dispatch(ctx, *notification, nil, log)

	log.Infow("daily route notification sent", "congested_km", analysis.TotalCongestedKm)
	result.State = StateDone
	return result, nil
}

// queryWorst fetches alternatives and picks the most congested one. It
// returns StateAnalyzing when there is a route to judge.
func (e *Engine) queryWorst(ctx context.Context, origin, destination geo.Point, scale congestion.Scale, log *zap.SugaredLogger) (routing.RankedRoute, State) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.ProviderTimeout)
	defer cancel()

	started := e.now()
	res, err := e.provider.GetDirections(callCtx, origin, destination, directions.Options{
		TrafficModel: e.cfg.TrafficModel,
		Alternatives: true,
	})
	e.metrics.observeProvider(e.now().Sub(started), err)
	if err != nil {
		log.Warnw("directions provider failed", "error", err)
		return routing.RankedRoute{}, StateFailed
	}
	if res == nil {
		return routing.RankedRoute{}, StateThresholdNotMet
	}

	worst, err := routing.SelectWorst(res.Routes, scale)
	if err != nil {
		log.Debugw("no traffic signal", "error", err)
		return routing.RankedRoute{}, StateThresholdNotMet
	}

	return worst, StateAnalyzing
}

// resolveRegion returns the sweep's own region, or the matcher's pick for
// point. Lookup failures leave the alert unassigned.
func (e *Engine) resolveRegion(ctx context.Context, req Request, point geo.Point, log *zap.SugaredLogger) *routing.Region {
	if req.Region != nil {
		region := *req.Region
		return &region
	}

	regions, err := e.store.ListActiveRegions(ctx)
	if err != nil {
		log.Warnw("failed to load regions, alert will be unassigned", "error", err)
		return nil
	}

	match, ok := e.matcher.Match(point, regions)
	if !ok {
		return nil
	}
	return &match.Region
}

func (e *Engine) reverseGeocode(ctx context.Context, point geo.Point, log *zap.SugaredLogger) *string {
	if e.geocoder == nil {
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.GeocodeTimeout)
	defer cancel()

	address, err := e.geocoder.ReverseGeocode(callCtx, point)
	if err != nil || address == "" {
		log.Debugw("reverse geocode failed", "point", point, "error", err)
		return nil
	}
	return &address
}

// notifyAlert writes one notification per recipient and pushes each.
// Persistence errors are returned; dispatch errors are logged.
func (e *Engine) notifyAlert(ctx context.Context, alert *Alert, region *routing.Region, req Request) ([]Notification, error) {
	log := e.logger.With("alert_id", alert.ID)

	type recipient struct {
		userID   string
		audience Audience
		kind     NotificationType
	}

	var recipients []recipient
	if region != nil && region.OwnerID != "" && region.OwnerActive {
		recipients = append(recipients, recipient{region.OwnerID, AudienceResponder, TypeTrafficAlert})
	}
	if req.UserID != "" && (region == nil || req.UserID != region.OwnerID) {
		kind := TypeTrafficAlert
		if req.RouteID != "" {
			kind = TypeRouteUpdate
		}
		recipients = append(recipients, recipient{req.UserID, AudienceRequester, kind})
	}

	notifications := make([]Notification, 0, len(recipients))
	for _, r := range recipients {
		in := MessageInput{
			Audience:     r.audience,
			CongestedKm:  alert.CongestedLengthKm,
			Severity:     alert.Severity,
			OnRoute:      req.RouteID != "",
			StartAddress: derefString(alert.StartAddress),
			EndAddress:   derefString(alert.EndAddress),
		}
		if region != nil {
			in.RegionName = region.Name
		}
		message := e.compose(ctx, in, log)

		data := map[string]interface{}{
			"alertId":          alert.ID,
			"severity":         alert.Severity,
			"congestionLength": alert.CongestedLengthKm,
			"location": map[string]float64{
				"lat": alert.Start.Latitude,
				"lng": alert.Start.Longitude,
			},
		}
		if req.RouteID != "" {
			data["routeId"] = req.RouteID
		}

		notification := Notification{
			ID:              uuid.NewString(),
			RecipientUserID: r.userID,
			AlertID:         stringPtr(alert.ID),
			Type:            r.kind,
			Title:           message.Title,
			Message:         message.Body,
			Data:            data,
			CreatedAt:       e.now(),
		}
		if err := e.store.CreateNotification(ctx, &notification); err != nil {
			return notifications, fmt.Errorf("failed to persist notification: %w", err)
		}
		notifications = append(notifications, notification)

		e.dispatch(ctx, notification, alert, log)
	}

	return notifications, nil
}

// compose uses the configured composer and falls back to the template
func (e *Engine) compose(ctx context.Context, in MessageInput, log *zap.SugaredLogger) Message {
	if e.composer == nil {
		return templateMessage(in)
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.ComposeTimeout)
	defer cancel()

	message, err := e.composer.Compose(callCtx, in)
	if err != nil {
		log.Debugw("message composer failed, using template", "error", err)
		return templateMessage(in)
	}
	return message
}

func (e *Engine) dispatch(ctx context.Context, notification Notification, alert *Alert, log *zap.SugaredLogger) {
	if e.publisher == nil {
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.DispatchTimeout)
	defer cancel()

	event := Event{
		Type:    EventTrafficAlert,
		Payload: AlertEventPayload{Notification: notification, Alert: alert},
	}
	if err := e.publisher.Publish(callCtx, notification.RecipientUserID, event); err != nil {
		e.metrics.observeDispatchFailure()
		log.Warnw("notification dispatch failed",
			"notification_id", notification.ID, "recipient", notification.RecipientUserID, "error", err)
	}
}

func stringPtr(s string) *string {
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
