package alerts

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dpup/trafficwatch/server/internal/lib/directions"
	"github.com/dpup/trafficwatch/server/internal/lib/geo"
	"github.com/dpup/trafficwatch/server/internal/lib/routing"
)

var (
	angelsCamp = geo.Point{Latitude: 38.0675, Longitude: -120.5436}
	murphys    = geo.Point{Latitude: 38.1391, Longitude: -120.4561}
	arnold     = geo.Point{Latitude: 38.2458, Longitude: -120.3486}
	fixedNow   = time.Date(2026, 3, 14, 8, 30, 12, 0, time.UTC)
)

type fakeProvider struct {
	mu     sync.Mutex
	result *directions.Result
	err    error
	calls  int
}

func (f *fakeProvider) GetDirections(_ context.Context, _, _ geo.Point, opts directions.Options) (*directions.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if !opts.Alternatives {
		return nil, errors.New("alternatives not requested")
	}
	return f.result, f.err
}

type fakeGeocoder struct {
	address string
	err     error
}

func (f fakeGeocoder) ReverseGeocode(context.Context, geo.Point) (string, error) {
	return f.address, f.err
}

type fakeStore struct {
	mu              sync.Mutex
	regions         []routing.Region
	regionsErr      error
	alerts          []Alert
	notifications   []Notification
	createAlertErr  error
	createNotifyErr error
	findErr         error
	regionLookups   int
}

func (s *fakeStore) ListActiveRegions(context.Context) ([]routing.Region, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regionLookups++
	return s.regions, s.regionsErr
}

func (s *fakeStore) FindRecentPendingAlert(_ context.Context, fingerprint string, since time.Time) (*Alert, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, false, s.findErr
	}
	for i := len(s.alerts) - 1; i >= 0; i-- {
		a := s.alerts[i]
		if a.Fingerprint == fingerprint && a.Status == StatusPending && !a.DetectedAt.Before(since) {
			return &a, true, nil
		}
	}
	return nil, false, nil
}

func (s *fakeStore) CreateAlert(_ context.Context, alert *Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createAlertErr != nil {
		return s.createAlertErr
	}
	s.alerts = append(s.alerts, *alert)
	return nil
}

func (s *fakeStore) CreateNotification(_ context.Context, n *Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createNotifyErr != nil {
		return s.createNotifyErr
	}
	s.notifications = append(s.notifications, *n)
	return nil
}

type published struct {
	recipient string
	event     Event
}

type fakePublisher struct {
	mu     sync.Mutex
	events []published
	err    error
}

func (p *fakePublisher) Publish(_ context.Context, recipient string, event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{recipient: recipient, event: event})
	return p.err
}

type memoryMarkers struct {
	mu      sync.Mutex
	markers map[string]time.Duration
	err     error
}

func newMemoryMarkers() *memoryMarkers {
	return &memoryMarkers{markers: make(map[string]time.Duration)}
}

func (m *memoryMarkers) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	_, ok := m.markers[key]
	return ok, nil
}

func (m *memoryMarkers) SetMarker(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.markers[key] = ttl
	return nil
}

type failingComposer struct{}

func (failingComposer) Compose(context.Context, MessageInput) (Message, error) {
	return Message{}, errors.New("model unavailable")
}

func stepAt(meters, nominal, live int, start, end geo.Point) directions.Step {
	return directions.Step{
		DistanceMeters:         meters,
		NominalDurationSeconds: nominal,
		LiveDurationSeconds:    live,
		StartLocation:          &start,
		EndLocation:            &end,
	}
}

func resultWith(routes ...directions.Route) *directions.Result {
	return &directions.Result{Routes: routes}
}

func routeOf(steps ...directions.Step) directions.Route {
	return directions.Route{Summary: "CA-4", Legs: []directions.Leg{{Steps: steps}}}
}
