package services

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/dpup/prefab/errors"
	"github.com/dpup/prefab/logging"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dpup/trafficwatch/server/internal/lib/alerts"
	"github.com/dpup/trafficwatch/server/internal/lib/routing"
)

// Detector runs detections and daily route checks
type Detector interface {
	Detect(ctx context.Context, req alerts.Request) (alerts.Result, error)
	CheckDailyRoute(ctx context.Context, route alerts.DailyRoute) (alerts.DailyResult, error)
}

// RegionLister lists active monitoring regions
type RegionLister interface {
	ListActiveRegions(ctx context.Context) ([]routing.Region, error)
}

// DailyRouteLister lists saved daily routes
type DailyRouteLister interface {
	ListDailyRoutes(ctx context.Context) ([]alerts.DailyRoute, error)
}

// MonitorConfig controls sweep cadence. IterationTimeout bounds each region
// or route check; SweepTimeout bounds a whole sweep.
type MonitorConfig struct {
	RegionInterval   time.Duration
	DailyInterval    time.Duration
	IterationTimeout time.Duration
	SweepTimeout     time.Duration
	Concurrency      int
	Location         *time.Location
}

// SweepStats summarizes one sweep
type SweepStats struct {
	Checked int `json:"checked"`
	Alerts  int `json:"alerts"`
	Failed  int `json:"failed"`
}

// MonitorService runs the background sweeps. The region sweep checks every
// eligible corridor region; the daily sweep checks daily routes whose alert
// window contains the current time. A failing item never stops a sweep.
type MonitorService struct {
	detector Detector
	regions  RegionLister
	routes   DailyRouteLister
	health   *HealthReporter
	config   MonitorConfig
	logger   *zap.SugaredLogger
	now      func() time.Time

	mu       sync.Mutex
	stopChan chan struct{}
	running  bool
	wg       sync.WaitGroup
}

// NewMonitorService creates a new monitor service
func NewMonitorService(detector Detector, regions RegionLister, routes DailyRouteLister, cfg MonitorConfig, health *HealthReporter, logger *zap.SugaredLogger) *MonitorService {
	if cfg.RegionInterval <= 0 {
		cfg.RegionInterval = 2 * time.Minute
	}
	if cfg.DailyInterval <= 0 {
		cfg.DailyInterval = 5 * time.Minute
	}
	if cfg.IterationTimeout <= 0 {
		cfg.IterationTimeout = 90 * time.Second
	}
	if cfg.SweepTimeout <= 0 {
		cfg.SweepTimeout = 15 * time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &MonitorService{
		detector: detector,
		regions:  regions,
		routes:   routes,
		health:   health,
		config:   cfg,
		logger:   logger.With("component", "monitor"),
		now:      time.Now,
	}
}

// Start launches both sweep loops. Each loop sweeps once immediately.
func (m *MonitorService) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}
	m.running = true
	m.stopChan = make(chan struct{})

	m.logger.Infow("starting monitor",
		"region_interval", m.config.RegionInterval, "daily_interval", m.config.DailyInterval)

	m.wg.Add(2)
	go m.loop(ctx, "regions", m.config.RegionInterval, m.stopChan, m.sweepRegions)
	go m.loop(ctx, "daily_routes", m.config.DailyInterval, m.stopChan, m.sweepDailyRoutes)
	return nil
}

// Stop halts both loops and waits for in-flight sweeps to finish
func (m *MonitorService) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopChan)
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Infow("stopped monitor")
}

// IsRunning returns whether the sweep loops are active
func (m *MonitorService) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *MonitorService) loop(ctx context.Context, name string, interval time.Duration, stop <-chan struct{}, sweep func(context.Context) (SweepStats, error)) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.iterate(ctx, name, sweep)

	for {
		select {
		case <-ctx.Done():
			m.logger.Infow("monitor loop stopping due to context cancellation", "loop", name)
			return
		case <-stop:
			return
		case <-ticker.C:
			m.iterate(ctx, name, sweep)
		}
	}
}

// iterate runs one sweep under the sweep timeout and survives panics
func (m *MonitorService) iterate(ctx context.Context, name string, sweep func(context.Context) (SweepStats, error)) {
	defer func() {
		if r := recover(); r != nil {
			err, _ := errors.ParseStack(debug.Stack())
			skipFrames := 3
			numFrames := 5
			logging.Errorw(ctx, "Monitor sweep: recovered from panic",
				"loop", name, "error", r, "error.stack_trace", err.MinimalStack(skipFrames, numFrames))
		}
	}()

	sweepCtx, cancel := context.WithTimeout(ctx, m.config.SweepTimeout)
	defer cancel()

	started := time.Now()
	stats, err := sweep(sweepCtx)
	if err != nil {
		m.logger.Errorw("monitor sweep failed", "loop", name, "error", err)
		m.health.SetServing(MonitorHealthService, false)
		return
	}
	m.health.SetServing(MonitorHealthService, true)
	m.logger.Debugw("monitor sweep completed",
		"loop", name, "checked", stats.Checked, "alerts", stats.Alerts,
		"failed", stats.Failed, "duration", time.Since(started))
}

// SweepRegions checks every eligible corridor region once
func (m *MonitorService) SweepRegions(ctx context.Context) (SweepStats, error) {
	return m.sweepRegions(ctx)
}

// SweepDailyRoutes checks every daily route whose window contains now
func (m *MonitorService) SweepDailyRoutes(ctx context.Context) (SweepStats, error) {
	return m.sweepDailyRoutes(ctx)
}

func (m *MonitorService) sweepRegions(ctx context.Context) (SweepStats, error) {
	regions, err := m.regions.ListActiveRegions(ctx)
	if err != nil {
		return SweepStats{}, fmt.Errorf("failed to list regions: %w", err)
	}

	var targets []routing.Region
	for _, r := range regions {
		if r.Eligible() && r.Boundary.Kind == routing.Corridor {
			targets = append(targets, r)
		}
	}

	requestedAt := m.now()
	var (
		mu    sync.Mutex
		stats SweepStats
	)
	m.forEach(ctx, len(targets), func(ctx context.Context, i int) {
		region := targets[i]
		result, err := m.detector.Detect(ctx, alerts.Request{
			Origin:      region.Boundary.Start,
			Destination: region.Boundary.End,
			RequestedAt: requestedAt,
			Region:      &region,
		})

		mu.Lock()
		defer mu.Unlock()
		stats.Checked++
		if err != nil {
			stats.Failed++
			m.logger.Warnw("region check failed", "region_id", region.ID, "error", err)
			return
		}
		if result.State == alerts.StateFailed {
			stats.Failed++
		}
		if result.Alert != nil {
			stats.Alerts++
		}
	})
	return stats, nil
}

func (m *MonitorService) sweepDailyRoutes(ctx context.Context) (SweepStats, error) {
	routes, err := m.routes.ListDailyRoutes(ctx)
	if err != nil {
		return SweepStats{}, fmt.Errorf("failed to list daily routes: %w", err)
	}

	now := m.now().In(m.config.Location)
	var targets []alerts.DailyRoute
	for _, r := range routes {
		if r.Active(now) {
			targets = append(targets, r)
		}
	}

	var (
		mu    sync.Mutex
		stats SweepStats
	)
	m.forEach(ctx, len(targets), func(ctx context.Context, i int) {
		route := targets[i]
		result, err := m.detector.CheckDailyRoute(ctx, route)

		mu.Lock()
		defer mu.Unlock()
		stats.Checked++
		if err != nil {
			stats.Failed++
			m.logger.Warnw("daily route check failed", "route_id", route.ID, "error", err)
			return
		}
		if result.State == alerts.StateFailed {
			stats.Failed++
		}
		if result.Notification != nil {
			stats.Alerts++
		}
	})
	return stats, nil
}

// forEach runs fn for indexes [0, n) with bounded concurrency. Each item
// gets its own IterationTimeout, so slow items cannot starve later ones. A
// panic in one item is logged and does not affect the others.
func (m *MonitorService) forEach(ctx context.Context, n int, fn func(context.Context, int)) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.config.Concurrency)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Errorw("monitor item panicked", "index", i, "error", r)
				}
			}()
			itemCtx, cancel := context.WithTimeout(gctx, m.config.IterationTimeout)
			defer cancel()
			fn(itemCtx, i)
			return nil
		})
	}
	_ = g.Wait()
}
