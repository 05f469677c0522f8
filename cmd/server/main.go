package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/dpup/prefab"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/dpup/trafficwatch/server/internal/cache"
	"github.com/dpup/trafficwatch/server/internal/clients/google"
	"github.com/dpup/trafficwatch/server/internal/config"
	"github.com/dpup/trafficwatch/server/internal/lib/alerts"
	"github.com/dpup/trafficwatch/server/internal/lib/routing"
	"github.com/dpup/trafficwatch/server/internal/notify"
	"github.com/dpup/trafficwatch/server/internal/repository/postgres"
	"github.com/dpup/trafficwatch/server/internal/services"
)

func main() {
	configPath := flag.String("config", "trafficwatch.yaml", "path to the YAML config file")
	flag.Parse()

	// A missing .env is fine; real deployments set the environment directly
	_ = godotenv.Load()

	zl, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()
	logger := zl.Sugar()

	appConfig, err := config.Load([]string{*configPath}, nil)
	if err != nil {
		logger.Fatalw("Failed to load configuration", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Persistence
	if appConfig.Database.Migrate {
		if err := postgres.Migrate(ctx, appConfig.Database.URL, logger); err != nil {
			logger.Fatalw("Failed to migrate database", "error", err)
		}
	}
	pool, err := pgxpool.New(ctx, appConfig.Database.URL)
	if err != nil {
		logger.Fatalw("Failed to connect to database", "error", err)
	}
	defer pool.Close()
	repo := postgres.New(pool)

	// Process cache for route comparisons, and dedupe markers when Redis is absent
	cacheInstance := cache.NewCache()
	cacheInstance.StartPeriodicCleanup(ctx, 5*time.Minute)

	var (
		markers  alerts.MarkerStore
		messages alerts.MessageCache
	)
	if appConfig.Redis.Addr != "" {
		redisStore, err := cache.NewRedisStore(appConfig.Redis.Addr, appConfig.Redis.Password, appConfig.Redis.DB, logger)
		if err != nil {
			logger.Fatalw("Failed to connect to redis", "error", err)
		}
		defer func() { _ = redisStore.Close() }()
		markers, messages = redisStore, redisStore
	} else {
		adapter := cache.NewAlertCacheAdapter(cacheInstance)
		markers, messages = adapter, adapter
		logger.Infow("Redis not configured, keeping dedupe markers in process memory")
	}

	// Directions and geocoding
	googleClient := google.NewClientWithHTTPDoer(appConfig.Google.APIKey, appConfig.Google.BaseURL, &http.Client{
		Timeout: appConfig.Google.Timeout,
	})

	// Push channels
	hub := notify.NewHub()
	defer hub.Close()
	publishers := notify.MultiPublisher{hub}
	if appConfig.Notify.AMQPURL != "" {
		amqpPublisher, err := notify.NewAMQPPublisher(appConfig.Notify.AMQPURL, appConfig.Notify.Exchange, logger)
		if err != nil {
			logger.Fatalw("Failed to connect to message broker", "error", err)
		}
		defer func() { _ = amqpPublisher.Close() }()
		publishers = append(publishers, amqpPublisher)
	}

	metrics, err := alerts.NewMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		logger.Fatalw("Failed to register metrics", "error", err)
	}

	opts := []alerts.EngineOption{
		alerts.WithDeduplicator(alerts.NewDeduplicator(markers, logger)),
		alerts.WithPublisher(publishers),
		alerts.WithMetrics(metrics),
		alerts.WithLogger(logger),
	}
	if appConfig.Detection.GeocodeAddresses {
		opts = append(opts, alerts.WithGeocoder(googleClient))
	}
	if appConfig.OpenAI.APIKey != "" {
		composer := alerts.NewOpenAIComposer(appConfig.OpenAI.APIKey, appConfig.OpenAI.Model)
		opts = append(opts, alerts.WithComposer(
			alerts.NewCachedComposer(composer, messages, appConfig.OpenAI.CacheTTL, logger),
		))
		logger.Infow("OpenAI message phrasing enabled", "model", appConfig.OpenAI.Model)
	}

	engine := alerts.NewEngine(
		googleClient,
		repo,
		routing.NewRegionMatcher(appConfig.Detection.CorridorToleranceKm),
		appConfig.EngineConfig(),
		opts...,
	)

	healthReporter := services.NewHealthReporter()
	defer healthReporter.Shutdown()

	monitor := services.NewMonitorService(engine, repo, repo, services.MonitorConfig{
		RegionInterval:   appConfig.Monitor.RegionInterval,
		DailyInterval:    appConfig.Monitor.DailyInterval,
		IterationTimeout: appConfig.Monitor.IterationTimeout,
		SweepTimeout:     appConfig.Monitor.SweepTimeout,
		Concurrency:      appConfig.Monitor.Concurrency,
		Location:         appConfig.Location(),
	}, healthReporter, logger)
	if appConfig.Monitor.Enabled {
		if err := monitor.Start(ctx); err != nil {
			logger.Errorw("Failed to start monitor", "error", err)
		}
		defer monitor.Stop()
	}

	verifier := notify.NewTokenVerifier(appConfig.Notify.JWTSecret)
	trafficService := services.NewTrafficService(
		engine,
		googleClient,
		repo,
		cacheInstance,
		verifier,
		appConfig.Google.TrafficModel,
		appConfig.Detection.CompareCacheTTL,
		logger,
	)

	// Server configuration (port, etc.) is loaded by prefab from prefab.yaml/env vars
	server := prefab.New(
		prefab.WithGRPCReflection(),
		prefab.WithSecurityHeaders(appConfig.SecurityHeaders()),
		prefab.WithHTTPHandlerFunc("/ws", notify.NewHandler(hub, verifier, logger).ServeHTTP),
		prefab.WithHTTPHandlerFunc("/metrics", promhttp.Handler().ServeHTTP),
		prefab.WithHTTPHandlerFunc("/", homepageHandler),
	)

	healthpb.RegisterHealthServer(server.ServiceRegistrar(), healthReporter.Server())

	_, mux, _, _ := server.GatewayArgs()
	if err := trafficService.Register(mux); err != nil {
		logger.Fatalw("Failed to register traffic API", "error", err)
	}

	logger.Infow("Traffic watch server starting",
		"monitor", appConfig.Monitor.Enabled,
		"redis", appConfig.Redis.Addr != "",
		"amqp", appConfig.Notify.AMQPURL != "",
		"cors_origins", strings.Join(appConfig.Server.CorsOrigins, ","),
	)

	// Start the server (blocks until shutdown)
	if err := server.Start(); err != nil {
		logger.Fatalw("Server failed", "error", err)
	}
}

// homepageHandler serves a simple HTML homepage at the server root
func homepageHandler(w http.ResponseWriter, r *http.Request) {
	// Only handle the root path
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	html := `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <title>trafficwatch</title>
    <style>
        body {
            font-family: 'Courier New', Consolas, monospace;
            background: #000;
            color: #0f0;
            padding: 20px;
            line-height: 1.4;
        }
        a { color: #0ff; text-decoration: none; }
        a:hover { text-decoration: underline; }
        pre { margin: 0; }
        .header { color: #ff0; }
    </style>
</head>
<body>
<pre>
<span class="header">trafficwatch</span>

Live congestion detection and alert routing for monitored corridors,
radius regions and daily commutes.

<span class="header">API Endpoints:</span>  (bearer token required)

Traffic:
  POST /api/v1/traffic/detect               - Run detection for an origin and destination
  POST /api/v1/traffic/routes               - Compare alternatives, least congested first

Alerts:
  GET  /api/v1/alerts/nearby?lat=&amp;lng=       - Open alerts around a point
  POST /api/v1/alerts/{id}/status           - Acknowledge, resolve or ignore an alert
  GET  /api/v1/export/kml?lat=&amp;lng=         - Open alerts as KML

Regions and notifications:
  GET  /api/v1/regions                      - Regions owned by the caller
  GET  /api/v1/notifications                - Unread notifications
  POST /api/v1/notifications/{id}/read      - Mark a notification read
  WS   /ws?token=                           - Live notification stream

Operations:
  <a href="/metrics">GET /metrics</a>                              - Prometheus metrics
</pre>
</body>
</html>`

	if _, err := fmt.Fprint(w, html); err != nil {
		log.Printf("Failed to write homepage HTML: %v", err)
	}
}
