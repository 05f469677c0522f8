package config

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dpup/prefab"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/dpup/trafficwatch/server/internal/lib/alerts"
	"github.com/dpup/trafficwatch/server/internal/lib/directions"
)

// EnvPrefix is the prefix of environment overrides. Nesting uses a double
// underscore: TRAFFIC__DETECTION__ALERT_THRESHOLD_KM=1.5
const EnvPrefix = "TRAFFIC__"

// Config represents the complete server configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Google    GoogleConfig    `yaml:"google"`
	Detection DetectionConfig `yaml:"detection"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Notify    NotifyConfig    `yaml:"notify"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
}

// ServerConfig holds server-specific settings. CorsOrigins are exact
// origins, e.g. https://app.example.com; empty disables CORS.
type ServerConfig struct {
	CorsOrigins []string `yaml:"cors_origins"`
}

// GoogleConfig holds Google Maps API settings
type GoogleConfig struct {
	APIKey       string        `yaml:"api_key"`
	BaseURL      string        `yaml:"base_url"`
	TrafficModel string        `yaml:"traffic_model"`
	Timeout      time.Duration `yaml:"timeout"`
}

// DetectionConfig holds alert thresholds and dedupe windows
type DetectionConfig struct {
	AlertThresholdKm    float64       `yaml:"alert_threshold_km"`
	DailyThresholdKm    float64       `yaml:"daily_threshold_km"`
	CorridorToleranceKm float64       `yaml:"corridor_tolerance_km"`
	BackstopWindow      time.Duration `yaml:"backstop_window"`
	DedupeTTL           time.Duration `yaml:"dedupe_ttl"`
	CompareCacheTTL     time.Duration `yaml:"compare_cache_ttl"`
	GeocodeAddresses    bool          `yaml:"geocode_addresses"`
}

// MonitorConfig holds background sweep settings
type MonitorConfig struct {
	Enabled          bool          `yaml:"enabled"`
	RegionInterval   time.Duration `yaml:"region_interval"`
	DailyInterval    time.Duration `yaml:"daily_interval"`
	IterationTimeout time.Duration `yaml:"iteration_timeout"`
	SweepTimeout     time.Duration `yaml:"sweep_timeout"`
	Concurrency      int           `yaml:"concurrency"`
	TimeZone         string        `yaml:"time_zone"`
}

// DatabaseConfig holds PostgreSQL settings
type DatabaseConfig struct {
	URL     string `yaml:"url"`
	Migrate bool   `yaml:"migrate"`
}

// RedisConfig holds the optional dedupe marker store. An empty address
// keeps markers in process memory.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// NotifyConfig holds push channel settings
type NotifyConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	AMQPURL   string `yaml:"amqp_url"`
	Exchange  string `yaml:"exchange"`
}

// OpenAIConfig holds optional message phrasing settings
type OpenAIConfig struct {
	APIKey   string        `yaml:"api_key"`
	Model    string        `yaml:"model"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			CorsOrigins: []string{"http://localhost:3000"},
		},
		Google: GoogleConfig{
			TrafficModel: directions.TrafficModelBestGuess,
			Timeout:      30 * time.Second,
		},
		Detection: DetectionConfig{
			AlertThresholdKm:    1.0,
			DailyThresholdKm:    0.5,
			CorridorToleranceKm: 2.0,
			BackstopWindow:      alerts.DefaultBackstopWindow,
			DedupeTTL:           alerts.DefaultDedupeTTL,
			CompareCacheTTL:     60 * time.Second,
			GeocodeAddresses:    true,
		},
		Monitor: MonitorConfig{
			Enabled:          true,
			RegionInterval:   2 * time.Minute,
			DailyInterval:    5 * time.Minute,
			IterationTimeout: 90 * time.Second,
			SweepTimeout:     15 * time.Minute,
			Concurrency:      4,
			TimeZone:         "Local",
		},
		Database: DatabaseConfig{
			Migrate: true,
		},
		Notify: NotifyConfig{
			Exchange: "traffic_topic",
		},
		OpenAI: OpenAIConfig{
			Model:    "gpt-4o-mini",
			CacheTTL: 24 * time.Hour,
		},
	}
}

// Load layers defaults, YAML files, TRAFFIC__ environment variables and
// explicit overrides, in that order
func Load(paths []string, overrides map[string]any) (*Config, error) {
	k := koanf.New(".")

	for _, path := range paths {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	if len(overrides) > 0 {
		if err := k.Load(confmap.Provider(overrides, "."), nil); err != nil {
			return nil, fmt.Errorf("failed to load overrides: %w", err)
		}
	}

	cfg := DefaultConfig()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKey maps TRAFFIC__DETECTION__ALERT_THRESHOLD_KM to detection.alert_threshold_km
func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// Validate rejects settings the services cannot run with
func (c *Config) Validate() error {
	var errs []error
	if c.Detection.AlertThresholdKm <= 0 {
		errs = append(errs, errors.New("detection.alert_threshold_km must be positive"))
	}
	if c.Detection.DailyThresholdKm <= 0 {
		errs = append(errs, errors.New("detection.daily_threshold_km must be positive"))
	}
	if c.Detection.CorridorToleranceKm <= 0 {
		errs = append(errs, errors.New("detection.corridor_tolerance_km must be positive"))
	}
	if c.Detection.BackstopWindow <= 0 {
		errs = append(errs, errors.New("detection.backstop_window must be positive"))
	}
	if c.Detection.DedupeTTL <= 0 {
		errs = append(errs, errors.New("detection.dedupe_ttl must be positive"))
	}
	if c.Monitor.RegionInterval <= 0 || c.Monitor.DailyInterval <= 0 {
		errs = append(errs, errors.New("monitor intervals must be positive"))
	}
	if c.Monitor.Concurrency <= 0 {
		errs = append(errs, errors.New("monitor.concurrency must be positive"))
	}
	if _, err := time.LoadLocation(c.Monitor.TimeZone); err != nil {
		errs = append(errs, fmt.Errorf("monitor.time_zone: %w", err))
	}
	switch c.Google.TrafficModel {
	case directions.TrafficModelBestGuess, directions.TrafficModelPessimistic, directions.TrafficModelOptimistic:
	default:
		errs = append(errs, fmt.Errorf("google.traffic_model %q is not supported", c.Google.TrafficModel))
	}
	return errors.Join(errs...)
}

// Location returns the zone daily route windows are evaluated in
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Monitor.TimeZone)
	if err != nil {
		return time.Local
	}
	return loc
}

// SecurityHeaders builds the server's response headers, including CORS for
// the configured origins
func (c *Config) SecurityHeaders() *prefab.SecurityHeaders {
	return &prefab.SecurityHeaders{
		XFramesOptions:   prefab.XFramesOptionsDeny,
		CORSOrigins:      c.Server.CorsOrigins,
		CORSAllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		CORSAllowHeaders: []string{"Authorization", "Content-Type"},
		CORSMaxAge:       time.Hour,
	}
}

// EngineConfig converts the detection settings for the alert engine
func (c *Config) EngineConfig() alerts.EngineConfig {
	cfg := alerts.DefaultEngineConfig()
	cfg.AlertThresholdKm = c.Detection.AlertThresholdKm
	cfg.DailyThresholdKm = c.Detection.DailyThresholdKm
	cfg.BackstopWindow = c.Detection.BackstopWindow
	cfg.DedupeTTL = c.Detection.DedupeTTL
	cfg.TrafficModel = c.Google.TrafficModel
	return cfg
}
