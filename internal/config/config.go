package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the transitbook service
type Config struct {
	// Database
	DatabasePath string `yaml:"database_path" validate:"required"`

	// Updater loop
	PollInterval      time.Duration `yaml:"poll_interval" validate:"gt=0"`
	FeedTimeout       time.Duration `yaml:"feed_timeout" validate:"gt=0"`
	CommitMaxAttempts int           `yaml:"commit_max_attempts" validate:"gte=1"`
	CommitRetryDelay  time.Duration `yaml:"commit_retry_delay" validate:"gte=0"`
	RetentionDuration time.Duration `yaml:"retention" validate:"gte=0"`

	// Buses not refreshed within this window are hidden from listings (0 disables)
	StaleAfter time.Duration `yaml:"stale_after" validate:"gte=0"`

	// Static route data
	GTFSStaticURL  string        `yaml:"gtfs_static_url" validate:"required,url"`
	RouteCacheFile string        `yaml:"route_cache_file" validate:"required"`
	RouteCacheTTL  time.Duration `yaml:"route_cache_ttl" validate:"gt=0"`
	CacheDir       string        `yaml:"cache_dir" validate:"required"`

	// Real-time feeds
	GTFSVehiclePositionsURL string `yaml:"gtfs_vehicle_positions_url" validate:"required,url"`
	GTFSTripUpdatesURL      string `yaml:"gtfs_trip_updates_url" validate:"omitempty,url"`
	GTFSAlertsURL           string `yaml:"gtfs_alerts_url" validate:"omitempty,url"`

	// Geographic filter
	ReferenceLat float64 `yaml:"reference_lat" validate:"gte=-90,lte=90"`
	ReferenceLon float64 `yaml:"reference_lon" validate:"gte=-180,lte=180"`
	Radius       float64 `yaml:"radius" validate:"gt=0"`
	DistanceUnit string  `yaml:"distance_unit" validate:"oneof=km mi"`

	// Defaults for buses seen for the first time
	DefaultCapacity int     `yaml:"default_capacity" validate:"gte=1"`
	DefaultFare     float64 `yaml:"default_fare" validate:"gte=0"`

	// HTTP API
	Port        string   `yaml:"port" validate:"required,numeric"`
	CORSOrigins []string `yaml:"cors_origins"`

	// Logging
	LogFormat string `yaml:"log_format" validate:"omitempty,oneof=JSON CONSOLE"`
	LogLevel  string `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// Default returns the configuration used when nothing is overridden
func Default() *Config {
	return &Config{
		DatabasePath: "data/transit.db",

		PollInterval:      15 * time.Second,
		FeedTimeout:       10 * time.Second,
		CommitMaxAttempts: 3,
		CommitRetryDelay:  2 * time.Second,
		RetentionDuration: time.Hour,
		StaleAfter:        10 * time.Minute,

		GTFSStaticURL:  "https://www.cttransit.com/sites/default/files/gtfs/googlect_transit.zip",
		RouteCacheFile: "data/cache/routes.json",
		RouteCacheTTL:  24 * time.Hour,
		CacheDir:       "data/cache",

		GTFSVehiclePositionsURL: "https://cttprdtmgtfs.ctttrpcloud.com/TMGTFSRealTimeWebService/Vehicle/VehiclePositions.json",
		GTFSTripUpdatesURL:      "https://cttprdtmgtfs.ctttrpcloud.com/TMGTFSRealTimeWebService/TripUpdate/TripUpdates.json",
		GTFSAlertsURL:           "https://cttprdtmgtfs.ctttrpcloud.com/TMGTFSRealTimeWebService/Alert/Alerts.json",

		// Campus
		ReferenceLat: 41.2927,
		ReferenceLon: -72.9606,
		Radius:       5,
		DistanceUnit: "km",

		DefaultCapacity: 30,
		DefaultFare:     2.0,

		Port:        "8081",
		CORSOrigins: []string{"http://localhost:5173"},

		LogFormat: "CONSOLE",
		LogLevel:  "info",
	}
}

// Load builds the configuration: defaults, then the optional YAML file named
// by TRANSITBOOK_CONFIG, then .env files and environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Overload(".env.local")

	cfg := Default()

	if path := os.Getenv("TRANSITBOOK_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the struct tags
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.DatabasePath = getEnv("SQLITE_DATABASE", c.DatabasePath)

	c.PollInterval = getEnvDuration("POLL_INTERVAL", c.PollInterval)
	c.FeedTimeout = getEnvDuration("FEED_TIMEOUT", c.FeedTimeout)
	c.CommitMaxAttempts = getEnvInt("COMMIT_MAX_ATTEMPTS", c.CommitMaxAttempts)
	c.CommitRetryDelay = getEnvDuration("COMMIT_RETRY_DELAY", c.CommitRetryDelay)
	if hours := getEnvInt("RETENTION_HOURS", -1); hours >= 0 {
		c.RetentionDuration = time.Duration(hours) * time.Hour
	}
	c.StaleAfter = getEnvDuration("STALE_AFTER", c.StaleAfter)

	c.GTFSStaticURL = getEnv("GTFS_STATIC_URL", c.GTFSStaticURL)
	c.RouteCacheFile = getEnv("ROUTE_CACHE_FILE", c.RouteCacheFile)
	c.RouteCacheTTL = getEnvDuration("ROUTE_CACHE_TTL", c.RouteCacheTTL)
	c.CacheDir = getEnv("CACHE_DIR", c.CacheDir)

	c.GTFSVehiclePositionsURL = getEnv("GTFS_VEHICLE_POSITIONS_URL", c.GTFSVehiclePositionsURL)
	c.GTFSTripUpdatesURL = getEnv("GTFS_TRIP_UPDATES_URL", c.GTFSTripUpdatesURL)
	c.GTFSAlertsURL = getEnv("GTFS_ALERTS_URL", c.GTFSAlertsURL)

	c.ReferenceLat = getEnvFloat("REFERENCE_LAT", c.ReferenceLat)
	c.ReferenceLon = getEnvFloat("REFERENCE_LON", c.ReferenceLon)
	c.Radius = getEnvFloat("RADIUS", c.Radius)
	c.DistanceUnit = strings.ToLower(getEnv("DISTANCE_UNIT", c.DistanceUnit))

	c.DefaultCapacity = getEnvInt("DEFAULT_CAPACITY", c.DefaultCapacity)
	c.DefaultFare = getEnvFloat("DEFAULT_FARE", c.DefaultFare)

	c.Port = getEnv("PORT", c.Port)
	if origins := getEnv("CORS_ORIGINS", ""); origins != "" {
		c.CORSOrigins = strings.Split(origins, ",")
	}

	c.LogFormat = strings.ToUpper(getEnv("LOG_FORMAT", c.LogFormat))
	c.LogLevel = strings.ToLower(getEnv("LOG_LEVEL", c.LogLevel))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("15s") or a bare number of seconds
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
