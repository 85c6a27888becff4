package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Geodata inputs.
	NeighborhoodsPath     string
	NeighborhoodNameField string
	NeighborhoodsCRS      string // empty: use the file's declaration, else EPSG:4326
	RoadNetworkPath       string
	RoadNetworkCRS        string
	ElevationRasterPath   string
	RasterAssumeTargetCRS bool

	// Target metric CRS.
	TargetUTMZone  int
	TargetUTMSouth bool

	RepairPolygons     bool
	GeodataLoadTimeout time.Duration
	StrictMode         bool

	// Prediction model.
	ModelURL            string
	ModelTimeout        time.Duration
	PredictionThreshold float64
	FallbackRainfallMM  float64

	// Mapbox geocoding configuration.
	MapboxToken     string
	MapboxEnabled   bool
	MapboxTimeout   time.Duration
	MapboxCacheSize int
	MapboxCountry   string

	// Assessment publishing.
	KafkaBrokers       []string
	KafkaRiskTopic     string
	RiskPublishEnabled bool
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		NeighborhoodsPath:     sharedcfg.EnvOrDefault("NEIGHBORHOODS_PATH", "data/bairros.geojson"),
		NeighborhoodNameField: sharedcfg.EnvOrDefault("NEIGHBORHOOD_NAME_FIELD", "NM_BAIRRO"),
		NeighborhoodsCRS:      os.Getenv("NEIGHBORHOODS_CRS"),
		RoadNetworkPath:       sharedcfg.EnvOrDefault("ROAD_NETWORK_PATH", "data/belem_drive.graphml"),
		RoadNetworkCRS:        sharedcfg.EnvOrDefault("ROAD_NETWORK_CRS", "EPSG:4326"),
		ElevationRasterPath:   sharedcfg.EnvOrDefault("ELEVATION_RASTER_PATH", "data/relevo.asc"),

		ModelURL:       strings.TrimRight(os.Getenv("MODEL_URL"), "/"),
		MapboxToken:    os.Getenv("MAPBOX_TOKEN"),
		MapboxCountry:  sharedcfg.EnvOrDefault("MAPBOX_COUNTRY", "br"),
		KafkaRiskTopic: sharedcfg.EnvOrDefault("KAFKA_RISK_TOPIC", "flood-risk-assessments"),
	}

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.KafkaBrokers = sharedcfg.ParseBrokers(v)
	}

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	cfg.RasterAssumeTargetCRS, err = parseBool("RASTER_ASSUME_TARGET_CRS", false)
	collect(err)
	cfg.RepairPolygons, err = parseBool("GEO_REPAIR_POLYGONS", true)
	collect(err)
	cfg.StrictMode, err = parseBool("STRICT_MODE", false)
	collect(err)
	cfg.MapboxEnabled, err = parseBool("MAPBOX_ENABLED", cfg.MapboxToken != "")
	collect(err)
	cfg.RiskPublishEnabled, err = parseBool("RISK_PUBLISH_ENABLED", len(cfg.KafkaBrokers) > 0)
	collect(err)

	cfg.GeodataLoadTimeout, err = parseDuration("GEODATA_LOAD_TIMEOUT", 2*time.Minute)
	collect(err)
	cfg.ModelTimeout, err = parseDuration("MODEL_TIMEOUT", 5*time.Second)
	collect(err)
	cfg.MapboxTimeout, err = parseDuration("MAPBOX_TIMEOUT", 5*time.Second)
	collect(err)

	cfg.PredictionThreshold, err = parseFloat("RISK_PREDICTION_THRESHOLD", 0.5)
	collect(err)
	cfg.FallbackRainfallMM, err = parseFloat("RISK_FALLBACK_RAINFALL_MM", 150)
	collect(err)

	cfg.TargetUTMZone, err = parseInt("TARGET_UTM_ZONE", 22)
	collect(err)
	cfg.MapboxCacheSize = parseMapboxCacheSize()

	switch hemi := strings.ToLower(sharedcfg.EnvOrDefault("TARGET_UTM_HEMISPHERE", "south")); hemi {
	case "south", "s":
		cfg.TargetUTMSouth = true
	case "north", "n":
		cfg.TargetUTMSouth = false
	default:
		errs = append(errs, fmt.Errorf("invalid TARGET_UTM_HEMISPHERE %q", hemi))
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.TargetUTMZone < 1 || c.TargetUTMZone > 60 {
		return fmt.Errorf("TARGET_UTM_ZONE must be between 1 and 60, got %d", c.TargetUTMZone)
	}
	if c.NeighborhoodNameField == "" {
		return errors.New("NEIGHBORHOOD_NAME_FIELD is required")
	}
	if c.FallbackRainfallMM < 0 {
		return errors.New("RISK_FALLBACK_RAINFALL_MM must be >= 0")
	}
	if c.MapboxEnabled && c.MapboxToken == "" {
		return errors.New("MAPBOX_ENABLED is true but MAPBOX_TOKEN is not set")
	}
	if c.RiskPublishEnabled && len(c.KafkaBrokers) == 0 {
		return errors.New("RISK_PUBLISH_ENABLED is true but KAFKA_BROKERS is not set")
	}
	if c.RiskPublishEnabled && c.KafkaRiskTopic == "" {
		return errors.New("KAFKA_RISK_TOPIC is required")
	}
	return nil
}

func parseBool(key string, def bool) (bool, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func parseDuration(key string, def time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseFloat(key string, def float64) (float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return v, nil
}

func parseInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func parseMapboxCacheSize() int {
	if s := os.Getenv("MAPBOX_CACHE_SIZE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 1000
}
