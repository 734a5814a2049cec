package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/joho/godotenv"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr         string
	HTTPWriteTimeout time.Duration
	LogLevel         string
	LogFormat        string
	ShutdownTimeout  time.Duration

	// Grid cache and NOMADS fetching.
	CacheTTL        time.Duration
	NomadsBaseURL   string
	NomadsTimeout   time.Duration
	NomadsRateLimit float64
	NomadsBurst     int
	FetchWorkers    int

	// GFS run selection.
	NumRuns       int
	MaxLeadHours  int
	MinLeadFiles  int
	CompleteAfter time.Duration
	BBoxDelta     float64

	// Detection thresholds.
	SnowTempC       float64
	MinPrecipMM     float64
	SnowRatio       float64
	MinRunAgreement int
	WindowMatch     time.Duration

	// Kafka alert publishing.
	KafkaEnabled    bool
	KafkaBrokers    []string
	KafkaAlertTopic string

	// Mapbox geocoding configuration.
	MapboxToken     string
	MapboxEnabled   bool
	MapboxTimeout   time.Duration
	MapboxCacheSize int

	// Redis grid store; empty RedisAddr disables it.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisGridTTL  time.Duration

	// Alert watcher; no points disables it.
	WatchPoints   []WatchPoint
	WatchInterval time.Duration
}

// WatchPoint is a location the watcher forecasts periodically.
type WatchPoint struct {
	Lat float64
	Lon float64
}

// Load reads configuration from environment variables, applying defaults where unset.
// A .env file in the working directory is loaded first when present; variables
// already set in the environment win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	var p parser
	cfg := &Config{
		HTTPAddr:         sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		HTTPWriteTimeout: p.duration("HTTP_WRITE_TIMEOUT", "5m"),
		LogLevel:         sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:        sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:  shutdownTimeout,

		CacheTTL:        time.Duration(p.positiveInt("GFS_CACHE_TTL_MINUTES", "60")) * time.Minute,
		NomadsBaseURL:   sharedcfg.EnvOrDefault("NOMADS_BASE_URL", "https://nomads.ncep.noaa.gov/cgi-bin/filter_gfs_0p25.pl"),
		NomadsTimeout:   p.duration("NOMADS_TIMEOUT", "60s"),
		NomadsRateLimit: p.positiveFloat("NOMADS_RATE_LIMIT", "2"),
		NomadsBurst:     p.positiveInt("NOMADS_BURST", "4"),
		FetchWorkers:    p.positiveInt("FETCH_WORKERS", "8"),

		NumRuns:       p.positiveInt("GFS_NUM_RUNS", "3"),
		MaxLeadHours:  p.positiveInt("GFS_MAX_LEAD_HOURS", "240"),
		MinLeadFiles:  p.positiveInt("GFS_MIN_LEAD_FILES", "13"),
		CompleteAfter: p.duration("GFS_COMPLETE_AFTER", "6h"),
		BBoxDelta:     p.positiveFloat("GFS_BBOX_DELTA", "0.5"),

		SnowTempC:       p.float("SNOW_TEMP_C", "2.0"),
		MinPrecipMM:     p.positiveFloat("MIN_PRECIP_MM", "0.05"),
		SnowRatio:       p.positiveFloat("SNOW_RATIO", "10"),
		MinRunAgreement: p.positiveInt("MIN_RUN_AGREEMENT", "2"),
		WindowMatch:     p.duration("WINDOW_MATCH", "18h"),

		KafkaBrokers:    sharedcfg.ParseBrokers(os.Getenv("KAFKA_BROKERS")),
		KafkaAlertTopic: sharedcfg.EnvOrDefault("KAFKA_ALERT_TOPIC", "winter-weather-alerts"),

		MapboxToken:     os.Getenv("MAPBOX_TOKEN"),
		MapboxTimeout:   p.duration("MAPBOX_TIMEOUT", "5s"),
		MapboxCacheSize: parseMapboxCacheSize(),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       p.nonNegativeInt("REDIS_DB", "0"),
		RedisGridTTL:  p.duration("REDIS_GRID_TTL", "24h"),

		WatchInterval: p.duration("WATCH_INTERVAL", "30m"),
	}
	if p.err != nil {
		return nil, p.err
	}

	cfg.WatchPoints, err = ParseWatchPoints(os.Getenv("WATCH_POINTS"))
	if err != nil {
		return nil, err
	}

	cfg.KafkaEnabled = len(cfg.KafkaBrokers) > 0
	if v := os.Getenv("KAFKA_ENABLED"); v != "" {
		cfg.KafkaEnabled = v == "true"
	}
	cfg.MapboxEnabled = cfg.MapboxToken != ""
	if v := os.Getenv("MAPBOX_ENABLED"); v != "" {
		cfg.MapboxEnabled = v == "true"
	}

	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is not set")
	}
	if cfg.KafkaEnabled && cfg.KafkaAlertTopic == "" {
		return nil, errors.New("KAFKA_ALERT_TOPIC is required")
	}
	if cfg.MapboxEnabled && cfg.MapboxToken == "" {
		return nil, errors.New("MAPBOX_ENABLED is true but MAPBOX_TOKEN is not set")
	}
	if cfg.MinLeadFiles > cfg.MaxLeadHours/6+1 {
		return nil, errors.New("GFS_MIN_LEAD_FILES exceeds the lead hours available up to GFS_MAX_LEAD_HOURS")
	}

	return cfg, nil
}

// ParseWatchPoints parses "lat,lon;lat,lon". Empty input yields no points.
func ParseWatchPoints(s string) ([]WatchPoint, error) {
	var points []WatchPoint
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		latStr, lonStr, ok := strings.Cut(part, ",")
		if !ok {
			return nil, fmt.Errorf("invalid WATCH_POINTS entry %q", part)
		}
		lat, err1 := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
		lon, err2 := strconv.ParseFloat(strings.TrimSpace(lonStr), 64)
		if err1 != nil || err2 != nil || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
			return nil, fmt.Errorf("invalid WATCH_POINTS entry %q", part)
		}
		points = append(points, WatchPoint{Lat: lat, Lon: lon})
	}
	return points, nil
}

// parser reads typed variables and keeps the first error.
type parser struct {
	err error
}

func (p *parser) fail(key string) {
	if p.err == nil {
		p.err = errors.New("invalid " + key)
	}
}

func (p *parser) duration(key, fallback string) time.Duration {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, fallback))
	if err != nil || d <= 0 {
		p.fail(key)
		return 0
	}
	return d
}

func (p *parser) float(key, fallback string) float64 {
	f, err := strconv.ParseFloat(sharedcfg.EnvOrDefault(key, fallback), 64)
	if err != nil {
		p.fail(key)
		return 0
	}
	return f
}

func (p *parser) positiveFloat(key, fallback string) float64 {
	f := p.float(key, fallback)
	if f <= 0 {
		p.fail(key)
	}
	return f
}

func (p *parser) positiveInt(key, fallback string) int {
	n, err := strconv.Atoi(sharedcfg.EnvOrDefault(key, fallback))
	if err != nil || n <= 0 {
		p.fail(key)
		return 0
	}
	return n
}

func (p *parser) nonNegativeInt(key, fallback string) int {
	n, err := strconv.Atoi(sharedcfg.EnvOrDefault(key, fallback))
	if err != nil || n < 0 {
		p.fail(key)
		return 0
	}
	return n
}

func parseMapboxCacheSize() int {
	if s := os.Getenv("MAPBOX_CACHE_SIZE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 1000
}
