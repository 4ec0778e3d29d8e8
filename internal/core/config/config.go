package config

import (
	"errors"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// EventsCfg configures the refresh notification producer. Invalidation
// consumer settings are read by pkg/invalidation/kafka.
type EventsCfg struct {
	Enabled bool
	Topic   string
	Brokers []string
}

type ExternalCfg struct {
	Enabled           bool
	OpenWeatherAPIKey string
	NewsAPIKey        string
	Timeout           time.Duration
	CacheTTL          time.Duration
}

type Config struct {
	Addr       string
	LogLevel   string
	LogConsole bool
	LogSampleN uint32

	DatabasePath string

	CacheBackend          string
	RedisAddr             string
	CacheOpTimeout        time.Duration
	CacheTTLDefault       time.Duration
	CacheTTLOvr           map[string]time.Duration
	CacheExpiredRetention time.Duration
	CacheCoalesceMisses   bool

	SatelliteDataDir string
	ShapefileDir     string
	TempDir          string
	RegionalFallback bool

	NDVIThreshold   float64
	AnalyzerWorkers int
	AmbiguousMatch  string
	HexResolution   int
	NameAttribute   string

	BatchSize       int
	BatchPause      time.Duration
	StaleAfter      time.Duration
	RefreshSchedule string
	CleanupSchedule string
	SchedulerTZ     string
	BackgroundTasks bool

	MaxUploadBytes  int64
	CORSOrigins     []string
	RateLimitPerMin int
	AdminToken      string

	Events   EventsCfg
	External ExternalCfg

	MetricsEnabled bool
	MetricsAddr    string
	MetricsPath    string
}

// LoadDotEnv loads every existing file of paths; earlier files win, and
// variables already set in the environment win over all of them.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env.local", ".env"}
	}
	var found []string
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return err
		}
		found = append(found, p)
	}
	if len(found) == 0 {
		return nil
	}
	return godotenv.Load(found...)
}

func FromEnv() Config {
	workers := getint("ANALYZER_WORKERS", 0)
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	return Config{
		Addr:       getenv("ADDR", ":8000"),
		LogLevel:   getenv("LOG_LEVEL", "info"),
		LogConsole: getbool("LOG_CONSOLE", false),
		LogSampleN: uint32(max(getint("LOG_SAMPLE_N", 0), 0)),

		DatabasePath: getenv("DATABASE_PATH", "data/urban_green.db"),

		CacheBackend:          strings.ToLower(getenv("CACHE_BACKEND", "sqlite")),
		RedisAddr:             getenv("REDIS_ADDR", "localhost:6379"),
		CacheOpTimeout:        getduration("CACHE_OP_TIMEOUT", 2*time.Second),
		CacheTTLDefault:       getduration("CACHE_TTL_DEFAULT", 24*time.Hour),
		CacheTTLOvr:           parseDurationMap(getenv("CACHE_TTL_OVERRIDES", "satellite=72h,stats=12h")),
		CacheExpiredRetention: getduration("CACHE_EXPIRED_RETENTION", 24*time.Hour),
		CacheCoalesceMisses:   getbool("CACHE_COALESCE_MISSES", false),

		SatelliteDataDir: getenv("SATELLITE_DATA_DIR", "data/satellite"),
		ShapefileDir:     getenv("SHAPEFILE_DIR", "data/shapefiles"),
		TempDir:          getenv("TEMP_DIR", os.TempDir()),
		RegionalFallback: getbool("REGIONAL_FALLBACK", true),

		NDVIThreshold:   getfloat("NDVI_THRESHOLD", 0.3),
		AnalyzerWorkers: workers,
		AmbiguousMatch:  strings.ToLower(getenv("AMBIGUOUS_MATCH", "first")),
		HexResolution:   getint("HEX_RESOLUTION", 0),
		NameAttribute:   getenv("NAME_ATTRIBUTE", "NAME"),

		BatchSize:       getint("BATCH_SIZE", 10),
		BatchPause:      getduration("BATCH_PAUSE", 5*time.Second),
		StaleAfter:      getduration("STALE_AFTER", 7*24*time.Hour),
		RefreshSchedule: getenv("REFRESH_SCHEDULE", "0 2 * * 0"),
		CleanupSchedule: getenv("CLEANUP_SCHEDULE", "0 3 * * *"),
		SchedulerTZ:     getenv("SCHEDULER_TZ", "UTC"),
		BackgroundTasks: getbool("ENABLE_BACKGROUND_TASKS", true),

		MaxUploadBytes:  getbytes("MAX_UPLOAD_BYTES", 512<<20),
		CORSOrigins:     splitList(getenv("CORS_ORIGINS", "*")),
		RateLimitPerMin: getint("RATE_LIMIT_PER_MIN", 30),
		AdminToken:      os.Getenv("ADMIN_TOKEN"),

		Events: EventsCfg{
			Enabled: getbool("EVENTS_ENABLED", false),
			Topic:   getenv("EVENTS_TOPIC", "coverage-events"),
			Brokers: splitList(getenv("KAFKA_BROKERS", "localhost:9092")),
		},
		External: ExternalCfg{
			Enabled:           getbool("ENABLE_EXTERNAL_DATA", false),
			OpenWeatherAPIKey: os.Getenv("OPENWEATHER_API_KEY"),
			NewsAPIKey:        os.Getenv("NEWS_API_KEY"),
			Timeout:           getduration("EXTERNAL_API_TIMEOUT", 10*time.Second),
			CacheTTL:          getduration("EXTERNAL_API_CACHE_TTL", 10*time.Minute),
		},

		MetricsEnabled: getbool("METRICS_ENABLED", true),
		MetricsAddr:    getenv("METRICS_ADDR", ""),
		MetricsPath:    getenv("METRICS_PATH", "/metrics"),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// getbytes accepts a plain byte count or a KiB/MiB/GiB suffix.
func getbytes(k string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	mult := int64(1)
	for suffix, m := range map[string]int64{"KiB": 1 << 10, "MiB": 1 << 20, "GiB": 1 << 30} {
		if strings.HasSuffix(v, suffix) {
			v, mult = strings.TrimSpace(strings.TrimSuffix(v, suffix)), m
			break
		}
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n * mult
}

func splitList(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		if x := strings.TrimSpace(p); x != "" {
			out = append(out, x)
		}
	}
	return out
}

// parse "satellite=72h,stats=12h" into map
func parseDurationMap(s string) map[string]time.Duration {
	out := map[string]time.Duration{}
	s = strings.TrimSpace(s)
	if s == "" {
		return out
	}
	parts := strings.SplitSeq(s, ",")
	for p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		k := strings.TrimSpace(kv[0])
		v := strings.TrimSpace(kv[1])
		if k == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err == nil {
			out[k] = d
		}
	}
	return out
}
