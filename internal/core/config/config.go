package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type InvalidationCfg struct {
	Enabled bool
	Driver  string
	Topic   string
	Brokers string
	GroupID string
}

type CacheCfg struct {
	Enabled     bool
	RedisAddr   string
	TTL         time.Duration
	TTLHot      time.Duration
	LocalSize   int
	OpTimeout   time.Duration
	HotThresh   float64
	HotHalfLife time.Duration
	HotRes      int
}

type Config struct {
	Addr            string
	LogLevel        string
	LogConsole      bool
	LogSampleN      int
	RemoteURL       string
	RemoteAPIKey    string
	RemoteTimeout   time.Duration
	TileURLTemplate string
	CatalogPath     string
	DefaultScale    float64
	DefaultReducer  string
	ExtractWorkers  int
	CORSOrigins     []string
	Cache           CacheCfg
	Invalidation    InvalidationCfg
}

const DefaultTileURLTemplate = "https://earthengine.googleapis.com/map/{mapid}/{z}/{x}/{y}?token={token}"

func FromEnv() Config {
	ttl := getduration("CACHE_TTL", 10*time.Minute)
	res := getint("HOT_RES", 7)
	if res < 0 || res > 15 {
		res = 7
	}
	workers := getint("EXTRACT_WORKERS", 1)
	if workers < 1 {
		workers = 1
	}
	scale := getfloat("DEFAULT_SCALE", 250)
	if scale <= 0 {
		scale = 250
	}

	return Config{
		Addr:            getenv("ADDR", ":8090"),
		LogLevel:        getenv("LOG_LEVEL", "info"),
		LogConsole:      getbool("LOG_CONSOLE", false),
		LogSampleN:      getint("LOG_SAMPLE_N", 0),
		RemoteURL:       strings.TrimRight(getenv("EE_API_URL", "http://localhost:8081"), "/"),
		RemoteAPIKey:    os.Getenv("EE_API_KEY"),
		RemoteTimeout:   getduration("EE_TIMEOUT", 60*time.Second),
		TileURLTemplate: getenv("TILE_URL_TEMPLATE", DefaultTileURLTemplate),
		CatalogPath:     strings.TrimSpace(os.Getenv("CATALOG_PATH")),
		DefaultScale:    scale,
		DefaultReducer:  getenv("DEFAULT_REDUCER", "median"),
		ExtractWorkers:  workers,
		CORSOrigins:     splitList(getenv("CORS_ORIGINS", "*")),
		Cache: CacheCfg{
			Enabled:     getbool("CACHE_ENABLED", false),
			RedisAddr:   getenv("REDIS_ADDR", "localhost:6379"),
			TTL:         ttl,
			TTLHot:      getduration("CACHE_TTL_HOT", 2*ttl),
			LocalSize:   getint("CACHE_LOCAL_SIZE", 1024),
			OpTimeout:   getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),
			HotThresh:   getfloat("HOT_THRESHOLD", 10.0),
			HotHalfLife: getduration("HOT_HALF_LIFE", 10*time.Minute),
			HotRes:      res,
		},
		Invalidation: InvalidationCfg{
			Enabled: getbool("INVALIDATION_ENABLED", false),
			Driver:  getenv("INVALIDATION_DRIVER", "none"),
			Topic:   getenv("KAFKA_TOPIC", "collection-updates"),
			Brokers: getenv("KAFKA_BROKERS", "localhost:9092"),
			GroupID: getenv("KAFKA_GROUP_ID", "eo-series-invalidator"),
		},
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

func splitList(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		if x := strings.TrimSpace(p); x != "" {
			out = append(out, x)
		}
	}
	return out
}
