package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultGoogleTilesURL    = "https://researchsites.withgoogle.com/tiles.geojson"
	DefaultMicrosoftLinksURL = "https://minedbuildings.z5.web.core.windows.net/global-buildings/dataset-links.csv"
	DefaultOverpassURL       = "https://overpass-api.de/api/interpreter"
)

type GoogleCfg struct {
	TilesURL string
	// point (centroid, default) or polygon (footprint from the WKT column)
	Geometry string
}

type MicrosoftCfg struct {
	LinksURL string
	// catalog quadkeys shorter than this were stored without leading zeros
	QuadkeyZoom int
}

type OSMCfg struct {
	OverpassURL  string
	RPS          float64
	Burst        int
	// SplitRes > 0 queries Overpass per covering H3 cell; 0 disables splitting.
	SplitRes     int
	QueryTimeout time.Duration
}

type OvertureCfg struct {
	TileURL string
	Zoom    int
	Layer   string
}

type CatalogCfg struct {
	Cache string
	TTL   time.Duration
	Size  int
}

type EventsCfg struct {
	Enabled bool
	Brokers string
	Topic   string
	Queue   int
}

// MetricsCfg mounts the registry on the API listener at Path.
type MetricsCfg struct {
	Enabled bool
	Path    string
}

type Config struct {
	Addr            string
	LogLevel        string
	LogConsole      bool
	FetchWorkers    int
	FetchTimeout    time.Duration
	HTTPTimeout     time.Duration
	MaxBodyBytes    int64
	FailOnAllFailed bool
	RedisAddr       string
	RedisPoolSize   int
	RedisDial       time.Duration
	CacheOpTimeout  time.Duration
	Google          GoogleCfg
	Microsoft       MicrosoftCfg
	OSM             OSMCfg
	Overture        OvertureCfg
	Catalog         CatalogCfg
	Events          EventsCfg
	Metrics         MetricsCfg
}

func FromEnv() Config {
	workers := getint("FETCH_WORKERS", 4)
	if workers < 1 {
		workers = 1
	}

	splitRes := getint("OSM_SPLIT_RES", 0)
	if splitRes < 0 {
		splitRes = 0
	}
	if splitRes > 15 {
		splitRes = 15
	}

	poolSize := getint("REDIS_POOL_SIZE", 8)
	if poolSize < 1 {
		poolSize = 1
	}

	zoom := getint("OVERTURE_ZOOM", 14)
	if zoom < 0 || zoom > 22 {
		zoom = 14
	}

	return Config{
		Addr:            getenv("ADDR", ":8090"),
		LogLevel:        getenv("LOG_LEVEL", "info"),
		LogConsole:      getbool("LOG_CONSOLE", false),
		FetchWorkers:    workers,
		FetchTimeout:    getduration("FETCH_TIMEOUT", 10*time.Minute),
		HTTPTimeout:     getduration("HTTP_TIMEOUT", 30*time.Second),
		MaxBodyBytes:    int64(getint("MAX_BODY_BYTES", 16<<20)),
		FailOnAllFailed: getbool("FAIL_ON_ALL_PARTITIONS_FAILED", false),
		RedisAddr:       getenv("REDIS_ADDR", "localhost:6379"),
		RedisPoolSize:   poolSize,
		RedisDial:       getduration("REDIS_DIAL_TIMEOUT", 2*time.Second),
		CacheOpTimeout:  getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),
		Google: GoogleCfg{
			TilesURL: getenv("GOOGLE_TILES_URL", DefaultGoogleTilesURL),
			Geometry: strings.ToLower(getenv("GOOGLE_GEOMETRY", "point")),
		},
		Microsoft: MicrosoftCfg{
			LinksURL:    getenv("MICROSOFT_LINKS_URL", DefaultMicrosoftLinksURL),
			QuadkeyZoom: getint("MICROSOFT_QUADKEY_ZOOM", 9),
		},
		OSM: OSMCfg{
			OverpassURL:  getenv("OVERPASS_URL", DefaultOverpassURL),
			RPS:          getfloat("OVERPASS_RPS", 1),
			Burst:        getint("OVERPASS_BURST", 1),
			SplitRes:     splitRes,
			QueryTimeout: getduration("OVERPASS_QUERY_TIMEOUT", 180*time.Second),
		},
		Overture: OvertureCfg{
			TileURL: getenv("OVERTURE_TILE_URL", ""),
			Zoom:    zoom,
			Layer:   getenv("OVERTURE_LAYER", "building"),
		},
		Catalog: CatalogCfg{
			Cache: strings.ToLower(getenv("CATALOG_CACHE", "none")),
			TTL:   getduration("CATALOG_TTL", 24*time.Hour),
			Size:  getint("CATALOG_CACHE_SIZE", 16),
		},
		Events: EventsCfg{
			Enabled: getbool("EVENTS_ENABLED", false),
			Brokers: getenv("KAFKA_BROKERS", "localhost:9092"),
			Topic:   getenv("KAFKA_TOPIC", "obe-extractions"),
			Queue:   getint("EVENTS_QUEUE", 256),
		},
		Metrics: MetricsCfg{
			Enabled: getbool("METRICS_ENABLED", false),
			Path:    getenv("METRICS_PATH", "/metrics"),
		},
	}
}

// Brokers splits a comma separated broker list, dropping blanks.
func Brokers(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
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
