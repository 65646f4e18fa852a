// Package config loads the daemon's configuration from the environment.
// Optional integrations (Redis, NATS, Postgres) are enabled by the
// presence of their URL; everything else has a sane default.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type HTTPConfig struct {
	Addr string
}

type PlaybackConfig struct {
	// VisibilityThreshold is the area fraction a feed slot must exceed
	// to be eligible to play.
	VisibilityThreshold float64
	// TrackingWindow is how many positions beyond the visible range may
	// hold a live resource.
	TrackingWindow int
	// ProgressInterval is the progress-recording cadence while playing.
	ProgressInterval time.Duration
	// NetworkClass overrides network classification for quality
	// selection: offline, expensive, or unrestricted.
	NetworkClass string
}

type CacheConfig struct {
	BudgetBytes  int64
	FetchTimeout time.Duration
}

type FetchConfig struct {
	MaxRetries     int
	RetryBaseDelay time.Duration
	HeadBytes      int64
	// Circuit breaker in front of the media origin.
	CBMaxRequests      uint32
	CBInterval         time.Duration
	CBTimeout          time.Duration
	CBFailureThreshold uint32
}

type ResolverConfig struct {
	BaseURL  string
	RedisURL string
	CacheTTL time.Duration
}

type AppConfig struct {
	ServiceName string
	LogLevel    string
	HTTP        HTTPConfig
	Playback    PlaybackConfig
	Cache       CacheConfig
	Fetch       FetchConfig
	Resolver    ResolverConfig
	NATSURL     string
	DatabaseURL string
}

func Load() (AppConfig, error) {
	cfg := AppConfig{
		ServiceName: envString("SERVICE_NAME", "reelfeed"),
		LogLevel:    envString("LOG_LEVEL", "info"),
		HTTP: HTTPConfig{
			Addr: envString("HTTP_ADDR", ":8080"),
		},
		Playback: PlaybackConfig{
			VisibilityThreshold: envFloat("VISIBILITY_THRESHOLD", 0.5),
			TrackingWindow:      envInt("TRACKING_WINDOW", 1),
			ProgressInterval:    envDuration("PROGRESS_INTERVAL", 500*time.Millisecond),
			NetworkClass:        envString("NETWORK_CLASS", "unrestricted"),
		},
		Cache: CacheConfig{
			BudgetBytes:  envInt64("CACHE_BUDGET_BYTES", 256<<20),
			FetchTimeout: envDuration("FETCH_TIMEOUT", 15*time.Second),
		},
		Fetch: FetchConfig{
			MaxRetries:         envInt("FETCH_MAX_RETRIES", 3),
			RetryBaseDelay:     envDuration("FETCH_RETRY_BASE_DELAY", 500*time.Millisecond),
			HeadBytes:          envInt64("FETCH_HEAD_BYTES", 256<<10),
			CBMaxRequests:      uint32(envInt("CB_MAX_REQUESTS", 5)),
			CBInterval:         envDuration("CB_INTERVAL", 60*time.Second),
			CBTimeout:          envDuration("CB_TIMEOUT", 30*time.Second),
			CBFailureThreshold: uint32(envInt("CB_FAILURE_THRESHOLD", 5)),
		},
		Resolver: ResolverConfig{
			BaseURL:  strings.TrimSpace(os.Getenv("RESOLVER_BASE_URL")),
			RedisURL: strings.TrimSpace(os.Getenv("REDIS_URL")),
			CacheTTL: envDuration("SOURCE_CACHE_TTL", 20*time.Minute),
		},
		NATSURL:     strings.TrimSpace(os.Getenv("NATS_URL")),
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
	}
	if cfg.Resolver.BaseURL == "" {
		return AppConfig{}, errors.New("RESOLVER_BASE_URL is required")
	}
	if cfg.Playback.VisibilityThreshold <= 0 || cfg.Playback.VisibilityThreshold >= 1 {
		return AppConfig{}, errors.New("VISIBILITY_THRESHOLD must be in (0, 1)")
	}
	if cfg.Playback.TrackingWindow < 1 {
		return AppConfig{}, errors.New("TRACKING_WINDOW must be at least 1")
	}
	return cfg, nil
}

func envString(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envInt64(key string, fallback int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
