package config

import (
	"time"

	"github.com/yourorg/comps-api/internal/comps"
	"github.com/yourorg/comps-api/internal/env"
)

// Config holds all application configuration.
type Config struct {
	Server ServerConfig
	ATTOM  ATTOMConfig
	Redis  RedisConfig
	Cache  CacheConfig
	PG     PGConfig
	Comps  CompsConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type ATTOMConfig struct {
	APIKey  string
	BaseURL string
	RPS     float64
	Timeout time.Duration
	// BreakerFailures consecutive upstream failures open the circuit for
	// BreakerOpen.
	BreakerFailures int
	BreakerOpen     time.Duration
}

// RedisConfig; an empty Addr disables caching.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type CacheConfig struct {
	TTL         time.Duration
	StaleAfter  time.Duration
	NegativeTTL time.Duration
	Workers     int
}

// PGConfig; an empty DSN disables the snapshot archive.
type PGConfig struct {
	DSN string
}

type CompsConfig struct {
	TargetCount       int
	MaxRadiusMiles    float64
	LookbackMonths    int
	EnrichConcurrency int
	SimilarLimit      int
	SalesLimit        int
	StrictResolve     bool
}

// Load reads configuration from the environment. ATTOM_API_KEY is required.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port: env.GetInt("PORT", 4002),
			Env:  env.Get("APP_ENV", "development"),
		},
		ATTOM: ATTOMConfig{
			APIKey:          env.Must("ATTOM_API_KEY"),
			BaseURL:         env.Get("ATTOM_BASE_URL", "https://api.gateway.attomdata.com"),
			RPS:             env.GetFloat("ATTOM_RPS", 8),
			Timeout:         env.GetDuration("ATTOM_TIMEOUT", 6*time.Second),
			BreakerFailures: env.GetInt("ATTOM_BREAKER_FAILURES", 5),
			BreakerOpen:     env.GetDuration("ATTOM_BREAKER_OPEN", 30*time.Second),
		},
		Redis: RedisConfig{
			Addr:     env.Get("REDIS_ADDR", ""),
			Password: env.Get("REDIS_PASSWORD", ""),
			DB:       env.GetInt("REDIS_DB", 0),
		},
		Cache: CacheConfig{
			TTL:         env.GetDuration("CACHE_TTL", 24*time.Hour),
			StaleAfter:  env.GetDuration("CACHE_STALE_AFTER", 6*time.Hour),
			NegativeTTL: env.GetDuration("CACHE_NEGATIVE_TTL", 30*time.Minute),
			Workers:     env.GetInt("CACHE_REFRESH_WORKERS", 2),
		},
		PG: PGConfig{
			DSN: env.Get("PG_DSN", ""),
		},
		Comps: CompsConfig{
			TargetCount:       env.GetInt("COMPS_TARGET_COUNT", 10),
			MaxRadiusMiles:    env.GetFloat("COMPS_MAX_RADIUS", 5.5),
			LookbackMonths:    env.GetInt("COMPS_LOOKBACK_MONTHS", 12),
			EnrichConcurrency: env.GetInt("COMPS_ENRICH_CONCURRENCY", 8),
			SimilarLimit:      env.GetInt("COMPS_SIMILAR_LIMIT", 15),
			SalesLimit:        env.GetInt("COMPS_SALES_LIMIT", 100),
			StrictResolve:     env.GetBool("COMPS_STRICT_RESOLVE", false),
		},
	}
}

// Settings converts the search tuning into service settings. Zero values
// fall back to the service defaults.
func (c CompsConfig) Settings() comps.Settings {
	s := comps.DefaultSettings()
	s.TargetCount = c.TargetCount
	s.Schedule.Max = c.MaxRadiusMiles
	s.LookbackMonths = c.LookbackMonths
	s.EnrichConcurrency = c.EnrichConcurrency
	s.SimilarLimit = c.SimilarLimit
	s.SalesLimit = c.SalesLimit
	s.StrictResolve = c.StrictResolve
	return s
}
