package provider

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/yourorg/comps-api/attom"
	"github.com/yourorg/comps-api/internal/comps"
	"github.com/yourorg/comps-api/internal/config"
	"github.com/yourorg/comps-api/internal/redisx"
	"github.com/yourorg/comps-api/internal/refresh"
	"github.com/yourorg/comps-api/internal/report"
)

// Stack is the provider wiring shared by the server, the hydrator and the CLI.
type Stack struct {
	// Comps backs the comparable searches, behind the Redis cache when
	// one is configured.
	Comps comps.Provider
	// Reports reads property reports straight from ATTOM.
	Reports report.Source
	close   func()
}

// Close releases the cache and its refresh workers.
func (s Stack) Close() {
	if s.close != nil {
		s.close()
	}
}

// Build assembles the ATTOM provider, wrapped in the Redis cache when
// cfg.Redis.Addr is set. archive may be nil.
func Build(ctx context.Context, cfg *config.Config, archive Archiver) Stack {
	client := attom.NewClient(cfg.ATTOM.APIKey,
		attom.WithBaseURL(cfg.ATTOM.BaseURL),
		attom.WithTimeout(cfg.ATTOM.Timeout),
		attom.WithRateLimit(cfg.ATTOM.RPS, 4),
	)
	opts := []Option{WithBreaker(uint32(max(cfg.ATTOM.BreakerFailures, 0)), cfg.ATTOM.BreakerOpen)}
	if archive != nil {
		opts = append(opts, WithArchiver(archive))
	}
	a := NewATTOM(client, opts...)
	if cfg.Redis.Addr == "" {
		return Stack{Comps: a, Reports: a}
	}

	rc := redisx.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err := rc.Ping(ctx); err != nil {
		log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unreachable, cache calls will fall through")
	}
	refresher := refresh.New(256, cfg.Cache.Workers, 15*time.Second)
	log.Info().Str("addr", cfg.Redis.Addr).Msg("redis cache enabled")

	cached := NewCached(a, rc, refresher, CacheConfig{
		TTL:         cfg.Cache.TTL,
		StaleAfter:  cfg.Cache.StaleAfter,
		NegativeTTL: cfg.Cache.NegativeTTL,
	})
	return Stack{Comps: cached, Reports: a, close: func() {
		refresher.Close()
		_ = rc.Close()
	}}
}
