package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/yourorg/comps-api/internal/canon"
	"github.com/yourorg/comps-api/internal/comps"
	"github.com/yourorg/comps-api/internal/geo"
	"github.com/yourorg/comps-api/internal/redisx"
	"github.com/yourorg/comps-api/internal/refresh"
)

// Cache is the key/value surface Cached needs; *redisx.Client satisfies it.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, val string, ttl time.Duration) error
	SetNX(ctx context.Context, key string, val string, ttl time.Duration) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	Del(ctx context.Context, keys ...string) error
}

type CacheConfig struct {
	TTL         time.Duration
	StaleAfter  time.Duration
	NegativeTTL time.Duration
}

const lockTTL = 8 * time.Second

// Cached serves address resolution and valuations from the cache,
// refreshing stale entries in the background. Geo searches always go to the
// wrapped provider.
type Cached struct {
	next      comps.Provider
	cache     Cache
	refresher *refresh.Refresher
	cfg       CacheConfig
	now       func() time.Time
}

func NewCached(next comps.Provider, cache Cache, r *refresh.Refresher, cfg CacheConfig) *Cached {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.StaleAfter <= 0 || cfg.StaleAfter > cfg.TTL {
		cfg.StaleAfter = cfg.TTL / 4
	}
	return &Cached{next: next, cache: cache, refresher: r, cfg: cfg, now: time.Now}
}

type envelope[T any] struct {
	FetchedAt  time.Time `json:"last_fetch_at"`
	StaleAfter time.Time `json:"stale_after"`
	Data       T         `json:"data"`
}

func (c *Cached) GeoSearch(ctx context.Context, center geo.Coordinate, radiusMiles float64, gc comps.GeoConstraints) ([]comps.CandidateProperty, error) {
	return c.next.GeoSearch(ctx, center, radiusMiles, gc)
}

func (c *Cached) ResolveAddress(ctx context.Context, addr comps.AddressComponents) ([]comps.CandidateProperty, error) {
	pk := canon.UnitKey(addr)
	if pk == "" {
		return c.next.ResolveAddress(ctx, addr)
	}
	return cachedFetch(ctx, c, "resolve", pk, func(ctx context.Context) ([]comps.CandidateProperty, error) {
		return c.next.ResolveAddress(ctx, addr)
	})
}

// ResolveByID caches id lookups when the wrapped provider supports them.
func (c *Cached) ResolveByID(ctx context.Context, id string) ([]comps.CandidateProperty, error) {
	ir, ok := c.next.(comps.IDResolver)
	if !ok {
		return nil, comps.ErrIDLookupUnsupported
	}
	return cachedFetch(ctx, c, "resolveid", id, func(ctx context.Context) ([]comps.CandidateProperty, error) {
		return ir.ResolveByID(ctx, id)
	})
}

func (c *Cached) EnrichValue(ctx context.Context, address string) (comps.Valuation, error) {
	pk := canon.Key(address)
	if pk == "" {
		return c.next.EnrichValue(ctx, address)
	}
	return cachedFetch(ctx, c, "value", pk, func(ctx context.Context) (comps.Valuation, error) {
		return c.next.EnrichValue(ctx, address)
	})
}

// cachedFetch implements the read path shared by every cached call: negative
// cache, fresh or stale hit, then a fetch that fills the cache. Cache errors
// are logged and never fail the call.
func cachedFetch[T any](ctx context.Context, c *Cached, kind, id string, fetch func(context.Context) (T, error)) (T, error) {
	var zero T
	key := redisx.Key(kind, id)
	missKey := redisx.Key("miss", kind, id)

	if miss, err := c.cache.Exists(ctx, missKey); err == nil && miss {
		return zero, fmt.Errorf("%w: %s (cached)", comps.ErrNotFound, id)
	}

	val, err := c.cache.Get(ctx, key)
	switch {
	case err == nil:
		var env envelope[T]
		if jerr := json.Unmarshal([]byte(val), &env); jerr == nil {
			if c.now().After(env.StaleAfter) {
				refreshLater(c, kind, id, key, fetch)
			}
			return env.Data, nil
		}
		log.Warn().Str("key", key).Msg("discarding undecodable cache entry")
	case !errors.Is(err, redisx.ErrMiss):
		log.Warn().Err(err).Str("key", key).Msg("cache read failed")
	}

	v, err := fetch(ctx)
	if err != nil {
		if errors.Is(err, comps.ErrNotFound) && c.cfg.NegativeTTL > 0 {
			if serr := c.cache.Set(ctx, missKey, "1", c.cfg.NegativeTTL); serr != nil {
				log.Warn().Err(serr).Str("key", missKey).Msg("cache write failed")
			}
		}
		return zero, err
	}
	if serr := store(ctx, c, key, v); serr != nil {
		log.Warn().Err(serr).Str("key", key).Msg("cache write failed")
	}
	return v, nil
}

// refreshLater queues a background re-fetch. The Redis lock keeps several
// instances from refreshing the same key at once. A record that vanished
// upstream is evicted and negatively cached.
func refreshLater[T any](c *Cached, kind, id, key string, fetch func(context.Context) (T, error)) {
	if c.refresher == nil {
		return
	}
	c.refresher.Enqueue(refresh.Job{Key: key, Run: func(ctx context.Context) error {
		ok, err := c.cache.SetNX(ctx, redisx.Key("lock", kind, id), "1", lockTTL)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		v, err := fetch(ctx)
		if errors.Is(err, comps.ErrNotFound) {
			if derr := c.cache.Del(ctx, key); derr != nil {
				return derr
			}
			if c.cfg.NegativeTTL > 0 {
				return c.cache.Set(ctx, redisx.Key("miss", kind, id), "1", c.cfg.NegativeTTL)
			}
			return nil
		}
		if err != nil {
			return err
		}
		return store(ctx, c, key, v)
	}})
}

func store[T any](ctx context.Context, c *Cached, key string, v T) error {
	now := c.now()
	b, err := json.Marshal(envelope[T]{FetchedAt: now, StaleAfter: now.Add(c.cfg.StaleAfter), Data: v})
	if err != nil {
		return err
	}
	return c.cache.Set(ctx, key, string(b), c.cfg.TTL)
}
