package provider

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/comps-api/internal/comps"
	"github.com/yourorg/comps-api/internal/geo"
	"github.com/yourorg/comps-api/internal/redisx"
	"github.com/yourorg/comps-api/internal/refresh"
)

type memCache struct {
	mu      sync.Mutex
	data    map[string]string
	ttls    map[string]time.Duration
	failGet bool
}

func newMemCache() *memCache {
	return &memCache{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memCache) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet {
		return "", errors.New("connection refused")
	}
	v, ok := m.data[key]
	if !ok {
		return "", redisx.ErrMiss
	}
	return v, nil
}

func (m *memCache) Set(_ context.Context, key string, val string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = val
	m.ttls[key] = ttl
	return nil
}

func (m *memCache) SetNX(_ context.Context, key string, val string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = val
	m.ttls[key] = ttl
	return true, nil
}

func (m *memCache) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok, nil
}

func (m *memCache) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
		delete(m.ttls, k)
	}
	return nil
}

func (m *memCache) has(key string) bool {
	ok, _ := m.Exists(context.Background(), key)
	return ok
}

type countingProvider struct {
	resolves atomic.Int32
	values   atomic.Int32
	geos     atomic.Int32
	avm      float64
	err      error
}

func (p *countingProvider) GeoSearch(context.Context, geo.Coordinate, float64, comps.GeoConstraints) ([]comps.CandidateProperty, error) {
	p.geos.Add(1)
	return []comps.CandidateProperty{{Address: "1 ELM ST, WILMINGTON, MA 01887"}}, nil
}

func (p *countingProvider) ResolveAddress(context.Context, comps.AddressComponents) ([]comps.CandidateProperty, error) {
	p.resolves.Add(1)
	if p.err != nil {
		return nil, p.err
	}
	beds := 4
	return []comps.CandidateProperty{{
		Address:    "4 FIORENZA DR, WILMINGTON, MA 01887",
		Coordinate: geo.Coordinate{Latitude: 42.556714, Longitude: -71.187637},
		Bedrooms:   &beds,
	}}, nil
}

func (p *countingProvider) EnrichValue(context.Context, string) (comps.Valuation, error) {
	p.values.Add(1)
	if p.err != nil {
		return comps.Valuation{}, p.err
	}
	v := p.avm
	return comps.Valuation{AVMValue: &v}, nil
}

var fiorenza = comps.AddressComponents{Street: "4 Fiorenza Drive", City: "Wilmington", State: "MA", Zip: "01887"}

func TestCachedResolveServesSecondCallFromCache(t *testing.T) {
	next := &countingProvider{}
	cache := newMemCache()
	c := NewCached(next, cache, nil, CacheConfig{TTL: time.Hour, StaleAfter: 10 * time.Minute})

	first, err := c.ResolveAddress(context.Background(), fiorenza)
	require.NoError(t, err)
	second, err := c.ResolveAddress(context.Background(), comps.AddressComponents{Street: "4 FIORENZA DR", City: "wilmington", State: "ma", Zip: "01887-2201"})
	require.NoError(t, err)

	assert.Equal(t, int32(1), next.resolves.Load())
	assert.Equal(t, first, second)
	assert.Equal(t, time.Hour, cache.ttls[redisx.Key("resolve", "4 fiorenza dr|wilmington|ma|01887")])
}

func TestCachedEnrichValue(t *testing.T) {
	next := &countingProvider{avm: 720000}
	c := NewCached(next, newMemCache(), nil, CacheConfig{})

	for i := 0; i < 3; i++ {
		v, err := c.EnrichValue(context.Background(), "12 ELM ST, READING, MA 01867")
		require.NoError(t, err)
		assert.Equal(t, 720000.0, *v.AVMValue)
	}
	assert.Equal(t, int32(1), next.values.Load())
}

func TestCachedNegativeCache(t *testing.T) {
	next := &countingProvider{err: comps.ErrNotFound}
	cache := newMemCache()
	c := NewCached(next, cache, nil, CacheConfig{NegativeTTL: time.Minute})

	_, err := c.EnrichValue(context.Background(), "1 NOWHERE LN, X, MA 01887")
	assert.ErrorIs(t, err, comps.ErrNotFound)
	_, err = c.EnrichValue(context.Background(), "1 NOWHERE LN, X, MA 01887")
	assert.ErrorIs(t, err, comps.ErrNotFound)

	assert.Equal(t, int32(1), next.values.Load())
	assert.True(t, cache.has(redisx.Key("miss", "value", "1 nowhere ln|x|ma|01887")))
}

func TestCachedDoesNotCacheUpstreamErrors(t *testing.T) {
	next := &countingProvider{err: comps.ErrUpstreamUnavailable}
	c := NewCached(next, newMemCache(), nil, CacheConfig{NegativeTTL: time.Minute})

	for i := 0; i < 2; i++ {
		_, err := c.ResolveAddress(context.Background(), fiorenza)
		assert.ErrorIs(t, err, comps.ErrUpstreamUnavailable)
	}
	assert.Equal(t, int32(2), next.resolves.Load())
}

func TestCachedFallsThroughOnCacheFailure(t *testing.T) {
	next := &countingProvider{avm: 1}
	cache := newMemCache()
	cache.failGet = true
	c := NewCached(next, cache, nil, CacheConfig{})

	_, err := c.EnrichValue(context.Background(), "12 ELM ST, READING, MA 01867")
	require.NoError(t, err)
	assert.Equal(t, int32(1), next.values.Load())
}

func TestCachedNeverCachesGeoSearch(t *testing.T) {
	next := &countingProvider{}
	c := NewCached(next, newMemCache(), nil, CacheConfig{})
	for i := 0; i < 2; i++ {
		_, err := c.GeoSearch(context.Background(), geo.Coordinate{Latitude: 42.5, Longitude: -71.1}, 0.5, comps.GeoConstraints{})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), next.geos.Load())
}

func TestCachedStaleEntryRefreshesInBackground(t *testing.T) {
	next := &countingProvider{avm: 500000}
	cache := newMemCache()
	r := refresh.New(4, 1, time.Second)
	c := NewCached(next, cache, r, CacheConfig{TTL: time.Hour, StaleAfter: time.Minute})

	now := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	_, err := c.EnrichValue(context.Background(), "12 ELM ST, READING, MA 01867")
	require.NoError(t, err)

	next.avm = 510000
	now = now.Add(2 * time.Minute)
	v, err := c.EnrichValue(context.Background(), "12 ELM ST, READING, MA 01867")
	require.NoError(t, err)
	assert.Equal(t, 500000.0, *v.AVMValue, "stale value served")

	r.Close()
	assert.Equal(t, int32(2), next.values.Load())
	assert.True(t, cache.has(redisx.Key("lock", "value", "12 elm st|reading|ma|01867")))

	v, err = c.EnrichValue(context.Background(), "12 ELM ST, READING, MA 01867")
	require.NoError(t, err)
	assert.Equal(t, 510000.0, *v.AVMValue)
}

func TestCachedRefreshEvictsVanishedRecord(t *testing.T) {
	next := &countingProvider{avm: 500000}
	cache := newMemCache()
	r := refresh.New(4, 1, time.Second)
	c := NewCached(next, cache, r, CacheConfig{TTL: time.Hour, StaleAfter: time.Minute, NegativeTTL: time.Minute})

	now := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	_, err := c.EnrichValue(context.Background(), "12 ELM ST, READING, MA 01867")
	require.NoError(t, err)

	next.err = comps.ErrNotFound
	now = now.Add(2 * time.Minute)
	_, err = c.EnrichValue(context.Background(), "12 ELM ST, READING, MA 01867")
	require.NoError(t, err, "stale value still served")
	r.Close()

	assert.False(t, cache.has(redisx.Key("value", "12 elm st|reading|ma|01867")))
	assert.True(t, cache.has(redisx.Key("miss", "value", "12 elm st|reading|ma|01867")))
	_, err = c.EnrichValue(context.Background(), "12 ELM ST, READING, MA 01867")
	assert.ErrorIs(t, err, comps.ErrNotFound)
}

// unitProvider values each condo unit differently.
type unitProvider struct {
	countingProvider
	byAddress map[string]float64
}

func (p *unitProvider) EnrichValue(_ context.Context, address string) (comps.Valuation, error) {
	p.values.Add(1)
	v, ok := p.byAddress[address]
	if !ok {
		return comps.Valuation{}, comps.ErrNotFound
	}
	return comps.Valuation{AVMValue: &v}, nil
}

func TestCachedKeepsCondoUnitsApart(t *testing.T) {
	next := &unitProvider{byAddress: map[string]float64{
		"100 MAIN ST UNIT 1, BOSTON, MA 02110": 100000,
		"100 MAIN ST UNIT 2, BOSTON, MA 02110": 900000,
	}}
	cache := newMemCache()
	c := NewCached(next, cache, nil, CacheConfig{})

	u1, err := c.EnrichValue(context.Background(), "100 MAIN ST UNIT 1, BOSTON, MA 02110")
	require.NoError(t, err)
	u2, err := c.EnrichValue(context.Background(), "100 MAIN ST UNIT 2, BOSTON, MA 02110")
	require.NoError(t, err)

	assert.Equal(t, 100000.0, *u1.AVMValue)
	assert.Equal(t, 900000.0, *u2.AVMValue)
	assert.Equal(t, int32(2), next.values.Load())
	assert.True(t, cache.has(redisx.Key("value", "100 main st|boston|ma|02110|unit 2")))
}

func TestCachedResolveKeepsCondoUnitsApart(t *testing.T) {
	next := &countingProvider{}
	c := NewCached(next, newMemCache(), nil, CacheConfig{})

	for _, street := range []string{"100 Main St Apt 1", "100 Main St Apt 2", "100 Main St #2"} {
		_, err := c.ResolveAddress(context.Background(), comps.AddressComponents{Street: street, City: "Boston", State: "MA", Zip: "02110"})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), next.resolves.Load(), "#2 and Apt 2 share an entry")
}

type idCountingProvider struct {
	countingProvider
	byID atomic.Int32
}

func (p *idCountingProvider) ResolveByID(ctx context.Context, id string) ([]comps.CandidateProperty, error) {
	p.byID.Add(1)
	return p.ResolveAddress(ctx, comps.AddressComponents{})
}

func TestCachedResolveByID(t *testing.T) {
	next := &idCountingProvider{}
	cache := newMemCache()
	c := NewCached(next, cache, nil, CacheConfig{TTL: time.Hour})

	for i := 0; i < 2; i++ {
		got, err := c.ResolveByID(context.Background(), "184713191")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "4 FIORENZA DR, WILMINGTON, MA 01887", got[0].Address)
	}
	assert.Equal(t, int32(1), next.byID.Load())
	assert.Contains(t, cache.ttls, redisx.Key("resolveid", "184713191"))
}

func TestCachedResolveByIDUnsupported(t *testing.T) {
	c := NewCached(&countingProvider{}, newMemCache(), nil, CacheConfig{})

	_, err := c.ResolveByID(context.Background(), "1")
	assert.ErrorIs(t, err, comps.ErrIDLookupUnsupported)
}
