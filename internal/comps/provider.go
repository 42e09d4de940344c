package comps

import (
	"context"

	"github.com/yourorg/comps-api/internal/geo"
)

// Provider is the property-data source the search engine queries. Errors
// are expected to match the sentinels in this package (ErrNotFound,
// ErrUpstreamUnavailable, ErrRateLimited).
type Provider interface {
	GeoSearch(ctx context.Context, center geo.Coordinate, radiusMiles float64, c GeoConstraints) ([]CandidateProperty, error)
	ResolveAddress(ctx context.Context, addr AddressComponents) ([]CandidateProperty, error)
	EnrichValue(ctx context.Context, address string) (Valuation, error)
}

// IDResolver is implemented by providers that can look a property up by
// their own property id.
type IDResolver interface {
	ResolveByID(ctx context.Context, id string) ([]CandidateProperty, error)
}
