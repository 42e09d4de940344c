package comps

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog/log"
)

// Resolver turns an address into a SubjectProperty with one provider call.
type Resolver struct {
	Provider Provider
	// Strict fails ambiguous addresses instead of taking the first location.
	Strict bool
}

func (r *Resolver) Resolve(ctx context.Context, addr AddressComponents) (SubjectProperty, error) {
	if strings.TrimSpace(addr.Street) == "" {
		return SubjectProperty{}, fmt.Errorf("%w: street is required", ErrInvalidAddress)
	}

	recs, err := r.Provider.ResolveAddress(ctx, addr)
	if err != nil {
		return SubjectProperty{}, fmt.Errorf("resolve %q: %w", addr.OneLine(), err)
	}
	if len(recs) == 0 {
		return SubjectProperty{}, fmt.Errorf("resolve %q: %w", addr.OneLine(), ErrNotFound)
	}

	return r.subject(addr.OneLine(), recs)
}

// ResolveByID resolves a subject by provider property id.
func (r *Resolver) ResolveByID(ctx context.Context, id string) (SubjectProperty, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return SubjectProperty{}, fmt.Errorf("%w: property id is required", ErrInvalidAddress)
	}
	ir, ok := r.Provider.(IDResolver)
	if !ok {
		return SubjectProperty{}, ErrIDLookupUnsupported
	}
	recs, err := ir.ResolveByID(ctx, id)
	if err != nil {
		return SubjectProperty{}, fmt.Errorf("resolve property %s: %w", id, err)
	}
	if len(recs) == 0 {
		return SubjectProperty{}, fmt.Errorf("resolve property %s: %w", id, ErrNotFound)
	}
	return r.subject("property "+id, recs)
}

// subject builds the SubjectProperty from the first record. label names
// the lookup in errors and logs.
func (r *Resolver) subject(label string, recs []CandidateProperty) (SubjectProperty, error) {
	first := recs[0]
	ambiguous := false
	if n := distinctLocations(recs); n > 1 {
		if r.Strict {
			return SubjectProperty{}, &AmbiguousAddressError{Address: label, Locations: n}
		}
		log.Warn().
			Str("address", label).
			Int("locations", n).
			Msg("address resolved to several locations, using the first")
		ambiguous = true
	}

	if err := first.Coordinate.Validate(); err != nil || first.Coordinate.IsZero() {
		return SubjectProperty{}, fmt.Errorf("%w: no usable coordinate for %q", ErrInsufficientSubjectData, label)
	}
	if first.Bedrooms == nil && first.Bathrooms == nil {
		return SubjectProperty{}, fmt.Errorf("%w: no bedroom or bathroom data for %q", ErrInsufficientSubjectData, label)
	}

	address := first.Address
	if address == "" {
		address = label
	}
	return SubjectProperty{
		Address:       address,
		Key:           CandidateProperty{Address: address}.Key(),
		Coordinate:    first.Coordinate,
		Bedrooms:      first.Bedrooms,
		Bathrooms:     first.Bathrooms,
		SquareFootage: first.SquareFootage,
		PropertyType:  first.PropertyType,
		YearBuilt:     first.YearBuilt,
		AVMValue:      first.AVMValue,
		Ambiguous:     ambiguous,
	}, nil
}

// distinctLocations counts records at different points, ignoring geocode
// jitter below roughly a meter.
func distinctLocations(recs []CandidateProperty) int {
	seen := make(map[[2]int64]struct{}, len(recs))
	for _, r := range recs {
		k := [2]int64{
			int64(math.Round(r.Coordinate.Latitude * 1e5)),
			int64(math.Round(r.Coordinate.Longitude * 1e5)),
		}
		seen[k] = struct{}{}
	}
	return len(seen)
}
