package comps

import (
	"errors"
	"fmt"
)

// Sentinel errors for comparable searches
var (
	// ErrInsufficientSubjectData is returned when the subject lacks the data
	// needed to build match criteria.
	ErrInsufficientSubjectData = errors.New("insufficient subject data")

	// ErrUpstreamUnavailable is returned on transport or 5xx provider failures.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrRateLimited is returned when the provider throttles or the quota is spent.
	ErrRateLimited = errors.New("upstream rate limited")

	// ErrNotFound is returned when the provider has no record for an address.
	ErrNotFound = errors.New("property not found")

	// ErrAmbiguousAddress is returned in strict mode when an address resolves
	// to several distinct locations.
	ErrAmbiguousAddress = errors.New("ambiguous address")

	// ErrNoComparablesFound is returned when the expanding search reaches the
	// maximum radius without meeting the target count.
	ErrNoComparablesFound = errors.New("no comparables found")

	// ErrInvalidAddress is returned when the input address cannot be searched.
	ErrInvalidAddress = errors.New("invalid address")

	// ErrIDLookupUnsupported is returned when the provider cannot look
	// properties up by id.
	ErrIDLookupUnsupported = errors.New("property id lookup not supported")
)

// NoComparablesError carries the search context of an exhausted expanding search.
type NoComparablesError struct {
	Criteria         MatchCriteria
	FinalRadiusMiles float64
	Iterations       int
	// Partial holds the matches of the last query, which fell short of the target.
	Partial []CandidateProperty
}

func (e *NoComparablesError) Error() string {
	return fmt.Sprintf("no comparables found within %.2f miles (%d matches after %d queries)",
		e.FinalRadiusMiles, len(e.Partial), e.Iterations)
}

func (e *NoComparablesError) Is(target error) bool {
	return target == ErrNoComparablesFound
}

// AmbiguousAddressError lists how many distinct locations matched.
type AmbiguousAddressError struct {
	Address   string
	Locations int
}

func (e *AmbiguousAddressError) Error() string {
	return fmt.Sprintf("address '%s' matched %d distinct locations", e.Address, e.Locations)
}

func (e *AmbiguousAddressError) Is(target error) bool {
	return target == ErrAmbiguousAddress
}
