package comps

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/comps-api/internal/geo"
)

func TestRadiusScheduleDefaults(t *testing.T) {
	s := DefaultRadiusSchedule()
	var got []float64
	for r, ok := s.Initial, true; ok; r, ok = s.Next(r) {
		got = append(got, r)
	}
	assert.Equal(t, []float64{0.5, 0.75, 1.0, 1.5, 2.0, 2.5, 3.0, 3.5, 4.0, 4.5, 5.0, 5.5}, got)
	assert.Equal(t, 12, s.MaxQueries())

	bound := int(math.Ceil((5.5 - 0.5) / 0.25))
	assert.LessOrEqual(t, s.MaxQueries(), bound)
}

func TestRadiusScheduleClampsToMax(t *testing.T) {
	s := RadiusSchedule{Initial: 0.5, Max: 1.2, FineStep: 0.25, CoarseStep: 0.5, CoarseFrom: 1.0}
	r, ok := s.Next(1.0)
	require.True(t, ok)
	assert.Equal(t, 1.2, r)
	_, ok = s.Next(1.2)
	assert.False(t, ok)
}

func TestExpandingSearchKeepsExpandingPastNine(t *testing.T) {
	noise := []CandidateProperty{house(90, 2, 3.0, 3000), house(91, 4, 3.0, 3000)}
	p := &fakeProvider{geoFn: func(r float64) ([]CandidateProperty, error) {
		switch {
		case r < 1.5:
			return append(matchingHouses(1, 4), noise...), nil
		case r < 2.0:
			return append(matchingHouses(1, 9), noise...), nil
		default:
			return append(matchingHouses(1, 12), noise...), nil
		}
	}}

	s := &ExpandingSearch{Provider: p, Schedule: DefaultRadiusSchedule(), TargetCount: 10}
	res, err := s.Run(context.Background(), testSubject(), MatchCriteria{ExactBedrooms: 3, ExactBathrooms: ptr(3.0)}, GeoConstraints{})
	require.NoError(t, err)

	assert.Equal(t, 2.0, res.FinalRadiusMiles)
	assert.Len(t, res.Matches, 12, "no truncation at the target")
	assert.Equal(t, 5, res.Iterations)
	assert.Equal(t, []float64{0.5, 0.75, 1.0, 1.5, 2.0}, p.queriedRadii())
	assert.Equal(t, 3*6+11+14, res.CandidatesConsidered)

	for i := 1; i < len(res.Matches); i++ {
		assert.LessOrEqual(t, res.Matches[i-1].DistanceMiles, res.Matches[i].DistanceMiles)
	}
}

func TestExpandingSearchExhausted(t *testing.T) {
	p := &fakeProvider{geoFn: func(float64) ([]CandidateProperty, error) { return nil, nil }}
	s := &ExpandingSearch{Provider: p, Schedule: DefaultRadiusSchedule(), TargetCount: 10}
	cr := MatchCriteria{ExactBedrooms: 3}

	res, err := s.Run(context.Background(), testSubject(), cr, GeoConstraints{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoComparablesFound))

	var nc *NoComparablesError
	require.ErrorAs(t, err, &nc)
	assert.Equal(t, 5.5, nc.FinalRadiusMiles)
	assert.Equal(t, cr, nc.Criteria)
	assert.Empty(t, nc.Partial)
	assert.Equal(t, 5.5, res.FinalRadiusMiles)
	assert.Equal(t, 12, res.Iterations)
	assert.Len(t, p.queriedRadii(), 12)
}

func TestExpandingSearchLaterQueriesSupersede(t *testing.T) {
	// the first disk has 3 matches, the second only 1: the set is replaced, not merged
	p := &fakeProvider{geoFn: func(r float64) ([]CandidateProperty, error) {
		if r == 0.5 {
			return matchingHouses(1, 3), nil
		}
		return matchingHouses(50, 1), nil
	}}
	s := &ExpandingSearch{Provider: p, Schedule: DefaultRadiusSchedule(), TargetCount: 2}

	res, err := s.Run(context.Background(), testSubject(), MatchCriteria{ExactBedrooms: 3}, GeoConstraints{})
	require.NoError(t, err)
	assert.Equal(t, 0.5, res.FinalRadiusMiles)
	assert.Len(t, res.Matches, 3)

	s.TargetCount = 4
	_, err = s.Run(context.Background(), testSubject(), MatchCriteria{ExactBedrooms: 3}, GeoConstraints{})
	var nc *NoComparablesError
	require.ErrorAs(t, err, &nc)
	require.Len(t, nc.Partial, 1)
	assert.Equal(t, "50 ELM ST, WILMINGTON, MA 01887", nc.Partial[0].Address)
}

func TestExpandingSearchDeduplicatesByCanonicalAddress(t *testing.T) {
	dup := house(1, 3, 3.0, 3000)
	dup.Address = "1 Elm Street, Wilmington, MA 01887-1234"
	p := &fakeProvider{geoFn: func(float64) ([]CandidateProperty, error) {
		return append(matchingHouses(1, 2), dup), nil
	}}
	s := &ExpandingSearch{Provider: p, Schedule: DefaultRadiusSchedule(), TargetCount: 2}

	res, err := s.Run(context.Background(), testSubject(), MatchCriteria{ExactBedrooms: 3}, GeoConstraints{})
	require.NoError(t, err)
	assert.Len(t, res.Matches, 2)
}

func TestExpandingSearchIsIdempotent(t *testing.T) {
	p := &fakeProvider{geoFn: func(r float64) ([]CandidateProperty, error) {
		return matchingHouses(1, int(r*4)), nil
	}}
	s := &ExpandingSearch{Provider: p, Schedule: DefaultRadiusSchedule(), TargetCount: 10}

	first, err := s.Run(context.Background(), testSubject(), MatchCriteria{ExactBedrooms: 3}, GeoConstraints{})
	require.NoError(t, err)
	second, err := s.Run(context.Background(), testSubject(), MatchCriteria{ExactBedrooms: 3}, GeoConstraints{})
	require.NoError(t, err)

	assert.Equal(t, first.FinalRadiusMiles, second.FinalRadiusMiles)
	assert.Equal(t, first.Matches, second.Matches)
	assert.Equal(t, 2.5, first.FinalRadiusMiles)
}

func TestExpandingSearchProviderFailureAborts(t *testing.T) {
	calls := 0
	p := &fakeProvider{geoFn: func(float64) ([]CandidateProperty, error) {
		calls++
		if calls == 3 {
			return nil, ErrUpstreamUnavailable
		}
		return nil, nil
	}}
	s := &ExpandingSearch{Provider: p, Schedule: DefaultRadiusSchedule(), TargetCount: 10}

	_, err := s.Run(context.Background(), testSubject(), MatchCriteria{ExactBedrooms: 3}, GeoConstraints{})
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.False(t, errors.Is(err, ErrNoComparablesFound))
	assert.Equal(t, 3, calls)
}

func TestExpandingSearchStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &fakeProvider{geoFn: func(float64) ([]CandidateProperty, error) {
		cancel()
		return nil, nil
	}}
	s := &ExpandingSearch{Provider: p, TargetCount: 10}

	_, err := s.Run(ctx, testSubject(), MatchCriteria{ExactBedrooms: 3}, GeoConstraints{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, p.queriedRadii(), 1)
}

func condoUnits(n int) []CandidateProperty {
	out := make([]CandidateProperty, 0, n)
	for i := 0; i < n; i++ {
		c := house(1, 3, 3.0, 3000)
		c.Address = fmt.Sprintf("100 MAIN ST UNIT %c, WILMINGTON, MA 01887", 'A'+i)
		out = append(out, c)
	}
	return out
}

func TestExpandingSearchKeepsCondoUnitsApart(t *testing.T) {
	p := &fakeProvider{geoFn: func(float64) ([]CandidateProperty, error) { return condoUnits(12), nil }}
	s := &ExpandingSearch{Provider: p, Schedule: DefaultRadiusSchedule(), TargetCount: 10}

	res, err := s.Run(context.Background(), testSubject(), MatchCriteria{ExactBedrooms: 3}, GeoConstraints{})
	require.NoError(t, err)
	assert.Equal(t, 0.5, res.FinalRadiusMiles)
	assert.Equal(t, 1, res.Iterations)
	assert.Len(t, res.Matches, 12)
}

func TestExpandingSearchSortsUngeocodedLast(t *testing.T) {
	lost := house(50, 3, 3.0, 3000)
	lost.Address = "1 UNKNOWN RD, WILMINGTON, MA 01887"
	lost.Coordinate = geo.Coordinate{}
	p := &fakeProvider{geoFn: func(float64) ([]CandidateProperty, error) {
		return append([]CandidateProperty{lost}, matchingHouses(1, 3)...), nil
	}}
	s := &ExpandingSearch{Provider: p, Schedule: DefaultRadiusSchedule(), TargetCount: 4}

	res, err := s.Run(context.Background(), testSubject(), MatchCriteria{ExactBedrooms: 3}, GeoConstraints{})
	require.NoError(t, err)
	require.Len(t, res.Matches, 4)
	assert.Equal(t, "1 ELM ST, WILMINGTON, MA 01887", res.Matches[0].Address)
	assert.Equal(t, lost.Address, res.Matches[3].Address)
}

func TestExpandingSearchIssuesMaxQueries(t *testing.T) {
	sched := RadiusSchedule{Initial: 0.5, Max: 1.0, FineStep: 0.25, CoarseStep: 0.5, CoarseFrom: 2.0}
	p := &fakeProvider{geoFn: func(float64) ([]CandidateProperty, error) { return nil, nil }}
	s := &ExpandingSearch{Provider: p, Schedule: sched, TargetCount: 10}

	_, err := s.Run(context.Background(), testSubject(), MatchCriteria{ExactBedrooms: 3}, GeoConstraints{})
	require.ErrorIs(t, err, ErrNoComparablesFound)
	assert.Equal(t, []float64{0.5, 0.75, 1.0}, p.queriedRadii())
	assert.Equal(t, 3, sched.MaxQueries())
}
