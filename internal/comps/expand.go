package comps

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/yourorg/comps-api/internal/geo"
)

// RadiusSchedule drives the expanding search: start at Initial, grow by
// FineStep while below CoarseFrom and by CoarseStep after, never past Max.
type RadiusSchedule struct {
	Initial    float64
	Max        float64
	FineStep   float64
	CoarseStep float64
	CoarseFrom float64
}

func DefaultRadiusSchedule() RadiusSchedule {
	return RadiusSchedule{Initial: 0.5, Max: 5.5, FineStep: 0.25, CoarseStep: 0.5, CoarseFrom: 1.0}
}

// Next returns the radius after r, or false once r has reached Max.
func (s RadiusSchedule) Next(r float64) (float64, bool) {
	if r >= s.Max {
		return r, false
	}
	step := s.CoarseStep
	if r < s.CoarseFrom {
		step = s.FineStep
	}
	if step <= 0 {
		return s.Max, true
	}
	return math.Min(r+step, s.Max), true
}

// MaxQueries is the number of queries the schedule issues when the target
// is never met.
func (s RadiusSchedule) MaxQueries() int {
	n := 1
	for r := s.Initial; ; n++ {
		next, ok := s.Next(r)
		if !ok {
			return n
		}
		r = next
	}
}

type searchState struct {
	radius     float64
	matches    map[string]CandidateProperty
	target     int
	iterations int
	considered int
}

// replace swaps the accumulated set for the matches of the latest query.
func (st *searchState) replace(matches []CandidateProperty) {
	st.matches = make(map[string]CandidateProperty, len(matches))
	for _, m := range matches {
		k := m.Key()
		if prev, ok := st.matches[k]; ok && !closer(m, prev) {
			continue
		}
		st.matches[k] = m
	}
}

func (st *searchState) sorted() []CandidateProperty {
	out := make([]CandidateProperty, 0, len(st.matches))
	for _, m := range st.matches {
		out = append(out, m)
	}
	sortByDistance(out)
	return out
}

// ExpandingSearch re-queries a growing disk around the subject until enough
// matches are found or the schedule is exhausted.
type ExpandingSearch struct {
	Provider    Provider
	Schedule    RadiusSchedule
	TargetCount int
}

type ExpandResult struct {
	Matches              []CandidateProperty
	FinalRadiusMiles     float64
	Iterations           int
	CandidatesConsidered int
}

// Run executes the search. Exhaustion returns a *NoComparablesError; a
// provider failure aborts the loop.
func (e *ExpandingSearch) Run(ctx context.Context, subject SubjectProperty, cr MatchCriteria, gc GeoConstraints) (ExpandResult, error) {
	sched := e.Schedule
	if sched.Max <= 0 {
		sched = DefaultRadiusSchedule()
	}
	target := e.TargetCount
	if target <= 0 {
		target = 10
	}

	limit := sched.MaxQueries()
	st := &searchState{radius: sched.Initial, target: target}
	for {
		if err := ctx.Err(); err != nil {
			return ExpandResult{}, err
		}

		st.iterations++
		raw, err := e.Provider.GeoSearch(ctx, subject.Coordinate, st.radius, gc)
		if err != nil {
			return ExpandResult{}, fmt.Errorf("geo search at %.2f miles: %w", st.radius, err)
		}
		st.considered += len(raw)
		st.replace(Filter(withDistance(raw, subject.Coordinate), subject, cr))

		log.Debug().
			Float64("radius_miles", st.radius).
			Int("raw", len(raw)).
			Int("matches", len(st.matches)).
			Int("iteration", st.iterations).
			Msg("expanding search query")

		if len(st.matches) >= st.target {
			return ExpandResult{
				Matches:              st.sorted(),
				FinalRadiusMiles:     st.radius,
				Iterations:           st.iterations,
				CandidatesConsidered: st.considered,
			}, nil
		}

		next, ok := sched.Next(st.radius)
		if !ok || st.iterations >= limit {
			res := ExpandResult{
				FinalRadiusMiles:     st.radius,
				Iterations:           st.iterations,
				CandidatesConsidered: st.considered,
			}
			return res, &NoComparablesError{
				Criteria:         cr,
				FinalRadiusMiles: st.radius,
				Iterations:       st.iterations,
				Partial:          st.sorted(),
			}
		}
		st.radius = next
	}
}

// withDistance fills DistanceMiles from the center when the record has a
// coordinate.
func withDistance(cands []CandidateProperty, center geo.Coordinate) []CandidateProperty {
	out := make([]CandidateProperty, len(cands))
	for i, c := range cands {
		if !c.Coordinate.IsZero() {
			c.DistanceMiles = geo.DistanceMiles(center, c.Coordinate)
		}
		out[i] = c
	}
	return out
}

// sortByDistance orders nearest first; records without a geocode have no
// known distance and go last.
func sortByDistance(cands []CandidateProperty) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if closer(a, b) || closer(b, a) {
			return closer(a, b)
		}
		return a.Address < b.Address
	})
}

func closer(a, b CandidateProperty) bool {
	al, bl := !a.Coordinate.IsZero(), !b.Coordinate.IsZero()
	if al != bl {
		return al
	}
	return al && a.DistanceMiles < b.DistanceMiles
}
