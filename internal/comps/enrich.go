package comps

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const defaultEnrichConcurrency = 8

// EnrichmentSearch runs one geo query at a fixed radius, filters it and
// looks up a valuation for every survivor concurrently.
type EnrichmentSearch struct {
	Provider       Provider
	MaxConcurrency int
}

type EnrichResult struct {
	Comparables          []EnrichedCandidate
	CandidatesConsidered int
	Failed               int
}

// Run fails only when the geo query fails. If ctx is canceled while
// enriching, the slots filled so far are returned together with ctx.Err().
func (e *EnrichmentSearch) Run(ctx context.Context, subject SubjectProperty, radiusMiles float64, cr MatchCriteria, gc GeoConstraints) (EnrichResult, error) {
	raw, err := e.Provider.GeoSearch(ctx, subject.Coordinate, radiusMiles, gc)
	if err != nil {
		return EnrichResult{}, fmt.Errorf("geo search at %.2f miles: %w", radiusMiles, err)
	}

	matched := Filter(withDistance(raw, subject.Coordinate), subject, cr)
	sortByDistance(matched)

	out, failed := e.enrichAll(ctx, matched)
	log.Debug().
		Float64("radius_miles", radiusMiles).
		Int("raw", len(raw)).
		Int("matches", len(matched)).
		Int("enrich_failed", failed).
		Msg("enrichment search")

	res := EnrichResult{Comparables: out, CandidatesConsidered: len(raw), Failed: failed}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}

// enrichAll issues one EnrichValue per candidate. Each worker writes only
// its own slot; the slice is read after Wait.
func (e *EnrichmentSearch) enrichAll(ctx context.Context, cands []CandidateProperty) ([]EnrichedCandidate, int) {
	out := make([]EnrichedCandidate, len(cands))
	for i, c := range cands {
		out[i] = EnrichedCandidate{CandidateProperty: c}
	}
	if len(cands) == 0 {
		return out, 0
	}

	limit := e.MaxConcurrency
	if limit <= 0 {
		limit = defaultEnrichConcurrency
	}
	if limit > len(cands) {
		limit = len(cands)
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for i := range cands {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				out[i].EnrichmentError = err.Error()
				return nil
			}
			v, err := e.Provider.EnrichValue(ctx, cands[i].Address)
			if err != nil {
				log.Warn().Err(err).Str("address", cands[i].Address).Msg("enrichment failed")
				out[i].EnrichmentError = err.Error()
				return nil
			}
			out[i].Enrichment = buildEnrichment(cands[i], v)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, c := range out {
		if c.Enrichment == nil {
			failed++
		}
	}
	return out, failed
}

func buildEnrichment(c CandidateProperty, v Valuation) *Enrichment {
	en := &Enrichment{
		AVMValue:        v.AVMValue,
		ConfidenceScore: v.ConfidenceScore,
		ValueRangeLow:   v.ValueRangeLow,
		ValueRangeHigh:  v.ValueRangeHigh,
		AssessedValue:   v.AssessedValue,
	}
	if c.SquareFootage != nil && *c.SquareFootage > 0 {
		sqft := float64(*c.SquareFootage)
		if v.AVMValue != nil {
			en.AVMValuePerSquareFoot = ptr(*v.AVMValue / sqft)
		}
		if v.AssessedValue != nil {
			en.AssessedValuePerSquareFoot = ptr(*v.AssessedValue / sqft)
		}
	}
	if v.AVMValue != nil && v.AssessedValue != nil {
		d := *v.AVMValue - *v.AssessedValue
		en.ValueDelta = &d
		if *v.AssessedValue != 0 {
			en.ValueDeltaPercent = ptr(d / *v.AssessedValue * 100)
		}
	}
	return en
}
