package comps

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Settings are the service-wide defaults; zero fields fall back to
// DefaultSettings.
type Settings struct {
	TargetCount       int
	Schedule          RadiusSchedule
	LookbackMonths    int
	SalesLimit        int
	SimilarRadius     float64
	SimilarLimit      int
	SqftTolerancePct  float64
	EnrichConcurrency int
	StrictResolve     bool
}

func DefaultSettings() Settings {
	return Settings{
		TargetCount:       10,
		Schedule:          DefaultRadiusSchedule(),
		LookbackMonths:    12,
		SalesLimit:        100,
		SimilarRadius:     5.0,
		SimilarLimit:      15,
		SqftTolerancePct:  10.0,
		EnrichConcurrency: defaultEnrichConcurrency,
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.TargetCount <= 0 {
		s.TargetCount = d.TargetCount
	}
	if s.Schedule.Max <= 0 {
		s.Schedule = d.Schedule
	}
	if s.LookbackMonths <= 0 {
		s.LookbackMonths = d.LookbackMonths
	}
	if s.SalesLimit <= 0 {
		s.SalesLimit = d.SalesLimit
	}
	if s.SimilarRadius <= 0 {
		s.SimilarRadius = d.SimilarRadius
	}
	if s.SimilarLimit <= 0 {
		s.SimilarLimit = d.SimilarLimit
	}
	if s.SqftTolerancePct <= 0 {
		s.SqftTolerancePct = d.SqftTolerancePct
	}
	if s.EnrichConcurrency <= 0 {
		s.EnrichConcurrency = d.EnrichConcurrency
	}
	return s
}

// SalesOptions tune one sales-comparables search.
type SalesOptions struct {
	// LookbackMonths overrides how far back a sale may be.
	LookbackMonths int
	// SqftTolerancePct, in percent (10 = ±10%). Nil leaves living area unconstrained.
	SqftTolerancePct *float64
	// PriceBand as a fraction of the subject AVM (0.3 = ±30%).
	PriceBand             *float64
	PropertyTypeMustMatch bool
}

// SimilarOptions tune one similar-properties search.
type SimilarOptions struct {
	RadiusMiles float64
	// SqftTolerancePct, in percent. Nil uses the service default.
	SqftTolerancePct *float64
	// Bedrooms overrides the subject's bedroom count.
	Bedrooms              *int
	PriceBand             *float64
	PropertyTypeMustMatch bool
}

type Service struct {
	provider Provider
	resolver *Resolver
	settings Settings
	now      func() time.Time
}

func NewService(p Provider, s Settings) *Service {
	s = s.withDefaults()
	return &Service{
		provider: p,
		resolver: &Resolver{Provider: p, Strict: s.StrictResolve},
		settings: s,
		now:      time.Now,
	}
}

// Resolve exposes subject resolution on its own.
func (s *Service) Resolve(ctx context.Context, addr AddressComponents) (SubjectProperty, error) {
	return s.resolver.Resolve(ctx, addr)
}

// FindSalesComparables runs the expanding-radius search for recently sold
// comparables. When the radius is exhausted the returned result still
// carries the subject, criteria and final radius, and err is a
// *NoComparablesError.
func (s *Service) FindSalesComparables(ctx context.Context, addr AddressComponents, opts SalesOptions) (ComparableSearchResult, error) {
	return s.findSales(ctx, opts, func(ctx context.Context) (SubjectProperty, error) {
		return s.resolver.Resolve(ctx, addr)
	})
}

// FindSalesComparablesByID is FindSalesComparables for a subject known by
// provider property id. It needs a provider implementing IDResolver.
func (s *Service) FindSalesComparablesByID(ctx context.Context, id string, opts SalesOptions) (ComparableSearchResult, error) {
	return s.findSales(ctx, opts, func(ctx context.Context) (SubjectProperty, error) {
		return s.resolver.ResolveByID(ctx, id)
	})
}

func (s *Service) findSales(ctx context.Context, opts SalesOptions, resolve func(context.Context) (SubjectProperty, error)) (ComparableSearchResult, error) {
	res := ComparableSearchResult{SearchID: uuid.New(), Mode: ModeSales}
	logger := log.With().Str("search_id", res.SearchID.String()).Str("mode", string(ModeSales)).Logger()

	subject, err := resolve(ctx)
	if err != nil {
		return res, err
	}
	res.Subject = subject

	cr, err := s.salesCriteria(subject, opts)
	if err != nil {
		return res, err
	}
	res.Criteria = cr

	gc := GeoConstraints{SaleAfterDate: cr.SaleAfterDate, Limit: s.settings.SalesLimit}
	gc.MinPrice, gc.MaxPrice = priceRange(subject, cr)

	search := &ExpandingSearch{Provider: s.provider, Schedule: s.settings.Schedule, TargetCount: s.settings.TargetCount}
	out, err := search.Run(ctx, subject, cr, gc)
	res.FinalRadiusMiles = out.FinalRadiusMiles
	res.Iterations = out.Iterations
	res.CandidatesConsidered = out.CandidatesConsidered
	res.Comparables = []EnrichedCandidate{}
	if err != nil {
		var nc *NoComparablesError
		if errors.As(err, &nc) {
			logger.Info().Float64("final_radius_miles", nc.FinalRadiusMiles).Int("partial", len(nc.Partial)).Msg("no comparables found")
		}
		return res, err
	}

	for _, m := range out.Matches {
		res.Comparables = append(res.Comparables, EnrichedCandidate{CandidateProperty: m})
	}
	res.Statistics = SaleStatistics(res.Comparables)
	logger.Info().
		Float64("final_radius_miles", res.FinalRadiusMiles).
		Int("iterations", res.Iterations).
		Int("comparables", len(res.Comparables)).
		Msg("sales comparables found")
	return res, nil
}

// FindSimilarProperties runs the fixed-radius enrichment search. Individual
// enrichment failures never fail the call.
func (s *Service) FindSimilarProperties(ctx context.Context, addr AddressComponents, opts SimilarOptions) (ComparableSearchResult, error) {
	res := ComparableSearchResult{SearchID: uuid.New(), Mode: ModeSimilar}
	logger := log.With().Str("search_id", res.SearchID.String()).Str("mode", string(ModeSimilar)).Logger()

	subject, err := s.resolver.Resolve(ctx, addr)
	if err != nil {
		return res, err
	}
	res.Subject = subject

	cr, err := s.similarCriteria(subject, opts)
	if err != nil {
		return res, err
	}
	res.Criteria = cr

	radius := opts.RadiusMiles
	if radius <= 0 {
		radius = s.settings.SimilarRadius
	}
	gc := GeoConstraints{Limit: s.settings.SimilarLimit}
	gc.MinPrice, gc.MaxPrice = priceRange(subject, cr)

	search := &EnrichmentSearch{Provider: s.provider, MaxConcurrency: s.settings.EnrichConcurrency}
	out, err := search.Run(ctx, subject, radius, cr, gc)
	res.FinalRadiusMiles = radius
	res.Iterations = 1
	res.CandidatesConsidered = out.CandidatesConsidered
	res.Comparables = out.Comparables
	if res.Comparables == nil {
		res.Comparables = []EnrichedCandidate{}
	}
	res.Statistics = Aggregate(res.Comparables)
	if err != nil {
		return res, err
	}

	logger.Info().
		Float64("radius_miles", radius).
		Int("comparables", len(res.Comparables)).
		Int("enrich_failed", out.Failed).
		Msg("similar properties found")
	return res, nil
}

func (s *Service) salesCriteria(subject SubjectProperty, opts SalesOptions) (MatchCriteria, error) {
	if subject.Bedrooms == nil {
		return MatchCriteria{}, fmt.Errorf("%w: subject has no bedroom count", ErrInsufficientSubjectData)
	}
	months := opts.LookbackMonths
	if months <= 0 {
		months = s.settings.LookbackMonths
	}
	after := s.now().UTC().AddDate(0, -months, 0)
	after = time.Date(after.Year(), after.Month(), after.Day(), 0, 0, 0, 0, time.UTC)

	cr := MatchCriteria{
		ExactBedrooms:         *subject.Bedrooms,
		ExactBathrooms:        subject.Bathrooms,
		SaleAfterDate:         &after,
		PriceBandPercent:      opts.PriceBand,
		PropertyTypeMustMatch: opts.PropertyTypeMustMatch,
	}
	if opts.SqftTolerancePct != nil {
		cr.SquareFootageTolerancePercent = ptr(*opts.SqftTolerancePct / 100)
	}
	return cr, nil
}

func (s *Service) similarCriteria(subject SubjectProperty, opts SimilarOptions) (MatchCriteria, error) {
	beds := subject.Bedrooms
	if opts.Bedrooms != nil {
		beds = opts.Bedrooms
	}
	if beds == nil {
		return MatchCriteria{}, fmt.Errorf("%w: subject has no bedroom count and none was supplied", ErrInsufficientSubjectData)
	}
	tol := s.settings.SqftTolerancePct
	if opts.SqftTolerancePct != nil {
		tol = *opts.SqftTolerancePct
	}
	return MatchCriteria{
		ExactBedrooms:                 *beds,
		ExactBathrooms:                subject.Bathrooms,
		SquareFootageTolerancePercent: ptr(tol / 100),
		PriceBandPercent:              opts.PriceBand,
		PropertyTypeMustMatch:         opts.PropertyTypeMustMatch,
	}, nil
}

// priceRange turns the price band into provider-side bounds when the
// subject has an AVM.
func priceRange(subject SubjectProperty, cr MatchCriteria) (lo, hi *float64) {
	if cr.PriceBandPercent == nil || subject.AVMValue == nil || *subject.AVMValue <= 0 {
		return nil, nil
	}
	return ptr(*subject.AVMValue * (1 - *cr.PriceBandPercent)), ptr(*subject.AVMValue * (1 + *cr.PriceBandPercent))
}
