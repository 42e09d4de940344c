package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/yourorg/comps-api/attom"
	"github.com/yourorg/comps-api/internal/canon"
	"github.com/yourorg/comps-api/internal/comps"
	"github.com/yourorg/comps-api/internal/geo"
)

// Archiver receives every payload ATTOM returned together with its mapped
// records. hydrator.Hydrator implements it.
type Archiver interface {
	Archive(ctx context.Context, endpoint string, raw []byte, recs []attom.PropertyRecord) error
}

// ATTOM implements comps.Provider on top of the ATTOM property API.
type ATTOM struct {
	client         *attom.Client
	cb             *gobreaker.CircuitBreaker
	archive        Archiver
	archiveTimeout time.Duration
}

type Option func(*ATTOM)

// WithArchiver hands raw payloads to the archiver in the background.
func WithArchiver(a Archiver) Option {
	return func(p *ATTOM) { p.archive = a }
}

// WithBreaker opens the circuit after failures consecutive upstream
// failures and keeps it open for openFor.
func WithBreaker(failures uint32, openFor time.Duration) Option {
	return func(p *ATTOM) { p.cb = newBreaker(failures, openFor) }
}

func NewATTOM(c *attom.Client, opts ...Option) *ATTOM {
	p := &ATTOM{
		client:         c,
		cb:             newBreaker(5, 30*time.Second),
		archiveTimeout: 10 * time.Second,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func newBreaker(failures uint32, openFor time.Duration) *gobreaker.CircuitBreaker {
	if failures == 0 {
		failures = 5
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "attom",
		MaxRequests: 1,
		Timeout:     openFor,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	})
}

func (p *ATTOM) GeoSearch(ctx context.Context, center geo.Coordinate, radiusMiles float64, c comps.GeoConstraints) ([]comps.CandidateProperty, error) {
	rq := attom.RadiusQuery{
		Latitude:      center.Latitude,
		Longitude:     center.Longitude,
		RadiusMiles:   radiusMiles,
		PageSize:      c.Limit,
		StartSaleDate: c.SaleAfterDate,
	}
	if c.MinPrice != nil {
		rq.MinSaleAmount = *c.MinPrice
	}
	if c.MaxPrice != nil {
		rq.MaxSaleAmount = *c.MaxPrice
	}

	endpoint, query := "property/snapshot", p.client.PropertySnapshot
	// Sale bounds only exist on the sales endpoint.
	if c.SaleAfterDate != nil || c.MinPrice != nil || c.MaxPrice != nil {
		endpoint, query = "sale/snapshot", p.client.SaleSnapshot
	}

	recs, err := p.fetch(ctx, endpoint, func(ctx context.Context) ([]byte, error) { return query(ctx, rq) })
	if errors.Is(err, comps.ErrNotFound) {
		return []comps.CandidateProperty{}, nil
	}
	if err != nil {
		return nil, err
	}
	out := make([]comps.CandidateProperty, 0, len(recs))
	for _, r := range recs {
		out = append(out, toCandidate(r))
	}
	return out, nil
}

// ResolveAddress prefers the AVM detail, which carries the subject's
// valuation, and falls back to the basic profile for parcels ATTOM has no
// AVM for.
func (p *ATTOM) ResolveAddress(ctx context.Context, addr comps.AddressComponents) ([]comps.CandidateProperty, error) {
	address1, address2 := addr.Street, addr.Line2()
	recs, err := p.fetch(ctx, "attomavm/detail", func(ctx context.Context) ([]byte, error) {
		return p.client.AVMDetail(ctx, address1, address2)
	})
	if errors.Is(err, comps.ErrNotFound) {
		recs, err = p.fetch(ctx, "property/basicprofile", func(ctx context.Context) ([]byte, error) {
			return p.client.BasicProfile(ctx, address1, address2)
		})
	}
	if err != nil {
		return nil, err
	}
	out := make([]comps.CandidateProperty, 0, len(recs))
	for _, r := range recs {
		out = append(out, toCandidate(r))
	}
	return out, nil
}

// EnrichValue merges the AVM detail with the assessment when the AVM
// payload had no assessed value.
func (p *ATTOM) EnrichValue(ctx context.Context, address string) (comps.Valuation, error) {
	var v comps.Valuation
	addr := canon.ParseOneLine(address)
	address1, address2 := addr.Street, addr.Line2()

	recs, err := p.fetch(ctx, "attomavm/detail", func(ctx context.Context) ([]byte, error) {
		return p.client.AVMDetail(ctx, address1, address2)
	})
	switch {
	case err == nil:
		r := recs[0]
		if r.AVM != nil {
			v.AVMValue = r.AVM.Value
			v.ConfidenceScore = r.AVM.Score
			v.ValueRangeLow = r.AVM.Low
			v.ValueRangeHigh = r.AVM.High
		}
		v.AssessedValue = r.AssessedValue
	case errors.Is(err, comps.ErrNotFound):
	default:
		return v, err
	}

	if v.AssessedValue == nil {
		recs, aerr := p.fetch(ctx, "assessment/detail", func(ctx context.Context) ([]byte, error) {
			return p.client.AssessmentDetail(ctx, address1, address2)
		})
		switch {
		case aerr == nil:
			v.AssessedValue = recs[0].AssessedValue
		case v.AVMValue == nil:
			return v, aerr
		default:
			log.Debug().Err(aerr).Str("address", address).Msg("assessment lookup failed, keeping avm")
		}
	}

	if v.AVMValue == nil && v.AssessedValue == nil {
		return v, fmt.Errorf("%w: no valuation for %s", comps.ErrNotFound, address)
	}
	return v, nil
}

// fetch runs one ATTOM call through the breaker, maps the payload and
// archives it. Returned errors match the comps sentinels.
func (p *ATTOM) fetch(ctx context.Context, endpoint string, call func(context.Context) ([]byte, error)) ([]attom.PropertyRecord, error) {
	raw, err := p.call(ctx, endpoint, call)
	if err != nil {
		return nil, err
	}
	recs, err := attom.MapProperties(raw)
	if errors.Is(err, attom.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s returned no properties", comps.ErrNotFound, endpoint)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", comps.ErrUpstreamUnavailable, endpoint, err)
	}
	p.archiveAsync(ctx, endpoint, raw, recs)
	return recs, nil
}

// outcome carries errors that must not count against the breaker.
type outcome struct{ err error }

func (p *ATTOM) call(ctx context.Context, endpoint string, call func(context.Context) ([]byte, error)) ([]byte, error) {
	v, err := p.cb.Execute(func() (interface{}, error) {
		raw, err := call(ctx)
		if err != nil && !tripsBreaker(ctx, err) {
			return outcome{err: err}, nil
		}
		return raw, err
	})
	if err != nil {
		return nil, mapError(ctx, endpoint, err)
	}
	if o, ok := v.(outcome); ok {
		return nil, mapError(ctx, endpoint, o.err)
	}
	return v.([]byte), nil
}

// tripsBreaker reports whether err says ATTOM itself is unhealthy.
func tripsBreaker(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var se *attom.StatusError
	switch {
	case errors.Is(err, attom.ErrNotFound),
		errors.Is(err, attom.ErrRateLimited),
		errors.Is(err, attom.ErrDailyLimitExceeded),
		errors.Is(err, attom.ErrPayloadTooLarge):
		return false
	case errors.As(err, &se):
		return se.Temporary()
	}
	return true
}

func mapError(ctx context.Context, endpoint string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return fmt.Errorf("%w: attom circuit open: %v", comps.ErrUpstreamUnavailable, err)
	case errors.Is(err, attom.ErrNotFound):
		return fmt.Errorf("%w: %w", comps.ErrNotFound, err)
	case errors.Is(err, attom.ErrRateLimited), errors.Is(err, attom.ErrDailyLimitExceeded):
		return fmt.Errorf("%w: %w", comps.ErrRateLimited, err)
	}
	return fmt.Errorf("%w: %s: %v", comps.ErrUpstreamUnavailable, endpoint, err)
}

func (p *ATTOM) archiveAsync(ctx context.Context, endpoint string, raw []byte, recs []attom.PropertyRecord) {
	if p.archive == nil {
		return
	}
	go func() {
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.archiveTimeout)
		defer cancel()
		if err := p.archive.Archive(actx, endpoint, raw, recs); err != nil {
			log.Warn().Err(err).Str("endpoint", endpoint).Msg("archive provider payload")
		}
	}()
}

func toCandidate(r attom.PropertyRecord) comps.CandidateProperty {
	c := comps.CandidateProperty{
		Address:       recordAddress(r),
		Coordinate:    geo.Coordinate{Latitude: r.Latitude, Longitude: r.Longitude},
		Bedrooms:      r.Bedrooms,
		Bathrooms:     r.Bathrooms,
		SquareFootage: r.Sqft,
		YearBuilt:     r.YearBuilt,
		SaleDate:      r.SaleDate,
		SalePrice:     r.SaleAmount,
	}
	if r.PropertyType != "" {
		pt := r.PropertyType
		c.PropertyType = &pt
	}
	if r.AVM != nil {
		c.AVMValue = r.AVM.Value
	}
	return c
}

func recordAddress(r attom.PropertyRecord) string {
	if r.OneLine != "" {
		return r.OneLine
	}
	if r.Line1 != "" && r.Line2 != "" {
		return r.Line1 + ", " + r.Line2
	}
	return canon.Components{Street: r.Line1, City: r.City, State: r.State, Zip: r.Zip}.OneLine()
}
