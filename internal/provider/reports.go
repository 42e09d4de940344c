package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/yourorg/comps-api/attom"
	"github.com/yourorg/comps-api/internal/comps"
	"github.com/yourorg/comps-api/internal/report"
)

// AVMReport reports the ATTOM valuation. A parcel ATTOM has no AVM value
// for is ErrNotFound.
func (p *ATTOM) AVMReport(ctx context.Context, addr report.AddressComponents) (report.PropertyReport, error) {
	recs, err := p.fetch(ctx, "attomavm/detail", func(ctx context.Context) ([]byte, error) {
		return p.client.AVMDetail(ctx, addr.Street, addr.Line2())
	})
	if err != nil {
		return report.PropertyReport{}, err
	}
	r := recs[0]
	if r.AVM == nil || r.AVM.Value == nil {
		return report.PropertyReport{}, fmt.Errorf("%w: no avm for %s", comps.ErrNotFound, addr.OneLine())
	}
	rep := propertyReport(r, report.SourceAVM)
	rep.EstimatedValue = r.AVM.Value
	rep.ValueRangeLow = r.AVM.Low
	rep.ValueRangeHigh = r.AVM.High
	rep.ConfidenceScore = r.AVM.Score
	rep.EstimateDate = r.AVM.EventDate
	return rep, nil
}

func (p *ATTOM) BasicReport(ctx context.Context, addr report.AddressComponents) (report.PropertyReport, error) {
	recs, err := p.fetch(ctx, "property/basicprofile", func(ctx context.Context) ([]byte, error) {
		return p.client.BasicProfile(ctx, addr.Street, addr.Line2())
	})
	if err != nil {
		return report.PropertyReport{}, err
	}
	return propertyReport(recs[0], report.SourceBasic), nil
}

func (p *ATTOM) AssessmentHistory(ctx context.Context, addr report.AddressComponents) (report.AssessmentHistoryReport, error) {
	const endpoint = "assessmenthistory/detail"
	raw, err := p.call(ctx, endpoint, func(ctx context.Context) ([]byte, error) {
		return p.client.AssessmentHistory(ctx, addr.Street, addr.Line2())
	})
	if err != nil {
		return report.AssessmentHistoryReport{}, err
	}
	h, err := attom.MapAssessmentHistory(raw)
	if errors.Is(err, attom.ErrNotFound) {
		return report.AssessmentHistoryReport{}, fmt.Errorf("%w: %s returned no properties", comps.ErrNotFound, endpoint)
	}
	if err != nil {
		return report.AssessmentHistoryReport{}, fmt.Errorf("%w: decode %s: %v", comps.ErrUpstreamUnavailable, endpoint, err)
	}
	p.archiveAsync(ctx, endpoint, raw, []attom.PropertyRecord{h.Property})

	out := report.AssessmentHistoryReport{
		Address:       recordAddress(h.Property),
		SquareFootage: h.Property.Sqft,
		Assessments:   make([]report.Assessment, 0, len(h.Assessments)),
	}
	for _, a := range h.Assessments {
		out.Assessments = append(out.Assessments, toAssessment(a))
	}
	return out, nil
}

// AllEvents reads allevents/snapshot, which carries the latest assessment
// and sale next to the property facts.
func (p *ATTOM) AllEvents(ctx context.Context, addr report.AddressComponents) (report.EventsReport, error) {
	recs, err := p.fetch(ctx, "allevents/snapshot", func(ctx context.Context) ([]byte, error) {
		return p.client.AllEvents(ctx, addr.Street, addr.Line2())
	})
	if err != nil {
		return report.EventsReport{}, err
	}
	r := recs[0]
	current := propertyReport(r, report.SourceBasic)
	out := report.EventsReport{
		Address:     current.Address,
		Assessments: []report.Assessment{},
		Sales:       []report.SaleEvent{},
		Current:     &current,
	}
	if r.Assessment != nil {
		out.Assessments = append(out.Assessments, toAssessment(*r.Assessment))
	}
	if r.SaleDate != nil || r.SaleAmount != nil {
		out.Sales = append(out.Sales, report.SaleEvent{
			Date:            r.SaleDate,
			Price:           r.SaleAmount,
			DocumentType:    r.SaleDocType,
			TransactionType: r.SaleTransType,
		})
	}
	return out, nil
}

// ResolveByID looks a property up by ATTOM id, preferring the AVM detail
// like ResolveAddress does.
func (p *ATTOM) ResolveByID(ctx context.Context, id string) ([]comps.CandidateProperty, error) {
	recs, err := p.fetch(ctx, "attomavm/detail", func(ctx context.Context) ([]byte, error) {
		return p.client.AVMDetailByID(ctx, id)
	})
	if errors.Is(err, comps.ErrNotFound) {
		recs, err = p.fetch(ctx, "property/basicprofile", func(ctx context.Context) ([]byte, error) {
			return p.client.BasicProfileByID(ctx, id)
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

func propertyReport(r attom.PropertyRecord, source string) report.PropertyReport {
	return report.PropertyReport{
		Address:           recordAddress(r),
		Source:            source,
		AttomID:           r.AttomID,
		SquareFootage:     r.Sqft,
		YearBuilt:         r.YearBuilt,
		Bedrooms:          r.Bedrooms,
		Bathrooms:         r.Bathrooms,
		LotSizeAcres:      r.LotSizeAcres,
		PropertyType:      r.PropertyType,
		PropertySubtype:   r.PropertySubtype,
		CurrentAssessment: r.AssessedValue,
		LastSalePrice:     r.SaleAmount,
		LastSaleDate:      r.SaleDate,
		Owner:             r.Owner,
	}
}

func toAssessment(a attom.Assessment) report.Assessment {
	return report.Assessment{
		TaxYear:          a.TaxYear,
		TotalAssessed:    a.AssessedTotal,
		LandValue:        a.AssessedLand,
		ImprovementValue: a.AssessedImprove,
		MarketValue:      a.MarketTotal,
		AppraisedValue:   a.AppraisedTotal,
		TaxAmount:        a.TaxAmount,
		AssessmentDate:   a.AssessmentDate,
		EffectiveDate:    a.EffectiveDate,
	}
}
