package report

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/yourorg/comps-api/internal/canon"
	"github.com/yourorg/comps-api/internal/comps"
)

// MaxBatch is the largest number of addresses one batch accepts.
const MaxBatch = 10

const (
	defaultBatchConcurrency = 4
	noValuationNote         = "No current market valuation available - showing basic property data only"
)

// Source is the property-data backend behind the reports. Errors match
// the comps sentinels.
type Source interface {
	AVMReport(ctx context.Context, addr AddressComponents) (PropertyReport, error)
	BasicReport(ctx context.Context, addr AddressComponents) (PropertyReport, error)
	AssessmentHistory(ctx context.Context, addr AddressComponents) (AssessmentHistoryReport, error)
	AllEvents(ctx context.Context, addr AddressComponents) (EventsReport, error)
}

type Service struct {
	src Source
	// Concurrency bounds the lookups a batch runs at once.
	Concurrency int
	now         func() time.Time
}

func NewService(src Source) *Service {
	return &Service{src: src, Concurrency: defaultBatchConcurrency, now: time.Now}
}

// Property builds one property report. The combined kind prefers the AVM
// and falls back to the basic profile when ATTOM has no valuation.
func (s *Service) Property(ctx context.Context, addr AddressComponents, kind Kind) (PropertyReport, error) {
	if err := validate(addr); err != nil {
		return PropertyReport{}, err
	}
	var (
		rep PropertyReport
		err error
	)
	switch kind {
	case KindAVM:
		rep, err = s.src.AVMReport(ctx, addr)
	case KindBasic:
		rep, err = s.src.BasicReport(ctx, addr)
	default:
		rep, err = s.combined(ctx, addr)
	}
	if err != nil {
		return PropertyReport{}, err
	}
	rep.RetrievedAt = s.now().UTC()
	return rep, nil
}

func (s *Service) combined(ctx context.Context, addr AddressComponents) (PropertyReport, error) {
	rep, err := s.src.AVMReport(ctx, addr)
	if !errors.Is(err, comps.ErrNotFound) {
		return rep, err
	}
	log.Debug().Str("address", addr.OneLine()).Msg("no avm, falling back to basic profile")
	rep, err = s.src.BasicReport(ctx, addr)
	if err != nil {
		return rep, err
	}
	rep.ValuationNote = noValuationNote
	return rep, nil
}

// Complete returns both datasets with availability flags. It fails only
// when neither is available.
func (s *Service) Complete(ctx context.Context, addr AddressComponents) (CompleteReport, error) {
	if err := validate(addr); err != nil {
		return CompleteReport{}, err
	}
	now := s.now().UTC()
	out := CompleteReport{Address: addr.OneLine(), RetrievedAt: now}

	avm, avmErr := s.src.AVMReport(ctx, addr)
	out.AVM = availability(avm, avmErr, now)
	basic, basicErr := s.src.BasicReport(ctx, addr)
	out.BasicProfile = availability(basic, basicErr, now)

	if avmErr != nil && basicErr != nil {
		return out, avmErr
	}
	return out, nil
}

func availability(rep PropertyReport, err error, now time.Time) Availability {
	if err != nil {
		return Availability{Error: err.Error()}
	}
	rep.RetrievedAt = now
	return Availability{Available: true, Data: &rep}
}

func (s *Service) AssessmentHistory(ctx context.Context, addr AddressComponents) (AssessmentHistoryReport, error) {
	if err := validate(addr); err != nil {
		return AssessmentHistoryReport{}, err
	}
	rep, err := s.src.AssessmentHistory(ctx, addr)
	if err != nil {
		return AssessmentHistoryReport{}, err
	}
	rep.Assessments = withPerSqft(rep.Assessments, rep.SquareFootage)
	rep.TotalAssessments = len(rep.Assessments)
	rep.AssessmentYears = []int{}
	for _, a := range rep.Assessments {
		if a.TaxYear != nil {
			rep.AssessmentYears = append(rep.AssessmentYears, *a.TaxYear)
		}
	}
	rep.RetrievedAt = s.now().UTC()
	return rep, nil
}

func (s *Service) AllEvents(ctx context.Context, addr AddressComponents) (EventsReport, error) {
	if err := validate(addr); err != nil {
		return EventsReport{}, err
	}
	rep, err := s.src.AllEvents(ctx, addr)
	if err != nil {
		return EventsReport{}, err
	}
	now := s.now().UTC()
	var sqft *int
	if rep.Current != nil {
		rep.Current.RetrievedAt = now
		sqft = rep.Current.SquareFootage
	}
	if rep.Assessments == nil {
		rep.Assessments = []Assessment{}
	}
	if rep.Sales == nil {
		rep.Sales = []SaleEvent{}
	}
	rep.Assessments = withPerSqft(rep.Assessments, sqft)
	rep.TotalEvents = len(rep.Assessments) + len(rep.Sales)
	rep.EventCategories = 0
	for _, n := range []int{len(rep.Assessments), len(rep.Sales)} {
		if n > 0 {
			rep.EventCategories++
		}
	}
	rep.RetrievedAt = now
	return rep, nil
}

// Batch builds a report for each one-line address. A failed address never
// fails the batch; results keep the input order.
func (s *Service) Batch(ctx context.Context, addresses []string, kind Kind) (BatchReport, error) {
	if len(addresses) == 0 {
		return BatchReport{}, fmt.Errorf("%w: at least one address is required", comps.ErrInvalidAddress)
	}
	if len(addresses) > MaxBatch {
		return BatchReport{}, fmt.Errorf("%w: at most %d addresses per batch", comps.ErrInvalidAddress, MaxBatch)
	}

	out := BatchReport{ReportType: kind, TotalAddresses: len(addresses), Results: make([]BatchEntry, len(addresses))}
	limit := s.Concurrency
	if limit <= 0 {
		limit = defaultBatchConcurrency
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for i, a := range addresses {
		g.Go(func() error {
			rep, err := s.Property(ctx, canon.ParseOneLine(a), kind)
			if err != nil {
				out.Results[i] = FailedEntry(a, err)
				return nil
			}
			out.Results[i] = BatchEntry{Address: a, OK: true, Report: &rep}
			return nil
		})
	}
	_ = g.Wait()

	for _, e := range out.Results {
		if e.OK {
			out.Successful++
		} else {
			out.Failed++
		}
	}
	log.Info().
		Str("report_type", string(kind)).
		Int("addresses", out.TotalAddresses).
		Int("failed", out.Failed).
		Msg("batch report")
	if err := ctx.Err(); err != nil {
		return out, err
	}
	return out, nil
}

func withPerSqft(as []Assessment, sqft *int) []Assessment {
	if sqft == nil || *sqft <= 0 {
		return as
	}
	size := float64(*sqft)
	per := func(v *float64) *float64 {
		if v == nil {
			return nil
		}
		r := *v / size
		return &r
	}
	for i := range as {
		as[i].AssessedPerSqft = per(as[i].TotalAssessed)
		as[i].MarketPerSqft = per(as[i].MarketValue)
		as[i].TaxPerSqft = per(as[i].TaxAmount)
	}
	return as
}

func validate(addr AddressComponents) error {
	if strings.TrimSpace(addr.Street) == "" || strings.TrimSpace(addr.City) == "" ||
		strings.TrimSpace(addr.State) == "" || strings.TrimSpace(addr.Zip) == "" {
		return fmt.Errorf("%w: expected \"street, city, ST zip\", got %q", comps.ErrInvalidAddress, addr.OneLine())
	}
	return nil
}
