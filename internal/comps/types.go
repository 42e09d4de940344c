package comps

import (
	"time"

	"github.com/google/uuid"

	"github.com/yourorg/comps-api/internal/canon"
	"github.com/yourorg/comps-api/internal/geo"
)

// AddressComponents is the structured subject address accepted by the workflows.
type AddressComponents = canon.Components

// SubjectProperty is the property comparables are searched for. Pointer
// fields are nil when the provider had no value.
type SubjectProperty struct {
	Address       string         `json:"address"`
	Key           string         `json:"key"`
	Coordinate    geo.Coordinate `json:"coordinate"`
	Bedrooms      *int           `json:"bedrooms,omitempty"`
	Bathrooms     *float64       `json:"bathrooms,omitempty"`
	SquareFootage *int           `json:"square_footage,omitempty"`
	PropertyType  *string        `json:"property_type,omitempty"`
	YearBuilt     *int           `json:"year_built,omitempty"`
	AVMValue      *float64       `json:"avm_value,omitempty"`
	// Ambiguous is set when the address resolved to more than one location
	// and the first one was used.
	Ambiguous bool `json:"ambiguous,omitempty"`
}

type CandidateProperty struct {
	Address       string         `json:"address"`
	Coordinate    geo.Coordinate `json:"coordinate"`
	Bedrooms      *int           `json:"bedrooms,omitempty"`
	Bathrooms     *float64       `json:"bathrooms,omitempty"`
	SquareFootage *int           `json:"square_footage,omitempty"`
	PropertyType  *string        `json:"property_type,omitempty"`
	YearBuilt     *int           `json:"year_built,omitempty"`
	SaleDate      *time.Time     `json:"sale_date,omitempty"`
	SalePrice     *float64       `json:"sale_price,omitempty"`
	AVMValue      *float64       `json:"avm_value,omitempty"`
	DistanceMiles float64        `json:"distance_miles"`
}

// Key is the canonical address, unit included, used to de-duplicate
// candidates.
func (c CandidateProperty) Key() string {
	if k := canon.Key(c.Address); k != "" {
		return k
	}
	return c.Address
}

// MatchCriteria is built from the subject at search start. Bedrooms are
// always constrained.
type MatchCriteria struct {
	ExactBedrooms                 int        `json:"exact_bedrooms"`
	ExactBathrooms                *float64   `json:"exact_bathrooms,omitempty"`
	SaleAfterDate                 *time.Time `json:"sale_after_date,omitempty"`
	PriceBandPercent              *float64   `json:"price_band_percent,omitempty"`
	SquareFootageTolerancePercent *float64   `json:"square_footage_tolerance_percent,omitempty"`
	PropertyTypeMustMatch         bool       `json:"property_type_must_match,omitempty"`
}

// GeoConstraints narrows a provider geo query.
type GeoConstraints struct {
	SaleAfterDate *time.Time
	MinPrice      *float64
	MaxPrice      *float64
	Limit         int
}

// Valuation is what the provider returns for one enrichment lookup.
type Valuation struct {
	AVMValue        *float64 `json:"avm_value,omitempty"`
	ConfidenceScore *float64 `json:"confidence_score,omitempty"`
	ValueRangeLow   *float64 `json:"value_range_low,omitempty"`
	ValueRangeHigh  *float64 `json:"value_range_high,omitempty"`
	AssessedValue   *float64 `json:"assessed_value,omitempty"`
}

type Enrichment struct {
	AVMValue                   *float64 `json:"avm_value,omitempty"`
	AVMValuePerSquareFoot      *float64 `json:"avm_value_per_sqft,omitempty"`
	ConfidenceScore            *float64 `json:"confidence_score,omitempty"`
	ValueRangeLow              *float64 `json:"value_range_low,omitempty"`
	ValueRangeHigh             *float64 `json:"value_range_high,omitempty"`
	AssessedValue              *float64 `json:"assessed_value,omitempty"`
	AssessedValuePerSquareFoot *float64 `json:"assessed_value_per_sqft,omitempty"`
	ValueDelta                 *float64 `json:"value_delta,omitempty"`
	ValueDeltaPercent          *float64 `json:"value_delta_percent,omitempty"`
}

// EnrichedCandidate keeps the base fields even when enrichment failed; in
// that case Enrichment is nil and EnrichmentError says why.
type EnrichedCandidate struct {
	CandidateProperty
	Enrichment      *Enrichment `json:"enrichment,omitempty"`
	EnrichmentError string      `json:"enrichment_error,omitempty"`
}

type SearchMode string

const (
	ModeSales   SearchMode = "sales"
	ModeSimilar SearchMode = "similar"
)

type ComparableSearchResult struct {
	SearchID             uuid.UUID             `json:"search_id"`
	Mode                 SearchMode            `json:"mode"`
	Subject              SubjectProperty       `json:"subject"`
	Criteria             MatchCriteria         `json:"criteria"`
	FinalRadiusMiles     float64               `json:"final_radius_miles"`
	Iterations           int                   `json:"iterations"`
	CandidatesConsidered int                   `json:"candidates_considered"`
	Comparables          []EnrichedCandidate   `json:"comparables"`
	Statistics           *ComparisonStatistics `json:"statistics,omitempty"`
}

func ptr[T any](v T) *T { return &v }
