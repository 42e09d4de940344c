package report

import (
	"time"

	"github.com/yourorg/comps-api/internal/comps"
)

// Kind selects the property report a batch entry produces.
type Kind string

const (
	KindCombined Kind = "combined"
	KindAVM      Kind = "avm"
	KindBasic    Kind = "basic"
)

// ParseKind accepts "combined", "avm" and "basic"; empty means combined.
func ParseKind(s string) (Kind, bool) {
	switch Kind(s) {
	case "", KindCombined:
		return KindCombined, true
	case KindAVM, KindBasic:
		return Kind(s), true
	}
	return "", false
}

const (
	SourceAVM   = "avm"
	SourceBasic = "basic_profile"
)

// PropertyReport is the homeowner-facing summary of one property. Valuation
// fields are only set when Source is SourceAVM.
type PropertyReport struct {
	Address           string     `json:"address"`
	Source            string     `json:"source"`
	AttomID           string     `json:"attom_id,omitempty"`
	EstimatedValue    *float64   `json:"current_estimated_value,omitempty"`
	ValueRangeLow     *float64   `json:"value_range_low,omitempty"`
	ValueRangeHigh    *float64   `json:"value_range_high,omitempty"`
	ConfidenceScore   *float64   `json:"confidence_score,omitempty"`
	EstimateDate      *time.Time `json:"estimate_date,omitempty"`
	SquareFootage     *int       `json:"property_size_sqft,omitempty"`
	YearBuilt         *int       `json:"year_built,omitempty"`
	Bedrooms          *int       `json:"bedrooms,omitempty"`
	Bathrooms         *float64   `json:"bathrooms,omitempty"`
	LotSizeAcres      *float64   `json:"lot_size_acres,omitempty"`
	PropertyType      string     `json:"property_type,omitempty"`
	PropertySubtype   string     `json:"property_subtype,omitempty"`
	CurrentAssessment *float64   `json:"current_assessment,omitempty"`
	LastSalePrice     *float64   `json:"last_sale_price,omitempty"`
	LastSaleDate      *time.Time `json:"last_sale_date,omitempty"`
	Owner             string     `json:"owner,omitempty"`
	ValuationNote     string     `json:"valuation_note,omitempty"`
	RetrievedAt       time.Time  `json:"data_retrieved"`
}

// Availability reports one dataset of a CompleteReport.
type Availability struct {
	Available bool            `json:"available"`
	Data      *PropertyReport `json:"data"`
	Error     string          `json:"error,omitempty"`
}

// CompleteReport carries the AVM and basic profile side by side.
type CompleteReport struct {
	Address      string       `json:"address"`
	AVM          Availability `json:"avm"`
	BasicProfile Availability `json:"basic_profile"`
	RetrievedAt  time.Time    `json:"data_retrieved"`
}

// Assessment is one tax year. Per-square-foot rates are derived from the
// building size when known.
type Assessment struct {
	TaxYear          *int       `json:"tax_year,omitempty"`
	TotalAssessed    *float64   `json:"total_assessed_value,omitempty"`
	LandValue        *float64   `json:"land_value,omitempty"`
	ImprovementValue *float64   `json:"improvement_value,omitempty"`
	MarketValue      *float64   `json:"market_value,omitempty"`
	AppraisedValue   *float64   `json:"appraised_value,omitempty"`
	TaxAmount        *float64   `json:"tax_amount,omitempty"`
	AssessedPerSqft  *float64   `json:"assessed_per_sqft,omitempty"`
	MarketPerSqft    *float64   `json:"market_per_sqft,omitempty"`
	TaxPerSqft       *float64   `json:"tax_per_sqft,omitempty"`
	AssessmentDate   *time.Time `json:"assessment_date,omitempty"`
	EffectiveDate    *time.Time `json:"effective_date,omitempty"`
}

type AssessmentHistoryReport struct {
	Address          string       `json:"address"`
	SquareFootage    *int         `json:"property_size_sqft,omitempty"`
	TotalAssessments int          `json:"total_assessments"`
	AssessmentYears  []int        `json:"assessment_years"`
	Assessments      []Assessment `json:"assessments"`
	RetrievedAt      time.Time    `json:"data_retrieved"`
}

type SaleEvent struct {
	Date            *time.Time `json:"date,omitempty"`
	Price           *float64   `json:"price,omitempty"`
	DocumentType    string     `json:"document_type,omitempty"`
	TransactionType string     `json:"transaction_type,omitempty"`
}

// EventsReport is the all-events snapshot: the latest assessment and sale
// plus the current property facts.
type EventsReport struct {
	Address         string          `json:"address"`
	TotalEvents     int             `json:"total_events"`
	EventCategories int             `json:"event_categories"`
	Assessments     []Assessment    `json:"assessments"`
	Sales           []SaleEvent     `json:"sales"`
	Current         *PropertyReport `json:"current_snapshot,omitempty"`
	RetrievedAt     time.Time       `json:"data_retrieved"`
}

// BatchEntry is the outcome for one address of a batch.
type BatchEntry struct {
	Address string          `json:"address"`
	OK      bool            `json:"ok"`
	Report  *PropertyReport `json:"report,omitempty"`
	Error   string          `json:"error,omitempty"`
	Detail  string          `json:"detail,omitempty"`
	err     error
}

// FailedEntry records an address whose report could not be built.
func FailedEntry(address string, err error) BatchEntry {
	return BatchEntry{Address: address, Detail: err.Error(), err: err}
}

// Err is the lookup error behind a failed entry.
func (e BatchEntry) Err() error { return e.err }

type BatchReport struct {
	ReportType     Kind         `json:"report_type"`
	TotalAddresses int          `json:"total_addresses"`
	Successful     int          `json:"successful"`
	Failed         int          `json:"failed"`
	Results        []BatchEntry `json:"results"`
}

// AddressComponents is the structured address the source looks up.
type AddressComponents = comps.AddressComponents
