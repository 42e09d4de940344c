package attom

import "time"

// PropertyRecord is the typed view of one entry of ATTOM's "property" array.
// Pointer fields are nil when ATTOM omitted the value or reported zero.
type PropertyRecord struct {
	AttomID   string  `json:"attomId"`
	OneLine   string  `json:"oneLine"`
	Line1     string  `json:"line1"`
	Line2     string  `json:"line2"`
	City      string  `json:"city"`
	State     string  `json:"state"`
	Zip       string  `json:"zip"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`

	PropertyType    string   `json:"propertyType,omitempty"`
	PropertySubtype string   `json:"propertySubtype,omitempty"`
	Bedrooms        *int     `json:"bedrooms,omitempty"`
	Bathrooms       *float64 `json:"bathrooms,omitempty"`
	Sqft            *int     `json:"sqft,omitempty"`
	YearBuilt       *int     `json:"yearBuilt,omitempty"`
	LotSizeAcres    *float64 `json:"lotSizeAcres,omitempty"`
	Owner           string   `json:"owner,omitempty"`

	SaleDate      *time.Time `json:"saleDate,omitempty"`
	SaleAmount    *float64   `json:"saleAmount,omitempty"`
	SaleDocType   string     `json:"saleDocType,omitempty"`
	SaleTransType string     `json:"saleTransType,omitempty"`

	AVM           *AVM        `json:"avm,omitempty"`
	AssessedValue *float64    `json:"assessedValue,omitempty"`
	Assessment    *Assessment `json:"assessment,omitempty"`
}

// Assessment is one tax-assessment year. The current year comes with every
// property payload; assessmenthistory/detail returns all of them.
type Assessment struct {
	TaxYear         *int       `json:"taxYear,omitempty"`
	AssessedTotal   *float64   `json:"assessedTotal,omitempty"`
	AssessedLand    *float64   `json:"assessedLand,omitempty"`
	AssessedImprove *float64   `json:"assessedImprovement,omitempty"`
	MarketTotal     *float64   `json:"marketTotal,omitempty"`
	AppraisedTotal  *float64   `json:"appraisedTotal,omitempty"`
	TaxAmount       *float64   `json:"taxAmount,omitempty"`
	AssessmentDate  *time.Time `json:"assessmentDate,omitempty"`
	EffectiveDate   *time.Time `json:"effectiveDate,omitempty"`
}

// AssessmentHistory is a property with its assessment years, newest first.
type AssessmentHistory struct {
	Property    PropertyRecord `json:"property"`
	Assessments []Assessment   `json:"assessments"`
}

type AVM struct {
	Value     *float64   `json:"value,omitempty"`
	Low       *float64   `json:"low,omitempty"`
	High      *float64   `json:"high,omitempty"`
	Score     *float64   `json:"score,omitempty"`
	EventDate *time.Time `json:"eventDate,omitempty"`
}

// Status mirrors ATTOM's response status block.
type Status struct {
	Code  int    `json:"code"`
	Msg   string `json:"msg"`
	Total int    `json:"total"`
}

// RadiusQuery describes a snapshot search around a point.
type RadiusQuery struct {
	Latitude      float64
	Longitude     float64
	RadiusMiles   float64
	PageSize      int
	StartSaleDate *time.Time
	MinSaleAmount float64
	MaxSaleAmount float64
}
