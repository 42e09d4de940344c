package attom

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"
)

// stringNumber accepts string or number JSON and stores as string
type stringNumber string

func (s *stringNumber) UnmarshalJSON(b []byte) error {
	// empty/null -> empty string
	if string(b) == "null" {
		*s = ""
		return nil
	}
	// If already a quoted string
	if len(b) > 0 && b[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*s = stringNumber(strings.TrimSpace(str))
		return nil
	}
	// Try as number, keep textual form
	var num json.Number
	if err := json.Unmarshal(b, &num); err != nil {
		return err
	}
	*s = stringNumber(num.String())
	return nil
}

// Float returns the value, or false when empty or unparseable.
func (s stringNumber) Float() (float64, bool) {
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(string(s), ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// positiveFloat treats ATTOM's zero placeholders as absent.
func (s stringNumber) positiveFloat() *float64 {
	f, ok := s.Float()
	if !ok || f <= 0 {
		return nil
	}
	return &f
}

func (s stringNumber) positiveInt() *int {
	f, ok := s.Float()
	if !ok || f <= 0 {
		return nil
	}
	n := int(f)
	return &n
}

var dateLayouts = []string{"2006-01-02", "2006/01/02", time.RFC3339, "2006-01-02T15:04:05"}

func parseDate(v string) *time.Time {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return &t
		}
	}
	return nil
}

// MapProperties maps any ATTOM property-shaped payload (basicprofile,
// attomavm/detail, assessment/detail, property/snapshot, sale/snapshot) into
// PropertyRecords. An empty property array yields ErrNotFound.
func MapProperties(raw []byte) ([]PropertyRecord, error) {
	// ATTOM payload shape differs by product; map defensively.
	type aAddress struct {
		OneLine     string `json:"oneLine"`
		Line1       string `json:"line1"`
		Line2       string `json:"line2"`
		Locality    string `json:"locality"`
		CountrySubd string `json:"countrySubd"`
		Postal1     string `json:"postal1"`
	}
	type aLocation struct {
		Latitude  stringNumber `json:"latitude"`
		Longitude stringNumber `json:"longitude"`
	}
	type aSummary struct {
		PropType     string       `json:"proptype"`
		PropertyType string       `json:"propertyType"`
		PropClass    string       `json:"propclass"`
		PropSubType  string       `json:"propsubtype"`
		YearBuilt    stringNumber `json:"yearbuilt"`
	}
	type aBuilding struct {
		Size struct {
			Universal stringNumber `json:"universalsize"`
			Living    stringNumber `json:"livingsize"`
			Bldg      stringNumber `json:"bldgsize"`
		} `json:"size"`
		Rooms struct {
			Beds      stringNumber `json:"beds"`
			BathsTot  stringNumber `json:"bathstotal"`
			BathsFull stringNumber `json:"bathsfull"`
		} `json:"rooms"`
	}
	type aSale struct {
		TransDate string `json:"saleTransDate"`
		Amount    struct {
			SaleAmt       stringNumber `json:"saleamt"`
			SaleRecDate   string       `json:"salerecdate"`
			SaleDocType   string       `json:"saledoctype"`
			SaleTransType string       `json:"saletranstype"`
		} `json:"amount"`
	}
	type aLot struct {
		LotSize1 stringNumber `json:"lotsize1"`
	}
	type aOwner struct {
		Owner1 struct {
			FullName string `json:"fullname"`
		} `json:"owner1"`
	}
	type aAVM struct {
		EventDate string `json:"eventDate"`
		Amount    struct {
			Score stringNumber `json:"scr"`
			Value stringNumber `json:"value"`
			High  stringNumber `json:"high"`
			Low   stringNumber `json:"low"`
		} `json:"amount"`
	}
	type aProperty struct {
		Identifier struct {
			AttomID stringNumber `json:"attomId"`
			ID      stringNumber `json:"Id"`
		} `json:"identifier"`
		Address    aAddress           `json:"address"`
		Location   aLocation          `json:"location"`
		Summary    aSummary           `json:"summary"`
		Building   aBuilding          `json:"building"`
		Lot        aLot               `json:"lot"`
		Owner      aOwner             `json:"owner"`
		Sale       *aSale             `json:"sale"`
		Assessment *assessmentPayload `json:"assessment"`
		AVM        *aAVM              `json:"avm"`
	}

	var root struct {
		Property []aProperty `json:"property"`
	}
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, err
	}
	if len(root.Property) == 0 {
		return nil, ErrNotFound
	}

	out := make([]PropertyRecord, 0, len(root.Property))
	for _, p := range root.Property {
		lat, _ := p.Location.Latitude.Float()
		lon, _ := p.Location.Longitude.Float()
		rec := PropertyRecord{
			AttomID:      firstNonEmpty(string(p.Identifier.AttomID), string(p.Identifier.ID)),
			OneLine:      p.Address.OneLine,
			Line1:        p.Address.Line1,
			Line2:        p.Address.Line2,
			City:         p.Address.Locality,
			State:        p.Address.CountrySubd,
			Zip:          p.Address.Postal1,
			Latitude:     lat,
			Longitude:    lon,
			PropertyType: firstNonEmpty(p.Summary.PropertyType, p.Summary.PropType, p.Summary.PropClass),
			Bedrooms:     p.Building.Rooms.Beds.positiveInt(),
			Bathrooms:    firstFloat(p.Building.Rooms.BathsTot, p.Building.Rooms.BathsFull),
			Sqft:         firstInt(p.Building.Size.Universal, p.Building.Size.Living, p.Building.Size.Bldg),
			YearBuilt:    p.Summary.YearBuilt.positiveInt(),
			LotSizeAcres: p.Lot.LotSize1.positiveFloat(),
			Owner:        strings.TrimSpace(p.Owner.Owner1.FullName),
		}
		rec.PropertySubtype = p.Summary.PropSubType
		if rec.OneLine == "" && rec.Line1 != "" {
			rec.OneLine = strings.TrimSpace(rec.Line1 + ", " + rec.Line2)
		}
		if p.Sale != nil {
			rec.SaleAmount = p.Sale.Amount.SaleAmt.positiveFloat()
			rec.SaleDate = parseDate(firstNonEmpty(p.Sale.TransDate, p.Sale.Amount.SaleRecDate))
			rec.SaleDocType = p.Sale.Amount.SaleDocType
			rec.SaleTransType = p.Sale.Amount.SaleTransType
		}
		if p.Assessment != nil {
			rec.AssessedValue = firstFloat(p.Assessment.Assessed.Total, p.Assessment.Market.Total)
			if a, ok := p.Assessment.assessment(); ok {
				rec.Assessment = &a
			}
		}
		if p.AVM != nil {
			avm := &AVM{
				Value:     p.AVM.Amount.Value.positiveFloat(),
				Low:       p.AVM.Amount.Low.positiveFloat(),
				High:      p.AVM.Amount.High.positiveFloat(),
				Score:     p.AVM.Amount.Score.positiveFloat(),
				EventDate: parseDate(p.AVM.EventDate),
			}
			if avm.Value != nil || avm.Score != nil {
				rec.AVM = avm
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

// assessmentPayload is the assessment block shared by property payloads and
// each entry of assessmenthistory/detail.
type assessmentPayload struct {
	Assessed struct {
		Total       stringNumber `json:"assdttlvalue"`
		Land        stringNumber `json:"assdlandvalue"`
		Improvement stringNumber `json:"assdimprvalue"`
	} `json:"assessed"`
	Market struct {
		Total stringNumber `json:"mktttlvalue"`
	} `json:"market"`
	Appraised struct {
		Total stringNumber `json:"apprttlvalue"`
	} `json:"appraised"`
	Tax struct {
		Amount       stringNumber `json:"taxamt"`
		Year         stringNumber `json:"taxyear"`
		AssessorYear stringNumber `json:"assessoryear"`
	} `json:"tax"`
	Year           stringNumber `json:"assessmentyear"`
	AssessmentDate string       `json:"assessmentdate"`
	EffectiveDate  string       `json:"effectivedate"`
}

func (a assessmentPayload) assessment() (Assessment, bool) {
	out := Assessment{
		TaxYear:         firstInt(a.Tax.Year, a.Tax.AssessorYear, a.Year),
		AssessedTotal:   a.Assessed.Total.positiveFloat(),
		AssessedLand:    a.Assessed.Land.positiveFloat(),
		AssessedImprove: a.Assessed.Improvement.positiveFloat(),
		MarketTotal:     a.Market.Total.positiveFloat(),
		AppraisedTotal:  a.Appraised.Total.positiveFloat(),
		TaxAmount:       a.Tax.Amount.positiveFloat(),
		AssessmentDate:  parseDate(a.AssessmentDate),
		EffectiveDate:   parseDate(a.EffectiveDate),
	}
	ok := out.AssessedTotal != nil || out.MarketTotal != nil || out.AppraisedTotal != nil || out.TaxAmount != nil
	return out, ok
}

// assessmentList accepts a single object or an array.
type assessmentList []assessmentPayload

func (l *assessmentList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '{' {
		var one assessmentPayload
		if err := json.Unmarshal(b, &one); err != nil {
			return err
		}
		*l = assessmentList{one}
		return nil
	}
	var many []assessmentPayload
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*l = many
	return nil
}

// MapAssessmentHistory maps assessmenthistory/detail. Years without any
// value are dropped; the rest are ordered newest first, undated last.
func MapAssessmentHistory(raw []byte) (AssessmentHistory, error) {
	recs, err := MapProperties(raw)
	if err != nil {
		return AssessmentHistory{}, err
	}
	var root struct {
		Property []struct {
			History assessmentList `json:"assessmenthistory"`
		} `json:"property"`
	}
	if err := json.Unmarshal(raw, &root); err != nil {
		return AssessmentHistory{}, err
	}

	out := AssessmentHistory{Property: recs[0], Assessments: []Assessment{}}
	for _, p := range root.Property[0].History {
		if a, ok := p.assessment(); ok {
			out.Assessments = append(out.Assessments, a)
		}
	}
	sort.SliceStable(out.Assessments, func(i, j int) bool {
		yi, yj := out.Assessments[i].TaxYear, out.Assessments[j].TaxYear
		if yi == nil || yj == nil {
			return yi != nil
		}
		return *yi > *yj
	})
	return out, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstFloat(vals ...stringNumber) *float64 {
	for _, v := range vals {
		if f := v.positiveFloat(); f != nil {
			return f
		}
	}
	return nil
}

func firstInt(vals ...stringNumber) *int {
	for _, v := range vals {
		if n := v.positiveInt(); n != nil {
			return n
		}
	}
	return nil
}
