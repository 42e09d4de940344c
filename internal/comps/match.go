package comps

import (
	"math"
	"strings"
)

// Matches reports whether candidate is a comparable for subject under criteria.
// Rules are checked cheapest first and all must hold.
func Matches(c CandidateProperty, s SubjectProperty, cr MatchCriteria) bool {
	// 1. bedrooms are a hard gate
	if c.Bedrooms == nil || *c.Bedrooms != cr.ExactBedrooms {
		return false
	}

	// 2. bathrooms, only constrained when the subject has bathroom data
	if cr.ExactBathrooms != nil && s.Bathrooms != nil {
		if c.Bathrooms == nil || *c.Bathrooms != *cr.ExactBathrooms {
			return false
		}
	}

	// 3. recent sale
	if cr.SaleAfterDate != nil {
		if c.SaleDate == nil || c.SaleDate.Before(*cr.SaleAfterDate) {
			return false
		}
	}

	// 4. living area
	if cr.SquareFootageTolerancePercent != nil && s.SquareFootage != nil && *s.SquareFootage > 0 {
		if c.SquareFootage == nil {
			return false
		}
		diff := math.Abs(float64(*c.SquareFootage - *s.SquareFootage))
		if diff/float64(*s.SquareFootage) > *cr.SquareFootageTolerancePercent {
			return false
		}
	}

	// 5. value band around the subject AVM
	if cr.PriceBandPercent != nil && s.AVMValue != nil && *s.AVMValue > 0 {
		v := candidateValue(c)
		if v == nil {
			return false
		}
		lo := *s.AVMValue * (1 - *cr.PriceBandPercent)
		hi := *s.AVMValue * (1 + *cr.PriceBandPercent)
		if *v < lo || *v > hi {
			return false
		}
	}

	// 6. property type category
	if cr.PropertyTypeMustMatch {
		if c.PropertyType == nil || s.PropertyType == nil {
			return false
		}
		ct, st := NormalizePropertyType(*c.PropertyType), NormalizePropertyType(*s.PropertyType)
		if ct == "" || ct != st {
			return false
		}
	}
	return true
}

// Filter keeps the candidates that match, dropping the subject itself.
func Filter(cands []CandidateProperty, s SubjectProperty, cr MatchCriteria) []CandidateProperty {
	out := make([]CandidateProperty, 0, len(cands))
	for _, c := range cands {
		if s.Key != "" && c.Key() == s.Key {
			continue
		}
		if Matches(c, s, cr) {
			out = append(out, c)
		}
	}
	return out
}

// candidateValue is the value compared against the price band: the AVM on
// the record, else the last sale price.
func candidateValue(c CandidateProperty) *float64 {
	if c.AVMValue != nil && *c.AVMValue > 0 {
		return c.AVMValue
	}
	if c.SalePrice != nil && *c.SalePrice > 0 {
		return c.SalePrice
	}
	return nil
}

// NormalizePropertyType folds provider property-type spellings into a small
// set of categories. Unknown types are returned lower-cased.
func NormalizePropertyType(t string) string {
	s := strings.Join(strings.Fields(strings.ToLower(t)), " ")
	switch {
	case s == "":
		return ""
	case s == "sfr", strings.Contains(s, "single family"), strings.Contains(s, "single-family"):
		return "single family"
	case strings.Contains(s, "condo"):
		return "condo"
	case strings.Contains(s, "townho"), strings.Contains(s, "row house"):
		return "townhouse"
	case strings.Contains(s, "duplex"), strings.Contains(s, "triplex"), strings.Contains(s, "quadruplex"),
		strings.Contains(s, "multi"), strings.Contains(s, "apartment"):
		return "multi family"
	case strings.Contains(s, "mobile"), strings.Contains(s, "manufactured"):
		return "mobile home"
	case strings.Contains(s, "vacant"), s == "land", strings.Contains(s, "lot"):
		return "land"
	}
	return s
}
