package comps

import (
	"math"
	"sort"
)

// ValueSummary describes one set of dollar values.
type ValueSummary struct {
	Count  int     `json:"count"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	StdDev float64 `json:"std_dev"`
}

type ConfidenceSummary struct {
	Count int     `json:"count"`
	Mean  float64 `json:"mean"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

type ComparisonStatistics struct {
	TotalCount          int                `json:"total_count"`
	EnrichedCount       int                `json:"enriched_count"`
	AVM                 *ValueSummary      `json:"avm,omitempty"`
	Assessed            *ValueSummary      `json:"assessed,omitempty"`
	SalePrice           *ValueSummary      `json:"sale_price,omitempty"`
	Confidence          *ConfidenceSummary `json:"confidence,omitempty"`
	AverageDelta        *float64           `json:"average_delta,omitempty"`
	AveragePercentDelta *float64           `json:"average_percent_delta,omitempty"`
	AVMHigherCount      int                `json:"avm_higher_count"`
	AVMLowerCount       int                `json:"avm_lower_count"`
}

// Aggregate computes descriptive statistics over the enriched candidates.
// It returns nil when no candidate carries an AVM or assessed value.
func Aggregate(cands []EnrichedCandidate) *ComparisonStatistics {
	var avms, assessed, conf, deltas, pcts []float64
	stats := &ComparisonStatistics{TotalCount: len(cands)}

	for _, c := range cands {
		en := c.Enrichment
		if en == nil {
			continue
		}
		stats.EnrichedCount++
		if en.AVMValue != nil {
			avms = append(avms, *en.AVMValue)
		}
		if en.AssessedValue != nil {
			assessed = append(assessed, *en.AssessedValue)
		}
		if en.ConfidenceScore != nil {
			conf = append(conf, *en.ConfidenceScore)
		}
		if en.AVMValue != nil && en.AssessedValue != nil {
			d := *en.AVMValue - *en.AssessedValue
			deltas = append(deltas, d)
			switch {
			case d > 0:
				stats.AVMHigherCount++
			case d < 0:
				stats.AVMLowerCount++
			}
			if *en.AssessedValue != 0 {
				pcts = append(pcts, d / *en.AssessedValue * 100)
			}
		}
	}

	if len(avms) == 0 && len(assessed) == 0 {
		return nil
	}
	stats.AVM = summarize(avms)
	stats.Assessed = summarize(assessed)
	if len(conf) > 0 {
		s := summarize(conf)
		stats.Confidence = &ConfidenceSummary{Count: s.Count, Mean: s.Mean, Min: s.Min, Max: s.Max}
	}
	if len(deltas) > 0 {
		stats.AverageDelta = ptr(mean(deltas))
	}
	if len(pcts) > 0 {
		stats.AveragePercentDelta = ptr(mean(pcts))
	}
	return stats
}

// SaleStatistics summarizes the sale prices of sales comparables. It returns
// nil when none of them carries a price.
func SaleStatistics(cands []EnrichedCandidate) *ComparisonStatistics {
	var prices []float64
	for _, c := range cands {
		if c.SalePrice != nil {
			prices = append(prices, *c.SalePrice)
		}
	}
	if len(prices) == 0 {
		return nil
	}
	return &ComparisonStatistics{TotalCount: len(cands), SalePrice: summarize(prices)}
}

func summarize(vals []float64) *ValueSummary {
	if len(vals) == 0 {
		return nil
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)

	s := &ValueSummary{
		Count: len(sorted),
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		Mean:  mean(sorted),
	}
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		s.Median = (sorted[mid-1] + sorted[mid]) / 2
	} else {
		s.Median = sorted[mid]
	}
	if len(sorted) > 1 {
		var ss float64
		for _, v := range sorted {
			ss += (v - s.Mean) * (v - s.Mean)
		}
		s.StdDev = math.Sqrt(ss / float64(len(sorted)-1))
	}
	return s
}

func mean(vals []float64) float64 {
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}
