// Package risk scores sample groups: positivity, tier, growth and confidence.
package risk

import (
	"math"

	"github.com/opensource-health/kestrel/internal/domain"
	"github.com/opensource-health/kestrel/internal/geo"
)

// Tier thresholds, evaluated top-down. Both the rate and the absolute
// positive count must clear a tier.
var tiers = []struct {
	level        domain.RiskLevel
	minRate      float64
	minPositives int
}{
	{domain.RiskCritical, 0.15, 5},
	{domain.RiskHigh, 0.10, 3},
	{domain.RiskModerate, 0.05, 2},
}

// Confidence weights and scales.
const (
	sizeWeight        = 0.4
	rateWeight        = 0.4
	consistencyWeight = 0.2

	fullSizeSamples      = 20.0
	rateSaturation       = 5.0
	consistencyHorizonKm = 10.0
)

// Assessment is the risk profile of one group of samples.
type Assessment struct {
	PositiveCount  int              `json:"positiveCount"`
	TotalCount     int              `json:"totalCount"`
	PositivityRate float64          `json:"positivityRate"`
	RiskLevel      domain.RiskLevel `json:"riskLevel"`
	GrowthRate     float64          `json:"growthRate"`
	Confidence     float64          `json:"confidence"`
}

// Classify scores a cluster's members. An empty group is LOW with zeroed scores.
func Classify(members []domain.SampleRecord) Assessment {
	if len(members) == 0 {
		return Assessment{RiskLevel: domain.RiskLow}
	}
	positives := domain.CountPositives(members)
	rate := float64(positives) / float64(len(members))
	return Assessment{
		PositiveCount:  positives,
		TotalCount:     len(members),
		PositivityRate: rate,
		RiskLevel:      Level(rate, positives),
		GrowthRate:     GrowthRate(members),
		Confidence:     Confidence(members, rate),
	}
}

// Level maps a positivity rate and positive count onto the risk tiers.
func Level(rate float64, positives int) domain.RiskLevel {
	for _, t := range tiers {
		if rate >= t.minRate && positives >= t.minPositives {
			return t.level
		}
	}
	return domain.RiskLow
}

// RateLevel tiers a rate alone, for series with no meaningful counts.
func RateLevel(rate float64) domain.RiskLevel {
	for _, t := range tiers {
		if rate >= t.minRate {
			return t.level
		}
	}
	return domain.RiskLow
}

// GrowthRate compares positivity of the later half of the members, in
// collection order, to the earlier half. The result is 0 when the earlier
// half has no positives or there are fewer than two members.
func GrowthRate(members []domain.SampleRecord) float64 {
	if len(members) < 2 {
		return 0
	}
	sorted := make([]domain.SampleRecord, len(members))
	copy(sorted, members)
	domain.SortCanonical(sorted)

	mid := len(sorted) / 2
	firstRate := domain.PositivityRate(sorted[:mid])
	secondRate := domain.PositivityRate(sorted[mid:])
	if firstRate <= 0 {
		return 0
	}
	return (secondRate - firstRate) / firstRate
}

// SpatialConsistency is 1 for co-located members, falling linearly to 0
// once the mean pairwise distance reaches 10 km.
func SpatialConsistency(members []domain.SampleRecord) float64 {
	pts := make([]domain.Coordinate, len(members))
	for i := range members {
		pts[i] = members[i].Coordinate()
	}
	return math.Max(0, 1-geo.MeanPairwiseKm(pts)/consistencyHorizonKm)
}

// Confidence blends group size, positivity and spatial consistency into 0..100.
func Confidence(members []domain.SampleRecord, rate float64) float64 {
	if len(members) == 0 {
		return 0
	}
	score := sizeWeight*math.Min(1, float64(len(members))/fullSizeSamples) +
		rateWeight*math.Min(1, rate*rateSaturation) +
		consistencyWeight*SpatialConsistency(members)
	return math.Max(0, math.Min(100, score*100))
}
