package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// RiskLevel is the tiered risk of a cluster.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskModerate RiskLevel = "MODERATE"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// Rank orders risk levels from 0 (LOW) to 3 (CRITICAL).
func (r RiskLevel) Rank() int {
	switch r {
	case RiskModerate:
		return 1
	case RiskHigh:
		return 2
	case RiskCritical:
		return 3
	}
	return 0
}

// AtLeast reports whether r is as severe as other.
func (r RiskLevel) AtLeast(other RiskLevel) bool {
	return r.Rank() >= other.Rank()
}

// ClusterAlgorithm selects the grouping strategy.
type ClusterAlgorithm string

const (
	// AlgorithmGreedy groups around seeds in input order. Membership depends
	// on the order of the input; callers should pass canonically sorted samples.
	AlgorithmGreedy ClusterAlgorithm = "greedy"

	// AlgorithmConnected groups connected components of the proximity graph.
	// Membership does not depend on input order.
	AlgorithmConnected ClusterAlgorithm = "connected"
)

// ClusterParams are the per-call clustering thresholds. A field left unset
// takes its default; an explicit zero, from JSON or a With* setter, is kept.
type ClusterParams struct {
	SpatialRadiusKm    float64          `json:"spatialRadiusKm"`
	TemporalWindowDays float64          `json:"temporalWindowDays"`
	MinSampleSize      int              `json:"minSampleSize"`
	MinPositiveRate    float64          `json:"minPositiveRate"`
	Algorithm          ClusterAlgorithm `json:"algorithm,omitempty"`

	set paramSet
}

// paramSet marks which numeric thresholds were given explicitly.
type paramSet uint8

const (
	setRadius paramSet = 1 << iota
	setWindow
	setMinSize
	setMinRate

	setAll = setRadius | setWindow | setMinSize | setMinRate
)

// DefaultClusterParams returns the standard surveillance thresholds.
func DefaultClusterParams() ClusterParams {
	return ClusterParams{
		SpatialRadiusKm:    5,
		TemporalWindowDays: 14,
		MinSampleSize:      5,
		MinPositiveRate:    0.05,
		Algorithm:          AlgorithmGreedy,
		set:                setAll,
	}
}

// WithSpatialRadiusKm sets the radius, zero included.
func (p ClusterParams) WithSpatialRadiusKm(km float64) ClusterParams {
	p.SpatialRadiusKm, p.set = km, p.set|setRadius
	return p
}

// WithTemporalWindowDays sets the window, zero included.
func (p ClusterParams) WithTemporalWindowDays(days float64) ClusterParams {
	p.TemporalWindowDays, p.set = days, p.set|setWindow
	return p
}

// WithMinSampleSize sets the minimum group size, zero included.
func (p ClusterParams) WithMinSampleSize(n int) ClusterParams {
	p.MinSampleSize, p.set = n, p.set|setMinSize
	return p
}

// WithMinPositiveRate sets the minimum positivity, zero included.
func (p ClusterParams) WithMinPositiveRate(rate float64) ClusterParams {
	p.MinPositiveRate, p.set = rate, p.set|setMinRate
	return p
}

// WithDefaults fills unset zero fields from DefaultClusterParams. The
// result is fully resolved, so applying it twice changes nothing.
func (p ClusterParams) WithDefaults() ClusterParams {
	def := DefaultClusterParams()
	if p.SpatialRadiusKm == 0 && p.set&setRadius == 0 {
		p.SpatialRadiusKm = def.SpatialRadiusKm
	}
	if p.TemporalWindowDays == 0 && p.set&setWindow == 0 {
		p.TemporalWindowDays = def.TemporalWindowDays
	}
	if p.MinSampleSize == 0 && p.set&setMinSize == 0 {
		p.MinSampleSize = def.MinSampleSize
	}
	if p.MinPositiveRate == 0 && p.set&setMinRate == 0 {
		p.MinPositiveRate = def.MinPositiveRate
	}
	if p.Algorithm == "" {
		p.Algorithm = def.Algorithm
	}
	p.set = setAll
	return p
}

// UnmarshalJSON records which thresholds are present so that an explicit
// 0 is not mistaken for an omitted field. null counts as omitted.
func (p *ClusterParams) UnmarshalJSON(data []byte) error {
	var raw struct {
		SpatialRadiusKm    *float64         `json:"spatialRadiusKm"`
		TemporalWindowDays *float64         `json:"temporalWindowDays"`
		MinSampleSize      *int             `json:"minSampleSize"`
		MinPositiveRate    *float64         `json:"minPositiveRate"`
		Algorithm          ClusterAlgorithm `json:"algorithm"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := ClusterParams{Algorithm: raw.Algorithm}
	if raw.SpatialRadiusKm != nil {
		out = out.WithSpatialRadiusKm(*raw.SpatialRadiusKm)
	}
	if raw.TemporalWindowDays != nil {
		out = out.WithTemporalWindowDays(*raw.TemporalWindowDays)
	}
	if raw.MinSampleSize != nil {
		out = out.WithMinSampleSize(*raw.MinSampleSize)
	}
	if raw.MinPositiveRate != nil {
		out = out.WithMinPositiveRate(*raw.MinPositiveRate)
	}
	*p = out
	return nil
}

// Validate rejects negative, non-finite or unknown settings.
func (p ClusterParams) Validate() error {
	finite := func(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
	switch {
	case !finite(p.SpatialRadiusKm) || p.SpatialRadiusKm < 0:
		return fmt.Errorf("%w: spatialRadiusKm must be a non-negative number", ErrInvalidInput)
	case !finite(p.TemporalWindowDays) || p.TemporalWindowDays < 0:
		return fmt.Errorf("%w: temporalWindowDays must be a non-negative number", ErrInvalidInput)
	case p.MinSampleSize < 0:
		return fmt.Errorf("%w: minSampleSize must not be negative", ErrInvalidInput)
	case !finite(p.MinPositiveRate) || p.MinPositiveRate < 0 || p.MinPositiveRate > 1:
		return fmt.Errorf("%w: minPositiveRate must be within [0,1]", ErrInvalidInput)
	}
	switch p.Algorithm {
	case "", AlgorithmGreedy, AlgorithmConnected:
	default:
		return fmt.Errorf("%w: unknown clustering algorithm %q", ErrInvalidInput, p.Algorithm)
	}
	return nil
}

// TimeRange spans a cluster's collection dates.
type TimeRange struct {
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	PeakDate time.Time `json:"peakDate"`
}

// Days returns the span of the range in fractional days.
func (r TimeRange) Days() float64 {
	return r.End.Sub(r.Start).Hours() / 24
}

// Cluster is one spatial-temporal group of samples.
// Values are built once per analysis and never mutated.
type Cluster struct {
	ID                  string        `json:"id"`
	Centroid            Coordinate    `json:"centroid"`
	RadiusKm            float64       `json:"radiusKm"`
	TimeRange           TimeRange     `json:"timeRange"`
	SeedID              string        `json:"seedId"`
	MemberIDs           []string      `json:"memberIds"`
	LocationIDs         []string      `json:"locationIds"`
	EstimatedPopulation *int          `json:"estimatedPopulation,omitempty"`
	PositiveCount       int           `json:"positiveCount"`
	TotalCount          int           `json:"totalCount"`
	PositivityRate      float64       `json:"positivityRate"`
	RiskLevel           RiskLevel     `json:"riskLevel"`
	GrowthRate          float64       `json:"growthRate"`
	Confidence          float64       `json:"confidence"`
	Params              ClusterParams `json:"params"`
}
