package domain

import "time"

// HeatmapMetric selects what a heatmap point's intensity measures.
type HeatmapMetric string

const (
	MetricPositivityRate HeatmapMetric = "positivity_rate"
	MetricSampleDensity  HeatmapMetric = "sample_density"
	MetricRiskScore      HeatmapMetric = "risk_score"
)

// HeatmapResolution scales the visual radius of points.
type HeatmapResolution string

const (
	ResolutionLow    HeatmapResolution = "low"
	ResolutionMedium HeatmapResolution = "medium"
	ResolutionHigh   HeatmapResolution = "high"
)

// HeatmapPointMetadata carries the per-location statistics behind a point.
type HeatmapPointMetadata struct {
	LocationID       string     `json:"locationId"`
	PositivityRate   float64    `json:"positivityRate"`
	SampleCount      int        `json:"sampleCount"`
	LastPositiveDate *time.Time `json:"lastPositiveDate,omitempty"`
}

// HeatmapPoint is one rendered location.
type HeatmapPoint struct {
	Location  Coordinate           `json:"location"`
	Intensity float64              `json:"intensity"`
	Radius    float64              `json:"radius"`
	Metadata  HeatmapPointMetadata `json:"metadata"`
}

// Bounds is a lat/lon bounding box.
type Bounds struct {
	North float64 `json:"north"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	West  float64 `json:"west"`
}

// Contains reports whether c lies inside the box, edges included.
func (b Bounds) Contains(c Coordinate) bool {
	return c.Latitude >= b.South && c.Latitude <= b.North &&
		c.Longitude >= b.West && c.Longitude <= b.East
}

// Legend describes the intensity scale.
type Legend struct {
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
	Unit        string  `json:"unit"`
	Description string  `json:"description"`
}

// HeatmapResult is a renderable intensity map.
type HeatmapResult struct {
	Metric     HeatmapMetric     `json:"metric"`
	Resolution HeatmapResolution `json:"resolution"`
	Points     []HeatmapPoint    `json:"points"`
	Bounds     Bounds            `json:"bounds"`
	Legend     Legend            `json:"legend"`
	Reason     string            `json:"reason,omitempty"`
}
