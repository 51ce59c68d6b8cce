// Package heatmap aggregates per-location sample statistics into intensity maps.
package heatmap

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/opensource-health/kestrel/internal/domain"
	"github.com/opensource-health/kestrel/internal/geo"
)

// BoundsPadding is added around the outermost points, in degrees.
const BoundsPadding = 0.01

const (
	recencyHorizonDays = 30.0
	fullSizeSamples    = 20.0
	densityPerSample   = 2.0
	radiusSaturation   = 50.0
)

var baseRadius = map[domain.HeatmapResolution]float64{
	domain.ResolutionLow:    8,
	domain.ResolutionMedium: 12,
	domain.ResolutionHigh:   16,
}

var legends = map[domain.HeatmapMetric]domain.Legend{
	domain.MetricPositivityRate: {Unit: "%", Description: "Share of samples testing positive at each location"},
	domain.MetricSampleDensity:  {Unit: "index", Description: "Sample volume per location (2 points per sample, capped at 100)"},
	domain.MetricRiskScore:      {Unit: "score", Description: "Composite of positivity, recency of the last positive and sample volume (0-100)"},
}

// GroupByLocation buckets samples by locationId.
func GroupByLocation(samples []domain.SampleRecord) map[string][]domain.SampleRecord {
	out := make(map[string][]domain.SampleRecord)
	for _, s := range samples {
		out[s.LocationID] = append(out[s.LocationID], s)
	}
	return out
}

// Build renders one point per location, ordered by locationId. An empty
// resolution means medium. A zero asOf is replaced by the latest collection
// time in the input so recency never depends on the wall clock.
func Build(byLocation map[string][]domain.SampleRecord, metric domain.HeatmapMetric, resolution domain.HeatmapResolution, asOf time.Time) (domain.HeatmapResult, error) {
	legend, ok := legends[metric]
	if !ok {
		return domain.HeatmapResult{}, fmt.Errorf("%w: unknown heatmap metric %q", domain.ErrInvalidInput, metric)
	}
	if resolution == "" {
		resolution = domain.ResolutionMedium
	}
	base, ok := baseRadius[resolution]
	if !ok {
		return domain.HeatmapResult{}, fmt.Errorf("%w: unknown heatmap resolution %q", domain.ErrInvalidInput, resolution)
	}

	ids := make([]string, 0, len(byLocation))
	var latest time.Time
	var coords []domain.Coordinate
	for id, samples := range byLocation {
		for i := range samples {
			if !samples[i].Coordinate().Valid() {
				return domain.HeatmapResult{}, fmt.Errorf("%w: sample %s has invalid coordinate", domain.ErrInvalidInput, samples[i].ID)
			}
			if samples[i].CollectedAt.After(latest) {
				latest = samples[i].CollectedAt
			}
			coords = append(coords, samples[i].Coordinate())
		}
		if len(samples) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if asOf.IsZero() {
		asOf = latest
	}

	result := domain.HeatmapResult{
		Metric:     metric,
		Resolution: resolution,
		Points:     make([]domain.HeatmapPoint, 0, len(ids)),
		Legend:     legend,
	}
	if len(ids) == 0 {
		result.Reason = "no samples in scope"
		return result, nil
	}

	for _, id := range ids {
		result.Points = append(result.Points, point(id, byLocation[id], metric, base, asOf))
	}
	result.Bounds = bounds(coords)
	result.Legend.Min, result.Legend.Max = result.Points[0].Intensity, result.Points[0].Intensity
	for _, p := range result.Points[1:] {
		result.Legend.Min = math.Min(result.Legend.Min, p.Intensity)
		result.Legend.Max = math.Max(result.Legend.Max, p.Intensity)
	}
	return result, nil
}

func point(id string, samples []domain.SampleRecord, metric domain.HeatmapMetric, base float64, asOf time.Time) domain.HeatmapPoint {
	pts := make([]domain.Coordinate, len(samples))
	var lastPositive *time.Time
	for i, s := range samples {
		pts[i] = s.Coordinate()
		if s.IsPositive() && (lastPositive == nil || s.CollectedAt.After(*lastPositive)) {
			at := s.CollectedAt
			lastPositive = &at
		}
	}
	count := float64(len(samples))
	rate := domain.PositivityRate(samples)

	p := domain.HeatmapPoint{
		Location: geo.Centroid(pts),
		Radius:   base,
		Metadata: domain.HeatmapPointMetadata{
			LocationID:       id,
			PositivityRate:   rate,
			SampleCount:      len(samples),
			LastPositiveDate: lastPositive,
		},
	}

	switch metric {
	case domain.MetricPositivityRate:
		p.Intensity = rate * 100
		p.Radius = base * (1 + math.Min(count, radiusSaturation)/radiusSaturation)
	case domain.MetricSampleDensity:
		p.Intensity = math.Min(100, count*densityPerSample)
	case domain.MetricRiskScore:
		p.Intensity = (rate*0.6 + Recency(lastPositive, asOf)*0.3 + math.Min(1, count/fullSizeSamples)*0.1) * 100
	}
	return p
}

// Recency decays from 1 on the day of the last positive to 0 after 30 days.
// A location with no positive scores 0.
func Recency(lastPositive *time.Time, asOf time.Time) float64 {
	if lastPositive == nil {
		return 0
	}
	days := asOf.Sub(*lastPositive).Hours() / 24
	return math.Max(0, math.Min(1, 1-days/recencyHorizonDays))
}

// bounds pads the box around every sample, which also encloses the
// per-location centroids.
func bounds(coords []domain.Coordinate) domain.Bounds {
	b := domain.Bounds{
		North: math.Inf(-1), South: math.Inf(1),
		East: math.Inf(-1), West: math.Inf(1),
	}
	for _, c := range coords {
		b.North = math.Max(b.North, c.Latitude)
		b.South = math.Min(b.South, c.Latitude)
		b.East = math.Max(b.East, c.Longitude)
		b.West = math.Min(b.West, c.Longitude)
	}
	b.North += BoundsPadding
	b.South -= BoundsPadding
	b.East += BoundsPadding
	b.West -= BoundsPadding
	return b
}
