package outbreak

import (
	"github.com/opensource-health/kestrel/internal/domain"
	"github.com/opensource-health/kestrel/internal/geo"
)

// SpreadClassifier characterises how the positives of a period are spread.
type SpreadClassifier interface {
	Classify(current []domain.SampleRecord) domain.OutbreakType
}

// ShapeClassifier decides the outbreak type from where and over how long
// the current positives occurred:
//
//	NONE          no positives
//	POINT_SOURCE  positives concentrated (one location holds PointShare of
//	              them, or all lie within PointRadiusKm of their centroid)
//	              and spanning at most PointMaxDays
//	PROPAGATED    positives at PropagatedMinLocations or more locations
//	              spanning more than PropagatedMinDays
//	MIXED         anything else
type ShapeClassifier struct {
	PointShare             float64
	PointRadiusKm          float64
	PointMaxDays           float64
	PropagatedMinLocations int
	PropagatedMinDays      float64
}

// NewShapeClassifier returns a classifier with the standard boundaries.
func NewShapeClassifier() *ShapeClassifier {
	return &ShapeClassifier{
		PointShare:             0.7,
		PointRadiusKm:          2,
		PointMaxDays:           7,
		PropagatedMinLocations: 3,
		PropagatedMinDays:      14,
	}
}

func (c *ShapeClassifier) Classify(current []domain.SampleRecord) domain.OutbreakType {
	perLocation := make(map[string]int)
	var positives []domain.SampleRecord
	for _, s := range current {
		if s.IsPositive() {
			perLocation[s.LocationID]++
			positives = append(positives, s)
		}
	}
	if len(positives) == 0 {
		return domain.OutbreakNone
	}

	first, last := positives[0].CollectedAt, positives[0].CollectedAt
	coords := make([]domain.Coordinate, len(positives))
	for i, s := range positives {
		coords[i] = s.Coordinate()
		if s.CollectedAt.Before(first) {
			first = s.CollectedAt
		}
		if s.CollectedAt.After(last) {
			last = s.CollectedAt
		}
	}
	spanDays := last.Sub(first).Hours() / 24

	dominant := 0
	for _, n := range perLocation {
		dominant = max(dominant, n)
	}
	concentrated := float64(dominant)/float64(len(positives)) >= c.PointShare ||
		geo.MaxDistanceKm(geo.Centroid(coords), coords) <= c.PointRadiusKm

	switch {
	case concentrated && spanDays <= c.PointMaxDays:
		return domain.OutbreakPointSource
	case len(perLocation) >= c.PropagatedMinLocations && spanDays > c.PropagatedMinDays:
		return domain.OutbreakPropagated
	}
	return domain.OutbreakMixed
}
