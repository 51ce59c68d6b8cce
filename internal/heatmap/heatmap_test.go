package heatmap

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/opensource-health/kestrel/internal/domain"
)

var asOf = time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

func location(id string, lat, lon float64, n, positives int, lastPositiveDaysAgo float64) []domain.SampleRecord {
	out := make([]domain.SampleRecord, n)
	for i := range out {
		out[i] = domain.SampleRecord{
			ID:          fmt.Sprintf("%s-%02d", id, i),
			Latitude:    lat,
			Longitude:   lon,
			CollectedAt: asOf.Add(-time.Duration(40+i) * 24 * time.Hour),
			Result:      domain.ResultNegative,
			LocationID:  id,
		}
		if i < positives {
			out[i].Result = domain.ResultPositive
			out[i].CollectedAt = asOf.Add(-time.Duration(lastPositiveDaysAgo*24) * time.Hour)
		}
	}
	return out
}

func TestBuildScenarioC(t *testing.T) {
	byLoc := map[string][]domain.SampleRecord{"trap-1": location("trap-1", 33.4, -112, 50, 0, 0)}
	res, err := Build(byLoc, domain.MetricSampleDensity, domain.ResolutionMedium, asOf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Points) != 1 || res.Points[0].Intensity != 100 {
		t.Fatalf("expected a single point of intensity 100, got %+v", res.Points)
	}
	if res.Points[0].Radius != 12 {
		t.Errorf("expected medium radius 12, got %v", res.Points[0].Radius)
	}
}

func TestBuildScenarioD(t *testing.T) {
	byLoc := map[string][]domain.SampleRecord{"trap-1": location("trap-1", 33.4, -112, 10, 0, 0)}

	pos, err := Build(byLoc, domain.MetricPositivityRate, "", asOf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pos.Points[0].Intensity != 0 {
		t.Errorf("expected positivity intensity 0, got %v", pos.Points[0].Intensity)
	}
	if pos.Points[0].Metadata.LastPositiveDate != nil {
		t.Error("expected no last positive date")
	}

	risk, err := Build(byLoc, domain.MetricRiskScore, "", asOf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// rate 0, recency 0, sizeFactor 10/20
	if got := risk.Points[0].Intensity; math.Abs(got-5) > 1e-9 {
		t.Errorf("expected risk intensity 5, got %v", got)
	}
}

func TestBuildRiskScore(t *testing.T) {
	byLoc := map[string][]domain.SampleRecord{"trap-1": location("trap-1", 33.4, -112, 20, 4, 15)}
	res, err := Build(byLoc, domain.MetricRiskScore, domain.ResolutionHigh, asOf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 0.2*0.6 + 0.5*0.3 + 1*0.1
	if got := res.Points[0].Intensity; math.Abs(got-37) > 1e-9 {
		t.Errorf("expected 37, got %v", got)
	}
	if res.Points[0].Radius != 16 {
		t.Errorf("expected high radius 16, got %v", res.Points[0].Radius)
	}
}

func TestBuildPositivityRadius(t *testing.T) {
	byLoc := map[string][]domain.SampleRecord{
		"small": location("small", 33.4, -112, 5, 1, 1),
		"large": location("large", 33.5, -112.1, 80, 8, 1),
	}
	res, err := Build(byLoc, domain.MetricPositivityRate, domain.ResolutionLow, asOf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Points[0].Metadata.LocationID != "large" || res.Points[1].Metadata.LocationID != "small" {
		t.Fatalf("expected points sorted by location id, got %s, %s",
			res.Points[0].Metadata.LocationID, res.Points[1].Metadata.LocationID)
	}
	if res.Points[0].Radius != 16 {
		t.Errorf("expected saturated radius 16, got %v", res.Points[0].Radius)
	}
	if res.Points[1].Radius <= 8 || res.Points[1].Radius >= res.Points[0].Radius {
		t.Errorf("expected small radius between 8 and 16, got %v", res.Points[1].Radius)
	}
	if res.Legend.Min != 10 || res.Legend.Max != 20 {
		t.Errorf("expected legend 10..20, got %v..%v", res.Legend.Min, res.Legend.Max)
	}
	if res.Legend.Unit != "%" {
		t.Errorf("expected unit %%, got %q", res.Legend.Unit)
	}
}

func TestBuildBounds(t *testing.T) {
	byLoc := map[string][]domain.SampleRecord{
		"a": location("a", 10, 20, 3, 0, 0),
		"b": location("b", 12, 18, 3, 0, 0),
	}
	byLoc["a"][1].Latitude = 10.2
	res, err := Build(byLoc, domain.MetricSampleDensity, "", asOf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := domain.Bounds{North: 12.01, South: 9.99, East: 20.01, West: 17.99}
	if math.Abs(res.Bounds.North-want.North) > 1e-9 || math.Abs(res.Bounds.South-want.South) > 1e-9 ||
		math.Abs(res.Bounds.East-want.East) > 1e-9 || math.Abs(res.Bounds.West-want.West) > 1e-9 {
		t.Errorf("expected %+v, got %+v", want, res.Bounds)
	}
	for _, samples := range byLoc {
		for _, s := range samples {
			if !res.Bounds.Contains(s.Coordinate()) {
				t.Errorf("bounds do not enclose sample %s", s.ID)
			}
		}
	}
	for _, p := range res.Points {
		if !res.Bounds.Contains(p.Location) {
			t.Errorf("bounds do not enclose point %s", p.Metadata.LocationID)
		}
	}
}

func TestBuildEmpty(t *testing.T) {
	for _, in := range []map[string][]domain.SampleRecord{nil, {"trap": nil}} {
		res, err := Build(in, domain.MetricRiskScore, "", time.Time{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Points == nil || len(res.Points) != 0 {
			t.Errorf("expected empty non-nil points, got %#v", res.Points)
		}
		if res.Legend.Unit == "" || res.Reason == "" {
			t.Errorf("expected legend unit and reason on empty result, got %+v", res)
		}
	}
}

func TestBuildInvalid(t *testing.T) {
	byLoc := map[string][]domain.SampleRecord{"a": location("a", 10, 20, 1, 0, 0)}
	if _, err := Build(byLoc, "temperature", "", asOf); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for unknown metric, got %v", err)
	}
	if _, err := Build(byLoc, domain.MetricSampleDensity, "ultra", asOf); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for unknown resolution, got %v", err)
	}
	byLoc["a"][0].Longitude = math.Inf(-1)
	if _, err := Build(byLoc, domain.MetricSampleDensity, "", asOf); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for infinite longitude, got %v", err)
	}
}

func TestRecency(t *testing.T) {
	last := asOf.Add(-10 * 24 * time.Hour)
	if got := Recency(&last, asOf); math.Abs(got-2.0/3) > 1e-9 {
		t.Errorf("expected 2/3, got %v", got)
	}
	old := asOf.Add(-45 * 24 * time.Hour)
	if got := Recency(&old, asOf); got != 0 {
		t.Errorf("expected 0, got %v", got)
	}
	future := asOf.Add(24 * time.Hour)
	if got := Recency(&future, asOf); got != 1 {
		t.Errorf("expected 1, got %v", got)
	}
	if Recency(nil, asOf) != 0 {
		t.Error("expected 0 without a positive")
	}
}
