package geo

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/opensource-health/kestrel/internal/domain"
)

func TestDistanceKm(t *testing.T) {
	tests := []struct {
		name string
		a, b domain.Coordinate
		want float64
		tol  float64
	}{
		{"SamePoint", domain.Coordinate{Latitude: 10, Longitude: 20}, domain.Coordinate{Latitude: 10, Longitude: 20}, 0, 1e-9},
		{"OneDegreeLatitude", domain.Coordinate{Latitude: 0, Longitude: 0}, domain.Coordinate{Latitude: 1, Longitude: 0}, 111.195, 0.001},
		{"OneDegreeLongitudeAtEquator", domain.Coordinate{Latitude: 0, Longitude: 0}, domain.Coordinate{Latitude: 0, Longitude: 1}, 111.195, 0.001},
		{"LondonParis", domain.Coordinate{Latitude: 51.5074, Longitude: -0.1278}, domain.Coordinate{Latitude: 48.8566, Longitude: 2.3522}, 343.5, 1},
		{"Antipodal", domain.Coordinate{Latitude: 0, Longitude: 0}, domain.Coordinate{Latitude: 0, Longitude: 180}, math.Pi * EarthRadiusKm, 1e-6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DistanceKm(tt.a, tt.b)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if math.Abs(got-tt.want) > tt.tol {
				t.Errorf("expected %.4f km, got %.4f", tt.want, got)
			}
			back, _ := DistanceKm(tt.b, tt.a)
			if math.Abs(back-got) > 1e-9 {
				t.Errorf("distance not symmetric: %v vs %v", got, back)
			}
		})
	}
}

func TestDistanceKmRejectsInvalid(t *testing.T) {
	bad := []domain.Coordinate{
		{Latitude: math.NaN(), Longitude: 0},
		{Latitude: 0, Longitude: math.Inf(1)},
		{Latitude: 91, Longitude: 0},
		{Latitude: 0, Longitude: -181},
	}
	for _, c := range bad {
		if _, err := DistanceKm(c, domain.Coordinate{}); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput for %+v, got %v", c, err)
		}
	}
}

func TestCentroidAndPairwise(t *testing.T) {
	pts := []domain.Coordinate{
		{Latitude: 1, Longitude: 1},
		{Latitude: 3, Longitude: 5},
	}
	c := Centroid(pts)
	if c.Latitude != 2 || c.Longitude != 3 {
		t.Errorf("expected centroid (2,3), got %+v", c)
	}
	if Centroid(nil) != (domain.Coordinate{}) {
		t.Error("expected zero centroid for no points")
	}
	if MeanPairwiseKm(pts[:1]) != 0 {
		t.Error("expected 0 mean pairwise distance for a single point")
	}
	if got, want := MeanPairwiseKm(pts), Haversine(pts[0], pts[1]); math.Abs(got-want) > 1e-9 {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestGridIndexMatchesScan(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	pts := make([]domain.Coordinate, 400)
	for i := range pts {
		pts[i] = domain.Coordinate{
			Latitude:  60 + rng.Float64()*0.5,
			Longitude: 10 + rng.Float64()*0.8,
		}
	}
	const radius = 3.0
	idx := NewGridIndex(pts, radius)
	if idx.FullScan() {
		t.Fatal("expected a bucketed index at this latitude and radius")
	}

	for i, p := range pts {
		cands := idx.Candidates(p)
		inCands := make(map[int]bool, len(cands))
		for k, j := range cands {
			inCands[j] = true
			if k > 0 && cands[k-1] >= j {
				t.Fatalf("candidates not strictly ascending: %v", cands)
			}
		}
		for j, q := range pts {
			if Haversine(p, q) <= radius && !inCands[j] {
				t.Fatalf("point %d within %.1f km of %d missing from candidates", j, radius, i)
			}
		}
	}
}

func TestGridIndexFallsBackToScan(t *testing.T) {
	tests := []struct {
		name   string
		pts    []domain.Coordinate
		radius float64
	}{
		{"Empty", nil, 5},
		{"ZeroRadius", []domain.Coordinate{{Latitude: 1, Longitude: 1}}, 0},
		{"Polar", []domain.Coordinate{{Latitude: 89.5, Longitude: 0}}, 5},
		{"Antimeridian", []domain.Coordinate{{Latitude: 0, Longitude: 179.99}}, 5},
		{"HugeRadius", []domain.Coordinate{{Latitude: 0, Longitude: 0}}, 20000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx := NewGridIndex(tt.pts, tt.radius)
			if !idx.FullScan() {
				t.Fatal("expected full scan")
			}
			if got := idx.Candidates(domain.Coordinate{}); len(got) != len(tt.pts) {
				t.Errorf("expected %d candidates, got %d", len(tt.pts), len(got))
			}
		})
	}
}
