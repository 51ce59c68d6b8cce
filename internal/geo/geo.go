// Package geo provides great-circle distance and a grid index for proximity lookups.
package geo

import (
	"fmt"
	"math"

	"github.com/opensource-health/kestrel/internal/domain"
)

// EarthRadiusKm is the mean Earth radius used by Haversine.
const EarthRadiusKm = 6371.0

// KmPerDegree is the length of one degree of latitude on the Haversine sphere.
const KmPerDegree = EarthRadiusKm * math.Pi / 180

// DistanceKm returns the Haversine distance between two coordinates.
// Non-finite or out-of-range coordinates are rejected with domain.ErrInvalidInput.
func DistanceKm(a, b domain.Coordinate) (float64, error) {
	if !a.Valid() {
		return 0, fmt.Errorf("%w: coordinate (%v, %v)", domain.ErrInvalidInput, a.Latitude, a.Longitude)
	}
	if !b.Valid() {
		return 0, fmt.Errorf("%w: coordinate (%v, %v)", domain.ErrInvalidInput, b.Latitude, b.Longitude)
	}
	return Haversine(a, b), nil
}

// Haversine computes the great-circle distance in km without validating input.
// Callers validate coordinates once up front and use this in inner loops.
func Haversine(a, b domain.Coordinate) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	// Rounding can push h a hair past 1 for antipodal points.
	h = math.Min(1, h)
	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(h))
}

// Centroid returns the arithmetic mean of the coordinates.
func Centroid(points []domain.Coordinate) domain.Coordinate {
	if len(points) == 0 {
		return domain.Coordinate{}
	}
	var lat, lon float64
	for _, p := range points {
		lat += p.Latitude
		lon += p.Longitude
	}
	n := float64(len(points))
	return domain.Coordinate{Latitude: lat / n, Longitude: lon / n}
}

// MeanPairwiseKm is the average distance over all unordered pairs, 0 for fewer than two points.
func MeanPairwiseKm(points []domain.Coordinate) float64 {
	if len(points) < 2 {
		return 0
	}
	var sum float64
	pairs := 0
	for i := 0; i < len(points); i++ {
		for j := i + 1; j < len(points); j++ {
			sum += Haversine(points[i], points[j])
			pairs++
		}
	}
	return sum / float64(pairs)
}

// MaxDistanceKm returns the largest distance from origin to any point.
func MaxDistanceKm(origin domain.Coordinate, points []domain.Coordinate) float64 {
	var maxKm float64
	for _, p := range points {
		if d := Haversine(origin, p); d > maxKm {
			maxKm = d
		}
	}
	return maxKm
}
