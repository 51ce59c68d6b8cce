package geo

import (
	"math"
	"sort"

	"github.com/opensource-health/kestrel/internal/domain"
)

type cellKey struct {
	row, col int
}

// GridIndex buckets points into lat/lon cells at least one search radius wide,
// so every point within the radius of a query lies in the 3x3 block of cells
// around it. Candidates are a superset; callers still check exact distances.
//
// The index falls back to a full scan near the poles, across the antimeridian,
// and for radii too large for cells to help.
type GridIndex struct {
	n       int
	latCell float64
	lonCell float64
	cells   map[cellKey][]int
	scan    bool
}

// NewGridIndex indexes points for lookups within radiusKm.
func NewGridIndex(points []domain.Coordinate, radiusKm float64) *GridIndex {
	g := &GridIndex{n: len(points)}
	if len(points) == 0 || !(radiusKm > 0) || math.IsInf(radiusKm, 0) {
		g.scan = true
		return g
	}

	minLon, maxLon, maxAbsLat := math.Inf(1), math.Inf(-1), 0.0
	for _, p := range points {
		minLon = math.Min(minLon, p.Longitude)
		maxLon = math.Max(maxLon, p.Longitude)
		maxAbsLat = math.Max(maxAbsLat, math.Abs(p.Latitude))
	}

	cosLat := math.Cos(maxAbsLat * math.Pi / 180)
	g.latCell = radiusKm / KmPerDegree
	if cosLat < 0.05 {
		g.scan = true
		return g
	}
	// sin(x) >= 2x/pi bounds the longitude gap of two points within the radius.
	g.lonCell = g.latCell * (math.Pi / 2) / cosLat
	if g.latCell >= 45 || g.lonCell >= 90 ||
		minLon-g.lonCell < -180 || maxLon+g.lonCell > 180 {
		g.scan = true
		return g
	}

	g.cells = make(map[cellKey][]int)
	for i, p := range points {
		k := g.key(p)
		g.cells[k] = append(g.cells[k], i)
	}
	return g
}

func (g *GridIndex) key(c domain.Coordinate) cellKey {
	return cellKey{
		row: int(math.Floor(c.Latitude / g.latCell)),
		col: int(math.Floor(c.Longitude / g.lonCell)),
	}
}

// Candidates returns, in ascending order, the indices of every point that may
// lie within the radius of c.
func (g *GridIndex) Candidates(c domain.Coordinate) []int {
	if g.scan {
		out := make([]int, g.n)
		for i := range out {
			out[i] = i
		}
		return out
	}
	k := g.key(c)
	var out []int
	for dr := -1; dr <= 1; dr++ {
		for dc := -1; dc <= 1; dc++ {
			out = append(out, g.cells[cellKey{row: k.row + dr, col: k.col + dc}]...)
		}
	}
	sort.Ints(out)
	return out
}

// FullScan reports whether the index degraded to scanning every point.
func (g *GridIndex) FullScan() bool {
	return g.scan
}
