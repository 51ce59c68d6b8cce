package outbreak

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/opensource-health/kestrel/internal/domain"
	"github.com/opensource-health/kestrel/internal/geo"
)

// StatisticalTest is one independent check of baseline against current.
// Implementations fill Name, Result, Statistic and PValue; the detector
// decides significance. A test that cannot run reports PValue 1.
type StatisticalTest interface {
	Name() string
	Run(baseline, current []domain.SampleRecord) domain.StatisticalTestResult
}

func inconclusive(name, why string) domain.StatisticalTestResult {
	return domain.StatisticalTestResult{Name: name, Result: why, PValue: 1}
}

// ProportionTest is a one-sided two-proportion z-test for an increase in
// positivity from the baseline to the current period.
type ProportionTest struct{}

func (ProportionTest) Name() string { return "two_proportion_z" }

func (t ProportionTest) Run(baseline, current []domain.SampleRecord) domain.StatisticalTestResult {
	n1, n2 := float64(len(baseline)), float64(len(current))
	if n1 == 0 || n2 == 0 {
		return inconclusive(t.Name(), "both periods need samples")
	}
	x1, x2 := float64(domain.CountPositives(baseline)), float64(domain.CountPositives(current))
	p1, p2 := x1/n1, x2/n2
	pooled := (x1 + x2) / (n1 + n2)
	se := math.Sqrt(pooled * (1 - pooled) * (1/n1 + 1/n2))
	if se == 0 {
		return inconclusive(t.Name(), fmt.Sprintf("no variance: both periods at %.1f%% positivity", p1*100))
	}
	z := (p2 - p1) / se
	return domain.StatisticalTestResult{
		Name:      t.Name(),
		Result:    fmt.Sprintf("positivity %.1f%% -> %.1f%% (z=%.2f)", p1*100, p2*100, z),
		Statistic: z,
		PValue:    1 - distuv.UnitNormal.CDF(z),
	}
}

// TrendTest is a one-sided Mann-Kendall test for a rising positivity trend
// across equal-width sub-windows of the current period. Empty windows are
// skipped; fewer than three rates cannot show a trend.
type TrendTest struct {
	Windows int
}

func (TrendTest) Name() string { return "mann_kendall_trend" }

func (t TrendTest) Run(_, current []domain.SampleRecord) domain.StatisticalTestResult {
	rates := windowRates(current, t.Windows)
	n := len(rates)
	if n < 3 {
		return inconclusive(t.Name(), fmt.Sprintf("%d populated sub-windows, need 3", n))
	}

	s := 0.0
	for i := 0; i < n-1; i++ {
		for j := i + 1; j < n; j++ {
			switch {
			case rates[j] > rates[i]:
				s++
			case rates[j] < rates[i]:
				s--
			}
		}
	}

	nf := float64(n)
	variance := nf * (nf - 1) * (2*nf + 5) / 18
	ties := make(map[float64]int)
	for _, r := range rates {
		ties[r]++
	}
	for _, c := range ties {
		if c > 1 {
			cf := float64(c)
			variance -= cf * (cf - 1) * (2*cf + 5) / 18
		}
	}
	if variance <= 0 {
		return inconclusive(t.Name(), "all sub-window rates equal")
	}

	var z float64
	switch {
	case s > 0:
		z = (s - 1) / math.Sqrt(variance)
	case s < 0:
		z = (s + 1) / math.Sqrt(variance)
	}
	return domain.StatisticalTestResult{
		Name:      t.Name(),
		Result:    fmt.Sprintf("S=%.0f over %d sub-windows", s, n),
		Statistic: z,
		PValue:    1 - distuv.UnitNormal.CDF(z),
	}
}

// windowRates splits samples into k equal time slices and returns the
// positivity of each non-empty slice in time order.
func windowRates(samples []domain.SampleRecord, k int) []float64 {
	if len(samples) == 0 || k < 1 {
		return nil
	}
	first, last := samples[0].CollectedAt, samples[0].CollectedAt
	for _, s := range samples[1:] {
		if s.CollectedAt.Before(first) {
			first = s.CollectedAt
		}
		if s.CollectedAt.After(last) {
			last = s.CollectedAt
		}
	}
	span := last.Sub(first)

	pos := make([]int, k)
	tot := make([]int, k)
	for _, s := range samples {
		w := 0
		if span > 0 {
			w = int(float64(s.CollectedAt.Sub(first)) / float64(span) * float64(k))
			if w >= k {
				w = k - 1
			}
		}
		tot[w]++
		if s.IsPositive() {
			pos[w]++
		}
	}

	rates := make([]float64, 0, k)
	for w := range tot {
		if tot[w] > 0 {
			rates = append(rates, float64(pos[w])/float64(tot[w]))
		}
	}
	return rates
}

// Clark-Evans standard error constant for a Poisson process.
const clarkEvansSE = 0.26136

// SpatialTest is a Clark-Evans nearest-neighbour test on the distinct
// locations with positives in the current period. The study area is their
// bounding box; a mean nearest-neighbour distance well below the random
// expectation indicates clustering.
type SpatialTest struct{}

func (SpatialTest) Name() string { return "clark_evans_nearest_neighbour" }

func (t SpatialTest) Run(_, current []domain.SampleRecord) domain.StatisticalTestResult {
	pts := positiveLocations(current)
	n := len(pts)
	if n < 3 {
		return inconclusive(t.Name(), fmt.Sprintf("%d positive locations, need 3", n))
	}

	minLat, maxLat := math.Inf(1), math.Inf(-1)
	minLon, maxLon := math.Inf(1), math.Inf(-1)
	for _, p := range pts {
		minLat, maxLat = math.Min(minLat, p.Latitude), math.Max(maxLat, p.Latitude)
		minLon, maxLon = math.Min(minLon, p.Longitude), math.Max(maxLon, p.Longitude)
	}
	meanLat := (minLat + maxLat) / 2
	area := (maxLat - minLat) * geo.KmPerDegree *
		(maxLon - minLon) * geo.KmPerDegree * math.Cos(meanLat*math.Pi/180)
	if !(area > 0) {
		return inconclusive(t.Name(), "positive locations are collinear")
	}

	var sum float64
	for i, p := range pts {
		nearest := math.Inf(1)
		for j, q := range pts {
			if i != j {
				nearest = math.Min(nearest, geo.Haversine(p, q))
			}
		}
		sum += nearest
	}
	observed := sum / float64(n)
	density := float64(n) / area
	expected := 0.5 / math.Sqrt(density)
	se := clarkEvansSE / math.Sqrt(float64(n)*density)
	z := (observed - expected) / se

	return domain.StatisticalTestResult{
		Name:      t.Name(),
		Result:    fmt.Sprintf("R=%.2f across %d positive locations", observed/expected, n),
		Statistic: z,
		PValue:    distuv.UnitNormal.CDF(z),
	}
}

// positiveLocations returns the mean coordinate of each location with a
// positive sample, ordered by location id.
func positiveLocations(samples []domain.SampleRecord) []domain.Coordinate {
	byLoc := make(map[string][]domain.Coordinate)
	for _, s := range samples {
		if s.IsPositive() {
			byLoc[s.LocationID] = append(byLoc[s.LocationID], s.Coordinate())
		}
	}
	ids := make([]string, 0, len(byLoc))
	for id := range byLoc {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]domain.Coordinate, len(ids))
	for i, id := range ids {
		out[i] = geo.Centroid(byLoc[id])
	}
	return out
}
