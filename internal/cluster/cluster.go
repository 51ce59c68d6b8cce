// Package cluster groups geolocated samples into spatial-temporal clusters.
//
// The default greedy builder is order dependent: samples are consumed in the
// order given, the first unprocessed sample seeds a group of every other
// unprocessed sample within the radius and window of it (seed included), and a
// qualifying group claims its members. A group that fails the size or
// positivity threshold claims nothing, so its samples, seed included, remain
// available to later seeds. Callers wanting reproducible output pass samples
// in canonical order (domain.SortCanonical).
//
// The connected builder instead emits the connected components of the
// proximity graph, which do not depend on input order.
package cluster

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-health/kestrel/internal/domain"
	"github.com/opensource-health/kestrel/internal/geo"
	"github.com/opensource-health/kestrel/internal/risk"
)

var clusterNamespace = uuid.MustParse("b2d6e0a4-5f31-4c8e-a7d9-1e3c5b7f9a20")

// group is a candidate cluster as indices into the input slice.
type group struct {
	seed    int
	members []int // ascending input order, seed included
}

// Build partitions qualifying samples into clusters using params.Algorithm.
// Zero parameters take their defaults. Samples must carry valid coordinates
// and timestamps; the first offending record fails the call with
// domain.ErrInvalidInput. An empty input yields an empty, non-nil slice.
func Build(samples []domain.SampleRecord, params domain.ClusterParams) ([]domain.Cluster, error) {
	params = params.WithDefaults()
	if err := params.Validate(); err != nil {
		return nil, err
	}
	for i := range samples {
		if !samples[i].Coordinate().Valid() {
			return nil, fmt.Errorf("%w: sample %s has invalid coordinate", domain.ErrInvalidInput, samples[i].ID)
		}
		if samples[i].CollectedAt.IsZero() {
			return nil, fmt.Errorf("%w: sample %s has no collection timestamp", domain.ErrInvalidInput, samples[i].ID)
		}
	}

	clusters := make([]domain.Cluster, 0)
	if len(samples) == 0 {
		return clusters, nil
	}

	var groups []group
	switch params.Algorithm {
	case domain.AlgorithmConnected:
		groups = connected(samples, params)
	default:
		groups = greedy(samples, params)
	}

	for _, g := range groups {
		clusters = append(clusters, newCluster(samples, g, params))
	}
	return clusters, nil
}

func coordinates(samples []domain.SampleRecord) []domain.Coordinate {
	pts := make([]domain.Coordinate, len(samples))
	for i := range samples {
		pts[i] = samples[i].Coordinate()
	}
	return pts
}

// near reports whether two samples fall within both the radius and the window.
func near(a, b domain.SampleRecord, p domain.ClusterParams) bool {
	days := math.Abs(a.CollectedAt.Sub(b.CollectedAt).Hours()) / 24
	if days > p.TemporalWindowDays {
		return false
	}
	return geo.Haversine(a.Coordinate(), b.Coordinate()) <= p.SpatialRadiusKm
}

// qualifies applies the size and positivity thresholds to a candidate group.
func qualifies(samples []domain.SampleRecord, members []int, p domain.ClusterParams) bool {
	if len(members) < p.MinSampleSize {
		return false
	}
	positives := 0
	for _, i := range members {
		if samples[i].IsPositive() {
			positives++
		}
	}
	return float64(positives)/float64(len(members)) >= p.MinPositiveRate
}

func greedy(samples []domain.SampleRecord, p domain.ClusterParams) []group {
	idx := geo.NewGridIndex(coordinates(samples), p.SpatialRadiusKm)
	processed := make([]bool, len(samples))

	var groups []group
	for seed := range samples {
		if processed[seed] {
			continue
		}
		var members []int
		for _, j := range idx.Candidates(samples[seed].Coordinate()) {
			if j == seed || (!processed[j] && near(samples[seed], samples[j], p)) {
				members = append(members, j)
			}
		}
		if !qualifies(samples, members, p) {
			continue
		}
		for _, j := range members {
			processed[j] = true
		}
		groups = append(groups, group{seed: seed, members: members})
	}
	return groups
}

func newCluster(samples []domain.SampleRecord, g group, p domain.ClusterParams) domain.Cluster {
	members := make([]domain.SampleRecord, len(g.members))
	ids := make([]string, len(g.members))
	pts := make([]domain.Coordinate, len(g.members))
	for k, i := range g.members {
		members[k] = samples[i]
		ids[k] = samples[i].ID
		pts[k] = samples[i].Coordinate()
	}

	a := risk.Classify(members)
	seedID := samples[g.seed].ID
	name := fmt.Sprintf("%s|%s|%g|%g|%d|%g|%s", seedID, strings.Join(ids, ","),
		p.SpatialRadiusKm, p.TemporalWindowDays, p.MinSampleSize, p.MinPositiveRate, p.Algorithm)

	centroid := geo.Centroid(pts)
	return domain.Cluster{
		ID:                  uuid.NewSHA1(clusterNamespace, []byte(name)).String(),
		Centroid:            centroid,
		RadiusKm:            geo.MaxDistanceKm(centroid, pts),
		TimeRange:           timeRange(members),
		SeedID:              seedID,
		MemberIDs:           ids,
		LocationIDs:         locations(members),
		EstimatedPopulation: population(members),
		PositiveCount:       a.PositiveCount,
		TotalCount:          a.TotalCount,
		PositivityRate:      a.PositivityRate,
		RiskLevel:           a.RiskLevel,
		GrowthRate:          a.GrowthRate,
		Confidence:          a.Confidence,
		Params:              p,
	}
}

// timeRange spans the members. The peak is the UTC day with the most
// positives (the most samples when none are positive), earliest on ties,
// dated at that day's first qualifying collection.
func timeRange(members []domain.SampleRecord) domain.TimeRange {
	type day struct {
		positives, total int
		firstAny         time.Time
		firstPositive    time.Time
	}
	days := make(map[time.Time]*day)
	var r domain.TimeRange
	anyPositive := false
	for i, s := range members {
		at := s.CollectedAt.UTC()
		if i == 0 || at.Before(r.Start) {
			r.Start = at
		}
		if i == 0 || at.After(r.End) {
			r.End = at
		}
		key := at.Truncate(24 * time.Hour)
		d, ok := days[key]
		if !ok {
			d = &day{firstAny: at}
			days[key] = d
		}
		d.total++
		if at.Before(d.firstAny) {
			d.firstAny = at
		}
		if s.IsPositive() {
			anyPositive = true
			if d.positives == 0 || at.Before(d.firstPositive) {
				d.firstPositive = at
			}
			d.positives++
		}
	}

	keys := make([]time.Time, 0, len(days))
	for k := range days {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Before(keys[j]) })

	best := -1
	for _, k := range keys {
		d := days[k]
		score := d.total
		if anyPositive {
			score = d.positives
		}
		if score > best {
			best = score
			r.PeakDate = d.firstAny
			if anyPositive {
				r.PeakDate = d.firstPositive
			}
		}
	}
	return r
}

func locations(members []domain.SampleRecord) []string {
	seen := make(map[string]bool)
	out := make([]string, 0)
	for _, s := range members {
		if s.LocationID != "" && !seen[s.LocationID] {
			seen[s.LocationID] = true
			out = append(out, s.LocationID)
		}
	}
	sort.Strings(out)
	return out
}

// population sums metadata["population"] over distinct locations, taking the
// first numeric value seen per location. Nil when no member reports one.
func population(members []domain.SampleRecord) *int {
	perLocation := make(map[string]int)
	for _, s := range members {
		if _, done := perLocation[s.LocationID]; done {
			continue
		}
		if v, ok := numeric(s.Metadata["population"]); ok && v >= 0 {
			perLocation[s.LocationID] = int(v)
		}
	}
	if len(perLocation) == 0 {
		return nil
	}
	total := 0
	for _, v := range perLocation {
		total += v
	}
	return &total
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n) && !math.IsInf(n, 0)
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}
