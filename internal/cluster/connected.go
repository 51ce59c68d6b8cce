package cluster

import (
	"sort"

	"github.com/opensource-health/kestrel/internal/domain"
	"github.com/opensource-health/kestrel/internal/geo"
)

// unionFind is a disjoint-set forest with path halving and union by size.
type unionFind struct {
	parent []int
	size   []int
}

func newUnionFind(n int) *unionFind {
	u := &unionFind{parent: make([]int, n), size: make([]int, n)}
	for i := range u.parent {
		u.parent[i] = i
		u.size[i] = 1
	}
	return u
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if u.size[ra] < u.size[rb] {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
	u.size[ra] += u.size[rb]
}

// connected links every pair of samples within both thresholds and returns
// the qualifying components. A component's seed is its earliest input index;
// components are ordered by seed. Members of a component are only chained to
// one another, so they need not all be near the seed.
func connected(samples []domain.SampleRecord, p domain.ClusterParams) []group {
	idx := geo.NewGridIndex(coordinates(samples), p.SpatialRadiusKm)
	uf := newUnionFind(len(samples))
	for i := range samples {
		for _, j := range idx.Candidates(samples[i].Coordinate()) {
			if j > i && near(samples[i], samples[j], p) {
				uf.union(i, j)
			}
		}
	}

	byRoot := make(map[int][]int)
	for i := range samples {
		r := uf.find(i)
		byRoot[r] = append(byRoot[r], i)
	}

	groups := make([]group, 0, len(byRoot))
	for _, members := range byRoot {
		if qualifies(samples, members, p) {
			groups = append(groups, group{seed: members[0], members: members})
		}
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].seed < groups[j].seed })
	return groups
}
