// Package sampling implements the overlay's preferential-attachment
// neighbor selection. Each peer samples k distinct neighbors from the
// seed-returned union peer list, weighted by an observed-degree proxy,
// so popular peers accumulate more links and the overlay is scale-free.
package sampling

import (
	"math"
	"math/rand"

	"github.com/driftmesh/overlay/internal/domain"
)

// Params are the Pareto parameters used for the neighbor count
// distribution: alpha=1.5, x_min=2, clamped to [1, |U|].
type Params struct {
	Alpha float64
	XMin  float64
}

// DefaultParams returns the standard Pareto parameters.
func DefaultParams() Params {
	return Params{Alpha: 1.5, XMin: 2}
}

// Sampler draws preferential-attachment neighbor sets with a seeded RNG.
// The seed is derived from the peer's own identity so runs are
// deterministic for a given (host,port), which keeps sampling behavior
// reproducible in tests.
type Sampler struct {
	rng    *rand.Rand
	params Params
}

// NewSampler seeds the RNG from self's identity.
func NewSampler(self domain.NodeID, params Params) *Sampler {
	h := fnv64(self.String())
	return &Sampler{rng: rand.New(rand.NewSource(int64(h))), params: params}
}

func fnv64(s string) uint64 {
	const (
		offset = 14695981039346656037
		prime  = 1099511628211
	)
	h := uint64(offset)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime
	}
	return h
}

// DegreeEstimates counts each peer's occurrences across the seed-returned
// lists — a Pareto-like proxy for observed degree: hubs appear in more
// seeds' recent sightings and in more other peers' prior union queries.
func DegreeEstimates(lists [][]domain.NodeID) map[domain.NodeID]int {
	counts := make(map[domain.NodeID]int)
	for _, list := range lists {
		for _, id := range list {
			counts[id]++
		}
	}
	return counts
}

// NeighborCount draws k = clamp(ceil(Pareto(alpha, x_min)), 1, universe).
func (s *Sampler) NeighborCount(universe int) int {
	if universe <= 0 {
		return 0
	}
	u := s.rng.Float64()
	for u == 0 {
		u = s.rng.Float64()
	}
	x := s.params.XMin / math.Pow(1-u, 1/s.params.Alpha)
	k := int(math.Ceil(x))
	if k < 1 {
		k = 1
	}
	if k > universe {
		k = universe
	}
	return k
}

// SampleNeighbors draws min(k, |candidates|) distinct candidates without
// replacement, with selection probability proportional to
// 1 + degree[candidate], via weighted reservoir sampling
// (Efraimidis-Spirakis: key_i = u_i^(1/w_i), keep the k largest keys).
func (s *Sampler) SampleNeighbors(candidates []domain.NodeID, degree map[domain.NodeID]int) []domain.NodeID {
	k := s.NeighborCount(len(candidates))
	if k >= len(candidates) {
		out := make([]domain.NodeID, len(candidates))
		copy(out, candidates)
		return out
	}

	type keyed struct {
		id  domain.NodeID
		key float64
	}
	keys := make([]keyed, len(candidates))
	for i, c := range candidates {
		w := 1.0 + float64(degree[c])
		u := s.rng.Float64()
		for u == 0 {
			u = s.rng.Float64()
		}
		keys[i] = keyed{id: c, key: math.Pow(u, 1/w)}
	}

	// Partial selection sort for the k largest keys — k is small in
	// practice (bounded by the Pareto draw), so O(n*k) is fine.
	selected := make([]domain.NodeID, 0, k)
	used := make([]bool, len(keys))
	for round := 0; round < k; round++ {
		best := -1
		for i, kd := range keys {
			if used[i] {
				continue
			}
			if best == -1 || kd.key > keys[best].key {
				best = i
			}
		}
		used[best] = true
		selected = append(selected, keys[best].id)
	}
	return selected
}
