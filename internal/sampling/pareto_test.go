package sampling

import (
	"testing"

	"github.com/driftmesh/overlay/internal/domain"
)

func TestDegreeEstimates(t *testing.T) {
	p1 := domain.NodeID{Host: "127.0.0.1", Port: 6001}
	p2 := domain.NodeID{Host: "127.0.0.1", Port: 6002}
	lists := [][]domain.NodeID{
		{p1, p2},
		{p1},
		{p1, p2},
	}
	got := DegreeEstimates(lists)
	if got[p1] != 3 {
		t.Errorf("p1 degree = %d, want 3", got[p1])
	}
	if got[p2] != 2 {
		t.Errorf("p2 degree = %d, want 2", got[p2])
	}
}

func TestNeighborCountClampedToUniverse(t *testing.T) {
	self := domain.NodeID{Host: "127.0.0.1", Port: 6001}
	s := NewSampler(self, DefaultParams())
	for i := 0; i < 100; i++ {
		k := s.NeighborCount(3)
		if k < 1 || k > 3 {
			t.Fatalf("NeighborCount(3) = %d, out of [1,3]", k)
		}
	}
}

func TestNeighborCountZeroUniverse(t *testing.T) {
	self := domain.NodeID{Host: "127.0.0.1", Port: 6001}
	s := NewSampler(self, DefaultParams())
	if k := s.NeighborCount(0); k != 0 {
		t.Errorf("NeighborCount(0) = %d, want 0", k)
	}
}

func TestSampleNeighborsDeterministicForSameSelf(t *testing.T) {
	self := domain.NodeID{Host: "127.0.0.1", Port: 6001}
	candidates := []domain.NodeID{
		{Host: "127.0.0.1", Port: 6002},
		{Host: "127.0.0.1", Port: 6003},
		{Host: "127.0.0.1", Port: 6004},
		{Host: "127.0.0.1", Port: 6005},
	}
	degree := map[domain.NodeID]int{candidates[0]: 5}

	s1 := NewSampler(self, DefaultParams())
	s2 := NewSampler(self, DefaultParams())

	got1 := s1.SampleNeighbors(candidates, degree)
	got2 := s2.SampleNeighbors(candidates, degree)

	if len(got1) != len(got2) {
		t.Fatalf("sample sizes differ: %d vs %d", len(got1), len(got2))
	}
	for i := range got1 {
		if got1[i] != got2[i] {
			t.Errorf("sample[%d] differs: %+v vs %+v", i, got1[i], got2[i])
		}
	}
}

func TestSampleNeighborsNoDuplicatesAndSubsetOfCandidates(t *testing.T) {
	self := domain.NodeID{Host: "127.0.0.1", Port: 6001}
	candidates := []domain.NodeID{
		{Host: "127.0.0.1", Port: 6002},
		{Host: "127.0.0.1", Port: 6003},
		{Host: "127.0.0.1", Port: 6004},
	}
	s := NewSampler(self, DefaultParams())
	got := s.SampleNeighbors(candidates, nil)

	seen := make(map[domain.NodeID]bool)
	candidateSet := make(map[domain.NodeID]bool)
	for _, c := range candidates {
		candidateSet[c] = true
	}
	for _, g := range got {
		if seen[g] {
			t.Fatalf("duplicate neighbor sampled: %+v", g)
		}
		seen[g] = true
		if !candidateSet[g] {
			t.Fatalf("sampled neighbor not in candidate set: %+v", g)
		}
	}
	if len(got) < 1 || len(got) > len(candidates) {
		t.Fatalf("sample size %d out of [1,%d]", len(got), len(candidates))
	}
}
