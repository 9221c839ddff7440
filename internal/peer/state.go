// Package peer implements the non-seed overlay role: bootstrap against
// the seed set, preferential-attachment neighbor selection, gossip
// dissemination, and two-tier failure detection.
package peer

import (
	"sync"
	"time"

	"github.com/driftmesh/overlay/internal/adminapi"
	"github.com/driftmesh/overlay/internal/domain"
	"github.com/driftmesh/overlay/internal/eventlog"
	"github.com/driftmesh/overlay/internal/icmpping"
	"github.com/driftmesh/overlay/internal/nodeconfig"
	"github.com/driftmesh/overlay/internal/observability"
	"github.com/driftmesh/overlay/internal/sampling"
	"github.com/driftmesh/overlay/internal/wire"
)

// neighbor tracks one overlay link's liveness window.
type neighbor struct {
	conn    *wire.Conn
	state   domain.NeighborState
	strikes int

	pendingPings map[uint64]chan struct{}
}

// suspicion tracks one in-flight peer-level SUSPECT_REQUEST quorum.
type suspicion struct {
	target   domain.NodeID
	votes    map[domain.NodeID]wire.Verdict
	deadline time.Time
}

// pendingDeadReport tracks a neighbor this peer has escalated to the seed
// set but has not yet seen DEAD_CONFIRMED for. DEAD_REPORT is re-sent to
// reachable seeds on a timer; if no DEAD_CONFIRMED arrives before
// SeedConfirmTimeout elapses since escalation, the neighbor is purged
// locally regardless.
type pendingDeadReport struct {
	escalatedAt time.Time
	lastSentAt  time.Time
}

// State is the per-peer-process overlay state struct, passed explicitly
// rather than held in package globals. Lock order: mu before linkMu
// before mlMu, never the reverse.
type State struct {
	Self   domain.NodeID
	Seeds  []domain.NodeID
	Tuning nodeconfig.PeerTuning

	Log    *eventlog.Logger
	Tracer *observability.Tracer
	Sampler *sampling.Sampler
	Prober  *icmpping.Prober

	mu                 sync.RWMutex
	neighbors          map[domain.NodeID]*neighbor
	purged             map[domain.NodeID]struct{}
	suspects           map[domain.NodeID]*suspicion
	pendingDeadReports map[domain.NodeID]*pendingDeadReport
	seqCursor          uint64

	linkMu    sync.Mutex
	seedLinks map[domain.NodeID]*wire.Conn

	mlMu      sync.Mutex
	ml        map[string]struct{}
	originated int
}

// NewState creates an empty overlay state for self.
func NewState(self domain.NodeID, seeds []domain.NodeID, tuning nodeconfig.PeerTuning, log *eventlog.Logger, tracer *observability.Tracer) *State {
	return &State{
		Self:    self,
		Seeds:   seeds,
		Tuning:  tuning,
		Log:     log,
		Tracer:  tracer,
		Sampler: sampling.NewSampler(self, sampling.DefaultParams()),
		Prober:  icmpping.NewProber(),

		neighbors:          make(map[domain.NodeID]*neighbor),
		purged:             make(map[domain.NodeID]struct{}),
		suspects:           make(map[domain.NodeID]*suspicion),
		pendingDeadReports: make(map[domain.NodeID]*pendingDeadReport),
		seedLinks:          make(map[domain.NodeID]*wire.Conn),
		ml:                 make(map[string]struct{}),
	}
}

// NeighborCount returns the current number of neighbor links regardless of
// health state.
func (s *State) NeighborCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.neighbors)
}

// NeighborIDs returns a snapshot of current neighbor identities.
func (s *State) NeighborIDs() []domain.NodeID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.NodeID, 0, len(s.neighbors))
	for id := range s.neighbors {
		out = append(out, id)
	}
	return out
}

// addNeighbor installs conn as the link to id, closing any prior link to
// the same identity first.
func (s *State) addNeighbor(id domain.NodeID, conn *wire.Conn) {
	s.mu.Lock()
	if old, exists := s.neighbors[id]; exists && old.conn != conn {
		old.conn.Close()
	}
	s.neighbors[id] = &neighbor{conn: conn, state: domain.NeighborHealthy, pendingPings: make(map[uint64]chan struct{})}
	count := len(s.neighbors)
	s.mu.Unlock()

	observability.NeighborCount.Set(float64(count))
	observability.NeighborTransitions.WithLabelValues(domain.NeighborHealthy.String()).Inc()
	if s.Log != nil {
		s.Log.Log(eventlog.KindNeighborAdded, map[string]string{"neighbor": id.String()})
	}
}

// removeNeighbor drops id from the neighbor table entirely (used on purge).
func (s *State) removeNeighbor(id domain.NodeID) {
	s.mu.Lock()
	n, exists := s.neighbors[id]
	delete(s.neighbors, id)
	count := len(s.neighbors)
	s.mu.Unlock()

	if !exists {
		return
	}
	n.conn.Close()
	observability.NeighborCount.Set(float64(count))
	if s.Log != nil {
		s.Log.Log(eventlog.KindNeighborRemoved, map[string]string{"neighbor": id.String()})
	}
}

// setNeighborState transitions id's recorded state, if id is still present.
func (s *State) setNeighborState(id domain.NodeID, state domain.NeighborState) {
	s.mu.Lock()
	n, exists := s.neighbors[id]
	if exists {
		n.state = state
	}
	s.mu.Unlock()
	if exists {
		observability.NeighborTransitions.WithLabelValues(state.String()).Inc()
	}
}

// isBelowMinNeighbors reports whether the live neighbor count has fallen
// below the configured minimum (triggers a reconnect/resample pass).
func (s *State) isBelowMinNeighbors() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.neighbors) < s.Tuning.MinNeighbors
}

func (s *State) markPurged(id domain.NodeID) {
	s.mu.Lock()
	s.purged[id] = struct{}{}
	s.mu.Unlock()
}

func (s *State) isPurged(id domain.NodeID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.purged[id]
	return ok
}

// NeighborSnapshot renders the current neighbor table for the admin API.
func (s *State) NeighborSnapshot() []adminapi.NeighborView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]adminapi.NeighborView, 0, len(s.neighbors))
	for id, n := range s.neighbors {
		out = append(out, adminapi.NeighborView{ID: id.String(), State: n.state.String()})
	}
	return out
}

// PurgedSnapshot renders purged identities as strings for the admin API.
func (s *State) PurgedSnapshot() []string {
	ids := s.PurgedIDs()
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

// PurgedIDs returns a snapshot of purged peer identities.
func (s *State) PurgedIDs() []domain.NodeID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.NodeID, 0, len(s.purged))
	for id := range s.purged {
		out = append(out, id)
	}
	return out
}

func (s *State) nextSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seqCursor++
	return s.seqCursor
}

// registerSeedLink records a persistent connection to a seed.
func (s *State) registerSeedLink(id domain.NodeID, conn *wire.Conn) {
	s.linkMu.Lock()
	defer s.linkMu.Unlock()
	s.seedLinks[id] = conn
}

// broadcastSeeds sends msg to every known seed link (best-effort), as
// DEAD_REPORT escalation requires: a suspected death is reported to
// every seed.
func (s *State) broadcastSeeds(msg wire.Envelope) {
	s.linkMu.Lock()
	defer s.linkMu.Unlock()
	for _, conn := range s.seedLinks {
		_ = conn.Send(msg)
	}
}

// broadcastNeighborsExcept sends msg to every neighbor except skip
// (gossip forwarding and SUSPECT_REQUEST fan-out both use this shape).
func (s *State) broadcastNeighborsExcept(msg wire.Envelope, skip domain.NodeID) {
	s.mu.RLock()
	conns := make([]*wire.Conn, 0, len(s.neighbors))
	for id, n := range s.neighbors {
		if id == skip {
			continue
		}
		conns = append(conns, n.conn)
	}
	s.mu.RUnlock()

	for _, conn := range conns {
		_ = conn.Send(msg)
	}
}
