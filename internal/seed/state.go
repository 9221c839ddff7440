// Package seed implements the authoritative membership consensus core:
// the committed peer list (PL), register/death proposals voted on by
// majority quorum among the configured seeds, and the seed-to-seed mesh
// that carries those proposals.
package seed

import (
	"sync"
	"time"

	"github.com/driftmesh/overlay/internal/audit"
	"github.com/driftmesh/overlay/internal/domain"
	"github.com/driftmesh/overlay/internal/eventlog"
	"github.com/driftmesh/overlay/internal/nodeconfig"
	"github.com/driftmesh/overlay/internal/observability"
	"github.com/driftmesh/overlay/internal/seedconfig"
	"github.com/driftmesh/overlay/internal/wire"
)

// registerProposal tracks one in-flight registration vote.
type registerProposal struct {
	peer     domain.NodeID
	proposer domain.NodeID
	votes    map[domain.NodeID]wire.Vote
	deadline time.Time
	replyConn *wire.Conn // connection to ACK/NACK the requesting peer on (nil if we are not the proposer)
}

// deathProposal tracks one in-flight death vote.
type deathProposal struct {
	victim   domain.NodeID
	proposer domain.NodeID
	votes    map[domain.NodeID]wire.Vote
	deadline time.Time
}

// Core is the per-seed membership state struct; process-wide state is
// passed explicitly rather than held in package globals. Lock order:
// mu before linkMu, never the reverse.
type Core struct {
	Self     domain.NodeID
	AllSeeds []domain.NodeID
	Tuning   nodeconfig.SeedTuning

	Log     *eventlog.Logger
	Tracer  *observability.Tracer
	Audit   *audit.Store // nil if the audit trail is disabled

	mu sync.RWMutex

	plSet   map[domain.NodeID]struct{}
	plOrder []domain.NodeID // insertion order, for deterministic serialization

	pendingRegister map[domain.NodeID]*registerProposal
	pendingDeath    map[domain.NodeID]*deathProposal

	// votedFor records, per candidate peer/victim, which proposer this
	// seed is currently backing as a voter — used to resolve concurrent
	// same-target proposals: the proposer earlier in the configured seed
	// order wins (see proposerPrecedes).
	votedFor map[domain.NodeID]domain.NodeID

	// deathReports accumulates DEAD_REPORTs within the report window,
	// keyed victim -> reporter -> received-at.
	deathReports map[domain.NodeID]map[domain.NodeID]time.Time

	linkMu    sync.Mutex
	seedLinks map[domain.NodeID]*wire.Conn
	peerLinks map[domain.NodeID]*wire.Conn
}

// NewCore creates an empty membership core for self, given the full
// canonical seed ordering.
func NewCore(self domain.NodeID, allSeeds []domain.NodeID, tuning nodeconfig.SeedTuning, log *eventlog.Logger, tracer *observability.Tracer, auditStore *audit.Store) *Core {
	return &Core{
		Self:     self,
		AllSeeds: allSeeds,
		Tuning:   tuning,
		Log:      log,
		Tracer:   tracer,
		Audit:    auditStore,

		plSet:           make(map[domain.NodeID]struct{}),
		pendingRegister: make(map[domain.NodeID]*registerProposal),
		pendingDeath:    make(map[domain.NodeID]*deathProposal),
		votedFor:        make(map[domain.NodeID]domain.NodeID),
		deathReports:    make(map[domain.NodeID]map[domain.NodeID]time.Time),
		seedLinks:       make(map[domain.NodeID]*wire.Conn),
		peerLinks:       make(map[domain.NodeID]*wire.Conn),
	}
}

// PL returns a snapshot of the committed peer list in insertion order.
func (c *Core) PL() []domain.NodeID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.NodeID, len(c.plOrder))
	copy(out, c.plOrder)
	return out
}

// PLSnapshot renders the committed peer list as strings, for the admin API.
func (c *Core) PLSnapshot() []string {
	pl := c.PL()
	out := make([]string, len(pl))
	for i, id := range pl {
		out[i] = id.String()
	}
	return out
}

// quorum returns the majority threshold over the configured seed count.
func (c *Core) quorum() int {
	return domain.Quorum(len(c.AllSeeds))
}

// proposerPrecedes reports whether a should win a concurrent same-target
// proposal conflict over b, using each seed's position in the configured
// seed file (seedconfig.Index) rather than a raw (host,port) comparison —
// proposer identities here are always configured seeds, so the file's
// order is the actual canonical tiebreak, not just NodeID.Less. Falls back
// to NodeID.Less if either side isn't found in AllSeeds, which should
// never happen in practice.
func (c *Core) proposerPrecedes(a, b domain.NodeID) bool {
	ai, bi := seedconfig.Index(c.AllSeeds, a), seedconfig.Index(c.AllSeeds, b)
	if ai < 0 || bi < 0 {
		return a.Less(b)
	}
	return ai < bi
}

// addToPL appends id to PL if not already present. Returns true if this
// call actually changed PL; |PL| changes only ±1 per commit and an
// idempotent replay is a no-op.
func (c *Core) addToPL(id domain.NodeID) bool {
	if _, ok := c.plSet[id]; ok {
		return false
	}
	c.plSet[id] = struct{}{}
	c.plOrder = append(c.plOrder, id)
	observability.PLSize.Set(float64(len(c.plOrder)))
	return true
}

// removeFromPL removes id from PL if present. Returns true if it changed PL.
func (c *Core) removeFromPL(id domain.NodeID) bool {
	if _, ok := c.plSet[id]; !ok {
		return false
	}
	delete(c.plSet, id)
	for i, x := range c.plOrder {
		if x == id {
			c.plOrder = append(c.plOrder[:i], c.plOrder[i+1:]...)
			break
		}
	}
	observability.PLSize.Set(float64(len(c.plOrder)))
	return true
}

// registerSeedLink records an established seed-mesh connection.
func (c *Core) registerSeedLink(id domain.NodeID, conn *wire.Conn) {
	c.linkMu.Lock()
	defer c.linkMu.Unlock()
	c.seedLinks[id] = conn
}

// registerPeerLink records a connection from a peer (used to reply to
// PL_REQUEST/REGISTER_REQUEST and to best-effort-broadcast DEAD_CONFIRMED).
func (c *Core) registerPeerLink(id domain.NodeID, conn *wire.Conn) {
	c.linkMu.Lock()
	defer c.linkMu.Unlock()
	c.peerLinks[id] = conn
}

func (c *Core) removePeerLink(id domain.NodeID) {
	c.linkMu.Lock()
	defer c.linkMu.Unlock()
	delete(c.peerLinks, id)
}

// broadcastSeeds sends msg to every known seed link (best-effort).
func (c *Core) broadcastSeeds(msg wire.Envelope) {
	c.linkMu.Lock()
	defer c.linkMu.Unlock()
	for _, conn := range c.seedLinks {
		_ = conn.Send(msg)
	}
}

// broadcastPeers sends msg to every connected peer link (best-effort,
// non-blocking) — used to fan DEAD_CONFIRMED out to every connected peer.
func (c *Core) broadcastPeers(msg wire.Envelope) {
	c.linkMu.Lock()
	defer c.linkMu.Unlock()
	for _, conn := range c.peerLinks {
		_ = conn.Send(msg)
	}
}
