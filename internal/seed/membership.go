package seed

import (
	"context"
	"time"

	"github.com/driftmesh/overlay/internal/domain"
	"github.com/driftmesh/overlay/internal/eventlog"
	"github.com/driftmesh/overlay/internal/observability"
	"github.com/driftmesh/overlay/internal/wire"
)

// HandleRegisterRequest is invoked when a peer directly asks this seed to
// join PL. This seed becomes the proposer.
func (c *Core) HandleRegisterRequest(ctx context.Context, msg wire.Envelope, replyConn *wire.Conn) {
	span := c.Tracer.StartSpan("seed.register_request", map[string]string{"peer": msg.PeerID.String()})
	defer func() { c.Tracer.EndSpan(span, nil) }()

	peer := msg.PeerID
	c.linkMu.Lock()
	c.peerLinks[peer] = replyConn
	c.linkMu.Unlock()

	c.mu.Lock()
	if _, already := c.plSet[peer]; already {
		pl := append([]domain.NodeID(nil), c.plOrder...)
		c.mu.Unlock()
		_ = replyConn.Send(wire.Envelope{Type: wire.TypeRegisterAck, PeerID: peer, PL: pl})
		return
	}
	if _, pending := c.pendingRegister[peer]; pending {
		c.mu.Unlock()
		return // duplicate in-flight request, ignore
	}

	c.votedFor[peer] = c.Self
	c.pendingRegister[peer] = &registerProposal{
		peer:      peer,
		proposer:  c.Self,
		votes:     map[domain.NodeID]wire.Vote{c.Self: wire.VoteYes},
		deadline:  time.Now().Add(c.Tuning.ProposalTimeout.Duration),
		replyConn: replyConn,
	}
	c.mu.Unlock()

	if c.Log != nil {
		c.Log.Log(eventlog.KindRegisterProposal, map[string]string{"peer": peer.String(), "proposer": c.Self.String()})
	}
	c.broadcastSeeds(wire.Envelope{Type: wire.TypeRegisterProposal, PeerID: peer, Proposer: c.Self})
	c.maybeCommitRegister(ctx, peer)
}

// HandleRegisterProposal is invoked at every other seed when the proposer
// broadcasts a proposal. The receiving seed votes yes unless the candidate
// is already a member, or it is already backing a concurrent proposer that
// precedes this one in the configured seed order for the same candidate.
func (c *Core) HandleRegisterProposal(msg wire.Envelope) {
	peer, proposer := msg.PeerID, msg.Proposer

	c.mu.Lock()
	vote := wire.VoteYes
	if _, member := c.plSet[peer]; member {
		vote = wire.VoteNo
	} else if backing, ok := c.votedFor[peer]; ok {
		if c.proposerPrecedes(proposer, backing) {
			c.votedFor[peer] = proposer
		} else if backing != proposer {
			vote = wire.VoteNo
		}
	} else {
		c.votedFor[peer] = proposer
	}
	c.mu.Unlock()

	c.linkMu.Lock()
	conn := c.seedLinks[proposer]
	c.linkMu.Unlock()
	if conn == nil {
		return
	}
	_ = conn.Send(wire.Envelope{Type: wire.TypeRegisterVote, PeerID: peer, Voter: c.Self, Vote: vote})
}

// HandleRegisterVote tallies a vote at the proposer and commits on quorum.
func (c *Core) HandleRegisterVote(ctx context.Context, msg wire.Envelope) {
	c.mu.Lock()
	p, ok := c.pendingRegister[msg.PeerID]
	if !ok || p.proposer != c.Self {
		c.mu.Unlock()
		return
	}
	p.votes[msg.Voter] = msg.Vote
	c.mu.Unlock()

	c.maybeCommitRegister(ctx, msg.PeerID)
}

// maybeCommitRegister commits a registration proposal this seed is
// proposing once it holds quorum yes votes.
func (c *Core) maybeCommitRegister(ctx context.Context, peer domain.NodeID) {
	c.mu.Lock()
	p, ok := c.pendingRegister[peer]
	if !ok || p.proposer != c.Self {
		c.mu.Unlock()
		return
	}
	yes := 0
	for _, v := range p.votes {
		if v == wire.VoteYes {
			yes++
		}
	}
	if yes < c.quorum() {
		c.mu.Unlock()
		return
	}
	c.addToPL(peer)
	delete(c.pendingRegister, peer)
	delete(c.votedFor, peer)
	pl := append([]domain.NodeID(nil), c.plOrder...)
	replyConn := p.replyConn
	c.mu.Unlock()

	observability.RegisterProposals.WithLabelValues("committed").Inc()
	if c.Log != nil {
		c.Log.Log(eventlog.KindRegisterCommit, map[string]string{"peer": peer.String(), "proposer": c.Self.String()})
	}
	if c.Audit != nil {
		_ = c.Audit.RecordRegisterCommit(ctx, peer.String(), c.Self.String(), time.Now())
	}

	c.broadcastSeeds(wire.Envelope{Type: wire.TypeRegisterCommit, PeerID: peer})
	if replyConn != nil {
		_ = replyConn.Send(wire.Envelope{Type: wire.TypeRegisterAck, PeerID: peer, PL: pl})
	}
}

// HandleRegisterCommit applies a replicated commit at any seed (idempotent).
func (c *Core) HandleRegisterCommit(msg wire.Envelope) {
	c.mu.Lock()
	c.addToPL(msg.PeerID)
	delete(c.votedFor, msg.PeerID)
	delete(c.pendingRegister, msg.PeerID)
	c.mu.Unlock()
}

// HandlePLRequest replies with the current committed peer list.
func (c *Core) HandlePLRequest(replyConn *wire.Conn) {
	_ = replyConn.Send(wire.Envelope{Type: wire.TypePLResponse, PL: c.PL()})
}

// ReapExpiredRegisterProposals aborts any registration proposal this seed
// is proposing that has missed its deadline without reaching quorum,
// replying REGISTER_NACK to the requesting peer.
func (c *Core) ReapExpiredRegisterProposals() {
	now := time.Now()
	c.mu.Lock()
	var expired []*registerProposal
	for peer, p := range c.pendingRegister {
		if p.proposer == c.Self && now.After(p.deadline) {
			expired = append(expired, p)
			delete(c.pendingRegister, peer)
			delete(c.votedFor, peer)
		}
	}
	c.mu.Unlock()

	for _, p := range expired {
		if c.Log != nil {
			c.Log.Log(eventlog.KindRegisterCommit, map[string]string{"peer": p.peer.String(), "outcome": "nack_timeout"})
		}
		observability.RegisterProposals.WithLabelValues("timeout").Inc()
		if p.replyConn != nil {
			_ = p.replyConn.Send(wire.Envelope{Type: wire.TypeRegisterNack, PeerID: p.peer})
		}
	}
}
