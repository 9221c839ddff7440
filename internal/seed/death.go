package seed

import (
	"context"
	"strconv"
	"time"

	"github.com/driftmesh/overlay/internal/domain"
	"github.com/driftmesh/overlay/internal/eventlog"
	"github.com/driftmesh/overlay/internal/observability"
	"github.com/driftmesh/overlay/internal/wire"
)

// HandleDeadReport records one peer's death report for victim and, once
// at least MinDeathReports distinct reporters have reported the same
// victim within ReportWindow, starts a death proposal with this seed as
// proposer, mirroring the register path.
func (c *Core) HandleDeadReport(ctx context.Context, msg wire.Envelope) {
	victim, reporter := msg.Victim, msg.Reporter
	now := time.Now()

	c.mu.Lock()
	if _, member := c.plSet[victim]; !member {
		c.mu.Unlock()
		return
	}
	if _, pending := c.pendingDeath[victim]; pending {
		c.mu.Unlock()
		return // already proposing, no need to re-count
	}

	reports, ok := c.deathReports[victim]
	if !ok {
		reports = make(map[domain.NodeID]time.Time)
		c.deathReports[victim] = reports
	}
	reports[reporter] = now

	window := c.Tuning.ReportWindow.Duration
	distinct := 0
	for _, at := range reports {
		if now.Sub(at) <= window {
			distinct++
		}
	}
	if distinct < c.Tuning.MinDeathReports {
		c.mu.Unlock()
		return
	}

	c.votedFor[victim] = c.Self
	c.pendingDeath[victim] = &deathProposal{
		victim:   victim,
		proposer: c.Self,
		votes:    map[domain.NodeID]wire.Vote{c.Self: wire.VoteYes},
		deadline: now.Add(c.Tuning.ProposalTimeout.Duration),
	}
	delete(c.deathReports, victim)
	c.mu.Unlock()

	if c.Log != nil {
		c.Log.Log(eventlog.KindDeadReport, map[string]string{"victim": victim.String(), "proposer": c.Self.String(), "reports": strconv.Itoa(distinct)})
	}
	c.broadcastSeeds(wire.Envelope{Type: wire.TypeDeadProposal, Victim: victim, Proposer: c.Self})
	c.maybeCommitDeath(ctx, victim)
}

// HandleDeadProposal votes on a death proposal broadcast by another seed,
// applying the same seed-order-precedence tie-break as registration. A
// death proposal counts the proposer's own vote as implicit yes,
// identically to registration.
func (c *Core) HandleDeadProposal(msg wire.Envelope) {
	victim, proposer := msg.Victim, msg.Proposer

	c.mu.Lock()
	vote := wire.VoteYes
	if _, member := c.plSet[victim]; !member {
		vote = wire.VoteNo
	} else if backing, ok := c.votedFor[victim]; ok {
		if c.proposerPrecedes(proposer, backing) {
			c.votedFor[victim] = proposer
		} else if backing != proposer {
			vote = wire.VoteNo
		}
	} else {
		c.votedFor[victim] = proposer
	}
	c.mu.Unlock()

	c.linkMu.Lock()
	conn := c.seedLinks[proposer]
	c.linkMu.Unlock()
	if conn == nil {
		return
	}
	_ = conn.Send(wire.Envelope{Type: wire.TypeDeadVote, Victim: victim, Voter: c.Self, Vote: vote})
}

// HandleDeadVote tallies a vote at the proposer and commits on quorum.
func (c *Core) HandleDeadVote(ctx context.Context, msg wire.Envelope) {
	c.mu.Lock()
	p, ok := c.pendingDeath[msg.Victim]
	if !ok || p.proposer != c.Self {
		c.mu.Unlock()
		return
	}
	p.votes[msg.Voter] = msg.Vote
	c.mu.Unlock()

	c.maybeCommitDeath(ctx, msg.Victim)
}

// maybeCommitDeath commits a death proposal this seed is proposing once it
// holds quorum yes votes: removes the victim from PL and broadcasts
// DEAD_CONFIRMED to every seed and every connected peer.
func (c *Core) maybeCommitDeath(ctx context.Context, victim domain.NodeID) {
	c.mu.Lock()
	p, ok := c.pendingDeath[victim]
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
	c.removeFromPL(victim)
	delete(c.pendingDeath, victim)
	delete(c.votedFor, victim)
	c.mu.Unlock()

	observability.DeathProposals.WithLabelValues("confirmed").Inc()
	if c.Log != nil {
		c.Log.Log(eventlog.KindDeadConfirmed, map[string]string{"victim": victim.String(), "proposer": c.Self.String()})
	}
	if c.Audit != nil {
		_ = c.Audit.RecordDeathConfirmed(ctx, victim.String(), c.Self.String(), time.Now())
	}

	confirmed := wire.Envelope{Type: wire.TypeDeadConfirmed, Victim: victim}
	c.broadcastSeeds(confirmed)
	c.broadcastPeers(confirmed)
	c.removePeerLink(victim)
}

// HandleDeadConfirmed applies a replicated death confirmation at any seed
// (idempotent) and relays it to this seed's own connected peers so
// confirmation reaches peers that aren't linked to the proposing seed.
func (c *Core) HandleDeadConfirmed(msg wire.Envelope) {
	c.mu.Lock()
	changed := c.removeFromPL(msg.Victim)
	delete(c.votedFor, msg.Victim)
	delete(c.pendingDeath, msg.Victim)
	delete(c.deathReports, msg.Victim)
	c.mu.Unlock()

	c.removePeerLink(msg.Victim)
	if changed {
		c.broadcastPeers(msg)
	}
}

// ReapExpiredDeathProposals aborts any death proposal this seed is
// proposing that missed its deadline without reaching quorum.
func (c *Core) ReapExpiredDeathProposals() {
	now := time.Now()
	c.mu.Lock()
	var expired []domain.NodeID
	for victim, p := range c.pendingDeath {
		if p.proposer == c.Self && now.After(p.deadline) {
			expired = append(expired, victim)
			delete(c.pendingDeath, victim)
			delete(c.votedFor, victim)
		}
	}
	c.mu.Unlock()

	for _, victim := range expired {
		observability.DeathProposals.WithLabelValues("timeout").Inc()
		if c.Log != nil {
			c.Log.Log(eventlog.KindDeadConfirmed, map[string]string{"victim": victim.String(), "outcome": "no_quorum_timeout"})
		}
	}
}
