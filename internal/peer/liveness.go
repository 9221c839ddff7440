package peer

import (
	"context"
	"time"

	"github.com/driftmesh/overlay/internal/domain"
	"github.com/driftmesh/overlay/internal/eventlog"
	"github.com/driftmesh/overlay/internal/observability"
	"github.com/driftmesh/overlay/internal/wire"
)

// PingSweep probes every neighbor once: a wire-level PING/PONG round trip
// and an independent ICMP echo. Either succeeding resets the neighbor's
// strike counter; both failing increments it, and three consecutive
// failures (or a broken pipe, handled separately in overlay.go) escalate
// to local suspicion.
func (s *State) PingSweep(ctx context.Context) {
	for _, id := range s.NeighborIDs() {
		go s.pingOne(ctx, id)
	}
}

func (s *State) pingOne(ctx context.Context, id domain.NodeID) {
	s.mu.Lock()
	n, ok := s.neighbors[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	seq := s.seqCursor + 1
	s.seqCursor = seq
	ackCh := make(chan struct{}, 1)
	n.pendingPings[seq] = ackCh
	conn := n.conn
	s.mu.Unlock()

	_ = conn.Send(wire.Envelope{Type: wire.TypePing, SeqNo: seq, Self: s.Self})

	wireOK := make(chan bool, 1)
	go func() {
		select {
		case <-ackCh:
			wireOK <- true
		case <-time.After(s.Tuning.PingTimeout.Duration):
			wireOK <- false
		}
	}()

	icmpOK := s.Prober.Ping(ctx, id.Host, s.Tuning.ICMPTimeout.Duration)
	wireResult := <-wireOK

	s.mu.Lock()
	n, ok = s.neighbors[id]
	if ok {
		delete(n.pendingPings, seq)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	if wireResult || icmpOK {
		s.mu.Lock()
		if n2, ok2 := s.neighbors[id]; ok2 {
			n2.strikes = 0
		}
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	n2, ok2 := s.neighbors[id]
	if !ok2 {
		s.mu.Unlock()
		return
	}
	n2.strikes++
	strikes := n2.strikes
	s.mu.Unlock()

	if strikes >= 3 {
		s.onLocalSuspicion(ctx, id)
	}
}

// HandlePong completes a pending ping's wait.
func (s *State) HandlePong(msg wire.Envelope, from domain.NodeID) {
	s.mu.Lock()
	n, ok := s.neighbors[from]
	if !ok {
		s.mu.Unlock()
		return
	}
	ch, pending := n.pendingPings[msg.SeqNo]
	s.mu.Unlock()
	if pending {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// HandlePing replies with a PONG carrying the same sequence number.
func (s *State) HandlePing(conn *wire.Conn, msg wire.Envelope) {
	_ = conn.Send(wire.Envelope{Type: wire.TypePong, SeqNo: msg.SeqNo, Self: s.Self})
}

// onLocalSuspicion transitions a neighbor to local-suspect and opens a
// peer-level SUSPECT_REQUEST quorum among this peer's other neighbors.
func (s *State) onLocalSuspicion(ctx context.Context, target domain.NodeID) {
	s.mu.Lock()
	if _, exists := s.suspects[target]; exists {
		s.mu.Unlock()
		return // already under suspicion
	}
	n, ok := s.neighbors[target]
	if !ok {
		s.mu.Unlock()
		return
	}
	n.state = domain.NeighborLocalSuspect
	s.suspects[target] = &suspicion{
		target:   target,
		votes:    make(map[domain.NodeID]wire.Verdict),
		deadline: time.Now().Add(s.Tuning.SuspectTimeout.Duration),
	}
	s.mu.Unlock()

	observability.NeighborTransitions.WithLabelValues(domain.NeighborLocalSuspect.String()).Inc()
	if s.Log != nil {
		s.Log.Log(eventlog.KindSuspectInitiated, map[string]string{"target": target.String()})
	}
	s.broadcastNeighborsExcept(wire.Envelope{Type: wire.TypeSuspectRequest, Target: target, Self: s.Self}, target)
}

// HandleSuspectRequest answers a SUSPECT_REQUEST from another neighbor
// using this peer's own view of target, if any. A witness with no link
// to target abstains rather than guessing.
func (s *State) HandleSuspectRequest(conn *wire.Conn, msg wire.Envelope) {
	s.mu.RLock()
	n, has := s.neighbors[msg.Target]
	s.mu.RUnlock()
	if !has {
		return // no vantage point on target, abstain
	}

	verdict := wire.VerdictAlive
	if n.state == domain.NeighborLocalSuspect || n.state == domain.NeighborPeerConfirmedDead || n.state == domain.NeighborPurged {
		verdict = wire.VerdictDead
	}
	_ = conn.Send(wire.Envelope{Type: wire.TypeSuspectResponse, Target: msg.Target, Verdict: verdict, Self: s.Self})
}

// HandleSuspectResponse tallies one respondent's verdict.
func (s *State) HandleSuspectResponse(msg wire.Envelope, from domain.NodeID) {
	s.mu.Lock()
	sp, ok := s.suspects[msg.Target]
	if !ok {
		s.mu.Unlock()
		return
	}
	sp.votes[from] = msg.Verdict
	s.mu.Unlock()
}

// ReapSuspicions resolves any SUSPECT_REQUEST quorum whose deadline has
// passed: escalates to DEAD_REPORT on a dead quorum, otherwise clears the
// suspicion and restores the neighbor to healthy. An escalated target
// enters pendingDeadReports, where ReapDeathReports retries the report
// and eventually purges it locally if no DEAD_CONFIRMED ever arrives.
func (s *State) ReapSuspicions(ctx context.Context) {
	now := time.Now()
	type resolved struct {
		target  domain.NodeID
		escalate bool
	}
	var done []resolved

	s.mu.Lock()
	for target, sp := range s.suspects {
		if now.Before(sp.deadline) {
			continue
		}
		respondents := len(sp.votes)
		deadVotes := 0
		for _, v := range sp.votes {
			if v == wire.VerdictDead {
				deadVotes++
			}
		}
		escalate := respondents >= 2 && deadVotes >= domain.Quorum(respondents)
		done = append(done, resolved{target: target, escalate: escalate})
		delete(s.suspects, target)
		if escalate {
			s.pendingDeadReports[target] = &pendingDeadReport{escalatedAt: now, lastSentAt: now}
		}
	}
	s.mu.Unlock()

	for _, r := range done {
		if r.escalate {
			s.setNeighborState(r.target, domain.NeighborPeerConfirmedDead)
			observability.SuspicionQuorums.WithLabelValues("dead").Inc()
			s.broadcastSeeds(wire.Envelope{Type: wire.TypeDeadReport, Victim: r.target, Reporter: s.Self})
			if s.Log != nil {
				s.Log.Log(eventlog.KindDeadReport, map[string]string{"victim": r.target.String(), "outcome": "initial"})
			}
		} else {
			s.setNeighborState(r.target, domain.NeighborHealthy)
			observability.SuspicionQuorums.WithLabelValues("alive").Inc()
			if s.Log != nil {
				s.Log.Log(eventlog.KindSuspectCleared, map[string]string{"target": r.target.String()})
			}
		}
	}
}

// deadReportRetryInterval bounds how often an unconfirmed DEAD_REPORT is
// re-sent to the seed set while a neighbor sits in peer-confirmed-dead.
const deadReportRetryInterval = 2 * time.Second

// ReapDeathReports re-sends DEAD_REPORT for every neighbor still awaiting
// DEAD_CONFIRMED, and purges any whose escalation is older than
// SeedConfirmTimeout — so a lost DEAD_CONFIRMED or an unreachable seed
// set can never leave a neighbor stuck in peer-confirmed-dead forever.
func (s *State) ReapDeathReports(ctx context.Context, dialRetries int, backoff time.Duration) {
	now := time.Now()
	seedTimeout := s.Tuning.SeedConfirmTimeout.Duration

	var retry []domain.NodeID
	var expired []domain.NodeID

	s.mu.Lock()
	for target, pr := range s.pendingDeadReports {
		if seedTimeout > 0 && now.Sub(pr.escalatedAt) >= seedTimeout {
			expired = append(expired, target)
			delete(s.pendingDeadReports, target)
			continue
		}
		if now.Sub(pr.lastSentAt) >= deadReportRetryInterval {
			pr.lastSentAt = now
			retry = append(retry, target)
		}
	}
	s.mu.Unlock()

	for _, target := range retry {
		s.broadcastSeeds(wire.Envelope{Type: wire.TypeDeadReport, Victim: target, Reporter: s.Self})
		if s.Log != nil {
			s.Log.Log(eventlog.KindDeadReport, map[string]string{"victim": target.String(), "outcome": "retry"})
		}
	}
	for _, target := range expired {
		if s.Log != nil {
			s.Log.Log(eventlog.KindNeighborRemoved, map[string]string{"neighbor": target.String(), "outcome": "seed_confirm_timeout"})
		}
		s.PurgeIfConfirmed(ctx, target, dialRetries, backoff)
	}
}

// PurgeIfConfirmed removes target from the neighbor table, either because
// the seed set confirmed its death (DEAD_CONFIRMED) or because
// ReapDeathReports gave up waiting for that confirmation after
// SeedConfirmTimeout. Purge never happens on local/peer suspicion alone —
// only on one of those two outcomes.
func (s *State) PurgeIfConfirmed(ctx context.Context, target domain.NodeID, dialRetries int, backoff time.Duration) {
	s.mu.Lock()
	delete(s.pendingDeadReports, target)
	s.mu.Unlock()

	s.removeNeighbor(target)
	s.markPurged(target)
	observability.NeighborTransitions.WithLabelValues(domain.NeighborPurged.String()).Inc()

	if s.isBelowMinNeighbors() {
		s.resampleOneNeighbor(ctx, dialRetries, backoff)
	}
}
