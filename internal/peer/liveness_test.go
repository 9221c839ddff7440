package peer

import (
	"context"
	"testing"
	"time"

	"github.com/driftmesh/overlay/internal/domain"
	"github.com/driftmesh/overlay/internal/wire"
)

func TestPingOneResetsStrikesOnPong(t *testing.T) {
	self := domain.NodeID{Host: "10.0.0.1", Port: 6000}
	s := newTestState(self)

	neighborID := domain.NodeID{Host: "10.0.0.2", Port: 6001}
	conn, raw := pipeConnPeer(t)
	defer raw.Close()
	s.addNeighbor(neighborID, conn)

	s.mu.Lock()
	s.neighbors[neighborID].strikes = 2
	s.mu.Unlock()

	// Respond to the PING with a PONG carrying the same seq.
	go func() {
		msg, err := wire.ReadFrame(raw)
		if err != nil {
			return
		}
		_ = wire.WriteFrame(raw, wire.Envelope{Type: wire.TypePong, SeqNo: msg.SeqNo})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	// The PONG reaches HandlePong through the neighbor's read loop.
	go s.runNeighborReadLoop(ctx, neighborID, conn)
	s.pingOne(ctx, neighborID)

	s.mu.RLock()
	strikes := s.neighbors[neighborID].strikes
	s.mu.RUnlock()
	if strikes != 0 {
		t.Fatalf("strikes = %d, want 0 after a successful PONG", strikes)
	}
}

func TestOnLocalSuspicionTransitionsState(t *testing.T) {
	self := domain.NodeID{Host: "10.0.0.1", Port: 6000}
	s := newTestState(self)

	target := domain.NodeID{Host: "10.0.0.2", Port: 6001}
	conn, raw := pipeConnPeer(t)
	defer raw.Close()
	s.addNeighbor(target, conn)

	s.onLocalSuspicion(context.Background(), target)

	s.mu.RLock()
	state := s.neighbors[target].state
	_, suspecting := s.suspects[target]
	s.mu.RUnlock()

	if state != domain.NeighborLocalSuspect {
		t.Fatalf("state = %v, want local-suspect", state)
	}
	if !suspecting {
		t.Fatal("expected an open suspicion record")
	}
}

func TestReapSuspicionsEscalatesOnDeadQuorum(t *testing.T) {
	self := domain.NodeID{Host: "10.0.0.1", Port: 6000}
	s := newTestState(self)

	target := domain.NodeID{Host: "10.0.0.2", Port: 6001}
	conn, raw := pipeConnPeer(t)
	defer raw.Close()
	s.addNeighbor(target, conn)

	seedConn, seedRaw := pipeConnPeer(t)
	defer seedRaw.Close()
	s.registerSeedLink(domain.NodeID{Host: "10.0.0.9", Port: 7000}, seedConn)

	s.onLocalSuspicion(context.Background(), target)
	s.HandleSuspectResponse(wire.Envelope{Type: wire.TypeSuspectResponse, Target: target, Verdict: wire.VerdictDead}, domain.NodeID{Host: "10.0.0.3", Port: 6002})
	s.HandleSuspectResponse(wire.Envelope{Type: wire.TypeSuspectResponse, Target: target, Verdict: wire.VerdictDead}, domain.NodeID{Host: "10.0.0.4", Port: 6003})

	s.mu.Lock()
	s.suspects[target].deadline = time.Now().Add(-time.Millisecond)
	s.mu.Unlock()

	done := make(chan wire.Envelope, 1)
	go func() {
		msg, err := wire.ReadFrame(seedRaw)
		if err == nil {
			done <- msg
		}
	}()

	s.ReapSuspicions(context.Background())

	select {
	case msg := <-done:
		if msg.Type != wire.TypeDeadReport || msg.Victim != target {
			t.Fatalf("expected DEAD_REPORT for %v, got %+v", target, msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for DEAD_REPORT escalation")
	}
}

func TestReapSuspicionsClearsOnAliveQuorum(t *testing.T) {
	self := domain.NodeID{Host: "10.0.0.1", Port: 6000}
	s := newTestState(self)

	target := domain.NodeID{Host: "10.0.0.2", Port: 6001}
	conn, raw := pipeConnPeer(t)
	defer raw.Close()
	s.addNeighbor(target, conn)

	s.onLocalSuspicion(context.Background(), target)
	s.HandleSuspectResponse(wire.Envelope{Type: wire.TypeSuspectResponse, Target: target, Verdict: wire.VerdictAlive}, domain.NodeID{Host: "10.0.0.3", Port: 6002})
	s.HandleSuspectResponse(wire.Envelope{Type: wire.TypeSuspectResponse, Target: target, Verdict: wire.VerdictAlive}, domain.NodeID{Host: "10.0.0.4", Port: 6003})

	s.mu.Lock()
	s.suspects[target].deadline = time.Now().Add(-time.Millisecond)
	s.mu.Unlock()

	s.ReapSuspicions(context.Background())

	s.mu.RLock()
	state := s.neighbors[target].state
	_, stillSuspect := s.suspects[target]
	s.mu.RUnlock()

	if state != domain.NeighborHealthy {
		t.Fatalf("state = %v, want healthy after alive quorum", state)
	}
	if stillSuspect {
		t.Fatal("suspicion record should be cleared")
	}
}

func TestReapDeathReportsRetriesUnconfirmedReport(t *testing.T) {
	self := domain.NodeID{Host: "10.0.0.1", Port: 6000}
	s := newTestState(self)
	s.Tuning.SeedConfirmTimeout.Duration = time.Hour

	target := domain.NodeID{Host: "10.0.0.2", Port: 6001}
	seedConn, seedRaw := pipeConnPeer(t)
	defer seedRaw.Close()
	s.registerSeedLink(domain.NodeID{Host: "10.0.0.9", Port: 7000}, seedConn)

	s.mu.Lock()
	s.pendingDeadReports[target] = &pendingDeadReport{
		escalatedAt: time.Now(),
		lastSentAt:  time.Now().Add(-deadReportRetryInterval),
	}
	s.mu.Unlock()

	done := make(chan wire.Envelope, 1)
	go func() {
		msg, err := wire.ReadFrame(seedRaw)
		if err == nil {
			done <- msg
		}
	}()

	s.ReapDeathReports(context.Background(), 0, 0)

	select {
	case msg := <-done:
		if msg.Type != wire.TypeDeadReport || msg.Victim != target {
			t.Fatalf("expected retried DEAD_REPORT for %v, got %+v", target, msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for retried DEAD_REPORT")
	}

	s.mu.RLock()
	_, stillPending := s.pendingDeadReports[target]
	s.mu.RUnlock()
	if !stillPending {
		t.Fatal("expected the pending death report to remain until confirmed or timed out")
	}
}

func TestReapDeathReportsPurgesAfterSeedConfirmTimeout(t *testing.T) {
	self := domain.NodeID{Host: "10.0.0.1", Port: 6000}
	s := newTestState(self)
	s.Tuning.MinNeighbors = 0
	s.Tuning.SeedConfirmTimeout.Duration = time.Millisecond

	target := domain.NodeID{Host: "10.0.0.2", Port: 6001}
	conn, raw := pipeConnPeer(t)
	defer raw.Close()
	s.addNeighbor(target, conn)

	s.mu.Lock()
	s.pendingDeadReports[target] = &pendingDeadReport{
		escalatedAt: time.Now().Add(-time.Second),
		lastSentAt:  time.Now(),
	}
	s.mu.Unlock()

	s.ReapDeathReports(context.Background(), 0, 0)

	if s.NeighborCount() != 0 {
		t.Fatalf("neighbor count = %d, want 0 after seed-confirm timeout purge", s.NeighborCount())
	}
	if !s.isPurged(target) {
		t.Fatal("expected target to be marked purged after seed-confirm timeout")
	}
	s.mu.RLock()
	_, stillPending := s.pendingDeadReports[target]
	s.mu.RUnlock()
	if stillPending {
		t.Fatal("expected the pending death report to be cleared after timeout purge")
	}
}

func TestPurgeIfConfirmedRemovesNeighborAndMarksPurged(t *testing.T) {
	self := domain.NodeID{Host: "10.0.0.1", Port: 6000}
	s := newTestState(self)
	s.Tuning.MinNeighbors = 0

	target := domain.NodeID{Host: "10.0.0.2", Port: 6001}
	conn, raw := pipeConnPeer(t)
	defer raw.Close()
	s.addNeighbor(target, conn)

	s.PurgeIfConfirmed(context.Background(), target, 0, 0)

	if s.NeighborCount() != 0 {
		t.Fatalf("neighbor count = %d, want 0 after purge", s.NeighborCount())
	}
	if !s.isPurged(target) {
		t.Fatal("expected target to be marked purged")
	}
}
