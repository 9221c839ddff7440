package peer

import (
	"context"
	"net"
	"time"

	"github.com/driftmesh/overlay/internal/domain"
	"github.com/driftmesh/overlay/internal/observability"
	"github.com/driftmesh/overlay/internal/wire"
)

// dialNeighbor opens an outbound link to target and sends the HELLO
// handshake, applying the lower-(host,port)-wins tiebreak against any
// existing link.
func (s *State) dialNeighbor(ctx context.Context, target domain.NodeID, dialRetries int, backoff time.Duration) error {
	if s.isPurged(target) {
		return domain.ErrAlreadyPurged
	}

	var raw net.Conn
	var err error
	for attempt := 0; dialRetries <= 0 || attempt <= dialRetries; attempt++ {
		raw, err = net.DialTimeout("tcp", target.String(), 5*time.Second)
		if err == nil {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	if err != nil {
		return err
	}

	conn := wire.NewConn(raw)
	if !s.acceptNeighborLink(target, conn, true) {
		conn.Close()
		return nil // the existing, lower-identity-initiated link wins
	}
	_ = conn.Send(wire.Envelope{Type: wire.TypeHello, Self: s.Self})
	observability.LinkChurn.WithLabelValues("peer", "outbound").Inc()

	go s.runNeighborReadLoop(ctx, target, conn)
	return nil
}

// acceptNeighborLink installs conn as the link to id, applying the
// lower-(host,port)-wins tiebreak when a link to the same identity already
// exists.
func (s *State) acceptNeighborLink(id domain.NodeID, conn *wire.Conn, selfInitiated bool) bool {
	initiatedByLower := (selfInitiated && s.Self.Less(id)) || (!selfInitiated && id.Less(s.Self))

	s.mu.Lock()
	if _, exists := s.neighbors[id]; exists && !initiatedByLower {
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()

	s.addNeighbor(id, conn)
	return true
}

// AcceptInboundHello handles an inbound HELLO, installing the sender as a
// neighbor if the tiebreak favors this connection.
func (s *State) AcceptInboundHello(ctx context.Context, self domain.NodeID, conn *wire.Conn) bool {
	if s.isPurged(self) {
		return false
	}
	if !s.acceptNeighborLink(self, conn, false) {
		return false
	}
	go s.runNeighborReadLoop(ctx, self, conn)
	return true
}

func (s *State) runNeighborReadLoop(ctx context.Context, id domain.NodeID, conn *wire.Conn) {
	err := conn.ReadLoop(func(msg wire.Envelope) error {
		s.Dispatch(ctx, id, msg, conn)
		return nil
	})
	_ = err

	s.mu.Lock()
	stillCurrent := s.neighbors[id] != nil && s.neighbors[id].conn == conn
	s.mu.Unlock()
	if stillCurrent {
		// Broken pipe: local suspicion fires immediately, bypassing the
		// strike counter.
		s.onLocalSuspicion(ctx, id)
	}
}
