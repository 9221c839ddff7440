package peer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/driftmesh/overlay/internal/domain"
	"github.com/driftmesh/overlay/internal/eventlog"
	"github.com/driftmesh/overlay/internal/observability"
	"github.com/driftmesh/overlay/internal/wire"
)

func digestOf(payload string) string {
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// OriginateOnce emits one gossip message if this peer hasn't yet exhausted
// its per-lifetime origination budget. It is meant to be called once per
// GossipInterval tick.
func (s *State) OriginateOnce() {
	s.mlMu.Lock()
	if s.originated >= s.Tuning.MaxOriginated {
		s.mlMu.Unlock()
		return
	}
	s.originated++
	seq := s.originated
	payload := domain.GossipPayload(time.Now(), s.Self.Host, seq)
	s.ml[digestOf(payload)] = struct{}{}
	s.mlMu.Unlock()

	observability.GossipOriginated.Inc()
	msg := wire.Envelope{Type: wire.TypeGossip, Payload: payload, Self: s.Self}
	s.broadcastNeighborsExcept(msg, domain.NodeID{})
}

// HandleGossip applies exact-set dedup — the seen-message set never
// false-positives — before forwarding to every neighbor except the
// sender.
func (s *State) HandleGossip(ctx context.Context, from domain.NodeID, msg wire.Envelope) {
	digest := digestOf(msg.Payload)

	s.mlMu.Lock()
	if _, seen := s.ml[digest]; seen {
		s.mlMu.Unlock()
		observability.GossipDuplicates.Inc()
		return
	}
	s.ml[digest] = struct{}{}
	s.mlMu.Unlock()

	if s.Log != nil {
		s.Log.Log(eventlog.KindGossipFirstSeen, map[string]string{"payload": msg.Payload, "from": from.String()})
	}
	observability.GossipForwarded.Inc()
	s.broadcastNeighborsExcept(msg, from)
}
