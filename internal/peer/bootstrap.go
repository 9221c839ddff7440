package peer

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/driftmesh/overlay/internal/domain"
	"github.com/driftmesh/overlay/internal/nodeconfig"
	"github.com/driftmesh/overlay/internal/observability"
	"github.com/driftmesh/overlay/internal/sampling"
	"github.com/driftmesh/overlay/internal/wire"
)

// registerOutcome carries the first REGISTER_ACK/REGISTER_NACK this peer
// receives from any seed.
type registerOutcome struct {
	ack bool
	pl  []domain.NodeID
}

// plResult tags one seed's PL_RESPONSE for the union step.
type plResult struct {
	seed domain.NodeID
	pl   []domain.NodeID
}

// Bootstrap registers this peer with every configured seed, waits for the
// first ACK/NACK, collects the union peer list, and dials a
// preferential-attachment neighbor sample.
func Bootstrap(ctx context.Context, s *State, transport nodeconfig.TransportTuning) error {
	if len(s.Seeds) == 0 {
		return domain.ErrNoSeedsReachable
	}

	outcomeCh := make(chan registerOutcome, len(s.Seeds))
	plCh := make(chan plResult, len(s.Seeds))
	connected := 0

	for _, seed := range s.Seeds {
		conn, err := dialSeed(ctx, seed, transport)
		if err != nil {
			continue
		}
		connected++
		s.registerSeedLink(seed, conn)
		go s.runSeedReadLoop(ctx, seed, conn, outcomeCh, plCh)
		_ = conn.Send(wire.Envelope{Type: wire.TypeRegisterRequest, PeerID: s.Self})
	}
	if connected == 0 {
		return domain.ErrNoSeedsReachable
	}

	select {
	case outcome := <-outcomeCh:
		if !outcome.ack {
			return domain.ErrRegistrationNacked
		}
	case <-time.After(s.Tuning.SeedConfirmTimeout.Duration):
		return domain.ErrRegistrationTimeout
	case <-ctx.Done():
		return ctx.Err()
	}

	s.broadcastSeeds(wire.Envelope{Type: wire.TypePLRequest, Self: s.Self})

	lists := make([][]domain.NodeID, 0, connected)
	union := make(map[domain.NodeID]struct{})
	deadline := time.After(s.Tuning.SeedConfirmTimeout.Duration)
collect:
	for i := 0; i < connected; i++ {
		select {
		case r := <-plCh:
			lists = append(lists, r.pl)
			for _, id := range r.pl {
				if id != s.Self {
					union[id] = struct{}{}
				}
			}
		case <-deadline:
			break collect
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	candidates := make([]domain.NodeID, 0, len(union))
	for id := range union {
		candidates = append(candidates, id)
	}
	if len(candidates) == 0 {
		return nil // first peer in the overlay: no neighbors to sample yet
	}

	degree := sampling.DegreeEstimates(lists)
	chosen := s.Sampler.SampleNeighbors(candidates, degree)
	for _, target := range chosen {
		if err := s.dialNeighbor(ctx, target, transport.DialRetries, transport.DialBackoff.Duration); err != nil {
			continue
		}
	}
	return nil
}

func dialSeed(ctx context.Context, seed domain.NodeID, transport nodeconfig.TransportTuning) (*wire.Conn, error) {
	var err error
	for attempt := 0; attempt <= transport.DialRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(transport.DialBackoff.Duration):
			}
		}
		var raw net.Conn
		raw, err = net.DialTimeout("tcp", seed.String(), 5*time.Second)
		if err == nil {
			return wire.NewConn(raw), nil
		}
	}
	return nil, fmt.Errorf("dial seed %s: %w", seed, err)
}

func (s *State) runSeedReadLoop(ctx context.Context, seed domain.NodeID, conn *wire.Conn, outcomeCh chan registerOutcome, plCh chan plResult) {
	err := conn.ReadLoop(func(msg wire.Envelope) error {
		switch msg.Type {
		case wire.TypeRegisterAck:
			select {
			case outcomeCh <- registerOutcome{ack: true, pl: msg.PL}:
			default:
			}
		case wire.TypeRegisterNack:
			select {
			case outcomeCh <- registerOutcome{ack: false}:
			default:
			}
		case wire.TypePLResponse:
			select {
			case plCh <- plResult{seed: seed, pl: msg.PL}:
			default:
			}
		case wire.TypeDeadConfirmed:
			s.PurgeIfConfirmed(ctx, msg.Victim, 0, 0)
		default:
			s.Dispatch(ctx, seed, msg, conn)
		}
		return nil
	})
	_ = err
	observability.LinkChurn.WithLabelValues("seed", "inbound").Inc()
}

// resampleOneNeighbor dials one additional neighbor from seed-supplied PL
// data when the live neighbor count drops below the configured minimum.
func (s *State) resampleOneNeighbor(ctx context.Context, dialRetries int, backoff time.Duration) {
	s.linkMu.Lock()
	var anySeed domain.NodeID
	for id, conn := range s.seedLinks {
		anySeed = id
		_ = conn.Send(wire.Envelope{Type: wire.TypePLRequest, Self: s.Self})
		break
	}
	s.linkMu.Unlock()
	_ = anySeed
	// The PL_RESPONSE arrives asynchronously on the existing seed read
	// loop and is handled by Dispatch, which retries neighbor sampling
	// via MaybeResample once enough candidates are known.
}

// MaybeResample attempts to add one neighbor from candidates if this peer
// is still below its minimum neighbor count. Called from the PL_RESPONSE
// handler in handlers.go.
func (s *State) MaybeResample(ctx context.Context, candidates []domain.NodeID, dialRetries int, backoff time.Duration) {
	if !s.isBelowMinNeighbors() {
		return
	}
	existing := s.NeighborIDs()
	existingSet := make(map[domain.NodeID]struct{}, len(existing))
	for _, id := range existing {
		existingSet[id] = struct{}{}
	}
	fresh := make([]domain.NodeID, 0, len(candidates))
	for _, id := range candidates {
		if id == s.Self {
			continue
		}
		if _, dup := existingSet[id]; dup {
			continue
		}
		if s.isPurged(id) {
			continue
		}
		fresh = append(fresh, id)
	}
	if len(fresh) == 0 {
		return
	}
	target := s.Sampler.SampleNeighbors(fresh, nil)
	if len(target) == 0 {
		return
	}
	_ = s.dialNeighbor(ctx, target[0], dialRetries, backoff)
}
