package peer

import (
	"context"

	"github.com/driftmesh/overlay/internal/domain"
	"github.com/driftmesh/overlay/internal/wire"
)

// Dispatch routes one inbound envelope arriving on a neighbor or seed
// link. from is the best-known identity of the remote end (may be the
// zero value before a HELLO has been processed on this connection).
func (s *State) Dispatch(ctx context.Context, from domain.NodeID, msg wire.Envelope, conn *wire.Conn) {
	switch msg.Type {
	case wire.TypeHello:
		s.AcceptInboundHello(ctx, msg.Self, conn)
	case wire.TypeGossip:
		s.HandleGossip(ctx, from, msg)
	case wire.TypePing:
		s.HandlePing(conn, msg)
	case wire.TypePong:
		s.HandlePong(msg, from)
	case wire.TypeSuspectRequest:
		s.HandleSuspectRequest(conn, msg)
	case wire.TypeSuspectResponse:
		s.HandleSuspectResponse(msg, from)
	case wire.TypeDeadConfirmed:
		s.PurgeIfConfirmed(ctx, msg.Victim, 0, 0)
	case wire.TypePLResponse:
		s.MaybeResample(ctx, msg.PL, 0, 0)
	default:
		if s.Log != nil {
			s.Log.Log("UNKNOWN_MESSAGE", map[string]string{"type": string(msg.Type)})
		}
	}
}
