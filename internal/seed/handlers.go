package seed

import (
	"context"

	"github.com/driftmesh/overlay/internal/domain"
	"github.com/driftmesh/overlay/internal/wire"
)

// Dispatch routes one inbound envelope to its handler. from is the remote
// identity if known (empty NodeID before a HELLO/REGISTER_REQUEST has
// established it); conn is the connection the envelope arrived on, used
// to reply in place.
func (c *Core) Dispatch(ctx context.Context, from domain.NodeID, msg wire.Envelope, conn *wire.Conn) domain.NodeID {
	switch msg.Type {
	case wire.TypeHello:
		if c.AcceptInboundSeedLink(msg.Self, conn) {
			from = msg.Self
		}
	case wire.TypeRegisterRequest:
		c.HandleRegisterRequest(ctx, msg, conn)
		from = msg.PeerID
	case wire.TypeRegisterProposal:
		c.HandleRegisterProposal(msg)
	case wire.TypeRegisterVote:
		c.HandleRegisterVote(ctx, msg)
	case wire.TypeRegisterCommit:
		c.HandleRegisterCommit(msg)
	case wire.TypeDeadReport:
		c.HandleDeadReport(ctx, msg)
	case wire.TypeDeadProposal:
		c.HandleDeadProposal(msg)
	case wire.TypeDeadVote:
		c.HandleDeadVote(ctx, msg)
	case wire.TypeDeadConfirmed:
		c.HandleDeadConfirmed(msg)
	case wire.TypePLRequest:
		c.HandlePLRequest(conn)
		if msg.Self != (domain.NodeID{}) {
			c.registerPeerLink(msg.Self, conn)
			from = msg.Self
		}
	default:
		// Unknown message kinds are logged and ignored, never fatal to the
		// link, so a newer peer speaking a future message type doesn't
		// break the connection.
		if c.Log != nil {
			c.Log.Log("UNKNOWN_MESSAGE", map[string]string{"type": string(msg.Type)})
		}
	}
	return from
}
