package seed

import (
	"context"
	"net"
	"time"

	"github.com/driftmesh/overlay/internal/domain"
	"github.com/driftmesh/overlay/internal/eventlog"
	"github.com/driftmesh/overlay/internal/observability"
	"github.com/driftmesh/overlay/internal/wire"
)

// DialMesh establishes and maintains a stable connection to every other
// configured seed, reconnecting with backoff on failure. It returns once
// the initial dial attempts have been issued; reconnection continues in
// background goroutines until ctx is canceled or, when maxRetries > 0, until
// maxRetries+1 consecutive dials to that seed have failed, at which point
// that link's maintenance loop returns and the link is not redialed.
func (c *Core) DialMesh(ctx context.Context, dialBackoff time.Duration, maxRetries int) {
	for _, seed := range c.AllSeeds {
		if seed == c.Self {
			continue
		}
		go c.maintainSeedLink(ctx, seed, dialBackoff, maxRetries)
	}
}

func (c *Core) maintainSeedLink(ctx context.Context, remote domain.NodeID, backoff time.Duration, maxRetries int) {
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		raw, err := net.DialTimeout("tcp", remote.String(), 5*time.Second)
		if err != nil {
			attempt++
			if maxRetries > 0 && attempt > maxRetries {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			continue
		}
		attempt = 0

		conn := wire.NewConn(raw)
		if !c.acceptSeedLink(remote, conn, true) {
			conn.Close()
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			continue
		}

		_ = conn.Send(wire.Envelope{Type: wire.TypeHello, Self: c.Self})
		observability.LinkChurn.WithLabelValues("seed", "outbound").Inc()
		if c.Log != nil {
			c.Log.Log(eventlog.KindSeedLinkUp, map[string]string{"remote": remote.String()})
		}

		err = conn.ReadLoop(func(msg wire.Envelope) error {
			c.Dispatch(ctx, remote, msg, conn)
			return nil
		})
		_ = err

		c.linkMu.Lock()
		if c.seedLinks[remote] == conn {
			delete(c.seedLinks, remote)
		}
		c.linkMu.Unlock()

		if c.Log != nil {
			c.Log.Log(eventlog.KindSeedLinkDown, map[string]string{"remote": remote.String()})
		}
		observability.LinkChurn.WithLabelValues("seed", "outbound").Inc()

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

// acceptSeedLink registers conn as the link to remote, applying the
// lower-(host,port)-wins tiebreak when a link to the same remote already
// exists: of the two directions, only the one initiated by the lower
// identity of the (self, remote) pair survives.
func (c *Core) acceptSeedLink(remote domain.NodeID, conn *wire.Conn, selfInitiated bool) bool {
	initiatedByLower := (selfInitiated && c.Self.Less(remote)) || (!selfInitiated && remote.Less(c.Self))

	c.linkMu.Lock()
	defer c.linkMu.Unlock()
	if _, exists := c.seedLinks[remote]; exists && !initiatedByLower {
		return false
	}
	c.seedLinks[remote] = conn
	return true
}

// AcceptInboundSeedLink registers an inbound connection identified as
// remote via its HELLO handshake, applying the same tiebreak.
func (c *Core) AcceptInboundSeedLink(remote domain.NodeID, conn *wire.Conn) bool {
	return c.acceptSeedLink(remote, conn, false)
}
