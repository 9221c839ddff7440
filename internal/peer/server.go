package peer

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/driftmesh/overlay/internal/domain"
	"github.com/driftmesh/overlay/internal/eventlog"
	"github.com/driftmesh/overlay/internal/nodeconfig"
	"github.com/driftmesh/overlay/internal/wire"
)

// Server owns the peer's listening socket and its periodic tickers:
// gossip origination, ping sweeps, and suspicion-quorum reaping.
type Server struct {
	State     *State
	Transport nodeconfig.TransportTuning
	listener  net.Listener
}

// Listen binds addr ("host:port") and returns a Server ready to Serve.
func Listen(addr string, state *State, transport nodeconfig.TransportTuning) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("peer: listen %s: %w", addr, err)
	}
	return &Server{State: state, Transport: transport, listener: ln}, nil
}

// Serve accepts inbound HELLO connections and runs the gossip, liveness,
// and suspicion tickers until ctx is canceled, then stops cleanly.
func (srv *Server) Serve(ctx context.Context) error {
	go srv.gossipLoop(ctx)
	go srv.livenessLoop(ctx)
	go srv.suspicionReapLoop(ctx)

	go func() {
		<-ctx.Done()
		srv.listener.Close()
	}()

	for {
		raw, err := srv.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				if srv.State.Log != nil {
					srv.State.Log.Log(eventlog.KindShutdown, map[string]string{"component": "peer_listener"})
				}
				return nil
			default:
				return fmt.Errorf("peer: accept: %w", err)
			}
		}
		go srv.handleInbound(ctx, raw)
	}
}

func (srv *Server) handleInbound(ctx context.Context, raw net.Conn) {
	conn := wire.NewConn(raw)
	// The first frame on an inbound overlay connection is always HELLO;
	// once it is accepted, the neighbor read loop started by
	// AcceptInboundHello owns the connection and dispatches everything after
	// that with the now-known identity, so this loop stops reading.
	for {
		msg, err := wire.ReadFrame(raw)
		if err != nil {
			conn.Close()
			return
		}
		if msg.Type == wire.TypeHello {
			if srv.State.AcceptInboundHello(ctx, msg.Self, conn) {
				return
			}
			continue
		}
		srv.State.Dispatch(ctx, domain.NodeID{}, msg, conn)
	}
}

func (srv *Server) gossipLoop(ctx context.Context) {
	interval := srv.State.Tuning.GossipInterval.Duration
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			srv.State.OriginateOnce()
		}
	}
}

func (srv *Server) livenessLoop(ctx context.Context) {
	interval := srv.State.Tuning.PingInterval.Duration
	if interval <= 0 {
		interval = 13 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			srv.State.PingSweep(ctx)
		}
	}
}

func (srv *Server) suspicionReapLoop(ctx context.Context) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			srv.State.ReapSuspicions(ctx)
			srv.State.ReapDeathReports(ctx, srv.Transport.DialRetries, srv.Transport.DialBackoff.Duration)
		}
	}
}

// Addr returns the bound listen address.
func (srv *Server) Addr() net.Addr {
	return srv.listener.Addr()
}
