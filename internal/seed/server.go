package seed

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/driftmesh/overlay/internal/domain"
	"github.com/driftmesh/overlay/internal/eventlog"
	"github.com/driftmesh/overlay/internal/wire"
)

// Server owns the listening socket and the periodic proposal reaper for
// one seed process.
type Server struct {
	Core     *Core
	listener net.Listener
}

// Listen binds addr ("host:port") and returns a Server ready to Serve.
func Listen(addr string, core *Core) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("seed: listen %s: %w", addr, err)
	}
	return &Server{Core: core, listener: ln}, nil
}

// Serve accepts connections and runs the proposal reaper until ctx is
// canceled, at which point it stops accepting and returns. No connection
// is forcibly killed; existing handler goroutines drain on their own
// read-loop errors.
func (s *Server) Serve(ctx context.Context) error {
	go s.reapLoop(ctx)

	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	for {
		raw, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				if s.Core.Log != nil {
					s.Core.Log.Log(eventlog.KindShutdown, map[string]string{"component": "seed_listener"})
				}
				return nil
			default:
				return fmt.Errorf("seed: accept: %w", err)
			}
		}
		go s.handleConn(ctx, raw)
	}
}

func (s *Server) handleConn(ctx context.Context, raw net.Conn) {
	conn := wire.NewConn(raw)
	var remote domain.NodeID

	err := conn.ReadLoop(func(msg wire.Envelope) error {
		remote = s.Core.Dispatch(ctx, remote, msg, conn)
		return nil
	})
	_ = err

	if remote != (domain.NodeID{}) {
		s.Core.removePeerLink(remote)
		s.Core.linkMu.Lock()
		if s.Core.seedLinks[remote] == conn {
			delete(s.Core.seedLinks, remote)
		}
		s.Core.linkMu.Unlock()
	}
}

func (s *Server) reapLoop(ctx context.Context) {
	interval := s.Core.Tuning.ProposalTimeout.Duration / 4
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Core.ReapExpiredRegisterProposals()
			s.Core.ReapExpiredDeathProposals()
		}
	}
}

// Addr returns the bound listen address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}
