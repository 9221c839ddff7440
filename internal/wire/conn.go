package wire

import (
	"fmt"
	"net"
	"sync"

	"github.com/driftmesh/overlay/internal/domain"
)

// SendQueueBytes bounds the outbound buffer per link: write operations
// may block on socket send buffers, so each link's outbound queue is
// capped at 8 KiB; overflow drops the frame and Send returns
// ErrSendQueueFull. Conn itself does not change any link or neighbor state
// on overflow.
const SendQueueBytes = 8 * 1024

// Conn wraps a net.Conn with a dedicated write goroutine and a bounded
// outbound queue, so a slow reader on the far end can never block the
// caller's goroutine. A node-level lock is always acquired before a
// per-connection send lock, never the reverse — callers must never hold
// a node lock while calling Send if Send could block, so Send here never
// blocks: it enqueues or drops.
type Conn struct {
	raw net.Conn

	mu      sync.Mutex
	backlog []Envelope
	pending int // approximate bytes queued

	sendCh chan struct{}
	closed chan struct{}
	once   sync.Once
}

// NewConn starts the write pump for raw and returns the wrapper. Call
// ReadLoop (typically in its own goroutine) to consume inbound frames.
func NewConn(raw net.Conn) *Conn {
	c := &Conn{
		raw:    raw,
		sendCh: make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
	go c.writePump()
	return c
}

// RemoteAddr returns the network address of the far end. wire itself is
// identity-blind: mapping a connection to a NodeID happens in the callers
// once a HELLO/handshake has identified the peer.
func (c *Conn) RemoteAddr() net.Addr { return c.raw.RemoteAddr() }

// Send enqueues msg for asynchronous delivery. It never blocks: if the
// backlog would exceed SendQueueBytes, the frame is dropped and
// ErrSendQueueFull is returned so the caller can mark the link suspect.
func (c *Conn) Send(msg Envelope) error {
	approxSize := len(msg.Type) + len(msg.Payload) + 64

	c.mu.Lock()
	if c.pending+approxSize > SendQueueBytes {
		c.mu.Unlock()
		return domain.ErrSendQueueFull
	}
	c.backlog = append(c.backlog, msg)
	c.pending += approxSize
	c.mu.Unlock()

	select {
	case c.sendCh <- struct{}{}:
	default:
	}
	return nil
}

func (c *Conn) writePump() {
	for {
		select {
		case <-c.closed:
			return
		case <-c.sendCh:
		}

		for {
			c.mu.Lock()
			if len(c.backlog) == 0 {
				c.mu.Unlock()
				break
			}
			msg := c.backlog[0]
			c.backlog = c.backlog[1:]
			c.pending -= len(msg.Type) + len(msg.Payload) + 64
			if c.pending < 0 {
				c.pending = 0
			}
			c.mu.Unlock()

			if err := WriteFrame(c.raw, msg); err != nil {
				c.Close()
				return
			}
		}
	}
}

// ReadLoop blocks reading frames from raw and invokes handle for each one
// until the connection closes or handle returns a non-nil error. The
// terminal error (io.EOF, a broken-pipe error, or a protocol violation) is
// returned to the caller, which decides suspicion vs. transient retry.
func (c *Conn) ReadLoop(handle func(Envelope) error) error {
	for {
		msg, err := ReadFrame(c.raw)
		if err != nil {
			c.Close()
			return fmt.Errorf("read loop: %w", err)
		}
		if err := handle(msg); err != nil {
			c.Close()
			return err
		}
	}
}

// Close tears the connection down exactly once.
func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.closed)
		err = c.raw.Close()
	})
	return err
}
