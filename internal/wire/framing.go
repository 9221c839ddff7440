package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/driftmesh/overlay/internal/domain"
)

// MaxFrameBytes bounds a single frame to guard against a hostile or
// corrupted length prefix turning into an unbounded allocation.
const MaxFrameBytes = 16 * 1024 * 1024

// WriteFrame writes a 4-byte big-endian length prefix followed by the
// UTF-8 JSON encoding of msg. Readers on the other end block (or
// cooperatively yield) until the full frame arrives; WriteFrame itself
// performs a single Write of the whole buffer so partial frames are never
// observed by a correct reader.
func WriteFrame(w io.Writer, msg Envelope) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	if len(body) > MaxFrameBytes {
		return domain.ErrFrameTooLarge
	}

	buf := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(body)))
	copy(buf[4:], body)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadFrame blocks until a complete frame is available, then decodes it.
// A malformed length or a JSON parse failure returns a domain sentinel so
// callers can route to the suspicion path (for a neighbor link) or a
// transient-retry path (for a seed link).
func ReadFrame(r io.Reader) (Envelope, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Envelope{}, fmt.Errorf("read frame length: %w", err)
	}

	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxFrameBytes {
		return Envelope{}, domain.ErrFrameTooLarge
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return Envelope{}, fmt.Errorf("read frame body: %w", err)
	}

	var msg Envelope
	if err := json.Unmarshal(body, &msg); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", domain.ErrBadJSON, err)
	}
	return msg, nil
}
