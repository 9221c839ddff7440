package wire

import (
	"bytes"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/driftmesh/overlay/internal/domain"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	msg := Envelope{
		Type:   TypeGossip,
		Payload: "1700000000.000000:127.0.0.1:0",
	}
	if err := WriteFrame(&buf, msg); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if got.Type != msg.Type || got.Payload != msg.Payload {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, msg)
	}
}

func TestReadFrameMalformedLength(t *testing.T) {
	var buf bytes.Buffer
	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, MaxFrameBytes+1)
	buf.Write(lenBuf)

	if _, err := ReadFrame(&buf); err == nil {
		t.Error("expected error for oversized frame length")
	}
}

func TestReadFrameBadJSON(t *testing.T) {
	var buf bytes.Buffer
	body := []byte("not json")
	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(body)))
	buf.Write(lenBuf)
	buf.Write(body)

	if _, err := ReadFrame(&buf); err == nil {
		t.Error("expected error for malformed JSON body")
	}
}

// TestFrameOverPipe exercises the codec over a real net.Conn (via
// net.Pipe) rather than an in-memory buffer, matching how read loops
// actually consume frames: one blocking ReadFull at a time.
func TestFrameOverPipe(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	want := Envelope{
		Type:     TypeRegisterRequest,
		PeerID:   domain.NodeID{Host: "127.0.0.1", Port: 6001},
		CorrelationID: "abc-123",
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- WriteFrame(client, want)
	}()

	client.SetDeadline(time.Now().Add(2 * time.Second))
	server.SetDeadline(time.Now().Add(2 * time.Second))

	got, err := ReadFrame(server)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if got.Type != want.Type || got.PeerID != want.PeerID || got.CorrelationID != want.CorrelationID {
		t.Errorf("got %+v, want %+v", got, want)
	}
}
