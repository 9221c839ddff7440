package eventlog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLogWritesLineAndFlushesOnClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outputfile_seed_5001.txt")
	logger, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	logger.Log(KindRegisterCommit, map[string]string{"peer": "127.0.0.1:6001"})
	logger.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := strings.TrimSpace(string(data))
	if !strings.Contains(line, string(KindRegisterCommit)) {
		t.Errorf("log line missing event kind: %q", line)
	}
	if !strings.Contains(line, "peer=127.0.0.1:6001") {
		t.Errorf("log line missing field: %q", line)
	}
}

func TestLogAppendsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outputfile_peer_6001.txt")

	l1, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	l1.Log(KindShutdown, nil)
	l1.Close()

	l2, err := Open(path)
	if err != nil {
		t.Fatalf("Open (reopen): %v", err)
	}
	l2.Log(KindGossipFirstSeen, nil)
	l2.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %v", len(lines), lines)
	}
}

func TestLogNeverBlocksOnFullBuffer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outputfile_seed_5002.txt")
	logger, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer logger.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			logger.Log(KindGossipFirstSeen, nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Log blocked under backpressure")
	}
}
