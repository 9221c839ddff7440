package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestRecordAndCountRegisterCommits(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	if err := s.RecordRegisterCommit(ctx, "10.0.0.1:6001", "10.0.0.1:7000", time.Unix(0, 0)); err != nil {
		t.Fatalf("RecordRegisterCommit: %v", err)
	}
	if err := s.RecordRegisterCommit(ctx, "10.0.0.1:6001", "10.0.0.1:7001", time.Unix(0, 0)); err != nil {
		t.Fatalf("RecordRegisterCommit: %v", err)
	}

	n, err := s.RegisterCommitCount(ctx, "10.0.0.1:6001")
	if err != nil {
		t.Fatalf("RegisterCommitCount: %v", err)
	}
	if n != 2 {
		t.Errorf("RegisterCommitCount = %d, want 2", n)
	}
}

func TestRecordDeathConfirmed(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	if err := s.RecordDeathConfirmed(ctx, "10.0.0.1:6001", "10.0.0.1:7000", time.Unix(0, 0)); err != nil {
		t.Fatalf("RecordDeathConfirmed: %v", err)
	}
}

func TestOpenIsIdempotentAcrossMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	s1.Close()
	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	s2.Close()
}
