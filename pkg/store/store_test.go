package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/teslashibe/go-callbridge/pkg/inference"
)

func transcript() []inference.Message {
	return []inference.Message{
		inference.NewSystemMessage("You are a support agent."),
		inference.NewAssistantMessage("Hello! How can I help?"),
		inference.NewUserMessage("My order is late."),
		inference.NewAssistantMessage("Let me check • that for you."),
		inference.NewUserMessage("Thanks."),
	}
}

// exerciseStore runs the ledger contract against any backend.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if _, err := s.Get(ctx, "CA-missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get missing: expected ErrNotFound, got %v", err)
	}

	if err := s.StartCall(ctx, "CA1", "MZ1"); err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if err := s.StartCall(ctx, "CA2", "MZ2"); err != nil {
		t.Fatalf("StartCall: %v", err)
	}

	c, err := s.Get(ctx, "CA1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if c.StreamSid != "MZ1" || c.EndedAt != nil || len(c.Transcript) != 0 {
		t.Errorf("unexpected fresh call: %+v", c)
	}

	if err := s.FinishCall(ctx, "CA1", transcript()); err != nil {
		t.Fatalf("FinishCall: %v", err)
	}
	c, err = s.Get(ctx, "CA1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if c.EndedAt == nil {
		t.Error("finished call should have an end time")
	}
	if len(c.Transcript) != 5 || c.Transcript[3].Content != "Let me check • that for you." {
		t.Errorf("transcript not stored: %+v", c.Transcript)
	}
	if c.Turns() != 2 {
		t.Errorf("Turns = %d, want 2", c.Turns())
	}

	calls, err := s.List(ctx, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(calls) != 2 || calls[0].CallSid != "CA2" {
		t.Errorf("expected newest first, got %+v", calls)
	}

	calls, err = s.List(ctx, 1)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(calls) != 1 {
		t.Errorf("limit not applied: %d calls", len(calls))
	}

	// A call that failed before it started still gets a transcript.
	if err := s.FinishCall(ctx, "CA3", nil); err != nil {
		t.Fatalf("FinishCall unknown: %v", err)
	}
	if c, err := s.Get(ctx, "CA3"); err != nil || c.EndedAt == nil {
		t.Errorf("unknown call should be created on finish: %+v, %v", c, err)
	}
}

func TestMemory(t *testing.T) {
	s := NewMemory()
	defer s.Close()
	exerciseStore(t, s)
}

func TestMemoryGetReturnsCopy(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	_ = s.StartCall(ctx, "CA1", "MZ1")

	c, _ := s.Get(ctx, "CA1")
	c.StreamSid = "changed"

	again, _ := s.Get(ctx, "CA1")
	if again.StreamSid != "MZ1" {
		t.Error("Get must not expose internal state")
	}
}

func TestFilePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calls", "ledger.json")

	s, err := NewFile(path)
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	exerciseStore(t, s)

	reopened, err := NewFile(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	c, err := reopened.Get(context.Background(), "CA1")
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if len(c.Transcript) != 5 || c.EndedAt == nil {
		t.Errorf("call not restored: %+v", c)
	}
	calls, _ := reopened.List(context.Background(), 0)
	if len(calls) != 3 {
		t.Errorf("expected 3 calls after reopen, got %d", len(calls))
	}
}

func TestFileCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFile(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestPostgres(t *testing.T) {
	url := os.Getenv("CALLBRIDGE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("CALLBRIDGE_TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := OpenPostgres(ctx, url)
	if err != nil {
		t.Fatalf("OpenPostgres: %v", err)
	}
	defer s.Close()

	if _, err := s.pool.Exec(ctx, `DELETE FROM calls WHERE call_sid IN ('CA1', 'CA2', 'CA3')`); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	exerciseStore(t, s)
}
