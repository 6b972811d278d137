package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/loykin/composr/internal/history"
)

func TestSinkRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	sink, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = sink.Close() }()

	ctx := context.Background()
	events := []history.Event{
		history.NewEvent(history.EventStart, "build", 100, "npm run build", "/logs/build-1.log"),
		history.NewEvent(history.EventKill, "build", 100, "npm run build", "/logs/build-1.log"),
		history.NewEvent(history.EventReap, "test", 200, "go test ./...", "/logs/test-2.log"),
	}
	for _, e := range events {
		if err := sink.Send(ctx, e); err != nil {
			t.Fatalf("Send %s: %v", e.Type, err)
		}
	}

	var count int
	if err := sink.db.QueryRow("SELECT COUNT(*) FROM run_history").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != len(events) {
		t.Fatalf("expected %d rows, got %d", len(events), count)
	}

	var name, cmd string
	err = sink.db.QueryRow("SELECT run_name, command FROM run_history WHERE event = 'reap'").Scan(&name, &cmd)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if name != "test" || cmd != "go test ./..." {
		t.Fatalf("row mismatch: %s %s", name, cmd)
	}
}

func TestSinkDSNPrefix(t *testing.T) {
	sink, err := New("sqlite://" + filepath.Join(t.TempDir(), "h.db"))
	if err != nil {
		t.Fatalf("New with prefix: %v", err)
	}
	_ = sink.Close()
}

func TestSinkEmptyPath(t *testing.T) {
	if _, err := New("  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}
