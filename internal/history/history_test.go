package history

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := Open(Config{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "history.db"),
	}, logger)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("Close() failed: %v", err)
		}
	})
	return store
}

func TestStore_AppendAndRecent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i, cmd := range []string{"echo one", "echo two", "echo three"} {
		rec := &Record{
			Backend:    "docker",
			Tool:       "shell",
			Command:    cmd,
			ExitCode:   i, // 0, 1, 2
			DurationMS: 150,
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.Append(ctx, rec); err != nil {
			t.Fatalf("Append() failed: %v", err)
		}
		if rec.ID == "" {
			t.Error("Append() did not assign an ID")
		}
	}

	records, err := store.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent() failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	// Newest first.
	if records[0].Command != "echo three" || records[1].Command != "echo two" {
		t.Errorf("order = [%s, %s], want newest first", records[0].Command, records[1].Command)
	}
	if records[0].ExitCode != 2 {
		t.Errorf("exit code = %d, want 2", records[0].ExitCode)
	}
}

func TestStore_RecentDefaultLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for range 25 {
		if err := store.Append(ctx, &Record{Backend: "docker", Tool: "shell", Command: "true"}); err != nil {
			t.Fatalf("Append() failed: %v", err)
		}
	}

	records, err := store.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("Recent() failed: %v", err)
	}
	if len(records) != 20 {
		t.Errorf("got %d records, want the default limit of 20", len(records))
	}
}

func TestStore_TimedOutRecorded(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Append(ctx, &Record{
		Backend:  "daytona",
		Tool:     "python",
		Command:  "while True: pass",
		ExitCode: -1,
		TimedOut: true,
	}); err != nil {
		t.Fatalf("Append() failed: %v", err)
	}

	records, err := store.Recent(ctx, 1)
	if err != nil {
		t.Fatalf("Recent() failed: %v", err)
	}
	if len(records) != 1 || !records[0].TimedOut || records[0].ExitCode != -1 {
		t.Errorf("records = %+v, want timeout preserved", records)
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := Open(Config{Driver: "mysql"}, logger); err == nil {
		t.Error("expected error for unknown driver")
	}
}

func TestOpen_SQLiteRequiresPath(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := Open(Config{Driver: "sqlite"}, logger); err == nil {
		t.Error("expected error for missing sqlite path")
	}
}
