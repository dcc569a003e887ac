package knowledge

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeLog(t *testing.T, lines string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "knowledge.jsonl")
	if err := os.WriteFile(path, []byte(lines), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	return path
}

func TestSince_FiltersByMarker(t *testing.T) {
	path := writeLog(t, `{"ts":"2026-03-01T10:00:00Z","kind":"note","summary":"before"}
{"ts":"2026-03-01T12:00:00Z","kind":"note","summary":"after"}
{"ts":"2026-03-01T13:00:00Z","kind":"note","summary":"later"}
`)
	r := NewReader(path, slog.New(slog.NewTextHandler(io.Discard, nil)))

	marker := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	entries, err := r.Since(marker)
	if err != nil {
		t.Fatalf("since: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Summary != "after" || entries[1].Summary != "later" {
		t.Fatalf("unexpected entries %+v", entries)
	}
}

func TestSince_MarkerIsExclusive(t *testing.T) {
	path := writeLog(t, `{"ts":"2026-03-01T11:00:00Z","kind":"note","summary":"at marker"}
`)
	r := NewReader(path, slog.New(slog.NewTextHandler(io.Discard, nil)))

	marker := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	entries, err := r.Since(marker)
	if err != nil {
		t.Fatalf("since: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("entry at the marker must be excluded, got %+v", entries)
	}
}

func TestSince_SkipsMalformedLines(t *testing.T) {
	path := writeLog(t, `{"ts":"2026-03-01T12:00:00Z","kind":"note","summary":"good"}
{torn line from a concurrent writer
{"ts":"2026-03-01T12:05:00Z","kind":"note","summary":"also good"}
`)
	r := NewReader(path, slog.New(slog.NewTextHandler(io.Discard, nil)))

	entries, err := r.Since(time.Time{})
	if err != nil {
		t.Fatalf("since: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected malformed line skipped, got %d entries", len(entries))
	}
}

func TestSince_MissingFileIsEmpty(t *testing.T) {
	r := NewReader(filepath.Join(t.TempDir(), "nope.jsonl"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	entries, err := r.Since(time.Time{})
	if err != nil {
		t.Fatalf("since: %v", err)
	}
	if entries != nil {
		t.Fatalf("expected nil entries, got %+v", entries)
	}
}
