package logbook

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestTailReturnsRecentLinesAndTotal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logs", "sarafan.log")
	book, err := New(path)
	if err != nil {
		t.Fatalf("new logbook: %v", err)
	}
	for i := 0; i < 5; i++ {
		book.Info("entry-%d", i)
	}
	lines, total := book.Tail(3)
	if total != 5 {
		t.Fatalf("total lines = %d, want 5", total)
	}
	if len(lines) != 3 {
		t.Fatalf("len(lines) = %d, want 3", len(lines))
	}
	for idx, want := range []string{"entry-2", "entry-3", "entry-4"} {
		if !strings.Contains(lines[idx], want) {
			t.Fatalf("line %d = %q, missing %s", idx, lines[idx], want)
		}
	}
}

func TestMinLevelFiltersEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sarafan.log")
	book, err := New(path, WithMinLevel(LevelWarn))
	if err != nil {
		t.Fatalf("new logbook: %v", err)
	}
	book.Info("quiet")
	book.Warn("loud")
	book.Error("louder")
	lines, total := book.Tail(10)
	if total != 2 {
		t.Fatalf("total = %d, want 2: %v", total, lines)
	}
	if !strings.Contains(lines[0], "WARN") || !strings.Contains(lines[1], "ERROR") {
		t.Fatalf("unexpected lines: %v", lines)
	}
}

func TestPrintfRoutesLevelMarkers(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	path := filepath.Join(t.TempDir(), "sarafan.log")
	book, err := New(path, WithClock(func() time.Time { return fixed }))
	if err != nil {
		t.Fatalf("new logbook: %v", err)
	}
	book.Printf("error: fetch failed: %s", "boom")
	book.Printf("router: dropped %d", 1)
	lines, _ := book.Tail(2)
	if want := "2024-03-01T12:00:00Z ERROR fetch failed: boom"; lines[0] != want {
		t.Fatalf("line 0 = %q, want %q", lines[0], want)
	}
	if !strings.Contains(lines[1], "INFO  router: dropped 1") {
		t.Fatalf("line 1 = %q", lines[1])
	}
}

func TestNilLogbookIsSafe(t *testing.T) {
	var book *Logbook
	book.Info("ignored")
	book.Printf("ignored")
	if lines, total := book.Tail(3); lines != nil || total != 0 {
		t.Fatalf("nil logbook tail = %v, %d", lines, total)
	}
	if book.Path() != "" {
		t.Fatalf("nil logbook path should be empty")
	}
}
