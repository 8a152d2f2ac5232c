package rules

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type captureSink struct {
	mu     sync.Mutex
	events []map[string]any
	ch     chan map[string]any
}

func newCaptureSink() *captureSink {
	return &captureSink{ch: make(chan map[string]any, 16)}
}

func (s *captureSink) Emit(eventType string, data map[string]any) {
	s.mu.Lock()
	s.events = append(s.events, data)
	s.mu.Unlock()
	select {
	case s.ch <- data:
	default:
	}
}

func TestWatcherEmitsWarningOnTableChange(t *testing.T) {
	dir := t.TempDir()
	writeTables(t, dir)

	sink := newCaptureSink()
	w := NewTableWatcher(dir, sink)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	if !w.IsWatching() {
		t.Fatal("watcher should report watching after Start")
	}

	// Rewrite a table and wait for the debounced warning.
	if err := os.WriteFile(filepath.Join(dir, rulesFile), []byte(`[]`), 0o644); err != nil {
		t.Fatalf("rewrite rules table: %v", err)
	}

	select {
	case data := <-sink.ch:
		if data["reason"] != "rule_tables_changed" {
			t.Errorf("reason = %v, want rule_tables_changed", data["reason"])
		}
		if data["file"] != rulesFile {
			t.Errorf("file = %v, want %s", data["file"], rulesFile)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no warning event after table change")
	}

	stats := w.GetStats()
	if stats.ChangesSettled == 0 {
		t.Error("expected at least one settled change in stats")
	}
	if stats.EventsReceived == 0 {
		t.Error("expected raw events in stats")
	}
}

func TestWatcherIgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	writeTables(t, dir)

	sink := newCaptureSink()
	w := NewTableWatcher(dir, sink)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("scratch"), 0o644); err != nil {
		t.Fatalf("write unrelated file: %v", err)
	}

	select {
	case data := <-sink.ch:
		t.Fatalf("unexpected event for unrelated file: %v", data)
	case <-time.After(1 * time.Second):
	}
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	writeTables(t, dir)

	w := NewTableWatcher(dir, newCaptureSink())
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	w.Stop()
	w.Stop()

	if w.IsWatching() {
		t.Error("watcher should not report watching after Stop")
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("restart after Stop failed: %v", err)
	}
	w.Stop()
}

func TestWatcherResetStats(t *testing.T) {
	w := NewTableWatcher(t.TempDir(), nil)
	w.mu.Lock()
	w.stats.EventsReceived = 5
	w.stats.ChangesSettled = 2
	w.mu.Unlock()

	w.ResetStats()

	stats := w.GetStats()
	if stats.EventsReceived != 0 || stats.ChangesSettled != 0 {
		t.Errorf("stats not reset: %+v", stats)
	}
}
