package rules

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"submarine/internal/events"
	"submarine/internal/logging"
	"submarine/internal/types"
)

// TableWatcher watches the rules directory for edits to the table files.
// The registry itself is immutable, so the watcher only raises a warning
// event telling the operator to restart; it never hot-reloads.
type TableWatcher struct {
	mu          sync.Mutex
	dir         string
	sink        types.EventSink
	watcher     *fsnotify.Watcher
	debounceMap map[string]time.Time
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
	stats       WatcherStats
}

// WatcherStats tracks watcher activity for status output.
type WatcherStats struct {
	EventsReceived int64
	ChangesSettled int64
	Errors         int64
	LastChangePath string
	LastChangeTime time.Time
}

// NewTableWatcher creates a watcher for the table files in dir. Events are
// raised through sink.
func NewTableWatcher(dir string, sink types.EventSink) *TableWatcher {
	return &TableWatcher{
		dir:         dir,
		sink:        sink,
		debounceMap: make(map[string]time.Time),
		debounceDur: 500 * time.Millisecond,
	}
}

// Start begins watching. It is non-blocking; the watch loop runs until Stop
// is called or ctx is cancelled.
func (w *TableWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("table watcher already running")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(w.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	w.watcher = watcher
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.running = true

	go w.run(ctx)

	logging.Rules("Watching %s for table changes", w.dir)
	return nil
}

// Stop halts the watch loop and releases the fsnotify handle. Safe to call
// when not running.
func (w *TableWatcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	close(w.stopCh)
	doneCh := w.doneCh
	w.mu.Unlock()

	<-doneCh
}

// IsWatching reports whether the watch loop is active.
func (w *TableWatcher) IsWatching() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// GetStats returns a snapshot of watcher activity.
func (w *TableWatcher) GetStats() WatcherStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// ResetStats zeroes the activity counters.
func (w *TableWatcher) ResetStats() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats = WatcherStats{}
}

func (w *TableWatcher) run(ctx context.Context) {
	defer func() {
		w.mu.Lock()
		w.watcher.Close()
		w.running = false
		w.mu.Unlock()
		close(w.doneCh)
	}()

	debounceTicker := time.NewTicker(100 * time.Millisecond)
	defer debounceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()
			logging.RulesError("Table watcher error: %v", err)
		case <-debounceTicker.C:
			w.processDebounced()
		}
	}
}

// handleEvent records write activity on table files for debounced handling.
// Editors fire several events per save; the debounce window collapses them.
func (w *TableWatcher) handleEvent(event fsnotify.Event) {
	if !isTableFile(event.Name) {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
		return
	}

	w.mu.Lock()
	w.stats.EventsReceived++
	w.debounceMap[event.Name] = time.Now()
	w.mu.Unlock()

	logging.RulesDebug("Table file event: %s %s", event.Op, filepath.Base(event.Name))
}

// processDebounced raises a warning for each file whose burst of events has
// settled for the debounce duration.
func (w *TableWatcher) processDebounced() {
	w.mu.Lock()
	var settled []string
	now := time.Now()
	for path, last := range w.debounceMap {
		if now.Sub(last) >= w.debounceDur {
			settled = append(settled, path)
			delete(w.debounceMap, path)
		}
	}
	for _, path := range settled {
		w.stats.ChangesSettled++
		w.stats.LastChangePath = path
		w.stats.LastChangeTime = now
	}
	sink := w.sink
	w.mu.Unlock()

	for _, path := range settled {
		name := filepath.Base(path)
		logging.RulesWarn("Table %s changed on disk; restart to apply", name)
		if sink != nil {
			sink.Emit(events.InternalWarning, map[string]any{
				"reason":  "rule_tables_changed",
				"file":    name,
				"message": "rule tables changed on disk; restart to apply",
			})
		}
	}
}

func isTableFile(path string) bool {
	switch strings.ToLower(filepath.Base(path)) {
	case rulesFile, playbooksFile, playbooksValidatedFile, chainRulesFile, legendFile:
		return true
	}
	return false
}
