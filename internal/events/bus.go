// Package events provides the observable event bus for acquisition runs.
// Chains, the planner, and the diver publish progress events; consumers
// subscribe with channels or register synchronous callbacks. Delivery is
// non-blocking: a slow subscriber loses events rather than stalling a run.
package events

import (
	"strings"
	"sync"
	"time"

	"submarine/internal/logging"
)

// Event type names. The prefix before the colon groups a family; subscribers
// can filter on either the full name or the family prefix.
const (
	ChainStart            = "chain:start"
	ChainHop              = "chain:hop"
	ChainEntityDiscovered = "chain:entity_discovered"
	ChainComplete         = "chain:complete"
	ChainStopped          = "chain:stopped"

	CascadeEntityProcessing = "osint_cascade:entity_processing"
	CascadeEntityDiscovered = "osint_cascade:entity_discovered"
	CascadeStopped          = "osint_cascade:stopped"

	SubmarinePlan    = "submarine:plan"
	SubmarineFetch   = "submarine:fetch"
	SubmarineExtract = "submarine:extract"

	CymonidesPersisted = "cymonides:persisted"
	CymonidesError     = "cymonides:error"

	InternalWarning = "internal:warning"
)

const (
	subscriberBufSize = 64
	tapBufSize        = 256
)

// Event is one published engine event.
type Event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
	At   time.Time      `json:"at"`
}

// Callback receives events synchronously on the publisher's goroutine.
// A panicking callback is recovered and reported as an internal:warning;
// it never takes down a run.
type Callback func(eventType string, data map[string]any)

type subscriber struct {
	prefixes []string // empty = all events
	ch       chan Event
}

// Stats counts bus activity since creation.
type Stats struct {
	Emitted        int64 `json:"emitted"`
	Dropped        int64 `json:"dropped"`
	CallbackPanics int64 `json:"callback_panics"`
}

// Bus fans events out to subscriber channels and callbacks.
// All methods are safe for concurrent use.
type Bus struct {
	mu        sync.RWMutex
	subs      []*subscriber
	callbacks []Callback
	tapCh     chan Event
	closed    bool
	stats     Stats
}

// New creates a Bus.
func New() *Bus {
	return &Bus{
		tapCh: make(chan Event, tapBufSize),
	}
}

// Emit publishes an event to every matching subscriber and every callback.
// Channel delivery is non-blocking: full channels drop the event with a
// warning. Callbacks run synchronously, in registration order.
func (b *Bus) Emit(eventType string, data map[string]any) {
	b.emit(eventType, data, true)
}

// emit delivers under the lock so Close can never race a channel send.
// Sends are non-blocking, so the critical section stays short. Callbacks run
// after the lock is released: a callback may re-enter the bus.
func (b *Bus) emit(eventType string, data map[string]any, runCallbacks bool) {
	ev := Event{Type: eventType, Data: data, At: time.Now()}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.stats.Emitted++

	for _, s := range b.subs {
		if !s.matches(eventType) {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			b.stats.Dropped++
			logging.EventsWarn("subscriber channel full, dropped %s", eventType)
		}
	}

	select {
	case b.tapCh <- ev:
	default:
		b.stats.Dropped++
		logging.EventsWarn("tap channel full, dropped %s", eventType)
	}

	cbs := b.callbacks
	b.mu.Unlock()

	if !runCallbacks {
		return
	}
	for _, cb := range cbs {
		b.invoke(cb, eventType, data)
	}
}

// invoke runs one callback with panic recovery. The recovery path publishes
// internal:warning without callbacks, so a broken warning handler cannot
// recurse.
func (b *Bus) invoke(cb Callback, eventType string, data map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			b.mu.Lock()
			b.stats.CallbackPanics++
			b.mu.Unlock()
			logging.EventsError("callback panic on %s: %v", eventType, r)
			b.emit(InternalWarning, map[string]any{
				"source": "events",
				"reason": "callback_panic",
				"event":  eventType,
			}, false)
		}
	}()
	cb(eventType, data)
}

func (s *subscriber) matches(eventType string) bool {
	if len(s.prefixes) == 0 {
		return true
	}
	for _, p := range s.prefixes {
		if strings.HasPrefix(eventType, p) {
			return true
		}
	}
	return false
}

// Subscribe returns a channel delivering events whose type starts with any of
// the given prefixes. No prefixes means every event. Each call creates an
// independent subscriber.
func (b *Bus) Subscribe(prefixes ...string) <-chan Event {
	s := &subscriber{prefixes: prefixes, ch: make(chan Event, subscriberBufSize)}
	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()
	return s.ch
}

// OnEvent registers a synchronous callback for every event.
func (b *Bus) OnEvent(cb Callback) {
	if cb == nil {
		return
	}
	b.mu.Lock()
	b.callbacks = append(b.callbacks, cb)
	b.mu.Unlock()
}

// Tap returns the firehose channel carrying every event.
// Only one consumer should read it; repeated calls return the same channel.
func (b *Bus) Tap() <-chan Event {
	return b.tapCh
}

// GetStats returns a snapshot of bus counters.
func (b *Bus) GetStats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.stats
}

// Close stops delivery and closes all subscriber channels and the tap.
// Emit becomes a no-op afterwards.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, s := range b.subs {
		close(s.ch)
	}
	b.subs = nil
	b.callbacks = nil
	close(b.tapCh)
}
