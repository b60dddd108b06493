package manager

import (
	"log/slog"
	"sync"

	"github.com/dataanalyst/sandboxpool/internal/state"
)

// EventType names the kinds of events the manager publishes. Listeners see
// created before any state-change for that id, and state-change(to
// Destroyed) before the matching destroyed event — the ordering spec.md
// §8 requires.
type EventType string

const (
	EventCreated           EventType = "created"
	EventStateChange       EventType = "state-change"
	EventDestroyed         EventType = "destroyed"
	EventHealthCheckFailed EventType = "health-check-failed"
	EventError             EventType = "error"
)

// Event is the payload delivered to listeners. From is the zero value of
// state.State (Creating) for events that have no "previous state". Reason
// is set on EventDestroyed (e.g. "idle-timeout", "health-check-failure",
// "shutdown", "create-failed"); Count is set on EventHealthCheckFailed to
// the sandbox's consecutive-failure tally at the moment of eviction.
type Event struct {
	Type      EventType
	SandboxID string
	From      state.State
	To        state.State
	Err       error
	Reason    string
	Count     int
}

// Listener receives events synchronously on the goroutine that triggered
// them. A listener that panics is isolated — it cannot take down the
// manager or block delivery to the remaining listeners.
type Listener func(Event)

// Unregister removes a previously registered listener.
type Unregister func()

type eventBus struct {
	mu        sync.Mutex
	listeners map[int]Listener
	nextID    int
	log       *slog.Logger
}

func newEventBus(log *slog.Logger) *eventBus {
	return &eventBus{listeners: make(map[int]Listener), log: log}
}

func (b *eventBus) on(l Listener) Unregister {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = l
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
	}
}

func (b *eventBus) emit(ev Event) {
	b.mu.Lock()
	snapshot := make([]Listener, 0, len(b.listeners))
	for _, l := range b.listeners {
		snapshot = append(snapshot, l)
	}
	b.mu.Unlock()

	for _, l := range snapshot {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.log.Error("event listener panicked", "event", ev.Type, "panic", r)
				}
			}()
			l(ev)
		}()
	}
}
