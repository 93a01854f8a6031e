package ledger

import "github.com/smartdevs17/errtrail/internal/models"

// EventType names a ledger mutation
type EventType string

const (
	EventAdded    EventType = "added"
	EventResolved EventType = "resolved"
	EventRemoved  EventType = "removed"
	EventCleared  EventType = "cleared"
	EventImported EventType = "imported"
	EventReloaded EventType = "reloaded"
)

// Event is delivered to subscribers after a mutation is applied
type Event struct {
	Type   EventType
	Entry  *models.ErrorEntry
	Counts models.ErrorCounts
}

// Listener receives ledger events. It runs on the mutating goroutine and
// must not block.
type Listener func(Event)

// Subscribe registers fn and returns a function that removes it
func (l *Ledger) Subscribe(fn Listener) func() {
	l.subMu.Lock()
	id := l.nextSubID
	l.nextSubID++
	l.listeners[id] = fn
	l.subMu.Unlock()

	return func() {
		l.subMu.Lock()
		delete(l.listeners, id)
		l.subMu.Unlock()
	}
}

func (l *Ledger) notify(event Event) {
	l.subMu.RLock()
	listeners := make([]Listener, 0, len(l.listeners))
	for _, fn := range l.listeners {
		listeners = append(listeners, fn)
	}
	l.subMu.RUnlock()

	for _, fn := range listeners {
		fn(event)
	}
}
