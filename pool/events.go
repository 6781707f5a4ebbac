package pool

import (
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

// EventKind names a pool lifecycle event.
type EventKind int

const (
	// EventTaskEnded fires once for every settled task, success or failure.
	EventTaskEnded EventKind = iota
	// EventTaskSucceeded fires after EventTaskEnded for a task that returned no error.
	EventTaskSucceeded
	// EventTaskFailed fires after EventTaskEnded for a task that returned an error or panicked.
	EventTaskFailed
	// EventTaskAdmitted fires when the admission loop moves a task from the queue to in-flight.
	EventTaskAdmitted

	numEventKinds
)

func (k EventKind) String() string {
	switch k {
	case EventTaskEnded:
		return "taskEnded"
	case EventTaskSucceeded:
		return "taskSucceeded"
	case EventTaskFailed:
		return "taskFailed"
	case EventTaskAdmitted:
		return "taskAdmitted"
	default:
		return "unknown"
	}
}

// Event is handed to listeners. The counters are a snapshot taken right
// after the pool applied the change that caused the event.
type Event struct {
	Kind EventKind
	// TaskID is the push sequence number of the task.
	TaskID uint64
	// Err is the task failure for EventTaskEnded and EventTaskFailed.
	Err error

	Completed int64
	InFlight  int
	Queued    int
}

// Handler receives pool events. It runs synchronously inside the pool's
// completion (or admission) step and must not block for long.
type Handler func(Event)

// Subscription is a registered listener.
type Subscription struct {
	bus    *eventBus
	kind   EventKind
	id     uint64
	active atomic.Bool
}

// Unsubscribe removes the listener. It is idempotent and may be called
// from inside the handler itself.
func (s *Subscription) Unsubscribe() {
	if s == nil || !s.active.CompareAndSwap(true, false) {
		return
	}
	s.bus.remove(s.kind, s.id)
}

// Active reports whether the listener is still registered.
func (s *Subscription) Active() bool {
	return s != nil && s.active.Load()
}

type listener struct {
	sub *Subscription
	fn  Handler
}

// eventBus keeps an ordered observer list per event kind.
type eventBus struct {
	mu        sync.RWMutex
	nextID    uint64
	listeners [numEventKinds][]listener
	logger    log.FieldLogger
}

func (b *eventBus) add(kind EventKind, fn Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{bus: b, kind: kind, id: b.nextID}
	sub.active.Store(true)
	if kind < 0 || kind >= numEventKinds || fn == nil {
		sub.active.Store(false)
		return sub
	}
	b.listeners[kind] = append(b.listeners[kind], listener{sub: sub, fn: fn})
	return sub
}

func (b *eventBus) remove(kind EventKind, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ls := b.listeners[kind]
	for i, l := range ls {
		if l.sub.id == id {
			// copy so snapshots held by emit stay intact
			next := make([]listener, 0, len(ls)-1)
			next = append(next, ls[:i]...)
			b.listeners[kind] = append(next, ls[i+1:]...)
			return
		}
	}
}

func (b *eventBus) emit(e Event) {
	b.mu.RLock()
	ls := b.listeners[e.Kind]
	b.mu.RUnlock()

	for _, l := range ls {
		if l.sub.active.Load() {
			b.deliver(l, e)
		}
	}
}

// deliver calls one listener. A panicking listener is logged and skipped
// so the completion step can still settle the task's future.
func (b *eventBus) deliver(l listener, e Event) {
	defer func() {
		if r := recover(); r != nil && b.logger != nil {
			b.logger.WithFields(log.Fields{
				"event": e.Kind.String(),
				"task":  e.TaskID,
			}).Errorf("event listener panic: %v", r)
		}
	}()
	l.fn(e)
}
