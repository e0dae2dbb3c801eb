// Package bus implements a typed, keyed multi-listener event emitter:
// many topics, many listener functions per topic, with panic isolation
// so one bad listener cannot starve its siblings.
package bus

import (
	"sync"

	"github.com/google/uuid"
)

// Listener receives an event published to a topic it subscribed to.
type Listener func(event any)

// ListenerFailure aggregates every panic recovered while emitting to one
// topic.
type ListenerFailure struct {
	Topic  string
	Causes []any
}

// Bus is a keyed multi-listener emitter. The zero value is not usable;
// construct with New.
type Bus struct {
	mu              sync.Mutex
	listeners       map[string]map[uuid.UUID]Listener
	sink            func(ListenerFailure)
	suppressRethrow bool
}

// Option configures a Bus at construction time.
type Option func(*Bus)

// WithFailureSink installs a sink invoked synchronously with every
// aggregated ListenerFailure, in addition to the default asynchronous
// rethrow (unless WithSuppressRethrow is also given).
func WithFailureSink(sink func(ListenerFailure)) Option {
	return func(b *Bus) { b.sink = sink }
}

// WithSuppressRethrow disables the asynchronous rethrow of aggregated
// listener panics; only the sink (if any) observes them.
func WithSuppressRethrow() Option {
	return func(b *Bus) { b.suppressRethrow = true }
}

// New constructs an empty Bus.
func New(opts ...Option) *Bus {
	b := &Bus{listeners: make(map[string]map[uuid.UUID]Listener)}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscription is a releasable handle returned by Subscribe. Release is
// idempotent.
type Subscription struct {
	bus   *Bus
	topic string
	id    uuid.UUID
}

// Unsubscribe removes the listener. Safe to call more than once.
func (s Subscription) Unsubscribe() {
	if s.bus == nil {
		return
	}
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if set, ok := s.bus.listeners[s.topic]; ok {
		delete(set, s.id)
		if len(set) == 0 {
			delete(s.bus.listeners, s.topic)
		}
	}
}

// Subscribe registers listener for topic and returns a releasable handle.
func (b *Bus) Subscribe(topic string, listener Listener) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.listeners[topic]
	if !ok {
		set = make(map[uuid.UUID]Listener)
		b.listeners[topic] = set
	}
	id := uuid.New()
	set[id] = listener
	return Subscription{bus: b, topic: topic, id: id}
}

// ListenerCount reports how many listeners are currently subscribed to
// topic, used by scope-tracking callers to decide when to detach.
func (b *Bus) ListenerCount(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners[topic])
}

// Emit publishes event to every listener subscribed to topic, iterating a
// frozen snapshot of the listener set so unsubscribes during emission
// never skip a sibling. Listener panics are recovered,
// collected, reported to the sink (if any), and then re-raised on a
// fresh goroutine unless suppressed.
func (b *Bus) Emit(topic string, event any) {
	b.mu.Lock()
	set := b.listeners[topic]
	snapshot := make([]Listener, 0, len(set))
	for _, l := range set {
		snapshot = append(snapshot, l)
	}
	b.mu.Unlock()

	var causes []any
	for _, l := range snapshot {
		func() {
			defer func() {
				if r := recover(); r != nil {
					causes = append(causes, r)
				}
			}()
			l(event)
		}()
	}

	if len(causes) == 0 {
		return
	}
	failure := ListenerFailure{Topic: topic, Causes: causes}
	if b.sink != nil {
		b.sink(failure)
	}
	if !b.suppressRethrow {
		go func() { panic(failure) }()
	}
}
