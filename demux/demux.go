// Package demux routes decoded VITA packets from a single data-channel
// producer to interested consumers. A consumer declares a scope -- a
// (vitaKind, filter) pair -- and attaches listeners to it; the demux
// keeps a per-kind scope list and applies each scope's filter before
// delivering a packet, so an idle entity with no listeners imposes no
// fan-out cost.
package demux

import (
	"sync"

	"github.com/google/uuid"

	"github.com/flexradio/flexcore/bus"
	"github.com/flexradio/flexcore/vita"
)

// Filter reports whether pkt should be delivered to a scope's listeners.
type Filter func(pkt vita.Packet) bool

// ByStreamID matches packets carrying the given stream id.
func ByStreamID(streamID uint32) Filter {
	return func(pkt vita.Packet) bool { return pkt.StreamID == streamID }
}

// ByMeterID matches meter packets containing a sample with the given id.
func ByMeterID(id uint16) Filter {
	return func(pkt vita.Packet) bool {
		for _, sample := range pkt.Payload.Meter {
			if sample.ID == id {
				return true
			}
		}
		return false
	}
}

const dataTopic = "data"

// Scope is a (vitaKind, filter) subscription point. A Scope is inert
// until Attach registers its first listener, and is removed from its
// Demux once the last listener detaches.
type Scope struct {
	id     uuid.UUID
	kind   vita.PayloadKind
	filter Filter
	bus    *bus.Bus
	d      *Demux
}

// Attach registers handler on the scope. The returned Subscription's
// Unsubscribe detaches handler, and once the scope has no listeners left
// it is removed from the Demux.
func (s *Scope) Attach(handler func(vita.Packet)) bus.Subscription {
	inner := s.bus.Subscribe(dataTopic, func(e any) { handler(e.(vita.Packet)) })

	s.d.mu.Lock()
	set, ok := s.d.scopes[s.kind]
	if !ok {
		set = map[uuid.UUID]*Scope{}
		s.d.scopes[s.kind] = set
	}
	set[s.id] = s
	s.d.mu.Unlock()

	return scopeSubscription{inner: inner, scope: s}
}

// ListenerCount reports how many listeners are currently attached to s.
func (s *Scope) ListenerCount() int { return s.bus.ListenerCount(dataTopic) }

type scopeSubscription struct {
	inner bus.Subscription
	scope *Scope
}

func (ss scopeSubscription) Unsubscribe() {
	ss.inner.Unsubscribe()
	if ss.scope.ListenerCount() > 0 {
		return
	}
	ss.scope.d.mu.Lock()
	defer ss.scope.d.mu.Unlock()
	if set, ok := ss.scope.d.scopes[ss.scope.kind]; ok {
		delete(set, ss.scope.id)
		if len(set) == 0 {
			delete(ss.scope.d.scopes, ss.scope.kind)
		}
	}
}

// Demux is the single-producer, many-scope packet router. The zero value
// is not usable; construct with New.
type Demux struct {
	mu     sync.Mutex
	scopes map[vita.PayloadKind]map[uuid.UUID]*Scope
}

// New constructs an empty Demux.
func New() *Demux {
	return &Demux{scopes: map[vita.PayloadKind]map[uuid.UUID]*Scope{}}
}

// NewScope creates a scope matching packets of kind for which filter
// returns true. A nil filter matches every packet of kind. The scope is
// not registered with the Demux until its first Attach.
func (d *Demux) NewScope(kind vita.PayloadKind, filter Filter) *Scope {
	if filter == nil {
		filter = func(vita.Packet) bool { return true }
	}
	return &Scope{id: uuid.New(), kind: kind, filter: filter, bus: bus.New(), d: d}
}

// ScopeCount reports how many attached scopes currently exist for kind.
func (d *Demux) ScopeCount(kind vita.PayloadKind) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.scopes[kind])
}

// Dispatch delivers pkt to every attached scope of pkt.Payload.Kind whose
// filter matches.
func (d *Demux) Dispatch(pkt vita.Packet) {
	d.mu.Lock()
	set := d.scopes[pkt.Payload.Kind]
	snapshot := make([]*Scope, 0, len(set))
	for _, s := range set {
		snapshot = append(snapshot, s)
	}
	d.mu.Unlock()

	for _, s := range snapshot {
		if s.filter(pkt) {
			s.bus.Emit(dataTopic, pkt)
		}
	}
}
