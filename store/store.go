package store

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/flexradio/flexcore/bus"
	"github.com/flexradio/flexcore/control"
	"github.com/flexradio/flexcore/internal/logging"
)

// EntityKind discriminates the seven entity maps a Store owns.
type EntityKind string

const (
	KindRadio         EntityKind = "radio"
	KindSlice         EntityKind = "slice"
	KindPanadapter    EntityKind = "panadapter"
	KindWaterfall     EntityKind = "waterfall"
	KindMeter         EntityKind = "meter"
	KindAudioStream   EntityKind = "audio_stream"
	KindTxBandSetting EntityKind = "tx_band_setting"
)

// ErrStateUnavailable is raised when a controller operation
// references an entity absent from the store.
type ErrStateUnavailable struct {
	Kind EntityKind
	Key  string
}

func (e *ErrStateUnavailable) Error() string {
	return fmt.Sprintf("store: %s %q unavailable", e.Kind, e.Key)
}

// StateChange is the diff produced by one Apply call.
type StateChange struct {
	Kind    EntityKind
	Key     string
	Removed bool
	Changed map[string]any // field name -> new value; empty on a no-op re-apply
}

// topic returns the bus topic changes to (kind, key) are published on, and
// the wildcard topic for "every change of this kind" subscriptions.
func topic(kind EntityKind, key string) string   { return string(kind) + ":" + key }
func wildcardTopic(kind EntityKind) string       { return string(kind) + ":*" }

// Store is the in-memory radio-state reducer. The zero value is not
// usable; construct with New.
type Store struct {
	mu  sync.RWMutex
	log *logging.Logger
	bus *bus.Bus

	radio   Radio
	slices  map[string]Slice
	panas   map[string]Panadapter
	waters  map[string]Waterfall
	meters  map[string]Meter
	audios  map[string]AudioStream
	txbands map[string]TxBandSetting

	// panaSliceIndex is the derived index (streamId -> set<sliceId>) used
	// to recompute Panadapter.AttachedSlices on slice upsert/removal.
	panaSliceIndex map[string]map[string]struct{}
}

// New constructs an empty Store. log may be nil (logging.Discard is
// used); b may be nil (a private Bus is created).
func New(log *logging.Logger, b *bus.Bus) *Store {
	if log == nil {
		log = logging.Discard
	}
	if b == nil {
		b = bus.New()
	}
	return &Store{
		log:            log,
		bus:            b,
		slices:         map[string]Slice{},
		panas:          map[string]Panadapter{},
		waters:         map[string]Waterfall{},
		meters:         map[string]Meter{},
		audios:         map[string]AudioStream{},
		txbands:        map[string]TxBandSetting{},
		panaSliceIndex: map[string]map[string]struct{}{},
	}
}

// Bus returns the Store's event bus, for subscribing outside the
// Subscribe convenience method (e.g. from a Demux or Controller).
func (s *Store) Bus() *bus.Bus { return s.bus }

// Subscribe registers listener for every change to (kind, key). An empty
// key subscribes to every key of that kind.
func (s *Store) Subscribe(kind EntityKind, key string, listener func(StateChange)) bus.Subscription {
	t := wildcardTopic(kind)
	if key != "" {
		t = topic(kind, key)
	}
	return s.bus.Subscribe(t, func(e any) { listener(e.(StateChange)) })
}

func (s *Store) emit(ch StateChange) {
	s.bus.Emit(topic(ch.Kind, ch.Key), ch)
	s.bus.Emit(wildcardTopic(ch.Kind), ch)
}

// Apply reduces one parsed control record into zero or more StateChanges.
// Non-status records (reply, notice, unknown) are ignored by the store --
// a session routes those elsewhere.
func (s *Store) Apply(rec control.Record) []StateChange {
	if rec.Kind != control.KindStatus {
		return nil
	}

	kind, key, ok := classify(rec)
	if !ok {
		return nil
	}

	removed := rec.Attributes["removed"] == "1"

	s.mu.Lock()
	var changes []StateChange
	switch kind {
	case KindRadio:
		changes = s.applyRadio(rec, removed)
	case KindSlice:
		changes = s.applySlice(key, rec, removed)
	case KindPanadapter:
		changes = s.applyPanadapter(key, rec, removed)
	case KindWaterfall:
		changes = s.applyWaterfall(key, rec, removed)
	case KindMeter:
		changes = s.applyMeter(key, rec, removed)
	case KindAudioStream:
		changes = s.applyAudioStream(key, rec, removed)
	case KindTxBandSetting:
		changes = s.applyTxBandSetting(key, rec, removed)
	}
	s.mu.Unlock()

	for _, ch := range changes {
		s.emit(ch)
	}
	return changes
}

// classify routes a status record to an entity kind + key. Sources
// that don't match an explicit row fall back to the Radio singleton
// ("other singletons -> Radio").
func classify(rec control.Record) (EntityKind, string, bool) {
	switch rec.Source {
	case "slice":
		return KindSlice, rec.Identifier, true
	case "meter":
		return KindMeter, rec.Identifier, true
	case "radio", "gps":
		return KindRadio, "", true
	case "display":
		if len(rec.Positional) >= 2 {
			switch rec.Positional[0] {
			case "pan", "panafall":
				return KindPanadapter, rec.Positional[1], true
			case "waterfall":
				return KindWaterfall, rec.Positional[1], true
			}
		}
		return KindRadio, "", true
	case "interlock", "transmit":
		if len(rec.Positional) >= 2 && rec.Positional[0] == "bandset" {
			return KindTxBandSetting, rec.Positional[1], true
		}
		return KindRadio, "", true
	case "audio_stream":
		return KindAudioStream, rec.Identifier, true
	default:
		if strings.HasPrefix(rec.Source, "dax_") {
			return KindAudioStream, rec.Identifier, true
		}
		return KindRadio, "", true
	}
}

func mergeRaw(prev map[string]string, attrs map[string]string) map[string]string {
	out := make(map[string]string, len(prev)+len(attrs))
	for k, v := range prev {
		out[k] = v
	}
	for k, v := range attrs {
		out[k] = v
	}
	return out
}

func diffFields(prev, next any) map[string]any {
	pv := reflect.ValueOf(prev)
	nv := reflect.ValueOf(next)
	t := pv.Type()
	out := map[string]any{}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Name == "Raw" {
			continue
		}
		pf := pv.Field(i).Interface()
		nf := nv.Field(i).Interface()
		if !reflect.DeepEqual(pf, nf) {
			out[f.Name] = nf
		}
	}
	return out
}

func (s *Store) applyRadio(rec control.Record, removed bool) []StateChange {
	prev := s.radio
	draft := prev
	draft.Present = true
	applySchema(s.log, "radio", radioSchema, &draft, rec.Attributes)
	draft.Raw = mergeRaw(prev.Raw, rec.Attributes)

	if removed {
		s.radio = Radio{}
		return []StateChange{{Kind: KindRadio, Removed: true}}
	}

	s.radio = draft
	changed := diffFields(prev, draft)
	return []StateChange{{Kind: KindRadio, Changed: changed}}
}

func (s *Store) applySlice(key string, rec control.Record, removed bool) []StateChange {
	prev, existed := s.slices[key]
	if !existed {
		prev = Slice{ID: key}
	}
	draft := prev
	draft.ID = key
	draft.Present = true
	prevPan := prev.PanadapterStreamID
	applySchema(s.log, "slice", sliceSchema, &draft, rec.Attributes)
	draft.Raw = mergeRaw(prev.Raw, rec.Attributes)

	if removed {
		delete(s.slices, key)
		var extra []StateChange
		if prevPan != "" {
			extra = s.detachSlice(prevPan, key)
		}
		return append([]StateChange{{Kind: KindSlice, Key: key, Removed: true}}, extra...)
	}

	s.slices[key] = draft
	changes := []StateChange{{Kind: KindSlice, Key: key, Changed: diffFields(prev, draft)}}

	if draft.PanadapterStreamID != prevPan {
		if prevPan != "" {
			changes = append(changes, s.detachSlice(prevPan, key)...)
		}
		if draft.PanadapterStreamID != "" {
			changes = append(changes, s.attachSlice(draft.PanadapterStreamID, key)...)
		}
	}
	return changes
}

// attachSlice and detachSlice maintain the derived panaSliceIndex and
// recompute the affected Panadapter's AttachedSlices, emitting a
// Panadapter diff.
func (s *Store) attachSlice(streamID, sliceID string) []StateChange {
	set, ok := s.panaSliceIndex[streamID]
	if !ok {
		set = map[string]struct{}{}
		s.panaSliceIndex[streamID] = set
	}
	set[sliceID] = struct{}{}
	return s.recomputeAttachedSlices(streamID)
}

func (s *Store) detachSlice(streamID, sliceID string) []StateChange {
	set, ok := s.panaSliceIndex[streamID]
	if !ok {
		return nil
	}
	delete(set, sliceID)
	if len(set) == 0 {
		delete(s.panaSliceIndex, streamID)
	}
	return s.recomputeAttachedSlices(streamID)
}

func (s *Store) recomputeAttachedSlices(streamID string) []StateChange {
	pan, ok := s.panas[streamID]
	if !ok {
		return nil
	}
	prev := pan
	ids := make([]string, 0, len(s.panaSliceIndex[streamID]))
	for id := range s.panaSliceIndex[streamID] {
		ids = append(ids, id)
	}
	pan.AttachedSlices = ids
	s.panas[streamID] = pan
	changed := diffFields(prev, pan)
	if len(changed) == 0 {
		return nil
	}
	return []StateChange{{Kind: KindPanadapter, Key: streamID, Changed: changed}}
}

func (s *Store) applyPanadapter(key string, rec control.Record, removed bool) []StateChange {
	prev, existed := s.panas[key]
	if !existed {
		prev = Panadapter{StreamID: key}
	}
	draft := prev
	draft.StreamID = key
	draft.Present = true
	draft.AttachedSlices = prev.AttachedSlices // derived only; never from attrs
	applySchema(s.log, "panadapter", panadapterSchema, &draft, rec.Attributes)
	draft.AttachedSlices = prev.AttachedSlices
	draft.Raw = mergeRaw(prev.Raw, rec.Attributes)

	if removed {
		delete(s.panas, key)
		delete(s.panaSliceIndex, key)
		return []StateChange{{Kind: KindPanadapter, Key: key, Removed: true}}
	}

	s.panas[key] = draft
	return []StateChange{{Kind: KindPanadapter, Key: key, Changed: diffFields(prev, draft)}}
}

func (s *Store) applyWaterfall(key string, rec control.Record, removed bool) []StateChange {
	prev, existed := s.waters[key]
	if !existed {
		prev = Waterfall{StreamID: key}
	}
	draft := prev
	draft.StreamID = key
	draft.Present = true
	applySchema(s.log, "waterfall", waterfallSchema, &draft, rec.Attributes)
	draft.Raw = mergeRaw(prev.Raw, rec.Attributes)

	if removed {
		delete(s.waters, key)
		return []StateChange{{Kind: KindWaterfall, Key: key, Removed: true}}
	}

	s.waters[key] = draft
	return []StateChange{{Kind: KindWaterfall, Key: key, Changed: diffFields(prev, draft)}}
}

func (s *Store) applyMeter(key string, rec control.Record, removed bool) []StateChange {
	prev, existed := s.meters[key]
	if !existed {
		prev = Meter{ID: key}
	}
	draft := prev
	draft.ID = key
	draft.Present = true
	applySchema(s.log, "meter", meterSchema, &draft, rec.Attributes)
	draft.Raw = mergeRaw(prev.Raw, rec.Attributes)

	if removed {
		delete(s.meters, key)
		return []StateChange{{Kind: KindMeter, Key: key, Removed: true}}
	}

	s.meters[key] = draft
	return []StateChange{{Kind: KindMeter, Key: key, Changed: diffFields(prev, draft)}}
}

func (s *Store) applyAudioStream(key string, rec control.Record, removed bool) []StateChange {
	prev, existed := s.audios[key]
	if !existed {
		prev = AudioStream{StreamID: key}
	}
	draft := prev
	draft.StreamID = key
	draft.Present = true
	applySchema(s.log, "audio_stream", audioStreamSchema, &draft, rec.Attributes)
	draft.Raw = mergeRaw(prev.Raw, rec.Attributes)

	if removed {
		delete(s.audios, key)
		return []StateChange{{Kind: KindAudioStream, Key: key, Removed: true}}
	}

	s.audios[key] = draft
	return []StateChange{{Kind: KindAudioStream, Key: key, Changed: diffFields(prev, draft)}}
}

func (s *Store) applyTxBandSetting(key string, rec control.Record, removed bool) []StateChange {
	prev, existed := s.txbands[key]
	if !existed {
		prev = TxBandSetting{BandID: key}
	}
	draft := prev
	draft.BandID = key
	draft.Present = true
	applySchema(s.log, "tx_band_setting", txBandSettingSchema, &draft, rec.Attributes)
	draft.Raw = mergeRaw(prev.Raw, rec.Attributes)

	if removed {
		delete(s.txbands, key)
		return []StateChange{{Kind: KindTxBandSetting, Key: key, Removed: true}}
	}

	s.txbands[key] = draft
	return []StateChange{{Kind: KindTxBandSetting, Key: key, Changed: diffFields(prev, draft)}}
}

// ---- O(1) snapshot reads ----

func (s *Store) GetRadio() (Radio, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.radio.Present {
		return Radio{}, &ErrStateUnavailable{Kind: KindRadio}
	}
	return s.radio, nil
}

func (s *Store) GetSlice(id string) (Slice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.slices[id]
	if !ok {
		return Slice{}, &ErrStateUnavailable{Kind: KindSlice, Key: id}
	}
	return v, nil
}

func (s *Store) GetPanadapter(streamID string) (Panadapter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.panas[streamID]
	if !ok {
		return Panadapter{}, &ErrStateUnavailable{Kind: KindPanadapter, Key: streamID}
	}
	return v, nil
}

func (s *Store) GetWaterfall(streamID string) (Waterfall, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.waters[streamID]
	if !ok {
		return Waterfall{}, &ErrStateUnavailable{Kind: KindWaterfall, Key: streamID}
	}
	return v, nil
}

func (s *Store) GetMeter(id string) (Meter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.meters[id]
	if !ok {
		return Meter{}, &ErrStateUnavailable{Kind: KindMeter, Key: id}
	}
	return v, nil
}

func (s *Store) GetAudioStream(streamID string) (AudioStream, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.audios[streamID]
	if !ok {
		return AudioStream{}, &ErrStateUnavailable{Kind: KindAudioStream, Key: streamID}
	}
	return v, nil
}

func (s *Store) GetTxBandSetting(bandID string) (TxBandSetting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.txbands[bandID]
	if !ok {
		return TxBandSetting{}, &ErrStateUnavailable{Kind: KindTxBandSetting, Key: bandID}
	}
	return v, nil
}

// Slices returns a snapshot of every present slice, keyed by id.
func (s *Store) Slices() map[string]Slice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Slice, len(s.slices))
	for k, v := range s.slices {
		out[k] = v
	}
	return out
}
