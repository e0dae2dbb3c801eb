package demux

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flexradio/flexcore/vita"
)

func TestScopeReceivesMatchingPackets(t *testing.T) {
	d := New()
	scope := d.NewScope(vita.KindMeter, ByMeterID(5))

	var got []vita.Packet
	sub := scope.Attach(func(p vita.Packet) { got = append(got, p) })
	defer sub.Unsubscribe()

	match := vita.Packet{Payload: vita.TaggedPayload{Kind: vita.KindMeter, Meter: []vita.MeterSample{{ID: 5, Value: -1}}}}
	noMatch := vita.Packet{Payload: vita.TaggedPayload{Kind: vita.KindMeter, Meter: []vita.MeterSample{{ID: 9, Value: -1}}}}

	d.Dispatch(match)
	d.Dispatch(noMatch)

	require.Len(t, got, 1)
	assert.Equal(t, uint16(5), got[0].Payload.Meter[0].ID)
}

func TestScopeIgnoresPacketsOfOtherKind(t *testing.T) {
	d := New()
	scope := d.NewScope(vita.KindPanadapter, nil)
	var calls int
	sub := scope.Attach(func(vita.Packet) { calls++ })
	defer sub.Unsubscribe()

	d.Dispatch(vita.Packet{Payload: vita.TaggedPayload{Kind: vita.KindWaterfall}})
	assert.Zero(t, calls)
}

func TestScopeDetachesWhenLastListenerUnsubscribes(t *testing.T) {
	d := New()
	scope := d.NewScope(vita.KindPanadapter, ByStreamID(7))

	sub1 := scope.Attach(func(vita.Packet) {})
	sub2 := scope.Attach(func(vita.Packet) {})
	assert.Equal(t, 1, d.ScopeCount(vita.KindPanadapter))

	sub1.Unsubscribe()
	assert.Equal(t, 1, d.ScopeCount(vita.KindPanadapter), "still one listener left")

	sub2.Unsubscribe()
	assert.Equal(t, 0, d.ScopeCount(vita.KindPanadapter))
}

func TestDispatchToMultipleScopesOfSameKind(t *testing.T) {
	d := New()
	s1 := d.NewScope(vita.KindPanadapter, ByStreamID(1))
	s2 := d.NewScope(vita.KindPanadapter, ByStreamID(2))

	var got1, got2 int
	sub1 := s1.Attach(func(vita.Packet) { got1++ })
	sub2 := s2.Attach(func(vita.Packet) { got2++ })
	defer sub1.Unsubscribe()
	defer sub2.Unsubscribe()

	d.Dispatch(vita.Packet{StreamID: 1, Payload: vita.TaggedPayload{Kind: vita.KindPanadapter}})
	assert.Equal(t, 1, got1)
	assert.Equal(t, 0, got2)
}

func TestDispatchToUnregisteredKindIsNoop(t *testing.T) {
	d := New()
	assert.NotPanics(t, func() {
		d.Dispatch(vita.Packet{Payload: vita.TaggedPayload{Kind: vita.KindDiscovery}})
	})
}
