package session

import (
	"context"
	"encoding/binary"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flexradio/flexcore/demux"
	"github.com/flexradio/flexcore/vita"
)

type scriptedControl struct {
	lines  chan string
	closed chan struct{}

	mu     sync.Mutex
	sent   []string
	reply  func(seq string) string
	onSend func(line string)
}

func newScriptedControl() *scriptedControl {
	return &scriptedControl{lines: make(chan string, 16), closed: make(chan struct{})}
}

func (f *scriptedControl) SendLine(_ context.Context, line string) error {
	f.mu.Lock()
	f.sent = append(f.sent, line)
	f.mu.Unlock()
	if f.onSend != nil {
		f.onSend(line)
	}
	if f.reply != nil {
		seq := extractSeq(line)
		f.lines <- f.reply(seq)
	}
	return nil
}
func (f *scriptedControl) Lines() <-chan string    { return f.lines }
func (f *scriptedControl) Closed() <-chan struct{} { return f.closed }
func (f *scriptedControl) Close() error            { return nil }

func extractSeq(line string) string {
	i := strings.IndexByte(line, '|')
	return line[1:i]
}

type fakeData struct {
	pkts   chan []byte
	closed chan struct{}
}

func newFakeData() *fakeData {
	return &fakeData{pkts: make(chan []byte, 16), closed: make(chan struct{})}
}

func (f *fakeData) Send(context.Context, []byte) error { return nil }
func (f *fakeData) Packets() <-chan []byte              { return f.pkts }
func (f *fakeData) Closed() <-chan struct{}             { return f.closed }
func (f *fakeData) Close() error                        { return nil }

func buildMeterPacket(streamID uint32, id uint16, value int16) []byte {
	pd := byte(0x10 | 0x08) // stream-id included, class id present
	tsd := byte(0x50)       // integer and fractional timestamps present
	buf := []byte{pd, tsd, 0x00, 0x00}
	buf = binary.BigEndian.AppendUint32(buf, streamID)
	buf = binary.BigEndian.AppendUint32(buf, 0x00001234)
	w2 := (uint32(0) << 16) | uint32(vita.ClassMeter)
	buf = binary.BigEndian.AppendUint32(buf, w2)
	buf = binary.BigEndian.AppendUint32(buf, 0) // integer timestamp
	buf = binary.BigEndian.AppendUint64(buf, 0) // fractional timestamp
	buf = binary.BigEndian.AppendUint16(buf, id)
	buf = append(buf, byte(value>>8), byte(value))
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(buf)/4))
	return buf
}

func TestCommandRoundTripResolvesOnMatchingReply(t *testing.T) {
	ctl := newScriptedControl()
	ctl.reply = func(seq string) string { return "R" + seq + "|0" }
	data := newFakeData()

	s := New(ctl, data, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	require.NoError(t, s.Command(context.Background(), "slice tune 0 14.200000"))
	require.Len(t, ctl.sent, 1)
	assert.Equal(t, "C1|slice tune 0 14.200000", ctl.sent[0])
}

func TestCommandRejectedSurfacesCommandRejectedError(t *testing.T) {
	ctl := newScriptedControl()
	ctl.reply = func(seq string) string { return "R" + seq + "|1|bad band" }
	data := newFakeData()

	s := New(ctl, data, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	err := s.Command(context.Background(), "slice tune 0 999.0")
	require.Error(t, err)
	var rejected *CommandRejected
	require.ErrorAs(t, err, &rejected)
	assert.EqualValues(t, 1, rejected.Code)
	assert.Equal(t, "bad band", rejected.Message)
}

func TestCloseResolvesPendingCommandWithClientClosed(t *testing.T) {
	ctl := newScriptedControl() // no auto-reply: the command hangs until Close
	sendSignal := make(chan struct{}, 1)
	ctl.onSend = func(string) { sendSignal <- struct{}{} }
	data := newFakeData()

	s := New(ctl, data, Options{})

	resultCh := make(chan error, 1)
	go func() { resultCh <- s.Command(context.Background(), "ping") }()

	select {
	case <-sendSignal:
	case <-time.After(time.Second):
		t.Fatal("command was never sent")
	}

	require.NoError(t, s.Close())

	select {
	case err := <-resultCh:
		assert.ErrorIs(t, err, ErrClientClosed)
	case <-time.After(time.Second):
		t.Fatal("command never resolved after Close")
	}
}

func TestStatusLinesReduceIntoStore(t *testing.T) {
	ctl := newScriptedControl()
	data := newFakeData()
	s := New(ctl, data, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	ctl.lines <- "S1|slice 0 RF_frequency=14.200000 mode=USB"

	require.Eventually(t, func() bool {
		sl, err := s.Store().GetSlice("0")
		return err == nil && sl.Mode == "USB"
	}, time.Second, time.Millisecond)
}

func TestRawLineSinkReceivesUnprefixedLines(t *testing.T) {
	ctl := newScriptedControl()
	data := newFakeData()

	var got []string
	var mu sync.Mutex
	s := New(ctl, data, Options{RawLineSink: func(line string) {
		mu.Lock()
		got = append(got, line)
		mu.Unlock()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	ctl.lines <- "auth challenge abc123"

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, time.Millisecond)
	mu.Lock()
	assert.Equal(t, "auth challenge abc123", got[0])
	mu.Unlock()
}

func TestDataPacketsDispatchToDemuxScope(t *testing.T) {
	ctl := newScriptedControl()
	data := newFakeData()
	s := New(ctl, data, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	scope := s.Demux().NewScope(vita.KindMeter, demux.ByMeterID(5))
	var got []vita.Packet
	var mu sync.Mutex
	sub := scope.Attach(func(p vita.Packet) {
		mu.Lock()
		got = append(got, p)
		mu.Unlock()
	})
	defer sub.Unsubscribe()

	data.pkts <- buildMeterPacket(0x40000001, 5, -12)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, time.Millisecond)
}

func TestCommandReturnsClientClosedAfterClose(t *testing.T) {
	ctl := newScriptedControl()
	data := newFakeData()
	s := New(ctl, data, Options{})
	require.NoError(t, s.Close())

	err := s.Command(context.Background(), "ping")
	assert.ErrorIs(t, err, ErrClientClosed)
}

func TestParseDiscoveryBeaconPopulatesKnownKeysAndPreservesRaw(t *testing.T) {
	beacon := []byte("model=FLEX-6600 serial=1234-5678 port=4992 requires_additional_license=1 " +
		"gui_client_handles=aa,bb,,cc wan_connected=0\x00\x7f")

	d, err := ParseDiscoveryBeacon(beacon)
	require.NoError(t, err)
	assert.Equal(t, "FLEX-6600", d.Model)
	assert.Equal(t, "1234-5678", d.Serial)
	assert.Equal(t, 4992, d.Port)
	assert.True(t, d.RequiresAdditionalLicense)
	assert.False(t, d.WANConnected)
	assert.Equal(t, []string{"aa", "bb", "cc"}, d.GUIClientHandles)
	assert.NotContains(t, d.Raw, "\x00")
	assert.NotContains(t, d.Raw, "\x7f")
	assert.Equal(t, "1234-5678", d.Attributes["serial"])
}

func TestParseDiscoveryBeaconIgnoresUnknownKeysInTypedFieldsButKeepsRaw(t *testing.T) {
	d, err := ParseDiscoveryBeacon([]byte("model=FLEX-6400 some_future_key=42"))
	require.NoError(t, err)
	assert.Equal(t, "FLEX-6400", d.Model)
	assert.Equal(t, "42", d.Attributes["some_future_key"])
}

func TestWireLogWithEmptyPathIsNoop(t *testing.T) {
	w, err := NewWireLog("")
	require.NoError(t, err)
	assert.NotPanics(t, func() {
		w.LogInbound("ctl", "S1|slice 0 mode=USB")
		w.LogOutbound("ctl", "C1|slice tune 0 14.2")
	})
	require.NoError(t, w.Close())
}
