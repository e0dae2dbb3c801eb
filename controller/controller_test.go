package controller

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flexradio/flexcore/store"
)

type fakeIssuer struct {
	err  error
	sent []string
}

func (f *fakeIssuer) Command(_ context.Context, line string) error {
	f.sent = append(f.sent, line)
	return f.err
}

func TestSliceControllerSetFrequencyPatchesOptimistically(t *testing.T) {
	st := store.New(nil, nil)
	issuer := &fakeIssuer{}
	c := NewSliceController(issuer, st, "0")

	require.NoError(t, c.SetFrequency(context.Background(), 14_200_000))
	require.Len(t, issuer.sent, 1)

	sl, err := c.Get()
	require.NoError(t, err)
	assert.Equal(t, int64(14_200_000), sl.FrequencyHz())
}

func TestSliceControllerCommandFailureSkipsPatch(t *testing.T) {
	st := store.New(nil, nil)
	issuer := &fakeIssuer{err: errors.New("rejected")}
	c := NewSliceController(issuer, st, "0")

	err := c.SetMode(context.Background(), "CW")
	require.Error(t, err)

	_, getErr := c.Get()
	require.Error(t, getErr, "slice was never created since the command failed")
}

func TestWaterfallControllerSetLineSpeedClampsAndDerivesDuration(t *testing.T) {
	st := store.New(nil, nil)
	issuer := &fakeIssuer{}
	c := NewWaterfallController(issuer, st, "0x42000000")

	require.NoError(t, c.SetLineSpeed(context.Background(), 150))
	w, err := c.Get()
	require.NoError(t, err)
	assert.Equal(t, 100, w.LineSpeed)
	assert.Equal(t, 40, w.LineDurationMs())
}

func TestPanadapterControllerSetRFGainClamps(t *testing.T) {
	st := store.New(nil, nil)
	issuer := &fakeIssuer{}
	c := NewPanadapterController(issuer, st, "0x40000000")

	require.NoError(t, c.SetRFGain(context.Background(), -5))
	pan, err := c.Get()
	require.NoError(t, err)
	assert.Equal(t, 0, pan.RFGain)
}

func TestAudioStreamControllerSetMute(t *testing.T) {
	st := store.New(nil, nil)
	issuer := &fakeIssuer{}
	c := NewAudioStreamController(issuer, st, "0x50000000")

	require.NoError(t, c.SetMute(context.Background(), true))
	as, err := c.Get()
	require.NoError(t, err)
	assert.True(t, as.Mute)
}

func TestTxBandSettingControllerSetTunePower(t *testing.T) {
	st := store.New(nil, nil)
	issuer := &fakeIssuer{}
	c := NewTxBandSettingController(issuer, st, "0")

	require.NoError(t, c.SetTunePower(context.Background(), 42))
	band, err := c.Get()
	require.NoError(t, err)
	assert.Equal(t, 42, band.TunePower)
}

func TestMeterControllerGetAbsentMeterErrors(t *testing.T) {
	st := store.New(nil, nil)
	c := NewMeterController(st, "1")
	_, err := c.Get()
	require.Error(t, err)
}
