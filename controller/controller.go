// Package controller implements the per-entity facades: a thin
// (session, entityId) pair that reads through the store and writes by
// formatting an ASCII command line, sending it, and -- on success --
// optimistically patching local state with the same key/value pairs so
// observers see the change before the radio re-broadcasts it.
package controller

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/flexradio/flexcore/control"
	"github.com/flexradio/flexcore/store"
)

// CommandIssuer sends an ASCII command line and blocks for the matching
// reply. A nil error means the reply carried a zero (success) code; a
// non-nil error is CommandRejected, ClientClosed, or TransportFailure as
// defined by the session package.
type CommandIssuer interface {
	Command(ctx context.Context, line string) error
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// patch formats a synthetic status line in the wire's own grammar and
// replays it through the same parser the live control channel uses, so
// an optimistic update and a radio-sourced update are indistinguishable
// to the store.
func patch(st *store.Store, source string, positional []string, attrs map[string]string) []store.StateChange {
	var b strings.Builder
	b.WriteString("S0|")
	b.WriteString(source)
	for _, p := range positional {
		b.WriteByte(' ')
		b.WriteString(p)
	}
	for k, v := range attrs {
		b.WriteByte(' ')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(v)
	}
	return st.Apply(control.Parse(b.String(), time.Now()))
}

func fmtFloat(f float64) string { return strconv.FormatFloat(f, 'f', 6, 64) }
func fmtBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// SliceController is the facade over one slice entity.
type SliceController struct {
	sess CommandIssuer
	st   *store.Store
	id   string
}

// NewSliceController constructs a facade for the slice keyed by id.
func NewSliceController(sess CommandIssuer, st *store.Store, id string) *SliceController {
	return &SliceController{sess: sess, st: st, id: id}
}

// Get returns a snapshot of the slice, or ErrStateUnavailable if absent.
func (c *SliceController) Get() (store.Slice, error) { return c.st.GetSlice(c.id) }

// SetFrequency tunes the slice to hz.
func (c *SliceController) SetFrequency(ctx context.Context, hz int64) error {
	mhz := float64(hz) / 1e6
	line := fmt.Sprintf("slice tune %s %s", c.id, fmtFloat(mhz))
	if err := c.sess.Command(ctx, line); err != nil {
		return err
	}
	patch(c.st, "slice", []string{c.id}, map[string]string{"RF_frequency": fmtFloat(mhz)})
	return nil
}

// SetMode sets the demodulation mode.
func (c *SliceController) SetMode(ctx context.Context, mode string) error {
	line := fmt.Sprintf("slice set %s mode=%s", c.id, mode)
	if err := c.sess.Command(ctx, line); err != nil {
		return err
	}
	patch(c.st, "slice", []string{c.id}, map[string]string{"mode": mode})
	return nil
}

// SetLock toggles slice tuning lock.
func (c *SliceController) SetLock(ctx context.Context, lock bool) error {
	line := fmt.Sprintf("slice set %s lock=%s", c.id, fmtBool(lock))
	if err := c.sess.Command(ctx, line); err != nil {
		return err
	}
	patch(c.st, "slice", []string{c.id}, map[string]string{"lock": fmtBool(lock)})
	return nil
}

// PanadapterController is the facade over one panadapter entity.
type PanadapterController struct {
	sess     CommandIssuer
	st       *store.Store
	streamID string
}

// NewPanadapterController constructs a facade for the panadapter keyed
// by streamID.
func NewPanadapterController(sess CommandIssuer, st *store.Store, streamID string) *PanadapterController {
	return &PanadapterController{sess: sess, st: st, streamID: streamID}
}

// Get returns a snapshot of the panadapter, or ErrStateUnavailable if
// absent.
func (c *PanadapterController) Get() (store.Panadapter, error) { return c.st.GetPanadapter(c.streamID) }

// SetRFGain sets the RF gain, clamped to [0, 100].
func (c *PanadapterController) SetRFGain(ctx context.Context, gain int) error {
	gain = clampInt(gain, 0, 100)
	line := fmt.Sprintf("display panafall set %s rfgain=%d", c.streamID, gain)
	if err := c.sess.Command(ctx, line); err != nil {
		return err
	}
	patch(c.st, "display", []string{"pan", c.streamID}, map[string]string{"rfgain": strconv.Itoa(gain)})
	return nil
}

// WaterfallController is the facade over one waterfall entity.
type WaterfallController struct {
	sess     CommandIssuer
	st       *store.Store
	streamID string
}

// NewWaterfallController constructs a facade for the waterfall keyed by
// streamID.
func NewWaterfallController(sess CommandIssuer, st *store.Store, streamID string) *WaterfallController {
	return &WaterfallController{sess: sess, st: st, streamID: streamID}
}

// Get returns a snapshot of the waterfall, or ErrStateUnavailable if
// absent.
func (c *WaterfallController) Get() (store.Waterfall, error) { return c.st.GetWaterfall(c.streamID) }

// SetBlackLevel sets the waterfall black level, clamped to [0, 100].
func (c *WaterfallController) SetBlackLevel(ctx context.Context, level int) error {
	level = clampInt(level, 0, 100)
	line := fmt.Sprintf("display panafall set %s black_level=%d", c.streamID, level)
	if err := c.sess.Command(ctx, line); err != nil {
		return err
	}
	patch(c.st, "display", []string{"waterfall", c.streamID}, map[string]string{"black_level": strconv.Itoa(level)})
	return nil
}

// SetLineSpeed sets the waterfall line speed, clamped to [0, 100]. The
// radio reports the cadence this produces as Waterfall.LineDurationMs.
func (c *WaterfallController) SetLineSpeed(ctx context.Context, speed int) error {
	speed = clampInt(speed, 0, 100)
	line := fmt.Sprintf("display panafall set %s line_duration=%d", c.streamID, speed)
	if err := c.sess.Command(ctx, line); err != nil {
		return err
	}
	patch(c.st, "display", []string{"waterfall", c.streamID}, map[string]string{"line_duration": strconv.Itoa(speed)})
	return nil
}

// MeterController is a read-only facade over one meter entity; meters
// are radio-published telemetry, never set by a client.
type MeterController struct {
	st *store.Store
	id string
}

// NewMeterController constructs a facade for the meter keyed by id.
func NewMeterController(st *store.Store, id string) *MeterController {
	return &MeterController{st: st, id: id}
}

// Get returns a snapshot of the meter, or ErrStateUnavailable if absent.
func (c *MeterController) Get() (store.Meter, error) { return c.st.GetMeter(c.id) }

// AudioStreamController is the facade over one DAX/remote-audio channel.
type AudioStreamController struct {
	sess     CommandIssuer
	st       *store.Store
	streamID string
}

// NewAudioStreamController constructs a facade for the audio stream
// keyed by streamID.
func NewAudioStreamController(sess CommandIssuer, st *store.Store, streamID string) *AudioStreamController {
	return &AudioStreamController{sess: sess, st: st, streamID: streamID}
}

// Get returns a snapshot of the audio stream, or ErrStateUnavailable if
// absent.
func (c *AudioStreamController) Get() (store.AudioStream, error) {
	return c.st.GetAudioStream(c.streamID)
}

// SetGain sets the stream's gain, clamped to [0, 100].
func (c *AudioStreamController) SetGain(ctx context.Context, gain int) error {
	gain = clampInt(gain, 0, 100)
	line := fmt.Sprintf("audio stream %s slice gain %d", c.streamID, gain)
	if err := c.sess.Command(ctx, line); err != nil {
		return err
	}
	patch(c.st, "audio_stream", []string{c.streamID}, map[string]string{"gain": strconv.Itoa(gain)})
	return nil
}

// SetMute toggles the stream's mute state.
func (c *AudioStreamController) SetMute(ctx context.Context, mute bool) error {
	line := fmt.Sprintf("audio stream %s slice mute %s", c.streamID, fmtBool(mute))
	if err := c.sess.Command(ctx, line); err != nil {
		return err
	}
	patch(c.st, "audio_stream", []string{c.streamID}, map[string]string{"mute": fmtBool(mute)})
	return nil
}

// TxBandSettingController is the facade over one per-band transmit
// configuration entity.
type TxBandSettingController struct {
	sess   CommandIssuer
	st     *store.Store
	bandID string
}

// NewTxBandSettingController constructs a facade for the band setting
// keyed by bandID.
func NewTxBandSettingController(sess CommandIssuer, st *store.Store, bandID string) *TxBandSettingController {
	return &TxBandSettingController{sess: sess, st: st, bandID: bandID}
}

// Get returns a snapshot of the band setting, or ErrStateUnavailable if
// absent.
func (c *TxBandSettingController) Get() (store.TxBandSetting, error) {
	return c.st.GetTxBandSetting(c.bandID)
}

// SetTunePower sets the tune power, clamped to [0, 100].
func (c *TxBandSettingController) SetTunePower(ctx context.Context, power int) error {
	power = clampInt(power, 0, 100)
	line := fmt.Sprintf("interlock bandset %s tune_power=%d", c.bandID, power)
	if err := c.sess.Command(ctx, line); err != nil {
		return err
	}
	patch(c.st, "interlock", []string{"bandset", c.bandID}, map[string]string{"tune_power": strconv.Itoa(power)})
	return nil
}

// SetRFPower sets the RF power, clamped to [0, 100].
func (c *TxBandSettingController) SetRFPower(ctx context.Context, power int) error {
	power = clampInt(power, 0, 100)
	line := fmt.Sprintf("interlock bandset %s rfpower=%d", c.bandID, power)
	if err := c.sess.Command(ctx, line); err != nil {
		return err
	}
	patch(c.st, "interlock", []string{"bandset", c.bandID}, map[string]string{"rfpower": strconv.Itoa(power)})
	return nil
}
