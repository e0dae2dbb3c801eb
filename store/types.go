// Package store implements the radio-state reducer: an in-memory keyed
// map of entities, mutated only by Apply, that emits per-entity diff
// events. Each entity kind has its own attribute schema, a data-driven
// table replacing a runtime switch(key).
package store

import "github.com/flexradio/flexcore/wire"

// Radio is the singleton radio-global entity.
type Radio struct {
	Present bool
	Model   string
	Serial  string
	Callsign string
	Nickname string
	Version  string

	// GPS block
	GPSInstalled bool
	GPSLatitude  float64
	GPSLongitude float64
	GPSAltitude  float64

	// Oscillator block
	OscillatorSource string
	OscillatorState  string

	// Filter sharpness triple
	FilterSharpnessVoice int
	FilterSharpnessCW    int
	FilterSharpnessDigital int

	// Static net params
	StaticNetEnabled bool
	StaticIP         string
	StaticGateway    string
	StaticNetmask    string

	Raw map[string]string
}

// Slice is a virtual receiver entity, keyed by its numeric id. A real
// radio exposes on the order of a hundred slice attributes; flexcore
// carries a representative subset as typed fields and preserves every
// observed attribute in Raw.
type Slice struct {
	ID      string
	Present bool

	Frequency    wire.Q20
	SampleRateHz int64
	Mode         string

	PanadapterStreamID string
	DAXChannel         int

	AGC      bool
	AGCLevel int
	NR       bool
	NRLevel  int
	NB       bool
	NBLevel  int

	RXAntenna string
	TXAntenna string
	Antennas  []string

	DiversityEnabled bool
	DiversityChild   string
	DiversityParent  string

	TuneSteps []int

	InUse bool
	Owner string
	Lock  bool

	Raw map[string]string
}

// FrequencyHz returns the slice's receive frequency in integer Hz.
func (s Slice) FrequencyHz() int64 { return s.Frequency.Hz() }

// FrequencyMHz returns the slice's receive frequency in MHz.
func (s Slice) FrequencyMHz() float64 { return s.Frequency.MHz() }

// Panadapter is a spectrum display stream entity, keyed by its stream id
// in "0x..." form.
type Panadapter struct {
	StreamID string
	Present  bool

	CenterFreq wire.Q20
	Bandwidth  wire.Q20
	XPixels    int
	YPixels    int
	Band       string
	RFGain     int
	Preamp     string

	RXAntennas []string

	// AttachedSlices is derived only -- never written by a status record,
	// only recomputed by the store on slice upsert/removal.
	AttachedSlices []string

	Raw map[string]string
}

// Waterfall is a time-indexed raster stream entity, keyed by stream id.
type Waterfall struct {
	StreamID string
	Present  bool

	PanadapterStreamID string
	LineSpeed          int // clamped [0,100]
	ColorGain          int
	BlackLevel         int
	AutoBlack          bool
	GradientIndex      int

	Raw map[string]string
}

// LineDurationMs returns the derived waterfall cadence:
// 40 + floor((100 - speed)^3 / 200).
func (w Waterfall) LineDurationMs() int {
	d := 100 - w.LineSpeed
	return 40 + (d*d*d)/200
}

// MeterUnits enumerates the known meter unit strings.
type MeterUnits string

const (
	UnitsDB    MeterUnits = "dB"
	UnitsDBM   MeterUnits = "dBm"
	UnitsDBFS  MeterUnits = "dBFS"
	UnitsSWR   MeterUnits = "SWR"
	UnitsVolts MeterUnits = "Volts"
	UnitsAmps  MeterUnits = "Amps"
	UnitsDegF  MeterUnits = "degF"
	UnitsDegC  MeterUnits = "degC"
)

// Meter is a telemetry source entity, keyed by its numeric id string.
type Meter struct {
	ID          string
	Present     bool
	Source      string // preserved verbatim, including trailing '-'
	SourceIndex int
	Name        string
	Description string
	Units       MeterUnits
	Low         float64
	High        float64
	FPS         int

	Raw map[string]string
}

// ScaleRawValue converts a raw wire meter value into the entity's
// physical units using the unit-specific denominator.
func (m Meter) ScaleRawValue(raw int16) float64 {
	switch m.Units {
	case UnitsDB, UnitsDBM, UnitsDBFS, UnitsSWR:
		return float64(raw) / 128
	case UnitsVolts, UnitsAmps:
		return float64(raw) / 256
	case UnitsDegF, UnitsDegC:
		return float64(raw) / 64
	default:
		return float64(raw)
	}
}

// AudioStreamKind enumerates the audio stream kinds.
type AudioStreamKind string

const (
	KindRemoteAudioRX AudioStreamKind = "remote_audio_rx"
	KindRemoteAudioTX AudioStreamKind = "remote_audio_tx"
	KindDaxRX         AudioStreamKind = "dax_rx"
	KindDaxTX         AudioStreamKind = "dax_tx"
	KindDaxMic        AudioStreamKind = "dax_mic"
)

// AudioStream is a DAX/remote-audio channel entity, keyed by stream id.
type AudioStream struct {
	StreamID    string
	Present     bool
	Kind        AudioStreamKind
	Compression string
	IP          string
	Port        int
	Channel     int
	Gain        int
	Mute        bool

	Raw map[string]string
}

// TxBandSetting is a per-band transmit configuration entity, keyed by
// band id.
type TxBandSetting struct {
	BandID  string
	Present bool

	TunePower      int
	RFPower        int
	PTTInhibit     bool
	ACCTXReqEnable bool
	RCATXReqEnable bool

	Raw map[string]string
}
