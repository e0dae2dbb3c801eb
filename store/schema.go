package store

import (
	"strconv"
	"strings"

	"github.com/flexradio/flexcore/internal/logging"
	"github.com/flexradio/flexcore/wire"
)

// attrKind labels the conversion an attrSpec performs, used only for
// diagnostic messages.
type attrKind string

const (
	kindStringAttr  attrKind = "string"
	kindIntAttr     attrKind = "int"
	kindHexIntAttr  attrKind = "hex-int"
	kindFloatAttr   attrKind = "float"
	kindMHzAttr     attrKind = "mhz"
	kindBoolAttr    attrKind = "boolean-flag"
	kindIntListAttr attrKind = "integer-list"
	kindCSVAttr     attrKind = "csv"
	kindEnumAttr    attrKind = "enum"
	kindNoOpAttr    attrKind = "no-op"
)

// attrSpec is one entry of a per-entity attribute table: the
// conversion kind (for logging) and a setter that mutates a draft
// entity in place, returning false on a parse failure the caller should
// log and skip.
type attrSpec[T any] struct {
	kind attrKind
	set  func(draft *T, raw string) bool
}

// schema is the per-entity attribute dispatch table.
type schema[T any] map[string]attrSpec[T]

// applySchema applies every (key, value) pair in attrs to draft:
// unknown keys logged at debug, parse failures logged at warn and
// skipped, everything else is a direct field patch.
func applySchema[T any](log *logging.Logger, entity string, s schema[T], draft *T, attrs map[string]string) {
	for k, v := range attrs {
		spec, ok := s[k]
		if !ok {
			log.Debugf("%s: unknown attribute %q=%q", entity, k, v)
			continue
		}
		if !spec.set(draft, v) {
			log.Warnf("%s: failed to parse attribute %q=%q as %s", entity, k, v, spec.kind)
		}
	}
}

// ---- value-conversion helpers ----

func parseBoolFlag(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "on", "yes":
		return true, true
	case "0", "false", "off", "no":
		return false, true
	default:
		return false, false
	}
}

func parseIntAttr(s string) (int, bool) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	return v, err == nil
}

// parseHexIntAttr parses an integer that may be 0x-prefixed hex (stream
// ids, band masks) or plain decimal.
func parseHexIntAttr(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	v, err := strconv.ParseInt(s, 0, 64)
	return v, err == nil
}

func parseFloatAttr(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return v, err == nil
}

func parseMHzAttr(s string) (wire.Q20, bool) {
	v, ok := parseFloatAttr(s)
	if !ok {
		return 0, false
	}
	return wire.FromMHz(v), true
}

func parseCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseIntList(s string) ([]int, bool) {
	fields := parseCSV(s)
	out := make([]int, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil {
			return nil, false
		}
		out = append(out, v)
	}
	return out, true
}

// clampInt restricts v to [lo, hi] inclusive.
func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ---- per-entity schemas ----

var radioSchema = schema[Radio]{
	"model":    {kindStringAttr, func(d *Radio, v string) bool { d.Model = v; return true }},
	"serial":   {kindStringAttr, func(d *Radio, v string) bool { d.Serial = v; return true }},
	"callsign": {kindStringAttr, func(d *Radio, v string) bool { d.Callsign = v; return true }},
	"nickname": {kindStringAttr, func(d *Radio, v string) bool { d.Nickname = v; return true }},
	"version":  {kindStringAttr, func(d *Radio, v string) bool { d.Version = v; return true }},

	"gps_installed": {kindBoolAttr, func(d *Radio, v string) bool {
		b, ok := parseBoolFlag(v)
		if ok {
			d.GPSInstalled = b
		}
		return ok
	}},
	"lat": {kindFloatAttr, func(d *Radio, v string) bool {
		f, ok := parseFloatAttr(v)
		if ok {
			d.GPSLatitude = f
		}
		return ok
	}},
	"lon": {kindFloatAttr, func(d *Radio, v string) bool {
		f, ok := parseFloatAttr(v)
		if ok {
			d.GPSLongitude = f
		}
		return ok
	}},
	"altitude": {kindFloatAttr, func(d *Radio, v string) bool {
		f, ok := parseFloatAttr(v)
		if ok {
			d.GPSAltitude = f
		}
		return ok
	}},

	"tx_rf_power_changed_allowed": {kindNoOpAttr, func(*Radio, string) bool { return true }},
	"freqerror": {kindFloatAttr, func(d *Radio, v string) bool { return true }}, // acknowledged, not modeled
	"clock_source": {kindStringAttr, func(d *Radio, v string) bool { d.OscillatorSource = v; return true }},
	"locked":       {kindStringAttr, func(d *Radio, v string) bool { d.OscillatorState = v; return true }},

	"filter_sharpness_voice": {kindIntAttr, func(d *Radio, v string) bool {
		n, ok := parseIntAttr(v)
		if ok {
			d.FilterSharpnessVoice = n
		}
		return ok
	}},
	"filter_sharpness_cw": {kindIntAttr, func(d *Radio, v string) bool {
		n, ok := parseIntAttr(v)
		if ok {
			d.FilterSharpnessCW = n
		}
		return ok
	}},
	"filter_sharpness_digital": {kindIntAttr, func(d *Radio, v string) bool {
		n, ok := parseIntAttr(v)
		if ok {
			d.FilterSharpnessDigital = n
		}
		return ok
	}},

	"static_net_params_enabled": {kindBoolAttr, func(d *Radio, v string) bool {
		b, ok := parseBoolFlag(v)
		if ok {
			d.StaticNetEnabled = b
		}
		return ok
	}},
	"static_ip":      {kindStringAttr, func(d *Radio, v string) bool { d.StaticIP = v; return true }},
	"static_gateway": {kindStringAttr, func(d *Radio, v string) bool { d.StaticGateway = v; return true }},
	"static_netmask": {kindStringAttr, func(d *Radio, v string) bool { d.StaticNetmask = v; return true }},

	"removed": {kindNoOpAttr, func(*Radio, string) bool { return true }},
}

var sliceSchema = schema[Slice]{
	"RF_frequency": {kindMHzAttr, func(d *Slice, v string) bool {
		f, ok := parseMHzAttr(v)
		if ok {
			d.Frequency = f
		}
		return ok
	}},
	"mode": {kindStringAttr, func(d *Slice, v string) bool { d.Mode = v; return true }},
	"pan": {kindHexIntAttr, func(d *Slice, v string) bool {
		_, ok := parseHexIntAttr(v)
		if ok {
			d.PanadapterStreamID = v
		}
		return ok
	}},
	"dax": {kindIntAttr, func(d *Slice, v string) bool {
		n, ok := parseIntAttr(v)
		if ok {
			d.DAXChannel = n
		}
		return ok
	}},
	"agc_mode": {kindStringAttr, func(d *Slice, v string) bool {
		d.AGC = !strings.EqualFold(v, "off")
		return true
	}},
	"agc_off_level": {kindIntAttr, func(d *Slice, v string) bool {
		n, ok := parseIntAttr(v)
		if ok {
			d.AGCLevel = n
		}
		return ok
	}},
	"nr": {kindBoolAttr, func(d *Slice, v string) bool {
		b, ok := parseBoolFlag(v)
		if ok {
			d.NR = b
		}
		return ok
	}},
	"nr_level": {kindIntAttr, func(d *Slice, v string) bool {
		n, ok := parseIntAttr(v)
		if ok {
			d.NRLevel = n
		}
		return ok
	}},
	"nb": {kindBoolAttr, func(d *Slice, v string) bool {
		b, ok := parseBoolFlag(v)
		if ok {
			d.NB = b
		}
		return ok
	}},
	"nb_level": {kindIntAttr, func(d *Slice, v string) bool {
		n, ok := parseIntAttr(v)
		if ok {
			d.NBLevel = n
		}
		return ok
	}},
	"rxant": {kindStringAttr, func(d *Slice, v string) bool { d.RXAntenna = v; return true }},
	"txant": {kindStringAttr, func(d *Slice, v string) bool { d.TXAntenna = v; return true }},
	"ant_list": {kindCSVAttr, func(d *Slice, v string) bool { d.Antennas = parseCSV(v); return true }},
	"diversity": {kindBoolAttr, func(d *Slice, v string) bool {
		b, ok := parseBoolFlag(v)
		if ok {
			d.DiversityEnabled = b
		}
		return ok
	}},
	"diversity_child":  {kindStringAttr, func(d *Slice, v string) bool { d.DiversityChild = v; return true }},
	"diversity_parent": {kindStringAttr, func(d *Slice, v string) bool { d.DiversityParent = v; return true }},
	"step_list": {kindIntListAttr, func(d *Slice, v string) bool {
		l, ok := parseIntList(v)
		if ok {
			d.TuneSteps = l
		}
		return ok
	}},
	"in_use": {kindBoolAttr, func(d *Slice, v string) bool {
		b, ok := parseBoolFlag(v)
		if ok {
			d.InUse = b
		}
		return ok
	}},
	"owner": {kindStringAttr, func(d *Slice, v string) bool { d.Owner = v; return true }},
	"lock": {kindBoolAttr, func(d *Slice, v string) bool {
		b, ok := parseBoolFlag(v)
		if ok {
			d.Lock = b
		}
		return ok
	}},
	"sample_rate": {kindIntAttr, func(d *Slice, v string) bool {
		n, ok := parseIntAttr(v)
		if ok {
			d.SampleRateHz = int64(n)
		}
		return ok
	}},
	"removed":     {kindNoOpAttr, func(*Slice, string) bool { return true }},
}

var panadapterSchema = schema[Panadapter]{
	"center_freq": {kindMHzAttr, func(d *Panadapter, v string) bool {
		f, ok := parseMHzAttr(v)
		if ok {
			d.CenterFreq = f
		}
		return ok
	}},
	"bandwidth": {kindMHzAttr, func(d *Panadapter, v string) bool {
		f, ok := parseMHzAttr(v)
		if ok {
			d.Bandwidth = f
		}
		return ok
	}},
	"x_pixels": {kindIntAttr, func(d *Panadapter, v string) bool {
		n, ok := parseIntAttr(v)
		if ok {
			d.XPixels = n
		}
		return ok
	}},
	"y_pixels": {kindIntAttr, func(d *Panadapter, v string) bool {
		n, ok := parseIntAttr(v)
		if ok {
			d.YPixels = n
		}
		return ok
	}},
	"band":   {kindStringAttr, func(d *Panadapter, v string) bool { d.Band = v; return true }},
	"preamp": {kindStringAttr, func(d *Panadapter, v string) bool { d.Preamp = v; return true }},
	"rfgain": {kindIntAttr, func(d *Panadapter, v string) bool {
		n, ok := parseIntAttr(v)
		if ok {
			d.RFGain = n
		}
		return ok
	}},
	"rx_ant_list": {kindCSVAttr, func(d *Panadapter, v string) bool { d.RXAntennas = parseCSV(v); return true }},
	"removed":     {kindNoOpAttr, func(*Panadapter, string) bool { return true }},
}

var waterfallSchema = schema[Waterfall]{
	"panadapter": {kindHexIntAttr, func(d *Waterfall, v string) bool {
		_, ok := parseHexIntAttr(v)
		if ok {
			d.PanadapterStreamID = v
		}
		return ok
	}},
	"line_duration": {kindIntAttr, func(d *Waterfall, v string) bool {
		// The wire key is named "duration" but the value it carries is
		// the line-speed input; LineDurationMs derives the actual cadence.
		n, ok := parseIntAttr(v)
		if ok {
			d.LineSpeed = clampInt(n, 0, 100)
		}
		return ok
	}},
	"color_gain": {kindIntAttr, func(d *Waterfall, v string) bool {
		n, ok := parseIntAttr(v)
		if ok {
			d.ColorGain = n
		}
		return ok
	}},
	"black_level": {kindIntAttr, func(d *Waterfall, v string) bool {
		n, ok := parseIntAttr(v)
		if ok {
			d.BlackLevel = n
		}
		return ok
	}},
	"auto_black": {kindBoolAttr, func(d *Waterfall, v string) bool {
		b, ok := parseBoolFlag(v)
		if ok {
			d.AutoBlack = b
		}
		return ok
	}},
	"gradient_index": {kindIntAttr, func(d *Waterfall, v string) bool {
		n, ok := parseIntAttr(v)
		if ok {
			d.GradientIndex = n
		}
		return ok
	}},
	"removed": {kindNoOpAttr, func(*Waterfall, string) bool { return true }},
}

var meterSchema = schema[Meter]{
	"src": {kindStringAttr, func(d *Meter, v string) bool {
		d.Source = v // preserved verbatim; trailing '-' is not trimmed
		return true
	}},
	"num": {kindIntAttr, func(d *Meter, v string) bool {
		n, ok := parseIntAttr(v)
		if ok {
			d.SourceIndex = n
		}
		return ok
	}},
	"nam": {kindStringAttr, func(d *Meter, v string) bool { d.Name = v; return true }},
	"desc": {kindStringAttr, func(d *Meter, v string) bool { d.Description = v; return true }},
	"unit": {kindEnumAttr, func(d *Meter, v string) bool { d.Units = MeterUnits(v); return true }},
	"low": {kindFloatAttr, func(d *Meter, v string) bool {
		f, ok := parseFloatAttr(v)
		if ok {
			d.Low = f
		}
		return ok
	}},
	"hi": {kindFloatAttr, func(d *Meter, v string) bool {
		f, ok := parseFloatAttr(v)
		if ok {
			d.High = f
		}
		return ok
	}},
	"fps": {kindIntAttr, func(d *Meter, v string) bool {
		n, ok := parseIntAttr(v)
		if ok {
			d.FPS = n
		}
		return ok
	}},
	"removed": {kindNoOpAttr, func(*Meter, string) bool { return true }},
}

var audioStreamSchema = schema[AudioStream]{
	"type": {kindEnumAttr, func(d *AudioStream, v string) bool { d.Kind = AudioStreamKind(v); return true }},
	"compression": {kindStringAttr, func(d *AudioStream, v string) bool { d.Compression = v; return true }},
	"ip": {kindStringAttr, func(d *AudioStream, v string) bool { d.IP = v; return true }},
	"port": {kindIntAttr, func(d *AudioStream, v string) bool {
		n, ok := parseIntAttr(v)
		if ok {
			d.Port = n
		}
		return ok
	}},
	"dax_channel": {kindIntAttr, func(d *AudioStream, v string) bool {
		n, ok := parseIntAttr(v)
		if ok {
			d.Channel = n
		}
		return ok
	}},
	"gain": {kindIntAttr, func(d *AudioStream, v string) bool {
		n, ok := parseIntAttr(v)
		if ok {
			d.Gain = clampInt(n, 0, 100)
		}
		return ok
	}},
	"mute": {kindBoolAttr, func(d *AudioStream, v string) bool {
		b, ok := parseBoolFlag(v)
		if ok {
			d.Mute = b
		}
		return ok
	}},
	"removed": {kindNoOpAttr, func(*AudioStream, string) bool { return true }},
}

var txBandSettingSchema = schema[TxBandSetting]{
	"tune_power": {kindIntAttr, func(d *TxBandSetting, v string) bool {
		n, ok := parseIntAttr(v)
		if ok {
			d.TunePower = clampInt(n, 0, 100)
		}
		return ok
	}},
	"rfpower": {kindIntAttr, func(d *TxBandSetting, v string) bool {
		n, ok := parseIntAttr(v)
		if ok {
			d.RFPower = clampInt(n, 0, 100)
		}
		return ok
	}},
	"ptt_inhibit": {kindBoolAttr, func(d *TxBandSetting, v string) bool {
		b, ok := parseBoolFlag(v)
		if ok {
			d.PTTInhibit = b
		}
		return ok
	}},
	"acc_txreq_enable": {kindBoolAttr, func(d *TxBandSetting, v string) bool {
		b, ok := parseBoolFlag(v)
		if ok {
			d.ACCTXReqEnable = b
		}
		return ok
	}},
	"rca_txreq_enable": {kindBoolAttr, func(d *TxBandSetting, v string) bool {
		b, ok := parseBoolFlag(v)
		if ok {
			d.RCATXReqEnable = b
		}
		return ok
	}},
	"removed": {kindNoOpAttr, func(*TxBandSetting, string) bool { return true }},
}
