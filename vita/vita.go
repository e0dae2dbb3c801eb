// Package vita decodes the FlexRadio dialect of VITA-49 packets carried
// on the data channel: the fixed header, the optional stream-id/class-id/
// timestamp words, the trailer, and the per-class payload (meters,
// panadapter bins, waterfall lines, compressed audio, DAX audio/IQ, FFT
// frames, and discovery beacons).
//
// Packet carries every field of the decoded header and dispatches a
// typed payload by class code.
package vita

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/flexradio/flexcore/wire"
)

const (
	// minHeaderBytes is the shortest datagram Parse accepts; anything
	// shorter fails with wire.ErrTooShort, independent of which optional
	// words it declares.
	minHeaderBytes = 28

	classIDPresentMask = 0x08
	trailerPresentMask = 0x04
	tsiTypeMask        = 0xC0
	tsfTypeMask        = 0x30
)

// Known class codes for the payload dispatch table.
const (
	ClassMeter      = 0x8002
	ClassPanadapter = 0x8003
	ClassWaterfall  = 0x8004
	ClassOpus       = 0x8005
	ClassDAXAudio   = 0x03e3
	ClassDiscovery  = 0xffff
)

// daxIQClasses is the set of DAX IQ / reduced-bandwidth class codes that
// decode to an opaque DaxIqFrame.
var daxIQClasses = map[uint16]bool{
	0x0123: true, 0x02e3: true, 0x02e4: true, 0x02e5: true, 0x02e6: true,
}

// Header carries the fixed VITA-49 header descriptors.
type Header struct {
	PacketDescriptor    uint8
	TimestampDescriptor uint8
	SizeBytes           int
}

// ClassID carries the optional 2-word class identifier.
type ClassID struct {
	InformationClassCode uint16
	PacketClassCode      uint16
	Word1                uint32 // contains the 24-bit OUI in its low bits
}

// OUI returns the 24-bit organization-unique identifier embedded in Word1.
func (c ClassID) OUI() uint32 { return c.Word1 & 0x00FFFFFF }

// Packet is one decoded VITA-49 datagram.
type Packet struct {
	Header              Header
	ClassID             *ClassID
	StreamID            uint32
	IntegerTimestamp    uint32
	FractionalTimestamp uint32
	Payload             TaggedPayload
	Trailer             *wire.Trailer

	// StreamIDAssumedMismatch is set when the VITA descriptor bits imply
	// stream-id was not supposed to be present, yet this dialect always
	// reads one. It never blocks decoding.
	StreamIDAssumedMismatch bool
}

// StreamIDHex renders the stream id in the wire's canonical "0x…" form.
func (p Packet) StreamIDHex() string { return fmt.Sprintf("0x%08X", p.StreamID) }

// TaggedPayload is the sum type of decoded payload variants. Exactly one
// of the fields identified by Kind is populated.
type TaggedPayload struct {
	Kind PayloadKind

	Meter      []MeterSample
	Panadapter PanadapterBins
	Waterfall  WaterfallLine
	Audio      CompressedAudio
	DaxAudio   DaxAudioFrame
	DaxIQ      DaxIqFrame
	Discovery  DiscoveryBeacon
	FFT        FftFrame
	Unknown    UnknownPayload
}

// PayloadKind discriminates TaggedPayload.
type PayloadKind int

const (
	KindUnknown PayloadKind = iota
	KindMeter
	KindPanadapter
	KindWaterfall
	KindCompressedAudio
	KindDaxAudio
	KindDaxIQ
	KindDiscovery
	KindFFT
)

// MeterSample is one {id, value} pair from a Meter payload.
type MeterSample struct {
	ID    uint16
	Value int16
}

// PanadapterBins is the decoded class 0x8003 payload.
type PanadapterBins struct {
	StartingBin  uint16
	BinsInFrame  uint16
	BinSize      uint16
	TotalBins    uint16
	Frame        uint32
	Bins         []uint16
}

// WaterfallLine is the decoded class 0x8004 payload.
type WaterfallLine struct {
	FirstBinFreq   wire.Q20
	BinBandwidth   wire.Q20
	LineDurationMs uint32
	BinsInFrame    uint16
	Height         uint16
	Frame          uint32
	AutoBlackLevel uint32
	TotalBins      uint16
	StartingBin    uint16
	Bins           []uint16
}

// CompressedAudio is the decoded class 0x8005 (Opus) payload.
type CompressedAudio struct {
	Data []byte
}

// DaxAudioFrame is the decoded class 0x03e3 payload: stereo float32
// frames, big-endian, 8 bytes each.
type DaxAudioFrame struct {
	Left, Right []float32
}

// DaxIqFrame is the opaque DAX IQ / reduced-bandwidth payload (classes
// 0x0123, 0x02e3..0x02e6).
type DaxIqFrame struct {
	Data []byte
}

// FftFrame is reserved for FFT-class payloads. The current dialect has no
// distinct FFT class code from panadapter bins on the wire; flexcore
// models it so a future class mapping has a typed home without changing
// the TaggedPayload shape.
type FftFrame struct {
	Bins []uint16
}

// DiscoveryBeacon is the decoded key=value beacon payload, prior to
// typed field extraction (a session's discovery listener does that from
// the raw UTF-8 text this carries).
type DiscoveryBeacon struct {
	Text string
}

// UnknownPayload is the opaque bytes of any class code not in the
// dispatch table.
type UnknownPayload struct {
	ClassCode uint16
	Data      []byte
}

// Scratch holds reusable backing arrays for the per-packet payload slices
// so that a session's steady-state hot path (panadapter/waterfall bins,
// meter samples) does no allocation. Scratch is not safe for concurrent
// use; a session owns one per data-channel reader goroutine.
type Scratch struct {
	meter      []MeterSample
	panaBins   []uint16
	waterBins  []uint16
}

// growMeter returns a []MeterSample of length n, reusing s.meter's backing
// array when it is already large enough and growing by doubling
// otherwise (capped growth keeps a burst of wide frames from pinning
// memory indefinitely).
func (s *Scratch) growMeter(n int) []MeterSample {
	s.meter = growSlice(s.meter, n)
	return s.meter[:n]
}

func (s *Scratch) growPana(n int) []uint16 {
	s.panaBins = growU16(s.panaBins, n)
	return s.panaBins[:n]
}

func (s *Scratch) growWater(n int) []uint16 {
	s.waterBins = growU16(s.waterBins, n)
	return s.waterBins[:n]
}

func growSlice(buf []MeterSample, n int) []MeterSample {
	if cap(buf) >= n {
		return buf[:cap(buf)]
	}
	newCap := nextPow2(n)
	return make([]MeterSample, newCap)
}

func growU16(buf []uint16, n int) []uint16 {
	if cap(buf) >= n {
		return buf[:cap(buf)]
	}
	newCap := nextPow2(n)
	return make([]uint16, newCap)
}

const maxScratchCap = 1 << 20 // upper bound on scratch growth

func nextPow2(n int) int {
	if n < 1 {
		n = 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	if p > maxScratchCap {
		p = n // refuse to over-allocate past the cap; exact fit instead
	}
	return p
}

// Parse decodes one VITA-49 datagram. scratch may be nil,
// in which case the parser allocates fresh slices for every payload
// (useful for tests and one-shot callers); a non-nil scratch is grown and
// reused, and callers must not retain its returned views across
// subsequent Parse calls on the same Scratch.
func Parse(b []byte, scratch *Scratch) (Packet, error) {
	if len(b) < minHeaderBytes {
		return Packet{}, wire.ErrTooShort
	}

	packetDescriptor := b[0]
	timestampDescriptor := b[1]

	packetSizeWords := binary.BigEndian.Uint16(b[2:4])
	sizeBytes := int(packetSizeWords) * 4
	if sizeBytes < minHeaderBytes || sizeBytes > len(b) {
		return Packet{}, wire.ErrMalformed
	}

	classIDPresent := packetDescriptor&classIDPresentMask != 0
	trailerPresent := packetDescriptor&trailerPresentMask != 0
	tsi := (timestampDescriptor & tsiTypeMask) >> 6
	tsf := (timestampDescriptor & tsfTypeMask) >> 4

	r := wire.NewReader(b)
	if err := r.Skip(4); err != nil {
		return Packet{}, wire.ErrTruncated
	}

	streamID, err := r.U32()
	if err != nil {
		return Packet{}, wire.ErrTruncated
	}

	pkt := Packet{
		Header: Header{
			PacketDescriptor:    packetDescriptor,
			TimestampDescriptor: timestampDescriptor,
			SizeBytes:           sizeBytes,
		},
		StreamID: streamID,
		// This dialect always assumes stream-id is present. Flag when the
		// descriptor bits look like they disagree (bit 0x10, "stream id
		// included," unset).
		StreamIDAssumedMismatch: packetDescriptor&0x10 == 0,
	}

	var classCode uint16
	if classIDPresent {
		word1, err := r.U32()
		if err != nil {
			return Packet{}, wire.ErrTruncated
		}
		word2, err := r.U32()
		if err != nil {
			return Packet{}, wire.ErrTruncated
		}
		cid := ClassID{
			Word1:                word1,
			InformationClassCode: uint16(word2 >> 16),
			PacketClassCode:      uint16(word2 & 0xFFFF),
		}
		pkt.ClassID = &cid
		classCode = cid.PacketClassCode
	}

	if tsi != 0 {
		v, err := r.U32()
		if err != nil {
			return Packet{}, wire.ErrTruncated
		}
		pkt.IntegerTimestamp = v
	}

	if tsf != 0 {
		if _, err := r.U32(); err != nil { // MSB word, discarded per dialect
			return Packet{}, wire.ErrTruncated
		}
		lsb, err := r.U32()
		if err != nil {
			return Packet{}, wire.ErrTruncated
		}
		pkt.FractionalTimestamp = lsb
	}

	headerBytes := r.Offset()
	trailerBytes := 0
	if trailerPresent {
		trailerBytes = 4
	}
	payloadBytes := sizeBytes - headerBytes - trailerBytes
	if payloadBytes < 0 {
		return Packet{}, wire.ErrMalformed
	}

	payload, err := r.Take(payloadBytes)
	if err != nil {
		return Packet{}, wire.ErrTruncated
	}

	tagged, err := decodePayload(classIDPresent, classCode, payload, scratch)
	if err != nil {
		return Packet{}, err
	}
	pkt.Payload = tagged

	if trailerPresent {
		word, err := r.U32()
		if err != nil {
			return Packet{}, wire.ErrTruncated
		}
		tr := wire.DecodeTrailer(word)
		pkt.Trailer = &tr
	}

	return pkt, nil
}

func decodePayload(classIDPresent bool, classCode uint16, payload []byte, scratch *Scratch) (TaggedPayload, error) {
	if !classIDPresent {
		return TaggedPayload{Kind: KindUnknown, Unknown: UnknownPayload{Data: payload}}, nil
	}

	switch {
	case classCode == ClassMeter:
		return decodeMeter(payload, scratch)
	case classCode == ClassPanadapter:
		return decodePanadapter(payload, scratch)
	case classCode == ClassWaterfall:
		return decodeWaterfall(payload, scratch)
	case classCode == ClassOpus:
		return TaggedPayload{Kind: KindCompressedAudio, Audio: CompressedAudio{Data: payload}}, nil
	case classCode == ClassDAXAudio:
		return decodeDaxAudio(payload)
	case daxIQClasses[classCode]:
		return TaggedPayload{Kind: KindDaxIQ, DaxIQ: DaxIqFrame{Data: payload}}, nil
	case classCode == ClassDiscovery:
		return TaggedPayload{Kind: KindDiscovery, Discovery: DiscoveryBeacon{Text: string(payload)}}, nil
	default:
		return TaggedPayload{Kind: KindUnknown, Unknown: UnknownPayload{ClassCode: classCode, Data: payload}}, nil
	}
}

func decodeMeter(payload []byte, scratch *Scratch) (TaggedPayload, error) {
	n := len(payload) / 4
	var samples []MeterSample
	if scratch != nil {
		samples = scratch.growMeter(n)
	} else {
		samples = make([]MeterSample, n)
	}
	r := wire.NewReader(payload)
	for i := 0; i < n; i++ {
		id, err := r.U16()
		if err != nil {
			return TaggedPayload{}, wire.ErrTruncated
		}
		val, err := r.I16()
		if err != nil {
			return TaggedPayload{}, wire.ErrTruncated
		}
		samples[i] = MeterSample{ID: id, Value: val}
	}
	return TaggedPayload{Kind: KindMeter, Meter: samples}, nil
}

func decodePanadapter(payload []byte, scratch *Scratch) (TaggedPayload, error) {
	r := wire.NewReader(payload)
	startingBin, err := r.U16()
	if err != nil {
		return TaggedPayload{}, wire.ErrTruncated
	}
	binsInFrame, err := r.U16()
	if err != nil {
		return TaggedPayload{}, wire.ErrTruncated
	}
	binSize, err := r.U16()
	if err != nil {
		return TaggedPayload{}, wire.ErrTruncated
	}
	totalBins, err := r.U16()
	if err != nil {
		return TaggedPayload{}, wire.ErrTruncated
	}
	frame, err := r.U32()
	if err != nil {
		return TaggedPayload{}, wire.ErrTruncated
	}

	n := int(binsInFrame)
	var bins []uint16
	if scratch != nil {
		bins = scratch.growPana(n)
	} else {
		bins = make([]uint16, n)
	}
	for i := 0; i < n; i++ {
		v, err := r.U16()
		if err != nil {
			return TaggedPayload{}, wire.ErrTruncated
		}
		bins[i] = v
	}

	return TaggedPayload{Kind: KindPanadapter, Panadapter: PanadapterBins{
		StartingBin: startingBin,
		BinsInFrame: binsInFrame,
		BinSize:     binSize,
		TotalBins:   totalBins,
		Frame:       frame,
		Bins:        bins,
	}}, nil
}

func decodeWaterfall(payload []byte, scratch *Scratch) (TaggedPayload, error) {
	r := wire.NewReader(payload)
	firstBinFreq, err := r.I64()
	if err != nil {
		return TaggedPayload{}, wire.ErrTruncated
	}
	binBandwidth, err := r.I64()
	if err != nil {
		return TaggedPayload{}, wire.ErrTruncated
	}
	lineDuration, err := r.U32()
	if err != nil {
		return TaggedPayload{}, wire.ErrTruncated
	}
	binsInFrame, err := r.U16()
	if err != nil {
		return TaggedPayload{}, wire.ErrTruncated
	}
	height, err := r.U16()
	if err != nil {
		return TaggedPayload{}, wire.ErrTruncated
	}
	frame, err := r.U32()
	if err != nil {
		return TaggedPayload{}, wire.ErrTruncated
	}
	autoBlack, err := r.U32()
	if err != nil {
		return TaggedPayload{}, wire.ErrTruncated
	}
	totalBins, err := r.U16()
	if err != nil {
		return TaggedPayload{}, wire.ErrTruncated
	}
	startingBin, err := r.U16()
	if err != nil {
		return TaggedPayload{}, wire.ErrTruncated
	}

	n := int(binsInFrame)
	var bins []uint16
	if scratch != nil {
		bins = scratch.growWater(n)
	} else {
		bins = make([]uint16, n)
	}
	for i := 0; i < n; i++ {
		v, err := r.U16()
		if err != nil {
			return TaggedPayload{}, wire.ErrTruncated
		}
		bins[i] = v
	}

	return TaggedPayload{Kind: KindWaterfall, Waterfall: WaterfallLine{
		FirstBinFreq:   wire.Q20(firstBinFreq),
		BinBandwidth:   wire.Q20(binBandwidth),
		LineDurationMs: lineDuration,
		BinsInFrame:    binsInFrame,
		Height:         height,
		Frame:          frame,
		AutoBlackLevel: autoBlack,
		TotalBins:      totalBins,
		StartingBin:    startingBin,
		Bins:           bins,
	}}, nil
}

func decodeDaxAudio(payload []byte) (TaggedPayload, error) {
	numSamples := len(payload) / 8
	left := make([]float32, numSamples)
	right := make([]float32, numSamples)
	r := wire.NewReader(payload)
	for i := 0; i < numSamples; i++ {
		l, err := r.U32()
		if err != nil {
			return TaggedPayload{}, wire.ErrTruncated
		}
		rr, err := r.U32()
		if err != nil {
			return TaggedPayload{}, wire.ErrTruncated
		}
		left[i] = float32FromBits(l)
		right[i] = float32FromBits(rr)
	}
	return TaggedPayload{Kind: KindDaxAudio, DaxAudio: DaxAudioFrame{Left: left, Right: right}}, nil
}

func float32FromBits(v uint32) float32 { return math.Float32frombits(v) }
