package webrtcconn

import (
	"math/rand"

	"github.com/pion/rtp"
)

// OpusRTPFramer wraps raw Opus payloads (as carried inside compressed-audio
// VITA packets) into RTP packets, for callers that want RFC 3550 framing
// instead of the data channel's native per-message containerization.
type OpusRTPFramer struct {
	packetizer rtp.Packetizer
}

const (
	opusPayloadType = 111
	opusClockRate   = 48000
	opusMTU         = 1200
)

// NewOpusRTPFramer builds a framer with a random initial sequence number
// and SSRC, matching a fresh RTP session.
func NewOpusRTPFramer() *OpusRTPFramer {
	return &OpusRTPFramer{
		packetizer: rtp.NewPacketizer(
			opusMTU,
			opusPayloadType,
			rand.Uint32(), //nolint:gosec // RTP SSRC, not a security boundary
			&rawOpusPayloader{},
			rtp.NewRandomSequencer(),
			opusClockRate,
		),
	}
}

// Frame packetizes one Opus payload into a single RTP packet; payloads
// larger than the MTU are not split.
func (f *OpusRTPFramer) Frame(payload []byte, samples uint32) []*rtp.Packet {
	return f.packetizer.Packetize(payload, samples)
}

type rawOpusPayloader struct{}

func (rawOpusPayloader) Payload(_ uint16, payload []byte) [][]byte {
	return [][]byte{payload}
}

// opusFrameSamples returns 960, the sample count of a 20ms frame at
// 48kHz, for every payload; the TOC byte is not inspected.
func opusFrameSamples(payload []byte) uint32 {
	if len(payload) == 0 {
		return 960
	}
	return 960
}
