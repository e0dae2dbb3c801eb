package webrtcconn

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOptionsWithDefaultsFillsPortRange(t *testing.T) {
	opt := Options{}.withDefaults()
	assert.NotZero(t, opt.ICEPortStart)
	assert.Greater(t, opt.ICEPortEnd, opt.ICEPortStart)
}

func TestOptionsWithDefaultsPreservesExplicitPorts(t *testing.T) {
	opt := Options{ICEPortStart: 6000, ICEPortEnd: 6000}.withDefaults()
	assert.Equal(t, 6000, opt.ICEPortStart)
	assert.Equal(t, 6000, opt.ICEPortEnd)
}

func TestOpusRTPFramerProducesPackets(t *testing.T) {
	f := NewOpusRTPFramer()
	payload := []byte{0xFC, 0x01, 0x02, 0x03}
	pkts := f.Frame(payload, opusFrameSamples(payload))
	if assert.NotEmpty(t, pkts) {
		assert.Equal(t, uint8(opusPayloadType), pkts[0].PayloadType)
		assert.Equal(t, payload, pkts[0].Payload)
	}
}

func TestOpusRTPFramerSequenceIncrementsAcrossFrames(t *testing.T) {
	f := NewOpusRTPFramer()
	first := f.Frame([]byte{0x01}, 960)
	second := f.Frame([]byte{0x02}, 960)
	require := assert.New(t)
	require.NotEmpty(first)
	require.NotEmpty(second)
	require.NotEqual(first[0].SequenceNumber, second[0].SequenceNumber)
}
