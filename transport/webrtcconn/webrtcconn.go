// Package webrtcconn is a reference session.DataTransport built on
// pion/webrtc: a single "udp" RTCDataChannel carrying raw VITA-49
// datagrams, with the same ICE-mux/ephemeral-port-range/STUN/NAT1:1
// wiring the teacher's RTC server sets up for browser-facing WebRTC
// sessions, retargeted from "accept an offer" (server role) to "place
// an offer" (client role) since flexcore dials a radio rather than
// answering one.
package webrtcconn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	gonat "github.com/fd/go-nat"
	"github.com/pion/ice/v4"
	"github.com/pion/webrtc/v4"
)

// Options configures ICE and NAT traversal for a Conn.
type Options struct {
	// ICEPortStart/ICEPortEnd bound the local UDP ports ICE may use. A
	// fixed single port (Start == End) uses a UDP mux instead of an
	// ephemeral range.
	ICEPortStart, ICEPortEnd int
	// STUN is a list of "stun:host:port" URLs.
	STUN []string
	// NAT1To1IPs, if empty, is populated by a NAT discovery probe.
	NAT1To1IPs []string
}

func (o Options) withDefaults() Options {
	if o.ICEPortStart == 0 && o.ICEPortEnd == 0 {
		o.ICEPortStart, o.ICEPortEnd = 50313, 50413
	}
	return o
}

// OfferExchange sends a local SDP offer to a signaling peer and
// returns the resulting remote SDP answer. Its implementation is
// outside this package's scope: it might be an HTTP POST, a
// WebSocket round trip, or an in-process call in tests.
type OfferExchange func(ctx context.Context, offerSDP string) (answerSDP string, err error)

// Conn is a session.DataTransport backed by one RTCDataChannel.
type Conn struct {
	pc *webrtc.PeerConnection
	dc *webrtc.DataChannel

	packets chan []byte
	closed  chan struct{}
	once    sync.Once
}

const dataChannelLabel = "udp"
const backpressureHighWaterMark = 1 << 20

// Dial negotiates a PeerConnection with exchange and returns a Conn
// once the "udp" data channel is open.
func Dial(ctx context.Context, exchange OfferExchange, opt Options) (*Conn, error) {
	opt = opt.withDefaults()

	se, err := buildSettingEngine(opt)
	if err != nil {
		return nil, err
	}
	api := webrtc.NewAPI(webrtc.WithSettingEngine(se))

	var iceServers []webrtc.ICEServer
	if len(opt.STUN) > 0 {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: opt.STUN})
	}

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, fmt.Errorf("webrtcconn: new peer connection: %w", err)
	}

	c := &Conn{pc: pc, packets: make(chan []byte, 256), closed: make(chan struct{})}

	pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		if st == webrtc.PeerConnectionStateFailed || st == webrtc.PeerConnectionStateClosed || st == webrtc.PeerConnectionStateDisconnected {
			c.markClosed()
		}
	})

	dc, err := pc.CreateDataChannel(dataChannelLabel, nil)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("webrtcconn: create data channel: %w", err)
	}
	c.dc = dc

	opened := make(chan struct{})
	dc.OnOpen(func() { close(opened) })
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		select {
		case c.packets <- msg.Data:
		case <-c.closed:
		}
	})
	dc.OnClose(func() { c.markClosed() })

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("webrtcconn: create offer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("webrtcconn: set local description: %w", err)
	}

	select {
	case <-gatherComplete:
	case <-ctx.Done():
		_ = pc.Close()
		return nil, ctx.Err()
	}

	answerSDP, err := exchange(ctx, pc.LocalDescription().SDP)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("webrtcconn: offer exchange: %w", err)
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answerSDP}); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("webrtcconn: set remote description: %w", err)
	}

	select {
	case <-opened:
	case <-ctx.Done():
		_ = pc.Close()
		return nil, ctx.Err()
	}

	return c, nil
}

func buildSettingEngine(opt Options) (webrtc.SettingEngine, error) {
	var se webrtc.SettingEngine
	se.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP4, webrtc.NetworkTypeUDP6})

	if opt.ICEPortStart == opt.ICEPortEnd {
		mux, err := ice.NewMultiUDPMuxFromPort(opt.ICEPortStart)
		if err != nil {
			return se, fmt.Errorf("webrtcconn: udp mux on port %d: %w", opt.ICEPortStart, err)
		}
		se.SetICEUDPMux(mux)
	} else if err := se.SetEphemeralUDPPortRange(uint16(opt.ICEPortStart), uint16(opt.ICEPortEnd)); err != nil {
		return se, fmt.Errorf("webrtcconn: ice port range %d-%d: %w", opt.ICEPortStart, opt.ICEPortEnd, err)
	}

	nat1to1 := opt.NAT1To1IPs
	if len(nat1to1) == 0 {
		if ip, err := discoverExternalIP(); err == nil {
			nat1to1 = []string{ip}
		}
	}
	if len(nat1to1) > 0 {
		se.SetNAT1To1IPs(nat1to1, webrtc.ICECandidateTypeHost)
	}
	return se, nil
}

// discoverExternalIP asks the local gateway for the address it would
// NAT client traffic through. Unlike the teacher's nat.Mapper, a
// client dialing out never needs an inbound port mapping, so only the
// address lookup is kept.
func discoverExternalIP() (string, error) {
	n, err := gonat.DiscoverGateway()
	if err != nil {
		return "", fmt.Errorf("nat discovery: %w", err)
	}
	if n == nil {
		return "", errors.New("no NAT device found")
	}
	ip, err := n.GetExternalAddress()
	if err != nil {
		return "", fmt.Errorf("external ip: %w", err)
	}
	return ip.String(), nil
}

// Send transmits pkt as one data-channel message, blocking while the
// channel's buffered amount exceeds backpressureHighWaterMark.
func (c *Conn) Send(ctx context.Context, pkt []byte) error {
	for c.dc.BufferedAmount() > backpressureHighWaterMark {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Millisecond):
		case <-c.closed:
			return errors.New("webrtcconn: connection closed")
		}
	}
	return c.dc.Send(pkt)
}

// Packets returns the channel of raw VITA datagrams received from the
// peer, one per data-channel message.
func (c *Conn) Packets() <-chan []byte { return c.packets }

// Closed reports when the underlying PeerConnection or data channel
// has gone away.
func (c *Conn) Closed() <-chan struct{} { return c.closed }

func (c *Conn) markClosed() {
	c.once.Do(func() { close(c.closed) })
}

// Close tears down the PeerConnection.
func (c *Conn) Close() error {
	c.markClosed()
	return c.pc.Close()
}
